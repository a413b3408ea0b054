package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Constraint names declared by the migrations.
const (
	constraintWalletOwner     = "wallets_owner_id_key"
	constraintAccountNumber   = "wallets_account_number_key"
	constraintTransactionCode = "transactions_transaction_code_key"
	constraintReversalOrigin  = "transactions_reversal_origin_key"
)

const walletColumns = `id::text, owner_id::text, account_number, balance, created_at, updated_at, deleted_at`

const transactionColumns = `id::text, wallet_id::text, type, amount, previous_balance, new_balance, description,
        transaction_code, related_transaction_id::text, sender_id::text, receiver_id::text,
        created_at, updated_at, deleted_at`

// Entries are ordered by seq, which is assigned at insert time while the
// wallet lock is held. created_at alone can disagree with the balance chain.
const listTransactionsQuery = `SELECT ` + transactionColumns + ` FROM transactions
        WHERE wallet_id = $1 AND deleted_at IS NULL
        ORDER BY seq DESC
        LIMIT $2 OFFSET $3`

const ledgerSummariesQuery = `
        SELECT w.id::text, w.balance,
               COALESCE(SUM(t.new_balance - t.previous_balance), 0),
               COALESCE((SELECT l.new_balance FROM transactions l
                         WHERE l.wallet_id = w.id AND l.deleted_at IS NULL
                         ORDER BY l.seq DESC LIMIT 1), 0),
               COUNT(t.id)
        FROM wallets w
        LEFT JOIN transactions t ON t.wallet_id = w.id AND t.deleted_at IS NULL
        GROUP BY w.id, w.balance
        ORDER BY w.id`

const insertTransactionQuery = `INSERT INTO transactions (id, wallet_id, type, amount, previous_balance,
            new_balance, description, transaction_code, related_transaction_id, sender_id, receiver_id,
            created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, clock_timestamp(), clock_timestamp())
        RETURNING created_at, updated_at`

// PostgresStore persists wallets and ledger entries in PostgreSQL.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store. Lock waits inside a
// unit of work are bounded by lockTimeout.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return mapPgError(err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) WalletByID(ctx context.Context, id string) (Wallet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID))
}

func (s *PostgresStore) WalletByAccountNumber(ctx context.Context, accountNumber string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_number = $1`, accountNumber))
}

func (s *PostgresStore) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(s.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string, page Page) (TransactionPage, error) {
	out := TransactionPage{Page: page}
	if _, err := uuid.Parse(walletID); err != nil {
		return out, nil
	}

	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE wallet_id = $1 AND deleted_at IS NULL`, walletID,
	).Scan(&out.Total); err != nil {
		return TransactionPage{}, mapPgError(err)
	}

	rows, err := s.db.Query(ctx, listTransactionsQuery, walletID, page.Size, page.Offset())
	if err != nil {
		return TransactionPage{}, mapPgError(err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return TransactionPage{}, err
		}
		out.Items = append(out.Items, t)
	}
	if err := rows.Err(); err != nil {
		return TransactionPage{}, mapPgError(err)
	}
	return out, nil
}

func (s *PostgresStore) LedgerSummaries(ctx context.Context) ([]LedgerSummary, error) {
	rows, err := s.db.Query(ctx, ledgerSummariesQuery)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []LedgerSummary
	for rows.Next() {
		var sum LedgerSummary
		if err := rows.Scan(&sum.WalletID, &sum.Balance, &sum.EntrySum, &sum.LastBalance, &sum.EntryCount); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, sum)
	}
	return out, mapPgError(rows.Err())
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallets(ctx context.Context, ids ...string) (map[string]Wallet, error) {
	out := make(map[string]Wallet, len(ids))
	for _, id := range uniqueSorted(ids) {
		if _, err := uuid.Parse(id); err != nil {
			return nil, ErrWalletNotFound
		}
		w, err := scanWallet(t.tx.QueryRow(ctx,
			`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

func (t *pgTx) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID))
}

func (t *pgTx) InsertWallet(ctx context.Context, w *Wallet) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO wallets (id, owner_id, account_number, balance)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at`,
		w.ID, w.OwnerID, w.AccountNumber, w.Balance,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	return mapPgError(err)
}

func (t *pgTx) UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`, walletID, balance)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, e *Transaction) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, insertTransactionQuery,
		e.ID, e.WalletID, string(e.Type), e.Amount, e.PreviousBalance, e.NewBalance, e.Description,
		e.TransactionCode, e.RelatedTransactionID, e.SenderID, e.ReceiverID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return mapPgError(err)
}

func (t *pgTx) LinkRelated(ctx context.Context, transactionID, relatedID string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions SET related_transaction_id = $2, updated_at = NOW()
        WHERE id = $1 AND related_transaction_id IS NULL`, transactionID, relatedID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link %s: %w", transactionID, ErrTransactionNotFound)
	}
	return nil
}

func (t *pgTx) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (t *pgTx) HasReversal(ctx context.Context, ids ...string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
            SELECT 1 FROM transactions
            WHERE type = 'reversal' AND related_transaction_id = ANY($1::uuid[]))`, ids,
	).Scan(&exists)
	return exists, mapPgError(err)
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.AccountNumber, &w.Balance, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, mapPgError(err)
	}
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var typ string
	err := row.Scan(&t.ID, &t.WalletID, &typ, &t.Amount, &t.PreviousBalance, &t.NewBalance, &t.Description,
		&t.TransactionCode, &t.RelatedTransactionID, &t.SenderID, &t.ReceiverID,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, mapPgError(err)
	}
	t.Type = EntryType(typ)
	return t, nil
}

// mapPgError translates constraint and locking failures into ledger errors.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case constraintWalletOwner:
			return ErrDuplicateAccount
		case constraintAccountNumber:
			return ErrAccountNumberTaken
		case constraintTransactionCode:
			return ErrDuplicateTransactionCode
		case constraintReversalOrigin:
			return ErrAlreadyReversed
		}
	case "55P03", "40P01", "40001":
		return fmt.Errorf("%w: %s", ErrContention, pgErr.Message)
	}
	return err
}
