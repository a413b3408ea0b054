package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType identifies the balance effect of a ledger entry.
type EntryType string

const (
	EntryDeposit     EntryType = "deposit"
	EntryWithdrawal  EntryType = "withdrawal"
	EntryTransferIn  EntryType = "transfer_in"
	EntryTransferOut EntryType = "transfer_out"
	EntryReversal    EntryType = "reversal"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal, EntryTransferIn, EntryTransferOut, EntryReversal:
		return true
	}
	return false
}

// Wallet is the balance-holding account of exactly one holder.
type Wallet struct {
	ID            string
	OwnerID       string
	AccountNumber string
	Balance       decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Closed reports whether the wallet has been soft-deleted.
func (w Wallet) Closed() bool {
	return w.DeletedAt != nil
}

// Transaction is one append-only ledger entry on a wallet.
type Transaction struct {
	ID                   string
	WalletID             string
	Type                 EntryType
	Amount               decimal.Decimal
	PreviousBalance      decimal.Decimal
	NewBalance           decimal.Decimal
	Description          *string
	TransactionCode      string
	RelatedTransactionID *string
	SenderID             *string
	ReceiverID           *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}

// Page selects a window of a wallet's entries, newest first.
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset for the page. Pages are 1-based.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// TransactionPage is a slice of entries plus the total count for the wallet.
type TransactionPage struct {
	Items []Transaction
	Total int
	Page  Page
}

// LedgerSummary aggregates a wallet's entries for reconciliation.
type LedgerSummary struct {
	WalletID    string
	Balance     decimal.Decimal
	EntrySum    decimal.Decimal
	LastBalance decimal.Decimal
	EntryCount  int
}

// Tx is a single atomic unit of work against the store. Row locks taken
// through a Tx are held until the unit of work commits or rolls back.
type Tx interface {
	// LockWallets locks the given wallets in ascending id order and returns
	// them keyed by id. Missing ids yield ErrWalletNotFound.
	LockWallets(ctx context.Context, ids ...string) (map[string]Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	InsertWallet(ctx context.Context, w *Wallet) error
	UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal) error

	InsertTransaction(ctx context.Context, t *Transaction) error
	// LinkRelated sets related_transaction_id on an entry that has none yet.
	LinkRelated(ctx context.Context, transactionID, relatedID string) error
	TransactionByID(ctx context.Context, id string) (Transaction, error)
	// HasReversal reports whether any reversal entry references one of ids.
	HasReversal(ctx context.Context, ids ...string) (bool, error)
}

// Store is the durable home of wallets and ledger entries.
type Store interface {
	// WithinTx runs fn as one unit of work. Any error from fn rolls back
	// every write made through the Tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	WalletByID(ctx context.Context, id string) (Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	WalletByAccountNumber(ctx context.Context, accountNumber string) (Wallet, error)
	TransactionByID(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, walletID string, page Page) (TransactionPage, error)
	LedgerSummaries(ctx context.Context) ([]LedgerSummary, error)
}

// SignedAmount returns the entry's effect on its wallet's balance.
func (t Transaction) SignedAmount() decimal.Decimal {
	return t.NewBalance.Sub(t.PreviousBalance)
}
