package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/metrics"
	"github.com/congo-pay/wallet_ledger/internal/notification"
)

const defaultAccountNumberRetries = 10

// numeric(15,2) holds at most 13 integer digits.
var maxAmount = decimal.New(1, 13)

// Service applies the ledger rules for deposits, transfers and reversals.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	retries  int
	generate func() string
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics records operation latency, failures and committed entries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAccountNumberRetries caps how many account numbers CreateWallet samples.
func WithAccountNumberRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithAccountNumberGenerator replaces the random 10-digit generator.
func WithAccountNumberGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.generate = fn
		}
	}
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, notifier notification.Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		retries:  defaultAccountNumberRetries,
		generate: RandomAccountNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RandomAccountNumber samples a uniform number in [1, 9999999999] padded to 10 digits.
func RandomAccountNumber() string {
	return fmt.Sprintf("%010d", rand.Int63n(9_999_999_999)+1)
}

// CreateWallet opens the single wallet of ownerID with a zero balance.
func (s *Service) CreateWallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	start := time.Now()
	w, err := s.createWallet(ctx, ownerID)
	s.metrics.Operation("create_wallet", start, err)
	if err != nil {
		return ledger.Wallet{}, err
	}
	s.logger.Info("wallet created", "wallet_id", w.ID, "owner_id", w.OwnerID, "account_number", w.AccountNumber)
	return w, nil
}

func (s *Service) createWallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	for attempt := 1; attempt <= s.retries; attempt++ {
		w := ledger.Wallet{OwnerID: ownerID, AccountNumber: s.generate(), Balance: decimal.Zero}
		err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
			if _, err := tx.WalletByOwner(ctx, ownerID); err == nil {
				return ledger.ErrDuplicateAccount
			} else if !errors.Is(err, ledger.ErrWalletNotFound) {
				return err
			}
			return tx.InsertWallet(ctx, &w)
		})
		switch {
		case err == nil:
			return w, nil
		case errors.Is(err, ledger.ErrAccountNumberTaken):
			s.logger.Warn("account number collision", "attempt", attempt, "owner_id", ownerID)
			continue
		default:
			return ledger.Wallet{}, err
		}
	}
	return ledger.Wallet{}, ledger.ErrAccountNumberExhausted
}

// Deposit credits amount to the wallet and returns the deposit entry.
func (s *Service) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, description string) (ledger.Transaction, error) {
	start := time.Now()
	entry, err := s.deposit(ctx, walletID, amount, description)
	s.metrics.Operation("deposit", start, err)
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.committed(ctx, entry)
	return entry, nil
}

func (s *Service) deposit(ctx context.Context, walletID string, amount decimal.Decimal, description string) (ledger.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return ledger.Transaction{}, err
	}

	var entry ledger.Transaction
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		w, err := lockOne(ctx, tx, walletID)
		if err != nil {
			return err
		}
		newBalance := w.Balance.Add(amount)
		if err := tx.UpdateBalance(ctx, w.ID, newBalance); err != nil {
			return err
		}
		entry = ledger.Transaction{
			WalletID:        w.ID,
			Type:            ledger.EntryDeposit,
			Amount:          amount,
			PreviousBalance: w.Balance,
			NewBalance:      newBalance,
			Description:     describe(description, DescriptionDeposit),
			TransactionCode: uuid.NewString(),
		}
		return tx.InsertTransaction(ctx, &entry)
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("deposit: %w", err)
	}
	return entry, nil
}

// Transfer moves amount from sender to receiver as a linked out/in pair.
func (s *Service) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal, description string) (TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, senderID, receiverID, amount, description)
	s.metrics.Operation("transfer", start, err)
	if err != nil {
		return TransferResult{}, err
	}
	s.committed(ctx, res.Out, res.In)
	return res, nil
}

func (s *Service) transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal, description string) (TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if senderID == receiverID {
		return TransferResult{}, ledger.ErrSelfTransfer
	}

	var res TransferResult
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		wallets, err := lockOpen(ctx, tx, senderID, receiverID)
		if err != nil {
			return err
		}
		sender, receiver := wallets[senderID], wallets[receiverID]
		if sender.Balance.LessThan(amount) {
			return ledger.ErrInsufficientFunds
		}

		code := uuid.NewString()
		senderRef, receiverRef := sender.ID, receiver.ID

		senderBalance := sender.Balance.Sub(amount)
		if err := tx.UpdateBalance(ctx, sender.ID, senderBalance); err != nil {
			return err
		}
		res.Out = ledger.Transaction{
			WalletID:        sender.ID,
			Type:            ledger.EntryTransferOut,
			Amount:          amount,
			PreviousBalance: sender.Balance,
			NewBalance:      senderBalance,
			Description:     describe(description, DescriptionTransferSent),
			TransactionCode: code + "-out",
			SenderID:        &senderRef,
			ReceiverID:      &receiverRef,
		}
		if err := tx.InsertTransaction(ctx, &res.Out); err != nil {
			return err
		}

		receiverBalance := receiver.Balance.Add(amount)
		if err := tx.UpdateBalance(ctx, receiver.ID, receiverBalance); err != nil {
			return err
		}
		outID := res.Out.ID
		res.In = ledger.Transaction{
			WalletID:             receiver.ID,
			Type:                 ledger.EntryTransferIn,
			Amount:               amount,
			PreviousBalance:      receiver.Balance,
			NewBalance:           receiverBalance,
			Description:          describe(description, DescriptionTransferReceived),
			TransactionCode:      code + "-in",
			RelatedTransactionID: &outID,
			SenderID:             &senderRef,
			ReceiverID:           &receiverRef,
		}
		if err := tx.InsertTransaction(ctx, &res.In); err != nil {
			return err
		}

		if err := tx.LinkRelated(ctx, res.Out.ID, res.In.ID); err != nil {
			return err
		}
		inID := res.In.ID
		res.Out.RelatedTransactionID = &inID
		return nil
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("transfer: %w", err)
	}
	return res, nil
}

// ReverseTransaction undoes a deposit or a whole transfer. Withdrawals and
// reversals are terminal.
func (s *Service) ReverseTransaction(ctx context.Context, transactionID, description string) (ReversalResult, error) {
	start := time.Now()
	res, err := s.reverse(ctx, transactionID, description)
	s.metrics.Operation("reverse", start, err)
	if err != nil {
		return ReversalResult{}, err
	}
	s.committed(ctx, res.Entries()...)
	return res, nil
}

func (s *Service) reverse(ctx context.Context, transactionID, description string) (ReversalResult, error) {
	origin, err := s.store.TransactionByID(ctx, transactionID)
	if err != nil {
		return ReversalResult{}, err
	}

	var res ReversalResult
	switch origin.Type {
	case ledger.EntryDeposit:
		err = s.store.WithinTx(ctx, func(tx ledger.Tx) error {
			entry, err := reverseDeposit(ctx, tx, origin.ID, description)
			res.Reversal = entry
			return err
		})
	case ledger.EntryTransferOut, ledger.EntryTransferIn:
		out, in, pairErr := s.transferPair(ctx, origin)
		if pairErr != nil {
			return ReversalResult{}, pairErr
		}
		err = s.store.WithinTx(ctx, func(tx ledger.Tx) error {
			var err error
			res.ReceiverReversal, res.SenderReversal, err = reverseTransfer(ctx, tx, out.ID, in.ID, description)
			return err
		})
	case ledger.EntryWithdrawal, ledger.EntryReversal:
		return ReversalResult{}, ledger.ErrNotReversible
	default:
		return ReversalResult{}, fmt.Errorf("reverse %s: unknown entry type %q", origin.ID, origin.Type)
	}
	if err != nil {
		return ReversalResult{}, fmt.Errorf("reverse: %w", err)
	}
	return res, nil
}

// transferPair resolves the outbound and inbound legs of a transfer entry.
func (s *Service) transferPair(ctx context.Context, leg ledger.Transaction) (ledger.Transaction, ledger.Transaction, error) {
	if leg.RelatedTransactionID == nil {
		return ledger.Transaction{}, ledger.Transaction{}, ledger.ErrRelatedNotFound
	}
	pair, err := s.store.TransactionByID(ctx, *leg.RelatedTransactionID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return ledger.Transaction{}, ledger.Transaction{}, ledger.ErrRelatedNotFound
	}
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	if leg.Type == ledger.EntryTransferOut {
		return orderLegs(leg, pair)
	}
	return orderLegs(pair, leg)
}

func orderLegs(out, in ledger.Transaction) (ledger.Transaction, ledger.Transaction, error) {
	if out.Type != ledger.EntryTransferOut || in.Type != ledger.EntryTransferIn {
		return ledger.Transaction{}, ledger.Transaction{}, ledger.ErrRelatedNotFound
	}
	return out, in, nil
}

func reverseDeposit(ctx context.Context, tx ledger.Tx, depositID, description string) (*ledger.Transaction, error) {
	deposit, err := tx.TransactionByID(ctx, depositID)
	if err != nil {
		return nil, err
	}
	w, err := lockOne(ctx, tx, deposit.WalletID)
	if err != nil {
		return nil, err
	}
	if reversed, err := tx.HasReversal(ctx, deposit.ID); err != nil {
		return nil, err
	} else if reversed {
		return nil, ledger.ErrAlreadyReversed
	}
	if w.Balance.LessThan(deposit.Amount) {
		return nil, ledger.ErrInsufficientFunds
	}

	newBalance := w.Balance.Sub(deposit.Amount)
	if err := tx.UpdateBalance(ctx, w.ID, newBalance); err != nil {
		return nil, err
	}
	originID := deposit.ID
	entry := ledger.Transaction{
		WalletID:             w.ID,
		Type:                 ledger.EntryReversal,
		Amount:               deposit.Amount,
		PreviousBalance:      w.Balance,
		NewBalance:           newBalance,
		Description:          describe(description, DescriptionDepositReversal),
		TransactionCode:      uuid.NewString(),
		RelatedTransactionID: &originID,
	}
	if err := tx.InsertTransaction(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func reverseTransfer(ctx context.Context, tx ledger.Tx, outID, inID, description string) (*ledger.Transaction, *ledger.Transaction, error) {
	out, err := tx.TransactionByID(ctx, outID)
	if err != nil {
		return nil, nil, err
	}
	in, err := tx.TransactionByID(ctx, inID)
	if err != nil {
		return nil, nil, ledger.ErrRelatedNotFound
	}

	wallets, err := lockOpen(ctx, tx, out.WalletID, in.WalletID)
	if err != nil {
		return nil, nil, err
	}
	if reversed, err := tx.HasReversal(ctx, out.ID, in.ID); err != nil {
		return nil, nil, err
	} else if reversed {
		return nil, nil, ledger.ErrAlreadyReversed
	}

	sender, receiver := wallets[out.WalletID], wallets[in.WalletID]
	amount := in.Amount
	if receiver.Balance.LessThan(amount) {
		return nil, nil, ledger.ErrInsufficientFunds
	}
	// reversal entries swap the original parties
	swappedSender, swappedReceiver := receiver.ID, sender.ID

	receiverBalance := receiver.Balance.Sub(amount)
	if err := tx.UpdateBalance(ctx, receiver.ID, receiverBalance); err != nil {
		return nil, nil, err
	}
	inOrigin := in.ID
	receiverEntry := ledger.Transaction{
		WalletID:             receiver.ID,
		Type:                 ledger.EntryReversal,
		Amount:               amount,
		PreviousBalance:      receiver.Balance,
		NewBalance:           receiverBalance,
		Description:          describe(description, DescriptionReceivedReversal),
		TransactionCode:      uuid.NewString(),
		RelatedTransactionID: &inOrigin,
		SenderID:             &swappedSender,
		ReceiverID:           &swappedReceiver,
	}
	if err := tx.InsertTransaction(ctx, &receiverEntry); err != nil {
		return nil, nil, err
	}

	senderBalance := sender.Balance.Add(amount)
	if err := tx.UpdateBalance(ctx, sender.ID, senderBalance); err != nil {
		return nil, nil, err
	}
	outOrigin := out.ID
	senderEntry := ledger.Transaction{
		WalletID:             sender.ID,
		Type:                 ledger.EntryReversal,
		Amount:               amount,
		PreviousBalance:      sender.Balance,
		NewBalance:           senderBalance,
		Description:          describe(description, DescriptionSentReversal),
		TransactionCode:      uuid.NewString(),
		RelatedTransactionID: &outOrigin,
		SenderID:             &swappedSender,
		ReceiverID:           &swappedReceiver,
	}
	if err := tx.InsertTransaction(ctx, &senderEntry); err != nil {
		return nil, nil, err
	}
	return &receiverEntry, &senderEntry, nil
}

// Get returns an open wallet by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return open(s.store.WalletByID(ctx, id))
}

// GetByOwner returns the open wallet of a holder.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	return open(s.store.WalletByOwner(ctx, ownerID))
}

// EnsureWallet returns the open wallet of a holder, opening one when the
// holder has none. A provisioning failure at registration leaves the holder
// without a wallet until this runs. Closed wallets are not reopened.
func (s *Service) EnsureWallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	w, err := s.store.WalletByOwner(ctx, ownerID)
	if err == nil {
		return open(w, nil)
	}
	if !errors.Is(err, ledger.ErrWalletNotFound) {
		return ledger.Wallet{}, err
	}
	s.logger.Warn("holder has no wallet, provisioning", "owner_id", ownerID)
	w, err = s.CreateWallet(ctx, ownerID)
	if errors.Is(err, ledger.ErrDuplicateAccount) {
		// Lost a race with a concurrent provisioning.
		return s.GetByOwner(ctx, ownerID)
	}
	return w, err
}

// GetByAccountNumber returns the open wallet with the given account number.
func (s *Service) GetByAccountNumber(ctx context.Context, accountNumber string) (ledger.Wallet, error) {
	return open(s.store.WalletByAccountNumber(ctx, accountNumber))
}

// Balance returns the current balance of the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, AccountNumber: w.AccountNumber, Amount: w.Balance, AsOf: time.Now().UTC()}, nil
}

// Transactions returns one page of the wallet's entries, newest first.
func (s *Service) Transactions(ctx context.Context, walletID string, page int) (ledger.TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	return s.store.ListTransactions(ctx, walletID, ledger.Page{Number: page, Size: DefaultPageSize})
}

// Transaction returns a single entry.
func (s *Service) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return s.store.TransactionByID(ctx, id)
}

// TransactionForWallet returns the entry only when walletID owns it or is one
// of its parties.
func (s *Service) TransactionForWallet(ctx context.Context, walletID, id string) (ledger.Transaction, error) {
	t, err := s.store.TransactionByID(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if t.WalletID == walletID || ptrEquals(t.SenderID, walletID) || ptrEquals(t.ReceiverID, walletID) {
		return t, nil
	}
	return ledger.Transaction{}, ledger.ErrTransactionNotFound
}

// committed hands entries to observers. Failures are logged only.
func (s *Service) committed(ctx context.Context, entries ...ledger.Transaction) {
	for _, e := range entries {
		s.metrics.Entry(e.Type)
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.Send(ctx, notification.EntryCreated(e)); err != nil {
			s.logger.Warn("ledger observer failed", "transaction_id", e.ID, "error", err)
		}
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) || amount.GreaterThanOrEqual(maxAmount) {
		return ledger.ErrInvalidAmount
	}
	return nil
}

func lockOne(ctx context.Context, tx ledger.Tx, id string) (ledger.Wallet, error) {
	wallets, err := lockOpen(ctx, tx, id)
	if err != nil {
		return ledger.Wallet{}, err
	}
	return wallets[id], nil
}

// lockOpen locks the wallets and rejects closed ones.
func lockOpen(ctx context.Context, tx ledger.Tx, ids ...string) (map[string]ledger.Wallet, error) {
	wallets, err := tx.LockWallets(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for _, w := range wallets {
		if w.Closed() {
			return nil, ledger.ErrWalletNotFound
		}
	}
	return wallets, nil
}

func open(w ledger.Wallet, err error) (ledger.Wallet, error) {
	if err != nil {
		return ledger.Wallet{}, err
	}
	if w.Closed() {
		return ledger.Wallet{}, ledger.ErrWalletNotFound
	}
	return w, nil
}

func describe(description, fallback string) *string {
	if description == "" {
		description = fallback
	}
	return &description
}

func ptrEquals(p *string, v string) bool {
	return p != nil && *p == v
}
