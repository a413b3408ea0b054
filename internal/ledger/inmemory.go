package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultLockTimeout = 5 * time.Second

var errWalletNotLocked = errors.New("wallet must be locked before it is updated")

type inMemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	byOwner      map[string]string
	byAccount    map[string]string
	transactions map[string]Transaction
	order        []string
	codes        map[string]struct{}
	reversalOf   map[string]string

	// values claimed by units of work that have not committed yet
	pendingOwners    map[string]struct{}
	pendingAccounts  map[string]struct{}
	pendingCodes     map[string]struct{}
	pendingReversals map[string]struct{}

	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// MemoryOption tunes the in-memory store.
type MemoryOption func(*inMemoryStore)

// WithLockTimeout bounds how long a unit of work waits for a wallet lock
// before failing with ErrContention.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *inMemoryStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development. Units of work on disjoint wallets do not block each other.
func NewInMemory(opts ...MemoryOption) Store {
	s := &inMemoryStore{
		wallets:          make(map[string]Wallet),
		byOwner:          make(map[string]string),
		byAccount:        make(map[string]string),
		transactions:     make(map[string]Transaction),
		codes:            make(map[string]struct{}),
		reversalOf:       make(map[string]string),
		pendingOwners:    make(map[string]struct{}),
		pendingAccounts:  make(map[string]struct{}),
		pendingCodes:     make(map[string]struct{}),
		pendingReversals: make(map[string]struct{}),
		locks:            make(map[string]chan struct{}),
		lockTimeout:      defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *inMemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		store:   s,
		held:    make(map[string]chan struct{}),
		wallets: make(map[string]Wallet),
		entries: make(map[string]Transaction),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (s *inMemoryStore) lockFor(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *inMemoryStore) WalletByID(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *inMemoryStore) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOwner[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.wallets[id], nil
}

func (s *inMemoryStore) WalletByAccountNumber(_ context.Context, accountNumber string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAccount[accountNumber]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.wallets[id], nil
}

func (s *inMemoryStore) TransactionByID(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok || t.DeletedAt != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, walletID string, page Page) (TransactionPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []Transaction
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.transactions[s.order[i]]
		if t.WalletID == walletID && t.DeletedAt == nil {
			all = append(all, t)
		}
	}
	out := TransactionPage{Total: len(all), Page: page}
	start := page.Offset()
	if start >= len(all) {
		return out, nil
	}
	end := len(all)
	if page.Size > 0 && start+page.Size < end {
		end = start + page.Size
	}
	out.Items = append([]Transaction(nil), all[start:end]...)
	return out, nil
}

func (s *inMemoryStore) LedgerSummaries(_ context.Context) ([]LedgerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make(map[string]*LedgerSummary, len(s.wallets))
	for id, w := range s.wallets {
		summaries[id] = &LedgerSummary{WalletID: id, Balance: w.Balance, EntrySum: decimal.Zero, LastBalance: decimal.Zero}
	}
	for _, id := range s.order {
		t := s.transactions[id]
		sum, ok := summaries[t.WalletID]
		if !ok || t.DeletedAt != nil {
			continue
		}
		sum.EntrySum = sum.EntrySum.Add(t.SignedAmount())
		sum.LastBalance = t.NewBalance
		sum.EntryCount++
	}
	out := make([]LedgerSummary, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletID < out[j].WalletID })
	return out, nil
}

type memTx struct {
	store *inMemoryStore
	held  map[string]chan struct{}

	wallets      map[string]Wallet
	newWallets   []string
	entries      map[string]Transaction
	entryOrder   []string
	links        map[string]string
	claimOwner   []string
	claimAccount []string
	claimCode    []string
	claimRevers  []string
}

func (tx *memTx) LockWallets(ctx context.Context, ids ...string) (map[string]Wallet, error) {
	sorted := uniqueSorted(ids)
	s := tx.store

	s.mu.RLock()
	for _, id := range sorted {
		if _, ok := s.wallets[id]; !ok {
			if _, staged := tx.wallets[id]; !staged {
				s.mu.RUnlock()
				return nil, ErrWalletNotFound
			}
		}
	}
	s.mu.RUnlock()

	for _, id := range sorted {
		if _, ok := tx.held[id]; ok {
			continue
		}
		ch := s.lockFor(id)
		timer := time.NewTimer(s.lockTimeout)
		select {
		case ch <- struct{}{}:
			timer.Stop()
			tx.held[id] = ch
		case <-timer.C:
			return nil, ErrContention
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	out := make(map[string]Wallet, len(sorted))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sorted {
		if w, ok := tx.wallets[id]; ok {
			out[id] = w
			continue
		}
		out[id] = s.wallets[id]
	}
	return out, nil
}

func (tx *memTx) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	for _, w := range tx.wallets {
		if w.OwnerID == ownerID {
			return w, nil
		}
	}
	return tx.store.WalletByOwner(context.Background(), ownerID)
}

func (tx *memTx) InsertWallet(_ context.Context, w *Wallet) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byOwner[w.OwnerID]; ok {
		return ErrDuplicateAccount
	}
	if _, ok := s.pendingOwners[w.OwnerID]; ok {
		return ErrDuplicateAccount
	}
	if _, ok := s.byAccount[w.AccountNumber]; ok {
		return ErrAccountNumberTaken
	}
	if _, ok := s.pendingAccounts[w.AccountNumber]; ok {
		return ErrAccountNumberTaken
	}

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now

	s.pendingOwners[w.OwnerID] = struct{}{}
	s.pendingAccounts[w.AccountNumber] = struct{}{}
	tx.claimOwner = append(tx.claimOwner, w.OwnerID)
	tx.claimAccount = append(tx.claimAccount, w.AccountNumber)
	tx.wallets[w.ID] = *w
	tx.newWallets = append(tx.newWallets, w.ID)
	return nil
}

func (tx *memTx) UpdateBalance(_ context.Context, walletID string, balance decimal.Decimal) error {
	if _, ok := tx.held[walletID]; !ok {
		return errWalletNotLocked
	}
	w, ok := tx.wallets[walletID]
	if !ok {
		tx.store.mu.RLock()
		w, ok = tx.store.wallets[walletID]
		tx.store.mu.RUnlock()
		if !ok {
			return ErrWalletNotFound
		}
	}
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	tx.wallets[walletID] = w
	return nil
}

func (tx *memTx) InsertTransaction(_ context.Context, t *Transaction) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[t.TransactionCode]; ok {
		return ErrDuplicateTransactionCode
	}
	if _, ok := s.pendingCodes[t.TransactionCode]; ok {
		return ErrDuplicateTransactionCode
	}
	reversalOrigin := ""
	if t.Type == EntryReversal && t.RelatedTransactionID != nil {
		reversalOrigin = *t.RelatedTransactionID
		if _, ok := s.reversalOf[reversalOrigin]; ok {
			return ErrAlreadyReversed
		}
		if _, ok := s.pendingReversals[reversalOrigin]; ok {
			return ErrAlreadyReversed
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	s.pendingCodes[t.TransactionCode] = struct{}{}
	tx.claimCode = append(tx.claimCode, t.TransactionCode)
	if reversalOrigin != "" {
		s.pendingReversals[reversalOrigin] = struct{}{}
		tx.claimRevers = append(tx.claimRevers, reversalOrigin)
	}
	tx.entries[t.ID] = *t
	tx.entryOrder = append(tx.entryOrder, t.ID)
	return nil
}

func (tx *memTx) LinkRelated(_ context.Context, transactionID, relatedID string) error {
	if t, ok := tx.entries[transactionID]; ok {
		if t.RelatedTransactionID != nil {
			return errors.New("transaction already linked")
		}
		t.RelatedTransactionID = &relatedID
		t.UpdatedAt = time.Now().UTC()
		tx.entries[transactionID] = t
		return nil
	}
	t, err := tx.store.TransactionByID(context.Background(), transactionID)
	if err != nil {
		return err
	}
	if t.RelatedTransactionID != nil {
		return errors.New("transaction already linked")
	}
	if tx.links == nil {
		tx.links = make(map[string]string)
	}
	tx.links[transactionID] = relatedID
	return nil
}

func (tx *memTx) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	if t, ok := tx.entries[id]; ok {
		return t, nil
	}
	t, err := tx.store.TransactionByID(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if rel, ok := tx.links[id]; ok {
		t.RelatedTransactionID = &rel
	}
	return t, nil
}

func (tx *memTx) HasReversal(_ context.Context, ids ...string) (bool, error) {
	for _, t := range tx.entries {
		if t.Type != EntryReversal || t.RelatedTransactionID == nil {
			continue
		}
		for _, id := range ids {
			if *t.RelatedTransactionID == id {
				return true, nil
			}
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for _, id := range ids {
		if _, ok := tx.store.reversalOf[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) commit() {
	s := tx.store
	s.mu.Lock()
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for _, id := range tx.newWallets {
		w := tx.wallets[id]
		s.byOwner[w.OwnerID] = id
		s.byAccount[w.AccountNumber] = id
	}
	for _, id := range tx.entryOrder {
		t := tx.entries[id]
		s.transactions[id] = t
		s.order = append(s.order, id)
		s.codes[t.TransactionCode] = struct{}{}
		if t.Type == EntryReversal && t.RelatedTransactionID != nil {
			s.reversalOf[*t.RelatedTransactionID] = id
		}
	}
	for id, rel := range tx.links {
		t := s.transactions[id]
		related := rel
		t.RelatedTransactionID = &related
		t.UpdatedAt = time.Now().UTC()
		s.transactions[id] = t
	}
	tx.releaseClaims()
	s.mu.Unlock()
	tx.releaseLocks()
}

func (tx *memTx) rollback() {
	tx.store.mu.Lock()
	tx.releaseClaims()
	tx.store.mu.Unlock()
	tx.releaseLocks()
}

// releaseClaims must be called with the store mutex held.
func (tx *memTx) releaseClaims() {
	s := tx.store
	for _, v := range tx.claimOwner {
		delete(s.pendingOwners, v)
	}
	for _, v := range tx.claimAccount {
		delete(s.pendingAccounts, v)
	}
	for _, v := range tx.claimCode {
		delete(s.pendingCodes, v)
	}
	for _, v := range tx.claimRevers {
		delete(s.pendingReversals, v)
	}
}

func (tx *memTx) releaseLocks() {
	for id, ch := range tx.held {
		<-ch
		delete(tx.held, id)
	}
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
