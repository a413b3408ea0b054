package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newWallet(t *testing.T, s Store, owner, account string) Wallet {
	t.Helper()
	w := Wallet{OwnerID: owner, AccountNumber: account, Balance: decimal.Zero}
	if err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertWallet(context.Background(), &w)
	}); err != nil {
		t.Fatalf("insert wallet: %v", err)
	}
	return w
}

func TestInMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, s, "owner-a", "0000000001")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockWallets(ctx, w.ID); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, w.ID, decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &Transaction{
			WalletID:        w.ID,
			Type:            EntryDeposit,
			Amount:          decimal.NewFromInt(100),
			PreviousBalance: decimal.Zero,
			NewBalance:      decimal.NewFromInt(100),
			TransactionCode: "code-1",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.WalletByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("wallet by id: %v", err)
	}
	if !got.Balance.IsZero() {
		t.Fatalf("expected balance 0 after rollback, got %s", got.Balance)
	}
	page, _ := s.ListTransactions(ctx, w.ID, Page{Number: 1, Size: 15})
	if page.Total != 0 {
		t.Fatalf("expected no entries after rollback, got %d", page.Total)
	}

	// the rolled back code is free again
	if err := s.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertTransaction(ctx, &Transaction{WalletID: w.ID, Type: EntryDeposit, TransactionCode: "code-1"})
	}); err != nil {
		t.Fatalf("reuse of rolled back code: %v", err)
	}
}

func TestInMemoryStore_WalletUniqueness(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	newWallet(t, s, "owner-a", "0000000001")

	err := s.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertWallet(ctx, &Wallet{OwnerID: "owner-a", AccountNumber: "0000000002"})
	})
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected duplicate account, got %v", err)
	}

	err = s.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertWallet(ctx, &Wallet{OwnerID: "owner-b", AccountNumber: "0000000001"})
	})
	if !errors.Is(err, ErrAccountNumberTaken) {
		t.Fatalf("expected account number taken, got %v", err)
	}
}

func TestInMemoryStore_ReversalOriginUnique(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, s, "owner-a", "0000000001")
	origin := "origin-id"

	insert := func(code string) error {
		return s.WithinTx(ctx, func(tx Tx) error {
			return tx.InsertTransaction(ctx, &Transaction{
				WalletID:             w.ID,
				Type:                 EntryReversal,
				TransactionCode:      code,
				RelatedTransactionID: &origin,
			})
		})
	}
	if err := insert("rev-1"); err != nil {
		t.Fatalf("first reversal: %v", err)
	}
	if err := insert("rev-2"); !errors.Is(err, ErrAlreadyReversed) {
		t.Fatalf("expected already reversed, got %v", err)
	}
	if err := insert("rev-1"); !errors.Is(err, ErrDuplicateTransactionCode) {
		t.Fatalf("expected duplicate code, got %v", err)
	}

	var has bool
	_ = s.WithinTx(ctx, func(tx Tx) error {
		var err error
		has, err = tx.HasReversal(ctx, "other", origin)
		return err
	})
	if !has {
		t.Fatalf("expected reversal to be visible")
	}
}

func TestInMemoryStore_LockTimeout(t *testing.T) {
	s := NewInMemory(WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	w := newWallet(t, s, "owner-a", "0000000001")

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(tx Tx) error {
			if _, err := tx.LockWallets(ctx, w.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.LockWallets(ctx, w.ID)
		return err
	})
	close(release)
	if !errors.Is(err, ErrContention) {
		t.Fatalf("expected contention, got %v", err)
	}
}

func TestInMemoryStore_LockMissingWallet(t *testing.T) {
	s := NewInMemory()
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.LockWallets(context.Background(), "missing")
		return err
	})
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestInMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, s, "owner-a", "0000000001")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(tx Tx) error {
				locked, err := tx.LockWallets(ctx, w.ID)
				if err != nil {
					return err
				}
				return tx.UpdateBalance(ctx, w.ID, locked[w.ID].Balance.Add(decimal.NewFromInt(10)))
			})
			if err != nil {
				t.Errorf("increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.WalletByID(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(workers * 10)) {
		t.Fatalf("expected balance %d, got %s", workers*10, got.Balance)
	}
}

func TestInMemoryStore_ListTransactionsNewestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, s, "owner-a", "0000000001")

	for _, code := range []string{"a", "b", "c"} {
		code := code
		if err := s.WithinTx(ctx, func(tx Tx) error {
			return tx.InsertTransaction(ctx, &Transaction{WalletID: w.ID, Type: EntryDeposit, TransactionCode: code})
		}); err != nil {
			t.Fatalf("insert %s: %v", code, err)
		}
	}

	page, err := s.ListTransactions(ctx, w.ID, Page{Number: 1, Size: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].TransactionCode != "c" || page.Items[1].TransactionCode != "b" {
		t.Fatalf("expected newest first, got %s,%s", page.Items[0].TransactionCode, page.Items[1].TransactionCode)
	}

	second, _ := s.ListTransactions(ctx, w.ID, Page{Number: 2, Size: 2})
	if len(second.Items) != 1 || second.Items[0].TransactionCode != "a" {
		t.Fatalf("unexpected second page: %+v", second.Items)
	}
}

func TestInMemoryStore_LinkRelatedWithinTx(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newWallet(t, s, "owner-a", "0000000001")

	var first, second Transaction
	err := s.WithinTx(ctx, func(tx Tx) error {
		first = Transaction{WalletID: w.ID, Type: EntryTransferOut, TransactionCode: "x-out"}
		if err := tx.InsertTransaction(ctx, &first); err != nil {
			return err
		}
		second = Transaction{WalletID: w.ID, Type: EntryTransferIn, TransactionCode: "x-in", RelatedTransactionID: &first.ID}
		if err := tx.InsertTransaction(ctx, &second); err != nil {
			return err
		}
		return tx.LinkRelated(ctx, first.ID, second.ID)
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}

	got, err := s.TransactionByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("transaction by id: %v", err)
	}
	if got.RelatedTransactionID == nil || *got.RelatedTransactionID != second.ID {
		t.Fatalf("expected link to %s, got %v", second.ID, got.RelatedTransactionID)
	}
}
