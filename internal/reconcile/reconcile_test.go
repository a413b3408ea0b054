package reconcile

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/metrics"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

func seededLedger(t *testing.T) (ledger.Store, ledger.Wallet, ledger.Wallet) {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewInMemory()
	svc := wallet.NewService(store, notification.Fanout{}, logging.Discard())

	a, err := svc.CreateWallet(ctx, "owner-a")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	b, err := svc.CreateWallet(ctx, "owner-b")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if _, err := svc.Deposit(ctx, a.ID, decimal.RequireFromString("100"), ""); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := svc.Transfer(ctx, a.ID, b.ID, decimal.RequireFromString("40"), ""); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	return store, a, b
}

func TestRunReportsConsistentLedger(t *testing.T) {
	store, _, _ := seededLedger(t)
	m := metrics.New(prometheus.NewRegistry())

	report, err := New(store, m, logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Checked != 2 || len(report.Mismatches) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := testutil.ToFloat64(m.ReconcileMismatches); got != 0 {
		t.Fatalf("expected gauge 0, got %v", got)
	}
}

func TestRunDetectsDrift(t *testing.T) {
	store, a, _ := seededLedger(t)
	ledger.SeedBalance(store, a.ID, decimal.RequireFromString("999"))
	m := metrics.New(prometheus.NewRegistry())

	report, err := New(store, m, logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].WalletID != a.ID {
		t.Fatalf("expected mismatch on %s, got %+v", a.ID, report.Mismatches)
	}
	if !report.Mismatches[0].EntrySum.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("expected entry sum 60, got %s", report.Mismatches[0].EntrySum)
	}
	if got := testutil.ToFloat64(m.ReconcileMismatches); got != 1 {
		t.Fatalf("expected gauge 1, got %v", got)
	}
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	r := New(ledger.NewInMemory(), nil, logging.Discard())
	if _, err := NewScheduler(r, "not a schedule", logging.Discard()); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	s, err := NewScheduler(r, "@every 10m", logging.Discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	<-s.Stop().Done()
}
