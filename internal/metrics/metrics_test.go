package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

func TestOperationCountsFailuresByReason(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Operation("transfer", time.Now(), nil)
	m.Operation("transfer", time.Now(), fmt.Errorf("lock: %w", ledger.ErrInsufficientFunds))
	m.Operation("transfer", time.Now(), errors.New("connection reset"))

	if got := testutil.ToFloat64(m.OperationsFailed.WithLabelValues("transfer", "insufficient_funds")); got != 1 {
		t.Fatalf("expected 1 insufficient_funds failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.OperationsFailed.WithLabelValues("transfer", "internal")); got != 1 {
		t.Fatalf("expected 1 internal failure, got %v", got)
	}
}

func TestEntryAndMismatches(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Entry(ledger.EntryDeposit)
	m.Entry(ledger.EntryDeposit)
	m.Mismatches(3)

	if got := testutil.ToFloat64(m.EntriesTotal.WithLabelValues("deposit")); got != 2 {
		t.Fatalf("expected 2 deposits, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReconcileMismatches); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Entry(ledger.EntryDeposit)
	m.Operation("deposit", time.Now(), ledger.ErrInvalidAmount)
	m.Mismatches(1)
}
