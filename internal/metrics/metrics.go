package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

// Metrics holds the ledger and HTTP collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	EntriesTotal        *prometheus.CounterVec
	OperationsFailed    *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	ReconcileMismatches prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPLatency         *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_entries_total",
				Help: "Total committed ledger entries",
			},
			[]string{"type"},
		),
		OperationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_failed_total",
				Help: "Total ledger operations that did not commit",
			},
			[]string{"operation", "reason"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Latency of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ReconcileMismatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_reconcile_mismatches",
				Help: "Wallets whose balance disagreed with their entries on the last reconciliation run",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_requests_latency_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(
		m.EntriesTotal,
		m.OperationsFailed,
		m.OperationDuration,
		m.ReconcileMismatches,
		m.HTTPRequestsTotal,
		m.HTTPLatency,
	)
	return m
}

// Entry counts one committed entry.
func (m *Metrics) Entry(t ledger.EntryType) {
	if m == nil {
		return
	}
	m.EntriesTotal.WithLabelValues(string(t)).Inc()
}

// Operation records the latency of op and, when err is non-nil, a failure.
func (m *Metrics) Operation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.OperationsFailed.WithLabelValues(op, Reason(err)).Inc()
	}
}

// Mismatches sets the reconciliation gauge.
func (m *Metrics) Mismatches(n int) {
	if m == nil {
		return
	}
	m.ReconcileMismatches.Set(float64(n))
}

var reasons = []struct {
	err  error
	name string
}{
	{ledger.ErrInvalidAmount, "invalid_amount"},
	{ledger.ErrSelfTransfer, "self_transfer"},
	{ledger.ErrInsufficientFunds, "insufficient_funds"},
	{ledger.ErrDuplicateAccount, "duplicate_account"},
	{ledger.ErrAlreadyReversed, "already_reversed"},
	{ledger.ErrNotReversible, "not_reversible"},
	{ledger.ErrRelatedNotFound, "related_not_found"},
	{ledger.ErrAccountNumberExhausted, "account_number_exhausted"},
	{ledger.ErrWalletNotFound, "wallet_not_found"},
	{ledger.ErrTransactionNotFound, "transaction_not_found"},
	{ledger.ErrContention, "contention"},
}

// Reason maps an error to a bounded label value.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "internal"
}
