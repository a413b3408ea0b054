package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/metrics"
)

// Mismatch is a wallet whose stored balance disagrees with its entries.
type Mismatch struct {
	WalletID    string
	Balance     decimal.Decimal
	EntrySum    decimal.Decimal
	LastBalance decimal.Decimal
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Checked    int
	Mismatches []Mismatch
	Duration   time.Duration
}

// Reconciler verifies that every wallet balance equals both the signed sum of
// its entries and the new_balance of its most recent entry.
type Reconciler struct {
	store   ledger.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New constructs a Reconciler. metrics may be nil.
func New(store ledger.Store, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, metrics: m, logger: logger}
}

// Run performs one pass over all wallets.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	summaries, err := r.store.LedgerSummaries(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load ledger summaries: %w", err)
	}

	report := Report{Checked: len(summaries)}
	for _, s := range summaries {
		if consistent(s) {
			continue
		}
		report.Mismatches = append(report.Mismatches, Mismatch{
			WalletID:    s.WalletID,
			Balance:     s.Balance,
			EntrySum:    s.EntrySum,
			LastBalance: s.LastBalance,
		})
		r.logger.Error("wallet balance does not match ledger",
			"wallet_id", s.WalletID,
			"balance", s.Balance.StringFixed(2),
			"entry_sum", s.EntrySum.StringFixed(2),
			"last_balance", s.LastBalance.StringFixed(2),
			"entries", s.EntryCount,
		)
	}
	report.Duration = time.Since(start)

	r.metrics.Mismatches(len(report.Mismatches))
	r.logger.Info("ledger reconciliation finished",
		"wallets", report.Checked,
		"mismatches", len(report.Mismatches),
		"duration", report.Duration,
	)
	return report, nil
}

func consistent(s ledger.LedgerSummary) bool {
	if !s.Balance.Equal(s.EntrySum) {
		return false
	}
	if s.EntryCount == 0 {
		return s.Balance.IsZero()
	}
	return s.Balance.Equal(s.LastBalance)
}

// Scheduler runs the Reconciler on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	logger     *slog.Logger
	timeout    time.Duration
}

// NewScheduler registers the reconciliation job on schedule, e.g. "@every 10m".
func NewScheduler(r *Reconciler, schedule string, logger *slog.Logger) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	s := &Scheduler{cron: c, reconciler: r, logger: logger, timeout: 5 * time.Minute}
	if _, err := c.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("schedule reconciliation %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.reconciler.Run(ctx); err != nil {
		s.logger.Error("ledger reconciliation failed", "error", err)
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("reconciliation scheduler started")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once a running job finishes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("reconciliation scheduler stopping")
	return s.cron.Stop()
}
