package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

const (
	// KindEntryCreated is emitted once per ledger entry after its unit of work commits.
	KindEntryCreated = "ledger.entry.created"
)

// Event describes a committed ledger change.
type Event struct {
	Kind       string
	Entry      ledger.Transaction
	OccurredAt time.Time
}

// EntryCreated builds the event for a freshly committed entry.
func EntryCreated(entry ledger.Transaction) Event {
	return Event{Kind: KindEntryCreated, Entry: entry, OccurredAt: time.Now().UTC()}
}

// RoutingKey returns the topic routing key for the event, e.g. ledger.entry.deposit.
func (e Event) RoutingKey() string {
	return "ledger.entry." + string(e.Entry.Type)
}

// Notifier delivers ledger events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier writes one audit line per ledger event.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	e := event.Entry
	n.logger.Info("ledger entry created",
		"kind", event.Kind,
		"transaction_id", e.ID,
		"wallet_id", e.WalletID,
		"type", string(e.Type),
		"amount", e.Amount.StringFixed(2),
		"new_balance", e.NewBalance.StringFixed(2),
		"transaction_code", e.TransactionCode,
	)
	return nil
}

// Fanout delivers each event to every wrapped notifier and joins their errors.
type Fanout []Notifier

// Send forwards the event to all notifiers, even when one of them fails.
func (f Fanout) Send(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
