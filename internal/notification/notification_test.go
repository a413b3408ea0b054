package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Send(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeChannel struct {
	declared  string
	kind      string
	published []amqp091.Publishing
	keys      []string
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	f.declared, f.kind = name, kind
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleEntry() ledger.Transaction {
	return ledger.Transaction{
		ID:              "tx-1",
		WalletID:        "w-1",
		Type:            ledger.EntryDeposit,
		Amount:          decimal.RequireFromString("100"),
		PreviousBalance: decimal.Zero,
		NewBalance:      decimal.RequireFromString("100"),
		TransactionCode: "code-1",
	}
}

func TestAMQPNotifierPublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	n, err := newAMQPNotifier(ch, "")
	if err != nil {
		t.Fatalf("newAMQPNotifier: %v", err)
	}
	if ch.declared != DefaultExchange || ch.kind != "topic" {
		t.Fatalf("unexpected exchange %s (%s)", ch.declared, ch.kind)
	}

	if err := n.Send(context.Background(), EntryCreated(sampleEntry())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ch.published) != 1 || ch.keys[0] != "ledger.entry.deposit" {
		t.Fatalf("unexpected publish: %v", ch.keys)
	}

	msg := ch.published[0]
	if msg.MessageId != "tx-1" || msg.DeliveryMode != amqp091.Persistent {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["amount"] != "100.00" || body["kind"] != KindEntryCreated {
		t.Fatalf("unexpected body %v", body)
	}

	if err := n.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel closed")
	}
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := &recorder{err: boom}
	ok := &recorder{}

	err := Fanout{failing, nil, ok}.Send(context.Background(), EntryCreated(sampleEntry()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count() != 1 || failing.count() != 1 {
		t.Fatalf("expected both notifiers called")
	}
}

func TestAsyncDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 2, 16, logging.Discard())
	for i := 0; i < 10; i++ {
		if err := a.Send(context.Background(), EntryCreated(sampleEntry())); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	a.Close()
	if rec.count() != 10 {
		t.Fatalf("expected 10 deliveries, got %d", rec.count())
	}

	// Sends after close are dropped, not panics.
	if err := a.Send(context.Background(), EntryCreated(sampleEntry())); err != nil {
		t.Fatalf("Send after close: %v", err)
	}
	a.Close()
}

func TestLoggerNotifierWritesAuditLine(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := n.Send(context.Background(), EntryCreated(sampleEntry())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), `"transaction_code":"code-1"`) {
		t.Fatalf("unexpected log line %s", buf.String())
	}
}
