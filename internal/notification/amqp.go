package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange ledger events are published to.
const DefaultExchange = "ledger_events"

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPNotifier publishes ledger events as JSON to a durable topic exchange.
type AMQPNotifier struct {
	channel  amqpChannel
	exchange string
}

type entryMessage struct {
	Kind                 string    `json:"kind"`
	TransactionID        string    `json:"transaction_id"`
	WalletID             string    `json:"wallet_id"`
	Type                 string    `json:"type"`
	Amount               string    `json:"amount"`
	PreviousBalance      string    `json:"previous_balance"`
	NewBalance           string    `json:"new_balance"`
	TransactionCode      string    `json:"transaction_code"`
	RelatedTransactionID *string   `json:"related_transaction_id"`
	SenderID             *string   `json:"sender_id"`
	ReceiverID           *string   `json:"receiver_id"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// NewAMQPNotifier opens a channel on conn and declares the exchange.
func NewAMQPNotifier(conn *amqp091.Connection, exchange string) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	n, err := newAMQPNotifier(ch, exchange)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return n, nil
}

func newAMQPNotifier(ch amqpChannel, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{channel: ch, exchange: exchange}, nil
}

// Send publishes the event with routing key ledger.entry.<type>.
func (n *AMQPNotifier) Send(ctx context.Context, event Event) error {
	e := event.Entry
	body, err := json.Marshal(entryMessage{
		Kind:                 event.Kind,
		TransactionID:        e.ID,
		WalletID:             e.WalletID,
		Type:                 string(e.Type),
		Amount:               e.Amount.StringFixed(2),
		PreviousBalance:      e.PreviousBalance.StringFixed(2),
		NewBalance:           e.NewBalance.StringFixed(2),
		TransactionCode:      e.TransactionCode,
		RelatedTransactionID: e.RelatedTransactionID,
		SenderID:             e.SenderID,
		ReceiverID:           e.ReceiverID,
		OccurredAt:           event.OccurredAt,
	})
	if err != nil {
		return err
	}

	return n.channel.PublishWithContext(ctx,
		n.exchange,         // exchange
		event.RoutingKey(), // routing key
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
}

// Close releases the channel.
func (n *AMQPNotifier) Close() error {
	return n.channel.Close()
}
