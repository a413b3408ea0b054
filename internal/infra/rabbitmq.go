package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQConnection dials the broker with a bounded timeout.
func NewRabbitMQConnection(rawURL string) (*amqp091.Connection, error) {
	clean, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(clean, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("rabbitmq url is required")
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse rabbitmq url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url must use amqp:// or amqps://")
	}
	return clean, nil
}
