// Package amqp publishes artifact notifications to a RabbitMQ exchange.
package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JakeFAU/frame-ingest/internal/publisher"
)

// Config names the exchange and default routing key.
type Config struct {
	Exchange   string
	RoutingKey string
	Encoding   publisher.Encoding
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends persistent messages on a dedicated channel.
type Publisher struct {
	channel channel
	cfg     Config
	now     func() time.Time
}

// Dial opens a connection and channel to url.
func Dial(url string, cfg Config) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return New(ch, cfg), conn, nil
}

// New wraps an open channel.
func New(ch channel, cfg Config) *Publisher {
	if cfg.Encoding == "" {
		cfg.Encoding = publisher.EncodingJSON
	}
	return &Publisher{
		channel: ch,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish encodes payload and publishes it. topic overrides the configured routing key when set.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	body, err := p.cfg.Encoding.Marshal(payload)
	if err != nil {
		return "", err
	}
	key := p.cfg.RoutingKey
	if topic != "" {
		key = topic
	}
	id := uuid.NewString()
	err = p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		key,
		false, false,
		amqp.Publishing{
			ContentType:  p.cfg.Encoding.ContentType(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.now(),
			MessageId:    id,
		},
	)
	if err != nil {
		return "", fmt.Errorf("publish amqp message: %w", err)
	}
	return id, nil
}

// Close closes the publishing channel.
func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return fmt.Errorf("close amqp channel: %w", err)
	}
	return nil
}
