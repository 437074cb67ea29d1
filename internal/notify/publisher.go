// Package notify publishes booking status changes to RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
)

const (
	// DefaultExchange receives booking events.
	DefaultExchange = "bookings"
	// DefaultPublishTimeout bounds one publish.
	DefaultPublishTimeout = 2 * time.Second

	eventStatusChanged = "booking.status_changed"
	routingKeyPrefix   = "booking."
	messageVersion     = 1
)

// Channel is the part of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
}

// StatusChangedMessage is the JSON body of a status change event.
type StatusChangedMessage struct {
	Event      string            `json:"event"`
	Version    int               `json:"version"`
	OccurredAt string            `json:"occurredAt"`
	Data       StatusChangedData `json:"data"`
}

// StatusChangedData describes the transition.
type StatusChangedData struct {
	BookingID string `json:"bookingId"`
	Reference string `json:"reference"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(publisher *Publisher) {
		if timeout > 0 {
			publisher.timeout = timeout
		}
	}
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(publisher *Publisher) {
		if logger != nil {
			publisher.logger = logger
		}
	}
}

// Publisher implements booking.Notifier. Failures are logged and dropped.
type Publisher struct {
	channel  Channel
	exchange string
	timeout  time.Duration
	logger   *zap.Logger
	closeFn  func() error
}

// NewPublisher builds a Publisher on an open channel.
func NewPublisher(channel Channel, exchange string, options ...Option) (*Publisher, error) {
	if channel == nil {
		return nil, fmt.Errorf("%w: amqp channel is nil", booking.ErrInvalidServiceConfig)
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	publisher := &Publisher{
		channel:  channel,
		exchange: exchange,
		timeout:  DefaultPublishTimeout,
		logger:   zap.NewNop(),
		closeFn:  func() error { return nil },
	}
	for _, option := range options {
		if option != nil {
			option(publisher)
		}
	}
	return publisher, nil
}

// Dial connects to url and declares the durable topic exchange.
func Dial(url string, exchange string, options ...Option) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	publisher, err := NewPublisher(channel, exchange, options...)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.closeFn = func() error {
		_ = channel.Close()
		return conn.Close()
	}
	return publisher, nil
}

// NotifyStatusChange implements booking.Notifier.
func (publisher *Publisher) NotifyStatusChange(ctx context.Context, change booking.StatusChange) {
	routingKey := routingKeyPrefix + change.To.String()
	if err := publisher.publish(ctx, routingKey, change); err != nil {
		publisher.logger.Warn("booking notification dropped",
			zap.String("booking_id", change.BookingID.String()),
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}

func (publisher *Publisher) publish(ctx context.Context, routingKey string, change booking.StatusChange) error {
	body, err := json.Marshal(StatusChangedMessage{
		Event:      eventStatusChanged,
		Version:    messageVersion,
		OccurredAt: change.At.UTC().Format(time.RFC3339),
		Data: StatusChangedData{
			BookingID: change.BookingID.String(),
			Reference: change.Reference,
			From:      change.From.String(),
			To:        change.To.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publisher.timeout)
	defer cancel()
	return publisher.channel.PublishWithContext(publishCtx, publisher.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    change.At.UTC(),
		Type:         eventStatusChanged,
		Body:         body,
	})
}

// Close releases the connection opened by Dial.
func (publisher *Publisher) Close() error {
	return publisher.closeFn()
}
