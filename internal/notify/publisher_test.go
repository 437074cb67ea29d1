package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type publishedMessage struct {
	exchange string
	key      string
	message  amqp.Publishing
	deadline bool
}

type fakeChannel struct {
	published []publishedMessage
	err       error
}

func (channel *fakeChannel) PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error {
	if channel.err != nil {
		return channel.err
	}
	_, hasDeadline := ctx.Deadline()
	channel.published = append(channel.published, publishedMessage{exchange: exchange, key: key, message: msg, deadline: hasDeadline})
	return nil
}

func mustBookingID(test *testing.T, raw string) booking.BookingID {
	test.Helper()
	bookingID, err := booking.NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return bookingID
}

func TestNotifyStatusChangePublishesJSON(test *testing.T) {
	test.Parallel()
	channel := &fakeChannel{}
	publisher, err := NewPublisher(channel, "")
	if err != nil {
		test.Fatalf("publisher: %v", err)
	}
	at := time.Date(2025, time.July, 1, 9, 30, 0, 0, time.UTC)

	publisher.NotifyStatusChange(context.Background(), booking.StatusChange{
		BookingID: mustBookingID(test, "b-1"),
		Reference: "YONO-12345678-ABCD",
		From:      booking.StatusPaid,
		To:        booking.StatusConfirmed,
		At:        at,
	})

	if len(channel.published) != 1 {
		test.Fatalf("expected one message, got %d", len(channel.published))
	}
	published := channel.published[0]
	if published.exchange != DefaultExchange || published.key != "booking.confirmed" || !published.deadline {
		test.Fatalf("unexpected publish %+v", published)
	}
	if published.message.DeliveryMode != amqp.Persistent || published.message.MessageId == "" {
		test.Fatalf("unexpected message properties %+v", published.message)
	}
	var decoded StatusChangedMessage
	if err := json.Unmarshal(published.message.Body, &decoded); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if decoded.Event != "booking.status_changed" || decoded.OccurredAt != "2025-07-01T09:30:00Z" {
		test.Fatalf("unexpected message %+v", decoded)
	}
	if decoded.Data.From != "paid" || decoded.Data.To != "confirmed" || decoded.Data.Reference != "YONO-12345678-ABCD" {
		test.Fatalf("unexpected data %+v", decoded.Data)
	}
}

func TestNotifyStatusChangeSwallowsErrors(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zap.WarnLevel)
	publisher, err := NewPublisher(&fakeChannel{err: errors.New("channel closed")}, "bookings", WithLogger(zap.New(core)))
	if err != nil {
		test.Fatalf("publisher: %v", err)
	}

	publisher.NotifyStatusChange(context.Background(), booking.StatusChange{
		BookingID: mustBookingID(test, "b-2"),
		To:        booking.StatusCancelled,
		At:        time.Now(),
	})

	if logs.FilterMessage("booking notification dropped").Len() != 1 {
		test.Fatalf("expected a warning, got %v", logs.All())
	}
}

func TestNewPublisherRequiresChannel(test *testing.T) {
	test.Parallel()
	if _, err := NewPublisher(nil, ""); !errors.Is(err, booking.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}
