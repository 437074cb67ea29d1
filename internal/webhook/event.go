package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/yonotravel/bookingd/pkg/booking"
)

const eventHashPrefix = "evt_hash_"

var (
	ErrInvalidJSON      = errors.New("webhook body is not a JSON object")
	ErrBookingIDMissing = errors.New("booking id missing from webhook payload")
)

var (
	eventIDPaths = [][]string{
		keys("eventId"),
		keys("id"),
		keys("payload", "payment", "entity", "id"),
	}
	bookingIDPaths = [][]string{
		keys("bookingId"),
		keys("booking_id"),
		keys("payload", "payment", "entity", "notes", "bookingId"),
		keys("payload", "payment", "entity", "notes", "booking_id"),
		keys("payload", "order", "entity", "notes", "bookingId"),
		keys("payload", "order", "entity", "notes", "booking_id"),
		keys("data", "metadata", "booking_id"),
		keys("data", "metadata", "bookingId"),
		keys("metadata", "bookingId"),
		keys("metadata", "booking_id"),
	}
	paymentIDPaths = [][]string{
		keys("paymentId"),
		keys("payment_id"),
		keys("payload", "payment", "entity", "notes", "paymentId"),
		keys("payload", "payment", "entity", "notes", "payment_id"),
		keys("payload", "order", "entity", "notes", "paymentId"),
		keys("payload", "order", "entity", "notes", "payment_id"),
		keys("data", "metadata", "payment_id"),
		keys("data", "metadata", "paymentId"),
		keys("metadata", "paymentId"),
		keys("metadata", "payment_id"),
	}
	providerPaymentIDPaths = [][]string{
		keys("providerPaymentId"),
		keys("payload", "payment", "entity", "id"),
		keys("payload", "refund", "entity", "payment_id"),
		keys("data", "id"),
	}
	providerOrderIDPaths = [][]string{
		keys("providerOrderId"),
		keys("payload", "payment", "entity", "order_id"),
		keys("payload", "order", "entity", "id"),
		keys("data", "source", "id"),
	}
	eventTypePaths = [][]string{
		keys("event"),
		keys("type"),
		keys("key"),
		keys("eventType"),
	}
	paymentStatusPaths = [][]string{
		keys("status"),
		keys("payload", "payment", "entity", "status"),
		keys("payload", "order", "entity", "status"),
		keys("data", "status"),
	}
	capturedAmountPaths = [][]string{
		keys("amount"),
		keys("payload", "payment", "entity", "amount"),
		keys("payload", "order", "entity", "amount_paid"),
		keys("data", "amount"),
	}
	refundedAmountPaths = [][]string{
		keys("refundedAmount"),
		keys("payload", "refund", "entity", "amount"),
		keys("payload", "payment", "entity", "amount_refunded"),
		keys("data", "refunded_amount"),
		keys("data", "refunded"),
	}
	currencyPaths = [][]string{
		keys("currency"),
		keys("payload", "payment", "entity", "currency"),
		keys("payload", "order", "entity", "currency"),
		keys("data", "currency"),
	}
)

// DecodeBody parses a webhook body into a JSON object. Numbers keep their
// textual form so amounts are never rounded.
func DecodeBody(body []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var document map[string]any
	if err := decoder.Decode(&document); err != nil || document == nil {
		return nil, ErrInvalidJSON
	}
	if decoder.More() {
		return nil, ErrInvalidJSON
	}
	return document, nil
}

// EventID resolves the delivery identity: the header value, then payload ids,
// then a hash of the raw body.
func EventID(headerValue string, document map[string]any, body []byte) string {
	if trimmed := strings.TrimSpace(headerValue); trimmed != "" {
		return trimmed
	}
	if value := FirstString(document, eventIDPaths...); value != "" {
		return value
	}
	return HashEventID(body)
}

// HashEventID derives a deterministic event id from a raw body.
func HashEventID(body []byte) string {
	digest := sha256.Sum256(body)
	return eventHashPrefix + hex.EncodeToString(digest[:])
}

// BookingIDFrom extracts the booking id from any known nesting.
func BookingIDFrom(document map[string]any) (booking.BookingID, error) {
	raw := FirstString(document, bookingIDPaths...)
	if raw == "" {
		return booking.BookingID{}, ErrBookingIDMissing
	}
	return booking.NewBookingID(raw)
}

// EventType returns the provider event name, lower-cased.
func EventType(document map[string]any) string {
	return strings.ToLower(FirstString(document, eventTypePaths...))
}

// Normalize projects a provider payload into a booking.PaymentEvent.
func Normalize(provider string, eventID string, bookingID booking.BookingID, document map[string]any) booking.PaymentEvent {
	event := booking.PaymentEvent{
		Provider:          provider,
		EventID:           eventID,
		EventType:         EventType(document),
		BookingID:         bookingID,
		ProviderPaymentID: FirstString(document, providerPaymentIDPaths...),
		ProviderOrderID:   FirstString(document, providerOrderIDPaths...),
		Currency:          strings.ToUpper(FirstString(document, currencyPaths...)),
	}
	if raw := FirstString(document, paymentIDPaths...); raw != "" {
		if paymentID, err := booking.NewPaymentID(raw); err == nil {
			event.PaymentID = paymentID
		}
	}
	if amount, ok := FirstInt(document, capturedAmountPaths...); ok {
		event.CapturedAmount = amount
	}
	if amount, ok := FirstInt(document, refundedAmountPaths...); ok {
		event.RefundedAmount = amount
	}
	event.Outcome = outcomeFor(event.EventType, strings.ToLower(FirstString(document, paymentStatusPaths...)))
	return event
}

var eventTypeOutcomes = map[string]booking.PaymentOutcome{
	"payment.captured":   booking.OutcomeSucceeded,
	"order.paid":         booking.OutcomeSucceeded,
	"payment.succeeded":  booking.OutcomeSucceeded,
	"payment.success":    booking.OutcomeSucceeded,
	"payment.failed":     booking.OutcomeFailed,
	"payment.authorized": booking.OutcomePending,
	"payment.pending":    booking.OutcomePending,
	"refund.created":     booking.OutcomeRefunded,
	"refund.processed":   booking.OutcomeRefunded,
	"payment.refunded":   booking.OutcomeRefunded,
	"refund.create":      booking.OutcomeRefunded,
}

var statusOutcomes = map[string]booking.PaymentOutcome{
	"captured":   booking.OutcomeSucceeded,
	"paid":       booking.OutcomeSucceeded,
	"succeeded":  booking.OutcomeSucceeded,
	"success":    booking.OutcomeSucceeded,
	"successful": booking.OutcomeSucceeded,
	"failed":     booking.OutcomeFailed,
	"expired":    booking.OutcomeFailed,
	"reversed":   booking.OutcomeFailed,
	"refunded":   booking.OutcomeRefunded,
	"authorized": booking.OutcomePending,
	"created":    booking.OutcomePending,
	"pending":    booking.OutcomePending,
}

// outcomeFor maps the event name first and falls back to the payment status
// field, which is how charge.complete style events report their result.
func outcomeFor(eventType string, status string) booking.PaymentOutcome {
	if outcome, ok := eventTypeOutcomes[eventType]; ok {
		return outcome
	}
	if outcome, ok := statusOutcomes[status]; ok {
		return outcome
	}
	return booking.OutcomeIgnored
}
