package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	paymentIDPrefix = "pay_"
	currencyLength  = 3
)

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id BookingID) IsZero() bool {
	return id.value == ""
}

// PaymentID identifies a payment intent (pay_<hex>).
type PaymentID struct {
	value string
}

// NewPaymentID validates and normalizes a payment id.
func NewPaymentID(raw string) (PaymentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentID{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentID)
	}
	return PaymentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PaymentID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id PaymentID) IsZero() bool {
	return id.value == ""
}

// Amount is a monetary value in the unit the provider reports it in.
type Amount int64

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw amount.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Currency is an upper-case ISO-4217 code.
type Currency string

// NewCurrency validates and normalizes a currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != currencyLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	for _, character := range normalized {
		if character < 'A' || character > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
		}
	}
	return Currency(normalized), nil
}

// String returns the currency code.
func (currency Currency) String() string {
	return string(currency)
}

// TimelineEntry records one realized status.
type TimelineEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Booking is one traveler purchase.
type Booking struct {
	ID               BookingID
	Reference        string
	UserID           string
	Type             string
	Amount           Amount
	Currency         Currency
	Contact          json.RawMessage
	Travelers        json.RawMessage
	OfferID          string
	OfferSnapshot    json.RawMessage
	Notes            string
	Metadata         map[string]any
	Status           Status
	StatusTimeline   []TimelineEntry
	DraftAt          *time.Time
	PendingPaymentAt *time.Time
	PaidAt           *time.Time
	ConfirmedAt      *time.Time
	FailedAt         *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusTimestamp returns the first-entry time recorded for a status.
func (booking Booking) StatusTimestamp(status Status) *time.Time {
	switch status {
	case StatusDraft:
		return booking.DraftAt
	case StatusPendingPayment:
		return booking.PendingPaymentAt
	case StatusPaid:
		return booking.PaidAt
	case StatusConfirmed:
		return booking.ConfirmedAt
	case StatusFailed:
		return booking.FailedAt
	case StatusCancelled:
		return booking.CancelledAt
	}
	return nil
}

func (booking *Booking) stampStatus(status Status, at time.Time) {
	stamp := at
	var target **time.Time
	switch status {
	case StatusDraft:
		target = &booking.DraftAt
	case StatusPendingPayment:
		target = &booking.PendingPaymentAt
	case StatusPaid:
		target = &booking.PaidAt
	case StatusConfirmed:
		target = &booking.ConfirmedAt
	case StatusFailed:
		target = &booking.FailedAt
	case StatusCancelled:
		target = &booking.CancelledAt
	default:
		return
	}
	if *target == nil {
		*target = &stamp
	}
}

func (booking *Booking) appendTimeline(status Status, at time.Time) {
	timelineLength := len(booking.StatusTimeline)
	if timelineLength > 0 && booking.StatusTimeline[timelineLength-1].Status == status {
		return
	}
	booking.StatusTimeline = append(booking.StatusTimeline, TimelineEntry{Status: status, At: at})
}

// NewBookingInput carries the attributes of a booking created by an intent flow.
type NewBookingInput struct {
	UserID        string
	Type          string
	Amount        int64
	Currency      string
	Contact       json.RawMessage
	Travelers     json.RawMessage
	OfferID       string
	OfferSnapshot json.RawMessage
	Notes         string
}

// PaymentStatus is the state of a payment intent.
type PaymentStatus string

const (
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
)

// ParsePaymentStatus validates a payment status label.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PaymentStatusRequiresAction, PaymentStatusSucceeded, PaymentStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
}

// String returns the status label.
func (status PaymentStatus) String() string {
	return string(status)
}

// PaymentIntent is one attempt to collect money for a booking.
type PaymentIntent struct {
	ID                PaymentID
	BookingID         BookingID
	Amount            Amount
	Currency          Currency
	Provider          string
	ProviderPaymentID string
	ProviderOrderID   string
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPaymentIntentInput carries the attributes of a new payment intent.
type NewPaymentIntentInput struct {
	BookingID         BookingID
	Amount            int64
	Currency          string
	Provider          string
	ProviderPaymentID string
	ProviderOrderID   string
}

// Store is the persistence contract used by Service.
// (gormstore implements it.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	UpdateBooking(ctx context.Context, booking Booking) error
	InsertPaymentIntent(ctx context.Context, intent PaymentIntent) error
	GetPaymentIntent(ctx context.Context, paymentID PaymentID) (PaymentIntent, error)
	FindPaymentIntentByProviderPaymentID(ctx context.Context, provider string, providerPaymentID string) (PaymentIntent, error)
	ListPaymentIntents(ctx context.Context, bookingID BookingID) ([]PaymentIntent, error)
	UpdatePaymentIntent(ctx context.Context, intent PaymentIntent) error
}
