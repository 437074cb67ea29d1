// Package idempotency records which provider webhook events have been
// applied so that at-least-once delivery produces exactly-once effects.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Entry statuses.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

const (
	// MaxErrorLength bounds the stored failure reason.
	MaxErrorLength = 500
	// DefaultLease is how long a processing entry blocks redelivery.
	DefaultLease = time.Minute
	// DefaultRetention is how long processed entries are remembered by
	// ledgers that evict.
	DefaultRetention = 72 * time.Hour
)

var (
	ErrInvalidKey        = errors.New("invalid idempotency key")
	ErrEntryNotFound     = errors.New("idempotency entry not found")
	ErrLedgerUnavailable = errors.New("idempotency ledger unavailable")
)

// Key identifies one provider event.
type Key struct {
	provider string
	eventID  string
}

// NewKey validates and normalizes a (provider, eventId) pair.
func NewKey(provider string, eventID string) (Key, error) {
	normalizedProvider := strings.ToLower(strings.TrimSpace(provider))
	normalizedEventID := strings.TrimSpace(eventID)
	if normalizedProvider == "" || normalizedEventID == "" {
		return Key{}, fmt.Errorf("%w: provider and event id are required", ErrInvalidKey)
	}
	return Key{provider: normalizedProvider, eventID: normalizedEventID}, nil
}

func (key Key) Provider() string { return key.provider }

func (key Key) EventID() string { return key.eventID }

func (key Key) String() string { return key.provider + ":" + key.eventID }

// Outcome is the result of an Acquire call.
type Outcome string

const (
	// OutcomeAcquired means the caller owns the event and must mark it.
	OutcomeAcquired Outcome = "acquired"
	// OutcomeSkipped means the event was already processed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBusy means another delivery holds an unexpired lease.
	OutcomeBusy Outcome = "busy"
)

// Claim describes the event being locked.
type Claim struct {
	Key       Key
	EventType string
	BookingID string
	Payload   []byte
}

// Result is recorded when an event is marked processed.
type Result struct {
	BookingID string
	PaymentID string
}

// Ledger is the idempotency lock contract shared by the memory, redis and
// database implementations.
type Ledger interface {
	Acquire(ctx context.Context, claim Claim) (Outcome, error)
	MarkProcessed(ctx context.Context, key Key, result Result) error
	MarkFailed(ctx context.Context, key Key, reason string) error
}

// TruncateError clips a failure reason to MaxErrorLength bytes on a rune boundary.
func TruncateError(reason string) string {
	if len(reason) <= MaxErrorLength {
		return reason
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
