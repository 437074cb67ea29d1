package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	status      string
	eventType   string
	bookingID   string
	paymentID   string
	attempts    int
	lastError   string
	payload     []byte
	lockedUntil time.Time
	expiresAt   time.Time
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithLease overrides DefaultLease.
func WithLease(lease time.Duration) MemoryOption {
	return func(ledger *MemoryLedger) {
		if lease > 0 {
			ledger.lease = lease
		}
	}
}

// WithRetention overrides DefaultRetention.
func WithRetention(retention time.Duration) MemoryOption {
	return func(ledger *MemoryLedger) {
		if retention > 0 {
			ledger.retention = retention
		}
	}
}

// MemoryLedger is a single-process Ledger. Entries expire after the
// retention window and are evicted lazily and by Sweep.
type MemoryLedger struct {
	mu        sync.Mutex
	entries   map[Key]*memoryEntry
	nowFn     func() time.Time
	lease     time.Duration
	retention time.Duration
}

// NewMemoryLedger builds a MemoryLedger using now as its clock.
func NewMemoryLedger(now func() time.Time, options ...MemoryOption) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	ledger := &MemoryLedger{
		entries:   make(map[Key]*memoryEntry),
		nowFn:     now,
		lease:     DefaultLease,
		retention: DefaultRetention,
	}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	return ledger
}

// Acquire implements Ledger.
func (ledger *MemoryLedger) Acquire(ctx context.Context, claim Claim) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if claim.Key.provider == "" {
		return "", ErrInvalidKey
	}
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	now := ledger.nowFn()
	entry, exists := ledger.entries[claim.Key]
	if exists && !now.Before(entry.expiresAt) {
		delete(ledger.entries, claim.Key)
		exists = false
	}
	if exists {
		switch {
		case entry.status == StatusProcessed:
			return OutcomeSkipped, nil
		case entry.status == StatusProcessing && now.Before(entry.lockedUntil):
			return OutcomeBusy, nil
		}
	} else {
		entry = &memoryEntry{}
		ledger.entries[claim.Key] = entry
	}
	entry.status = StatusProcessing
	entry.eventType = claim.EventType
	if claim.BookingID != "" {
		entry.bookingID = claim.BookingID
	}
	if len(claim.Payload) > 0 {
		entry.payload = append([]byte(nil), claim.Payload...)
	}
	entry.attempts++
	entry.lockedUntil = now.Add(ledger.lease)
	entry.expiresAt = now.Add(ledger.retention)
	return OutcomeAcquired, nil
}

// MarkProcessed implements Ledger.
func (ledger *MemoryLedger) MarkProcessed(_ context.Context, key Key, result Result) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	entry, ok := ledger.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	entry.status = StatusProcessed
	entry.lastError = ""
	entry.lockedUntil = time.Time{}
	if result.BookingID != "" {
		entry.bookingID = result.BookingID
	}
	if result.PaymentID != "" {
		entry.paymentID = result.PaymentID
	}
	entry.expiresAt = ledger.nowFn().Add(ledger.retention)
	return nil
}

// MarkFailed implements Ledger.
func (ledger *MemoryLedger) MarkFailed(_ context.Context, key Key, reason string) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	entry, ok := ledger.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	entry.status = StatusFailed
	entry.lastError = TruncateError(reason)
	entry.lockedUntil = time.Time{}
	return nil
}

// Status reports the stored status of key, or "" when unknown.
func (ledger *MemoryLedger) Status(key Key) (status string, attempts int, lastError string) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	entry, ok := ledger.entries[key]
	if !ok || !ledger.nowFn().Before(entry.expiresAt) {
		return "", 0, ""
	}
	return entry.status, entry.attempts, entry.lastError
}

// Payload returns a copy of the event body stored with key.
func (ledger *MemoryLedger) Payload(key Key) ([]byte, bool) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	entry, ok := ledger.entries[key]
	if !ok || !ledger.nowFn().Before(entry.expiresAt) || entry.payload == nil {
		return nil, false
	}
	return append([]byte(nil), entry.payload...), true
}

// Sweep evicts expired entries and returns how many were removed.
func (ledger *MemoryLedger) Sweep() int {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	now := ledger.nowFn()
	removed := 0
	for key, entry := range ledger.entries {
		if !now.Before(entry.expiresAt) {
			delete(ledger.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of retained entries.
func (ledger *MemoryLedger) Len() int {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	return len(ledger.entries)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (ledger *MemoryLedger) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ledger.Sweep()
		}
	}
}
