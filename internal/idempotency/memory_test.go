package idempotency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu      sync.Mutex
	current time.Time
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.current
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(duration)
}

func newManualClock() *manualClock {
	return &manualClock{current: time.Date(2025, time.February, 3, 12, 0, 0, 0, time.UTC)}
}

func mustKey(test *testing.T, provider string, eventID string) Key {
	test.Helper()
	key, err := NewKey(provider, eventID)
	if err != nil {
		test.Fatalf("key: %v", err)
	}
	return key
}

func mustAcquire(test *testing.T, ledger Ledger, key Key) Outcome {
	test.Helper()
	outcome, err := ledger.Acquire(context.Background(), Claim{Key: key, EventType: "payment.captured"})
	if err != nil {
		test.Fatalf("acquire %s: %v", key, err)
	}
	return outcome
}

func TestNewKeyNormalizes(test *testing.T) {
	test.Parallel()
	key := mustKey(test, " RazorPay ", " evt_1 ")
	if key.Provider() != "razorpay" || key.EventID() != "evt_1" || key.String() != "razorpay:evt_1" {
		test.Fatalf("unexpected key %+v", key)
	}
	if _, err := NewKey("razorpay", " "); !errors.Is(err, ErrInvalidKey) {
		test.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryLedgerLifecycle(test *testing.T) {
	test.Parallel()
	clock := newManualClock()
	ledger := NewMemoryLedger(clock.Now)
	key := mustKey(test, "razorpay", "evt_1")

	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected acquired, got %s", outcome)
	}
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeBusy {
		test.Fatalf("expected busy while processing, got %s", outcome)
	}
	if err := ledger.MarkProcessed(context.Background(), key, Result{BookingID: "b-1"}); err != nil {
		test.Fatalf("mark processed: %v", err)
	}
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeSkipped {
		test.Fatalf("expected skipped after processed, got %s", outcome)
	}
	status, attempts, _ := ledger.Status(key)
	if status != StatusProcessed || attempts != 1 {
		test.Fatalf("unexpected entry status=%s attempts=%d", status, attempts)
	}
}

func TestMemoryLedgerReacquiresFailedEntries(test *testing.T) {
	test.Parallel()
	ledger := NewMemoryLedger(newManualClock().Now)
	key := mustKey(test, "razorpay", "evt_failed")

	mustAcquire(test, ledger, key)
	if err := ledger.MarkFailed(context.Background(), key, "booking not found"); err != nil {
		test.Fatalf("mark failed: %v", err)
	}
	status, _, lastError := ledger.Status(key)
	if status != StatusFailed || lastError != "booking not found" {
		test.Fatalf("unexpected entry status=%s error=%q", status, lastError)
	}
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected failed entry to be reacquired, got %s", outcome)
	}
	if _, attempts, _ := ledger.Status(key); attempts != 2 {
		test.Fatalf("expected two attempts, got %d", attempts)
	}
}

func TestMemoryLedgerStaleLeaseIsReacquired(test *testing.T) {
	test.Parallel()
	clock := newManualClock()
	ledger := NewMemoryLedger(clock.Now, WithLease(10*time.Second))
	key := mustKey(test, "omise", "evt_stale")

	mustAcquire(test, ledger, key)
	clock.Advance(11 * time.Second)
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected stale lease to be reacquired, got %s", outcome)
	}
}

func TestMemoryLedgerEvictsAfterRetention(test *testing.T) {
	test.Parallel()
	clock := newManualClock()
	ledger := NewMemoryLedger(clock.Now, WithRetention(time.Hour))
	first := mustKey(test, "razorpay", "evt_a")
	second := mustKey(test, "razorpay", "evt_b")
	mustAcquire(test, ledger, first)
	if err := ledger.MarkProcessed(context.Background(), first, Result{}); err != nil {
		test.Fatalf("mark processed: %v", err)
	}
	clock.Advance(30 * time.Minute)
	mustAcquire(test, ledger, second)
	clock.Advance(31 * time.Minute)

	if removed := ledger.Sweep(); removed != 1 {
		test.Fatalf("expected one eviction, got %d", removed)
	}
	if ledger.Len() != 1 {
		test.Fatalf("expected one retained entry, got %d", ledger.Len())
	}
	if outcome := mustAcquire(test, ledger, first); outcome != OutcomeAcquired {
		test.Fatalf("expected evicted key to be acquirable, got %s", outcome)
	}
}

func TestMemoryLedgerMarkUnknownKey(test *testing.T) {
	test.Parallel()
	ledger := NewMemoryLedger(nil)
	key := mustKey(test, "razorpay", "evt_unknown")
	if err := ledger.MarkProcessed(context.Background(), key, Result{}); !errors.Is(err, ErrEntryNotFound) {
		test.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := ledger.MarkFailed(context.Background(), key, "x"); !errors.Is(err, ErrEntryNotFound) {
		test.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestMemoryLedgerCancelledContext(test *testing.T) {
	test.Parallel()
	ledger := NewMemoryLedger(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ledger.Acquire(ctx, Claim{Key: mustKey(test, "razorpay", "evt_ctx")})
	if !errors.Is(err, ErrLedgerUnavailable) {
		test.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestMemoryLedgerSingleWinnerUnderConcurrency(test *testing.T) {
	test.Parallel()
	ledger := NewMemoryLedger(newManualClock().Now)
	key := mustKey(test, "razorpay", "evt_race")

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		acquired  int
	)
	for index := 0; index < 16; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			outcome, err := ledger.Acquire(context.Background(), Claim{Key: key})
			if err == nil && outcome == OutcomeAcquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	waitGroup.Wait()
	if acquired != 1 {
		test.Fatalf("expected exactly one acquisition, got %d", acquired)
	}
}

func TestTruncateError(test *testing.T) {
	test.Parallel()
	short := "boom"
	if TruncateError(short) != short {
		test.Fatalf("short reason changed")
	}
	long := strings.Repeat("a", MaxErrorLength-1) + "é" + "tail"
	truncated := TruncateError(long)
	if len(truncated) > MaxErrorLength {
		test.Fatalf("expected at most %d bytes, got %d", MaxErrorLength, len(truncated))
	}
	if truncated != strings.Repeat("a", MaxErrorLength-1) {
		test.Fatalf("expected cut before multi-byte rune, got %q", truncated[len(truncated)-4:])
	}
}

func TestMemoryLedgerKeepsPayload(test *testing.T) {
	test.Parallel()
	clock := newManualClock()
	ledger := NewMemoryLedger(clock.Now, WithRetention(time.Hour))
	key := mustKey(test, "razorpay", "evt_payload")
	body := []byte(`{"event":"payment.captured","payload":{"bookingId":"b-1"}}`)

	outcome, err := ledger.Acquire(context.Background(), Claim{Key: key, EventType: "payment.captured", Payload: body})
	if err != nil || outcome != OutcomeAcquired {
		test.Fatalf("acquire: %s %v", outcome, err)
	}
	body[0] = '['
	stored, ok := ledger.Payload(key)
	if !ok || string(stored) != `{"event":"payment.captured","payload":{"bookingId":"b-1"}}` {
		test.Fatalf("unexpected payload %q", stored)
	}
	clock.Advance(2 * time.Hour)
	if _, ok := ledger.Payload(key); ok {
		test.Fatalf("expected payload to expire with the entry")
	}
}
