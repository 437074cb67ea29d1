package idempotency

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	redisTestImage     = "docker.io/redis:7"
	redisTestLease     = 5 * time.Second
	redisTestRetention = time.Minute
)

var (
	redisOnce      sync.Once
	redisURL       string
	redisContainer *tcredis.RedisContainer
	redisStartErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if redisContainer != nil {
		_ = redisContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

// redisTestURL points at REDIS_URL when set and otherwise starts one shared
// container for the package.
func redisTestURL(test *testing.T) string {
	test.Helper()
	redisOnce.Do(func() {
		if redisURL = os.Getenv("REDIS_URL"); redisURL != "" {
			return
		}
		ctx := context.Background()
		redisContainer, redisStartErr = tcredis.RunContainer(ctx, testcontainers.WithImage(redisTestImage))
		if redisStartErr != nil {
			return
		}
		redisURL, redisStartErr = redisContainer.ConnectionString(ctx)
	})
	if redisStartErr != nil {
		test.Fatalf("start redis: %v", redisStartErr)
	}
	return redisURL
}

func newRedisClient(test *testing.T) *redis.Client {
	test.Helper()
	options, err := redis.ParseURL(redisTestURL(test))
	if err != nil {
		test.Fatalf("redis url: %v", err)
	}
	client := redis.NewClient(options)
	test.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		test.Fatalf("redis ping: %v", err)
	}
	return client
}

func newRedisLedger(test *testing.T, now func() time.Time) (*RedisLedger, *redis.Client) {
	test.Helper()
	client := newRedisClient(test)
	return NewRedisLedger(client, now, redisTestLease, redisTestRetention), client
}

func uniqueKey(test *testing.T) Key {
	test.Helper()
	return mustKey(test, "razorpay", "evt_"+uuid.NewString())
}

func TestRedisLedgerLifecycle(test *testing.T) {
	test.Parallel()
	ledger, client := newRedisLedger(test, time.Now)
	key := uniqueKey(test)

	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected acquired, got %s", outcome)
	}
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeBusy {
		test.Fatalf("expected busy, got %s", outcome)
	}
	if err := ledger.MarkFailed(context.Background(), key, "transient"); err != nil {
		test.Fatalf("mark failed: %v", err)
	}
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected failed entry to be reacquired, got %s", outcome)
	}
	if err := ledger.MarkProcessed(context.Background(), key, Result{BookingID: "b-1", PaymentID: "pay_1"}); err != nil {
		test.Fatalf("mark processed: %v", err)
	}
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeSkipped {
		test.Fatalf("expected skipped, got %s", outcome)
	}

	fields, err := client.HGetAll(context.Background(), redisKey(key)).Result()
	if err != nil {
		test.Fatalf("read entry: %v", err)
	}
	if fields[redisFieldStatus] != StatusProcessed || fields[redisFieldAttempts] != "2" {
		test.Fatalf("unexpected entry %+v", fields)
	}
	if fields[redisFieldBookingID] != "b-1" || fields[redisFieldPaymentID] != "pay_1" || fields[redisFieldLastError] != "" {
		test.Fatalf("unexpected entry %+v", fields)
	}
}

func TestRedisLedgerReacquiresStaleLease(test *testing.T) {
	test.Parallel()
	clock := newManualClock()
	ledger, _ := newRedisLedger(test, clock.Now)
	key := uniqueKey(test)

	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected acquired, got %s", outcome)
	}
	clock.Advance(redisTestLease - time.Millisecond)
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeBusy {
		test.Fatalf("expected busy inside the lease, got %s", outcome)
	}
	clock.Advance(time.Millisecond)
	if outcome := mustAcquire(test, ledger, key); outcome != OutcomeAcquired {
		test.Fatalf("expected stale lease to be reacquired, got %s", outcome)
	}
}

func TestRedisLedgerRecordsFailureReason(test *testing.T) {
	test.Parallel()
	ledger, client := newRedisLedger(test, time.Now)
	key := uniqueKey(test)
	mustAcquire(test, ledger, key)

	reason := "BOOKING_ID_MISSING: " + strings.Repeat("x", MaxErrorLength)
	if err := ledger.MarkFailed(context.Background(), key, reason); err != nil {
		test.Fatalf("mark failed: %v", err)
	}
	fields, err := client.HMGet(context.Background(), redisKey(key), redisFieldStatus, redisFieldLastError).Result()
	if err != nil {
		test.Fatalf("read entry: %v", err)
	}
	if fields[0] != StatusFailed {
		test.Fatalf("expected failed, got %v", fields[0])
	}
	if lastError, _ := fields[1].(string); lastError != TruncateError(reason) {
		test.Fatalf("expected truncated reason, got %d bytes", len(lastError))
	}
}

func TestRedisLedgerEntriesExpire(test *testing.T) {
	test.Parallel()
	ledger, client := newRedisLedger(test, time.Now)
	key := uniqueKey(test)
	mustAcquire(test, ledger, key)
	if err := ledger.MarkProcessed(context.Background(), key, Result{}); err != nil {
		test.Fatalf("mark processed: %v", err)
	}

	ttl, err := client.TTL(context.Background(), redisKey(key)).Result()
	if err != nil {
		test.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > redisTestRetention {
		test.Fatalf("expected ttl within retention, got %s", ttl)
	}
}

func TestRedisLedgerKeepsPayload(test *testing.T) {
	test.Parallel()
	ledger, _ := newRedisLedger(test, time.Now)
	key := uniqueKey(test)
	body := `{"event":"payment.captured","payload":{"bookingId":"b-1"}}`

	outcome, err := ledger.Acquire(context.Background(), Claim{Key: key, EventType: "payment.captured", Payload: []byte(body)})
	if err != nil || outcome != OutcomeAcquired {
		test.Fatalf("acquire: %s %v", outcome, err)
	}
	stored, ok, err := ledger.Payload(context.Background(), key)
	if err != nil || !ok || string(stored) != body {
		test.Fatalf("unexpected payload %q %v %v", stored, ok, err)
	}
	if _, ok, err := ledger.Payload(context.Background(), uniqueKey(test)); err != nil || ok {
		test.Fatalf("expected no payload for unknown key, got %v %v", ok, err)
	}
}

func TestRedisLedgerMarkUnknownEntry(test *testing.T) {
	test.Parallel()
	ledger, _ := newRedisLedger(test, time.Now)

	err := ledger.MarkProcessed(context.Background(), uniqueKey(test), Result{})
	if !errors.Is(err, ErrEntryNotFound) {
		test.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestRedisLedgerConcurrentAcquire(test *testing.T) {
	test.Parallel()
	ledger, _ := newRedisLedger(test, time.Now)
	key := uniqueKey(test)

	const workers = 8
	outcomes := make(chan Outcome, workers)
	var group sync.WaitGroup
	for index := 0; index < workers; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			outcome, err := ledger.Acquire(context.Background(), Claim{Key: key, EventType: "payment.captured"})
			if err != nil {
				test.Errorf("acquire: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	group.Wait()
	close(outcomes)

	acquired := 0
	for outcome := range outcomes {
		if outcome == OutcomeAcquired {
			acquired++
		}
	}
	if acquired != 1 {
		test.Fatalf("expected exactly one acquire, got %d", acquired)
	}
}
