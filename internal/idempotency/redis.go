package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix        = "bookingd:webhook:"
	redisFieldStatus      = "status"
	redisFieldEventType   = "event_type"
	redisFieldBookingID   = "booking_id"
	redisFieldPaymentID   = "payment_id"
	redisFieldAttempts    = "attempts"
	redisFieldLastError   = "last_error"
	redisFieldLockedUntil = "locked_until"
	redisFieldPayload     = "payload"
)

// RedisLedger shares the idempotency state between replicas. Acquire runs in
// an optimistic WATCH transaction on the event hash.
type RedisLedger struct {
	client    redis.UniversalClient
	nowFn     func() time.Time
	lease     time.Duration
	retention time.Duration
}

// NewRedisLedger builds a RedisLedger.
func NewRedisLedger(client redis.UniversalClient, now func() time.Time, lease time.Duration, retention time.Duration) *RedisLedger {
	if now == nil {
		now = time.Now
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisLedger{client: client, nowFn: now, lease: lease, retention: retention}
}

func redisKey(key Key) string {
	return redisKeyPrefix + key.provider + ":" + key.eventID
}

// Acquire implements Ledger.
func (ledger *RedisLedger) Acquire(ctx context.Context, claim Claim) (Outcome, error) {
	if claim.Key.provider == "" {
		return "", ErrInvalidKey
	}
	hashKey := redisKey(claim.Key)
	outcome := OutcomeAcquired
	err := ledger.client.Watch(ctx, func(transaction *redis.Tx) error {
		fields, err := transaction.HMGet(ctx, hashKey, redisFieldStatus, redisFieldLockedUntil).Result()
		if err != nil {
			return err
		}
		status, _ := fields[0].(string)
		lockedUntilRaw, _ := fields[1].(string)
		now := ledger.nowFn()
		switch status {
		case StatusProcessed:
			outcome = OutcomeSkipped
			return nil
		case StatusProcessing:
			lockedUntil, parseErr := strconv.ParseInt(lockedUntilRaw, 10, 64)
			if parseErr == nil && now.UnixMilli() < lockedUntil {
				outcome = OutcomeBusy
				return nil
			}
		}
		_, err = transaction.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			values := map[string]any{
				redisFieldStatus:      StatusProcessing,
				redisFieldEventType:   claim.EventType,
				redisFieldLockedUntil: strconv.FormatInt(now.Add(ledger.lease).UnixMilli(), 10),
			}
			if claim.BookingID != "" {
				values[redisFieldBookingID] = claim.BookingID
			}
			if len(claim.Payload) > 0 {
				values[redisFieldPayload] = string(claim.Payload)
			}
			pipe.HSet(ctx, hashKey, values)
			pipe.HIncrBy(ctx, hashKey, redisFieldAttempts, 1)
			pipe.Expire(ctx, hashKey, ledger.retention)
			return nil
		})
		return err
	}, hashKey)
	if errors.Is(err, redis.TxFailedErr) {
		return OutcomeBusy, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return outcome, nil
}

// MarkProcessed implements Ledger.
func (ledger *RedisLedger) MarkProcessed(ctx context.Context, key Key, result Result) error {
	values := map[string]any{
		redisFieldStatus:      StatusProcessed,
		redisFieldLastError:   "",
		redisFieldLockedUntil: "0",
	}
	if result.BookingID != "" {
		values[redisFieldBookingID] = result.BookingID
	}
	if result.PaymentID != "" {
		values[redisFieldPaymentID] = result.PaymentID
	}
	return ledger.update(ctx, key, values)
}

// MarkFailed implements Ledger.
func (ledger *RedisLedger) MarkFailed(ctx context.Context, key Key, reason string) error {
	return ledger.update(ctx, key, map[string]any{
		redisFieldStatus:      StatusFailed,
		redisFieldLastError:   TruncateError(reason),
		redisFieldLockedUntil: "0",
	})
}

// Payload returns the event body stored with key.
func (ledger *RedisLedger) Payload(ctx context.Context, key Key) ([]byte, bool, error) {
	payload, err := ledger.client.HGet(ctx, redisKey(key), redisFieldPayload).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return payload, true, nil
}

func (ledger *RedisLedger) update(ctx context.Context, key Key, values map[string]any) error {
	hashKey := redisKey(key)
	exists, err := ledger.client.Exists(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	if _, err := ledger.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, values)
		pipe.Expire(ctx, hashKey, ledger.retention)
		return nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}
