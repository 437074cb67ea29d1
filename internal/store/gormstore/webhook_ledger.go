package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yonotravel/bookingd/internal/idempotency"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookLedger implements idempotency.Ledger on the payment_webhook_events
// table. The unique (provider, event_id) index is the lock.
type WebhookLedger struct {
	db    *gorm.DB
	nowFn func() time.Time
	lease time.Duration
}

// NewWebhookLedger builds a WebhookLedger.
func NewWebhookLedger(db *gorm.DB, now func() time.Time, lease time.Duration) *WebhookLedger {
	if now == nil {
		now = time.Now
	}
	if lease <= 0 {
		lease = idempotency.DefaultLease
	}
	return &WebhookLedger{db: db, nowFn: now, lease: lease}
}

// Acquire implements idempotency.Ledger.
func (ledger *WebhookLedger) Acquire(ctx context.Context, claim idempotency.Claim) (idempotency.Outcome, error) {
	key := claim.Key
	if key.Provider() == "" {
		return "", idempotency.ErrInvalidKey
	}
	now := ledger.nowFn().UTC()
	lockedUntil := now.Add(ledger.lease)
	payload := datatypes.JSON([]byte(defaultObjectJSON))
	if len(claim.Payload) > 0 {
		payload = datatypes.JSON(claim.Payload)
	}
	row := WebhookEvent{
		Provider:    key.Provider(),
		EventID:     key.EventID(),
		EventType:   claim.EventType,
		BookingID:   optionalString(claim.BookingID),
		Status:      idempotency.StatusProcessing,
		Attempts:    1,
		Payload:     payload,
		LockedUntil: &lockedUntil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inserted := ledger.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if inserted.Error != nil {
		return "", ledgerError(errorCodeAcquire, inserted.Error)
	}
	if inserted.RowsAffected == 1 {
		return idempotency.OutcomeAcquired, nil
	}

	reacquired := ledger.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("provider = ? AND event_id = ?", key.Provider(), key.EventID()).
		Where("status = ? OR (status = ? AND (locked_until IS NULL OR locked_until < ?))",
			idempotency.StatusFailed, idempotency.StatusProcessing, now).
		Updates(map[string]any{
			"status":       idempotency.StatusProcessing,
			"attempts":     gorm.Expr("attempts + 1"),
			"event_type":   claim.EventType,
			"locked_until": lockedUntil,
			"updated_at":   now,
		})
	if reacquired.Error != nil {
		return "", ledgerError(errorCodeAcquire, reacquired.Error)
	}
	if reacquired.RowsAffected == 1 {
		return idempotency.OutcomeAcquired, nil
	}

	var existing WebhookEvent
	err := ledger.db.WithContext(ctx).
		Select("status").
		Where("provider = ? AND event_id = ?", key.Provider(), key.EventID()).
		Take(&existing).Error
	if err != nil {
		return "", ledgerError(errorCodeAcquire, err)
	}
	if existing.Status == idempotency.StatusProcessed {
		return idempotency.OutcomeSkipped, nil
	}
	return idempotency.OutcomeBusy, nil
}

// MarkProcessed implements idempotency.Ledger.
func (ledger *WebhookLedger) MarkProcessed(ctx context.Context, key idempotency.Key, result idempotency.Result) error {
	now := ledger.nowFn().UTC()
	updates := map[string]any{
		"status":       idempotency.StatusProcessed,
		"last_error":   nil,
		"locked_until": nil,
		"processed_at": now,
		"updated_at":   now,
	}
	if result.BookingID != "" {
		updates["booking_id"] = result.BookingID
	}
	if result.PaymentID != "" {
		updates["payment_id"] = result.PaymentID
	}
	return ledger.mark(ctx, key, updates)
}

// MarkFailed implements idempotency.Ledger.
func (ledger *WebhookLedger) MarkFailed(ctx context.Context, key idempotency.Key, reason string) error {
	return ledger.mark(ctx, key, map[string]any{
		"status":       idempotency.StatusFailed,
		"last_error":   idempotency.TruncateError(reason),
		"locked_until": nil,
		"updated_at":   ledger.nowFn().UTC(),
	})
}

func (ledger *WebhookLedger) mark(ctx context.Context, key idempotency.Key, updates map[string]any) error {
	result := ledger.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("provider = ? AND event_id = ?", key.Provider(), key.EventID()).
		Updates(updates)
	if result.Error != nil {
		return ledgerError(errorCodeMark, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledgerError(errorCodeMark, fmt.Errorf("%w: %s", idempotency.ErrEntryNotFound, key))
	}
	return nil
}

// Entry loads the stored row for key.
func (ledger *WebhookLedger) Entry(ctx context.Context, key idempotency.Key) (WebhookEvent, error) {
	var row WebhookEvent
	err := ledger.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", key.Provider(), key.EventID()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WebhookEvent{}, ledgerError(errorCodeGet, fmt.Errorf("%w: %s", idempotency.ErrEntryNotFound, key))
	}
	if err != nil {
		return WebhookEvent{}, ledgerError(errorCodeGet, err)
	}
	return row, nil
}

func ledgerError(code string, err error) error {
	if isUnavailable(err) {
		err = errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return wrapStoreError(errorSubjectWebhook, code, err)
}
