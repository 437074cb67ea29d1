package gormstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yonotravel/bookingd/pkg/booking"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultObjectJSON     = "{}"
	defaultArrayJSON      = "[]"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectBooking   = "booking"
	errorSubjectPayment   = "payment"
	errorSubjectWebhook   = "webhook"
	errorSubjectRow       = "row"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeUpdate       = "update"
	errorCodeAcquire      = "acquire"
	errorCodeMark         = "mark"
)

// Store implements booking.Store using GORM.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, inTx: true})
	})
	if err != nil && isUnavailable(err) && !errors.Is(err, booking.ErrStoreUnavailable) {
		return errors.Join(booking.ErrStoreUnavailable, err)
	}
	return err
}

// Ping checks that the database answers.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (store *Store) locking(ctx context.Context) *gorm.DB {
	db := store.db.WithContext(ctx)
	if store.inTx {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (store *Store) InsertBooking(ctx context.Context, record booking.Booking) error {
	model, err := bookingModel(record)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	var model Booking
	err := store.locking(ctx).
		Where("id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	record, err := mapBooking(model)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) UpdateBooking(ctx context.Context, record booking.Booking) error {
	model, err := bookingModel(record)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ?", model.ID).
		Select("*").
		Omit("id", "reference", "created_at").
		Updates(&model)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) InsertPaymentIntent(ctx context.Context, intent booking.PaymentIntent) error {
	model := paymentModel(intent)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetPaymentIntent(ctx context.Context, paymentID booking.PaymentID) (booking.PaymentIntent, error) {
	var model PaymentIntent
	err := store.locking(ctx).
		Where("id = ?", paymentID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeGet, booking.ErrPaymentNotFound)
		}
		return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	intent, err := mapPaymentIntent(model)
	if err != nil {
		return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return intent, nil
}

func (store *Store) FindPaymentIntentByProviderPaymentID(ctx context.Context, provider string, providerPaymentID string) (booking.PaymentIntent, error) {
	if providerPaymentID == "" {
		return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeLookup, booking.ErrPaymentNotFound)
	}
	var models []PaymentIntent
	err := store.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		Order("created_at DESC").
		Limit(1).
		Find(&models).Error
	if err != nil {
		return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeLookup, err)
	}
	if len(models) == 0 {
		return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeLookup, booking.ErrPaymentNotFound)
	}
	intent, err := mapPaymentIntent(models[0])
	if err != nil {
		return booking.PaymentIntent{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return intent, nil
}

func (store *Store) ListPaymentIntents(ctx context.Context, bookingID booking.BookingID) ([]booking.PaymentIntent, error) {
	var models []PaymentIntent
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	intents := make([]booking.PaymentIntent, 0, len(models))
	for _, model := range models {
		intent, err := mapPaymentIntent(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

func (store *Store) UpdatePaymentIntent(ctx context.Context, intent booking.PaymentIntent) error {
	model := paymentModel(intent)
	result := store.db.WithContext(ctx).
		Model(&PaymentIntent{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"status":              model.Status,
			"provider_payment_id": model.ProviderPaymentID,
			"provider_order_id":   model.ProviderOrderID,
			"updated_at":          model.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, booking.ErrPaymentNotFound)
	}
	return nil
}

// InsertRow writes an untyped row into table. Values that are maps or slices
// are stored as JSON.
func (store *Store) InsertRow(ctx context.Context, table string, row map[string]any) error {
	values := make(map[string]any, len(row))
	for column, value := range row {
		switch value.(type) {
		case map[string]any, []any, []string:
			encoded, err := json.Marshal(value)
			if err != nil {
				return wrapStoreError(errorSubjectRow, errorCodeInvalid, err)
			}
			values[column] = datatypes.JSON(encoded)
		default:
			values[column] = value
		}
	}
	if err := store.db.WithContext(ctx).Table(table).Create(values).Error; err != nil {
		return wrapStoreError(errorSubjectRow, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	if isUnavailable(err) {
		err = errors.Join(booking.ErrStoreUnavailable, err)
	}
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func bookingModel(record booking.Booking) (Booking, error) {
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encodedMetadata, err := json.Marshal(metadata)
	if err != nil {
		return Booking{}, fmt.Errorf("encode metadata: %w", err)
	}
	timeline := record.StatusTimeline
	if timeline == nil {
		timeline = []booking.TimelineEntry{}
	}
	encodedTimeline, err := json.Marshal(timeline)
	if err != nil {
		return Booking{}, fmt.Errorf("encode timeline: %w", err)
	}
	return Booking{
		ID:               record.ID.String(),
		Reference:        record.Reference,
		UserID:           record.UserID,
		Type:             record.Type,
		Amount:           record.Amount.Int64(),
		Currency:         record.Currency.String(),
		Contact:          jsonOrDefault(record.Contact, defaultObjectJSON),
		Travelers:        jsonOrDefault(record.Travelers, defaultArrayJSON),
		OfferID:          record.OfferID,
		OfferSnapshot:    jsonOrDefault(record.OfferSnapshot, defaultObjectJSON),
		Notes:            record.Notes,
		Metadata:         datatypes.JSON(encodedMetadata),
		Status:           record.Status.String(),
		StatusTimeline:   datatypes.JSON(encodedTimeline),
		DraftAt:          record.DraftAt,
		PendingPaymentAt: record.PendingPaymentAt,
		PaidAt:           record.PaidAt,
		ConfirmedAt:      record.ConfirmedAt,
		FailedAt:         record.FailedAt,
		CancelledAt:      record.CancelledAt,
		CreatedAt:        record.CreatedAt.UTC(),
		UpdatedAt:        record.UpdatedAt.UTC(),
	}, nil
}

func mapBooking(model Booking) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(model.ID)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseStatus(model.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	amount, err := booking.NewAmount(model.Amount)
	if err != nil {
		return booking.Booking{}, err
	}
	currency, err := booking.NewCurrency(model.Currency)
	if err != nil {
		return booking.Booking{}, err
	}
	metadata := map[string]any{}
	if len(model.Metadata) > 0 {
		if err := json.Unmarshal(model.Metadata, &metadata); err != nil {
			return booking.Booking{}, fmt.Errorf("decode metadata: %w", err)
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
	}
	timeline, err := decodeTimeline(model.StatusTimeline)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.Booking{
		ID:               bookingID,
		Reference:        model.Reference,
		UserID:           model.UserID,
		Type:             model.Type,
		Amount:           amount,
		Currency:         currency,
		Contact:          json.RawMessage(jsonOrDefault(json.RawMessage(model.Contact), defaultObjectJSON)),
		Travelers:        json.RawMessage(jsonOrDefault(json.RawMessage(model.Travelers), defaultArrayJSON)),
		OfferID:          model.OfferID,
		OfferSnapshot:    json.RawMessage(jsonOrDefault(json.RawMessage(model.OfferSnapshot), defaultObjectJSON)),
		Notes:            model.Notes,
		Metadata:         metadata,
		Status:           status,
		StatusTimeline:   timeline,
		DraftAt:          utcPointer(model.DraftAt),
		PendingPaymentAt: utcPointer(model.PendingPaymentAt),
		PaidAt:           utcPointer(model.PaidAt),
		ConfirmedAt:      utcPointer(model.ConfirmedAt),
		FailedAt:         utcPointer(model.FailedAt),
		CancelledAt:      utcPointer(model.CancelledAt),
		CreatedAt:        model.CreatedAt.UTC(),
		UpdatedAt:        model.UpdatedAt.UTC(),
	}, nil
}

func decodeTimeline(raw datatypes.JSON) ([]booking.TimelineEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []struct {
		Status string    `json:"status"`
		At     time.Time `json:"at"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	timeline := make([]booking.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		status, err := booking.ParseStatus(row.Status)
		if err != nil {
			return nil, err
		}
		timeline = append(timeline, booking.TimelineEntry{Status: status, At: row.At.UTC()})
	}
	return timeline, nil
}

func paymentModel(intent booking.PaymentIntent) PaymentIntent {
	return PaymentIntent{
		ID:                intent.ID.String(),
		BookingID:         intent.BookingID.String(),
		Amount:            intent.Amount.Int64(),
		Currency:          intent.Currency.String(),
		Provider:          intent.Provider,
		ProviderPaymentID: optionalString(intent.ProviderPaymentID),
		ProviderOrderID:   optionalString(intent.ProviderOrderID),
		Status:            intent.Status.String(),
		CreatedAt:         intent.CreatedAt.UTC(),
		UpdatedAt:         intent.UpdatedAt.UTC(),
	}
}

func mapPaymentIntent(model PaymentIntent) (booking.PaymentIntent, error) {
	paymentID, err := booking.NewPaymentID(model.ID)
	if err != nil {
		return booking.PaymentIntent{}, err
	}
	bookingID, err := booking.NewBookingID(model.BookingID)
	if err != nil {
		return booking.PaymentIntent{}, err
	}
	amount, err := booking.NewAmount(model.Amount)
	if err != nil {
		return booking.PaymentIntent{}, err
	}
	currency, err := booking.NewCurrency(model.Currency)
	if err != nil {
		return booking.PaymentIntent{}, err
	}
	status, err := booking.ParsePaymentStatus(model.Status)
	if err != nil {
		return booking.PaymentIntent{}, err
	}
	return booking.PaymentIntent{
		ID:                paymentID,
		BookingID:         bookingID,
		Amount:            amount,
		Currency:          currency,
		Provider:          model.Provider,
		ProviderPaymentID: stringOrEmpty(model.ProviderPaymentID),
		ProviderOrderID:   stringOrEmpty(model.ProviderOrderID),
		Status:            status,
		CreatedAt:         model.CreatedAt.UTC(),
		UpdatedAt:         model.UpdatedAt.UTC(),
	}, nil
}

func jsonOrDefault(raw json.RawMessage, fallback string) datatypes.JSON {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return datatypes.JSON([]byte(fallback))
	}
	return datatypes.JSON([]byte(trimmed))
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
