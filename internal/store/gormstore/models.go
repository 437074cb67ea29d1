package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Booking mirrors the bookings table.
type Booking struct {
	ID               string         `gorm:"primaryKey"`
	Reference        string         `gorm:"not null;uniqueIndex:idx_bookings_reference"`
	UserID           string         `gorm:"index:idx_bookings_user"`
	Type             string         `gorm:"not null"`
	Amount           int64          `gorm:"not null"`
	Currency         string         `gorm:"size:3;not null"`
	Contact          datatypes.JSON `gorm:"type:jsonb;not null"`
	Travelers        datatypes.JSON `gorm:"type:jsonb;not null"`
	OfferID          string
	OfferSnapshot    datatypes.JSON `gorm:"type:jsonb;not null"`
	Notes            string
	Metadata         datatypes.JSON `gorm:"type:jsonb;not null"`
	Status           string         `gorm:"not null;index:idx_bookings_status"`
	StatusTimeline   datatypes.JSON `gorm:"type:jsonb;not null"`
	DraftAt          *time.Time
	PendingPaymentAt *time.Time
	PaidAt           *time.Time
	ConfirmedAt      *time.Time
	FailedAt         *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Booking) TableName() string { return "bookings" }

// PaymentIntent mirrors the payments table.
type PaymentIntent struct {
	ID                string    `gorm:"primaryKey"`
	BookingID         string    `gorm:"not null;index:idx_payments_booking_created,priority:1"`
	Amount            int64     `gorm:"not null"`
	Currency          string    `gorm:"size:3;not null"`
	Provider          string    `gorm:"not null;index:idx_payments_provider_reference,priority:1"`
	ProviderPaymentID *string   `gorm:"index:idx_payments_provider_reference,priority:2"`
	ProviderOrderID   *string   `gorm:"size:255"`
	Status            string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime:false;index:idx_payments_booking_created,priority:2"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (PaymentIntent) TableName() string { return "payments" }

// WebhookEvent mirrors the payment_webhook_events table.
type WebhookEvent struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	Provider    string         `gorm:"not null;uniqueIndex:idx_webhook_events_provider_event,priority:1"`
	EventID     string         `gorm:"not null;uniqueIndex:idx_webhook_events_provider_event,priority:2"`
	EventType   string         `gorm:"size:100"`
	BookingID   *string        `gorm:"index:idx_webhook_events_booking"`
	PaymentID   *string        `gorm:"index:idx_webhook_events_payment"`
	Status      string         `gorm:"not null"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   *string        `gorm:"size:500"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	LockedUntil *time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (WebhookEvent) TableName() string { return "payment_webhook_events" }

func (event *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return nil
}

// Models lists the tables owned by this store, in migration order.
func Models() []any {
	return []any{&Booking{}, &PaymentIntent{}, &WebhookEvent{}}
}
