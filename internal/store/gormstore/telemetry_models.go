package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// The telemetry tables are written through RowWriter with untyped rows. These
// models only exist so local databases can be migrated with the preferred
// shapes.

type SystemHeartbeat struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"not null;index"`
	Tag       string
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (SystemHeartbeat) TableName() string { return "system_heartbeats" }

type SystemLog struct {
	ID        uint `gorm:"primaryKey"`
	Level     string
	Source    string
	Message   string
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (SystemLog) TableName() string { return "system_logs" }

type AnalyticsEvent struct {
	ID         uint   `gorm:"primaryKey"`
	EventName  string `gorm:"not null;index"`
	BookingID  string
	PaymentID  string
	Properties datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (AnalyticsEvent) TableName() string { return "analytics_events" }

type AutomationFailure struct {
	ID        uint   `gorm:"primaryKey"`
	BookingID string `gorm:"index"`
	Event     string `gorm:"not null"`
	Status    string `gorm:"not null"`
	Attempts  int
	LastError string
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (AutomationFailure) TableName() string { return "automation_failures" }

// TelemetryModels lists the telemetry tables with their preferred shapes.
func TelemetryModels() []any {
	return []any{&SystemHeartbeat{}, &SystemLog{}, &AnalyticsEvent{}, &AutomationFailure{}}
}
