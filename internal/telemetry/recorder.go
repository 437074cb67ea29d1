package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	tableSystemHeartbeats   = "system_heartbeats"
	tableSystemLogs         = "system_logs"
	tableAnalyticsEvents    = "analytics_events"
	tableAutomationFailures = "automation_failures"
	tableAutomationLogs     = "automation_logs"

	sinkHeartbeat         = "heartbeat"
	sinkAnalytics         = "analytics"
	sinkAutomationFailure = "automation_failure"
	sinkSystemLog         = "system_log"

	// DefaultWriteTimeout bounds every telemetry write.
	DefaultWriteTimeout = 2 * time.Second

	statusFailed = "failed"
)

// AutomationFailure describes a background operation that did not complete.
type AutomationFailure struct {
	BookingID string
	Event     string
	Attempts  int
	LastError string
	Payload   json.RawMessage
	Meta      map[string]any
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(timeout time.Duration) RecorderOption {
	return func(recorder *Recorder) {
		if timeout > 0 {
			recorder.writer.timeout = timeout
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(recorder *Recorder) {
		if now != nil {
			recorder.nowFn = now
		}
	}
}

// Recorder writes telemetry through the fallback sinks.
type Recorder struct {
	writer *sinkWriter
	nowFn  func() time.Time
}

// NewRecorder builds a Recorder. A nil RowWriter discards every record.
func NewRecorder(rows RowWriter, logger *zap.Logger, metrics *Metrics, options ...RecorderOption) *Recorder {
	if rows == nil {
		rows = discardWriter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	recorder := &Recorder{
		writer: &sinkWriter{rows: rows, logger: logger, metrics: metrics, timeout: DefaultWriteTimeout},
		nowFn:  time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(recorder)
		}
	}
	return recorder
}

// Heartbeat records that a named job ran.
func (recorder *Recorder) Heartbeat(ctx context.Context, name string, tag string, meta map[string]any) string {
	return recorder.writer.Write(ctx, heartbeatSink, Record{
		Name: name,
		Tag:  tag,
		Meta: meta,
		At:   recorder.now(),
	})
}

// Analytics records a product analytics event. booking_id and payment_id
// properties are lifted into their own columns when present.
func (recorder *Recorder) Analytics(ctx context.Context, event string, properties map[string]any) string {
	record := Record{Event: event, Meta: properties, At: recorder.now()}
	if value, ok := properties["booking_id"].(string); ok {
		record.BookingID = value
	}
	if value, ok := properties["payment_id"].(string); ok {
		record.PaymentID = value
	}
	return recorder.writer.Write(ctx, analyticsSink, record)
}

// AutomationFailure records a failed automation, escalating to system_logs
// when no automation table accepts it.
func (recorder *Recorder) AutomationFailure(ctx context.Context, failure AutomationFailure) string {
	attempts := failure.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return recorder.writer.Write(ctx, automationFailureSink, Record{
		Event:     failure.Event,
		Status:    statusFailed,
		BookingID: failure.BookingID,
		Attempts:  attempts,
		LastError: failure.LastError,
		Payload:   failure.Payload,
		Meta:      failure.Meta,
		At:        recorder.now(),
	})
}

// SystemLog records an operational log line.
func (recorder *Recorder) SystemLog(ctx context.Context, level string, source string, message string, meta map[string]any) string {
	return recorder.writer.Write(ctx, systemLogSink, Record{
		Level:   level,
		Source:  source,
		Message: message,
		Meta:    meta,
		At:      recorder.now(),
	})
}

// Metrics returns the counters the recorder reports to.
func (recorder *Recorder) Metrics() *Metrics {
	return recorder.writer.metrics
}

func (recorder *Recorder) now() time.Time {
	return recorder.nowFn().UTC()
}

var heartbeatSink = FallbackSink{
	Name: sinkHeartbeat,
	Candidates: []Candidate{
		{Table: tableSystemHeartbeats, Shape: func(record Record) map[string]any {
			return map[string]any{
				"name":       record.Name,
				"tag":        record.Tag,
				"meta":       metaOrEmpty(record.Meta),
				"created_at": record.At,
			}
		}},
		{Table: tableSystemLogs, Shape: func(record Record) map[string]any {
			return map[string]any{
				"level":      "info",
				"source":     record.Name,
				"message":    "heartbeat: " + record.Tag,
				"meta":       metaOrEmpty(record.Meta),
				"created_at": record.At,
			}
		}},
	},
}

var analyticsSink = FallbackSink{
	Name: sinkAnalytics,
	Candidates: []Candidate{
		{Table: tableAnalyticsEvents, Shape: func(record Record) map[string]any {
			return map[string]any{
				"event_name": record.Event,
				"booking_id": record.BookingID,
				"payment_id": record.PaymentID,
				"properties": metaOrEmpty(record.Meta),
				"created_at": record.At,
			}
		}},
		{Table: tableAnalyticsEvents, Shape: func(record Record) map[string]any {
			return map[string]any{
				"event_name": record.Event,
				"properties": metaOrEmpty(record.Meta),
			}
		}},
	},
}

var automationFailureSink = FallbackSink{
	Name:     sinkAutomationFailure,
	Escalate: true,
	Candidates: []Candidate{
		{Table: tableAutomationFailures, Shape: func(record Record) map[string]any {
			return map[string]any{
				"booking_id": record.BookingID,
				"event":      record.Event,
				"status":     record.Status,
				"attempts":   record.Attempts,
				"last_error": record.LastError,
				"payload":    payloadOrEmpty(record.Payload),
				"meta":       metaOrEmpty(record.Meta),
				"created_at": record.At,
			}
		}},
		{Table: tableAutomationLogs, Shape: func(record Record) map[string]any {
			return map[string]any{
				"booking_id": record.BookingID,
				"event":      record.Event,
				"status":     record.Status,
				"error":      record.LastError,
				"payload":    payloadOrEmpty(record.Payload),
				"created_at": record.At,
			}
		}},
		{Table: tableAutomationLogs, Shape: func(record Record) map[string]any {
			return map[string]any{
				"event":  record.Event,
				"status": record.Status,
				"meta": map[string]any{
					"booking_id": record.BookingID,
					"attempts":   record.Attempts,
					"last_error": record.LastError,
				},
			}
		}},
	},
}

var systemLogSink = FallbackSink{
	Name: sinkSystemLog,
	Candidates: []Candidate{
		{Table: tableSystemLogs, Shape: func(record Record) map[string]any {
			return map[string]any{
				"level":      record.Level,
				"source":     record.Source,
				"message":    record.Message,
				"meta":       metaOrEmpty(record.Meta),
				"created_at": record.At,
			}
		}},
		{Table: tableSystemLogs, Shape: func(record Record) map[string]any {
			return map[string]any{
				"message": record.Message,
				"meta":    metaOrEmpty(record.Meta),
			}
		}},
	},
}

func metaOrEmpty(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}

func payloadOrEmpty(payload json.RawMessage) map[string]any {
	decoded := map[string]any{}
	if len(payload) == 0 {
		return decoded
	}
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded == nil {
		return map[string]any{"raw": string(payload)}
	}
	return decoded
}

type discardWriter struct{}

func (discardWriter) InsertRow(context.Context, string, map[string]any) error {
	return nil
}
