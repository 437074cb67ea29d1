// Package telemetry records heartbeats, analytics, automation failures and
// system logs through ordered fallback destinations. Telemetry never fails
// the caller.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// RowWriter inserts one untyped row into a table.
type RowWriter interface {
	InsertRow(ctx context.Context, table string, row map[string]any) error
}

// Record is the union of fields any telemetry shape may draw on.
type Record struct {
	Name      string
	Tag       string
	Level     string
	Source    string
	Message   string
	Event     string
	Status    string
	BookingID string
	PaymentID string
	Attempts  int
	LastError string
	Payload   json.RawMessage
	Meta      map[string]any
	At        time.Time
}

// Candidate is one destination table and the row shape written to it.
type Candidate struct {
	Table string
	Shape func(record Record) map[string]any
}

// FallbackSink tries its candidates in order until one accepts the row.
// When all fail, escalating sinks write the minimal system_logs shape.
type FallbackSink struct {
	Name       string
	Candidates []Candidate
	Escalate   bool
}

type sinkWriter struct {
	rows    RowWriter
	logger  *zap.Logger
	metrics *Metrics
	timeout time.Duration
}

// Write sends record through sink and reports the table that accepted it.
// It returns "" when the record was dropped.
func (writer *sinkWriter) Write(ctx context.Context, sink FallbackSink, record Record) string {
	for _, candidate := range sink.Candidates {
		if err := writer.insert(ctx, candidate.Table, candidate.Shape(record)); err != nil {
			writer.metrics.SinkWriteFailures.WithLabelValues(sink.Name, candidate.Table).Inc()
			writer.logger.Debug("telemetry candidate rejected",
				zap.String("sink", sink.Name),
				zap.String("table", candidate.Table),
				zap.Error(err))
			continue
		}
		return candidate.Table
	}
	if sink.Escalate {
		escalation := escalationCandidate()
		err := writer.insert(ctx, escalation.Table, escalation.Shape(record))
		if err == nil {
			return escalation.Table
		}
		writer.metrics.SinkWriteFailures.WithLabelValues(sink.Name, escalation.Table).Inc()
		writer.logger.Error("telemetry escalation failed",
			zap.String("sink", sink.Name),
			zap.String("event", record.Event),
			zap.String("booking_id", record.BookingID),
			zap.String("last_error", record.LastError),
			zap.Error(err))
	}
	writer.metrics.SinkDropped.WithLabelValues(sink.Name).Inc()
	return ""
}

func (writer *sinkWriter) insert(ctx context.Context, table string, row map[string]any) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writer.timeout)
	defer cancel()
	return writer.rows.InsertRow(writeCtx, table, row)
}

func escalationCandidate() Candidate {
	return Candidate{
		Table: tableSystemLogs,
		Shape: func(record Record) map[string]any {
			return map[string]any{
				"message": escalationMessage(record),
				"meta": map[string]any{
					"event":      record.Event,
					"booking_id": record.BookingID,
					"status":     record.Status,
					"attempts":   record.Attempts,
					"last_error": record.LastError,
				},
			}
		},
	}
}

func escalationMessage(record Record) string {
	message := "automation failure: " + record.Event
	if record.LastError != "" {
		message += ": " + record.LastError
	}
	return message
}
