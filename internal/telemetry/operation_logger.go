package telemetry

import (
	"context"

	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
)

// OperationLogger reports booking operations to zap and prometheus.
type OperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewOperationLogger builds an OperationLogger.
func NewOperationLogger(logger *zap.Logger, metrics *Metrics) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &OperationLogger{logger: logger, metrics: metrics}
}

// LogOperation implements booking.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.BookingID.IsZero() {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if !entry.PaymentID.IsZero() {
		fields = append(fields, zap.String("payment_id", entry.PaymentID.String()))
	}
	if entry.FromStatus != "" {
		fields = append(fields, zap.String("from_status", entry.FromStatus.String()))
	}
	if entry.ToStatus != "" {
		fields = append(fields, zap.String("to_status", entry.ToStatus.String()))
	}
	if entry.Error != nil {
		operationLogger.metrics.OperationFailures.WithLabelValues(entry.Operation).Inc()
		operationLogger.logger.Warn("booking operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Debug("booking operation", fields...)
}

// NotifyStatusChange implements booking.Notifier by counting the transition.
func (operationLogger *OperationLogger) NotifyStatusChange(_ context.Context, change booking.StatusChange) {
	operationLogger.metrics.BookingTransitions.WithLabelValues(change.To.String()).Inc()
	operationLogger.logger.Info("booking status changed",
		zap.String("booking_id", change.BookingID.String()),
		zap.String("reference", change.Reference),
		zap.String("from_status", change.From.String()),
		zap.String("to_status", change.To.String()),
		zap.Time("at", change.At))
}
