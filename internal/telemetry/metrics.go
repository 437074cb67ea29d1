package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "bookingd"

// Metrics holds the service counters.
type Metrics struct {
	WebhookRequests     *prometheus.CounterVec
	WebhookLockOutcomes *prometheus.CounterVec
	BookingTransitions  *prometheus.CounterVec
	OperationFailures   *prometheus.CounterVec
	SinkWriteFailures   *prometheus.CounterVec
	SinkDropped         *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec
}

// NewMetrics registers the counters with registerer. A nil registerer leaves
// them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		WebhookRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_requests_total",
				Help:      "Payment webhook deliveries by provider and response code",
			},
			[]string{"provider", "code"},
		),
		WebhookLockOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_lock_outcomes_total",
				Help:      "Idempotency lock outcomes for webhook deliveries",
			},
			[]string{"outcome"},
		),
		BookingTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "booking_transitions_total",
				Help:      "Realized booking status transitions",
			},
			[]string{"to"},
		),
		OperationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operation_failures_total",
				Help:      "Failed booking and payment operations",
			},
			[]string{"operation"},
		),
		SinkWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "telemetry_write_failures_total",
				Help:      "Failed telemetry writes per sink and destination table",
			},
			[]string{"sink", "table"},
		),
		SinkDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "telemetry_dropped_total",
				Help:      "Telemetry records no destination accepted",
			},
			[]string{"sink"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_duration_seconds",
				Help:      "Payment webhook handling time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}
