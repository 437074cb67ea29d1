package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yonotravel/bookingd/internal/idempotency"
	"github.com/yonotravel/bookingd/internal/telemetry"
	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
)

const (
	// ProviderHeader selects the provider when the query string does not.
	ProviderHeader = "X-Payment-Provider"
	// MaxBodyBytes caps accepted webhook bodies.
	MaxBodyBytes = 1 << 20

	DefaultLockTimeout  = 2 * time.Second
	DefaultStoreTimeout = 5 * time.Second

	heartbeatName = "payment_webhook"

	analyticsPaymentSuccess = "payment_success"
	analyticsProcessed      = "payment_webhook_processed"

	lockAcquired     = "lock_acquired"
	lockSkipped      = "lock_skipped"
	lockBusy         = "lock_busy"
	lockUnavailable  = "lock_unavailable"
	lockNotAttempted = "lock_not_attempted"
)

// Error codes returned to providers.
const (
	CodeUnknownProvider   = "UNKNOWN_PROVIDER"
	CodeNotConfigured     = "WEBHOOK_NOT_CONFIGURED"
	CodeInvalidSignature  = "INVALID_WEBHOOK_SIGNATURE"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInvalidBody       = "INVALID_BODY"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeInvalidEvent      = "INVALID_EVENT"
	CodeInProgress        = "WEBHOOK_IN_PROGRESS"
	CodeBookingIDMissing  = "BOOKING_ID_MISSING"
	CodeBookingNotFound   = "BOOKING_NOT_FOUND"
	CodePaymentNotFound   = "PAYMENT_NOT_FOUND"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// Reconciler applies a normalized payment event.
type Reconciler interface {
	Reconcile(ctx context.Context, event booking.PaymentEvent) (booking.ReconcileResult, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLockTimeout bounds idempotency lock acquisition.
func WithLockTimeout(timeout time.Duration) Option {
	return func(handler *Handler) {
		if timeout > 0 {
			handler.lockTimeout = timeout
		}
	}
}

// WithStoreTimeout bounds reconciliation and ledger updates.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(handler *Handler) {
		if timeout > 0 {
			handler.storeTimeout = timeout
		}
	}
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(handler *Handler) {
		if logger != nil {
			handler.logger = logger
		}
	}
}

// WithClock replaces time.Now for duration measurement.
func WithClock(now func() time.Time) Option {
	return func(handler *Handler) {
		if now != nil {
			handler.nowFn = now
		}
	}
}

// Handler is the payment webhook endpoint.
type Handler struct {
	registry     *Registry
	ledger       idempotency.Ledger
	reconciler   Reconciler
	recorder     *telemetry.Recorder
	logger       *zap.Logger
	nowFn        func() time.Time
	lockTimeout  time.Duration
	storeTimeout time.Duration
}

// NewHandler wires a Handler.
func NewHandler(registry *Registry, ledger idempotency.Ledger, reconciler Reconciler, recorder *telemetry.Recorder, options ...Option) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("webhook handler: registry is nil")
	}
	if ledger == nil {
		return nil, errors.New("webhook handler: ledger is nil")
	}
	if reconciler == nil {
		return nil, errors.New("webhook handler: reconciler is nil")
	}
	if recorder == nil {
		recorder = telemetry.NewRecorder(nil, nil, nil)
	}
	handler := &Handler{
		registry:     registry,
		ledger:       ledger,
		reconciler:   reconciler,
		recorder:     recorder,
		logger:       zap.NewNop(),
		nowFn:        time.Now,
		lockTimeout:  DefaultLockTimeout,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(handler)
		}
	}
	return handler, nil
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Provider string
	Header   http.Header
	Body     []byte
}

// Response is what the provider receives.
type Response struct {
	Status int
	Body   gin.H
}

// Handle is the gin handler for POST /webhooks/payments.
func (handler *Handler) Handle(ctx *gin.Context) {
	providerName := ctx.Query("provider")
	if providerName == "" {
		providerName = ctx.GetHeader(ProviderHeader)
	}
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, MaxBodyBytes))
	if err != nil {
		response := failure(http.StatusBadRequest, CodeInvalidBody, "unable to read webhook body")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response = failure(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "webhook body too large")
		}
		handler.newRun(providerName).report(ctx.Request.Context(), response)
		handler.respond(ctx, providerName, response)
		return
	}
	response := handler.Process(ctx.Request.Context(), Delivery{
		Provider: providerName,
		Header:   ctx.Request.Header,
		Body:     body,
	})
	handler.respond(ctx, providerName, response)
}

func (handler *Handler) respond(ctx *gin.Context, providerName string, response Response) {
	label := handler.registry.Label(providerName)
	code := "OK"
	if value, ok := response.Body["code"].(string); ok {
		code = value
	}
	handler.recorder.Metrics().WebhookRequests.WithLabelValues(label, code).Inc()
	ctx.JSON(response.Status, response.Body)
}

// Process runs one delivery through verification, deduplication and
// reconciliation. It never panics. Every delivery, rejected or not, leaves one
// heartbeat and one analytics event.
func (handler *Handler) Process(ctx context.Context, delivery Delivery) (response Response) {
	started := handler.nowFn()
	run := handler.newRun(delivery.Provider)
	defer func() {
		if recovered := recover(); recovered != nil {
			handler.logger.Error("webhook handler panic",
				zap.String("provider", run.provider),
				zap.String("event_id", run.key.EventID()),
				zap.Any("panic", recovered))
			response = run.fail(ctx, fmt.Errorf("panic: %v", recovered))
		}
		run.report(ctx, response)
		handler.recorder.Metrics().WebhookDuration.WithLabelValues(handler.registry.Label(delivery.Provider)).Observe(handler.nowFn().Sub(started).Seconds())
	}()
	return handler.process(ctx, delivery, run)
}

func (handler *Handler) process(ctx context.Context, delivery Delivery, run *deliveryRun) Response {
	provider, err := handler.registry.Resolve(delivery.Provider)
	run.provider = provider.Name
	switch {
	case errors.Is(err, ErrUnknownProvider):
		return failure(http.StatusBadRequest, CodeUnknownProvider, "unknown payment provider")
	case errors.Is(err, ErrProviderNotConfigured):
		handler.logger.Error("webhook secret not configured", zap.String("provider", provider.Name))
		return failure(http.StatusServiceUnavailable, CodeNotConfigured, "webhook not configured")
	}

	var timestamp string
	if provider.TimestampHeader != "" {
		timestamp = delivery.Header.Get(provider.TimestampHeader)
	}
	if err := VerifyAt(provider, timestamp, delivery.Body, delivery.Header.Get(provider.SignatureHeader)); err != nil {
		handler.logger.Warn("webhook signature rejected", zap.String("provider", provider.Name))
		return failure(http.StatusUnauthorized, CodeInvalidSignature, "invalid webhook signature")
	}

	document, err := DecodeBody(delivery.Body)
	if err != nil {
		return failure(http.StatusBadRequest, CodeInvalidJSON, "webhook body must be a JSON object")
	}

	var eventIDHeader string
	if provider.EventIDHeader != "" {
		eventIDHeader = delivery.Header.Get(provider.EventIDHeader)
	}
	eventID := EventID(eventIDHeader, document, delivery.Body)
	run.eventType = EventType(document)
	run.bookingID = FirstString(document, bookingIDPaths...)
	run.payload = delivery.Body
	key, err := idempotency.NewKey(provider.Name, eventID)
	if err != nil {
		return failure(http.StatusBadRequest, CodeInvalidEvent, "webhook event id is invalid")
	}
	run.key = key

	switch run.acquire(ctx) {
	case idempotency.OutcomeSkipped:
		return Response{Status: http.StatusOK, Body: gin.H{"ok": true, "skipped": true, "eventId": eventID}}
	case idempotency.OutcomeBusy:
		return failure(http.StatusConflict, CodeInProgress, "webhook event is already being processed")
	}

	bookingID, err := BookingIDFrom(document)
	if err != nil {
		run.markFailed(ctx, ErrBookingIDMissing.Error())
		return failure(http.StatusBadRequest, CodeBookingIDMissing, "booking id missing from webhook payload")
	}

	event := Normalize(provider.Name, eventID, bookingID, document)
	run.outcome = event.Outcome
	result, err := handler.reconcile(ctx, event)
	if err != nil {
		return run.fail(ctx, err)
	}

	paymentID := result.Payment.ID.String()
	run.paymentID = paymentID
	run.lifecycleChanged = result.LifecycleChanged
	run.ignored = result.Ignored
	run.paymentSucceeded = event.Outcome == booking.OutcomeSucceeded && result.Payment.Status == booking.PaymentStatusSucceeded
	run.markProcessed(ctx, idempotency.Result{BookingID: bookingID.String(), PaymentID: paymentID})

	return Response{Status: http.StatusOK, Body: gin.H{
		"ok":               true,
		"eventId":          eventID,
		"bookingId":        bookingID.String(),
		"paymentId":        paymentID,
		"bookingStatus":    result.Booking.Status.String(),
		"outcome":          string(event.Outcome),
		"lifecycleChanged": result.LifecycleChanged,
		"ignored":          result.Ignored,
	}}
}

func (handler *Handler) reconcile(ctx context.Context, event booking.PaymentEvent) (booking.ReconcileResult, error) {
	reconcileCtx, cancel := context.WithTimeout(ctx, handler.storeTimeout)
	defer cancel()
	return handler.reconciler.Reconcile(reconcileCtx, event)
}

// deliveryRun accumulates what one delivery did, for the ledger and for its
// telemetry.
type deliveryRun struct {
	handler          *Handler
	provider         string
	key              idempotency.Key
	eventType        string
	bookingID        string
	paymentID        string
	payload          []byte
	locked           bool
	lockTag          string
	outcome          booking.PaymentOutcome
	lifecycleChanged bool
	ignored          bool
	paymentSucceeded bool
}

func (handler *Handler) newRun(providerName string) *deliveryRun {
	return &deliveryRun{handler: handler, provider: normalizeProviderName(providerName), lockTag: lockNotAttempted}
}

// report writes the delivery heartbeat and analytics event.
func (run *deliveryRun) report(ctx context.Context, response Response) {
	code := "OK"
	if value, ok := response.Body["code"].(string); ok {
		code = value
	}
	run.handler.recorder.Heartbeat(ctx, heartbeatName, run.lockTag, map[string]any{
		"provider":   run.provider,
		"event_id":   run.key.EventID(),
		"event_type": run.eventType,
		"status":     response.Status,
		"code":       code,
	})
	analyticsEvent := analyticsProcessed
	if run.paymentSucceeded {
		analyticsEvent = analyticsPaymentSuccess
	}
	run.handler.recorder.Analytics(ctx, analyticsEvent, map[string]any{
		"booking_id":        run.bookingID,
		"payment_id":        run.paymentID,
		"provider":          run.provider,
		"event_id":          run.key.EventID(),
		"event_type":        run.eventType,
		"outcome":           string(run.outcome),
		"status":            response.Status,
		"code":              code,
		"lock":              run.lockTag,
		"lifecycle_changed": run.lifecycleChanged,
		"ignored":           run.ignored,
	})
}

func (run *deliveryRun) acquire(ctx context.Context) idempotency.Outcome {
	lockCtx, cancel := context.WithTimeout(ctx, run.handler.lockTimeout)
	defer cancel()
	outcome, err := run.handler.ledger.Acquire(lockCtx, idempotency.Claim{
		Key:       run.key,
		EventType: run.eventType,
		BookingID: run.bookingID,
		Payload:   run.payload,
	})
	if err != nil {
		run.lockTag = lockUnavailable
		run.handler.recorder.Metrics().WebhookLockOutcomes.WithLabelValues(lockUnavailable).Inc()
		run.handler.logger.Warn("webhook lock unavailable, processing without deduplication",
			zap.String("provider", run.provider),
			zap.String("event_id", run.key.EventID()),
			zap.Error(err))
		return idempotency.OutcomeAcquired
	}
	switch outcome {
	case idempotency.OutcomeSkipped:
		run.lockTag = lockSkipped
	case idempotency.OutcomeBusy:
		run.lockTag = lockBusy
	default:
		run.lockTag = lockAcquired
		run.locked = true
	}
	run.handler.recorder.Metrics().WebhookLockOutcomes.WithLabelValues(run.lockTag).Inc()
	return outcome
}

func (run *deliveryRun) markProcessed(ctx context.Context, result idempotency.Result) {
	if !run.locked {
		return
	}
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), run.handler.storeTimeout)
	defer cancel()
	if err := run.handler.ledger.MarkProcessed(markCtx, run.key, result); err != nil {
		run.handler.logger.Warn("webhook ledger mark processed failed",
			zap.String("key", run.key.String()),
			zap.Error(err))
	}
}

func (run *deliveryRun) markFailed(ctx context.Context, reason string) {
	if !run.locked {
		return
	}
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), run.handler.storeTimeout)
	defer cancel()
	if err := run.handler.ledger.MarkFailed(markCtx, run.key, reason); err != nil {
		run.handler.logger.Warn("webhook ledger mark failed failed",
			zap.String("key", run.key.String()),
			zap.Error(err))
	}
}

// fail marks the ledger, records an automation failure when the error is not
// a validation problem, and maps err to a response.
func (run *deliveryRun) fail(ctx context.Context, err error) Response {
	run.markFailed(ctx, err.Error())
	response := errorResponse(err)
	if response.Status == http.StatusNotFound || response.Status >= http.StatusInternalServerError {
		run.handler.recorder.AutomationFailure(ctx, telemetry.AutomationFailure{
			BookingID: run.bookingID,
			Event:     heartbeatName,
			LastError: idempotency.TruncateError(err.Error()),
			Payload:   run.payload,
			Meta: map[string]any{
				"provider":   run.provider,
				"event_id":   run.key.EventID(),
				"event_type": run.eventType,
				"code":       response.Body["code"],
			},
		})
	}
	level := zap.WarnLevel
	if response.Status >= http.StatusInternalServerError {
		level = zap.ErrorLevel
	}
	run.handler.logger.Log(level, "webhook processing failed",
		zap.String("provider", run.provider),
		zap.String("event_id", run.key.EventID()),
		zap.String("booking_id", run.bookingID),
		zap.Error(err))
	return response
}

func errorResponse(err error) Response {
	switch {
	case errors.Is(err, booking.ErrBookingNotFound):
		return failure(http.StatusNotFound, CodeBookingNotFound, "booking not found")
	case errors.Is(err, booking.ErrPaymentNotFound):
		return failure(http.StatusNotFound, CodePaymentNotFound, "payment not found")
	case errors.Is(err, booking.ErrIllegalTransition):
		return failure(http.StatusBadRequest, CodeIllegalTransition, "illegal booking status transition")
	case isValidationError(err):
		return failure(http.StatusBadRequest, CodeInvalidEvent, "webhook event is invalid")
	case errors.Is(err, booking.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return failure(http.StatusServiceUnavailable, CodeStoreUnavailable, "booking store unavailable")
	default:
		return failure(http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		booking.ErrInvalidBookingID,
		booking.ErrInvalidPaymentID,
		booking.ErrInvalidPaymentStatus,
		booking.ErrInvalidStatus,
		booking.ErrInvalidAmount,
		booking.ErrInvalidCurrency,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func failure(status int, code string, message string) Response {
	return Response{Status: status, Body: gin.H{"ok": false, "code": code, "message": message}}
}
