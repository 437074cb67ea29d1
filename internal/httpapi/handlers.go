package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
)

const (
	codeUnauthorized      = "UNAUTHORIZED"
	codeForbidden         = "FORBIDDEN"
	codeInvalidPayload    = "INVALID_PAYLOAD"
	codeBookingNotFound   = "BOOKING_NOT_FOUND"
	codePaymentNotFound   = "PAYMENT_NOT_FOUND"
	codeIllegalTransition = "ILLEGAL_TRANSITION"
	codeNotPayable        = "BOOKING_NOT_PAYABLE"
	codePaymentPending    = "PAYMENT_PENDING"
	codeUnknownProvider   = "UNKNOWN_PROVIDER"
	codeStoreUnavailable  = "STORE_UNAVAILABLE"
	codeInternal          = "INTERNAL_ERROR"
)

type httpHandler struct {
	service        *booking.Service
	checkout       *booking.Checkout
	notifiers      []booking.Notifier
	logger         *zap.Logger
	requestTimeout time.Duration
}

type createBookingRequest struct {
	Type          string          `json:"type"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Contact       json.RawMessage `json:"contact"`
	Travelers     json.RawMessage `json:"travelers"`
	OfferID       string          `json:"offerId"`
	OfferSnapshot json.RawMessage `json:"offerSnapshot"`
	Notes         string          `json:"notes"`
}

type createIntentRequest struct {
	Provider string `json:"provider"`
}

type confirmPaymentRequest struct {
	ProviderPaymentID string `json:"providerPaymentId"`
}

type transitionRequest struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"extra"`
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	claims := getClaims(ctx)
	var request createBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	created, err := handler.service.CreateBooking(requestCtx, booking.NewBookingInput{
		UserID:        claims.Subject,
		Type:          request.Type,
		Amount:        request.Amount,
		Currency:      request.Currency,
		Contact:       request.Contact,
		Travelers:     request.Travelers,
		OfferID:       request.OfferID,
		OfferSnapshot: request.OfferSnapshot,
		Notes:         request.Notes,
	})
	if err != nil {
		handler.respondError(ctx, "create booking", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"ok": true, "booking": bookingView(created)})
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, ok := handler.authorizedBooking(ctx, requestCtx, ctx.Param("id"))
	if !ok {
		return
	}
	intents, err := handler.service.ListPaymentIntents(requestCtx, record.ID)
	if err != nil {
		handler.respondError(ctx, "list payment intents", err)
		return
	}
	payments := make([]gin.H, 0, len(intents))
	for _, intent := range intents {
		payments = append(payments, paymentView(intent))
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "booking": bookingView(record), "payments": payments})
}

func (handler *httpHandler) handleCreateIntent(ctx *gin.Context) {
	var request createIntentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, ok := handler.authorizedBooking(ctx, requestCtx, ctx.Param("id"))
	if !ok {
		return
	}
	checkoutIntent, err := handler.checkout.CreateIntent(requestCtx, record.ID, request.Provider)
	if err != nil {
		handler.respondError(ctx, "create payment intent", err)
		return
	}
	handler.notify(requestCtx, checkoutIntent.Changes...)
	ctx.JSON(http.StatusOK, gin.H{
		"ok":                   true,
		"booking":              bookingView(checkoutIntent.Booking),
		"payment":              paymentView(checkoutIntent.Payment),
		"providerClientSecret": checkoutIntent.ProviderClientSecret,
		"reused":               checkoutIntent.Reused,
	})
}

func (handler *httpHandler) handleConfirmPayment(ctx *gin.Context) {
	var request confirmPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	paymentID, err := booking.NewPaymentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "confirm payment", err)
		return
	}
	intent, err := handler.service.GetPaymentIntent(requestCtx, paymentID)
	if err != nil {
		handler.respondError(ctx, "confirm payment", err)
		return
	}
	if _, ok := handler.authorizedBooking(ctx, requestCtx, intent.BookingID.String()); !ok {
		return
	}
	result, err := handler.checkout.ConfirmPayment(requestCtx, paymentID, request.ProviderPaymentID)
	if err != nil {
		handler.respondError(ctx, "confirm payment", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"booking":          bookingView(result.Booking),
		"payment":          paymentView(result.Payment),
		"lifecycleChanged": result.LifecycleChanged,
		"ignored":          result.Ignored,
	})
}

func (handler *httpHandler) handleTransition(ctx *gin.Context) {
	var request transitionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	next, err := booking.ParseStatus(request.Status)
	if err != nil {
		handler.respondError(ctx, "transition booking", err)
		return
	}
	bookingID, err := booking.NewBookingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "transition booking", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	extra := request.Extra
	if claims := getClaims(ctx); claims != nil {
		if extra == nil {
			extra = map[string]any{}
		}
		extra["statusChangedBy"] = claims.Subject
	}
	transition, err := handler.service.Transition(requestCtx, bookingID, next, extra)
	if err != nil {
		handler.respondError(ctx, "transition booking", err)
		return
	}
	if change, changed := transition.Change(); changed {
		handler.notify(requestCtx, change)
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "booking": bookingView(transition.Booking)})
}

// authorizedBooking loads the booking and checks the caller may see it. It
// writes the error response itself and reports false when the caller must stop.
func (handler *httpHandler) authorizedBooking(ctx *gin.Context, requestCtx context.Context, rawID string) (booking.Booking, bool) {
	bookingID, err := booking.NewBookingID(rawID)
	if err != nil {
		handler.respondError(ctx, "load booking", err)
		return booking.Booking{}, false
	}
	record, err := handler.service.GetBooking(requestCtx, bookingID)
	if err != nil {
		handler.respondError(ctx, "load booking", err)
		return booking.Booking{}, false
	}
	claims := getClaims(ctx)
	if claims == nil || (!claims.IsStaff() && claims.Subject != record.UserID) {
		// Foreign bookings are reported as missing.
		ctx.JSON(http.StatusNotFound, errorResponse(codeBookingNotFound, "booking not found"))
		return booking.Booking{}, false
	}
	return record, true
}

func (handler *httpHandler) notify(ctx context.Context, changes ...booking.StatusChange) {
	for _, change := range changes {
		for _, notifier := range handler.notifiers {
			notifier.NotifyStatusChange(ctx, change)
		}
	}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, action string, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(action+" failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, booking.ErrBookingNotFound):
		return http.StatusNotFound, codeBookingNotFound, "booking not found"
	case errors.Is(err, booking.ErrPaymentNotFound):
		return http.StatusNotFound, codePaymentNotFound, "payment not found"
	case errors.Is(err, booking.ErrIllegalTransition):
		return http.StatusBadRequest, codeIllegalTransition, err.Error()
	case errors.Is(err, booking.ErrBookingNotPayable):
		return http.StatusConflict, codeNotPayable, "booking is not awaiting payment"
	case errors.Is(err, booking.ErrPaymentPending):
		return http.StatusConflict, codePaymentPending, "payment not settled yet"
	case errors.Is(err, booking.ErrUnknownProvider):
		return http.StatusBadRequest, codeUnknownProvider, "unknown payment provider"
	case errors.Is(err, booking.ErrInvalidBookingID),
		errors.Is(err, booking.ErrInvalidPaymentID),
		errors.Is(err, booking.ErrInvalidStatus),
		errors.Is(err, booking.ErrInvalidAmount),
		errors.Is(err, booking.ErrInvalidCurrency),
		errors.Is(err, booking.ErrInvalidBookingInput):
		return http.StatusBadRequest, codeInvalidPayload, err.Error()
	case errors.Is(err, booking.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeStoreUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"ok": false, "code": code, "message": message}
}

func bookingView(record booking.Booking) gin.H {
	return gin.H{
		"id":               record.ID.String(),
		"reference":        record.Reference,
		"userId":           record.UserID,
		"type":             record.Type,
		"amount":           record.Amount.Int64(),
		"currency":         record.Currency.String(),
		"contact":          rawOrNull(record.Contact),
		"travelers":        rawOrNull(record.Travelers),
		"offerId":          record.OfferID,
		"offerSnapshot":    rawOrNull(record.OfferSnapshot),
		"notes":            record.Notes,
		"metadata":         record.Metadata,
		"status":           record.Status.String(),
		"statusTimeline":   record.StatusTimeline,
		"draftAt":          record.DraftAt,
		"pendingPaymentAt": record.PendingPaymentAt,
		"paidAt":           record.PaidAt,
		"confirmedAt":      record.ConfirmedAt,
		"failedAt":         record.FailedAt,
		"cancelledAt":      record.CancelledAt,
		"createdAt":        record.CreatedAt,
		"updatedAt":        record.UpdatedAt,
	}
}

func paymentView(intent booking.PaymentIntent) gin.H {
	return gin.H{
		"id":                intent.ID.String(),
		"bookingId":         intent.BookingID.String(),
		"amount":            intent.Amount.Int64(),
		"currency":          intent.Currency.String(),
		"provider":          intent.Provider,
		"providerPaymentId": intent.ProviderPaymentID,
		"providerOrderId":   intent.ProviderOrderID,
		"status":            intent.Status.String(),
		"createdAt":         intent.CreatedAt,
		"updatedAt":         intent.UpdatedAt,
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
