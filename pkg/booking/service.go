package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service contains the booking and payment domain logic over a Store.
type Service struct {
	store    Store
	nowFn    func() time.Time
	logger   OperationLogger
	queue    *writeQueue
	randomFn func(buffer []byte) error
	idFn     func() string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:    store,
		nowFn:    now,
		queue:    newWriteQueue(),
		randomFn: readRandom,
		idFn:     uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateBooking stores a new booking in draft status.
func (service *Service) CreateBooking(ctx context.Context, input NewBookingInput) (Booking, error) {
	var created Booking
	operationError := service.queue.run(ctx, func() error {
		candidate, err := service.newDraftBooking(input)
		if err != nil {
			return err
		}
		for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
			reference, err := NewReference(candidate.CreatedAt, service.randomFn)
			if err != nil {
				return err
			}
			candidate.Reference = reference
			err = service.store.InsertBooking(ctx, candidate)
			if errors.Is(err, ErrDuplicateReference) {
				continue
			}
			if err != nil {
				return err
			}
			created = candidate
			return nil
		}
		return ErrDuplicateReference
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateBooking,
		BookingID: created.ID,
		ToStatus:  StatusDraft,
		Error:     operationError,
	})
	return created, operationError
}

// GetBooking loads a booking with legacy statuses normalized.
func (service *Service) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	return service.store.GetBooking(ctx, bookingID)
}

// TransitionResult is a transition as observed inside its transaction.
type TransitionResult struct {
	Booking Booking
	From    Status
}

// Change reports the realized status change, if the transition moved the
// booking at all.
func (result TransitionResult) Change() (StatusChange, bool) {
	if result.From == "" || result.From == result.Booking.Status {
		return StatusChange{}, false
	}
	return StatusChange{
		BookingID: result.Booking.ID,
		Reference: result.Booking.Reference,
		From:      result.From,
		To:        result.Booking.Status,
		At:        result.Booking.UpdatedAt,
	}, true
}

// TransitionStatus moves a booking along the legal status graph, appending to
// its timeline and stamping the first-entry timestamp of the new status.
// extra is merged into the booking metadata.
func (service *Service) TransitionStatus(ctx context.Context, bookingID BookingID, next Status, extra map[string]any) (Booking, error) {
	result, err := service.Transition(ctx, bookingID, next, extra)
	return result.Booking, err
}

// Transition is TransitionStatus reporting the status the booking held when
// the transaction read it. A self-loop writes nothing, extra included.
func (service *Service) Transition(ctx context.Context, bookingID BookingID, next Status, extra map[string]any) (TransitionResult, error) {
	var result TransitionResult
	operationError := service.queue.run(ctx, func() error {
		if _, known := legalTransitions[next]; !known {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			current, err := transactionStore.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			result.From = current.Status
			if !CanTransition(current.Status, next) {
				return &IllegalTransitionError{From: current.Status, To: next}
			}
			if current.Status == next {
				result.Booking = current
				return nil
			}
			current.applyTransition(next, service.nowFn().UTC(), extra)
			if err := transactionStore.UpdateBooking(ctx, current); err != nil {
				return err
			}
			result.Booking = current
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationTransition,
		BookingID:  bookingID,
		FromStatus: result.From,
		ToStatus:   next,
		Error:      operationError,
	})
	if operationError != nil {
		return TransitionResult{From: result.From}, operationError
	}
	return result, nil
}

func (booking *Booking) applyTransition(next Status, now time.Time, extra map[string]any) {
	if now.Before(booking.UpdatedAt) {
		now = booking.UpdatedAt
	}
	booking.appendTimeline(next, now)
	booking.stampStatus(next, now)
	booking.Status = next
	if len(extra) > 0 {
		if booking.Metadata == nil {
			booking.Metadata = make(map[string]any, len(extra))
		}
		for key, value := range extra {
			booking.Metadata[key] = value
		}
	}
	booking.UpdatedAt = now
}

func (service *Service) newDraftBooking(input NewBookingInput) (Booking, error) {
	bookingType := strings.TrimSpace(input.Type)
	if bookingType == "" {
		return Booking{}, fmt.Errorf("%w: type is required", ErrInvalidBookingInput)
	}
	amount, err := NewAmount(input.Amount)
	if err != nil {
		return Booking{}, err
	}
	currency, err := NewCurrency(input.Currency)
	if err != nil {
		return Booking{}, err
	}
	contact, err := normalizeJSON(input.Contact, "{}", "contact")
	if err != nil {
		return Booking{}, err
	}
	travelers, err := normalizeJSON(input.Travelers, "[]", "travelers")
	if err != nil {
		return Booking{}, err
	}
	offerSnapshot, err := normalizeJSON(input.OfferSnapshot, "{}", "offerSnapshot")
	if err != nil {
		return Booking{}, err
	}
	bookingID, err := NewBookingID(service.idFn())
	if err != nil {
		return Booking{}, err
	}
	now := service.nowFn().UTC()
	draft := Booking{
		ID:            bookingID,
		UserID:        strings.TrimSpace(input.UserID),
		Type:          bookingType,
		Amount:        amount,
		Currency:      currency,
		Contact:       contact,
		Travelers:     travelers,
		OfferID:       strings.TrimSpace(input.OfferID),
		OfferSnapshot: offerSnapshot,
		Notes:         input.Notes,
		Metadata:      map[string]any{},
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	draft.appendTimeline(StatusDraft, now)
	draft.stampStatus(StatusDraft, now)
	return draft, nil
}

func normalizeJSON(raw json.RawMessage, fallback string, field string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(fallback), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: %s must be valid json", ErrInvalidBookingInput, field)
	}
	return json.RawMessage(trimmed), nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
