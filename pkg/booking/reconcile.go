package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PaymentOutcome is the normalized result a provider reports for a payment.
type PaymentOutcome string

const (
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
	OutcomeRefunded  PaymentOutcome = "refunded"
	OutcomePending   PaymentOutcome = "pending"
	OutcomeIgnored   PaymentOutcome = "ignored"
)

// PaymentEvent is a provider-independent payment notification.
type PaymentEvent struct {
	Provider          string
	EventID           string
	EventType         string
	BookingID         BookingID
	PaymentID         PaymentID
	ProviderPaymentID string
	ProviderOrderID   string
	Outcome           PaymentOutcome
	CapturedAmount    int64
	RefundedAmount    int64
	Currency          string
}

// StatusChange describes one realized booking transition.
type StatusChange struct {
	BookingID BookingID
	Reference string
	From      Status
	To        Status
	At        time.Time
}

// Notifier receives realized status changes. Implementations are best-effort
// and must not block for long.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, change StatusChange)
}

// ReconcileResult reports what a reconciliation changed.
type ReconcileResult struct {
	Booking          Booking
	Payment          PaymentIntent
	PaymentResolved  bool
	LifecycleChanged bool
	Ignored          bool
	Changes          []StatusChange
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithNotifier adds a status change notifier. Notifiers run in the order added.
func WithNotifier(notifier Notifier) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if notifier != nil {
			reconciler.notifiers = append(reconciler.notifiers, notifier)
		}
	}
}

// Reconciler converges payment intents and bookings onto provider outcomes.
type Reconciler struct {
	service   *Service
	notifiers []Notifier
}

// NewReconciler wires a Reconciler over a Service.
func NewReconciler(service *Service, options ...ReconcilerOption) (*Reconciler, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	reconciler := &Reconciler{service: service}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	return reconciler, nil
}

var successPath = []Status{StatusPendingPayment, StatusPaid, StatusConfirmed}

var progressRank = map[Status]int{
	StatusDraft:          0,
	StatusPendingPayment: 1,
	StatusPaid:           2,
	StatusConfirmed:      3,
}

// Reconcile applies a payment event. Transitions rejected by the status graph
// are absorbed and reported through Ignored.
func (reconciler *Reconciler) Reconcile(ctx context.Context, event PaymentEvent) (ReconcileResult, error) {
	result, err := reconciler.reconcile(ctx, event)
	logEntry := OperationLog{
		Operation: operationReconcile,
		BookingID: event.BookingID,
		PaymentID: result.Payment.ID,
		ToStatus:  result.Booking.Status,
		Error:     err,
	}
	if err == nil && result.Ignored {
		logEntry.Status = operationStatusIgnored
	}
	reconciler.service.logOperation(ctx, logEntry)
	return result, err
}

func (reconciler *Reconciler) reconcile(ctx context.Context, event PaymentEvent) (ReconcileResult, error) {
	booking, err := reconciler.service.GetBooking(ctx, event.BookingID)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{Booking: booking}
	if event.Outcome == OutcomePending || event.Outcome == OutcomeIgnored || event.Outcome == "" {
		return result, nil
	}

	intent, err := reconciler.resolveIntent(ctx, booking, event)
	if err != nil {
		return result, err
	}
	result.Payment = intent
	result.PaymentResolved = true

	switch event.Outcome {
	case OutcomeSucceeded:
		if err := reconciler.updateIntent(ctx, &result, event, PaymentStatusSucceeded); err != nil {
			return result, err
		}
		for _, step := range successPath {
			if result.Booking.Status.IsTerminal() {
				result.Ignored = true
				break
			}
			if progressRank[result.Booking.Status] >= progressRank[step] {
				continue
			}
			if err := reconciler.advance(ctx, &result, step); err != nil {
				return result, err
			}
			if result.Ignored {
				break
			}
		}
	case OutcomeFailed:
		if result.Payment.Status != PaymentStatusSucceeded {
			if err := reconciler.updateIntent(ctx, &result, event, PaymentStatusFailed); err != nil {
				return result, err
			}
		}
		switch result.Booking.Status {
		case StatusDraft, StatusPendingPayment:
			if err := reconciler.advance(ctx, &result, StatusFailed); err != nil {
				return result, err
			}
		case StatusFailed:
		default:
			result.Ignored = true
		}
	case OutcomeRefunded:
		if result.Booking.Status == StatusCancelled {
			return result, nil
		}
		if err := reconciler.advance(ctx, &result, StatusCancelled); err != nil {
			return result, err
		}
	default:
		return result, fmt.Errorf("%w: unsupported outcome %q", ErrInvalidPaymentStatus, event.Outcome)
	}
	return result, nil
}

func (reconciler *Reconciler) resolveIntent(ctx context.Context, booking Booking, event PaymentEvent) (PaymentIntent, error) {
	if !event.PaymentID.IsZero() {
		intent, err := reconciler.service.GetPaymentIntent(ctx, event.PaymentID)
		if err != nil {
			return PaymentIntent{}, err
		}
		if intent.BookingID != booking.ID {
			return PaymentIntent{}, fmt.Errorf("%w: %s does not belong to booking %s", ErrPaymentNotFound, intent.ID, booking.ID)
		}
		return intent, nil
	}
	if event.ProviderPaymentID != "" {
		intent, err := reconciler.service.FindPaymentIntentByProviderPaymentID(ctx, event.Provider, event.ProviderPaymentID)
		if err == nil && intent.BookingID == booking.ID {
			return intent, nil
		}
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return PaymentIntent{}, err
		}
	}
	intents, err := reconciler.service.ListPaymentIntents(ctx, booking.ID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if len(intents) == 0 {
		return PaymentIntent{}, fmt.Errorf("%w: no intent for booking %s", ErrPaymentNotFound, booking.ID)
	}
	return intents[len(intents)-1], nil
}

func (reconciler *Reconciler) updateIntent(ctx context.Context, result *ReconcileResult, event PaymentEvent, status PaymentStatus) error {
	current := result.Payment
	unchangedReference := event.ProviderPaymentID == "" || event.ProviderPaymentID == current.ProviderPaymentID
	unchangedOrder := event.ProviderOrderID == "" || event.ProviderOrderID == current.ProviderOrderID
	if current.Status == status && unchangedReference && unchangedOrder {
		return nil
	}
	updated, found, err := reconciler.service.UpdatePayment(ctx, current.ID, PaymentUpdate{
		Status:            status,
		ProviderPaymentID: event.ProviderPaymentID,
		ProviderOrderID:   event.ProviderOrderID,
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, current.ID)
	}
	result.Payment = updated
	return nil
}

func (reconciler *Reconciler) advance(ctx context.Context, result *ReconcileResult, next Status) error {
	extra := map[string]any{metadataKeyPaymentID: result.Payment.ID.String()}
	if result.Payment.ProviderPaymentID != "" {
		extra[metadataKeyProviderRef] = result.Payment.ProviderPaymentID
	}
	transition, err := reconciler.service.Transition(ctx, result.Booking.ID, next, extra)
	if errors.Is(err, ErrIllegalTransition) {
		result.Ignored = true
		if latest, loadErr := reconciler.service.GetBooking(ctx, result.Booking.ID); loadErr == nil {
			result.Booking = latest
		}
		return nil
	}
	if err != nil {
		return err
	}
	result.Booking = transition.Booking
	change, changed := transition.Change()
	if !changed {
		return nil
	}
	result.LifecycleChanged = true
	result.Changes = append(result.Changes, change)
	for _, notifier := range reconciler.notifiers {
		notifier.NotifyStatusChange(ctx, change)
	}
	return nil
}
