package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CheckoutIntent is the result of starting or resuming a payment.
type CheckoutIntent struct {
	Booking              Booking
	Payment              PaymentIntent
	ProviderClientSecret string
	Reused               bool
	Changes              []StatusChange
}

// Checkout drives the client-initiated payment flow through a PaymentProvider.
type Checkout struct {
	service         *Service
	reconciler      *Reconciler
	providers       map[string]PaymentProvider
	defaultProvider string
}

// NewCheckout wires a Checkout. The first provider is the default.
func NewCheckout(service *Service, reconciler *Reconciler, providers ...PaymentProvider) (*Checkout, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	if reconciler == nil {
		return nil, fmt.Errorf("%w: reconciler dependency is nil", ErrInvalidServiceConfig)
	}
	checkout := &Checkout{
		service:    service,
		reconciler: reconciler,
		providers:  make(map[string]PaymentProvider, len(providers)),
	}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			return nil, fmt.Errorf("%w: provider name is empty", ErrInvalidServiceConfig)
		}
		if checkout.defaultProvider == "" {
			checkout.defaultProvider = name
		}
		checkout.providers[name] = provider
	}
	if checkout.defaultProvider == "" {
		return nil, fmt.Errorf("%w: no payment provider configured", ErrInvalidServiceConfig)
	}
	return checkout, nil
}

// Providers lists the configured provider names.
func (checkout *Checkout) Providers() []string {
	names := make([]string, 0, len(checkout.providers))
	for name := range checkout.providers {
		names = append(names, name)
	}
	return names
}

func (checkout *Checkout) provider(name string) (PaymentProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		normalized = checkout.defaultProvider
	}
	provider, ok := checkout.providers[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return provider, nil
}

// CreateIntent starts collection for a draft or pending_payment booking. An
// outstanding requires_action intent of the same provider is returned instead
// of creating a second one.
func (checkout *Checkout) CreateIntent(ctx context.Context, bookingID BookingID, providerName string) (CheckoutIntent, error) {
	provider, err := checkout.provider(providerName)
	if err != nil {
		return CheckoutIntent{}, err
	}
	booking, err := checkout.service.GetBooking(ctx, bookingID)
	if err != nil {
		return CheckoutIntent{}, err
	}
	if booking.Status != StatusDraft && booking.Status != StatusPendingPayment {
		return CheckoutIntent{}, fmt.Errorf("%w: booking %s is %s", ErrBookingNotPayable, booking.ID, booking.Status)
	}

	intents, err := checkout.service.ListPaymentIntents(ctx, bookingID)
	if err != nil {
		return CheckoutIntent{}, err
	}
	for index := len(intents) - 1; index >= 0; index-- {
		existing := intents[index]
		if existing.Provider != provider.Name() || existing.Status != PaymentStatusRequiresAction {
			continue
		}
		transition, err := checkout.service.Transition(ctx, bookingID, StatusPendingPayment, nil)
		if err != nil {
			return CheckoutIntent{}, err
		}
		return CheckoutIntent{
			Booking: transition.Booking,
			Payment: existing,
			Reused:  true,
			Changes: changesOf(transition),
		}, nil
	}

	providerIntent, err := provider.CreateIntent(ctx, CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    booking.Amount,
		Currency:  booking.Currency,
	})
	if err != nil {
		return CheckoutIntent{}, err
	}
	intent, err := checkout.service.CreatePaymentIntent(ctx, NewPaymentIntentInput{
		BookingID:         booking.ID,
		Amount:            booking.Amount.Int64(),
		Currency:          booking.Currency.String(),
		Provider:          provider.Name(),
		ProviderPaymentID: providerIntent.ProviderPaymentID,
	})
	if err != nil {
		return CheckoutIntent{}, err
	}
	transition, err := checkout.service.Transition(ctx, bookingID, StatusPendingPayment, map[string]any{
		metadataKeyPaymentID: intent.ID.String(),
	})
	if err != nil {
		return CheckoutIntent{}, err
	}
	return CheckoutIntent{
		Booking:              transition.Booking,
		Payment:              intent,
		ProviderClientSecret: providerIntent.ProviderClientSecret,
		Changes:              changesOf(transition),
	}, nil
}

func changesOf(transition TransitionResult) []StatusChange {
	change, changed := transition.Change()
	if !changed {
		return nil
	}
	return []StatusChange{change}
}

// ConfirmPayment asks the intent's provider for the outcome and reconciles it.
// ErrPaymentPending is returned while the provider has no final answer.
func (checkout *Checkout) ConfirmPayment(ctx context.Context, paymentID PaymentID, providerPaymentID string) (ReconcileResult, error) {
	intent, err := checkout.service.GetPaymentIntent(ctx, paymentID)
	if err != nil {
		return ReconcileResult{}, err
	}
	provider, err := checkout.provider(intent.Provider)
	if err != nil {
		return ReconcileResult{}, err
	}
	confirmation, err := provider.ConfirmPayment(ctx, ConfirmPaymentRequest{
		BookingID:         intent.BookingID,
		PaymentIntent:     intent,
		ProviderPaymentID: providerPaymentID,
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	var outcome PaymentOutcome
	switch confirmation.Status {
	case PaymentStatusSucceeded:
		outcome = OutcomeSucceeded
	case PaymentStatusFailed:
		outcome = OutcomeFailed
	case PaymentStatusRequiresAction:
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrPaymentPending, intent.ID)
	default:
		return ReconcileResult{}, fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, confirmation.Status)
	}
	result, err := checkout.reconciler.Reconcile(ctx, PaymentEvent{
		Provider:          provider.Name(),
		EventType:         "payment.confirm",
		BookingID:         intent.BookingID,
		PaymentID:         intent.ID,
		ProviderPaymentID: confirmation.ProviderPaymentID,
		Outcome:           outcome,
	})
	if err != nil && !errors.Is(err, ErrIllegalTransition) {
		return result, err
	}
	return result, nil
}
