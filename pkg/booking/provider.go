package booking

import (
	"context"
	"strings"
)

// CreateIntentRequest asks a gateway to prepare collection for a booking.
type CreateIntentRequest struct {
	BookingID BookingID
	Amount    Amount
	Currency  Currency
}

// ProviderIntent is the gateway's answer to CreateIntent.
type ProviderIntent struct {
	Provider             string
	ProviderClientSecret string
	ProviderPaymentID    string
}

// ConfirmPaymentRequest asks a gateway for the outcome of an intent.
type ConfirmPaymentRequest struct {
	BookingID         BookingID
	PaymentIntent     PaymentIntent
	ProviderPaymentID string
}

// ProviderConfirmation is the gateway's answer to ConfirmPayment.
type ProviderConfirmation struct {
	Provider          string
	ProviderPaymentID string
	Status            PaymentStatus
}

// PaymentProvider is implemented once per payment backend. Both calls must be
// safe to repeat with identical input.
type PaymentProvider interface {
	Name() string
	CreateIntent(ctx context.Context, request CreateIntentRequest) (ProviderIntent, error)
	ConfirmPayment(ctx context.Context, request ConfirmPaymentRequest) (ProviderConfirmation, error)
}

// ManualProvider records payments collected outside any gateway.
type ManualProvider struct{}

// Name returns the provider name.
func (ManualProvider) Name() string {
	return DefaultProviderName
}

// CreateIntent has no provider-side effect.
func (ManualProvider) CreateIntent(_ context.Context, _ CreateIntentRequest) (ProviderIntent, error) {
	return ProviderIntent{Provider: DefaultProviderName}, nil
}

// ConfirmPayment accepts the payment as collected.
func (ManualProvider) ConfirmPayment(_ context.Context, request ConfirmPaymentRequest) (ProviderConfirmation, error) {
	providerPaymentID := strings.TrimSpace(request.ProviderPaymentID)
	if providerPaymentID == "" {
		providerPaymentID = request.PaymentIntent.ProviderPaymentID
	}
	if providerPaymentID == "" {
		providerPaymentID = DefaultProviderName + "_" + request.PaymentIntent.ID.String()
	}
	return ProviderConfirmation{
		Provider:          DefaultProviderName,
		ProviderPaymentID: providerPaymentID,
		Status:            PaymentStatusSucceeded,
	}, nil
}
