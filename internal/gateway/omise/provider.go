// Package omise adapts the Omise payment API to booking.PaymentProvider.
package omise

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	omisesdk "github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/yonotravel/bookingd/pkg/booking"
)

const (
	// ProviderName is the name intents created here are stored under.
	ProviderName = "omise"

	// DefaultSourceType needs no redirect URI.
	DefaultSourceType = "promptpay"

	// DefaultTimeout bounds one gateway call.
	DefaultTimeout = 10 * time.Second

	chargeIDPrefix       = "chrg_"
	metadataKeyBookingID = "booking_id"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// API is the subset of the Omise API the provider calls.
type API interface {
	CreateSource(ctx context.Context, request *operations.CreateSource) (*omisesdk.Source, error)
	RetrieveCharge(ctx context.Context, chargeID string) (*omisesdk.Charge, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithSourceType overrides DefaultSourceType.
func WithSourceType(sourceType string) Option {
	return func(provider *Provider) {
		if trimmed := strings.TrimSpace(sourceType); trimmed != "" {
			provider.sourceType = trimmed
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(provider *Provider) {
		if timeout > 0 {
			provider.timeout = timeout
		}
	}
}

// Provider implements booking.PaymentProvider against Omise.
type Provider struct {
	api        API
	sourceType string
	timeout    time.Duration
}

// NewProvider builds a Provider on api.
func NewProvider(api API, options ...Option) (*Provider, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: omise api is nil", booking.ErrInvalidServiceConfig)
	}
	provider := &Provider{api: api, sourceType: DefaultSourceType, timeout: DefaultTimeout}
	for _, option := range options {
		if option != nil {
			option(provider)
		}
	}
	return provider, nil
}

// Name implements booking.PaymentProvider.
func (provider *Provider) Name() string {
	return ProviderName
}

// CreateIntent creates an unpaid source. No money moves until the customer
// pays it, so a retried call cannot double-charge.
func (provider *Provider) CreateIntent(ctx context.Context, request booking.CreateIntentRequest) (booking.ProviderIntent, error) {
	callCtx, cancel := context.WithTimeout(ctx, provider.timeout)
	defer cancel()
	source, err := provider.api.CreateSource(callCtx, &operations.CreateSource{
		Type:     provider.sourceType,
		Amount:   request.Amount.Int64(),
		Currency: strings.ToLower(request.Currency.String()),
	})
	if err != nil {
		return booking.ProviderIntent{}, gatewayError("create_source", err)
	}
	return booking.ProviderIntent{
		Provider:             ProviderName,
		ProviderClientSecret: source.ID,
		ProviderPaymentID:    source.ID,
	}, nil
}

// ConfirmPayment reads the charge and maps its status. A charge that has not
// settled yet yields booking.ErrPaymentPending.
func (provider *Provider) ConfirmPayment(ctx context.Context, request booking.ConfirmPaymentRequest) (booking.ProviderConfirmation, error) {
	chargeID := strings.TrimSpace(request.ProviderPaymentID)
	if chargeID == "" && strings.HasPrefix(request.PaymentIntent.ProviderPaymentID, chargeIDPrefix) {
		chargeID = request.PaymentIntent.ProviderPaymentID
	}
	if !strings.HasPrefix(chargeID, chargeIDPrefix) {
		return booking.ProviderConfirmation{}, fmt.Errorf("%w: no omise charge for %s yet", booking.ErrPaymentPending, request.PaymentIntent.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, provider.timeout)
	defer cancel()
	charge, err := provider.api.RetrieveCharge(callCtx, chargeID)
	if err != nil {
		return booking.ProviderConfirmation{}, gatewayError("retrieve_charge", err)
	}
	if owner, ok := charge.Metadata[metadataKeyBookingID].(string); ok && owner != "" && owner != request.BookingID.String() {
		return booking.ProviderConfirmation{}, fmt.Errorf("%w: charge %s belongs to booking %s", booking.ErrPaymentNotFound, charge.ID, owner)
	}

	status, err := mapChargeStatus(string(charge.Status))
	if err != nil {
		return booking.ProviderConfirmation{}, err
	}
	return booking.ProviderConfirmation{
		Provider:          ProviderName,
		ProviderPaymentID: charge.ID,
		Status:            status,
	}, nil
}

func mapChargeStatus(status string) (booking.PaymentStatus, error) {
	switch strings.ToLower(status) {
	case "successful":
		return booking.PaymentStatusSucceeded, nil
	case "failed", "expired", "reversed":
		return booking.PaymentStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: omise charge is %s", booking.ErrPaymentPending, status)
	}
}

func gatewayError(code string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = errors.Join(ErrGatewayUnavailable, err)
	}
	return booking.WrapError("omise", "gateway", code, err)
}
