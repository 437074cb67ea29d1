package booking

import (
	"context"
	"errors"
	"strings"
)

// PaymentUpdate carries the fields a payment status update may change.
// Empty provider references leave the stored values untouched.
type PaymentUpdate struct {
	Status            PaymentStatus
	ProviderPaymentID string
	ProviderOrderID   string
}

// CreatePaymentIntent records a new requires_action intent for an existing booking.
func (service *Service) CreatePaymentIntent(ctx context.Context, input NewPaymentIntentInput) (PaymentIntent, error) {
	var created PaymentIntent
	operationError := service.queue.run(ctx, func() error {
		amount, err := NewAmount(input.Amount)
		if err != nil {
			return err
		}
		currency, err := NewCurrency(input.Currency)
		if err != nil {
			return err
		}
		provider := strings.ToLower(strings.TrimSpace(input.Provider))
		if provider == "" {
			provider = DefaultProviderName
		}
		paymentID, err := NewPaymentID(paymentIDPrefix + strings.ReplaceAll(service.idFn(), "-", ""))
		if err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.GetBooking(ctx, input.BookingID); err != nil {
				return err
			}
			now := service.nowFn().UTC()
			intent := PaymentIntent{
				ID:                paymentID,
				BookingID:         input.BookingID,
				Amount:            amount,
				Currency:          currency,
				Provider:          provider,
				ProviderPaymentID: strings.TrimSpace(input.ProviderPaymentID),
				ProviderOrderID:   strings.TrimSpace(input.ProviderOrderID),
				Status:            PaymentStatusRequiresAction,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := transactionStore.InsertPaymentIntent(ctx, intent); err != nil {
				return err
			}
			created = intent
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreatePayment,
		BookingID: input.BookingID,
		PaymentID: created.ID,
		Error:     operationError,
	})
	return created, operationError
}

// UpdatePaymentStatus sets the status of an intent (last write wins).
// found is false when no intent has the given id.
func (service *Service) UpdatePaymentStatus(ctx context.Context, paymentID PaymentID, status PaymentStatus, providerPaymentID string) (PaymentIntent, bool, error) {
	return service.UpdatePayment(ctx, paymentID, PaymentUpdate{Status: status, ProviderPaymentID: providerPaymentID})
}

// UpdatePayment applies a PaymentUpdate (last write wins).
func (service *Service) UpdatePayment(ctx context.Context, paymentID PaymentID, update PaymentUpdate) (PaymentIntent, bool, error) {
	var (
		updated PaymentIntent
		found   = true
	)
	operationError := service.queue.run(ctx, func() error {
		if _, err := ParsePaymentStatus(update.Status.String()); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			intent, err := transactionStore.GetPaymentIntent(ctx, paymentID)
			if errors.Is(err, ErrPaymentNotFound) {
				found = false
				return nil
			}
			if err != nil {
				return err
			}
			now := service.nowFn().UTC()
			if now.Before(intent.UpdatedAt) {
				now = intent.UpdatedAt
			}
			intent.Status = update.Status
			if reference := strings.TrimSpace(update.ProviderPaymentID); reference != "" {
				intent.ProviderPaymentID = reference
			}
			if reference := strings.TrimSpace(update.ProviderOrderID); reference != "" {
				intent.ProviderOrderID = reference
			}
			intent.UpdatedAt = now
			if err := transactionStore.UpdatePaymentIntent(ctx, intent); err != nil {
				return err
			}
			updated = intent
			return nil
		})
	})
	if operationError != nil {
		found = false
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdatePayment,
		BookingID: updated.BookingID,
		PaymentID: paymentID,
		Error:     operationError,
	})
	return updated, found, operationError
}

// GetPaymentIntent loads one intent.
func (service *Service) GetPaymentIntent(ctx context.Context, paymentID PaymentID) (PaymentIntent, error) {
	return service.store.GetPaymentIntent(ctx, paymentID)
}

// ListPaymentIntents returns the intents of a booking, oldest first.
func (service *Service) ListPaymentIntents(ctx context.Context, bookingID BookingID) ([]PaymentIntent, error) {
	return service.store.ListPaymentIntents(ctx, bookingID)
}

// FindPaymentIntentByProviderPaymentID looks an intent up by the gateway's reference.
func (service *Service) FindPaymentIntentByProviderPaymentID(ctx context.Context, provider string, providerPaymentID string) (PaymentIntent, error) {
	return service.store.FindPaymentIntentByProviderPaymentID(ctx, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(providerPaymentID))
}
