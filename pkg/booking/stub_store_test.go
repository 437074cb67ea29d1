package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubStore struct {
	mu               sync.Mutex
	bookings         map[BookingID]Booking
	references       map[string]BookingID
	intents          map[PaymentID]PaymentIntent
	intentOrder      []PaymentID
	bookingWrites    int
	intentWrites     int
	failInserts      int
	duplicateInserts int
	err              error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		bookings:   make(map[BookingID]Booking),
		references: make(map[string]BookingID),
		intents:    make(map[PaymentID]PaymentIntent),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.err != nil {
		return store.err
	}
	return fn(ctx, store)
}

func (store *stubStore) InsertBooking(_ context.Context, booking Booking) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.err != nil {
		return store.err
	}
	if store.duplicateInserts > 0 {
		store.duplicateInserts--
		return ErrDuplicateReference
	}
	if _, exists := store.references[booking.Reference]; exists {
		return ErrDuplicateReference
	}
	store.bookings[booking.ID] = cloneBooking(booking)
	store.references[booking.Reference] = booking.ID
	store.bookingWrites++
	return nil
}

func (store *stubStore) GetBooking(_ context.Context, bookingID BookingID) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.err != nil {
		return Booking{}, store.err
	}
	booking, ok := store.bookings[bookingID]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return cloneBooking(booking), nil
}

func (store *stubStore) UpdateBooking(_ context.Context, booking Booking) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.bookings[booking.ID]; !ok {
		return ErrBookingNotFound
	}
	store.bookings[booking.ID] = cloneBooking(booking)
	store.bookingWrites++
	return nil
}

func (store *stubStore) InsertPaymentIntent(_ context.Context, intent PaymentIntent) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.intents[intent.ID]; exists {
		return fmt.Errorf("duplicate payment id %s", intent.ID)
	}
	store.intents[intent.ID] = intent
	store.intentOrder = append(store.intentOrder, intent.ID)
	store.intentWrites++
	return nil
}

func (store *stubStore) GetPaymentIntent(_ context.Context, paymentID PaymentID) (PaymentIntent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	intent, ok := store.intents[paymentID]
	if !ok {
		return PaymentIntent{}, ErrPaymentNotFound
	}
	return intent, nil
}

func (store *stubStore) FindPaymentIntentByProviderPaymentID(_ context.Context, provider string, providerPaymentID string) (PaymentIntent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, paymentID := range store.intentOrder {
		intent := store.intents[paymentID]
		if intent.Provider == provider && intent.ProviderPaymentID == providerPaymentID {
			return intent, nil
		}
	}
	return PaymentIntent{}, ErrPaymentNotFound
}

func (store *stubStore) ListPaymentIntents(_ context.Context, bookingID BookingID) ([]PaymentIntent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var intents []PaymentIntent
	for _, paymentID := range store.intentOrder {
		if intent := store.intents[paymentID]; intent.BookingID == bookingID {
			intents = append(intents, intent)
		}
	}
	sort.SliceStable(intents, func(left, right int) bool {
		return intents[left].CreatedAt.Before(intents[right].CreatedAt)
	})
	return intents, nil
}

func (store *stubStore) UpdatePaymentIntent(_ context.Context, intent PaymentIntent) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.intents[intent.ID]; !ok {
		return ErrPaymentNotFound
	}
	store.intents[intent.ID] = intent
	store.intentWrites++
	return nil
}

func (store *stubStore) mustBooking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	booking, err := store.GetBooking(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("load booking %s: %v", bookingID, err)
	}
	return booking
}

func cloneBooking(booking Booking) Booking {
	clone := booking
	clone.StatusTimeline = append([]TimelineEntry(nil), booking.StatusTimeline...)
	if booking.Metadata != nil {
		clone.Metadata = make(map[string]any, len(booking.Metadata))
		for key, value := range booking.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

type recorderNotifier struct {
	changes []StatusChange
}

func (notifier *recorderNotifier) NotifyStatusChange(_ context.Context, change StatusChange) {
	notifier.changes = append(notifier.changes, change)
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (clock *steppingClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(clock.step)
	return clock.current
}

func sequentialIDs(prefix string) func() string {
	var (
		mu      sync.Mutex
		counter int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("%s-%04d", prefix, counter)
	}
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	clock := newSteppingClock()
	base := []ServiceOption{WithIDGenerator(sequentialIDs("id"))}
	service, err := NewService(store, clock.Now, append(base, options...)...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	bookingID, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id %q: %v", raw, err)
	}
	return bookingID
}

func mustPaymentID(test *testing.T, raw string) PaymentID {
	test.Helper()
	paymentID, err := NewPaymentID(raw)
	if err != nil {
		test.Fatalf("payment id %q: %v", raw, err)
	}
	return paymentID
}

func mustCreateBooking(test *testing.T, service *Service) Booking {
	test.Helper()
	booking, err := service.CreateBooking(context.Background(), NewBookingInput{
		UserID:   "user-1",
		Type:     "flight",
		Amount:   125000,
		Currency: "inr",
	})
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	return booking
}

func mustTransition(test *testing.T, service *Service, bookingID BookingID, next Status) Booking {
	test.Helper()
	booking, err := service.TransitionStatus(context.Background(), bookingID, next, nil)
	if err != nil {
		test.Fatalf("transition %s -> %s: %v", bookingID, next, err)
	}
	return booking
}

func mustCreateIntent(test *testing.T, service *Service, booking Booking, providerPaymentID string) PaymentIntent {
	test.Helper()
	intent, err := service.CreatePaymentIntent(context.Background(), NewPaymentIntentInput{
		BookingID:         booking.ID,
		Amount:            booking.Amount.Int64(),
		Currency:          booking.Currency.String(),
		Provider:          "razorpay",
		ProviderPaymentID: providerPaymentID,
	})
	if err != nil {
		test.Fatalf("create payment intent: %v", err)
	}
	return intent
}

var errStoreDown = errors.New("store down")
