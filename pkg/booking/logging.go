package booking

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking or payment operation.
type OperationLog struct {
	Operation  string
	BookingID  BookingID
	PaymentID  PaymentID
	FromStatus Status
	ToStatus   Status
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithRandomSource replaces the entropy used for booking references.
func WithRandomSource(random func(buffer []byte) error) ServiceOption {
	return func(service *Service) {
		if random != nil {
			service.randomFn = random
		}
	}
}

// WithIDGenerator replaces the generator used for booking and payment ids.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.idFn = generate
		}
	}
}
