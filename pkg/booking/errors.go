package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking service.
var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrDuplicateReference   = errors.New("duplicate booking reference")
	ErrBookingNotPayable    = errors.New("booking not payable")
	ErrPaymentPending       = errors.New("payment pending")
	ErrUnknownProvider      = errors.New("unknown payment provider")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrInvalidPaymentID     = errors.New("invalid payment id")
	ErrInvalidStatus        = errors.New("invalid booking status")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrInvalidBookingInput  = errors.New("invalid booking input")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// IllegalTransitionError reports a rejected edge of the status graph.
type IllegalTransitionError struct {
	From Status
	To   Status
}

// Error returns the formatted error message.
func (transitionError *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrIllegalTransition, transitionError.From, transitionError.To)
}

// Is matches ErrIllegalTransition.
func (transitionError *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
