package booking

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusConfirmed      Status = "confirmed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Superseded labels still present in historical records.
const (
	legacyStatusInitiated       = "initiated"
	legacyStatusPaymentReceived = "payment_received"
)

var legalTransitions = map[Status][]Status{
	StatusDraft:          {StatusPendingPayment, StatusCancelled, StatusFailed},
	StatusPendingPayment: {StatusPaid, StatusConfirmed, StatusFailed, StatusCancelled},
	StatusPaid:           {StatusConfirmed, StatusFailed, StatusCancelled},
	StatusConfirmed:      {StatusCancelled},
	StatusFailed:         {},
	StatusCancelled:      {},
}

// ParseStatus validates a stored or requested status, mapping legacy labels
// onto their current names.
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case legacyStatusInitiated:
		return StatusDraft, nil
	case legacyStatusPaymentReceived:
		return StatusPaid, nil
	}
	status := Status(normalized)
	if _, known := legalTransitions[status]; !known {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// String returns the status label.
func (status Status) String() string {
	return string(status)
}

// IsTerminal reports whether no outgoing edge exists.
func (status Status) IsTerminal() bool {
	return len(legalTransitions[status]) == 0
}

// CanTransition reports whether moving from one status to another is allowed.
// A self-loop is always allowed.
func CanTransition(from Status, to Status) bool {
	if from == to {
		_, known := legalTransitions[from]
		return known
	}
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable in one step.
func NextStatuses(from Status) []Status {
	next := legalTransitions[from]
	copied := make([]Status, len(next))
	copy(copied, next)
	return copied
}
