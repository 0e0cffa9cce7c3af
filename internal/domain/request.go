// Package domain holds the core entities: PremiumRequest,
// Payment, SessionCapability, AutonomyTask, BalanceSnapshot, SystemState,
// and LedgerEntry. These are plain value/behavior types; persistence is the
// Repository's concern (internal/repository).
package domain

import "time"

// RequestStatus is the PremiumRequest lifecycle state.
type RequestStatus string

const (
	RequestPaymentRequired RequestStatus = "PAYMENT_REQUIRED"
	RequestPaid            RequestStatus = "PAID"
	RequestFulfilled       RequestStatus = "FULFILLED"
	RequestFailed          RequestStatus = "FAILED"
)

// IsTerminal reports whether no further transition is permitted.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestFulfilled || s == RequestFailed
}

// EndpointTag identifies a premium endpoint drawn from the closed catalog.
type EndpointTag string

// PremiumRequest represents one client intent to consume a premium endpoint.
type PremiumRequest struct {
	ID              string
	Endpoint        EndpointTag
	Status          RequestStatus
	Amount          string // decimal string; parse with money.New
	Currency        string
	FacilitatorURL  string
	PaymentRef      string // confirmed chain signature, once set, immutable
	DataPayload     map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanTransitionTo enforces the monotone PAYMENT_REQUIRED -> PAID -> FULFILLED
// ordering, with FAILED reachable from any non-terminal state, and rejects
// any mutation once a terminal state is reached.
func (r *PremiumRequest) CanTransitionTo(next RequestStatus) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if next == RequestFailed {
		return true
	}
	switch r.Status {
	case RequestPaymentRequired:
		return next == RequestPaid
	case RequestPaid:
		return next == RequestFulfilled
	default:
		return false
	}
}
