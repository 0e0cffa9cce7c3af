package domain

import "time"

// PaymentStatus is the Payment lifecycle state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is one attempt to satisfy a PremiumRequest.
type Payment struct {
	ID            string
	RequestID     string
	TxHash        string // globally unique across all payments
	Amount        string
	Currency      string
	Status        PaymentStatus
	FailureCode   string
	ConfirmedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanTransitionTo enforces PENDING -> CONFIRMED | FAILED.
func (p *Payment) CanTransitionTo(next PaymentStatus) bool {
	if p.Status != PaymentPending {
		return false
	}
	return next == PaymentConfirmed || next == PaymentFailed
}
