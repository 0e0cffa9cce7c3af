package domain

import "time"

// SessionStatus is the SessionCapability lifecycle state.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionExpired   SessionStatus = "EXPIRED"
	SessionExhausted SessionStatus = "EXHAUSTED"
	SessionRevoked   SessionStatus = "REVOKED"
)

// IsTerminal reports whether the session can never become ACTIVE again
// without an explicit, policy-governed refresh.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionExhausted || s == SessionRevoked
}

// SessionCapability is a bounded authority to sign, issued to the scheduler
// or to a caller on behalf of a wallet.
type SessionCapability struct {
	ID              string
	WalletID        string
	SessionKey      string
	Nonce           string
	MaxSignatures   int
	SignaturesUsed  int
	Status          SessionStatus
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Exhausted reports whether usage has reached the configured maximum.
func (s *SessionCapability) Exhausted() bool {
	return s.SignaturesUsed >= s.MaxSignatures
}

// ExpiredAt reports whether the session's expiry has passed as of now.
func (s *SessionCapability) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt) || now.Equal(s.ExpiresAt)
}
