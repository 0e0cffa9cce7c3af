// Package clock provides the monotonic time source and identifier
// generation shared by every component.
package clock

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now so components can be driven by a fake clock in
// tests without sleeping real wall-clock time.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// NewID returns a fresh opaque identifier for an entity (PremiumRequest,
// Payment, SessionCapability, AutonomyTask, LedgerEntry, ...).
func NewID() string {
	return uuid.NewString()
}

// SyntheticTxHash returns a "synthetic:"-prefixed string followed by 64 random
// hex characters. It preserves the Payment.txHash uniqueness invariant for a
// payment that failed before submission, and the prefix means it can never
// collide with a real chain signature and is trivially distinguishable from
// one at a glance in the ledger and in logs.
func SyntheticTxHash() string {
	return "synthetic:" + randomHex(32)
}

// randomHex returns n random bytes hex-encoded (2n hex characters).
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// fall back to a timestamp-derived value rather than panicking.
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(buf)
}
