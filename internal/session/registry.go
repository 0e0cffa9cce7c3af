// Package session implements the Session Registry: bounded,
// time-limited signing capabilities handed to the Payment Executor. It is
// built on the account-pool pattern in
// infrastructure/accountpool/marble/service.go — a pool of signing
// authority with lock/usage tracking — narrowed to a single capability
// object per session instead of a pool of wallets.
package session

import (
	"context"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/repository"
)

// DefaultMaxSignatures and DefaultTTL are the package's default bounds.
const (
	DefaultMaxSignatures = 3
	DefaultTTL           = 3600 * time.Second
)

// Registry issues, looks up, and retires SessionCapability rows.
type Registry struct {
	store  repository.Sessions
	ledger *ledger.Ledger
	clock  clock.Clock
	log    *logging.Logger
}

// New constructs a Registry.
func New(store repository.Sessions, l *ledger.Ledger, c clock.Clock, log *logging.Logger) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.NewDefault("session-registry")
	}
	return &Registry{store: store, ledger: l, clock: c, log: log}
}

// IssueParams configures a new capability. Zero MaxSignatures/TTL fall back
// to the package defaults.
type IssueParams struct {
	WalletID      string
	SessionKey    string
	Nonce         string
	MaxSignatures int
	TTL           time.Duration
}

// Issue persists a new ACTIVE capability and emits a session-issued ledger
// entry.
func (r *Registry) Issue(ctx context.Context, p IssueParams) (*domain.SessionCapability, error) {
	maxSig := p.MaxSignatures
	if maxSig <= 0 {
		maxSig = DefaultMaxSignatures
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := r.clock.Now()
	cap := &domain.SessionCapability{
		ID:            clock.NewID(),
		WalletID:      p.WalletID,
		SessionKey:    p.SessionKey,
		Nonce:         p.Nonce,
		MaxSignatures: maxSig,
		Status:        domain.SessionActive,
		ExpiresAt:     now.Add(ttl),
	}
	if err := r.store.Create(ctx, cap); err != nil {
		return nil, apperrors.Internal("session create failed", err)
	}

	if r.ledger != nil {
		_, _ = r.ledger.Append(ctx, domain.CategorySystem, "session-issued",
			ledger.WithMetadata(map[string]any{"sessionId": cap.ID, "walletId": cap.WalletID}))
	}
	return cap, nil
}

// GetActive returns the capability iff it is ACTIVE, unexpired, and under
// its usage cap. A capability discovered to be expired or exhausted is
// transitioned in place and absent is returned.
func (r *Registry) GetActive(ctx context.Context, id string) (*domain.SessionCapability, error) {
	cap, err := r.store.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.SessionInvalid(id, "unknown session")
		}
		return nil, apperrors.Internal("session lookup failed", err)
	}

	if cap.Status.IsTerminal() {
		return nil, apperrors.SessionInvalid(id, string(cap.Status))
	}

	now := r.clock.Now()
	if cap.ExpiredAt(now) {
		cap.Status = domain.SessionExpired
		_ = r.store.Update(ctx, cap)
		return nil, apperrors.SessionInvalid(id, "expired")
	}
	if cap.Exhausted() {
		cap.Status = domain.SessionExhausted
		_ = r.store.Update(ctx, cap)
		return nil, apperrors.SessionInvalid(id, "exhausted")
	}
	if cap.Status != domain.SessionActive {
		return nil, apperrors.SessionInvalid(id, string(cap.Status))
	}
	return cap, nil
}

// IncrementUsage atomically increments usage and transitions to EXHAUSTED
// the moment usage reaches the max. The repository.Sessions
// store's single-row Update call provides the race-freedom against a
// concurrent GetActive call; callers must not increment without having just
// confirmed ACTIVE via GetActive within the same logical request.
func (r *Registry) IncrementUsage(ctx context.Context, id string) error {
	cap, err := r.store.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return apperrors.SessionInvalid(id, "unknown session")
		}
		return apperrors.Internal("session lookup failed", err)
	}
	cap.SignaturesUsed++
	if cap.SignaturesUsed >= cap.MaxSignatures {
		cap.Status = domain.SessionExhausted
	}
	if err := r.store.Update(ctx, cap); err != nil {
		return apperrors.Internal("session update failed", err)
	}
	return nil
}

// Refresh sets a new expiry and restores ACTIVE status, but only from
// EXPIRED — any other state (EXHAUSTED, REVOKED) fails with
// SessionNotRefreshable since those transitions are append-only terminal
// states.
func (r *Registry) Refresh(ctx context.Context, id string, ttl time.Duration) (*domain.SessionCapability, error) {
	cap, err := r.store.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.SessionInvalid(id, "unknown session")
		}
		return nil, apperrors.Internal("session lookup failed", err)
	}
	if cap.Status != domain.SessionExpired {
		return nil, apperrors.SessionNotRefreshable(id)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cap.Status = domain.SessionActive
	cap.ExpiresAt = r.clock.Now().Add(ttl)
	if err := r.store.Update(ctx, cap); err != nil {
		return nil, apperrors.Internal("session update failed", err)
	}
	return cap, nil
}

// Revoke terminally transitions a capability to REVOKED.
func (r *Registry) Revoke(ctx context.Context, id, reason string) error {
	cap, err := r.store.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return apperrors.SessionInvalid(id, "unknown session")
		}
		return apperrors.Internal("session lookup failed", err)
	}
	cap.Status = domain.SessionRevoked
	if err := r.store.Update(ctx, cap); err != nil {
		return apperrors.Internal("session update failed", err)
	}
	if r.ledger != nil {
		_, _ = r.ledger.Append(ctx, domain.CategorySystem, "session-revoked",
			ledger.WithMetadata(map[string]any{"sessionId": id, "reason": reason}))
	}
	return nil
}
