package session

import (
	"context"
	"testing"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(now time.Time) (*Registry, *clock.Fake) {
	fc := clock.NewFake(now)
	repo := memory.New()
	return New(repo.Sessions(), nil, fc, nil), fc
}

func TestRegistry_IssueAndGetActive(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(time.Now())

	cap, err := reg.Issue(ctx, IssueParams{WalletID: "wallet-1", SessionKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, cap.Status)
	assert.Equal(t, DefaultMaxSignatures, cap.MaxSignatures)

	got, err := reg.GetActive(ctx, cap.ID)
	require.NoError(t, err)
	assert.Equal(t, cap.ID, got.ID)
}

func TestRegistry_GetActive_ExpiresLazily(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	reg, fc := newTestRegistry(start)

	cap, err := reg.Issue(ctx, IssueParams{WalletID: "w", SessionKey: "k", TTL: time.Minute})
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	_, err = reg.GetActive(ctx, cap.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionInvalid, apperrors.Code(err))
}

func TestRegistry_IncrementUsage_ExhaustsAtMax(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(time.Now())

	cap, err := reg.Issue(ctx, IssueParams{WalletID: "w", SessionKey: "k", MaxSignatures: 2})
	require.NoError(t, err)

	require.NoError(t, reg.IncrementUsage(ctx, cap.ID))
	got, err := reg.GetActive(ctx, cap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SignaturesUsed)

	require.NoError(t, reg.IncrementUsage(ctx, cap.ID))
	_, err = reg.GetActive(ctx, cap.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionInvalid, apperrors.Code(err))
}

func TestRegistry_Refresh_OnlyFromExpired(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	reg, fc := newTestRegistry(start)

	cap, err := reg.Issue(ctx, IssueParams{WalletID: "w", SessionKey: "k", TTL: time.Minute})
	require.NoError(t, err)

	_, err = reg.Refresh(ctx, cap.ID, time.Minute)
	require.Error(t, err, "refresh should fail while still ACTIVE")
	assert.Equal(t, apperrors.ErrCodeSessionNotRefreshable, apperrors.Code(err))

	fc.Advance(2 * time.Minute)
	_, err = reg.GetActive(ctx, cap.ID) // transitions it to EXPIRED as a side effect
	require.Error(t, err)

	refreshed, err := reg.Refresh(ctx, cap.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, refreshed.Status)
}

func TestRegistry_Revoke_IsTerminal(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(time.Now())

	cap, err := reg.Issue(ctx, IssueParams{WalletID: "w", SessionKey: "k"})
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(ctx, cap.ID, "operator request"))
	_, err = reg.GetActive(ctx, cap.ID)
	require.Error(t, err)

	_, err = reg.Refresh(ctx, cap.ID, time.Minute)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionNotRefreshable, apperrors.Code(err))
}
