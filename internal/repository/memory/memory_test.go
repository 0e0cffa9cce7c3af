package memory

import (
	"context"
	"testing"
	"time"

	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayments_CreateRejectsDuplicateTxHash(t *testing.T) {
	ctx := context.Background()
	repo := New()

	require.NoError(t, repo.Payments().Create(ctx, &domain.Payment{ID: "p1", RequestID: "r1", TxHash: "hash-1"}))
	err := repo.Payments().Create(ctx, &domain.Payment{ID: "p2", RequestID: "r1", TxHash: "hash-1"})
	assert.ErrorIs(t, err, repository.ErrDuplicateTxHash)
}

func TestPayments_UpdateStatus_VersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := New()
	require.NoError(t, repo.Payments().Create(ctx, &domain.Payment{ID: "p1", RequestID: "r1", TxHash: "hash-1", Status: domain.PaymentPending}))

	vp, err := repo.Payments().Get(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, repo.Payments().UpdateStatus(ctx, "p1", vp.Version, domain.PaymentConfirmed, "", nil))

	err = repo.Payments().UpdateStatus(ctx, "p1", vp.Version, domain.PaymentFailed, "stale", nil)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestAutonomyTasks_TryLock_PreventsDoubleLock(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now()
	require.NoError(t, repo.AutonomyTasks().Upsert(ctx, &domain.AutonomyTask{
		Endpoint: "market", Status: domain.TaskIdle, ValueScore: 1, Cost: 1,
	}))

	require.NoError(t, repo.AutonomyTasks().TryLock(ctx, "market", now))
	err := repo.AutonomyTasks().TryLock(ctx, "market", now)
	assert.ErrorIs(t, err, repository.ErrLockNotAcquired)

	task, err := repo.AutonomyTasks().Find(ctx, "market")
	require.NoError(t, err)
	require.NoError(t, repo.AutonomyTasks().Release(ctx, task))

	require.NoError(t, repo.AutonomyTasks().TryLock(ctx, "market", now), "lock should be acquirable again after release")
}

func TestLedgerEntries_QueryIsNewestFirstAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.LedgerEntries().Append(ctx, &domain.LedgerEntry{
			ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second), Event: "e",
		}))
	}

	page, cursor, err := repo.LedgerEntries().Query(ctx, repository.LedgerFilter{}, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID, "newest entry must be first")
	assert.NotEmpty(t, cursor)

	rest, nextCursor, err := repo.LedgerEntries().Query(ctx, repository.LedgerFilter{}, 2, cursor)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].ID)
	assert.Empty(t, nextCursor)
}
