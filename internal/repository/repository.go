// Package repository declares the abstract persistence contract the core
// depends on. A concrete relational store is deliberately out of scope here
// ("external collaborator"); this package is the seam — internal/repository
// names CRUD operations a production adapter (Postgres, etc.) must satisfy,
// and internal/repository/memory provides an in-process implementation used
// by tests and the reference boundary wiring in cmd/agent.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/autopay-labs/x402-agent/internal/domain"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("repository: not found")

// ErrVersionConflict is returned by an Update call whose expected version no
// longer matches the stored row — an optimistic-lock conflict that the
// caller should retry.
var ErrVersionConflict = errors.New("repository: version conflict")

// ErrDuplicateTxHash is returned by Payments.Create when the tx hash already
// exists.
var ErrDuplicateTxHash = errors.New("repository: duplicate tx hash")

// ErrLockNotAcquired is returned by AutonomyTasks.TryLock when another
// runner already holds the task.
var ErrLockNotAcquired = errors.New("repository: lock not acquired")

// Requests persists PremiumRequest rows.
type Requests interface {
	Get(ctx context.Context, id string) (*domain.PremiumRequest, error)
	Create(ctx context.Context, req *domain.PremiumRequest) error
	Update(ctx context.Context, req *domain.PremiumRequest) error
}

// VersionedPayment wraps a Payment with the optimistic-lock version it was
// read at.
type VersionedPayment struct {
	Payment *domain.Payment
	Version int64
}

// Payments persists Payment rows with a uniqueness constraint on TxHash.
type Payments interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id string) (*VersionedPayment, error)
	GetByTxHash(ctx context.Context, txHash string) (*VersionedPayment, error)
	// UpdateStatus applies a CAS update guarded by expectedVersion; returns
	// ErrVersionConflict if the stored version has moved on.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.PaymentStatus, failureCode string, confirmedAt *time.Time) error
}

// Sessions persists SessionCapability rows.
type Sessions interface {
	Create(ctx context.Context, s *domain.SessionCapability) error
	Get(ctx context.Context, id string) (*domain.SessionCapability, error)
	Update(ctx context.Context, s *domain.SessionCapability) error
}

// AutonomyTasks persists AutonomyTask rows keyed by endpoint.
type AutonomyTasks interface {
	Upsert(ctx context.Context, t *domain.AutonomyTask) error
	Find(ctx context.Context, endpoint domain.EndpointTag) (*domain.AutonomyTask, error)
	List(ctx context.Context) ([]*domain.AutonomyTask, error)
	// TryLock atomically transitions an IDLE, unlocked task to RUNNING with
	// the given lock timestamp — the conditional write on
	// "status=IDLE and lockedAt IS NULL" so multiple
	// scheduler replicas cannot double-run a task.
	TryLock(ctx context.Context, endpoint domain.EndpointTag, now time.Time) error
	// Release clears the lock and sets the next status/fields atomically
	// after a tick completes.
	Release(ctx context.Context, t *domain.AutonomyTask) error
}

// BalanceSnapshots is an append-only insert store.
type BalanceSnapshots interface {
	Insert(ctx context.Context, s *domain.BalanceSnapshot) error
	Latest(ctx context.Context) (*domain.BalanceSnapshot, error)
}

// SystemStates is a singleton upsert store.
type SystemStates interface {
	Get(ctx context.Context) (*domain.SystemState, error)
	Upsert(ctx context.Context, s *domain.SystemState) error
}

// LedgerFilter combines conjunctively over the listed fields; zero values
// mean "no constraint".
type LedgerFilter struct {
	Category  domain.LedgerCategory
	Event     string
	RequestID string
	PaymentID string
	TxHash    string
	From      time.Time
	To        time.Time
}

// LedgerEntries is an append-only insert + filtered query store.
type LedgerEntries interface {
	Append(ctx context.Context, e *domain.LedgerEntry) error
	// Query returns a page newest-first plus an opaque next-cursor ("" if no
	// more results exist). limit is the caller's already-clamped [1,500] page size.
	Query(ctx context.Context, filter LedgerFilter, limit int, cursor string) ([]*domain.LedgerEntry, string, error)
	// Export returns a flat, newest-first list up to limit (already clamped
	// to [1,5000] by the caller).
	Export(ctx context.Context, filter LedgerFilter, limit int) ([]*domain.LedgerEntry, error)
}

// Repository aggregates every per-entity store the core depends on.
type Repository interface {
	Requests() Requests
	Payments() Payments
	Sessions() Sessions
	AutonomyTasks() AutonomyTasks
	BalanceSnapshots() BalanceSnapshots
	SystemStates() SystemStates
	LedgerEntries() LedgerEntries
}
