// Package memory is an in-process Repository implementation, the reference
// adapter used by tests and by cmd/agent when no external store is wired.
// It follows the MockRepository pattern from
// infrastructure/database/mock_repository_gasbank.go: one sync.RWMutex per
// store guarding a map keyed by ID.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/repository"
)

// Repository is the in-memory aggregate root.
type Repository struct {
	requests *requestStore
	payments *paymentStore
	sessions *sessionStore
	tasks    *taskStore
	balances *balanceStore
	system   *systemStore
	ledger   *ledgerStore
}

// New builds an empty in-memory Repository.
func New() *Repository {
	return &Repository{
		requests: &requestStore{rows: make(map[string]*domain.PremiumRequest)},
		payments: &paymentStore{rows: make(map[string]*paymentRow), byTxHash: make(map[string]string)},
		sessions: &sessionStore{rows: make(map[string]*domain.SessionCapability)},
		tasks:    &taskStore{rows: make(map[domain.EndpointTag]*domain.AutonomyTask)},
		balances: &balanceStore{},
		system:   &systemStore{},
		ledger:   &ledgerStore{},
	}
}

func (r *Repository) Requests() repository.Requests                 { return r.requests }
func (r *Repository) Payments() repository.Payments                 { return r.payments }
func (r *Repository) Sessions() repository.Sessions                 { return r.sessions }
func (r *Repository) AutonomyTasks() repository.AutonomyTasks       { return r.tasks }
func (r *Repository) BalanceSnapshots() repository.BalanceSnapshots { return r.balances }
func (r *Repository) SystemStates() repository.SystemStates         { return r.system }
func (r *Repository) LedgerEntries() repository.LedgerEntries       { return r.ledger }

var _ repository.Repository = (*Repository)(nil)

// -----------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------

type requestStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.PremiumRequest
}

func (s *requestStore) Get(ctx context.Context, id string) (*domain.PremiumRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *requestStore) Create(ctx context.Context, req *domain.PremiumRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = clock.NewID()
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	s.rows[req.ID] = &cp
	return nil
}

func (s *requestStore) Update(ctx context.Context, req *domain.PremiumRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[req.ID]; !ok {
		return repository.ErrNotFound
	}
	req.UpdatedAt = time.Now()
	cp := *req
	s.rows[req.ID] = &cp
	return nil
}

// -----------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------

type paymentRow struct {
	payment *domain.Payment
	version int64
}

type paymentStore struct {
	mu       sync.RWMutex
	rows     map[string]*paymentRow
	byTxHash map[string]string // txHash -> id
}

func (s *paymentStore) Create(ctx context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTxHash[p.TxHash]; exists {
		return repository.ErrDuplicateTxHash
	}
	if p.ID == "" {
		p.ID = clock.NewID()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.rows[p.ID] = &paymentRow{payment: &cp, version: 1}
	s.byTxHash[p.TxHash] = p.ID
	return nil
}

func (s *paymentStore) Get(ctx context.Context, id string) (*repository.VersionedPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *row.payment
	return &repository.VersionedPayment{Payment: &cp, Version: row.version}, nil
}

func (s *paymentStore) GetByTxHash(ctx context.Context, txHash string) (*repository.VersionedPayment, error) {
	s.mu.RLock()
	id, ok := s.byTxHash[txHash]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *paymentStore) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.PaymentStatus, failureCode string, confirmedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if row.version != expectedVersion {
		return repository.ErrVersionConflict
	}
	row.payment.Status = status
	row.payment.FailureCode = failureCode
	row.payment.ConfirmedAt = confirmedAt
	row.payment.UpdatedAt = time.Now()
	row.version++
	return nil
}

// -----------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------

type sessionStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.SessionCapability
}

func (s *sessionStore) Create(ctx context.Context, c *domain.SessionCapability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = clock.NewID()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.rows[c.ID] = &cp
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*domain.SessionCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *sessionStore) Update(ctx context.Context, c *domain.SessionCapability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.ID]; !ok {
		return repository.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	cp := *c
	s.rows[c.ID] = &cp
	return nil
}

// -----------------------------------------------------------------------
// AutonomyTasks
// -----------------------------------------------------------------------

type taskStore struct {
	mu   sync.RWMutex
	rows map[domain.EndpointTag]*domain.AutonomyTask
}

func (s *taskStore) Upsert(ctx context.Context, t *domain.AutonomyTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if _, ok := s.rows[t.Endpoint]; !ok {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	cp := *t
	s.rows[t.Endpoint] = &cp
	return nil
}

func (s *taskStore) Find(ctx context.Context, endpoint domain.EndpointTag) (*domain.AutonomyTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.rows[endpoint]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *taskStore) List(ctx context.Context) ([]*domain.AutonomyTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AutonomyTask, 0, len(s.rows))
	for _, t := range s.rows {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

// TryLock implements the conditional write that makes per-task locking safe: the lock
// only succeeds if the task is IDLE and unlocked at the instant of the
// call, under the store's single mutex — the in-memory equivalent of a
// database "UPDATE ... WHERE status='IDLE' AND locked_at IS NULL".
func (s *taskStore) TryLock(ctx context.Context, endpoint domain.EndpointTag, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[endpoint]
	if !ok {
		return repository.ErrNotFound
	}
	if t.Status != domain.TaskIdle || t.LockedAt != nil {
		return repository.ErrLockNotAcquired
	}
	t.Status = domain.TaskRunning
	t.LockedAt = &now
	t.UpdatedAt = now
	return nil
}

func (s *taskStore) Release(ctx context.Context, t *domain.AutonomyTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[t.Endpoint]; !ok {
		return repository.ErrNotFound
	}
	t.LockedAt = nil
	t.UpdatedAt = time.Now()
	cp := *t
	s.rows[t.Endpoint] = &cp
	return nil
}

// -----------------------------------------------------------------------
// BalanceSnapshots
// -----------------------------------------------------------------------

type balanceStore struct {
	mu     sync.RWMutex
	rows   []*domain.BalanceSnapshot
	latest *domain.BalanceSnapshot
}

func (s *balanceStore) Insert(ctx context.Context, snap *domain.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == "" {
		snap.ID = clock.NewID()
	}
	cp := *snap
	s.rows = append(s.rows, &cp)
	s.latest = &cp
	return nil
}

func (s *balanceStore) Latest(ctx context.Context) (*domain.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *s.latest
	return &cp, nil
}

// -----------------------------------------------------------------------
// SystemState
// -----------------------------------------------------------------------

type systemStore struct {
	mu    sync.RWMutex
	state *domain.SystemState
}

func (s *systemStore) Get(ctx context.Context) (*domain.SystemState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return &domain.SystemState{}, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *systemStore) Upsert(ctx context.Context, st *domain.SystemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = time.Now()
	cp := *st
	s.state = &cp
	return nil
}

// -----------------------------------------------------------------------
// LedgerEntries
// -----------------------------------------------------------------------

type ledgerStore struct {
	mu   sync.RWMutex
	rows []*domain.LedgerEntry
}

func (s *ledgerStore) Append(ctx context.Context, e *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = clock.NewID()
	}
	cp := *e
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *ledgerStore) matches(e *domain.LedgerEntry, f repository.LedgerFilter) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.PaymentID != "" && e.PaymentID != f.PaymentID {
		return false
	}
	if f.TxHash != "" && e.TxHash != f.TxHash {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// sortedDesc returns entries matching filter, newest-first, ties broken by
// ID for determinism.
func (s *ledgerStore) sortedDesc(f repository.LedgerFilter) []*domain.LedgerEntry {
	out := make([]*domain.LedgerEntry, 0, len(s.rows))
	for _, e := range s.rows {
		if s.matches(e, f) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *ledgerStore) Query(ctx context.Context, filter repository.LedgerFilter, limit int, cursor string) ([]*domain.LedgerEntry, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.sortedDesc(filter)

	start := 0
	if cursor != "" {
		for i, e := range matched {
			if e.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(matched) {
		return []*domain.LedgerEntry{}, "", nil
	}
	end := start + limit
	var next string
	if end < len(matched) {
		next = matched[end-1].ID
	} else {
		end = len(matched)
	}
	return matched[start:end], next, nil
}

func (s *ledgerStore) Export(ctx context.Context, filter repository.LedgerFilter, limit int) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.sortedDesc(filter)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
