// Package scheduler implements the autonomy Scheduler: a
// periodic tick that picks the highest-scoring eligible premium endpoint,
// locks its task row, and drives the Request Coordinator and Payment
// Executor to completion under a single scheduler-owned SessionCapability.
// It is built on the automation engine pattern in
// services/automation/marble/engine.go — cron-driven tick, per-task
// locking, exponential backoff on failure — generalized to score-based
// selection over the task set instead of a fixed cron expression per task.
package scheduler

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/lifecycle"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/metrics"
	"github.com/autopay-labs/x402-agent/internal/payment"
	"github.com/autopay-labs/x402-agent/internal/repository"
	"github.com/autopay-labs/x402-agent/internal/request"
	"github.com/autopay-labs/x402-agent/internal/session"
	"github.com/robfig/cron/v3"
)

// MinTickInterval and defaults for scheduling cadence and scoring.
const (
	MinTickInterval    = 5 * time.Second
	DefaultMinRunScore = 0.5
	DefaultMaxBackoff  = 900 * time.Second
)

// Config configures a Scheduler.
type Config struct {
	Interval    time.Duration
	MinRunScore float64
	MaxBackoff  time.Duration
	WalletID    string
}

// Scheduler periodically advances the autonomy task queue.
type Scheduler struct {
	tasks       repository.AutonomyTasks
	coordinator *request.Coordinator
	executor    *payment.Executor
	sessions    *session.Registry
	ledger      *ledger.Ledger
	bus         *bus.Bus
	clock       clock.Clock
	log         *logging.Logger

	interval    time.Duration
	minRunScore float64
	maxBackoff  time.Duration
	walletID    string

	cron      *cron.Cron
	sessionID string

	base *lifecycle.ServiceBase
}

// New constructs a Scheduler. Config zero values fall back to the package
// defaults; Interval is floored at MinTickInterval.
func New(
	tasks repository.AutonomyTasks,
	coordinator *request.Coordinator,
	executor *payment.Executor,
	sessions *session.Registry,
	l *ledger.Ledger,
	b *bus.Bus,
	c clock.Clock,
	log *logging.Logger,
	cfg Config,
) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.NewDefault("scheduler")
	}
	interval := cfg.Interval
	if interval < MinTickInterval {
		interval = MinTickInterval
	}
	minScore := cfg.MinRunScore
	if minScore <= 0 {
		minScore = DefaultMinRunScore
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	return &Scheduler{
		tasks: tasks, coordinator: coordinator, executor: executor, sessions: sessions,
		ledger: l, bus: b, clock: c, log: log,
		interval: interval, minRunScore: minScore, maxBackoff: maxBackoff, walletID: cfg.WalletID,
		base: lifecycle.NewServiceBase("scheduler", "autonomy"),
	}
}

// State reports the scheduler's lifecycle state, surfaced for health and
// readiness checks.
func (s *Scheduler) State() lifecycle.ServiceState {
	return s.base.State()
}

// Start registers the tick as a cron job and begins running it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		if err := s.Tick(ctx); err != nil {
			s.log.WithError(err).Warn("scheduler tick failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.base.MarkStarted()
	return nil
}

// Stop halts the cron job and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.base.MarkStopped()
}

// candidate pairs a task with its computed score for one tick's ranking.
type candidate struct {
	task  *domain.AutonomyTask
	score float64
}

// Tick runs one full scheduling pass: rank eligible tasks, lock and run the
// best candidate, and persist its outcome.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	all, err := s.tasks.List(ctx)
	if err != nil {
		metrics.SchedulerTicks.WithLabelValues("list-error").Inc()
		return err
	}

	candidates := make([]candidate, 0, len(all))
	for _, t := range all {
		if !t.Runnable(now) {
			continue
		}
		sc := score(t, now)
		metrics.SchedulerTaskScore.WithLabelValues(string(t.Endpoint)).Set(sc)
		if sc < s.minRunScore {
			continue
		}
		candidates = append(candidates, candidate{task: t, score: sc})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].task.Endpoint < candidates[j].task.Endpoint
	})

	for _, cand := range candidates {
		if err := s.tasks.TryLock(ctx, cand.task.Endpoint, now); err != nil {
			if err == repository.ErrLockNotAcquired {
				continue
			}
			metrics.SchedulerTicks.WithLabelValues("lock-error").Inc()
			continue
		}
		return s.runTask(ctx, cand.task, cand.score, now)
	}

	metrics.SchedulerTicks.WithLabelValues("noop").Inc()
	return nil
}

// score computes the task ranking formula:
// (freshnessSeconds / freshnessWindow) * (valueScore / cost), zero on a
// non-positive or non-finite cost. freshnessSeconds is measured since the
// task's last successful run, not its last attempt, so a run that fails
// repeatedly keeps accumulating staleness instead of resetting its clock.
func score(t *domain.AutonomyTask, now time.Time) float64 {
	if t.Cost <= 0 || math.IsNaN(t.Cost) || math.IsInf(t.Cost, 0) {
		return 0
	}
	window := t.FreshnessWindow.Seconds()
	if window <= 0 {
		window = 1
	}
	var freshnessSeconds float64
	if t.LastSuccessAt != nil {
		freshnessSeconds = now.Sub(*t.LastSuccessAt).Seconds()
	} else {
		freshnessSeconds = window * 2
	}
	if freshnessSeconds < 1 {
		freshnessSeconds = 1
	}
	ratio := freshnessSeconds / window
	sc := ratio * (t.ValueScore / t.Cost)
	if math.IsNaN(sc) || math.IsInf(sc, 0) {
		return 0
	}
	return sc
}

// runTask drives one locked task's endpoint through request creation and
// payment execution, then releases the lock with the resulting status.
func (s *Scheduler) runTask(ctx context.Context, t *domain.AutonomyTask, sc float64, now time.Time) error {
	t.LastRunAt = &now
	t.LastScore = sc

	sessionID, err := s.ensureSession(ctx)
	if err != nil {
		return s.recordFailure(ctx, t, now, err)
	}

	req, err := s.coordinator.RequestOrAdvance(ctx, t.Endpoint, "")
	if err != nil {
		return s.recordFailure(ctx, t, now, err)
	}

	if _, err := s.executor.Execute(ctx, req.ID, sessionID); err != nil {
		return s.recordFailure(ctx, t, now, err)
	}

	if _, err := s.coordinator.RequestOrAdvance(ctx, t.Endpoint, req.ID); err != nil {
		return s.recordFailure(ctx, t, now, err)
	}

	t.Status = domain.TaskIdle
	t.FailureCount = 0
	t.LastSuccessAt = &now
	t.NextEligibleAt = now
	t.LastError = ""
	if err := s.tasks.Release(ctx, t); err != nil {
		s.log.WithError(err).Error("task release failed after success")
	}
	metrics.SchedulerTicks.WithLabelValues("success").Inc()
	if s.ledger != nil {
		_, _ = s.ledger.Append(ctx, domain.CategoryAutonomy, "scheduler-task-success",
			ledger.WithRequestID(req.ID), ledger.WithMetadata(map[string]any{"endpoint": string(t.Endpoint), "score": sc}))
	}
	return nil
}

// recordFailure applies exponential backoff capped at maxBackoff and
// releases the task lock.
func (s *Scheduler) recordFailure(ctx context.Context, t *domain.AutonomyTask, now time.Time, cause error) error {
	t.FailureCount++
	t.Status = domain.TaskBackoff
	t.LastError = cause.Error()

	backoff := t.BaseBackoff
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	for i := 1; i < t.FailureCount; i++ {
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
			break
		}
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	t.NextEligibleAt = now.Add(backoff)

	if err := s.tasks.Release(ctx, t); err != nil {
		s.log.WithError(err).Error("task release failed after failure")
	}
	metrics.SchedulerTicks.WithLabelValues("failure").Inc()
	if s.ledger != nil {
		_, _ = s.ledger.Append(ctx, domain.CategoryAutonomy, "scheduler-task-failure",
			ledger.WithMetadata(map[string]any{"endpoint": string(t.Endpoint), "reason": cause.Error(), "backoffSeconds": backoff.Seconds()}))
	}
	return cause
}

// ensureSession returns the scheduler's single owned SessionCapability,
// issuing one on first use and refreshing or reissuing it once it stops
// being ACTIVE.
func (s *Scheduler) ensureSession(ctx context.Context) (string, error) {
	if s.sessionID != "" {
		if _, err := s.sessions.GetActive(ctx, s.sessionID); err == nil {
			return s.sessionID, nil
		}
		if refreshed, err := s.sessions.Refresh(ctx, s.sessionID, session.DefaultTTL); err == nil {
			return refreshed.ID, nil
		}
	}

	cap, err := s.sessions.Issue(ctx, session.IssueParams{WalletID: s.walletID, SessionKey: s.walletID})
	if err != nil {
		return "", err
	}
	s.sessionID = cap.ID
	return cap.ID, nil
}
