// Package balance implements the Balance Monitor: a
// periodically-polled wallet balance that derives a status and drives the
// SystemState payments gate. It is built on the gasbank settlement poller
// pattern in infrastructure/gasbank/poller.go — a cron-driven sampling loop
// that persists a snapshot and reacts to threshold crossings — generalized
// here to the wallet balance pause/resume gate.
package balance

import (
	"context"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/chainclient"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/lifecycle"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/metrics"
	"github.com/autopay-labs/x402-agent/internal/money"
	"github.com/autopay-labs/x402-agent/internal/repository"
	"github.com/robfig/cron/v3"
)

// MinPollInterval is the floor enforced on the poll
// interval regardless of configuration.
const MinPollInterval = 5 * time.Second

// Monitor samples the wallet balance on a fixed cadence, persists a
// BalanceSnapshot, and flips the SystemState payments gate on threshold
// crossings.
type Monitor struct {
	chain     chainclient.Client
	snapshots repository.BalanceSnapshots
	states    repository.SystemStates
	ledger    *ledger.Ledger
	bus       *bus.Bus
	clock     clock.Clock
	log       *logging.Logger

	publicKey string
	threshold float64
	interval  time.Duration

	cron   *cron.Cron
	entryID cron.EntryID

	base *lifecycle.ServiceBase
}

// Config configures a Monitor.
type Config struct {
	PublicKey string
	Threshold float64
	Interval  time.Duration
}

// New constructs a Monitor. An Interval below MinPollInterval is raised to
// the floor.
func New(chain chainclient.Client, snapshots repository.BalanceSnapshots, states repository.SystemStates, l *ledger.Ledger, b *bus.Bus, c clock.Clock, log *logging.Logger, cfg Config) *Monitor {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.NewDefault("balance-monitor")
	}
	interval := cfg.Interval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Monitor{
		chain:     chain,
		snapshots: snapshots,
		states:    states,
		ledger:    l,
		bus:       b,
		clock:     c,
		log:       log,
		publicKey: cfg.PublicKey,
		threshold: cfg.Threshold,
		interval:  interval,
		base:      lifecycle.NewServiceBase("balance-monitor", "payments"),
	}
}

// State reports the monitor's lifecycle state.
func (m *Monitor) State() lifecycle.ServiceState {
	return m.base.State()
}

// Start registers the polling cron job and runs an immediate first sample so
// the gate reflects reality before the first tick elapses.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	spec := "@every " + m.interval.String()
	id, err := m.cron.AddFunc(spec, func() {
		if err := m.Sample(ctx, "poll"); err != nil {
			m.log.WithError(err).Warn("balance poll failed")
		}
	})
	if err != nil {
		return err
	}
	m.entryID = id
	m.cron.Start()
	m.base.MarkStarted()

	if err := m.Sample(ctx, "poll"); err != nil {
		m.log.WithError(err).Warn("initial balance sample failed")
	}
	return nil
}

// Stop halts the polling cron job and waits for any in-flight run to finish.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.base.MarkStopped()
}

// Sample takes one balance reading, persists it, and applies the gate
// transition. source distinguishes a scheduled poll from a sample taken as
// a side effect of a payment.
func (m *Monitor) Sample(ctx context.Context, source string) error {
	now := m.clock.Now()
	bal, err := m.chain.GetBalance(ctx, m.publicKey)
	status := domain.BalanceOK
	if err != nil {
		status = domain.BalanceError
	} else if amt, ok := money.FromFloatChecked(bal); !ok || !amt.IsFinite() {
		status = domain.BalanceError
	} else if bal < m.threshold {
		status = domain.BalanceLow
	}

	snap := &domain.BalanceSnapshot{
		ID:        clock.NewID(),
		Balance:   bal,
		Threshold: m.threshold,
		Status:    status,
		Source:    source,
		SampledAt: now,
	}
	if insertErr := m.snapshots.Insert(ctx, snap); insertErr != nil {
		m.log.WithError(insertErr).Error("balance snapshot insert failed")
		return insertErr
	}
	metrics.BalanceGauge.Set(bal)
	if m.bus != nil {
		m.bus.Publish(bus.EventBalanceSnapshot, snap)
	}

	return m.applyGate(ctx, status, bal)
}

// applyGate pauses or resumes the payments gate on a status crossing. The
// transition emits a ledger entry only the first time the gate flips, never
// on every sample at the same status.
func (m *Monitor) applyGate(ctx context.Context, status domain.BalanceStatus, bal float64) error {
	state, err := m.states.Get(ctx)
	if err != nil {
		return err
	}

	if status == domain.BalanceError {
		m.log.WithField("balance", bal).Warn("balance sample errored; leaving pause state unchanged")
	}

	shouldPause := status == domain.BalanceLow
	if shouldPause && !state.PaymentsPaused {
		state.PaymentsPaused = true
		state.PauseReason = domain.PauseLowBalance
		state.UpdatedAt = m.clock.Now()
		if err := m.states.Upsert(ctx, state); err != nil {
			return err
		}
		metrics.PaymentsPausedGauge.Set(1)
		if m.ledger != nil {
			_, _ = m.ledger.Append(ctx, domain.CategorySystem, "payments-paused",
				ledger.WithMetadata(map[string]any{"balance": bal, "status": string(status)}))
		}
		if m.bus != nil {
			m.bus.Publish(bus.EventQueueUpdate, state)
		}
		return nil
	}

	if status == domain.BalanceOK && state.PaymentsPaused {
		state.PaymentsPaused = false
		state.PauseReason = ""
		state.UpdatedAt = m.clock.Now()
		if err := m.states.Upsert(ctx, state); err != nil {
			return err
		}
		metrics.PaymentsPausedGauge.Set(0)
		if m.ledger != nil {
			_, _ = m.ledger.Append(ctx, domain.CategorySystem, "payments-resumed",
				ledger.WithMetadata(map[string]any{"balance": bal}))
		}
		if m.bus != nil {
			m.bus.Publish(bus.EventQueueUpdate, state)
		}
	}
	return nil
}

// EnsureActive returns an apperrors PaymentsPaused error if the gate is
// currently closed — the check the Payment Executor performs as its first
// step.
func (m *Monitor) EnsureActive(ctx context.Context) error {
	state, err := m.states.Get(ctx)
	if err != nil {
		return err
	}
	if state.PaymentsPaused {
		return apperrors.PaymentsPaused(string(state.PauseReason))
	}
	return nil
}
