// Package metrics declares the Prometheus collectors for service
// instrumentation, using prometheus/client_golang directly. They register on
// the default Prometheus registry; the HTTP boundary mounts no /metrics route,
// so nothing in this repository serves them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerAppends counts every committed ledger entry by category and event.
var LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "x402_agent_ledger_appends_total",
	Help: "Total ledger entries appended, by category and event.",
}, []string{"category", "event"})

// PaymentOutcomes counts Payment Executor terminal outcomes.
var PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "x402_agent_payment_outcomes_total",
	Help: "Total payment executions, by outcome.",
}, []string{"outcome"})

// BalanceGauge reports the most recently observed wallet balance.
var BalanceGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "x402_agent_wallet_balance",
	Help: "Most recently sampled wallet balance.",
})

// PaymentsPausedGauge is 1 when the payments gate is closed, 0 otherwise.
var PaymentsPausedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "x402_agent_payments_paused",
	Help: "1 if payments are currently paused, 0 otherwise.",
})

// SchedulerTaskScore reports the last computed score per endpoint.
var SchedulerTaskScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "x402_agent_scheduler_task_score",
	Help: "Last computed scheduler score, by endpoint.",
}, []string{"endpoint"})

// SchedulerTicks counts scheduler tick outcomes.
var SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "x402_agent_scheduler_ticks_total",
	Help: "Total scheduler ticks, by outcome.",
}, []string{"outcome"})
