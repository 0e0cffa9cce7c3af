// Command agent boots the x402 payment orchestration core: it wires the
// Repository, Bus, Ledger, Session Registry, Balance Monitor, Facilitator
// Client, Payment Executor, Request Coordinator, Scheduler, and the thin
// HTTP boundary, then serves until signaled to stop. Built on the
// service-entrypoint wiring style in cmd/marble-service/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/autopay-labs/x402-agent/internal/balance"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/chainclient"
	"github.com/autopay-labs/x402-agent/internal/config"
	"github.com/autopay-labs/x402-agent/internal/facilitator"
	"github.com/autopay-labs/x402-agent/internal/httpapi"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/payment"
	"github.com/autopay-labs/x402-agent/internal/repository/memory"
	"github.com/autopay-labs/x402-agent/internal/request"
	"github.com/autopay-labs/x402-agent/internal/scheduler"
	"github.com/autopay-labs/x402-agent/internal/session"
	"github.com/hashicorp/go-multierror"
)

func main() {
	cfg := config.Load()
	log := logging.New("agent", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	repo := memory.New()
	b := bus.New(logging.New("bus", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))
	ledgerSvc := ledger.New(repo.LedgerEntries(), b, logging.New("ledger", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	chain := chainclient.NewSimulated(map[string]int64{
		cfg.PaymentRecipientPubKey: 0,
	})

	sessions := session.New(repo.Sessions(), ledgerSvc, nil, logging.New("session-registry", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	gate := balance.New(chain, repo.BalanceSnapshots(), repo.SystemStates(), ledgerSvc, b, nil,
		logging.New("balance-monitor", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}),
		balance.Config{
			PublicKey: cfg.PaymentRecipientPubKey,
			Threshold: cfg.BalanceThreshold,
			Interval:  cfg.BalancePollInterval(),
		})

	fc := facilitator.New(cfg.FacilitatorSecret, ledgerSvc, logging.New("facilitator-client", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	executor := payment.New(
		repo.Requests(), repo.Payments(), sessions, gate, chain, fc, ledgerSvc, b, nil,
		logging.New("payment-executor", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}),
		payment.Signer{PublicKey: cfg.PaymentRecipientPubKey, PrivateKey: cfg.SignerPrivateKey},
		cfg.PaymentRecipientPubKey,
	)

	coordinator := request.New(repo.Requests(), repo.Payments(), fc, ledgerSvc, nil,
		logging.New("request-coordinator", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	sched := scheduler.New(repo.AutonomyTasks(), coordinator, executor, sessions, ledgerSvc, b, nil,
		logging.New("scheduler", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}),
		scheduler.Config{
			Interval:    cfg.AutonomyQueueInterval(),
			MinRunScore: cfg.AutonomyMinRunScore,
			MaxBackoff:  cfg.AutonomyMaxBackoff(),
			WalletID:    cfg.PaymentRecipientPubKey,
		})

	server := httpapi.New(coordinator, executor, gate, repo.AutonomyTasks(), ledgerSvc, b, sched, cfg.AdminAPIKey,
		logging.New("http-api", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startAll(ctx, gate, sched); err != nil {
		log.WithError(err).Fatal("one or more background loops failed to start")
	}

	httpSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: server.Router,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	gate.Stop()
	sched.Stop()
	cancel()
}

// startAll starts every periodic background loop, aggregating any non-fatal
// start failures into a single error so the operator sees the full picture
// instead of only the first failure.
func startAll(ctx context.Context, gate *balance.Monitor, sched *scheduler.Scheduler) error {
	var result *multierror.Error
	if err := gate.Start(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := sched.Start(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
