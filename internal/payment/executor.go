// Package payment implements the Payment Executor: the one
// component authorized to move money. It is built on the gasbank settlement
// flow in infrastructure/gasbank/settlement.go — resolve signer, build
// transaction, submit, await confirmation, persist outcome — generalized to
// the x402 premium-request lifecycle and wired through the Balance Monitor
// gate and Session Registry.
package payment

import (
	"context"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/balance"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/chainclient"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/facilitator"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/metrics"
	"github.com/autopay-labs/x402-agent/internal/money"
	"github.com/autopay-labs/x402-agent/internal/repository"
	"github.com/autopay-labs/x402-agent/internal/session"
)

// Signer holds the wallet credentials the executor transfers from. A
// production deployment loads this from a secrets manager; it is passed in
// verbatim here since key custody is explicitly out of scope.
type Signer struct {
	PublicKey  string
	PrivateKey string
}

// Executor carries out the full payment lifecycle for one PremiumRequest.
type Executor struct {
	requests    repository.Requests
	payments    repository.Payments
	sessions    *session.Registry
	gate        *balance.Monitor
	chain       chainclient.Client
	facilitator *facilitator.Client
	ledger      *ledger.Ledger
	bus         *bus.Bus
	clock       clock.Clock
	log         *logging.Logger
	signer      Signer
	recipient   string
}

// New constructs an Executor. recipient is the configured on-chain public
// key every settled transfer pays out to — distinct from signer, which is
// the wallet the transfer is signed from.
func New(
	requests repository.Requests,
	payments repository.Payments,
	sessions *session.Registry,
	gate *balance.Monitor,
	chain chainclient.Client,
	fc *facilitator.Client,
	l *ledger.Ledger,
	b *bus.Bus,
	c clock.Clock,
	log *logging.Logger,
	signer Signer,
	recipient string,
) *Executor {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.NewDefault("payment-executor")
	}
	return &Executor{
		requests: requests, payments: payments, sessions: sessions, gate: gate,
		chain: chain, facilitator: fc, ledger: l, bus: b, clock: c, log: log, signer: signer,
		recipient: recipient,
	}
}

// Execute runs the full settlement algorithm for requestID.
// sessionID is optional; an empty string settles directly under the
// executor's own signer instead of a scoped SessionCapability.
func (e *Executor) Execute(ctx context.Context, requestID, sessionID string) (*domain.Payment, error) {
	if err := e.gate.EnsureActive(ctx); err != nil {
		return nil, err
	}

	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.RequestNotFound(requestID)
		}
		return nil, apperrors.Internal("request lookup failed", err)
	}
	if !req.CanTransitionTo(domain.RequestPaid) {
		switch req.Status {
		case domain.RequestFulfilled, domain.RequestPaid:
			// A client retrying execution against a request that already
			// settled — return the existing payment idempotently instead of
			// erroring, rather than re-driving a second transfer.
			return e.existingPayment(ctx, req)
		default:
			return nil, apperrors.InvalidInput("requestId", "request is not awaiting payment")
		}
	}

	var cap *domain.SessionCapability
	if sessionID != "" {
		cap, err = e.sessions.GetActive(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	amt, err := money.New(req.Amount)
	if err != nil {
		return nil, apperrors.InvalidInput("amount", "malformed request amount")
	}
	fromKey := e.signer.PrivateKey
	if cap != nil {
		fromKey = cap.SessionKey
	}

	blockhash, err := e.chain.RecentBlockhash(ctx)
	if err != nil {
		synthetic := clock.SyntheticTxHash()
		return e.fail(ctx, req, synthetic, apperrors.ChainRejected("blockhash_unavailable", err))
	}

	txHash, err := e.chain.SubmitTransfer(ctx, chainclient.Transfer{
		FromPrivateKey:  fromKey,
		ToPublicKey:     e.recipient,
		LamportAmount:   amt.ToSmallestUnit(),
		RecentBlockhash: blockhash,
	})
	if err != nil {
		synthetic := clock.SyntheticTxHash()
		return e.fail(ctx, req, synthetic, apperrors.ChainRejected("submit_failed", err))
	}

	if e.ledger != nil {
		_, _ = e.ledger.Append(ctx, domain.CategoryPayment, "payment-submitted",
			ledger.WithRequestID(req.ID), ledger.WithTxHash(txHash))
	}

	if err := e.chain.ConfirmTransaction(ctx, txHash, chainclient.CommitmentConfirmed); err != nil {
		return e.fail(ctx, req, txHash, apperrors.ChainTimeout(txHash))
	}

	now := e.clock.Now()
	p := &domain.Payment{
		ID:          clock.NewID(),
		RequestID:   req.ID,
		TxHash:      txHash,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      domain.PaymentConfirmed,
		ConfirmedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.payments.Create(ctx, p); err != nil {
		if err == repository.ErrDuplicateTxHash {
			// The chain confirmed a signature this executor already
			// recorded a payment for — a retried confirmation poll or a
			// duplicate callback, not a new payment. Adopt the existing
			// row idempotently rather than erroring.
			existing, getErr := e.payments.GetByTxHash(ctx, txHash)
			if getErr != nil {
				return nil, apperrors.Internal("duplicate payment reconciliation failed", getErr)
			}
			return existing.Payment, nil
		}
		return nil, apperrors.Internal("payment create failed", err)
	}

	req.Status = domain.RequestPaid
	req.PaymentRef = txHash
	req.UpdatedAt = now
	if err := e.requests.Update(ctx, req); err != nil {
		e.log.WithError(err).Error("request update to PAID failed after confirmed payment")
	}

	if cap != nil {
		if err := e.sessions.IncrementUsage(ctx, cap.ID); err != nil {
			e.log.WithError(err).Warn("session usage increment failed")
		}
	}

	if e.gate != nil {
		_ = e.gate.Sample(ctx, "payment")
	}

	metrics.PaymentOutcomes.WithLabelValues("confirmed").Inc()
	if e.ledger != nil {
		_, _ = e.ledger.Append(ctx, domain.CategoryPayment, "payment-confirmed",
			ledger.WithRequestID(req.ID), ledger.WithPaymentID(p.ID), ledger.WithTxHash(txHash))
	}
	if e.bus != nil {
		e.bus.Publish(bus.EventPaymentStatus, p)
	}

	if e.facilitator != nil && req.FacilitatorURL != "" {
		e.facilitator.Submit(ctx, req.FacilitatorURL, facilitator.SubmissionPayload{
			PaymentID: p.ID, RequestID: req.ID, TxHash: txHash,
			Amount: p.Amount, Currency: p.Currency,
		})
	}

	return p, nil
}

// existingPayment looks up the payment already recorded against req's
// confirmed signature, for a request that has moved past PAYMENT_REQUIRED.
func (e *Executor) existingPayment(ctx context.Context, req *domain.PremiumRequest) (*domain.Payment, error) {
	if req.PaymentRef == "" {
		return nil, apperrors.InvalidInput("requestId", "request is not awaiting payment")
	}
	existing, err := e.payments.GetByTxHash(ctx, req.PaymentRef)
	if err != nil {
		return nil, apperrors.Internal("existing payment lookup failed", err)
	}
	return existing.Payment, nil
}

// fail persists a FAILED payment row, marks the request FAILED, and returns
// the classified error. A rejected or unconfirmable submission is treated as
// terminal for the request — the caller must create a fresh request to
// retry.
func (e *Executor) fail(ctx context.Context, req *domain.PremiumRequest, txHash string, classified *apperrors.ServiceError) (*domain.Payment, error) {
	now := e.clock.Now()
	p := &domain.Payment{
		ID:          clock.NewID(),
		RequestID:   req.ID,
		TxHash:      txHash,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      domain.PaymentFailed,
		FailureCode: string(classified.Code),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.payments.Create(ctx, p); err != nil {
		e.log.WithError(err).Error("failed-payment persist failed")
	}

	req.Status = domain.RequestFailed
	req.UpdatedAt = now
	if err := e.requests.Update(ctx, req); err != nil {
		e.log.WithError(err).Error("request update to FAILED failed")
	}

	metrics.PaymentOutcomes.WithLabelValues("failed").Inc()
	if e.ledger != nil {
		_, _ = e.ledger.Append(ctx, domain.CategoryPayment, "payment-failed",
			ledger.WithRequestID(req.ID), ledger.WithPaymentID(p.ID), ledger.WithTxHash(txHash),
			ledger.WithMetadata(map[string]any{"code": string(classified.Code), "message": classified.Error()}))
	}
	if e.bus != nil {
		e.bus.Publish(bus.EventPaymentStatus, p)
	}
	return nil, classified
}
