// Package request implements the Request Coordinator: the
// only component that creates PremiumRequest rows, advances them toward
// FULFILLED, and reconciles the facilitator's signed callback. It is
// built on the account-pool request-dispatch pattern found in
// infrastructure/accountpool/marble/service.go, narrowed to the x402
// closed-catalog offering flow.
package request

import (
	"context"
	"strings"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/facilitator"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/repository"
)

// callbackRetryAttempts and callbackRetryBackoff bound the retry-on-conflict
// loop when reconciling a facilitator callback against a concurrently
// advancing request.
const (
	callbackRetryAttempts = 3
	callbackRetryBackoff  = 150 * time.Millisecond
)

// Coordinator manages the PremiumRequest lifecycle.
type Coordinator struct {
	requests    repository.Requests
	payments    repository.Payments
	facilitator *facilitator.Client
	ledger      *ledger.Ledger
	clock       clock.Clock
	log         *logging.Logger
}

// New constructs a Coordinator.
func New(requests repository.Requests, payments repository.Payments, fc *facilitator.Client, l *ledger.Ledger, c clock.Clock, log *logging.Logger) *Coordinator {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.NewDefault("request-coordinator")
	}
	return &Coordinator{requests: requests, payments: payments, facilitator: fc, ledger: l, clock: c, log: log}
}

// RequestOrAdvance creates a fresh PremiumRequest for endpoint when
// existingID is empty, or advances an existing one toward FULFILLED when its
// Payment has already confirmed:
//
//	FULFILLED | PAID          -> returns as FULFILLED, attaching the catalog payload once
//	PAYMENT_REQUIRED | FAILED -> returned unchanged; payment/creation is the caller's next step
func (c *Coordinator) RequestOrAdvance(ctx context.Context, endpoint domain.EndpointTag, existingID string) (*domain.PremiumRequest, error) {
	if existingID != "" {
		return c.advance(ctx, existingID)
	}
	return c.create(ctx, endpoint)
}

func (c *Coordinator) create(ctx context.Context, endpoint domain.EndpointTag) (*domain.PremiumRequest, error) {
	offering, ok := domain.Lookup(endpoint)
	if !ok {
		return nil, apperrors.InvalidInput("endpoint", "unknown premium endpoint")
	}

	now := c.clock.Now()
	req := &domain.PremiumRequest{
		ID:             clock.NewID(),
		Endpoint:       endpoint,
		Status:         domain.RequestPaymentRequired,
		Amount:         offering.Amount,
		Currency:       offering.Currency,
		FacilitatorURL: offering.FacilitatorURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.requests.Create(ctx, req); err != nil {
		return nil, apperrors.Internal("request create failed", err)
	}
	if c.ledger != nil {
		_, _ = c.ledger.Append(ctx, domain.CategoryRequest, "request-created",
			ledger.WithRequestID(req.ID), ledger.WithMetadata(map[string]any{"endpoint": string(endpoint)}))
	}
	return req, nil
}

func (c *Coordinator) advance(ctx context.Context, id string) (*domain.PremiumRequest, error) {
	req, err := c.requests.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.RequestNotFound(id)
		}
		return nil, apperrors.Internal("request lookup failed", err)
	}

	if req.Status != domain.RequestPaid {
		return req, nil
	}
	return c.fulfill(ctx, req)
}

// fulfill attaches the deterministic catalog payload and transitions a PAID
// request to FULFILLED. The payload is never fabricated or client-specific
//.
func (c *Coordinator) fulfill(ctx context.Context, req *domain.PremiumRequest) (*domain.PremiumRequest, error) {
	offering, ok := domain.Lookup(req.Endpoint)
	if !ok {
		return nil, apperrors.InvalidInput("endpoint", "unknown premium endpoint")
	}
	if !req.CanTransitionTo(domain.RequestFulfilled) {
		// Already raced to FULFILLED by a concurrent caller; idempotent.
		return req, nil
	}

	req.DataPayload = offering.Payload
	req.Status = domain.RequestFulfilled
	req.UpdatedAt = c.clock.Now()
	if err := c.requests.Update(ctx, req); err != nil {
		return nil, apperrors.Internal("request fulfill failed", err)
	}
	if c.ledger != nil {
		_, _ = c.ledger.Append(ctx, domain.CategoryRequest, "request-fulfilled",
			ledger.WithRequestID(req.ID))
	}
	return req, nil
}

// parseCallbackStatus maps a facilitator callback's status field to the
// Payment outcome it asserts. An empty status is treated as an implicit
// confirmation for callers still posting the legacy txHash-only body.
func parseCallbackStatus(status string) (domain.PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "confirmed":
		return domain.PaymentConfirmed, nil
	case "rejected", "failed":
		return domain.PaymentFailed, nil
	default:
		return "", apperrors.InvalidInput("status", "unrecognized facilitator callback status")
	}
}

// reconcilePaymentStatus drives the Payment row's status, failureCode, and
// confirmedAt to match the facilitator's verdict via an optimistic-lock CAS,
// retrying on a concurrent version conflict. This is what actually flips a
// previously-FAILED payment to CONFIRMED (or the reverse) instead of leaving
// the Payment row's status stale relative to the facilitator's callback.
func (c *Coordinator) reconcilePaymentStatus(ctx context.Context, txHash string, status domain.PaymentStatus, reason string) error {
	failureCode := ""
	var confirmedAt *time.Time
	if status == domain.PaymentConfirmed {
		now := c.clock.Now()
		confirmedAt = &now
	} else {
		failureCode = reason
	}

	for attempt := 0; attempt < callbackRetryAttempts; attempt++ {
		vp, err := c.payments.GetByTxHash(ctx, txHash)
		if err != nil {
			return apperrors.Internal("payment lookup failed", err)
		}
		if vp.Payment.Status == status {
			return nil
		}
		err = c.payments.UpdateStatus(ctx, vp.Payment.ID, vp.Version, status, failureCode, confirmedAt)
		if err == nil {
			return nil
		}
		if err != repository.ErrVersionConflict {
			return apperrors.Internal("payment status update failed", err)
		}
		time.Sleep(callbackRetryBackoff * time.Duration(attempt+1))
	}
	return apperrors.Internal("payment status update failed after retries", repository.ErrVersionConflict)
}

// failRequestForPayment transitions a non-terminal request to FAILED when the
// facilitator's callback rejects its payment.
func (c *Coordinator) failRequestForPayment(ctx context.Context, requestID, txHash, reason string) error {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		if err == repository.ErrNotFound {
			return apperrors.RequestNotFound(requestID)
		}
		return apperrors.Internal("request lookup failed", err)
	}
	if req.Status.IsTerminal() {
		return nil
	}
	req.Status = domain.RequestFailed
	req.UpdatedAt = c.clock.Now()
	if err := c.requests.Update(ctx, req); err != nil {
		return apperrors.Internal("request fail failed", err)
	}
	if c.ledger != nil {
		_, _ = c.ledger.Append(ctx, domain.CategoryRequest, "facilitator-callback-rejected",
			ledger.WithRequestID(req.ID), ledger.WithTxHash(txHash),
			ledger.WithMetadata(map[string]any{"reason": reason}))
	}
	return nil
}

// HandleFacilitatorCallback verifies and reconciles an inbound facilitator
// callback naming a transaction hash, the facilitator's verdict (status), and
// an optional reason. A callback for a request that is already FULFILLED is
// a no-op logged as a duplicate rather than an error — the facilitator may
// retry its webhook. The Payment row's status/failureCode/confirmedAt are
// always reconciled against status, even when the request itself does not
// advance.
func (c *Coordinator) HandleFacilitatorCallback(ctx context.Context, signatureHex string, rawBody []byte, txHash, status, reason string) error {
	if c.facilitator == nil || !c.facilitator.VerifyCallback(signatureHex, rawBody) {
		return apperrors.FacilitatorSignatureInvalid()
	}

	paymentStatus, err := parseCallbackStatus(status)
	if err != nil {
		return err
	}

	vp, err := c.payments.GetByTxHash(ctx, txHash)
	if err != nil {
		if err == repository.ErrNotFound {
			return apperrors.UnknownTransaction(txHash)
		}
		return apperrors.Internal("payment lookup failed", err)
	}

	if err := c.reconcilePaymentStatus(ctx, txHash, paymentStatus, reason); err != nil {
		return err
	}

	if paymentStatus != domain.PaymentConfirmed {
		return c.failRequestForPayment(ctx, vp.Payment.RequestID, txHash, reason)
	}

	var lastErr error
	for attempt := 0; attempt < callbackRetryAttempts; attempt++ {
		req, err := c.requests.Get(ctx, vp.Payment.RequestID)
		if err != nil {
			return apperrors.Internal("request lookup failed", err)
		}

		if req.Status == domain.RequestFulfilled {
			if c.ledger != nil {
				_, _ = c.ledger.Append(ctx, domain.CategoryRequest, "facilitator-callback-duplicate",
					ledger.WithRequestID(req.ID), ledger.WithPaymentID(vp.Payment.ID), ledger.WithTxHash(txHash))
			}
			return nil
		}

		if req.Status != domain.RequestPaid {
			if c.ledger != nil {
				_, _ = c.ledger.Append(ctx, domain.CategoryRequest, "facilitator-callback",
					ledger.WithRequestID(req.ID), ledger.WithPaymentID(vp.Payment.ID), ledger.WithTxHash(txHash),
					ledger.WithMetadata(map[string]any{"requestStatus": string(req.Status)}))
			}
			return nil
		}

		_, err = c.fulfill(ctx, req)
		if err == nil {
			if c.ledger != nil {
				_, _ = c.ledger.Append(ctx, domain.CategoryRequest, "facilitator-callback",
					ledger.WithRequestID(req.ID), ledger.WithPaymentID(vp.Payment.ID), ledger.WithTxHash(txHash))
			}
			return nil
		}
		lastErr = err
		if apperrors.Code(err) != apperrors.ErrCodeInternal {
			return err
		}
		time.Sleep(callbackRetryBackoff * time.Duration(attempt+1))
	}
	return lastErr
}
