package request

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/facilitator"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, secret string) (*Coordinator, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	l := ledger.New(repo.LedgerEntries(), nil, logging.NewDefault("test"))
	fc := facilitator.New(secret, l, logging.NewDefault("test"))
	return New(repo.Requests(), repo.Payments(), fc, l, nil, logging.NewDefault("test")), repo
}

func TestRequestOrAdvance_CreatesFromClosedCatalog(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, "")

	req, err := c.RequestOrAdvance(ctx, "market", "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPaymentRequired, req.Status)
	assert.Equal(t, "0.05", req.Amount)
	assert.Equal(t, "USDC", req.Currency)
}

func TestRequestOrAdvance_UnknownEndpointRejected(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, "")

	_, err := c.RequestOrAdvance(ctx, "not-a-real-endpoint", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestRequestOrAdvance_AttachesPayloadOncePaid(t *testing.T) {
	ctx := context.Background()
	c, repo := newTestCoordinator(t, "")

	req, err := c.RequestOrAdvance(ctx, "knowledge", "")
	require.NoError(t, err)
	req.Status = domain.RequestPaid
	req.PaymentRef = "tx-1"
	require.NoError(t, repo.Requests().Update(ctx, req))

	advanced, err := c.RequestOrAdvance(ctx, "", req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFulfilled, advanced.Status)
	assert.NotNil(t, advanced.DataPayload)
	assert.Equal(t, domain.Catalog["knowledge"].Payload["summary"], advanced.DataPayload["summary"])
}

func TestHandleFacilitatorCallback_RejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, "shared-secret")

	err := c.HandleFacilitatorCallback(ctx, "deadbeef", []byte(`{"txHash":"tx-1"}`), "tx-1", "confirmed", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeFacilitatorSignatureBad, apperrors.Code(err))
}

func TestHandleFacilitatorCallback_FulfillsOnValidSignature(t *testing.T) {
	ctx := context.Background()
	secret := "shared-secret"
	c, repo := newTestCoordinator(t, secret)

	req, err := c.RequestOrAdvance(ctx, "market", "")
	require.NoError(t, err)
	require.NoError(t, repo.Payments().Create(ctx, &domain.Payment{
		ID: "pay-1", RequestID: req.ID, TxHash: "tx-1", Status: domain.PaymentConfirmed,
	}))
	req.Status = domain.RequestPaid
	req.PaymentRef = "tx-1"
	require.NoError(t, repo.Requests().Update(ctx, req))

	body, err := json.Marshal(map[string]string{"txHash": "tx-1", "status": "confirmed"})
	require.NoError(t, err)
	sig := signBody(secret, body)

	require.NoError(t, c.HandleFacilitatorCallback(ctx, sig, body, "tx-1", "confirmed", ""))

	updated, err := repo.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFulfilled, updated.Status)

	pay, err := repo.Payments().GetByTxHash(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, pay.Payment.Status)
}

func TestHandleFacilitatorCallback_RejectionFailsRequestAndPayment(t *testing.T) {
	ctx := context.Background()
	secret := "shared-secret"
	c, repo := newTestCoordinator(t, secret)

	req, err := c.RequestOrAdvance(ctx, "market", "")
	require.NoError(t, err)
	require.NoError(t, repo.Payments().Create(ctx, &domain.Payment{
		ID: "pay-1", RequestID: req.ID, TxHash: "tx-1", Status: domain.PaymentConfirmed,
	}))
	req.Status = domain.RequestPaid
	req.PaymentRef = "tx-1"
	require.NoError(t, repo.Requests().Update(ctx, req))

	body, err := json.Marshal(map[string]string{"txHash": "tx-1", "status": "rejected", "reason": "insufficient_funds"})
	require.NoError(t, err)
	sig := signBody(secret, body)

	require.NoError(t, c.HandleFacilitatorCallback(ctx, sig, body, "tx-1", "rejected", "insufficient_funds"))

	updatedReq, err := repo.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFailed, updatedReq.Status)

	pay, err := repo.Payments().GetByTxHash(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, pay.Payment.Status)
	assert.Equal(t, "insufficient_funds", pay.Payment.FailureCode)
}

func TestHandleFacilitatorCallback_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	secret := "shared-secret"
	c, repo := newTestCoordinator(t, secret)

	req, err := c.RequestOrAdvance(ctx, "market", "")
	require.NoError(t, err)
	require.NoError(t, repo.Payments().Create(ctx, &domain.Payment{
		ID: "pay-1", RequestID: req.ID, TxHash: "tx-1", Status: domain.PaymentConfirmed,
	}))
	req.Status = domain.RequestFulfilled
	req.DataPayload = domain.Catalog["market"].Payload
	require.NoError(t, repo.Requests().Update(ctx, req))

	body, err := json.Marshal(map[string]string{"txHash": "tx-1", "status": "confirmed"})
	require.NoError(t, err)
	sig := signBody(secret, body)

	require.NoError(t, c.HandleFacilitatorCallback(ctx, sig, body, "tx-1", "confirmed", ""))
}

func TestHandleFacilitatorCallback_UnknownTransaction(t *testing.T) {
	ctx := context.Background()
	secret := "shared-secret"
	c, _ := newTestCoordinator(t, secret)

	body := []byte(`{"txHash":"never-seen"}`)
	sig := signBody(secret, body)

	err := c.HandleFacilitatorCallback(ctx, sig, body, "never-seen", "confirmed", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownTransaction, apperrors.Code(err))
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
