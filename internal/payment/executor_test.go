package payment

import (
	"context"
	"testing"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/balance"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/chainclient"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/facilitator"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/repository/memory"
	"github.com/autopay-labs/x402-agent/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *memory.Repository, *chainclient.Simulated) {
	t.Helper()
	repo := memory.New()
	b := bus.New(logging.NewDefault("test"))
	l := ledger.New(repo.LedgerEntries(), b, logging.NewDefault("test"))
	chain := chainclient.NewSimulated(map[string]int64{"recipient-addr": 0})
	gate := balance.New(chain, repo.BalanceSnapshots(), repo.SystemStates(), l, b, nil, logging.NewDefault("test"), balance.Config{
		PublicKey: "recipient-addr", Threshold: 0,
	})
	sessions := session.New(repo.Sessions(), l, nil, logging.NewDefault("test"))
	fc := facilitator.New("", l, logging.NewDefault("test"))
	exec := New(repo.Requests(), repo.Payments(), sessions, gate, chain, fc, l, b, nil, logging.NewDefault("test"),
		Signer{PublicKey: "signer-pub", PrivateKey: "signer-priv"}, "recipient-addr")
	return exec, repo, chain
}

func seedRequest(t *testing.T, repo *memory.Repository) *domain.PremiumRequest {
	t.Helper()
	ctx := context.Background()
	req := &domain.PremiumRequest{
		ID: "req-1", Endpoint: "market", Status: domain.RequestPaymentRequired,
		Amount: "0.05", Currency: "USDC", FacilitatorURL: "facilitator-addr",
	}
	require.NoError(t, repo.Requests().Create(ctx, req))
	return req
}

func TestExecute_HappyPath_ConfirmsPaymentAndAdvancesRequest(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)

	p, err := exec.Execute(ctx, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, p.Status)
	assert.NotEmpty(t, p.TxHash)

	updated, err := repo.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPaid, updated.Status)
	assert.Equal(t, p.TxHash, updated.PaymentRef)
}

func TestExecute_RejectsWhenPaymentsPaused(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)

	require.NoError(t, repo.SystemStates().Upsert(ctx, &domain.SystemState{PaymentsPaused: true, PauseReason: domain.PauseLowBalance}))

	_, err := exec.Execute(ctx, req.ID, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePaymentsPaused, apperrors.Code(err))
}

func TestExecute_RequestNotAwaitingPayment(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)
	req.Status = domain.RequestFailed
	require.NoError(t, repo.Requests().Update(ctx, req))

	_, err := exec.Execute(ctx, req.ID, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestExecute_FulfilledRequest_ReturnsExistingPaymentIdempotently(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)

	first, err := exec.Execute(ctx, req.ID, "")
	require.NoError(t, err)

	updated, err := repo.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	updated.Status = domain.RequestFulfilled
	require.NoError(t, repo.Requests().Update(ctx, updated))

	again, err := exec.Execute(ctx, updated.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, again.TxHash)
	assert.Equal(t, first.ID, again.ID)
}

func TestExecute_PaidRequest_ReturnsExistingPaymentIdempotently(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)

	first, err := exec.Execute(ctx, req.ID, "")
	require.NoError(t, err)

	again, err := exec.Execute(ctx, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, again.TxHash)
}

func TestExecute_ChainRejection_FailsPaymentAndRequest(t *testing.T) {
	ctx := context.Background()
	exec, repo, chain := newTestExecutor(t)
	req := seedRequest(t, repo)

	chain.RejectNext("insufficient_funds")
	_, err := exec.Execute(ctx, req.ID, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeChainRejected, apperrors.Code(err))

	updated, err := repo.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFailed, updated.Status)
}

func TestExecute_WithSession_IncrementsUsage(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)

	sessions := session.New(repo.Sessions(), nil, clock.NewFake(time.Now()), logging.NewDefault("test"))
	cap, err := sessions.Issue(ctx, session.IssueParams{WalletID: "w", SessionKey: "scoped-key"})
	require.NoError(t, err)

	_, err = exec.Execute(ctx, req.ID, cap.ID)
	require.NoError(t, err)

	got, err := repo.Sessions().Get(ctx, cap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SignaturesUsed)
}

func TestExecute_ConfirmedPayment_IndexedByTxHash(t *testing.T) {
	ctx := context.Background()
	exec, repo, _ := newTestExecutor(t)
	req := seedRequest(t, repo)

	p1, err := exec.Execute(ctx, req.ID, "")
	require.NoError(t, err)

	existing, err := repo.Payments().GetByTxHash(ctx, p1.TxHash)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, existing.Payment.ID)
	assert.Equal(t, domain.PaymentConfirmed, existing.Payment.Status)
}
