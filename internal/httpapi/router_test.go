package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/autopay-labs/x402-agent/internal/balance"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/chainclient"
	"github.com/autopay-labs/x402-agent/internal/facilitator"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/payment"
	"github.com/autopay-labs/x402-agent/internal/repository/memory"
	"github.com/autopay-labs/x402-agent/internal/request"
	"github.com/autopay-labs/x402-agent/internal/scheduler"
	"github.com/autopay-labs/x402-agent/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, adminKey string) *Server {
	t.Helper()
	log := logging.NewDefault("test")
	repo := memory.New()
	b := bus.New(log)
	l := ledger.New(repo.LedgerEntries(), b, log)
	sessions := session.New(repo.Sessions(), l, nil, log)
	chain := chainclient.NewSimulated(map[string]int64{"recipient": 1_000_000_000})
	gate := balance.New(chain, repo.BalanceSnapshots(), repo.SystemStates(), l, b, nil, log, balance.Config{
		PublicKey: "recipient", Threshold: 0.01, Interval: balance.MinPollInterval,
	})
	fc := facilitator.New("", l, log)
	executor := payment.New(repo.Requests(), repo.Payments(), sessions, gate, chain, fc, l, b, nil, log, payment.Signer{PublicKey: "signer", PrivateKey: "signer"}, "recipient")
	coordinator := request.New(repo.Requests(), repo.Payments(), fc, l, nil, log)
	sched := scheduler.New(repo.AutonomyTasks(), coordinator, executor, sessions, l, b, nil, log, scheduler.Config{})

	return New(coordinator, executor, gate, repo.AutonomyTasks(), l, b, sched, adminKey, log)
}

func TestHandleHealth_ReportsNotReadyBeforeStart(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "uninitialized", body["balanceMonitor"])
	assert.Equal(t, "uninitialized", body["scheduler"])
}

func TestHandleCreateOrAdvanceRequest_ReturnsPendingRequest(t *testing.T) {
	s := newTestServer(t, "")
	body := strings.NewReader(`{"endpoint":"market"}`)
	req := httptest.NewRequest(http.MethodPost, "/request", body)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "market", got["Endpoint"])
	assert.NotEmpty(t, got["ID"])
}

func TestAdminRoutes_RejectMissingOrWrongBearerToken(t *testing.T) {
	s := newTestServer(t, "topsecret")

	req := httptest.NewRequest(http.MethodGet, "/autonomy/queue", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/autonomy/queue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/autonomy/queue", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
