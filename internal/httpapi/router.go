// Package httpapi is the thin HTTP boundary adapter: it parses
// requests, calls into the Request Coordinator / Payment Executor / Balance
// Monitor / Ledger / Scheduler, and serializes their results. It holds no
// business logic of its own. Built on go-chi/chi, following the router
// composition style in api/server.go.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/balance"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/lifecycle"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/payment"
	"github.com/autopay-labs/x402-agent/internal/repository"
	"github.com/autopay-labs/x402-agent/internal/request"
	"github.com/autopay-labs/x402-agent/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wires the core components behind chi routes.
type Server struct {
	coordinator *request.Coordinator
	executor    *payment.Executor
	gate        *balance.Monitor
	tasks       repository.AutonomyTasks
	ledgerSvc   *ledger.Ledger
	bus         *bus.Bus
	sched       *scheduler.Scheduler
	adminKey    string
	log         *logging.Logger

	Router chi.Router
}

// New builds the Server and mounts every route.
func New(
	coordinator *request.Coordinator,
	executor *payment.Executor,
	gate *balance.Monitor,
	tasks repository.AutonomyTasks,
	ledgerSvc *ledger.Ledger,
	b *bus.Bus,
	sched *scheduler.Scheduler,
	adminKey string,
	log *logging.Logger,
) *Server {
	if log == nil {
		log = logging.NewDefault("http-api")
	}
	s := &Server{
		coordinator: coordinator, executor: executor, gate: gate, tasks: tasks,
		ledgerSvc: ledgerSvc, bus: b, sched: sched, adminKey: adminKey, log: log,
	}
	s.mount()
	return s
}

func (s *Server) mount() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/request", s.handleCreateOrAdvanceRequest)
	r.Post("/payments/execute", s.handleExecutePayment)
	r.Get("/payments/balance", s.handleBalance)
	r.Post("/payments/facilitator/callback", s.handleFacilitatorCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/logs/ledger", s.handleLedgerQuery)
		r.Get("/logs/ledger/export", s.handleLedgerExport)
		r.Get("/autonomy/queue", s.handleAutonomyQueue)
		r.Get("/events/stream", s.handleEventStream)
	})

	s.Router = r
}

// requireAdmin guards operator-facing routes with a constant-time bearer
// token comparison.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.adminKey == "" {
			writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "admin API disabled: no key configured", http.StatusServiceUnavailable))
			return
		}
		got := req.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(got) <= len(prefix) || got[:len(prefix)] != prefix {
			writeError(w, apperrors.New(apperrors.ErrCodeSessionInvalid, "missing bearer token", http.StatusUnauthorized))
			return
		}
		token := got[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminKey)) != 1 {
			writeError(w, apperrors.New(apperrors.ErrCodeSessionInvalid, "invalid bearer token", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, req)
	})
}

type createRequestBody struct {
	Endpoint   string `json:"endpoint"`
	RequestID  string `json:"requestId"`
}

func (s *Server) handleCreateOrAdvanceRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	req, err := s.coordinator.RequestOrAdvance(r.Context(), domain.EndpointTag(body.Endpoint), body.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type executePaymentBody struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleExecutePayment(w http.ResponseWriter, r *http.Request) {
	var body executePaymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if body.RequestID == "" {
		writeError(w, apperrors.InvalidInput("requestId", "required"))
		return
	}
	p, err := s.executor.Execute(r.Context(), body.RequestID, body.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleHealth reports the Balance Monitor and Scheduler lifecycle states so
// an orchestrator can tell a fully-wired agent from one still starting up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"balanceMonitor": s.gate.State().String(),
		"scheduler":      s.sched.State().String(),
	}
	code := http.StatusOK
	if s.gate.State() != lifecycle.StateReady || s.sched.State() != lifecycle.StateReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.Sample(r.Context(), "poll"); err != nil {
		s.log.WithError(err).Warn("on-demand balance sample failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"sampled": true})
}

func (s *Server) handleFacilitatorCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperrors.InvalidInput("body", "unreadable body"))
		return
	}
	sig := r.Header.Get("X-Facilitator-Signature")
	q := r.URL.Query()

	var parsed struct {
		TxHash string `json:"txHash"`
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(body, &parsed)

	txHash := q.Get("txHash")
	if txHash == "" {
		txHash = parsed.TxHash
	}
	status := q.Get("status")
	if status == "" {
		status = parsed.Status
	}
	reason := q.Get("reason")
	if reason == "" {
		reason = parsed.Reason
	}

	if err := s.coordinator.HandleFacilitatorCallback(r.Context(), sig, body, txHash, status, reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) handleLedgerQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := ledger.FilterFromParams(q.Get("category"), q.Get("event"), q.Get("requestId"), q.Get("paymentId"), q.Get("txHash"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, apperrors.InvalidInput("from/to", err.Error()))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, next, err := s.ledgerSvc.Query(r.Context(), filter, limit, q.Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "nextCursor": next})
}

func (s *Server) handleLedgerExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := ledger.FilterFromParams(q.Get("category"), q.Get("event"), q.Get("requestId"), q.Get("paymentId"), q.Get("txHash"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, apperrors.InvalidInput("from/to", err.Error()))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	csvBytes, err := s.ledgerSvc.ExportCSV(r.Context(), filter, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-export.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csvBytes)
}

func (s *Server) handleAutonomyQueue(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		writeError(w, apperrors.Internal("task list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleEventStream serves the bus as a Server-Sent-Events feed. It holds the connection open until the client
// disconnects or the request context is cancelled.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("streaming unsupported", nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Recv:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	se := apperrors.As(err)
	if se == nil {
		se = apperrors.Internal("unexpected error", err)
	}
	writeJSON(w, se.HTTPStatus, se)
}
