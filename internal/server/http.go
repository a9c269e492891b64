package server

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/ingestion"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/query"
	"MarginLedger/internal/state"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Ledger is the live core state the HTTP API reads.
type Ledger interface {
	Bank(id uuid.UUID) (*state.Bank, error)
	Account(id uuid.UUID) (*state.MarginAccount, error)
	AccountHealth(id uuid.UUID, now int64) (*core.HealthReport, error)
	Sequence() int64
}

// Submitter applies admin-submitted operations and oracle images.
type Submitter interface {
	Submit(ctx context.Context, opType string, data []byte) (*core.Result, error)
	SubmitFeed(ctx context.Context, data []byte) (bool, error)
}

// Projections answers reads served from the projected tables and the log.
type Projections interface {
	AccountsByAuthority(ctx context.Context, authority uuid.UUID) ([]query.AccountSummary, error)
	OperationHistory(ctx context.Context, accountID uuid.UUID, limit int, beforeSequence *int64) ([]query.OperationEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Deps holds what the HTTP API serves. Projections may be nil when the
// ledger runs without a database.
type Deps struct {
	Ledger      Ledger
	Ingest      Submitter
	Projections Projections
	Health      *observability.HealthChecker
	// Stream, when set, serves the WebSocket feed of durable operations.
	Stream  http.Handler
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	// Now defaults to the wall clock; health evaluations use it when the
	// request carries no ?at=.
	Now func() time.Time
}

type api struct {
	Deps
}

type handler func(r *http.Request, params map[string]string) (any, error)

type route struct {
	method, pattern, endpoint string
	h                         handler
}

// NewHandler builds the HTTP/JSON surface: ledger reads, admin submission,
// probes and /metrics.
func NewHandler(deps Deps) (http.Handler, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &api{Deps: deps}

	gw := runtime.NewServeMux()
	routes := []route{
		{"GET", "/v1/banks/{id}", "bank", a.getBank},
		{"GET", "/v1/accounts/{id}", "account", a.getAccount},
		{"GET", "/v1/accounts/{id}/health", "account_health", a.getAccountHealth},
		{"POST", "/v1/admin/operations/{type}", "submit_operation", a.submitOperation},
		{"POST", "/v1/admin/feeds", "submit_feed", a.submitFeed},
	}
	if deps.Projections != nil {
		routes = append(routes,
			route{"GET", "/v1/authorities/{id}/accounts", "authority_accounts", a.getAuthorityAccounts},
			route{"GET", "/v1/accounts/{id}/operations", "account_operations", a.getAccountOperations},
			route{"GET", "/v1/admin/integrity", "integrity", a.getIntegrity},
		)
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, a.instrument(rt.endpoint, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	mux := http.NewServeMux()
	if deps.Health != nil {
		mux.HandleFunc("/healthz", deps.Health.LivenessHandler)
		mux.HandleFunc("/readyz", deps.Health.ReadinessHandler)
	}
	if deps.Stream != nil {
		mux.Handle("/v1/stream/operations", deps.Stream)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gw)
	return mux, nil
}

func (a *api) instrument(endpoint string, h handler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := h(r, params)

		code := http.StatusOK
		if err != nil {
			code = statusFor(err)
			if code == http.StatusInternalServerError {
				a.Logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
			body = errorBody{Error: err.Error(), Code: errcode.CodeOf(err)}
		}
		writeJSON(w, code, body)

		if a.Metrics != nil {
			a.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			a.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errcode.ErrBankNotFound), errors.Is(err, errcode.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, ingestion.ErrInvalidMessage):
		return http.StatusBadRequest
	case errcode.CodeOf(err) != 0:
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func pathUUID(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q: %w", name, params[name], errBadRequest)
	}
	return id, nil
}

// --- ledger reads ---

func (a *api) getBank(r *http.Request, params map[string]string) (any, error) {
	id, err := pathUUID(params, "id")
	if err != nil {
		return nil, err
	}
	return a.Ledger.Bank(id)
}

func (a *api) getAccount(r *http.Request, params map[string]string) (any, error) {
	id, err := pathUUID(params, "id")
	if err != nil {
		return nil, err
	}
	acc, err := a.Ledger.Account(id)
	if err != nil {
		return nil, err
	}
	return accountResponse{Account: acc, AsOfSequence: a.Ledger.Sequence()}, nil
}

type accountResponse struct {
	Account      *state.MarginAccount `json:"account"`
	AsOfSequence int64                `json:"as_of_sequence"`
}

func (a *api) getAccountHealth(r *http.Request, params map[string]string) (any, error) {
	id, err := pathUUID(params, "id")
	if err != nil {
		return nil, err
	}
	now := a.Now().Unix()
	if at := r.URL.Query().Get("at"); at != "" {
		if now, err = strconv.ParseInt(at, 10, 64); err != nil {
			return nil, fmt.Errorf("at %q: %w", at, errBadRequest)
		}
	}
	return a.Ledger.AccountHealth(id, now)
}

// --- projections ---

func (a *api) getAuthorityAccounts(r *http.Request, params map[string]string) (any, error) {
	id, err := pathUUID(params, "id")
	if err != nil {
		return nil, err
	}
	return a.Projections.AccountsByAuthority(r.Context(), id)
}

func (a *api) getAccountOperations(r *http.Request, params map[string]string) (any, error) {
	id, err := pathUUID(params, "id")
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("limit %q: %w", s, errBadRequest)
		}
	}
	var before *int64
	if s := q.Get("before"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("before %q: %w", s, errBadRequest)
		}
		before = &seq
	}
	return a.Projections.OperationHistory(r.Context(), id, limit, before)
}

func (a *api) getIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return a.Projections.VerifyIntegrity(r.Context())
}

// --- admin submission ---

type submitResponse struct {
	Sequence           int64         `json:"sequence"`
	StateHash          string        `json:"state_hash"`
	Duplicate          bool          `json:"duplicate"`
	Amount             uint64        `json:"amount,omitempty"`
	InsuranceFee       uint64        `json:"insurance_fee,omitempty"`
	CoveredByInsurance fpmath.I80F48 `json:"covered_by_insurance"`
	Socialized         fpmath.I80F48 `json:"socialized"`
}

func (a *api) submitOperation(r *http.Request, params map[string]string) (any, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	res, err := a.Ingest.Submit(r.Context(), params["type"], data)
	if err != nil {
		return nil, err
	}
	return submitResponse{
		Sequence:           res.Sequence,
		StateHash:          hex.EncodeToString(res.StateHash[:]),
		Duplicate:          res.Duplicate,
		Amount:             res.Amount,
		InsuranceFee:       res.InsuranceFee,
		CoveredByInsurance: res.CoveredByInsurance,
		Socialized:         res.Socialized,
	}, nil
}

func (a *api) submitFeed(r *http.Request, _ map[string]string) (any, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	kept, err := a.Ingest.SubmitFeed(r.Context(), data)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"kept": kept}, nil
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %v: %w", err, errBadRequest)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("body over %d bytes: %w", maxBodyBytes, errBadRequest)
	}
	return data, nil
}

// HTTPServer runs the handler with graceful shutdown on ctx.
type HTTPServer struct {
	srv    *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(addr string, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks until ctx is cancelled and in-flight requests have finished,
// so no handler can reach the core after Start returns.
func (s *HTTPServer) Start(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}
