package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/config"
	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/orchestrator"
	"github.com/JakeFAU/schedule-pipeline/internal/progress/sinks"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/verifier"
)

// Request-scoped budgets. Pipeline invocations get the configured server
// timeout; these cover the short side calls.
const (
	readyProbeTimeout = 2 * time.Second
	enqueueTimeout    = 5 * time.Second
)

// validate checks API request shapes. Domain rules (date spans, quality
// gates) stay in the components; only wire-level shape lives here.
var validate = validator.New(validator.WithRequiredStructEnabled())

// PipelineInvoker runs one pipeline invocation and reports the result
// envelope. *orchestrator.Orchestrator implements it.
type PipelineInvoker interface {
	Run(ctx context.Context, inv orchestrator.Invocation) orchestrator.Result
}

// Server wires HTTP handlers to the orchestrator, verifier, ledger, progress
// ring, and execution backend.
type Server struct {
	router     chi.Router
	invoker    PipelineInvoker
	verifier   *verifier.Verifier
	ledger     schedule.Ledger
	recent     *sinks.RecentSink
	executions schedule.ExecutionClient
	clock      schedule.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Any dependency
// may be nil; the routes that need it then answer 503.
func NewServer(
	invoker PipelineInvoker,
	verif *verifier.Verifier,
	ledger schedule.Ledger,
	recent *sinks.RecentSink,
	executions schedule.ExecutionClient,
	clk schedule.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		invoker:    invoker,
		verifier:   verif,
		ledger:     ledger,
		recent:     recent,
		executions: executions,
		clock:      clk,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.Server.RequestTimeout()))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/pipeline", s.invokePipeline)
		r.Post("/verify", s.invokeVerify)
		r.Get("/ledger/{date}", s.getLedgerEntry)
		r.Get("/progress", s.getProgress)
		r.Route("/executions", func(r chi.Router) {
			r.Post("/", s.startExecution)
			r.Get("/{execution_id}", s.describeExecution)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz proves the ledger backend answers before reporting ready, so a
// deployment with a broken DSN or bucket never takes traffic.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()
		if _, err := s.ledger.IsScraped(ctx, s.now()); err != nil {
			s.logger.Warn("readiness probe failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// invokePipeline handles POST /v1/pipeline. Parse and run failures fold into
// the result envelope with HTTP 200; only undecodable JSON maps to 400.
func (s *Server) invokePipeline(w http.ResponseWriter, r *http.Request) {
	if s.invoker == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	var inv orchestrator.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, s.invoker.Run(r.Context(), inv))
}

// invokeVerify handles POST /v1/verify and returns the verification report.
func (s *Server) invokeVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier unavailable")
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.verifier.Verify(r.Context(), req.toVerifierRequest())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

// verifyRequest is the wire shape of POST /v1/verify. The executions list
// names dispatched children whose outputs count as proof; dates without an
// executions list verify against storage alone.
type verifyRequest struct {
	Executions          []executionRef `json:"executions" validate:"omitempty,dive"`
	StartDate           string         `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate             string         `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Bucket              string         `json:"bucket,omitempty"`
	ArchitectureVersion string         `json:"architecture_version,omitempty"`
}

type executionRef struct {
	ID        string `json:"id" validate:"required"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

func (req verifyRequest) toVerifierRequest() verifier.Request {
	out := verifier.Request{
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		Bucket:              req.Bucket,
		ArchitectureVersion: req.ArchitectureVersion,
	}
	for _, ref := range req.Executions {
		out.Executions = append(out.Executions, verifier.ExecutionRef{
			ID:        ref.ID,
			StartDate: ref.StartDate,
			EndDate:   ref.EndDate,
		})
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestIDFrom(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
