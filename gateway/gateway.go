// Package gateway exposes the engine over HTTP: the trigger check
// entrypoint, aggregated health, and Prometheus metrics.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/autoflow/config"
	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/health"
	"github.com/c360/autoflow/playbook"
)

// maxRequestBody bounds inbound request bodies at 1MB.
const maxRequestBody = 1 << 20

// Engine is the surface the gateway needs from the automation engine.
type Engine interface {
	CheckTriggers(ctx context.Context, eventType string, eventData map[string]any, tenantID string) (*playbook.CheckResult, error)
	Health() health.Status
}

// checkRequest is the trigger check entrypoint payload.
type checkRequest struct {
	EventType string         `json:"eventType"`
	EventData map[string]any `json:"eventData"`
	TenantID  string         `json:"tenantId"`
}

// checkResponse reports a sweep as playbook ids, the shape callers key on.
type checkResponse struct {
	Success            bool     `json:"success"`
	TriggeredPlaybooks []string `json:"triggered_playbooks"`
	CheckedTriggers    int      `json:"checked_triggers"`
}

// errorResponse is the JSON envelope for all non-2xx responses.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Server is the HTTP gateway in front of the engine.
type Server struct {
	cfg     config.GatewayConfig
	engine  Engine
	metrics http.Handler
	logger  *slog.Logger

	srv     *http.Server
	running atomic.Bool

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewServer creates a gateway server. metrics may be nil to disable the
// /metrics endpoint.
func NewServer(cfg config.GatewayConfig, engine Engine, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
	}
}

// Handler builds the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /check-playbook-triggers", s.handleCheckTriggers)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start begins serving in the background. The returned channel receives the
// terminal serve error, if any.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, errors.ErrAlreadyStarted
	}

	s.srv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gateway listening", "addr", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Stop drains in-flight requests within the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Server", "Stop", "shutdown")
	}
	s.logger.Info("Gateway stopped")
	return nil
}

// handleCheckTriggers runs a trigger sweep for a caller-supplied event.
func (s *Server) handleCheckTriggers(w http.ResponseWriter, r *http.Request) {
	s.requestsTotal.Add(1)
	w.Header().Set("X-Request-ID", requestID(r))
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestBody {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxRequestBody))
		return
	}

	var req checkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.EventType == "" {
		s.writeError(w, http.StatusBadRequest, "eventType is required")
		return
	}

	result, err := s.engine.CheckTriggers(r.Context(), req.EventType, req.EventData, req.TenantID)
	if err != nil {
		s.logger.Warn("Trigger check failed",
			"event_type", req.EventType,
			"tenant_id", req.TenantID,
			"error", err)
		s.writeError(w, statusFor(err), sanitize(err))
		return
	}

	ids := make([]string, 0, len(result.TriggeredPlaybooks))
	for _, fired := range result.TriggeredPlaybooks {
		ids = append(ids, fired.PlaybookID)
	}
	s.writeJSON(w, http.StatusOK, checkResponse{
		Success:            result.Success,
		TriggeredPlaybooks: ids,
		CheckedTriggers:    result.CheckedTriggers,
	})
}

// handleHealth returns the aggregate engine health. Unhealthy maps to 503 so
// load balancers pull the instance; degraded still serves.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.requestsTotal.Add(1)
	w.Header().Set("X-Request-ID", requestID(r))

	status := s.engine.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.requestsFailed.Add(1)
	s.writeJSON(w, code, errorResponse{Success: false, Error: message})
}

// requestID propagates X-Request-ID or mints one for tracing.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// statusFor maps classified engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case strings.Contains(err.Error(), "not found"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// sanitize strips internal details before the error crosses the boundary.
func sanitize(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	case strings.Contains(err.Error(), "not found"):
		return "resource not found"
	default:
		return "internal server error"
	}
}
