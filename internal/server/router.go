// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-softtoken.
//
// go-softtoken is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/correlation"
	"github.com/jeremyhahn/go-softtoken/pkg/health"
	"github.com/jeremyhahn/go-softtoken/pkg/manager"
	"github.com/jeremyhahn/go-softtoken/pkg/metrics"
	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
	"github.com/jeremyhahn/go-softtoken/pkg/validation"
)

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Checks contains individual check results (for readiness)
	Checks []health.CheckResult `json:"checks,omitempty"`
	// Uptime is the time since the daemon was created (for liveness)
	Uptime string `json:"uptime,omitempty"`
}

// TokensResponse lists tokens.
type TokensResponse struct {
	Tokens []*types.TokenInfo `json:"tokens"`
}

// KeysResponse lists the keys of a token.
type KeysResponse struct {
	TokenID string           `json:"token_id"`
	Keys    []*types.KeyInfo `json:"keys"`
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(correlation.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.HTTPMiddleware)

	if s.config.Health.Enabled {
		base := strings.TrimSuffix(s.config.Health.Path, "/")
		r.Get(base+"/live", s.livenessHandler)
		r.Get(base+"/ready", s.readinessHandler)
		r.Get(base+"/startup", s.startupHandler)
	}
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1/tokens", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/", s.listTokensHandler)
		r.Get("/{id}", s.getTokenHandler)
		r.Get("/{id}/keys", s.listKeysHandler)
	})
	return r
}

// livenessHandler fails only if the process cannot serve at all.
func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Live(r.Context())
	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
		Uptime:  s.checker.Uptime().Round(time.Second).String(),
	}, healthStatusCode(result.Status))
}

// readinessHandler reports every token. Degraded tokens, e.g. waiting for
// their PIN, keep the daemon ready. Before startup completes and once
// shutdown begins the daemon is not ready.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checker.IsStarted() {
		writeJSON(w, HealthCheckResponse{
			Status:  health.StatusUnhealthy,
			Message: "Service is not started",
		}, http.StatusServiceUnavailable)
		return
	}

	report := s.checker.ReadyReport(r.Context())

	resp := HealthCheckResponse{
		Status: report.Status,
		Checks: report.Checks,
	}
	switch report.Status {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}
	writeJSON(w, resp, healthStatusCode(report.Status))
}

func (s *Server) startupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Startup(r.Context())
	writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, healthStatusCode(result.Status))
}

func healthStatusCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *Server) listTokensHandler(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.manager.Status()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, TokensResponse{Tokens: tokens}, http.StatusOK)
}

func (s *Server) getTokenHandler(w http.ResponseWriter, r *http.Request) {
	worker, err := s.manager.Worker(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := worker.Info()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

func (s *Server) listKeysHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, err := s.manager.Worker(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	keys, err := worker.Keys()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*types.KeyInfo{}
	}
	writeJSON(w, KeysResponse{TokenID: id, Keys: keys}, http.StatusOK)
}

// writeError maps err to a status code and a stable error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := softtoken.ErrorCode(err)
	switch {
	case errors.Is(err, manager.ErrTokenNotFound), errors.Is(err, registry.ErrTokenNotFound):
		status = http.StatusNotFound
		code = "token_not_found"
		s.logger.DebugContext(r.Context(), "Unknown token requested",
			logger.TokenID(validation.SanitizeForLog(chi.URLParam(r, "id"))))
	default:
		s.logger.ErrorContext(r.Context(), "Request failed",
			logger.String("path", validation.SanitizeForLog(r.URL.Path)), logger.Error(err))
	}
	writeJSON(w, ErrorResponse{Error: err.Error(), Code: code}, status)
}

func writeJSON(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with their correlation id.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.DebugContext(r.Context(), "Request completed",
			logger.String("method", r.Method),
			logger.String("path", validation.SanitizeForLog(r.URL.Path)),
			logger.Int("status", wrapped.statusCode),
			logger.Duration("duration", time.Since(start)))
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					logger.String("method", r.Method),
					logger.String("path", validation.SanitizeForLog(r.URL.Path)),
					logger.Any("error", err))
				writeJSON(w, ErrorResponse{Error: "internal server error", Code: "internal"}, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
