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

// Package server runs the softtoken daemon: the configured token workers
// ticking in the background, plus an HTTP listener for health checks,
// Prometheus metrics and a read-only token status API.
package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-softtoken/internal/config"
	"github.com/jeremyhahn/go-softtoken/internal/password"
	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/health"
	"github.com/jeremyhahn/go-softtoken/pkg/manager"
	"github.com/jeremyhahn/go-softtoken/pkg/metrics"
	"github.com/jeremyhahn/go-softtoken/pkg/ratelimit"
	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
)

// readHeaderTimeout bounds slow clients.
const readHeaderTimeout = 10 * time.Second

// ErrNotStarted is returned by Shutdown before Start.
var ErrNotStarted = errors.New("server: not started")

// Server is the softtoken daemon.
type Server struct {
	config    *config.Config
	logger    logger.Logger
	registry  registry.Registry
	manager   *manager.Manager
	checker   *health.Checker
	router    chi.Router
	limiter   *ratelimit.Limiter
	tlsConfig *tls.Config
	errorLog  *log.Logger

	mu         sync.Mutex
	httpServer *http.Server
	cancel     context.CancelFunc
	stopped    bool
	wg         sync.WaitGroup
}

// New builds the registry, a manager holding every configured token, the
// health checker and the HTTP router. Nothing runs until Start.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := cfg.Logger()

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		var err error
		if tlsConfig, err = cfg.TLS.LoadTLSConfig(); err != nil {
			return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
		}
	}

	reg, err := cfg.OpenRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	mgr, err := manager.New(&manager.Config{
		Registry: reg,
		Logger:   log,
		Defaults: cfg.TokenDefaults(),
	})
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	for _, t := range cfg.Tokens {
		if err := mgr.AddTokenDir(t.ID, t.Dir); err != nil {
			_ = mgr.Close()
			_ = reg.Close()
			return nil, fmt.Errorf("failed to add token %s: %w", t.ID, err)
		}
		log.Info("Token configured", logger.TokenID(t.ID), logger.String("dir", t.Dir))
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	checker := health.NewChecker(cfg.Health.CheckTimeout)
	mgr.RegisterHealthChecks(checker)

	s := &Server{
		config:    cfg,
		logger:    log,
		registry:  reg,
		manager:   mgr,
		checker:   checker,
		limiter:   ratelimit.New(&cfg.Server.RateLimit),
		tlsConfig: tlsConfig,
		errorLog:  slog.NewLogLogger(log.Slog().Handler(), slog.LevelError),
	}
	s.router = s.setupRouter()
	return s, nil
}

// Handler returns the HTTP handler of the daemon.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the token manager.
func (s *Server) Manager() *manager.Manager {
	return s.manager
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the token workers, activates tokens that have a PIN file,
// starts the metrics collector and serves HTTP on ln in the background.
// The workers stop when ctx is done or on Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		_ = ln.Close()
		return manager.ErrStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.manager.Start(runCtx); err != nil {
		cancel()
		_ = ln.Close()
		return err
	}
	s.cancel = cancel

	s.waitForFirstTick(runCtx)
	s.activateTokens(runCtx)

	if s.config.Metrics.Enabled {
		sources := []metrics.Source{s.manager.PublishMetrics}
		if s.limiter.IsEnabled() {
			sources = append(sources, func() { metrics.SetRateLimitClients(s.limiter.ActiveClients()) })
		}
		collector := metrics.NewCollector(s.config.Metrics.Interval, sources...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			collector.Run(runCtx)
		}()
	}

	if s.limiter.IsEnabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.limiter.Run(runCtx)
		}()
	}

	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          s.errorLog,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", logger.Error(err))
		}
	}()

	s.checker.MarkStarted()
	s.logger.Info("Server started",
		logger.String("address", ln.Addr().String()),
		logger.Bool("tls", s.tlsConfig != nil),
		logger.Int("tokens", len(s.manager.Tokens())))
	return nil
}

// waitForFirstTick queues an update behind each worker's initial tick so
// the registry reflects the token directories before the health endpoints are up.
func (s *Server) waitForFirstTick(ctx context.Context) {
	for _, id := range s.manager.Tokens() {
		if _, err := s.manager.Execute(ctx, id, softtoken.UpdateCommand{}); err != nil {
			s.logger.Warn("Initial token update failed", logger.TokenID(id), logger.Error(err))
		}
	}
}

// activateTokens submits the PIN of every token configured with a PIN
// file. A rejected PIN is kept and retried on every tick.
func (s *Server) activateTokens(ctx context.Context) {
	for _, t := range s.config.Tokens {
		if t.PINFile == "" {
			continue
		}
		log := s.logger.With(logger.TokenID(t.ID))

		pin, err := readPINFile(t.PINFile)
		if err != nil {
			log.Error("Failed to read PIN file", logger.String("path", t.PINFile), logger.Error(err))
			continue
		}
		worker, err := s.manager.Worker(t.ID)
		if err != nil {
			password.Zero(pin)
			log.Error("Token not found", logger.Error(err))
			continue
		}
		err = worker.Activate(ctx, pin)
		password.Zero(pin)
		if err != nil {
			log.Warn("Token activation failed", logger.Error(err))
			continue
		}
		log.Info("Token activated from PIN file")
	}
}

// readPINFile returns the file content without its trailing line break.
func readPINFile(path string) ([]byte, error) {
	// #nosec G304 - PIN file path from trusted config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pin := bytes.TrimRight(data, "\r\n")
	if len(pin) == 0 {
		password.Zero(data)
		return nil, fmt.Errorf("PIN file %s is empty", path)
	}
	return pin, nil
}

// Shutdown stops accepting requests, waits for in-flight ones within ctx,
// stops the workers, forgets every PIN and closes the registry. Calling it
// again is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return ErrNotStarted
	}
	if s.stopped {
		return nil
	}
	s.stopped = true

	s.logger.Info("Shutting down server...")
	s.checker.MarkNotStarted()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.cancel()
	s.wg.Wait()

	if err := s.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("registry close: %w", err))
	}

	s.logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}
