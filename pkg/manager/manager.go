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

// Package manager runs one token worker per configured token directory and
// routes commands to them by token id.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/health"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/secret"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
	"github.com/jeremyhahn/go-softtoken/pkg/storage"
	"github.com/jeremyhahn/go-softtoken/pkg/storage/file"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
	"github.com/jeremyhahn/go-softtoken/pkg/validation"
)

var (
	// ErrTokenNotFound is returned for token ids without a worker.
	ErrTokenNotFound = errors.New("manager: token not found")

	// ErrTokenExists is returned by AddToken for a duplicate token id.
	ErrTokenExists = errors.New("manager: token already exists")

	// ErrInvalidConfig is returned by New for an incomplete configuration.
	ErrInvalidConfig = errors.New("manager: invalid configuration")

	// ErrStarted is returned by Start when the manager is already running.
	ErrStarted = errors.New("manager: already started")
)

// TokenDefaults are applied to every worker the manager creates.
type TokenDefaults struct {
	KeyLength         int
	EnforcePINPolicy  bool
	PINPolicy         validation.PINPolicy
	UpdateInterval    time.Duration
	AllowReinitialize bool
	Encoding          keystore.Encoding
}

// Config configures a Manager.
type Config struct {
	// Registry is shared by all workers.
	Registry registry.Registry

	// Secrets holds the session PINs of all tokens. Defaults to a new
	// secret.MemoryStore.
	Secrets secret.Store

	// Logger defaults to a discarding logger.
	Logger logger.Logger

	Defaults TokenDefaults
}

type token struct {
	worker  *softtoken.Worker
	backend storage.Backend
}

// Manager owns the workers of all configured tokens.
type Manager struct {
	registry registry.Registry
	secrets  secret.Store
	log      logger.Logger
	defaults TokenDefaults

	mu      sync.RWMutex
	tokens  map[string]*token
	ctx     context.Context
	started bool
	wg      sync.WaitGroup
}

// New creates a manager without tokens.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}
	secrets := cfg.Secrets
	if secrets == nil {
		secrets = secret.NewMemoryStore()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Manager{
		registry: cfg.Registry,
		secrets:  secrets,
		log:      log,
		defaults: cfg.Defaults,
		tokens:   make(map[string]*token),
	}, nil
}

// AddTokenDir adds a token backed by the directory dir, creating it if
// needed.
func (m *Manager) AddTokenDir(tokenID, dir string) error {
	backend, err := file.New(dir)
	if err != nil {
		return fmt.Errorf("manager: token %s: %w", tokenID, err)
	}
	if err := m.AddToken(tokenID, backend); err != nil {
		_ = backend.Close()
		return err
	}
	m.log.Debug("token directory attached", logger.TokenID(tokenID), logger.String("dir", backend.RootDir()))
	return nil
}

// AddToken registers tokenID and creates its worker over backend. If the
// manager is already started the worker starts immediately. The manager
// takes ownership of backend.
func (m *Manager) AddToken(tokenID string, backend storage.Backend) error {
	if err := validation.ValidateTokenID(tokenID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[tokenID]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, tokenID)
	}

	ks, err := keystore.New(&keystore.Config{
		Storage:  backend,
		Encoding: m.defaults.Encoding,
	})
	if err != nil {
		return err
	}
	if err := m.registry.AddToken(tokenID); err != nil {
		return fmt.Errorf("manager: failed to register token %s: %w", tokenID, err)
	}

	worker, err := softtoken.New(&softtoken.Config{
		TokenID:           tokenID,
		KeyStore:          ks,
		Registry:          m.registry,
		Secrets:           m.secrets,
		Logger:            m.log,
		KeyLength:         m.defaults.KeyLength,
		EnforcePINPolicy:  m.defaults.EnforcePINPolicy,
		PINPolicy:         m.defaults.PINPolicy,
		UpdateInterval:    m.defaults.UpdateInterval,
		AllowReinitialize: m.defaults.AllowReinitialize,
	})
	if err != nil {
		return err
	}

	m.tokens[tokenID] = &token{worker: worker, backend: backend}
	if m.started {
		m.run(worker)
	}
	return nil
}

// Start runs every worker until ctx is cancelled. It returns immediately;
// use Wait to block until all workers have stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrStarted
	}
	m.started = true
	m.ctx = ctx

	for _, t := range m.tokens {
		m.run(t.worker)
	}
	m.log.Info("token manager started", logger.Int("tokens", len(m.tokens)))
	return nil
}

// run starts worker on its own goroutine. Callers hold m.mu.
func (m *Manager) run(worker *softtoken.Worker) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := worker.Run(m.ctx); err != nil {
			m.log.Error("token worker exited", logger.TokenID(worker.TokenID()), logger.Error(err))
		}
	}()
}

// Wait blocks until every started worker has stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Worker returns the worker of tokenID.
func (m *Manager) Worker(tokenID string) (*softtoken.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	return t.worker, nil
}

// Execute submits cmd to the worker of tokenID.
func (m *Manager) Execute(ctx context.Context, tokenID string, cmd softtoken.Command) (softtoken.Result, error) {
	worker, err := m.Worker(tokenID)
	if err != nil {
		return nil, err
	}
	return worker.Execute(ctx, cmd)
}

// Tokens returns the managed token ids in sorted order.
func (m *Manager) Tokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.tokens))
	for id := range m.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the registry view of every managed token.
func (m *Manager) Status() ([]*types.TokenInfo, error) {
	ids := m.Tokens()
	infos := make([]*types.TokenInfo, 0, len(ids))
	for _, id := range ids {
		info, err := m.registry.Token(id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// PublishMetrics refreshes the gauges of every token. It matches
// metrics.Source.
func (m *Manager) PublishMetrics() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tokens {
		t.worker.PublishState()
	}
}

// RegisterHealthChecks adds a readiness check per token to checker.
func (m *Manager) RegisterHealthChecks(checker *health.Checker) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, t := range m.tokens {
		checker.RegisterCheck("token:"+id, health.TokenCheck("token:"+id, t.worker))
	}
}

// Close waits for the workers to stop, forgets every session PIN and
// closes the token directories. The registry is owned by the caller.
func (m *Manager) Close() error {
	m.wg.Wait()
	m.secrets.Clear()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, t := range m.tokens {
		if err := t.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("token %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
