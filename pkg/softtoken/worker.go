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

// Package softtoken implements the software token worker: a per-token state
// machine that owns the token's session, its private key cache and every
// write to its directory.
//
// Each Worker runs on its own goroutine (Run). Commands are submitted with
// Execute, or the typed wrappers built on it, and run one at a time to
// completion. A ticker drives Update, which recovers interrupted PIN
// rotations, retries activation while a PIN is held and reconciles the key
// directory with the registry.
package softtoken

import (
	"context"
	"crypto"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/correlation"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/metrics"
	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/secret"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
	"github.com/jeremyhahn/go-softtoken/pkg/validation"
)

type request struct {
	ctx   context.Context
	cmd   Command
	reply chan response
}

type response struct {
	result Result
	err    error
}

// Worker is the state machine of one software token.
type Worker struct {
	tokenID  string
	keystore *keystore.KeyStore
	registry registry.Registry
	secrets  secret.Store
	log      logger.Logger
	rand     io.Reader

	keyLength         int
	enforcePINPolicy  bool
	pinPolicy         validation.PINPolicy
	updateInterval    time.Duration
	allowReinitialize bool

	requests chan request
	done     chan struct{}
	running  atomic.Bool

	// cache is owned by the Run goroutine.
	cache      map[string]crypto.Signer
	cachedKeys atomic.Int64
}

// New creates a worker. The token must already be registered in
// cfg.Registry.
func New(cfg *Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Registry.Token(cfg.TokenID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Worker{
		tokenID:           cfg.TokenID,
		keystore:          cfg.KeyStore,
		registry:          cfg.Registry,
		secrets:           cfg.Secrets,
		log:               cfg.Logger.With(logger.TokenID(cfg.TokenID)),
		rand:              cfg.Rand,
		keyLength:         cfg.KeyLength,
		enforcePINPolicy:  cfg.EnforcePINPolicy,
		pinPolicy:         cfg.PINPolicy,
		updateInterval:    cfg.UpdateInterval,
		allowReinitialize: cfg.AllowReinitialize,
		requests:          make(chan request),
		done:              make(chan struct{}),
		cache:             make(map[string]crypto.Signer),
	}, nil
}

// TokenID returns the id of the worker's token.
func (w *Worker) TokenID() string {
	return w.tokenID
}

// Run ticks once, then serves commands and ticks every update interval
// until ctx is cancelled. On return the cache is cleared and the token is
// marked inactive; the session PIN stays in the secret store. Run may only
// be called once.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer close(w.done)

	w.log.Info("token worker started", logger.Duration("update_interval", w.updateInterval))
	w.handle(correlation.Ensure(context.Background()), UpdateCommand{})

	ticker := time.NewTicker(w.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return nil
		case req := <-w.requests:
			result, err := w.handle(req.ctx, req.cmd)
			req.reply <- response{result: result, err: err}
		case <-ticker.C:
			w.handle(correlation.Ensure(context.Background()), UpdateCommand{})
		}
	}
}

// Done is closed when Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) stop() {
	w.clearCache()
	if err := w.registry.SetTokenActive(w.tokenID, false); err != nil {
		w.log.Warn("failed to mark token inactive", logger.Error(err))
	}
	w.PublishState()
	w.log.Info("token worker stopped")
}

// Execute submits cmd and waits for its result. ctx bounds only the wait:
// a command that has been accepted always runs to completion. Execute
// blocks until Run is serving and returns ErrWorkerStopped once it has
// returned.
func (w *Worker) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInternal)
	}
	req := request{
		ctx:   correlation.Ensure(ctx),
		cmd:   cmd,
		reply: make(chan response, 1),
	}

	select {
	case w.requests <- req:
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handle runs one command on the worker goroutine with logging and metrics.
func (w *Worker) handle(ctx context.Context, cmd Command) (Result, error) {
	op := cmd.operation()
	start := time.Now()

	result, err := w.dispatch(ctx, cmd)

	elapsed := time.Since(start)
	metrics.RecordOperation(op, w.tokenID, metrics.StatusFor(err), elapsed.Seconds())
	if err != nil {
		code := ErrorCode(err)
		metrics.RecordError(op, w.tokenID, code)
		w.log.WarnContext(ctx, "command failed",
			logger.String(logger.KeyCommand, op),
			logger.String("error_code", code),
			logger.Error(err))
	} else if op != metrics.OpUpdate {
		w.log.DebugContext(ctx, "command completed",
			logger.String(logger.KeyCommand, op),
			logger.Duration("elapsed", elapsed))
	}

	w.PublishState()
	return result, err
}

// dispatch is the exhaustive switch over the closed command set.
func (w *Worker) dispatch(ctx context.Context, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case InitializeCommand:
		return nil, w.initialize(ctx, c.PIN)
	case ActivateCommand:
		if c.Activate {
			return nil, w.activate(ctx, c.PIN)
		}
		w.deactivate(ctx)
		return nil, nil
	case ChangePINCommand:
		return nil, w.changePIN(ctx, c.OldPIN, c.NewPIN)
	case GenerateKeyCommand:
		return w.generateKey(ctx)
	case ImportKeyCommand:
		return w.importKey(ctx, c.Data, c.Passphrase)
	case SignCommand:
		return w.sign(c.KeyID, c.AlgorithmID, c.Digest)
	case DeleteKeyCommand:
		return nil, w.deleteKey(ctx, c.KeyID)
	case DeleteCertCommand:
		return nil, w.deleteCert(c.CertID)
	case UpdateCommand:
		w.update(ctx)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %T", ErrInternal, cmd)
	}
}

// PublishState refreshes the token gauges from the registry. Safe to call
// from any goroutine.
func (w *Worker) PublishState() {
	if !metrics.IsEnabled() {
		return
	}
	info, err := w.registry.Token(w.tokenID)
	if err != nil {
		return
	}
	keys, err := w.registry.Keys(w.tokenID)
	if err != nil {
		return
	}
	available := 0
	for _, k := range keys {
		if k.Available {
			available++
		}
	}
	metrics.SetTokenState(metrics.TokenState{
		Token:         w.tokenID,
		Status:        info.Status.String(),
		Active:        info.Active,
		Available:     info.Available,
		Keys:          len(keys),
		AvailableKeys: available,
		CachedKeys:    int(w.cachedKeys.Load()),
	})
}

// Info returns the registry view of the token. Safe to call from any
// goroutine.
func (w *Worker) Info() (*types.TokenInfo, error) {
	return w.registry.Token(w.tokenID)
}

// Keys returns the registry view of the token's keys. Safe to call from
// any goroutine.
func (w *Worker) Keys() ([]*types.KeyInfo, error) {
	return w.registry.Keys(w.tokenID)
}

// CachedKeys returns the number of decrypted private keys held.
func (w *Worker) CachedKeys() int {
	return int(w.cachedKeys.Load())
}

// Initialize creates the token's PIN container.
func (w *Worker) Initialize(ctx context.Context, pin []byte) error {
	_, err := w.Execute(ctx, InitializeCommand{PIN: pin})
	return err
}

// Activate stores pin as the session PIN, if given, and opens the token.
func (w *Worker) Activate(ctx context.Context, pin []byte) error {
	_, err := w.Execute(ctx, ActivateCommand{Activate: true, PIN: pin})
	return err
}

// Deactivate forgets the session PIN and drops every cached key.
func (w *Worker) Deactivate(ctx context.Context) error {
	_, err := w.Execute(ctx, ActivateCommand{Activate: false})
	return err
}

// ChangePIN re-encrypts the token from oldPIN to newPIN.
func (w *Worker) ChangePIN(ctx context.Context, oldPIN, newPIN []byte) error {
	_, err := w.Execute(ctx, ChangePINCommand{OldPIN: oldPIN, NewPIN: newPIN})
	return err
}

// GenerateKey creates and stores a new RSA key.
func (w *Worker) GenerateKey(ctx context.Context) (*GenerateKeyResult, error) {
	return keyResult(w.Execute(ctx, GenerateKeyCommand{}))
}

// ImportKey stores an externally generated RSA key.
func (w *Worker) ImportKey(ctx context.Context, data, passphrase []byte) (*GenerateKeyResult, error) {
	return keyResult(w.Execute(ctx, ImportKeyCommand{Data: data, Passphrase: passphrase}))
}

// Sign signs digest with the key keyID using algorithmID.
func (w *Worker) Sign(ctx context.Context, keyID, algorithmID string, digest []byte) ([]byte, error) {
	res, err := w.Execute(ctx, SignCommand{KeyID: keyID, AlgorithmID: algorithmID, Digest: digest})
	if err != nil {
		return nil, err
	}
	sig, ok := res.(*SignResult)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result %T", ErrInternal, res)
	}
	return sig.Signature, nil
}

// DeleteKey removes a key and its container.
func (w *Worker) DeleteKey(ctx context.Context, keyID string) error {
	_, err := w.Execute(ctx, DeleteKeyCommand{KeyID: keyID})
	return err
}

// DeleteCert removes a certificate from the registry.
func (w *Worker) DeleteCert(ctx context.Context, certID string) error {
	_, err := w.Execute(ctx, DeleteCertCommand{CertID: certID})
	return err
}

// Update runs one tick now.
func (w *Worker) Update(ctx context.Context) error {
	_, err := w.Execute(ctx, UpdateCommand{})
	return err
}

func keyResult(res Result, err error) (*GenerateKeyResult, error) {
	if err != nil {
		return nil, err
	}
	key, ok := res.(*GenerateKeyResult)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result %T", ErrInternal, res)
	}
	return key, nil
}
