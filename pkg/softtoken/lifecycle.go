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

package softtoken

import (
	"context"
	"crypto"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-softtoken/internal/password"
	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/metrics"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

// initialize writes a fresh PIN container. It does not activate the token.
func (w *Worker) initialize(ctx context.Context, pin []byte) error {
	if len(pin) == 0 {
		return ErrPinNotProvided
	}
	if err := w.checkPINPolicy(pin); err != nil {
		return err
	}

	initialized, err := w.keystore.IsInitialized()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if initialized && !w.allowReinitialize {
		return ErrTokenAlreadyInitialized
	}
	if initialized {
		// Keys cached under the previous PIN must not outlive it.
		w.deactivate(ctx)
	}

	key, err := rsa.GenerateKey(w.rand, w.keyLength)
	if err != nil {
		return fmt.Errorf("%w: failed to generate PIN key: %v", ErrInternal, err)
	}
	if err := w.keystore.WritePINContainer(key, pin, w.allowReinitialize); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := w.registry.SetTokenAvailable(w.tokenID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := w.registry.SetTokenStatus(w.tokenID, types.TokenStatusOK); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	w.log.InfoContext(ctx, "token initialized", logger.Bool("reinitialized", initialized))
	return nil
}

// activate stores pin, if given, and opens the PIN container with the
// session PIN. A failed attempt keeps the PIN so the next tick retries.
func (w *Worker) activate(ctx context.Context, pin []byte) error {
	if len(pin) > 0 {
		if err := w.secrets.Set(w.tokenID, pin); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}

	session, ok := w.secrets.Get(w.tokenID)
	if !ok {
		return ErrPinNotProvided
	}
	defer password.Zero(session)

	err := w.keystore.VerifyPIN(session)
	switch {
	case err == nil:
		w.setStatus(types.TokenStatusOK)
		w.setAvailable(true)
		wasActive := w.isActive()
		if err := w.registry.SetTokenActive(w.tokenID, true); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !wasActive {
			w.log.InfoContext(ctx, "token activated")
		}
		return nil

	case errors.Is(err, keystore.ErrContainerNotFound):
		w.markInactive()
		w.setStatus(types.TokenStatusNotInitialized)
		w.setAvailable(false)
		return ErrTokenNotInitialized

	case errors.Is(err, keystore.ErrIncorrectPIN):
		w.markInactive()
		w.setStatus(types.TokenStatusUserPinIncorrect)
		return ErrPinIncorrect

	default:
		w.markInactive()
		w.setStatus(types.TokenStatusUserPinIncorrect)
		return fmt.Errorf("%w: %v", ErrPinIncorrect, err)
	}
}

// deactivate never fails; registry errors are logged.
func (w *Worker) deactivate(ctx context.Context) {
	wasActive := w.isActive()

	w.secrets.Forget(w.tokenID)
	w.markInactive()

	initialized, err := w.keystore.IsInitialized()
	if err != nil {
		w.log.WarnContext(ctx, "failed to check PIN container", logger.Error(err))
	} else if initialized {
		w.setStatus(types.TokenStatusOK)
	}

	if wasActive {
		w.log.InfoContext(ctx, "token deactivated")
	}
}

// update is one tick. Failures are logged, never returned.
func (w *Worker) update(ctx context.Context) {
	w.recoverRotation(ctx)

	initialized, err := w.keystore.IsInitialized()
	if err != nil {
		w.log.WarnContext(ctx, "failed to check PIN container", logger.Error(err))
	} else {
		w.setAvailable(initialized)
		if !initialized {
			w.setStatus(types.TokenStatusNotInitialized)
		}
	}

	active := w.isActive()
	hasPIN := w.secrets.Has(w.tokenID)
	switch {
	case active && !hasPIN:
		w.deactivate(ctx)
	case active && err == nil && !initialized:
		// The PIN container vanished under an active token.
		w.markInactive()
	case !active && hasPIN:
		if err := w.activate(ctx, nil); err != nil {
			if errors.Is(err, ErrTokenNotInitialized) {
				w.log.DebugContext(ctx, "activation deferred", logger.Error(err))
			} else {
				w.log.WarnContext(ctx, "activation failed", logger.Error(err))
			}
		}
	}

	w.reconcile(ctx)
}

// recoverRotation finishes or discards an interrupted PIN rotation and
// reports whether the token directory is consistent afterwards. After a
// roll forward the held PIN may be the old one; the token is then taken
// out of service so no container is written with it.
func (w *Worker) recoverRotation(ctx context.Context) bool {
	action, err := w.keystore.Recover()
	if err != nil {
		w.log.ErrorContext(ctx, "failed to recover PIN rotation", logger.Error(err))
		return false
	}
	if action == keystore.RecoveryNone {
		return true
	}

	metrics.RecordRotationRecovery(w.tokenID, action.String())
	w.log.WarnContext(ctx, "recovered interrupted PIN rotation", logger.String("action", action.String()))

	if action == keystore.RecoveryRolledForward {
		w.checkHeldPIN(ctx)
	}
	return true
}

// checkHeldPIN deactivates the token when the held PIN no longer opens the
// PIN container. The PIN is kept; the next activation attempt records
// USER_PIN_INCORRECT.
func (w *Worker) checkHeldPIN(ctx context.Context) {
	pin, ok := w.secrets.Get(w.tokenID)
	if !ok {
		return
	}
	defer password.Zero(pin)

	if err := w.keystore.VerifyPIN(pin); err != nil {
		w.markInactive()
		w.log.WarnContext(ctx, "session PIN stale after PIN rotation", logger.Error(err))
	}
}

func (w *Worker) checkPINPolicy(pin []byte) error {
	if !w.enforcePINPolicy {
		return nil
	}
	if err := w.pinPolicy.ValidatePIN(pin); err != nil {
		return fmt.Errorf("%w: %v", ErrPinPolicyViolation, err)
	}
	return nil
}

// requireActive returns ErrTokenNotActive unless the token is active.
func (w *Worker) requireActive() error {
	if !w.isActive() {
		return ErrTokenNotActive
	}
	return nil
}

// sessionPIN returns a copy of the session PIN; the caller zeroes it.
func (w *Worker) sessionPIN() ([]byte, error) {
	pin, ok := w.secrets.Get(w.tokenID)
	if !ok {
		return nil, ErrPinNotProvided
	}
	return pin, nil
}

func (w *Worker) isActive() bool {
	active, err := w.registry.IsTokenActive(w.tokenID)
	if err != nil {
		w.log.Warn("failed to read token state", logger.Error(err))
		return false
	}
	return active
}

// markInactive clears the cache and the active flag.
func (w *Worker) markInactive() {
	w.clearCache()
	if err := w.registry.SetTokenActive(w.tokenID, false); err != nil {
		w.log.Warn("failed to mark token inactive", logger.Error(err))
	}
}

func (w *Worker) setStatus(status types.TokenStatus) {
	if err := w.registry.SetTokenStatus(w.tokenID, status); err != nil {
		w.log.Warn("failed to set token status", logger.String(logger.KeyStatus, status.String()), logger.Error(err))
	}
}

func (w *Worker) setAvailable(available bool) {
	if err := w.registry.SetTokenAvailable(w.tokenID, available); err != nil {
		w.log.Warn("failed to set token availability", logger.Error(err))
	}
}

func (w *Worker) cacheKey(keyID string, signer crypto.Signer) {
	w.cache[keyID] = signer
	w.cachedKeys.Store(int64(len(w.cache)))
}

func (w *Worker) evictKey(keyID string) {
	delete(w.cache, keyID)
	w.cachedKeys.Store(int64(len(w.cache)))
}

func (w *Worker) clearCache() {
	clear(w.cache)
	w.cachedKeys.Store(0)
}
