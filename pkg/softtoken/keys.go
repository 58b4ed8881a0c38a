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
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-softtoken/internal/password"
	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
)

// newKeyID returns an opaque key id: a random UUID as 32 hex digits.
func newKeyID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func (w *Worker) generateKey(ctx context.Context) (Result, error) {
	if err := w.requireActive(); err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(w.rand, w.keyLength)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate key: %v", ErrInternal, err)
	}
	return w.storeNewKey(ctx, key)
}

func (w *Worker) importKey(ctx context.Context, data, passphrase []byte) (Result, error) {
	if err := w.requireActive(); err != nil {
		return nil, err
	}

	key, err := keystore.ParsePrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}
	return w.storeNewKey(ctx, key)
}

// storeNewKey writes key into a new container, registers and caches it.
func (w *Worker) storeNewKey(ctx context.Context, key crypto.Signer) (*GenerateKeyResult, error) {
	pin, err := w.sessionPIN()
	if err != nil {
		return nil, err
	}
	defer password.Zero(pin)

	publicKey, err := keystore.EncodePublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	keyID := newKeyID()
	if err := w.keystore.Save(keyID, key, pin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := w.registry.AddKey(w.tokenID, keyID, publicKey); err != nil {
		if _, delErr := w.keystore.Delete(keyID); delErr != nil {
			w.log.ErrorContext(ctx, "failed to remove unregistered key container",
				logger.KeyID(keyID), logger.Error(delErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	w.cacheKey(keyID, key)

	w.log.InfoContext(ctx, "key stored", logger.KeyID(keyID))
	return &GenerateKeyResult{KeyID: keyID, PublicKey: publicKey}, nil
}

// deleteKey is idempotent: a key missing from disk or registry is not an
// error.
func (w *Worker) deleteKey(ctx context.Context, keyID string) error {
	if err := w.requireActive(); err != nil {
		return err
	}

	w.evictKey(keyID)

	removed, err := w.keystore.Delete(keyID)
	if err != nil && !errors.Is(err, keystore.ErrInvalidAlias) {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := w.registry.RemoveKey(w.tokenID, keyID); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	w.log.InfoContext(ctx, "key deleted", logger.KeyID(keyID), logger.Bool("container_removed", removed))
	return nil
}

// deleteCert only touches the registry; certificates have no container.
func (w *Worker) deleteCert(certID string) error {
	if err := w.registry.RemoveCert(w.tokenID, certID); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// privateKey returns the cached key or loads it with the session PIN.
// Only called while active.
func (w *Worker) privateKey(keyID string) (crypto.Signer, error) {
	if signer, ok := w.cache[keyID]; ok {
		return signer, nil
	}

	pin, err := w.sessionPIN()
	if err != nil {
		return nil, err
	}
	defer password.Zero(pin)

	entry, err := w.keystore.Load(keyID, pin)
	switch {
	case err == nil:
	case errors.Is(err, keystore.ErrContainerNotFound), errors.Is(err, keystore.ErrInvalidAlias):
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	case errors.Is(err, keystore.ErrIncorrectPIN):
		return nil, fmt.Errorf("%w: %w", ErrPinIncorrect, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	w.cacheKey(keyID, entry.PrivateKey)
	return entry.PrivateKey, nil
}
