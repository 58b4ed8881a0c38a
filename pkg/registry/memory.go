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

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

type tokenKey struct {
	tokenID string
	keyID   string
}

// MemoryRegistry is an in-memory Registry. Its contents are lost on exit;
// token workers rebuild the key set from disk on their first tick.
type MemoryRegistry struct {
	mu     sync.RWMutex
	tokens map[string]*types.TokenInfo
	keys   map[tokenKey]*types.KeyInfo
	closed bool
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{
		tokens: make(map[string]*types.TokenInfo),
		keys:   make(map[tokenKey]*types.KeyInfo),
	}
}

// AddToken implements Registry.
func (r *MemoryRegistry) AddToken(tokenID string) error {
	if tokenID == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.tokens[tokenID]; !ok {
		r.tokens[tokenID] = &types.TokenInfo{
			ID:     tokenID,
			Status: types.TokenStatusNotInitialized,
		}
	}
	return nil
}

// Token implements Registry.
func (r *MemoryRegistry) Token(tokenID string) (*types.TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.token(tokenID)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Tokens implements Registry.
func (r *MemoryRegistry) Tokens() ([]*types.TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	out := make([]*types.TokenInfo, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetTokenStatus implements Registry.
func (r *MemoryRegistry) SetTokenStatus(tokenID string, status types.TokenStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.updateToken(tokenID, func(t *types.TokenInfo) { t.Status = status })
}

// SetTokenActive implements Registry.
func (r *MemoryRegistry) SetTokenActive(tokenID string, active bool) error {
	return r.updateToken(tokenID, func(t *types.TokenInfo) { t.Active = active })
}

// SetTokenAvailable implements Registry.
func (r *MemoryRegistry) SetTokenAvailable(tokenID string, available bool) error {
	return r.updateToken(tokenID, func(t *types.TokenInfo) { t.Available = available })
}

// IsTokenActive implements Registry.
func (r *MemoryRegistry) IsTokenActive(tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.token(tokenID)
	if err != nil {
		return false, err
	}
	return t.Active, nil
}

// AddKey implements Registry.
func (r *MemoryRegistry) AddKey(tokenID, keyID, publicKey string) error {
	if keyID == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.token(tokenID); err != nil {
		return err
	}
	k := tokenKey{tokenID, keyID}
	if _, ok := r.keys[k]; ok {
		return fmt.Errorf("%w: %s", ErrKeyExists, keyID)
	}
	r.keys[k] = &types.KeyInfo{
		ID:        keyID,
		TokenID:   tokenID,
		PublicKey: publicKey,
		Available: true,
	}
	return nil
}

// Key implements Registry.
func (r *MemoryRegistry) Key(tokenID, keyID string) (*types.KeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, err := r.key(tokenID, keyID)
	if err != nil {
		return nil, err
	}
	return key.Clone(), nil
}

// Keys implements Registry.
func (r *MemoryRegistry) Keys(tokenID string) ([]*types.KeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.token(tokenID); err != nil {
		return nil, err
	}
	out := make([]*types.KeyInfo, 0)
	for k, key := range r.keys {
		if k.tokenID == tokenID {
			out = append(out, key.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HasKey implements Registry.
func (r *MemoryRegistry) HasKey(tokenID, keyID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.token(tokenID); err != nil {
		return false, err
	}
	_, ok := r.keys[tokenKey{tokenID, keyID}]
	return ok, nil
}

// SetKeyAvailable implements Registry.
func (r *MemoryRegistry) SetKeyAvailable(tokenID, keyID string, available bool) error {
	return r.updateKey(tokenID, keyID, func(k *types.KeyInfo) { k.Available = available })
}

// IsKeyAvailable implements Registry.
func (r *MemoryRegistry) IsKeyAvailable(tokenID, keyID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, err := r.key(tokenID, keyID)
	if err != nil {
		return false, err
	}
	return key.Available, nil
}

// SetKeyPublicKey implements Registry.
func (r *MemoryRegistry) SetKeyPublicKey(tokenID, keyID, publicKey string) error {
	return r.updateKey(tokenID, keyID, func(k *types.KeyInfo) { k.PublicKey = publicKey })
}

// RemoveKey implements Registry.
func (r *MemoryRegistry) RemoveKey(tokenID, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.token(tokenID); err != nil {
		return err
	}
	delete(r.keys, tokenKey{tokenID, keyID})
	return nil
}

// AddCert implements Registry.
func (r *MemoryRegistry) AddCert(tokenID string, cert *types.CertInfo) error {
	if cert == nil || cert.ID == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.key(tokenID, cert.KeyID)
	if err != nil {
		return err
	}
	if r.findCert(tokenID, cert.ID) != nil {
		return fmt.Errorf("%w: %s", ErrCertExists, cert.ID)
	}
	key.Certs = append(key.Certs, cert.Clone())
	return nil
}

// RemoveCert implements Registry.
func (r *MemoryRegistry) RemoveCert(tokenID, certID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.token(tokenID); err != nil {
		return err
	}
	key := r.findCert(tokenID, certID)
	if key == nil {
		return nil
	}
	certs := key.Certs[:0]
	for _, c := range key.Certs {
		if c.ID != certID {
			certs = append(certs, c)
		}
	}
	key.Certs = certs
	return nil
}

// Close implements Registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	return nil
}

// findCert returns the key holding certID. Callers hold the lock.
func (r *MemoryRegistry) findCert(tokenID, certID string) *types.KeyInfo {
	for k, key := range r.keys {
		if k.tokenID != tokenID {
			continue
		}
		for _, c := range key.Certs {
			if c.ID == certID {
				return key
			}
		}
	}
	return nil
}

// token returns the stored token. Callers hold the lock.
func (r *MemoryRegistry) token(tokenID string) (*types.TokenInfo, error) {
	if r.closed {
		return nil, ErrClosed
	}
	t, ok := r.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	return t, nil
}

// key returns the stored key. Callers hold the lock.
func (r *MemoryRegistry) key(tokenID, keyID string) (*types.KeyInfo, error) {
	if _, err := r.token(tokenID); err != nil {
		return nil, err
	}
	key, ok := r.keys[tokenKey{tokenID, keyID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

func (r *MemoryRegistry) updateToken(tokenID string, fn func(*types.TokenInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.token(tokenID)
	if err != nil {
		return err
	}
	fn(t)
	return nil
}

func (r *MemoryRegistry) updateKey(tokenID, keyID string, fn func(*types.KeyInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.key(tokenID, keyID)
	if err != nil {
		return err
	}
	fn(key)
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
