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

// Package secret holds the session PIN of each token for the lifetime of the
// process. PINs are never persisted; restarting the process forgets them.
package secret

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-softtoken/internal/password"
)

var (
	// ErrInvalidTokenID is returned for an empty token id.
	ErrInvalidTokenID = errors.New("secret: invalid token id")

	// ErrEmptyPIN is returned when storing an empty PIN.
	ErrEmptyPIN = errors.New("secret: empty PIN")
)

// Store is a process-scoped map from token id to session PIN.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a copy of the PIN for tokenID. The caller owns the copy
	// and should zero it with password.Zero when done.
	Get(tokenID string) ([]byte, bool)

	// Has reports whether a PIN is held for tokenID without copying it.
	Has(tokenID string) bool

	// Set replaces the PIN for tokenID. The previous PIN, if any, is zeroed.
	Set(tokenID string, pin []byte) error

	// Forget zeroes and removes the PIN for tokenID. It is a no-op if no
	// PIN is held.
	Forget(tokenID string)

	// Clear forgets every PIN.
	Clear()
}

// MemoryStore is the default Store. PINs are kept in password.Password
// buffers which are locked into RAM where the platform supports it.
type MemoryStore struct {
	mu   sync.RWMutex
	pins map[string]*password.Password
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pins: make(map[string]*password.Password),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(tokenID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pins[tokenID]
	if !ok {
		return nil, false
	}
	pin := p.Bytes()
	if pin == nil {
		return nil, false
	}
	return pin, true
}

// Has implements Store.
func (s *MemoryStore) Has(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pins[tokenID]
	return ok && p.Len() > 0
}

// Set implements Store.
func (s *MemoryStore) Set(tokenID string, pin []byte) error {
	if tokenID == "" {
		return ErrInvalidTokenID
	}
	if len(pin) == 0 {
		return ErrEmptyPIN
	}

	p, err := password.New(pin)
	if err != nil {
		return fmt.Errorf("secret: failed to store PIN for token %s: %w", tokenID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pins[tokenID]; ok {
		old.Clear()
	}
	s.pins[tokenID] = p
	return nil
}

// Forget implements Store.
func (s *MemoryStore) Forget(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pins[tokenID]; ok {
		p.Clear()
		delete(s.pins, tokenID)
	}
}

// Clear implements Store.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.pins {
		p.Clear()
		delete(s.pins, id)
	}
}

var _ Store = (*MemoryStore)(nil)
