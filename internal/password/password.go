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

// Package password provides secure in-memory handling of token PINs.
//
// A Password keeps its bytes in an anonymous mapping that is locked into RAM
// and excluded from core dumps where the platform allows it. When locking is
// not possible (RLIMIT_MEMLOCK exhausted, unsupported OS) the bytes are kept
// on the heap instead. In both cases Clear zeroes the contents.
package password

import (
	"crypto/subtle"
	"errors"
	"sync"
)

var (
	// ErrEmptyPassword is returned when an empty password is provided.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrPasswordZeroed is returned when the password has been zeroed.
	ErrPasswordZeroed = errors.New("password has been zeroed")
)

// Password holds a secret outside the reach of swap and core dumps.
// A Password must not be copied after creation.
type Password struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
}

// New copies secret into a new Password. The caller keeps ownership of
// secret and should zero it when done.
func New(secret []byte) (*Password, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyPassword
	}

	p := &Password{length: len(secret)}
	if region, err := allocLocked(len(secret)); err == nil {
		p.data = region
		p.locked = true
	} else {
		p.data = make([]byte, len(secret))
	}
	copy(p.data, secret)
	return p, nil
}

// Bytes returns a copy of the secret. The caller should Zero the copy when
// finished. Returns nil after Clear.
func (p *Password) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return nil
	}
	result := make([]byte, p.length)
	copy(result, p.data[:p.length])
	return result
}

// String returns the secret as a string.
//
// Note: the returned string lives on the heap and cannot be zeroed. Only use
// it where a library insists on a string argument.
func (p *Password) String() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return "", ErrPasswordZeroed
	}
	return string(p.data[:p.length]), nil
}

// Len returns the length of the secret, or 0 after Clear.
func (p *Password) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return 0
	}
	return p.length
}

// Clear zeroes the secret and releases locked memory. Clear is idempotent.
func (p *Password) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return
	}
	Zero(p.data)
	if p.locked {
		// The mapping is released with the process if unmapping fails.
		_ = releaseLocked(p.data)
	}
	p.data = nil
	p.locked = false
}

// Equal compares the secret against candidate in constant time.
func (p *Password) Equal(candidate []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return false, ErrPasswordZeroed
	}
	return subtle.ConstantTimeCompare(p.data[:p.length], candidate) == 1, nil
}

// Equal compares two passwords in constant time to prevent timing attacks.
func Equal(a, b *Password) (bool, error) {
	aBytes := a.Bytes()
	if aBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer Zero(aBytes)

	return b.Equal(aBytes)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// Keep the compiler from eliding the loop above.
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
