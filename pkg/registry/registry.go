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

// Package registry holds the authoritative token, key and certificate
// metadata shared by all token workers.
//
// The registry never stores private key material or PINs. Key existence in
// the registry is independent of the credential container on disk; token
// workers reconcile the two on every tick.
package registry

import (
	"errors"

	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

var (
	// ErrTokenNotFound is returned for an unknown token id.
	ErrTokenNotFound = errors.New("registry: token not found")

	// ErrKeyNotFound is returned for a key id unknown within its token.
	ErrKeyNotFound = errors.New("registry: key not found")

	// ErrKeyExists is returned by AddKey for a key id already registered.
	ErrKeyExists = errors.New("registry: key already exists")

	// ErrCertExists is returned by AddCert for a cert id already registered.
	ErrCertExists = errors.New("registry: certificate already exists")

	// ErrInvalidStatus is returned for an unknown token status.
	ErrInvalidStatus = errors.New("registry: invalid token status")

	// ErrInvalidID is returned for an empty token, key or cert id.
	ErrInvalidID = errors.New("registry: invalid id")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry: closed")
)

// Registry stores token, key and certificate metadata.
// Implementations must be safe for concurrent use.
type Registry interface {
	// AddToken registers a token with status NOT_INITIALIZED. Registering
	// an existing token is a no-op.
	AddToken(tokenID string) error

	// Token returns a copy of the token.
	Token(tokenID string) (*types.TokenInfo, error)

	// Tokens returns copies of all tokens ordered by id.
	Tokens() ([]*types.TokenInfo, error)

	SetTokenStatus(tokenID string, status types.TokenStatus) error
	SetTokenActive(tokenID string, active bool) error
	SetTokenAvailable(tokenID string, available bool) error
	IsTokenActive(tokenID string) (bool, error)

	// AddKey registers an available key. publicKey may be empty when it is
	// not known yet.
	AddKey(tokenID, keyID, publicKey string) error

	// Key returns a copy of the key with its certificates.
	Key(tokenID, keyID string) (*types.KeyInfo, error)

	// Keys returns copies of all keys of the token ordered by id.
	Keys(tokenID string) ([]*types.KeyInfo, error)

	HasKey(tokenID, keyID string) (bool, error)
	SetKeyAvailable(tokenID, keyID string, available bool) error
	IsKeyAvailable(tokenID, keyID string) (bool, error)
	SetKeyPublicKey(tokenID, keyID, publicKey string) error

	// RemoveKey removes the key and its certificates. Removing an unknown
	// key is not an error.
	RemoveKey(tokenID, keyID string) error

	// AddCert binds a certificate to a registered key.
	AddCert(tokenID string, cert *types.CertInfo) error

	// RemoveCert removes a certificate of the token. Removing an unknown
	// certificate is not an error.
	RemoveCert(tokenID, certID string) error

	// Close releases the registry. Further calls return ErrClosed.
	Close() error
}
