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

// Package types defines the token, key and certificate metadata shared by
// the registry, the token worker and the command line tools.
package types

import (
	"fmt"
	"strings"
)

// TokenStatus is the lifecycle state of a software token.
type TokenStatus string

const (
	// TokenStatusNotInitialized means no PIN container exists in the token directory.
	TokenStatusNotInitialized TokenStatus = "NOT_INITIALIZED"

	// TokenStatusOK means the token is initialized and the last activation
	// attempt (if any) succeeded.
	TokenStatusOK TokenStatus = "OK"

	// TokenStatusUserPinIncorrect means the last activation attempt failed
	// to open the PIN container with the session PIN.
	TokenStatusUserPinIncorrect TokenStatus = "USER_PIN_INCORRECT"
)

// String returns the string representation.
func (s TokenStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses.
func (s TokenStatus) IsValid() bool {
	switch s {
	case TokenStatusNotInitialized, TokenStatusOK, TokenStatusUserPinIncorrect:
		return true
	default:
		return false
	}
}

// ParseTokenStatus parses a status string case-insensitively.
func ParseTokenStatus(s string) (TokenStatus, error) {
	status := TokenStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("unknown token status: %q", s)
	}
	return status, nil
}

// TokenInfo is the registry view of a token.
type TokenInfo struct {
	// ID identifies the token; one token per configured directory.
	ID string `json:"id"`

	// Status is the lifecycle state.
	Status TokenStatus `json:"status"`

	// Active is true while the token holds an accepted session PIN.
	Active bool `json:"active"`

	// Available is true while the PIN container is physically present.
	Available bool `json:"available"`
}

// Clone returns a copy of the token info.
func (t *TokenInfo) Clone() *TokenInfo {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// KeyInfo is the registry view of a key held in a token.
type KeyInfo struct {
	// ID equals the alias of the key's credential container.
	ID string `json:"id"`

	// TokenID is the owning token.
	TokenID string `json:"token_id"`

	// PublicKey is the base64 encoded DER SubjectPublicKeyInfo, empty when
	// the key was discovered while no PIN was available.
	PublicKey string `json:"public_key,omitempty"`

	// Available is true when the private key is believed to be usable.
	Available bool `json:"available"`

	// Certs are the certificates bound to this key.
	Certs []*CertInfo `json:"certs,omitempty"`
}

// HasPublicKey reports whether public key material is known for the key.
func (k *KeyInfo) HasPublicKey() bool {
	return k != nil && k.PublicKey != ""
}

// Clone returns a deep copy of the key info.
func (k *KeyInfo) Clone() *KeyInfo {
	if k == nil {
		return nil
	}
	c := *k
	if k.Certs != nil {
		c.Certs = make([]*CertInfo, len(k.Certs))
		for i, cert := range k.Certs {
			c.Certs[i] = cert.Clone()
		}
	}
	return &c
}

// CertInfo is a certificate bound to a key.
type CertInfo struct {
	// ID identifies the certificate within the registry.
	ID string `json:"id"`

	// KeyID is the key the certificate belongs to.
	KeyID string `json:"key_id"`

	// Active marks the certificate as in use for signing.
	Active bool `json:"active"`

	// Certificate is the DER encoding.
	Certificate []byte `json:"certificate,omitempty"`
}

// Clone returns a deep copy of the cert info.
func (c *CertInfo) Clone() *CertInfo {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Certificate != nil {
		cp.Certificate = append([]byte(nil), c.Certificate...)
	}
	return &cp
}
