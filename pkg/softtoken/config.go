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
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/secret"
	"github.com/jeremyhahn/go-softtoken/pkg/validation"
)

const (
	// DefaultKeyLength is the RSA modulus size for generated keys.
	DefaultKeyLength = 2048

	// MinKeyLength is the smallest accepted RSA modulus size.
	MinKeyLength = 1024

	// DefaultUpdateInterval is the tick period of a worker.
	DefaultUpdateInterval = 5 * time.Second
)

// Config configures a Worker.
type Config struct {
	// TokenID identifies the token in the registry and secret store.
	TokenID string

	// KeyStore is the token directory.
	KeyStore *keystore.KeyStore

	// Registry holds token and key metadata. The token must already be
	// registered.
	Registry registry.Registry

	// Secrets holds the session PIN.
	Secrets secret.Store

	// Logger receives worker events. Defaults to a discarding logger.
	Logger logger.Logger

	// KeyLength is the RSA modulus size for new keys, including the PIN
	// verification key.
	KeyLength int

	// EnforcePINPolicy applies PINPolicy to Initialize and ChangePIN.
	EnforcePINPolicy bool

	// PINPolicy is the policy applied when EnforcePINPolicy is set.
	PINPolicy validation.PINPolicy

	// UpdateInterval is the tick period.
	UpdateInterval time.Duration

	// AllowReinitialize lets Initialize replace an existing PIN container.
	AllowReinitialize bool

	// Rand is the entropy source for key generation and PSS salts.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if err := validation.ValidateTokenID(c.TokenID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.KeyStore == nil {
		return fmt.Errorf("%w: keystore is required", ErrInvalidConfig)
	}
	if c.Registry == nil {
		return fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}
	if c.Secrets == nil {
		return fmt.Errorf("%w: secret store is required", ErrInvalidConfig)
	}

	if c.KeyLength == 0 {
		c.KeyLength = DefaultKeyLength
	}
	if c.KeyLength < MinKeyLength {
		return fmt.Errorf("%w: key length must be at least %d bits", ErrInvalidConfig, MinKeyLength)
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.UpdateInterval < 0 {
		return fmt.Errorf("%w: update interval must not be negative", ErrInvalidConfig)
	}
	if c.EnforcePINPolicy {
		if c.PINPolicy == (validation.PINPolicy{}) {
			c.PINPolicy = validation.DefaultPINPolicy()
		}
		if err := c.PINPolicy.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Logger == nil {
		c.Logger = logger.NewDiscard()
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	return nil
}
