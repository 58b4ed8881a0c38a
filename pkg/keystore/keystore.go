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

// Package keystore reads and writes the PIN protected PKCS#12 credential
// containers of one software token directory.
//
// Layout of a token directory:
//
//	.softtoken.p12      PIN container; its presence means "initialized"
//	<keyID>.p12         one container per key, alias = key id
//	.rotate/            transient staging area of a PIN rotation
//
// Every container is encrypted with the same token PIN. The alias of a key
// is its file name. Bags carry no PKCS#12 friendlyName; the placeholder
// certificate's common name repeats the alias but is never read back.
package keystore

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/jeremyhahn/go-softtoken/pkg/storage"
	"github.com/jeremyhahn/go-softtoken/pkg/validation"
)

const (
	// Extension is the file extension of credential containers.
	Extension = ".p12"

	// PINAlias is the reserved alias of the PIN verification key pair.
	PINAlias = "pin"

	// PINContainer is the storage key of the PIN container.
	PINContainer = ".softtoken" + Extension

	// stagingPrefix holds re-encrypted containers during a PIN rotation.
	stagingPrefix = ".rotate/"

	// journalKey lists the staged containers once a rotation commits.
	journalKey = stagingPrefix + "COMMITTED"

	// DefaultCertValidity is the lifetime of container placeholder certificates.
	DefaultCertValidity = 20 * 365 * 24 * time.Hour
)

// Config configures a KeyStore.
type Config struct {
	// Storage is the token directory.
	Storage storage.Backend

	// Encoding selects the PKCS#12 profile for newly written containers.
	Encoding Encoding

	// CertValidity is the lifetime of placeholder certificates.
	CertValidity time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.Storage == nil {
		return fmt.Errorf("%w: storage is required", ErrInvalidConfig)
	}
	if _, err := c.Encoding.encoder(); err != nil {
		return err
	}
	if c.CertValidity < 0 {
		return fmt.Errorf("%w: cert validity must not be negative", ErrInvalidConfig)
	}
	return nil
}

// KeyStore is the keystore codec and key directory scanner of one token.
// It is safe for concurrent use; a PIN rotation excludes every other call.
type KeyStore struct {
	mu       sync.RWMutex
	storage  storage.Backend
	encoder  *pkcs12.Encoder
	validity time.Duration
}

// New creates a KeyStore over cfg.Storage.
func New(cfg *Config) (*KeyStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, _ := cfg.Encoding.encoder()

	validity := cfg.CertValidity
	if validity == 0 {
		validity = DefaultCertValidity
	}

	return &KeyStore{
		storage:  cfg.Storage,
		encoder:  enc,
		validity: validity,
	}, nil
}

// ContainerName returns the storage key of the container for alias.
func ContainerName(alias string) string {
	return alias + Extension
}

// ValidateAlias checks that alias can name a key container.
func ValidateAlias(alias string) error {
	if alias == PINAlias {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAlias, alias)
	}
	if err := validation.ValidateKeyID(alias); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAlias, err)
	}
	return nil
}

// IsInitialized reports whether the PIN container exists.
func (ks *KeyStore) IsInitialized() (bool, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	ok, err := ks.storage.Exists(PINContainer)
	if err != nil {
		return false, fmt.Errorf("keystore: failed to check PIN container: %w", err)
	}
	return ok, nil
}

// WritePINContainer stores key as the PIN verification key pair, encrypted
// with pin. An existing PIN container is replaced only if overwrite is set.
func (ks *KeyStore) WritePINContainer(key crypto.Signer, pin []byte, overwrite bool) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !overwrite {
		exists, err := ks.storage.Exists(PINContainer)
		if err != nil {
			return fmt.Errorf("keystore: failed to check PIN container: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrContainerExists, PINContainer)
		}
	}
	return ks.write(PINContainer, PINAlias, key, pin)
}

// VerifyPIN decrypts the PIN container with pin. It returns
// ErrContainerNotFound if the token is not initialized and ErrIncorrectPIN
// if pin does not open it.
func (ks *KeyStore) VerifyPIN(pin []byte) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	_, err := ks.read(PINContainer, PINAlias, pin)
	return err
}

// Save stores key under alias, encrypted with pin. It refuses to replace an
// existing container.
func (ks *KeyStore) Save(alias string, key crypto.Signer, pin []byte) error {
	if err := ValidateAlias(alias); err != nil {
		return err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	name := ContainerName(alias)
	exists, err := ks.storage.Exists(name)
	if err != nil {
		return fmt.Errorf("keystore: failed to check container %s: %w", name, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrContainerExists, name)
	}
	return ks.write(name, alias, key, pin)
}

// Load decrypts the container of alias with pin.
func (ks *KeyStore) Load(alias string, pin []byte) (*Entry, error) {
	if err := ValidateAlias(alias); err != nil {
		return nil, err
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.read(ContainerName(alias), alias, pin)
}

// Exists reports whether the container of alias is physically present.
func (ks *KeyStore) Exists(alias string) (bool, error) {
	if err := ValidateAlias(alias); err != nil {
		return false, err
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	ok, err := ks.storage.Exists(ContainerName(alias))
	if err != nil {
		return false, fmt.Errorf("keystore: failed to check container %s: %w", alias, err)
	}
	return ok, nil
}

// Delete removes the container of alias. It reports whether a container was
// removed; deleting a missing container is not an error.
func (ks *KeyStore) Delete(alias string) (bool, error) {
	if err := ValidateAlias(alias); err != nil {
		return false, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	err := ks.storage.Delete(ContainerName(alias))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("keystore: failed to delete container %s: %w", alias, err)
	}
}

// List returns the key ids of the containers physically present, in sorted
// order. The PIN container, staging files and files whose name is not a
// valid key id are skipped.
func (ks *KeyStore) List() ([]string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.list()
}

func (ks *KeyStore) list() ([]string, error) {
	names, err := ks.storage.List("")
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		if strings.Contains(name, "/") || name == PINContainer || !strings.HasSuffix(name, Extension) {
			continue
		}
		alias := strings.TrimSuffix(name, Extension)
		if ValidateAlias(alias) != nil {
			continue
		}
		ids = append(ids, alias)
	}
	return ids, nil
}

// write encodes key into the container name. Callers hold the write lock.
func (ks *KeyStore) write(name, alias string, key crypto.Signer, pin []byte) error {
	if len(pin) == 0 {
		return ErrEmptyPIN
	}

	cert, err := selfSignedCertificate(alias, key, ks.validity)
	if err != nil {
		return err
	}
	data, err := encodeContainer(ks.encoder, key, cert, nil, pin)
	if err != nil {
		return err
	}
	if err := ks.storage.Put(name, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("keystore: failed to write container %s: %w", name, err)
	}
	return nil
}

// read decrypts the container name. Callers hold at least the read lock.
func (ks *KeyStore) read(name, alias string, pin []byte) (*Entry, error) {
	if len(pin) == 0 {
		return nil, ErrEmptyPIN
	}

	data, err := ks.storage.Get(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, alias)
		}
		return nil, fmt.Errorf("keystore: failed to read container %s: %w", alias, err)
	}

	key, cert, _, err := decodeContainer(data, pin)
	if err != nil {
		return nil, fmt.Errorf("%w (container %s)", err, alias)
	}
	return &Entry{Alias: alias, PrivateKey: key, Certificate: cert}, nil
}
