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

package keystore

import "errors"

var (
	// ErrContainerNotFound is returned when a credential container does not exist.
	ErrContainerNotFound = errors.New("keystore: container not found")

	// ErrContainerExists is returned when saving over an existing container.
	ErrContainerExists = errors.New("keystore: container already exists")

	// ErrIncorrectPIN is returned when a container cannot be decrypted with the given PIN.
	ErrIncorrectPIN = errors.New("keystore: incorrect PIN")

	// ErrCorruptContainer is returned when a container is not a readable PKCS#12 file.
	ErrCorruptContainer = errors.New("keystore: corrupt container")

	// ErrInvalidAlias is returned for an alias that cannot be used as a key id.
	ErrInvalidAlias = errors.New("keystore: invalid alias")

	// ErrEmptyPIN is returned when a PIN is required but empty.
	ErrEmptyPIN = errors.New("keystore: empty PIN")

	// ErrUnsupportedKey is returned for private keys other than RSA.
	ErrUnsupportedKey = errors.New("keystore: unsupported key type")

	// ErrInvalidKeyData is returned when imported key material cannot be parsed.
	ErrInvalidKeyData = errors.New("keystore: invalid key data")

	// ErrRotationFailed is returned when a PIN rotation is aborted before commit.
	ErrRotationFailed = errors.New("keystore: PIN rotation failed")

	// ErrRotationNotApplied is returned when a PIN rotation committed but
	// some containers still carry the old PIN. Recover finishes it.
	ErrRotationNotApplied = errors.New("keystore: PIN rotation committed but not applied")

	// ErrInvalidConfig is returned when the keystore configuration is invalid.
	ErrInvalidConfig = errors.New("keystore: invalid configuration")
)
