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

import "github.com/jeremyhahn/go-softtoken/pkg/metrics"

// Command is a request to a token worker. The set is closed: only the
// command types of this package implement it.
type Command interface {
	// operation names the command in logs and metrics.
	operation() string
}

// Result is the output of a command that produces one.
type Result interface {
	result()
}

// InitializeCommand creates the PIN container.
type InitializeCommand struct {
	PIN []byte
}

// ActivateCommand activates the token with PIN, or deactivates it when
// Activate is false. An empty PIN activates with the PIN already held.
type ActivateCommand struct {
	Activate bool
	PIN      []byte
}

// ChangePINCommand re-encrypts every container of the token with NewPIN.
type ChangePINCommand struct {
	OldPIN []byte
	NewPIN []byte
}

// GenerateKeyCommand creates a new RSA key. The result is a *GenerateKeyResult.
type GenerateKeyCommand struct{}

// ImportKeyCommand stores an externally generated RSA private key, given as
// PEM or DER PKCS#8 (optionally encrypted with Passphrase) or PKCS#1. The
// result is a *GenerateKeyResult.
type ImportKeyCommand struct {
	Data       []byte
	Passphrase []byte
}

// SignCommand signs a precomputed digest. The result is a *SignResult.
type SignCommand struct {
	KeyID       string
	AlgorithmID string
	Digest      []byte
}

// DeleteKeyCommand removes a key and its container.
type DeleteKeyCommand struct {
	KeyID string
}

// DeleteCertCommand removes a certificate from the registry.
type DeleteCertCommand struct {
	CertID string
}

// UpdateCommand runs one tick immediately.
type UpdateCommand struct{}

func (InitializeCommand) operation() string  { return metrics.OpInitialize }
func (ChangePINCommand) operation() string   { return metrics.OpChangePIN }
func (GenerateKeyCommand) operation() string { return metrics.OpGenerate }
func (ImportKeyCommand) operation() string   { return metrics.OpImport }
func (SignCommand) operation() string        { return metrics.OpSign }
func (DeleteKeyCommand) operation() string   { return metrics.OpDeleteKey }
func (DeleteCertCommand) operation() string  { return metrics.OpDeleteCert }
func (UpdateCommand) operation() string      { return metrics.OpUpdate }

func (c ActivateCommand) operation() string {
	if c.Activate {
		return metrics.OpActivate
	}
	return metrics.OpDeactivate
}

// GenerateKeyResult describes a newly stored key.
type GenerateKeyResult struct {
	// KeyID is the opaque id of the key, also its container alias.
	KeyID string `json:"key_id"`

	// PublicKey is the base64 encoded DER SubjectPublicKeyInfo.
	PublicKey string `json:"public_key"`
}

// SignResult carries a signature.
type SignResult struct {
	Signature []byte `json:"signature"`
}

func (*GenerateKeyResult) result() {}
func (*SignResult) result()        {}
