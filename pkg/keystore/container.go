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

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Encoding selects the PKCS#12 encryption profile used for new containers.
// Containers of every profile can always be read.
type Encoding string

const (
	// EncodingModern2023 uses PBES2 with AES-256-CBC, PBKDF2-HMAC-SHA256 and
	// a SHA-256 MAC. Readable by OpenSSL 1.1.1+, Java 12+ and Windows 10+.
	EncodingModern2023 Encoding = "modern2023"

	// EncodingModern uses the same algorithms with fewer KDF iterations.
	EncodingModern Encoding = "modern"

	// EncodingLegacy uses 3DES and a SHA-1 MAC for older tools.
	EncodingLegacy Encoding = "legacy"
)

// encoder returns the go-pkcs12 encoder for e.
func (e Encoding) encoder() (*pkcs12.Encoder, error) {
	switch Encoding(strings.ToLower(string(e))) {
	case "", EncodingModern2023:
		return pkcs12.Modern2023, nil
	case EncodingModern:
		return pkcs12.Modern, nil
	case EncodingLegacy:
		return pkcs12.LegacyDES, nil
	default:
		return nil, fmt.Errorf("%w: unknown container encoding %q", ErrInvalidConfig, e)
	}
}

// ParseEncoding parses an encoding name; "" selects EncodingModern2023.
func ParseEncoding(s string) (Encoding, error) {
	e := Encoding(strings.ToLower(strings.TrimSpace(s)))
	if _, err := e.encoder(); err != nil {
		return "", err
	}
	if e == "" {
		e = EncodingModern2023
	}
	return e, nil
}

// Entry is the decrypted content of a credential container.
type Entry struct {
	// Alias is the container name without extension.
	Alias string

	// PrivateKey is the decrypted signing key.
	PrivateKey crypto.Signer

	// Certificate is the certificate stored alongside the key.
	Certificate *x509.Certificate
}

// PublicKey returns the public half of the entry's key.
func (e *Entry) PublicKey() crypto.PublicKey {
	return e.PrivateKey.Public()
}

// EncodePublicKey returns the base64 encoded DER SubjectPublicKeyInfo.
func EncodePublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keystore: failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses a value produced by EncodePublicKey.
func DecodePublicKey(s string) (crypto.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid public key encoding: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid public key: %w", err)
	}
	return pub, nil
}

// selfSignedCertificate creates the placeholder certificate PKCS#12 needs to
// carry a private key. Its subject common name is the alias.
func selfSignedCertificate(alias string, key crypto.Signer, validity time.Duration) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: alias},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to create certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// encodeContainer serializes key and cert into a PKCS#12 container.
func encodeContainer(enc *pkcs12.Encoder, key crypto.Signer, cert *x509.Certificate, caCerts []*x509.Certificate, pin []byte) ([]byte, error) {
	if len(pin) == 0 {
		return nil, ErrEmptyPIN
	}
	// go-pkcs12 takes the password as a string; the copy is short lived.
	data, err := enc.Encode(key, cert, caCerts, string(pin))
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to encode container: %w", err)
	}
	return data, nil
}

// decodeContainer parses and decrypts a PKCS#12 container.
func decodeContainer(data []byte, pin []byte) (crypto.Signer, *x509.Certificate, []*x509.Certificate, error) {
	if len(pin) == 0 {
		return nil, nil, nil, ErrEmptyPIN
	}
	key, cert, caCerts, err := pkcs12.DecodeChain(data, string(pin))
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, nil, nil, ErrIncorrectPIN
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrCorruptContainer, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if _, ok := signer.(*rsa.PrivateKey); !ok {
		return nil, nil, nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return signer, cert, caCerts, nil
}
