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
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// PEM block types accepted by ParsePrivateKey.
const (
	pemEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	pemPrivateKey          = "PRIVATE KEY"
	pemRSAPrivateKey       = "RSA PRIVATE KEY"
)

// ParsePrivateKey parses an RSA private key for import. data may be PEM or
// DER; PKCS#8 (optionally PBES2 encrypted with passphrase) and PKCS#1 are
// accepted.
func ParsePrivateKey(data, passphrase []byte) (crypto.Signer, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidKeyData)
	}

	der := data
	blockType := ""
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
		blockType = block.Type
	}

	var (
		key interface{}
		err error
	)
	switch blockType {
	case pemRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(der)
	case pemPrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(der)
	case pemEncryptedPrivateKey:
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: encrypted key requires a passphrase", ErrInvalidKeyData)
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(der, passphrase)
	case "":
		key, err = parseDER(der, passphrase)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidKeyData, blockType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if err := rsaKey.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}
	return rsaKey, nil
}

// parseDER tries encrypted PKCS#8 when a passphrase is given, then plain
// PKCS#8 and PKCS#1.
func parseDER(der, passphrase []byte) (interface{}, error) {
	if len(passphrase) > 0 {
		return pkcs8.ParsePKCS8PrivateKey(der, passphrase)
	}
	if key, err := pkcs8.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}

// Import parses data with ParsePrivateKey and saves it under alias,
// encrypted with pin.
func (ks *KeyStore) Import(alias string, data, passphrase, pin []byte) (crypto.Signer, error) {
	key, err := ParsePrivateKey(data, passphrase)
	if err != nil {
		return nil, err
	}
	if err := ks.Save(alias, key, pin); err != nil {
		return nil, err
	}
	return key, nil
}
