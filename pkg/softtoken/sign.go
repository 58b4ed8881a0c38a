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
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

// sign checks, in order, the algorithm whitelist and digest length, the
// token state, the key's availability and the private key itself. The
// digest is signed as given.
func (w *Worker) sign(keyID, algorithmID string, digest []byte) (Result, error) {
	alg, err := types.ParseSignatureAlgorithm(algorithmID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSignAlgorithm, algorithmID)
	}
	hash := alg.Hash()
	if len(digest) != hash.Size() {
		return nil, fmt.Errorf("%w: %s expects %d bytes, got %d", ErrInvalidDigest, alg, hash.Size(), len(digest))
	}

	if err := w.requireActive(); err != nil {
		return nil, err
	}

	available, err := w.registry.IsKeyAvailable(w.tokenID, keyID)
	if err != nil || !available {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotAvailable, keyID)
	}

	signer, err := w.privateKey(keyID)
	if err != nil {
		return nil, err
	}

	signature, err := signer.Sign(w.rand, digest, signerOpts(alg))
	if err != nil {
		return nil, fmt.Errorf("%w: signing failed: %v", ErrInternal, err)
	}
	return &SignResult{Signature: signature}, nil
}

// signerOpts selects PKCS#1 v1.5 or PSS with a salt as long as the hash.
func signerOpts(alg types.SignatureAlgorithm) crypto.SignerOpts {
	if alg.IsPSS() {
		return &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       alg.Hash(),
		}
	}
	return alg.Hash()
}
