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

package types

import (
	"crypto"
	"fmt"
	"sort"

	// Register the hash implementations referenced by the signature algorithms.
	_ "crypto/sha1" // #nosec G505 - SHA1withRSA is still requested by legacy relying parties
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// =============================================================================
// Signature Algorithm Identifiers
// =============================================================================
// Identifiers follow the JCA naming used by relying parties when they ask the
// token to sign a precomputed digest.

// SignatureAlgorithm identifies a signature scheme over a precomputed digest.
type SignatureAlgorithm string

const (
	// SHA1WithRSA is RSASSA-PKCS1-v1_5 over a SHA-1 digest.
	SHA1WithRSA SignatureAlgorithm = "SHA1withRSA"

	// SHA256WithRSA is RSASSA-PKCS1-v1_5 over a SHA-256 digest.
	SHA256WithRSA SignatureAlgorithm = "SHA256withRSA"

	// SHA384WithRSA is RSASSA-PKCS1-v1_5 over a SHA-384 digest.
	SHA384WithRSA SignatureAlgorithm = "SHA384withRSA"

	// SHA512WithRSA is RSASSA-PKCS1-v1_5 over a SHA-512 digest.
	SHA512WithRSA SignatureAlgorithm = "SHA512withRSA"

	// SHA256WithRSAAndMGF1 is RSASSA-PSS over a SHA-256 digest.
	SHA256WithRSAAndMGF1 SignatureAlgorithm = "SHA256withRSAandMGF1"

	// SHA384WithRSAAndMGF1 is RSASSA-PSS over a SHA-384 digest.
	SHA384WithRSAAndMGF1 SignatureAlgorithm = "SHA384withRSAandMGF1"

	// SHA512WithRSAAndMGF1 is RSASSA-PSS over a SHA-512 digest.
	SHA512WithRSAAndMGF1 SignatureAlgorithm = "SHA512withRSAandMGF1"
)

type signatureScheme struct {
	hash crypto.Hash
	pss  bool
}

// supportedSignatureAlgorithms is the whitelist. Lookups are exact and
// case-sensitive.
var supportedSignatureAlgorithms = map[SignatureAlgorithm]signatureScheme{
	SHA1WithRSA:          {hash: crypto.SHA1},
	SHA256WithRSA:        {hash: crypto.SHA256},
	SHA384WithRSA:        {hash: crypto.SHA384},
	SHA512WithRSA:        {hash: crypto.SHA512},
	SHA256WithRSAAndMGF1: {hash: crypto.SHA256, pss: true},
	SHA384WithRSAAndMGF1: {hash: crypto.SHA384, pss: true},
	SHA512WithRSAAndMGF1: {hash: crypto.SHA512, pss: true},
}

// String returns the string representation.
func (a SignatureAlgorithm) String() string {
	return string(a)
}

// IsSupported reports whether the algorithm is on the whitelist.
func (a SignatureAlgorithm) IsSupported() bool {
	_, ok := supportedSignatureAlgorithms[a]
	return ok
}

// Hash returns the digest algorithm the caller must have applied.
// Returns 0 for unsupported algorithms.
func (a SignatureAlgorithm) Hash() crypto.Hash {
	return supportedSignatureAlgorithms[a].hash
}

// IsPSS reports whether the algorithm uses RSASSA-PSS padding.
func (a SignatureAlgorithm) IsPSS() bool {
	return supportedSignatureAlgorithms[a].pss
}

// ParseSignatureAlgorithm returns the algorithm for id or an error if id is
// not on the whitelist.
func ParseSignatureAlgorithm(id string) (SignatureAlgorithm, error) {
	alg := SignatureAlgorithm(id)
	if !alg.IsSupported() {
		return "", fmt.Errorf("unsupported signature algorithm: %q", id)
	}
	return alg, nil
}

// SupportedSignatureAlgorithms returns the whitelist in sorted order.
func SupportedSignatureAlgorithms() []SignatureAlgorithm {
	algs := make([]SignatureAlgorithm, 0, len(supportedSignatureAlgorithms))
	for alg := range supportedSignatureAlgorithms {
		algs = append(algs, alg)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })
	return algs
}
