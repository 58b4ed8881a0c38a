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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    TokenStatus
		wantErr bool
	}{
		{"OK", TokenStatusOK, false},
		{"ok", TokenStatusOK, false},
		{" not_initialized ", TokenStatusNotInitialized, false},
		{"USER_PIN_INCORRECT", TokenStatusUserPinIncorrect, false},
		{"LOCKED", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTokenStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyInfoClone(t *testing.T) {
	orig := &KeyInfo{
		ID:        "k1",
		TokenID:   "0",
		PublicKey: "MIIB",
		Available: true,
		Certs: []*CertInfo{
			{ID: "c1", KeyID: "k1", Active: true, Certificate: []byte{1, 2, 3}},
		},
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.Certs[0].Certificate[0] = 9
	c.Certs[0].Active = false
	c.Available = false

	assert.Equal(t, byte(1), orig.Certs[0].Certificate[0])
	assert.True(t, orig.Certs[0].Active)
	assert.True(t, orig.Available)

	var nilKey *KeyInfo
	assert.Nil(t, nilKey.Clone())
	assert.False(t, nilKey.HasPublicKey())
	assert.True(t, orig.HasPublicKey())
}

func TestTokenInfoClone(t *testing.T) {
	orig := &TokenInfo{ID: "0", Status: TokenStatusOK, Active: true, Available: true}
	c := orig.Clone()
	c.Active = false
	assert.True(t, orig.Active)

	var nilToken *TokenInfo
	assert.Nil(t, nilToken.Clone())
}

func TestSignatureAlgorithmWhitelist(t *testing.T) {
	tests := []struct {
		id   string
		hash crypto.Hash
		pss  bool
	}{
		{"SHA1withRSA", crypto.SHA1, false},
		{"SHA256withRSA", crypto.SHA256, false},
		{"SHA384withRSA", crypto.SHA384, false},
		{"SHA512withRSA", crypto.SHA512, false},
		{"SHA256withRSAandMGF1", crypto.SHA256, true},
		{"SHA384withRSAandMGF1", crypto.SHA384, true},
		{"SHA512withRSAandMGF1", crypto.SHA512, true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			alg, err := ParseSignatureAlgorithm(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.hash, alg.Hash())
			assert.Equal(t, tt.pss, alg.IsPSS())
			assert.True(t, alg.Hash().Available())
		})
	}

	assert.Len(t, SupportedSignatureAlgorithms(), len(tests))
}

func TestSignatureAlgorithmRejected(t *testing.T) {
	for _, id := range []string{"", "MD5withRSA", "sha256withrsa", "SHA256withECDSA", "NONEwithRSA"} {
		_, err := ParseSignatureAlgorithm(id)
		assert.Error(t, err, id)
		assert.False(t, SignatureAlgorithm(id).IsSupported())
		assert.Equal(t, crypto.Hash(0), SignatureAlgorithm(id).Hash())
	}
}
