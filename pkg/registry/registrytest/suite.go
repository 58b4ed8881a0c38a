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

// Package registrytest provides a behavioral test suite shared by all
// registry.Registry implementations.
package registrytest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

// Factory creates an empty registry for one subtest.
type Factory func(t *testing.T) registry.Registry

// Run runs the suite against registries created by newRegistry.
func Run(t *testing.T, newRegistry Factory) {
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newRegistry(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, newRegistry(t)) })
	t.Run("KeysAreScopedByToken", func(t *testing.T) { testKeyScope(t, newRegistry(t)) })
	t.Run("Certs", func(t *testing.T) { testCerts(t, newRegistry(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testCopies(t, newRegistry(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newRegistry(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newRegistry(t)) })
}

func testTokens(t *testing.T, r registry.Registry) {
	_, err := r.Token("t1")
	assert.ErrorIs(t, err, registry.ErrTokenNotFound)
	assert.ErrorIs(t, r.AddToken(""), registry.ErrInvalidID)

	require.NoError(t, r.AddToken("t2"))
	require.NoError(t, r.AddToken("t1"))

	tok, err := r.Token("t1")
	require.NoError(t, err)
	assert.Equal(t, &types.TokenInfo{ID: "t1", Status: types.TokenStatusNotInitialized}, tok)

	require.NoError(t, r.SetTokenStatus("t1", types.TokenStatusOK))
	require.NoError(t, r.SetTokenActive("t1", true))
	require.NoError(t, r.SetTokenAvailable("t1", true))

	// re-adding keeps the state
	require.NoError(t, r.AddToken("t1"))
	tok, err = r.Token("t1")
	require.NoError(t, err)
	assert.Equal(t, &types.TokenInfo{ID: "t1", Status: types.TokenStatusOK, Active: true, Available: true}, tok)

	active, err := r.IsTokenActive("t1")
	require.NoError(t, err)
	assert.True(t, active)

	assert.ErrorIs(t, r.SetTokenStatus("t1", "BOGUS"), registry.ErrInvalidStatus)
	assert.ErrorIs(t, r.SetTokenActive("nope", true), registry.ErrTokenNotFound)
	_, err = r.IsTokenActive("nope")
	assert.ErrorIs(t, err, registry.ErrTokenNotFound)

	tokens, err := r.Tokens()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "t1", tokens[0].ID)
	assert.Equal(t, "t2", tokens[1].ID)
}

func testKeys(t *testing.T, r registry.Registry) {
	require.NoError(t, r.AddToken("t1"))

	assert.ErrorIs(t, r.AddKey("nope", "k1", ""), registry.ErrTokenNotFound)
	assert.ErrorIs(t, r.AddKey("t1", "", ""), registry.ErrInvalidID)

	require.NoError(t, r.AddKey("t1", "k2", "PUB2"))
	require.NoError(t, r.AddKey("t1", "k1", ""))
	assert.ErrorIs(t, r.AddKey("t1", "k1", ""), registry.ErrKeyExists)

	key, err := r.Key("t1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", key.ID)
	assert.Equal(t, "t1", key.TokenID)
	assert.True(t, key.Available)
	assert.False(t, key.HasPublicKey())

	require.NoError(t, r.SetKeyPublicKey("t1", "k1", "PUB1"))
	require.NoError(t, r.SetKeyAvailable("t1", "k1", false))
	key, err = r.Key("t1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "PUB1", key.PublicKey)
	assert.False(t, key.Available)

	available, err := r.IsKeyAvailable("t1", "k2")
	require.NoError(t, err)
	assert.True(t, available)

	ok, err := r.HasKey("t1", "k2")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := r.Keys("t1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k1", keys[0].ID)
	assert.Equal(t, "k2", keys[1].ID)

	_, err = r.Key("t1", "missing")
	assert.ErrorIs(t, err, registry.ErrKeyNotFound)
	_, err = r.IsKeyAvailable("t1", "missing")
	assert.ErrorIs(t, err, registry.ErrKeyNotFound)
	assert.ErrorIs(t, r.SetKeyAvailable("t1", "missing", true), registry.ErrKeyNotFound)

	require.NoError(t, r.RemoveKey("t1", "k1"))
	require.NoError(t, r.RemoveKey("t1", "k1"))
	ok, err = r.HasKey("t1", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testKeyScope(t *testing.T, r registry.Registry) {
	require.NoError(t, r.AddToken("t1"))
	require.NoError(t, r.AddToken("t2"))
	require.NoError(t, r.AddKey("t1", "shared", "A"))
	require.NoError(t, r.AddKey("t2", "shared", "B"))

	require.NoError(t, r.RemoveKey("t1", "shared"))

	key, err := r.Key("t2", "shared")
	require.NoError(t, err)
	assert.Equal(t, "B", key.PublicKey)

	keys, err := r.Keys("t1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testCerts(t *testing.T, r registry.Registry) {
	require.NoError(t, r.AddToken("t1"))
	require.NoError(t, r.AddKey("t1", "k1", "PUB"))

	cert := &types.CertInfo{ID: "c1", KeyID: "k1", Active: true, Certificate: []byte{1, 2, 3}}
	require.NoError(t, r.AddCert("t1", cert))
	require.NoError(t, r.AddCert("t1", &types.CertInfo{ID: "c2", KeyID: "k1"}))
	assert.ErrorIs(t, r.AddCert("t1", cert), registry.ErrCertExists)
	assert.ErrorIs(t, r.AddCert("t1", &types.CertInfo{ID: "c3", KeyID: "missing"}), registry.ErrKeyNotFound)
	assert.ErrorIs(t, r.AddCert("t1", &types.CertInfo{KeyID: "k1"}), registry.ErrInvalidID)

	key, err := r.Key("t1", "k1")
	require.NoError(t, err)
	require.Len(t, key.Certs, 2)
	assert.Equal(t, cert, key.Certs[0])

	require.NoError(t, r.RemoveCert("t1", "c1"))
	require.NoError(t, r.RemoveCert("t1", "c1"))
	require.NoError(t, r.RemoveCert("t1", "never-existed"))

	key, err = r.Key("t1", "k1")
	require.NoError(t, err)
	require.Len(t, key.Certs, 1)
	assert.Equal(t, "c2", key.Certs[0].ID)

	// removing the key drops its certificates
	require.NoError(t, r.RemoveKey("t1", "k1"))
	require.NoError(t, r.AddKey("t1", "k1", "PUB"))
	key, err = r.Key("t1", "k1")
	require.NoError(t, err)
	assert.Empty(t, key.Certs)
}

func testCopies(t *testing.T, r registry.Registry) {
	require.NoError(t, r.AddToken("t1"))
	require.NoError(t, r.AddKey("t1", "k1", "PUB"))
	require.NoError(t, r.AddCert("t1", &types.CertInfo{ID: "c1", KeyID: "k1", Certificate: []byte{9}}))

	tok, err := r.Token("t1")
	require.NoError(t, err)
	tok.Active = true

	key, err := r.Key("t1", "k1")
	require.NoError(t, err)
	key.Available = false
	key.Certs[0].Certificate[0] = 0

	active, err := r.IsTokenActive("t1")
	require.NoError(t, err)
	assert.False(t, active)

	key, err = r.Key("t1", "k1")
	require.NoError(t, err)
	assert.True(t, key.Available)
	assert.Equal(t, []byte{9}, key.Certs[0].Certificate)
}

func testConcurrent(t *testing.T, r registry.Registry) {
	require.NoError(t, r.AddToken("t1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, r.AddKey("t1", id, ""))
			assert.NoError(t, r.SetKeyAvailable("t1", id, i%2 == 0))
			assert.NoError(t, r.SetTokenActive("t1", i%2 == 0))
			_, err := r.Keys("t1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	keys, err := r.Keys("t1")
	require.NoError(t, err)
	assert.Len(t, keys, 8)
}

func testClosed(t *testing.T, r registry.Registry) {
	require.NoError(t, r.AddToken("t1"))
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.AddToken("t2"), registry.ErrClosed)
	_, err := r.Token("t1")
	assert.ErrorIs(t, err, registry.ErrClosed)
	_, err = r.Tokens()
	assert.ErrorIs(t, err, registry.ErrClosed)
	assert.ErrorIs(t, r.AddKey("t1", "k1", ""), registry.ErrClosed)
}
