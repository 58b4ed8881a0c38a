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

package secret

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get("0")
	assert.False(t, ok)
	assert.False(t, s.Has("0"))

	require.NoError(t, s.Set("0", []byte("Abcd1234!")))
	pin, ok := s.Get("0")
	require.True(t, ok)
	assert.Equal(t, []byte("Abcd1234!"), pin)
	assert.True(t, s.Has("0"))

	// Returned slice is a copy
	pin[0] = 'X'
	pin2, _ := s.Get("0")
	assert.Equal(t, []byte("Abcd1234!"), pin2)

	// Tokens are independent
	_, ok = s.Get("1")
	assert.False(t, ok)
}

func TestMemoryStore_SetReplaces(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set("0", []byte("first-pin")))
	require.NoError(t, s.Set("0", []byte("second-pin")))

	pin, ok := s.Get("0")
	require.True(t, ok)
	assert.Equal(t, []byte("second-pin"), pin)
}

func TestMemoryStore_SetInvalid(t *testing.T) {
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Set("", []byte("pin")), ErrInvalidTokenID)
	assert.ErrorIs(t, s.Set("0", nil), ErrEmptyPIN)
	assert.ErrorIs(t, s.Set("0", []byte{}), ErrEmptyPIN)
	assert.False(t, s.Has("0"))
}

func TestMemoryStore_Forget(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set("0", []byte("Abcd1234!")))

	s.Forget("0")
	_, ok := s.Get("0")
	assert.False(t, ok)

	// no-op when absent
	s.Forget("0")
	s.Forget("unknown")
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(fmt.Sprint(i), []byte("Abcd1234!")))
	}
	s.Clear()
	for i := 0; i < 3; i++ {
		assert.False(t, s.Has(fmt.Sprint(i)))
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i % 4)
			_ = s.Set(id, []byte(fmt.Sprintf("pin-%d", i)))
			s.Get(id)
			if i%5 == 0 {
				s.Forget(id)
			}
		}(i)
	}
	wg.Wait()
}
