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

package password

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "valid pin", input: []byte("Abcd1234!")},
		{name: "unicode pin", input: []byte("пароль密码")},
		{name: "single byte", input: []byte("x")},
		{name: "empty", input: []byte{}, wantErr: ErrEmptyPassword},
		{name: "nil", input: nil, wantErr: ErrEmptyPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			defer p.Clear()

			assert.Equal(t, tt.input, p.Bytes())
			assert.Equal(t, len(tt.input), p.Len())

			s, err := p.String()
			require.NoError(t, err)
			assert.Equal(t, string(tt.input), s)
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	input := []byte("Abcd1234!")
	p, err := New(input)
	require.NoError(t, err)
	defer p.Clear()

	Zero(input)
	assert.Equal(t, []byte("Abcd1234!"), p.Bytes())
}

func TestBytes_ReturnsCopy(t *testing.T) {
	p, err := New([]byte("Abcd1234!"))
	require.NoError(t, err)
	defer p.Clear()

	b := p.Bytes()
	b[0] = 'X'
	assert.Equal(t, []byte("Abcd1234!"), p.Bytes())
}

func TestClear(t *testing.T) {
	p, err := New([]byte("Abcd1234!"))
	require.NoError(t, err)

	p.Clear()
	assert.Nil(t, p.Bytes())
	assert.Equal(t, 0, p.Len())

	_, err = p.String()
	assert.ErrorIs(t, err, ErrPasswordZeroed)

	_, err = p.Equal([]byte("Abcd1234!"))
	assert.ErrorIs(t, err, ErrPasswordZeroed)

	// idempotent
	p.Clear()
}

func TestEqual(t *testing.T) {
	a, err := New([]byte("Abcd1234!"))
	require.NoError(t, err)
	defer a.Clear()
	b, err := New([]byte("Abcd1234!"))
	require.NoError(t, err)
	defer b.Clear()
	c, err := New([]byte("Abcd1234?"))
	require.NoError(t, err)
	defer c.Clear()

	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = Equal(a, c)
	require.NoError(t, err)
	assert.False(t, eq)

	eq, err = a.Equal([]byte("Abcd"))
	require.NoError(t, err)
	assert.False(t, eq)

	c.Clear()
	_, err = Equal(c, a)
	assert.ErrorIs(t, err, ErrPasswordZeroed)
	_, err = Equal(a, c)
	assert.ErrorIs(t, err, ErrPasswordZeroed)
}

func TestZero(t *testing.T) {
	b := []byte("secret")
	Zero(b)
	assert.Equal(t, make([]byte, 6), b)
	Zero(nil)
}

func TestConcurrentAccess(t *testing.T) {
	p, err := New([]byte("Abcd1234!"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b := p.Bytes(); b != nil {
				Zero(b)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Clear()
	}()
	wg.Wait()
	assert.Nil(t, p.Bytes())
}
