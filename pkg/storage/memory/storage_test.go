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

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-softtoken/pkg/storage"
)

func TestStorage_PutGet(t *testing.T) {
	s := New()

	value := []byte("container")
	require.NoError(t, s.Put("a.p12", value, nil))

	// defensive copy on write
	value[0] = 'X'
	got, err := s.Get("a.p12")
	require.NoError(t, err)
	assert.Equal(t, []byte("container"), got)

	// defensive copy on read
	got[0] = 'Y'
	got2, _ := s.Get("a.p12")
	assert.Equal(t, []byte("container"), got2)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.Put("", value, nil), storage.ErrInvalidKey)
}

func TestStorage_Delete(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("a", []byte("1"), nil))

	require.NoError(t, s.Delete("a"))
	assert.ErrorIs(t, s.Delete("a"), storage.ErrNotFound)

	ok, err := s.Exists("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_Rename(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(".rotate/a", []byte("new"), nil))
	require.NoError(t, s.Put("a", []byte("old"), nil))

	require.NoError(t, s.Rename(".rotate/a", "a"))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	ok, _ := s.Exists(".rotate/a")
	assert.False(t, ok)

	assert.ErrorIs(t, s.Rename("missing", "a"), storage.ErrNotFound)
	assert.ErrorIs(t, s.Rename("a", ""), storage.ErrInvalidKey)
}

func TestStorage_List(t *testing.T) {
	s := New()
	for _, k := range []string{"b.p12", "a.p12", ".rotate/a.p12"} {
		require.NoError(t, s.Put(k, []byte(k), nil))
	}

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{".rotate/a.p12", "a.p12", "b.p12"}, keys)

	keys, err = s.List(".rotate/")
	require.NoError(t, err)
	assert.Equal(t, []string{".rotate/a.p12"}, keys)
}

func TestStorage_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get("a")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put("a", nil, nil), storage.ErrClosed)
	assert.ErrorIs(t, s.Delete("a"), storage.ErrClosed)
	assert.ErrorIs(t, s.Rename("a", "b"), storage.ErrClosed)
	_, err = s.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = s.Exists("a")
	assert.ErrorIs(t, err, storage.ErrClosed)
}
