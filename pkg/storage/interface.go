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

// Package storage defines the blob storage used for the credential
// containers of one token directory.
package storage

import (
	"io/fs"
)

// Backend stores opaque blobs under slash separated keys.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get retrieves the value for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores the value for the given key, replacing any existing value.
	// A reader never observes a partially written value.
	Put(key string, value []byte, opts *Options) error

	// Delete removes the key and its value from storage.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// Rename atomically replaces newKey with the value of oldKey and removes
	// oldKey. Returns ErrNotFound if oldKey does not exist.
	Rename(oldKey, newKey string) error

	// List returns all keys with the given prefix in sorted order.
	// If prefix is empty, all keys are returned.
	List(prefix string) ([]string, error)

	// Exists checks if a key exists in storage.
	Exists(key string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Options configures how a value is written.
type Options struct {
	// Permissions are the file mode bits for file based backends.
	Permissions fs.FileMode
}

// DefaultOptions returns options suitable for credential containers.
func DefaultOptions() *Options {
	return &Options{
		Permissions: 0600,
	}
}
