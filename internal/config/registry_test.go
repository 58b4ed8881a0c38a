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

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRegistry(t *testing.T) {
	cfg := Default()
	reg, err := cfg.OpenRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.AddToken("t1"))
	require.NoError(t, reg.Close())

	cfg.Registry = RegistryConfig{Backend: RegistrySQLite, Path: filepath.Join(t.TempDir(), "registry.db")}
	reg, err = cfg.OpenRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.AddToken("t1"))
	require.NoError(t, reg.Close())

	cfg.Registry.Backend = "etcd"
	_, err = cfg.OpenRegistry()
	assert.Error(t, err)
}
