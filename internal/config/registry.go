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
	"fmt"

	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/registry/sqlite"
)

// OpenRegistry opens the registry backend selected by the registry section.
func (c *Config) OpenRegistry() (registry.Registry, error) {
	switch c.Registry.Backend {
	case RegistryMemory, "":
		return registry.NewMemory(), nil
	case RegistrySQLite:
		db, err := sqlite.Open(&sqlite.Config{Path: c.Registry.Path})
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown registry backend: %s", c.Registry.Backend)
	}
}
