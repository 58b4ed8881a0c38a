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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
)

const sampleConfig = `
logging:
  level: debug
  format: json
token:
  key_length: 3072
  enforce_pin_policy: true
  pin_policy:
    min_length: 12
    min_char_classes: 4
  update_interval: 10s
  encoding: legacy
  allow_reinitialize: true
tokens:
  - id: signing
    dir: /var/lib/softtoken/signing
  - id: backup
    dir: /var/lib/softtoken/backup
registry:
  backend: sqlite
  path: /var/lib/softtoken/registry.db
server:
  host: 0.0.0.0
  port: 9000
  rate_limit:
    enabled: true
    requests_per_minute: 120
metrics:
  enabled: true
  path: /metrics
health:
  enabled: false
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 3072, cfg.Token.KeyLength)
	assert.True(t, cfg.Token.EnforcePINPolicy)
	assert.Equal(t, 12, cfg.Token.PINPolicy.MinLength)
	assert.Equal(t, 4, cfg.Token.PINPolicy.MinCharClasses)
	assert.Equal(t, 10*time.Second, cfg.Token.UpdateInterval)
	assert.Equal(t, []TokenDirConfig{
		{ID: "signing", Dir: "/var/lib/softtoken/signing"},
		{ID: "backup", Dir: "/var/lib/softtoken/backup"},
	}, cfg.Tokens)
	assert.Equal(t, RegistrySQLite, cfg.Registry.Backend)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.False(t, cfg.Health.Enabled)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.Server.RateLimit.RequestsPerMinute)

	// unset fields keep their defaults
	assert.Equal(t, 15*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	defaults := cfg.TokenDefaults()
	assert.Equal(t, 3072, defaults.KeyLength)
	assert.Equal(t, keystore.EncodingLegacy, defaults.Encoding)
	assert.True(t, defaults.AllowReinitialize)
	assert.NotNil(t, cfg.Logger())
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, softtoken.DefaultKeyLength, cfg.Token.KeyLength)
	assert.Equal(t, RegistryMemory, cfg.Registry.Backend)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softtoken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Tokens, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("logging: ["))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SOFTTOKEN_LOG_LEVEL", "warn")
	t.Setenv("SOFTTOKEN_LOG_FORMAT", "json")
	t.Setenv("SOFTTOKEN_HOST", "10.0.0.1")
	t.Setenv("SOFTTOKEN_PORT", "8443")
	t.Setenv("SOFTTOKEN_REGISTRY_BACKEND", "sqlite")
	t.Setenv("SOFTTOKEN_REGISTRY_PATH", "/tmp/registry.db")
	t.Setenv("SOFTTOKEN_KEY_LENGTH", "4096")
	t.Setenv("SOFTTOKEN_UPDATE_INTERVAL", "1m")
	t.Setenv("SOFTTOKEN_ENFORCE_PIN_POLICY", "true")
	t.Setenv("SOFTTOKEN_TOKENS", "a=/data/a, b=/data/b")

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "10.0.0.1:8443", cfg.Server.Addr())
	assert.Equal(t, RegistrySQLite, cfg.Registry.Backend)
	assert.Equal(t, "/tmp/registry.db", cfg.Registry.Path)
	assert.Equal(t, 4096, cfg.Token.KeyLength)
	assert.Equal(t, time.Minute, cfg.Token.UpdateInterval)
	assert.True(t, cfg.Token.EnforcePINPolicy)
	assert.Equal(t, []TokenDirConfig{{ID: "a", Dir: "/data/a"}, {ID: "b", Dir: "/data/b"}}, cfg.Tokens)
}

func TestApplyEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("SOFTTOKEN_PORT", "99999")
	t.Setenv("SOFTTOKEN_KEY_LENGTH", "big")
	t.Setenv("SOFTTOKEN_UPDATE_INTERVAL", "soon")
	t.Setenv("SOFTTOKEN_ENFORCE_PIN_POLICY", "perhaps")
	t.Setenv("SOFTTOKEN_TOKENS", "nodir")

	cfg, err := Parse(nil)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, def.Token.KeyLength, cfg.Token.KeyLength)
	assert.Equal(t, def.Token.UpdateInterval, cfg.Token.UpdateInterval)
	assert.False(t, cfg.Token.EnforcePINPolicy)
	assert.Empty(t, cfg.Tokens)
}

func TestParseTokenList(t *testing.T) {
	tokens, err := ParseTokenList("a=/x,,b=/y")
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	for _, bad := range []string{"a", "=dir", "a="} {
		_, err := ParseTokenList(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"key length", func(c *Config) { c.Token.KeyLength = 512 }},
		{"update interval", func(c *Config) { c.Token.UpdateInterval = 0 }},
		{"pin policy", func(c *Config) {
			c.Token.EnforcePINPolicy = true
			c.Token.PINPolicy.MinCharClasses = 9
		}},
		{"encoding", func(c *Config) { c.Token.Encoding = "rc2" }},
		{"token id", func(c *Config) { c.Tokens = []TokenDirConfig{{ID: "a/b", Dir: "/x"}} }},
		{"duplicate token", func(c *Config) {
			c.Tokens = []TokenDirConfig{{ID: "a", Dir: "/x"}, {ID: "a", Dir: "/y"}}
		}},
		{"token dir", func(c *Config) { c.Tokens = []TokenDirConfig{{ID: "a"}} }},
		{"registry backend", func(c *Config) { c.Registry.Backend = "etcd" }},
		{"sqlite path", func(c *Config) { c.Registry = RegistryConfig{Backend: RegistrySQLite} }},
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"tls cert", func(c *Config) { c.TLS = TLSConfig{Enabled: true, KeyFile: "k"} }},
		{"tls key", func(c *Config) { c.TLS = TLSConfig{Enabled: true, CertFile: "c"} }},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }},
		{"rate limit", func(c *Config) { c.Server.RateLimit.Enabled = true }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"metrics interval", func(c *Config) { c.Metrics.Interval = 0 }},
		{"health path", func(c *Config) { c.Health.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParse_PINFile(t *testing.T) {
	cfg, err := Parse([]byte("tokens:\n  - id: signing\n    dir: /srv/signing\n    pin_file: /run/secrets/signing-pin\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, "/run/secrets/signing-pin", cfg.Tokens[0].PINFile)
}
