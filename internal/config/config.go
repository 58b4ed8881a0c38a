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

// Package config loads the YAML configuration shared by the softtoken
// command line and daemon.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/manager"
	"github.com/jeremyhahn/go-softtoken/pkg/ratelimit"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
	"github.com/jeremyhahn/go-softtoken/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOFTTOKEN_"

// Registry backends.
const (
	RegistryMemory = "memory"
	RegistrySQLite = "sqlite"
)

// Config represents the complete configuration
type Config struct {
	Logging  LoggingConfig    `yaml:"logging"`
	Token    TokenConfig      `yaml:"token"`
	Tokens   []TokenDirConfig `yaml:"tokens"`
	Registry RegistryConfig   `yaml:"registry"`
	Server   ServerConfig     `yaml:"server"`
	TLS      TLSConfig        `yaml:"tls"`
	Metrics  MetricsConfig    `yaml:"metrics"`
	Health   HealthConfig     `yaml:"health"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TokenConfig holds the settings applied to every token.
type TokenConfig struct {
	KeyLength         int                  `yaml:"key_length"`
	EnforcePINPolicy  bool                 `yaml:"enforce_pin_policy"`
	PINPolicy         validation.PINPolicy `yaml:"pin_policy"`
	UpdateInterval    time.Duration        `yaml:"update_interval"`
	Encoding          string               `yaml:"encoding"`
	AllowReinitialize bool                 `yaml:"allow_reinitialize"`
}

// TokenDirConfig maps a token id to its directory. PINFile, read by the
// daemon at startup, activates the token without an operator.
type TokenDirConfig struct {
	ID      string `yaml:"id"`
	Dir     string `yaml:"dir"`
	PINFile string `yaml:"pin_file,omitempty"`
}

// RegistryConfig selects the registry backend. Path is the database file
// of the sqlite backend.
type RegistryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ServerConfig is the listen address of the daemon's HTTP endpoints.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit throttles clients of the token status API.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// HealthConfig controls the health check endpoints
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Token: TokenConfig{
			KeyLength:      softtoken.DefaultKeyLength,
			PINPolicy:      validation.DefaultPINPolicy(),
			UpdateInterval: softtoken.DefaultUpdateInterval,
			Encoding:       string(keystore.EncodingModern2023),
		},
		Registry: RegistryConfig{Backend: RegistryMemory},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9443,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics", Interval: 15 * time.Second},
		Health:  HealthConfig{Enabled: true, Path: "/health", CheckTimeout: 2 * time.Second},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SOFTTOKEN_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv(EnvPrefix + "HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(EnvPrefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid %sPORT value %q, using %d", EnvPrefix, v, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv(EnvPrefix + "REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}

	if v := os.Getenv(EnvPrefix + "KEY_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: invalid %sKEY_LENGTH value %q, using %d", EnvPrefix, v, cfg.Token.KeyLength)
		} else {
			cfg.Token.KeyLength = n
		}
	}
	if v := os.Getenv(EnvPrefix + "UPDATE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("Warning: invalid %sUPDATE_INTERVAL value %q, using %s", EnvPrefix, v, cfg.Token.UpdateInterval)
		} else {
			cfg.Token.UpdateInterval = d
		}
	}
	if v := os.Getenv(EnvPrefix + "ENFORCE_PIN_POLICY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid %sENFORCE_PIN_POLICY value %q", EnvPrefix, v)
		} else {
			cfg.Token.EnforcePINPolicy = b
		}
	}

	// SOFTTOKEN_TOKENS=id=dir,id=dir replaces the configured token list.
	if v := os.Getenv(EnvPrefix + "TOKENS"); v != "" {
		tokens, err := ParseTokenList(v)
		if err != nil {
			log.Printf("Warning: invalid %sTOKENS value: %v", EnvPrefix, err)
		} else {
			cfg.Tokens = tokens
		}
	}
}

// ParseTokenList parses "id=dir,id=dir".
func ParseTokenList(s string) ([]TokenDirConfig, error) {
	var tokens []TokenDirConfig
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, dir, ok := strings.Cut(item, "=")
		if !ok || id == "" || dir == "" {
			return nil, fmt.Errorf("expected id=dir, got %q", item)
		}
		tokens = append(tokens, TokenDirConfig{ID: strings.TrimSpace(id), Dir: strings.TrimSpace(dir)})
	}
	return tokens, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Token.KeyLength < softtoken.MinKeyLength {
		return fmt.Errorf("token key_length must be at least %d", softtoken.MinKeyLength)
	}
	if c.Token.UpdateInterval <= 0 {
		return fmt.Errorf("token update_interval must be positive")
	}
	if c.Token.EnforcePINPolicy {
		if err := c.Token.PINPolicy.Validate(); err != nil {
			return fmt.Errorf("invalid pin_policy: %w", err)
		}
	}
	if _, err := keystore.ParseEncoding(c.Token.Encoding); err != nil {
		return fmt.Errorf("invalid token encoding: %s", c.Token.Encoding)
	}

	seen := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if err := validation.ValidateTokenID(t.ID); err != nil {
			return fmt.Errorf("invalid token id %q: %w", t.ID, err)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate token id: %s", t.ID)
		}
		seen[t.ID] = true
		if t.Dir == "" {
			return fmt.Errorf("token %s: dir must be specified", t.ID)
		}
	}

	switch c.Registry.Backend {
	case RegistryMemory:
	case RegistrySQLite:
		if c.Registry.Path == "" {
			return fmt.Errorf("registry path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown registry backend: %s", c.Registry.Backend)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}
	if err := c.Server.RateLimit.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics interval must be positive")
	}
	if c.Health.Enabled && !strings.HasPrefix(c.Health.Path, "/") {
		return fmt.Errorf("health path must start with /")
	}
	return nil
}

// TokenDefaults converts the token section for the manager.
func (c *Config) TokenDefaults() manager.TokenDefaults {
	return manager.TokenDefaults{
		KeyLength:         c.Token.KeyLength,
		EnforcePINPolicy:  c.Token.EnforcePINPolicy,
		PINPolicy:         c.Token.PINPolicy,
		UpdateInterval:    c.Token.UpdateInterval,
		AllowReinitialize: c.Token.AllowReinitialize,
		Encoding:          keystore.Encoding(c.Token.Encoding),
	}
}

// Logger builds the logger described by the logging section.
func (c *Config) Logger() *logger.SlogAdapter {
	level, err := logger.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logger.LevelInfo
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  level,
		Format: c.Logging.Format,
	})
}
