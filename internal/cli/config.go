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

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-softtoken/internal/config"
	"github.com/jeremyhahn/go-softtoken/pkg/manager"
	"github.com/jeremyhahn/go-softtoken/pkg/metrics"
	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
)

// DefaultTokenID names the token given with --dir when --token is not set.
const DefaultTokenID = "default"

// Options are the global CLI settings, read from flags and SOFTTOKEN_*
// environment variables through viper.
type Options struct {
	ConfigFile   string
	TokenID      string
	Dir          string
	RegistryPath string
	Output       OutputFormat
	Verbose      bool
	Timeout      time.Duration
}

// newViper binds the SOFTTOKEN_* environment.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SOFTTOKEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("output", string(OutputFormatText))
	v.SetDefault("timeout", 30*time.Second)
	return v
}

// optionsFrom reads the global options from v.
func optionsFrom(v *viper.Viper) (*Options, error) {
	output, err := ParseOutputFormat(v.GetString("output"))
	if err != nil {
		return nil, err
	}
	timeout := v.GetDuration("timeout")
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	return &Options{
		ConfigFile:   v.GetString("config"),
		TokenID:      v.GetString("token"),
		Dir:          v.GetString("dir"),
		RegistryPath: v.GetString("registry"),
		Output:       output,
		Verbose:      v.GetBool("verbose"),
		Timeout:      timeout,
	}, nil
}

// loadConfig builds the configuration from the config file or the
// defaults, with environment and command line overrides applied.
func (o *Options) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigFile != "" {
		cfg, err = config.Load(o.ConfigFile)
	} else {
		// Defaults with the SOFTTOKEN_* overrides.
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if o.Dir != "" {
		id := o.TokenID
		if id == "" {
			id = DefaultTokenID
		}
		cfg.Tokens = []config.TokenDirConfig{{ID: id, Dir: o.Dir}}
	}
	if o.RegistryPath != "" {
		cfg.Registry = config.RegistryConfig{Backend: config.RegistrySQLite, Path: o.RegistryPath}
	}

	// The command line is quiet unless asked otherwise.
	if o.Verbose {
		cfg.Logging.Level = "debug"
	} else if o.ConfigFile == "" {
		cfg.Logging.Level = "error"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("no token configured: use --dir or a config file")
	}
	return cfg, nil
}

// selectToken returns the token the command acts on.
func (o *Options) selectToken(cfg *config.Config) (string, error) {
	if o.TokenID == "" {
		if len(cfg.Tokens) == 1 {
			return cfg.Tokens[0].ID, nil
		}
		return "", fmt.Errorf("several tokens configured: select one with --token")
	}
	for _, t := range cfg.Tokens {
		if t.ID == o.TokenID {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("token %s is not configured", o.TokenID)
}

// session runs the configured tokens in-process for one command.
type session struct {
	mgr      *manager.Manager
	registry registry.Registry
	tokenID  string
	cancel   context.CancelFunc
}

// openSession starts a worker per configured token and waits for the
// initial reconciliation of the selected one.
func openSession(ctx context.Context, opts *Options, needToken bool) (*session, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	tokenID := ""
	if needToken {
		if tokenID, err = opts.selectToken(cfg); err != nil {
			return nil, err
		}
	}

	// Nothing scrapes a CLI process.
	metrics.Disable()

	reg, err := cfg.OpenRegistry()
	if err != nil {
		return nil, err
	}
	mgr, err := manager.New(&manager.Config{
		Registry: reg,
		Logger:   cfg.Logger(),
		Defaults: cfg.TokenDefaults(),
	})
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	for _, t := range cfg.Tokens {
		if err := mgr.AddTokenDir(t.ID, t.Dir); err != nil {
			_ = mgr.Close()
			_ = reg.Close()
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := mgr.Start(runCtx); err != nil {
		cancel()
		_ = mgr.Close()
		_ = reg.Close()
		return nil, err
	}
	s := &session{mgr: mgr, registry: reg, tokenID: tokenID, cancel: cancel}

	// The first command a worker serves follows its initial tick.
	for _, id := range mgr.Tokens() {
		if _, err := mgr.Execute(ctx, id, softtoken.UpdateCommand{}); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// worker returns the selected token's worker.
func (s *session) worker() *softtoken.Worker {
	w, _ := s.mgr.Worker(s.tokenID)
	return w
}

// Close stops the workers, forgets the PINs and closes the registry.
func (s *session) Close() error {
	s.cancel()
	err := s.mgr.Close()
	if rerr := s.registry.Close(); err == nil {
		err = rerr
	}
	return err
}
