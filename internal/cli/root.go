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

// Package cli implements the softtoken command line. Every invocation runs
// the configured token workers in-process for the duration of the command.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	opts   *Options
	prompt *pinPrompt
}

// NewRootCmd builds the command tree reading from in and writing to out
// and errOut.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{v: newViper(), in: in, out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "softtoken",
		Short: "Manage PIN protected software signing tokens",
		Long: `softtoken manages software cryptographic tokens: directories of
PKCS#12 containers protected by a single PIN. It initializes tokens,
rotates their PIN and generates, imports, lists, deletes and signs with
RSA keys.

PINs are read from the terminal without echo, from piped standard input,
or from SOFTTOKEN_PIN and SOFTTOKEN_NEW_PIN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFrom(a.v)
			if err != nil {
				return err
			}
			a.opts = opts
			a.prompt = newPINPrompt(a.v, a.in, a.errOut)
			return nil
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file")
	flags.StringP("token", "t", "", "token id")
	flags.String("dir", "", "token directory (single token without a config file)")
	flags.String("registry", "", "sqlite registry database (default in-memory)")
	flags.StringP("output", "o", "text", "output format (text, json, table)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.Duration("timeout", 0, "command timeout (default 30s)")
	for _, name := range []string{"config", "token", "dir", "registry", "output", "verbose"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	// An unset --timeout keeps the viper default.
	_ = a.v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = a.v.BindEnv("pin")
	_ = a.v.BindEnv("new-pin")

	rootCmd.AddCommand(
		a.initCmd(),
		a.activateCmd(),
		a.deactivateCmd(),
		a.changePINCmd(),
		a.statusCmd(),
		a.keyCmd(),
		a.certCmd(),
		a.versionCmd(),
	)
	return rootCmd
}

// Execute runs the command line against the process's standard streams
// and returns the exit code.
func Execute() int {
	cmd := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		output := OutputFormatText
		if f, perr := ParseOutputFormat(cmd.Flag("output").Value.String()); perr == nil {
			output = f
		}
		_ = NewPrinter(output, os.Stderr).PrintError(err)
		return 1
	}
	return 0
}

func (a *app) printer() *Printer {
	return NewPrinter(a.opts.Output, a.out)
}

// withSession opens a session, runs fn under the command timeout and
// closes the session.
func (a *app) withSession(cmd *cobra.Command, needToken bool, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.opts.Timeout)
	defer cancel()

	s, err := openSession(ctx, a.opts, needToken)
	if err != nil {
		return err
	}
	err = fn(ctx, s)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// login activates the selected token with the current PIN.
func (a *app) login(ctx context.Context, s *session) error {
	pin, err := a.prompt.current("PIN: ")
	if err != nil {
		return err
	}
	return s.worker().Activate(ctx, pin)
}
