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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-softtoken/internal/password"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a token with a new PIN",
		Long: `Create the token's PIN container. Fails if the token is already
initialized unless token.allow_reinitialize is set in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				pin, err := a.prompt.next("pin", "New PIN: ")
				if err != nil {
					return err
				}
				defer password.Zero(pin)

				if err := s.worker().Initialize(ctx, pin); err != nil {
					return err
				}
				return a.printer().PrintSuccess(fmt.Sprintf("Token %s initialized", s.tokenID))
			})
		},
	}
}

func (a *app) activateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Check the token PIN and show the activated token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := a.login(ctx, s); err != nil {
					return err
				}
				return a.printToken(ctx, s)
			})
		},
	}
}

func (a *app) deactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Forget the session PIN and show the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := s.worker().Deactivate(ctx); err != nil {
					return err
				}
				return a.printToken(ctx, s)
			})
		},
	}
}

func (a *app) changePINCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "change-pin",
		Short: "Re-encrypt every container of the token under a new PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				oldPIN, err := a.prompt.current("Current PIN: ")
				if err != nil {
					return err
				}
				defer password.Zero(oldPIN)
				newPIN, err := a.prompt.next("new-pin", "New PIN: ")
				if err != nil {
					return err
				}
				defer password.Zero(newPIN)

				if err := s.worker().ChangePIN(ctx, oldPIN, newPIN); err != nil {
					return err
				}
				return a.printer().PrintSuccess(fmt.Sprintf("PIN of token %s changed", s.tokenID))
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of the configured tokens",
		Long: `Show the status of the selected token, or of every configured
token if none is selected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, a.opts.TokenID != "", func(ctx context.Context, s *session) error {
				if s.tokenID != "" {
					return a.printToken(ctx, s)
				}
				tokens, err := s.mgr.Status()
				if err != nil {
					return err
				}
				return a.printer().PrintTokens(tokens)
			})
		},
	}
}

func (a *app) printToken(ctx context.Context, s *session) error {
	info, err := s.worker().Info()
	if err != nil {
		return err
	}
	return a.printer().PrintTokens([]*types.TokenInfo{info})
}
