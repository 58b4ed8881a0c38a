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
)

func (a *app) certCmd() *cobra.Command {
	certCmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage the certificate records of a token",
	}
	certCmd.AddCommand(&cobra.Command{
		Use:   "delete <cert-id>",
		Short: "Delete a certificate record",
		Long: `Delete a certificate record from the registry. Key containers
are not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := s.worker().DeleteCert(ctx, args[0]); err != nil {
					return err
				}
				return a.printer().PrintSuccess(fmt.Sprintf("Certificate %s deleted", args[0]))
			})
		},
	})
	return certCmd
}
