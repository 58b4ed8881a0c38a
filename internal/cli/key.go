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
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-softtoken/internal/password"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

func (a *app) keyCmd() *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the keys of a token",
		Long:  `Generate, import, list, delete and sign with RSA keys`,
	}
	keyCmd.AddCommand(
		a.keyGenerateCmd(),
		a.keyImportCmd(),
		a.keyListCmd(),
		a.keySignCmd(),
		a.keyDeleteCmd(),
	)
	return keyCmd
}

func (a *app) keyGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a new RSA key pair",
		Long: `Generate a new RSA key pair in the token. The key id is chosen by
the token and printed together with the public key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := a.login(ctx, s); err != nil {
					return err
				}
				res, err := s.worker().GenerateKey(ctx)
				if err != nil {
					return err
				}
				return a.printer().PrintGeneratedKey(res)
			})
		},
	}
}

func (a *app) keyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an RSA private key",
		Long: `Import an RSA private key from a PEM or DER file in PKCS#8 or
PKCS#1 form. Use - to read the key from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.readInput(args[0])
			if err != nil {
				return err
			}
			defer password.Zero(data)

			encrypted, _ := cmd.Flags().GetBool("encrypted")
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := a.login(ctx, s); err != nil {
					return err
				}
				var passphrase []byte
				if encrypted {
					if passphrase, err = a.prompt.secret("Key passphrase: "); err != nil {
						return err
					}
					defer password.Zero(passphrase)
				}
				res, err := s.worker().ImportKey(ctx, data, passphrase)
				if err != nil {
					return err
				}
				return a.printer().PrintGeneratedKey(res)
			})
		},
	}
	cmd.Flags().Bool("encrypted", false, "prompt for the passphrase of an encrypted PKCS#8 key")
	return cmd
}

func (a *app) keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the keys of a token",
		Long: `List the keys registered for a token. Without --login the public
keys of containers found on disk stay unknown until the token is activated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			login, _ := cmd.Flags().GetBool("login")
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if login {
					if err := a.login(ctx, s); err != nil {
						return err
					}
					// Fill in public keys of discovered containers.
					if err := s.worker().Update(ctx); err != nil {
						return err
					}
				}
				keys, err := s.worker().Keys()
				if err != nil {
					return err
				}
				return a.printer().PrintKeyList(keys)
			})
		},
	}
	cmd.Flags().Bool("login", false, "activate the token before listing")
	return cmd
}

func (a *app) keySignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <key-id>",
		Short: "Sign a digest or a file",
		Long: `Sign a precomputed digest given with --digest, or the hash of the
file given with --in. The signature is printed base64 encoded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			algID, _ := cmd.Flags().GetString("algorithm")
			digestHex, _ := cmd.Flags().GetString("digest")
			inFile, _ := cmd.Flags().GetString("in")

			digest, err := a.signInput(algID, digestHex, inFile)
			if err != nil {
				return err
			}
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := a.login(ctx, s); err != nil {
					return err
				}
				sig, err := s.worker().Sign(ctx, args[0], algID, digest)
				if err != nil {
					return err
				}
				return a.printer().PrintSignature(args[0], algID, base64.StdEncoding.EncodeToString(sig))
			})
		},
	}
	cmd.Flags().String("algorithm", string(types.SHA256WithRSA),
		"signature algorithm, one of: "+strings.Join(signatureAlgorithmNames(), ", "))
	cmd.Flags().String("digest", "", "hex encoded digest to sign")
	cmd.Flags().String("in", "", "file to hash and sign (- for standard input)")
	return cmd
}

func signatureAlgorithmNames() []string {
	algs := types.SupportedSignatureAlgorithms()
	names := make([]string, len(algs))
	for i, alg := range algs {
		names[i] = string(alg)
	}
	return names
}

// signInput returns the digest to sign from exactly one of digestHex and
// inFile.
func (a *app) signInput(algID, digestHex, inFile string) ([]byte, error) {
	switch {
	case digestHex != "" && inFile != "":
		return nil, errors.New("--digest and --in are mutually exclusive")
	case digestHex != "":
		digest, err := hex.DecodeString(digestHex)
		if err != nil {
			return nil, fmt.Errorf("invalid digest: %w", err)
		}
		return digest, nil
	case inFile != "":
		alg, err := types.ParseSignatureAlgorithm(algID)
		if err != nil {
			return nil, err
		}
		data, err := a.readInput(inFile)
		if err != nil {
			return nil, err
		}
		h := alg.Hash().New()
		h.Write(data)
		return h.Sum(nil), nil
	default:
		return nil, errors.New("one of --digest or --in is required")
	}
}

func (a *app) keyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete a key and its container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, true, func(ctx context.Context, s *session) error {
				if err := a.login(ctx, s); err != nil {
					return err
				}
				if err := s.worker().DeleteKey(ctx, args[0]); err != nil {
					return err
				}
				return a.printer().PrintSuccess(fmt.Sprintf("Key %s deleted", args[0]))
			})
		},
	}
}

// readInput reads a file, or standard input for "-".
func (a *app) readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(a.in)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
