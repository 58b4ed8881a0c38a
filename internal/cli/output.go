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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatText, OutputFormatJSON, OutputFormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format OutputFormat, writer io.Writer) *Printer {
	return &Printer{
		format: format,
		writer: writer,
	}
}

// PrintTokens prints the status of tokens.
func (p *Printer) PrintTokens(tokens []*types.TokenInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"tokens": tokens,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-24s %-20s %-8s %-9s\n", "TOKEN", "STATUS", "ACTIVE", "AVAILABLE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 64))
		for _, t := range tokens {
			fmt.Fprintf(p.writer, "%-24s %-20s %-8t %-9t\n", t.ID, t.Status, t.Active, t.Available)
		}
		return nil
	default:
		for _, t := range tokens {
			fmt.Fprintf(p.writer, "Token: %s\n", t.ID)
			fmt.Fprintf(p.writer, "  Status:    %s\n", t.Status)
			fmt.Fprintf(p.writer, "  Active:    %t\n", t.Active)
			fmt.Fprintf(p.writer, "  Available: %t\n", t.Available)
		}
		return nil
	}
}

// PrintKeyList prints the keys of a token.
func (p *Printer) PrintKeyList(keys []*types.KeyInfo) error {
	switch p.format {
	case OutputFormatJSON:
		if keys == nil {
			keys = []*types.KeyInfo{}
		}
		return p.printJSON(map[string]interface{}{
			"keys": keys,
		})
	case OutputFormatTable:
		if len(keys) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-34s %-10s %-11s %-6s\n", "KEY ID", "AVAILABLE", "PUBLIC KEY", "CERTS")
		fmt.Fprintln(p.writer, strings.Repeat("-", 64))
		for _, k := range keys {
			fmt.Fprintf(p.writer, "%-34s %-10t %-11t %-6d\n", k.ID, k.Available, k.HasPublicKey(), len(k.Certs))
		}
		return nil
	default:
		if len(keys) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintln(p.writer, "Keys:")
		for _, k := range keys {
			state := "available"
			if !k.Available {
				state = "unavailable"
			}
			fmt.Fprintf(p.writer, "  - %s (%s)\n", k.ID, state)
		}
		return nil
	}
}

// PrintGeneratedKey prints the id and public key of a new key.
func (p *Printer) PrintGeneratedKey(res *softtoken.GenerateKeyResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(res)
	default:
		fmt.Fprintf(p.writer, "Key ID:     %s\n", res.KeyID)
		fmt.Fprintf(p.writer, "Public key: %s\n", res.PublicKey)
		return nil
	}
}

// PrintSignature prints a base64 encoded signature.
func (p *Printer) PrintSignature(keyID, algorithm, signature string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"key_id":    keyID,
			"algorithm": algorithm,
			"signature": signature,
		})
	default:
		fmt.Fprintln(p.writer, signature)
		return nil
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	default:
		fmt.Fprintln(p.writer, message)
		return nil
	}
}

// PrintError prints an error with its stable error code.
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"code":   softtoken.ErrorCode(err),
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
