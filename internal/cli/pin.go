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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/jeremyhahn/go-softtoken/internal/password"
)

// ErrPINMismatch is returned when a new PIN and its confirmation differ.
var ErrPINMismatch = errors.New("PINs do not match")

// pinPrompt reads PINs from SOFTTOKEN_PIN / SOFTTOKEN_NEW_PIN, a terminal
// without echo, or one line at a time from piped input.
type pinPrompt struct {
	v   *viper.Viper
	in  io.Reader
	out io.Writer
	buf *bufio.Reader
}

func newPINPrompt(v *viper.Viper, in io.Reader, out io.Writer) *pinPrompt {
	return &pinPrompt{v: v, in: in, out: out, buf: bufio.NewReader(in)}
}

// current returns the token's current PIN.
func (p *pinPrompt) current(prompt string) ([]byte, error) {
	if pin := p.v.GetString("pin"); pin != "" {
		return []byte(pin), nil
	}
	return p.read(prompt)
}

// next returns a new PIN, asking twice when interactive. envKey selects
// the environment source: "pin" for a first PIN, "new-pin" for a change.
func (p *pinPrompt) next(envKey, prompt string) ([]byte, error) {
	if pin := p.v.GetString(envKey); pin != "" {
		return []byte(pin), nil
	}
	pin, err := p.read(prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := p.read("Confirm " + prompt)
	if err != nil {
		password.Zero(pin)
		return nil, err
	}
	defer password.Zero(confirm)
	if !bytes.Equal(pin, confirm) {
		password.Zero(pin)
		return nil, ErrPINMismatch
	}
	return pin, nil
}

// secret reads a value without the environment, e.g. an import passphrase.
func (p *pinPrompt) secret(prompt string) ([]byte, error) {
	return p.read(prompt)
}

func (p *pinPrompt) read(prompt string) ([]byte, error) {
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(p.out, prompt)
		pin, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("failed to read PIN: %w", err)
		}
		return pin, nil
	}

	line, err := p.buf.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, fmt.Errorf("failed to read PIN: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}
