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

// Package validation provides input validation shared by the token worker,
// the keystore and the command line tools.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// keyIDPattern matches identifiers that are safe to use as file names.
	// A leading dot is rejected so key ids cannot collide with hidden
	// bookkeeping files in the token directory.
	keyIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-][a-zA-Z0-9_\-\.]*$`)

	// tokenIDPattern matches token identifiers.
	tokenIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// ErrPINPolicy is wrapped by every PIN policy violation.
var ErrPINPolicy = errors.New("PIN does not satisfy the policy")

// ValidateKeyID validates a key identifier.
// Prevents path traversal and injection by:
// - Rejecting empty strings
// - Rejecting null bytes and control characters
// - Rejecting path separators and a leading dot
// - Enforcing length limits
func ValidateKeyID(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("key ID cannot be empty")
	}

	if strings.Contains(keyID, "\x00") {
		return fmt.Errorf("key ID contains null byte")
	}

	// Check length before the regexp
	if len(keyID) > 255 {
		return fmt.Errorf("key ID too long (max 255 characters)")
	}

	if strings.ContainsAny(keyID, `/\`) {
		return fmt.Errorf("key ID cannot contain path separators")
	}

	for _, r := range keyID {
		if r < 32 || r == 127 {
			return fmt.Errorf("key ID contains control characters")
		}
	}

	if !keyIDPattern.MatchString(keyID) {
		return fmt.Errorf("key ID contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, . and no leading dot)")
	}

	return nil
}

// ValidateTokenID validates a token identifier.
func ValidateTokenID(tokenID string) error {
	if tokenID == "" {
		return fmt.Errorf("token ID cannot be empty")
	}
	if len(tokenID) > 64 {
		return fmt.Errorf("token ID too long (max 64 characters)")
	}
	if !tokenIDPattern.MatchString(tokenID) {
		return fmt.Errorf("token ID contains invalid characters (allowed: a-z, A-Z, 0-9, -, _)")
	}
	return nil
}

// PINPolicy describes the complexity required of a token PIN.
// Character classes are upper case, lower case, digits and printable
// punctuation.
type PINPolicy struct {
	// MinLength is the minimum number of characters.
	MinLength int `yaml:"min_length" json:"min_length"`

	// MinCharClasses is how many of the four character classes must appear.
	MinCharClasses int `yaml:"min_char_classes" json:"min_char_classes"`
}

// DefaultPINPolicy requires ten characters from at least three classes.
func DefaultPINPolicy() PINPolicy {
	return PINPolicy{
		MinLength:      10,
		MinCharClasses: 3,
	}
}

// Validate checks the policy values themselves.
func (p PINPolicy) Validate() error {
	if p.MinLength < 1 {
		return fmt.Errorf("PIN policy: min_length must be positive")
	}
	if p.MinCharClasses < 0 || p.MinCharClasses > 4 {
		return fmt.Errorf("PIN policy: min_char_classes must be between 0 and 4")
	}
	return nil
}

// ValidatePIN checks pin against the policy. Only printable ASCII is
// accepted so the PIN can be typed on any keyboard layout.
func (p PINPolicy) ValidatePIN(pin []byte) error {
	if len(pin) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPINPolicy, p.MinLength)
	}

	var upper, lower, digit, special bool
	for _, c := range pin {
		switch {
		case c < 0x20 || c > 0x7e:
			return fmt.Errorf("%w: only printable ASCII characters are allowed", ErrPINPolicy)
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		default:
			special = true
		}
	}

	classes := 0
	for _, present := range []bool{upper, lower, digit, special} {
		if present {
			classes++
		}
	}
	if classes < p.MinCharClasses {
		return fmt.Errorf("%w: must contain at least %d of upper case, lower case, digits and special characters",
			ErrPINPolicy, p.MinCharClasses)
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	// Limit length to prevent log flooding
	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}
	return s
}
