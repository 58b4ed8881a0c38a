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

package softtoken

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"sentinel", ErrTokenNotActive, "token_not_active"},
		{"wrapped", fmt.Errorf("sign: %w", ErrInvalidDigest), "invalid_digest"},
		{"internal detail", fmt.Errorf("%w: disk full", ErrInternal), "internal"},
		{"deadline", fmt.Errorf("execute: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"foreign", errors.New("boom"), "internal"},
		{"policy", ErrPinPolicyViolation, "pin_policy_violation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorCode_EverySentinelHasACode(t *testing.T) {
	seen := make(map[string]bool)
	for _, e := range errorCodes {
		code := ErrorCode(e.err)
		assert.Equal(t, e.code, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
