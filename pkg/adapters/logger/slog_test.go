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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-softtoken/pkg/correlation"
)

func newJSONAdapter(buf *bytes.Buffer, level Level) *SlogAdapter {
	return NewSlogAdapter(&SlogConfig{Format: "json", Output: buf, Level: level})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewSlogAdapter_NilConfig(t *testing.T) {
	adapter := NewSlogAdapter(nil)
	require.NotNil(t, adapter)
	assert.NotNil(t, adapter.Slog())
}

func TestNewSlogAdapter_CustomLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	adapter := NewSlogAdapter(&SlogConfig{Logger: l})
	assert.Same(t, l, adapter.Slog())

	adapter.Info("hello", String("k", "v"))
	assert.Contains(t, buf.String(), "k=v")
}

func TestSlogAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, LevelWarn)

	adapter.Debug("debug")
	adapter.Info("info")
	adapter.Warn("warn")
	adapter.Error("error")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}

func TestSlogAdapter_FieldTypes(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, LevelDebug)

	adapter.Info("fields",
		String("s", "v"),
		Int("i", 3),
		Bool("b", true),
		Duration("d", time.Second),
		Error(errors.New("boom")),
		Strings("list", []string{"a", "b"}),
		TokenID("0"),
		KeyID("k1"),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "v", line["s"])
	assert.Equal(t, float64(3), line["i"])
	assert.Equal(t, true, line["b"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "0", line[KeyTokenID])
	assert.Equal(t, "k1", line[KeyKeyID])
}

func TestSlogAdapter_WithDoesNotDuplicate(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, LevelDebug)

	child := adapter.With(TokenID("0")).WithError(errors.New("x"))
	child.Info("msg")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, `"token_id"`))
	assert.Equal(t, 1, strings.Count(out, `"error"`))

	// parent is unaffected
	buf.Reset()
	adapter.Info("parent")
	assert.NotContains(t, buf.String(), "token_id")

	assert.Same(t, adapter, adapter.With())
}

func TestSlogAdapter_ContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, LevelDebug)
	ctx := correlation.WithCorrelationID(context.Background(), "cid-123")

	adapter.DebugContext(ctx, "d")
	adapter.InfoContext(ctx, "i")
	adapter.WarnContext(ctx, "w")
	adapter.ErrorContext(ctx, "e")
	adapter.InfoContext(context.Background(), "none")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)
	for _, line := range lines[:4] {
		assert.Equal(t, "cid-123", line["correlation_id"])
	}
	_, ok := lines[4]["correlation_id"]
	assert.False(t, ok)
}

func TestNewDiscard(t *testing.T) {
	l := NewDiscard()
	l.Info("dropped")
	l.With(String("a", "b")).Error("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)

	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
