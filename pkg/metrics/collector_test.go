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

package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCollect(t *testing.T) {
	Enable()

	var polled atomic.Int32
	c := NewCollector(time.Hour, func() { polled.Add(1) })
	c.Collect()

	if polled.Load() != 1 {
		t.Errorf("Expected source to be polled once, got %d", polled.Load())
	}
	if v := testutil.ToFloat64(Goroutines); v <= 0 {
		t.Errorf("Expected goroutine gauge > 0, got %v", v)
	}
	if v := testutil.ToFloat64(MemoryAllocBytes); v <= 0 {
		t.Errorf("Expected memory gauge > 0, got %v", v)
	}
}

func TestCollectorDisabled(t *testing.T) {
	Disable()
	defer Enable()

	var polled atomic.Int32
	NewCollector(time.Hour, func() { polled.Add(1) }).Collect()

	if polled.Load() != 0 {
		t.Errorf("Expected no polling while disabled, got %d", polled.Load())
	}
}

func TestCollectorRun(t *testing.T) {
	Enable()

	var polled atomic.Int32
	c := NewCollector(10*time.Millisecond, func() { polled.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for polled.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 collections, got %d", polled.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Collector did not stop after cancel")
	}
}
