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

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

func healthy(name string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusHealthy}
	}
}

func TestNewChecker(t *testing.T) {
	checker := NewChecker(0)
	if checker.timeout != DefaultCheckTimeout {
		t.Errorf("expected default timeout, got %s", checker.timeout)
	}
	if checker.IsStarted() {
		t.Error("expected started to be false")
	}
	if checker.Uptime() > time.Second {
		t.Error("startTime should be recent")
	}
}

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker(time.Second)

	checker.RegisterCheck("b", healthy("b"))
	checker.RegisterCheck("a", healthy("a"))
	checker.RegisterCheck("nil", nil)

	results := checker.Ready(context.Background())
	if len(results) != 2 || results[0].Name != "a" || results[1].Name != "b" {
		t.Fatalf("expected [a b], got %+v", results)
	}

	checker.RegisterCheck("a", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	})
	results = checker.Ready(context.Background())
	if len(results) != 2 || results[0].Status != StatusDegraded {
		t.Errorf("expected replaced check to run, got %+v", results)
	}
}

func TestLive(t *testing.T) {
	result := NewChecker(0).Live(context.Background())
	if result.Status != StatusHealthy || result.Name != "liveness" {
		t.Errorf("unexpected liveness result: %+v", result)
	}
}

func TestReady(t *testing.T) {
	checker := NewChecker(time.Second)

	results := checker.Ready(context.Background())
	if len(results) != 1 || results[0].Name != "default" || results[0].Status != StatusHealthy {
		t.Fatalf("expected default healthy result, got %+v", results)
	}

	checker.RegisterCheck("zeta", healthy(""))
	checker.RegisterCheck("alpha", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy, Error: "down"}
	})

	results = checker.Ready(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "alpha" || results[1].Name != "zeta" {
		t.Errorf("expected results sorted by name with names filled in, got %s, %s", results[0].Name, results[1].Name)
	}
	if results[0].Error != "down" {
		t.Errorf("expected error to be preserved, got %q", results[0].Error)
	}
}

func TestReady_Timeout(t *testing.T) {
	checker := NewChecker(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	checker.RegisterCheck("stuck", func(ctx context.Context) CheckResult {
		<-release
		return CheckResult{Status: StatusHealthy}
	})

	start := time.Now()
	results := checker.Ready(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("Ready did not honor the check timeout")
	}
	if results[0].Status != StatusUnhealthy {
		t.Errorf("expected stuck check to be unhealthy, got %s", results[0].Status)
	}
	if results[0].Error == "" {
		t.Error("expected timeout error")
	}
}

func TestStartup(t *testing.T) {
	checker := NewChecker(0)
	if r := checker.Startup(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy before MarkStarted, got %s", r.Status)
	}
	checker.MarkStarted()
	if r := checker.Startup(context.Background()); r.Status != StatusHealthy {
		t.Errorf("expected healthy after MarkStarted, got %s", r.Status)
	}
	checker.MarkNotStarted()
	if checker.IsStarted() {
		t.Error("expected not started after MarkNotStarted")
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]CheckResult, len(tt.statuses))
			for i, s := range tt.statuses {
				results[i] = CheckResult{Status: s}
			}
			if got := AggregateStatus(results); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReadyReport(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.RegisterCheck("a", healthy("a"))
	checker.RegisterCheck("b", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	})

	report := checker.ReadyReport(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(report.Checks))
	}
}

type fakeToken struct {
	info *types.TokenInfo
	err  error
}

func (f fakeToken) Info() (*types.TokenInfo, error) {
	return f.info, f.err
}

func TestTokenCheck(t *testing.T) {
	tests := []struct {
		name   string
		source fakeToken
		want   Status
	}{
		{
			name:   "active",
			source: fakeToken{info: &types.TokenInfo{Status: types.TokenStatusOK, Active: true, Available: true}},
			want:   StatusHealthy,
		},
		{
			name:   "inactive",
			source: fakeToken{info: &types.TokenInfo{Status: types.TokenStatusOK, Available: true}},
			want:   StatusDegraded,
		},
		{
			name:   "not initialized",
			source: fakeToken{info: &types.TokenInfo{Status: types.TokenStatusNotInitialized}},
			want:   StatusDegraded,
		},
		{
			name:   "pin incorrect",
			source: fakeToken{info: &types.TokenInfo{Status: types.TokenStatusUserPinIncorrect, Available: true}},
			want:   StatusUnhealthy,
		},
		{
			name:   "registry error",
			source: fakeToken{err: errors.New("registry closed")},
			want:   StatusUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TokenCheck("token:t1", tt.source)(context.Background())
			if result.Status != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, result.Status, result.Message)
			}
			if result.Name != "token:t1" {
				t.Errorf("expected name token:t1, got %s", result.Name)
			}
		})
	}
}

func TestConcurrency(t *testing.T) {
	checker := NewChecker(time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			checker.RegisterCheck("check", healthy("check"))
		}()
		go func() {
			defer wg.Done()
			_ = checker.Ready(context.Background())
			_ = checker.Startup(context.Background())
		}()
	}
	wg.Wait()
}
