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

// Package health implements liveness, readiness and startup checks for the
// token daemon, including per-token readiness checks.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 2 * time.Second

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works with reduced capability,
	// e.g. a token waiting for its PIN.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Report is the aggregated outcome of a health endpoint.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// CheckFunc performs a health check. It should honor ctx.
type CheckFunc func(ctx context.Context) CheckResult

// Checker manages health checks following Kubernetes semantics:
// liveness (restart?), readiness (route traffic?) and startup (done
// initializing?).
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	timeout   time.Duration
	checks    map[string]CheckFunc
}

// NewChecker creates a health checker. A non-positive timeout selects
// DefaultCheckTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// RegisterCheck adds or replaces the check called name. nil is ignored.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks initialization as complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted is used during shutdown.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// Live reports whether the process is alive. It only fails if the daemon
// cannot recover on its own, which a running process never reports.
func (c *Checker) Live(ctx context.Context) CheckResult {
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: "alive",
	}
}

// Ready runs every registered check and returns the results sorted by name.
// Each check runs under its own timeout; a check that does not return in
// time is reported unhealthy.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		checks[name] = check
	}
	timeout := c.timeout
	c.mu.RUnlock()

	if len(names) == 0 {
		return []CheckResult{{
			Name:    "default",
			Status:  StatusHealthy,
			Message: "no readiness checks configured",
		}}
	}
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, name, checks[name], timeout)
		}()
	}
	wg.Wait()
	return results
}

func runCheck(ctx context.Context, name string, check CheckFunc, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- check(ctx) }()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{
			Status: StatusUnhealthy,
			Error:  ctx.Err().Error(),
		}
	}
	result.Latency = time.Since(start)
	if result.Name == "" {
		result.Name = name
	}
	return result
}

// Startup fails until MarkStarted is called.
func (c *Checker) Startup(ctx context.Context) CheckResult {
	c.mu.RLock()
	started := c.started
	startTime := c.startTime
	c.mu.RUnlock()

	if !started {
		return CheckResult{
			Name:    "startup",
			Status:  StatusUnhealthy,
			Message: "initialization not complete",
		}
	}
	return CheckResult{
		Name:    "startup",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("initialized (uptime: %s)", time.Since(startTime).Round(time.Second)),
	}
}

// ReadyReport runs Ready and aggregates the results.
func (c *Checker) ReadyReport(ctx context.Context) Report {
	results := c.Ready(ctx)
	return Report{Status: AggregateStatus(results), Checks: results}
}

// IsStarted returns true if the service has been marked as started.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the service has been running.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startTime)
}

// AggregateStatus returns unhealthy if any result is unhealthy, else
// degraded if any is degraded, else healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// TokenSource reports the registry view of one token.
type TokenSource interface {
	Info() (*types.TokenInfo, error)
}

// TokenCheck returns a readiness check for one token. An active token is
// healthy; an initialized token without an accepted PIN, or one that is
// not initialized yet, is degraded. A rejected PIN or an unreadable
// registry entry is unhealthy.
func TokenCheck(name string, source TokenSource) CheckFunc {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{Name: name}

		info, err := source.Info()
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			return result
		}

		switch {
		case info.Status == types.TokenStatusUserPinIncorrect:
			result.Status = StatusUnhealthy
			result.Message = "session PIN rejected"
		case info.Status == types.TokenStatusNotInitialized || !info.Available:
			result.Status = StatusDegraded
			result.Message = "token not initialized"
		case !info.Active:
			result.Status = StatusDegraded
			result.Message = "token not active"
		default:
			result.Status = StatusHealthy
			result.Message = "token active"
		}
		return result
	}
}
