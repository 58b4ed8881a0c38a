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

// Package metrics provides Prometheus instrumentation for software token
// operations. It exposes operation counters and latency histograms, error
// counters by error code, and per-token state gauges.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all softtoken metrics
	Namespace = "softtoken"

	// Label names
	LabelOperation  = "operation"
	LabelToken      = "token"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelAction     = "action"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpInitialize = "initialize"
	OpActivate   = "activate"
	OpDeactivate = "deactivate"
	OpGenerate   = "generate"
	OpImport     = "import"
	OpSign       = "sign"
	OpDeleteKey  = "delete_key"
	OpDeleteCert = "delete_cert"
	OpChangePIN  = "change_pin"
	OpUpdate     = "update"

	// Reconciliation actions
	ActionRegistered  = "registered"
	ActionUnavailable = "unavailable"
	ActionLoaded      = "loaded"
	ActionSkipped     = "skipped"
)

var (
	// OperationsTotal counts token worker commands by operation, token and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of token operations by type, token, and status",
		},
		[]string{LabelOperation, LabelToken, LabelStatus},
	)

	// OperationDuration tracks command execution time in seconds. RSA key
	// generation dominates the upper buckets.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of token operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelOperation, LabelToken},
	)

	// ErrorsTotal counts failed operations by error code.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, token, and error type",
		},
		[]string{LabelOperation, LabelToken, LabelErrorType},
	)

	// TokenActive is 1 while the token holds an accepted session PIN.
	TokenActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "token_active",
			Help:      "Indicates whether a token is active (1) or not (0)",
		},
		[]string{LabelToken},
	)

	// TokenAvailable is 1 while the token's PIN container is present.
	TokenAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "token_available",
			Help:      "Indicates whether a token is available (1) or not (0)",
		},
		[]string{LabelToken},
	)

	// TokenStatus is 1 for the token's current status and 0 for the others.
	TokenStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "token_status",
			Help:      "Current lifecycle status of a token",
		},
		[]string{LabelToken, LabelStatus},
	)

	// KeysTotal tracks the number of registered keys per token.
	KeysTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keys_total",
			Help:      "Total number of keys registered for each token",
		},
		[]string{LabelToken},
	)

	// KeysAvailable tracks the number of keys currently usable per token.
	KeysAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keys_available",
			Help:      "Number of available keys for each token",
		},
		[]string{LabelToken},
	)

	// CachedKeys tracks the size of each worker's private key cache.
	CachedKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cached_keys",
			Help:      "Number of decrypted private keys held by each token worker",
		},
		[]string{LabelToken},
	)

	// ReconcileTotal counts per-key reconciliation outcomes.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconcile_total",
			Help:      "Total number of key reconciliation actions by token and action",
		},
		[]string{LabelToken, LabelAction},
	)

	// RotationRecoveriesTotal counts interrupted PIN rotations found on disk.
	RotationRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rotation_recoveries_total",
			Help:      "Total number of interrupted PIN rotations recovered by token and action",
		},
		[]string{LabelToken, LabelAction},
	)

	// ActiveConnections tracks in-flight requests by protocol.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method, route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the daemon uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// RateLimitClients tracks the clients holding a rate limit bucket.
	RateLimitClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ratelimit_clients",
			Help:      "Clients currently tracked by the API rate limiter",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records a token operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := w.sign(cmd)
//	metrics.RecordOperation(metrics.OpSign, tokenID, metrics.StatusFor(err), time.Since(start).Seconds())
func RecordOperation(operation, token, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, token, status).Inc()
	OperationDuration.WithLabelValues(operation, token).Observe(duration)
}

// RecordError records a failed operation. errorType is a stable error code
// such as "token_not_active" or "pin_incorrect".
func RecordError(operation, token, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, token, errorType).Inc()
}

// StatusFor returns StatusSuccess for a nil error and StatusError otherwise.
func StatusFor(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordReconcile counts one reconciliation action for a token.
func RecordReconcile(token, action string) {
	if !enabled.Load() {
		return
	}
	ReconcileTotal.WithLabelValues(token, action).Inc()
}

// RecordRotationRecovery counts a recovered PIN rotation.
func RecordRotationRecovery(token, action string) {
	if !enabled.Load() {
		return
	}
	RotationRecoveriesTotal.WithLabelValues(token, action).Inc()
}

// TokenState is a snapshot of one token for the state gauges.
type TokenState struct {
	Token         string
	Status        string
	Active        bool
	Available     bool
	Keys          int
	AvailableKeys int
	CachedKeys    int
}

// statuses lists every status label so stale ones are reset to 0.
var statuses = []string{"NOT_INITIALIZED", "OK", "USER_PIN_INCORRECT"}

// SetTokenState publishes the state gauges of one token.
func SetTokenState(s TokenState) {
	if !enabled.Load() {
		return
	}
	TokenActive.WithLabelValues(s.Token).Set(boolToFloat(s.Active))
	TokenAvailable.WithLabelValues(s.Token).Set(boolToFloat(s.Available))
	for _, status := range statuses {
		TokenStatus.WithLabelValues(s.Token, status).Set(boolToFloat(status == s.Status))
	}
	KeysTotal.WithLabelValues(s.Token).Set(float64(s.Keys))
	KeysAvailable.WithLabelValues(s.Token).Set(float64(s.AvailableKeys))
	CachedKeys.WithLabelValues(s.Token).Set(float64(s.CachedKeys))
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// SetRateLimitClients publishes the number of tracked rate limit clients.
func SetRateLimitClients(n int) {
	if !enabled.Load() {
		return
	}
	RateLimitClients.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
