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

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
	})
	if !limiter.IsEnabled() {
		t.Error("Expected limiter to be enabled")
	}

	if limiter.burst != 10 {
		t.Errorf("Expected burst 10, got %d", limiter.burst)
	}

	if New(nil).IsEnabled() {
		t.Error("Expected nil config to yield a disabled limiter")
	}
	if New(&Config{Enabled: true}).IsEnabled() {
		t.Error("Expected a zero rate to yield a disabled limiter")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err != nil {
		t.Errorf("Disabled config should be valid: %v", err)
	}
	if err := (&Config{Enabled: true}).Validate(); err == nil {
		t.Error("Expected error for zero requests_per_minute")
	}
	if err := (&Config{Enabled: true, RequestsPerMinute: 10, Burst: -1}).Validate(); err == nil {
		t.Error("Expected error for negative burst")
	}
	if err := (&Config{Enabled: true, RequestsPerMinute: 10}).Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestAllow(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 600, // 10 per second
		Burst:             5,
	})

	clientID := "test-client"

	// First 5 requests should succeed (burst)
	for i := 0; i < 5; i++ {
		if !limiter.Allow(clientID) {
			t.Errorf("Request %d should be allowed (burst)", i+1)
		}
	}

	// Next request should be denied (burst exhausted)
	if limiter.Allow(clientID) {
		t.Error("Request should be denied after burst exhausted")
	}

	time.Sleep(150 * time.Millisecond)
	if !limiter.Allow(clientID) {
		t.Error("Request should be allowed after waiting")
	}
}

func TestDisabledLimiter(t *testing.T) {
	limiter := New(&Config{
		Enabled:           false,
		RequestsPerMinute: 1,
	})

	for i := 0; i < 100; i++ {
		if !limiter.Allow("test-client") {
			t.Fatal("Disabled limiter should allow all requests")
		}
	}
}

func TestPerClientLimiting(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})

	if !limiter.Allow("client-1") {
		t.Error("First request for client-1 should be allowed")
	}
	if limiter.Allow("client-1") {
		t.Error("Second request for client-1 should be denied")
	}
	if !limiter.Allow("client-2") {
		t.Error("First request for client-2 should be allowed")
	}
}

func TestCleanup(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		MaxIdle:           time.Minute,
	})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("idle-client")
	now = now.Add(50 * time.Second)
	limiter.Allow("busy-client")

	now = now.Add(30 * time.Second)
	limiter.cleanup()

	if _, ok := limiter.limiters["idle-client"]; ok {
		t.Error("Expected idle client to be removed")
	}
	if _, ok := limiter.limiters["busy-client"]; !ok {
		t.Error("Expected busy client to be kept")
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		CleanupInterval:   10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	// Another port of the same host shares the bucket.
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:5678"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("Expected Retry-After 1, got %q", rr.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		proxy      bool
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For",
			proxy:      true,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"},
			remoteAddr: "192.168.1.1:1234",
			expected:   "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			proxy:      true,
			headers:    map[string]string{"X-Real-IP": "203.0.113.1"},
			remoteAddr: "192.168.1.1:1234",
			expected:   "203.0.113.1",
		},
		{
			name:       "untrusted headers",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:1234",
			expected:   "192.168.1.1",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(&Config{TrustProxyHeaders: tt.proxy})
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if ip := limiter.clientIP(req); ip != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, ip)
			}
		})
	}
}

func TestActiveClients(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 120,
		Burst:             10,
	})
	if n := limiter.ActiveClients(); n != 0 {
		t.Errorf("Expected no clients, got %d", n)
	}

	limiter.Allow("client-1")
	limiter.Allow("client-2")
	limiter.Allow("client-1")

	if n := limiter.ActiveClients(); n != 2 {
		t.Errorf("Expected 2 active clients, got %d", n)
	}
}
