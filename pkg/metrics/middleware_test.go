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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/health/{check}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/fail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return r
}

func TestHTTPMiddlewareRoutePattern(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	router := newTestRouter()
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200 for %s, got %d", path, rec.Code)
		}
	}

	// both paths share one route label
	if v := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health/{check}", "200")); v != 2 {
		t.Errorf("Expected 2 requests for route, got %v", v)
	}
}

func TestHTTPMiddlewareStatusCodes(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	router := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}
	if v := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/fail", "503")); v != 1 {
		t.Errorf("Expected one 503 request, got %v", v)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if v := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")); v != 1 {
		t.Errorf("Expected one unmatched 404 request, got %v", v)
	}
}

func TestHTTPMiddlewareDisabled(t *testing.T) {
	Disable()
	defer Enable()
	HTTPRequestsTotal.Reset()

	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if count := testutil.CollectAndCount(HTTPRequestsTotal); count != 0 {
		t.Errorf("Expected no requests recorded while disabled, got %d", count)
	}
}

func TestHTTPMiddlewareActiveConnections(t *testing.T) {
	Enable()
	ActiveConnections.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolHTTP)); v != 1 {
			t.Errorf("Expected 1 active connection during request, got %v", v)
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if v := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolHTTP)); v != 0 {
		t.Errorf("Expected 0 active connections after request, got %v", v)
	}
}
