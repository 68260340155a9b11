package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	transportHTTP "github.com/trialiq/console/internal/transport/http"
)

func TestRouter_Routes(t *testing.T) {
	// Route matching only; no handler runs against the nil dependencies.
	h := &transportHTTP.Handler{}
	rl := transportHTTP.NewRateLimiter(100, 100)
	t.Cleanup(rl.Stop)
	r := transportHTTP.NewRouter(h, rl, 0)

	tests := []struct {
		method      string
		path        string
		expectFound bool
	}{
		{"GET", "/health", true},
		{"GET", "/metrics", true},
		{"GET", "/swagger/doc.json", true},
		{"POST", "/api/v1/auth/login", true},
		{"POST", "/api/v1/auth/logout", true},
		{"GET", "/api/v1/auth/me", true},
		{"GET", "/api/v1/modules", true},
		{"GET", "/api/v1/entities", true},
		{"GET", "/api/v1/roles", true},
		{"POST", "/api/v1/roles", true},
		{"PUT", "/api/v1/roles/role-1/permissions", true},
		{"DELETE", "/api/v1/roles/role-1", true},
		{"GET", "/api/v1/users/form-options", true},
		{"PUT", "/api/v1/users/user-1", true},
		{"GET", "/api/v1/assignments/trial_sites/t-1", true},
		{"POST", "/api/v1/trials/t-1/sites", true},
		{"POST", "/api/v1/trials/t-1/sponsors", true},
		{"DELETE", "/api/v1/trials/t-1/sponsors/sp-1", true},
		{"POST", "/api/v1/trials/t-1/documents", true},
		{"POST", "/api/v1/sponsors/sp-1/sites", true},
		{"GET", "/api/v1/records/patients", true},
		{"DELETE", "/api/v1/records/patients/p-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rctx := chi.NewRouteContext()
			if r.Match(rctx, req.Method, req.URL.Path) {
				if !tt.expectFound {
					t.Errorf("Route %s %s SHOULD NOT exist", tt.method, tt.path)
				}
			} else if tt.expectFound {
				t.Errorf("Route %s %s SHOULD exist", tt.method, tt.path)
			}
		})
	}
}

func TestRouter_Unrouted(t *testing.T) {
	// Unknown paths and methods are answered by the router before any
	// session lookup, so the nil dependencies are never touched.
	h := &transportHTTP.Handler{}
	rl := transportHTTP.NewRateLimiter(100, 100)
	t.Cleanup(rl.Stop)
	r := transportHTTP.NewRouter(h, rl, 0)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"POST", "/api/v1/auth/register", http.StatusNotFound},
		{"GET", "/api/v1/tenants", http.StatusNotFound},
		{"DELETE", "/api/v1/sponsors/sp-1/sites", http.StatusMethodNotAllowed},
		{"PUT", "/api/v1/auth/login", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-CSRF-Token", "1")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("%s %s: got %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestRouter_RateLimit(t *testing.T) {
	h := &transportHTTP.Handler{}
	rl := transportHTTP.NewRateLimiter(0.001, 1)
	t.Cleanup(rl.Stop)
	r := transportHTTP.NewRouter(h, rl, 0)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: got %d", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}
