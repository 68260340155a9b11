// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/generation"
	"github.com/trialiq/console/internal/session"
)

func createMinimalHandler(t *testing.T) *Handler {
	t.Helper()
	sealer, err := session.NewSealer(bytes.Repeat([]byte{1}, session.KeySize))
	require.NoError(t, err)
	sessions := session.NewService(session.NewMemoryRepository(), sealer, session.Config{})
	return NewHandler(nil, sessions, nil, nil, nil, SessionConfig{
		CookieName:     "trialiq_console",
		CookiePath:     "/",
		CookieHTTPOnly: true,
	})
}

// =============================================================================
// AUTH API INPUT VALIDATION TESTS
// Category: Auth API - Input Validation & HTTP Behavior
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that empty request bodies for login are rejected with 400 Bad Request.
// Scope: Unit Test
// Security: Request body parsing and validation
// Expected: Returns HTTP 400 Bad Request for empty bodies.
// Test Case ID: LGN-05
func TestAuth_Login_EmptyBody_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte{}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"LGN-05: Empty body should return 400 Bad Request")
}

// TestPurpose: Validates that malformed JSON in the login request is rejected safely.
// Scope: Unit Test
// Security: JSON parsing safety (prevents parser exploits)
// Expected: Returns HTTP 400 Bad Request with a failure notice.
// Test Case ID: LGN-06B
func TestAuth_Login_MalformedJSON_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{invalid_json}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"LGN-06B: Malformed JSON should return 400 Bad Request")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", string(resp.Notice.Variant))
}

// TestPurpose: Validates that missing credentials are refused before any backend call.
// Scope: Unit Test
// Security: Input validation on the unauthenticated surface
// Expected: Returns HTTP 400 naming the missing field; the nil backend client is never reached.
// Test Case ID: LGN-07
func TestAuth_Login_MissingCredentials_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no email", `{"password":"secret123"}`, "email"},
		{"blank email", `{"email":"   ","password":"secret123"}`, "email"},
		{"no password", `{"email":"admin@trialiq.io"}`, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			h.Login(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.field)
		})
	}
}

// =============================================================================
// SECURITY TESTS - Error Message Safety
// Category: Security - Error Handling
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that error responses do not leak sensitive internal details (stack traces, paths).
// Scope: Unit Test
// Security: Information disclosure prevention (CWE-209)
// Expected: Response body does not contain patterns like "panic", "/Users/", "goroutine", etc.
// Test Case ID: SEC-02
func TestSecurity_ErrorHandling_NoSensitiveDataIsLeaked(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{invalid}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	body := w.Body.String()

	sensitivePatterns := []string{
		"panic",
		"/Users/",
		"/home/",
		"goroutine",
		"runtime.",
		".go:",
		"stack trace",
	}

	for _, pattern := range sensitivePatterns {
		assert.NotContains(t, strings.ToLower(body), strings.ToLower(pattern),
			"SEC-02 SECURITY: Response should not contain '%s'", pattern)
	}
}

// TestPurpose: Validates that unclassified failures answer a generic 500.
// Scope: Unit Test
// Security: Information disclosure prevention (CWE-209)
// Expected: The internal error text is logged, never returned.
// Test Case ID: SEC-03
func TestSecurity_UnclassifiedFailure_IsOpaque(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	w := httptest.NewRecorder()

	h.respondFailure(w, req, errors.New("pgx: connection refused on 10.1.2.3:5432"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.1.2.3")
}

// TestPurpose: Validates that JSON responses include the application/json Content-Type header.
// Scope: Unit Test
// Security: Prevents MIME sniffing attacks
// Expected: Content-Type header contains "application/json".
// Test Case ID: SEC-10
func TestSecurity_Headers_JSONContentTypeIsSet(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	contentType := w.Header().Get("Content-Type")
	assert.Contains(t, contentType, "application/json",
		"SEC-10: JSON responses must have application/json content type")
}

// TestPurpose: Validates the health check body and its readiness check.
// Scope: Unit Test
// Security: Readiness failures do not expose dependency details
// Expected: 200 healthy without a failing check; 503 unhealthy with a generic error otherwise.
// Test Case ID: SEC-05B
func TestSecurity_HealthCheck_ReturnsValidJSON(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "Health check should return 200")
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Health response should be valid JSON")
	assert.Equal(t, "healthy", resp.Status)

	h.WithReadiness(func(r *http.Request) error {
		return fmt.Errorf("dial tcp 10.0.0.5:6379: connection refused")
	})
	w = httptest.NewRecorder()
	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

// =============================================================================
// MIDDLEWARE TESTS
// Category: Session & CSRF
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that state-changing requests require the X-CSRF-Token header.
// Scope: Unit Test
// Security: CSRF protection for cookie-authenticated calls
// Expected: POST without the header is 403; GET and POST with the header pass through.
// Test Case ID: CSRF-01
func TestMiddleware_CSRF(t *testing.T) {
	h := createMinimalHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := h.CSRFMiddleware(next)

	tests := []struct {
		name   string
		method string
		token  string
		want   int
	}{
		{"GET passes", http.MethodGet, "", http.StatusNoContent},
		{"POST without token", http.MethodPost, "", http.StatusForbidden},
		{"DELETE without token", http.MethodDelete, "", http.StatusForbidden},
		{"POST with token", http.MethodPost, "1", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/roles", nil)
			if tt.token != "" {
				req.Header.Set("X-CSRF-Token", tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// TestPurpose: Validates that protected routes reject missing and unknown sessions.
// Scope: Unit Test
// Security: Unauthenticated access is refused and stale cookies are cleared
// Expected: 401 without a cookie; 401 and a cleared cookie for an unknown session.
// Test Case ID: SES-10
func TestMiddleware_Auth_RejectsUnknownSession(t *testing.T) {
	h := createMinimalHandler(t)
	called := false
	handler := h.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "trialiq_console", Value: "not-a-session"})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "trialiq_console" && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "stale session cookie should be cleared")
	assert.False(t, called)
}

// TestPurpose: Validates the mapping from classified failures to HTTP status codes.
// Scope: Unit Test
// Expected: Each failure kind maps to its documented status.
// Test Case ID: ERR-01
func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("name", "name is required"), http.StatusBadRequest},
		{"backend validation", &apperr.ValidationError{Message: "bad", Status: http.StatusUnprocessableEntity}, http.StatusUnprocessableEntity},
		{"auth", &apperr.AuthError{Message: "token expired"}, http.StatusUnauthorized},
		{"conflict", &apperr.ConflictError{Message: "role is assigned to users"}, http.StatusConflict},
		{"forbidden", &apperr.ForbiddenError{Module: "Roles", Action: "delete"}, http.StatusForbidden},
		{"network", &apperr.NetworkError{Err: errors.New("reset")}, http.StatusBadGateway},
		{"decode", &apperr.DecodeError{Target: "role", Err: errors.New("eof")}, http.StatusBadGateway},
		{"stale", generation.ErrStale, http.StatusConflict},
		{"wrapped", fmt.Errorf("create role: %w", &apperr.ConflictError{Message: "taken"}), http.StatusConflict},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
