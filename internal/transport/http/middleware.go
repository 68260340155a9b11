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
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/observability/logger"
)

// Console Authorization Principles:
// 1. Capabilities come only from the session's embedded role
// 2. Unknown capabilities deny every gated action
// 3. The backend remains the authority; console gates never widen access

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware rehydrates the console session from its cookie and binds a
// backend caller to the session's tokens.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		// A failed token refresh leaves the session without tokens.
		if !sess.SignedIn() {
			h.endSession(r, sess.ID, sess.User.ID, audit.TypeForcedSignOut)
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "session signed out")
			return
		}

		if err := h.sessionService.Touch(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to touch session", logger.Error(err))
		}

		api := h.client.Bind(h.sessionService.TokenStore(sess.ID))

		// Edits to the session's role or user leave it unknown; resync once
		// here. A failed resync keeps it unknown and the gate denies.
		if !sess.CapabilitiesKnown {
			updated, err := h.refetchPrincipal(r.Context(), sess, api)
			if err != nil && apperr.KindOf(err) == apperr.KindAuth {
				h.endSession(r, sess.ID, sess.User.ID, audit.TypeForcedSignOut)
				h.clearSessionCookie(w)
				respondError(w, http.StatusUnauthorized, "session signed out")
				return
			}
			sess = updated
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), sess, api)))
	})
}

// RequireCapability rejects the request unless the session's role grants
// action on module.
func (h *Handler) RequireCapability(module string, action authz.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !h.authorize(w, r, module, action) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorize checks the gate and answers 403 on denial.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, module string, action authz.Action) bool {
	sess := GetSession(r.Context())
	if sess == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return false
	}
	err := sess.Gate().Check(module, action)
	if err == nil {
		return true
	}

	h.metrics.Denied(module, string(action))
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeCapabilityDenied,
		ActorID:   sess.User.ID,
		SessionID: sess.ID,
		Resource:  module,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata: map[string]any{
			"action":             string(action),
			"capabilities_known": sess.CapabilitiesKnown,
		},
	})
	h.respondFailure(w, r, err)
	return false
}

// CSRFMiddleware protects against Cross-Site Request Forgery for state-changing requests.
// We enforce a custom header 'X-CSRF-Token'.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only enforce for state-changing methods
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions || r.Method == http.MethodTrace {
			next.ServeHTTP(w, r)
			return
		}

		// Cross-origin form posts cannot set custom headers.
		csrfToken := r.Header.Get("X-CSRF-Token")
		if csrfToken == "" {
			slog.WarnContext(r.Context(), "missing CSRF token header", logger.Method(r.Method), logger.Path(r.URL.Path))
			respondError(w, http.StatusForbidden, "CSRF protection: X-CSRF-Token header is required for state-changing operations")
			return
		}

		next.ServeHTTP(w, r)
	})
}
