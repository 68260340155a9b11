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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/backend"
	"github.com/trialiq/console/internal/identity"
	"github.com/trialiq/console/internal/notice"
	"github.com/trialiq/console/internal/observability/logger"
	"github.com/trialiq/console/internal/session"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" example:"admin@trialiq.io"`
	Password string `json:"password" example:"secret123"`
}

// MeResponse describes the signed-in administrator.
type MeResponse struct {
	User              identity.User                 `json:"user"`
	CapabilitiesKnown bool                          `json:"capabilities_known"`
	SuperAdmin        bool                          `json:"super_admin"`
	Capabilities      map[string]authz.Capabilities `json:"capabilities"`
	ExpiresAt         time.Time                     `json:"expires_at"`
}

// Login handles administrator login
// @Summary Login
// @Description Authenticate against the backend and create a console session
// @Tags Auth
// @Accept json
// @Produce json
// @Param X-CSRF-Token header string true "CSRF token"
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.respondFailure(w, r, apperr.Validation("email", "email is required"))
		return
	}
	if req.Password == "" {
		h.respondFailure(w, r, apperr.Validation("password", "password is required"))
		return
	}

	signIn, err := h.client.Login(r.Context(), backend.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLoginFailed,
			Resource:  req.Email,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": string(apperr.KindOf(err))},
		})
		h.respondFailure(w, r, err)
		return
	}

	sess, err := h.sessionService.Create(r.Context(), signIn.User, signIn.Tokens, getIPAddress(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		h.respondFailure(w, r, err)
		return
	}

	h.setSessionCookie(w, sess.ID)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   sess.User.ID,
		SessionID: sess.ID,
		Resource:  "session",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"role_id": sess.User.RoleID()},
	})

	respondNotice(w, http.StatusOK,
		notice.Success("Signed in", "Welcome back, "+sess.User.Name),
		h.describe(r.Context(), sess, nil),
	)
}

// Logout handles administrator logout
// @Summary Logout
// @Description Sign out at the backend and destroy the console session
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Success 200 {object} NoticeResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.getSessionFromCookie(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := h.sessionService.Get(r.Context(), sessionID)
	if err == nil {
		api := h.client.Bind(h.sessionService.TokenStore(sess.ID))
		if err := api.Logout(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "backend logout failed", logger.SessionID(sess.ID), logger.Error(err))
		}
		h.endSession(r, sess.ID, sess.User.ID, audit.TypeLogout)
	}

	h.clearSessionCookie(w)

	respondNotice(w, http.StatusOK, notice.Success("Signed out", "You have been signed out."), nil)
}

// GetCurrentUser returns the signed-in administrator and capability matrix
// @Summary Get Current User
// @Description The session user, embedded role and capability per module. refresh=true refetches the user from the backend.
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Param refresh query bool false "Refetch the user and role"
// @Success 200 {object} MeResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	api := backendAPI(r.Context())

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		updated, err := h.refetchPrincipal(r.Context(), sess, api)
		if err != nil && apperr.KindOf(err) == apperr.KindAuth {
			h.respondFailure(w, r, err)
			return
		}
		sess = updated
	}

	respondJSON(w, http.StatusOK, h.describe(r.Context(), sess, api))
}

// refetchPrincipal reloads the signed-in user. A failure other than an
// AuthError leaves the role in place with unknown capabilities.
func (h *Handler) refetchPrincipal(ctx context.Context, sess *session.Session, api *backend.API) (*session.Session, error) {
	user, err := api.Me(ctx)
	if err == nil && user.Role != nil {
		err = h.sessionService.ReplaceRole(ctx, sess.ID, user.Role)
	} else if err == nil {
		err = &apperr.DecodeError{Target: "user", Err: errors.New("user has no role")}
	}
	if err != nil {
		if apperr.KindOf(err) != apperr.KindAuth {
			slog.WarnContext(ctx, "principal refetch failed", logger.SessionID(sess.ID), logger.Error(err))
			if merr := h.sessionService.MarkCapabilitiesUnknown(ctx, sess.ID); merr != nil {
				slog.ErrorContext(ctx, "failed to mark capabilities unknown", logger.Error(merr))
			}
		}
	}
	updated, gerr := h.sessionService.Get(ctx, sess.ID)
	if gerr != nil {
		return sess, err
	}
	return updated, err
}

// describe builds the capability view of a session. The module axis comes
// from the directory snapshot when one is available and from the role's
// own permissions otherwise.
func (h *Handler) describe(ctx context.Context, sess *session.Session, api *backend.API) MeResponse {
	gate := sess.Gate()

	var modules []authz.Module
	if api != nil && h.directoryService != nil {
		if snap, err := h.directoryService.Get(ctx, sess.ID, api); err == nil {
			modules = snap.Modules()
		} else {
			slog.WarnContext(ctx, "directory unavailable for capability matrix", logger.SessionID(sess.ID), logger.Error(err))
		}
	}
	if modules == nil && sess.Role() != nil {
		for _, p := range sess.Role().Permissions {
			modules = append(modules, p.Module)
		}
	}

	return MeResponse{
		User:              sess.User,
		CapabilitiesKnown: gate.Known(),
		SuperAdmin:        gate.Known() && authz.IsSuperAdmin(sess.Role()),
		Capabilities:      gate.Matrix(modules),
		ExpiresAt:         sess.ExpiresAt,
	}
}
