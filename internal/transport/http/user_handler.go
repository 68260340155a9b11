package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/identity"
	"github.com/trialiq/console/internal/notice"
	"github.com/trialiq/console/internal/observability/logger"
)

// UserRequest is the user create/edit body.
type UserRequest struct {
	Name       string `json:"name" example:"Jane Doe"`
	Email      string `json:"email" example:"jane@site.org"`
	Phone      string `json:"phone,omitempty"`
	Password   string `json:"password,omitempty"`
	EntityType string `json:"entity_type" example:"site"`
	EntityID   string `json:"entity_id"`
	RoleID     string `json:"role_id"`
}

// FormOptions are the user form's picker contents for the current choices.
type FormOptions struct {
	EntityTypes []authz.EntityType    `json:"entity_types"`
	Entities    []authz.ExtractedRole `json:"entities"`
	Roles       []authz.Role          `json:"roles"`
}

func (h *Handler) userService(r *http.Request) *identity.Service {
	return identity.NewService(backendAPI(r.Context()), h.auditLogger)
}

// choices loads the picker sources a user form is validated against.
func (h *Handler) choices(r *http.Request) (identity.Choices, error) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		return identity.Choices{}, err
	}
	roles := h.roleService(r)
	if err := roles.Refresh(r.Context()); err != nil {
		return identity.Choices{}, err
	}
	groups, _ := roles.Groups()
	return identity.Choices{Entities: snap, Roles: groups}, nil
}

// applyChoices replays the picker choices in dependency order.
func applyChoices(f *identity.Form, req UserRequest) {
	t := authz.EntityType(req.EntityType)
	if parsed, err := authz.ParseEntityType(req.EntityType); err == nil {
		t = parsed
	}
	if t != f.EntityType {
		f.SetEntityType(t)
	}
	if req.EntityID != f.EntityID {
		f.SetEntityID(req.EntityID)
	}
	f.SetRoleID(req.RoleID)
	f.Name = req.Name
	f.Email = req.Email
	f.Phone = req.Phone
	f.Password = req.Password
}

// ListUsers lists users
// @Summary List Users
// @Tags Users
// @Produce json
// @Security CookieAuth
// @Success 200 {array} identity.User
// @Failure 403 {object} ErrorResponse
// @Router /users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService(r).List(r.Context())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// GetUser returns one user
// @Summary Get User
// @Tags Users
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Success 200 {object} identity.User
// @Router /users/{userID} [get]
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.userService(r).Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

// UserFormOptions returns the picker options for the user form
// @Summary User Form Options
// @Description Entities of the chosen type and roles assignable to the chosen entity
// @Tags Users
// @Produce json
// @Security CookieAuth
// @Param entity_type query string false "Chosen entity type"
// @Param entity_id query string false "Chosen entity"
// @Success 200 {object} FormOptions
// @Router /users/form-options [get]
func (h *Handler) UserFormOptions(w http.ResponseWriter, r *http.Request) {
	c, err := h.choices(r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	f := identity.NewCreateForm()
	applyChoices(f, UserRequest{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
	})

	respondJSON(w, http.StatusOK, FormOptions{
		EntityTypes: authz.EntityTypes,
		Entities:    f.EntityOptions(c.Entities),
		Roles:       f.RoleOptions(c.Roles),
	})
}

// CreateUser creates a user bound to one role
// @Summary Create User
// @Tags Users
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param request body UserRequest true "User"
// @Success 201 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /users [post]
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	c, err := h.choices(r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	f := identity.NewCreateForm()
	applyChoices(f, req)
	u, err := h.userService(r).Create(r.Context(), GetUserID(r.Context()), f, c)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	h.dropSnapshot(r.Context(), GetSessionID(r.Context()))
	respondNotice(w, http.StatusCreated, notice.Success("User created", "User "+u.Name+" created"), u)
}

// UpdateUser edits a user. Changing the role replaces it as a whole.
// @Summary Update User
// @Tags Users
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param userID path string true "User ID"
// @Param request body UserRequest true "User"
// @Success 200 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Router /users/{userID} [put]
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	svc := h.userService(r)
	existing, err := svc.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	c, err := h.choices(r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	f := identity.NewEditForm(existing)
	applyChoices(f, req)
	u, err := svc.Update(r.Context(), GetUserID(r.Context()), f, c)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	if _, err := h.sessionService.InvalidateUser(r.Context(), u.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to invalidate user sessions", logger.UserID(u.ID), logger.Error(err))
	}
	h.dropSnapshot(r.Context(), GetSessionID(r.Context()))
	if sess := GetSession(r.Context()); sess != nil && sess.User.ID == u.ID && u.Role != nil {
		h.replaceOwnRole(r.Context(), sess.ID, u.Role)
	}
	respondNotice(w, http.StatusOK, notice.Success("User updated", "User "+u.Name+" updated"), u)
}

// DeleteUser hard-deletes a user and ends the user's console sessions
// @Summary Delete User
// @Tags Users
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param userID path string true "User ID"
// @Param confirm query bool true "Deletion confirmation"
// @Success 200 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Router /users/{userID} [delete]
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	msg, err := h.userService(r).Delete(r.Context(), GetUserID(r.Context()), id, confirmed)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	if err := h.sessionService.DestroyUser(r.Context(), id); err != nil {
		slog.WarnContext(r.Context(), "failed to end sessions of deleted user", logger.UserID(id), logger.Error(err))
	}
	h.dropSnapshot(r.Context(), GetSessionID(r.Context()))
	if msg == "" {
		msg = "User deleted"
	}
	respondNotice(w, http.StatusOK, notice.Success("User deleted", msg), nil)
}

func (h *Handler) replaceOwnRole(ctx context.Context, sessionID string, role *authz.Role) {
	if err := role.Validate(); err != nil {
		slog.WarnContext(ctx, "updated role is incomplete", logger.Error(&apperr.DecodeError{Target: "role", Err: err}))
		if err := h.sessionService.MarkCapabilitiesUnknown(ctx, sessionID); err != nil {
			slog.ErrorContext(ctx, "failed to mark capabilities unknown", logger.Error(err))
		}
		return
	}
	if err := h.sessionService.ReplaceRole(ctx, sessionID, role); err != nil {
		slog.ErrorContext(ctx, "failed to replace session role", logger.Error(err))
	}
}
