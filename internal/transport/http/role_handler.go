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
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/notice"
	"github.com/trialiq/console/internal/observability/logger"
)

// RolesResponse is the role collection after a read or a write.
type RolesResponse struct {
	Known  bool                    `json:"known"`
	Roles  []authz.Role            `json:"roles,omitempty"`
	Groups map[string][]authz.Role `json:"groups,omitempty"`
}

// RoleMutation is the data of a role write.
type RoleMutation struct {
	Role        *authz.Role        `json:"role,omitempty"`
	Permissions []authz.Permission `json:"permissions,omitempty"`
	Collection  RolesResponse      `json:"collection"`
}

// PermissionsRequest is the permission matrix patch.
type PermissionsRequest struct {
	Permissions []authz.PermissionEntry `json:"permissions"`
}

// roleService builds the per-request role service. Its generation scope is
// the request, so a concurrent read or write of the same session never
// supersedes this one.
func (h *Handler) roleService(r *http.Request) *authz.RoleService {
	return authz.NewRoleService(backendAPI(r.Context()), nil, GetSessionID(r.Context())).
		WithEntityLookup(h.entityLookup())
}

func collection(svc *authz.RoleService) RolesResponse {
	roles, ok := svc.Roles()
	return RolesResponse{Known: ok, Roles: roles}
}

// ListRoles lists roles
// @Summary List Roles
// @Description All roles; grouped=true buckets by entity type; entity_type with entity_id narrows to the roles assignable there
// @Tags Roles
// @Produce json
// @Security CookieAuth
// @Param grouped query bool false "Group by entity type"
// @Param entity_type query string false "Entity type filter"
// @Param entity_id query string false "Entity id filter"
// @Success 200 {object} RolesResponse
// @Failure 403 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /roles [get]
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	svc := h.roleService(r)
	if err := svc.Refresh(r.Context()); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	q := r.URL.Query()
	if t := q.Get("entity_type"); t != "" {
		entityType, err := authz.ParseEntityType(t)
		if err != nil {
			h.respondFailure(w, r, apperr.Validation("entity_type", "%v", err))
			return
		}
		groups, _ := svc.Groups()
		respondJSON(w, http.StatusOK, RolesResponse{Known: true, Roles: authz.RolesFor(groups, entityType, q.Get("entity_id"))})
		return
	}

	if grouped, _ := strconv.ParseBool(q.Get("grouped")); grouped {
		groups, ok := svc.Groups()
		respondJSON(w, http.StatusOK, RolesResponse{Known: ok, Groups: groups})
		return
	}
	respondJSON(w, http.StatusOK, collection(svc))
}

// GetRole returns one role with its permissions
// @Summary Get Role
// @Tags Roles
// @Produce json
// @Security CookieAuth
// @Param roleID path string true "Role ID"
// @Success 200 {object} authz.Role
// @Failure 403 {object} ErrorResponse
// @Router /roles/{roleID} [get]
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.roleService(r).Get(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, role)
}

// CreateRole creates a role
// @Summary Create Role
// @Tags Roles
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param request body authz.RoleInput true "Role"
// @Success 201 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /roles [post]
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var in authz.RoleInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	svc := h.roleService(r)
	role, err := svc.Create(r.Context(), in)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	h.audit(r, audit.TypeRoleCreated, "role:"+role.ID, map[string]any{
		"name":        role.Name,
		"entity_type": string(role.EntityType),
		"entity_id":   role.EntityIDValue(),
	})
	respondNotice(w, http.StatusCreated,
		notice.Success("Role created", "Role "+authz.DisplayName(role.Name)+" created"),
		RoleMutation{Role: role, Collection: collection(svc)},
	)
}

// UpdateRole edits a role's name and description
// @Summary Update Role
// @Tags Roles
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param roleID path string true "Role ID"
// @Param request body authz.RolePatch true "Changes"
// @Success 200 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Router /roles/{roleID} [put]
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var patch authz.RolePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	svc := h.roleService(r)
	id := chi.URLParam(r, "roleID")
	role, err := svc.Edit(r.Context(), id, patch)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	h.audit(r, audit.TypeRoleUpdated, "role:"+id, nil)
	h.roleChanged(r, id)
	respondNotice(w, http.StatusOK,
		notice.Success("Role updated", "Role updated successfully"),
		RoleMutation{Role: role, Collection: collection(svc)},
	)
}

// UpdateRolePermissions replaces the submitted rows of the permission matrix
// @Summary Update Role Permissions
// @Tags Roles
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param roleID path string true "Role ID"
// @Param request body PermissionsRequest true "Module entries"
// @Success 200 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Router /roles/{roleID}/permissions [put]
func (h *Handler) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req PermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	svc := h.roleService(r)
	id := chi.URLParam(r, "roleID")
	perms, err := svc.EditPermissions(r.Context(), id, req.Permissions)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	modules := make([]string, 0, len(req.Permissions))
	for _, e := range req.Permissions {
		modules = append(modules, e.ModuleID)
	}
	h.audit(r, audit.TypePermissionsEdited, "role:"+id, map[string]any{"module_ids": modules})
	h.roleChanged(r, id)
	respondNotice(w, http.StatusOK,
		notice.Success("Permissions updated", "Permissions saved"),
		RoleMutation{Permissions: perms, Collection: collection(svc)},
	)
}

// DeleteRole deletes a role
// @Summary Delete Role
// @Description A role still bound to users is rejected with 409
// @Tags Roles
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param roleID path string true "Role ID"
// @Success 200 {object} NoticeResponse
// @Failure 409 {object} ErrorResponse
// @Router /roles/{roleID} [delete]
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	svc := h.roleService(r)
	id := chi.URLParam(r, "roleID")
	msg, err := svc.Delete(r.Context(), id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			h.audit(r, audit.TypeRoleDeleteRejected, "role:"+id, map[string]any{"reason": apperr.Message(err)})
		}
		h.respondFailure(w, r, err)
		return
	}

	h.audit(r, audit.TypeRoleDeleted, "role:"+id, nil)
	h.roleChanged(r, id)
	if msg == "" {
		msg = "Role deleted"
	}
	respondNotice(w, http.StatusOK, notice.Success("Role deleted", msg), RoleMutation{Collection: collection(svc)})
}

// roleChanged marks every session embedding the role for resync and
// refetches the caller's own principal right away when it is one of them.
func (h *Handler) roleChanged(r *http.Request, roleID string) {
	if _, err := h.sessionService.InvalidateRole(r.Context(), roleID); err != nil {
		slog.ErrorContext(r.Context(), "failed to invalidate role sessions", logger.RoleID(roleID), logger.Error(err))
	}
	sess := GetSession(r.Context())
	if sess == nil || sess.User.RoleID() != roleID {
		return
	}
	_, _ = h.refetchPrincipal(r.Context(), sess, backendAPI(r.Context()))
}

func (h *Handler) audit(r *http.Request, eventType, resource string, meta map[string]any) {
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      eventType,
		ActorID:   GetUserID(r.Context()),
		SessionID: GetSessionID(r.Context()),
		Resource:  resource,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  meta,
	})
}
