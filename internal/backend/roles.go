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

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
)

type wireModule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wirePermission struct {
	ID        string      `json:"id"`
	RoleID    string      `json:"role_id"`
	ModuleID  string      `json:"module_id"`
	Module    *wireModule `json:"module"`
	CanView   bool        `json:"can_view"`
	CanCreate bool        `json:"can_create"`
	CanEdit   bool        `json:"can_edit"`
	CanDelete bool        `json:"can_delete"`
}

type wireRole struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	EntityType  string           `json:"entity_type"`
	EntityID    *string          `json:"entity_id"`
	Permissions []wirePermission `json:"permissions"`
}

func (m wireModule) toModule() (authz.Module, error) {
	if m.ID == "" || m.Name == "" {
		return authz.Module{}, errors.New("module without id or name")
	}
	return authz.Module{ID: m.ID, Name: m.Name, Description: m.Description}, nil
}

func (p wirePermission) toPermission(roleID string) authz.Permission {
	perm := authz.Permission{
		ID:     p.ID,
		RoleID: p.RoleID,
		Capabilities: authz.Capabilities{
			CanView:   p.CanView,
			CanCreate: p.CanCreate,
			CanEdit:   p.CanEdit,
			CanDelete: p.CanDelete,
		},
	}
	if perm.RoleID == "" {
		perm.RoleID = roleID
	}
	// a permission without an embedded module never matches a module name
	// and so grants nothing
	if p.Module != nil {
		perm.Module = authz.Module{ID: p.Module.ID, Name: p.Module.Name, Description: p.Module.Description}
	}
	if perm.Module.ID == "" {
		perm.Module.ID = p.ModuleID
	}
	return perm
}

func (w wireRole) toRole() (authz.Role, error) {
	if w.ID == "" {
		return authz.Role{}, errors.New("role without id")
	}
	role := authz.Role{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		EntityID:    w.EntityID,
		Permissions: make([]authz.Permission, 0, len(w.Permissions)),
	}
	if w.EntityType != "" {
		et, err := authz.ParseEntityType(w.EntityType)
		if err != nil {
			return authz.Role{}, err
		}
		role.EntityType = et
	}
	for _, p := range w.Permissions {
		role.Permissions = append(role.Permissions, p.toPermission(w.ID))
	}
	if err := role.Validate(); err != nil {
		return authz.Role{}, err
	}
	return role, nil
}

func decodeRole(target string, w wireRole) (*authz.Role, error) {
	role, err := w.toRole()
	if err != nil {
		return nil, &apperr.DecodeError{Target: target, Err: err}
	}
	return &role, nil
}

// ListRoles fetches every role with its permissions.
func (a *API) ListRoles(ctx context.Context) ([]authz.Role, error) {
	var wire []wireRole
	if err := a.do(ctx, request{method: http.MethodGet, path: "/roles"}, &wire); err != nil {
		return nil, err
	}
	roles := make([]authz.Role, 0, len(wire))
	for _, w := range wire {
		r, err := decodeRole("roles", w)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *r)
	}
	return roles, nil
}

// GetRole fetches one role.
func (a *API) GetRole(ctx context.Context, id string) (*authz.Role, error) {
	var w wireRole
	if err := a.do(ctx, request{method: http.MethodGet, path: "/roles/" + url.PathEscape(id)}, &w); err != nil {
		return nil, err
	}
	return decodeRole("role", w)
}

// CreateRole creates a role.
func (a *API) CreateRole(ctx context.Context, in authz.RoleInput) (*authz.Role, error) {
	var w wireRole
	if err := a.do(ctx, request{method: http.MethodPost, path: "/roles", body: in}, &w); err != nil {
		return nil, err
	}
	return decodeRole("role", w)
}

// UpdateRole updates role-level fields.
func (a *API) UpdateRole(ctx context.Context, id string, patch authz.RolePatch) (*authz.Role, error) {
	var w wireRole
	req := request{method: http.MethodPut, path: "/roles/" + url.PathEscape(id), body: patch}
	if err := a.do(ctx, req, &w); err != nil {
		return nil, err
	}
	return decodeRole("role", w)
}

// UpdateRolePermissions replaces the submitted module entries.
func (a *API) UpdateRolePermissions(ctx context.Context, id string, entries []authz.PermissionEntry) ([]authz.Permission, error) {
	var wire []wirePermission
	req := request{
		method: http.MethodPut,
		path:   "/roles/" + url.PathEscape(id) + "/permissions",
		body:   map[string]any{"permissions": entries},
	}
	if err := a.do(ctx, req, &wire); err != nil {
		return nil, err
	}
	perms := make([]authz.Permission, 0, len(wire))
	for _, p := range wire {
		perms = append(perms, p.toPermission(id))
	}
	return perms, nil
}

// DeleteRole deletes a role and returns the backend's confirmation message.
func (a *API) DeleteRole(ctx context.Context, id string) (string, error) {
	var res struct {
		Message string `json:"message"`
	}
	req := request{method: http.MethodDelete, path: "/roles/" + url.PathEscape(id), raw: true, optional: true}
	if err := a.do(ctx, req, &res); err != nil {
		return "", err
	}
	if res.Message == "" {
		res.Message = fmt.Sprintf("role %s deleted", id)
	}
	return res.Message, nil
}

// ListModules fetches the module registry.
func (a *API) ListModules(ctx context.Context) ([]authz.Module, error) {
	var wire []wireModule
	if err := a.do(ctx, request{method: http.MethodGet, path: "/modules"}, &wire); err != nil {
		return nil, err
	}
	modules := make([]authz.Module, 0, len(wire))
	for _, w := range wire {
		m, err := w.toModule()
		if err != nil {
			return nil, &apperr.DecodeError{Target: "modules", Err: err}
		}
		modules = append(modules, m)
	}
	return modules, nil
}
