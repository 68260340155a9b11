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
	"github.com/trialiq/console/internal/identity"
)

type wireUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Name       string    `json:"name"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Role       *wireRole `json:"role"`
}

func (w wireUser) toUser() (*identity.User, error) {
	if w.ID == "" {
		return nil, errors.New("user without id")
	}
	u := &identity.User{
		ID:       w.ID,
		Email:    w.Email,
		Phone:    w.Phone,
		Name:     w.Name,
		EntityID: w.EntityID,
	}
	if w.EntityType != "" {
		et, err := authz.ParseEntityType(w.EntityType)
		if err != nil {
			return nil, err
		}
		u.EntityType = et
	}
	if w.Role != nil {
		role, err := w.Role.toRole()
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", w.ID, err)
		}
		u.Role = &role
	}
	return u, nil
}

func decodeUser(target string, w wireUser) (*identity.User, error) {
	u, err := w.toUser()
	if err != nil {
		return nil, &apperr.DecodeError{Target: target, Err: err}
	}
	return u, nil
}

// ListUsers fetches every user with the embedded role.
func (a *API) ListUsers(ctx context.Context) ([]identity.User, error) {
	var wire []wireUser
	if err := a.do(ctx, request{method: http.MethodGet, path: "/users"}, &wire); err != nil {
		return nil, err
	}
	users := make([]identity.User, 0, len(wire))
	for _, w := range wire {
		u, err := decodeUser("users", w)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// GetUser fetches one user.
func (a *API) GetUser(ctx context.Context, id string) (*identity.User, error) {
	var w wireUser
	if err := a.do(ctx, request{method: http.MethodGet, path: "/users/" + url.PathEscape(id)}, &w); err != nil {
		return nil, err
	}
	return decodeUser("user", w)
}

// CreateUser creates a user.
func (a *API) CreateUser(ctx context.Context, in identity.UserInput) (*identity.User, error) {
	var w wireUser
	if err := a.do(ctx, request{method: http.MethodPost, path: "/users", body: in}, &w); err != nil {
		return nil, err
	}
	return decodeUser("user", w)
}

// UpdateUser updates a user. The password is never part of an update.
func (a *API) UpdateUser(ctx context.Context, id string, in identity.UserInput) (*identity.User, error) {
	in.Password = ""
	var w wireUser
	req := request{method: http.MethodPut, path: "/users/" + url.PathEscape(id), body: in}
	if err := a.do(ctx, req, &w); err != nil {
		return nil, err
	}
	return decodeUser("user", w)
}

// DeleteUser deletes a user and returns the backend's confirmation.
func (a *API) DeleteUser(ctx context.Context, id string) (string, error) {
	var res struct {
		Message string `json:"message"`
	}
	req := request{method: http.MethodDelete, path: "/users/" + url.PathEscape(id), raw: true, optional: true}
	if err := a.do(ctx, req, &res); err != nil {
		return "", err
	}
	if res.Message == "" {
		res.Message = "User deleted"
	}
	return res.Message, nil
}
