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

package identity

import (
	"context"
	"errors"

	"github.com/trialiq/console/internal/authz"
)

// Domain errors
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrConfirmationRequired = errors.New("user deletion requires confirmation")
	ErrWrongFormMode        = errors.New("form mode does not match the operation")
)

// User is an authenticated principal bound to exactly one role. The role is
// embedded with its permissions so capability checks need no second fetch.
type User struct {
	ID         string           `json:"id"`
	Email      string           `json:"email"`
	Phone      string           `json:"phone,omitempty"`
	Name       string           `json:"name"`
	EntityType authz.EntityType `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Role       *authz.Role      `json:"role"`
}

// RoleID returns the bound role's id, or "".
func (u *User) RoleID() string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.ID
}

// UserInput is the create/update payload. Password is only ever sent on
// create.
type UserInput struct {
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	Phone      string           `json:"phone,omitempty"`
	Password   string           `json:"password,omitempty"`
	EntityType authz.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	RoleID     string           `json:"role_id"`
}

// UserRepository is the system of record for users.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, in UserInput) (*User, error)
	UpdateUser(ctx context.Context, id string, in UserInput) (*User, error)
	DeleteUser(ctx context.Context, id string) (string, error)
}

// EntitySource lists the entity references of one entity type.
type EntitySource interface {
	Entities(entityType authz.EntityType) []authz.ExtractedRole
}
