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
	"fmt"
	"strings"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
)

// Choices are the picker sources a form is validated against.
type Choices struct {
	Entities EntitySource
	Roles    map[string][]authz.Role
}

// Service provides user management against the backend.
type Service struct {
	repo        UserRepository
	auditLogger audit.Logger
}

// NewService creates a new user service
func NewService(repo UserRepository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("id", "user id is required")
	}
	return s.repo.GetUser(ctx, id)
}

// Create validates f and creates the user. Nothing is sent when validation
// fails.
func (s *Service) Create(ctx context.Context, actorID string, f *Form, c Choices) (*User, error) {
	if f.Mode != ModeCreate {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrWrongFormMode, ModeCreate, f.Mode)
	}
	if err := f.Validate(c.Entities, c.Roles); err != nil {
		return nil, err
	}

	u, err := s.repo.CreateUser(ctx, f.Input())
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  actorID,
		Resource: "user:" + u.ID,
		Metadata: map[string]any{
			"role_id":     f.RoleID,
			"entity_type": string(f.EntityType),
			"entity_id":   f.EntityID,
		},
	})
	return u, nil
}

// Update validates f and updates the user. A role change replaces the
// embedded role as a whole.
func (s *Service) Update(ctx context.Context, actorID string, f *Form, c Choices) (*User, error) {
	if f.Mode != ModeEdit {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrWrongFormMode, ModeEdit, f.Mode)
	}
	if err := f.Validate(c.Entities, c.Roles); err != nil {
		return nil, err
	}

	u, err := s.repo.UpdateUser(ctx, f.UserID, f.Input())
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserUpdated,
		ActorID:  actorID,
		Resource: "user:" + f.UserID,
		Metadata: map[string]any{
			"role_id":     f.RoleID,
			"entity_type": string(f.EntityType),
			"entity_id":   f.EntityID,
		},
	})
	return u, nil
}

// Delete hard-deletes a user. confirmed must be true.
func (s *Service) Delete(ctx context.Context, actorID, id string, confirmed bool) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.Validation("id", "user id is required")
	}
	if !confirmed {
		return "", &apperr.ValidationError{Field: "confirm", Message: ErrConfirmationRequired.Error()}
	}

	msg, err := s.repo.DeleteUser(ctx, id)
	if err != nil {
		return "", err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserDeleted,
		ActorID:  actorID,
		Resource: "user:" + id,
	})
	return msg, nil
}
