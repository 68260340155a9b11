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

package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/generation"
)

type mockRoleRepo struct {
	mock.Mock
}

func (m *mockRoleRepo) ListRoles(ctx context.Context) ([]Role, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Role), args.Error(1)
}

func (m *mockRoleRepo) GetRole(ctx context.Context, id string) (*Role, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Role), args.Error(1)
}

func (m *mockRoleRepo) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Role), args.Error(1)
}

func (m *mockRoleRepo) UpdateRole(ctx context.Context, id string, patch RolePatch) (*Role, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Role), args.Error(1)
}

func (m *mockRoleRepo) UpdateRolePermissions(ctx context.Context, id string, entries []PermissionEntry) ([]Permission, error) {
	args := m.Called(ctx, id, entries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Permission), args.Error(1)
}

func (m *mockRoleRepo) DeleteRole(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func sampleRoles() []Role {
	return []Role{
		{ID: "r1", Name: "site_coordinator", EntityType: EntitySite},
		{ID: "r2", Name: "sponsor_admin", EntityType: EntitySponsor},
	}
}

// TestPurpose: Validates that a failed refetch makes the role collection unknown instead of reusing the last set.
// Scope: Unit Test
// Security: A stale, possibly more permissive set must never be shown as current
// Expected: Roles() reports unknown after the failing refetch.
// Test Case ID: ROL-01
func TestRoleService_Refresh_FailureMarksUnknown(t *testing.T) {
	repo := new(mockRoleRepo)
	svc := NewRoleService(repo, nil, "sess-1")
	ctx := context.Background()

	repo.On("ListRoles", ctx).Return(sampleRoles(), nil).Once()
	require.NoError(t, svc.Refresh(ctx))
	roles, ok := svc.Roles()
	require.True(t, ok)
	assert.Len(t, roles, 2)

	repo.On("ListRoles", ctx).Return(nil, &apperr.NetworkError{Status: 503}).Once()
	err := svc.Refresh(ctx)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))

	roles, ok = svc.Roles()
	assert.False(t, ok)
	assert.Nil(t, roles)
	_, ok = svc.Groups()
	assert.False(t, ok)

	repo.AssertExpectations(t)
}

// TestPurpose: Validates that create-role preconditions never reach the network.
// Scope: Unit Test
// Security: Entity scoping invariant for roles
// Expected: ValidationError for missing name, missing type, unknown type, none with entity and unknown entity.
// Test Case ID: ROL-02
func TestRoleService_Create_Validation(t *testing.T) {
	repo := new(mockRoleRepo)
	lookup := func(ctx context.Context, et EntityType, id string) (bool, error) {
		return et == EntitySite && id == "site-1", nil
	}
	svc := NewRoleService(repo, nil, "sess-1").WithEntityLookup(lookup)
	ctx := context.Background()

	cases := []RoleInput{
		{EntityType: EntitySite},
		{Name: "x"},
		{Name: "x", EntityType: "trial"},
		{Name: "x", EntityType: EntityNone, EntityID: strp("site-1")},
		{Name: "x", EntityType: EntitySite, EntityID: strp("site-9")},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, in)
		var verr *apperr.ValidationError
		assert.True(t, errors.As(err, &verr), "input %+v", in)
	}

	repo.AssertNotCalled(t, "CreateRole", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that a successful create is followed by a refetch of the collection.
// Scope: Unit Test
// Security: Backend remains authoritative after writes
// Expected: CreateRole then ListRoles; collection known and contains the new role.
// Test Case ID: ROL-03
func TestRoleService_Create_Refetches(t *testing.T) {
	repo := new(mockRoleRepo)
	svc := NewRoleService(repo, nil, "sess-1")
	ctx := context.Background()

	in := RoleInput{Name: "site_monitor", EntityType: EntitySite, EntityID: strp("site-1")}
	created := &Role{ID: "r3", Name: "site_monitor", EntityType: EntitySite, EntityID: strp("site-1")}
	repo.On("CreateRole", ctx, in).Return(created, nil).Once()
	repo.On("ListRoles", ctx).Return(append(sampleRoles(), *created), nil).Once()

	role, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "r3", role.ID)
	assert.True(t, svc.Contains("r3"))

	repo.AssertExpectations(t)
}

// TestPurpose: Validates that deleting a role still bound to a user surfaces a conflict and keeps the collection.
// Scope: Unit Test
// Security: Role deletion must not leave user bindings dangling
// Expected: ConflictError with the backend message; the role is still present.
// Test Case ID: ROL-04
func TestRoleService_Delete_Conflict(t *testing.T) {
	repo := new(mockRoleRepo)
	svc := NewRoleService(repo, nil, "sess-1")
	ctx := context.Background()

	repo.On("ListRoles", ctx).Return(sampleRoles(), nil).Once()
	require.NoError(t, svc.Refresh(ctx))

	repo.On("DeleteRole", ctx, "r1").Return("", &apperr.ConflictError{Message: "role is assigned to 1 user"}).Once()

	_, err := svc.Delete(ctx, "r1")
	var conflict *apperr.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "role is assigned to 1 user", conflict.Message)
	assert.True(t, svc.Contains("r1"))

	repo.AssertExpectations(t)
}

// TestPurpose: Validates that permission edits reject duplicate modules and refetch on success.
// Scope: Unit Test
// Security: At most one permission per module
// Expected: ValidationError for duplicates without a request; successful edit returns the backend's permissions.
// Test Case ID: ROL-05
func TestRoleService_EditPermissions(t *testing.T) {
	repo := new(mockRoleRepo)
	svc := NewRoleService(repo, nil, "sess-1")
	ctx := context.Background()

	dup := []PermissionEntry{{ModuleID: "m1"}, {ModuleID: "m1"}}
	_, err := svc.EditPermissions(ctx, "r1", dup)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	entries := []PermissionEntry{{ModuleID: "m1", Capabilities: Capabilities{CanView: true}}}
	perms := []Permission{{ID: "p1", RoleID: "r1", Module: Module{ID: "m1", Name: "Patients"}, Capabilities: Capabilities{CanView: true}}}
	repo.On("UpdateRolePermissions", ctx, "r1", entries).Return(perms, nil).Once()
	repo.On("ListRoles", ctx).Return(sampleRoles(), nil).Once()

	got, err := svc.EditPermissions(ctx, "r1", entries)
	require.NoError(t, err)
	assert.Equal(t, perms, got)

	repo.AssertExpectations(t)
}

// TestPurpose: Validates that a refetch superseded by a newer one is discarded.
// Scope: Unit Test
// Security: Late responses must not overwrite newer capability state
// Expected: The older refetch reports generation.ErrStale and leaves the newer collection in place.
// Test Case ID: ROL-06
func TestRoleService_Refresh_StaleGenerationDropped(t *testing.T) {
	repo := new(mockRoleRepo)
	gens := generation.NewTracker()
	svc := NewRoleService(repo, gens, "sess-1")
	ctx := context.Background()

	older := []Role{{ID: "old", Name: "old", EntityType: EntitySite}}
	newer := sampleRoles()

	repo.On("ListRoles", ctx).Return(older, nil).Once().Run(func(mock.Arguments) {
		// a newer refetch starts and completes while this one is in flight
		repo.On("ListRoles", ctx).Return(newer, nil).Once()
		require.NoError(t, svc.Refresh(ctx))
	})

	err := svc.Refresh(ctx)
	assert.ErrorIs(t, err, generation.ErrStale)

	roles, ok := svc.Roles()
	require.True(t, ok)
	assert.Equal(t, newer, roles)
}

func TestRoleService_Edit_Validation(t *testing.T) {
	repo := new(mockRoleRepo)
	svc := NewRoleService(repo, nil, "sess-1")
	ctx := context.Background()

	_, err := svc.Edit(ctx, "r1", RolePatch{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Edit(ctx, "r1", RolePatch{Name: strp("  ")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	repo.AssertNotCalled(t, "UpdateRole", mock.Anything, mock.Anything, mock.Anything)
}

func strp(s string) *string { return &s }
