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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) ListUsers(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]User), args.Error(1)
}

func (m *mockUserRepo) GetUser(ctx context.Context, id string) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepo) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepo) UpdateUser(ctx context.Context, id string, in UserInput) (*User, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepo) DeleteUser(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

type staticEntities map[authz.EntityType][]authz.ExtractedRole

func (s staticEntities) Entities(t authz.EntityType) []authz.ExtractedRole { return s[t] }

func ptr(s string) *string { return &s }

func fixtures() (staticEntities, map[string][]authz.Role) {
	entities := staticEntities{
		authz.EntitySite: {
			{ID: "site-1", Name: "North Clinic", EntityType: authz.EntitySite},
			{ID: "site-2", Name: "South Clinic", EntityType: authz.EntitySite},
		},
		authz.EntitySponsor: {
			{ID: "sp-1", Name: "Acme Pharma", EntityType: authz.EntitySponsor},
		},
	}
	groups := authz.GroupRolesByEntityType([]authz.Role{
		{ID: "r-site", Name: "site_staff", EntityType: authz.EntitySite},
		{ID: "r-site1", Name: "site_one_lead", EntityType: authz.EntitySite, EntityID: ptr("site-1")},
		{ID: "r-site2", Name: "site_two_lead", EntityType: authz.EntitySite, EntityID: ptr("site-2")},
		{ID: "r-sponsor", Name: "sponsor_admin", EntityType: authz.EntitySponsor},
	})
	return entities, groups
}

func completeCreateForm() *Form {
	f := NewCreateForm()
	f.SetEntityType(authz.EntitySite)
	f.SetEntityID("site-1")
	f.SetRoleID("r-site1")
	f.Name = "Dana Scully"
	f.Email = "dana@example.org"
	f.Password = "s3cret-pass"
	return f
}

// TestPurpose: Validates the strict entity type -> entity -> role dependency order of the user form.
// Scope: Unit Test
// Security: A role must only be chosen from the chosen entity's scope
// Expected: Pickers empty until their predecessor is set; changing a predecessor clears successors.
// Test Case ID: IDN-01
func TestIdentity_Form_DependencyOrder(t *testing.T) {
	entities, groups := fixtures()
	f := NewCreateForm()

	assert.Empty(t, f.EntityOptions(entities))
	assert.Empty(t, f.RoleOptions(groups))

	f.SetEntityID("site-1")
	assert.Empty(t, f.EntityID, "entity cannot be chosen before entity type")

	f.SetEntityType(authz.EntitySite)
	assert.Len(t, f.EntityOptions(entities), 2)
	assert.Empty(t, f.RoleOptions(groups))

	f.SetEntityID("site-1")
	ids := []string{}
	for _, r := range f.RoleOptions(groups) {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"r-site", "r-site1"}, ids)

	f.SetRoleID("r-site1")
	f.SetEntityID("site-2")
	assert.Empty(t, f.RoleID)

	f.SetRoleID("r-site2")
	f.SetEntityType(authz.EntitySponsor)
	assert.Empty(t, f.EntityID)
	assert.Empty(t, f.RoleID)
	for _, e := range f.EntityOptions(entities) {
		assert.Equal(t, authz.EntitySponsor, e.EntityType)
	}
}

// TestPurpose: Validates submit gating for create and edit.
// Scope: Unit Test
// Security: Preconditions are enforced before any request
// Expected: Submit disabled while role_id, entity_id, email or name is empty, and password on create only.
// Test Case ID: IDN-02
func TestIdentity_Form_SubmitGating(t *testing.T) {
	f := completeCreateForm()
	assert.True(t, f.CanSubmit())

	for _, clear := range []func(*Form){
		func(f *Form) { f.RoleID = "" },
		func(f *Form) { f.EntityID = "" },
		func(f *Form) { f.Email = "" },
		func(f *Form) { f.Name = " " },
		func(f *Form) { f.Password = "" },
	} {
		g := completeCreateForm()
		clear(g)
		assert.False(t, g.CanSubmit())
	}

	edit := NewEditForm(&User{
		ID:         "u-1",
		Name:       "Dana Scully",
		Email:      "dana@example.org",
		EntityType: authz.EntitySite,
		EntityID:   "site-1",
		Role:       &authz.Role{ID: "r-site1"},
	})
	assert.True(t, edit.CanSubmit(), "password is not required on edit")
	assert.NotContains(t, edit.MissingFields(), "password")
}

// TestPurpose: Validates that mismatched scoping and edit passwords are validation errors.
// Scope: Unit Test
// Security: Users must not be bound to roles of another entity
// Expected: ValidationError for foreign role, foreign entity, bad email and password on edit.
// Test Case ID: IDN-03
func TestIdentity_Form_Validate(t *testing.T) {
	entities, groups := fixtures()

	require.NoError(t, completeCreateForm().Validate(entities, groups))

	foreignRole := completeCreateForm()
	foreignRole.RoleID = "r-site2"
	err := foreignRole.Validate(entities, groups)
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "role_id", verr.Field)

	foreignEntity := completeCreateForm()
	foreignEntity.EntityID = "sp-1"
	foreignEntity.RoleID = "r-site"
	require.True(t, errors.As(foreignEntity.Validate(entities, groups), &verr))
	assert.Equal(t, "entity_id", verr.Field)

	badEmail := completeCreateForm()
	badEmail.Email = "not-an-email"
	require.True(t, errors.As(badEmail.Validate(entities, groups), &verr))
	assert.Equal(t, "email", verr.Field)

	edit := completeCreateForm()
	edit.Mode = ModeEdit
	edit.UserID = "u-1"
	require.True(t, errors.As(edit.Validate(entities, groups), &verr))
	assert.Equal(t, "password", verr.Field)
}

// TestPurpose: Validates that user creation sends the form payload only after validation and audits it.
// Scope: Unit Test
// Security: Audit trail for user administration
// Expected: CreateUser called with the password; audit event user_created emitted.
// Test Case ID: IDN-04
func TestIdentity_Service_Create(t *testing.T) {
	entities, groups := fixtures()
	repo := new(mockUserRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, auditLogger)
	ctx := context.Background()

	f := completeCreateForm()
	repo.On("CreateUser", ctx, mock.MatchedBy(func(in UserInput) bool {
		return in.RoleID == "r-site1" && in.EntityID == "site-1" && in.Password == "s3cret-pass"
	})).Return(&User{ID: "u-9", Name: f.Name, Role: &authz.Role{ID: "r-site1"}}, nil).Once()
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeUserCreated && e.ActorID == "admin-1" && e.Resource == "user:u-9"
	})).Once()

	u, err := svc.Create(ctx, "admin-1", f, Choices{Entities: entities, Roles: groups})
	require.NoError(t, err)
	assert.Equal(t, "r-site1", u.RoleID())

	repo.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that invalid forms never reach the backend.
// Scope: Unit Test
// Security: Client-side preconditions
// Expected: ValidationError; no repository call.
// Test Case ID: IDN-05
func TestIdentity_Service_Create_InvalidNeverSent(t *testing.T) {
	entities, groups := fixtures()
	repo := new(mockUserRepo)
	svc := NewService(repo, new(mockAudit))

	f := completeCreateForm()
	f.Password = ""
	_, err := svc.Create(context.Background(), "admin-1", f, Choices{Entities: entities, Roles: groups})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Update(context.Background(), "admin-1", completeCreateForm(), Choices{})
	assert.ErrorIs(t, err, ErrWrongFormMode)

	repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates that role reassignment sends the new role without a password.
// Scope: Unit Test
// Security: Role switch is an atomic replace
// Expected: UpdateUser payload carries the new role id and no password; returned user holds the new role only.
// Test Case ID: IDN-06
func TestIdentity_Service_Update_RoleReassignment(t *testing.T) {
	entities, groups := fixtures()
	repo := new(mockUserRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, auditLogger)
	ctx := context.Background()

	f := NewEditForm(&User{
		ID: "u-1", Name: "Dana", Email: "dana@example.org",
		EntityType: authz.EntitySite, EntityID: "site-1",
		Role: &authz.Role{ID: "r-site1"},
	})
	f.SetRoleID("r-site")

	newRole := &authz.Role{ID: "r-site", Name: "site_staff", EntityType: authz.EntitySite}
	repo.On("UpdateUser", ctx, "u-1", mock.MatchedBy(func(in UserInput) bool {
		return in.RoleID == "r-site" && in.Password == ""
	})).Return(&User{ID: "u-1", Role: newRole}, nil).Once()
	auditLogger.On("Log", ctx, mock.Anything).Once()

	u, err := svc.Update(ctx, "admin-1", f, Choices{Entities: entities, Roles: groups})
	require.NoError(t, err)
	assert.Same(t, newRole, u.Role)

	repo.AssertExpectations(t)
}

// TestPurpose: Validates that deletion requires explicit confirmation.
// Scope: Unit Test
// Security: Hard deletes need a deliberate action
// Expected: Unconfirmed delete is a ValidationError without a request; confirmed delete returns the backend message.
// Test Case ID: IDN-07
func TestIdentity_Service_Delete(t *testing.T) {
	repo := new(mockUserRepo)
	auditLogger := new(mockAudit)
	svc := NewService(repo, auditLogger)
	ctx := context.Background()

	_, err := svc.Delete(ctx, "admin-1", "u-1", false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	repo.AssertNotCalled(t, "DeleteUser", mock.Anything, mock.Anything)

	repo.On("DeleteUser", ctx, "u-1").Return("User deleted", nil).Once()
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool { return e.Type == audit.TypeUserDeleted })).Once()

	msg, err := svc.Delete(ctx, "admin-1", "u-1", true)
	require.NoError(t, err)
	assert.Equal(t, "User deleted", msg)
	auditLogger.AssertExpectations(t)
}
