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

package authz_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
)

func strPtr(s string) *string { return &s }

func siteCoordinator() *authz.Role {
	return &authz.Role{
		ID:         "role-1",
		Name:       "site_coordinator",
		EntityType: authz.EntitySite,
		EntityID:   strPtr("site-1"),
		Permissions: []authz.Permission{
			{
				ID:     "perm-1",
				RoleID: "role-1",
				Module: authz.Module{ID: "mod-patients", Name: "Patients"},
				Capabilities: authz.Capabilities{
					CanView:   true,
					CanCreate: true,
				},
			},
		},
	}
}

// TestPurpose: Validates that every role lands in exactly one bucket keyed by lower-cased entity type, with display names.
// Scope: Unit Test
// Security: Cross-type leakage in role pickers
// Expected: Buckets "site", "sponsor" and "unknown"; no underscore in any output name.
// Test Case ID: AUZ-01
func TestAuthz_GroupRolesByEntityType(t *testing.T) {
	roles := []authz.Role{
		{ID: "r1", Name: "site_coordinator", EntityType: "Site"},
		{ID: "r2", Name: "site_monitor", EntityType: authz.EntitySite},
		{ID: "r3", Name: "sponsor_admin", EntityType: authz.EntitySponsor},
		{ID: "r4", Name: "floating_role_x"},
	}

	groups := authz.GroupRolesByEntityType(roles)

	total := 0
	for _, bucket := range groups {
		total += len(bucket)
		for _, r := range bucket {
			assert.NotContains(t, r.Name, "_")
		}
	}
	assert.Equal(t, len(roles), total)
	assert.Len(t, groups["site"], 2)
	assert.Len(t, groups["sponsor"], 1)
	require.Len(t, groups[authz.UnknownBucket], 1)
	assert.Equal(t, "floating role x", groups[authz.UnknownBucket][0].Name)

	// input untouched
	assert.Equal(t, "site_coordinator", roles[0].Name)
}

// TestPurpose: Validates the role picker filter for a chosen (entity type, entity id).
// Scope: Unit Test
// Security: A user may only receive roles scoped to the chosen entity
// Expected: Type-scoped roles and roles for the exact entity; nothing when entity id is empty.
// Test Case ID: AUZ-02
func TestAuthz_RolesFor(t *testing.T) {
	groups := authz.GroupRolesByEntityType([]authz.Role{
		{ID: "r1", Name: "site_any", EntityType: authz.EntitySite},
		{ID: "r2", Name: "site_one", EntityType: authz.EntitySite, EntityID: strPtr("site-1")},
		{ID: "r3", Name: "site_two", EntityType: authz.EntitySite, EntityID: strPtr("site-2")},
		{ID: "r4", Name: "sponsor_any", EntityType: authz.EntitySponsor},
	})

	got := authz.RolesFor(groups, authz.EntitySite, "site-1")
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)

	assert.Empty(t, authz.RolesFor(groups, authz.EntitySite, ""))
	assert.Empty(t, authz.RolesFor(groups, "", "site-1"))
}

// TestPurpose: Validates that extracted picker references keep the wrapping item's id and use user_id as entity_id.
// Scope: Unit Test
// Security: Wrong ids would attach users to the wrong entity
// Expected: Exactly the reduced record for the organization row.
// Test Case ID: AUZ-03
func TestAuthz_ExtractRoles_IDFidelity(t *testing.T) {
	item := authz.EntityItem{
		ID:     "org-9",
		UserID: "u-1",
		User: &authz.EmbeddedUser{
			ID:   "u-1",
			Name: "Acme",
			Role: &authz.EmbeddedRole{Description: "d", EntityType: authz.EntityOrganization},
		},
	}

	got := authz.ExtractRoles([]authz.EntityItem{item})

	assert.Equal(t, []authz.ExtractedRole{{
		ID:          "org-9",
		Name:        "Acme",
		Description: "d",
		EntityID:    "u-1",
		EntityType:  authz.EntityOrganization,
	}}, got)
}

// TestPurpose: Validates exact-match capability derivation and fail-closed behavior.
// Scope: Unit Test
// Security: Missing permissions must never grant access
// Expected: Patients = {true,true,false,false}; Trials, "patients" and nil role = all false.
// Test Case ID: AUZ-04
func TestAuthz_EffectiveCapabilities(t *testing.T) {
	role := siteCoordinator()

	assert.Equal(t, authz.Capabilities{CanView: true, CanCreate: true}, authz.EffectiveCapabilities(role, "Patients"))
	assert.Equal(t, authz.Capabilities{}, authz.EffectiveCapabilities(role, "Trials"))
	assert.Equal(t, authz.Capabilities{}, authz.EffectiveCapabilities(role, "patients"))
	assert.Equal(t, authz.Capabilities{}, authz.EffectiveCapabilities(nil, "Patients"))

	empty := &authz.Role{ID: "r", Name: "viewer"}
	assert.False(t, authz.EffectiveCapabilities(empty, "Patients").Any())
}

// TestPurpose: Validates the union over the permission collection.
// Scope: Unit Test
// Security: N/A
// Expected: One entry per module name with OR-ed bits.
// Test Case ID: AUZ-05
func TestAuthz_CapabilitySet(t *testing.T) {
	role := siteCoordinator()
	role.Permissions = append(role.Permissions, authz.Permission{
		Module:       authz.Module{Name: "Sites"},
		Capabilities: authz.Capabilities{CanView: true, CanEdit: true},
	})

	set := authz.CapabilitySet(role)

	assert.Len(t, set, 2)
	assert.True(t, set["Sites"].CanEdit)
	assert.False(t, set["Patients"].CanDelete)
	assert.Empty(t, authz.CapabilitySet(nil))
}

// TestPurpose: Validates display and canonical name normalizations.
// Scope: Unit Test
// Security: Business-key comparisons must use the hyphenated form
// Expected: Display replaces underscores with spaces; canonical is lower-case and hyphenated.
// Test Case ID: AUZ-06
func TestAuthz_NameForms(t *testing.T) {
	assert.Equal(t, "site coordinator", authz.DisplayName("site_coordinator"))
	assert.Equal(t, "super-admin", authz.CanonicalName("Super_Admin"))
	assert.Equal(t, "super-admin", authz.CanonicalName("super admin"))
	assert.Equal(t, "super-admin", authz.CanonicalName(" super-admin "))

	assert.True(t, authz.IsSuperAdmin(&authz.Role{Name: "super_admin"}))
	assert.False(t, authz.IsSuperAdmin(&authz.Role{Name: "superadmin"}))
	assert.False(t, authz.IsSuperAdmin(nil))
}

// TestPurpose: Validates that the gate fails closed when capabilities are unknown and honors super-admin.
// Scope: Unit Test
// Security: Stale or missing capability sets must not enable mutations
// Expected: Unknown gate denies everything; known gate follows the role; super-admin allowed everything.
// Test Case ID: AUZ-07
func TestAuthz_Gate(t *testing.T) {
	role := siteCoordinator()

	known := authz.NewGate(role, true)
	assert.True(t, known.Allows("Patients", authz.ActionCreate))
	assert.False(t, known.Allows("Patients", authz.ActionDelete))
	assert.NoError(t, known.Check("Patients", authz.ActionView))

	err := known.Check("Trials", authz.ActionEdit)
	var forbidden *apperr.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, "Trials", forbidden.Module)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	unknown := authz.NewGate(role, false)
	for _, a := range authz.Actions {
		assert.False(t, unknown.Allows("Patients", a))
	}
	assert.False(t, authz.NewGate(nil, true).Allows("Patients", authz.ActionView))

	admin := authz.NewGate(&authz.Role{Name: "Super_Admin"}, true)
	assert.True(t, admin.Allows("Roles", authz.ActionDelete))
	assert.False(t, authz.NewGate(&authz.Role{Name: "Super_Admin"}, false).Allows("Roles", authz.ActionView))

	matrix := known.Matrix([]authz.Module{{Name: "Patients"}, {Name: "Trials"}})
	assert.True(t, matrix["Patients"].CanView)
	assert.False(t, matrix["Trials"].Any())
}

// TestPurpose: Validates role invariants checked at the decode boundary.
// Scope: Unit Test
// Security: Malformed roles must not be trusted
// Expected: Errors for unknown entity type, none-with-entity and duplicate modules.
// Test Case ID: AUZ-08
func TestAuthz_RoleValidate(t *testing.T) {
	assert.NoError(t, siteCoordinator().Validate())

	bad := &authz.Role{ID: "r", EntityType: "planet"}
	assert.ErrorIs(t, bad.Validate(), authz.ErrInvalidEntityType)

	none := &authz.Role{ID: "r", EntityType: authz.EntityNone, EntityID: strPtr("x")}
	assert.ErrorIs(t, none.Validate(), authz.ErrInvalidEntityScope)

	dup := siteCoordinator()
	dup.Permissions = append(dup.Permissions, dup.Permissions[0])
	assert.ErrorIs(t, dup.Validate(), authz.ErrDuplicatePermission)

	err := authz.ValidatePermissionPatch([]authz.PermissionEntry{{ModuleID: "m1"}, {ModuleID: "m1"}})
	assert.ErrorIs(t, err, authz.ErrDuplicatePermission)
	assert.True(t, strings.Contains(err.Error(), "m1"))
}

func TestAuthz_ParseEntityType(t *testing.T) {
	et, err := authz.ParseEntityType(" Sponsor ")
	require.NoError(t, err)
	assert.Equal(t, authz.EntitySponsor, et)

	_, err = authz.ParseEntityType("trial")
	assert.ErrorIs(t, err, authz.ErrInvalidEntityType)
}
