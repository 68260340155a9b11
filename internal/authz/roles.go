package authz

import (
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Role Name Forms
// A role name has two normalizations: the display form, rendered to people,
// and the canonical form, compared as a business key. They are not
// interchangeable.
// -----------------------------------------------------------------------------

const (
	// RoleSuperAdmin is the canonical name of the built-in super admin role.
	RoleSuperAdmin = "super-admin"

	// UnknownBucket holds roles without an entity type.
	UnknownBucket = "unknown"
)

// DisplayName renders underscores as spaces.
func DisplayName(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// CanonicalName lower-cases the name and turns underscores and spaces into
// hyphens.
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", " ")
	return strings.Join(strings.Fields(n), "-")
}

// IsSuperAdmin compares the role's canonical name with RoleSuperAdmin.
func IsSuperAdmin(role *Role) bool {
	if role == nil {
		return false
	}
	return CanonicalName(role.Name) == RoleSuperAdmin
}

// GroupRolesByEntityType partitions roles into buckets keyed by lower-cased
// entity type. Each returned role carries its display name.
func GroupRolesByEntityType(roles []Role) map[string][]Role {
	groups := make(map[string][]Role)
	for _, r := range roles {
		key := strings.ToLower(string(r.EntityType))
		if key == "" {
			key = UnknownBucket
		}
		r.Name = DisplayName(r.Name)
		groups[key] = append(groups[key], r)
	}
	return groups
}

// RolesFor returns the roles a user bound to (entityType, entityID) may
// hold: the entity type's bucket, restricted to type-scoped roles and roles
// scoped to that exact entity. An empty entityID yields nothing.
func RolesFor(groups map[string][]Role, entityType EntityType, entityID string) []Role {
	if entityType == "" || entityID == "" {
		return nil
	}
	var out []Role
	for _, r := range groups[strings.ToLower(string(entityType))] {
		if !r.InstanceScoped() || r.EntityIDValue() == entityID {
			out = append(out, r)
		}
	}
	return out
}

// ExtractRoles reduces entity rows to picker references. The reference id
// is the wrapping row's id; entity_id is the row's user_id.
func ExtractRoles(items []EntityItem) []ExtractedRole {
	out := make([]ExtractedRole, 0, len(items))
	for _, item := range items {
		ref := ExtractedRole{
			ID:       item.ID,
			EntityID: item.UserID,
		}
		if item.User != nil {
			ref.Name = item.User.Name
			if item.User.Role != nil {
				ref.Description = item.User.Role.Description
				ref.EntityType = item.User.Role.EntityType
			}
		}
		out = append(out, ref)
	}
	return out
}

// SortRoles orders roles by display name, then id.
func SortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		a, b := DisplayName(roles[i].Name), DisplayName(roles[j].Name)
		if a != b {
			return a < b
		}
		return roles[i].ID < roles[j].ID
	})
}
