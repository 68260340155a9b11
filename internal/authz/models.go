package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrRoleNotFound        = errors.New("role not found")
	ErrInvalidEntityType   = errors.New("invalid entity type")
	ErrInvalidEntityScope  = errors.New("entity id does not match the role's entity scope")
	ErrDuplicatePermission = errors.New("more than one permission for the same module")
	ErrRolesUnknown        = errors.New("role collection is unknown")
)

// EntityType is the scoping dimension for roles and entity pickers.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntitySponsor      EntityType = "sponsor"
	EntitySite         EntityType = "site"
	EntityProvider     EntityType = "provider"
	EntityNone         EntityType = "none"
)

// EntityTypes lists the concrete entity types in picker order.
var EntityTypes = []EntityType{
	EntityOrganization,
	EntitySponsor,
	EntitySite,
	EntityProvider,
}

// ParseEntityType accepts any casing of a known entity type.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EntityOrganization, EntitySponsor, EntitySite, EntityProvider, EntityNone:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
}

// Module is one manageable resource type, the column axis of the
// permission matrix.
type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Capabilities is the four-bit CRUD capability set for one module.
type Capabilities struct {
	CanView   bool `json:"can_view"`
	CanCreate bool `json:"can_create"`
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

// Any reports whether at least one capability is granted.
func (c Capabilities) Any() bool {
	return c.CanView || c.CanCreate || c.CanEdit || c.CanDelete
}

// Allows reports whether the capability for action is granted.
func (c Capabilities) Allows(action Action) bool {
	switch action {
	case ActionView:
		return c.CanView
	case ActionCreate:
		return c.CanCreate
	case ActionEdit:
		return c.CanEdit
	case ActionDelete:
		return c.CanDelete
	}
	return false
}

// Permission is a single (Role, Module) capability tuple.
type Permission struct {
	ID     string `json:"id"`
	RoleID string `json:"role_id"`
	Module Module `json:"module"`
	Capabilities
}

// Role is an entity-type-scoped, optionally entity-instance-scoped bundle of
// permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	EntityType  EntityType   `json:"entity_type,omitempty"`
	EntityID    *string      `json:"entity_id,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// InstanceScoped reports whether the role is bound to one concrete entity.
func (r *Role) InstanceScoped() bool {
	return r.EntityID != nil && *r.EntityID != ""
}

// EntityIDValue returns the entity id or "" for type-scoped roles.
func (r *Role) EntityIDValue() string {
	if r.EntityID == nil {
		return ""
	}
	return *r.EntityID
}

// Validate checks the role-level invariants that can be verified without a
// live entity lookup.
func (r *Role) Validate() error {
	if r.EntityType != "" {
		if _, err := ParseEntityType(string(r.EntityType)); err != nil {
			return err
		}
	}
	if r.EntityType == EntityNone && r.InstanceScoped() {
		return fmt.Errorf("%w: role %s has entity_type none", ErrInvalidEntityScope, r.ID)
	}
	seen := make(map[string]struct{}, len(r.Permissions))
	for _, p := range r.Permissions {
		key := p.Module.ID
		if key == "" {
			key = "name:" + p.Module.Name
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: role %s module %s", ErrDuplicatePermission, r.ID, p.Module.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// PermissionEntry is one module's submitted bit-set in a permission edit.
type PermissionEntry struct {
	ModuleID string `json:"module_id"`
	Capabilities
}

// ValidatePermissionPatch rejects patches that mention a module twice.
func ValidatePermissionPatch(entries []PermissionEntry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ModuleID == "" {
			return fmt.Errorf("permission entry without module_id")
		}
		if _, dup := seen[e.ModuleID]; dup {
			return fmt.Errorf("%w: module %s", ErrDuplicatePermission, e.ModuleID)
		}
		seen[e.ModuleID] = struct{}{}
	}
	return nil
}

// RoleInput is the payload for creating a role.
type RoleInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    *string    `json:"entity_id,omitempty"`
}

// RolePatch carries the role-level fields an edit may change.
type RolePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// EmbeddedRole is the role shape nested in entity+user records.
type EmbeddedRole struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	EntityType  EntityType `json:"entity_type,omitempty"`
}

// EmbeddedUser is the user shape nested in entity records.
type EmbeddedUser struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Role *EmbeddedRole `json:"role,omitempty"`
}

// EntityItem is an organization, sponsor, site or provider row as returned
// with its embedded user and role.
type EntityItem struct {
	ID     string        `json:"id"`
	UserID string        `json:"user_id"`
	User   *EmbeddedUser `json:"user,omitempty"`
}

// ExtractedRole is the reduced entity reference used by role and user
// pickers.
type ExtractedRole struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	EntityID    string     `json:"entity_id"`
	EntityType  EntityType `json:"entity_type"`
}
