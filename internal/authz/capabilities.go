package authz

import (
	"github.com/trialiq/console/internal/apperr"
)

// Action is a CRUD capability.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Actions lists every action in matrix order.
var Actions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete}

// Module names gating the console surfaces.
const (
	ModuleOrganizations = "Organizations"
	ModuleSponsors      = "Sponsors"
	ModuleSites         = "Sites"
	ModuleTrials        = "Trials"
	ModulePatients      = "Patients"
	ModuleProviders     = "Providers"
	ModuleUsers         = "Users"
	ModuleRoles         = "Roles"
)

// EffectiveCapabilities returns the capability bits role holds on the module
// named moduleName. The match is exact and case-sensitive; a nil role or a
// missing permission yields all-false.
func EffectiveCapabilities(role *Role, moduleName string) Capabilities {
	if role == nil {
		return Capabilities{}
	}
	for _, p := range role.Permissions {
		if p.Module.Name == moduleName {
			return p.Capabilities
		}
	}
	return Capabilities{}
}

// CapabilitySet is the effective capability set of role keyed by module
// name. Duplicate entries for one module are OR-ed.
func CapabilitySet(role *Role) map[string]Capabilities {
	set := make(map[string]Capabilities)
	if role == nil {
		return set
	}
	for _, p := range role.Permissions {
		c := set[p.Module.Name]
		c.CanView = c.CanView || p.CanView
		c.CanCreate = c.CanCreate || p.CanCreate
		c.CanEdit = c.CanEdit || p.CanEdit
		c.CanDelete = c.CanDelete || p.CanDelete
		set[p.Module.Name] = c
	}
	return set
}

// Gate answers capability questions for one principal.
type Gate struct {
	role  *Role
	known bool
}

// NewGate builds a gate for role. When known is false every check fails
// closed.
func NewGate(role *Role, known bool) Gate {
	return Gate{role: role, known: known}
}

// Known reports whether the gate has a trustworthy capability set.
func (g Gate) Known() bool {
	return g.known && g.role != nil
}

// Capabilities returns the effective capabilities on moduleName, or
// all-false when unknown.
func (g Gate) Capabilities(moduleName string) Capabilities {
	if !g.Known() {
		return Capabilities{}
	}
	if IsSuperAdmin(g.role) {
		return Capabilities{CanView: true, CanCreate: true, CanEdit: true, CanDelete: true}
	}
	return EffectiveCapabilities(g.role, moduleName)
}

// Allows reports whether action on moduleName is permitted.
func (g Gate) Allows(moduleName string, action Action) bool {
	return g.Capabilities(moduleName).Allows(action)
}

// Check returns a ForbiddenError when action on moduleName is not permitted.
func (g Gate) Check(moduleName string, action Action) error {
	if g.Allows(moduleName, action) {
		return nil
	}
	return &apperr.ForbiddenError{Module: moduleName, Action: string(action)}
}

// Matrix returns the capability row for each module.
func (g Gate) Matrix(modules []Module) map[string]Capabilities {
	out := make(map[string]Capabilities, len(modules))
	for _, m := range modules {
		out[m.Name] = g.Capabilities(m.Name)
	}
	return out
}
