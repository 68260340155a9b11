package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/generation"
)

// RoleRepository is the system of record for roles.
type RoleRepository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (*Role, error)
	CreateRole(ctx context.Context, in RoleInput) (*Role, error)
	UpdateRole(ctx context.Context, id string, patch RolePatch) (*Role, error)
	UpdateRolePermissions(ctx context.Context, id string, entries []PermissionEntry) ([]Permission, error)
	DeleteRole(ctx context.Context, id string) (string, error)
}

// EntityLookup reports whether an entity of the given type and id exists.
type EntityLookup func(ctx context.Context, entityType EntityType, id string) (bool, error)

// RoleService edits roles against the backend and keeps the local role
// collection equal to the backend's after every write.
type RoleService struct {
	repo   RoleRepository
	gens   *generation.Tracker
	view   string
	lookup EntityLookup

	mu    sync.RWMutex
	roles []Role
	known bool
}

// NewRoleService creates a role service for one view. Services sharing a
// tracker and view discard each other's superseded refetches.
func NewRoleService(repo RoleRepository, gens *generation.Tracker, view string) *RoleService {
	if gens == nil {
		gens = generation.NewTracker()
	}
	return &RoleService{repo: repo, gens: gens, view: "roles:" + view}
}

// WithEntityLookup enables the entity scoping check on Create.
func (s *RoleService) WithEntityLookup(lookup EntityLookup) *RoleService {
	s.lookup = lookup
	return s
}

// Refresh refetches the role collection. A failure leaves the collection
// unknown; a response from a superseded generation is dropped and reported
// as generation.ErrStale.
func (s *RoleService) Refresh(ctx context.Context) error {
	tok := s.gens.Next(s.view)
	roles, err := s.repo.ListRoles(ctx)

	var applyErr error
	staleErr := s.gens.Apply(tok, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.roles = nil
			s.known = false
			return
		}
		for i := range roles {
			if verr := roles[i].Validate(); verr != nil {
				s.roles = nil
				s.known = false
				applyErr = &apperr.DecodeError{Target: "roles", Err: verr}
				return
			}
		}
		s.roles = roles
		s.known = true
	})
	if staleErr != nil {
		return staleErr
	}
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}
	return applyErr
}

// Roles returns a copy of the collection and whether it is known.
func (s *RoleService) Roles() ([]Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.known {
		return nil, false
	}
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out, true
}

// Groups returns the collection bucketed by entity type.
func (s *RoleService) Groups() (map[string][]Role, bool) {
	roles, ok := s.Roles()
	if !ok {
		return nil, false
	}
	return GroupRolesByEntityType(roles), true
}

// Contains reports whether the known collection holds a role with id.
func (s *RoleService) Contains(id string) bool {
	roles, ok := s.Roles()
	if !ok {
		return false
	}
	for _, r := range roles {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Get fetches one role.
func (s *RoleService) Get(ctx context.Context, id string) (*Role, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("id", "role id is required")
	}
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := role.Validate(); err != nil {
		return nil, &apperr.DecodeError{Target: "role", Err: err}
	}
	return role, nil
}

// Create validates in locally, creates the role and refetches.
func (s *RoleService) Create(ctx context.Context, in RoleInput) (*Role, error) {
	if err := s.validateInput(ctx, &in); err != nil {
		return nil, err
	}
	role, err := s.repo.CreateRole(ctx, in)
	if err != nil {
		return nil, err
	}
	s.refreshAfterWrite(ctx)
	return role, nil
}

// Edit updates name and description.
func (s *RoleService) Edit(ctx context.Context, id string, patch RolePatch) (*Role, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("id", "role id is required")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, apperr.Validation("name", "name must not be empty")
	}
	if patch.Name == nil && patch.Description == nil {
		return nil, apperr.Validation("", "nothing to update")
	}
	role, err := s.repo.UpdateRole(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.refreshAfterWrite(ctx)
	return role, nil
}

// EditPermissions replaces the submitted module entries of the role.
// Modules absent from entries are left untouched by the backend.
func (s *RoleService) EditPermissions(ctx context.Context, id string, entries []PermissionEntry) ([]Permission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("id", "role id is required")
	}
	if len(entries) == 0 {
		return nil, apperr.Validation("permissions", "at least one module entry is required")
	}
	if err := ValidatePermissionPatch(entries); err != nil {
		return nil, apperr.Validation("permissions", "%v", err)
	}
	perms, err := s.repo.UpdateRolePermissions(ctx, id, entries)
	if err != nil {
		return nil, err
	}
	s.refreshAfterWrite(ctx)
	return perms, nil
}

// Delete removes the role. A role still bound to users is rejected by the
// backend with a ConflictError and the collection is left as it was.
func (s *RoleService) Delete(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.Validation("id", "role id is required")
	}
	msg, err := s.repo.DeleteRole(ctx, id)
	if err != nil {
		return "", err
	}
	s.refreshAfterWrite(ctx)
	return msg, nil
}

// refreshAfterWrite refetches after a successful write. Its failure marks
// the collection unknown; the write itself stands.
func (s *RoleService) refreshAfterWrite(ctx context.Context) {
	_ = s.Refresh(ctx)
}

func (s *RoleService) validateInput(ctx context.Context, in *RoleInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Validation("name", "name is required")
	}
	if in.EntityType == "" {
		return apperr.Validation("entity_type", "entity type is required")
	}
	t, err := ParseEntityType(string(in.EntityType))
	if err != nil {
		return apperr.Validation("entity_type", "%v", err)
	}
	in.EntityType = t

	if in.EntityID != nil && strings.TrimSpace(*in.EntityID) == "" {
		in.EntityID = nil
	}
	if in.EntityID == nil {
		return nil
	}
	if t == EntityNone {
		return apperr.Validation("entity_id", "a role with entity type none cannot be bound to an entity")
	}
	if s.lookup != nil {
		ok, err := s.lookup(ctx, t, *in.EntityID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("entity_id", "entity %s is not a %s", *in.EntityID, t)
		}
	}
	return nil
}
