package identity

import (
	"net/mail"
	"strings"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
)

// Mode selects the create or edit variant of the user form.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Form is the user create/edit form. Choices are made in strict order:
// entity type, then entity, then role. Changing an earlier choice clears
// every later one.
type Form struct {
	Mode       Mode             `json:"mode"`
	UserID     string           `json:"user_id,omitempty"`
	EntityType authz.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	RoleID     string           `json:"role_id"`
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	Phone      string           `json:"phone,omitempty"`
	Password   string           `json:"password,omitempty"`
}

// NewCreateForm returns an empty create form.
func NewCreateForm() *Form {
	return &Form{Mode: ModeCreate}
}

// NewEditForm seeds an edit form from u.
func NewEditForm(u *User) *Form {
	return &Form{
		Mode:       ModeEdit,
		UserID:     u.ID,
		EntityType: u.EntityType,
		EntityID:   u.EntityID,
		RoleID:     u.RoleID(),
		Name:       u.Name,
		Email:      u.Email,
		Phone:      u.Phone,
	}
}

// SetEntityType chooses the entity type and clears the entity and role.
func (f *Form) SetEntityType(t authz.EntityType) {
	f.EntityType = t
	f.EntityID = ""
	f.RoleID = ""
}

// SetEntityID chooses the entity and clears the role. It is a no-op while
// no entity type is chosen.
func (f *Form) SetEntityID(id string) {
	if f.EntityType == "" {
		return
	}
	f.EntityID = id
	f.RoleID = ""
}

// SetRoleID chooses the role. It is a no-op while no entity is chosen.
func (f *Form) SetRoleID(id string) {
	if f.EntityID == "" {
		return
	}
	f.RoleID = id
}

// EntityOptions lists the entities of the chosen type; empty while no type
// is chosen.
func (f *Form) EntityOptions(src EntitySource) []authz.ExtractedRole {
	if f.EntityType == "" || src == nil {
		return nil
	}
	return src.Entities(f.EntityType)
}

// RoleOptions lists the roles scoped to the chosen (entity type, entity);
// empty while no entity is chosen.
func (f *Form) RoleOptions(groups map[string][]authz.Role) []authz.Role {
	if f.EntityID == "" {
		return nil
	}
	return authz.RolesFor(groups, f.EntityType, f.EntityID)
}

// MissingFields lists the required fields that are empty, in form order.
func (f *Form) MissingFields() []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("entity_type", string(f.EntityType))
	check("entity_id", f.EntityID)
	check("role_id", f.RoleID)
	check("name", f.Name)
	check("email", f.Email)
	if f.Mode == ModeCreate {
		check("password", f.Password)
	}
	return missing
}

// CanSubmit reports whether the submit action is enabled.
func (f *Form) CanSubmit() bool {
	return len(f.MissingFields()) == 0
}

// Validate checks every client-side precondition. entities and groups are
// the current picker sources; a nil entities source skips the entity
// membership check.
func (f *Form) Validate(entities EntitySource, groups map[string][]authz.Role) error {
	if f.Mode != ModeCreate && f.Mode != ModeEdit {
		return apperr.Validation("mode", "unknown form mode %q", f.Mode)
	}
	if f.Mode == ModeEdit && f.UserID == "" {
		return apperr.Validation("user_id", "user id is required when editing")
	}
	if f.Mode == ModeEdit && f.Password != "" {
		return apperr.Validation("password", "password cannot be changed through the user form")
	}
	if missing := f.MissingFields(); len(missing) > 0 {
		return apperr.Validation(missing[0], "%s is required", strings.Join(missing, ", "))
	}
	if _, err := authz.ParseEntityType(string(f.EntityType)); err != nil || f.EntityType == authz.EntityNone {
		return apperr.Validation("entity_type", "invalid entity type %q", f.EntityType)
	}
	if _, err := mail.ParseAddress(f.Email); err != nil {
		return apperr.Validation("email", "invalid email address")
	}

	if entities != nil && !containsEntity(entities.Entities(f.EntityType), f.EntityID) {
		return apperr.Validation("entity_id", "entity %s is not a %s", f.EntityID, f.EntityType)
	}

	for _, r := range f.RoleOptions(groups) {
		if r.ID == f.RoleID {
			return nil
		}
	}
	return apperr.Validation("role_id", "role %s does not belong to %s %s", f.RoleID, f.EntityType, f.EntityID)
}

// Input builds the request payload. The password is dropped on edit.
func (f *Form) Input() UserInput {
	in := UserInput{
		Name:       strings.TrimSpace(f.Name),
		Email:      strings.TrimSpace(f.Email),
		Phone:      strings.TrimSpace(f.Phone),
		EntityType: f.EntityType,
		EntityID:   f.EntityID,
		RoleID:     f.RoleID,
	}
	if f.Mode == ModeCreate {
		in.Password = f.Password
	}
	return in
}

func containsEntity(refs []authz.ExtractedRole, id string) bool {
	for _, r := range refs {
		if r.ID == id {
			return true
		}
	}
	return false
}
