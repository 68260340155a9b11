package identity

import (
	"fmt"
	"testing"

	"github.com/trialiq/console/internal/authz"
)

func BenchmarkForm_Validate(b *testing.B) {
	roles := make([]authz.Role, 0, 200)
	for i := 0; i < 200; i++ {
		entityID := fmt.Sprintf("site-%d", i%20)
		roles = append(roles, authz.Role{
			ID:         fmt.Sprintf("r-%d", i),
			Name:       fmt.Sprintf("site_role_%d", i),
			EntityType: authz.EntitySite,
			EntityID:   &entityID,
		})
	}
	groups := authz.GroupRolesByEntityType(roles)
	f := &Form{
		Mode:       ModeCreate,
		EntityType: authz.EntitySite,
		EntityID:   "site-7",
		RoleID:     "r-187",
		Name:       "Dana",
		Email:      "dana@example.org",
		Password:   "correct-horse-battery-staple",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := f.Validate(nil, groups); err != nil {
			b.Fatal(err)
		}
	}
}
