package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/delegation"
	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
)

// Fixture: role chain employee -> senior -> manager -> vp, org units corp
// with engineering below it. eng-admin may administer roles strictly below
// vp (begin inclusive at employee) for users in engineering; root is fully
// unscoped.
func newDelegatedFixture(t *testing.T) *Delegated {
	t.Helper()
	store := directory.NewMemoryStore()
	svc := NewService(nil, store, sod.NewValidator(store), nil, bcrypt.MinCost)
	d := NewDelegated(svc, delegation.NewAuthorizer(store))
	ctx := context.Background()

	for _, r := range []string{"employee", "senior", "manager", "vp"} {
		mustCreateRole(t, svc, r)
	}
	require.NoError(t, svc.AddInheritance(ctx, "employee", "senior"))
	require.NoError(t, svc.AddInheritance(ctx, "senior", "manager"))
	require.NoError(t, svc.AddInheritance(ctx, "manager", "vp"))

	for _, ou := range []string{"corp", "engineering"} {
		_, err := svc.CreateOrgUnit(ctx, OrgUnitRequest{Name: ou, Kind: hierarchy.KindUserOU})
		require.NoError(t, err)
	}
	require.NoError(t, svc.AddOrgUnitInheritance(ctx, hierarchy.KindUserOU, "corp", "engineering"))

	_, err := svc.CreateAdminRole(ctx, AdminRoleRequest{
		RoleRequest:    RoleRequest{Name: "eng-admin"},
		BeginRange:     "employee",
		EndRange:       "vp",
		BeginInclusive: true,
		UserOUs:        []string{"engineering"},
	})
	require.NoError(t, err)
	_, err = svc.CreateAdminRole(ctx, AdminRoleRequest{RoleRequest: RoleRequest{Name: "root"}})
	require.NoError(t, err)

	mustCreateUser(t, svc, UserRequest{Name: "dev", OrgUnit: "engineering"})
	mustCreateUser(t, svc, UserRequest{Name: "ceo", OrgUnit: "corp"})
	return d
}

var (
	engAdmin = Actor{Name: "erin", AdminRoles: []string{"eng-admin"}}
	rootUser = Actor{Name: "ruth", AdminRoles: []string{"root"}}
	nobody   = Actor{Name: "nate"}
)

func TestDelegatedAssignWithinRangeAndOU(t *testing.T) {
	d := newDelegatedFixture(t)
	ctx := context.Background()

	require.NoError(t, d.AssignUser(ctx, engAdmin, AssignRequest{User: "dev", Role: "senior"}))
	require.NoError(t, d.DeassignUser(ctx, engAdmin, "dev", "senior", false))
}

func TestDelegatedAssignDeniedOutsideRange(t *testing.T) {
	d := newDelegatedFixture(t)

	// vp is the exclusive end of eng-admin's range
	err := d.AssignUser(context.Background(), engAdmin, AssignRequest{User: "dev", Role: "vp"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
}

func TestDelegatedAssignDeniedOutsideOU(t *testing.T) {
	d := newDelegatedFixture(t)

	// corp is the ancestor of engineering, not a descendant
	err := d.AssignUser(context.Background(), engAdmin, AssignRequest{User: "ceo", Role: "senior"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
}

func TestDelegatedAssignDeniedWithoutAdminRoles(t *testing.T) {
	d := newDelegatedFixture(t)

	err := d.AssignUser(context.Background(), nobody, AssignRequest{User: "dev", Role: "senior"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
}

func TestDelegatedUserOps(t *testing.T) {
	d := newDelegatedFixture(t)
	ctx := context.Background()

	require.NoError(t, d.LockUser(ctx, engAdmin, "dev"))
	require.NoError(t, d.UnlockUser(ctx, engAdmin, "dev"))

	err := d.LockUser(ctx, engAdmin, "ceo")
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))

	_, err = d.CreateUser(ctx, engAdmin, UserRequest{Name: "dev2", OrgUnit: "engineering"})
	require.NoError(t, err)

	// a user without an org unit is only administrable by unscoped admins
	_, err = d.CreateUser(ctx, engAdmin, UserRequest{Name: "drifter"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
	_, err = d.CreateUser(ctx, rootUser, UserRequest{Name: "drifter"})
	require.NoError(t, err)
}

func TestDelegatedRoleOps(t *testing.T) {
	d := newDelegatedFixture(t)
	ctx := context.Background()

	_, err := d.UpdateRole(ctx, engAdmin, RoleRequest{Name: "senior", Description: "senior engineer"})
	require.NoError(t, err)

	_, err = d.UpdateRole(ctx, engAdmin, RoleRequest{Name: "vp"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))

	// inheritance requires authority over both ends
	err = d.AddInheritance(ctx, engAdmin, "manager", "vp")
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
}

func TestDelegatedStructuralOpsRequireUnscoped(t *testing.T) {
	d := newDelegatedFixture(t)
	ctx := context.Background()

	_, err := d.CreateRole(ctx, engAdmin, RoleRequest{Name: "intern"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))

	_, err = d.CreateRole(ctx, rootUser, RoleRequest{Name: "intern"})
	require.NoError(t, err)

	_, err = d.CreateAdminRole(ctx, engAdmin, AdminRoleRequest{RoleRequest: RoleRequest{Name: "sub-admin"}})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))

	err = d.AssignUser(ctx, engAdmin, AssignRequest{User: "dev", Role: "eng-admin", Admin: true})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
	require.NoError(t, d.AssignUser(ctx, rootUser, AssignRequest{User: "dev", Role: "eng-admin", Admin: true}))
}

func TestDelegatedAuthorityNeverCached(t *testing.T) {
	d := newDelegatedFixture(t)
	ctx := context.Background()

	require.NoError(t, d.AssignUser(ctx, engAdmin, AssignRequest{User: "dev", Role: "senior"}))
	require.NoError(t, d.DeassignUser(ctx, engAdmin, "dev", "senior", false))

	// shrink the admin role's range; the next call must see it
	_, err := d.svc.UpdateAdminRole(ctx, AdminRoleRequest{
		RoleRequest:    RoleRequest{Name: "eng-admin"},
		BeginRange:     "employee",
		EndRange:       "senior",
		BeginInclusive: true,
		UserOUs:        []string{"engineering"},
	})
	require.NoError(t, err)

	err = d.AssignUser(ctx, engAdmin, AssignRequest{User: "dev", Role: "manager"})
	require.Equal(t, shared.CodeArbacAuthzDenied, shared.CodeOf(err))
}
