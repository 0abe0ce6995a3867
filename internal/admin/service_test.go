package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
)

func newTestService(t *testing.T) (*Service, *directory.MemoryStore) {
	t.Helper()
	store := directory.NewMemoryStore()
	svc := NewService(nil, store, sod.NewValidator(store), nil, bcrypt.MinCost)
	return svc, store
}

func mustCreateRole(t *testing.T, svc *Service, name string) {
	t.Helper()
	_, err := svc.CreateRole(context.Background(), RoleRequest{Name: name})
	require.NoError(t, err)
}

func mustCreateUser(t *testing.T, svc *Service, req UserRequest) {
	t.Helper()
	_, err := svc.CreateUser(context.Background(), req)
	require.NoError(t, err)
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	mustCreateUser(t, svc, UserRequest{Name: "Alice", Password: "hunter2hunter2"})

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err, "names are folded at the boundary")
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter2hunter2")))
}

func TestCreateUserRejectsUnknownOrgUnit(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateUser(context.Background(), UserRequest{Name: "alice", OrgUnit: "nowhere"})
	require.Equal(t, shared.CodeOrgUnitNotFound, shared.CodeOf(err))
}

func TestCreateRejectsForbiddenNameCharacters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, UserRequest{Name: "alice;drop"})
	require.Equal(t, shared.CodeInvalidName, shared.CodeOf(err))

	_, err = svc.CreateRole(ctx, RoleRequest{Name: "role/evil"})
	require.Equal(t, shared.CodeInvalidName, shared.CodeOf(err))
}

func TestSetNamePatternOverride(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.Error(t, svc.SetNamePattern("("))
	require.NoError(t, svc.SetNamePattern(`^[a-z]+$`))

	_, err := svc.CreateRole(ctx, RoleRequest{Name: "teller-2"})
	require.Equal(t, shared.CodeInvalidName, shared.CodeOf(err))
	_, err = svc.CreateRole(ctx, RoleRequest{Name: "teller"})
	require.NoError(t, err)
}

func TestCreateUserRejectsShortPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateUser(context.Background(), UserRequest{Name: "alice", Password: "short"})
	require.Equal(t, shared.CodeInvalidData, shared.CodeOf(err))
}

func TestDeleteUserRemovesAssignments(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	mustCreateUser(t, svc, UserRequest{Name: "alice"})
	mustCreateRole(t, svc, "clerk")
	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "clerk"}))

	require.NoError(t, svc.DeleteUser(ctx, "alice"))

	assigned, err := store.AssignedUsers(ctx, "clerk", false)
	require.NoError(t, err)
	require.Empty(t, assigned)
}

func TestLockUnlockUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	mustCreateUser(t, svc, UserRequest{Name: "alice"})

	require.NoError(t, svc.LockUser(ctx, "alice"))
	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.True(t, u.Locked)

	require.NoError(t, svc.UnlockUser(ctx, "alice"))
	u, err = store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.False(t, u.Locked)
}

func TestDeleteRoleRefusedWhileInUse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateRole(t, svc, "clerk")
	mustCreateRole(t, svc, "teller")
	require.NoError(t, svc.AddInheritance(ctx, "clerk", "teller"))

	err := svc.DeleteRole(ctx, "clerk")
	require.Equal(t, shared.CodeRoleInUse, shared.CodeOf(err))

	require.NoError(t, svc.DeleteInheritance(ctx, "clerk", "teller"))

	mustCreateUser(t, svc, UserRequest{Name: "alice"})
	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "clerk"}))
	err = svc.DeleteRole(ctx, "clerk")
	require.Equal(t, shared.CodeRoleInUse, shared.CodeOf(err))

	require.NoError(t, svc.DeassignUser(ctx, "alice", "clerk", false))
	require.NoError(t, svc.DeleteRole(ctx, "clerk"))
}

func TestAddInheritanceRejectsCycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateRole(t, svc, "employee")
	mustCreateRole(t, svc, "manager")
	require.NoError(t, svc.AddInheritance(ctx, "employee", "manager"))

	err := svc.AddInheritance(ctx, "manager", "employee")
	require.Equal(t, shared.CodeHierCycle, shared.CodeOf(err))
}

func TestAddInheritanceRequiresExistingRoles(t *testing.T) {
	svc, _ := newTestService(t)

	mustCreateRole(t, svc, "employee")
	err := svc.AddInheritance(context.Background(), "employee", "ghost")
	require.Equal(t, shared.CodeRoleNotFound, shared.CodeOf(err))
}

func TestAssignUserEnforcesSSD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateUser(t, svc, UserRequest{Name: "alice"})
	for _, r := range []string{"payer", "approver", "auditor"} {
		mustCreateRole(t, svc, r)
	}
	_, err := svc.CreateSDSet(ctx, SDSetRequest{
		Name: "payment-sep", Kind: directory.SSD,
		Members: []string{"payer", "approver"}, Cardinality: 2,
	})
	require.NoError(t, err)

	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "payer"}))

	err = svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "approver"})
	require.Equal(t, shared.CodeSsdValidationFailed, shared.CodeOf(err))

	// roles outside the set stay assignable
	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "auditor"}))
}

func TestAssignAdminRoleSkipsSSD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateUser(t, svc, UserRequest{Name: "alice"})
	for _, r := range []string{"payer", "approver"} {
		mustCreateRole(t, svc, r)
	}
	_, err := svc.CreateSDSet(ctx, SDSetRequest{
		Name: "payment-sep", Kind: directory.SSD,
		Members: []string{"payer", "approver"}, Cardinality: 2,
	})
	require.NoError(t, err)
	_, err = svc.CreateAdminRole(ctx, AdminRoleRequest{RoleRequest: RoleRequest{Name: "payer"}})
	require.NoError(t, err)

	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "approver"}))
	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "payer", Admin: true}))
}

func TestCreateSDSetValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateRole(t, svc, "payer")
	mustCreateRole(t, svc, "approver")

	_, err := svc.CreateSDSet(ctx, SDSetRequest{
		Name: "bad", Kind: directory.SSD,
		Members: []string{"payer", "approver"}, Cardinality: 1,
	})
	require.Equal(t, shared.CodeSDSetCardinality, shared.CodeOf(err))

	_, err = svc.CreateSDSet(ctx, SDSetRequest{
		Name: "bad", Kind: directory.SSD,
		Members: []string{"payer", "ghost"}, Cardinality: 2,
	})
	require.Equal(t, shared.CodeRoleNotFound, shared.CodeOf(err))
}

func TestSDSetNeverRetroactive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateUser(t, svc, UserRequest{Name: "alice"})
	mustCreateRole(t, svc, "payer")
	mustCreateRole(t, svc, "approver")
	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "payer"}))
	require.NoError(t, svc.AssignUser(ctx, AssignRequest{User: "alice", Role: "approver"}))

	// creating the set succeeds even though alice already violates it
	_, err := svc.CreateSDSet(ctx, SDSetRequest{
		Name: "payment-sep", Kind: directory.SSD,
		Members: []string{"payer", "approver"}, Cardinality: 2,
	})
	require.NoError(t, err)
}

func TestCreateAdminRoleValidatesRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreateRole(t, svc, "employee")
	mustCreateRole(t, svc, "vp")
	require.NoError(t, svc.AddInheritance(ctx, "employee", "vp"))

	_, err := svc.CreateAdminRole(ctx, AdminRoleRequest{
		RoleRequest: RoleRequest{Name: "backwards"},
		BeginRange:  "vp", EndRange: "employee",
	})
	require.Equal(t, shared.CodeArbacRangeInvalid, shared.CodeOf(err))

	_, err = svc.CreateAdminRole(ctx, AdminRoleRequest{
		RoleRequest: RoleRequest{Name: "eng-admin"},
		BeginRange:  "employee", EndRange: "vp", BeginInclusive: true,
	})
	require.NoError(t, err)
}

func TestOrgUnitLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrgUnit(ctx, OrgUnitRequest{Name: "corp", Kind: hierarchy.KindUserOU})
	require.NoError(t, err)
	_, err = svc.CreateOrgUnit(ctx, OrgUnitRequest{Name: "engineering", Kind: hierarchy.KindUserOU})
	require.NoError(t, err)

	require.NoError(t, svc.AddOrgUnitInheritance(ctx, hierarchy.KindUserOU, "corp", "engineering"))

	err = svc.DeleteOrgUnit(ctx, hierarchy.KindUserOU, "corp")
	require.Equal(t, shared.CodeOrgUnitInUse, shared.CodeOf(err))

	require.NoError(t, svc.DeleteOrgUnitInheritance(ctx, hierarchy.KindUserOU, "corp", "engineering"))
	require.NoError(t, svc.DeleteOrgUnit(ctx, hierarchy.KindUserOU, "corp"))
}

func TestCreateOrgUnitRejectsBadKind(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateOrgUnit(context.Background(), OrgUnitRequest{Name: "x", Kind: hierarchy.KindRole})
	require.Equal(t, shared.CodeInvalidData, shared.CodeOf(err))
}

func TestPermissionGrants(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	mustCreateRole(t, svc, "clerk")
	mustCreateUser(t, svc, UserRequest{Name: "alice"})
	ref := PermissionRequest{Object: "account", ObjectID: "acct-101", Operation: "deposit"}
	_, err := svc.CreatePermission(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, svc.GrantToRole(ctx, ref, "clerk"))
	require.NoError(t, svc.GrantToRole(ctx, ref, "clerk"), "re-granting is a no-op")
	require.NoError(t, svc.GrantToUser(ctx, ref, "alice"))

	p, err := store.GetPermission(ctx, "account", "acct-101", "deposit")
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, p.Roles)
	require.Equal(t, []string{"alice"}, p.Users)

	require.NoError(t, svc.RevokeFromRole(ctx, ref, "clerk"))
	require.NoError(t, svc.RevokeFromUser(ctx, ref, "alice"))

	p, err = store.GetPermission(ctx, "account", "acct-101", "deposit")
	require.NoError(t, err)
	require.Empty(t, p.Roles)
	require.Empty(t, p.Users)

	err = svc.GrantToRole(ctx, ref, "ghost")
	require.Equal(t, shared.CodeRoleNotFound, shared.CodeOf(err))
}
