package admin

import (
	"context"

	"github.com/sentra-iam/sentra/internal/delegation"
	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
)

// Actor is the authenticated administrator performing a delegated operation:
// the user name plus the admin roles carried by their session.
type Actor struct {
	Name       string
	AdminRoles []string
}

type actorContextKey struct{}

func withActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, name)
}

func actorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(actorContextKey{}).(string)
	return name
}

// Delegated wraps the administrative manager with ARBAC authorization. Every
// operation re-evaluates the actor's authority against the current hierarchy
// and range data; authority is never cached across calls.
type Delegated struct {
	svc   *Service
	authz *delegation.Authorizer
}

// NewDelegated builds the delegated administrative surface.
func NewDelegated(svc *Service, authz *delegation.Authorizer) *Delegated {
	return &Delegated{svc: svc, authz: authz}
}

// ============================================================================
// USER OPERATIONS (org-unit condition)
// ============================================================================

// CreateUser requires authority over the new user's org unit.
func (d *Delegated) CreateUser(ctx context.Context, actor Actor, req UserRequest) (*directory.User, error) {
	if err := d.authz.CanAdministerOU(ctx, actor.AdminRoles, req.OrgUnit, hierarchy.KindUserOU); err != nil {
		return nil, err
	}
	return d.svc.CreateUser(withActor(ctx, actor.Name), req)
}

// UpdateUser requires authority over both the user's current org unit and,
// when the request moves the user, the destination org unit.
func (d *Delegated) UpdateUser(ctx context.Context, actor Actor, req UserRequest) (*directory.User, error) {
	if err := d.requireUserOU(ctx, actor, req.Name); err != nil {
		return nil, err
	}
	if req.OrgUnit != "" {
		if err := d.authz.CanAdministerOU(ctx, actor.AdminRoles, req.OrgUnit, hierarchy.KindUserOU); err != nil {
			return nil, err
		}
	}
	return d.svc.UpdateUser(withActor(ctx, actor.Name), req)
}

// DeleteUser requires authority over the user's org unit.
func (d *Delegated) DeleteUser(ctx context.Context, actor Actor, name string) error {
	if err := d.requireUserOU(ctx, actor, name); err != nil {
		return err
	}
	return d.svc.DeleteUser(withActor(ctx, actor.Name), name)
}

// LockUser requires authority over the user's org unit.
func (d *Delegated) LockUser(ctx context.Context, actor Actor, name string) error {
	if err := d.requireUserOU(ctx, actor, name); err != nil {
		return err
	}
	return d.svc.LockUser(withActor(ctx, actor.Name), name)
}

// UnlockUser requires authority over the user's org unit.
func (d *Delegated) UnlockUser(ctx context.Context, actor Actor, name string) error {
	if err := d.requireUserOU(ctx, actor, name); err != nil {
		return err
	}
	return d.svc.UnlockUser(withActor(ctx, actor.Name), name)
}

func (d *Delegated) requireUserOU(ctx context.Context, actor Actor, user string) error {
	u, err := d.svc.store.GetUser(ctx, directory.Normalize(user))
	if err != nil {
		return err
	}
	return d.authz.CanAdministerOU(ctx, actor.AdminRoles, u.OrgUnit, hierarchy.KindUserOU)
}

// ============================================================================
// ASSIGNMENT OPERATIONS (range and org-unit conditions together)
// ============================================================================

// AssignUser requires one held admin role that covers both the target role's
// position in the hierarchy range and the user's org unit. Delegated
// assignment of admin roles is refused; admin roles are granted through the
// unscoped surface only.
func (d *Delegated) AssignUser(ctx context.Context, actor Actor, req AssignRequest) error {
	if req.Admin {
		if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
			return err
		}
		return d.svc.AssignUser(withActor(ctx, actor.Name), req)
	}
	if err := d.requireAssignTarget(ctx, actor, req.User, req.Role); err != nil {
		return err
	}
	return d.svc.AssignUser(withActor(ctx, actor.Name), req)
}

// DeassignUser mirrors AssignUser's authorization.
func (d *Delegated) DeassignUser(ctx context.Context, actor Actor, user, role string, admin bool) error {
	if admin {
		if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
			return err
		}
		return d.svc.DeassignUser(withActor(ctx, actor.Name), user, role, admin)
	}
	if err := d.requireAssignTarget(ctx, actor, user, role); err != nil {
		return err
	}
	return d.svc.DeassignUser(withActor(ctx, actor.Name), user, role, admin)
}

func (d *Delegated) requireAssignTarget(ctx context.Context, actor Actor, user, role string) error {
	u, err := d.svc.store.GetUser(ctx, directory.Normalize(user))
	if err != nil {
		return err
	}
	return d.authz.CanOperate(ctx, actor.AdminRoles, delegation.Target{
		Role:    role,
		OrgUnit: u.OrgUnit,
		OUKind:  hierarchy.KindUserOU,
	})
}

// ============================================================================
// ROLE OPERATIONS (range condition)
// ============================================================================

// CreateRole is gated on an unscoped admin role: a role that does not exist
// yet sits outside every range, so no range can authorize it.
func (d *Delegated) CreateRole(ctx context.Context, actor Actor, req RoleRequest) (*directory.Role, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.CreateRole(withActor(ctx, actor.Name), req)
}

// UpdateRole requires the role inside one held admin role's range.
func (d *Delegated) UpdateRole(ctx context.Context, actor Actor, req RoleRequest) (*directory.Role, error) {
	if err := d.authz.CanAdministerRole(ctx, actor.AdminRoles, req.Name); err != nil {
		return nil, err
	}
	return d.svc.UpdateRole(withActor(ctx, actor.Name), req)
}

// DeleteRole requires the role inside one held admin role's range.
func (d *Delegated) DeleteRole(ctx context.Context, actor Actor, name string) error {
	if err := d.authz.CanAdministerRole(ctx, actor.AdminRoles, name); err != nil {
		return err
	}
	return d.svc.DeleteRole(withActor(ctx, actor.Name), name)
}

// AddInheritance requires authority over both ends of the new edge.
func (d *Delegated) AddInheritance(ctx context.Context, actor Actor, parent, child string) error {
	if err := d.requireEdge(ctx, actor, parent, child); err != nil {
		return err
	}
	return d.svc.AddInheritance(withActor(ctx, actor.Name), parent, child)
}

// DeleteInheritance requires authority over both ends of the edge.
func (d *Delegated) DeleteInheritance(ctx context.Context, actor Actor, parent, child string) error {
	if err := d.requireEdge(ctx, actor, parent, child); err != nil {
		return err
	}
	return d.svc.DeleteInheritance(withActor(ctx, actor.Name), parent, child)
}

func (d *Delegated) requireEdge(ctx context.Context, actor Actor, parent, child string) error {
	if err := d.authz.CanAdministerRole(ctx, actor.AdminRoles, parent); err != nil {
		return err
	}
	return d.authz.CanAdministerRole(ctx, actor.AdminRoles, child)
}

// ============================================================================
// PERMISSION OPERATIONS
// ============================================================================

// GrantToRole requires the granted role inside one held admin role's range.
func (d *Delegated) GrantToRole(ctx context.Context, actor Actor, ref PermissionRequest, role string) error {
	if err := d.authz.CanAdministerRole(ctx, actor.AdminRoles, role); err != nil {
		return err
	}
	return d.svc.GrantToRole(withActor(ctx, actor.Name), ref, role)
}

// RevokeFromRole mirrors GrantToRole's authorization.
func (d *Delegated) RevokeFromRole(ctx context.Context, actor Actor, ref PermissionRequest, role string) error {
	if err := d.authz.CanAdministerRole(ctx, actor.AdminRoles, role); err != nil {
		return err
	}
	return d.svc.RevokeFromRole(withActor(ctx, actor.Name), ref, role)
}

// GrantToUser requires authority over the user's org unit.
func (d *Delegated) GrantToUser(ctx context.Context, actor Actor, ref PermissionRequest, user string) error {
	if err := d.requireUserOU(ctx, actor, user); err != nil {
		return err
	}
	return d.svc.GrantToUser(withActor(ctx, actor.Name), ref, user)
}

// RevokeFromUser mirrors GrantToUser's authorization.
func (d *Delegated) RevokeFromUser(ctx context.Context, actor Actor, ref PermissionRequest, user string) error {
	if err := d.requireUserOU(ctx, actor, user); err != nil {
		return err
	}
	return d.svc.RevokeFromUser(withActor(ctx, actor.Name), ref, user)
}

// ============================================================================
// STRUCTURAL OPERATIONS (unscoped admin role required)
// ============================================================================

// CreatePermission is structural: permission triples carry no org unit.
func (d *Delegated) CreatePermission(ctx context.Context, actor Actor, req PermissionRequest) (*directory.Permission, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.CreatePermission(withActor(ctx, actor.Name), req)
}

// DeletePermission is structural.
func (d *Delegated) DeletePermission(ctx context.Context, actor Actor, object, objectID, operation string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.DeletePermission(withActor(ctx, actor.Name), object, objectID, operation)
}

// CreateAdminRole is structural.
func (d *Delegated) CreateAdminRole(ctx context.Context, actor Actor, req AdminRoleRequest) (*directory.AdminRole, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.CreateAdminRole(withActor(ctx, actor.Name), req)
}

// UpdateAdminRole is structural.
func (d *Delegated) UpdateAdminRole(ctx context.Context, actor Actor, req AdminRoleRequest) (*directory.AdminRole, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.UpdateAdminRole(withActor(ctx, actor.Name), req)
}

// DeleteAdminRole is structural.
func (d *Delegated) DeleteAdminRole(ctx context.Context, actor Actor, name string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.DeleteAdminRole(withActor(ctx, actor.Name), name)
}

// AddAdminInheritance is structural.
func (d *Delegated) AddAdminInheritance(ctx context.Context, actor Actor, parent, child string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.AddAdminInheritance(withActor(ctx, actor.Name), parent, child)
}

// DeleteAdminInheritance is structural.
func (d *Delegated) DeleteAdminInheritance(ctx context.Context, actor Actor, parent, child string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.DeleteAdminInheritance(withActor(ctx, actor.Name), parent, child)
}

// CreateOrgUnit is structural.
func (d *Delegated) CreateOrgUnit(ctx context.Context, actor Actor, req OrgUnitRequest) (*directory.OrgUnit, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.CreateOrgUnit(withActor(ctx, actor.Name), req)
}

// DeleteOrgUnit is structural.
func (d *Delegated) DeleteOrgUnit(ctx context.Context, actor Actor, kind hierarchy.Kind, name string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.DeleteOrgUnit(withActor(ctx, actor.Name), kind, name)
}

// AddOrgUnitInheritance is structural.
func (d *Delegated) AddOrgUnitInheritance(ctx context.Context, actor Actor, kind hierarchy.Kind, parent, child string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.AddOrgUnitInheritance(withActor(ctx, actor.Name), kind, parent, child)
}

// DeleteOrgUnitInheritance is structural.
func (d *Delegated) DeleteOrgUnitInheritance(ctx context.Context, actor Actor, kind hierarchy.Kind, parent, child string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.DeleteOrgUnitInheritance(withActor(ctx, actor.Name), kind, parent, child)
}

// CreateSDSet is structural.
func (d *Delegated) CreateSDSet(ctx context.Context, actor Actor, req SDSetRequest) (*directory.SDSet, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.CreateSDSet(withActor(ctx, actor.Name), req)
}

// UpdateSDSet is structural.
func (d *Delegated) UpdateSDSet(ctx context.Context, actor Actor, req SDSetRequest) (*directory.SDSet, error) {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return nil, err
	}
	return d.svc.UpdateSDSet(withActor(ctx, actor.Name), req)
}

// DeleteSDSet is structural.
func (d *Delegated) DeleteSDSet(ctx context.Context, actor Actor, name string) error {
	if err := d.authz.RequireUnscoped(ctx, actor.AdminRoles); err != nil {
		return err
	}
	return d.svc.DeleteSDSet(withActor(ctx, actor.Name), name)
}
