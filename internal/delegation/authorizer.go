// Package delegation decides whether an administrator holding an admin role
// may operate on a given regular-role / org-unit target (ARBAC02 range
// authorization). The check is stateless and re-evaluated on every call:
// hierarchy and range data can change between operations, so authority is
// never cached.
package delegation

import (
	"context"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
)

// StorePort is the slice of the directory store the authorizer reads.
type StorePort interface {
	GetAdminRole(ctx context.Context, name string) (*directory.AdminRole, error)
	Edges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error)
}

// Target identifies the entity a delegated operation wants to touch.
type Target struct {
	Role    string         // regular role being assigned/granted/etc.
	OrgUnit string         // org unit of the affected user or permission
	OUKind  hierarchy.Kind // hierarchy.KindUserOU or hierarchy.KindPermOU
}

// Authorizer evaluates delegated-administration authority.
type Authorizer struct {
	store StorePort
}

// NewAuthorizer builds an Authorizer.
func NewAuthorizer(store StorePort) *Authorizer {
	return &Authorizer{store: store}
}

// CanOperate grants the operation when at least one of the held admin roles
// authorizes the target. Both the org-unit condition and the role-range
// condition must hold for the same admin role.
func (a *Authorizer) CanOperate(ctx context.Context, heldAdminRoles []string, target Target) error {
	if len(heldAdminRoles) == 0 {
		return denied(target)
	}
	roleGraph, err := a.graph(ctx, hierarchy.KindRole)
	if err != nil {
		return err
	}
	ouGraph, err := a.graph(ctx, target.OUKind)
	if err != nil {
		return err
	}
	targetRole := directory.Normalize(target.Role)
	targetOU := directory.Normalize(target.OrgUnit)
	for _, name := range heldAdminRoles {
		admin, err := a.store.GetAdminRole(ctx, name)
		if err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				continue
			}
			return err
		}
		if Authorizes(*admin, roleGraph, ouGraph, targetRole, targetOU, target.OUKind) {
			return nil
		}
	}
	return denied(target)
}

// CanAdministerRole grants operations on a regular role that touch no user
// or permission entity (role CRUD, inheritance edges): only the range
// condition applies.
func (a *Authorizer) CanAdministerRole(ctx context.Context, heldAdminRoles []string, role string) error {
	target := Target{Role: role}
	if len(heldAdminRoles) == 0 {
		return denied(target)
	}
	roleGraph, err := a.graph(ctx, hierarchy.KindRole)
	if err != nil {
		return err
	}
	role = directory.Normalize(role)
	for _, name := range heldAdminRoles {
		admin, err := a.store.GetAdminRole(ctx, name)
		if err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				continue
			}
			return err
		}
		if RangeContains(*admin, roleGraph, role) {
			return nil
		}
	}
	return denied(target)
}

// CanAdministerOU grants operations on a user or permission entity that
// touch no regular role (user CRUD, lock, direct user grants): only the
// org-unit condition applies.
func (a *Authorizer) CanAdministerOU(ctx context.Context, heldAdminRoles []string, ou string, kind hierarchy.Kind) error {
	target := Target{OrgUnit: ou, OUKind: kind}
	if len(heldAdminRoles) == 0 {
		return denied(target)
	}
	ouGraph, err := a.graph(ctx, kind)
	if err != nil {
		return err
	}
	ou = directory.Normalize(ou)
	for _, name := range heldAdminRoles {
		admin, err := a.store.GetAdminRole(ctx, name)
		if err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				continue
			}
			return err
		}
		if ouAuthorized(*admin, ouGraph, ou, kind) {
			return nil
		}
	}
	return denied(target)
}

// RequireUnscoped grants structural operations (admin role CRUD, org-unit
// CRUD, separation-of-duty sets) only to holders of a fully unscoped admin
// role: open range on both ends and no org-unit associations.
func (a *Authorizer) RequireUnscoped(ctx context.Context, heldAdminRoles []string) error {
	for _, name := range heldAdminRoles {
		admin, err := a.store.GetAdminRole(ctx, name)
		if err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				continue
			}
			return err
		}
		if admin.BeginRange == "" && admin.EndRange == "" &&
			len(admin.UserOUs) == 0 && len(admin.PermOUs) == 0 {
			return nil
		}
	}
	return shared.NewError(shared.CodeArbacAuthzDenied, shared.KindAuthzDenied,
		"operation requires an unscoped admin role")
}

func (a *Authorizer) graph(ctx context.Context, kind hierarchy.Kind) (*hierarchy.Graph, error) {
	edges, err := a.store.Edges(ctx, kind)
	if err != nil {
		return nil, err
	}
	return hierarchy.New(edges), nil
}

// Authorizes is the pure decision: the target org unit must equal or descend
// from one of the admin role's associated org units, and the target role
// must lie on the path between the admin role's begin and end range in the
// regular role hierarchy.
func Authorizes(admin directory.AdminRole, roleGraph, ouGraph *hierarchy.Graph, targetRole, targetOU string, ouKind hierarchy.Kind) bool {
	if !ouAuthorized(admin, ouGraph, targetOU, ouKind) {
		return false
	}
	return RangeContains(admin, roleGraph, targetRole)
}

// RangeContains reports whether role sits within the admin role's authorized
// slice of the role hierarchy: descendant-or-self of BeginRange (self only
// when BeginInclusive) and ascendant-or-self of EndRange (self only when
// EndInclusive). An unset bound leaves that end open.
func RangeContains(admin directory.AdminRole, roleGraph *hierarchy.Graph, role string) bool {
	if role == "" {
		return false
	}
	begin := directory.Normalize(admin.BeginRange)
	end := directory.Normalize(admin.EndRange)

	if begin != "" {
		if role == begin {
			if !admin.BeginInclusive {
				return false
			}
		} else if !roleGraph.IsDescendant(role, begin) {
			return false
		}
	}
	if end != "" {
		if role == end {
			if !admin.EndInclusive {
				return false
			}
		} else if !roleGraph.IsAscendant(role, end) {
			return false
		}
	}
	return true
}

func ouAuthorized(admin directory.AdminRole, ouGraph *hierarchy.Graph, targetOU string, ouKind hierarchy.Kind) bool {
	var associated []string
	switch ouKind {
	case hierarchy.KindUserOU:
		associated = admin.UserOUs
	case hierarchy.KindPermOU:
		associated = admin.PermOUs
	default:
		return false
	}
	if targetOU == "" {
		// Targets without an org unit are only administrable by admin roles
		// with no org-unit scoping at all.
		return len(associated) == 0
	}
	if len(associated) == 0 {
		return false
	}
	for _, ou := range associated {
		ou = directory.Normalize(ou)
		if ou == targetOU || ouGraph.IsDescendant(targetOU, ou) {
			return true
		}
	}
	return false
}

func denied(target Target) error {
	return shared.Errorf(shared.CodeArbacAuthzDenied, shared.KindAuthzDenied,
		"not authorized to administer role %q in org unit %q", target.Role, target.OrgUnit)
}
