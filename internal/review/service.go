// Package review implements the read-only query manager: entity lookups,
// assignment inspection and the hierarchy-expanded authorization views. It
// never mutates the directory and never touches live sessions.
package review

import (
	"context"
	"sort"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
)

// StorePort is the slice of the directory store the review manager reads.
type StorePort interface {
	GetUser(ctx context.Context, name string) (*directory.User, error)
	SearchUsers(ctx context.Context, prefix string) ([]directory.User, error)
	GetRole(ctx context.Context, name string) (*directory.Role, error)
	SearchRoles(ctx context.Context, prefix string) ([]directory.Role, error)
	GetAdminRole(ctx context.Context, name string) (*directory.AdminRole, error)
	GetOrgUnit(ctx context.Context, kind hierarchy.Kind, name string) (*directory.OrgUnit, error)
	SearchOrgUnits(ctx context.Context, kind hierarchy.Kind) ([]directory.OrgUnit, error)
	Edges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error)
	AssignedRoles(ctx context.Context, user string) ([]directory.Assignment, error)
	AssignedUsers(ctx context.Context, role string, admin bool) ([]directory.Assignment, error)
	GetSDSet(ctx context.Context, name string) (*directory.SDSet, error)
	SearchSDSets(ctx context.Context, kind directory.SDKind) ([]directory.SDSet, error)
	SDSetsContaining(ctx context.Context, kind directory.SDKind, role string) ([]directory.SDSet, error)
	GetPermission(ctx context.Context, object, objectID, operation string) (*directory.Permission, error)
	SearchPermissions(ctx context.Context, object string) ([]directory.Permission, error)
}

// Service handles review queries.
type Service struct {
	store StorePort
}

// NewService builds the review manager.
func NewService(store StorePort) *Service {
	return &Service{store: store}
}

// User returns one account.
func (s *Service) User(ctx context.Context, name string) (*directory.User, error) {
	return s.store.GetUser(ctx, directory.Normalize(name))
}

// Users lists accounts by name prefix.
func (s *Service) Users(ctx context.Context, prefix string) ([]directory.User, error) {
	return s.store.SearchUsers(ctx, directory.Normalize(prefix))
}

// Role returns one role.
func (s *Service) Role(ctx context.Context, name string) (*directory.Role, error) {
	return s.store.GetRole(ctx, directory.Normalize(name))
}

// Roles lists roles by name prefix.
func (s *Service) Roles(ctx context.Context, prefix string) ([]directory.Role, error) {
	return s.store.SearchRoles(ctx, directory.Normalize(prefix))
}

// AdminRole returns one administrative role.
func (s *Service) AdminRole(ctx context.Context, name string) (*directory.AdminRole, error) {
	return s.store.GetAdminRole(ctx, directory.Normalize(name))
}

// OrgUnits lists the org units of one hierarchy.
func (s *Service) OrgUnits(ctx context.Context, kind hierarchy.Kind) ([]directory.OrgUnit, error) {
	return s.store.SearchOrgUnits(ctx, kind)
}

// AssignedRoles returns the user's direct assignments, admin and regular.
func (s *Service) AssignedRoles(ctx context.Context, user string) ([]directory.Assignment, error) {
	return s.store.AssignedRoles(ctx, directory.Normalize(user))
}

// AssignedUsers returns the direct assignments of one role.
func (s *Service) AssignedUsers(ctx context.Context, role string, admin bool) ([]directory.Assignment, error) {
	return s.store.AssignedUsers(ctx, directory.Normalize(role), admin)
}

// AuthorizedRoles expands the user's assigned regular roles through the
// hierarchy: every assigned role plus all of its ascendants, sorted.
func (s *Service) AuthorizedRoles(ctx context.Context, user string) ([]string, error) {
	assignments, err := s.store.AssignedRoles(ctx, directory.Normalize(user))
	if err != nil {
		return nil, err
	}
	graph, err := s.roleGraph(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, a := range assignments {
		if a.Admin {
			continue
		}
		for role := range graph.Closure(a.Role) {
			set[role] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// AuthorizedUsers returns the names of users who hold the role's authority:
// directly assigned users plus users assigned to any descendant role.
func (s *Service) AuthorizedUsers(ctx context.Context, role string) ([]string, error) {
	role = directory.Normalize(role)
	if _, err := s.store.GetRole(ctx, role); err != nil {
		return nil, err
	}
	graph, err := s.roleGraph(ctx)
	if err != nil {
		return nil, err
	}
	holders := append([]string{role}, graph.Descendants(role)...)
	set := make(map[string]struct{})
	for _, r := range holders {
		assignments, err := s.store.AssignedUsers(ctx, r, false)
		if err != nil {
			return nil, err
		}
		for _, a := range assignments {
			set[a.User] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// RolePermissions returns every permission the role authorizes: grants to
// the role itself or to any of its ascendants.
func (s *Service) RolePermissions(ctx context.Context, role string) ([]directory.Permission, error) {
	role = directory.Normalize(role)
	if _, err := s.store.GetRole(ctx, role); err != nil {
		return nil, err
	}
	graph, err := s.roleGraph(ctx)
	if err != nil {
		return nil, err
	}
	authorized := graph.Closure(role)
	perms, err := s.store.SearchPermissions(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []directory.Permission
	for _, p := range perms {
		for _, granted := range p.Roles {
			if _, ok := authorized[granted]; ok {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

// Permission returns one permission triple.
func (s *Service) Permission(ctx context.Context, object, objectID, operation string) (*directory.Permission, error) {
	return s.store.GetPermission(ctx,
		directory.Normalize(object), directory.Normalize(objectID), directory.Normalize(operation))
}

// Permissions lists permissions, optionally filtered by object.
func (s *Service) Permissions(ctx context.Context, object string) ([]directory.Permission, error) {
	return s.store.SearchPermissions(ctx, directory.Normalize(object))
}

// PermissionRoles returns the roles directly granted the permission.
func (s *Service) PermissionRoles(ctx context.Context, object, objectID, operation string) ([]string, error) {
	p, err := s.Permission(ctx, object, objectID, operation)
	if err != nil {
		return nil, err
	}
	return p.Roles, nil
}

// SDSet returns one separation-of-duty set.
func (s *Service) SDSet(ctx context.Context, name string) (*directory.SDSet, error) {
	return s.store.GetSDSet(ctx, directory.Normalize(name))
}

// SDSets lists the sets of one kind.
func (s *Service) SDSets(ctx context.Context, kind directory.SDKind) ([]directory.SDSet, error) {
	return s.store.SearchSDSets(ctx, kind)
}

// SDSetsForRole returns the sets of the given kind containing the role.
func (s *Service) SDSetsForRole(ctx context.Context, kind directory.SDKind, role string) ([]directory.SDSet, error) {
	return s.store.SDSetsContaining(ctx, kind, directory.Normalize(role))
}

// Ascendants returns the role's transitive parents in the given hierarchy.
func (s *Service) Ascendants(ctx context.Context, kind hierarchy.Kind, id string) ([]string, error) {
	edges, err := s.store.Edges(ctx, kind)
	if err != nil {
		return nil, err
	}
	return hierarchy.New(edges).Ascendants(directory.Normalize(id)), nil
}

// Descendants returns the role's transitive children in the given hierarchy.
func (s *Service) Descendants(ctx context.Context, kind hierarchy.Kind, id string) ([]string, error) {
	edges, err := s.store.Edges(ctx, kind)
	if err != nil {
		return nil, err
	}
	return hierarchy.New(edges).Descendants(directory.Normalize(id)), nil
}

func (s *Service) roleGraph(ctx context.Context) (*hierarchy.Graph, error) {
	edges, err := s.store.Edges(ctx, hierarchy.KindRole)
	if err != nil {
		return nil, err
	}
	return hierarchy.New(edges), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
