package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
)

// MemoryStore is an in-memory Store used by tests and by the bulk loader's
// dry-run mode. A single mutex stands in for the repository's transactional
// serialization: mutation callbacks run under the lock, giving the same
// count-then-commit guarantee the SQL store gets from advisory locks.
type MemoryStore struct {
	mu sync.Mutex

	users       map[string]User
	roles       map[string]Role
	adminRoles  map[string]AdminRole
	orgUnits    map[string]OrgUnit // key kind + "/" + name
	edges       map[hierarchy.Kind][]hierarchy.Edge
	assignments []Assignment
	sdSets      map[string]SDSet
	permissions map[string]Permission // key Permission.ID()
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]User),
		roles:       make(map[string]Role),
		adminRoles:  make(map[string]AdminRole),
		orgUnits:    make(map[string]OrgUnit),
		edges:       make(map[hierarchy.Kind][]hierarchy.Edge),
		sdSets:      make(map[string]SDSet),
		permissions: make(map[string]Permission),
	}
}

var _ Store = (*MemoryStore)(nil)

func ouKey(kind hierarchy.Kind, name string) string { return string(kind) + "/" + name }

// Users.

func (m *MemoryStore) GetUser(_ context.Context, name string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[name]
	if !ok {
		return nil, shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", name)
	}
	return &u, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Name]; ok {
		return shared.Errorf(shared.CodeUserExists, shared.KindAlreadyExists, "user %q already exists", u.Name)
	}
	m.users[u.Name] = u
	return nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Name]; !ok {
		return shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", u.Name)
	}
	m.users[u.Name] = u
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[name]; !ok {
		return shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", name)
	}
	delete(m.users, name)
	return nil
}

func (m *MemoryStore) SearchUsers(_ context.Context, prefix string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for name, u := range m.users {
		if strings.HasPrefix(name, prefix) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Roles.

func (m *MemoryStore) GetRole(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[name]
	if !ok {
		return nil, shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", name)
	}
	return &r, nil
}

func (m *MemoryStore) CreateRole(_ context.Context, r Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[r.Name]; ok {
		return shared.Errorf(shared.CodeRoleExists, shared.KindAlreadyExists, "role %q already exists", r.Name)
	}
	m.roles[r.Name] = r
	return nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, r Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[r.Name]; !ok {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", r.Name)
	}
	m.roles[r.Name] = r
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[name]; !ok {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", name)
	}
	delete(m.roles, name)
	return nil
}

func (m *MemoryStore) SearchRoles(_ context.Context, prefix string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for name, r := range m.roles {
		if strings.HasPrefix(name, prefix) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Admin roles.

func (m *MemoryStore) GetAdminRole(_ context.Context, name string) (*AdminRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.adminRoles[name]
	if !ok {
		return nil, shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "admin role %q not found", name)
	}
	return &r, nil
}

func (m *MemoryStore) CreateAdminRole(_ context.Context, r AdminRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adminRoles[r.Name]; ok {
		return shared.Errorf(shared.CodeRoleExists, shared.KindAlreadyExists, "admin role %q already exists", r.Name)
	}
	m.adminRoles[r.Name] = r
	return nil
}

func (m *MemoryStore) UpdateAdminRole(_ context.Context, r AdminRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adminRoles[r.Name]; !ok {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "admin role %q not found", r.Name)
	}
	m.adminRoles[r.Name] = r
	return nil
}

func (m *MemoryStore) DeleteAdminRole(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adminRoles[name]; !ok {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "admin role %q not found", name)
	}
	delete(m.adminRoles, name)
	return nil
}

// Org units.

func (m *MemoryStore) GetOrgUnit(_ context.Context, kind hierarchy.Kind, name string) (*OrgUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ou, ok := m.orgUnits[ouKey(kind, name)]
	if !ok {
		return nil, shared.Errorf(shared.CodeOrgUnitNotFound, shared.KindNotFound, "org unit %q not found", name)
	}
	return &ou, nil
}

func (m *MemoryStore) CreateOrgUnit(_ context.Context, ou OrgUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ouKey(ou.Kind, ou.Name)
	if _, ok := m.orgUnits[key]; ok {
		return shared.Errorf(shared.CodeOrgUnitExists, shared.KindAlreadyExists, "org unit %q already exists", ou.Name)
	}
	m.orgUnits[key] = ou
	return nil
}

func (m *MemoryStore) DeleteOrgUnit(_ context.Context, kind hierarchy.Kind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ouKey(kind, name)
	if _, ok := m.orgUnits[key]; !ok {
		return shared.Errorf(shared.CodeOrgUnitNotFound, shared.KindNotFound, "org unit %q not found", name)
	}
	delete(m.orgUnits, key)
	return nil
}

func (m *MemoryStore) SearchOrgUnits(_ context.Context, kind hierarchy.Kind) ([]OrgUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrgUnit
	for _, ou := range m.orgUnits {
		if ou.Kind == kind {
			out = append(out, ou)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Hierarchy edges.

func (m *MemoryStore) Edges(_ context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hierarchy.Edge, len(m.edges[kind]))
	copy(out, m.edges[kind])
	return out, nil
}

func (m *MemoryStore) AddEdge(_ context.Context, kind hierarchy.Kind, parent, child string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	graph := hierarchy.New(m.edges[kind])
	if err := graph.AddEdge(parent, child); err != nil {
		return err
	}
	m.edges[kind] = append(m.edges[kind], hierarchy.Edge{Parent: parent, Child: child})
	return nil
}

func (m *MemoryStore) RemoveEdge(_ context.Context, kind hierarchy.Kind, parent, child string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.edges[kind] {
		if e.Parent == parent && e.Child == child {
			m.edges[kind] = append(m.edges[kind][:i], m.edges[kind][i+1:]...)
			return nil
		}
	}
	return shared.Errorf(shared.CodeHierEdgeNotFound, shared.KindNotFound, "edge %q->%q does not exist", parent, child)
}

// Assignments.

func (m *MemoryStore) Assign(_ context.Context, a Assignment, check func(assigned []Assignment) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var assigned []Assignment
	for _, cur := range m.assignments {
		if cur.User == a.User {
			if cur.Role == a.Role && cur.Admin == a.Admin {
				return shared.Errorf(shared.CodeStoreConflict, shared.KindAlreadyExists,
					"user %q already holds role %q", a.User, a.Role)
			}
			assigned = append(assigned, cur)
		}
	}
	if check != nil {
		if err := check(assigned); err != nil {
			return err
		}
	}
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *MemoryStore) Deassign(_ context.Context, user, role string, admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.assignments {
		if a.User == user && a.Role == role && a.Admin == admin {
			m.assignments = append(m.assignments[:i], m.assignments[i+1:]...)
			return nil
		}
	}
	return shared.Errorf(shared.CodeRoleNotAssigned, shared.KindNotFound,
		"user %q does not hold role %q", user, role)
}

func (m *MemoryStore) AssignedRoles(_ context.Context, user string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.User == user {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) AssignedUsers(_ context.Context, role string, admin bool) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.Role == role && a.Admin == admin {
			out = append(out, a)
		}
	}
	return out, nil
}

// Separation-of-duty sets.

func (m *MemoryStore) GetSDSet(_ context.Context, name string) (*SDSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sdSets[name]
	if !ok {
		return nil, shared.Errorf(shared.CodeSDSetNotFound, shared.KindNotFound, "sd set %q not found", name)
	}
	return &s, nil
}

func (m *MemoryStore) CreateSDSet(_ context.Context, s SDSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sdSets[s.Name]; ok {
		return shared.Errorf(shared.CodeSDSetExists, shared.KindAlreadyExists, "sd set %q already exists", s.Name)
	}
	m.sdSets[s.Name] = s
	return nil
}

func (m *MemoryStore) UpdateSDSet(_ context.Context, s SDSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sdSets[s.Name]; !ok {
		return shared.Errorf(shared.CodeSDSetNotFound, shared.KindNotFound, "sd set %q not found", s.Name)
	}
	m.sdSets[s.Name] = s
	return nil
}

func (m *MemoryStore) DeleteSDSet(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sdSets[name]; !ok {
		return shared.Errorf(shared.CodeSDSetNotFound, shared.KindNotFound, "sd set %q not found", name)
	}
	delete(m.sdSets, name)
	return nil
}

func (m *MemoryStore) SDSetsContaining(_ context.Context, kind SDKind, role string) ([]SDSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SDSet
	for _, s := range m.sdSets {
		if s.Kind == kind && s.HasMember(role) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) SearchSDSets(_ context.Context, kind SDKind) ([]SDSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SDSet
	for _, s := range m.sdSets {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Permissions.

func (m *MemoryStore) GetPermission(_ context.Context, object, objectID, operation string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Permission{Object: object, ObjectID: objectID, Operation: operation}.ID()
	p, ok := m.permissions[key]
	if !ok {
		return nil, shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %q not found", key)
	}
	return &p, nil
}

func (m *MemoryStore) CreatePermission(_ context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[p.ID()]; ok {
		return shared.Errorf(shared.CodePermExists, shared.KindAlreadyExists, "permission %q already exists", p.ID())
	}
	m.permissions[p.ID()] = p
	return nil
}

func (m *MemoryStore) UpdatePermission(_ context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[p.ID()]; !ok {
		return shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %q not found", p.ID())
	}
	m.permissions[p.ID()] = p
	return nil
}

func (m *MemoryStore) DeletePermission(_ context.Context, object, objectID, operation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Permission{Object: object, ObjectID: objectID, Operation: operation}.ID()
	if _, ok := m.permissions[key]; !ok {
		return shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %q not found", key)
	}
	delete(m.permissions, key)
	return nil
}

func (m *MemoryStore) SearchPermissions(_ context.Context, object string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.permissions {
		if object == "" || p.Object == object {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// LoadDecisionSet snapshots everything the accelerated session path needs
// under one lock acquisition.
func (m *MemoryStore) LoadDecisionSet(_ context.Context, user string) (*DecisionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return nil, shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", user)
	}
	set := &DecisionSet{
		User:  &u,
		Roles: make(map[string]Role, len(m.roles)),
	}
	for _, a := range m.assignments {
		if a.User == user {
			set.Assignments = append(set.Assignments, a)
		}
	}
	for name, r := range m.roles {
		set.Roles[name] = r
	}
	for _, s := range m.sdSets {
		if s.Kind == DSD {
			set.DSDSets = append(set.DSDSets, s)
		}
	}
	set.RoleEdges = make([]hierarchy.Edge, len(m.edges[hierarchy.KindRole]))
	copy(set.RoleEdges, m.edges[hierarchy.KindRole])
	return set, nil
}
