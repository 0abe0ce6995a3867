package directory

import (
	"context"

	"github.com/sentra-iam/sentra/internal/hierarchy"
)

// Store is the contract the engine requires from the persistence
// collaborator. Reads are point-in-time snapshots. Mutations that must be
// serialized (hierarchy edge writes, assign-with-cardinality-check) take a
// check callback that the store runs inside its serialization point, so a
// concurrent writer can never slip between "count members" and "commit".
type Store interface {
	// Users.
	GetUser(ctx context.Context, name string) (*User, error)
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, name string) error
	SearchUsers(ctx context.Context, prefix string) ([]User, error)

	// Roles.
	GetRole(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, r Role) error
	UpdateRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, name string) error
	SearchRoles(ctx context.Context, prefix string) ([]Role, error)

	// Admin roles.
	GetAdminRole(ctx context.Context, name string) (*AdminRole, error)
	CreateAdminRole(ctx context.Context, r AdminRole) error
	UpdateAdminRole(ctx context.Context, r AdminRole) error
	DeleteAdminRole(ctx context.Context, name string) error

	// Org units.
	GetOrgUnit(ctx context.Context, kind hierarchy.Kind, name string) (*OrgUnit, error)
	CreateOrgUnit(ctx context.Context, ou OrgUnit) error
	DeleteOrgUnit(ctx context.Context, kind hierarchy.Kind, name string) error
	SearchOrgUnits(ctx context.Context, kind hierarchy.Kind) ([]OrgUnit, error)

	// Hierarchy edges. AddEdge re-runs the cycle check against the edge set
	// inside one transaction; the unique constraint rejects duplicates.
	Edges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error)
	AddEdge(ctx context.Context, kind hierarchy.Kind, parent, child string) error
	RemoveEdge(ctx context.Context, kind hierarchy.Kind, parent, child string) error

	// Assignments. Assign runs check against the user's committed
	// assignments inside the same transaction as the insert.
	Assign(ctx context.Context, a Assignment, check func(assigned []Assignment) error) error
	Deassign(ctx context.Context, user, role string, admin bool) error
	AssignedRoles(ctx context.Context, user string) ([]Assignment, error)
	AssignedUsers(ctx context.Context, role string, admin bool) ([]Assignment, error)

	// Separation-of-duty sets.
	GetSDSet(ctx context.Context, name string) (*SDSet, error)
	CreateSDSet(ctx context.Context, s SDSet) error
	UpdateSDSet(ctx context.Context, s SDSet) error
	DeleteSDSet(ctx context.Context, name string) error
	SDSetsContaining(ctx context.Context, kind SDKind, role string) ([]SDSet, error)
	SearchSDSets(ctx context.Context, kind SDKind) ([]SDSet, error)

	// Permissions.
	GetPermission(ctx context.Context, object, objectID, operation string) (*Permission, error)
	CreatePermission(ctx context.Context, p Permission) error
	UpdatePermission(ctx context.Context, p Permission) error
	DeletePermission(ctx context.Context, object, objectID, operation string) error
	SearchPermissions(ctx context.Context, object string) ([]Permission, error)

	// LoadDecisionSet is the accelerated batch read: everything a session
	// create-and-check needs, fetched in one store round trip.
	LoadDecisionSet(ctx context.Context, user string) (*DecisionSet, error)
}

// DecisionSet is the snapshot the accelerated session path operates on. All
// of it comes from a single repeatable-read transaction, so the state
// machine sees one consistent view of the directory.
type DecisionSet struct {
	User        *User
	Assignments []Assignment
	Roles       map[string]Role
	DSDSets     []SDSet
	RoleEdges   []hierarchy.Edge
}
