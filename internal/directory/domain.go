// Package directory defines the entity model and the store collaborator that
// persists it. The engine treats every read as a point-in-time snapshot; all
// serialization requirements (edge writes, count-then-commit separation-of-
// duty checks) are met inside the repository's transactions.
package directory

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/temporal"
)

// Normalize folds an entity name for caseless comparison. Names are
// identifiers, not display strings, so folding happens once at the boundary.
func Normalize(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// User is a directory account. The engine verifies credentials against
// PasswordHash but otherwise treats the credential as opaque.
type User struct {
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	PasswordHash string              `json:"-"`
	Locked       bool                `json:"locked"`
	OrgUnit      string              `json:"org_unit,omitempty"`
	Constraint   temporal.Constraint `json:"constraint,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Role is a node in the regular role hierarchy.
type Role struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Constraint  temporal.Constraint `json:"constraint,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// AdminRole is a role variant held by delegated administrators. Its range
// bounds the slice of the regular role hierarchy the holder may administer,
// and the org-unit associations bound which user/permission org units it
// covers.
type AdminRole struct {
	Role

	BeginRange     string `json:"begin_range,omitempty"`
	EndRange       string `json:"end_range,omitempty"`
	BeginInclusive bool   `json:"begin_inclusive"`
	EndInclusive   bool   `json:"end_inclusive"`

	UserOUs []string `json:"user_ous,omitempty"`
	PermOUs []string `json:"perm_ous,omitempty"`
}

// OrgUnit is a node in one of the two independent org-unit hierarchies.
type OrgUnit struct {
	Name        string         `json:"name"`
	Kind        hierarchy.Kind `json:"kind"` // KindUserOU or KindPermOU
	Description string         `json:"description,omitempty"`
}

// Assignment links a user to a role (or admin role). It carries its own
// constraint, defaulting to the role's constraint where silent.
type Assignment struct {
	User       string              `json:"user"`
	Role       string              `json:"role"`
	Admin      bool                `json:"admin"`
	Constraint temporal.Constraint `json:"constraint,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Permission is an (object, objectID, operation) triple with explicit grant
// sets of role names and user names.
type Permission struct {
	Object    string   `json:"object"`
	ObjectID  string   `json:"object_id,omitempty"`
	Operation string   `json:"operation"`
	Admin     bool     `json:"admin"`
	Roles     []string `json:"roles,omitempty"`
	Users     []string `json:"users,omitempty"`
}

// ID renders the canonical permission identifier used in audit records and
// redis keys.
func (p Permission) ID() string {
	if p.ObjectID != "" {
		return p.Object + "/" + p.ObjectID + ":" + p.Operation
	}
	return p.Object + ":" + p.Operation
}

// GrantsRole reports whether the permission grants the given role directly.
func (p Permission) GrantsRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GrantsUser reports whether the permission grants the user directly.
func (p Permission) GrantsUser(user string) bool {
	for _, u := range p.Users {
		if u == user {
			return true
		}
	}
	return false
}

// SDKind distinguishes static from dynamic separation-of-duty sets.
type SDKind string

const (
	SSD SDKind = "ssd"
	DSD SDKind = "dsd"
)

// SDSet is a named set of roles with a cardinality bound: at most n-1 member
// roles may be simultaneously assigned (SSD) or active (DSD).
type SDSet struct {
	Name        string   `json:"name"`
	Kind        SDKind   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
	Cardinality int      `json:"cardinality"`
}

// HasMember reports whether role is a direct member of the set. Membership is
// flat: hierarchy-inherited roles never count.
func (s SDSet) HasMember(role string) bool {
	for _, m := range s.Members {
		if m == role {
			return true
		}
	}
	return false
}
