// Package session implements the role-activation state machine: session
// creation, activation/deactivation, access checks and the accelerated
// batched variant. A session is ephemeral, owned by exactly one user, and
// mutated only by the call context that owns it.
package session

import (
	"time"

	"github.com/sentra-iam/sentra/internal/temporal"
)

// ActiveRole is one activated role with its effective constraint (the
// assignment's constraint merged over the role's).
type ActiveRole struct {
	Name        string              `json:"name"`
	Constraint  temporal.Constraint `json:"constraint,omitempty"`
	ActivatedAt time.Time           `json:"activated_at"`
}

// Warning records a role that was silently omitted during session creation
// together with the reason. Creation is not aborted by per-role DSD or
// temporal failures; callers inspect warnings when they care.
type Warning struct {
	Role string `json:"role"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Session is the runtime context holding a user's activated roles between
// authentication and termination. It is never persisted to the directory
// store; it lives in the session cache until deleted or expired.
type Session struct {
	ID             string              `json:"id"`
	User           string              `json:"user"`
	Trusted        bool                `json:"trusted"`
	ActiveRoles    []ActiveRole        `json:"active_roles,omitempty"`
	AdminRoles     []string            `json:"admin_roles,omitempty"`
	Warnings       []Warning           `json:"warnings,omitempty"`
	UserConstraint temporal.Constraint `json:"user_constraint,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	LastAccess     time.Time           `json:"last_access"`
}

// IsActive reports whether the role is in the session's active set.
func (s *Session) IsActive(role string) bool {
	for _, r := range s.ActiveRoles {
		if r.Name == role {
			return true
		}
	}
	return false
}

// ActiveRoleNames returns the names of the active roles in activation
// order.
func (s *Session) ActiveRoleNames() []string {
	out := make([]string, len(s.ActiveRoles))
	for i, r := range s.ActiveRoles {
		out[i] = r.Name
	}
	return out
}

// activate appends a role to the active set.
func (s *Session) activate(role string, c temporal.Constraint, at time.Time) {
	s.ActiveRoles = append(s.ActiveRoles, ActiveRole{Name: role, Constraint: c, ActivatedAt: at})
}

// deactivate removes a role from the active set, reporting whether it was
// present.
func (s *Session) deactivate(role string) bool {
	for i, r := range s.ActiveRoles {
		if r.Name == role {
			s.ActiveRoles = append(s.ActiveRoles[:i], s.ActiveRoles[i+1:]...)
			return true
		}
	}
	return false
}

// warn records an omitted role.
func (s *Session) warn(role string, code int, msg string) {
	s.Warnings = append(s.Warnings, Warning{Role: role, Code: code, Msg: msg})
}
