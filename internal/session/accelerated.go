package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
	"github.com/sentra-iam/sentra/internal/temporal"
)

// The accelerated path collapses create, check and delete into one call
// backed by a single directory snapshot. The session it builds is ephemeral:
// it never touches the cache, so high-frequency callers pay one store round
// trip per decision instead of three plus cache writes.

// Decision is the outcome of one access check in a batch.
type Decision struct {
	Ref     PermRef `json:"ref"`
	Granted bool    `json:"granted"`
}

// CreateEphemeral builds a session from one directory snapshot without
// persisting it. Semantics match Create exactly: same authentication, same
// per-role warnings, same hard error for a requested-but-unassigned role.
func (s *Service) CreateEphemeral(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.User == "" {
		return nil, shared.NewError(shared.CodeNullInput, shared.KindValidation, "user name required")
	}
	set, err := s.store.LoadDecisionSet(ctx, directory.Normalize(req.User))
	if err != nil {
		return nil, err
	}
	return s.sessionFromSnapshot(ctx, set, req)
}

// CreateAndCheckAccess is the batched decision call: authenticate, activate,
// evaluate every permission reference against the snapshot's role graph and
// discard the session. The returned session carries the warnings accumulated
// during activation.
func (s *Service) CreateAndCheckAccess(ctx context.Context, req CreateRequest, refs []PermRef) (*Session, []Decision, error) {
	if req.User == "" {
		return nil, nil, shared.NewError(shared.CodeNullInput, shared.KindValidation, "user name required")
	}
	set, err := s.store.LoadDecisionSet(ctx, directory.Normalize(req.User))
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.sessionFromSnapshot(ctx, set, req)
	if err != nil {
		return nil, nil, err
	}

	graph := hierarchy.New(set.RoleEdges)
	authorized := make(map[string]struct{})
	for _, active := range sess.ActiveRoles {
		for role := range graph.Closure(active.Name) {
			authorized[role] = struct{}{}
		}
	}

	decisions := make([]Decision, 0, len(refs))
	for _, ref := range refs {
		perm, err := s.store.GetPermission(ctx, ref.Object, ref.ObjectID, ref.Operation)
		if err != nil {
			return nil, nil, err
		}
		granted := perm.GrantsUser(sess.User)
		if !granted {
			for _, role := range perm.Roles {
				if _, ok := authorized[role]; ok {
					granted = true
					break
				}
			}
		}
		s.metrics.ObserveAccessCheck(granted)
		decisions = append(decisions, Decision{Ref: ref, Granted: granted})
	}
	s.audit.Record(ctx, shared.AuditEvent{
		ContextID: shared.ContextIDFromContext(ctx),
		Actor:     sess.User,
		Action:    shared.AuditAccessCheck,
		Entity:    "permission",
		Success:   true,
		Meta:      map[string]any{"batch": len(refs)},
	})
	return sess, decisions, nil
}

// sessionFromSnapshot runs the creation state machine against a decision
// set instead of the live store.
func (s *Service) sessionFromSnapshot(ctx context.Context, set *directory.DecisionSet, req CreateRequest) (*Session, error) {
	if err := s.authenticate(ctx, set.User, req); err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		ID:             uuid.NewString(),
		User:           set.User.Name,
		Trusted:        req.Trusted,
		UserConstraint: set.User.Constraint,
		CreatedAt:      now,
		LastAccess:     now,
	}
	regular := make(map[string]directory.Assignment, len(set.Assignments))
	for _, a := range set.Assignments {
		if a.Admin {
			sess.AdminRoles = append(sess.AdminRoles, a.Role)
			continue
		}
		regular[a.Role] = a
	}
	candidates, err := requestedAssignments(regular, set.Assignments, req.Roles)
	if err != nil {
		return nil, err
	}
	for _, a := range candidates {
		if err := activateFromSnapshot(sess, set, a, now); err != nil {
			sess.warn(a.Role, shared.CodeOf(err), err.Error())
			s.metrics.ObserveActivation(false)
			continue
		}
		s.metrics.ObserveActivation(true)
	}
	s.metrics.ObserveSessionCreated()
	return sess, nil
}

func activateFromSnapshot(sess *Session, set *directory.DecisionSet, a directory.Assignment, now time.Time) error {
	role, ok := set.Roles[a.Role]
	if !ok {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", a.Role)
	}
	constraint := a.Constraint.Merge(role.Constraint)
	if err := temporal.Evaluate(constraint, now); err != nil {
		return &shared.Error{
			Code: shared.CodeRoleActivateFailed,
			Kind: shared.KindConstraint,
			Msg:  "role " + role.Name + " failed temporal validation",
			Err:  err,
		}
	}
	if err := sod.CheckDSD(set.DSDSets, sess.ActiveRoleNames(), role.Name); err != nil {
		return err
	}
	sess.activate(role.Name, constraint, now)
	return nil
}
