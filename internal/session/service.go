package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
	"github.com/sentra-iam/sentra/internal/temporal"
)

// StorePort is the slice of the directory store the state machine reads. It
// never writes: sessions live in the session cache, not the directory.
type StorePort interface {
	GetUser(ctx context.Context, name string) (*directory.User, error)
	AssignedRoles(ctx context.Context, user string) ([]directory.Assignment, error)
	GetRole(ctx context.Context, name string) (*directory.Role, error)
	Edges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error)
	GetPermission(ctx context.Context, object, objectID, operation string) (*directory.Permission, error)
	LoadDecisionSet(ctx context.Context, user string) (*directory.DecisionSet, error)
}

// CachePort persists live sessions between calls.
type CachePort interface {
	Save(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, sess *Session) error
}

// PermRef names a permission for an access check.
type PermRef struct {
	Object    string `json:"object"`
	ObjectID  string `json:"object_id,omitempty"`
	Operation string `json:"operation"`
}

// CreateRequest carries the inputs of session creation.
type CreateRequest struct {
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	// Roles restricts activation to the named roles, in order. Nil means
	// every assigned regular role.
	Roles []string `json:"roles,omitempty"`
	// Trusted skips credential verification; the caller has already
	// authenticated the user by other means.
	Trusted bool `json:"trusted,omitempty"`
}

// Service is the session and role-activation state machine.
type Service struct {
	logger  *slog.Logger
	store   StorePort
	cache   CachePort
	sod     *sod.Validator
	audit   *shared.AuditRecorder
	metrics *observability.Metrics

	now func() time.Time
}

// NewService builds the state machine. Audit and metrics may be nil.
func NewService(logger *slog.Logger, store StorePort, cache CachePort, validator *sod.Validator, audit *shared.AuditRecorder, metrics *observability.Metrics) *Service {
	return &Service{
		logger:  logger,
		store:   store,
		cache:   cache,
		sod:     validator,
		audit:   audit,
		metrics: metrics,
		now:     time.Now,
	}
}

// Create authenticates the user (unless trusted), evaluates the user
// constraint and activates the requested roles in order. Roles failing DSD
// or temporal checks are recorded as warnings and omitted; requesting a role
// the user does not hold is a hard error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.User == "" {
		return nil, shared.NewError(shared.CodeNullInput, shared.KindValidation, "user name required")
	}
	user, err := s.store.GetUser(ctx, directory.Normalize(req.User))
	if err != nil {
		return nil, err
	}
	if err := s.authenticate(ctx, user, req); err != nil {
		return nil, err
	}
	assignments, err := s.store.AssignedRoles(ctx, user.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:             uuid.NewString(),
		User:           user.Name,
		Trusted:        req.Trusted,
		UserConstraint: user.Constraint,
		CreatedAt:      now,
		LastAccess:     now,
	}
	regular := make(map[string]directory.Assignment, len(assignments))
	for _, a := range assignments {
		if a.Admin {
			sess.AdminRoles = append(sess.AdminRoles, a.Role)
			continue
		}
		regular[a.Role] = a
	}

	candidates, err := requestedAssignments(regular, assignments, req.Roles)
	if err != nil {
		return nil, err
	}
	for _, a := range candidates {
		if err := s.activate(ctx, sess, a); err != nil {
			if shared.KindOf(err) == shared.KindStore {
				return nil, err
			}
			sess.warn(a.Role, shared.CodeOf(err), err.Error())
			s.metrics.ObserveActivation(false)
			continue
		}
		s.metrics.ObserveActivation(true)
	}

	if err := s.cache.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.metrics.ObserveSessionCreated()
	s.audit.Record(ctx, shared.AuditEvent{
		ContextID: shared.ContextIDFromContext(ctx),
		Actor:     user.Name,
		Action:    shared.AuditAuthn,
		Entity:    "session",
		EntityID:  sess.ID,
		Success:   true,
		Meta:      map[string]any{"trusted": req.Trusted, "active_roles": sess.ActiveRoleNames()},
	})
	return sess, nil
}

// Load fetches a live session and applies the lazy inactivity timeout: an
// expired session is deleted at the moment its expiry is observed, never by
// a background sweep.
func (s *Service) Load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := temporal.EvaluateSession(sess.UserConstraint, s.now(), sess.LastAccess); err != nil {
		if shared.HasCode(err, shared.CodeTemporalTimeout) {
			_ = s.cache.Delete(ctx, sess)
			return nil, shared.Errorf(shared.CodeSessionExpired, shared.KindSessionState, "session %q timed out", id)
		}
		return nil, err
	}
	return sess, nil
}

// AddActiveRole activates one role in the session after the full activation
// procedure: assignment check, duplicate check, temporal evaluation, DSD
// validation.
func (s *Service) AddActiveRole(ctx context.Context, sess *Session, role string) error {
	role = directory.Normalize(role)
	assignments, err := s.store.AssignedRoles(ctx, sess.User)
	if err != nil {
		return err
	}
	var assignment *directory.Assignment
	for i := range assignments {
		if !assignments[i].Admin && assignments[i].Role == role {
			assignment = &assignments[i]
			break
		}
	}
	if assignment == nil {
		s.metrics.ObserveActivation(false)
		return shared.Errorf(shared.CodeRoleNotAssigned, shared.KindSessionState, "role %q is not assigned to user %q", role, sess.User)
	}
	if sess.IsActive(role) {
		s.metrics.ObserveActivation(false)
		return shared.Errorf(shared.CodeRoleAlreadyActive, shared.KindSessionState, "role %q is already active", role)
	}
	if err := s.activate(ctx, sess, *assignment); err != nil {
		s.metrics.ObserveActivation(false)
		return err
	}
	if err := s.cache.Save(ctx, sess); err != nil {
		return err
	}
	s.metrics.ObserveActivation(true)
	s.audit.Record(ctx, shared.AuditEvent{
		ContextID: shared.ContextIDFromContext(ctx),
		Actor:     sess.User,
		Action:    shared.AuditActivate,
		Entity:    "role",
		EntityID:  role,
		Success:   true,
	})
	return nil
}

// DropActiveRole removes a role from the active set. Dropping an inactive
// role fails with URLE_NOT_ACTIVE and leaves the session unchanged; callers
// probe state this way on purpose, so the failure is an ordinary return.
func (s *Service) DropActiveRole(ctx context.Context, sess *Session, role string) error {
	role = directory.Normalize(role)
	if !sess.deactivate(role) {
		return shared.Errorf(shared.CodeRoleNotActive, shared.KindSessionState, "role %q is not active in this session", role)
	}
	if err := s.cache.Save(ctx, sess); err != nil {
		return err
	}
	s.audit.Record(ctx, shared.AuditEvent{
		ContextID: shared.ContextIDFromContext(ctx),
		Actor:     sess.User,
		Action:    shared.AuditDeactivate,
		Entity:    "role",
		EntityID:  role,
		Success:   true,
	})
	return nil
}

// CheckAccess decides whether the session may perform the operation. The
// authorized role set is the union of the active roles with their
// ascendants. The last-access timestamp is refreshed whether or not access
// is granted: a denied check is still an access.
func (s *Service) CheckAccess(ctx context.Context, sess *Session, ref PermRef) (bool, error) {
	sess.LastAccess = s.now()
	if err := s.cache.Save(ctx, sess); err != nil {
		return false, err
	}
	perm, err := s.store.GetPermission(ctx, ref.Object, ref.ObjectID, ref.Operation)
	if err != nil {
		return false, err
	}
	authorized, err := s.AuthorizedRoles(ctx, sess)
	if err != nil {
		return false, err
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
	s.audit.Record(ctx, shared.AuditEvent{
		ContextID: shared.ContextIDFromContext(ctx),
		Actor:     sess.User,
		Action:    shared.AuditAccessCheck,
		Entity:    "permission",
		EntityID:  perm.ID(),
		Success:   granted,
	})
	return granted, nil
}

// AuthorizedRoles expands the session's active roles through the role
// hierarchy: each active role contributes itself and all of its ascendants.
// Each role's temporal constraint is re-evaluated at call time; a role whose
// window has closed since activation contributes nothing until it reopens.
func (s *Service) AuthorizedRoles(ctx context.Context, sess *Session) (map[string]struct{}, error) {
	edges, err := s.store.Edges(ctx, hierarchy.KindRole)
	if err != nil {
		return nil, err
	}
	graph := hierarchy.New(edges)
	now := s.now()
	authorized := make(map[string]struct{})
	for _, active := range sess.ActiveRoles {
		if temporal.Evaluate(active.Constraint, now) != nil {
			continue
		}
		for role := range graph.Closure(active.Name) {
			authorized[role] = struct{}{}
		}
	}
	return authorized, nil
}

// Delete terminates the session. Idempotent: deleting a dead session is a
// no-op.
func (s *Service) Delete(ctx context.Context, sess *Session) error {
	sess.ActiveRoles = nil
	return s.cache.Delete(ctx, sess)
}

func (s *Service) authenticate(ctx context.Context, user *directory.User, req CreateRequest) error {
	if !req.Trusted {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			s.audit.Record(ctx, shared.AuditEvent{
				ContextID: shared.ContextIDFromContext(ctx),
				Actor:     user.Name,
				Action:    shared.AuditAuthn,
				Entity:    "session",
				Success:   false,
				Code:      shared.CodeUserPwInvalid,
			})
			return shared.Errorf(shared.CodeUserPwInvalid, shared.KindValidation, "invalid credentials for user %q", user.Name)
		}
	}
	if user.Locked {
		return shared.Errorf(shared.CodeUserLocked, shared.KindConstraint, "user %q is locked", user.Name)
	}
	if err := temporal.Evaluate(user.Constraint, s.now()); err != nil {
		return &shared.Error{
			Code: shared.CodeUserPlcyViolation,
			Kind: shared.KindConstraint,
			Msg:  "user constraint violated",
			Err:  err,
		}
	}
	return nil
}

// activate runs the per-role activation procedure against the live store.
func (s *Service) activate(ctx context.Context, sess *Session, a directory.Assignment) error {
	role, err := s.store.GetRole(ctx, a.Role)
	if err != nil {
		return err
	}
	constraint := a.Constraint.Merge(role.Constraint)
	if err := temporal.Evaluate(constraint, s.now()); err != nil {
		return &shared.Error{
			Code: shared.CodeRoleActivateFailed,
			Kind: shared.KindConstraint,
			Msg:  "role " + role.Name + " failed temporal validation",
			Err:  err,
		}
	}
	if err := s.sod.CheckDSDActivate(ctx, role.Name, sess.ActiveRoleNames()); err != nil {
		return err
	}
	sess.activate(role.Name, constraint, s.now())
	return nil
}

// requestedAssignments resolves the requested role list (or all regular
// assignments when nil) preserving request order. Requesting a role the
// user does not hold is a hard error, unlike per-role activation failures.
func requestedAssignments(regular map[string]directory.Assignment, all []directory.Assignment, requested []string) ([]directory.Assignment, error) {
	if requested == nil {
		out := make([]directory.Assignment, 0, len(regular))
		for _, a := range all {
			if !a.Admin {
				out = append(out, a)
			}
		}
		return out, nil
	}
	out := make([]directory.Assignment, 0, len(requested))
	for _, name := range requested {
		name = directory.Normalize(name)
		a, ok := regular[name]
		if !ok {
			return nil, shared.Errorf(shared.CodeRoleNotAssigned, shared.KindSessionState, "requested role %q is not assigned", name)
		}
		out = append(out, a)
	}
	return out, nil
}
