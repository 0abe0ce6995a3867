// Package admin implements the administrative manager: every mutation of the
// directory model. Each operation validates its input, re-checks invariants
// inside the store's serialization point where needed, and emits an audit
// event on success. The delegated variant in delegated.go wraps these
// operations with ARBAC range and org-unit authorization.
package admin

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
	"github.com/sentra-iam/sentra/internal/temporal"
)

// defaultNamePattern bounds the characters accepted in entity names. The
// pattern applies after normalization, so only lowercase folded names reach
// it.
var defaultNamePattern = regexp.MustCompile(`^[\pL\pN][\pL\pN ._@#-]*$`)

// Service handles directory administration.
type Service struct {
	logger      *slog.Logger
	store       directory.Store
	sod         *sod.Validator
	audit       *shared.AuditRecorder
	validate    *validator.Validate
	namePattern *regexp.Regexp
	bcryptCost  int
}

// NewService builds the administrative manager. Audit may be nil.
func NewService(logger *slog.Logger, store directory.Store, sodValidator *sod.Validator, audit *shared.AuditRecorder, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		logger:      logger,
		store:       store,
		sod:         sodValidator,
		audit:       audit,
		validate:    validator.New(),
		namePattern: defaultNamePattern,
		bcryptCost:  bcryptCost,
	}
}

// SetNamePattern replaces the accepted entity-name pattern. Existing entities
// are never re-validated.
func (s *Service) SetNamePattern(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return shared.Errorf(shared.CodeInvalidData, shared.KindValidation, "invalid name pattern %q: %v", expr, err)
	}
	s.namePattern = re
	return nil
}

func (s *Service) checkInput(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return &shared.Error{Code: shared.CodeInvalidData, Kind: shared.KindValidation, Msg: "invalid input", Err: err}
	}
	return nil
}

// checkName guards entity creation. Updates skip it: they address entities by
// a name that already passed.
func (s *Service) checkName(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if !s.namePattern.MatchString(name) {
			return shared.Errorf(shared.CodeInvalidName, shared.KindValidation, "name %q contains forbidden characters", name)
		}
	}
	return nil
}

func (s *Service) recordMutation(ctx context.Context, entity, id string, meta map[string]any) {
	s.audit.Record(ctx, shared.AuditEvent{
		ContextID: shared.ContextIDFromContext(ctx),
		Actor:     actorFromContext(ctx),
		Action:    shared.AuditAdminMutate,
		Entity:    entity,
		EntityID:  id,
		Success:   true,
		Meta:      meta,
	})
}

// ============================================================================
// USER OPERATIONS
// ============================================================================

// UserRequest carries the mutable attributes of a user.
type UserRequest struct {
	Name        string              `json:"name" validate:"required,max=128"`
	Password    string              `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
	Description string              `json:"description,omitempty" validate:"max=256"`
	OrgUnit     string              `json:"org_unit,omitempty" validate:"max=128"`
	Constraint  temporal.Constraint `json:"constraint,omitempty"`
}

// CreateUser adds a directory account. The org unit, when set, must already
// exist in the user org-unit hierarchy.
func (s *Service) CreateUser(ctx context.Context, req UserRequest) (*directory.User, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	u := directory.User{
		Name:        directory.Normalize(req.Name),
		Description: req.Description,
		OrgUnit:     directory.Normalize(req.OrgUnit),
		Constraint:  req.Constraint,
	}
	if err := s.checkName(u.Name); err != nil {
		return nil, err
	}
	if u.OrgUnit != "" {
		if _, err := s.store.GetOrgUnit(ctx, hierarchy.KindUserOU, u.OrgUnit); err != nil {
			return nil, err
		}
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			return nil, shared.WrapStore(err, "hash password")
		}
		u.PasswordHash = string(hash)
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "user", u.Name, nil)
	return &u, nil
}

// UpdateUser replaces the user's mutable attributes. The password is only
// touched when the request carries one.
func (s *Service) UpdateUser(ctx context.Context, req UserRequest) (*directory.User, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, directory.Normalize(req.Name))
	if err != nil {
		return nil, err
	}
	u.Description = req.Description
	u.Constraint = req.Constraint
	if req.OrgUnit != "" {
		ou := directory.Normalize(req.OrgUnit)
		if _, err := s.store.GetOrgUnit(ctx, hierarchy.KindUserOU, ou); err != nil {
			return nil, err
		}
		u.OrgUnit = ou
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			return nil, shared.WrapStore(err, "hash password")
		}
		u.PasswordHash = string(hash)
	}
	if err := s.store.UpdateUser(ctx, *u); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "user", u.Name, nil)
	return u, nil
}

// DeleteUser removes the account together with its role assignments. Live
// sessions are untouched; they die by timeout or TTL.
func (s *Service) DeleteUser(ctx context.Context, name string) error {
	name = directory.Normalize(name)
	assigned, err := s.store.AssignedRoles(ctx, name)
	if err != nil {
		return err
	}
	for _, a := range assigned {
		if err := s.store.Deassign(ctx, name, a.Role, a.Admin); err != nil {
			return err
		}
	}
	if err := s.store.DeleteUser(ctx, name); err != nil {
		return err
	}
	s.recordMutation(ctx, "user", name, nil)
	return nil
}

// LockUser blocks authentication for the account without touching its
// assignments.
func (s *Service) LockUser(ctx context.Context, name string) error {
	return s.setLock(ctx, name, true)
}

// UnlockUser re-enables authentication.
func (s *Service) UnlockUser(ctx context.Context, name string) error {
	return s.setLock(ctx, name, false)
}

func (s *Service) setLock(ctx context.Context, name string, locked bool) error {
	u, err := s.store.GetUser(ctx, directory.Normalize(name))
	if err != nil {
		return err
	}
	u.Locked = locked
	if err := s.store.UpdateUser(ctx, *u); err != nil {
		return err
	}
	s.recordMutation(ctx, "user", u.Name, map[string]any{"locked": locked})
	return nil
}

// ============================================================================
// ROLE OPERATIONS
// ============================================================================

// RoleRequest carries the mutable attributes of a role.
type RoleRequest struct {
	Name        string              `json:"name" validate:"required,max=128"`
	Description string              `json:"description,omitempty" validate:"max=256"`
	Constraint  temporal.Constraint `json:"constraint,omitempty"`
}

// CreateRole adds a role to the regular hierarchy.
func (s *Service) CreateRole(ctx context.Context, req RoleRequest) (*directory.Role, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	r := directory.Role{
		Name:        directory.Normalize(req.Name),
		Description: req.Description,
		Constraint:  req.Constraint,
	}
	if err := s.checkName(r.Name); err != nil {
		return nil, err
	}
	if err := s.store.CreateRole(ctx, r); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "role", r.Name, nil)
	return &r, nil
}

// UpdateRole replaces the role's description and constraint. Running
// sessions keep the constraint they activated with.
func (s *Service) UpdateRole(ctx context.Context, req RoleRequest) (*directory.Role, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	r, err := s.store.GetRole(ctx, directory.Normalize(req.Name))
	if err != nil {
		return nil, err
	}
	r.Description = req.Description
	r.Constraint = req.Constraint
	if err := s.store.UpdateRole(ctx, *r); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "role", r.Name, nil)
	return r, nil
}

// DeleteRole removes a role. It refuses while the role still participates in
// inheritance edges or user assignments; the hierarchy never cascades.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	name = directory.Normalize(name)
	if _, err := s.store.GetRole(ctx, name); err != nil {
		return err
	}
	edges, err := s.store.Edges(ctx, hierarchy.KindRole)
	if err != nil {
		return err
	}
	if hierarchy.New(edges).HasEdges(name) {
		return shared.Errorf(shared.CodeRoleInUse, shared.KindConstraint,
			"role %q still has inheritance edges", name)
	}
	assigned, err := s.store.AssignedUsers(ctx, name, false)
	if err != nil {
		return err
	}
	if len(assigned) > 0 {
		return shared.Errorf(shared.CodeRoleInUse, shared.KindConstraint,
			"role %q is still assigned to %d user(s)", name, len(assigned))
	}
	if err := s.store.DeleteRole(ctx, name); err != nil {
		return err
	}
	s.recordMutation(ctx, "role", name, nil)
	return nil
}

// AddInheritance inserts a parent→child edge into the regular role
// hierarchy. The cycle check re-runs against the committed edge set inside
// the store's serialization point.
func (s *Service) AddInheritance(ctx context.Context, parent, child string) error {
	return s.addEdge(ctx, hierarchy.KindRole, parent, child, s.roleExists)
}

// DeleteInheritance removes a direct parent→child edge. Paths running
// through other edges are unaffected.
func (s *Service) DeleteInheritance(ctx context.Context, parent, child string) error {
	return s.removeEdge(ctx, hierarchy.KindRole, parent, child)
}

func (s *Service) roleExists(ctx context.Context, name string) error {
	_, err := s.store.GetRole(ctx, name)
	return err
}

func (s *Service) addEdge(ctx context.Context, kind hierarchy.Kind, parent, child string, exists func(context.Context, string) error) error {
	parent = directory.Normalize(parent)
	child = directory.Normalize(child)
	if parent == "" || child == "" {
		return shared.NewError(shared.CodeNullInput, shared.KindValidation, "inheritance requires parent and child")
	}
	if err := exists(ctx, parent); err != nil {
		return err
	}
	if err := exists(ctx, child); err != nil {
		return err
	}
	if err := s.store.AddEdge(ctx, kind, parent, child); err != nil {
		return err
	}
	s.recordMutation(ctx, "inheritance", string(kind)+":"+parent+">"+child, nil)
	return nil
}

func (s *Service) removeEdge(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	parent = directory.Normalize(parent)
	child = directory.Normalize(child)
	if err := s.store.RemoveEdge(ctx, kind, parent, child); err != nil {
		return err
	}
	s.recordMutation(ctx, "inheritance", string(kind)+":"+parent+">"+child, map[string]any{"removed": true})
	return nil
}

// ============================================================================
// ASSIGNMENT OPERATIONS
// ============================================================================

// AssignRequest links a user to a role.
type AssignRequest struct {
	User       string              `json:"user" validate:"required,max=128"`
	Role       string              `json:"role" validate:"required,max=128"`
	Admin      bool                `json:"admin"`
	Constraint temporal.Constraint `json:"constraint,omitempty"`
}

// AssignUser grants the role to the user. For regular roles the SSD check
// runs inside the store's assign transaction against the committed
// assignment list, so two racing assignments cannot both slip under a
// cardinality bound.
func (s *Service) AssignUser(ctx context.Context, req AssignRequest) error {
	if err := s.checkInput(req); err != nil {
		return err
	}
	a := directory.Assignment{
		User:       directory.Normalize(req.User),
		Role:       directory.Normalize(req.Role),
		Admin:      req.Admin,
		Constraint: req.Constraint,
	}
	if _, err := s.store.GetUser(ctx, a.User); err != nil {
		return err
	}
	if a.Admin {
		if _, err := s.store.GetAdminRole(ctx, a.Role); err != nil {
			return err
		}
	} else if _, err := s.store.GetRole(ctx, a.Role); err != nil {
		return err
	}
	check := func(assigned []directory.Assignment) error {
		if a.Admin {
			return nil
		}
		return s.sod.CheckSSDAssign(ctx, a.Role, assigned)
	}
	if err := s.store.Assign(ctx, a, check); err != nil {
		return err
	}
	s.recordMutation(ctx, "assignment", a.User+">"+a.Role, map[string]any{"admin": a.Admin})
	return nil
}

// DeassignUser revokes the role from the user. Sessions holding the role
// active keep it until they end; deassignment is not retroactive.
func (s *Service) DeassignUser(ctx context.Context, user, role string, admin bool) error {
	user = directory.Normalize(user)
	role = directory.Normalize(role)
	if err := s.store.Deassign(ctx, user, role, admin); err != nil {
		return err
	}
	s.recordMutation(ctx, "assignment", user+">"+role, map[string]any{"admin": admin, "removed": true})
	return nil
}

// ============================================================================
// ADMIN ROLE OPERATIONS
// ============================================================================

// AdminRoleRequest carries the mutable attributes of an administrative role.
type AdminRoleRequest struct {
	RoleRequest

	BeginRange     string   `json:"begin_range,omitempty" validate:"max=128"`
	EndRange       string   `json:"end_range,omitempty" validate:"max=128"`
	BeginInclusive bool     `json:"begin_inclusive"`
	EndInclusive   bool     `json:"end_inclusive"`
	UserOUs        []string `json:"user_ous,omitempty" validate:"dive,max=128"`
	PermOUs        []string `json:"perm_ous,omitempty" validate:"dive,max=128"`
}

// CreateAdminRole adds an administrative role. Range bounds must name
// existing regular roles and org-unit associations must name existing org
// units of the matching kind; an unset bound leaves that end of the range
// open.
func (s *Service) CreateAdminRole(ctx context.Context, req AdminRoleRequest) (*directory.AdminRole, error) {
	r, err := s.buildAdminRole(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(r.Name); err != nil {
		return nil, err
	}
	if err := s.store.CreateAdminRole(ctx, *r); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "admin_role", r.Name, nil)
	return r, nil
}

// UpdateAdminRole replaces the admin role's attributes, range and org-unit
// associations.
func (s *Service) UpdateAdminRole(ctx context.Context, req AdminRoleRequest) (*directory.AdminRole, error) {
	if _, err := s.store.GetAdminRole(ctx, directory.Normalize(req.Name)); err != nil {
		return nil, err
	}
	r, err := s.buildAdminRole(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAdminRole(ctx, *r); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "admin_role", r.Name, nil)
	return r, nil
}

// DeleteAdminRole removes an administrative role, refusing while it still
// participates in admin hierarchy edges or assignments.
func (s *Service) DeleteAdminRole(ctx context.Context, name string) error {
	name = directory.Normalize(name)
	if _, err := s.store.GetAdminRole(ctx, name); err != nil {
		return err
	}
	edges, err := s.store.Edges(ctx, hierarchy.KindAdminRole)
	if err != nil {
		return err
	}
	if hierarchy.New(edges).HasEdges(name) {
		return shared.Errorf(shared.CodeRoleInUse, shared.KindConstraint,
			"admin role %q still has inheritance edges", name)
	}
	assigned, err := s.store.AssignedUsers(ctx, name, true)
	if err != nil {
		return err
	}
	if len(assigned) > 0 {
		return shared.Errorf(shared.CodeRoleInUse, shared.KindConstraint,
			"admin role %q is still assigned to %d user(s)", name, len(assigned))
	}
	if err := s.store.DeleteAdminRole(ctx, name); err != nil {
		return err
	}
	s.recordMutation(ctx, "admin_role", name, nil)
	return nil
}

// AddAdminInheritance inserts an edge into the administrative role
// hierarchy.
func (s *Service) AddAdminInheritance(ctx context.Context, parent, child string) error {
	exists := func(ctx context.Context, name string) error {
		_, err := s.store.GetAdminRole(ctx, name)
		return err
	}
	return s.addEdge(ctx, hierarchy.KindAdminRole, parent, child, exists)
}

// DeleteAdminInheritance removes a direct admin hierarchy edge.
func (s *Service) DeleteAdminInheritance(ctx context.Context, parent, child string) error {
	return s.removeEdge(ctx, hierarchy.KindAdminRole, parent, child)
}

func (s *Service) buildAdminRole(ctx context.Context, req AdminRoleRequest) (*directory.AdminRole, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	r := directory.AdminRole{
		Role: directory.Role{
			Name:        directory.Normalize(req.Name),
			Description: req.Description,
			Constraint:  req.Constraint,
		},
		BeginRange:     directory.Normalize(req.BeginRange),
		EndRange:       directory.Normalize(req.EndRange),
		BeginInclusive: req.BeginInclusive,
		EndInclusive:   req.EndInclusive,
	}
	if r.BeginRange != "" {
		if _, err := s.store.GetRole(ctx, r.BeginRange); err != nil {
			return nil, err
		}
	}
	if r.EndRange != "" {
		if _, err := s.store.GetRole(ctx, r.EndRange); err != nil {
			return nil, err
		}
	}
	if r.BeginRange != "" && r.EndRange != "" && r.BeginRange != r.EndRange {
		edges, err := s.store.Edges(ctx, hierarchy.KindRole)
		if err != nil {
			return nil, err
		}
		if !hierarchy.New(edges).IsDescendant(r.EndRange, r.BeginRange) {
			return nil, shared.Errorf(shared.CodeArbacRangeInvalid, shared.KindValidation,
				"end range %q does not descend from begin range %q", r.EndRange, r.BeginRange)
		}
	}
	for _, ou := range req.UserOUs {
		ou = directory.Normalize(ou)
		if _, err := s.store.GetOrgUnit(ctx, hierarchy.KindUserOU, ou); err != nil {
			return nil, err
		}
		r.UserOUs = append(r.UserOUs, ou)
	}
	for _, ou := range req.PermOUs {
		ou = directory.Normalize(ou)
		if _, err := s.store.GetOrgUnit(ctx, hierarchy.KindPermOU, ou); err != nil {
			return nil, err
		}
		r.PermOUs = append(r.PermOUs, ou)
	}
	return &r, nil
}

// ============================================================================
// ORG UNIT OPERATIONS
// ============================================================================

// OrgUnitRequest carries the attributes of an org unit.
type OrgUnitRequest struct {
	Name        string         `json:"name" validate:"required,max=128"`
	Kind        hierarchy.Kind `json:"kind" validate:"required,oneof=user_ou perm_ou"`
	Description string         `json:"description,omitempty" validate:"max=256"`
}

// CreateOrgUnit adds a node to one of the two org-unit hierarchies.
func (s *Service) CreateOrgUnit(ctx context.Context, req OrgUnitRequest) (*directory.OrgUnit, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	ou := directory.OrgUnit{
		Name:        directory.Normalize(req.Name),
		Kind:        req.Kind,
		Description: req.Description,
	}
	if err := s.checkName(ou.Name); err != nil {
		return nil, err
	}
	if err := s.store.CreateOrgUnit(ctx, ou); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "org_unit", string(ou.Kind)+":"+ou.Name, nil)
	return &ou, nil
}

// DeleteOrgUnit removes an org unit, refusing while it still participates in
// hierarchy edges.
func (s *Service) DeleteOrgUnit(ctx context.Context, kind hierarchy.Kind, name string) error {
	name = directory.Normalize(name)
	if _, err := s.store.GetOrgUnit(ctx, kind, name); err != nil {
		return err
	}
	edges, err := s.store.Edges(ctx, kind)
	if err != nil {
		return err
	}
	if hierarchy.New(edges).HasEdges(name) {
		return shared.Errorf(shared.CodeOrgUnitInUse, shared.KindConstraint,
			"org unit %q still has inheritance edges", name)
	}
	if err := s.store.DeleteOrgUnit(ctx, kind, name); err != nil {
		return err
	}
	s.recordMutation(ctx, "org_unit", string(kind)+":"+name, nil)
	return nil
}

// AddOrgUnitInheritance inserts an edge into the org-unit hierarchy of the
// given kind.
func (s *Service) AddOrgUnitInheritance(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	if kind != hierarchy.KindUserOU && kind != hierarchy.KindPermOU {
		return shared.Errorf(shared.CodeInvalidData, shared.KindValidation, "kind %q is not an org-unit hierarchy", kind)
	}
	exists := func(ctx context.Context, name string) error {
		_, err := s.store.GetOrgUnit(ctx, kind, name)
		return err
	}
	return s.addEdge(ctx, kind, parent, child, exists)
}

// DeleteOrgUnitInheritance removes a direct org-unit hierarchy edge.
func (s *Service) DeleteOrgUnitInheritance(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	return s.removeEdge(ctx, kind, parent, child)
}

// ============================================================================
// SEPARATION-OF-DUTY SET OPERATIONS
// ============================================================================

// SDSetRequest carries the attributes of a separation-of-duty set.
type SDSetRequest struct {
	Name        string           `json:"name" validate:"required,max=128"`
	Kind        directory.SDKind `json:"kind" validate:"required,oneof=ssd dsd"`
	Description string           `json:"description,omitempty" validate:"max=256"`
	Members     []string         `json:"members" validate:"required,min=2,dive,max=128"`
	Cardinality int              `json:"cardinality" validate:"required"`
}

// CreateSDSet adds a constraint set. Members must name existing roles and
// the cardinality bound must be at least two. Existing assignments and
// active sessions are never re-validated; the set binds future operations
// only.
func (s *Service) CreateSDSet(ctx context.Context, req SDSetRequest) (*directory.SDSet, error) {
	set, err := s.buildSDSet(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(set.Name); err != nil {
		return nil, err
	}
	if err := s.store.CreateSDSet(ctx, *set); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "sd_set", set.Name, map[string]any{"kind": set.Kind})
	return set, nil
}

// UpdateSDSet replaces the set's members and cardinality, again without
// retroactive effect.
func (s *Service) UpdateSDSet(ctx context.Context, req SDSetRequest) (*directory.SDSet, error) {
	if _, err := s.store.GetSDSet(ctx, directory.Normalize(req.Name)); err != nil {
		return nil, err
	}
	set, err := s.buildSDSet(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSDSet(ctx, *set); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "sd_set", set.Name, map[string]any{"kind": set.Kind})
	return set, nil
}

// DeleteSDSet removes a constraint set.
func (s *Service) DeleteSDSet(ctx context.Context, name string) error {
	name = directory.Normalize(name)
	if err := s.store.DeleteSDSet(ctx, name); err != nil {
		return err
	}
	s.recordMutation(ctx, "sd_set", name, nil)
	return nil
}

func (s *Service) buildSDSet(ctx context.Context, req SDSetRequest) (*directory.SDSet, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	if err := sod.ValidateCardinality(req.Cardinality); err != nil {
		return nil, err
	}
	set := directory.SDSet{
		Name:        directory.Normalize(req.Name),
		Kind:        req.Kind,
		Description: req.Description,
		Cardinality: req.Cardinality,
	}
	for _, m := range req.Members {
		m = directory.Normalize(m)
		if _, err := s.store.GetRole(ctx, m); err != nil {
			return nil, err
		}
		set.Members = append(set.Members, m)
	}
	return &set, nil
}

// ============================================================================
// PERMISSION OPERATIONS
// ============================================================================

// PermissionRequest carries the attributes of a permission.
type PermissionRequest struct {
	Object    string `json:"object" validate:"required,max=128"`
	ObjectID  string `json:"object_id,omitempty" validate:"max=128"`
	Operation string `json:"operation" validate:"required,max=128"`
	Admin     bool   `json:"admin"`
}

// CreatePermission adds an (object, objectID, operation) triple with empty
// grant sets.
func (s *Service) CreatePermission(ctx context.Context, req PermissionRequest) (*directory.Permission, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	p := directory.Permission{
		Object:    directory.Normalize(req.Object),
		ObjectID:  directory.Normalize(req.ObjectID),
		Operation: directory.Normalize(req.Operation),
		Admin:     req.Admin,
	}
	if err := s.checkName(p.Object, p.ObjectID, p.Operation); err != nil {
		return nil, err
	}
	if err := s.store.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	s.recordMutation(ctx, "permission", p.ID(), nil)
	return &p, nil
}

// DeletePermission removes the triple and its grants.
func (s *Service) DeletePermission(ctx context.Context, object, objectID, operation string) error {
	object = directory.Normalize(object)
	objectID = directory.Normalize(objectID)
	operation = directory.Normalize(operation)
	if err := s.store.DeletePermission(ctx, object, objectID, operation); err != nil {
		return err
	}
	s.recordMutation(ctx, "permission", directory.Permission{Object: object, ObjectID: objectID, Operation: operation}.ID(), nil)
	return nil
}

// GrantToRole adds the role to the permission's grant set. Granting an
// already granted role is a no-op.
func (s *Service) GrantToRole(ctx context.Context, ref PermissionRequest, role string) error {
	role = directory.Normalize(role)
	if _, err := s.store.GetRole(ctx, role); err != nil {
		return err
	}
	return s.mutateGrants(ctx, ref, func(p *directory.Permission) {
		if !p.GrantsRole(role) {
			p.Roles = append(p.Roles, role)
		}
	})
}

// RevokeFromRole removes the role from the permission's grant set.
func (s *Service) RevokeFromRole(ctx context.Context, ref PermissionRequest, role string) error {
	role = directory.Normalize(role)
	return s.mutateGrants(ctx, ref, func(p *directory.Permission) {
		p.Roles = remove(p.Roles, role)
	})
}

// GrantToUser adds a direct user grant, bypassing role activation.
func (s *Service) GrantToUser(ctx context.Context, ref PermissionRequest, user string) error {
	user = directory.Normalize(user)
	if _, err := s.store.GetUser(ctx, user); err != nil {
		return err
	}
	return s.mutateGrants(ctx, ref, func(p *directory.Permission) {
		if !p.GrantsUser(user) {
			p.Users = append(p.Users, user)
		}
	})
}

// RevokeFromUser removes a direct user grant.
func (s *Service) RevokeFromUser(ctx context.Context, ref PermissionRequest, user string) error {
	user = directory.Normalize(user)
	return s.mutateGrants(ctx, ref, func(p *directory.Permission) {
		p.Users = remove(p.Users, user)
	})
}

func (s *Service) mutateGrants(ctx context.Context, ref PermissionRequest, mutate func(*directory.Permission)) error {
	p, err := s.store.GetPermission(ctx,
		directory.Normalize(ref.Object), directory.Normalize(ref.ObjectID), directory.Normalize(ref.Operation))
	if err != nil {
		return err
	}
	mutate(p)
	if err := s.store.UpdatePermission(ctx, *p); err != nil {
		return err
	}
	s.recordMutation(ctx, "permission", p.ID(), map[string]any{"roles": p.Roles, "users": p.Users})
	return nil
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
