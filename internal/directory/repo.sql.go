package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Users -----------------------------------------------------------------

func (r *Repository) GetUser(ctx context.Context, name string) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT name, description, password_hash, locked, org_unit, constraint_data, created_at, updated_at
		FROM users WHERE name = $1`, Normalize(name))
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", name)
	}
	if err != nil {
		return nil, storeErr(err, "get user")
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, u User) error {
	constraint, err := encodeConstraint(u.Constraint)
	if err != nil {
		return storeErr(err, "encode user constraint")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO users (name, description, password_hash, locked, org_unit, constraint_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		Normalize(u.Name), u.Description, u.PasswordHash, u.Locked, Normalize(u.OrgUnit), constraint)
	if isUniqueViolation(err) {
		return shared.Errorf(shared.CodeUserExists, shared.KindAlreadyExists, "user %q already exists", u.Name)
	}
	return storeErr(err, "create user")
}

func (r *Repository) UpdateUser(ctx context.Context, u User) error {
	constraint, err := encodeConstraint(u.Constraint)
	if err != nil {
		return storeErr(err, "encode user constraint")
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET description = $2, password_hash = $3, locked = $4, org_unit = $5, constraint_data = $6, updated_at = NOW()
		WHERE name = $1`,
		Normalize(u.Name), u.Description, u.PasswordHash, u.Locked, Normalize(u.OrgUnit), constraint)
	if err != nil {
		return storeErr(err, "update user")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", u.Name)
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE name = $1`, Normalize(name))
	if err != nil {
		return storeErr(err, "delete user")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", name)
	}
	return nil
}

func (r *Repository) SearchUsers(ctx context.Context, prefix string) ([]User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, description, password_hash, locked, org_unit, constraint_data, created_at, updated_at
		FROM users WHERE name LIKE $1 || '%' ORDER BY name`, Normalize(prefix))
	if err != nil {
		return nil, storeErr(err, "search users")
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storeErr(err, "scan user")
		}
		users = append(users, *u)
	}
	return users, storeErr(rows.Err(), "search users")
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var constraint []byte
	if err := row.Scan(&u.Name, &u.Description, &u.PasswordHash, &u.Locked, &u.OrgUnit, &constraint, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	c, err := decodeConstraint(constraint)
	if err != nil {
		return nil, err
	}
	u.Constraint = c
	return &u, nil
}

// Roles -----------------------------------------------------------------

func (r *Repository) GetRole(ctx context.Context, name string) (*Role, error) {
	row := r.db.QueryRow(ctx, `
		SELECT name, description, constraint_data, created_at, updated_at
		FROM roles WHERE name = $1`, Normalize(name))
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", name)
	}
	if err != nil {
		return nil, storeErr(err, "get role")
	}
	return role, nil
}

func (r *Repository) CreateRole(ctx context.Context, role Role) error {
	constraint, err := encodeConstraint(role.Constraint)
	if err != nil {
		return storeErr(err, "encode role constraint")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO roles (name, description, constraint_data, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())`,
		Normalize(role.Name), role.Description, constraint)
	if isUniqueViolation(err) {
		return shared.Errorf(shared.CodeRoleExists, shared.KindAlreadyExists, "role %q already exists", role.Name)
	}
	return storeErr(err, "create role")
}

func (r *Repository) UpdateRole(ctx context.Context, role Role) error {
	constraint, err := encodeConstraint(role.Constraint)
	if err != nil {
		return storeErr(err, "encode role constraint")
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE roles SET description = $2, constraint_data = $3, updated_at = NOW() WHERE name = $1`,
		Normalize(role.Name), role.Description, constraint)
	if err != nil {
		return storeErr(err, "update role")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", role.Name)
	}
	return nil
}

func (r *Repository) DeleteRole(ctx context.Context, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE name = $1`, Normalize(name))
	if err != nil {
		return storeErr(err, "delete role")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", name)
	}
	return nil
}

func (r *Repository) SearchRoles(ctx context.Context, prefix string) ([]Role, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, description, constraint_data, created_at, updated_at
		FROM roles WHERE name LIKE $1 || '%' ORDER BY name`, Normalize(prefix))
	if err != nil {
		return nil, storeErr(err, "search roles")
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storeErr(err, "scan role")
		}
		roles = append(roles, *role)
	}
	return roles, storeErr(rows.Err(), "search roles")
}

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	var constraint []byte
	if err := row.Scan(&role.Name, &role.Description, &constraint, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	c, err := decodeConstraint(constraint)
	if err != nil {
		return nil, err
	}
	role.Constraint = c
	return &role, nil
}

// Admin roles -----------------------------------------------------------

func (r *Repository) GetAdminRole(ctx context.Context, name string) (*AdminRole, error) {
	row := r.db.QueryRow(ctx, `
		SELECT name, description, constraint_data, begin_range, end_range, begin_inclusive, end_inclusive,
		       user_ous, perm_ous, created_at, updated_at
		FROM admin_roles WHERE name = $1`, Normalize(name))
	role, err := scanAdminRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "admin role %q not found", name)
	}
	if err != nil {
		return nil, storeErr(err, "get admin role")
	}
	return role, nil
}

func (r *Repository) CreateAdminRole(ctx context.Context, role AdminRole) error {
	args, err := adminRoleArgs(role)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO admin_roles (name, description, constraint_data, begin_range, end_range,
		                         begin_inclusive, end_inclusive, user_ous, perm_ous, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`, args...)
	if isUniqueViolation(err) {
		return shared.Errorf(shared.CodeRoleExists, shared.KindAlreadyExists, "admin role %q already exists", role.Name)
	}
	return storeErr(err, "create admin role")
}

func (r *Repository) UpdateAdminRole(ctx context.Context, role AdminRole) error {
	args, err := adminRoleArgs(role)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE admin_roles
		SET description = $2, constraint_data = $3, begin_range = $4, end_range = $5,
		    begin_inclusive = $6, end_inclusive = $7, user_ous = $8, perm_ous = $9, updated_at = NOW()
		WHERE name = $1`, args...)
	if err != nil {
		return storeErr(err, "update admin role")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "admin role %q not found", role.Name)
	}
	return nil
}

func (r *Repository) DeleteAdminRole(ctx context.Context, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM admin_roles WHERE name = $1`, Normalize(name))
	if err != nil {
		return storeErr(err, "delete admin role")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "admin role %q not found", name)
	}
	return nil
}

func adminRoleArgs(role AdminRole) ([]any, error) {
	constraint, err := encodeConstraint(role.Constraint)
	if err != nil {
		return nil, storeErr(err, "encode admin role constraint")
	}
	userOUs, err := encodeStrings(role.UserOUs)
	if err != nil {
		return nil, storeErr(err, "encode user ous")
	}
	permOUs, err := encodeStrings(role.PermOUs)
	if err != nil {
		return nil, storeErr(err, "encode perm ous")
	}
	return []any{
		Normalize(role.Name), role.Description, constraint,
		Normalize(role.BeginRange), Normalize(role.EndRange),
		role.BeginInclusive, role.EndInclusive, userOUs, permOUs,
	}, nil
}

func scanAdminRole(row pgx.Row) (*AdminRole, error) {
	var role AdminRole
	var constraint, userOUs, permOUs []byte
	if err := row.Scan(&role.Name, &role.Description, &constraint, &role.BeginRange, &role.EndRange,
		&role.BeginInclusive, &role.EndInclusive, &userOUs, &permOUs, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	c, err := decodeConstraint(constraint)
	if err != nil {
		return nil, err
	}
	role.Constraint = c
	if role.UserOUs, err = decodeStrings(userOUs); err != nil {
		return nil, err
	}
	if role.PermOUs, err = decodeStrings(permOUs); err != nil {
		return nil, err
	}
	return &role, nil
}

// Org units -------------------------------------------------------------

func (r *Repository) GetOrgUnit(ctx context.Context, kind hierarchy.Kind, name string) (*OrgUnit, error) {
	var ou OrgUnit
	err := r.db.QueryRow(ctx, `
		SELECT kind, name, description FROM org_units WHERE kind = $1 AND name = $2`,
		string(kind), Normalize(name)).Scan(&ou.Kind, &ou.Name, &ou.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.Errorf(shared.CodeOrgUnitNotFound, shared.KindNotFound, "org unit %q (%s) not found", name, kind)
	}
	if err != nil {
		return nil, storeErr(err, "get org unit")
	}
	return &ou, nil
}

func (r *Repository) CreateOrgUnit(ctx context.Context, ou OrgUnit) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO org_units (kind, name, description) VALUES ($1, $2, $3)`,
		string(ou.Kind), Normalize(ou.Name), ou.Description)
	if isUniqueViolation(err) {
		return shared.Errorf(shared.CodeOrgUnitExists, shared.KindAlreadyExists, "org unit %q (%s) already exists", ou.Name, ou.Kind)
	}
	return storeErr(err, "create org unit")
}

func (r *Repository) DeleteOrgUnit(ctx context.Context, kind hierarchy.Kind, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM org_units WHERE kind = $1 AND name = $2`, string(kind), Normalize(name))
	if err != nil {
		return storeErr(err, "delete org unit")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeOrgUnitNotFound, shared.KindNotFound, "org unit %q (%s) not found", name, kind)
	}
	return nil
}

func (r *Repository) SearchOrgUnits(ctx context.Context, kind hierarchy.Kind) ([]OrgUnit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT kind, name, description FROM org_units WHERE kind = $1 ORDER BY name`, string(kind))
	if err != nil {
		return nil, storeErr(err, "search org units")
	}
	defer rows.Close()
	var out []OrgUnit
	for rows.Next() {
		var ou OrgUnit
		if err := rows.Scan(&ou.Kind, &ou.Name, &ou.Description); err != nil {
			return nil, storeErr(err, "scan org unit")
		}
		out = append(out, ou)
	}
	return out, storeErr(rows.Err(), "search org units")
}

// Hierarchy edges --------------------------------------------------------

func (r *Repository) Edges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT parent, child FROM hierarchy_edges WHERE kind = $1 ORDER BY parent, child`, string(kind))
	if err != nil {
		return nil, storeErr(err, "load edges")
	}
	defer rows.Close()
	var edges []hierarchy.Edge
	for rows.Next() {
		var e hierarchy.Edge
		if err := rows.Scan(&e.Parent, &e.Child); err != nil {
			return nil, storeErr(err, "scan edge")
		}
		edges = append(edges, e)
	}
	return edges, storeErr(rows.Err(), "load edges")
}

// AddEdge serializes writers per hierarchy with an advisory transaction
// lock, rebuilds the graph from committed edges, re-runs the cycle check
// and only then inserts. A naive read-then-write would let two concurrent
// writers commit edges that jointly close a cycle.
func (r *Repository) AddEdge(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	parent, child = Normalize(parent), Normalize(child)
	return r.withTx(ctx, func(tx *Repository) error {
		if _, err := tx.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('hierarchy:' || $1))`, string(kind)); err != nil {
			return storeErr(err, "lock hierarchy")
		}
		edges, err := tx.Edges(ctx, kind)
		if err != nil {
			return err
		}
		graph := hierarchy.New(edges)
		if err := graph.AddEdge(parent, child); err != nil {
			return err
		}
		_, err = tx.db.Exec(ctx, `
			INSERT INTO hierarchy_edges (kind, parent, child) VALUES ($1, $2, $3)`,
			string(kind), parent, child)
		if isUniqueViolation(err) {
			return shared.Errorf(shared.CodeHierEdgeExists, shared.KindAlreadyExists, "edge %q->%q already exists", parent, child)
		}
		return storeErr(err, "insert edge")
	})
}

func (r *Repository) RemoveEdge(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM hierarchy_edges WHERE kind = $1 AND parent = $2 AND child = $3`,
		string(kind), Normalize(parent), Normalize(child))
	if err != nil {
		return storeErr(err, "remove edge")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeHierEdgeNotFound, shared.KindNotFound, "edge %q->%q does not exist", parent, child)
	}
	return nil
}

// Assignments ------------------------------------------------------------

// Assign inserts the user-role edge after running check against the user's
// committed assignments inside the same transaction. The per-user advisory
// lock makes the count-then-commit sequence atomic with respect to other
// assigners.
func (r *Repository) Assign(ctx context.Context, a Assignment, check func(assigned []Assignment) error) error {
	a.User, a.Role = Normalize(a.User), Normalize(a.Role)
	return r.withTx(ctx, func(tx *Repository) error {
		if _, err := tx.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('assign:' || $1))`, a.User); err != nil {
			return storeErr(err, "lock user assignments")
		}
		if check != nil {
			assigned, err := tx.AssignedRoles(ctx, a.User)
			if err != nil {
				return err
			}
			if err := check(assigned); err != nil {
				return err
			}
		}
		constraint, err := encodeConstraint(a.Constraint)
		if err != nil {
			return storeErr(err, "encode assignment constraint")
		}
		_, err = tx.db.Exec(ctx, `
			INSERT INTO assignments (user_name, role_name, is_admin, constraint_data, created_at)
			VALUES ($1, $2, $3, $4, NOW())`,
			a.User, a.Role, a.Admin, constraint)
		if isUniqueViolation(err) {
			return shared.Errorf(shared.CodeRoleAlreadyActive, shared.KindAlreadyExists, "user %q already holds role %q", a.User, a.Role)
		}
		return storeErr(err, "insert assignment")
	})
}

func (r *Repository) Deassign(ctx context.Context, user, role string, admin bool) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM assignments WHERE user_name = $1 AND role_name = $2 AND is_admin = $3`,
		Normalize(user), Normalize(role), admin)
	if err != nil {
		return storeErr(err, "deassign")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeRoleNotAssigned, shared.KindSessionState, "user %q does not hold role %q", user, role)
	}
	return nil
}

func (r *Repository) AssignedRoles(ctx context.Context, user string) ([]Assignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_name, role_name, is_admin, constraint_data, created_at
		FROM assignments WHERE user_name = $1 ORDER BY created_at, role_name`, Normalize(user))
	if err != nil {
		return nil, storeErr(err, "assigned roles")
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (r *Repository) AssignedUsers(ctx context.Context, role string, admin bool) ([]Assignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_name, role_name, is_admin, constraint_data, created_at
		FROM assignments WHERE role_name = $1 AND is_admin = $2 ORDER BY user_name`, Normalize(role), admin)
	if err != nil {
		return nil, storeErr(err, "assigned users")
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func scanAssignments(rows pgx.Rows) ([]Assignment, error) {
	var out []Assignment
	for rows.Next() {
		var a Assignment
		var constraint []byte
		if err := rows.Scan(&a.User, &a.Role, &a.Admin, &constraint, &a.CreatedAt); err != nil {
			return nil, storeErr(err, "scan assignment")
		}
		c, err := decodeConstraint(constraint)
		if err != nil {
			return nil, err
		}
		a.Constraint = c
		out = append(out, a)
	}
	return out, storeErr(rows.Err(), "scan assignments")
}

// Separation-of-duty sets ------------------------------------------------

func (r *Repository) GetSDSet(ctx context.Context, name string) (*SDSet, error) {
	row := r.db.QueryRow(ctx, `
		SELECT name, kind, description, members, cardinality FROM sd_sets WHERE name = $1`, Normalize(name))
	set, err := scanSDSet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.Errorf(shared.CodeSDSetNotFound, shared.KindNotFound, "sd set %q not found", name)
	}
	if err != nil {
		return nil, storeErr(err, "get sd set")
	}
	return set, nil
}

func (r *Repository) CreateSDSet(ctx context.Context, s SDSet) error {
	members, err := encodeStrings(normalizeAll(s.Members))
	if err != nil {
		return storeErr(err, "encode sd members")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO sd_sets (name, kind, description, members, cardinality)
		VALUES ($1, $2, $3, $4, $5)`,
		Normalize(s.Name), string(s.Kind), s.Description, members, s.Cardinality)
	if isUniqueViolation(err) {
		return shared.Errorf(shared.CodeSDSetExists, shared.KindAlreadyExists, "sd set %q already exists", s.Name)
	}
	return storeErr(err, "create sd set")
}

func (r *Repository) UpdateSDSet(ctx context.Context, s SDSet) error {
	members, err := encodeStrings(normalizeAll(s.Members))
	if err != nil {
		return storeErr(err, "encode sd members")
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE sd_sets SET kind = $2, description = $3, members = $4, cardinality = $5 WHERE name = $1`,
		Normalize(s.Name), string(s.Kind), s.Description, members, s.Cardinality)
	if err != nil {
		return storeErr(err, "update sd set")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeSDSetNotFound, shared.KindNotFound, "sd set %q not found", s.Name)
	}
	return nil
}

func (r *Repository) DeleteSDSet(ctx context.Context, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sd_sets WHERE name = $1`, Normalize(name))
	if err != nil {
		return storeErr(err, "delete sd set")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodeSDSetNotFound, shared.KindNotFound, "sd set %q not found", name)
	}
	return nil
}

func (r *Repository) SDSetsContaining(ctx context.Context, kind SDKind, role string) ([]SDSet, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, kind, description, members, cardinality
		FROM sd_sets WHERE kind = $1 AND members @> to_jsonb(ARRAY[$2::text]) ORDER BY name`,
		string(kind), Normalize(role))
	if err != nil {
		return nil, storeErr(err, "sd sets containing")
	}
	defer rows.Close()
	return collectSDSets(rows)
}

func (r *Repository) SearchSDSets(ctx context.Context, kind SDKind) ([]SDSet, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, kind, description, members, cardinality FROM sd_sets WHERE kind = $1 ORDER BY name`,
		string(kind))
	if err != nil {
		return nil, storeErr(err, "search sd sets")
	}
	defer rows.Close()
	return collectSDSets(rows)
}

func collectSDSets(rows pgx.Rows) ([]SDSet, error) {
	var out []SDSet
	for rows.Next() {
		set, err := scanSDSet(rows)
		if err != nil {
			return nil, storeErr(err, "scan sd set")
		}
		out = append(out, *set)
	}
	return out, storeErr(rows.Err(), "scan sd sets")
}

func scanSDSet(row pgx.Row) (*SDSet, error) {
	var s SDSet
	var members []byte
	if err := row.Scan(&s.Name, &s.Kind, &s.Description, &members, &s.Cardinality); err != nil {
		return nil, err
	}
	list, err := decodeStrings(members)
	if err != nil {
		return nil, err
	}
	s.Members = list
	return &s, nil
}

// Permissions ------------------------------------------------------------

func (r *Repository) GetPermission(ctx context.Context, object, objectID, operation string) (*Permission, error) {
	row := r.db.QueryRow(ctx, `
		SELECT object, object_id, operation, is_admin, role_grants, user_grants
		FROM permissions WHERE object = $1 AND object_id = $2 AND operation = $3`,
		Normalize(object), Normalize(objectID), Normalize(operation))
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %s:%s not found", object, operation)
	}
	if err != nil {
		return nil, storeErr(err, "get permission")
	}
	return p, nil
}

func (r *Repository) CreatePermission(ctx context.Context, p Permission) error {
	args, err := permissionArgs(p)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO permissions (object, object_id, operation, is_admin, role_grants, user_grants)
		VALUES ($1, $2, $3, $4, $5, $6)`, args...)
	if isUniqueViolation(err) {
		return shared.Errorf(shared.CodePermExists, shared.KindAlreadyExists, "permission %s already exists", p.ID())
	}
	return storeErr(err, "create permission")
}

func (r *Repository) UpdatePermission(ctx context.Context, p Permission) error {
	args, err := permissionArgs(p)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE permissions SET is_admin = $4, role_grants = $5, user_grants = $6
		WHERE object = $1 AND object_id = $2 AND operation = $3`, args...)
	if err != nil {
		return storeErr(err, "update permission")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %s not found", p.ID())
	}
	return nil
}

func (r *Repository) DeletePermission(ctx context.Context, object, objectID, operation string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM permissions WHERE object = $1 AND object_id = $2 AND operation = $3`,
		Normalize(object), Normalize(objectID), Normalize(operation))
	if err != nil {
		return storeErr(err, "delete permission")
	}
	if tag.RowsAffected() == 0 {
		return shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %s:%s not found", object, operation)
	}
	return nil
}

func (r *Repository) SearchPermissions(ctx context.Context, object string) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT object, object_id, operation, is_admin, role_grants, user_grants
		FROM permissions WHERE object LIKE $1 || '%' ORDER BY object, object_id, operation`, Normalize(object))
	if err != nil {
		return nil, storeErr(err, "search permissions")
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, storeErr(err, "scan permission")
		}
		out = append(out, *p)
	}
	return out, storeErr(rows.Err(), "search permissions")
}

func permissionArgs(p Permission) ([]any, error) {
	roles, err := encodeStrings(normalizeAll(p.Roles))
	if err != nil {
		return nil, storeErr(err, "encode role grants")
	}
	users, err := encodeStrings(normalizeAll(p.Users))
	if err != nil {
		return nil, storeErr(err, "encode user grants")
	}
	return []any{Normalize(p.Object), Normalize(p.ObjectID), Normalize(p.Operation), p.Admin, roles, users}, nil
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var p Permission
	var roles, users []byte
	if err := row.Scan(&p.Object, &p.ObjectID, &p.Operation, &p.Admin, &roles, &users); err != nil {
		return nil, err
	}
	var err error
	if p.Roles, err = decodeStrings(roles); err != nil {
		return nil, err
	}
	if p.Users, err = decodeStrings(users); err != nil {
		return nil, err
	}
	return &p, nil
}

// Accelerated batch read -------------------------------------------------

// LoadDecisionSet gathers everything the accelerated session path needs in a
// single repeatable-read transaction: one consistent snapshot, one store
// round trip.
func (r *Repository) LoadDecisionSet(ctx context.Context, user string) (*DecisionSet, error) {
	var ds DecisionSet
	err := r.withTx(ctx, func(tx *Repository) error {
		u, err := tx.GetUser(ctx, user)
		if err != nil {
			return err
		}
		ds.User = u
		if ds.Assignments, err = tx.AssignedRoles(ctx, u.Name); err != nil {
			return err
		}
		ds.Roles = make(map[string]Role, len(ds.Assignments))
		for _, a := range ds.Assignments {
			if a.Admin {
				continue
			}
			role, err := tx.GetRole(ctx, a.Role)
			if err != nil {
				return err
			}
			ds.Roles[role.Name] = *role
		}
		if ds.DSDSets, err = tx.SearchSDSets(ctx, DSD); err != nil {
			return err
		}
		ds.RoleEdges, err = tx.Edges(ctx, hierarchy.KindRole)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func normalizeAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, Normalize(n))
	}
	return out
}
