package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
	"github.com/sentra-iam/sentra/internal/temporal"
)

type mockStore struct {
	users       map[string]*directory.User
	assignments map[string][]directory.Assignment
	roles       map[string]directory.Role
	edges       []hierarchy.Edge
	perms       map[string]directory.Permission
	sdsets      []directory.SDSet
}

func (m *mockStore) GetUser(_ context.Context, name string) (*directory.User, error) {
	u, ok := m.users[name]
	if !ok {
		return nil, shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", name)
	}
	return u, nil
}

func (m *mockStore) AssignedRoles(_ context.Context, user string) ([]directory.Assignment, error) {
	return m.assignments[user], nil
}

func (m *mockStore) GetRole(_ context.Context, name string) (*directory.Role, error) {
	r, ok := m.roles[name]
	if !ok {
		return nil, shared.Errorf(shared.CodeRoleNotFound, shared.KindNotFound, "role %q not found", name)
	}
	return &r, nil
}

func (m *mockStore) Edges(_ context.Context, _ hierarchy.Kind) ([]hierarchy.Edge, error) {
	return m.edges, nil
}

func (m *mockStore) GetPermission(_ context.Context, object, objectID, operation string) (*directory.Permission, error) {
	key := object + "/" + objectID + ":" + operation
	p, ok := m.perms[key]
	if !ok {
		return nil, shared.Errorf(shared.CodePermNotFound, shared.KindNotFound, "permission %q not found", key)
	}
	return &p, nil
}

func (m *mockStore) SDSetsContaining(_ context.Context, kind directory.SDKind, role string) ([]directory.SDSet, error) {
	var out []directory.SDSet
	for _, s := range m.sdsets {
		if s.Kind == kind && s.HasMember(role) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) LoadDecisionSet(_ context.Context, user string) (*directory.DecisionSet, error) {
	u, ok := m.users[user]
	if !ok {
		return nil, shared.Errorf(shared.CodeUserNotFound, shared.KindNotFound, "user %q not found", user)
	}
	var dsd []directory.SDSet
	for _, s := range m.sdsets {
		if s.Kind == directory.DSD {
			dsd = append(dsd, s)
		}
	}
	return &directory.DecisionSet{
		User:        u,
		Assignments: m.assignments[user],
		Roles:       m.roles,
		DSDSets:     dsd,
		RoleEdges:   m.edges,
	}, nil
}

type memCache struct {
	sessions map[string]*Session
}

func newMemCache() *memCache { return &memCache{sessions: make(map[string]*Session)} }

func (c *memCache) Save(_ context.Context, sess *Session) error {
	c.sessions[sess.ID] = sess
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (*Session, error) {
	sess, ok := c.sessions[id]
	if !ok {
		return nil, shared.Errorf(shared.CodeSessionNotFound, shared.KindNotFound, "session %q not found", id)
	}
	return sess, nil
}

func (c *memCache) Delete(_ context.Context, sess *Session) error {
	delete(c.sessions, sess.ID)
	return nil
}

var testNow = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) // a Monday

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func fixtureStore(t *testing.T) *mockStore {
	t.Helper()
	return &mockStore{
		users: map[string]*directory.User{
			"alice": {Name: "alice", PasswordHash: hash(t, "secret")},
			"bob":   {Name: "bob", PasswordHash: hash(t, "secret"), Locked: true},
		},
		assignments: map[string][]directory.Assignment{
			"alice": {
				{User: "alice", Role: "clerk"},
				{User: "alice", Role: "teller"},
				{User: "alice", Role: "ou-admin", Admin: true},
			},
		},
		roles: map[string]directory.Role{
			"clerk":   {Name: "clerk"},
			"teller":  {Name: "teller"},
			"auditor": {Name: "auditor"},
		},
		perms:  map[string]directory.Permission{},
		sdsets: nil,
	}
}

func newTestService(store *mockStore, cache CachePort) *Service {
	svc := NewService(nil, store, cache, sod.NewValidator(store), nil, nil)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestCreateRejectsBadPassword(t *testing.T) {
	svc := newTestService(fixtureStore(t), newMemCache())

	_, err := svc.Create(context.Background(), CreateRequest{User: "alice", Password: "wrong"})
	require.Error(t, err)
	require.Equal(t, shared.CodeUserPwInvalid, shared.CodeOf(err))
}

func TestCreateRejectsLockedUser(t *testing.T) {
	svc := newTestService(fixtureStore(t), newMemCache())

	_, err := svc.Create(context.Background(), CreateRequest{User: "bob", Password: "secret"})
	require.Error(t, err)
	require.Equal(t, shared.CodeUserLocked, shared.CodeOf(err))
}

func TestCreateRejectsUserConstraintViolation(t *testing.T) {
	store := fixtureStore(t)
	store.users["alice"].Constraint = temporal.Constraint{
		BeginDate: testNow.AddDate(0, 1, 0),
		EndDate:   testNow.AddDate(0, 2, 0),
	}
	svc := newTestService(store, newMemCache())

	_, err := svc.Create(context.Background(), CreateRequest{User: "alice", Password: "secret"})
	require.Error(t, err)
	require.Equal(t, shared.CodeUserPlcyViolation, shared.CodeOf(err))
	var engineErr *shared.Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, shared.CodeTemporalDate, shared.CodeOf(engineErr.Err))
}

func TestCreateActivatesAssignedRoles(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(fixtureStore(t), cache)

	sess, err := svc.Create(context.Background(), CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"clerk", "teller"}, sess.ActiveRoleNames())
	require.Equal(t, []string{"ou-admin"}, sess.AdminRoles)
	require.Empty(t, sess.Warnings)
	require.Contains(t, cache.sessions, sess.ID)
}

func TestCreateTrustedSkipsPassword(t *testing.T) {
	svc := newTestService(fixtureStore(t), newMemCache())

	sess, err := svc.Create(context.Background(), CreateRequest{User: "alice", Trusted: true})
	require.NoError(t, err)
	require.True(t, sess.Trusted)
}

func TestCreateRequestedRoleNotAssigned(t *testing.T) {
	svc := newTestService(fixtureStore(t), newMemCache())

	_, err := svc.Create(context.Background(), CreateRequest{
		User:     "alice",
		Password: "secret",
		Roles:    []string{"clerk", "auditor"},
	})
	require.Error(t, err)
	require.Equal(t, shared.CodeRoleNotAssigned, shared.CodeOf(err))
}

func TestCreateDSDConflictBecomesWarning(t *testing.T) {
	store := fixtureStore(t)
	store.sdsets = []directory.SDSet{{
		Name:        "cash-handling",
		Kind:        directory.DSD,
		Members:     []string{"clerk", "teller"},
		Cardinality: 2,
	}}
	svc := newTestService(store, newMemCache())

	sess, err := svc.Create(context.Background(), CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())
	require.Len(t, sess.Warnings, 1)
	require.Equal(t, "teller", sess.Warnings[0].Role)
	require.Equal(t, shared.CodeDsdValidationFailed, sess.Warnings[0].Code)
}

func TestCreateTemporalFailureBecomesWarning(t *testing.T) {
	store := fixtureStore(t)
	store.roles["teller"] = directory.Role{
		Name:       "teller",
		Constraint: temporal.Constraint{DayMask: temporal.Sunday},
	}
	svc := newTestService(store, newMemCache())

	sess, err := svc.Create(context.Background(), CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())
	require.Len(t, sess.Warnings, 1)
	require.Equal(t, shared.CodeRoleActivateFailed, sess.Warnings[0].Code)
}

func TestAddActiveRole(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(fixtureStore(t), cache)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret", Roles: []string{"clerk"}})
	require.NoError(t, err)

	err = svc.AddActiveRole(ctx, sess, "auditor")
	require.Equal(t, shared.CodeRoleNotAssigned, shared.CodeOf(err))

	err = svc.AddActiveRole(ctx, sess, "clerk")
	require.Equal(t, shared.CodeRoleAlreadyActive, shared.CodeOf(err))

	require.NoError(t, svc.AddActiveRole(ctx, sess, "teller"))
	require.ElementsMatch(t, []string{"clerk", "teller"}, sess.ActiveRoleNames())
	require.ElementsMatch(t, []string{"clerk", "teller"}, cache.sessions[sess.ID].ActiveRoleNames())
}

func TestAddActiveRoleDSDRejected(t *testing.T) {
	store := fixtureStore(t)
	store.sdsets = []directory.SDSet{{
		Name:        "cash-handling",
		Kind:        directory.DSD,
		Members:     []string{"clerk", "teller"},
		Cardinality: 2,
	}}
	svc := newTestService(store, newMemCache())
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret", Roles: []string{"clerk"}})
	require.NoError(t, err)

	err = svc.AddActiveRole(ctx, sess, "teller")
	require.Equal(t, shared.CodeDsdValidationFailed, shared.CodeOf(err))
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())
}

func TestDropActiveRole(t *testing.T) {
	svc := newTestService(fixtureStore(t), newMemCache())
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)

	err = svc.DropActiveRole(ctx, sess, "auditor")
	require.Equal(t, shared.CodeRoleNotActive, shared.CodeOf(err))
	require.ElementsMatch(t, []string{"clerk", "teller"}, sess.ActiveRoleNames())

	require.NoError(t, svc.DropActiveRole(ctx, sess, "teller"))
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())
}

func TestCheckAccessThroughHierarchy(t *testing.T) {
	store := fixtureStore(t)
	// teller inherits clerk's permissions
	store.edges = []hierarchy.Edge{{Parent: "clerk", Child: "teller"}}
	store.perms = map[string]directory.Permission{
		"account/acct-101:deposit": {
			Object: "account", ObjectID: "acct-101", Operation: "deposit",
			Roles: []string{"clerk"},
		},
		"account/acct-101:close": {
			Object: "account", ObjectID: "acct-101", Operation: "close",
			Roles: []string{"auditor"},
		},
		"ledger/:read": {
			Object: "ledger", Operation: "read",
			Users: []string{"alice"},
		},
	}
	svc := newTestService(store, newMemCache())
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret", Roles: []string{"teller"}})
	require.NoError(t, err)

	granted, err := svc.CheckAccess(ctx, sess, PermRef{Object: "account", ObjectID: "acct-101", Operation: "deposit"})
	require.NoError(t, err)
	require.True(t, granted, "teller activates clerk's permission via inheritance")

	granted, err = svc.CheckAccess(ctx, sess, PermRef{Object: "account", ObjectID: "acct-101", Operation: "close"})
	require.NoError(t, err)
	require.False(t, granted)

	granted, err = svc.CheckAccess(ctx, sess, PermRef{Object: "ledger", Operation: "read"})
	require.NoError(t, err)
	require.True(t, granted, "direct user grant needs no active role")

	_, err = svc.CheckAccess(ctx, sess, PermRef{Object: "vault", Operation: "open"})
	require.Equal(t, shared.CodePermNotFound, shared.CodeOf(err))
}

func TestCheckAccessDeniesRoleOutsideTemporalWindow(t *testing.T) {
	store := fixtureStore(t)
	store.roles["clerk"] = directory.Role{
		Name:       "clerk",
		Constraint: temporal.Constraint{BeginTime: 800, EndTime: 1700},
	}
	store.perms = map[string]directory.Permission{
		"ledger/:read": {Object: "ledger", Operation: "read", Roles: []string{"clerk"}},
	}
	svc := newTestService(store, newMemCache())
	ctx := context.Background()

	// Activated at 10:00, well inside the 0800-1700 window.
	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret", Roles: []string{"clerk"}})
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())

	granted, err := svc.CheckAccess(ctx, sess, PermRef{Object: "ledger", Operation: "read"})
	require.NoError(t, err)
	require.True(t, granted)

	// 18:00: the role stays active but its window has closed.
	svc.now = func() time.Time { return testNow.Add(8 * time.Hour) }
	granted, err = svc.CheckAccess(ctx, sess, PermRef{Object: "ledger", Operation: "read"})
	require.NoError(t, err)
	require.False(t, granted, "closed window must not authorize")
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames(), "the role is filtered, not deactivated")

	// Next morning inside the window the same activation works again.
	svc.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	granted, err = svc.CheckAccess(ctx, sess, PermRef{Object: "ledger", Operation: "read"})
	require.NoError(t, err)
	require.True(t, granted)
}

type failingCache struct {
	*memCache
	saveErr error
}

func (c *failingCache) Save(ctx context.Context, sess *Session) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.memCache.Save(ctx, sess)
}

func TestActivationSurfacesSaveFailure(t *testing.T) {
	cache := &failingCache{memCache: newMemCache()}
	svc := newTestService(fixtureStore(t), cache)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret", Roles: []string{"clerk"}})
	require.NoError(t, err)

	cache.saveErr = shared.WrapStore(context.DeadlineExceeded, "save session")
	err = svc.AddActiveRole(ctx, sess, "teller")
	require.Equal(t, shared.CodeStoreFailure, shared.CodeOf(err))

	err = svc.DropActiveRole(ctx, sess, "clerk")
	require.Equal(t, shared.CodeStoreFailure, shared.CodeOf(err))
}

func TestCheckAccessRefreshesLastAccess(t *testing.T) {
	cache := newMemCache()
	store := fixtureStore(t)
	store.perms = map[string]directory.Permission{
		"ledger/:read": {Object: "ledger", Operation: "read", Roles: []string{"clerk"}},
	}
	svc := newTestService(store, cache)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)

	later := testNow.Add(5 * time.Minute)
	svc.now = func() time.Time { return later }

	_, err = svc.CheckAccess(ctx, sess, PermRef{Object: "ledger", Operation: "read"})
	require.NoError(t, err)
	require.Equal(t, later, cache.sessions[sess.ID].LastAccess)
}

func TestLoadExpiresIdleSession(t *testing.T) {
	cache := newMemCache()
	store := fixtureStore(t)
	store.users["alice"].Constraint = temporal.Constraint{Timeout: 30 * time.Minute}
	svc := newTestService(store, cache)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow.Add(10 * time.Minute) }
	got, err := svc.Load(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)

	svc.now = func() time.Time { return testNow.Add(45 * time.Minute) }
	_, err = svc.Load(ctx, sess.ID)
	require.Equal(t, shared.CodeSessionExpired, shared.CodeOf(err))
	require.NotContains(t, cache.sessions, sess.ID, "expired session is deleted on observation")
}

func TestDeleteIsIdempotent(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(fixtureStore(t), cache)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, sess))
	require.NoError(t, svc.Delete(ctx, sess))
	require.Empty(t, sess.ActiveRoles)
}

func TestCreateEphemeralNeverPersisted(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(fixtureStore(t), cache)

	sess, err := svc.CreateEphemeral(context.Background(), CreateRequest{User: "alice", Password: "secret"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"clerk", "teller"}, sess.ActiveRoleNames())
	require.Empty(t, cache.sessions)
}

func TestCreateAndCheckAccessBatch(t *testing.T) {
	store := fixtureStore(t)
	store.edges = []hierarchy.Edge{{Parent: "clerk", Child: "teller"}}
	store.perms = map[string]directory.Permission{
		"account/acct-101:deposit": {
			Object: "account", ObjectID: "acct-101", Operation: "deposit",
			Roles: []string{"clerk"},
		},
		"account/acct-101:close": {
			Object: "account", ObjectID: "acct-101", Operation: "close",
			Roles: []string{"auditor"},
		},
	}
	cache := newMemCache()
	svc := newTestService(store, cache)

	sess, decisions, err := svc.CreateAndCheckAccess(context.Background(),
		CreateRequest{User: "alice", Password: "secret", Roles: []string{"teller"}},
		[]PermRef{
			{Object: "account", ObjectID: "acct-101", Operation: "deposit"},
			{Object: "account", ObjectID: "acct-101", Operation: "close"},
		})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	require.True(t, decisions[0].Granted)
	require.False(t, decisions[1].Granted)
	require.Equal(t, []string{"teller"}, sess.ActiveRoleNames())
	require.Empty(t, cache.sessions)
}

func TestCreateAndCheckAccessMatchesCreateSemantics(t *testing.T) {
	store := fixtureStore(t)
	store.sdsets = []directory.SDSet{{
		Name:        "cash-handling",
		Kind:        directory.DSD,
		Members:     []string{"clerk", "teller"},
		Cardinality: 2,
	}}
	svc := newTestService(store, newMemCache())

	sess, _, err := svc.CreateAndCheckAccess(context.Background(),
		CreateRequest{User: "alice", Password: "secret"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())
	require.Len(t, sess.Warnings, 1)
	require.Equal(t, shared.CodeDsdValidationFailed, sess.Warnings[0].Code)
}
