package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/rbac"
)

type memKV map[string]string

func (m memKV) Get(key string) string { return m[key] }
func (m memKV) Set(key, value string) { m[key] = value }
func (m memKV) Delete(key string) { delete(m, key) }

type fakeGateway struct {
	mu          sync.Mutex
	grant       Grant
	loginErr    error
	logoutErr   error
	current     Principal
	currentErr  error
	logoutCalls int
	meCalls     int
}

func (g *fakeGateway) Login(ctx context.Context, email, password string) (Grant, error) {
	if g.loginErr != nil {
		return Grant{}, g.loginErr
	}
	return g.grant, nil
}

func (g *fakeGateway) Register(ctx context.Context, reg Registration) (Grant, error) {
	if g.loginErr != nil {
		return Grant{}, g.loginErr
	}
	return g.grant, nil
}

func (g *fakeGateway) Logout(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logoutCalls++
	return g.logoutErr
}

func (g *fakeGateway) CurrentUser(ctx context.Context, token string) (Principal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.meCalls++
	if g.currentErr != nil {
		return Principal{}, g.currentErr
	}
	return g.current, nil
}

type recordingQueue struct {
	tokens []string
	users  []int64
}

func (q *recordingQueue) EnqueueRevocation(ctx context.Context, token string, userID int64) error {
	q.tokens = append(q.tokens, token)
	q.users = append(q.users, userID)
	return nil
}

type userMessageErr string

func (e userMessageErr) Error() string { return "backend: " + string(e) }
func (e userMessageErr) UserMessage() string { return string(e) }

func instructor() Principal {
	return Principal{
		ID:          7,
		Name:        "Ivy Instructor",
		Email:       "ivy@school.test",
		Roles:       []rbac.RoleName{"instructor"},
		Permissions: []string{"Lessons.View"},
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestBootWithoutToken(t *testing.T) {
	s := NewStore(memKV{}, &fakeGateway{})
	assert.True(t, s.Loading())
	assert.Equal(t, StateUnauthenticated, s.Boot(context.Background()))
	assert.False(t, s.Loading())
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.User())
}

func TestBootFromSnapshot(t *testing.T) {
	raw, err := json.Marshal(instructor())
	require.NoError(t, err)
	kv := memKV{TokenKey: "opaque-token", UserKey: string(raw)}
	gw := &fakeGateway{}

	s := NewStore(kv, gw)
	assert.Equal(t, StateAuthenticated, s.Boot(context.Background()))
	assert.Equal(t, 0, gw.meCalls)
	assert.True(t, s.IsInstructor())
	assert.True(t, s.HasPermission("lessons.view"))
	assert.Equal(t, "opaque-token", s.Token())
}

func TestBootFetchesCurrentUserWithoutSnapshot(t *testing.T) {
	kv := memKV{TokenKey: "opaque-token"}
	gw := &fakeGateway{current: instructor()}

	s := NewStore(kv, gw)
	assert.Equal(t, StateAuthenticated, s.Boot(context.Background()))
	assert.Equal(t, 1, gw.meCalls)
	assert.NotEmpty(t, kv[UserKey])

	// Boot resolves once.
	s.Boot(context.Background())
	assert.Equal(t, 1, gw.meCalls)
}

func TestBootUnauthorizedClearsPersisted(t *testing.T) {
	kv := memKV{TokenKey: "opaque-token"}
	s := NewStore(kv, &fakeGateway{currentErr: ErrUnauthorized})
	assert.Equal(t, StateUnauthenticated, s.Boot(context.Background()))
	assert.Empty(t, kv[TokenKey])
}

func TestBootTransientFailureKeepsToken(t *testing.T) {
	kv := memKV{TokenKey: "opaque-token"}
	s := NewStore(kv, &fakeGateway{currentErr: errors.New("connection refused")})
	assert.Equal(t, StateUnauthenticated, s.Boot(context.Background()))
	assert.Equal(t, "opaque-token", kv[TokenKey])
}

func TestBootExpiredJWT(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(instructor())
	kv := memKV{TokenKey: signedToken(t, now.Add(-time.Minute)), UserKey: string(raw)}
	gw := &fakeGateway{current: instructor()}

	s := NewStore(kv, gw, WithClock(func() time.Time { return now }))
	assert.Equal(t, StateUnauthenticated, s.Boot(context.Background()))
	assert.Empty(t, kv)
	assert.Equal(t, 0, gw.meCalls)
}

func TestBootLiveJWT(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(instructor())
	kv := memKV{TokenKey: signedToken(t, now.Add(time.Hour)), UserKey: string(raw)}

	s := NewStore(kv, &fakeGateway{}, WithClock(func() time.Time { return now }))
	assert.Equal(t, StateAuthenticated, s.Boot(context.Background()))
}

func TestLoginSuccessPersists(t *testing.T) {
	kv := memKV{}
	s := NewStore(kv, &fakeGateway{grant: Grant{Token: "t1", User: instructor()}})
	s.Boot(context.Background())

	res := s.Login(context.Background(), " ivy@school.test ", "password1")
	assert.True(t, res.Success)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "t1", kv[TokenKey])

	var snap Principal
	require.NoError(t, json.Unmarshal([]byte(kv[UserKey]), &snap))
	assert.Equal(t, int64(7), snap.ID)
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	kv := memKV{}
	s := NewStore(kv, &fakeGateway{loginErr: userMessageErr("Account locked")})
	s.Boot(context.Background())

	res := s.Login(context.Background(), "ivy@school.test", "nope")
	assert.False(t, res.Success)
	assert.Equal(t, "Account locked", res.Message)
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, kv)

	res = NewStore(kv, &fakeGateway{loginErr: errors.New("dial tcp: timeout")}).Login(context.Background(), "a@b.c", "x")
	assert.Equal(t, "Invalid email or password.", res.Message)
}

func TestRegisterAuthenticates(t *testing.T) {
	s := NewStore(memKV{}, &fakeGateway{grant: Grant{Token: "t2", User: instructor()}})
	s.Boot(context.Background())
	res := s.Register(context.Background(), Registration{Name: "Ivy", Email: "ivy@school.test", Password: "password1"})
	assert.True(t, res.Success)
	assert.True(t, s.IsAuthenticated())
}

func TestLogoutClearsEvenWhenRemoteFails(t *testing.T) {
	kv := memKV{}
	gw := &fakeGateway{grant: Grant{Token: "t1", User: instructor()}, logoutErr: errors.New("network down")}
	queue := &recordingQueue{}
	s := NewStore(kv, gw, WithRevocationQueue(queue))
	s.Boot(context.Background())
	require.True(t, s.Login(context.Background(), "ivy@school.test", "password1").Success)

	s.Logout(context.Background())
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.User())
	assert.Empty(t, s.Token())
	assert.Empty(t, kv)
	assert.False(t, s.HasRole("instructor"))
	assert.Equal(t, 1, gw.logoutCalls)
	assert.Equal(t, []string{"t1"}, queue.tokens)
	assert.Equal(t, []int64{7}, queue.users)
}

func TestLogoutUnauthorizedIsNotRetried(t *testing.T) {
	gw := &fakeGateway{grant: Grant{Token: "t1", User: instructor()}, logoutErr: ErrUnauthorized}
	queue := &recordingQueue{}
	s := NewStore(memKV{}, gw, WithRevocationQueue(queue))
	s.Boot(context.Background())
	s.Login(context.Background(), "ivy@school.test", "password1")
	s.Logout(context.Background())
	assert.Empty(t, queue.tokens)
}

func TestRefreshUserReplacesPrincipal(t *testing.T) {
	gw := &fakeGateway{grant: Grant{Token: "t1", User: instructor()}}
	s := NewStore(memKV{}, gw)
	s.Boot(context.Background())
	s.Login(context.Background(), "ivy@school.test", "password1")

	promoted := instructor()
	promoted.Roles = []rbac.RoleName{"admin"}
	promoted.Permissions = nil
	gw.current = promoted

	res := s.RefreshUser(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, []rbac.RoleName{"admin"}, res.User.Roles)
	assert.True(t, s.IsAdmin())
	assert.False(t, s.IsInstructor())
	assert.False(t, s.HasPermission("lessons.view"))
}

func TestRefreshUserFailureKeepsState(t *testing.T) {
	gw := &fakeGateway{grant: Grant{Token: "t1", User: instructor()}}
	s := NewStore(memKV{}, gw)
	s.Boot(context.Background())
	s.Login(context.Background(), "ivy@school.test", "password1")

	gw.currentErr = errors.New("503")
	res := s.RefreshUser(context.Background())
	assert.False(t, res.Success)
	assert.Nil(t, res.User)
	assert.True(t, s.IsAuthenticated())
	assert.True(t, s.IsInstructor())
}

func TestPredicatesWithoutPrincipal(t *testing.T) {
	s := NewStore(nil, nil)
	s.Boot(context.Background())
	assert.False(t, s.HasRole("admin"))
	assert.False(t, s.HasPermission("lessons.view"))
	assert.False(t, s.IsSuperAdmin())
	assert.False(t, s.IsAdmin())
	_, ok := s.PrimaryRole()
	assert.False(t, ok)
	assert.Nil(t, s.Roles())
}

func TestStoreSuperAdminMatchesEveryAlias(t *testing.T) {
	for _, alias := range rbac.SuperAdminAliases() {
		p := instructor()
		p.Roles = []rbac.RoleName{alias}
		s := NewStore(memKV{}, &fakeGateway{grant: Grant{Token: "t", User: p}})
		s.Boot(context.Background())
		s.Login(context.Background(), "a@b.c", "password1")
		assert.True(t, s.IsSuperAdmin(), "alias %q", alias)
		assert.Equal(t, rbac.IsSuperAdmin(p.Roles), s.IsSuperAdmin())
	}
}

func TestSuperAdminIsNotAdmin(t *testing.T) {
	p := instructor()
	p.Roles = []rbac.RoleName{"admin", "super-admin"}
	s := NewStore(memKV{}, &fakeGateway{grant: Grant{Token: "t", User: p}})
	s.Boot(context.Background())
	s.Login(context.Background(), "a@b.c", "password1")
	assert.True(t, s.IsSuperAdmin())
	assert.False(t, s.IsAdmin())
	role, ok := s.PrimaryRole()
	assert.True(t, ok)
	assert.Equal(t, rbac.RoleName("super-admin"), role)
}

func TestStoreSatisfiesGuardSubject(t *testing.T) {
	var _ rbac.Subject = (*Store)(nil)

	s := NewStore(memKV{}, &fakeGateway{grant: Grant{Token: "t", User: instructor()}})
	assert.Equal(t, rbac.OutcomePending, rbac.Decide(s, rbac.Requirement{}).Outcome)
	s.Boot(context.Background())
	assert.Equal(t, rbac.OutcomeRedirect, rbac.Decide(s, rbac.Requirement{}).Outcome)
	s.Login(context.Background(), "a@b.c", "password1")
	assert.Equal(t, rbac.OutcomeAllow, rbac.Decide(s, rbac.Requirement{Role: "Instructor"}).Outcome)
	assert.Equal(t, rbac.OutcomeDeny, rbac.Decide(s, rbac.Requirement{Roles: []rbac.RoleName{"Admin"}, Role: "Instructor"}).Outcome)
}

func TestPrincipalDecodesMixedRoles(t *testing.T) {
	var p Principal
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"name":"Sam","roles":["Student",{"name":"Instructor"},42,null],"organization":{"id":9,"name":"Blue Sky"}}`), &p))
	assert.Equal(t, []rbac.RoleName{"student", "instructor", "", ""}, p.Roles)
	assert.Equal(t, int64(9), p.OrganizationID())
	assert.Equal(t, int64(0), Principal{}.OrganizationID())
}
