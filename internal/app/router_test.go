package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/navigation"
	"github.com/flightdeck/flightdeck/internal/observability"
	"github.com/flightdeck/flightdeck/internal/rbac"
	rbachttp "github.com/flightdeck/flightdeck/internal/rbac/http"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
	_ "github.com/flightdeck/flightdeck/testing"
)

const testCookie = "flightdeck_session"

var csrfField = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type stubGateway struct {
	user auth.Principal
}

func (s *stubGateway) Login(ctx context.Context, email, password string) (auth.Grant, error) {
	if password != "correctpass" {
		return auth.Grant{}, auth.ErrUnauthorized
	}
	return auth.Grant{Token: "tok-1", User: s.user}, nil
}

func (s *stubGateway) Register(ctx context.Context, reg auth.Registration) (auth.Grant, error) {
	return auth.Grant{Token: "tok-2", User: s.user}, nil
}

func (s *stubGateway) Logout(ctx context.Context, token string) error { return nil }

func (s *stubGateway) CurrentUser(ctx context.Context, token string) (auth.Principal, error) {
	return s.user, nil
}

// browser carries the session cookie across requests.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name != testCookie {
			continue
		}
		if c.MaxAge < 0 {
			b.cookie = nil
		} else {
			b.cookie = c
		}
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) csrf(path string) string {
	b.t.Helper()
	rec := b.get(path)
	match := csrfField.FindStringSubmatch(rec.Body.String())
	require.Len(b.t, match, 2, "no csrf field on %s", path)
	return match[1]
}

func (b *browser) login() {
	b.t.Helper()
	token := b.csrf("/auth/login")
	rec := b.post("/auth/login", url.Values{
		"email":              {"pilot@school.test"},
		"password":           {"correctpass"},
		shared.CSRFFormField: {token},
	})
	require.Equal(b.t, http.StatusSeeOther, rec.Code)
	require.Equal(b.t, "/dashboard", rec.Header().Get("Location"))
}

type testApp struct {
	handler   http.Handler
	metrics   *observability.Metrics
	loggedOut []int64
}

func newTestApp(t *testing.T, user auth.Principal) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	templates, err := view.NewEngine()
	require.NoError(t, err)
	sessions := shared.NewSessionManager(redisClient, testCookie, "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	metrics := observability.NewMetrics()
	guard := rbachttp.Middleware{Templates: templates, Observer: metrics}

	a := &testApp{metrics: metrics}
	authHandler := auth.NewHandler(nil, templates, sessions, csrf, nil)
	authHandler.OnLogout(func(id int64) { a.loggedOut = append(a.loggedOut, id) })

	a.handler = NewRouter(RouterParams{
		Config:         &Config{AppEnv: "test", RateLimit: 1000},
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Gateway:        &stubGateway{user: user},
		Guard:          guard,
		AuthHandler:    authHandler,
		Metrics:        metrics,
	})
	return a
}

func (a *testApp) browser(t *testing.T) *browser {
	return &browser{t: t, handler: a.handler}
}

func student() auth.Principal {
	return auth.Principal{ID: 21, Name: "Sam Student", Email: "sam@school.test", Roles: []rbac.RoleName{"student"}}
}

func TestHealthz(t *testing.T) {
	rec := newTestApp(t, student()).browser(t).get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAnonymousVisitorIsSentToWelcome(t *testing.T) {
	b := newTestApp(t, student()).browser(t)

	rec := b.get("/")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, rbac.PublicEntryPath, rec.Header().Get("Location"))

	rec = b.get("/welcome")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/auth/login")
}

func TestUnknownPathRendersNotFound(t *testing.T) {
	rec := newTestApp(t, student()).browser(t).get("/no-such-page")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found")
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	b := newTestApp(t, student()).browser(t)
	b.get("/auth/login")

	rec := b.post("/auth/login", url.Values{"email": {"pilot@school.test"}, "password": {"correctpass"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginRendersRoleMenu(t *testing.T) {
	b := newTestApp(t, student()).browser(t)
	b.login()

	rec := b.get("/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Sam Student")
	assert.Contains(t, body, `href="/logbook"`)
	assert.NotContains(t, body, `href="/aircraft"`)
	assert.NotContains(t, body, `href="/permissions"`)

	rec = b.get("/welcome")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestPlaceholderPagesAreGuarded(t *testing.T) {
	app := newTestApp(t, student())
	b := app.browser(t)
	b.login()

	rec := b.get("/logbook")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Logbook")

	assert.Equal(t, http.StatusOK, b.get("/inbox").Code)

	rec = b.get("/aircraft")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin, Instructor")

	assert.Equal(t, http.StatusForbidden, b.get("/user-management").Code)

	metrics := httptest.NewRecorder()
	app.metrics.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `flightdeck_guard_decisions_total{outcome="deny"} 2`)
}

func TestLogoutClearsSessionAndRunsHooks(t *testing.T) {
	app := newTestApp(t, student())
	b := app.browser(t)
	b.login()

	token := b.csrf("/dashboard")
	rec := b.post("/auth/logout", url.Values{shared.CSRFFormField: {token}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []int64{21}, app.loggedOut)

	rec = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, rbac.PublicEntryPath, rec.Header().Get("Location"))
}

func TestPlaceholderRoutesWidenAcrossVariants(t *testing.T) {
	byLink := make(map[string]placeholderRoute)
	for _, route := range placeholderRoutes() {
		byLink[route.link] = route
	}

	assert.NotContains(t, byLink, "/dashboard")
	assert.NotContains(t, byLink, "/permissions")

	users := byLink["/user-management"]
	assert.Equal(t, "User Management", users.label)
	assert.True(t, rbac.HasRole(users.requirement.Roles, rbac.RoleSuperAdmin))
	assert.True(t, rbac.HasRole(users.requirement.Roles, rbac.RoleAdmin))

	assert.Empty(t, byLink["/inbox"].requirement.Roles)
	assert.Len(t, byLink["/logbook"].requirement.Roles, 2)

	var want []string
	for _, link := range navigation.Links() {
		if !reservedLinks[link] {
			want = append(want, link)
		}
	}
	var got []string
	for _, route := range placeholderRoutes() {
		got = append(got, route.link)
	}
	assert.Equal(t, want, got, "one route per sidebar link, in sidebar order")
}
