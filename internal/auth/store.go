package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flightdeck/flightdeck/internal/rbac"
)

// Keys the store persists into the session.
const (
	TokenKey = "auth_token"
	UserKey  = "auth_user"
)

// KV is the persisted key-value storage behind a Store.
type KV interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// Gateway is the backend authentication API.
type Gateway interface {
	Login(ctx context.Context, email, password string) (Grant, error)
	Register(ctx context.Context, reg Registration) (Grant, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (Principal, error)
}

// RevocationQueue schedules a retry of a failed remote logout.
type RevocationQueue interface {
	EnqueueRevocation(ctx context.Context, token string, userID int64) error
}

// Store holds the signed-in principal for one request and persists it into
// the session. All predicates are answered from sets computed once per
// principal.
type Store struct {
	mu      sync.RWMutex
	kv      KV
	gateway Gateway
	revoker RevocationQueue
	logger  *slog.Logger
	now     func() time.Time

	state State
	token string
	user  *Principal
	roles rbac.RoleSet
	perms rbac.PermissionSet
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRevocationQueue hands failed remote logouts to q.
func WithRevocationQueue(q RevocationQueue) Option {
	return func(s *Store) { s.revoker = q }
}

// WithClock overrides the clock used to check token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a store in the loading state.
func NewStore(kv KV, gateway Gateway, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		gateway: gateway,
		logger:  slog.Default(),
		now:     time.Now,
		state:   StateLoading,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Boot resolves the loading state from persisted data. Calls after the first
// return the current state.
func (s *Store) Boot(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading {
		return s.state
	}

	token := s.kvGet(TokenKey)
	if token == "" {
		s.state = StateUnauthenticated
		return s.state
	}
	if tokenExpired(token, s.now()) {
		s.clearPersisted()
		s.state = StateUnauthenticated
		return s.state
	}
	if raw := s.kvGet(UserKey); raw != "" {
		var user Principal
		if err := json.Unmarshal([]byte(raw), &user); err == nil {
			s.setPrincipal(token, &user)
			return s.state
		}
		s.logger.Warn("auth: discard unreadable principal snapshot")
	}

	if s.gateway == nil {
		s.state = StateUnauthenticated
		return s.state
	}
	user, err := s.gateway.CurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.clearPersisted()
		} else {
			s.logger.Warn("auth: rehydrate principal", slog.Any("error", err))
		}
		s.state = StateUnauthenticated
		return s.state
	}
	s.setPrincipal(token, &user)
	s.persist()
	return s.state
}

// Login authenticates with the backend. Failure leaves the store untouched.
func (s *Store) Login(ctx context.Context, email, password string) Result {
	if s.gateway == nil {
		return Result{Message: "Sign in is unavailable."}
	}
	grant, err := s.gateway.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		s.logger.Info("auth: login failed", slog.Any("error", err))
		return Result{Message: failureMessage(err, "Invalid email or password.")}
	}
	s.adopt(grant)
	return Result{Success: true}
}

// Register creates an account and signs it in.
func (s *Store) Register(ctx context.Context, reg Registration) Result {
	if s.gateway == nil {
		return Result{Message: "Registration is unavailable."}
	}
	reg.Email = strings.TrimSpace(reg.Email)
	grant, err := s.gateway.Register(ctx, reg)
	if err != nil {
		s.logger.Info("auth: register failed", slog.Any("error", err))
		return Result{Message: failureMessage(err, "Registration failed. Please try again.")}
	}
	s.adopt(grant)
	return Result{Success: true}
}

// Logout clears the principal whether or not the backend accepts the call.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	var userID int64
	if s.user != nil {
		userID = s.user.ID
	}
	s.clearPersisted()
	s.user = nil
	s.token = ""
	s.roles = nil
	s.perms = nil
	s.state = StateUnauthenticated
	s.mu.Unlock()

	if token == "" || s.gateway == nil {
		return
	}
	if err := s.gateway.Logout(ctx, token); err != nil {
		s.logger.Warn("auth: remote logout", slog.Any("error", err), slog.Int64("user_id", userID))
		if s.revoker == nil || errors.Is(err, ErrUnauthorized) {
			return
		}
		if qerr := s.revoker.EnqueueRevocation(ctx, token, userID); qerr != nil {
			s.logger.Error("auth: enqueue revocation", slog.Any("error", qerr))
		}
	}
}

// RefreshUser replaces the principal with the backend's current view.
func (s *Store) RefreshUser(ctx context.Context) RefreshResult {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" || s.gateway == nil {
		return RefreshResult{}
	}
	user, err := s.gateway.CurrentUser(ctx, token)
	if err != nil {
		s.logger.Warn("auth: refresh principal", slog.Any("error", err))
		return RefreshResult{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != token {
		return RefreshResult{}
	}
	s.setPrincipal(token, &user)
	s.persist()
	cp := user
	return RefreshResult{Success: true, User: &cp}
}

// State returns the lifecycle state. A nil store is unauthenticated.
func (s *Store) State() State {
	if s == nil {
		return StateUnauthenticated
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Loading reports whether Boot has not completed.
func (s *Store) Loading() bool {
	return s.State() == StateLoading
}

// IsAuthenticated reports whether a principal is signed in.
func (s *Store) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// User returns a copy of the principal, or nil.
func (s *Store) User() *Principal {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

// Token returns the backend bearer token.
func (s *Store) Token() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Roles returns the principal's normalized roles.
func (s *Store) Roles() []rbac.RoleName {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	return append([]rbac.RoleName(nil), s.user.Roles...)
}

// HasRole reports whether the principal holds any of the roles.
func (s *Store) HasRole(roles ...rbac.RoleName) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles.HasAny(roles...)
}

// HasPermission reports whether the principal holds the permission.
func (s *Store) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms.Has(permission)
}

// IsSuperAdmin reports whether the principal holds any Super Admin alias.
func (s *Store) IsSuperAdmin() bool {
	return s.HasRole(rbac.SuperAdminAliases()...)
}

// IsAdmin reports whether the principal is an Admin but not a Super Admin.
func (s *Store) IsAdmin() bool {
	return s.HasRole(rbac.RoleAdmin) && !s.IsSuperAdmin()
}

// IsInstructor reports whether the principal holds the Instructor role.
func (s *Store) IsInstructor() bool {
	return s.HasRole(rbac.RoleInstructor)
}

// IsStudent reports whether the principal holds the Student role.
func (s *Store) IsStudent() bool {
	return s.HasRole(rbac.RoleStudent)
}

// PrimaryRole returns the principal's highest ranked role.
func (s *Store) PrimaryRole() (rbac.RoleName, bool) {
	return rbac.PrimaryRole(s.Roles())
}

func (s *Store) adopt(grant Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := grant.User
	s.setPrincipal(grant.Token, &user)
	s.persist()
}

// setPrincipal must be called with mu held.
func (s *Store) setPrincipal(token string, user *Principal) {
	s.token = token
	s.user = user
	s.roles = rbac.NewRoleSet(user.Roles)
	s.perms = rbac.NewPermissionSet(user.Permissions)
	s.state = StateAuthenticated
}

func (s *Store) persist() {
	if s.kv == nil {
		return
	}
	s.kv.Set(TokenKey, s.token)
	if s.user == nil {
		s.kv.Delete(UserKey)
		return
	}
	raw, err := json.Marshal(s.user)
	if err != nil {
		s.logger.Warn("auth: encode principal snapshot", slog.Any("error", err))
		return
	}
	s.kv.Set(UserKey, string(raw))
}

func (s *Store) clearPersisted() {
	if s.kv == nil {
		return
	}
	s.kv.Delete(TokenKey)
	s.kv.Delete(UserKey)
}

func (s *Store) kvGet(key string) string {
	if s.kv == nil {
		return ""
	}
	return s.kv.Get(key)
}

// tokenExpired inspects the exp claim without verifying the signature. Tokens
// that are not JWTs, or carry no exp, are left to the backend.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

type userMessager interface {
	UserMessage() string
}

func failureMessage(err error, fallback string) string {
	var um userMessager
	if errors.As(err, &um) {
		if msg := strings.TrimSpace(um.UserMessage()); msg != "" {
			return msg
		}
	}
	return fallback
}
