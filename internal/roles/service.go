package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/platform/httpx"
	"github.com/flightdeck/flightdeck/internal/rbac"
	"github.com/flightdeck/flightdeck/internal/shared"
)

// Gateway is the backend role management API.
type Gateway interface {
	Lister
	GetRole(ctx context.Context, token string, id int64) (Entry, error)
	CreateRole(ctx context.Context, token string, draft Draft) (Entry, error)
	RenameRole(ctx context.Context, token string, id int64, name string) (Entry, error)
	DeleteRole(ctx context.Context, token string, id int64) error
	ListPermissions(ctx context.Context, token string) ([]string, error)
	UpdateRolePermissions(ctx context.Context, token string, id int64, permissions []string) (Update, error)
}

// Actor is the signed-in principal performing a role change.
type Actor interface {
	Session
	User() *auth.Principal
	HasRole(roles ...rbac.RoleName) bool
	RefreshUser(ctx context.Context) auth.RefreshResult
}

// Viewer is whose perspective a catalog is filtered for.
type Viewer struct {
	Roles          []rbac.RoleName
	OrganizationID int64
}

// ViewerOf builds the Viewer for a principal.
func ViewerOf(p *auth.Principal) Viewer {
	if p == nil {
		return Viewer{}
	}
	return Viewer{Roles: p.Roles, OrganizationID: p.OrganizationID()}
}

// Catalog is the role matrix shown to a viewer.
type Catalog struct {
	Roles       []Entry
	Permissions []string
	FetchedAt   time.Time
	Err         error
}

// Stale reports whether roles are shown from cache after a failed refresh.
func (c Catalog) Stale() bool {
	return c.Err != nil && len(c.Roles) > 0
}

// Service handles role business logic.
type Service struct {
	gateway  Gateway
	registry *Registry
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(gateway Gateway, registry *Registry, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: gateway, registry: registry, audit: audit, logger: logger}
}

// Visible filters entries for viewer. A Super Admin sees every role. An Admin
// sees the shared instructor and student roles and the roles owned by their
// organization; an organization copy hides the shared role of the same name.
// Anyone else sees nothing.
func (s *Service) Visible(viewer Viewer, entries []Entry) []Entry {
	if rbac.IsSuperAdmin(viewer.Roles) {
		return cloneEntries(entries)
	}
	if !rbac.IsAdmin(viewer.Roles) {
		return []Entry{}
	}

	owned := make(map[rbac.RoleName]struct{})
	for _, e := range entries {
		if e.OwnedBy(viewer.OrganizationID) {
			owned[e.Normalized()] = struct{}{}
		}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.OwnedBy(viewer.OrganizationID):
			out = append(out, e.clone())
		case e.IsSharedSystem():
			if _, hidden := owned[e.Normalized()]; !hidden {
				out = append(out, e.clone())
			}
		}
	}
	return out
}

// Catalog loads the role matrix for actor.
func (s *Service) Catalog(ctx context.Context, actor Actor, force bool) (Catalog, error) {
	cache, user, err := s.cacheFor(actor)
	if err != nil {
		return Catalog{}, err
	}
	list := cache.FetchRoles(ctx, actor, force)
	out := Catalog{
		Roles:     s.Visible(ViewerOf(user), list),
		FetchedAt: cache.LastFetchedAt(),
		Err:       cache.Err(),
	}
	perms, err := s.ListPermissions(ctx, actor)
	if err != nil {
		s.logger.Warn("roles: list permissions", slog.Any("error", err))
	}
	out.Permissions = perms
	return out, nil
}

// ListPermissions returns the permissions a role can be granted. The core
// dashboard scopes are used when the backend lists none.
func (s *Service) ListPermissions(ctx context.Context, actor Actor) ([]string, error) {
	if actor == nil || !actor.IsAuthenticated() {
		return nil, ErrNoSession
	}
	perms, err := s.gateway.ListPermissions(ctx, actor.Token())
	if err != nil {
		return shared.CoreScopes(), fmt.Errorf("roles: list permissions: %w", err)
	}
	perms = rbac.NormalizePermissions(perms)
	if len(perms) == 0 {
		return shared.CoreScopes(), nil
	}
	return perms, nil
}

// TogglePermission grants or revokes permission on a role. Editing a shared
// system role as an Admin may fork it into an organization copy; the cached
// catalog is reconciled either way. When the actor holds the role their
// principal is refreshed.
func (s *Service) TogglePermission(ctx context.Context, actor Actor, roleID int64, permission string, enabled bool) (Update, error) {
	cache, user, err := s.cacheFor(actor)
	if err != nil {
		return Update{}, err
	}
	permission = rbac.NormalizePermission(permission)
	if permission == "" {
		return Update{}, ErrInvalidPermission
	}
	role, err := s.find(ctx, cache, actor, user, roleID)
	if err != nil {
		return Update{}, err
	}
	if role.IsSuperAdmin() {
		return Update{}, ErrProtectedRole
	}

	update, err := s.gateway.UpdateRolePermissions(ctx, actor.Token(), roleID, role.WithPermission(permission, enabled))
	if err != nil {
		return Update{}, fmt.Errorf("roles: update permissions: %w", err)
	}
	cache.Apply(update)

	action := shared.AuditRolePermissions
	meta := map[string]any{"permission": permission, "enabled": enabled}
	if update.Kind == UpdateForked {
		action = shared.AuditRoleForked
		meta["previous_id"] = update.PreviousID
	}
	s.record(ctx, user.ID, action, update.Role.ID, meta)

	if actor.HasRole(rbac.RoleName(role.Name)) {
		if res := actor.RefreshUser(ctx); !res.Success {
			s.logger.Warn("roles: refresh actor after permission change", slog.Int64("role_id", roleID))
		}
	}
	return update, nil
}

// CreateRole adds a role to the actor's organization.
func (s *Service) CreateRole(ctx context.Context, actor Actor, draft Draft) (Entry, error) {
	cache, user, err := s.cacheFor(actor)
	if err != nil {
		return Entry{}, err
	}
	draft.Name = strings.TrimSpace(draft.Name)
	if draft.Name == "" {
		return Entry{}, ErrInvalidName
	}
	draft.Permissions = rbac.NormalizePermissions(draft.Permissions)
	entry, err := s.gateway.CreateRole(ctx, actor.Token(), draft)
	if err != nil {
		return Entry{}, fmt.Errorf("roles: create: %w", err)
	}
	cache.Apply(Applied(entry))
	s.record(ctx, user.ID, shared.AuditRoleCreated, entry.ID, map[string]any{"name": entry.Name})
	return entry, nil
}

// RenameRole changes a role's display name.
func (s *Service) RenameRole(ctx context.Context, actor Actor, roleID int64, name string) (Entry, error) {
	cache, user, err := s.cacheFor(actor)
	if err != nil {
		return Entry{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, ErrInvalidName
	}
	role, err := s.find(ctx, cache, actor, user, roleID)
	if err != nil {
		return Entry{}, err
	}
	if role.IsSuperAdmin() {
		return Entry{}, ErrProtectedRole
	}
	entry, err := s.gateway.RenameRole(ctx, actor.Token(), roleID, name)
	if err != nil {
		return Entry{}, fmt.Errorf("roles: rename: %w", err)
	}
	cache.Apply(Applied(entry))
	return entry, nil
}

// DeleteRole removes a role. The Super Admin role cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, actor Actor, roleID int64) error {
	cache, user, err := s.cacheFor(actor)
	if err != nil {
		return err
	}
	role, err := s.find(ctx, cache, actor, user, roleID)
	if err != nil {
		return err
	}
	if !role.Deletable() {
		return ErrProtectedRole
	}
	if err := s.gateway.DeleteRole(ctx, actor.Token(), roleID); err != nil {
		return fmt.Errorf("roles: delete: %w", err)
	}
	cache.Remove(roleID)
	s.record(ctx, user.ID, shared.AuditRoleDeleted, roleID, map[string]any{"name": role.Name})
	return nil
}

// Forget drops the cached catalog of a principal.
func (s *Service) Forget(principalID int64) {
	s.registry.Forget(principalID)
}

func (s *Service) cacheFor(actor Actor) (*Cache, *auth.Principal, error) {
	if actor == nil || !actor.IsAuthenticated() {
		return nil, nil, ErrNoSession
	}
	user := actor.User()
	if user == nil {
		return nil, nil, ErrNoSession
	}
	return s.registry.For(user.ID), user, nil
}

// find resolves id within the roles user may see. A role missing from the
// cached catalog is looked up on the backend, since another session may have
// created it after the last fetch.
func (s *Service) find(ctx context.Context, cache *Cache, actor Actor, user *auth.Principal, id int64) (Entry, error) {
	list := cache.FetchRoles(ctx, actor, false)
	if !containsRole(list, id) {
		entry, err := s.gateway.GetRole(ctx, actor.Token(), id)
		if errors.Is(err, httpx.ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		if err != nil {
			return Entry{}, fmt.Errorf("roles: get %d: %w", id, err)
		}
		list = append(list, entry)
	}
	for _, e := range s.Visible(ViewerOf(user), list) {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func containsRole(list []Entry, id int64) bool {
	for _, e := range list {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) record(ctx context.Context, actorID int64, action string, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   shared.AuditEntityRole,
		EntityID: strconv.FormatInt(roleID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("roles: record audit", slog.String("action", action), slog.Any("error", err))
	}
}
