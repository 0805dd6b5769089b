package roles

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default cache timings.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultCooldown = 30 * time.Second
)

// Fetch outcomes reported to an Observer.
const (
	FetchHit      = "hit"
	FetchCooldown = "cooldown"
	FetchShared   = "shared"
	FetchSuccess  = "success"
	FetchStale    = "stale"
	FetchFailure  = "failure"
)

// Session is the signed-in principal a fetch is made for.
type Session interface {
	IsAuthenticated() bool
	Token() string
}

// Lister loads the role catalog from the backend.
type Lister interface {
	ListRoles(ctx context.Context, token string) ([]Entry, error)
}

// Observer is notified of every FetchRoles outcome.
type Observer interface {
	ObserveRoleFetch(outcome string)
}

// Cache holds one principal's role catalog. Concurrent fetches share a
// single backend call.
type Cache struct {
	lister   Lister
	ttl      time.Duration
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
	group    singleflight.Group

	mu            sync.Mutex
	roles         []Entry
	lastFetchedAt time.Time
	lastErrorAt   time.Time
	err           error
	loading       bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides how long a successful fetch stays valid.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithCooldown overrides how long retries are suppressed after a failure.
func WithCooldown(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger for fetch failures.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver reports fetch outcomes to o.
func WithObserver(o Observer) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// NewCache builds an empty cache over lister.
func NewCache(lister Lister, opts ...CacheOption) *Cache {
	c := &Cache{
		lister:   lister,
		ttl:      DefaultTTL,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRoles returns the role catalog, calling the backend only when the
// cached copy is stale. While a fetch is in flight every caller, forced or
// not, receives that fetch's result. After a failure non-forced calls are
// answered from cache until the cooldown passes.
func (c *Cache) FetchRoles(ctx context.Context, sess Session, force bool) []Entry {
	if sess == nil || !sess.IsAuthenticated() {
		return []Entry{}
	}

	c.mu.Lock()
	if !force && c.validLocked() {
		out := cloneEntries(c.roles)
		c.mu.Unlock()
		c.observe(FetchHit)
		return out
	}
	if !c.loading && !force && c.coolingLocked() {
		out := cloneEntries(c.roles)
		c.mu.Unlock()
		c.observe(FetchCooldown)
		return out
	}
	c.mu.Unlock()

	token := sess.Token()
	v, _, joined := c.group.Do("roles", func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), token), nil
	})
	if joined {
		c.observe(FetchShared)
	}
	return cloneEntries(v.([]Entry))
}

// Refetch forces a backend call.
func (c *Cache) Refetch(ctx context.Context, sess Session) []Entry {
	return c.FetchRoles(ctx, sess, true)
}

func (c *Cache) fetch(ctx context.Context, token string) []Entry {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	list, err := c.lister.ListRoles(ctx, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err == nil {
		c.roles = cloneEntries(list)
		c.lastFetchedAt = c.now()
		c.lastErrorAt = time.Time{}
		c.err = nil
		c.observe(FetchSuccess)
		return cloneEntries(c.roles)
	}

	c.lastErrorAt = c.now()
	c.err = fmt.Errorf("roles: fetch catalog: %w", err)
	if len(c.roles) > 0 {
		c.logger.Warn("roles: serving stale catalog", slog.Any("error", err), slog.Int("roles", len(c.roles)))
		c.observe(FetchStale)
		return cloneEntries(c.roles)
	}
	c.logger.Error("roles: fetch catalog", slog.Any("error", err))
	c.observe(FetchFailure)
	return []Entry{}
}

// Roles returns the cached catalog without fetching.
func (c *Cache) Roles() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.roles)
}

// Loading reports whether a backend fetch is in flight.
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the last fetch error, cleared by the next success.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsCacheValid reports whether a non-empty catalog was fetched within the TTL.
func (c *Cache) IsCacheValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

// LastFetchedAt returns the time of the last successful fetch.
func (c *Cache) LastFetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFetchedAt
}

// Apply reconciles a permission update into the cached catalog. A forked
// copy takes the position of the shared role it replaces.
func (c *Cache) Apply(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	role := u.Role.clone()
	target := role.ID
	if u.Kind == UpdateForked {
		target = u.PreviousID
	}
	idx := indexOf(c.roles, target)
	if u.Kind == UpdateForked {
		if existing := indexOf(c.roles, role.ID); existing >= 0 && existing != idx {
			c.roles = append(c.roles[:existing], c.roles[existing+1:]...)
			idx = indexOf(c.roles, target)
		}
		if idx < 0 {
			idx = indexOf(c.roles, role.ID)
		}
	}
	if idx >= 0 {
		c.roles[idx] = role
		return
	}
	c.roles = append(c.roles, role)
}

// Remove drops a deleted role from the cached catalog.
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := indexOf(c.roles, id); idx >= 0 {
		c.roles = append(c.roles[:idx], c.roles[idx+1:]...)
	}
}

// Invalidate drops cached data and error state.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = nil
	c.lastFetchedAt = time.Time{}
	c.lastErrorAt = time.Time{}
	c.err = nil
}

func (c *Cache) validLocked() bool {
	if len(c.roles) == 0 || c.lastFetchedAt.IsZero() {
		return false
	}
	return c.now().Sub(c.lastFetchedAt) < c.ttl
}

func (c *Cache) coolingLocked() bool {
	if c.lastErrorAt.IsZero() {
		return false
	}
	return c.now().Sub(c.lastErrorAt) < c.cooldown
}

func (c *Cache) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveRoleFetch(outcome)
	}
}

func indexOf(list []Entry, id int64) int {
	for i, e := range list {
		if e.ID == id {
			return i
		}
	}
	return -1
}
