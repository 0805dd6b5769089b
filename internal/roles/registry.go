package roles

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegistrySize bounds the number of principals with a cached catalog.
const DefaultRegistrySize = 1024

// Registry hands out one Cache per principal. Least recently used caches are
// evicted once the registry is full.
type Registry struct {
	mu     sync.Mutex
	caches *lru.Cache[int64, *Cache]
	lister Lister
	opts   []CacheOption
}

// NewRegistry builds a registry whose caches fetch through lister.
func NewRegistry(size int, lister Lister, opts ...CacheOption) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	caches, err := lru.New[int64, *Cache](size)
	if err != nil {
		return nil, fmt.Errorf("roles: new registry: %w", err)
	}
	return &Registry{caches: caches, lister: lister, opts: opts}, nil
}

// For returns the principal's cache, creating it on first use.
func (r *Registry) For(principalID int64) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches.Get(principalID); ok {
		return c
	}
	c := NewCache(r.lister, r.opts...)
	r.caches.Add(principalID, c)
	return c
}

// Forget drops the principal's cache, typically on logout.
func (r *Registry) Forget(principalID int64) {
	r.caches.Remove(principalID)
}

// Len returns the number of cached principals.
func (r *Registry) Len() int {
	return r.caches.Len()
}
