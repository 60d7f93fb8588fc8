package authz

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the default time-to-live for cached role lookups.
const DefaultCacheTTL = 30 * time.Second

// RoleResolver returns the role tags held by a user.
type RoleResolver interface {
	RoleTags(ctx context.Context, user string) ([]string, error)
}

// RoleResolverFunc adapts a function to RoleResolver.
type RoleResolverFunc func(ctx context.Context, user string) ([]string, error)

// RoleTags calls f.
func (f RoleResolverFunc) RoleTags(ctx context.Context, user string) ([]string, error) {
	return f(ctx, user)
}

// cacheEntry stores cached role tags with their expiration time.
type cacheEntry struct {
	roles     []string
	expiresAt time.Time
}

// CachedRoleResolver wraps another RoleResolver with a short-lived in-memory
// cache so that each API call does not hit the role directory.
type CachedRoleResolver struct {
	inner RoleResolver
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCachedRoleResolver creates a CachedRoleResolver that wraps inner with the given TTL.
func NewCachedRoleResolver(inner RoleResolver, ttl time.Duration) *CachedRoleResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedRoleResolver{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// RoleTags checks the cache first and delegates to the inner resolver on miss.
// Errors are not cached.
func (c *CachedRoleResolver) RoleTags(ctx context.Context, user string) ([]string, error) {
	key := cacheKey(user)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.roles, nil
	}

	roles, err := c.inner.RoleTags(ctx, user)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{
		roles:     roles,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return roles, nil
}

// Invalidate drops the cached roles of user.
func (c *CachedRoleResolver) Invalidate(user string) {
	c.mu.Lock()
	delete(c.cache, cacheKey(user))
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *CachedRoleResolver) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func cacheKey(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}
