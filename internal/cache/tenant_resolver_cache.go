package cache

import (
	"strings"
	"sync"
	"time"

	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
)

const defaultTenantTTL = 30 * time.Second

// TenantResolverCache stores hot-path tenant lookups keyed by id and by slug.
//
// Callers read Generation before loading a tenant from the repository and pass
// it to SetTenant. Every invalidation bumps the generation, so a load that
// raced with a deactivation is never cached.
type TenantResolverCache interface {
	GetTenant(key string) (tenantdomain.TenantContext, bool)
	Generation() uint64
	SetTenant(tenant tenantdomain.TenantContext, generation uint64) bool
	InvalidateTenant(tenant tenantdomain.TenantContext)
}

type tenantResolverCache struct {
	tenants Cache[string, tenantdomain.TenantContext]
	ttl     time.Duration

	// mu orders SetTenant against InvalidateTenant.
	mu         sync.Mutex
	generation uint64
}

// NewTenantResolverCache returns an in-memory cache for tenant resolution.
// A non-positive ttl falls back to the default.
func NewTenantResolverCache(ttl time.Duration) TenantResolverCache {
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	return &tenantResolverCache{
		tenants: NewTTLCache[string, tenantdomain.TenantContext](),
		ttl:     ttl,
	}
}

func (c *tenantResolverCache) GetTenant(key string) (tenantdomain.TenantContext, bool) {
	return c.tenants.Get(cacheKey(key))
}

func (c *tenantResolverCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetTenant caches tenant unless an invalidation happened after generation
// was read. It reports whether the entry was stored.
func (c *tenantResolverCache) SetTenant(tenant tenantdomain.TenantContext, generation uint64) bool {
	if tenant.ID == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return false
	}
	c.tenants.Set(cacheKey(tenant.ID.String()), tenant, c.ttl)
	if tenant.Slug != "" {
		c.tenants.Set(cacheKey(tenant.Slug), tenant, c.ttl)
	}
	return true
}

func (c *tenantResolverCache) InvalidateTenant(tenant tenantdomain.TenantContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.tenants.Delete(cacheKey(tenant.ID.String()))
	if tenant.Slug != "" {
		c.tenants.Delete(cacheKey(tenant.Slug))
	}
}

func cacheKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
