package tenant

import (
	"github.com/smallbiznis/waiterless/internal/cache"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/tenant/repository"
	"github.com/smallbiznis/waiterless/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) cache.TenantResolverCache {
		return cache.NewTenantResolverCache(cfg.TenantCacheTTL)
	}),
	fx.Provide(service.New),
	fx.Invoke(repository.AutoMigrate),
)
