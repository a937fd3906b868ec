package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/waiterless/internal/cache"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/tenant/domain"
	"github.com/smallbiznis/waiterless/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTaxRateBps = 10_000

type Params struct {
	fx.In

	DB     *gorm.DB `optional:"true"`
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Clock  clock.Clock
	Config config.Config
	Cache  cache.TenantResolverCache `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	cache      cache.TenantResolverCache
	defaultTax int64
}

func New(p Params) domain.Service {
	c := p.Cache
	if c == nil {
		c = cache.NewTenantResolverCache(p.Config.TenantCacheTTL)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("tenant.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		cache:      c,
		defaultTax: p.Config.DefaultTaxRateBps,
	}
}

func (s *Service) Onboard(ctx context.Context, req domain.OnboardRequest) (domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Tenant{}, domain.ErrInvalidName
	}

	source := strings.TrimSpace(req.Slug)
	if source == "" {
		source = name
	}
	tenantSlug := slug.Make(source)
	if tenantSlug == "" || isNumeric(tenantSlug) {
		return domain.Tenant{}, domain.ErrInvalidSlug
	}

	taxRate := s.defaultTax
	if req.TaxRateBps != nil {
		taxRate = *req.TaxRateBps
	}
	if taxRate < 0 || taxRate > maxTaxRateBps {
		return domain.Tenant{}, domain.ErrInvalidTaxRate
	}

	now := s.clock.Now()
	tenant := domain.Tenant{
		ID:         s.genID.Generate(),
		Name:       name,
		Slug:       tenantSlug,
		Active:     true,
		TaxRateBps: taxRate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, s.db, &tenant); err != nil {
		if errors.Is(err, domain.ErrSlugTaken) || db.IsDuplicateKeyErr(err) {
			return domain.Tenant{}, domain.ErrSlugTaken
		}
		return domain.Tenant{}, err
	}

	s.log.Info("tenant onboarded",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
	)
	return tenant, nil
}

func (s *Service) Resolve(ctx context.Context, key string) (domain.TenantContext, error) {
	if cached, ok := s.cache.GetTenant(key); ok {
		return cached, nil
	}
	generation := s.cache.Generation()
	tenant, err := s.Get(ctx, key)
	if err != nil {
		return domain.TenantContext{}, err
	}
	tc := tenant.Context()
	s.cache.SetTenant(tc, generation)
	return tc, nil
}

func (s *Service) Get(ctx context.Context, key string) (domain.Tenant, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}

	var (
		tenant *domain.Tenant
		err    error
	)
	if id, parseErr := snowflake.ParseString(key); parseErr == nil && isNumeric(key) {
		tenant, err = s.repo.FindByID(ctx, s.db, id)
	} else {
		tenant, err = s.repo.FindBySlug(ctx, s.db, key)
	}
	if err != nil {
		return domain.Tenant{}, err
	}
	if tenant == nil {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return *tenant, nil
}

func (s *Service) Deactivate(ctx context.Context, key string) (domain.Tenant, error) {
	return s.setActive(ctx, key, false)
}

func (s *Service) Activate(ctx context.Context, key string) (domain.Tenant, error) {
	return s.setActive(ctx, key, true)
}

func (s *Service) setActive(ctx context.Context, key string, active bool) (domain.Tenant, error) {
	tenant, err := s.Get(ctx, key)
	if err != nil {
		return domain.Tenant{}, err
	}
	if tenant.Active == active {
		return tenant, nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateActive(ctx, s.db, tenant.ID, active, now); err != nil {
		return domain.Tenant{}, err
	}
	tenant.Active = active
	tenant.UpdatedAt = now
	s.cache.InvalidateTenant(tenant.Context())

	s.log.Info("tenant activation changed",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Bool("active", active),
	)
	return tenant, nil
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
