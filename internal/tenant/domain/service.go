package domain

import (
	"context"

	"github.com/smallbiznis/waiterless/internal/errs"
)

type OnboardRequest struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	TaxRateBps *int64 `json:"tax_rate_bps"`
}

// Service is the tenant registry.
type Service interface {
	Onboard(ctx context.Context, req OnboardRequest) (Tenant, error)
	// Resolve accepts an external tenant key: the numeric id or the slug.
	Resolve(ctx context.Context, key string) (TenantContext, error)
	Get(ctx context.Context, key string) (Tenant, error)
	Deactivate(ctx context.Context, key string) (Tenant, error)
	Activate(ctx context.Context, key string) (Tenant, error)
}

var (
	ErrTenantNotFound = errs.New(errs.ErrNotFound, "tenant_not_found")
	ErrTenantInactive = errs.ErrTenantInactive
	ErrInvalidName    = errs.New(errs.ErrInvalidRequest, "invalid_name")
	ErrInvalidSlug    = errs.New(errs.ErrInvalidRequest, "invalid_slug")
	ErrInvalidTaxRate = errs.New(errs.ErrInvalidRequest, "invalid_tax_rate")
	ErrSlugTaken      = errs.New(errs.ErrConflict, "slug_taken")
)
