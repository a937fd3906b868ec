package repository

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/tenant/domain"
	"gorm.io/gorm"
)

type memoryRepo struct {
	mu     sync.RWMutex
	byID   map[snowflake.ID]domain.Tenant
	bySlug map[string]snowflake.ID
}

// NewMemory returns a process-local repository. The db argument of every
// method is ignored.
func NewMemory() domain.Repository {
	return &memoryRepo{
		byID:   make(map[snowflake.ID]domain.Tenant),
		bySlug: make(map[string]snowflake.ID),
	}
}

func (r *memoryRepo) Insert(_ context.Context, _ *gorm.DB, tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.bySlug[tenant.Slug]; taken {
		return domain.ErrSlugTaken
	}
	r.byID[tenant.ID] = *tenant
	r.bySlug[tenant.Slug] = tenant.ID
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, _ *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenant, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &tenant, nil
}

func (r *memoryRepo) FindBySlug(_ context.Context, _ *gorm.DB, slug string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySlug[slug]
	if !ok {
		return nil, nil
	}
	tenant := r.byID[id]
	return &tenant, nil
}

func (r *memoryRepo) UpdateActive(_ context.Context, _ *gorm.DB, id snowflake.ID, active bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.byID[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	tenant.Active = active
	tenant.UpdatedAt = at
	r.byID[id] = tenant
	return nil
}
