package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is one cafe. Every order, table, event and subscription is scoped to it.
type Tenant struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"not null" json:"name"`
	Slug       string       `gorm:"not null;uniqueIndex" json:"slug"`
	Active     bool         `gorm:"not null;default:true" json:"active"`
	TaxRateBps int64        `gorm:"not null;default:800" json:"tax_rate_bps"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// TenantContext is the resolved view of a tenant carried through a request.
type TenantContext struct {
	ID         snowflake.ID
	Slug       string
	Name       string
	Active     bool
	TaxRateBps int64
}

func (t Tenant) Context() TenantContext {
	return TenantContext{
		ID:         t.ID,
		Slug:       t.Slug,
		Name:       t.Name,
		Active:     t.Active,
		TaxRateBps: t.TaxRateBps,
	}
}

// RequireActive rejects mutations for deactivated tenants.
func (t TenantContext) RequireActive() error {
	if !t.Active {
		return ErrTenantInactive
	}
	return nil
}
