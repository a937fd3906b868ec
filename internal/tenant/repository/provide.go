package repository

import (
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/tenant/domain"
	"gorm.io/gorm"
)

func Provide(cfg config.Config) domain.Repository {
	if cfg.UsesSQL() {
		return NewSQL()
	}
	return NewMemory()
}

// AutoMigrate creates the tenants table when the sql backend is active.
func AutoMigrate(cfg config.Config, db *gorm.DB) error {
	if db == nil || !cfg.DBAutoMigrate {
		return nil
	}
	return db.AutoMigrate(&domain.Tenant{})
}
