package store

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("order.store",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB `optional:"true"`
	GenID   *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.EngineMetrics `optional:"true"`
}

// New returns the configured backend behind the retry policy.
func New(p Params) (domain.Store, error) {
	var backend domain.Store
	if p.Config.UsesSQL() && p.DB != nil {
		if p.Config.DBAutoMigrate {
			if err := AutoMigrate(p.DB); err != nil {
				return nil, err
			}
		}
		backend = NewSQLStore(p.DB, p.GenID, p.Clock, p.Log, p.Metrics)
	} else {
		backend = NewMemoryStore(p.GenID, p.Clock, p.Log, p.Metrics)
	}

	p.Log.Info("order store ready", zap.String("backend", p.Config.StoreBackend))
	return NewRetryingStore(backend, RetryConfig{
		Attempts: p.Config.StoreRetryAttempts,
		Initial:  p.Config.StoreRetryInitial,
		Max:      p.Config.StoreRetryMax,
	}, p.Log, p.Metrics), nil
}
