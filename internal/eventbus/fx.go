package eventbus

import (
	"context"

	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("eventbus",
	fx.Provide(ProvideEventLog),
	fx.Provide(New),
	fx.Invoke(StartPruner),
)

type LogParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB `optional:"true"`
}

// ProvideEventLog returns the durable log for the sql backend and nil otherwise.
func ProvideEventLog(p LogParams) (EventLog, error) {
	if !p.Config.UsesSQL() || p.DB == nil {
		return nil, nil
	}
	if p.Config.DBAutoMigrate {
		if err := MigrateEventLog(p.DB); err != nil {
			return nil, err
		}
	}
	return NewGormEventLog(p.DB), nil
}

type Params struct {
	fx.In

	Deliverer Deliverer
	EventLog  EventLog `optional:"true"`
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.EngineMetrics `optional:"true"`
}

func New(p Params) *Bus {
	return NewBus(Options{
		Deliverer: p.Deliverer,
		EventLog:  p.EventLog,
		Clock:     p.Clock,
		Log:       p.Log,
		Metrics:   p.Metrics,
	})
}

func StartPruner(lc fx.Lifecycle, cfg config.Config, eventLog EventLog, clk clock.Clock, log *zap.Logger) {
	if eventLog == nil {
		return
	}
	pruner := NewPruner(eventLog, cfg.EventLogRetention, 0, clk, log)

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go pruner.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
