package subscription

import (
	"context"

	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("subscription.manager",
	fx.Provide(New),
	fx.Provide(func(m *Manager) eventbus.Deliverer { return m }),
	fx.Invoke(StartSweeper),
)

type Params struct {
	fx.In

	Tuning  *config.ReplayTuningHolder
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.EngineMetrics `optional:"true"`
}

func New(p Params) *Manager {
	return NewManager(p.Tuning, p.Clock, p.Log, p.Metrics)
}

func StartSweeper(lc fx.Lifecycle, cfg config.Config, m *Manager) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go m.RunSweeper(ctx, cfg.SweepInterval)
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
