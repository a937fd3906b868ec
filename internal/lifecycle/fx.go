package lifecycle

import (
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lifecycle.coordinator",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Tenants tenantdomain.Service
	Store   domain.Store
	Bus     *eventbus.Bus
	Clock   clock.Clock
	Log     *zap.Logger
	Engine  *metrics.EngineMetrics `optional:"true"`
	Metrics *metrics.Metrics       `optional:"true"`
}

func New(p Params) *Coordinator {
	return NewCoordinator(Options{
		Tenants: p.Tenants,
		Store:   p.Store,
		Bus:     p.Bus,
		Clock:   p.Clock,
		Log:     p.Log,
		Engine:  p.Engine,
		Metrics: p.Metrics,
	})
}
