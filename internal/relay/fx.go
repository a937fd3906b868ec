package relay

import (
	"context"
	"errors"

	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("relay",
	fx.Invoke(Register),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Bus       *eventbus.Bus
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

type sinkDialers struct {
	redis func(config.RelayConfig) (Sink, error)
	amqp  func(config.RelayConfig) (Sink, error)
}

var defaultDialers = sinkDialers{
	redis: func(cfg config.RelayConfig) (Sink, error) { return NewRedisSink(cfg), nil },
	amqp: func(cfg config.RelayConfig) (Sink, error) {
		sink, err := DialAMQP(cfg)
		if err != nil {
			return nil, err
		}
		return sink, nil
	},
}

// openSinks builds every configured sink. A failure closes the sinks already
// opened.
func openSinks(cfg config.RelayConfig, d sinkDialers) ([]Sink, error) {
	type entry struct {
		enabled bool
		dial    func(config.RelayConfig) (Sink, error)
	}
	var sinks []Sink
	for _, e := range []entry{
		{enabled: cfg.RedisEnabled(), dial: d.redis},
		{enabled: cfg.AMQPEnabled(), dial: d.amqp},
	} {
		if !e.enabled {
			continue
		}
		sink, err := e.dial(cfg)
		if err != nil {
			for _, opened := range sinks {
				err = errors.Join(err, opened.Close())
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// Register starts a relay when at least one sink is configured.
func Register(p Params) error {
	sinks, err := openSinks(p.Config.Relay, defaultDialers)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		return nil
	}

	tap := p.Bus.Tap("relay", p.Config.Relay.BufferSize)
	r := New(tap, sinks, p.Log, p.Metrics)

	var cancel context.CancelFunc
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			r.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			p.Bus.Untap(tap)
			if cancel != nil {
				cancel()
			}
			r.Wait()
			return r.Close()
		},
	})
	return nil
}
