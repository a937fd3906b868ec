// Package relay forwards bus events to external notification sinks.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/observability/logger"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	resultOK    = "ok"
	resultError = "error"

	defaultSendTimeout = 5 * time.Second
)

// Sink delivers one event to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev eventbus.Event) error
	Close() error
}

// Relay drains a bus tap and hands every event to each sink in order. Sink
// failures are logged and counted; they never reach the publisher.
type Relay struct {
	tap     *eventbus.Tap
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

func New(tap *eventbus.Tap, sinks []Sink, log *zap.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		tap:     tap,
		sinks:   sinks,
		timeout: defaultSendTimeout,
		log:     log.Named("relay"),
		metrics: m,
	}
}

// Start runs the dispatch loop until ctx is done or the tap is closed.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Wait blocks until the dispatch loop has returned.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.tap.C():
			if !ok {
				return
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, ev eventbus.Event) {
	for _, sink := range r.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := sink.Send(sendCtx, ev)
		cancel()

		if err != nil {
			r.metrics.RecordRelayDelivery(ctx, sink.Name(), resultError)
			logger.WithTenant(r.log, ev.TenantID.String()).Warn("relay delivery failed",
				zap.String("sink", sink.Name()),
				zap.Uint64("sequence", ev.Sequence),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
			continue
		}
		r.metrics.RecordRelayDelivery(ctx, sink.Name(), resultOK)
	}
}

func (r *Relay) Close() error {
	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
