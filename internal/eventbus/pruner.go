package eventbus

import (
	"context"
	"time"

	"github.com/smallbiznis/waiterless/internal/clock"
	"go.uber.org/zap"
)

const defaultPruneInterval = 10 * time.Minute

// Pruner trims the durable event log to the retention window.
type Pruner struct {
	eventLog  EventLog
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	log       *zap.Logger
}

func NewPruner(eventLog EventLog, retention, interval time.Duration, clk clock.Clock, log *zap.Logger) *Pruner {
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &Pruner{
		eventLog:  eventLog,
		retention: retention,
		interval:  interval,
		clock:     clk,
		log:       log.Named("eventbus.pruner"),
	}
}

func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.clock.Now().Add(-p.retention)
	removed, err := p.eventLog.Prune(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		p.log.Info("event log pruned", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (p *Pruner) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("event log prune failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
