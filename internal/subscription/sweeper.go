package subscription

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

// RunSweeper expires replay buffers until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := m.Sweep()
		if stats.TopicsRemoved > 0 {
			m.log.Debug("replay buffers swept",
				zap.Int("tenants", stats.Tenants),
				zap.Int("topics_removed", stats.TopicsRemoved),
				zap.Int("buffered", stats.Buffered),
			)
		}
	}
}
