package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/zap"
)

const defaultTapBuffer = 256

// Tap observes every published event through a bounded channel. A full tap
// loses events instead of slowing the publisher.
type Tap struct {
	name    string
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

func (t *Tap) Name() string { return t.name }

func (t *Tap) C() <-chan Event { return t.ch }

func (t *Tap) Dropped() uint64 { return t.dropped.Load() }

// Tap registers a new observer. Close it with Untap.
func (b *Bus) Tap(name string, buffer int) *Tap {
	if buffer <= 0 {
		buffer = defaultTapBuffer
	}
	tap := &Tap{name: name, ch: make(chan Event, buffer)}
	b.tapMu.Lock()
	b.taps[tap] = struct{}{}
	b.tapMu.Unlock()
	return tap
}

// Untap removes tap and closes its channel.
func (b *Bus) Untap(tap *Tap) {
	b.tapMu.Lock()
	delete(b.taps, tap)
	b.tapMu.Unlock()
	tap.once.Do(func() { close(tap.ch) })
}

func (b *Bus) notifyTaps(ev Event) {
	b.tapMu.RLock()
	defer b.tapMu.RUnlock()
	for tap := range b.taps {
		select {
		case tap.ch <- ev:
		default:
			tap.dropped.Add(1)
			b.metrics.IncSubscriberDrop(metrics.DropReasonTapOverflow)
			b.log.Warn("tap overflow, event dropped",
				zap.String("tap", tap.name),
				zap.Uint64("sequence", ev.Sequence),
				zap.String("tenant_id", ev.TenantID.String()),
			)
		}
	}
}
