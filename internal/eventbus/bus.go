package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/zap"
)

// Deliverer receives every published event in tenant sequence order.
// Deliver runs under the tenant's publish lock and must not block.
type Deliverer interface {
	Deliver(ev Event)
}

type Bus struct {
	mu      sync.Mutex
	tenants map[snowflake.ID]*sequencer

	tapMu sync.RWMutex
	taps  map[*Tap]struct{}

	deliverer Deliverer
	eventLog  EventLog
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.EngineMetrics
}

type sequencer struct {
	mu     sync.Mutex
	last   uint64
	seeded bool
}

type Options struct {
	Deliverer Deliverer
	// EventLog is optional. When set, every event is appended before it is delivered.
	EventLog EventLog
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *metrics.EngineMetrics
}

func NewBus(opts Options) *Bus {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Bus{
		tenants:   make(map[snowflake.ID]*sequencer),
		taps:      make(map[*Tap]struct{}),
		deliverer: opts.Deliverer,
		eventLog:  opts.EventLog,
		clock:     clk,
		log:       log.Named("eventbus"),
		metrics:   opts.Metrics,
	}
}

func (b *Bus) sequencer(tenantID snowflake.ID) *sequencer {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq, ok := b.tenants[tenantID]
	if !ok {
		seq = &sequencer{}
		b.tenants[tenantID] = seq
	}
	return seq
}

// Publish sequences a single event.
func (b *Bus) Publish(ctx context.Context, tenantID snowflake.ID, topic Topic, kind Kind, payload Payload) (Event, error) {
	events, err := b.PublishAll(ctx, tenantID, Message{Topic: topic, Kind: kind, Payload: payload})
	if err != nil {
		return Event{}, err
	}
	return events[0], nil
}

// PublishAll sequences msgs with consecutive numbers and delivers them in
// order. The counter only advances past events that were durably appended, so
// a failed append leaves no gap.
func (b *Bus) PublishAll(ctx context.Context, tenantID snowflake.ID, msgs ...Message) ([]Event, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	seq := b.sequencer(tenantID)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	if !seq.seeded {
		if b.eventLog != nil {
			last, err := b.eventLog.LastSequence(ctx, tenantID)
			if err != nil {
				return nil, fmt.Errorf("seed sequence: %w", err)
			}
			seq.last = last
		}
		seq.seeded = true
	}

	now := b.clock.Now()
	events := make([]Event, len(msgs))
	for i, msg := range msgs {
		events[i] = Event{
			Sequence:  seq.last + uint64(i) + 1,
			TenantID:  tenantID,
			Topic:     msg.Topic,
			Kind:      msg.Kind,
			Payload:   msg.Payload,
			Timestamp: now,
		}
	}

	if b.eventLog != nil {
		if err := b.eventLog.Append(ctx, events...); err != nil {
			return nil, fmt.Errorf("append events: %w", err)
		}
	}
	seq.last += uint64(len(events))

	for _, ev := range events {
		if b.deliverer != nil {
			b.deliverer.Deliver(ev)
		}
		b.notifyTaps(ev)
		b.metrics.IncEventPublished(string(ev.Kind))
	}
	return events, nil
}

// LastSequence returns the last sequence assigned for tenantID in this process.
func (b *Bus) LastSequence(tenantID snowflake.ID) uint64 {
	seq := b.sequencer(tenantID)
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.last
}
