package subscription

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/errs"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const tenantA = snowflake.ID(1)

func newManager(t *testing.T, cfg config.ReplayConfig) (*Manager, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(testEpoch)
	return NewManager(config.NewStaticReplayTuning(cfg), clk, zap.NewNop(), nil), clk
}

func defaultReplay() config.ReplayConfig {
	return config.ReplayConfig{MaxEvents: 8, Window: time.Minute, SubscriberQueue: 16}
}

func event(seq uint64, topic eventbus.Topic) eventbus.Event {
	return eventbus.Event{Sequence: seq, TenantID: tenantA, Topic: topic, Kind: eventbus.KindOrderStatusChanged, Timestamp: testEpoch}
}

func drain(conn *Connection) []uint64 {
	var out []uint64
	for {
		select {
		case ev := <-conn.Events():
			out = append(out, ev.Sequence)
		default:
			return out
		}
	}
}

func seen(v uint64) *uint64 { return &v }

func TestLiveDeliveryFollowsPublishOrder(t *testing.T) {
	m, _ := newManager(t, defaultReplay())
	topic := eventbus.OrderTopic(10)

	conn, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	res, err := m.Subscribe("c1", tenantA, topic, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Replayed)

	for seq := uint64(1); seq <= 3; seq++ {
		m.Deliver(event(seq, topic))
	}
	m.Deliver(event(4, eventbus.OrderTopic(11)))
	m.Deliver(event(2, topic))

	assert.Equal(t, []uint64{1, 2, 3}, drain(conn))

	cursors, err := m.Cursors("c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursors[topic].LastDelivered)
}

func TestReconnectWithinWindowReplaysMissedEventsOnce(t *testing.T) {
	m, clk := newManager(t, defaultReplay())
	topic := eventbus.TableTopic(3)

	conn, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	_, err = m.Subscribe("c1", tenantA, topic, nil)
	require.NoError(t, err)
	m.Deliver(event(1, topic))
	m.Deliver(event(2, topic))
	assert.Equal(t, []uint64{1, 2}, drain(conn))

	m.Disconnect("c1")
	m.Disconnect("c1")
	assert.ErrorIs(t, conn.Err(), ErrConnectionClosed)

	m.Deliver(event(3, topic))
	m.Deliver(event(4, eventbus.OrderTopic(99)))
	m.Deliver(event(5, topic))
	clk.Advance(30 * time.Second)

	again, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	res, err := m.Subscribe("c1", tenantA, topic, seen(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replayed)

	_, err = m.Subscribe("c1", tenantA, topic, seen(2))
	require.NoError(t, err)

	m.Deliver(event(6, topic))
	assert.Equal(t, []uint64{3, 5, 6}, drain(again))
}

func TestReconnectAfterWindowReportsGap(t *testing.T) {
	m, clk := newManager(t, defaultReplay())
	topic := eventbus.OrderTopic(10)
	m.Deliver(event(1, topic))
	m.Deliver(event(2, topic))

	clk.Advance(2 * time.Minute)
	m.Deliver(event(3, topic))

	_, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	_, err = m.Subscribe("c1", tenantA, topic, seen(1))
	require.ErrorIs(t, err, ErrReplayGapDetected)
	assert.Equal(t, "replay_gap_detected", errs.Kind(err))

	cursors, err := m.Cursors("c1")
	require.NoError(t, err)
	assert.Empty(t, cursors)

	res, err := m.Subscribe("c1", tenantA, topic, seen(2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
}

func TestCountBoundEvictsOldest(t *testing.T) {
	cfg := defaultReplay()
	cfg.MaxEvents = 3
	m, _ := newManager(t, cfg)
	topic := eventbus.OrderTopic(10)
	for seq := uint64(1); seq <= 5; seq++ {
		m.Deliver(event(seq, topic))
	}

	conn, err := m.Connect("", tenantA)
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)

	_, err = m.Subscribe(conn.ID, tenantA, topic, seen(1))
	assert.ErrorIs(t, err, ErrReplayGapDetected)

	res, err := m.Subscribe(conn.ID, tenantA, topic, seen(2))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Replayed)
	assert.Equal(t, []uint64{3, 4, 5}, drain(conn))
}

func TestSlowConsumerIsDropped(t *testing.T) {
	cfg := defaultReplay()
	cfg.SubscriberQueue = 2
	registry := prometheus.NewRegistry()
	em := metrics.NewEngineMetrics(registry, metrics.Config{ServiceName: "waiterless"})
	m := NewManager(config.NewStaticReplayTuning(cfg), clock.NewFakeClock(testEpoch), zap.NewNop(), em)
	topic := eventbus.OrderTopic(10)

	slow, err := m.Connect("slow", tenantA)
	require.NoError(t, err)
	fast, err := m.Connect("fast", tenantA)
	require.NoError(t, err)
	_, err = m.Subscribe("slow", tenantA, topic, nil)
	require.NoError(t, err)
	_, err = m.Subscribe("fast", tenantA, topic, nil)
	require.NoError(t, err)

	for seq := uint64(1); seq <= 3; seq++ {
		m.Deliver(event(seq, topic))
		drain(fast)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow connection was not closed")
	}
	assert.ErrorIs(t, slow.Err(), ErrSlowConsumer)
	assert.Nil(t, fast.Err())

	_, err = m.Subscribe("slow", tenantA, topic, nil)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	m.Deliver(event(4, topic))
	assert.Equal(t, []uint64{4}, drain(fast))

	expected := `
# HELP waiterless_subscriber_drops_total Connections or taps dropped for falling behind.
# TYPE waiterless_subscriber_drops_total counter
waiterless_subscriber_drops_total{env="unknown",reason="slow_consumer",service="waiterless"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "waiterless_subscriber_drops_total"))
}

func TestConnectionsAreTenantScoped(t *testing.T) {
	m, _ := newManager(t, defaultReplay())
	topic := eventbus.OrderTopic(10)

	conn, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	_, err = m.Connect("c1", tenantA)
	assert.ErrorIs(t, err, ErrConnectionExists)

	_, err = m.Subscribe("c1", snowflake.ID(2), topic, nil)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	_, err = m.Subscribe("c1", tenantA, topic, nil)
	require.NoError(t, err)

	other := event(1, topic)
	other.TenantID = 2
	m.Deliver(other)
	assert.Empty(t, drain(conn))

	m.Deliver(event(1, topic))
	assert.Equal(t, []uint64{1}, drain(conn))
}

func TestUnsubscribeAndAck(t *testing.T) {
	m, _ := newManager(t, defaultReplay())
	topic := eventbus.OrderTopic(10)
	conn, err := m.Connect("c1", tenantA)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Ack("c1", topic, 1), ErrNotSubscribed)
	assert.ErrorIs(t, m.Unsubscribe("c1", topic), ErrNotSubscribed)
	assert.ErrorIs(t, m.Ack("missing", topic, 1), ErrConnectionNotFound)

	_, err = m.Subscribe("c1", tenantA, topic, nil)
	require.NoError(t, err)
	m.Deliver(event(1, topic))
	m.Deliver(event(2, topic))
	require.NoError(t, m.Ack("c1", topic, 9))

	cursors, err := m.Cursors("c1")
	require.NoError(t, err)
	assert.Equal(t, Cursor{LastDelivered: 2, LastAcked: 2}, cursors[topic])

	require.NoError(t, m.Unsubscribe("c1", topic))
	m.Deliver(event(3, topic))
	assert.Equal(t, []uint64{1, 2}, drain(conn))
}

func TestEventsBeforeStartupAreOutsideTheBuffer(t *testing.T) {
	m, _ := newManager(t, defaultReplay())
	topic := eventbus.OrderTopic(10)

	_, err := m.Connect("early", tenantA)
	require.NoError(t, err)
	_, err = m.Subscribe("early", tenantA, topic, nil)
	require.NoError(t, err)

	m.Deliver(event(41, eventbus.OrderTopic(12)))

	_, err = m.Connect("c1", tenantA)
	require.NoError(t, err)
	_, err = m.Subscribe("c1", tenantA, topic, seen(12))
	assert.ErrorIs(t, err, ErrReplayGapDetected)
	_, err = m.Subscribe("c1", tenantA, eventbus.OrderTopic(12), seen(40))
	assert.NoError(t, err)
}

func TestSweepForgetsIdleTopicsConservatively(t *testing.T) {
	m, clk := newManager(t, defaultReplay())
	idle := eventbus.OrderTopic(10)
	watched := eventbus.OrderTopic(11)

	m.Deliver(event(1, idle))
	m.Deliver(event(2, watched))
	_, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	_, err = m.Subscribe("c1", tenantA, watched, nil)
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	stats := m.Sweep()
	assert.Equal(t, 1, stats.TopicsRemoved)
	assert.Zero(t, stats.Buffered)

	_, err = m.Subscribe("c1", tenantA, idle, seen(0))
	assert.ErrorIs(t, err, ErrReplayGapDetected)
	_, err = m.Subscribe("c1", tenantA, idle, seen(1))
	assert.NoError(t, err)
}

func TestBusFanOutKeepsPerTopicOrder(t *testing.T) {
	m, _ := newManager(t, config.ReplayConfig{MaxEvents: 1024, Window: time.Hour, SubscriberQueue: 4096})
	bus := eventbus.NewBus(eventbus.Options{Deliverer: m, Log: zap.NewNop()})
	ctx := context.Background()

	topics := []eventbus.Topic{eventbus.OrderTopic(1), eventbus.OrderTopic(2), eventbus.TableTopic(3)}
	conn, err := m.Connect("c1", tenantA)
	require.NoError(t, err)
	for _, topic := range topics {
		_, err := m.Subscribe("c1", tenantA, topic, nil)
		require.NoError(t, err)
	}

	var g errgroup.Group
	for _, topic := range topics {
		g.Go(func() error {
			for range 200 {
				if _, err := bus.Publish(ctx, tenantA, topic, eventbus.KindOrderStatusChanged, eventbus.Payload{}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := drain(conn)
	require.Len(t, got, 600)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i])
	}
}

func TestSubscribeAllMergesBacklogsBySequence(t *testing.T) {
	m, _ := newManager(t, defaultReplay())
	order := eventbus.OrderTopic(20)
	table := eventbus.TableTopic(21)

	m.Deliver(event(1, table))
	m.Deliver(event(2, order))
	m.Deliver(event(3, table))
	m.Deliver(event(4, order))

	conn, err := m.Connect("screen", tenantA)
	require.NoError(t, err)
	res, err := m.SubscribeAll("screen", tenantA, []eventbus.Topic{order, table, order}, SubscribeOptions{LastSeen: seen(0)})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Replayed)
	assert.Empty(t, res.Gaps)
	assert.Equal(t, []uint64{1, 2, 3, 4}, drain(conn))

	m.Deliver(event(5, table))
	assert.Equal(t, []uint64{5}, drain(conn))
}

func TestSubscribeAllGapPolicies(t *testing.T) {
	cfg := defaultReplay()
	cfg.MaxEvents = 2
	order := eventbus.OrderTopic(30)
	table := eventbus.TableTopic(31)

	setup := func(t *testing.T) (*Manager, *Connection) {
		m, _ := newManager(t, cfg)
		m.Deliver(event(1, order))
		m.Deliver(event(2, order))
		m.Deliver(event(3, order))
		m.Deliver(event(4, table))
		conn, err := m.Connect("screen", tenantA)
		require.NoError(t, err)
		return m, conn
	}

	t.Run("gap fails the whole request", func(t *testing.T) {
		m, conn := setup(t)
		_, err := m.SubscribeAll("screen", tenantA, []eventbus.Topic{table, order}, SubscribeOptions{LastSeen: seen(0)})
		assert.ErrorIs(t, err, errs.ErrReplayGapDetected)
		assert.Empty(t, drain(conn))

		cursors, err := m.Cursors("screen")
		require.NoError(t, err)
		assert.Empty(t, cursors)
	})

	t.Run("gap topics attach live", func(t *testing.T) {
		m, conn := setup(t)
		res, err := m.SubscribeAll("screen", tenantA, []eventbus.Topic{table, order}, SubscribeOptions{LastSeen: seen(0), LiveOnGap: true})
		require.NoError(t, err)
		assert.Equal(t, []eventbus.Topic{order}, res.Gaps)
		assert.Equal(t, []uint64{4}, drain(conn))

		m.Deliver(event(5, order))
		assert.Equal(t, []uint64{5}, drain(conn))
	})
}
