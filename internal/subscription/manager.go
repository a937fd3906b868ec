// Package subscription tracks live client connections per tenant and delivers
// bus events to them, replaying recent history to reconnecting clients.
package subscription

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/zap"
)

// Tuning supplies the current replay limits; implementations may change them at runtime.
type Tuning interface {
	Get() config.ReplayConfig
}

// Manager owns every connection. Lock order is tenant.mu, then connMu.
type Manager struct {
	mu      sync.RWMutex
	tenants map[snowflake.ID]*tenantState

	connMu sync.Mutex
	conns  map[string]*Connection

	tuning  Tuning
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.EngineMetrics
}

type tenantState struct {
	mu     sync.Mutex
	topics map[eventbus.Topic]*topicState

	// horizon is the highest sequence this manager cannot vouch for on topics
	// it has no buffer for: events before it started, and swept topics.
	horizon  uint64
	observed bool
}

type topicState struct {
	buffer      *ring
	subscribers map[string]*Connection
}

// SubscribeResult reports how a subscription was attached.
type SubscribeResult struct {
	Topic    eventbus.Topic
	Replayed int
}

func NewManager(tuning Tuning, clk clock.Clock, log *zap.Logger, m *metrics.EngineMetrics) *Manager {
	return &Manager{
		tenants: make(map[snowflake.ID]*tenantState),
		conns:   make(map[string]*Connection),
		tuning:  tuning,
		clock:   clk,
		log:     log.Named("subscription.manager"),
		metrics: m,
	}
}

func (m *Manager) tenant(tenantID snowflake.ID) *tenantState {
	m.mu.RLock()
	ts, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok {
		return ts
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok = m.tenants[tenantID]; ok {
		return ts
	}
	ts = &tenantState{topics: make(map[eventbus.Topic]*topicState)}
	m.tenants[tenantID] = ts
	return ts
}

func (ts *tenantState) topic(topic eventbus.Topic, cfg config.ReplayConfig) *topicState {
	st, ok := ts.topics[topic]
	if !ok {
		st = &topicState{
			buffer:      newRing(cfg.MaxEvents, ts.horizon),
			subscribers: make(map[string]*Connection),
		}
		ts.topics[topic] = st
	}
	return st
}

func (m *Manager) lookup(connID string) (*Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	conn, ok := m.conns[connID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

// Connect registers a connection for tenantID. An empty id is replaced with a UUID.
func (m *Manager) Connect(connID string, tenantID snowflake.ID) (*Connection, error) {
	if connID == "" {
		connID = uuid.NewString()
	}
	conn := newConnection(connID, tenantID, m.tuning.Get().SubscriberQueue)

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if _, exists := m.conns[connID]; exists {
		return nil, ErrConnectionExists
	}
	m.conns[connID] = conn
	m.metrics.ConnectionOpened()
	m.log.Debug("connection opened", zap.String("connection_id", connID), zap.String("tenant_id", tenantID.String()))
	return conn, nil
}

// SubscribeOptions controls how SubscribeAll replays history.
type SubscribeOptions struct {
	// LastSeen is the highest tenant sequence the client already has, shared by
	// every topic of the request.
	LastSeen *uint64
	// LiveOnGap attaches topics whose history no longer reaches back to LastSeen
	// without replay and reports them in BatchResult.Gaps. Without it any gap
	// fails the whole call and nothing is attached.
	LiveOnGap bool
}

// BatchResult reports how a SubscribeAll call was attached.
type BatchResult struct {
	Replayed int
	Gaps     []eventbus.Topic
}

// Subscribe attaches connID to topic. With lastSeen set, buffered events after
// it are queued before live delivery starts; if the buffer no longer reaches
// back that far the call fails with ErrReplayGapDetected and nothing is attached.
func (m *Manager) Subscribe(connID string, tenantID snowflake.ID, topic eventbus.Topic, lastSeen *uint64) (SubscribeResult, error) {
	res, err := m.SubscribeAll(connID, tenantID, []eventbus.Topic{topic}, SubscribeOptions{LastSeen: lastSeen})
	if err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{Topic: topic, Replayed: res.Replayed}, nil
}

// SubscribeAll attaches connID to every topic in one step. The backlogs of all
// topics are merged by sequence before they are queued, so the connection sees
// strictly increasing sequences across topics and a client resuming from the
// last sequence it received misses nothing.
func (m *Manager) SubscribeAll(connID string, tenantID snowflake.ID, topics []eventbus.Topic, opts SubscribeOptions) (BatchResult, error) {
	conn, err := m.lookup(connID)
	if err != nil {
		return BatchResult{}, err
	}
	if conn.TenantID != tenantID {
		return BatchResult{}, ErrConnectionNotFound
	}
	cfg := m.tuning.Get()

	ts := m.tenant(conn.TenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if conn.closed() {
		return BatchResult{}, ErrConnectionClosed
	}

	type pending struct {
		topic eventbus.Topic
		state *topicState
		gap   bool
	}
	now := m.clock.Now()
	seen := make(map[eventbus.Topic]struct{}, len(topics))
	plan := make([]pending, 0, len(topics))
	var result BatchResult

	for _, topic := range topics {
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}

		st := ts.topic(topic, cfg)
		st.buffer.resize(cfg.MaxEvents)
		st.buffer.expire(now, cfg.Window)

		gap := opts.LastSeen != nil && !st.buffer.covers(*opts.LastSeen)
		if gap {
			m.metrics.IncReplay(metrics.ReplayResultGap)
			if !opts.LiveOnGap {
				for _, p := range append(plan, pending{topic: topic, state: st}) {
					if _, already := conn.cursors[p.topic]; !already {
						m.forgetIfIdle(ts, p.topic, p.state)
					}
				}
				return BatchResult{}, fmt.Errorf("%w: %s after %d", ErrReplayGapDetected, topic, *opts.LastSeen)
			}
			result.Gaps = append(result.Gaps, topic)
		}
		plan = append(plan, pending{topic: topic, state: st, gap: gap})
	}

	var backlog []eventbus.Event
	replayed := make(map[eventbus.Topic]int, len(plan))
	for _, p := range plan {
		cursor, already := conn.cursors[p.topic]
		if !already {
			cursor = &Cursor{}
		}
		if opts.LastSeen != nil && !p.gap {
			cursor.LastDelivered = max(cursor.LastDelivered, *opts.LastSeen)
			cursor.LastAcked = max(cursor.LastAcked, *opts.LastSeen)
			backlog = append(backlog, p.state.buffer.after(cursor.LastDelivered)...)
		}
		conn.cursors[p.topic] = cursor
		p.state.subscribers[conn.ID] = conn
	}

	slices.SortFunc(backlog, func(a, b eventbus.Event) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	for _, ev := range backlog {
		if !conn.offer(ev) {
			m.dropLocked(ts, conn, ErrSlowConsumer)
			return BatchResult{}, ErrSlowConsumer
		}
		replayed[ev.Topic]++
		result.Replayed++
	}

	for _, p := range plan {
		switch {
		case p.gap:
		case opts.LastSeen != nil && replayed[p.topic] > 0:
			m.metrics.IncReplay(metrics.ReplayResultReplayed)
		default:
			m.metrics.IncReplay(metrics.ReplayResultLive)
		}
	}
	return result, nil
}

func (m *Manager) Unsubscribe(connID string, topic eventbus.Topic) error {
	conn, err := m.lookup(connID)
	if err != nil {
		return err
	}
	ts := m.tenant(conn.TenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := conn.cursors[topic]; !ok {
		return ErrNotSubscribed
	}
	delete(conn.cursors, topic)
	if st, ok := ts.topics[topic]; ok {
		delete(st.subscribers, conn.ID)
	}
	return nil
}

// Ack records the highest sequence the client confirmed for topic.
func (m *Manager) Ack(connID string, topic eventbus.Topic, seq uint64) error {
	conn, err := m.lookup(connID)
	if err != nil {
		return err
	}
	ts := m.tenant(conn.TenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cursor, ok := conn.cursors[topic]
	if !ok {
		return ErrNotSubscribed
	}
	cursor.LastAcked = max(cursor.LastAcked, min(seq, cursor.LastDelivered))
	return nil
}

// Cursors returns a copy of the connection's per-topic progress.
func (m *Manager) Cursors(connID string) (map[eventbus.Topic]Cursor, error) {
	conn, err := m.lookup(connID)
	if err != nil {
		return nil, err
	}
	ts := m.tenant(conn.TenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make(map[eventbus.Topic]Cursor, len(conn.cursors))
	for _, topic := range conn.topics() {
		out[topic] = *conn.cursors[topic]
	}
	return out, nil
}

// Disconnect tears the connection down. Unknown or already closed ids are a no-op.
func (m *Manager) Disconnect(connID string) {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	m.connMu.Unlock()
	if !ok {
		return
	}

	ts := m.tenant(conn.TenantID)
	ts.mu.Lock()
	m.dropLocked(ts, conn, ErrConnectionClosed)
	ts.mu.Unlock()
}

// dropLocked detaches conn from every topic and closes it. Caller holds ts.mu.
func (m *Manager) dropLocked(ts *tenantState, conn *Connection, reason error) {
	for topic := range conn.cursors {
		if st, ok := ts.topics[topic]; ok {
			delete(st.subscribers, conn.ID)
		}
	}
	conn.cursors = make(map[eventbus.Topic]*Cursor)

	m.connMu.Lock()
	if current, ok := m.conns[conn.ID]; ok && current == conn {
		delete(m.conns, conn.ID)
	}
	m.connMu.Unlock()

	if !conn.close(reason) {
		return
	}
	m.metrics.ConnectionClosed()
	if reason == ErrSlowConsumer {
		m.metrics.IncSubscriberDrop(metrics.DropReasonSlowConsumer)
		m.log.Warn("slow consumer dropped",
			zap.String("connection_id", conn.ID),
			zap.String("tenant_id", conn.TenantID.String()),
		)
		return
	}
	m.log.Debug("connection closed", zap.String("connection_id", conn.ID))
}

// Deliver buffers ev and fans it out to the topic's subscribers. It never
// blocks: a subscriber whose queue is full is dropped.
func (m *Manager) Deliver(ev eventbus.Event) {
	cfg := m.tuning.Get()
	ts := m.tenant(ev.TenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.observed {
		ts.observed = true
		if ev.Sequence > 1 && ev.Sequence-1 > ts.horizon {
			ts.horizon = ev.Sequence - 1
			for _, st := range ts.topics {
				if st.buffer.evictedThrough < ts.horizon {
					st.buffer.evictedThrough = ts.horizon
				}
			}
		}
	}

	st := ts.topic(ev.Topic, cfg)
	st.buffer.resize(cfg.MaxEvents)
	now := m.clock.Now()
	st.buffer.expire(now, cfg.Window)
	st.buffer.push(entry{event: ev, at: now})

	for _, conn := range st.subscribers {
		if !conn.offer(ev) {
			m.dropLocked(ts, conn, ErrSlowConsumer)
		}
	}
}

func (m *Manager) forgetIfIdle(ts *tenantState, topic eventbus.Topic, st *topicState) bool {
	if len(st.subscribers) > 0 || st.buffer.len() > 0 {
		return false
	}
	if st.buffer.evictedThrough > ts.horizon {
		ts.horizon = st.buffer.evictedThrough
	}
	delete(ts.topics, topic)
	return true
}

// SweepStats summarizes one retention pass.
type SweepStats struct {
	Tenants       int
	TopicsRemoved int
	Buffered      int
}

// Sweep expires buffered events past the replay window and forgets idle topics.
func (m *Manager) Sweep() SweepStats {
	cfg := m.tuning.Get()
	now := m.clock.Now()

	m.mu.RLock()
	tenants := make([]*tenantState, 0, len(m.tenants))
	for _, ts := range m.tenants {
		tenants = append(tenants, ts)
	}
	m.mu.RUnlock()

	stats := SweepStats{Tenants: len(tenants)}
	for _, ts := range tenants {
		ts.mu.Lock()
		for topic, st := range ts.topics {
			st.buffer.resize(cfg.MaxEvents)
			st.buffer.expire(now, cfg.Window)
			if m.forgetIfIdle(ts, topic, st) {
				stats.TopicsRemoved++
				continue
			}
			stats.Buffered += st.buffer.len()
		}
		ts.mu.Unlock()
	}
	return stats
}

var _ eventbus.Deliverer = (*Manager)(nil)
