package subscription

import (
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/eventbus"
)

// Cursor tracks delivery progress of one topic on one connection.
type Cursor struct {
	LastDelivered uint64 `json:"last_delivered"`
	LastAcked     uint64 `json:"last_acked"`
}

// Connection is a live client link. Events is never closed; consumers select
// on Done to learn the connection has ended and read Err for the reason.
type Connection struct {
	ID       string
	TenantID snowflake.ID

	queue chan eventbus.Event
	done  chan struct{}
	once  sync.Once
	err   error

	// cursors is guarded by the owning tenant's lock.
	cursors map[eventbus.Topic]*Cursor
}

func newConnection(id string, tenantID snowflake.ID, queueSize int) *Connection {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Connection{
		ID:       id,
		TenantID: tenantID,
		queue:    make(chan eventbus.Event, queueSize),
		done:     make(chan struct{}),
		cursors:  make(map[eventbus.Topic]*Cursor),
	}
}

func (c *Connection) Events() <-chan eventbus.Event { return c.queue }

func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns nil while the connection is open, ErrConnectionClosed after a
// client disconnect and ErrSlowConsumer after an overflow.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) close(reason error) bool {
	closedNow := false
	c.once.Do(func() {
		c.err = reason
		close(c.done)
		closedNow = true
	})
	return closedNow
}

// offer enqueues ev unless it was already delivered. It reports false when the
// queue is full.
func (c *Connection) offer(ev eventbus.Event) bool {
	cursor, ok := c.cursors[ev.Topic]
	if !ok {
		return true
	}
	if ev.Sequence <= cursor.LastDelivered {
		return true
	}
	select {
	case c.queue <- ev:
		cursor.LastDelivered = ev.Sequence
		return true
	default:
		return false
	}
}

func (c *Connection) topics() []eventbus.Topic {
	out := make([]eventbus.Topic, 0, len(c.cursors))
	for topic := range c.cursors {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
