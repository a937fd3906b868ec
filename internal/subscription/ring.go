package subscription

import (
	"time"

	"github.com/smallbiznis/waiterless/internal/eventbus"
)

type entry struct {
	event eventbus.Event
	at    time.Time
}

// ring holds the most recent events of one topic, bounded by count and age.
// evictedThrough is the highest sequence that has left the buffer.
type ring struct {
	buf            []entry
	start          int
	size           int
	evictedThrough uint64
}

func newRing(capacity int, horizon uint64) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]entry, capacity), evictedThrough: horizon}
}

func (r *ring) len() int { return r.size }

func (r *ring) at(i int) entry {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) evictOldest() {
	oldest := r.buf[r.start]
	r.buf[r.start] = entry{}
	r.start = (r.start + 1) % len(r.buf)
	r.size--
	if oldest.event.Sequence > r.evictedThrough {
		r.evictedThrough = oldest.event.Sequence
	}
}

// resize keeps the newest entries when capacity shrinks.
func (r *ring) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return
	}
	for r.size > capacity {
		r.evictOldest()
	}
	next := make([]entry, capacity)
	for i := 0; i < r.size; i++ {
		next[i] = r.at(i)
	}
	r.buf = next
	r.start = 0
}

func (r *ring) push(e entry) {
	if r.size == len(r.buf) {
		r.evictOldest()
	}
	r.buf[(r.start+r.size)%len(r.buf)] = e
	r.size++
}

// expire drops entries older than window. A zero window disables age eviction.
func (r *ring) expire(now time.Time, window time.Duration) {
	if window <= 0 {
		return
	}
	for r.size > 0 && now.Sub(r.at(0).at) > window {
		r.evictOldest()
	}
}

// covers reports whether every event after lastSeen is still buffered.
func (r *ring) covers(lastSeen uint64) bool {
	return lastSeen >= r.evictedThrough
}

func (r *ring) after(lastSeen uint64) []eventbus.Event {
	out := make([]eventbus.Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		if ev := r.at(i).event; ev.Sequence > lastSeen {
			out = append(out, ev)
		}
	}
	return out
}
