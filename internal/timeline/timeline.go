// Package timeline is the append-only event log shared by every producer
// and detector of a run.
//
// Writers never wait on readers for longer than a slice copy: reads take a
// snapshot under a read lock and return it. Retention is a ring buffer;
// the most recent Capacity events are always available.
package timeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/models"
)

// DefaultCapacity holds well over a minute of events at the highest rate
// any preset produces.
const DefaultCapacity = 1 << 16

const minimumCapacity = 1024

// MinimumCapacity returns the ring size needed to keep window worth of
// events when producers emit at most perSecond events in total.
func MinimumCapacity(window time.Duration, perSecond int) int {
	needed := int(window.Seconds()*float64(perSecond)) + 1
	if needed < minimumCapacity {
		return minimumCapacity
	}
	return needed
}

type Timeline struct {
	clock clock.Clock

	mu       sync.RWMutex
	ring     []models.Event
	capacity int
	head     int // index of the oldest event once the ring is full
	nextSeq  int64
	latest   map[models.Kind]models.Event

	unclassifiable atomic.Int64
}

// New creates a timeline retaining at most capacity events. A capacity
// below 1024 is raised to 1024.
func New(c clock.Clock, capacity int) *Timeline {
	if capacity < minimumCapacity {
		capacity = minimumCapacity
	}
	return &Timeline{
		clock:    c,
		capacity: capacity,
		nextSeq:  1,
		latest:   make(map[models.Kind]models.Event, len(models.Kinds)),
	}
}

// Record appends event and returns it with its sequence number set.
//
// An event without a timestamp is stamped with the timeline clock, marked
// Degraded and counted as unclassifiable. An event of unknown kind is
// counted and dropped; the returned event then has Seq 0.
func (t *Timeline) Record(event models.Event) models.Event {
	if !event.Kind.Valid() {
		t.unclassifiable.Add(1)
		event.Seq = 0
		return event
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.clock.Now()
		event.Degraded = true
		t.unclassifiable.Add(1)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	event.Seq = t.nextSeq
	t.nextSeq++
	if len(t.ring) < t.capacity {
		t.ring = append(t.ring, event)
	} else {
		t.ring[t.head] = event
		t.head = (t.head + 1) % t.capacity
	}
	t.latest[event.Kind] = event
	return event
}

// Query returns the retained events of kind whose timestamp is at or after
// since, in record order.
func (t *Timeline) Query(kind models.Kind, since time.Time) []models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []models.Event
	t.eachLocked(func(event models.Event) {
		if event.Kind == kind && !event.Timestamp.Before(since) {
			out = append(out, event)
		}
	})
	return out
}

// Latest returns the most recently recorded event of kind, even if it
// has since been evicted from the ring.
func (t *Timeline) Latest(kind models.Kind) (models.Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	event, ok := t.latest[kind]
	return event, ok
}

// After returns up to limit events with a sequence number greater than
// seq. missed counts events after seq that were evicted before the
// caller read them. A limit <= 0 means no limit.
func (t *Timeline) After(seq int64, limit int) (events []models.Event, missed int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	size := int64(len(t.ring))
	oldest := t.nextSeq - size
	if seq+1 < oldest {
		missed = oldest - (seq + 1)
		seq = oldest - 1
	}
	start := seq + 1 - oldest
	count := size - start
	if count <= 0 {
		return nil, missed
	}
	if limit > 0 && count > int64(limit) {
		count = int64(limit)
	}
	events = make([]models.Event, 0, count)
	for i := start; i < start+count; i++ {
		events = append(events, t.ring[(int64(t.head)+i)%size])
	}
	return events, missed
}

// LastSeq returns the sequence number of the most recent event, or 0
// before the first.
func (t *Timeline) LastSeq() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextSeq - 1
}

// Snapshot returns every retained event in record order.
func (t *Timeline) Snapshot() []models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Event, 0, len(t.ring))
	t.eachLocked(func(event models.Event) { out = append(out, event) })
	return out
}

// Len returns the number of retained events.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ring)
}

// Capacity returns the retention limit.
func (t *Timeline) Capacity() int { return t.capacity }

// Unclassifiable returns how many events arrived degraded or malformed.
func (t *Timeline) Unclassifiable() int64 { return t.unclassifiable.Load() }

func (t *Timeline) eachLocked(fn func(models.Event)) {
	size := len(t.ring)
	for i := 0; i < size; i++ {
		fn(t.ring[(t.head+i)%size])
	}
}
