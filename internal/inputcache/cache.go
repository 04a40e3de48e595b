// Package inputcache tracks when each input id was last corroborated by
// hardware. It replaces a process-wide "last press" table with a handle
// that is passed to every producer and detector of a run.
package inputcache

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vincentbai/focustrace/internal/models"
)

// historySize bounds the press times kept per id.
const historySize = 64

type Cache struct {
	mu      sync.RWMutex
	records map[string]models.InputRecord
	presses map[string][]time.Time // ascending

	rejected atomic.Int64
}

func New() *Cache {
	return &Cache{
		records: make(map[string]models.InputRecord),
		presses: make(map[string][]time.Time),
	}
}

// MarkDown records a hardware confirmation for id. The record keeps the
// newest time; the press history keeps the most recent historySize
// presses whatever order they arrive in.
func (c *Cache) MarkDown(id string, ts time.Time) {
	c.mark(id, ts, false)
}

// MarkPrecise records a press-level timestamp for id with the same
// write-if-newer rule as MarkDown.
func (c *Cache) MarkPrecise(id string, ts time.Time) {
	c.mark(id, ts, true)
}

func (c *Cache) mark(id string, ts time.Time, precise bool) {
	if id == "" || ts.IsZero() {
		c.rejected.Add(1)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record := c.records[id]
	record.ID = id
	if precise {
		if ts.After(record.LastPreciseTime) {
			record.LastPreciseTime = ts
		}
	} else if ts.After(record.LastHardwareTime) {
		record.LastHardwareTime = ts
	}
	c.records[id] = record

	presses := c.presses[id]
	i, _ := slices.BinarySearchFunc(presses, ts, time.Time.Compare)
	presses = slices.Insert(presses, i, ts)
	if len(presses) > historySize {
		presses = slices.Delete(presses, 0, len(presses)-historySize)
	}
	c.presses[id] = presses
}

// RecentlyActive reports whether id was pressed at or before now and less
// than window earlier. Presses after now never count, however soon they
// follow it.
func (c *Cache) RecentlyActive(id string, window time.Duration, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	presses := c.presses[id]
	i := sort.Search(len(presses), func(i int) bool { return presses[i].After(now) })
	if i == 0 {
		return false
	}
	return now.Sub(presses[i-1]) < window
}

// Record returns a copy of the stored record for id.
func (c *Cache) Record(id string) (models.InputRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[id]
	return record, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Rejected counts marks dropped for a missing id or timestamp.
func (c *Cache) Rejected() int64 { return c.rejected.Load() }
