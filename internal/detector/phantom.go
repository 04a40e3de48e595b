package detector

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vincentbai/focustrace/internal/inputcache"
	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// maxFocusChanges bounds the focus changes held while no dispatch input
// arrives to retire them.
const maxFocusChanges = 1024

// Phantom flags dispatch-level inputs that no hardware source corroborated
// and that did not move focus.
type Phantom struct {
	timeline   *timeline.Timeline
	cache      *inputcache.Cache
	thresholds Thresholds
	logger     *slog.Logger

	mu      sync.Mutex
	lastTS  time.Time
	changes []time.Time // ascending, none older than lastTS minus the divergence window

	count    atomic.Int64
	excluded atomic.Int64
}

func NewPhantom(tl *timeline.Timeline, cache *inputcache.Cache, thresholds Thresholds, logger *slog.Logger) *Phantom {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Phantom{timeline: tl, cache: cache, thresholds: thresholds, logger: logger}
}

// ObserveFocus notes a genuine focus change carried by a FocusSample
// event. Changes only exempt inputs evaluated after them, so callers feed
// events in record order.
func (p *Phantom) ObserveFocus(event models.Event) {
	if event.Kind != models.KindFocusSample || !event.Payload.Changed || event.Degraded {
		return
	}
	window := p.thresholds.FocusDivergenceWindow
	if window <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if event.Timestamp.Before(p.lastTS.Add(-window)) {
		return
	}
	i, _ := slices.BinarySearchFunc(p.changes, event.Timestamp, time.Time.Compare)
	p.changes = slices.Insert(p.changes, i, event.Timestamp)
	if len(p.changes) > maxFocusChanges {
		p.changes = slices.Delete(p.changes, 0, len(p.changes)-maxFocusChanges)
	}
}

// Evaluate judges one Input event. Only dispatch-level inputs are
// considered; a flagged input is appended to the timeline as a Phantom
// event. Inputs without an id, with a degraded timestamp or with a
// timestamp earlier than the previous dispatch input are tallied as
// excluded and never flagged.
func (p *Phantom) Evaluate(event models.Event) bool {
	if event.Kind != models.KindInput || event.Payload.Source != models.SourceDispatch {
		return false
	}
	if event.ID == "" || event.Degraded {
		p.excluded.Add(1)
		return false
	}

	p.mu.Lock()
	if event.Timestamp.Before(p.lastTS) {
		p.mu.Unlock()
		p.excluded.Add(1)
		return false
	}
	p.lastTS = event.Timestamp
	focusMoved := p.focusChangedLocked(event.Timestamp)
	p.mu.Unlock()

	if focusMoved {
		return false
	}
	if p.cache.RecentlyActive(event.ID, p.thresholds.PhantomWindow, event.Timestamp) {
		return false
	}

	p.timeline.Record(models.Event{
		Kind:      models.KindPhantom,
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Payload:   models.Payload{Source: models.SourceDispatch},
	})
	n := p.count.Add(1)
	p.logger.Debug("phantom input", "id", event.ID, "seq", event.Seq, "count", n)
	return true
}

// focusChangedLocked reports an observed focus change within the
// divergence window ending at ts, retiring changes no later input can use.
func (p *Phantom) focusChangedLocked(ts time.Time) bool {
	since := ts.Add(-p.thresholds.FocusDivergenceWindow)
	stale := 0
	for stale < len(p.changes) && p.changes[stale].Before(since) {
		stale++
	}
	p.changes = slices.Delete(p.changes, 0, stale)
	return len(p.changes) > 0 && !p.changes[0].After(ts)
}

func (p *Phantom) Count() int64    { return p.count.Load() }
func (p *Phantom) Excluded() int64 { return p.excluded.Load() }
