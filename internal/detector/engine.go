package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// drainBatch bounds how many events one Drain pass copies out of the
// timeline at a time.
const drainBatch = 4096

// Engine pulls new events from the timeline and feeds them to the phantom
// and stuck-focus detectors. It holds a cursor and never blocks writers.
type Engine struct {
	timeline *timeline.Timeline
	phantom  *Phantom
	stuck    *StuckFocus
	logger   *slog.Logger

	mu     sync.Mutex
	cursor int64
	missed int64
}

func NewEngine(tl *timeline.Timeline, phantom *Phantom, stuck *StuckFocus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{timeline: tl, phantom: phantom, stuck: stuck, logger: logger}
}

// Drain processes the events recorded before the call and returns how
// many were examined. Events recorded while it runs, including the ones
// the detectors append, wait for the next call.
func (e *Engine) Drain() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	end := e.timeline.LastSeq()
	processed := 0
	for e.cursor < end {
		events, missed := e.timeline.After(e.cursor, drainBatch)
		if missed > 0 {
			e.missed += missed
			e.logger.Warn("detector fell behind timeline retention", "missed", missed)
		}
		if len(events) == 0 {
			return processed
		}
		for _, event := range events {
			if event.Seq > end {
				return processed
			}
			e.dispatch(event)
			e.cursor = event.Seq
			processed++
		}
	}
	return processed
}

func (e *Engine) dispatch(event models.Event) {
	switch event.Kind {
	case models.KindInput:
		e.phantom.Evaluate(event)
	case models.KindFocusSample:
		e.phantom.ObserveFocus(event)
		if event.Degraded {
			return
		}
		e.stuck.Observe(models.FocusSample{
			ElementID: event.ID,
			Timestamp: event.Timestamp,
			Changed:   event.Payload.Changed,
		})
	}
}

// Run drains the timeline every interval until ctx is done, then drains
// once more so nothing recorded before cancellation is lost.
func (e *Engine) Run(ctx context.Context, c clock.Clock, interval time.Duration) {
	ticker := c.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.Drain()
			return
		case <-ticker.C:
			e.Drain()
		}
	}
}

// Missed returns how many events were evicted before the engine read them.
func (e *Engine) Missed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.missed
}
