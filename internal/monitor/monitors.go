package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/detector"
	"github.com/vincentbai/focustrace/internal/inputcache"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/stage"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// MainLoop is the UI's primary scheduling context. Post queues fn to run
// there and reports false once the loop has shut down.
type MainLoop interface {
	Post(fn func()) bool
}

// FocusSource reads the element that currently holds focus, or
// models.NoFocus. It must be safe to call from any goroutine.
type FocusSource interface {
	CurrentFocusID() string
}

// FrameInterval is the expected rendering tick at 60 Hz.
const FrameInterval = time.Second / 60

// Heartbeat posts a callback to the main loop every Interval and reports
// when it actually ran. Only one callback is outstanding at a time, so a
// starved loop shows up as one long gap rather than a burst of queued
// beats.
type Heartbeat struct {
	Clock    clock.Clock
	Loop     MainLoop
	Stall    *detector.Stall
	Interval time.Duration
}

func (h *Heartbeat) Run(ctx context.Context) {
	postEvery(ctx, h.Clock, h.Loop, h.Interval, func() {
		h.Stall.ObserveHeartbeat(h.Clock.Now())
	})
}

// Frame emulates a display-link callback on the main loop and reports
// each tick to the stall detector.
type Frame struct {
	Clock    clock.Clock
	Loop     MainLoop
	Stall    *detector.Stall
	Interval time.Duration
}

func (f *Frame) Run(ctx context.Context) {
	interval := f.Interval
	if interval <= 0 {
		interval = FrameInterval
	}
	postEvery(ctx, f.Clock, f.Loop, interval, func() {
		f.Stall.ObserveFrame(f.Clock.Now(), interval)
	})
}

func postEvery(ctx context.Context, c clock.Clock, loop MainLoop, interval time.Duration, fn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.After(interval):
		}

		ran := make(chan struct{})
		if !loop.Post(func() {
			fn()
			close(ran)
		}) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ran:
		}
	}
}

// FocusSampler polls the focus source and records a FocusSample event per
// poll, marking whether the focused element changed since the last one.
type FocusSampler struct {
	Clock    clock.Clock
	Source   FocusSource
	Timeline *timeline.Timeline
	Interval time.Duration

	last    string
	sampled bool
}

func (s *FocusSampler) Run(ctx context.Context) {
	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one reading. It is not safe for concurrent use; Run calls
// it from a single goroutine.
func (s *FocusSampler) Sample() models.FocusSample {
	id := s.Source.CurrentFocusID()
	sample := models.FocusSample{
		ElementID: id,
		Timestamp: s.Clock.Now(),
		Changed:   s.sampled && id != s.last,
	}
	s.last, s.sampled = id, true

	s.Timeline.Record(models.Event{
		Kind:      models.KindFocusSample,
		ID:        sample.ElementID,
		Timestamp: sample.Timestamp,
		Payload:   models.Payload{Changed: sample.Changed},
	})
	return sample
}

// DispatchRecorder sits in front of the real command sink and records
// every command as a dispatch-level Input event before forwarding it.
type DispatchRecorder struct {
	Next     stage.CommandSink
	Clock    clock.Clock
	Timeline *timeline.Timeline
}

func (d *DispatchRecorder) Send(direction models.Direction) {
	d.Timeline.Record(models.Event{
		Kind:      models.KindInput,
		ID:        direction.String(),
		Timestamp: d.Clock.Now(),
		Payload:   models.Payload{Source: models.SourceDispatch},
	})
	d.Next.Send(direction)
}

// HardwareRecorder accepts confirmations from the platform adapter and
// writes them to both the input cache and the timeline.
type HardwareRecorder struct {
	Cache    *inputcache.Cache
	Timeline *timeline.Timeline
}

// Confirm records one press. A press without a timestamp is still
// recorded, degraded, but never corroborates dispatch input.
func (h *HardwareRecorder) Confirm(press models.HardwarePress) {
	var ts time.Time
	if press.TSUnixNano > 0 {
		ts = time.Unix(0, press.TSUnixNano)
	}
	source := models.SourceHardware
	if press.Precise {
		source = models.SourcePrecise
		h.Cache.MarkPrecise(press.ID, ts)
	} else {
		h.Cache.MarkDown(press.ID, ts)
	}
	h.Timeline.Record(models.Event{
		Kind:      models.KindInput,
		ID:        press.ID,
		Timestamp: ts,
		Payload:   models.Payload{Source: source},
	})
}

// PushedFocus is a FocusSource fed by a platform adapter that pushes the
// focused element instead of being polled directly.
type PushedFocus struct {
	mu sync.RWMutex
	id string
}

func (p *PushedFocus) Set(id string) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

func (p *PushedFocus) CurrentFocusID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}
