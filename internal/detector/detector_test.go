package detector

import (
	"context"
	"testing"
	"time"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/inputcache"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/timeline"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *clock.FakeClock
	timeline *timeline.Timeline
	cache    *inputcache.Cache
	phantom  *Phantom
	stall    *Stall
	stuck    *StuckFocus
	engine   *Engine
}

func setupDetectors(t *testing.T, thresholds Thresholds) *fixture {
	t.Helper()
	c := clock.Fake(epoch)
	tl := timeline.New(c, timeline.DefaultCapacity)
	cache := inputcache.New()
	phantom := NewPhantom(tl, cache, thresholds, nil)
	stuck := NewStuckFocus(tl, thresholds.StuckRepeatThreshold, nil)
	return &fixture{
		clock:    c,
		timeline: tl,
		cache:    cache,
		phantom:  phantom,
		stall:    NewStall(tl, thresholds, nil),
		stuck:    stuck,
		engine:   NewEngine(tl, phantom, stuck, nil),
	}
}

func dispatch(id string, ts time.Time) models.Event {
	return models.Event{
		Kind:      models.KindInput,
		ID:        id,
		Timestamp: ts,
		Payload:   models.Payload{Source: models.SourceDispatch},
	}
}

func focus(id string, ts time.Time, changed bool) models.Event {
	return models.Event{
		Kind:      models.KindFocusSample,
		ID:        id,
		Timestamp: ts,
		Payload:   models.Payload{Changed: changed},
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Thresholds)
	}{
		{"zero phantom window", func(th *Thresholds) { th.PhantomWindow = 0 }},
		{"critical below warn", func(th *Thresholds) { th.StallCritical = th.StallWarn }},
		{"stuck threshold one", func(th *Thresholds) { th.StuckRepeatThreshold = 1 }},
		{"negative reproduction", func(th *Thresholds) { th.PhantomReproductionThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.mutate(&th)
			if err := th.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPhantomUncorroboratedBurst(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	directions := []string{"up", "down", "left", "right"}

	for i := 0; i < 300; i++ {
		ts := epoch.Add(time.Duration(i) * 15 * time.Millisecond)
		f.timeline.Record(dispatch(directions[i%4], ts))
	}
	f.engine.Drain()

	if got := f.phantom.Count(); got != 300 {
		t.Errorf("phantom count = %d, want 300", got)
	}
	if got := len(f.timeline.Query(models.KindPhantom, epoch)); got != 300 {
		t.Errorf("phantom events = %d, want 300", got)
	}
}

func TestPhantomFocusChangeExemption(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())

	for i := 0; i < 300; i++ {
		ts := epoch.Add(time.Duration(i) * 15 * time.Millisecond)
		if i%10 == 0 {
			f.timeline.Record(focus("cell", ts.Add(-5*time.Millisecond), true))
		}
		f.timeline.Record(dispatch("right", ts))
	}
	f.engine.Drain()

	// Each focus change at i%10 == 0 covers that input and the next six
	// (the 100ms divergence window spans 6 gaps of 15ms plus the 5ms lead).
	exempt := 0
	for i := 0; i < 300; i++ {
		lead := time.Duration(i%10)*15*time.Millisecond + 5*time.Millisecond
		if lead <= 100*time.Millisecond {
			exempt++
		}
	}
	if got, want := f.phantom.Count(), int64(300-exempt); got != want {
		t.Errorf("phantom count = %d, want %d", got, want)
	}
}

func TestPhantomRequiresBothConditions(t *testing.T) {
	tests := []struct {
		name     string
		hardware bool
		changed  bool
		want     bool
	}{
		{"uncorroborated and no focus change", false, false, true},
		{"hardware confirmed", true, false, false},
		{"focus changed", false, true, false},
		{"both", true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupDetectors(t, DefaultThresholds())
			ts := epoch.Add(time.Second)
			if tt.hardware {
				f.cache.MarkDown("select", ts.Add(-50*time.Millisecond))
			}
			f.phantom.ObserveFocus(f.timeline.Record(focus("cell-3", ts.Add(-20*time.Millisecond), tt.changed)))

			got := f.phantom.Evaluate(f.timeline.Record(dispatch("select", ts)))
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhantomVerdictIndependentOfDrainTiming(t *testing.T) {
	dispatched := epoch.Add(time.Second)
	late := dispatched.Add(10 * time.Second)

	early := setupDetectors(t, DefaultThresholds())
	early.timeline.Record(dispatch("up", dispatched))
	early.engine.Drain()
	early.cache.MarkDown("up", late)
	early.engine.Drain()

	delayed := setupDetectors(t, DefaultThresholds())
	delayed.timeline.Record(dispatch("up", dispatched))
	delayed.cache.MarkDown("up", late)
	delayed.engine.Drain()

	if early.phantom.Count() != 1 || delayed.phantom.Count() != 1 {
		t.Errorf("phantom count drained early = %d, drained late = %d, want 1 and 1",
			early.phantom.Count(), delayed.phantom.Count())
	}
}

func TestPhantomOlderPressStillCorroborates(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	ts := epoch.Add(time.Second)
	f.cache.MarkDown("up", ts.Add(-50*time.Millisecond))
	f.cache.MarkDown("up", ts.Add(10*time.Second))

	if f.phantom.Evaluate(f.timeline.Record(dispatch("up", ts))) {
		t.Error("input confirmed 50ms earlier flagged as phantom")
	}
}

func TestPhantomFocusChangeAfterInputDoesNotExempt(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	ts := epoch.Add(time.Second)
	f.timeline.Record(focus("cell-1", ts.Add(30*time.Millisecond), true))
	f.timeline.Record(dispatch("left", ts))
	f.engine.Drain()

	if f.phantom.Count() != 1 {
		t.Errorf("Count() = %d, want 1", f.phantom.Count())
	}
}

func TestPhantomIgnoresNonDispatch(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	event := f.timeline.Record(models.Event{
		Kind:      models.KindInput,
		ID:        "up",
		Timestamp: epoch,
		Payload:   models.Payload{Source: models.SourceHardware},
	})
	if f.phantom.Evaluate(event) {
		t.Error("hardware input flagged as phantom")
	}
}

func TestPhantomExcludesMalformed(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())

	f.phantom.Evaluate(dispatch("", epoch))
	f.phantom.Evaluate(dispatch("up", epoch.Add(time.Second)))
	f.phantom.Evaluate(dispatch("up", epoch))
	degraded := dispatch("down", epoch.Add(2*time.Second))
	degraded.Degraded = true
	f.phantom.Evaluate(degraded)

	if got := f.phantom.Excluded(); got != 3 {
		t.Errorf("Excluded() = %d, want 3", got)
	}
	if got := f.phantom.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestStallHeartbeatClassification(t *testing.T) {
	f := setupDetectors(t, Thresholds{
		PhantomWindow:        200 * time.Millisecond,
		StallWarn:            1000 * time.Millisecond,
		StallCritical:        5000 * time.Millisecond,
		StuckRepeatThreshold: 5,
	})

	now := epoch
	f.stall.ObserveHeartbeat(now)
	for _, ms := range []int{200, 1500, 300, 6000} {
		now = now.Add(time.Duration(ms) * time.Millisecond)
		f.stall.ObserveHeartbeat(now)
	}

	stats := f.stall.Stats()
	if stats.Warnings != 1 || stats.Critical != 1 {
		t.Errorf("warnings=%d critical=%d, want 1 and 1", stats.Warnings, stats.Critical)
	}
	if f.stall.CriticalCount() != 1 {
		t.Errorf("CriticalCount() = %d", f.stall.CriticalCount())
	}
	if f.stall.MaxStallMs() != 6000 {
		t.Errorf("MaxStallMs() = %v, want 6000", f.stall.MaxStallMs())
	}
	if f.stall.AvgStallMs() != 3750 {
		t.Errorf("AvgStallMs() = %v, want 3750", f.stall.AvgStallMs())
	}

	records := f.timeline.Query(models.KindStall, epoch)
	if len(records) != 2 {
		t.Fatalf("stall records = %d, want 2", len(records))
	}
	if records[0].Payload.Severity != models.SeverityWarning || records[0].Payload.Delta != 1500*time.Millisecond {
		t.Errorf("first record = %+v", records[0].Payload)
	}
	if records[1].Payload.Severity != models.SeverityCritical {
		t.Errorf("second record = %+v", records[1].Payload)
	}
}

func TestStallExcludesBackwardsHeartbeat(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	f.stall.ObserveHeartbeat(epoch.Add(10 * time.Second))
	f.stall.ObserveHeartbeat(epoch)
	f.stall.ObserveHeartbeat(epoch.Add(10*time.Second + 500*time.Millisecond))

	stats := f.stall.Stats()
	if stats.Excluded != 1 || stats.Count() != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStallFrameHitch(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	expected := 16 * time.Millisecond

	now := epoch
	f.stall.ObserveFrame(now, expected)
	for _, gap := range []time.Duration{16, 17, 32, 33, 100, 16} {
		now = now.Add(gap * time.Millisecond)
		f.stall.ObserveFrame(now, expected)
	}

	if got := f.stall.Stats().Hitches; got != 2 {
		t.Errorf("hitches = %d, want 2", got)
	}
	if got := len(f.timeline.Query(models.KindFrameHitch, epoch)); got != 2 {
		t.Errorf("hitch events = %d, want 2", got)
	}
}

func TestStuckFocusStreams(t *testing.T) {
	tests := []struct {
		name    string
		stream  []string
		flagsAt []int
	}{
		{"five identical", []string{"A", "A", "A", "A", "A"}, []int{4}},
		{"interrupted by none", []string{"A", "A", models.NoFocus, "A", "A"}, nil},
		{"fires once per episode", []string{"A", "A", "A", "A", "A", "A", "A"}, []int{4}},
		{"second episode after reset", []string{"A", "A", "A", "A", "A", "B", "B", "B", "B", "B"}, []int{4, 9}},
		{"none never stuck", []string{"", "", "", "", "", ""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupDetectors(t, DefaultThresholds())
			var flagged []int
			for i, id := range tt.stream {
				sample := models.FocusSample{ElementID: id, Timestamp: epoch.Add(time.Duration(i) * time.Second)}
				if f.stuck.Observe(sample) {
					flagged = append(flagged, i)
				}
			}
			if len(flagged) != len(tt.flagsAt) {
				t.Fatalf("flagged at %v, want %v", flagged, tt.flagsAt)
			}
			for i := range flagged {
				if flagged[i] != tt.flagsAt[i] {
					t.Errorf("flagged at %v, want %v", flagged, tt.flagsAt)
				}
			}
			if f.stuck.Episodes() != len(tt.flagsAt) {
				t.Errorf("Episodes() = %d", f.stuck.Episodes())
			}
		})
	}
}

func TestStuckFocusUniqueIDs(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	for i, id := range []string{"A", "B", models.NoFocus, "A", "C"} {
		f.stuck.Observe(models.FocusSample{ElementID: id, Timestamp: epoch.Add(time.Duration(i) * time.Second)})
	}
	if got := f.stuck.UniqueIDs(); got != 3 {
		t.Errorf("UniqueIDs() = %d, want 3", got)
	}
}

func TestEngineFeedsStuckDetector(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	for i := 0; i < 5; i++ {
		f.timeline.Record(focus("cell-9", epoch.Add(time.Duration(i)*100*time.Millisecond), i == 0))
	}

	if n := f.engine.Drain(); n != 5 {
		t.Errorf("Drain() = %d, want 5", n)
	}
	if f.stuck.Episodes() != 1 {
		t.Errorf("Episodes() = %d, want 1", f.stuck.Episodes())
	}
	// The stuck event appended during the drain is picked up next time.
	if n := f.engine.Drain(); n != 1 {
		t.Errorf("second Drain() = %d, want 1", n)
	}
}

func TestEngineKeepsUpWithFullRing(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	f.timeline.Record(focus("cell-0", epoch, true))
	for i := 1; i < f.timeline.Capacity(); i++ {
		f.timeline.Record(focus(models.NoFocus, epoch.Add(time.Duration(i)*time.Microsecond), false))
	}
	f.engine.Drain()

	const inputs = 20000
	start := epoch.Add(time.Second)
	for i := 0; i < inputs; i++ {
		f.timeline.Record(dispatch("right", start.Add(time.Duration(i)*500*time.Microsecond)))
	}

	began := time.Now()
	if n := f.engine.Drain(); n != inputs {
		t.Errorf("Drain() = %d, want %d", n, inputs)
	}
	if elapsed := time.Since(began); elapsed > 5*time.Second {
		t.Errorf("draining %d inputs over a full ring took %v", inputs, elapsed)
	}
	if f.engine.Missed() != 0 {
		t.Errorf("Missed() = %d, want 0", f.engine.Missed())
	}
	if f.phantom.Count() != inputs {
		t.Errorf("Count() = %d, want %d", f.phantom.Count(), inputs)
	}
}

func TestEngineRunDrainsOnCancel(t *testing.T) {
	f := setupDetectors(t, DefaultThresholds())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx, f.clock, 50*time.Millisecond)
		close(done)
	}()

	f.clock.WaitForTimers(1)
	f.timeline.Record(dispatch("up", epoch))
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	if f.phantom.Count() != 1 {
		t.Errorf("Count() = %d, want 1", f.phantom.Count())
	}
}
