package inputcache

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRecentlyActiveWindow(t *testing.T) {
	cache := New()
	window := 200 * time.Millisecond
	cache.MarkDown("select", epoch)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"same instant", epoch, true},
		{"inside window", epoch.Add(199 * time.Millisecond), true},
		{"at window edge", epoch.Add(window), false},
		{"past window", epoch.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cache.RecentlyActive("select", window, tt.now); got != tt.want {
				t.Errorf("RecentlyActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecentlyActiveUnknownID(t *testing.T) {
	cache := New()
	if cache.RecentlyActive("menu", time.Hour, epoch) {
		t.Error("unknown id reported active")
	}
}

func TestMarkDownWriteIfNewer(t *testing.T) {
	cache := New()
	cache.MarkDown("up", epoch.Add(time.Second))
	cache.MarkDown("up", epoch)

	record, ok := cache.Record("up")
	if !ok {
		t.Fatal("record missing")
	}
	if !record.LastHardwareTime.Equal(epoch.Add(time.Second)) {
		t.Errorf("LastHardwareTime = %v, older mark overwrote newer", record.LastHardwareTime)
	}
}

func TestPreciseCountsTowardActivity(t *testing.T) {
	cache := New()
	cache.MarkDown("left", epoch)
	cache.MarkPrecise("left", epoch.Add(500*time.Millisecond))

	if !cache.RecentlyActive("left", 100*time.Millisecond, epoch.Add(550*time.Millisecond)) {
		t.Error("precise timestamp ignored")
	}
	record, _ := cache.Record("left")
	if !record.LastSeen().Equal(epoch.Add(500 * time.Millisecond)) {
		t.Errorf("LastSeen() = %v", record.LastSeen())
	}
}

func TestMarkRejectsMalformed(t *testing.T) {
	cache := New()
	cache.MarkDown("", epoch)
	cache.MarkPrecise("right", time.Time{})

	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}
	if cache.Rejected() != 2 {
		t.Errorf("Rejected() = %d, want 2", cache.Rejected())
	}
}

func TestConcurrentMarks(t *testing.T) {
	cache := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				cache.MarkDown("down", epoch.Add(time.Duration(i*4+offset)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	record, _ := cache.Record("down")
	if want := epoch.Add(3999 * time.Millisecond); !record.LastHardwareTime.Equal(want) {
		t.Errorf("LastHardwareTime = %v, want %v", record.LastHardwareTime, want)
	}
}

func TestRecentlyActiveIgnoresLaterPress(t *testing.T) {
	cache := New()
	cache.MarkDown("up", epoch.Add(10*time.Second))

	if cache.RecentlyActive("up", 200*time.Millisecond, epoch) {
		t.Error("press 10s after now counted as recent")
	}
	if cache.RecentlyActive("up", 200*time.Millisecond, epoch.Add(10*time.Second-time.Millisecond)) {
		t.Error("press 1ms after now counted as recent")
	}
}

func TestRecentlyActiveNewerPressKeepsOlder(t *testing.T) {
	tests := []struct {
		name  string
		marks []time.Duration
	}{
		{"in order", []time.Duration{-50 * time.Millisecond, 10 * time.Second}},
		{"newer first", []time.Duration{10 * time.Second, -50 * time.Millisecond}},
		{"several later", []time.Duration{-50 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := New()
			for _, offset := range tt.marks {
				cache.MarkDown("up", epoch.Add(offset))
			}
			if !cache.RecentlyActive("up", 200*time.Millisecond, epoch) {
				t.Error("press 50ms before now hidden by a later press")
			}
		})
	}
}

func TestPressHistoryBounded(t *testing.T) {
	cache := New()
	for i := 0; i < 3*historySize; i++ {
		cache.MarkPrecise("down", epoch.Add(time.Duration(i)*time.Millisecond))
	}
	if got := len(cache.presses["down"]); got != historySize {
		t.Errorf("history length = %d, want %d", got, historySize)
	}
	if !cache.RecentlyActive("down", 10*time.Millisecond, epoch.Add(time.Duration(3*historySize)*time.Millisecond)) {
		t.Error("newest press dropped from history")
	}
}
