package detector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// hitchFactor is how many expected frame intervals a frame may take before
// it counts as a hitch.
const hitchFactor = 2

// Stall measures scheduler starvation from two pushed signals: heartbeat
// callbacks and rendering ticks. Both must be delivered from the primary
// scheduling context; a separate goroutine would keep running while that
// context starves and see nothing.
type Stall struct {
	timeline   *timeline.Timeline
	thresholds Thresholds
	logger     *slog.Logger

	mu        sync.Mutex
	lastBeat  time.Time
	lastFrame time.Time
	warnings  int
	critical  int
	hitches   int
	total     time.Duration
	max       time.Duration
	excluded  int64
}

// StallStats is a point-in-time copy of the stall counters.
type StallStats struct {
	Warnings int
	Critical int
	Hitches  int
	Max      time.Duration
	Avg      time.Duration
	Excluded int64
}

// Count returns the number of stall records of either severity.
func (s StallStats) Count() int { return s.Warnings + s.Critical }

func NewStall(tl *timeline.Timeline, thresholds Thresholds, logger *slog.Logger) *Stall {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Stall{timeline: tl, thresholds: thresholds, logger: logger}
}

// ObserveHeartbeat records one heartbeat at now and classifies the gap
// since the previous one. The first heartbeat only sets the baseline. A
// timestamp earlier than the previous heartbeat is excluded and leaves
// the baseline untouched.
func (s *Stall) ObserveHeartbeat(now time.Time) (models.Severity, bool) {
	s.mu.Lock()
	if now.IsZero() || now.Before(s.lastBeat) {
		s.excluded++
		s.mu.Unlock()
		return "", false
	}
	previous := s.lastBeat
	s.lastBeat = now
	if previous.IsZero() {
		s.mu.Unlock()
		return "", false
	}

	delta := now.Sub(previous)
	var severity models.Severity
	switch {
	case delta > s.thresholds.StallCritical:
		severity = models.SeverityCritical
		s.critical++
	case delta > s.thresholds.StallWarn:
		severity = models.SeverityWarning
		s.warnings++
	default:
		s.mu.Unlock()
		return "", false
	}
	s.total += delta
	if delta > s.max {
		s.max = delta
	}
	s.mu.Unlock()

	s.timeline.Record(models.Event{
		Kind:      models.KindStall,
		ID:        "heartbeat",
		Timestamp: now,
		Payload:   models.Payload{Severity: severity, Delta: delta},
	})
	if severity == models.SeverityCritical {
		s.logger.Warn("critical stall", "delta", delta)
	} else {
		s.logger.Info("stall", "delta", delta)
	}
	return severity, true
}

// ObserveFrame records one rendering tick at now. A gap longer than
// hitchFactor expected intervals is recorded as a hitch.
func (s *Stall) ObserveFrame(now time.Time, expected time.Duration) bool {
	s.mu.Lock()
	if now.IsZero() || now.Before(s.lastFrame) || expected <= 0 {
		s.excluded++
		s.mu.Unlock()
		return false
	}
	previous := s.lastFrame
	s.lastFrame = now
	if previous.IsZero() {
		s.mu.Unlock()
		return false
	}
	delta := now.Sub(previous)
	if delta <= hitchFactor*expected {
		s.mu.Unlock()
		return false
	}
	s.hitches++
	s.mu.Unlock()

	s.timeline.Record(models.Event{
		Kind:      models.KindFrameHitch,
		ID:        "frame",
		Timestamp: now,
		Payload:   models.Payload{Delta: delta},
	})
	s.logger.Debug("frame hitch", "delta", delta, "expected", expected)
	return true
}

func (s *Stall) Stats() StallStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := StallStats{
		Warnings: s.warnings,
		Critical: s.critical,
		Hitches:  s.hitches,
		Max:      s.max,
		Excluded: s.excluded,
	}
	if n := s.warnings + s.critical; n > 0 {
		stats.Avg = s.total / time.Duration(n)
	}
	return stats
}

func (s *Stall) MaxStallMs() float64 { return durationMs(s.Stats().Max) }
func (s *Stall) AvgStallMs() float64 { return durationMs(s.Stats().Avg) }
func (s *Stall) CriticalCount() int  { return s.Stats().Critical }

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
