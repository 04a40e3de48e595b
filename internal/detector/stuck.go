package detector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// StuckFocus counts consecutive identical focus reads and flags an episode
// once, when the run reaches the threshold.
type StuckFocus struct {
	timeline  *timeline.Timeline
	threshold int
	logger    *slog.Logger

	mu       sync.Mutex
	lastID   string
	count    int
	lastTS   time.Time
	episodes int
	unique   map[string]struct{}
	excluded int64
}

func NewStuckFocus(tl *timeline.Timeline, threshold int, logger *slog.Logger) *StuckFocus {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StuckFocus{
		timeline:  tl,
		threshold: threshold,
		logger:    logger,
		unique:    make(map[string]struct{}),
	}
}

// Observe feeds one focus sample. It returns true when the sample
// completes a stuck episode. Samples older than the previous one are
// excluded and do not touch the run counter.
func (s *StuckFocus) Observe(sample models.FocusSample) bool {
	s.mu.Lock()
	if sample.Timestamp.IsZero() || sample.Timestamp.Before(s.lastTS) {
		s.excluded++
		s.mu.Unlock()
		return false
	}
	s.lastTS = sample.Timestamp

	switch {
	case sample.ElementID == models.NoFocus:
		s.count = 0
	case sample.ElementID == s.lastID:
		s.count++
	default:
		s.count = 1
	}
	s.lastID = sample.ElementID
	if sample.ElementID != models.NoFocus {
		s.unique[sample.ElementID] = struct{}{}
	}

	if s.count != s.threshold {
		s.mu.Unlock()
		return false
	}
	s.episodes++
	count := s.count
	s.mu.Unlock()

	s.timeline.Record(models.Event{
		Kind:      models.KindStuckFocus,
		ID:        sample.ElementID,
		Timestamp: sample.Timestamp,
		Payload:   models.Payload{Count: count},
	})
	s.logger.Warn("focus stuck", "id", sample.ElementID, "repeats", count)
	return true
}

// Episodes returns the number of stuck-focus episodes flagged so far.
func (s *StuckFocus) Episodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.episodes
}

// UniqueIDs returns how many distinct focus ids other than NONE were seen.
func (s *StuckFocus) UniqueIDs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unique)
}

func (s *StuckFocus) Excluded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.excluded
}
