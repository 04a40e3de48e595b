// Package metrics aggregates detector and controller state into the run
// report and delivers it to one or more sinks.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/detector"
	"github.com/vincentbai/focustrace/internal/inputcache"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/stage"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// Sources are the live components a report is read from. Any of them may
// be nil; their counters then read as zero.
type Sources struct {
	Controller *stage.Controller
	Timeline   *timeline.Timeline
	Cache      *inputcache.Cache
	Phantom    *detector.Phantom
	Stall      *detector.Stall
	Stuck      *detector.StuckFocus
}

type Reporter struct {
	runID      string
	preset     string
	thresholds detector.Thresholds
	sources    Sources
	clock      clock.Clock
	startedAt  time.Time
}

// NewReporter starts the report clock for one run.
func NewReporter(runID, preset string, thresholds detector.Thresholds, sources Sources, c clock.Clock) *Reporter {
	return &Reporter{
		runID:      runID,
		preset:     preset,
		thresholds: thresholds,
		sources:    sources,
		clock:      c,
		startedAt:  c.Now(),
	}
}

// Build returns the report as of now. It may be called at any point of
// the run; cause is the error that ended it, or nil.
func (r *Reporter) Build(cause error) models.Report {
	report := models.Report{
		RunID:      r.runID,
		Preset:     r.preset,
		StartedAt:  r.startedAt,
		FinishedAt: r.clock.Now(),
		Abort:      AbortReason(cause),
	}

	s := r.sources
	if s.Controller != nil {
		stats := s.Controller.Stats()
		report.Completed = stats.State == stage.Complete
		report.TotalCommands = stats.Commands
		report.StageDurations = stats.Durations
		report.BallastMB = stats.BallastMB
	}
	if report.StageDurations == nil {
		report.StageDurations = []models.StageDuration{}
	}
	if s.Phantom != nil {
		report.PhantomCount = s.Phantom.Count()
		report.Excluded += s.Phantom.Excluded()
	}
	var maxStall time.Duration
	if s.Stall != nil {
		stats := s.Stall.Stats()
		maxStall = stats.Max
		report.StallCount = stats.Count()
		report.CriticalStallCount = stats.Critical
		report.MaxStallMs = milliseconds(stats.Max)
		report.AvgStallMs = milliseconds(stats.Avg)
		report.FrameHitchCount = stats.Hitches
		report.Excluded += stats.Excluded
	}
	if s.Stuck != nil {
		report.StuckFocusEpisodes = s.Stuck.Episodes()
		report.UniqueFocusIDs = s.Stuck.UniqueIDs()
		report.Excluded += s.Stuck.Excluded()
	}
	if s.Cache != nil {
		report.Excluded += s.Cache.Rejected()
	}
	if s.Timeline != nil {
		report.Unclassifiable = s.Timeline.Unclassifiable()
	}

	report.PossibleReproduction = PossibleReproduction(report.PhantomCount, maxStall, r.thresholds)
	return report
}

// PossibleReproduction flags a run whose phantom count exceeds the
// reproduction threshold while a stall exceeded the critical threshold.
func PossibleReproduction(phantoms int64, maxStall time.Duration, t detector.Thresholds) bool {
	return phantoms > t.PhantomReproductionThreshold && maxStall > t.StallCritical
}

// AbortReason renders the error that ended a run for the report. A nil
// error means the run completed.
func AbortReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, stage.ErrBallastExhausted):
		return "ballast exhausted"
	default:
		return err.Error()
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
