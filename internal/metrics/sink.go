package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/focustrace/internal/models"
)

// Sink receives the final report of a run.
type Sink interface {
	Emit(ctx context.Context, report models.Report) error
}

// Multi fans a report out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, report models.Report) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes the report as one structured log record.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, report models.Report) error {
	level := slog.LevelInfo
	if report.PossibleReproduction {
		level = slog.LevelWarn
	}
	s.Logger.LogAttrs(ctx, level, "run report",
		slog.String("run_id", report.RunID),
		slog.String("preset", report.Preset),
		slog.Bool("completed", report.Completed),
		slog.String("abort_reason", report.Abort),
		slog.Int64("commands", report.TotalCommands),
		slog.Int64("phantoms", report.PhantomCount),
		slog.Int("stalls", report.StallCount),
		slog.Int("critical_stalls", report.CriticalStallCount),
		slog.Float64("max_stall_ms", report.MaxStallMs),
		slog.Float64("avg_stall_ms", report.AvgStallMs),
		slog.Int("frame_hitches", report.FrameHitchCount),
		slog.Int("stuck_episodes", report.StuckFocusEpisodes),
		slog.Int("unique_focus_ids", report.UniqueFocusIDs),
		slog.String("ballast", humanize.IBytes(uint64(report.BallastMB)<<20)),
		slog.Int64("unclassifiable", report.Unclassifiable),
		slog.Int64("excluded", report.Excluded),
		slog.Bool("possible_reproduction", report.PossibleReproduction),
	)
	return nil
}

// JSONFileSink writes the report as indented JSON to Path, replacing any
// previous file atomically.
type JSONFileSink struct {
	Path string
}

func (s JSONFileSink) Emit(_ context.Context, report models.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	temporary, err := os.CreateTemp(filepath.Dir(s.Path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(temporary.Name())

	if _, err := temporary.Write(append(data, '\n')); err != nil {
		temporary.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(temporary.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}

// Summary renders a short human-readable digest of the report.
func Summary(report models.Report) string {
	var b strings.Builder
	status := "completed"
	if !report.Completed {
		status = "aborted (" + report.Abort + ")"
	}
	fmt.Fprintf(&b, "run %s [%s] %s in %s\n", report.RunID, report.Preset, status,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "  commands:        %s\n", humanize.Comma(report.TotalCommands))
	fmt.Fprintf(&b, "  phantom inputs:  %s\n", humanize.Comma(report.PhantomCount))
	fmt.Fprintf(&b, "  stalls:          %d (%d critical, max %.0fms, avg %.0fms)\n",
		report.StallCount, report.CriticalStallCount, report.MaxStallMs, report.AvgStallMs)
	fmt.Fprintf(&b, "  frame hitches:   %d\n", report.FrameHitchCount)
	fmt.Fprintf(&b, "  stuck focus:     %d episodes across %d ids\n", report.StuckFocusEpisodes, report.UniqueFocusIDs)
	fmt.Fprintf(&b, "  ballast:         %s\n", humanize.IBytes(uint64(report.BallastMB)<<20))
	for _, stage := range report.StageDurations {
		fmt.Fprintf(&b, "  stage %-10s %.0fms\n", stage.Stage, stage.Duration)
	}
	if report.PossibleReproduction {
		b.WriteString("  POSSIBLE REPRODUCTION\n")
	}
	return b.String()
}
