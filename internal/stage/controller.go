// Package stage runs the time-bound escalation that reproduces the focus
// lockup: Baseline, Level1, Level2 and Critical, each adding ballast and a
// faster command stream, followed by a quiet observation window.
//
// Escalation is unconditional. Detector output never shortens or extends
// a stage, so reproduction does not depend on detector latency.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/navigation"
)

// CommandSink receives navigation commands. Send is fire-and-forget and
// must tolerate back-to-back calls with no delay between them.
type CommandSink interface {
	Send(direction models.Direction)
}

// Stats is a snapshot of controller progress. It is valid at any point of
// the run, including after an abort.
type Stats struct {
	State       State
	Visited     []State
	Commands    int64
	Checkpoints int
	Durations   []models.StageDuration
	BallastMB   int
}

type Controller struct {
	plan    Plan
	sink    CommandSink
	clock   clock.Clock
	ballast *Ballast
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func New(plan Plan, sink CommandSink, c clock.Clock, ballast *Ballast, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	if ballast == nil {
		ballast = NewBallast(plan.BallastCap)
	}
	return &Controller{
		plan:    plan,
		sink:    sink,
		clock:   c,
		ballast: ballast,
		logger:  logger,
		stats:   Stats{State: Idle},
	}
}

// Run executes every stage in order and then the observation window. It
// returns ctx.Err() if the context ends first and wraps
// ErrBallastExhausted if a stage cannot allocate its ballast. The
// controller never re-enters a stage.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.stats.State != Idle {
		c.mu.Unlock()
		return fmt.Errorf("controller already ran (state %s)", c.stats.State)
	}
	c.mu.Unlock()

	for i, state := range Escalation {
		if err := c.runStage(ctx, state, c.plan.Stages[i]); err != nil {
			c.setState(Aborted)
			return err
		}
	}

	c.setState(Observing)
	c.logger.Info("observation window", "duration", c.plan.Observation)
	if err := c.wait(ctx, c.plan.Observation); err != nil {
		c.setState(Aborted)
		return err
	}

	c.setState(Complete)
	stats := c.Stats()
	c.logger.Info("escalation complete",
		"commands", stats.Commands,
		"ballast", humanize.IBytes(uint64(stats.BallastMB)*megabyte),
	)
	return nil
}

func (c *Controller) runStage(ctx context.Context, state State, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Allocation runs on its own goroutine but the stage is not entered
	// until it has finished, so stage timing excludes it.
	allocated := make(chan error, 1)
	go func() { allocated <- c.ballast.Allocate(cfg.MemoryDeltaMB) }()
	if err := <-allocated; err != nil {
		c.logger.Error("ballast allocation failed", "stage", state, "error", err)
		return fmt.Errorf("entering stage %s: %w", state, err)
	}

	c.mu.Lock()
	c.stats.State = state
	c.stats.Visited = append(c.stats.Visited, state)
	c.stats.BallastMB = c.ballast.TotalMB()
	ballastMB := c.stats.BallastMB
	c.mu.Unlock()

	start := c.clock.Now()
	deadline := start.Add(cfg.Duration)
	total := cfg.Profile.EstimateSteps(cfg.Duration)
	c.logger.Info("stage started",
		"stage", state,
		"name", cfg.Name,
		"strategy", cfg.Profile.Strategy,
		"duration", cfg.Duration,
		"estimated_steps", total,
		"ballast", humanize.IBytes(uint64(ballastMB)*megabyte),
	)

	defer func() {
		elapsed := c.clock.Now().Sub(start)
		c.mu.Lock()
		c.stats.Durations = append(c.stats.Durations, models.StageDuration{
			Stage:    state.String(),
			Duration: float64(elapsed) / float64(time.Millisecond),
		})
		c.mu.Unlock()
	}()

	nextReport := 25
	for step := 0; c.clock.Now().Before(deadline); step++ {
		command := navigation.Next(cfg.Profile, step, total)
		c.sink.Send(command.Direction)
		c.mu.Lock()
		c.stats.Commands++
		c.mu.Unlock()

		if err := c.wait(ctx, command.Delay); err != nil {
			return err
		}

		if cfg.CheckpointEvery > 0 && (step+1)%cfg.CheckpointEvery == 0 {
			c.logger.Debug("checkpoint pause", "stage", state, "step", step+1, "pause", cfg.CheckpointPause)
			if err := c.wait(ctx, cfg.CheckpointPause); err != nil {
				return err
			}
			c.mu.Lock()
			c.stats.Checkpoints++
			c.mu.Unlock()
		}

		if percent := int(100 * c.clock.Now().Sub(start) / cfg.Duration); percent >= nextReport && nextReport < 100 {
			c.logger.Info("stage progress", "stage", state, "percent", nextReport, "steps", step+1)
			for nextReport <= percent {
				nextReport += 25
			}
		}
	}
	return nil
}

// wait sleeps for d on the controller clock, returning early with
// ctx.Err() if the run is aborted. A non-positive d only checks ctx.
func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.stats.State = state
	c.mu.Unlock()
}

// Stats returns a copy of the current progress.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Visited = append([]State(nil), c.stats.Visited...)
	stats.Durations = append([]models.StageDuration(nil), c.stats.Durations...)
	return stats
}

// Ballast returns the ballast the controller allocates into.
func (c *Controller) Ballast() *Ballast { return c.ballast }
