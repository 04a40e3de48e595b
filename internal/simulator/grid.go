// Package simulator is an in-process stand-in for the real UI: a grid of
// focusable cells driven by a serial main loop. It lets a run reproduce
// backlog-induced stalls and focus latching without a platform adapter.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
)

// loopHeadroom is the main-loop queue space kept free for monitor
// callbacks once the command backlog is full.
const loopHeadroom = 64

type Config struct {
	Columns int `yaml:"columns" json:"columns"`
	Rows    int `yaml:"rows" json:"rows"`

	// CommandCost is main-loop time spent retiring one command.
	CommandCost time.Duration `yaml:"command_cost" json:"command_cost"`
	// BacklogLimit caps queued commands; further commands are dropped.
	BacklogLimit int `yaml:"backlog_limit" json:"backlog_limit"`
	// LatchBacklog is the backlog depth at which the focus engine stops
	// moving focus for LatchDuration. Zero disables latching.
	LatchBacklog  int           `yaml:"latch_backlog" json:"latch_backlog"`
	LatchDuration time.Duration `yaml:"latch_duration" json:"latch_duration"`
}

func DefaultConfig() Config {
	return Config{
		Columns:       5,
		Rows:          20,
		CommandCost:   2 * time.Millisecond,
		BacklogLimit:  4096,
		LatchBacklog:  1024,
		LatchDuration: 3 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Columns <= 0 || c.Rows <= 0 {
		return fmt.Errorf("grid must have at least one cell, got %dx%d", c.Columns, c.Rows)
	}
	if c.CommandCost < 0 {
		return fmt.Errorf("command cost cannot be negative")
	}
	if c.BacklogLimit <= 0 {
		return fmt.Errorf("backlog limit must be positive")
	}
	if c.LatchBacklog < 0 || c.LatchDuration < 0 {
		return fmt.Errorf("latch settings cannot be negative")
	}
	return nil
}

// Stats counts what the grid did with the commands it was sent.
type Stats struct {
	Retired int64
	Dropped int64
	Backlog int
	Latches int
}

// Grid implements the command sink, focus source and main loop of a run.
type Grid struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	tasks chan func()
	done  chan struct{}
	once  sync.Once

	mu           sync.Mutex
	row, col     int
	latchedUntil time.Time
	stats        Stats
}

func NewGrid(cfg Config, c clock.Clock, logger *slog.Logger) *Grid {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Grid{
		cfg:    cfg,
		clock:  c,
		logger: logger,
		tasks:  make(chan func(), cfg.BacklogLimit+loopHeadroom),
		done:   make(chan struct{}),
	}
}

// Run is the main loop. It executes posted work in order until ctx ends.
func (g *Grid) Run(ctx context.Context) {
	defer g.once.Do(func() { close(g.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-g.tasks:
			fn()
		}
	}
}

// Post queues fn on the main loop, blocking while the queue is full. It
// returns false once the loop has stopped.
func (g *Grid) Post(fn func()) bool {
	select {
	case <-g.done:
		return false
	default:
	}
	select {
	case g.tasks <- fn:
		return true
	case <-g.done:
		return false
	}
}

// Send queues one command for the focus engine without waiting for it.
func (g *Grid) Send(direction models.Direction) {
	g.mu.Lock()
	if g.stats.Backlog >= g.cfg.BacklogLimit {
		g.stats.Dropped++
		g.mu.Unlock()
		return
	}
	g.stats.Backlog++
	backlog := g.stats.Backlog
	latched := false
	if g.cfg.LatchBacklog > 0 && g.cfg.LatchDuration > 0 && backlog >= g.cfg.LatchBacklog {
		now := g.clock.Now()
		if !now.Before(g.latchedUntil) {
			g.latchedUntil = now.Add(g.cfg.LatchDuration)
			g.stats.Latches++
			latched = true
		}
	}
	g.mu.Unlock()

	if latched {
		g.logger.Warn("focus engine latched", "backlog", backlog, "for", g.cfg.LatchDuration)
	}

	select {
	case g.tasks <- func() { g.retire(direction) }:
	default:
		g.mu.Lock()
		g.stats.Backlog--
		g.stats.Dropped++
		g.mu.Unlock()
	}
}

func (g *Grid) retire(direction models.Direction) {
	g.clock.Sleep(g.cfg.CommandCost)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Backlog--
	g.stats.Retired++
	if g.clock.Now().Before(g.latchedUntil) {
		return
	}
	switch direction {
	case models.Up:
		g.row = max(g.row-1, 0)
	case models.Down:
		g.row = min(g.row+1, g.cfg.Rows-1)
	case models.Left:
		g.col = max(g.col-1, 0)
	case models.Right:
		g.col = min(g.col+1, g.cfg.Columns-1)
	}
}

// CurrentFocusID returns the id of the focused cell.
func (g *Grid) CurrentFocusID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return CellID(g.row, g.col)
}

func (g *Grid) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// CellID names the cell at row and col.
func CellID(row, col int) string {
	return fmt.Sprintf("cell-%d-%d", row, col)
}
