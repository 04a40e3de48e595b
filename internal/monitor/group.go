// Package monitor contains the timer-driven producers of a run: heartbeat,
// frame and focus sampling, plus recorders for dispatched commands and
// hardware confirmations. Every producer writes into the shared timeline
// and input cache and never reads detector state.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vincentbai/focustrace/internal/logging"
)

// Group owns the goroutines of every registered monitor. Stop releases
// all of them and returns only once each has exited, whatever state the
// run was in.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	wg     sync.WaitGroup
	once   sync.Once
	active atomic.Int32
}

func NewGroup(parent context.Context, logger *slog.Logger) *Group {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel, logger: logger}
}

// Go runs fn on its own goroutine until the group stops. fn must return
// promptly once its context is done.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	g.active.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("monitor panicked", "monitor", name, "panic", r)
			}
		}()
		g.logger.Debug("monitor started", "monitor", name)
		fn(g.ctx)
		g.logger.Debug("monitor stopped", "monitor", name)
	}()
}

// Stop cancels every monitor and waits for them. It is safe to call more
// than once.
func (g *Group) Stop() {
	g.once.Do(func() {
		g.cancel()
		g.wg.Wait()
		g.logger.Debug("monitors released")
	})
}

// Active returns how many monitors are still running.
func (g *Group) Active() int { return int(g.active.Load()) }
