// Package session wires the components of one diagnostic run together,
// runs the escalation under an external timeout and delivers the report
// however the run ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/focustrace/internal/archive"
	"github.com/vincentbai/focustrace/internal/clock"
	"github.com/vincentbai/focustrace/internal/config"
	"github.com/vincentbai/focustrace/internal/database"
	"github.com/vincentbai/focustrace/internal/detector"
	"github.com/vincentbai/focustrace/internal/inputcache"
	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/metrics"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/monitor"
	"github.com/vincentbai/focustrace/internal/navigation"
	"github.com/vincentbai/focustrace/internal/server"
	"github.com/vincentbai/focustrace/internal/simulator"
	"github.com/vincentbai/focustrace/internal/stage"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// persistTimeout bounds writing the report and timeline once the run has
// ended.
const persistTimeout = 30 * time.Second

// UI is the application under test as seen by a run.
type UI interface {
	stage.CommandSink
	monitor.FocusSource
	monitor.MainLoop
}

type Options struct {
	Config config.Config
	RunID  string // generated when empty

	// UI receives commands. Nil runs against the built-in simulator.
	UI UI

	// Listen is the ingest server address. Empty disables the server.
	Listen string
	// PushedFocus samples the focus pushed to the ingest server instead
	// of asking the UI. It requires Listen.
	PushedFocus bool

	Database *database.Database
	DumpPath string
	Sinks    []metrics.Sink

	Clock  clock.Clock
	Logger *slog.Logger
}

type Session struct {
	cfg    config.Config
	runID  string
	clock  clock.Clock
	logger *slog.Logger

	ui       UI
	grid     *simulator.Grid
	focus    monitor.FocusSource
	server   *server.Server
	database *database.Database
	dumpPath string
	sinks    metrics.Multi

	timeline   *timeline.Timeline
	cache      *inputcache.Cache
	phantom    *detector.Phantom
	stall      *detector.Stall
	stuck      *detector.StuckFocus
	engine     *detector.Engine
	controller *stage.Controller
	reporter   *metrics.Reporter
}

// New validates opts and builds every component of the run. Nothing
// starts until Run.
func New(opts Options) (*Session, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.PushedFocus && opts.Listen == "" {
		return nil, errors.New("pushed focus needs the ingest server")
	}

	s := &Session{
		cfg:      opts.Config,
		runID:    opts.RunID,
		clock:    opts.Clock,
		database: opts.Database,
		dumpPath: opts.DumpPath,
		sinks:    append(metrics.Multi(nil), opts.Sinks...),
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s.logger = logger.With("run_id", s.runID)
	s.seedProfiles()

	s.ui = opts.UI
	if s.ui == nil {
		s.grid = simulator.NewGrid(s.cfg.Simulator, s.clock, s.logger.With("component", "simulator"))
		s.ui = s.grid
	}

	th := s.cfg.Thresholds
	s.timeline = timeline.New(s.clock, s.cfg.Capacity())
	s.cache = inputcache.New()
	s.phantom = detector.NewPhantom(s.timeline, s.cache, th, s.logger)
	s.stall = detector.NewStall(s.timeline, th, s.logger)
	s.stuck = detector.NewStuckFocus(s.timeline, th.StuckRepeatThreshold, s.logger)
	s.engine = detector.NewEngine(s.timeline, s.phantom, s.stuck, s.logger)

	dispatch := &monitor.DispatchRecorder{Next: s.ui, Clock: s.clock, Timeline: s.timeline}
	s.controller = stage.New(s.cfg.Plan, dispatch, s.clock, nil, s.logger)
	s.reporter = metrics.NewReporter(s.runID, s.cfg.Preset, th, metrics.Sources{
		Controller: s.controller,
		Timeline:   s.timeline,
		Cache:      s.cache,
		Phantom:    s.phantom,
		Stall:      s.stall,
		Stuck:      s.stuck,
	}, s.clock)

	s.focus = s.ui
	if opts.Listen != "" {
		pushed := &monitor.PushedFocus{}
		hardware := &monitor.HardwareRecorder{Cache: s.cache, Timeline: s.timeline}
		s.server = server.NewServer(hardware, pushed, s.reporter, opts.Listen, s.logger)
		if opts.PushedFocus {
			s.focus = pushed
		}
	}

	if s.database != nil {
		s.sinks = append(s.sinks, s.database)
	}
	return s, nil
}

// seedProfiles gives every stage that draws random numbers without a seed
// one derived from the start time. The seed is logged and stored with the
// run so the command stream can be replayed.
func (s *Session) seedProfiles() {
	base := uint64(s.clock.Now().UnixNano())
	for i := range s.cfg.Plan.Stages {
		profile := &s.cfg.Plan.Stages[i].Profile
		if profile.Seed != nil {
			continue
		}
		if profile.Strategy != navigation.Random && profile.Delay.Kind != navigation.DelayRandom {
			continue
		}
		seed := base + uint64(i)
		*profile = profile.WithSeed(seed)
		s.logger.Info("seeded random profile", "stage", stage.Escalation[i], "seed", seed)
	}
}

func (s *Session) RunID() string { return s.runID }

// Config returns the configuration the run uses, including generated
// seeds.
func (s *Session) Config() config.Config { return s.cfg }

// IngestAddress binds the ingest server early and returns its address.
func (s *Session) IngestAddress() (net.Addr, error) {
	if s.server == nil {
		return nil, errors.New("ingest server disabled")
	}
	return s.server.Listen()
}

// Run executes the escalation and returns its report. The report is built
// and delivered on every exit path; a run that ends early yields a
// partial report and the error that ended it.
func (s *Session) Run(ctx context.Context) (models.Report, error) {
	startedAt := s.clock.Now()
	if s.database != nil {
		registerContext, cancelRegister := detached(ctx)
		err := s.database.CreateRun(registerContext, s.runID, s.cfg.Preset, startedAt, s.cfg)
		cancelRegister()
		if err != nil {
			return s.reporter.Build(err), fmt.Errorf("registering run: %w", err)
		}
	}

	timeout := s.cfg.RunTimeout()
	runContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("run started",
		"preset", s.cfg.Preset,
		"plan", s.cfg.Plan.Duration(),
		"timeout", timeout,
		"timeline_capacity", s.timeline.Capacity(),
	)

	group := monitor.NewGroup(runContext, s.logger)
	defer group.Stop()
	s.startMonitors(group)

	runErr := s.controller.Run(runContext)
	group.Stop()
	s.controller.Ballast().Release()

	if s.grid != nil {
		stats := s.grid.Stats()
		s.logger.Info("simulator stats",
			"retired", stats.Retired,
			"dropped", stats.Dropped,
			"backlog", stats.Backlog,
			"latches", stats.Latches,
		)
	}
	if missed := s.engine.Missed(); missed > 0 {
		s.logger.Warn("detectors missed events", "missed", missed)
	}

	report := s.reporter.Build(runErr)
	if runErr != nil {
		s.logger.Error("run aborted", "reason", report.Abort, "error", runErr)
	}
	persistContext, cancelPersist := detached(ctx)
	defer cancelPersist()
	return report, errors.Join(runErr, s.persist(persistContext, report))
}

// detached returns a context that outlives cancellation of ctx, bounded
// by persistTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (s *Session) startMonitors(group *monitor.Group) {
	if s.grid != nil {
		group.Go("simulator", s.grid.Run)
	}
	if s.server != nil {
		group.Go("ingest", func(ctx context.Context) {
			if err := s.server.Serve(ctx); err != nil {
				s.logger.Error("ingest server failed", "error", err)
			}
		})
	}
	heartbeat := &monitor.Heartbeat{Clock: s.clock, Loop: s.ui, Stall: s.stall, Interval: s.cfg.Monitors.Heartbeat}
	frame := &monitor.Frame{Clock: s.clock, Loop: s.ui, Stall: s.stall, Interval: s.cfg.Monitors.Frame}
	sampler := &monitor.FocusSampler{Clock: s.clock, Source: s.focus, Timeline: s.timeline, Interval: s.cfg.Monitors.Focus}
	group.Go("heartbeat", heartbeat.Run)
	group.Go("frame", frame.Run)
	group.Go("focus", sampler.Run)
	group.Go("detectors", func(ctx context.Context) {
		s.engine.Run(ctx, s.clock, s.cfg.Monitors.Drain)
	})
}

// persist stores the timeline and delivers the report. Every step runs
// even when an earlier one fails.
func (s *Session) persist(ctx context.Context, report models.Report) error {
	var errs []error
	events := s.timeline.Snapshot()

	if s.database != nil {
		if err := s.database.InsertEvents(ctx, s.runID, events); err != nil {
			errs = append(errs, fmt.Errorf("storing timeline: %w", err))
		}
	}
	if s.dumpPath != "" {
		header := archive.Header{
			RunID:      s.runID,
			Preset:     s.cfg.Preset,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Missed:     evicted(events),
		}
		if err := archive.WriteFile(s.dumpPath, header, events); err != nil {
			errs = append(errs, err)
		} else {
			s.logger.Info("timeline dumped", "path", s.dumpPath, "events", len(events))
		}
	}
	if err := s.sinks.Emit(ctx, report); err != nil {
		errs = append(errs, fmt.Errorf("emitting report: %w", err))
	}
	return errors.Join(errs...)
}

// evicted returns how many events the ring dropped before snapshot.
func evicted(snapshot []models.Event) int64 {
	if len(snapshot) == 0 {
		return 0
	}
	return snapshot[0].Seq - 1
}
