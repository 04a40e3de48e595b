// focustrace reproduces and diagnoses focus lockups in remote-driven UIs.
// It drives an escalating command stream at the UI, watches for phantom
// input, main-loop stalls and stuck focus, and reports the run.
//
// Usage:
//
//	focustrace [run] [flags]      run one escalation (default)
//	focustrace presets            list built-in presets
//	focustrace report RUN_ID      print a stored report
//	focustrace reproductions      list runs flagged as possible reproductions
//	focustrace inspect DUMP       summarize a timeline dump
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/vincentbai/focustrace/internal/archive"
	"github.com/vincentbai/focustrace/internal/config"
	"github.com/vincentbai/focustrace/internal/database"
	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/metrics"
	"github.com/vincentbai/focustrace/internal/models"
	"github.com/vincentbai/focustrace/internal/session"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	command := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		return runEscalation(args, stdout)
	case "presets":
		for _, name := range config.Presets() {
			cfg, _ := config.Preset(name)
			marker := " "
			if name == config.DefaultPreset {
				marker = "*"
			}
			fmt.Fprintf(stdout, "%s %-18s %s, ballast %s\n", marker, name,
				cfg.Plan.Duration(), humanize.IBytes(uint64(cfg.Plan.TotalBallastMB())<<20))
		}
		return nil
	case "report", "reproductions":
		return query(command, args, stdout)
	case "inspect":
		return inspect(args, stdout)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type runFlags struct {
	preset       string
	configPath   string
	timeout      time.Duration
	listen       string
	pushFocus    bool
	databasePath string
	dumpPath     string
	reportPath   string
	seed         uint64
	logFormat    string
	logLevel     string
}

func parseRunFlags(args []string) (runFlags, *pflag.FlagSet, error) {
	var f runFlags
	flagSet := pflag.NewFlagSet("focustrace run", pflag.ContinueOnError)
	flagSet.StringVarP(&f.preset, "preset", "p", config.DefaultPreset, "built-in preset to run")
	flagSet.StringVarP(&f.configPath, "config", "c", "", "YAML run file (overrides --preset; default $"+config.EnvConfig+")")
	flagSet.DurationVar(&f.timeout, "timeout", 0, "abort the run after this long (default twice the plan)")
	flagSet.StringVar(&f.listen, "listen", config.Address(), "ingest server address; empty disables it")
	flagSet.BoolVar(&f.pushFocus, "push-focus", false, "sample focus pushed to the ingest server instead of the simulator")
	flagSet.StringVar(&f.databasePath, "db", "", "sqlite database for runs (default in the application data directory; \"none\" disables)")
	flagSet.StringVar(&f.dumpPath, "dump", "", "write a compressed timeline dump to this path")
	flagSet.StringVar(&f.reportPath, "report-json", "", "write the report as JSON to this path")
	flagSet.Uint64Var(&f.seed, "seed", 0, "seed for random profiles that do not set one")
	flagSet.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		return f, flagSet, err
	}
	if flagSet.NArg() > 0 {
		return f, flagSet, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return f, flagSet, nil
}

func runEscalation(args []string, stdout io.Writer) error {
	f, flagSet, err := parseRunFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, f.logFormat, f.logLevel)
	if err != nil {
		return err
	}

	cfg, err := config.Resolve(f.configPath, f.preset)
	if err != nil {
		return err
	}
	if flagSet.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flagSet.Changed("seed") {
		for i := range cfg.Plan.Stages {
			if cfg.Plan.Stages[i].Profile.Seed == nil {
				cfg.Plan.Stages[i].Profile = cfg.Plan.Stages[i].Profile.WithSeed(f.seed)
			}
		}
	}

	db, err := openDatabase(f.databasePath)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	sinks := []metrics.Sink{metrics.LogSink{Logger: logger}}
	if f.reportPath != "" {
		sinks = append(sinks, metrics.JSONFileSink{Path: f.reportPath})
	}

	s, err := session.New(session.Options{
		Config:      cfg,
		Listen:      f.listen,
		PushedFocus: f.pushFocus,
		Database:    db,
		DumpPath:    f.dumpPath,
		Sinks:       sinks,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := s.Run(ctx)
	fmt.Fprint(stdout, metrics.Summary(report))
	return err
}

// openDatabase opens the run database. An empty path selects the default
// location; "none" disables persistence.
func openDatabase(path string) (*database.Database, error) {
	if path == "none" {
		return nil, nil
	}
	if path == "" {
		directory, err := applicationDirectory()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(directory, "runs.db")
	}
	return database.NewDatabase(path)
}

// applicationDirectory returns the platform-specific data directory,
// creating it if needed.
func applicationDirectory() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	var directory string
	switch runtime.GOOS {
	case "darwin":
		directory = filepath.Join(homeDirectory, "Library", "Application Support", "FocusTrace")
	case "windows":
		directory = filepath.Join(homeDirectory, "AppData", "Roaming", "FocusTrace")
	default: // linux and others
		directory = filepath.Join(homeDirectory, ".local", "share", "FocusTrace")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("failed to create application directory: %w", err)
	}
	return directory, nil
}

func query(command string, args []string, stdout io.Writer) error {
	var databasePath string
	flagSet := pflag.NewFlagSet("focustrace "+command, pflag.ContinueOnError)
	flagSet.StringVar(&databasePath, "db", "", "sqlite database for runs (default in the application data directory)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if databasePath == "none" {
		return errors.New("this command needs a database")
	}

	db, err := openDatabase(databasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	if command == "reproductions" {
		ids, err := db.Reproductions(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(stdout, id)
		}
		return nil
	}

	if flagSet.NArg() != 1 {
		return errors.New("usage: focustrace report RUN_ID")
	}
	report, err := db.Report(ctx, flagSet.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, metrics.Summary(report))
	return nil
}

func inspect(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: focustrace inspect DUMP")
	}
	header, events, err := archive.ReadFile(args[0])
	if err != nil {
		return err
	}

	counts := make(map[models.Kind]int, len(models.Kinds))
	degraded := 0
	for _, event := range events {
		counts[event.Kind]++
		if event.Degraded {
			degraded++
		}
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	fmt.Fprintf(stdout, "run %s [%s] %s, %s events (%s evicted, %d degraded)\n",
		header.RunID, header.Preset, header.FinishedAt.Sub(header.StartedAt).Round(time.Millisecond),
		humanize.Comma(int64(len(events))), humanize.Comma(header.Missed), degraded)
	for _, kind := range kinds {
		fmt.Fprintf(stdout, "  %-13s %s\n", kind, humanize.Comma(int64(counts[models.Kind(kind)])))
	}
	return nil
}
