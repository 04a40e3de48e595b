// Package config resolves the settings of one run: a named preset,
// optionally overlaid by a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vincentbai/focustrace/internal/detector"
	"github.com/vincentbai/focustrace/internal/navigation"
	"github.com/vincentbai/focustrace/internal/simulator"
	"github.com/vincentbai/focustrace/internal/stage"
	"github.com/vincentbai/focustrace/internal/timeline"
)

// Environment variables read by Resolve and Address.
const (
	EnvConfig  = "FOCUSTRACE_CONFIG"
	EnvAddress = "FOCUSTRACE_ADDRESS"
)

// DefaultAddress is where the ingest server listens when nothing else is
// configured.
const DefaultAddress = "127.0.0.1:8124"

// maxDispatchRate bounds the command rate assumed for zero-delay stages
// when sizing the timeline.
const maxDispatchRate = 20000

type Config struct {
	Preset           string              `yaml:"preset" json:"preset"`
	Thresholds       detector.Thresholds `yaml:"thresholds" json:"thresholds"`
	Plan             stage.Plan          `yaml:"plan" json:"plan"`
	Monitors         Monitors            `yaml:"monitors" json:"monitors"`
	Simulator        simulator.Config    `yaml:"simulator" json:"simulator"`
	TimelineCapacity int                 `yaml:"timeline_capacity" json:"timeline_capacity"`

	// Timeout bounds the whole run. Zero means twice the plan duration.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Monitors holds the sampling intervals of the run's producers.
type Monitors struct {
	Heartbeat time.Duration `yaml:"heartbeat" json:"heartbeat"`
	Frame     time.Duration `yaml:"frame" json:"frame"`
	Focus     time.Duration `yaml:"focus" json:"focus"`
	Drain     time.Duration `yaml:"drain" json:"drain"`
}

func DefaultMonitors() Monitors {
	return Monitors{
		Heartbeat: 100 * time.Millisecond,
		Frame:     time.Second / 60,
		Focus:     100 * time.Millisecond,
		Drain:     50 * time.Millisecond,
	}
}

func (m Monitors) Validate() error {
	if m.Heartbeat <= 0 || m.Frame <= 0 || m.Focus <= 0 || m.Drain <= 0 {
		return fmt.Errorf("monitor intervals must be positive: %+v", m)
	}
	return nil
}

// Validate checks every section and that the timeline can hold the
// widest detector window at the plan's peak event rate.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := c.Plan.Validate(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if err := c.Monitors.Validate(); err != nil {
		return err
	}
	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.TimelineCapacity != 0 {
		needed := timeline.MinimumCapacity(c.Thresholds.Window(), c.PeakEventRate())
		if c.TimelineCapacity < needed {
			return fmt.Errorf("timeline capacity %d below the %d events the detector window needs", c.TimelineCapacity, needed)
		}
	}
	return nil
}

// Capacity returns the timeline capacity to use.
func (c Config) Capacity() int {
	if c.TimelineCapacity > 0 {
		return c.TimelineCapacity
	}
	return max(timeline.DefaultCapacity, timeline.MinimumCapacity(c.Thresholds.Window(), c.PeakEventRate()))
}

// RunTimeout returns the external bound on the run.
func (c Config) RunTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 2 * c.Plan.Duration()
}

// PeakEventRate estimates the most timeline events per second any stage
// produces. Every dispatched command can also yield a phantom record.
func (c Config) PeakEventRate() int {
	commands := 0
	for _, s := range c.Plan.Stages {
		commands = max(commands, commandRate(s.Profile))
	}
	rate := 2 * commands
	for _, interval := range []time.Duration{c.Monitors.Heartbeat, c.Monitors.Frame, c.Monitors.Focus} {
		if interval > 0 {
			rate += int(time.Second / interval)
		}
	}
	return rate
}

func commandRate(p navigation.Profile) int {
	micros := p.BaseGapMicros
	switch p.Delay.Kind {
	case navigation.DelayLinear:
		micros = p.Delay.FloorMicros
	case navigation.DelayRandom:
		micros = p.Delay.MinMicros
	}
	if micros <= 0 {
		return maxDispatchRate
	}
	return min(maxDispatchRate, int(time.Second/(time.Duration(micros)*time.Microsecond)))
}

// Load reads a YAML run file. The file may name a base preset; every
// other key overrides that preset. A plan's stages, when given, must list
// all four stages in full.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML run description from r. See Load.
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if head.Preset == "" {
		head.Preset = DefaultPreset
	}
	cfg, err := Preset(head.Preset)
	if err != nil {
		return Config{}, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Preset = head.Preset

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Resolve picks the run configuration: the file at path if set, otherwise
// the file named by FOCUSTRACE_CONFIG, otherwise the named preset.
// preset is ignored when a file is used; the file names its own base.
func Resolve(path, preset string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		return Load(path)
	}
	if preset == "" {
		preset = DefaultPreset
	}
	cfg, err := Preset(preset)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("preset %s: %w", preset, err)
	}
	return cfg, nil
}

// Address returns the ingest listen address from FOCUSTRACE_ADDRESS or
// the default.
func Address() string {
	if address := os.Getenv(EnvAddress); address != "" {
		return address
	}
	return DefaultAddress
}
