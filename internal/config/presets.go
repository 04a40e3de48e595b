package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vincentbai/focustrace/internal/detector"
	"github.com/vincentbai/focustrace/internal/navigation"
	"github.com/vincentbai/focustrace/internal/simulator"
	"github.com/vincentbai/focustrace/internal/stage"
)

// ErrUnknownPreset is returned when a preset name is not registered.
var ErrUnknownPreset = errors.New("unknown preset")

const (
	PresetBaseline          = "baseline"
	PresetHeavyReproduction = "heavyReproduction"
	PresetMaxStress         = "maxStress"
)

// DefaultPreset is used when neither a flag nor a config file names one.
const DefaultPreset = PresetHeavyReproduction

var presets = map[string]func() Config{
	PresetBaseline:          baseline,
	PresetHeavyReproduction: heavyReproduction,
	PresetMaxStress:         maxStress,
}

// Presets returns the registered preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a fresh copy of the named preset.
func Preset(name string) (Config, error) {
	build, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w %q (have %v)", ErrUnknownPreset, name, Presets())
	}
	cfg := build()
	cfg.Preset = name
	return cfg, nil
}

func defaults() Config {
	return Config{
		Thresholds: detector.DefaultThresholds(),
		Monitors:   DefaultMonitors(),
		Simulator:  simulator.DefaultConfig(),
	}
}

func fixed(strategy navigation.Strategy, gap time.Duration) navigation.Profile {
	return navigation.Profile{
		Strategy:      strategy,
		BaseGapMicros: gap.Microseconds(),
		Delay:         navigation.DelayModel{Kind: navigation.DelayFixed},
	}
}

func ramp(strategy navigation.Strategy, from, floor time.Duration, over float64) navigation.Profile {
	return navigation.Profile{
		Strategy:      strategy,
		BaseGapMicros: from.Microseconds(),
		Delay: navigation.DelayModel{
			Kind:        navigation.DelayLinear,
			FloorMicros: floor.Microseconds(),
			Ramp:        over,
		},
	}
}

// baseline is a gentle control run: no ballast and rates the focus engine
// keeps up with.
func baseline() Config {
	cfg := defaults()
	snake := fixed(navigation.Snake, 100*time.Millisecond)
	snake.Variant = navigation.Bidirectional
	cfg.Plan = stage.Plan{
		Stages: [4]stage.Config{
			{Name: "warmup", Duration: 10 * time.Second, Profile: snake},
			{Name: "sweep", Duration: 10 * time.Second, Profile: fixed(navigation.Spiral, 75*time.Millisecond)},
			{Name: "edges", Duration: 10 * time.Second, Profile: fixed(navigation.Edge, 50*time.Millisecond)},
			{Name: "cross", Duration: 10 * time.Second, Profile: fixed(navigation.Cross, 40*time.Millisecond)},
		},
		Observation: 5 * time.Second,
	}
	return cfg
}

// heavyReproduction is the escalation that reproduced the lockup during
// manual testing.
func heavyReproduction() Config {
	cfg := defaults()
	snake := fixed(navigation.Snake, 50*time.Millisecond)
	snake.Variant = navigation.Horizontal
	cfg.Plan = stage.Plan{
		Stages: [4]stage.Config{
			{Name: "baseline", Duration: 15 * time.Second, MemoryDeltaMB: 5, Profile: snake},
			{Name: "pressure", Duration: 15 * time.Second, MemoryDeltaMB: 13, Profile: fixed(navigation.Cross, 20*time.Millisecond)},
			{
				Name:            "thrash",
				Duration:        15 * time.Second,
				MemoryDeltaMB:   1,
				Profile:         ramp(navigation.Thrash, 10*time.Millisecond, 2*time.Millisecond, 0.8),
				CheckpointEvery: 200,
				CheckpointPause: 250 * time.Millisecond,
			},
			{Name: "overload", Duration: 15 * time.Second, MemoryDeltaMB: 17, Profile: ramp(navigation.Overload, 5*time.Millisecond, 500*time.Microsecond, 0.5)},
		},
		Observation: 10 * time.Second,
		BallastCap:  256,
	}
	return cfg
}

// maxStress drives every stage harder than heavyReproduction and ends at
// the maximum command rate.
func maxStress() Config {
	cfg := defaults()
	random := navigation.Profile{
		Strategy: navigation.Random,
		Delay:    navigation.DelayModel{Kind: navigation.DelayRandom, MinMicros: 1000, MaxMicros: 3000},
	}
	cfg.Plan = stage.Plan{
		Stages: [4]stage.Config{
			{Name: "burst", Duration: 20 * time.Second, MemoryDeltaMB: 8, Profile: ramp(navigation.Burst, 10*time.Millisecond, 2*time.Millisecond, 0.6)},
			{Name: "thrash", Duration: 20 * time.Second, MemoryDeltaMB: 24, Profile: ramp(navigation.Thrash, 5*time.Millisecond, time.Millisecond, 0.6)},
			{Name: "random", Duration: 20 * time.Second, MemoryDeltaMB: 48, Profile: random},
			{Name: "flood", Duration: 20 * time.Second, MemoryDeltaMB: 64, Profile: ramp(navigation.Overload, 2*time.Millisecond, 0, 0.25)},
		},
		Observation: 15 * time.Second,
		BallastCap:  512,
	}
	cfg.Simulator.CommandCost = 3 * time.Millisecond
	return cfg
}
