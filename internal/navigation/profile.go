// Package navigation generates the open-loop remote-control command stream
// used to stress the focus engine.
//
// Next is a pure function of the profile and the step index: it never
// looks at UI state, so a profile and seed reproduce the same stream on
// every run.
package navigation

import (
	"fmt"
	"time"
)

// Strategy names a direction pattern.
type Strategy string

const (
	Snake    Strategy = "snake"
	Spiral   Strategy = "spiral"
	Diagonal Strategy = "diagonal"
	Cross    Strategy = "cross"
	Edge     Strategy = "edge"
	Random   Strategy = "random"
	Burst    Strategy = "burst"
	Thrash   Strategy = "thrash"
	Overload Strategy = "overload"
)

// Snake variants.
const (
	Horizontal    = "horizontal"
	Vertical      = "vertical"
	Bidirectional = "bidirectional"
)

// DelayKind selects how the gap between commands evolves.
type DelayKind string

const (
	// DelayFixed always waits BaseGapMicros.
	DelayFixed DelayKind = "fixed"
	// DelayLinear shrinks from BaseGapMicros to FloorMicros as the step
	// index approaches Ramp of the stage's total steps. A zero floor is
	// the maximum-rate mode.
	DelayLinear DelayKind = "linear"
	// DelayRandom draws uniformly from [MinMicros, MaxMicros].
	DelayRandom DelayKind = "random"
)

// DelayModel is the inter-command delay description attached to a profile.
type DelayModel struct {
	Kind        DelayKind `yaml:"kind" json:"kind"`
	FloorMicros int64     `yaml:"floor_micros,omitempty" json:"floor_micros,omitempty"`
	Ramp        float64   `yaml:"ramp,omitempty" json:"ramp,omitempty"`
	MinMicros   int64     `yaml:"min_micros,omitempty" json:"min_micros,omitempty"`
	MaxMicros   int64     `yaml:"max_micros,omitempty" json:"max_micros,omitempty"`
}

// Profile is everything Next needs to produce a command.
type Profile struct {
	Strategy      Strategy   `yaml:"strategy" json:"strategy"`
	Variant       string     `yaml:"variant,omitempty" json:"variant,omitempty"`
	Seed          *uint64    `yaml:"seed,omitempty" json:"seed,omitempty"`
	RunLength     int        `yaml:"run_length,omitempty" json:"run_length,omitempty"`
	BaseGapMicros int64      `yaml:"base_gap_micros" json:"base_gap_micros"`
	Delay         DelayModel `yaml:"delay" json:"delay"`
}

// DefaultRunLength is the pattern scale used when a profile leaves
// RunLength unset; it matches a five-column grid.
const DefaultRunLength = 5

func (p Profile) runLength() int {
	if p.RunLength > 0 {
		return p.RunLength
	}
	return DefaultRunLength
}

func (p Profile) seed() uint64 {
	if p.Seed != nil {
		return *p.Seed
	}
	return 0
}

// WithSeed returns a copy of p using seed.
func (p Profile) WithSeed(seed uint64) Profile {
	p.Seed = &seed
	return p
}

// BaseGap returns the nominal inter-command gap.
func (p Profile) BaseGap() time.Duration {
	return time.Duration(p.BaseGapMicros) * time.Microsecond
}

// EstimateSteps returns how many commands fit into d at the nominal gap.
// It is the totalSteps argument the stage controller hands to Next.
func (p Profile) EstimateSteps(d time.Duration) int {
	gap := p.BaseGap()
	if p.Delay.Kind == DelayRandom {
		gap = time.Duration((p.Delay.MinMicros+p.Delay.MaxMicros)/2) * time.Microsecond
	}
	if gap <= 0 {
		return int(d / time.Millisecond)
	}
	return int(d / gap)
}

func (p Profile) Validate() error {
	if _, ok := patterns[p.Strategy]; !ok {
		return fmt.Errorf("unknown navigation strategy %q", p.Strategy)
	}
	if p.Strategy == Snake {
		switch p.Variant {
		case "", Horizontal, Vertical, Bidirectional:
		default:
			return fmt.Errorf("unknown snake variant %q", p.Variant)
		}
	}
	if p.RunLength < 0 {
		return fmt.Errorf("run length cannot be negative")
	}
	if p.BaseGapMicros < 0 {
		return fmt.Errorf("base gap cannot be negative")
	}
	switch p.Delay.Kind {
	case DelayFixed, "":
	case DelayLinear:
		if p.Delay.FloorMicros < 0 || p.Delay.FloorMicros > p.BaseGapMicros {
			return fmt.Errorf("linear delay floor %d outside [0, %d]", p.Delay.FloorMicros, p.BaseGapMicros)
		}
		if p.Delay.Ramp < 0 || p.Delay.Ramp > 1 {
			return fmt.Errorf("linear delay ramp %v outside [0, 1]", p.Delay.Ramp)
		}
	case DelayRandom:
		if p.Delay.MinMicros < 0 || p.Delay.MaxMicros < p.Delay.MinMicros {
			return fmt.Errorf("random delay bounds [%d, %d] invalid", p.Delay.MinMicros, p.Delay.MaxMicros)
		}
	default:
		return fmt.Errorf("unknown delay model %q", p.Delay.Kind)
	}
	return nil
}
