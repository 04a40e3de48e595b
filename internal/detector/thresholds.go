// Package detector holds the anomaly detectors that read the run timeline:
// phantom input, scheduler stall and stuck focus.
//
// Detectors never call back into producers. Stall observations are pushed
// by the heartbeat and frame monitors because they must be measured where
// the scheduling happens; everything else is pulled from the timeline by
// an Engine.
package detector

import (
	"fmt"
	"time"
)

// Thresholds configures every detector of a run. The reproduction
// thresholds are empirical and meant to be tuned per device.
type Thresholds struct {
	PhantomWindow         time.Duration `yaml:"phantom_window" json:"phantom_window"`
	FocusDivergenceWindow time.Duration `yaml:"focus_divergence_window" json:"focus_divergence_window"`
	StallWarn             time.Duration `yaml:"stall_warn" json:"stall_warn"`
	StallCritical         time.Duration `yaml:"stall_critical" json:"stall_critical"`
	StuckRepeatThreshold  int           `yaml:"stuck_repeat_threshold" json:"stuck_repeat_threshold"`

	// PhantomReproductionThreshold is the phantom count that, together
	// with a critical stall, marks a run as a possible reproduction.
	PhantomReproductionThreshold int64 `yaml:"phantom_reproduction_threshold" json:"phantom_reproduction_threshold"`
}

// DefaultThresholds mirrors the values used during manual reproduction.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PhantomWindow:                200 * time.Millisecond,
		FocusDivergenceWindow:        100 * time.Millisecond,
		StallWarn:                    time.Second,
		StallCritical:                5 * time.Second,
		StuckRepeatThreshold:         5,
		PhantomReproductionThreshold: 100,
	}
}

// Window returns the widest lookback any detector needs.
func (t Thresholds) Window() time.Duration {
	if t.FocusDivergenceWindow > t.PhantomWindow {
		return t.FocusDivergenceWindow
	}
	return t.PhantomWindow
}

func (t Thresholds) Validate() error {
	if t.PhantomWindow <= 0 {
		return fmt.Errorf("phantom window must be positive")
	}
	if t.FocusDivergenceWindow < 0 {
		return fmt.Errorf("focus divergence window cannot be negative")
	}
	if t.StallWarn <= 0 {
		return fmt.Errorf("stall warn threshold must be positive")
	}
	if t.StallCritical <= t.StallWarn {
		return fmt.Errorf("stall critical threshold (%v) must exceed warn threshold (%v)", t.StallCritical, t.StallWarn)
	}
	if t.StuckRepeatThreshold < 2 {
		return fmt.Errorf("stuck repeat threshold must be at least 2")
	}
	if t.PhantomReproductionThreshold < 0 {
		return fmt.Errorf("phantom reproduction threshold cannot be negative")
	}
	return nil
}
