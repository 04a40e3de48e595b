package stage

import (
	"fmt"
	"time"

	"github.com/vincentbai/focustrace/internal/navigation"
)

// State is a position in the escalation state machine.
type State int

const (
	Idle State = iota
	Baseline
	Level1
	Level2
	Critical
	Observing
	Complete
	Aborted
)

// Escalation is the fixed order in which stages run.
var Escalation = [4]State{Baseline, Level1, Level2, Critical}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Baseline:
		return "baseline"
	case Level1:
		return "level1"
	case Level2:
		return "level2"
	case Critical:
		return "critical"
	case Observing:
		return "observing"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config describes one stage of the escalation.
type Config struct {
	Name            string             `yaml:"name" json:"name"`
	Duration        time.Duration      `yaml:"duration" json:"duration"`
	MemoryDeltaMB   int                `yaml:"memory_delta_mb" json:"memory_delta_mb"`
	Profile         navigation.Profile `yaml:"profile" json:"profile"`
	CheckpointEvery int                `yaml:"checkpoint_every" json:"checkpoint_every"`
	CheckpointPause time.Duration      `yaml:"checkpoint_pause" json:"checkpoint_pause"`
}

func (c Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("stage %q: duration must be positive", c.Name)
	}
	if c.MemoryDeltaMB < 0 {
		return fmt.Errorf("stage %q: memory delta cannot be negative", c.Name)
	}
	if c.CheckpointEvery < 0 || c.CheckpointPause < 0 {
		return fmt.Errorf("stage %q: checkpoint settings cannot be negative", c.Name)
	}
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("stage %q: %w", c.Name, err)
	}
	return nil
}

// Plan is the full escalation: one Config per state in Escalation, then a
// command-free observation window.
type Plan struct {
	Stages      [4]Config     `yaml:"stages" json:"stages"`
	Observation time.Duration `yaml:"observation" json:"observation"`
	BallastCap  int           `yaml:"ballast_limit_mb" json:"ballast_limit_mb"`
}

func (p Plan) Validate() error {
	for _, stage := range p.Stages {
		if err := stage.Validate(); err != nil {
			return err
		}
	}
	if p.Observation < 0 {
		return fmt.Errorf("observation window cannot be negative")
	}
	if p.BallastCap < 0 {
		return fmt.Errorf("ballast limit cannot be negative")
	}
	return nil
}

// Duration returns the nominal wall-clock length of the plan, ignoring
// checkpoint pauses and ballast allocation.
func (p Plan) Duration() time.Duration {
	total := p.Observation
	for _, stage := range p.Stages {
		total += stage.Duration
	}
	return total
}

// TotalBallastMB returns the ballast held once every stage has run.
func (p Plan) TotalBallastMB() int {
	total := 0
	for _, stage := range p.Stages {
		total += stage.MemoryDeltaMB
	}
	return total
}
