package models

import (
	"fmt"
	"time"
)

// Kind classifies a timeline event.
type Kind string

const (
	KindInput       Kind = "input"
	KindFocusSample Kind = "focus_sample"
	KindStall       Kind = "stall"
	KindFrameHitch  Kind = "frame_hitch"
	KindPhantom     Kind = "phantom"
	KindStuckFocus  Kind = "stuck_focus"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{KindInput, KindFocusSample, KindStall, KindFrameHitch, KindPhantom, KindStuckFocus}

func (k Kind) Valid() bool {
	switch k {
	case KindInput, KindFocusSample, KindStall, KindFrameHitch, KindPhantom, KindStuckFocus:
		return true
	}
	return false
}

// InputSource says which layer observed an input.
type InputSource string

const (
	SourceHardware InputSource = "hardware" // physical remote confirmation
	SourcePrecise  InputSource = "precise"  // press-level event carrying a hardware timestamp
	SourceDispatch InputSource = "dispatch" // command seen only at the dispatch layer
)

// Severity grades a stall record.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// NoFocus is the focus id reported when nothing holds focus.
const NoFocus = ""

// Payload carries the kind-specific fields of an event. Only the fields
// relevant to the event kind are set.
type Payload struct {
	Source   InputSource   `json:"source,omitempty"`
	Changed  bool          `json:"changed,omitempty"`
	Severity Severity      `json:"severity,omitempty"`
	Delta    time.Duration `json:"delta_ns,omitempty"`
	Count    int           `json:"count,omitempty"`
}

// Event is one immutable timeline entry. Seq is assigned by the timeline.
type Event struct {
	Seq       int64     `json:"seq"`
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
	Degraded  bool      `json:"degraded,omitempty"` // timestamp was missing and stamped on arrival
}

// InputRecord is the last time an input id was seen by each corroborating source.
type InputRecord struct {
	ID               string    `json:"id"`
	LastHardwareTime time.Time `json:"last_hardware_time"`
	LastPreciseTime  time.Time `json:"last_precise_time"`
}

// LastSeen returns the newer of the two timestamps.
func (r InputRecord) LastSeen() time.Time {
	if r.LastPreciseTime.After(r.LastHardwareTime) {
		return r.LastPreciseTime
	}
	return r.LastHardwareTime
}

// FocusSample is one poll of the external focus source.
type FocusSample struct {
	ElementID string    `json:"element_id"` // NoFocus when nothing is focused
	Timestamp time.Time `json:"timestamp"`
	Changed   bool      `json:"changed"`
}

// Direction is a remote-control navigation command.
type Direction uint8

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Directions is the uniform set a random walk draws from.
var Directions = [4]Direction{Up, Down, Left, Right}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", d)
	}
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	default:
		return Left
	}
}

// HardwarePress is a hardware confirmation posted by a platform adapter.
type HardwarePress struct {
	ID         string `json:"id"`
	TSUnixNano int64  `json:"ts_unix_nano"`
	Precise    bool   `json:"precise,omitempty"`
}

type Batch struct {
	Presses []HardwarePress `json:"presses"`
}

// FocusUpdate is pushed by a platform adapter whenever it reads focus.
type FocusUpdate struct {
	ID string `json:"id"`
}

// StageDuration is the wall-clock time spent in one stage.
type StageDuration struct {
	Stage    string  `json:"stage"`
	Duration float64 `json:"duration_ms"`
}

// Report is the single structured record emitted per run.
type Report struct {
	RunID      string    `json:"run_id"`
	Preset     string    `json:"preset"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Completed  bool      `json:"completed"`
	Abort      string    `json:"abort_reason,omitempty"`

	TotalCommands      int64   `json:"total_commands"`
	PhantomCount       int64   `json:"phantom_count"`
	StallCount         int     `json:"stall_count"`
	CriticalStallCount int     `json:"critical_stall_count"`
	MaxStallMs         float64 `json:"max_stall_ms"`
	AvgStallMs         float64 `json:"avg_stall_ms"`
	FrameHitchCount    int     `json:"frame_hitch_count"`
	StuckFocusEpisodes int     `json:"stuck_focus_episodes"`
	UniqueFocusIDs     int     `json:"unique_focus_ids"`

	StageDurations []StageDuration `json:"stage_durations"`
	BallastMB      int             `json:"ballast_mb"`

	Unclassifiable int64 `json:"unclassifiable"`
	Excluded       int64 `json:"excluded"`

	// PossibleReproduction is a triage heuristic, not proof of the defect.
	PossibleReproduction bool `json:"possible_reproduction"`
}
