package navigation

import (
	"math/rand/v2"
	"time"

	"github.com/vincentbai/focustrace/internal/models"
)

// Command is one step of the generated stream.
type Command struct {
	Direction models.Direction
	Delay     time.Duration
}

// Pattern produces the direction for one step of a strategy. Randomness,
// when a pattern needs it, comes only from rng, which is derived from the
// profile seed and the step index.
type Pattern interface {
	Direction(p Profile, step, total int, rng *rand.Rand) models.Direction
}

type patternFunc func(p Profile, step, total int, rng *rand.Rand) models.Direction

func (f patternFunc) Direction(p Profile, step, total int, rng *rand.Rand) models.Direction {
	return f(p, step, total, rng)
}

var patterns = map[Strategy]Pattern{
	Snake:    patternFunc(snake),
	Spiral:   patternFunc(spiral),
	Diagonal: patternFunc(diagonal),
	Cross:    patternFunc(cross),
	Edge:     patternFunc(edge),
	Random:   patternFunc(randomWalk),
	Burst:    patternFunc(burst),
	Thrash:   patternFunc(thrash),
	Overload: patternFunc(overload),
}

// Strategies lists every known strategy.
func Strategies() []Strategy {
	return []Strategy{Snake, Spiral, Diagonal, Cross, Edge, Random, Burst, Thrash, Overload}
}

// Next returns the command for step out of total. It depends only on its
// arguments. An unknown strategy falls back to a horizontal snake; call
// Profile.Validate to reject it up front.
func Next(p Profile, step, total int) Command {
	if step < 0 {
		step = 0
	}
	pattern, ok := patterns[p.Strategy]
	if !ok {
		pattern = patternFunc(snake)
	}
	rng := stepRand(p.seed(), step)
	return Command{
		Direction: pattern.Direction(p, step, total, rng),
		Delay:     delay(p, step, total, rng),
	}
}

// Sequence returns the first n commands of a profile.
func Sequence(p Profile, n int) []Command {
	out := make([]Command, n)
	for i := range out {
		out[i] = Next(p, i, n)
	}
	return out
}

func stepRand(seed uint64, step int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(step)))
}

func delay(p Profile, step, total int, rng *rand.Rand) time.Duration {
	micros := p.BaseGapMicros
	switch p.Delay.Kind {
	case DelayLinear:
		ramp := p.Delay.Ramp
		if ramp <= 0 {
			ramp = 1
		}
		if total > 0 {
			progress := float64(step) / (float64(total) * ramp)
			if progress > 1 {
				progress = 1
			}
			micros -= int64(float64(p.BaseGapMicros-p.Delay.FloorMicros) * progress)
		}
		if micros < p.Delay.FloorMicros {
			micros = p.Delay.FloorMicros
		}
	case DelayRandom:
		span := p.Delay.MaxMicros - p.Delay.MinMicros
		micros = p.Delay.MinMicros
		if span > 0 {
			micros += rng.Int64N(span + 1)
		}
	}
	if micros < 0 {
		micros = 0
	}
	return time.Duration(micros) * time.Microsecond
}
