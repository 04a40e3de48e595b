package navigation

import (
	"math/rand/v2"

	"github.com/vincentbai/focustrace/internal/models"
)

// snake sweeps a row (or column) of RunLength cells, steps once across,
// and sweeps back. The bidirectional variant sweeps both axes in turn
// without the cross step.
func snake(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	switch p.Variant {
	case Vertical:
		return sweep(step, n, models.Down, models.Right)
	case Bidirectional:
		return []models.Direction{models.Right, models.Left, models.Down, models.Up}[(step/n)%4]
	default:
		return sweep(step, n, models.Right, models.Down)
	}
}

// sweep is the cycle along×n, across, reverse(along)×n, across.
func sweep(step, n int, along, across models.Direction) models.Direction {
	pos := step % (2*n + 2)
	switch {
	case pos < n:
		return along
	case pos == n:
		return across
	case pos < 2*n+1:
		return along.Opposite()
	default:
		return across
	}
}

// spiral grows run lengths 1,1,2,2,...,n,n turning clockwise, then shrinks
// them back n,n,...,1,1 before starting again.
func spiral(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	clockwise := [4]models.Direction{models.Right, models.Down, models.Left, models.Up}
	pos := step % (2 * n * (n + 1))

	turn := 0
	for _, grow := range []bool{true, false} {
		for i := 1; i <= n; i++ {
			length := i
			if !grow {
				length = n + 1 - i
			}
			for j := 0; j < 2; j++ {
				if pos < length {
					return clockwise[turn%4]
				}
				pos -= length
				turn++
			}
		}
	}
	return clockwise[0]
}

var diagonals = [4][2]models.Direction{
	{models.Right, models.Down},
	{models.Left, models.Down},
	{models.Left, models.Up},
	{models.Right, models.Up},
}

// diagonal alternates the two axes of one diagonal for RunLength moves,
// then rotates to the next diagonal.
func diagonal(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	pair := diagonals[(step/(2*n))%4]
	return pair[step%2]
}

// cross bursts out and back along each axis from the centre:
// up×n, down×2n, up×n, then left×n, right×2n, left×n.
func cross(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	pos := step % (8 * n)
	axis := [2][2]models.Direction{{models.Up, models.Down}, {models.Left, models.Right}}[pos/(4*n)]
	pos %= 4 * n
	switch {
	case pos < n:
		return axis[0]
	case pos < 3*n:
		return axis[1]
	default:
		return axis[0]
	}
}

// edge pushes two cells past each boundary, steps back once, and moves on
// to the next edge.
func edge(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	push := n + 2
	edges := [4]models.Direction{models.Left, models.Up, models.Right, models.Down}
	pos := step % (4 * (push + 1))
	toward := edges[pos/(push+1)]
	if pos%(push+1) == push {
		return toward.Opposite()
	}
	return toward
}

func randomWalk(_ Profile, _, _ int, rng *rand.Rand) models.Direction {
	return models.Directions[rng.IntN(len(models.Directions))]
}

// burst repeats one direction RunLength times; each burst picks its
// direction from the seed and the burst index.
func burst(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	rng := stepRand(p.seed()^0x9e3779b97f4a7c15, step/n)
	return models.Directions[rng.IntN(len(models.Directions))]
}

// thrash flips between opposite directions every command, switching axis
// every RunLength pairs.
func thrash(p Profile, step, _ int, _ *rand.Rand) models.Direction {
	n := p.runLength()
	first := models.Right
	if (step/(2*n))%2 == 1 {
		first = models.Up
	}
	if step%2 == 1 {
		return first.Opposite()
	}
	return first
}

// overload circles clockwise every four commands.
func overload(_ Profile, step, _ int, _ *rand.Rand) models.Direction {
	return [4]models.Direction{models.Up, models.Right, models.Down, models.Left}[step%4]
}
