package walkpool

import "rwsim/internal/world"

// Probs is the four-way movement probability distribution for a
// replication. The four weights need not sum exactly to 1; they are used
// as relative thresholds against their running cumulative sum.
type Probs struct {
	Up, Down, Left, Right float64
}

// Outcome is the result of one random-walk replication.
type Outcome struct {
	Steps         uint32
	ReachedOrigin bool
	SuccessLEQK   bool
}

// RandomWalk simulates one trajectory starting at start, taking up to
// maxSteps steps, stopping early if the origin (0,0) is reached. Movement
// direction at each step is chosen by drawing from rng and comparing
// against the cumulative thresholds of probs. In a Wrap world a step that
// would leave the grid re-enters on the opposite edge; in an Obstacles
// world a step that would leave the grid or land on an obstacle is
// refused and the walker stays in place for that step.
func RandomWalk(w *world.World, start world.Pos, probs Probs, maxSteps uint32, r *rng) Outcome {
	if !w.InBounds(start.X, start.Y) || w.IsObstacle(start.X, start.Y) {
		return Outcome{}
	}
	if start.X == 0 && start.Y == 0 {
		return Outcome{Steps: 0, ReachedOrigin: true, SuccessLEQK: true}
	}

	c1 := probs.Up
	c2 := c1 + probs.Down
	c3 := c2 + probs.Left
	c4 := c3 + probs.Right

	if c4 <= 0 {
		return Outcome{Steps: maxSteps}
	}

	p := start
	for step := uint32(1); step <= maxSteps; step++ {
		d := r.next01() * c4

		next := p
		switch {
		case d < c1:
			next.Y--
		case d < c2:
			next.Y++
		case d < c3:
			next.X--
		default:
			next.X++
		}

		if w.Kind == world.Wrap {
			next = w.WrapPos(next)
		}

		if !w.InBounds(next.X, next.Y) || w.IsObstacle(next.X, next.Y) {
			next = p
		}
		p = next

		if p.X == 0 && p.Y == 0 {
			return Outcome{Steps: step, ReachedOrigin: true, SuccessLEQK: true}
		}
	}

	return Outcome{Steps: maxSteps}
}
