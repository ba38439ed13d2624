// Package world represents the simulation grid: its topology, obstacle
// layout, and per-cell statistics.
package world

import (
	"fmt"
)

// Kind selects how movement behaves at the grid boundary.
type Kind uint32

const (
	// Wrap means a step off one edge re-enters on the opposite edge.
	Wrap Kind = 1
	// Obstacles means the grid has no wraparound; steps that would leave
	// the bounds, or land on an obstacle cell, are refused and the walker
	// stays put for that step.
	Obstacles Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Wrap:
		return "wrap"
	case Obstacles:
		return "obstacles"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Size is a grid's width and height in cells.
type Size struct {
	Width, Height uint32
}

// CellCount returns Width*Height.
func (s Size) CellCount() uint32 { return s.Width * s.Height }

// Pos is a grid coordinate. Negative values are meaningful only as
// intermediate values during wrap arithmetic.
type Pos struct {
	X, Y int32
}

// World is the grid: its topology kind, its size, and its obstacle mask.
// World is not safe for concurrent mutation; callers serialize
// GenerateObstacles/SetObstacle against readers externally (the simulation
// manager owns a world for the lifetime of one run).
type World struct {
	Kind      Kind
	Size      Size
	obstacles []bool
}

// New allocates a World with no obstacles set. Width and Height must both
// be positive.
func New(kind Kind, size Size) (*World, error) {
	if size.Width == 0 || size.Height == 0 {
		return nil, fmt.Errorf("world: size must be positive, got %+v", size)
	}
	return &World{
		Kind:      kind,
		Size:      size,
		obstacles: make([]bool, size.CellCount()),
	}, nil
}

// InBounds reports whether (x, y) lies within the grid.
func (w *World) InBounds(x, y int32) bool {
	return x >= 0 && y >= 0 && x < int32(w.Size.Width) && y < int32(w.Size.Height)
}

// WrapPos reduces p modulo the grid dimensions. It is defined regardless of
// the World's Kind; callers only use it in Wrap mode.
func (w *World) WrapPos(p Pos) Pos {
	out := p
	if w.Size.Width > 0 {
		width := int32(w.Size.Width)
		out.X %= width
		if out.X < 0 {
			out.X += width
		}
	}
	if w.Size.Height > 0 {
		height := int32(w.Size.Height)
		out.Y %= height
		if out.Y < 0 {
			out.Y += height
		}
	}
	return out
}

// Index returns the row-major cell index for (x, y). The caller must
// ensure InBounds(x, y).
func (w *World) Index(x, y int32) uint32 {
	return uint32(y)*w.Size.Width + uint32(x)
}

// IsObstacleIndex reports whether cell idx is an obstacle. Out-of-range
// indices are treated as obstacles.
func (w *World) IsObstacleIndex(idx uint32) bool {
	if idx >= uint32(len(w.obstacles)) {
		return true
	}
	return w.obstacles[idx]
}

// IsObstacle reports whether (x, y) is an obstacle. Out-of-bounds
// coordinates are treated as obstacles.
func (w *World) IsObstacle(x, y int32) bool {
	if !w.InBounds(x, y) {
		return true
	}
	return w.obstacles[w.Index(x, y)]
}

// SetObstacle sets or clears the obstacle flag at (x, y). Out-of-bounds
// coordinates are ignored.
func (w *World) SetObstacle(x, y int32, value bool) {
	if !w.InBounds(x, y) {
		return
	}
	w.obstacles[w.Index(x, y)] = value
}

// Obstacles returns the obstacle mask as one bool per cell, in row-major
// order. The returned slice aliases internal state and must not
// be retained past the next mutation.
func (w *World) Obstacles() []bool { return w.obstacles }

var neighborDirs = [4][2]int32{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// GenerateObstacles fills the grid with obstacles at approximately percent
// percent of cells (clamped to [0, 100]), using a small linear congruential
// generator seeded by seed so that the same seed always reproduces the same
// map. Cell 0 (the origin) is always left free, and any cell left
// unreachable from the origin by the resulting obstacle layout has a
// corridor carved back to the origin so every free cell stays reachable.
func (w *World) GenerateObstacles(percent int, seed uint32) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	state := seed
	for i := range w.obstacles {
		r := lcgNext(&state) % 100
		w.obstacles[i] = r < uint32(percent)
	}
	if len(w.obstacles) > 0 {
		w.obstacles[0] = false
	}

	w.enforceOriginReachability()
}

func lcgNext(state *uint32) uint32 {
	*state = (*state*1103515245 + 12345) + 1013904223
	return *state
}

func (w *World) enforceOriginReachability() {
	n := w.Size.CellCount()
	if n == 0 {
		return
	}

	reachable := make([]bool, n)
	queue := make([]uint32, 0, n)

	for {
		w.markReachable(reachable, &queue)

		fixedAny := false
		for i := uint32(0); i < n; i++ {
			if !w.obstacles[i] && !reachable[i] {
				w.carvePathToOrigin(i)
				fixedAny = true
				break
			}
		}
		if !fixedAny {
			return
		}
	}
}

func (w *World) markReachable(reachable []bool, queue *[]uint32) {
	for i := range reachable {
		reachable[i] = false
	}
	*queue = (*queue)[:0]

	if w.obstacles[0] {
		return
	}

	width := w.Size.Width
	q := *queue
	q = append(q, 0)
	reachable[0] = true

	for head := 0; head < len(q); head++ {
		idx := q[head]
		x := int32(idx % width)
		y := int32(idx / width)

		for _, d := range neighborDirs {
			nx, ny := x+d[0], y+d[1]
			if !w.InBounds(nx, ny) {
				continue
			}
			nidx := w.Index(nx, ny)
			if w.obstacles[nidx] || reachable[nidx] {
				continue
			}
			reachable[nidx] = true
			q = append(q, nidx)
		}
	}
	*queue = q
}

func (w *World) carvePathToOrigin(idx uint32) {
	width := w.Size.Width
	if width == 0 {
		return
	}

	x := int32(idx % width)
	y := int32(idx / width)

	w.obstacles[idx] = false
	for x > 0 {
		x--
		w.obstacles[w.Index(x, y)] = false
	}
	for y > 0 {
		y--
		w.obstacles[w.Index(x, y)] = false
	}
}
