package world

import "sync"

// Results accumulates per-cell random-walk outcome statistics: how many
// replications started at a cell, how many of those reached the origin,
// and the running sum of step counts for the ones that did. It is safe
// for concurrent use; many workers call Update concurrently while readers
// (progress broadcast, snapshot sender) read the accumulated slices.
type Results struct {
	mu            sync.Mutex
	size          Size
	trials        []uint32
	sumSteps      []uint64
	successLEQK   []uint32
}

// NewResults allocates a zeroed Results for a grid of the given size.
func NewResults(size Size) *Results {
	n := size.CellCount()
	return &Results{
		size:        size,
		trials:      make([]uint32, n),
		sumSteps:    make([]uint64, n),
		successLEQK: make([]uint32, n),
	}
}

// Size returns the grid size this Results was allocated for.
func (r *Results) Size() Size { return r.size }

// Clear zeros all accumulated statistics in place.
func (r *Results) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.trials {
		r.trials[i] = 0
		r.sumSteps[i] = 0
		r.successLEQK[i] = 0
	}
}

// Update records the outcome of one replication started at cell idx: steps
// taken, whether the walk reached the origin at all, and whether it did so
// in at most k steps. Trials is incremented unconditionally; sumSteps only
// accrues for walks that reached the origin. idx values outside the grid
// are ignored.
func (r *Results) Update(idx uint32, steps uint32, reachedOrigin, successLEQK bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx >= uint32(len(r.trials)) {
		return
	}

	r.trials[idx]++
	if reachedOrigin {
		r.sumSteps[idx] += uint64(steps)
	}
	if successLEQK {
		r.successLEQK[idx]++
	}
}

// Replay overwrites cell idx's accumulated counters directly with
// already-aggregated totals, as when restoring a persisted results file
// rather than accumulating one outcome at a time. idx values outside the
// grid are ignored.
func (r *Results) Replay(idx uint32, trials uint32, sumSteps uint64, successLEQK uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx >= uint32(len(r.trials)) {
		return
	}

	r.trials[idx] = trials
	r.sumSteps[idx] = sumSteps
	r.successLEQK[idx] = successLEQK
}

// Snapshot returns copies of the three accumulated arrays, safe to read
// without holding Results' lock.
func (r *Results) Snapshot() (trials []uint32, sumSteps []uint64, successLEQK []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trials = append([]uint32(nil), r.trials...)
	sumSteps = append([]uint64(nil), r.sumSteps...)
	successLEQK = append([]uint32(nil), r.successLEQK...)
	return trials, sumSteps, successLEQK
}

// AvgSteps returns the summed step counts of the replications at idx that
// reached the origin divided by all trials started at idx, or 0 if there
// were no trials.
func (r *Results) AvgSteps(idx uint32) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx >= uint32(len(r.trials)) || r.trials[idx] == 0 {
		return 0
	}
	// No per-cell count of walks that reached the origin is kept, so the
	// denominator is the trial count.
	return float64(r.sumSteps[idx]) / float64(r.trials[idx])
}

// ProbLEQK returns the fraction of replications at idx that reached the
// origin within k steps, or 0 if there were no trials.
func (r *Results) ProbLEQK(idx uint32) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx >= uint32(len(r.trials)) || r.trials[idx] == 0 {
		return 0
	}
	return float64(r.successLEQK[idx]) / float64(r.trials[idx])
}
