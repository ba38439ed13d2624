// Package simmanager drives a simulation run: the outer replication loop,
// per-replication job submission to a worker pool, progress reporting,
// and the idle/running/finished state machine.
package simmanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"rwsim/internal/walkpool"
	"rwsim/internal/world"
)

// State is a simulation's lifecycle state.
type State uint32

const (
	StateLobby State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// ErrAlreadyRunning is returned by Start/Restart when a simulation is
// already in progress.
var ErrAlreadyRunning = errors.New("simmanager: simulation already running")

// Config bundles everything one run needs: the world to walk, the
// movement distribution, the per-walk step budget, the pool's worker
// count and queue capacity, and the total number of replications.
type Config struct {
	World         *world.World
	Probs         walkpool.Probs
	MaxSteps      uint32
	NumWorkers    int
	QueueCapacity int
	TotalReps     uint32
}

// EndFunc is invoked once, from the manager's own goroutine, after a run
// finishes naturally or is stopped. stopped is true iff RequestStop was
// called before the run completed all TotalReps.
type EndFunc func(stopped bool)

// Manager orchestrates one simulation's replications against a shared
// world and results accumulator. A Manager instance is reused across
// Start/Restart cycles; it is not safe to Start concurrently with a run
// already in progress.
type Manager struct {
	results *world.Results
	metrics walkpool.Metrics
	log     *slog.Logger

	mu            sync.Mutex
	cfg           Config
	state         State
	currentRep    uint32
	stopRequested atomic.Bool
	running       bool
	onEnd         EndFunc
	onProgress    func(current, total uint32)
	doneCh        chan struct{}
}

// New creates a Manager that accumulates into results. onProgress, if
// non-nil, is called synchronously from the run goroutine after each
// replication's WaitAll — callers use it to broadcast PROGRESS.
func New(results *world.Results, metrics walkpool.Metrics, log *slog.Logger, onProgress func(current, total uint32)) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		results:    results,
		metrics:    metrics,
		log:        log,
		onProgress: onProgress,
	}
}

// SetOnEnd installs the callback invoked when a run finishes.
func (m *Manager) SetOnEnd(fn EndFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentRep returns the most recently completed replication number.
func (m *Manager) CurrentRep() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRep
}

// Start begins a run with cfg. It returns ErrAlreadyRunning if a run is
// already in progress; otherwise it starts the replication loop on a new
// goroutine and returns immediately.
func (m *Manager) Start(cfg Config) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.cfg = cfg
	m.currentRep = 0
	m.state = StateRunning
	m.running = true
	m.stopRequested.Store(false)
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run()
	return nil
}

// Restart clears results and starts a new run with totalReps
// replications, reusing the world and movement parameters from the last
// Start. It fails with ErrAlreadyRunning if a run is in progress.
func (m *Manager) Restart(totalReps uint32) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	cfg := m.cfg
	m.mu.Unlock()

	cfg.TotalReps = totalReps
	return m.Start(cfg)
}

// RequestStop asks the current run to stop. The run checks the request
// before each replication and before each job submission; once it sees
// it, no further jobs are submitted, jobs already queued are still run by
// the workers, and a partly submitted replication is not reported as
// progress. It is a no-op if no run is in progress.
func (m *Manager) RequestStop() {
	m.stopRequested.Store(true)
}

// Wait blocks until the current (or most recently started) run's
// goroutine has returned.
func (m *Manager) Wait() {
	m.mu.Lock()
	ch := m.doneCh
	m.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (m *Manager) run() {
	m.mu.Lock()
	cfg := m.cfg
	onEnd := m.onEnd
	doneCh := m.doneCh
	m.mu.Unlock()

	defer close(doneCh)

	m.results.Clear()

	pool := walkpool.New(cfg.NumWorkers, cfg.QueueCapacity, cfg.World, m.results, cfg.Probs, cfg.MaxSteps, m.metrics, m.log)

	width := cfg.World.Size.Width
	height := cfg.World.Size.Height

	stopped := false
repLoop:
	for rep := uint32(1); rep <= cfg.TotalReps; rep++ {
		if m.stopRequested.Load() {
			stopped = true
			break repLoop
		}

		for y := uint32(0); y < height; y++ {
			for x := uint32(0); x < width; x++ {
				if m.stopRequested.Load() {
					stopped = true
					break repLoop
				}
				if cfg.World.IsObstacle(int32(x), int32(y)) {
					continue
				}
				idx := cfg.World.Index(int32(x), int32(y))
				pool.Submit(walkpool.Job{CellIdx: idx, Start: world.Pos{X: int32(x), Y: int32(y)}})
			}
		}

		pool.WaitAll()

		m.mu.Lock()
		m.currentRep = rep
		m.mu.Unlock()

		if m.onProgress != nil {
			m.onProgress(rep, cfg.TotalReps)
		}

		m.log.Info("replication completed", "rep", rep, "total", cfg.TotalReps)
	}

	pool.Stop()
	_ = pool.Close()

	m.mu.Lock()
	m.state = StateFinished
	m.running = false
	m.mu.Unlock()

	if onEnd != nil {
		onEnd(stopped)
	}
}
