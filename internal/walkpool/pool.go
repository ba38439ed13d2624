// Package walkpool runs random-walk replications on a bounded pool of
// worker goroutines, a generic bounded worker pool specialized to one job
// shape and wired to a wait-all barrier per batch of replications.
package walkpool

import (
	"log/slog"
	"sync"

	"rwsim/internal/world"
)

// Job is one replication to run: a random walk starting at Start, whose
// outcome is recorded against cell CellIdx in the pool's Results.
type Job struct {
	CellIdx uint32
	Start   world.Pos
}

// Metrics is the subset of instrumentation hooks a Pool reports to. A nil
// Metrics is valid; all methods are then no-ops. internal/metrics
// implements this interface against real Prometheus collectors.
type Metrics interface {
	JobSubmitted()
	JobCompleted()
	JobsInflight(n int)
	QueueFullRetry()
}

type noopMetrics struct{}

func (noopMetrics) JobSubmitted()    {}
func (noopMetrics) JobCompleted()    {}
func (noopMetrics) JobsInflight(int) {}
func (noopMetrics) QueueFullRetry()  {}

// Pool runs Jobs against a shared World and Results using a fixed number
// of worker goroutines, each with its own RNG stream. Submit blocks while
// the bounded queue is full instead of busy-yielding, and WaitAll blocks
// on a shared WaitGroup instead of a condition variable — the idiomatic
// Go expression of the same backpressure and barrier semantics.
type Pool struct {
	jobs     chan Job
	workerWG sync.WaitGroup // tracks worker goroutine lifetime, for Close
	inFlight sync.WaitGroup // tracks submitted-but-not-yet-done jobs, for WaitAll

	world    *world.World
	results  *world.Results
	probs    Probs
	maxSteps uint32

	metrics Metrics
	log     *slog.Logger

	inFlightCount int64
	countMu       sync.Mutex
}

// New starts a Pool with nWorkers worker goroutines and a job queue of the
// given capacity. w and results are shared for the Pool's lifetime.
func New(nWorkers, queueCapacity int, w *world.World, results *world.Results, probs Probs, maxSteps uint32, metrics Metrics, log *slog.Logger) *Pool {
	if queueCapacity < 16 {
		queueCapacity = 16
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		jobs:     make(chan Job, queueCapacity),
		world:    w,
		results:  results,
		probs:    probs,
		maxSteps: maxSteps,
		metrics:  metrics,
		log:      log,
	}

	for i := 0; i < nWorkers; i++ {
		p.workerWG.Add(1)
		go p.workerLoop(i)
	}

	return p
}

// Submit enqueues job, blocking until the queue has room. It must not be
// called after Stop.
func (p *Pool) Submit(job Job) {
	p.inFlight.Add(1)
	p.adjustInFlight(1)
	p.metrics.JobSubmitted()

	select {
	case p.jobs <- job:
	default:
		p.metrics.QueueFullRetry()
		p.jobs <- job
	}
}

// WaitAll blocks until every Job submitted so far has completed.
func (p *Pool) WaitAll() {
	p.inFlight.Wait()
}

// Stop closes the job queue; workers exit once they drain it. Callers
// must not call Submit after Stop.
func (p *Pool) Stop() {
	close(p.jobs)
}

// Close blocks until every worker goroutine has exited. It does not close
// the job queue itself: Stop must be called first, or Close blocks
// indefinitely. It always returns nil; the error return exists to satisfy
// io.Closer.
func (p *Pool) Close() error {
	p.workerWG.Wait()
	return nil
}

func (p *Pool) adjustInFlight(delta int64) {
	p.countMu.Lock()
	p.inFlightCount += delta
	n := p.inFlightCount
	p.countMu.Unlock()
	p.metrics.JobsInflight(int(n))
}

func (p *Pool) workerLoop(workerIndex int) {
	defer p.workerWG.Done()

	r := seedFromTime(workerIndex)

	for job := range p.jobs {
		outcome := RandomWalk(p.world, job.Start, p.probs, p.maxSteps, r)
		p.results.Update(job.CellIdx, outcome.Steps, outcome.ReachedOrigin, outcome.SuccessLEQK)

		p.adjustInFlight(-1)
		p.metrics.JobCompleted()
		p.inFlight.Done()
	}
}
