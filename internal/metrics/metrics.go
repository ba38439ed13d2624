// Package metrics exposes Prometheus collectors for the worker pool,
// simulation progress, and connected-client count, plus the HTTP server
// that serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector this module exports. Its methods
// implement walkpool.Metrics directly so a *Registry can be passed to
// walkpool.New without an adapter.
type Registry struct {
	jobsSubmitted       prometheus.Counter
	jobsCompleted       prometheus.Counter
	jobsInflight        prometheus.Gauge
	queueFullRetries    prometheus.Counter
	clientsConnected    prometheus.Gauge
	progressDropped     prometheus.Counter
	replicationsCompleted prometheus.Counter
}

// New registers and returns a fresh set of collectors against reg. Pass
// prometheus.DefaultRegisterer in production; tests pass a scratch
// prometheus.NewRegistry() so repeated calls don't collide on global
// collector names.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rwsim_jobs_submitted_total",
			Help: "Total random-walk jobs submitted to the worker pool.",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rwsim_jobs_completed_total",
			Help: "Total random-walk jobs completed by the worker pool.",
		}),
		jobsInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rwsim_jobs_inflight",
			Help: "Jobs submitted but not yet completed.",
		}),
		queueFullRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "rwsim_queue_full_retries_total",
			Help: "Times Submit found the worker pool's queue full and had to block.",
		}),
		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rwsim_clients_connected",
			Help: "Currently connected client sessions.",
		}),
		progressDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rwsim_progress_broadcasts_dropped_total",
			Help: "PROGRESS/END/GLOBAL_MODE_CHANGED sends dropped because a client's send buffer was full.",
		}),
		replicationsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rwsim_replications_completed_total",
			Help: "Replications completed across all simulation runs.",
		}),
	}
}

// JobSubmitted implements walkpool.Metrics.
func (r *Registry) JobSubmitted() { r.jobsSubmitted.Inc() }

// JobCompleted implements walkpool.Metrics.
func (r *Registry) JobCompleted() { r.jobsCompleted.Inc() }

// JobsInflight implements walkpool.Metrics.
func (r *Registry) JobsInflight(n int) { r.jobsInflight.Set(float64(n)) }

// QueueFullRetry implements walkpool.Metrics.
func (r *Registry) QueueFullRetry() { r.queueFullRetries.Inc() }

// ClientConnected records a new client session.
func (r *Registry) ClientConnected() { r.clientsConnected.Inc() }

// ClientDisconnected records a client session ending.
func (r *Registry) ClientDisconnected() { r.clientsConnected.Dec() }

// BroadcastDropped records a best-effort send that timed out.
func (r *Registry) BroadcastDropped() { r.progressDropped.Inc() }

// ReplicationCompleted records one completed replication across any run.
func (r *Registry) ReplicationCompleted() { r.replicationsCompleted.Inc() }

// Server serves /metrics over HTTP until Shutdown is called.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr. It does not start
// listening until Serve is called.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks, serving /metrics until the server is shut down. It
// returns nil on a clean Shutdown, or the underlying error otherwise.
func (s *Server) Serve() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
