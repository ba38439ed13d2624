package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetGauge().GetValue()
}

func TestRegistryCountersIncrement(t *testing.T) {
	t.Parallel()

	r := New(prometheus.NewRegistry())

	r.JobSubmitted()
	r.JobSubmitted()
	r.JobCompleted()
	r.QueueFullRetry()

	if got := counterValue(t, r.jobsSubmitted); got != 2 {
		t.Errorf("jobsSubmitted = %v, want 2", got)
	}
	if got := counterValue(t, r.jobsCompleted); got != 1 {
		t.Errorf("jobsCompleted = %v, want 1", got)
	}
	if got := counterValue(t, r.queueFullRetries); got != 1 {
		t.Errorf("queueFullRetries = %v, want 1", got)
	}
}

func TestRegistryGaugesTrackClientCount(t *testing.T) {
	t.Parallel()

	r := New(prometheus.NewRegistry())

	r.ClientConnected()
	r.ClientConnected()
	r.ClientDisconnected()

	if got := gaugeValue(t, r.clientsConnected); got != 1 {
		t.Errorf("clientsConnected = %v, want 1", got)
	}
}

func TestRegistryJobsInflightReflectsLatestSet(t *testing.T) {
	t.Parallel()

	r := New(prometheus.NewRegistry())
	r.JobsInflight(5)
	r.JobsInflight(3)

	if got := gaugeValue(t, r.jobsInflight); got != 3 {
		t.Errorf("jobsInflight = %v, want 3", got)
	}
}
