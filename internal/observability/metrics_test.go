package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("switch_commit", 50)
	w.Observe("switch_commit", 70)
	w.Observe("switch_commit", 90)
	w.ObserveIndicator("switch_committed")
	w.ObserveIndicator("switch_committed")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Operations) != 1 {
		t.Fatalf("len(Operations) = %d, want 1", len(snap.Operations))
	}
	s := snap.Operations[0]
	if s.Samples != 3 || s.LastMS != 90 || s.P50MS != 70 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.P95MS <= 70 || s.P95MS > 90 {
		t.Fatalf("P95MS = %.2f, want (70,90]", s.P95MS)
	}
	if s.TargetP95MS != 250 {
		t.Fatalf("TargetP95MS = %.2f, want 250", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("store_save", 1)
	w.Observe("store_save", 2)
	w.Observe("store_save", 3)

	s := w.Snapshot().Operations[0]
	if s.Samples != 2 || s.AvgMS != 2.5 {
		t.Fatalf("Samples = %d AvgMS = %.2f, want 2 / 2.5", s.Samples, s.AvgMS)
	}
}

func TestMetricsRecordSwitchAndCache(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")
	m.SwitchStarted()
	m.SwitchFinished("committed")
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.ObserveStoreQuery("save", 3*time.Millisecond, true)

	if got := metricValue(t, m.ActiveSwitches); got != 0 {
		t.Fatalf("ActiveSwitches = %v, want 0", got)
	}
	if got := metricValue(t, m.SwitchOutcomes.WithLabelValues("committed")); got != 1 {
		t.Fatalf("committed outcomes = %v, want 1", got)
	}
	if got := metricValue(t, m.CacheRequests.WithLabelValues("miss")); got != 2 {
		t.Fatalf("cache misses = %v, want 2", got)
	}
	if got := metricValue(t, m.StoreErrors.WithLabelValues("save")); got != 1 {
		t.Fatalf("save errors = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CacheHit()
	m.SwitchFinished("failed")
	m.ObserveCommit(time.Millisecond)
	if snap := m.LatencySnapshot(); len(snap.Operations) != 0 {
		t.Fatalf("nil metrics snapshot has operations: %+v", snap.Operations)
	}
}
