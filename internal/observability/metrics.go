package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSwitches   prometheus.Gauge
	SwitchOutcomes   *prometheus.CounterVec
	SwitchRejections *prometheus.CounterVec
	CommitLatency    prometheus.Histogram

	CacheRequests      *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	StoreQueryLatency  *prometheus.HistogramVec
	PoolFallbacks      prometheus.Counter
	DeferredQueueDepth prometheus.Gauge

	CombatTagged  prometheus.Gauge
	LoadedOwners  prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	latencyWindow *latencyWindow
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers instruments on reg; tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSwitches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_switches",
			Help:      "Switch requests currently validating, warming up or committing.",
		}),
		SwitchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switch_outcomes_total",
			Help:      "Finished switch requests by terminal state.",
		}, []string{"state"}),
		SwitchRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switch_rejections_total",
			Help:      "Switch requests refused during validation, by reason.",
		}, []string{"reason"}),
		CommitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "switch_commit_latency_ms",
			Help:      "Time spent in the commit phase in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_requests_total",
			Help:      "Profile cache lookups by result.",
		}, []string{"result"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Backend operations that failed after retries, by operation.",
		}, []string{"op"}),
		StoreQueryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_latency_ms",
			Help:      "Backend operation latency in milliseconds, retries included.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"op"}),
		PoolFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_pool_fallbacks_total",
			Help:      "Backend calls served by the shared fallback handle.",
		}),
		DeferredQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_deferred_queue_depth",
			Help:      "Saves waiting for the next batch flush.",
		}),
		CombatTagged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "combat_tagged_owners",
			Help:      "Owners currently combat-tagged.",
		}),
		LoadedOwners: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_owners",
			Help:      "Owners with profiles loaded in the registry.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		latencyWindow: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveStoreQuery(op string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StoreQueryLatency.WithLabelValues(op).Observe(ms)
	m.latencyWindow.Observe("store_"+op, ms)
	if failed {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues("miss").Inc()
}

func (m *Metrics) PoolFallback() {
	if m == nil {
		return
	}
	m.PoolFallbacks.Inc()
}

func (m *Metrics) SetDeferredQueueDepth(n int) {
	if m == nil {
		return
	}
	m.DeferredQueueDepth.Set(float64(n))
}

func (m *Metrics) SwitchStarted() {
	if m == nil {
		return
	}
	m.ActiveSwitches.Inc()
}

func (m *Metrics) SwitchFinished(state string) {
	if m == nil {
		return
	}
	m.ActiveSwitches.Dec()
	m.SwitchOutcomes.WithLabelValues(state).Inc()
	m.latencyWindow.ObserveIndicator("switch_" + state)
}

func (m *Metrics) SwitchRejected(reason string) {
	if m == nil {
		return
	}
	m.SwitchRejections.WithLabelValues(reason).Inc()
}

// SwitchAborted releases a started switch that never went live.
func (m *Metrics) SwitchAborted() {
	if m == nil {
		return
	}
	m.ActiveSwitches.Dec()
}

func (m *Metrics) ObserveCommit(d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.CommitLatency.Observe(ms)
	m.latencyWindow.Observe("switch_commit", ms)
}

func (m *Metrics) SetCombatTagged(n int) {
	if m == nil {
		return
	}
	m.CombatTagged.Set(float64(n))
}

func (m *Metrics) SetLoadedOwners(n int) {
	if m == nil {
		return
	}
	m.LoadedOwners.Set(float64(n))
}

func (m *Metrics) WSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

// LatencySnapshot summarises the rolling latency window.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latencyWindow.Snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.latencyWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
