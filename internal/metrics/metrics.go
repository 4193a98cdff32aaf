// Package metrics exposes the daemon's Prometheus collectors. All methods
// are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sysmate"

// Metrics bundles the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	sampleFailures *prometheus.CounterVec
	duplicates     prometheus.Counter
	tracked        *prometheus.GaugeVec
	stale          prometheus.Gauge
	dispatch       *prometheus.CounterVec
	busDropped     *prometheus.CounterVec
	subscribers    prometheus.Gauge
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "ticks_total",
			Help: "Sampling ticks that produced a registry update.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "tick_duration_seconds",
			Help:    "Time spent sampling, reconciling and publishing one tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		sampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "sample_failures_total",
			Help: "Ticks skipped because sampling failed.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delta", Name: "duplicate_samples_total",
			Help: "Raw samples discarded because their identity was already seen in the tick.",
		}),
		tracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "registry", Name: "processes",
			Help: "Processes currently held by the registry.",
		}, []string{"state"}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "registry", Name: "stale",
			Help: "1 while the registry is serving stale data.",
		}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "actions_total",
			Help: "Privileged actions by kind and final state.",
		}, []string{"kind", "state"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "dropped_events_total",
			Help: "Events dropped because a subscriber backlog overflowed.",
		}, []string{"module"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "subscribers",
			Help: "Active module bus subscriptions.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.tickDuration, m.sampleFailures, m.duplicates,
		m.tracked, m.stale, m.dispatch, m.busDropped, m.subscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) SampleFailed(reason string) {
	if m == nil {
		return
	}
	m.sampleFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) DuplicateSamples(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}

func (m *Metrics) SetTracked(active, gone int) {
	if m == nil {
		return
	}
	m.tracked.WithLabelValues("active").Set(float64(active))
	m.tracked.WithLabelValues("gone").Set(float64(gone))
}

func (m *Metrics) SetStale(stale bool) {
	if m == nil {
		return
	}
	if stale {
		m.stale.Set(1)
		return
	}
	m.stale.Set(0)
}

func (m *Metrics) ActionFinished(kind, state string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) EventsDropped(module string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.busDropped.WithLabelValues(module).Add(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
