// Package metrics exposes Prometheus collectors for refresh, termination and event delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portwarden"

// Refresh results.
const (
	ResultReplaced  = "replaced"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Termination outcomes.
const (
	OutcomeClosed    = "closed"
	OutcomeExhausted = "exhausted"
	OutcomeRejected  = "rejected"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	cacheRecords    prometheus.Gauge
	terminations    *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Port refreshes by result",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent enumerating ports",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		cacheRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_records",
			Help:      "Records held by the port cache",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "termination_total",
			Help:      "Termination requests by outcome and the level that settled them",
		}, []string{"outcome", "level"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events that were throttled or failed delivery",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.refreshTotal,
		m.refreshDuration,
		m.cacheRecords,
		m.terminations,
		m.eventsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
	if result != ResultSkipped {
		m.refreshDuration.Observe(took.Seconds())
	}
}

// SetCacheRecords reports the current cache size.
func (m *Metrics) SetCacheRecords(n int) {
	if m == nil {
		return
	}
	m.cacheRecords.Set(float64(n))
}

// ObserveTermination records a finished termination request.
func (m *Metrics) ObserveTermination(outcome, level string) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(outcome, level).Inc()
}

// EventDropped counts an event that did not reach a client.
func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}
