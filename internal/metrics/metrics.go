// Package metrics exposes refresh counters and timings in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes used as the status label
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the collectors of one process
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal   *prometheus.CounterVec
	eventsChanged  *prometheus.CounterVec
	detailFailures *prometheus.CounterVec
	refreshDur     *prometheus.HistogramVec
	lastSuccessTS  *prometheus.GaugeVec
	storedEvents   *prometheus.GaugeVec
}

// New creates the collectors and registers them on a private registry
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfeeds",
		Name:      "refresh_total",
		Help:      "Number of feed refreshes by outcome",
	}, []string{"feed", "status"})
	m.eventsChanged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfeeds",
		Name:      "events_changed_total",
		Help:      "Number of stored events written by operation",
	}, []string{"feed", "op"})
	m.detailFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfeeds",
		Name:      "detail_failures_total",
		Help:      "Number of listing detail pages that could not be read",
	}, []string{"feed"})
	m.refreshDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventfeeds",
		Name:      "refresh_duration_seconds",
		Help:      "Time spent refreshing a feed",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"feed"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eventfeeds",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful refresh",
	}, []string{"feed"})
	m.storedEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eventfeeds",
		Name:      "stored_events",
		Help:      "Number of events stored for a feed after its last refresh",
	}, []string{"feed"})

	m.registry.MustRegister(
		m.refreshTotal, m.eventsChanged, m.detailFailures,
		m.refreshDur, m.lastSuccessTS, m.storedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RefreshSucceeded records a completed refresh and its write counts
func (m *Metrics) RefreshSucceeded(feed string, took time.Duration, inserted, updated, deleted, stored int, at time.Time) {
	m.refreshTotal.WithLabelValues(feed, StatusSuccess).Inc()
	m.refreshDur.WithLabelValues(feed).Observe(took.Seconds())
	m.eventsChanged.WithLabelValues(feed, "insert").Add(float64(inserted))
	m.eventsChanged.WithLabelValues(feed, "update").Add(float64(updated))
	m.eventsChanged.WithLabelValues(feed, "delete").Add(float64(deleted))
	m.lastSuccessTS.WithLabelValues(feed).Set(float64(at.Unix()))
	m.storedEvents.WithLabelValues(feed).Set(float64(stored))
}

// RefreshFailed records a refresh that did not complete
func (m *Metrics) RefreshFailed(feed string, took time.Duration) {
	m.refreshTotal.WithLabelValues(feed, StatusError).Inc()
	m.refreshDur.WithLabelValues(feed).Observe(took.Seconds())
}

// DetailFailures counts listings whose detail page failed
func (m *Metrics) DetailFailures(feed string, n int) {
	if n > 0 {
		m.detailFailures.WithLabelValues(feed).Add(float64(n))
	}
}
