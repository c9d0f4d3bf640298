// Package metrics provides Prometheus instrumentation for the buttongate
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only buttongate metrics appear on the /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the buttongate server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EvaluationsTotal    *prometheus.CounterVec
	SnapshotVersion     prometheus.Gauge
	SnapshotRules       prometheus.Gauge
	SnapshotRebuilds    prometheus.Counter
	SnapshotFailures    prometheus.Counter
	CacheInvalidations  prometheus.Counter
	EventsPublished     *prometheus.CounterVec
	ActiveStreams       *prometheus.GaugeVec
	RateLimited         prometheus.Counter
}

// New creates and registers all buttongate metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttongate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buttongate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttongate_evaluations_total",
			Help: "Total number of button availability evaluations by outcome reason.",
		}, []string{"reason"}),

		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buttongate_snapshot_version",
			Help: "Generation counter of the rule snapshot currently serving reads.",
		}),

		SnapshotRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buttongate_snapshot_rules",
			Help: "Number of active rules in the current snapshot.",
		}),

		SnapshotRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttongate_snapshot_rebuilds_total",
			Help: "Total number of snapshot rebuilds from the database.",
		}),

		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttongate_snapshot_rebuild_failures_total",
			Help: "Total number of snapshot rebuilds that failed and kept the previous snapshot.",
		}),

		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttongate_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered snapshot rebuilds.",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttongate_rule_events_published_total",
			Help: "Total number of rule change events published.",
		}, []string{"operation"}),

		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "buttongate_active_streams",
			Help: "Number of active streaming connections.",
		}, []string{"transport"}),

		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttongate_rate_limited_total",
			Help: "Total number of requests rejected by the write rate limiter.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EvaluationsTotal,
		m.SnapshotVersion,
		m.SnapshotRules,
		m.SnapshotRebuilds,
		m.SnapshotFailures,
		m.CacheInvalidations,
		m.EventsPublished,
		m.ActiveStreams,
		m.RateLimited,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// RecordEvaluation increments the evaluation counter for an outcome reason.
func (m *Metrics) RecordEvaluation(reason string) {
	m.EvaluationsTotal.WithLabelValues(reason).Inc()
}

// RecordSnapshot updates the snapshot gauges after a successful rebuild.
func (m *Metrics) RecordSnapshot(version uint64, rules int) {
	m.SnapshotVersion.Set(float64(version))
	m.SnapshotRules.Set(float64(rules))
	m.SnapshotRebuilds.Inc()
}

// RecordSnapshotFailure increments the rebuild failure counter.
func (m *Metrics) RecordSnapshotFailure() {
	m.SnapshotFailures.Inc()
}

// RecordInvalidation increments the NOTIFY-triggered rebuild counter.
func (m *Metrics) RecordInvalidation() {
	m.CacheInvalidations.Inc()
}

// RecordEventPublished increments the published event counter for an
// operation.
func (m *Metrics) RecordEventPublished(operation string) {
	m.EventsPublished.WithLabelValues(operation).Inc()
}
