// Metrics wires the ambient observability surface SPEC_FULL.md §2 calls
// for (event-store length, objective lifecycle counts, snapshot writes)
// into Prometheus, grounded on _examples/luxfi-consensus/api/metrics's
// Registerer/Registry split — a private *prometheus.Registry gathered
// only by this package's own /metrics handler, never the global
// DefaultRegisterer, so tests can construct as many independent Metrics
// values as they like without collision.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge/counter the control surface exposes at
// /metrics plus the private registry they are gathered from.
type Metrics struct {
	registry *prometheus.Registry

	EventLogLength      prometheus.Gauge
	ObjectivesCompleted prometheus.Counter
	ObjectivesRejected  prometheus.Counter
	SnapshotsSaved      prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
}

// NewMetrics builds and registers every metric against a fresh,
// package-private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventLogLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "channeld",
			Name:      "event_log_length",
			Help:      "Number of events durably appended to the event log.",
		}),
		ObjectivesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channeld",
			Name:      "objectives_completed_total",
			Help:      "Objectives that reached a completed status.",
		}),
		ObjectivesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channeld",
			Name:      "objectives_rejected_total",
			Help:      "Objectives that were rejected before completion.",
		}),
		SnapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channeld",
			Name:      "snapshots_saved_total",
			Help:      "Snapshots written through the snapshot manager.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channeld",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the control surface, by route and status class.",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(
		m.EventLogLength,
		m.ObjectivesCompleted,
		m.ObjectivesRejected,
		m.SnapshotsSaved,
		m.HTTPRequestsTotal,
	)
	return m
}

// Handler returns the http.Handler that serves this Metrics value's
// registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncObjectivesCompleted and IncSnapshotsSaved satisfy engine.Metrics,
// letting the engine drive these counters without this package's
// prometheus dependency leaking into pkg/engine.
func (m *Metrics) IncObjectivesCompleted() { m.ObjectivesCompleted.Inc() }
func (m *Metrics) IncSnapshotsSaved()      { m.SnapshotsSaved.Inc() }

// ObserveHTTPRequest records one served request against its route and
// status class ("2xx", "4xx", ...), the label shape instrument() builds
// in router.go.
func (m *Metrics) ObserveHTTPRequest(route, statusClass string) {
	m.HTTPRequestsTotal.With(prometheus.Labels{"route": route, "status": statusClass}).Inc()
}
