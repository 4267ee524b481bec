// Package metrics wires the handful of counters the storage engine
// and I/O core already track into a Prometheus registry, exposed on a
// separate internal HTTP endpoint from the memcached TCP port.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric cuckoocached exports. Each field is
// created against its own *prometheus.Registry so tests can spin up
// independent instances without touching the global default registry.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	ConnectionsClosed   prometheus.Counter
	Evictions           prometheus.Counter
	DisplacementChain   prometheus.Histogram
	CommandsTotal       *prometheus.CounterVec
}

// New builds a Registry with all metrics pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		ConnectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cuckoocached_connections_accepted_total",
			Help: "Total TCP connections accepted.",
		}),
		ConnectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cuckoocached_connections_closed_total",
			Help: "Total TCP connections closed.",
		}),
		Evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cuckoocached_evictions_total",
			Help: "Total items evicted to make room for an insert.",
		}),
		DisplacementChain: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cuckoocached_displacement_chain_length",
			Help:    "Length of the displacement chain walked per insert.",
			Buckets: prometheus.LinearBuckets(0, 1, 9), // 0..8, matching MaxDisplacementMax
		}),
		CommandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cuckoocached_commands_total",
			Help: "Total commands processed, by verb and outcome.",
		}, []string{"command", "outcome"}),
	}
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
