// Package metrics holds the Prometheus collectors for entity manager
// operations and cache sizes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results recorded in the result label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors shared by every manager in a process.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	CacheSize  *prometheus.GaugeVec
	Rollbacks  *prometheus.CounterVec
}

// New registers the pantry collectors with reg. Pass prometheus.NewRegistry()
// in tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pantry_manager_operations_total",
				Help: "Entity manager operations by collection, operation and result",
			},
			[]string{"collection", "op", "result"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pantry_manager_operation_duration_seconds",
				Help:    "Adapter round-trip duration of entity manager operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"collection", "op"},
		),
		CacheSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pantry_cache_entities",
				Help: "Number of entities held in the cache store",
			},
			[]string{"collection"},
		),
		Rollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pantry_manager_rollbacks_total",
				Help: "Optimistic mutations rolled back after an adapter failure",
			},
			[]string{"collection", "op"},
		),
	}
}

// Observe records one operation. A nil receiver is a no-op so callers need not
// check whether metrics are enabled.
func (m *Metrics) Observe(collection, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Operations.WithLabelValues(collection, op, result).Inc()
	m.Duration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

// SetCacheSize records the current cache size for collection.
func (m *Metrics) SetCacheSize(collection string, n int) {
	if m == nil {
		return
	}
	m.CacheSize.WithLabelValues(collection).Set(float64(n))
}

// Rollback counts an optimistic rollback.
func (m *Metrics) Rollback(collection, op string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(collection, op).Inc()
}
