package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheReporter is satisfied by factory variants that expose their cache
// occupancy.
type cacheReporter interface {
	CachedExecutors() int
}

// metrics owns the server's Prometheus registry. Each server instance
// gets its own registry so tests can run servers side by side.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestsInFlight    prometheus.Gauge
	requestsRejected    prometheus.Counter
	computationDuration prometheus.Histogram
}

func newMetrics(reporter cacheReporter) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	auto := promauto.With(registry)

	m := &metrics{
		registry: registry,
		requestsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fedgrid",
			Name:      "requests_total",
			Help:      "Requests handled by the executor service, by route and outcome.",
		}, []string{"route", "code"}),
		requestsInFlight: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: "fedgrid",
			Name:      "requests_in_flight",
			Help:      "Requests currently holding a worker slot.",
		}),
		requestsRejected: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "fedgrid",
			Name:      "requests_rejected_total",
			Help:      "Requests rejected by the backpressure policy.",
		}),
		computationDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fedgrid",
			Name:      "computation_duration_seconds",
			Help:      "Wall time of federated computation executions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reporter != nil {
		auto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fedgrid",
			Name:      "executors_cached",
			Help:      "Executors currently cached by the factory.",
		}, func() float64 { return float64(reporter.CachedExecutors()) })
	}
	return m
}
