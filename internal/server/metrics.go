package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the collectors of one server. Each server owns a registry so
// that several servers can live in one process.
type metrics struct {
	registry   *prometheus.Registry
	jobs       *prometheus.CounterVec
	running    prometheus.Gauge
	duration   prometheus.Histogram
	iterations prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qfe",
			Name:      "solve_jobs_total",
			Help:      "Solve jobs by final status.",
		}, []string{"status"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "qfe",
			Name:      "solve_jobs_running",
			Help:      "Solve jobs currently holding a worker.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qfe",
			Name:      "solve_duration_seconds",
			Help:      "Wall time of finished solves.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qfe",
			Name:      "solve_iterations",
			Help:      "Outer iterations of finished solves.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
