package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments for the HTTP boundary. Each
// server owns its registry so tests can run servers side by side.
type metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	ingestRecords *prometheus.CounterVec
	queryDuration prometheus.Histogram
	archiveRuns   prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfistat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by handler and status code.",
		}, []string{"handler", "code"}),
		ingestRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfistat",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Ingested records by reason code.",
		}, []string{"reason"}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rfistat",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query execution latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		archiveRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rfistat",
			Subsystem: "archive",
			Name:      "runs_total",
			Help:      "Manually triggered archive passes.",
		}),
	}
}
