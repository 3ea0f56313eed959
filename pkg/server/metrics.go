package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/coolbeans/exocortex/pkg/engine"
)

// metrics is registered on a registry owned by the server, so several
// servers in one process do not collide.
type metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
}

func newMetrics(eng *engine.Engine) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exocortex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exocortex",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query latency by kind, including cache hits.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind", "cached"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.queryDuration,
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "exocortex",
			Subsystem: "store",
			Name:      "triples",
			Help:      "Triples in the store.",
		}, func() float64 { return float64(eng.Stats().TotalTriples) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "exocortex",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries in the query cache.",
		}, func() float64 { return float64(eng.CacheStats().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "exocortex",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Query cache hits.",
		}, func() float64 { return float64(eng.CacheStats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "exocortex",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Query cache misses.",
		}, func() float64 { return float64(eng.CacheStats().Misses) }),
	)
	return m
}

func (m *metrics) observeRequest(route, method string, status int) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func (m *metrics) observeQuery(kind string, cached bool, elapsed time.Duration) {
	m.queryDuration.WithLabelValues(kind, strconv.FormatBool(cached)).Observe(elapsed.Seconds())
}
