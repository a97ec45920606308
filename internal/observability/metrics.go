// Package observability provides Prometheus metrics and OpenTelemetry
// tracing setup for the client.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Cache lookup label values.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheStale  = "stale"
	CacheForget = "forget"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	Registry *prometheus.Registry

	FetchRequests *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	ChunkFetches  *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	CacheWrites   *prometheus.CounterVec
	DroppedCodes  prometheus.Counter
}

// NewMetrics creates a Metrics instance registered on its own registry,
// so several clients can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bcrpdata"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FetchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Remote series requests by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of remote series requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		ChunkFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_fetches_total",
			Help:      "Chunk fetches of large requests by outcome.",
		}, []string{"outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by storage kind and result.",
		}, []string{"storage", "result"}),
		CacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache writes by storage kind and outcome.",
		}, []string{"storage", "outcome"}),
		DroppedCodes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_codes_total",
			Help:      "Requested codes dropped because the catalog does not know them.",
		}),
	}
}
