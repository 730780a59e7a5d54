// Package metrics registers the Prometheus collectors the resolver
// exposes for queries, cache behaviour, resolution latency, and
// supervisor restarts. Grounded on the registration idiom in
// api/grpc/middleware/middleware.go (prometheus.NewCounterVec +
// MustRegister in a constructor, not package init).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the resolver updates.
type Metrics struct {
	Queries           *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	ResolutionLatency prometheus.Histogram
	ServFails         prometheus.Counter
	SupervisorRestarts prometheus.Counter
	PrefetchRefreshes  *prometheus.CounterVec
}

// New constructs and registers the resolver's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "queries_total",
			Help:      "Total DNS queries received, by query type.",
		}, []string{"qtype"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "cache_hits_total",
			Help:      "Total cache hits on the answer cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "cache_misses_total",
			Help:      "Total cache misses on the answer cache.",
		}),
		ResolutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resolverd",
			Name:      "resolution_latency_seconds",
			Help:      "Time spent performing iterative resolution on a cache miss.",
			Buckets:   prometheus.DefBuckets,
		}),
		ServFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "servfail_total",
			Help:      "Total responses returned with RCODE SERVFAIL.",
		}),
		SupervisorRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "supervisor_restarts_total",
			Help:      "Total times the supervisor has restarted the serving pipeline.",
		}),
		PrefetchRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "prefetch_refreshes_total",
			Help:      "Total prefetch refresh attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.Queries,
		m.CacheHits,
		m.CacheMisses,
		m.ResolutionLatency,
		m.ServFails,
		m.SupervisorRestarts,
		m.PrefetchRefreshes,
	)

	return m
}
