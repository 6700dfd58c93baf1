package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yash-kalathiya/food-spotz/pkg/metrics"
)

var (
	// CacheHits counts lookups answered with a live reference.
	CacheHits = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "dishfinder_cache_hits_total",
			Help: "Total number of search cache hits",
		},
	)

	// CacheMisses counts lookups with no entry or an expired one.
	CacheMisses = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "dishfinder_cache_misses_total",
			Help: "Total number of search cache misses",
		},
	)

	// CacheStores counts successful upserts.
	CacheStores = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "dishfinder_cache_stores_total",
			Help: "Total number of search cache entries written",
		},
	)

	// CacheErrors counts backend failures by operation.
	CacheErrors = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishfinder_cache_errors_total",
			Help: "Total number of search cache backend errors",
		},
		[]string{"operation"}, // "lookup", "store"
	)
)
