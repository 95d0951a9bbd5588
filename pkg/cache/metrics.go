package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store name
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_hits_total",
			Help: "Total number of cache hits by store",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks cache misses by store name
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_misses_total",
			Help: "Total number of cache misses by store",
		},
		[]string{"cache"},
	)

	// CacheWrites tracks successful full-entry writes
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_writes_total",
			Help: "Total number of cache entry writes by store",
		},
		[]string{"cache"},
	)

	// CacheEvictions tracks entries dropped by a store's LRU bound
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_evictions_total",
			Help: "Total number of LRU evictions by store",
		},
		[]string{"cache"},
	)

	// CacheDeletes tracks whole-store deletions
	CacheDeletes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_store_deletes_total",
			Help: "Total number of deleted cache stores",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "match", "put", "delete", "names"
	)
)
