package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses by store, including expired entries
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"store"},
	)

	// CacheEvictions tracks LRU evictions
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_evictions_total",
			Help: "Total number of entries evicted because the store was full",
		},
		[]string{"store"},
	)

	// CacheExpirations tracks removals of expired entries
	CacheExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_expirations_total",
			Help: "Total number of expired entries removed",
		},
		[]string{"store", "reason"}, // "lazy", "sweep"
	)

	// CacheEntries tracks the current number of entries
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scraper_cache_entries",
			Help: "Current number of cache entries",
		},
		[]string{"store"},
	)
)
