// Package cache provides the in-process result cache of the scraper service.
//
// A Store is a bounded map of entries with a per-entry time-to-live and
// least-recently-used eviction:
//
//   - Entries are visible while now <= ExpiresAt. Expired entries are removed
//     lazily by Get and in bulk by SweepExpired.
//   - When a Set inserts a new key into a full store, exactly one victim is
//     evicted: the entry with the oldest LastAccessedAt, ties broken by the
//     lexicographically smallest key.
//   - All operations are safe for concurrent use; the lock is never held
//     while the caller computes a value.
//
// # Basic Usage
//
//	store, err := cache.New(cache.Config{Name: "results", Capacity: 1000, DefaultTTL: time.Hour})
//	if err != nil {
//		return err
//	}
//
//	key := cache.Key{
//		Operation: "complete",
//		Subject:   "octocat",
//		Params:    map[string]any{"max_repos": 50, "include_readme": true},
//	}.String()
//
//	if v, ok := cache.Lookup[*scraper.Result](store, key); ok {
//		return v, nil
//	}
//	store.Set(key, result)
//
// # Conditional Requests
//
// Validators (ETag / Last-Modified) captured from upstream responses can be
// kept in a second Store and replayed as If-None-Match / If-Modified-Since
// headers. GitHub answers unchanged resources with 304, which does not count
// against the request quota.
//
//	if v, ok := cache.Lookup[*cache.Validator](validators, url); ok && v.CanRevalidate() {
//		v.Apply(req)
//	}
//
// # Metrics
//
//   - scraper_cache_hits_total{store}
//   - scraper_cache_misses_total{store}
//   - scraper_cache_evictions_total{store}
//   - scraper_cache_expirations_total{store, reason}
//   - scraper_cache_entries{store}
package cache
