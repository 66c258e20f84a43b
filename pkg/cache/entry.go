package cache

import "time"

// Entry is a single cached value.
type Entry struct {
	Key   string
	Value any

	// CreatedAt is when the value was stored (reset on overwrite).
	CreatedAt time.Time

	// LastAccessedAt drives LRU eviction. Refreshed by every successful Get.
	LastAccessedAt time.Time

	// ExpiresAt is CreatedAt + ttl.
	ExpiresAt time.Time

	// HitCount counts successful Gets since the value was stored.
	HitCount int64
}

// IsExpired reports whether the entry is no longer visible at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTL returns the time left until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
