package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCapacity is used when Config.Capacity is zero.
	DefaultCapacity = 1000

	// DefaultTTL is used when Config.DefaultTTL is zero.
	DefaultTTL = time.Hour

	// statsSampleSize caps the number of entries reported by Stats.
	statsSampleSize = 10
)

// ErrInvalidConfig is returned by New for negative capacity or TTL.
var ErrInvalidConfig = errors.New("invalid cache config")

// Config configures a Store.
type Config struct {
	// Name labels the store's metrics and log lines (e.g. "results").
	Name string

	// Capacity is the maximum number of entries.
	Capacity int

	// DefaultTTL applies to Set and to SetWithTTL with a non-positive ttl.
	DefaultTTL time.Duration
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("store", s.name).Logger()
	}
}

// Store is a concurrency-safe TTL cache with LRU eviction.
type Store struct {
	name       string
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// EntryInfo describes one entry in a Stats sample.
type EntryInfo struct {
	Key            string        `json:"key"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	TTL            time.Duration `json:"ttl"`
	HitCount       int64         `json:"hit_count"`
}

// Stats is a point-in-time view of a Store.
type Stats struct {
	Size      int         `json:"size"`
	Capacity  int         `json:"capacity"`
	TotalHits int64       `json:"total_hits"`
	Entries   []EntryInfo `json:"entries"`
}

// New creates a Store.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidConfig, cfg.Capacity)
	}
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("%w: default ttl %s", ErrInvalidConfig, cfg.DefaultTTL)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}

	s := &Store{
		name:       cfg.Name,
		capacity:   cfg.Capacity,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
		logger:     zerolog.Nop(),
		entries:    make(map[string]*Entry, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	return s.capacity
}

// Get returns the value for key. A hit refreshes the entry's access time and
// hit count; an expired entry is removed and reported absent.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		CacheMisses.WithLabelValues(s.name).Inc()
		s.logger.Debug().Str("key", key).Msg("cache miss")
		return nil, false
	}

	now := s.now()
	if entry.IsExpired(now) {
		delete(s.entries, key)
		CacheMisses.WithLabelValues(s.name).Inc()
		CacheExpirations.WithLabelValues(s.name, "lazy").Inc()
		CacheEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
		s.logger.Debug().Str("key", key).Msg("cache entry expired")
		return nil, false
	}

	entry.HitCount++
	entry.LastAccessedAt = now
	CacheHits.WithLabelValues(s.name).Inc()
	s.logger.Debug().Str("key", key).Int64("hits", entry.HitCount).Msg("cache hit")
	return entry.Value, true
}

// Lookup is a typed Get. A present value of another type is reported absent.
func Lookup[T any](s *Store, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key with the default TTL.
func (s *Store) Set(key string, value any) {
	s.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key. A non-positive ttl means the default TTL.
// Overwriting resets the entry's timestamps and hit count. Inserting a new key
// into a full store evicts exactly one least-recently-used entry.
func (s *Store) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		s.evictLocked()
	}

	now := s.now()
	s.entries[key] = &Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}
	CacheEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
	s.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("cache set")
}

// evictLocked removes the entry with the oldest LastAccessedAt, breaking ties
// by key. Caller holds s.mu.
func (s *Store) evictLocked() {
	var victim *Entry
	for _, e := range s.entries {
		if victim == nil ||
			e.LastAccessedAt.Before(victim.LastAccessedAt) ||
			(e.LastAccessedAt.Equal(victim.LastAccessedAt) && e.Key < victim.Key) {
			victim = e
		}
	}
	if victim == nil {
		return
	}
	delete(s.entries, victim.Key)
	CacheEvictions.WithLabelValues(s.name).Inc()
	s.logger.Debug().Str("key", victim.Key).Msg("cache entry evicted")
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	CacheEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
	return true
}

// Clear removes every entry and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*Entry, s.capacity)
	CacheEntries.WithLabelValues(s.name).Set(0)
	if n > 0 {
		s.logger.Info().Int("removed", n).Msg("cache cleared")
	}
	return n
}

// SweepExpired removes every entry with ExpiresAt before now and returns the
// number removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.ExpiresAt.Before(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		CacheExpirations.WithLabelValues(s.name, "sweep").Add(float64(removed))
		CacheEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
		s.logger.Debug().Int("removed", removed).Msg("expired entries swept")
	}
	return removed
}

// Len returns the current number of entries, expired ones included until
// they are observed or swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns size, capacity, the hit total and a sample of up to ten
// entries ordered by key.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys := make([]string, 0, len(s.entries))
	var hits int64
	for key, e := range s.entries {
		keys = append(keys, key)
		hits += e.HitCount
	}
	sort.Strings(keys)
	if len(keys) > statsSampleSize {
		keys = keys[:statsSampleSize]
	}

	sample := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		e := s.entries[key]
		sample = append(sample, EntryInfo{
			Key:            e.Key,
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessedAt,
			ExpiresAt:      e.ExpiresAt,
			TTL:            e.TTL(now),
			HitCount:       e.HitCount,
		})
	}

	return Stats{
		Size:      len(s.entries),
		Capacity:  s.capacity,
		TotalHits: hits,
		Entries:   sample,
	}
}
