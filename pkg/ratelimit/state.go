// Package ratelimit tracks the GitHub REST API request quota and gates
// outgoing requests. It reads the X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers returned with every response; once the quota is
// exhausted, requests are refused until the reset time instead of burning
// 403 responses.
package ratelimit

import (
	"time"
)

// Redis keys for shared quota state.
const (
	RedisKeyLimit      = "github:rate_limit:limit"
	RedisKeyRemaining  = "github:rate_limit:remaining"
	RedisKeyResetAt    = "github:rate_limit:reset_at"
	RedisKeyLastUpdate = "github:rate_limit:last_update"
)

// Thresholds for quota decisions.
const (
	// ThresholdWarning logs a warning when fewer requests than this remain.
	ThresholdWarning = 10

	// ThresholdHealthy marks the state healthy at or above this value.
	ThresholdHealthy = 100

	// DefaultLimit is assumed before any response has been observed
	// (the unauthenticated GitHub quota).
	DefaultLimit = 60
)

// State is the last observed upstream quota.
type State struct {
	// Limit is the request allowance of the current window (X-RateLimit-Limit).
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (X-RateLimit-Reset, epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge at now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// IsExhausted reports whether no requests remain and the window has not reset yet.
func (s *State) IsExhausted(now time.Time) bool {
	return s.Remaining <= 0 && now.Before(s.ResetAt)
}

// NeedsWarning reports whether the quota is low but not exhausted.
func (s *State) NeedsWarning() bool {
	return s.Remaining > 0 && s.Remaining < ThresholdWarning
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
