package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scraper_github_quota_remaining",
		Help: "Requests remaining in the current GitHub rate limit window",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_github_quota_blocks_total",
		Help: "Total number of requests refused because the GitHub quota was exhausted",
	})

	quotaWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_github_quota_warnings_total",
		Help: "Total number of responses observed with the quota below the warning threshold",
	})
)

// Tracker records the upstream quota and decides whether a request may go out.
type Tracker struct {
	store  StateStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker backed by store.
func NewTracker(store StateStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// GetState returns the last observed quota, or an optimistic default when
// nothing has been observed yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if errors.Is(err, ErrNoState) {
		now := t.now()
		t.logger.Debug().Msg("no rate limit state observed yet, assuming default quota")
		return &State{
			Limit:      DefaultLimit,
			Remaining:  DefaultLimit,
			ResetAt:    now.Add(time.Hour),
			LastUpdate: now,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// UpdateFromHeaders records the quota carried by a GitHub response. Responses
// without X-RateLimit-Remaining are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}
	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
	}

	now := t.now()
	state := &State{
		Limit:      remaining,
		Remaining:  remaining,
		ResetAt:    now.Add(time.Hour),
		LastUpdate: now,
	}

	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Limit header: %w", err)
		}
		state.Limit = limit
	}
	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		reset, err := strconv.ParseInt(resetStr, 10, 64)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
		}
		state.ResetAt = time.Unix(reset, 0)
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}
	quotaRemaining.Set(float64(remaining))

	switch {
	case remaining <= 0:
		t.logger.Error().
			Int("remaining", remaining).
			Time("reset_at", state.ResetAt).
			Msg("GitHub quota exhausted - requests blocked until reset")
	case state.NeedsWarning():
		quotaWarningsTotal.Inc()
		t.logger.Warn().
			Int("remaining", remaining).
			Int("limit", state.Limit).
			Time("reset_at", state.ResetAt).
			Msg("GitHub quota low")
	default:
		t.logger.Debug().
			Int("remaining", remaining).
			Bool("is_healthy", state.IsHealthy).
			Msg("GitHub quota updated")
	}
	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. When the quota
// is exhausted it returns false and the time left until the window resets.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("get rate limit state: %w", err)
	}

	now := t.now()
	if state.IsExhausted(now) {
		wait := state.TimeUntilReset(now)
		quotaBlocksTotal.Inc()
		t.logger.Warn().
			Str("error_class", "rate_limited").
			Dur("wait", wait).
			Msg("GitHub quota exhausted - blocking request")
		return false, wait, nil
	}
	return true, 0, nil
}
