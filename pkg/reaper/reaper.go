// Package reaper periodically removes finished jobs past their retention
// and expired cache entries.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var runsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scraper_reaper_runs_total",
		Help: "Reaper cycles by result",
	},
	[]string{"result"}, // "ok", "panic"
)

// JobReaper removes terminal jobs older than a retention. *jobs.Registry implements it.
type JobReaper interface {
	Reap(retention time.Duration) int
}

// Sweeper drops expired entries. *cache.Store implements it.
type Sweeper interface {
	SweepExpired() int
}

// Config controls the reaper schedule.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// DefaultConfig returns an hourly cycle with a one week retention.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Hour,
		Retention: 7 * 24 * time.Hour,
	}
}

// Reaper runs cleanup cycles until its context ends.
type Reaper struct {
	config   Config
	jobs     JobReaper
	sweepers []Sweeper
	logger   zerolog.Logger
}

// New creates a Reaper over jobs and any number of caches.
func New(cfg Config, jobs JobReaper, logger zerolog.Logger, sweepers ...Sweeper) (*Reaper, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("reaper interval must be positive (got %s)", cfg.Interval)
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("job retention must be positive (got %s)", cfg.Retention)
	}
	return &Reaper{config: cfg, jobs: jobs, sweepers: sweepers, logger: logger}, nil
}

// Run blocks, running one cycle per Interval, until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.config.Interval)
	defer t.Stop()

	r.logger.Info().
		Dur("interval", r.config.Interval).
		Dur("retention", r.config.Retention).
		Msg("reaper started")

	for {
		select {
		case <-t.C:
			r.RunOnce()
		case <-ctx.Done():
			r.logger.Info().Msg("reaper stopped")
			return
		}
	}
}

// RunOnce performs one cycle. Job reaping and cache sweeping run
// independently: a panic in one does not skip the other.
func (r *Reaper) RunOnce() (jobsRemoved, entriesRemoved int) {
	ok := r.guard("jobs", func() {
		if r.jobs != nil {
			jobsRemoved = r.jobs.Reap(r.config.Retention)
		}
	})
	for _, s := range r.sweepers {
		ok = r.guard("cache", func() {
			entriesRemoved += s.SweepExpired()
		}) && ok
	}

	if ok {
		runsTotal.WithLabelValues("ok").Inc()
	} else {
		runsTotal.WithLabelValues("panic").Inc()
	}
	if jobsRemoved > 0 || entriesRemoved > 0 {
		r.logger.Info().
			Int("jobs_removed", jobsRemoved).
			Int("entries_removed", entriesRemoved).
			Msg("cleanup cycle finished")
	}
	return jobsRemoved, entriesRemoved
}

func (r *Reaper) guard(task string, fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("task", task).Interface("panic", p).Msg("cleanup task panicked")
			ok = false
		}
	}()
	fn()
	return true
}
