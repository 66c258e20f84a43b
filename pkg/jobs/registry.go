package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultListLimit applies when Filter.Limit is zero.
const DefaultListLimit = 100

var (
	// ErrJobNotFound is returned when the job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrPreconditionFailed is returned by Cancel for a job already in a terminal status.
	ErrPreconditionFailed = errors.New("job is not pending or running")

	// ErrInvalidTransition is returned by Update when the requested status
	// change is not allowed. The other fields of the update are still applied.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

type record struct {
	job    Job
	cancel context.CancelFunc
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// CreateOption sets optional fields on a new job.
type CreateOption func(*Job)

// WithOptions records the request parameters on the job.
func WithOptions(opts any) CreateOption {
	return func(j *Job) {
		j.Options = opts
	}
}

// WithWebhook records a completion callback URL on the job.
func WithWebhook(url string) CreateOption {
	return func(j *Job) {
		j.WebhookURL = url
	}
}

// Registry is an in-memory, concurrency-safe job table.
type Registry struct {
	now    func() time.Time
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*record
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:    time.Now,
		logger: zerolog.Nop(),
		jobs:   make(map[string]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new pending job for subject and returns its id.
func (r *Registry) Create(subject string, opts ...CreateOption) string {
	now := r.now()
	job := Job{
		ID:              uuid.NewString(),
		Subject:         subject,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExportArtifacts: []string{},
	}
	for _, opt := range opts {
		opt(&job)
	}

	r.mu.Lock()
	r.jobs[job.ID] = &record{job: job}
	r.mu.Unlock()

	JobsCreated.Inc()
	JobsActive.Inc()
	r.logger.Info().Str("job_id", job.ID).Str("username", subject).Msg("job created")
	return job.ID
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return rec.job.snapshot(), true
}

// AttachCancel hands the job's cancel handle to the registry. If the job is
// already terminal (it was cancelled before its task started) the handle is
// invoked immediately and false is returned.
func (r *Registry) AttachCancel(id string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok || rec.job.Status.IsTerminal() {
		cancel()
		return false
	}
	rec.cancel = cancel
	return true
}

// ReleaseCancel drops the job's cancel handle once its task has exited.
func (r *Registry) ReleaseCancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.jobs[id]; ok {
		rec.cancel = nil
	}
}

// Update atomically merges u into the job and refreshes UpdatedAt. It reports
// whether the job exists. A disallowed status change is skipped, the rest of
// u is still applied, and ErrInvalidTransition is returned.
func (r *Registry) Update(id string, u Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return false, nil
	}

	var err error
	if u.Status != nil && *u.Status != rec.job.Status && !rec.job.Status.CanTransitionTo(*u.Status) {
		err = ErrInvalidTransition
		r.logRejected(id, rec.job.Status, *u.Status)
		u.Status = nil
	}
	r.applyLocked(rec, u)
	return true, err
}

// Transition applies u only if its status change is allowed from the job's
// current status; otherwise the job is left untouched. A terminal job never
// accepts a transition. u.Status is required.
func (r *Registry) Transition(id string, u Update) error {
	if u.Status == nil {
		return ErrInvalidTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !rec.job.Status.CanTransitionTo(*u.Status) {
		r.logRejected(id, rec.job.Status, *u.Status)
		return ErrInvalidTransition
	}
	r.applyLocked(rec, u)
	return nil
}

func (r *Registry) logRejected(id string, from, to Status) {
	r.logger.Debug().
		Str("job_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("status transition rejected")
}

// applyLocked merges u, whose status change is already known to be allowed.
// Caller holds r.mu.
func (r *Registry) applyLocked(rec *record, u Update) {
	job := &rec.job
	prev := job.Status

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = clampProgress(*u.Progress)
	}
	if u.Result != nil && job.Status == StatusCompleted {
		job.Result = u.Result
	}
	if u.Error != nil && job.Status == StatusFailed {
		job.Error = *u.Error
	}
	if u.Artifacts != nil {
		job.ExportArtifacts = append([]string{}, u.Artifacts...)
	}
	if len(u.AppendArtifacts) > 0 {
		job.ExportArtifacts = append(job.ExportArtifacts, u.AppendArtifacts...)
	}
	job.UpdatedAt = r.now()

	if !prev.IsTerminal() && job.Status.IsTerminal() {
		r.finishLocked(rec, prev)
	}
}

// finishLocked records a terminal transition. Caller holds r.mu.
func (r *Registry) finishLocked(rec *record, prev Status) {
	rec.cancel = nil
	JobsFinished.WithLabelValues(string(rec.job.Status)).Inc()
	JobsActive.Dec()
	r.logger.Info().
		Str("job_id", rec.job.ID).
		Str("from", string(prev)).
		Str("status", string(rec.job.Status)).
		Msg("job finished")
}

// List returns snapshots ordered by CreatedAt, newest first.
func (r *Registry) List(f Filter) []Job {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for _, rec := range r.jobs {
		if f.Status != nil && rec.job.Status != *f.Status {
			continue
		}
		out = append(out, rec.job.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Delete removes the job, cancelling its task if one is still running.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return false
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	if !rec.job.Status.IsTerminal() {
		JobsActive.Dec()
	}
	delete(r.jobs, id)
	r.logger.Info().Str("job_id", id).Msg("job deleted")
	return true
}

// Cancel stops a pending or running job and marks it cancelled.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if rec.job.Status.IsTerminal() {
		return ErrPreconditionFailed
	}

	if rec.cancel != nil {
		rec.cancel()
	}
	prev := rec.job.Status
	rec.job.Status = StatusCancelled
	rec.job.UpdatedAt = r.now()
	r.finishLocked(rec, prev)
	return nil
}

// Stats counts jobs per status.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	for _, rec := range r.jobs {
		s.Total++
		switch rec.job.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Reap removes terminal jobs whose last update is older than retention and
// returns how many were removed.
func (r *Registry) Reap(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.jobs {
		if rec.job.Status.IsTerminal() && rec.job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		JobsReaped.Add(float64(removed))
		r.logger.Info().Int("removed", removed).Dur("retention", retention).Msg("old jobs reaped")
	}
	return removed
}

func (j Job) snapshot() Job {
	j.ExportArtifacts = append([]string{}, j.ExportArtifacts...)
	return j
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
