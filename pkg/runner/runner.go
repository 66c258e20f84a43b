// Package runner executes scrape jobs in the background and drives them
// through the jobs.Registry lifecycle.
//
// A submitted job moves through fixed checkpoints:
//
//	running (10%) ─► scrape ─► 80% ─► export ─► completed (100%)
//
// Cancellation is checked at every checkpoint. A cancelled job keeps no
// result. Scrape or export errors, and panics, fail the job.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-scraper/pkg/export"
	"github.com/Sternrassler/github-scraper/pkg/jobs"
	"github.com/Sternrassler/github-scraper/pkg/logging"
	"github.com/Sternrassler/github-scraper/pkg/scraper"
)

// Progress checkpoints.
const (
	ProgressStarted  = 10
	ProgressScraped  = 80
	ProgressFinished = 100
)

var (
	// ErrInvalidRequest is returned by Submit for an unusable request.
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrNotCompleted is returned by Export for a job without a result.
	ErrNotCompleted = errors.New("job is not completed")

	// ErrShuttingDown is returned by Submit after Shutdown.
	ErrShuttingDown = errors.New("runner is shutting down")
)

var jobDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "scraper_job_duration_seconds",
		Help:    "Wall time of background scrape jobs by final status",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"status"},
)

// Scraper produces scrape results. *scraper.Orchestrator implements it.
type Scraper interface {
	Run(ctx context.Context, username string, opts scraper.Options) (*scraper.Result, error)
	RunCached(ctx context.Context, username string, opts scraper.Options) (*scraper.Result, bool, error)
}

// Exporter writes results to files. *export.Exporter implements it.
type Exporter interface {
	Export(ctx context.Context, jobID string, res *scraper.Result, format export.Format) ([]string, error)
	Remove(paths ...string) error
}

// Notifier announces finished jobs. *notify.Webhook implements it.
type Notifier interface {
	Notify(ctx context.Context, target string, job jobs.Job)
}

// Request describes a job to submit.
type Request struct {
	Username   string
	Options    scraper.Options
	Format     export.Format
	WebhookURL string
	UseCache   bool
}

// Runner runs jobs on tracked goroutines.
type Runner struct {
	registry *jobs.Registry
	scraper  Scraper
	exporter Exporter
	notifier Notifier
	logger   zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option customises a Runner.
type Option func(*Runner)

// WithNotifier enables webhook notifications.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner.
func New(registry *jobs.Registry, s Scraper, e Exporter, opts ...Option) *Runner {
	ctx, stop := context.WithCancel(context.Background())
	r := &Runner{
		registry: registry,
		scraper:  s,
		exporter: e,
		logger:   zerolog.Nop(),
		baseCtx:  ctx,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates req, registers a pending job and starts it. It returns
// the job ID without waiting for the job.
func (r *Runner) Submit(req Request) (string, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if req.Format == "" {
		req.Format = export.FormatJSON
	}
	format, err := export.ParseFormat(string(req.Format))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Format = format
	if req.WebhookURL != "" {
		if err := validateWebhookURL(req.WebhookURL); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrShuttingDown
	}

	id := r.registry.Create(req.Username,
		jobs.WithOptions(req.Options),
		jobs.WithWebhook(req.WebhookURL),
	)
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.registry.AttachCancel(id, cancel)

	r.wg.Add(1)
	go r.run(ctx, cancel, id, req)

	r.logger.Info().
		Str("job_id", id).
		Str("username", req.Username).
		Str("format", string(req.Format)).
		Msg("job submitted")
	return id, nil
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, id string, req Request) {
	start := time.Now()
	logger := logging.ForJob(r.logger, id, req.Username)

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("job panicked")
			r.fail(id, fmt.Sprintf("internal error: %v", p))
		}
		r.registry.ReleaseCancel(id)
		cancel()
		r.finish(ctx, id, start)
		r.wg.Done()
	}()

	if !r.checkpoint(ctx, id, jobs.Update{Status: jobs.Ptr(jobs.StatusRunning), Progress: jobs.Ptr(ProgressStarted)}) {
		return
	}

	var (
		res *scraper.Result
		err error
	)
	if req.UseCache {
		res, _, err = r.scraper.RunCached(ctx, req.Username, req.Options)
	} else {
		res, err = r.scraper.Run(ctx, req.Username, req.Options)
	}
	if err != nil {
		r.abort(ctx, id, logger, "scrape", err)
		return
	}

	if !r.checkpoint(ctx, id, jobs.Update{Progress: jobs.Ptr(ProgressScraped)}) {
		return
	}

	artifacts, err := r.exporter.Export(ctx, id, res, req.Format)
	if err != nil {
		r.abort(ctx, id, logger, "export", err)
		return
	}

	if ctx.Err() != nil {
		r.cancelled(id)
		r.discard(logger, artifacts)
		return
	}
	err = r.registry.Transition(id, jobs.Update{
		Status:    jobs.Ptr(jobs.StatusCompleted),
		Progress:  jobs.Ptr(ProgressFinished),
		Result:    res,
		Artifacts: artifacts,
	})
	if err != nil {
		logger.Debug().Err(err).Msg("job left running before completion")
		r.discard(logger, artifacts)
	}
}

// discard removes the files of an export the job can no longer own.
func (r *Runner) discard(logger zerolog.Logger, artifacts []string) {
	if len(artifacts) == 0 {
		return
	}
	if err := r.exporter.Remove(artifacts...); err != nil {
		logger.Warn().Err(err).Strs("files", artifacts).Msg("failed to remove export of stopped job")
	}
}

// checkpoint applies u unless the job was cancelled. It reports whether the
// job should continue.
func (r *Runner) checkpoint(ctx context.Context, id string, u jobs.Update) bool {
	if ctx.Err() != nil {
		r.cancelled(id)
		return false
	}
	exists, err := r.registry.Update(id, u)
	if !exists || err != nil {
		return false
	}
	job, ok := r.registry.Get(id)
	return ok && !job.Status.IsTerminal()
}

// abort fails the job, unless err stems from cancellation.
func (r *Runner) abort(ctx context.Context, id string, logger zerolog.Logger, stage string, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		r.cancelled(id)
		return
	}
	logger.Warn().Err(err).Str("stage", stage).Msg("job failed")
	r.fail(id, err.Error())
}

func (r *Runner) fail(id, msg string) {
	r.registry.Transition(id, jobs.Update{
		Status:   jobs.Ptr(jobs.StatusFailed),
		Progress: jobs.Ptr(ProgressFinished),
		Error:    jobs.Ptr(msg),
	})
}

// cancelled marks a job cancelled whose context ended outside Registry.Cancel,
// as during Shutdown.
func (r *Runner) cancelled(id string) {
	if err := r.registry.Cancel(id); err != nil && !errors.Is(err, jobs.ErrPreconditionFailed) {
		r.logger.Debug().Err(err).Str("job_id", id).Msg("cancel after stop")
	}
}

func (r *Runner) finish(ctx context.Context, id string, start time.Time) {
	job, ok := r.registry.Get(id)
	if !ok {
		return
	}
	jobDuration.WithLabelValues(string(job.Status)).Observe(time.Since(start).Seconds())

	if r.notifier != nil && job.WebhookURL != "" && job.Status.IsTerminal() {
		r.notifier.Notify(context.WithoutCancel(ctx), job.WebhookURL, job)
	}
}

// Export writes the result of a completed job in format and appends the new
// files to the job's artifacts.
func (r *Runner) Export(ctx context.Context, id string, format export.Format) ([]string, error) {
	job, ok := r.registry.Get(id)
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	res, ok := job.Result.(*scraper.Result)
	if job.Status != jobs.StatusCompleted || !ok || res == nil {
		return nil, fmt.Errorf("%w: status %s", ErrNotCompleted, job.Status)
	}

	paths, err := r.exporter.Export(ctx, id, res, format)
	if err != nil {
		return nil, err
	}
	r.registry.Update(id, jobs.Update{AppendArtifacts: paths})
	return paths, nil
}

// Shutdown rejects new jobs, cancels the running ones and waits for them to
// exit or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner shutdown: %w", ctx.Err())
	}
}

// validateWebhookURL accepts absolute http and https URLs with a host.
func validateWebhookURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("webhook_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook_url: scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("webhook_url: host is required")
	}
	return nil
}
