package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/github-scraper/internal/testutil"
	"github.com/Sternrassler/github-scraper/pkg/export"
	"github.com/Sternrassler/github-scraper/pkg/github"
	"github.com/Sternrassler/github-scraper/pkg/jobs"
	"github.com/Sternrassler/github-scraper/pkg/scraper"
)

type fakeScraper struct {
	run        func(ctx context.Context, username string) (*scraper.Result, error)
	calls      atomic.Int32
	cachedRuns atomic.Int32
}

func (f *fakeScraper) Run(ctx context.Context, username string, _ scraper.Options) (*scraper.Result, error) {
	f.calls.Add(1)
	if f.run != nil {
		return f.run(ctx, username)
	}
	return &scraper.Result{Username: username}, nil
}

func (f *fakeScraper) RunCached(ctx context.Context, username string, opts scraper.Options) (*scraper.Result, bool, error) {
	f.cachedRuns.Add(1)
	res, err := f.Run(ctx, username, opts)
	return res, false, err
}

type fakeExporter struct {
	mu       sync.Mutex
	formats  []export.Format
	removed  []string
	err      error
	exported func(jobID string)
}

func (f *fakeExporter) Export(ctx context.Context, jobID string, _ *scraper.Result, format export.Format) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.formats = append(f.formats, format)
	f.mu.Unlock()
	if f.exported != nil {
		f.exported(jobID)
	}
	return []string{"/exports/" + jobID + "." + string(format)}, nil
}

func (f *fakeExporter) Remove(paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, paths...)
	return nil
}

func (f *fakeExporter) removedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []jobs.Job
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, job jobs.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, job)
}

func (f *fakeNotifier) received() []jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jobs.Job{}, f.sent...)
}

func waitTerminal(t *testing.T, reg *jobs.Registry, id string) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = reg.Get(id)
		return ok && job.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond, "job %s never finished", id)
	return job
}

func shutdown(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
}

// TestSubmit_Scenario runs a full job against a fake GitHub API.
func TestSubmit_Scenario(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.AddUser("alice", testutil.GenerateRepos(12, "Go")...)

	cfg := github.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.RequestTimeout = 5 * time.Second
	cfg.RequestsPerSecond = 0
	client, err := github.New(cfg, github.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	orch := scraper.New(client, scraper.Config{PageDelay: time.Millisecond, DetailConcurrency: 3})
	exp, err := export.New(filepath.Join(t.TempDir(), "exports"), zerolog.Nop())
	require.NoError(t, err)

	reg := jobs.NewRegistry()
	r := New(reg, orch, exp)
	defer shutdown(t, r)

	id, err := r.Submit(Request{
		Username: "alice",
		Options:  scraper.Options{MaxRepos: 5, IncludeReadme: true, TruncateReadme: true},
		Format:   export.FormatJSON,
	})
	require.NoError(t, err)

	job := waitTerminal(t, reg, id)
	require.Equal(t, jobs.StatusCompleted, job.Status, "error: %s", job.Error)
	assert.Equal(t, ProgressFinished, job.Progress)
	assert.NotEmpty(t, job.ExportArtifacts)
	assert.FileExists(t, job.ExportArtifacts[0])

	res, ok := job.Result.(*scraper.Result)
	require.True(t, ok)
	assert.Len(t, res.Repositories, 5)
	assert.Equal(t, "alice", res.Profile.Username)
	for _, repo := range res.Repositories {
		assert.NotEqual(t, scraper.ReadmeNotFound, repo.ReadmeContent, repo.Name)
	}
}

func TestSubmit_Validation(t *testing.T) {
	r := New(jobs.NewRegistry(), &fakeScraper{}, &fakeExporter{})
	defer shutdown(t, r)

	_, err := r.Submit(Request{Username: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = r.Submit(Request{Username: "bob", Format: "pdf"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmit_WebhookURLValidation(t *testing.T) {
	reg := jobs.NewRegistry()
	r := New(reg, &fakeScraper{}, &fakeExporter{})
	defer shutdown(t, r)

	for _, bad := range []string{"hooks.example.com/done", "ftp://hooks.example.com/done", "file:///etc/passwd", "http://", "not a url"} {
		_, err := r.Submit(Request{Username: "bob", WebhookURL: bad})
		assert.ErrorIs(t, err, ErrInvalidRequest, bad)
	}
	assert.Equal(t, 0, reg.Stats().Total, "rejected requests create no job")

	for _, good := range []string{"http://hooks.example.com/done", "https://hooks.example.com:8443/done?x=1"} {
		id, err := r.Submit(Request{Username: "bob", WebhookURL: good})
		require.NoError(t, err, good)
		waitTerminal(t, reg, id)
	}
}

func TestSubmit_DefaultsToJSON(t *testing.T) {
	reg := jobs.NewRegistry()
	exp := &fakeExporter{}
	r := New(reg, &fakeScraper{}, exp)
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob"})
	require.NoError(t, err)
	job := waitTerminal(t, reg, id)

	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, []export.Format{export.FormatJSON}, exp.formats)
}

func TestSubmit_UseCache(t *testing.T) {
	reg := jobs.NewRegistry()
	s := &fakeScraper{}
	r := New(reg, s, &fakeExporter{})
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob", UseCache: true})
	require.NoError(t, err)
	waitTerminal(t, reg, id)

	assert.Equal(t, int32(1), s.cachedRuns.Load())
}

func TestSubmit_ScrapeFailure(t *testing.T) {
	reg := jobs.NewRegistry()
	s := &fakeScraper{run: func(context.Context, string) (*scraper.Result, error) {
		return nil, &github.APIError{StatusCode: 404, Class: github.ErrorClassNotFound, Endpoint: "profile", Message: "Not Found"}
	}}
	r := New(reg, s, &fakeExporter{})
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "ghost"})
	require.NoError(t, err)
	job := waitTerminal(t, reg, id)

	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, ProgressFinished, job.Progress)
	assert.NotEmpty(t, job.Error)
	assert.Nil(t, job.Result)
}

func TestSubmit_ExportFailure(t *testing.T) {
	reg := jobs.NewRegistry()
	r := New(reg, &fakeScraper{}, &fakeExporter{err: errors.New("disk full")})
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob"})
	require.NoError(t, err)
	job := waitTerminal(t, reg, id)

	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "disk full")
	assert.Empty(t, job.ExportArtifacts)
}

func TestSubmit_PanicFailsJob(t *testing.T) {
	reg := jobs.NewRegistry()
	s := &fakeScraper{run: func(context.Context, string) (*scraper.Result, error) {
		panic("boom")
	}}
	r := New(reg, s, &fakeExporter{})
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob"})
	require.NoError(t, err)
	job := waitTerminal(t, reg, id)

	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "boom")
}

func TestSubmit_CancelDuringScrape(t *testing.T) {
	reg := jobs.NewRegistry()
	started := make(chan struct{})
	s := &fakeScraper{run: func(ctx context.Context, _ string) (*scraper.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exp := &fakeExporter{}
	n := &fakeNotifier{}
	r := New(reg, s, exp, WithNotifier(n))
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob", WebhookURL: "http://hooks.invalid/done"})
	require.NoError(t, err)

	<-started
	require.NoError(t, reg.Cancel(id))
	job := waitTerminal(t, reg, id)

	assert.Equal(t, jobs.StatusCancelled, job.Status)
	assert.Nil(t, job.Result)
	assert.Empty(t, exp.formats, "cancelled job must not export")

	require.Eventually(t, func() bool { return len(n.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, jobs.StatusCancelled, n.received()[0].Status)
}

func TestSubmit_CancelAfterExportKeepsNoArtifacts(t *testing.T) {
	reg := jobs.NewRegistry()
	exp := &fakeExporter{}
	// cancel in the registry without ending the job context, as a Cancel
	// that lands after the last context check would
	exp.exported = func(jobID string) {
		reg.ReleaseCancel(jobID)
		assert.NoError(t, reg.Cancel(jobID))
	}
	r := New(reg, &fakeScraper{}, exp)
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob"})
	require.NoError(t, err)
	waitTerminal(t, reg, id)
	shutdown(t, r)

	job, _ := reg.Get(id)
	assert.Equal(t, jobs.StatusCancelled, job.Status)
	assert.Equal(t, ProgressScraped, job.Progress)
	assert.Nil(t, job.Result)
	assert.Empty(t, job.ExportArtifacts)
	assert.Equal(t, []string{"/exports/" + id + ".json"}, exp.removedPaths())
}

func TestSubmit_NotifiesWebhook(t *testing.T) {
	reg := jobs.NewRegistry()
	n := &fakeNotifier{}
	r := New(reg, &fakeScraper{}, &fakeExporter{}, WithNotifier(n))
	defer shutdown(t, r)

	withHook, err := r.Submit(Request{Username: "bob", WebhookURL: "http://hooks.invalid/done"})
	require.NoError(t, err)
	withoutHook, err := r.Submit(Request{Username: "carol"})
	require.NoError(t, err)

	waitTerminal(t, reg, withHook)
	waitTerminal(t, reg, withoutHook)

	require.Eventually(t, func() bool { return len(n.received()) == 1 }, time.Second, 5*time.Millisecond)
	sent := n.received()[0]
	assert.Equal(t, withHook, sent.ID)
	assert.Equal(t, jobs.StatusCompleted, sent.Status)
}

func TestExport_OnDemand(t *testing.T) {
	reg := jobs.NewRegistry()
	exp := &fakeExporter{}
	r := New(reg, &fakeScraper{}, exp)
	defer shutdown(t, r)

	id, err := r.Submit(Request{Username: "bob", Format: export.FormatJSON})
	require.NoError(t, err)
	waitTerminal(t, reg, id)

	paths, err := r.Export(context.Background(), id, export.FormatCSV)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	job, _ := reg.Get(id)
	assert.Len(t, job.ExportArtifacts, 2, "on-demand export appends")
	assert.Equal(t, paths[0], job.ExportArtifacts[1])
}

func TestExport_Preconditions(t *testing.T) {
	reg := jobs.NewRegistry()
	r := New(reg, &fakeScraper{}, &fakeExporter{})
	defer shutdown(t, r)

	_, err := r.Export(context.Background(), "missing", export.FormatJSON)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	pending := reg.Create("dave")
	_, err = r.Export(context.Background(), pending, export.FormatJSON)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestShutdown_CancelsRunningJobs(t *testing.T) {
	reg := jobs.NewRegistry()
	started := make(chan struct{})
	s := &fakeScraper{run: func(ctx context.Context, _ string) (*scraper.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := New(reg, s, &fakeExporter{})

	id, err := r.Submit(Request{Username: "bob"})
	require.NoError(t, err)
	<-started

	shutdown(t, r)

	job, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCancelled, job.Status)

	_, err = r.Submit(Request{Username: "late"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdown_Timeout(t *testing.T) {
	reg := jobs.NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	s := &fakeScraper{run: func(context.Context, string) (*scraper.Result, error) {
		close(started)
		<-release
		return &scraper.Result{}, nil
	}}
	r := New(reg, s, &fakeExporter{})

	_, err := r.Submit(Request{Username: "stubborn"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = r.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	shutdown(t, r)
}
