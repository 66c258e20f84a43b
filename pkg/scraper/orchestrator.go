// Package scraper orchestrates the fetches behind one scrape: a profile
// lookup, sequential repository pagination, and a bounded fan-out of
// per-repository README fetches. Results can be memoised in a cache.Store.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Sternrassler/github-scraper/pkg/cache"
	"github.com/Sternrassler/github-scraper/pkg/github"
)

var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_pages_fetched_total",
		Help: "Total number of repository listing pages fetched",
	})

	pageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_page_failures_total",
		Help: "Total number of listing page fetches that failed and truncated a scrape",
	})

	readmeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_readme_failures_total",
		Help: "Total number of README fetches replaced by a failure sentinel",
	})

	detailInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scraper_detail_in_flight",
		Help: "README fetches currently in flight",
	})
)

// ReadmeNotFound replaces the README of a repository whose fetch failed.
const ReadmeNotFound = "No README found"

// readmeDecodePrefix prefixes the README of a repository whose payload could not be decoded.
const readmeDecodePrefix = "Error decoding README: "

// ErrInvalidOptions is returned for out-of-range scrape options.
var ErrInvalidOptions = errors.New("invalid scrape options")

// Source is the upstream the orchestrator fetches from. *github.Client implements it.
type Source interface {
	FetchProfile(ctx context.Context, username string) (*github.Profile, error)
	FetchRepoPage(ctx context.Context, username string, page, perPage int) ([]github.Repository, error)
	FetchReadme(ctx context.Context, owner, repo string) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	// PageSize is the per_page value of listing requests.
	PageSize int

	// DefaultMaxRepos applies when Options.MaxRepos is zero.
	DefaultMaxRepos int

	// MaxReposLimit is the largest accepted Options.MaxRepos.
	MaxReposLimit int

	// PageDelay is the pause between consecutive listing pages.
	PageDelay time.Duration

	// DetailConcurrency caps README fetches in flight per scrape.
	DetailConcurrency int

	// RequestTimeout bounds each individual fetch. Zero disables it.
	RequestTimeout time.Duration

	// TruncateLength is the README length, in characters, kept when truncating.
	TruncateLength int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:          100,
		DefaultMaxRepos:   100,
		MaxReposLimit:     500,
		PageDelay:         500 * time.Millisecond,
		DetailConcurrency: 10,
		RequestTimeout:    30 * time.Second,
		TruncateLength:    1000,
	}
}

// Options are the per-scrape parameters.
type Options struct {
	MaxRepos       int  `json:"max_repos"`
	IncludeReadme  bool `json:"include_readme"`
	TruncateReadme bool `json:"truncate_readme"`
}

// DefaultOptions mirrors the defaults of the HTTP API.
func DefaultOptions() Options {
	return Options{IncludeReadme: true, TruncateReadme: true}
}

func (o Options) cacheParams() map[string]any {
	return map[string]any{
		"max_repos":       o.MaxRepos,
		"include_readme":  o.IncludeReadme,
		"truncate_readme": o.TruncateReadme,
	}
}

// LanguageCount is the number of repositories using a language.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// Result is the outcome of a complete scrape.
type Result struct {
	Username     string               `json:"username"`
	Profile      *github.Profile      `json:"profile"`
	Repositories []github.Repository `json:"repositories"`
	TotalRepos   int                  `json:"total_repos"`
	TotalStars   int                  `json:"total_stars"`
	TotalForks   int                  `json:"total_forks"`
	TopLanguages []LanguageCount      `json:"top_languages"`
	ScrapedAt    time.Time            `json:"scraped_at"`

	// Partial is set when pagination stopped early because a page failed.
	Partial bool `json:"partial"`
}

// Orchestrator runs scrapes against a Source.
type Orchestrator struct {
	source Source
	config Config
	cache  *cache.Store
	logger zerolog.Logger
	now    func() time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithCache memoises results in store for the *Cached methods.
func WithCache(store *cache.Store) Option {
	return func(o *Orchestrator) {
		o.cache = store
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator. Zero config fields take their defaults.
func New(source Source, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.DefaultMaxRepos <= 0 {
		cfg.DefaultMaxRepos = def.DefaultMaxRepos
	}
	if cfg.MaxReposLimit <= 0 {
		cfg.MaxReposLimit = def.MaxReposLimit
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = def.DetailConcurrency
	}
	if cfg.TruncateLength <= 0 {
		cfg.TruncateLength = def.TruncateLength
	}

	o := &Orchestrator{
		source: source,
		config: cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

func (o *Orchestrator) normalize(opts Options) (Options, error) {
	if opts.MaxRepos < 0 || opts.MaxRepos > o.config.MaxReposLimit {
		return opts, fmt.Errorf("%w: max_repos must be between 0 and %d (0 = default)", ErrInvalidOptions, o.config.MaxReposLimit)
	}
	if opts.MaxRepos == 0 {
		opts.MaxRepos = o.config.DefaultMaxRepos
	}
	return opts, nil
}

// Run performs a complete scrape of username. A profile failure is returned
// as an error; listing and README failures degrade the result instead.
func (o *Orchestrator) Run(ctx context.Context, username string, opts Options) (*Result, error) {
	opts, err := o.normalize(opts)
	if err != nil {
		return nil, err
	}
	start := o.now()
	logger := o.logger.With().Str("username", username).Logger()

	profile, err := o.Profile(ctx, username)
	if err != nil {
		return nil, err
	}

	repos, partial, err := o.listRepos(ctx, username, opts.MaxRepos)
	if err != nil {
		return nil, err
	}

	if opts.IncludeReadme {
		if err := o.attachReadmes(ctx, username, repos, opts.TruncateReadme); err != nil {
			return nil, err
		}
	}

	res := aggregate(repos)
	res.Username = username
	res.Profile = profile
	res.Repositories = repos
	res.Partial = partial
	res.ScrapedAt = o.now()

	logger.Info().
		Int("repos", len(repos)).
		Bool("partial", partial).
		Dur("duration", o.now().Sub(start)).
		Msg("scrape finished")
	return res, nil
}

// Profile fetches only the profile of username.
func (o *Orchestrator) Profile(ctx context.Context, username string) (*github.Profile, error) {
	fctx, cancel := o.fetchContext(ctx)
	defer cancel()

	profile, err := o.source.FetchProfile(fctx, username)
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("username", username).
			Str("error_class", string(github.ClassOf(err))).
			Msg("profile fetch failed")
		return nil, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	return profile, nil
}

// Repositories lists username's repositories, with READMEs when requested,
// without fetching the profile.
func (o *Orchestrator) Repositories(ctx context.Context, username string, opts Options) ([]github.Repository, error) {
	repos, _, err := o.repositories(ctx, username, opts)
	return repos, err
}

// repositories is Repositories that also reports whether the listing was cut
// short by a failed page.
func (o *Orchestrator) repositories(ctx context.Context, username string, opts Options) ([]github.Repository, bool, error) {
	opts, err := o.normalize(opts)
	if err != nil {
		return nil, false, err
	}
	repos, partial, err := o.listRepos(ctx, username, opts.MaxRepos)
	if err != nil {
		return nil, false, err
	}
	if opts.IncludeReadme {
		if err := o.attachReadmes(ctx, username, repos, opts.TruncateReadme); err != nil {
			return nil, false, err
		}
	}
	return repos, partial, nil
}

// listRepos paginates sequentially until a short or empty page, maxRepos
// items, or a failed page. partial reports the latter.
func (o *Orchestrator) listRepos(ctx context.Context, username string, maxRepos int) (repos []github.Repository, partial bool, err error) {
	pageSize := o.config.PageSize
	repos = make([]github.Repository, 0, min(maxRepos, pageSize))

	for page := 1; ; page++ {
		if page > 1 && o.config.PageDelay > 0 {
			timer := time.NewTimer(o.config.PageDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, false, ctx.Err()
			case <-timer.C:
			}
		}

		fctx, cancel := o.fetchContext(ctx)
		items, err := o.source.FetchRepoPage(fctx, username, page, pageSize)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			pageFailures.Inc()
			o.logger.Warn().
				Err(err).
				Str("username", username).
				Int("page", page).
				Str("error_class", string(github.ClassOf(err))).
				Int("collected", len(repos)).
				Msg("listing page failed, returning partial results")
			return repos, true, nil
		}
		pagesFetched.Inc()
		o.logger.Debug().Str("username", username).Int("page", page).Int("items", len(items)).Msg("page fetched")

		repos = append(repos, items...)
		if len(repos) >= maxRepos {
			return repos[:maxRepos], false, nil
		}
		if len(items) < pageSize {
			return repos, false, nil
		}
	}
}

// attachReadmes fetches one README per repository with at most
// DetailConcurrency fetches in flight, writing each into its own slot so
// listing order is kept. Failed fetches leave a sentinel.
func (o *Orchestrator) attachReadmes(ctx context.Context, username string, repos []github.Repository, truncate bool) error {
	sem := semaphore.NewWeighted(int64(o.config.DetailConcurrency))
	var wg sync.WaitGroup

	admitted := 0
	for i := range repos {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		admitted++
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			detailInFlight.Inc()
			defer detailInFlight.Dec()

			content := o.fetchReadme(ctx, username, repos[i].Name)
			if truncate {
				content = Truncate(content, o.config.TruncateLength)
			}
			repos[i].ReadmeContent = content
		}(i)
	}
	for i := admitted; i < len(repos); i++ {
		repos[i].ReadmeContent = ReadmeNotFound
	}
	wg.Wait()

	return ctx.Err()
}

func (o *Orchestrator) fetchReadme(ctx context.Context, owner, repo string) string {
	fctx, cancel := o.fetchContext(ctx)
	defer cancel()

	content, err := o.source.FetchReadme(fctx, owner, repo)
	if err == nil {
		return content
	}

	readmeFailures.Inc()
	o.logger.Debug().
		Err(err).
		Str("username", owner).
		Str("repo", repo).
		Str("error_class", string(github.ClassOf(err))).
		Msg("README unavailable")
	if errors.Is(err, github.ErrDecode) {
		return readmeDecodePrefix + err.Error()
	}
	return ReadmeNotFound
}

func (o *Orchestrator) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, o.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// Truncate clips s to n characters and appends "..." when s is longer than n.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// aggregate computes totals and the language ranking: count descending,
// ties in order of first appearance.
func aggregate(repos []github.Repository) *Result {
	res := &Result{TotalRepos: len(repos), TopLanguages: []LanguageCount{}}

	index := make(map[string]int)
	for _, r := range repos {
		res.TotalStars += r.Stars
		res.TotalForks += r.Forks
		if r.Language == "" {
			continue
		}
		if i, ok := index[r.Language]; ok {
			res.TopLanguages[i].Count++
			continue
		}
		index[r.Language] = len(res.TopLanguages)
		res.TopLanguages = append(res.TopLanguages, LanguageCount{Language: r.Language, Count: 1})
	}
	sort.SliceStable(res.TopLanguages, func(i, j int) bool {
		return res.TopLanguages[i].Count > res.TopLanguages[j].Count
	})
	return res
}
