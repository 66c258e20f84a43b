package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/github-scraper/internal/api"
	"github.com/Sternrassler/github-scraper/internal/config"
	"github.com/Sternrassler/github-scraper/pkg/cache"
	"github.com/Sternrassler/github-scraper/pkg/export"
	"github.com/Sternrassler/github-scraper/pkg/github"
	"github.com/Sternrassler/github-scraper/pkg/jobs"
	"github.com/Sternrassler/github-scraper/pkg/logging"
	"github.com/Sternrassler/github-scraper/pkg/notify"
	"github.com/Sternrassler/github-scraper/pkg/ratelimit"
	"github.com/Sternrassler/github-scraper/pkg/reaper"
	"github.com/Sternrassler/github-scraper/pkg/runner"
	"github.com/Sternrassler/github-scraper/pkg/scraper"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API. Configuration is read from SCRAPER_* environment variables.

Examples:
  scraper-api serve
  SCRAPER_GITHUB_TOKEN=ghp_xxx scraper-api serve --port 9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides SCRAPER_PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	return a.run(ctx, logger)
}

// app holds the wired services of one process.
type app struct {
	cfg      config.Config
	redis    *redis.Client
	results  *cache.Store
	etags    *cache.Store
	registry *jobs.Registry
	runner   *runner.Runner
	reaper   *reaper.Reaper
	server   *http.Server
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	a.results, err = cache.New(cache.Config{Name: "results", Capacity: cfg.CacheMaxSize, DefaultTTL: cfg.CacheTTL},
		cache.WithLogger(logging.NewLogger("cache")))
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	a.etags, err = cache.New(cache.Config{Name: "validators", Capacity: cfg.CacheMaxSize, DefaultTTL: cache.ValidatorTTL},
		cache.WithLogger(logging.NewLogger("cache")))
	if err != nil {
		return nil, fmt.Errorf("create validator cache: %w", err)
	}

	var store ratelimit.StateStore = ratelimit.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store = ratelimit.NewRedisStore(a.redis)
	}
	tracker := ratelimit.NewTracker(store, logging.NewLogger("ratelimit"))

	ghCfg := github.DefaultConfig()
	ghCfg.BaseURL = cfg.GitHubBaseURL
	ghCfg.Token = cfg.GitHubToken
	ghCfg.UserAgent = cfg.UserAgent
	ghCfg.RequestTimeout = cfg.RequestTimeout
	ghCfg.RequestsPerSecond = cfg.RateLimitRPS
	ghCfg.Retry.MaxAttempts = cfg.MaxRetries + 1
	client, err := github.New(ghCfg,
		github.WithTracker(tracker),
		github.WithValidatorCache(a.etags),
		github.WithLogger(logging.NewLogger("github-client")),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create github client: %w", err)
	}

	orch := scraper.New(client, scraper.Config{
		DefaultMaxRepos:   cfg.DefaultMaxRepos,
		PageDelay:         cfg.RequestDelay,
		DetailConcurrency: cfg.DetailConcurrency,
		RequestTimeout:    cfg.RequestTimeout,
		TruncateLength:    cfg.ReadmeTruncate,
	}, scraper.WithCache(a.results), scraper.WithLogger(logging.NewLogger("scraper")))

	exp, err := export.New(cfg.OutputDir, logging.NewLogger("export"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.registry = jobs.NewRegistry(jobs.WithLogger(logging.NewLogger("jobs")))
	a.runner = runner.New(a.registry, orch, exp,
		runner.WithNotifier(notify.NewWebhook(nil, cfg.UserAgent, logging.NewLogger("notify"))),
		runner.WithLogger(logging.NewLogger("runner")),
	)

	a.reaper, err = reaper.New(reaper.Config{Interval: cfg.CleanupInterval, Retention: cfg.JobRetention},
		a.registry, logging.NewLogger("reaper"), a.results, a.etags)
	if err != nil {
		a.close()
		return nil, err
	}

	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Runner:       a.runner,
		Jobs:         a.registry,
		Exporter:     exp,
		Caches:       []*cache.Store{a.results, a.etags},
		Version:      version,
		Logger:       logging.NewLogger("api"),
	})
	a.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// run serves until ctx ends, then shuts everything down in order: HTTP
// drain, running jobs, reaper, caches.
func (a *app) run(ctx context.Context, logger zerolog.Logger) error {
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		a.reaper.Run(reaperCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", a.server.Addr).
			Str("version", version).
			Str("output_dir", a.cfg.OutputDir).
			Bool("authenticated", a.cfg.GitHubToken != "").
			Bool("shared_quota", a.redis != nil).
			Msg("starting scraper api")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}
	if err := a.runner.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("runner shutdown incomplete")
	}
	stopReaper()
	<-reaperDone
	a.close()

	logger.Info().Msg("scraper api stopped")
	return runErr
}

func (a *app) close() {
	if a.results != nil {
		a.results.Clear()
	}
	if a.etags != nil {
		a.etags.Clear()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
