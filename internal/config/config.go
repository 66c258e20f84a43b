// Package config loads the service configuration from SCRAPER_* environment
// variables.
package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/Sternrassler/github-scraper/pkg/logging"
)

// Prefix of every environment variable.
const Prefix = "scraper"

// Config is the service configuration.
type Config struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8000"`

	GitHubToken       string        `envconfig:"GITHUB_TOKEN"`
	GitHubBaseURL     string        `envconfig:"GITHUB_API_BASE_URL" default:"https://api.github.com"`
	UserAgent         string        `envconfig:"USER_AGENT" default:"github-scraper/1.0"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	RequestDelay      time.Duration `envconfig:"REQUEST_DELAY" default:"500ms"`
	RateLimitRPS      float64       `envconfig:"RATE_LIMIT_RPS" default:"10"`
	MaxRetries        int           `envconfig:"MAX_RETRIES" default:"2"`
	DefaultMaxRepos   int           `envconfig:"DEFAULT_MAX_REPOS" default:"100"`
	DetailConcurrency int           `envconfig:"DETAIL_CONCURRENCY" default:"10"`
	ReadmeTruncate    int           `envconfig:"README_TRUNCATE_LENGTH" default:"1000"`

	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	CacheMaxSize int           `envconfig:"CACHE_MAX_SIZE" default:"1000"`

	JobRetention    time.Duration `envconfig:"JOB_RETENTION" default:"168h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	OutputDir string `envconfig:"OUTPUT_DIR" default:"./data/exports"`
	RedisURL  string `envconfig:"REDIS_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process environment variables")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate rejects non-positive sizes and intervals and malformed URLs.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535 (got %d)", c.Port)
	}

	positive := map[string]time.Duration{
		"REQUEST_TIMEOUT":  c.RequestTimeout,
		"CACHE_TTL":        c.CacheTTL,
		"JOB_RETENTION":    c.JobRetention,
		"CLEANUP_INTERVAL": c.CleanupInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return errors.Errorf("%s must be positive (got %s)", name, d)
		}
	}
	if c.RequestDelay < 0 {
		return errors.Errorf("REQUEST_DELAY must not be negative (got %s)", c.RequestDelay)
	}

	sizes := map[string]int{
		"DEFAULT_MAX_REPOS":      c.DefaultMaxRepos,
		"DETAIL_CONCURRENCY":     c.DetailConcurrency,
		"README_TRUNCATE_LENGTH": c.ReadmeTruncate,
		"CACHE_MAX_SIZE":         c.CacheMaxSize,
	}
	for name, n := range sizes {
		if n <= 0 {
			return errors.Errorf("%s must be positive (got %d)", name, n)
		}
	}
	if c.DefaultMaxRepos > 500 {
		return errors.Errorf("DEFAULT_MAX_REPOS must not exceed 500 (got %d)", c.DefaultMaxRepos)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("MAX_RETRIES must not be negative (got %d)", c.MaxRetries)
	}
	if c.RateLimitRPS < 0 {
		return errors.Errorf("RATE_LIMIT_RPS must not be negative (got %v)", c.RateLimitRPS)
	}

	if _, err := url.ParseRequestURI(c.GitHubBaseURL); err != nil {
		return errors.Wrap(err, "GITHUB_API_BASE_URL")
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return errors.New("USER_AGENT must not be empty")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("OUTPUT_DIR must not be empty")
	}
	if !logging.ValidLevel(logging.LogLevel(c.LogLevel)) {
		return errors.Errorf("LOG_LEVEL must be debug, info, warn or error (got %q)", c.LogLevel)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
