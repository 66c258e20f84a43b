package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestLoadDefaults() {
	cfg, err := Load()
	s.Require().NoError(err)

	assert.Equal(s.T(), 8000, cfg.Port)
	assert.Equal(s.T(), "https://api.github.com", cfg.GitHubBaseURL)
	assert.Equal(s.T(), 30*time.Second, cfg.RequestTimeout)
	assert.Equal(s.T(), 500*time.Millisecond, cfg.RequestDelay)
	assert.Equal(s.T(), 10, cfg.DetailConcurrency)
	assert.Equal(s.T(), 1000, cfg.ReadmeTruncate)
	assert.Equal(s.T(), time.Hour, cfg.CacheTTL)
	assert.Equal(s.T(), 1000, cfg.CacheMaxSize)
	assert.Equal(s.T(), 168*time.Hour, cfg.JobRetention)
	assert.Equal(s.T(), "./data/exports", cfg.OutputDir)
	assert.Equal(s.T(), "info", cfg.LogLevel)
	assert.Empty(s.T(), cfg.RedisURL)
	assert.Equal(s.T(), "0.0.0.0:8000", cfg.Addr())
}

func (s *ConfigTestSuite) TestLoadOverrides() {
	s.T().Setenv("SCRAPER_PORT", "9090")
	s.T().Setenv("SCRAPER_GITHUB_TOKEN", "ghp_test")
	s.T().Setenv("SCRAPER_CACHE_TTL", "5m")
	s.T().Setenv("SCRAPER_REDIS_URL", "redis://localhost:6379/0")
	s.T().Setenv("SCRAPER_LOG_PRETTY", "true")

	cfg, err := Load()
	s.Require().NoError(err)

	assert.Equal(s.T(), 9090, cfg.Port)
	assert.Equal(s.T(), "ghp_test", cfg.GitHubToken)
	assert.Equal(s.T(), 5*time.Minute, cfg.CacheTTL)
	assert.Equal(s.T(), "redis://localhost:6379/0", cfg.RedisURL)
	assert.True(s.T(), cfg.LogPretty)
}

func (s *ConfigTestSuite) TestLoadInvalidTypeFailure() {
	s.T().Setenv("SCRAPER_PORT", "not_a_port")
	_, err := Load()
	assert.ErrorContains(s.T(), err, "failed to process environment variables")
}

func (s *ConfigTestSuite) TestLoadInvalidValueFailure() {
	s.T().Setenv("SCRAPER_CACHE_MAX_SIZE", "0")
	_, err := Load()
	assert.ErrorContains(s.T(), err, "CACHE_MAX_SIZE")
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Host:              "localhost",
			Port:              8000,
			GitHubBaseURL:     "https://api.github.com",
			UserAgent:         "ua",
			RequestTimeout:    time.Second,
			DefaultMaxRepos:   100,
			DetailConcurrency: 10,
			ReadmeTruncate:    1000,
			CacheTTL:          time.Hour,
			CacheMaxSize:      10,
			JobRetention:      time.Hour,
			CleanupInterval:   time.Minute,
			OutputDir:         "out",
			LogLevel:          "info",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Port = 0 }, "port"},
		{"timeout", func(c *Config) { c.RequestTimeout = 0 }, "REQUEST_TIMEOUT"},
		{"negative delay", func(c *Config) { c.RequestDelay = -time.Second }, "REQUEST_DELAY"},
		{"interval", func(c *Config) { c.CleanupInterval = 0 }, "CLEANUP_INTERVAL"},
		{"concurrency", func(c *Config) { c.DetailConcurrency = 0 }, "DETAIL_CONCURRENCY"},
		{"max repos ceiling", func(c *Config) { c.DefaultMaxRepos = 501 }, "DEFAULT_MAX_REPOS"},
		{"retries", func(c *Config) { c.MaxRetries = -1 }, "MAX_RETRIES"},
		{"base url", func(c *Config) { c.GitHubBaseURL = "::nope" }, "GITHUB_API_BASE_URL"},
		{"user agent", func(c *Config) { c.UserAgent = " " }, "USER_AGENT"},
		{"output dir", func(c *Config) { c.OutputDir = "" }, "OUTPUT_DIR"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"log level case", func(c *Config) { c.LogLevel = "WARN" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
