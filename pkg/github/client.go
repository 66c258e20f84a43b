// Package github provides the GitHub REST v3 client used by the scraper:
// quota-aware request gating, a process-wide request-rate ceiling, ETag
// revalidation, retries for transient failures and error classification.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/github-scraper/pkg/cache"
	"github.com/Sternrassler/github-scraper/pkg/ratelimit"
)

// Prometheus metrics for GitHub client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_github_requests_total",
		Help: "Total GitHub requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scraper_github_request_duration_seconds",
		Help:    "GitHub request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_github_errors_total",
		Help: "Total GitHub errors by class",
	}, []string{"class"})

	notModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_github_not_modified_total",
		Help: "Total number of 304 Not Modified responses served from validators",
	})
)

// Endpoint templates, also used as metric labels.
const (
	endpointUser   = "/users/{username}"
	endpointRepos  = "/users/{username}/repos"
	endpointReadme = "/repos/{owner}/{repo}/readme"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// Config holds the client configuration.
type Config struct {
	// BaseURL of the REST API (default https://api.github.com).
	BaseURL string

	// Token is an optional personal access token; it raises the quota from
	// 60 to 5000 requests per hour.
	Token string

	// UserAgent header (GitHub rejects requests without one).
	UserAgent string

	// RequestTimeout bounds a single HTTP exchange.
	RequestTimeout time.Duration

	// RequestsPerSecond is the process-wide request-rate ceiling. Zero disables it.
	RequestsPerSecond float64

	// Burst allowed above RequestsPerSecond.
	Burst int

	// Retry configures retries of transient (5xx, network) failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		UserAgent:         "github-scraper/1.0",
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		Retry:             DefaultRetryConfig(),
	}
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTracker enables quota gating through a shared tracker.
func WithTracker(t *ratelimit.Tracker) Option {
	return func(c *Client) {
		c.tracker = t
	}
}

// WithValidatorCache enables ETag revalidation backed by store.
func WithValidatorCache(store *cache.Store) Option {
	return func(c *Client) {
		c.validators = store
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to the GitHub REST API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	limiter    *rate.Limiter
	tracker    *ratelimit.Tracker
	validators *cache.Store
	logger     zerolog.Logger
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		return nil, errors.New("user-agent is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive (got %s)", cfg.RequestTimeout)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must not be negative (got %v)", cfg.RequestsPerSecond)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    base,
		config:     cfg,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     log.With().Str("component", "github-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchProfile returns the public profile of username.
func (c *Client) FetchProfile(ctx context.Context, username string) (*Profile, error) {
	body, err := c.get(ctx, endpointUser, "/users/"+username, nil)
	if err != nil {
		return nil, err
	}

	var u apiUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, c.decodeError(endpointUser, err)
	}
	return u.toProfile(), nil
}

// FetchRepoPage returns one page of username's repositories, most recently
// updated first. Pages are 1-based.
func (c *Client) FetchRepoPage(ctx context.Context, username string, page, perPage int) ([]Repository, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("sort", "updated")

	body, err := c.get(ctx, endpointRepos, "/users/"+username+"/repos", q)
	if err != nil {
		return nil, err
	}

	var raw []apiRepo
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.decodeError(endpointRepos, err)
	}
	repos := make([]Repository, 0, len(raw))
	for _, r := range raw {
		repos = append(repos, r.toRepository())
	}
	return repos, nil
}

// FetchReadme returns the decoded README of owner/repo.
func (c *Client) FetchReadme(ctx context.Context, owner, repo string) (string, error) {
	path := "/repos/" + owner + "/" + repo + "/readme"
	body, err := c.get(ctx, endpointReadme, path, nil)
	if err != nil {
		return "", err
	}

	var r apiReadme
	if err := json.Unmarshal(body, &r); err != nil {
		return "", c.decodeError(endpointReadme, err)
	}
	if r.Encoding != "" && r.Encoding != "base64" {
		return "", c.decodeError(endpointReadme, fmt.Errorf("unsupported encoding %q", r.Encoding))
	}
	// base64.StdEncoding skips the line breaks GitHub inserts
	content, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return "", c.decodeError(endpointReadme, err)
	}
	return string(content), nil
}

func (c *Client) decodeError(endpoint string, err error) error {
	errorsTotal.WithLabelValues(string(ErrorClassValidation)).Inc()
	return &APIError{Class: ErrorClassValidation, Endpoint: endpoint, Err: err}
}

// get performs a GET with quota gating, rate limiting, revalidation and
// retries, and returns the response body of a 200 (or the revalidated body
// of a 304).
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	// path segments are unescaped; url.URL escapes them on String
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	target := u.String()

	if c.tracker != nil {
		allowed, wait, err := c.tracker.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("rate limit check failed, sending request anyway")
		} else if !allowed {
			errorsTotal.WithLabelValues(string(ErrorClassRateLimited)).Inc()
			requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, &APIError{
				Class:    ErrorClassRateLimited,
				Endpoint: endpoint,
				Message:  fmt.Sprintf("quota exhausted, resets in %s", wait.Round(time.Second)),
			}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		class := ErrorClassTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			class = ErrorClassNetwork
		}
		return nil, &APIError{Class: class, Endpoint: endpoint, Err: err}
	}

	var body []byte
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		body, attemptErr = c.do(ctx, endpoint, target)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single HTTP exchange.
func (c *Client) do(ctx context.Context, endpoint, target string) ([]byte, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &APIError{Class: ErrorClassClient, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	var validator *cache.Validator
	if c.validators != nil {
		if v, ok := cache.Lookup[*cache.Validator](c.validators, target); ok && v.CanRevalidate() {
			validator = v
			validator.Apply(req)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := classifyTransport(err)
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(endpoint, string(class)).Inc()
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Str("error_class", string(class)).Msg("request failed")
		return nil, &APIError{Class: class, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("failed to update rate limit from headers")
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && validator != nil:
		notModifiedTotal.Inc()
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using stored body")
		return validator.Body, nil

	case resp.StatusCode == http.StatusOK:
		if c.validators != nil {
			v, err := cache.ValidatorFromResponse(resp)
			if err != nil {
				return nil, &APIError{Class: classifyTransport(err), Endpoint: endpoint, Err: err}
			}
			if v.CanRevalidate() {
				c.validators.SetWithTTL(target, v, cache.ValidatorTTL)
			}
			return v.Body, nil
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{Class: classifyTransport(err), Endpoint: endpoint, Err: err}
		}
		return body, nil
	}

	class := classifyStatus(resp)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		class = ErrorClassValidation
	}
	errorsTotal.WithLabelValues(string(class)).Inc()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Endpoint:   endpoint,
		Message:    upstreamMessage(resp),
	}
	event := c.logger.Debug()
	if class == ErrorClassRateLimited || class == ErrorClassForbidden || class == ErrorClassServer {
		event = c.logger.Warn()
	}
	event.
		Str("endpoint", endpoint).
		Int("status_code", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("GitHub request error")
	return nil, apiErr
}

// upstreamMessage extracts the "message" field of a GitHub error body.
func upstreamMessage(resp *http.Response) string {
	var payload struct {
		Message string `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return resp.Status
}
