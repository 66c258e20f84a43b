// Package metrics exposes the Prometheus registry and scrape handler for the
// scraper service. Metrics themselves are declared with promauto in the
// packages that own them (cache, jobs, github, ratelimit, scraper, runner,
// notify, reaper, api).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics end up in.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer served on /metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache (pkg/cache):
//   - scraper_cache_hits_total{store} (Counter)
//   - scraper_cache_misses_total{store} (Counter)
//   - scraper_cache_evictions_total{store} (Counter): LRU evictions
//   - scraper_cache_expirations_total{store, reason} (Counter): reason lazy|sweep
//   - scraper_cache_entries{store} (Gauge)
//
// Jobs (pkg/jobs):
//   - scraper_jobs_created_total (Counter)
//   - scraper_jobs_finished_total{status} (Counter)
//   - scraper_jobs_active (Gauge): pending + running
//   - scraper_jobs_reaped_total (Counter)
//
// GitHub client (pkg/github):
//   - scraper_github_requests_total{endpoint, status} (Counter)
//   - scraper_github_request_duration_seconds{endpoint} (Histogram)
//   - scraper_github_errors_total{class} (Counter)
//   - scraper_github_retries_total{class} (Counter)
//   - scraper_github_not_modified_total (Counter)
//
// Rate limit (pkg/ratelimit):
//   - scraper_github_quota_remaining (Gauge)
//   - scraper_github_quota_blocks_total (Counter)
//   - scraper_github_quota_warnings_total (Counter)
//
// Orchestrator (pkg/scraper):
//   - scraper_pages_fetched_total (Counter)
//   - scraper_page_failures_total (Counter)
//   - scraper_readme_failures_total (Counter)
//   - scraper_detail_in_flight (Gauge)
//
// Runner (pkg/runner):
//   - scraper_job_duration_seconds{status} (Histogram)
//
// Webhooks (pkg/notify):
//   - scraper_webhook_deliveries_total{result} (Counter)
//
// Reaper (pkg/reaper):
//   - scraper_reaper_runs_total{result} (Counter)
//
// HTTP API (internal/api):
//   - scraper_http_requests_total{route, method, status} (Counter)
//   - scraper_http_request_duration_seconds{route} (Histogram)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(scraper_cache_hits_total[5m])) /
//   (sum(rate(scraper_cache_hits_total[5m])) + sum(rate(scraper_cache_misses_total[5m])))
//
//   # Failed job ratio
//   rate(scraper_jobs_finished_total{status="failed"}[15m]) / rate(scraper_jobs_finished_total[15m])
//
//   # Upstream quota nearly exhausted
//   scraper_github_quota_remaining < 10
