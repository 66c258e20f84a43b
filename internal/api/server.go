// Package api exposes the scraper, job and export operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-scraper/pkg/cache"
	"github.com/Sternrassler/github-scraper/pkg/export"
	"github.com/Sternrassler/github-scraper/pkg/github"
	"github.com/Sternrassler/github-scraper/pkg/jobs"
	"github.com/Sternrassler/github-scraper/pkg/metrics"
	"github.com/Sternrassler/github-scraper/pkg/runner"
	"github.com/Sternrassler/github-scraper/pkg/scraper"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Deps are the services the API serves.
type Deps struct {
	Orchestrator *scraper.Orchestrator
	Runner       *runner.Runner
	Jobs         *jobs.Registry
	Exporter     *export.Exporter

	// Caches are reported by /cache/stats and emptied by DELETE /cache.
	// The first one is the result cache counted by /health.
	Caches []*cache.Store

	Version string
	Logger  zerolog.Logger
}

// Server is the HTTP front end.
type Server struct {
	deps    Deps
	logger  zerolog.Logger
	started time.Time
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Server{deps: deps, logger: deps.Logger, started: time.Now()}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)

		r.Route("/scrape", func(r chi.Router) {
			r.Get("/profile/{username}", s.handleScrapeProfile)
			r.Get("/repositories/{username}", s.handleScrapeRepositories)
			r.Get("/complete/{username}", s.handleScrapeComplete)
			r.Post("/async/{username}", s.handleScrapeAsync)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/stats", s.handleJobStats)
			r.Get("/{id}", s.handleGetJob)
			r.Delete("/{id}", s.handleDeleteJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})

		r.Get("/export/{id}/files", s.handleExportFiles)
		r.Get("/export/{id}/{format}", s.handleExport)
		r.Get("/download/{id}/{filename}", s.handleDownload)

		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
	})

	return r
}

// logRequests logs each request and records HTTP metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		ev := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", elapsed).
			Msg("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cacheSize := 0
	if len(s.deps.Caches) > 0 {
		cacheSize = s.deps.Caches[0].Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"version":     s.deps.Version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"cache_size":  cacheSize,
		"active_jobs": s.deps.Jobs.Stats().Active(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Jobs.Stats()
	entries := 0
	for _, c := range s.deps.Caches {
		entries += c.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs":     st.Total,
		"pending_jobs":   st.Pending,
		"running_jobs":   st.Running,
		"completed_jobs": st.Completed,
		"failed_jobs":    st.Failed,
		"cancelled_jobs": st.Cancelled,
		"cache_entries":  entries,
	})
}

type cacheReport struct {
	Name string `json:"name"`
	cache.Stats
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	reports := make([]cacheReport, 0, len(s.deps.Caches))
	for _, c := range s.deps.Caches {
		reports = append(reports, cacheReport{Name: c.Name(), Stats: c.Stats()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"caches": reports})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	cleared := 0
	for _, c := range s.deps.Caches {
		cleared += c.Clear()
	}
	s.logger.Info().Int("entries", cleared).Msg("cache cleared via api")
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "cache cleared",
		"cleared": cleared,
	})
}

// errorResponse is the body of every error answer.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

// writeFailure maps err onto a status code and error body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, scraper.ErrInvalidOptions),
		errors.Is(err, runner.ErrInvalidRequest),
		errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, export.ErrFileNotFound):
		return http.StatusNotFound, "file_not_found"
	case errors.Is(err, github.ErrNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, export.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, jobs.ErrPreconditionFailed):
		return http.StatusConflict, "job_finished"
	case errors.Is(err, runner.ErrNotCompleted):
		return http.StatusConflict, "job_not_completed"
	case errors.Is(err, github.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, runner.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case github.ClassOf(err) != "":
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be a boolean")
	}
	return v, nil
}

// queryInt parses an optional integer query parameter within [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, errors.New(name + " must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return v, nil
}
