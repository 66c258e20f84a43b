package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/Sternrassler/github-scraper/pkg/export"
	"github.com/Sternrassler/github-scraper/pkg/github"
	"github.com/Sternrassler/github-scraper/pkg/jobs"
	"github.com/Sternrassler/github-scraper/pkg/runner"
	"github.com/Sternrassler/github-scraper/pkg/scraper"
)

// Query bounds.
const (
	maxReposLimit = 500
	jobListLimit  = 1000
)

// GitHub logins: alphanumerics and single inner hyphens, at most 39 characters.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)

func usernameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := chi.URLParam(r, "username")
	if !usernamePattern.MatchString(username) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid GitHub username: "+username)
		return "", false
	}
	return username, true
}

type profileResponse struct {
	Success  bool            `json:"success"`
	Username string          `json:"username"`
	Profile  *github.Profile `json:"profile"`
	Cached   bool            `json:"cached"`
}

type repositoriesResponse struct {
	Success      bool                `json:"success"`
	Username     string              `json:"username"`
	TotalRepos   int                 `json:"total_repos"`
	Repositories []github.Repository `json:"repositories"`
	Cached       bool                `json:"cached"`
}

type completeResponse struct {
	Success bool `json:"success"`
	*scraper.Result
	Cached bool `json:"cached"`
}

type jobCreatedResponse struct {
	JobID     string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	Message   string      `json:"message"`
	StatusURL string      `json:"status_url"`
}

func (s *Server) handleScrapeProfile(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}
	useCache, err := queryBool(r, "use_cache", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		profile *github.Profile
		cached  bool
	)
	if useCache {
		profile, cached, err = s.deps.Orchestrator.ProfileCached(r.Context(), username)
	} else {
		profile, err = s.deps.Orchestrator.Profile(r.Context(), username)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Success: true, Username: username, Profile: profile, Cached: cached})
}

// scrapeOptions reads max_repos, include_readme and truncate_readme.
func scrapeOptions(r *http.Request) (scraper.Options, error) {
	opts := scraper.DefaultOptions()
	var err error
	if opts.MaxRepos, err = queryInt(r, "max_repos", 0, 1, maxReposLimit); err != nil {
		return opts, err
	}
	if opts.IncludeReadme, err = queryBool(r, "include_readme", opts.IncludeReadme); err != nil {
		return opts, err
	}
	if opts.TruncateReadme, err = queryBool(r, "truncate_readme", opts.TruncateReadme); err != nil {
		return opts, err
	}
	return opts, nil
}

func (s *Server) handleScrapeRepositories(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}
	opts, err := scrapeOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	useCache, err := queryBool(r, "use_cache", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		repos  []github.Repository
		cached bool
	)
	if useCache {
		repos, cached, err = s.deps.Orchestrator.RepositoriesCached(r.Context(), username, opts)
	} else {
		repos, err = s.deps.Orchestrator.Repositories(r.Context(), username, opts)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repositoriesResponse{
		Success:      true,
		Username:     username,
		TotalRepos:   len(repos),
		Repositories: repos,
		Cached:       cached,
	})
}

func (s *Server) handleScrapeComplete(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}
	opts, err := scrapeOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	useCache, err := queryBool(r, "use_cache", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		res    *scraper.Result
		cached bool
	)
	if useCache {
		res, cached, err = s.deps.Orchestrator.RunCached(r.Context(), username, opts)
	} else {
		res, err = s.deps.Orchestrator.Run(r.Context(), username, opts)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Success: true, Result: res, Cached: cached})
}

// asyncRequest is the optional body of POST /scrape/async/{username}.
type asyncRequest struct {
	MaxRepos       *int   `json:"max_repos"`
	IncludeReadme  *bool  `json:"include_readme"`
	TruncateReadme *bool  `json:"truncate_readme"`
	ExportFormat   string `json:"export_format"`
	WebhookURL     string `json:"webhook_url"`
	UseCache       *bool  `json:"use_cache"`
}

func (s *Server) handleScrapeAsync(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}

	var body asyncRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	req := runner.Request{
		Username:   username,
		Options:    scraper.DefaultOptions(),
		Format:     export.FormatJSON,
		WebhookURL: body.WebhookURL,
	}
	if body.MaxRepos != nil {
		if *body.MaxRepos < 1 || *body.MaxRepos > maxReposLimit {
			writeError(w, http.StatusBadRequest, "invalid_request", "max_repos must be between 1 and 500")
			return
		}
		req.Options.MaxRepos = *body.MaxRepos
	}
	if body.IncludeReadme != nil {
		req.Options.IncludeReadme = *body.IncludeReadme
	}
	if body.TruncateReadme != nil {
		req.Options.TruncateReadme = *body.TruncateReadme
	}
	if body.UseCache != nil {
		req.UseCache = *body.UseCache
	}
	if body.ExportFormat != "" {
		f, err := export.ParseFormat(body.ExportFormat)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		req.Format = f
	}

	id, err := s.deps.Runner.Submit(req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{
		JobID:     id,
		Status:    jobs.StatusPending,
		Message:   "scraping job started",
		StatusURL: "/api/v1/jobs/" + id,
	})
}
