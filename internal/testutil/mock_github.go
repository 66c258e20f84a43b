// Package testutil provides a fake GitHub REST API for tests.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRepo is a repository served by MockGitHub.
type MockRepo struct {
	Name     string
	Language string
	Stars    int
	Forks    int
	Readme   string // empty means the README endpoint returns 404
}

// MockGitHub is a configurable fake of the GitHub endpoints the scraper uses:
// /users/{u}, /users/{u}/repos and /repos/{u}/{r}/readme. Unregistered users
// answer 404. Per-path handlers override the built-in routing.
type MockGitHub struct {
	server *httptest.Server

	mu           sync.RWMutex
	handlers     map[string]http.HandlerFunc
	users        map[string][]MockRepo
	pathCounts   map[string]int
	requestCount int
	conditional  int
	lastHeader   http.Header
	remaining    int
}

// NewMockGitHub starts a fake GitHub server.
func NewMockGitHub() *MockGitHub {
	m := &MockGitHub{
		handlers:   make(map[string]http.HandlerFunc),
		users:      make(map[string][]MockRepo),
		pathCounts: make(map[string]int),
		remaining:  4999,
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requestCount++
		m.pathCounts[r.URL.Path]++
		m.lastHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			m.conditional++
		}
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if ok {
			handler(w, r)
			return
		}
		m.route(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// AddUser registers a user and their repositories, in listing order.
func (m *MockGitHub) AddUser(login string, repos ...MockRepo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[login] = append([]MockRepo{}, repos...)
}

// GenerateRepos builds n repositories named repo-000.. with a README each.
func GenerateRepos(n int, language string) []MockRepo {
	repos := make([]MockRepo, n)
	for i := range repos {
		repos[i] = MockRepo{
			Name:     fmt.Sprintf("repo-%03d", i),
			Language: language,
			Stars:    i,
			Forks:    1,
			Readme:   fmt.Sprintf("# repo-%03d\n", i),
		}
	}
	return repos
}

// SetHandler overrides the handler for an exact path.
func (m *MockGitHub) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for an exact path.
func (m *MockGitHub) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetRemaining sets the X-RateLimit-Remaining value of routed responses.
func (m *MockGitHub) SetRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// RequestCount returns the number of requests received.
func (m *MockGitHub) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests received for an exact path.
func (m *MockGitHub) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// ConditionalCount returns the number of requests carrying validators.
func (m *MockGitHub) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditional
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockGitHub) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

func (m *MockGitHub) route(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	remaining := m.remaining
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "users":
		m.serveUser(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "users" && parts[2] == "repos":
		m.serveRepos(w, r, parts[1])
	case len(parts) == 4 && parts[0] == "repos" && parts[3] == "readme":
		m.serveReadme(w, parts[1], parts[2])
	default:
		writeNotFound(w)
	}
}

func (m *MockGitHub) serveUser(w http.ResponseWriter, r *http.Request, login string) {
	m.mu.RLock()
	repos, ok := m.users[login]
	m.mu.RUnlock()
	if !ok {
		writeNotFound(w)
		return
	}

	etag := fmt.Sprintf(`"user-%s"`, login)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"login":        login,
		"name":         strings.ToUpper(login[:1]) + login[1:],
		"bio":          nil,
		"public_repos": len(repos),
		"followers":    42,
		"following":    7,
		"created_at":   "2015-04-01T10:00:00Z",
		"html_url":     "https://github.com/" + login,
	})
}

func (m *MockGitHub) serveRepos(w http.ResponseWriter, r *http.Request, login string) {
	m.mu.RLock()
	repos, ok := m.users[login]
	m.mu.RUnlock()
	if !ok {
		writeNotFound(w)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 30
	}

	start := (page - 1) * perPage
	out := make([]map[string]any, 0, perPage)
	for i := start; i < len(repos) && i < start+perPage; i++ {
		repo := repos[i]
		var lang any
		if repo.Language != "" {
			lang = repo.Language
		}
		out = append(out, map[string]any{
			"name":              repo.Name,
			"full_name":         login + "/" + repo.Name,
			"html_url":          "https://github.com/" + login + "/" + repo.Name,
			"clone_url":         "https://github.com/" + login + "/" + repo.Name + ".git",
			"language":          lang,
			"stargazers_count":  repo.Stars,
			"forks_count":       repo.Forks,
			"watchers_count":    repo.Stars,
			"open_issues_count": 0,
			"default_branch":    "main",
			"topics":            []string{},
			"fork":              false,
			"archived":          false,
		})
	}
	json.NewEncoder(w).Encode(out)
}

func (m *MockGitHub) serveReadme(w http.ResponseWriter, owner, name string) {
	m.mu.RLock()
	repos := m.users[owner]
	m.mu.RUnlock()

	for _, repo := range repos {
		if repo.Name != name {
			continue
		}
		if repo.Readme == "" {
			break
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":     "README.md",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(repo.Readme)),
		})
		return
	}
	writeNotFound(w)
}

func writeNotFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"message":"Not Found","documentation_url":"https://docs.github.com/rest"}`))
}

// NewRateLimitResponse creates a 403 response with an exhausted quota.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message":"API rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "60",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10),
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewForbiddenResponse creates a 403 response unrelated to the quota.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message":"Repository access blocked"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "4000",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 502 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       `{"message":"Server Error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
