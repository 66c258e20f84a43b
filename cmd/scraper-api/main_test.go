package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-scraper/internal/config"
	"github.com/Sternrassler/github-scraper/internal/testutil"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		Host:              "127.0.0.1",
		Port:              0,
		GitHubBaseURL:     baseURL,
		UserAgent:         "scraper-api-test",
		RequestTimeout:    5 * time.Second,
		RequestDelay:      time.Millisecond,
		MaxRetries:        0,
		DefaultMaxRepos:   100,
		DetailConcurrency: 4,
		ReadmeTruncate:    1000,
		CacheTTL:          time.Hour,
		CacheMaxSize:      100,
		JobRetention:      time.Hour,
		CleanupInterval:   time.Hour,
		OutputDir:         filepath.Join(t.TempDir(), "exports"),
		LogLevel:          "error",
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out.String(), "scraper-api "+version) {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestServeCommandRegistered(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("serve command not found: %v", err)
	}
	if cmd.Flags().Lookup("port") == nil {
		t.Error("serve command has no --port flag")
	}
}

func TestNewApp_ServesHealth(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.AddUser("octocat", testutil.GenerateRepos(2, "Go")...)

	a, err := newApp(context.Background(), testConfig(t, mock.URL()))
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if a.redis != nil {
		t.Error("redis client created without REDIS_URL")
	}

	ts := httptest.NewServer(a.server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}

	resp2, err := http.Get(ts.URL + "/api/v1/scrape/profile/octocat")
	if err != nil {
		t.Fatalf("GET profile: %v", err)
	}
	data, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d: %s", resp2.StatusCode, data)
	}
	if a.results.Len() != 1 {
		t.Errorf("result cache size = %d, want 1", a.results.Len())
	}
}

func TestNewApp_BadRedisURL(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.RedisURL = "not-a-url"
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestAppRun_StopsOnCancel(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t, "http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	a.results.Set("k", "v")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
	if a.results.Len() != 0 {
		t.Error("result cache not cleared on shutdown")
	}
}
