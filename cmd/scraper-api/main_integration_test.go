//go:build integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/github-scraper/internal/testutil"
	"github.com/Sternrassler/github-scraper/pkg/ratelimit"
)

func setupTestRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return "redis://" + host + ":" + port.Port() + "/0", func() {
		redisC.Terminate(ctx)
	}
}

func TestNewApp_SharesQuotaThroughRedis(t *testing.T) {
	redisURL, cleanup := setupTestRedis(t)
	defer cleanup()

	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.AddUser("octocat")
	mock.SetRemaining(1234)

	cfg := testConfig(t, mock.URL())
	cfg.RedisURL = redisURL
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()
	if a.redis == nil {
		t.Fatal("expected redis client")
	}

	ts := httptest.NewServer(a.server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/scrape/profile/octocat?use_cache=false")
	if err != nil {
		t.Fatalf("GET profile: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	opts, _ := redis.ParseURL(redisURL)
	other := redis.NewClient(opts)
	defer other.Close()

	state, err := ratelimit.NewRedisStore(other).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state.Remaining != 1234 {
		t.Errorf("shared Remaining = %d, want 1234", state.Remaining)
	}
}
