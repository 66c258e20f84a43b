//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	return client, func() {
		client.Close()
		container.Terminate(ctx)
	}
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisStore(client)

	if _, err := store.Load(ctx); err != ErrNoState {
		t.Fatalf("Load() on empty redis error = %v, want ErrNoState", err)
	}

	reset := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	in := &State{
		Limit:      5000,
		Remaining:  4321,
		ResetAt:    reset,
		LastUpdate: time.Now().Truncate(time.Millisecond),
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out.Limit != 5000 || out.Remaining != 4321 {
		t.Errorf("state = %d/%d, want 4321/5000", out.Remaining, out.Limit)
	}
	if !out.ResetAt.Equal(reset) {
		t.Errorf("ResetAt = %v, want %v", out.ResetAt, reset)
	}
	if !out.LastUpdate.Equal(in.LastUpdate) {
		t.Errorf("LastUpdate = %v, want %v", out.LastUpdate, in.LastUpdate)
	}
	if !out.IsHealthy {
		t.Error("state with 4321 remaining should be healthy")
	}

	ttl, err := client.TTL(ctx, RedisKeyRemaining).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 10*time.Minute || ttl > 11*time.Minute+time.Second {
		t.Errorf("key ttl = %v, want about reset + 1m", ttl)
	}
}

func TestTracker_Integration_SharedState(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	writer := NewTracker(NewRedisStore(client), zerolog.Nop())
	reader := NewTracker(NewRedisStore(client), zerolog.Nop())

	h := quotaHeaders(60, 0, time.Now().Add(5*time.Minute))
	if err := writer.UpdateFromHeaders(ctx, h); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	allowed, wait, err := reader.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("second tracker should see the exhausted quota")
	}
	if wait <= 0 || wait > 5*time.Minute {
		t.Errorf("wait = %v, want (0, 5m]", wait)
	}
}
