package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoState is returned by a StateStore that has never been written.
var ErrNoState = errors.New("no rate limit state")

// StateStore persists the last observed quota.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps quota state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil, ErrNoState
	}
	s := *m.state
	return &s, nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *state
	m.state = &s
	return nil
}

// RedisStore shares quota state between service instances that use the same
// token.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Load reads the state written by Save.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	vals, err := r.client.MGet(ctx, RedisKeyLimit, RedisKeyRemaining, RedisKeyResetAt, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	if vals[1] == nil {
		return nil, ErrNoState
	}

	ints := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redis value type %T", v)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse rate limit state: %w", err)
		}
		ints[i] = n
	}

	state := &State{
		Limit:      int(ints[0]),
		Remaining:  int(ints[1]),
		ResetAt:    time.Unix(ints[2], 0),
		LastUpdate: time.UnixMilli(ints[3]),
	}
	state.UpdateHealth()
	return state, nil
}

// Save writes all fields in one pipeline. Keys expire one minute after the
// window resets so a stale exhausted state cannot outlive its window.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	ttl := time.Until(state.ResetAt) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, RedisKeyLimit, state.Limit, ttl)
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, ttl)
	pipe.Set(ctx, RedisKeyResetAt, state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate.UnixMilli(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
