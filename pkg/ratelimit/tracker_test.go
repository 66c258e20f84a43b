package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(now time.Time) (*Tracker, *MemoryStore) {
	store := NewMemoryStore()
	tr := NewTracker(store, zerolog.Nop())
	tr.now = func() time.Time { return now }
	return tr, store
}

func quotaHeaders(limit, remaining int, reset time.Time) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	return h
}

func TestUpdateFromHeaders_ValidHeaders(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		remaining   int
		wantHealthy bool
	}{
		{"healthy", 5000, 4990, true},
		{"low", 5000, 7, false},
		{"exhausted", 60, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tr, store := newTestTracker(refNow)
			reset := refNow.Add(30 * time.Minute).Truncate(time.Second)

			if err := tr.UpdateFromHeaders(ctx, quotaHeaders(tt.limit, tt.remaining, reset)); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			state, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if state.Limit != tt.limit || state.Remaining != tt.remaining {
				t.Errorf("state = %d/%d, want %d/%d", state.Remaining, state.Limit, tt.remaining, tt.limit)
			}
			if !state.ResetAt.Equal(reset) {
				t.Errorf("ResetAt = %v, want %v", state.ResetAt, reset)
			}
			if state.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestUpdateFromHeaders_MissingHeadersIgnored(t *testing.T) {
	ctx := context.Background()
	tr, store := newTestTracker(refNow)

	if err := tr.UpdateFromHeaders(ctx, http.Header{}); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	if _, err := store.Load(ctx); err != ErrNoState {
		t.Errorf("store should stay empty, Load() error = %v", err)
	}
}

func TestUpdateFromHeaders_InvalidHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
	}{
		{"remaining not a number", map[string]string{"X-RateLimit-Remaining": "abc"}},
		{"limit not a number", map[string]string{"X-RateLimit-Remaining": "5", "X-RateLimit-Limit": "x"}},
		{"reset not a number", map[string]string{"X-RateLimit-Remaining": "5", "X-RateLimit-Reset": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(refNow)
			h := http.Header{}
			for k, v := range tt.header {
				h.Set(k, v)
			}
			if err := tr.UpdateFromHeaders(context.Background(), h); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		reset     time.Time
		wantAllow bool
		wantWait  time.Duration
	}{
		{"healthy", 4000, refNow.Add(time.Hour), true, 0},
		{"low but not exhausted", 3, refNow.Add(time.Hour), true, 0},
		{"exhausted", 0, refNow.Add(2 * time.Minute), false, 2 * time.Minute},
		{"exhausted window already reset", 0, refNow.Add(-time.Second), true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tr, _ := newTestTracker(refNow)
			if err := tr.UpdateFromHeaders(ctx, quotaHeaders(5000, tt.remaining, tt.reset)); err != nil {
				t.Fatal(err)
			}

			allowed, wait, err := tr.ShouldAllowRequest(ctx)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.wantAllow {
				t.Errorf("allowed = %v, want %v", allowed, tt.wantAllow)
			}
			if wait != tt.wantWait {
				t.Errorf("wait = %v, want %v", wait, tt.wantWait)
			}
		})
	}
}

func TestShouldAllowRequest_NoStateYet(t *testing.T) {
	tr, _ := newTestTracker(refNow)
	allowed, _, err := tr.ShouldAllowRequest(context.Background())
	if err != nil || !allowed {
		t.Errorf("ShouldAllowRequest() = %v, %v; want true, nil", allowed, err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.Save(ctx, &State{Remaining: 10})

	s, _ := m.Load(ctx)
	s.Remaining = 0

	again, _ := m.Load(ctx)
	if again.Remaining != 10 {
		t.Errorf("stored state mutated through Load result: %d", again.Remaining)
	}
}
