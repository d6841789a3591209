package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, "test", 2, 1)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, err := bucket.Allow(ctx, "reporter@example.com")
		if err != nil || !allowed {
			t.Fatalf("expected token %d allowed got allowed=%v err=%v", i+1, allowed, err)
		}
	}
	allowed, err := bucket.Allow(ctx, "reporter@example.com")
	if err != nil || allowed {
		t.Fatalf("expected third token to be rejected, allowed=%v err=%v", allowed, err)
	}
	if allowed, _ := bucket.Allow(ctx, "someone-else"); !allowed {
		t.Fatalf("buckets must be per key")
	}

	// The script takes time from the caller, so advancing the injected clock refills.
	now = now.Add(1500 * time.Millisecond)
	if allowed, _ := bucket.Allow(ctx, "reporter@example.com"); !allowed {
		t.Fatalf("expected a token after refill")
	}
	if allowed, _ := bucket.Allow(ctx, "reporter@example.com"); allowed {
		t.Fatalf("expected only one token to have refilled")
	}
	if ttl := mr.TTL("test:ratelimit:reporter@example.com"); ttl <= 0 {
		t.Fatalf("expected bucket key to expire, ttl=%v", ttl)
	}
}

func TestLocalBucket(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(3, 0.5)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "amal"); !ok {
			t.Fatalf("expected token %d allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "amal"); ok {
		t.Fatalf("expected bucket to be empty")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := l.Allow(ctx, "amal"); !ok {
		t.Fatalf("expected one token after two seconds at 0.5/s")
	}
	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "amal"); !ok {
			t.Fatalf("expected refill capped at capacity, token %d refused", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "amal"); ok {
		t.Fatalf("refill must not exceed capacity")
	}
}

func TestLocalPrunesIdleKeys(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(1, 1)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow(ctx, "amal"); !ok {
		t.Fatalf("expected first request allowed")
	}
	if ok, _ := l.Allow(ctx, "amal"); ok {
		t.Fatalf("expected burst of one")
	}
	now = now.Add(2 * time.Hour)
	if ok, _ := l.Allow(ctx, "bala"); !ok {
		t.Fatalf("expected a new key to be allowed")
	}
	if _, ok := l.limiters["amal"]; ok {
		t.Fatalf("expected idle limiter to be pruned")
	}
	if len(l.limiters) != 1 {
		t.Fatalf("expected one live limiter, got %d", len(l.limiters))
	}
}
