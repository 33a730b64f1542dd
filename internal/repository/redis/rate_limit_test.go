package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestSlidingWindowStore_CountsOnlyWithinWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSlidingWindowStore(client, SlidingWindowConfig{KeyPrefix: "rl", TTL: time.Minute})

	ctx := context.Background()
	reference := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-90 * time.Second, -30 * time.Second, -10 * time.Second, -10 * time.Second} {
		if err := store.RecordAttempt(ctx, "auth:198.51.100.10", reference.Add(offset)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := store.CountAttempts(ctx, "auth:198.51.100.10", time.Minute, reference)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts in window (same-instant attempts kept apart), got %d", count)
	}

	oldest, ok, err := store.OldestAttempt(ctx, "auth:198.51.100.10", time.Minute, reference)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !ok || !oldest.Equal(reference.Add(-30*time.Second)) {
		t.Fatalf("unexpected oldest attempt %v (ok=%v)", oldest, ok)
	}
}

func TestSlidingWindowStore_TrimWindow(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewSlidingWindowStore(client, SlidingWindowConfig{KeyPrefix: "rl", TTL: time.Minute})

	ctx := context.Background()
	reference := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.RecordAttempt(ctx, "k", reference.Add(-2*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := store.RecordAttempt(ctx, "k", reference.Add(-time.Second)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	if err := store.TrimWindow(ctx, "k", time.Minute, reference); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	members, err := server.ZMembers("rl:k")
	if err != nil {
		t.Fatalf("ZMembers returned error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected one member after trim, got %d", len(members))
	}

	if ttl := server.TTL("rl:k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected key ttl to be set, got %v", ttl)
	}
}

func TestSlidingWindowStore_RejectsNonPositiveWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSlidingWindowStore(client, SlidingWindowConfig{})

	if _, err := store.CountAttempts(context.Background(), "k", 0, time.Now()); err == nil {
		t.Fatal("expected error for zero window")
	}
	if err := store.TrimWindow(context.Background(), "k", -time.Second, time.Now()); err == nil {
		t.Fatal("expected error for negative window")
	}
}

func TestSlidingWindowStore_OldestAttemptEmpty(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSlidingWindowStore(client, SlidingWindowConfig{KeyPrefix: "rl"})

	_, ok, err := store.OldestAttempt(context.Background(), "missing", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if ok {
		t.Fatal("expected no attempts")
	}
}
