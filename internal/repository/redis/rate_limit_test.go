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

func TestRateLimitRepository_CountsAttemptsInsideWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "rl", TTL: time.Hour})

	ctx := context.Background()
	now := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-90 * time.Second, -30 * time.Second, -10 * time.Second, -10 * time.Second} {
		if err := repo.RecordAttempt(ctx, "login:10.0.0.1", now.Add(offset)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "login:10.0.0.1", time.Minute, now)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts in window (duplicates included), got %d", count)
	}

	if ttl := server.TTL("rl:login:10.0.0.1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl within (0, 1h], got %v", ttl)
	}
}

func TestRateLimitRepository_TrimAndOldest(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "rl"})

	ctx := context.Background()
	now := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	oldest := now.Add(-45 * time.Second)

	_ = repo.RecordAttempt(ctx, "refresh:ip", now.Add(-5*time.Minute))
	_ = repo.RecordAttempt(ctx, "refresh:ip", oldest)
	_ = repo.RecordAttempt(ctx, "refresh:ip", now.Add(-5*time.Second))

	if err := repo.TrimWindow(ctx, "refresh:ip", time.Minute, now); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	total, err := client.ZCard(ctx, "rl:refresh:ip").Result()
	if err != nil {
		t.Fatalf("ZCard returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected expired attempt to be trimmed, %d remain", total)
	}

	got, ok, err := repo.OldestAttempt(ctx, "refresh:ip", time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("OldestAttempt returned ok=%v err=%v", ok, err)
	}
	if diff := got.Sub(oldest); diff > time.Microsecond || diff < -time.Microsecond {
		t.Fatalf("expected oldest %v, got %v", oldest, got)
	}
}

func TestRateLimitRepository_RejectsNonPositiveWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.CountAttempts(context.Background(), "x", 0, time.Now()); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if _, ok, err := repo.OldestAttempt(context.Background(), "x", time.Minute, time.Now()); err != nil || ok {
		t.Fatalf("expected empty result for unknown key, ok=%v err=%v", ok, err)
	}
}
