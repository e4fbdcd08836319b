//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/warden/internal/domain"
)

// Run with: REDIS_URL=redis://localhost:6379/15 go test -tags integration ./internal/repository/redis/

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable, skipping integration test: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIdempotency_AcquireReleaseAcquire(t *testing.T) {
	store := NewIdempotencyStore(newTestClient(t), time.Minute)
	ctx := context.Background()
	id := uuid.New()

	ok, err := store.AcquireLock(ctx, id)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = store.AcquireLock(ctx, id)
	if err != nil || ok {
		t.Fatalf("second acquire should report duplicate: ok=%v err=%v", ok, err)
	}

	if err := store.ReleaseLock(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = store.AcquireLock(ctx, id)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	store.ReleaseLock(ctx, id)
}

func TestResultCache_RoundTripAndMiss(t *testing.T) {
	cache := NewResultCache(newTestClient(t))
	ctx := context.Background()

	miss, err := cache.Get(ctx, uuid.New())
	if err != nil || miss != nil {
		t.Fatalf("expected clean miss, got %v %v", miss, err)
	}

	code := 0
	want := &domain.JobResult{
		JobID:    uuid.New(),
		Language: domain.LangPython,
		Status:   domain.StatusCompleted,
		Stdout:   "2\n",
		ExitCode: &code,
	}
	if err := cache.Set(ctx, want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := cache.Get(ctx, want.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Stdout != "2\n" || got.Status != domain.StatusCompleted {
		t.Errorf("unexpected cached result: %+v", got)
	}
}
