package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/warden/internal/repository"
)

var _ repository.IdempotencyStore = (*redisIdempotency)(nil)

const lockKeyPrefix = "warden:lock:"

type redisIdempotency struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewIdempotencyStore creates a Redis-backed in-flight lock store. ttl bounds
// how long a crashed worker can block redelivery of its job.
func NewIdempotencyStore(client goredis.Cmdable, ttl time.Duration) repository.IdempotencyStore {
	return &redisIdempotency{client: client, ttl: ttl}
}

// AcquireLock uses Redis SETNX to atomically acquire a processing lock.
func (r *redisIdempotency) AcquireLock(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+jobID.String(), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock so a redelivered copy of the job runs again.
func (r *redisIdempotency) ReleaseLock(ctx context.Context, jobID uuid.UUID) error {
	if err := r.client.Del(ctx, lockKeyPrefix+jobID.String()).Err(); err != nil {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}
