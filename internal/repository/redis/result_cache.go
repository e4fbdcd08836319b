package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/repository"
)

var _ repository.ResultCache = (*resultCache)(nil)

const resultKeyPrefix = "warden:result:"

type resultCache struct {
	client goredis.Cmdable
}

// NewResultCache caches terminal JobResults as JSON strings.
func NewResultCache(client goredis.Cmdable) repository.ResultCache {
	return &resultCache{client: client}
}

func (c *resultCache) Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error) {
	data, err := c.client.Get(ctx, resultKeyPrefix+jobID.String()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get result: %w", err)
	}

	var res domain.JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("redis: decode result: %w", err)
	}
	return &res, nil
}

func (c *resultCache) Set(ctx context.Context, result *domain.JobResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: encode result: %w", err)
	}
	if err := c.client.Set(ctx, resultKeyPrefix+result.JobID.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set result: %w", err)
	}
	return nil
}

func (c *resultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
