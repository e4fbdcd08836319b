package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/repository"
)

// GetResultUsecase handles fetching job status and results.
type GetResultUsecase struct {
	store    repository.JobResultStore
	cache    repository.ResultCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewGetResultUsecase creates a new GetResultUsecase. cache may be nil.
func NewGetResultUsecase(store repository.JobResultStore, cache repository.ResultCache, cacheTTL time.Duration, logger *zap.Logger) *GetResultUsecase {
	return &GetResultUsecase{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Execute returns the result for id, or domain.ErrJobNotFound. Only terminal
// results are cached since a PENDING record is about to change.
func (uc *GetResultUsecase) Execute(ctx context.Context, id uuid.UUID) (*domain.JobResult, error) {
	if uc.cache != nil {
		cached, err := uc.cache.Get(ctx, id)
		if err != nil {
			uc.logger.Warn("Result cache read failed", zap.String("job_id", id.String()), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	res, err := uc.store.Get(ctx, id)
	if err != nil {
		uc.logger.Debug("Job lookup failed", zap.String("job_id", id.String()), zap.Error(err))
		return nil, err
	}

	if uc.cache != nil && res.Status.IsTerminal() {
		if err := uc.cache.Set(ctx, res, uc.cacheTTL); err != nil {
			uc.logger.Warn("Result cache write failed", zap.String("job_id", id.String()), zap.Error(err))
		}
	}
	return res, nil
}
