package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/metrics"
	"github.com/Harsh-BH/warden/internal/queue"
	"github.com/Harsh-BH/warden/internal/repository"
)

const (
	maxSourceCodeSize = 1 << 20 // 1 MB

	enqueueFailedMsg = "failed to enqueue job"
)

// SubmitJobUsecase validates a submission, records it as PENDING and hands it
// to the work queue. It never waits for execution.
type SubmitJobUsecase struct {
	store     repository.JobResultStore
	publisher queue.Publisher
	languages *language.Registry
	logger    *zap.Logger
}

// NewSubmitJobUsecase creates a new SubmitJobUsecase.
func NewSubmitJobUsecase(store repository.JobResultStore, pub queue.Publisher, languages *language.Registry, logger *zap.Logger) *SubmitJobUsecase {
	return &SubmitJobUsecase{
		store:     store,
		publisher: pub,
		languages: languages,
		logger:    logger,
	}
}

// Execute validates the submission, creates the PENDING record, publishes the
// job and returns its id. Validation failures create no record.
func (uc *SubmitJobUsecase) Execute(ctx context.Context, req *domain.SubmitRequest) (*domain.SubmitResponse, error) {
	if err := uc.validate(req); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(req.Language), "rejected").Inc()
		return nil, err
	}

	// UUIDv7 keeps ids time-ordered.
	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate UUIDv7: %w", err)
	}

	if err := uc.store.EnsurePending(ctx, jobID, req.Language); err != nil {
		uc.logger.Error("Failed to create job record", zap.Error(err), zap.String("job_id", jobID.String()))
		metrics.SubmissionsTotal.WithLabelValues(string(req.Language), "store_error").Inc()
		return nil, fmt.Errorf("create job record: %w", err)
	}

	job := &domain.Job{
		JobID:       jobID,
		Language:    req.Language,
		SourceCode:  req.SourceCode,
		Stdin:       req.Stdin,
		SubmittedAt: time.Now().UTC(),
	}

	if err := uc.publisher.Publish(ctx, job); err != nil {
		uc.logger.Error("Failed to publish job to queue", zap.Error(err), zap.String("job_id", jobID.String()))
		metrics.SubmissionsTotal.WithLabelValues(string(req.Language), "enqueue_failed").Inc()

		// Nothing will ever pick this job up, so settle it now.
		failed := &domain.JobResult{
			JobID:    jobID,
			Language: req.Language,
			Status:   domain.StatusFailed,
			Stderr:   enqueueFailedMsg,
			Error:    enqueueFailedMsg,
		}
		if err := uc.store.Complete(context.WithoutCancel(ctx), failed); err != nil {
			uc.logger.Error("Failed to mark unqueued job as failed", zap.Error(err), zap.String("job_id", jobID.String()))
		}
		return nil, domain.ErrPublishFailed
	}

	metrics.SubmissionsTotal.WithLabelValues(string(req.Language), "accepted").Inc()
	uc.logger.Info("Job submitted successfully",
		zap.String("job_id", jobID.String()),
		zap.String("language", string(req.Language)),
		zap.Int("code_size", len(req.SourceCode)),
	)

	return &domain.SubmitResponse{
		JobID:  jobID,
		Status: string(domain.StatusPending),
	}, nil
}

func (uc *SubmitJobUsecase) validate(req *domain.SubmitRequest) error {
	if !uc.languages.IsSupported(req.Language) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidLanguage, req.Language)
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return domain.ErrEmptySourceCode
	}
	if len(req.SourceCode) > maxSourceCodeSize {
		return domain.ErrPayloadTooLarge
	}
	return nil
}
