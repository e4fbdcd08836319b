package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/metrics"
	"github.com/Harsh-BH/warden/internal/repository"
	"github.com/Harsh-BH/warden/internal/sandbox"
)

var (
	// ErrInterrupted is returned when the worker is shutting down mid-job. The
	// job is left PENDING and the message should be requeued.
	ErrInterrupted = errors.New("execution interrupted by shutdown")

	// ErrInFlight is returned when another holder owns the in-flight lock and
	// the record is not terminal yet. The holder may have crashed, so the
	// message is requeued rather than dropped; the lock TTL bounds the wait.
	ErrInFlight = errors.New("job in flight on another worker")
)

// lockReleaseTimeout bounds the lock release, which runs on a fresh context.
const lockReleaseTimeout = 5 * time.Second

// ExecuteJobUsecase orchestrates the full job execution pipeline.
type ExecuteJobUsecase struct {
	store      repository.JobResultStore
	idempotent repository.IdempotencyStore
	executor   repository.Executor
	timeout    time.Duration
	logger     *zap.Logger
}

// NewExecuteJobUsecase creates a new ExecuteJobUsecase. timeout is the sandbox
// wall-clock limit and only shapes the timeout message.
func NewExecuteJobUsecase(
	store repository.JobResultStore,
	idempotent repository.IdempotencyStore,
	exec repository.Executor,
	timeout time.Duration,
	logger *zap.Logger,
) *ExecuteJobUsecase {
	return &ExecuteJobUsecase{
		store:      store,
		idempotent: idempotent,
		executor:   exec,
		timeout:    timeout,
		logger:     logger,
	}
}

// Execute processes a single job: in-flight lock → PENDING record → sandbox
// run → terminal result → lock release. Returns (isDuplicate, error).
//
// A non-nil error means the message should not be acked. ErrInterrupted and
// ErrInFlight mean it should be requeued; anything else goes to the
// dead-letter queue after a FAILED record is written.
func (uc *ExecuteJobUsecase) Execute(ctx context.Context, job *domain.Job) (bool, error) {
	log := uc.logger.With(zap.String("job_id", job.JobID.String()))

	// Step 1: in-flight lock
	acquired, err := uc.idempotent.AcquireLock(ctx, job.JobID)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		log.Error("Failed to acquire in-flight lock", zap.Error(err))
		return false, uc.recordInfraFailure(ctx, job, "lock", err, log)
	}
	if !acquired {
		return uc.lockHeld(ctx, job, log)
	}
	defer uc.releaseLock(job, log)

	// Step 2: make sure there is a record to complete
	if err := uc.store.EnsurePending(ctx, job.JobID, job.Language); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		log.Error("Failed to ensure pending record", zap.Error(err))
		return false, uc.recordInfraFailure(ctx, job, "store", err, log)
	}

	// Step 3: execute in sandbox
	result, err := uc.executor.Execute(ctx, &domain.ExecutionRequest{
		JobID:      job.JobID,
		Language:   job.Language,
		SourceCode: job.SourceCode,
		Stdin:      job.Stdin,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Execution interrupted, leaving job pending", zap.Error(err))
			return false, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return false, uc.recordFailure(ctx, job, err, log)
	}

	// Step 4: store the terminal result
	status := domain.StatusCompleted
	if result.ExitCode != 0 {
		status = domain.StatusFailed
	}
	exitCode, timeUsed := result.ExitCode, result.TimeUsedMs
	if err := uc.store.Complete(ctx, &domain.JobResult{
		JobID:      job.JobID,
		Language:   job.Language,
		Status:     status,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitCode:   &exitCode,
		TimeUsedMs: &timeUsed,
	}); err != nil {
		log.Error("Failed to store result", zap.Error(err))
		return false, err
	}

	metrics.ExecutionsTotal.WithLabelValues(string(job.Language), string(status)).Inc()
	log.Info("Job executed",
		zap.String("status", string(status)),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("time_ms", result.TimeUsedMs),
		zap.Bool("oom_killed", result.OOMKilled),
	)

	return false, nil
}

// recordFailure writes a FAILED record for a sandbox error and returns the
// original error so the message is dead-lettered.
func (uc *ExecuteJobUsecase) recordFailure(ctx context.Context, job *domain.Job, execErr error, log *zap.Logger) error {
	msg, reason := uc.describeFailure(execErr)
	metrics.SandboxFailures.WithLabelValues(reason).Inc()
	metrics.ExecutionsTotal.WithLabelValues(string(job.Language), string(domain.StatusFailed)).Inc()

	log.Error("Sandbox execution failed", zap.String("reason", reason), zap.Error(execErr))

	if err := uc.store.Complete(ctx, &domain.JobResult{
		JobID:    job.JobID,
		Language: job.Language,
		Status:   domain.StatusFailed,
		Stderr:   msg,
		Error:    msg,
	}); err != nil {
		log.Error("Failed to record sandbox failure", zap.Error(err))
	}
	return execErr
}

// lockHeld decides what to do with a message whose lock someone else holds.
// A terminal record means the other copy finished: skip it as a duplicate.
// Anything else may be an orphaned lock from a crashed worker.
func (uc *ExecuteJobUsecase) lockHeld(ctx context.Context, job *domain.Job, log *zap.Logger) (bool, error) {
	res, err := uc.store.Get(ctx, job.JobID)
	switch {
	case err == nil && res.Status.IsTerminal():
		log.Info("Job already completed by another worker, skipping",
			zap.String("status", string(res.Status)),
		)
		return true, nil
	case err != nil && !errors.Is(err, domain.ErrJobNotFound):
		log.Warn("Failed to read record for locked job", zap.Error(err))
	}
	log.Info("Job locked by another worker and not finished, requeueing")
	return false, ErrInFlight
}

// recordInfraFailure writes a FAILED record for an error raised before the
// sandbox ran. The write uses a context detached from cancellation so a
// slow failure still lands.
func (uc *ExecuteJobUsecase) recordInfraFailure(ctx context.Context, job *domain.Job, reason string, cause error, log *zap.Logger) error {
	msg := fmt.Sprintf("Execution failed: %v", cause)
	metrics.SandboxFailures.WithLabelValues(reason).Inc()
	metrics.ExecutionsTotal.WithLabelValues(string(job.Language), string(domain.StatusFailed)).Inc()

	if err := uc.store.Complete(context.WithoutCancel(ctx), &domain.JobResult{
		JobID:    job.JobID,
		Language: job.Language,
		Status:   domain.StatusFailed,
		Stderr:   msg,
		Error:    msg,
	}); err != nil {
		log.Error("Failed to record infrastructure failure", zap.Error(err))
	}
	return cause
}

func (uc *ExecuteJobUsecase) describeFailure(err error) (msg, reason string) {
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return fmt.Sprintf("Execution timed out after %s", uc.timeout), "timeout"
	case errors.Is(err, language.ErrUnsupported), errors.Is(err, language.ErrMissingPublicClass):
		return err.Error(), "invalid_source"
	default:
		return fmt.Sprintf("Execution failed: %v", err), "error"
	}
}

func (uc *ExecuteJobUsecase) releaseLock(job *domain.Job, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer cancel()
	if err := uc.idempotent.ReleaseLock(ctx, job.JobID); err != nil {
		log.Warn("Failed to release in-flight lock", zap.Error(err))
	}
}
