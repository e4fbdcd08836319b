package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/warden/internal/domain"
)

// JobResultStore persists one JobResult per job id.
// Implementations must be safe for concurrent use.
type JobResultStore interface {
	// EnsurePending inserts a PENDING record unless one already exists.
	// An existing record, terminal or not, is left untouched.
	EnsurePending(ctx context.Context, jobID uuid.UUID, lang domain.Language) error

	// Complete writes a terminal result, creating the record if needed.
	// A later call for the same id overwrites the earlier one. Non-terminal
	// statuses are rejected with domain.ErrInvalidTransition.
	Complete(ctx context.Context, result *domain.JobResult) error

	// Get returns the record or domain.ErrJobNotFound.
	Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error)

	// Ping checks the backing database.
	Ping(ctx context.Context) error
}

// DocumentResolver looks up stored document text by id.
type DocumentResolver interface {
	// Resolve returns domain.ErrDocumentNotFound for an unknown id.
	Resolve(ctx context.Context, id string) (*domain.Document, error)
}

// IdempotencyStore defines the interface for distributed in-flight locks.
type IdempotencyStore interface {
	// AcquireLock attempts to acquire an exclusive processing lock for a job.
	// Returns true if the lock was acquired, false if another worker holds it.
	AcquireLock(ctx context.Context, jobID uuid.UUID) (bool, error)

	// ReleaseLock drops the lock so a later redelivery can run again.
	ReleaseLock(ctx context.Context, jobID uuid.UUID) error
}

// ResultCache holds terminal results for fast polling.
type ResultCache interface {
	// Get returns (nil, nil) on a miss.
	Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error)
	Set(ctx context.Context, result *domain.JobResult, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Executor runs one program in the sandbox.
type Executor interface {
	Execute(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error)
}
