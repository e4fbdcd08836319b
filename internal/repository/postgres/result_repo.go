package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/repository"
)

// Ensure pgResultStore implements repository.JobResultStore.
var _ repository.JobResultStore = (*pgResultStore)(nil)

type pgResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a PostgreSQL-backed JobResult store.
func NewResultStore(pool *pgxpool.Pool) repository.JobResultStore {
	return &pgResultStore{pool: pool}
}

func (r *pgResultStore) EnsurePending(ctx context.Context, jobID uuid.UUID, lang domain.Language) error {
	query := `
		INSERT INTO execution_results (job_id, language, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (job_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query, jobID, string(lang), string(domain.StatusPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: ensure pending: %w", err)
	}
	return nil
}

func (r *pgResultStore) Complete(ctx context.Context, result *domain.JobResult) error {
	if !result.Status.IsTerminal() {
		return fmt.Errorf("postgres: complete %s with status %s: %w", result.JobID, result.Status, domain.ErrInvalidTransition)
	}

	query := `
		INSERT INTO execution_results
		    (job_id, language, status, stdout, stderr, error, exit_code, time_used_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status, stdout = EXCLUDED.stdout, stderr = EXCLUDED.stderr,
		    error = EXCLUDED.error, exit_code = EXCLUDED.exit_code,
		    time_used_ms = EXCLUDED.time_used_ms, updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		result.JobID, string(result.Language), string(result.Status),
		result.Stdout, result.Stderr, result.Error,
		result.ExitCode, result.TimeUsedMs, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: complete: %w", err)
	}
	return nil
}

func (r *pgResultStore) Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error) {
	query := `
		SELECT job_id, language, status, stdout, stderr, error,
		       exit_code, time_used_ms, created_at, updated_at
		FROM execution_results
		WHERE job_id = $1`

	var (
		res          domain.JobResult
		lang, status string
	)
	err := r.pool.QueryRow(ctx, query, jobID).Scan(
		&res.JobID, &lang, &status, &res.Stdout, &res.Stderr, &res.Error,
		&res.ExitCode, &res.TimeUsedMs, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get result: %w", err)
	}
	res.Language = domain.Language(lang)
	res.Status = domain.JobStatus(status)
	return &res, nil
}

func (r *pgResultStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
