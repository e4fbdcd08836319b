package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/repository"
)

var (
	_ repository.JobResultStore   = (*DB)(nil)
	_ repository.DocumentResolver = (*DB)(nil)
)

// Timestamps are stored as unix milliseconds.

func (db *DB) EnsurePending(ctx context.Context, jobID uuid.UUID, lang domain.Language) error {
	now := time.Now().UnixMilli()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO execution_results (job_id, language, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		jobID.String(), string(lang), string(domain.StatusPending), now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: ensure pending: %w", err)
	}
	return nil
}

func (db *DB) Complete(ctx context.Context, result *domain.JobResult) error {
	if !result.Status.IsTerminal() {
		return fmt.Errorf("sqlite: complete %s with status %s: %w", result.JobID, result.Status, domain.ErrInvalidTransition)
	}

	now := time.Now().UnixMilli()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO execution_results
		     (job_id, language, status, stdout, stderr, error, exit_code, time_used_ms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		     status = excluded.status, stdout = excluded.stdout, stderr = excluded.stderr,
		     error = excluded.error, exit_code = excluded.exit_code,
		     time_used_ms = excluded.time_used_ms, updated_at = excluded.updated_at`,
		result.JobID.String(), string(result.Language), string(result.Status),
		result.Stdout, result.Stderr, result.Error,
		nullInt(result.ExitCode), nullInt(result.TimeUsedMs), now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: complete: %w", err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error) {
	var (
		res                  domain.JobResult
		id, lang, status     string
		exitCode, timeUsed   sql.NullInt64
		createdAt, updatedAt int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT job_id, language, status, stdout, stderr, error,
		        exit_code, time_used_ms, created_at, updated_at
		 FROM execution_results WHERE job_id = ?`,
		jobID.String(),
	).Scan(&id, &lang, &status, &res.Stdout, &res.Stderr, &res.Error,
		&exitCode, &timeUsed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get result: %w", err)
	}

	res.JobID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: corrupt job id %q: %w", id, err)
	}
	res.Language = domain.Language(lang)
	res.Status = domain.JobStatus(status)
	res.ExitCode = intPtr(exitCode)
	res.TimeUsedMs = intPtr(timeUsed)
	res.CreatedAt = time.UnixMilli(createdAt).UTC()
	res.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &res, nil
}

// Resolve implements repository.DocumentResolver.
func (db *DB) Resolve(ctx context.Context, id string) (*domain.Document, error) {
	doc := &domain.Document{ID: id}
	err := db.conn.QueryRowContext(ctx, `SELECT name, content FROM documents WHERE id = ?`, id).
		Scan(&doc.Name, &doc.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: resolve document: %w", err)
	}
	return doc, nil
}

// PutDocument stores a document. The file service normally owns this table;
// single-host setups and tests seed it directly.
func (db *DB) PutDocument(ctx context.Context, doc *domain.Document) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO documents (id, name, content) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, content = excluded.content`,
		doc.ID, doc.Name, doc.Content,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put document: %w", err)
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
