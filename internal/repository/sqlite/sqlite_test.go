package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/warden/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func intp(n int) *int { return &n }

func TestEnsurePending_CreatesRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, db.EnsurePending(ctx, id, domain.LangPython))

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.JobID)
	assert.Equal(t, domain.LangPython, got.Language)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.ExitCode)
	assert.Nil(t, got.TimeUsedMs)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestEnsurePending_DoesNotRegressTerminal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, db.Complete(ctx, &domain.JobResult{
		JobID:    id,
		Language: domain.LangPython,
		Status:   domain.StatusCompleted,
		Stdout:   "2\n",
		ExitCode: intp(0),
	}))
	require.NoError(t, db.EnsurePending(ctx, id, domain.LangPython))

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "2\n", got.Stdout)
}

func TestComplete_LastWriteWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, db.EnsurePending(ctx, id, domain.LangPython))
	require.NoError(t, db.Complete(ctx, &domain.JobResult{
		JobID:    id,
		Language: domain.LangPython,
		Status:   domain.StatusFailed,
		Stderr:   "Execution timed out after 15s",
		Error:    "Execution timed out after 15s",
	}))
	require.NoError(t, db.Complete(ctx, &domain.JobResult{
		JobID:      id,
		Language:   domain.LangPython,
		Status:     domain.StatusCompleted,
		Stdout:     "ok\n",
		ExitCode:   intp(0),
		TimeUsedMs: intp(120),
	}))

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "ok\n", got.Stdout)
	assert.Empty(t, got.Stderr)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	require.NotNil(t, got.TimeUsedMs)
	assert.Equal(t, 120, *got.TimeUsedMs)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestComplete_RejectsPending(t *testing.T) {
	db := newTestDB(t)

	err := db.Complete(context.Background(), &domain.JobResult{
		JobID:    uuid.New(),
		Language: domain.LangPython,
		Status:   domain.StatusPending,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGet_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestResolveDocument(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutDocument(ctx, &domain.Document{ID: "doc-1", Name: "main.py", Content: "print(1)"}))

	doc, err := db.Resolve(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "main.py", doc.Name)
	assert.Equal(t, "print(1)", doc.Content)

	_, err = db.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestOpen_FileReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "warden.db")
	ctx := context.Background()
	id := uuid.New()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.EnsurePending(ctx, id, domain.LangNode))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LangNode, got.Language)
}
