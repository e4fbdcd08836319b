package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/config"
	"github.com/Harsh-BH/warden/internal/domain"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	stores, err := Open(ctx, config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "data", "warden.db"),
	}, "warden-test", zap.NewNop())
	require.NoError(t, err)
	defer stores.Close()

	id := uuid.New()
	require.NoError(t, stores.Results.EnsurePending(ctx, id, domain.LangPython))
	res, err := stores.Results.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)

	_, err = stores.Documents.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}, "warden-test", zap.NewNop())
	assert.Error(t, err)
}
