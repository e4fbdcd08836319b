package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/repository"
)

var _ repository.DocumentResolver = (*pgDocuments)(nil)

type pgDocuments struct {
	pool *pgxpool.Pool
}

// NewDocumentResolver reads documents owned by the file service.
func NewDocumentResolver(pool *pgxpool.Pool) repository.DocumentResolver {
	return &pgDocuments{pool: pool}
}

func (d *pgDocuments) Resolve(ctx context.Context, id string) (*domain.Document, error) {
	doc := &domain.Document{ID: id}
	err := d.pool.QueryRow(ctx, `SELECT name, content FROM documents WHERE id = $1`, id).
		Scan(&doc.Name, &doc.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve document: %w", err)
	}
	return doc, nil
}
