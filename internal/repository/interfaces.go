package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = apperr.ErrNotFound

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// RunRepository persists the run log.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	Finish(ctx context.Context, run domain.Run) error
	AddValidationErrors(ctx context.Context, runID uuid.UUID, errs []domain.ValidationError) (int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Run, error)
	List(ctx context.Context, brokerageKey string, limit int) ([]domain.Run, error)
	ListValidationErrors(ctx context.Context, runID uuid.UUID) ([]domain.RunValidationError, error)
}

// MappingRepository stores named column mappings per brokerage.
type MappingRepository interface {
	Save(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error)
	Get(ctx context.Context, brokerageKey, name string) (domain.MappingConfig, error)
	List(ctx context.Context, brokerageKey string) ([]domain.MappingConfig, error)
	Delete(ctx context.Context, brokerageKey, name string) error
}
