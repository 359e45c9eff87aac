package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/loadflow/internal/domain"
)

type runRepository struct {
	db DBTX
}

// NewRunRepository wires a run repository backed by db.
func NewRunRepository(db DBTX) RunRepository {
	return &runRepository{db: db}
}

const runColumns = `id, brokerage_key, mode, file_name, status, error_message, summary, stages, started_at, finished_at`

func (r *runRepository) Create(ctx context.Context, run domain.Run) error {
	summary, stages, err := encodeRunState(run)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO runs (id, brokerage_key, mode, file_name, status, error_message, summary, stages, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID,
		run.BrokerageKey,
		string(run.Mode),
		run.FileName,
		run.Status,
		run.Error,
		summary,
		stages,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *runRepository) Finish(ctx context.Context, run domain.Run) error {
	summary, stages, err := encodeRunState(run)
	if err != nil {
		return err
	}
	finishedAt := time.Now().UTC()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE runs
		 SET status = $2, error_message = $3, summary = $4, stages = $5, finished_at = $6
		 WHERE id = $1`,
		run.ID,
		run.Status,
		run.Error,
		summary,
		stages,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (r *runRepository) AddValidationErrors(ctx context.Context, runID uuid.UUID, errs []domain.ValidationError) (int64, error) {
	if len(errs) == 0 {
		return 0, nil
	}
	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"run_validation_errors"},
		[]string{"id", "run_id", "row_index", "field", "reason"},
		pgx.CopyFromSlice(len(errs), func(i int) ([]any, error) {
			e := errs[i]
			return []any{uuid.New(), runID, e.RowIndex, e.Field, string(e.Reason)}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record validation errors: %w", err)
	}
	return n, nil
}

func (r *runRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *runRepository) List(ctx context.Context, brokerageKey string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+runColumns+`
		 FROM runs
		 WHERE brokerage_key = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		brokerageKey,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan run: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func (r *runRepository) ListValidationErrors(ctx context.Context, runID uuid.UUID) ([]domain.RunValidationError, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, run_id, row_index, field, reason, created_at
		 FROM run_validation_errors
		 WHERE run_id = $1
		 ORDER BY row_index, field`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation errors: %w", err)
	}
	defer rows.Close()

	out := []domain.RunValidationError{}
	for rows.Next() {
		var (
			e      domain.RunValidationError
			reason string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.RowIndex, &e.Field, &reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation error: %w", err)
		}
		e.Reason = domain.Reason(reason)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate validation errors: %w", err)
	}
	return out, nil
}

func encodeRunState(run domain.Run) ([]byte, []byte, error) {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode run summary: %w", err)
	}
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode run stages: %w", err)
	}
	return summary, stages, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run     domain.Run
		mode    string
		summary []byte
		stages  []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.BrokerageKey,
		&mode,
		&run.FileName,
		&run.Status,
		&run.Error,
		&summary,
		&stages,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		return domain.Run{}, err
	}
	run.Mode = domain.Mode(mode)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return domain.Run{}, fmt.Errorf("failed to decode run summary: %w", err)
		}
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &run.Stages); err != nil {
			return domain.Run{}, fmt.Errorf("failed to decode run stages: %w", err)
		}
	}
	return run, nil
}
