package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/loadflow/internal/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts a new run", func(t *testing.T) {
		mock := newMock(t)
		run := domain.NewRun("augment-brokerage", domain.ModeEndToEnd, "loads.csv")
		summary, _ := json.Marshal(run.Summary)

		mock.ExpectExec("INSERT INTO runs").
			WithArgs(run.ID, "augment-brokerage", "endtoend", "loads.csv", domain.RunRunning, "", summary, pgxmock.AnyArg(), run.StartedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewRunRepository(mock).Create(ctx, run))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a missing run on finish", func(t *testing.T) {
		mock := newMock(t)
		run := domain.NewRun("augment-brokerage", domain.ModePostback, "")
		run.Status = domain.RunCompleted

		mock.ExpectExec("UPDATE runs").
			WithArgs(run.ID, domain.RunCompleted, "", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewRunRepository(mock).Finish(ctx, run)
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("copies validation errors", func(t *testing.T) {
		mock := newMock(t)
		runID := uuid.New()
		mock.ExpectCopyFrom(pgx.Identifier{"run_validation_errors"}, []string{"id", "run_id", "row_index", "field", "reason"}).
			WillReturnResult(2)

		n, err := NewRunRepository(mock).AddValidationErrors(ctx, runID, []domain.ValidationError{
			{RowIndex: 0, Field: "load.mode", Reason: domain.ReasonEmpty},
			{RowIndex: 3, Field: "customer.name", Reason: domain.ReasonMissing},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips the copy without errors", func(t *testing.T) {
		mock := newMock(t)
		n, err := NewRunRepository(mock).AddValidationErrors(ctx, uuid.New(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("decodes a stored run", func(t *testing.T) {
		mock := newMock(t)
		id := uuid.New()
		started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		finished := started.Add(time.Minute)
		rows := mock.NewRows([]string{"id", "brokerage_key", "mode", "file_name", "status", "error_message", "summary", "stages", "started_at", "finished_at"}).
			AddRow(id, "augment-brokerage", "postback", "loads.xlsx", domain.RunCompleted, "",
				[]byte(`{"total":3,"valid":2,"invalid":1}`),
				[]byte(`[{"name":"mapping","status":"completed"}]`),
				started, &finished)
		mock.ExpectQuery("SELECT (.+) FROM runs WHERE id = \\$1").WithArgs(id).WillReturnRows(rows)

		run, err := NewRunRepository(mock).GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ModePostback, run.Mode)
		assert.Equal(t, 3, run.Summary.Total)
		assert.Equal(t, 1, run.Summary.Invalid)
		require.Len(t, run.Stages, 1)
		assert.Equal(t, domain.StageCompleted, run.Stages[0].Status)
		require.NotNil(t, run.FinishedAt)
		assert.Equal(t, finished, *run.FinishedAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps no rows to not found", func(t *testing.T) {
		mock := newMock(t)
		id := uuid.New()
		mock.ExpectQuery("FROM runs WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

		_, err := NewRunRepository(mock).GetByID(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lists validation errors", func(t *testing.T) {
		mock := newMock(t)
		runID := uuid.New()
		created := time.Now().UTC()
		rows := mock.NewRows([]string{"id", "run_id", "row_index", "field", "reason", "created_at"}).
			AddRow(uuid.New(), runID, 2, "load.mode", "malformed", created)
		mock.ExpectQuery("FROM run_validation_errors").WithArgs(runID).WillReturnRows(rows)

		errs, err := NewRunRepository(mock).ListValidationErrors(ctx, runID)
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, domain.ReasonMalformed, errs[0].Reason)
		assert.Equal(t, 2, errs[0].RowIndex)
	})
}

func TestMappingRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts and keep the stored identity", func(t *testing.T) {
		mock := newMock(t)
		cfg := domain.NewMappingConfig("augment-brokerage", "default", map[string]string{
			"load.loadNumber": "Load #",
			"load.mode":       "MANUAL_VALUE:FTL",
		})
		storedID := uuid.New()
		storedCreated := cfg.CreatedAt.Add(-time.Hour)

		mock.ExpectQuery("INSERT INTO mapping_configs (.+) ON CONFLICT").
			WithArgs(cfg.ID, "augment-brokerage", "default", pgxmock.AnyArg(), cfg.CreatedAt, cfg.UpdatedAt).
			WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(storedID, storedCreated, cfg.UpdatedAt))

		saved, err := NewMappingRepository(mock).Save(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, storedID, saved.ID)
		assert.Equal(t, storedCreated, saved.CreatedAt)
		assert.Equal(t, "MANUAL_VALUE:FTL", saved.Mapping["load.mode"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("decodes stored mappings", func(t *testing.T) {
		mock := newMock(t)
		now := time.Now().UTC()
		rows := mock.NewRows([]string{"id", "brokerage_key", "name", "mapping", "created_at", "updated_at"}).
			AddRow(uuid.New(), "augment-brokerage", "a", []byte(`{"load.loadNumber":"Load #"}`), now, now).
			AddRow(uuid.New(), "augment-brokerage", "b", []byte(`{"customer.name":"Customer"}`), now, now)
		mock.ExpectQuery("FROM mapping_configs").WithArgs("augment-brokerage").WillReturnRows(rows)

		list, err := NewMappingRepository(mock).List(ctx, "augment-brokerage")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Load #", list[0].Mapping["load.loadNumber"])
		assert.Equal(t, "b", list[1].Name)
	})

	t.Run("reports missing mappings", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("FROM mapping_configs").WithArgs("augment-brokerage", "nope").WillReturnError(pgx.ErrNoRows)
		mock.ExpectExec("DELETE FROM mapping_configs").WithArgs("augment-brokerage", "nope").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := NewMappingRepository(mock)
		_, err := repo.Get(ctx, "augment-brokerage", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		err = repo.Delete(ctx, "augment-brokerage", "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
