package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Helper to create a valid step for testing.
func newTestStep() *domain.ResearchStep {
	now := time.Now().UTC()
	return &domain.ResearchStep{
		ID:        uuid.New(),
		RunID:     uuid.New(),
		StepIndex: 1,
		StepType:  domain.StepTypeDiscover,
		Status:    domain.StepStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// stepRowColumns matches the column order of stepColumns.
var stepRowColumns = []string{
	"id", "run_id", "step_index", "step_type", "status",
	"raw_output", "output_excerpt", "citations", "evidence", "provider_payload",
	"retryable_error_count", "error_message",
	"started_at", "completed_at", "created_at", "updated_at",
}

// stepToRow converts a step into a pgxmock row matching stepRowColumns.
func stepToRow(step *domain.ResearchStep) *pgxmock.Rows {
	return pgxmock.NewRows(stepRowColumns).AddRow(
		step.ID, step.RunID, step.StepIndex, step.StepType, step.Status,
		nullString(step.RawOutput), nullString(step.OutputExcerpt), []byte(nil), []byte(nil), []byte(nil),
		step.RetryableErrorCount, nullString(step.ErrorMessage),
		step.StartedAt, step.CompletedAt, step.CreatedAt, step.UpdatedAt,
	)
}

func TestPgStepRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts step successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		step := newTestStep()

		mock.ExpectExec("INSERT INTO research_steps").
			WithArgs(
				step.ID, step.RunID, step.StepIndex, step.StepType, step.Status,
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				step.RetryableErrorCount, pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.Upsert(ctx, step)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for nil step", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		err = repo.Upsert(ctx, nil)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "step", validationErr.Field)
	})

	t.Run("returns validation error for missing run ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		step := newTestStep()
		step.RunID = uuid.Nil

		err = repo.Upsert(ctx, step)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "run_id", validationErr.Field)
	})

	t.Run("returns validation error for negative step index", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		step := newTestStep()
		step.StepIndex = -1

		err = repo.Upsert(ctx, step)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "step_index", validationErr.Field)
	})

	t.Run("returns validation error for unknown step type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		step := newTestStep()
		step.StepType = "summarize"

		err = repo.Upsert(ctx, step)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "step_type", validationErr.Field)
	})

	t.Run("returns not found when run does not exist", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		step := newTestStep()

		mock.ExpectExec("INSERT INTO research_steps").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		err = repo.Upsert(ctx, step)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStepRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns step when found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		step := newTestStep()
		step.RawOutput = "search results"
		step.Status = domain.StepStatusDone

		mock.ExpectQuery("SELECT .* FROM research_steps WHERE run_id = \\$1 AND step_index = \\$2").
			WithArgs(step.RunID, step.StepIndex).
			WillReturnRows(stepToRow(step))

		result, err := repo.Get(ctx, step.RunID, step.StepIndex)
		require.NoError(t, err)
		assert.Equal(t, step.ID, result.ID)
		assert.Equal(t, step.StepType, result.StepType)
		assert.Equal(t, domain.StepStatusDone, result.Status)
		assert.Equal(t, "search results", result.RawOutput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error when not exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		runID := uuid.New()

		mock.ExpectQuery("SELECT .* FROM research_steps WHERE run_id = \\$1 AND step_index = \\$2").
			WithArgs(runID, 3).
			WillReturnError(pgx.ErrNoRows)

		result, err := repo.Get(ctx, runID, 3)
		assert.Nil(t, result)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStepRepository_ListByRun(t *testing.T) {
	ctx := context.Background()

	t.Run("returns steps ordered by index", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		runID := uuid.New()
		now := time.Now().UTC()

		rows := pgxmock.NewRows(stepRowColumns).
			AddRow(
				uuid.New(), runID, 0, domain.StepTypePlan, domain.StepStatusDone,
				nil, nil, []byte(nil), []byte(nil), []byte(nil),
				0, nil, nil, nil, now, now,
			).
			AddRow(
				uuid.New(), runID, 1, domain.StepTypeDiscover, domain.StepStatusQueued,
				nil, nil, []byte(nil), []byte(nil), []byte(nil),
				0, nil, nil, nil, now, now,
			)

		mock.ExpectQuery("SELECT .* FROM research_steps WHERE run_id = \\$1").
			WithArgs(runID).
			WillReturnRows(rows)

		steps, err := repo.ListByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, domain.StepTypePlan, steps[0].StepType)
		assert.Equal(t, domain.StepTypeDiscover, steps[1].StepType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStepRepository_ResetRange(t *testing.T) {
	ctx := context.Background()

	t.Run("resets steps in range", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)
		runID := uuid.New()

		mock.ExpectExec("UPDATE research_steps SET").
			WithArgs(pgxmock.AnyArg(), runID, 1, 7).
			WillReturnResult(pgxmock.NewResult("UPDATE", 6))

		count, err := repo.ResetRange(ctx, runID, 1, 7)
		require.NoError(t, err)
		assert.Equal(t, 6, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for nil run ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)

		_, err = repo.ResetRange(ctx, uuid.Nil, 1, 7)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("returns validation error for inverted range", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgStepRepository(mock)

		_, err = repo.ResetRange(ctx, uuid.New(), 5, 2)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}
