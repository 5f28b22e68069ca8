package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// stepColumns is the canonical column list for research_steps queries.
const stepColumns = `id, run_id, step_index, step_type, status,
		raw_output, output_excerpt, citations, evidence, provider_payload,
		retryable_error_count, error_message,
		started_at, completed_at, created_at, updated_at`

// Compile-time interface verification.
var _ StepRepository = (*PgStepRepository)(nil)

// PgStepRepository is a PostgreSQL implementation of StepRepository.
type PgStepRepository struct {
	db DBTX
}

// NewPgStepRepository creates a new PostgreSQL step repository.
func NewPgStepRepository(db DBTX) *PgStepRepository {
	return &PgStepRepository{db: db}
}

// Upsert inserts or overwrites the step row keyed by (run_id, step_index).
// On conflict the existing row's id and created_at are preserved so external
// references to the step stay stable across retries and redeliveries.
func (r *PgStepRepository) Upsert(ctx context.Context, step *domain.ResearchStep) error {
	if step == nil {
		return domain.NewValidationError("step", "step cannot be nil")
	}
	if step.ID == uuid.Nil {
		return domain.NewValidationError("id", "step ID is required")
	}
	if step.RunID == uuid.Nil {
		return domain.NewValidationError("run_id", "run ID is required")
	}
	if step.StepIndex < 0 {
		return domain.NewValidationError("step_index", "step index cannot be negative")
	}
	if !step.StepType.Valid() {
		return domain.NewValidationError("step_type", "unknown step type")
	}

	citationsJSON, err := marshalNullableSlice(step.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	evidenceJSON, err := marshalNullableSlice(step.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	payloadJSON, err := marshalNullable(step.ProviderPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal provider payload: %w", err)
	}

	step.UpdatedAt = time.Now().UTC()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = step.UpdatedAt
	}

	query := `
		INSERT INTO research_steps (
			id, run_id, step_index, step_type, status,
			raw_output, output_excerpt, citations, evidence, provider_payload,
			retryable_error_count, error_message,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16
		)
		ON CONFLICT (run_id, step_index) DO UPDATE SET
			step_type = EXCLUDED.step_type,
			status = EXCLUDED.status,
			raw_output = EXCLUDED.raw_output,
			output_excerpt = EXCLUDED.output_excerpt,
			citations = EXCLUDED.citations,
			evidence = EXCLUDED.evidence,
			provider_payload = EXCLUDED.provider_payload,
			retryable_error_count = EXCLUDED.retryable_error_count,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		step.ID, step.RunID, step.StepIndex, step.StepType, step.Status,
		nullString(step.RawOutput), nullString(step.OutputExcerpt), citationsJSON, evidenceJSON, payloadJSON,
		step.RetryableErrorCount, nullString(step.ErrorMessage),
		step.StartedAt, step.CompletedAt, step.CreatedAt, step.UpdatedAt,
	)

	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("run", step.RunID.String())
		}
		return fmt.Errorf("failed to upsert step: %w", err)
	}

	return nil
}

// Get retrieves the step at the given index of a run.
func (r *PgStepRepository) Get(ctx context.Context, runID uuid.UUID, stepIndex int) (*domain.ResearchStep, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM research_steps
		WHERE run_id = $1 AND step_index = $2`, stepColumns)

	row := r.db.QueryRow(ctx, query, runID, stepIndex)
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("step", fmt.Sprintf("%s/%d", runID, stepIndex))
		}
		return nil, fmt.Errorf("failed to get step: %w", err)
	}

	return step, nil
}

// ListByRun retrieves all steps of a run ordered by step index.
func (r *PgStepRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.ResearchStep, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM research_steps
		WHERE run_id = $1
		ORDER BY step_index ASC`, stepColumns)

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*domain.ResearchStep
	for rows.Next() {
		step, err := scanStepFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// ResetRange requeues the steps of a run whose index lies in [fromIndex,
// toIndex): status back to queued with outputs, errors, retry counters, and
// timestamps cleared. Step identity (id, run_id, step_index, step_type) is
// preserved so re-execution upserts onto the same rows.
func (r *PgStepRepository) ResetRange(ctx context.Context, runID uuid.UUID, fromIndex, toIndex int) (int, error) {
	if runID == uuid.Nil {
		return 0, domain.NewValidationError("run_id", "run ID is required")
	}
	if fromIndex < 0 || toIndex < fromIndex {
		return 0, domain.NewValidationError("range", "invalid step index range")
	}

	query := `
		UPDATE research_steps SET
			status = 'queued',
			raw_output = NULL,
			output_excerpt = NULL,
			citations = NULL,
			evidence = NULL,
			provider_payload = NULL,
			retryable_error_count = 0,
			error_message = NULL,
			started_at = NULL,
			completed_at = NULL,
			updated_at = $1
		WHERE run_id = $2 AND step_index >= $3 AND step_index < $4`

	result, err := r.db.Exec(ctx, query, time.Now().UTC(), runID, fromIndex, toIndex)
	if err != nil {
		return 0, fmt.Errorf("failed to reset steps: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// stepScanDest holds the destination pointers for scanning a ResearchStep row.
type stepScanDest struct {
	step          domain.ResearchStep
	rawOutput     *string
	outputExcerpt *string
	citationsJSON []byte
	evidenceJSON  []byte
	payloadJSON   []byte
	errorMessage  *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *stepScanDest) destinations() []interface{} {
	return []interface{}{
		&d.step.ID, &d.step.RunID, &d.step.StepIndex, &d.step.StepType, &d.step.Status,
		&d.rawOutput, &d.outputExcerpt, &d.citationsJSON, &d.evidenceJSON, &d.payloadJSON,
		&d.step.RetryableErrorCount, &d.errorMessage,
		&d.step.StartedAt, &d.step.CompletedAt, &d.step.CreatedAt, &d.step.UpdatedAt,
	}
}

// finalize performs post-scan processing: sets nullable string fields and unmarshals JSON.
func (d *stepScanDest) finalize() (*domain.ResearchStep, error) {
	if d.rawOutput != nil {
		d.step.RawOutput = *d.rawOutput
	}
	if d.outputExcerpt != nil {
		d.step.OutputExcerpt = *d.outputExcerpt
	}
	if d.errorMessage != nil {
		d.step.ErrorMessage = *d.errorMessage
	}

	if len(d.citationsJSON) > 0 {
		if err := json.Unmarshal(d.citationsJSON, &d.step.Citations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
		}
	}

	if len(d.evidenceJSON) > 0 {
		if err := json.Unmarshal(d.evidenceJSON, &d.step.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}

	if len(d.payloadJSON) > 0 {
		var payload domain.ProviderPayload
		if err := json.Unmarshal(d.payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider payload: %w", err)
		}
		d.step.ProviderPayload = &payload
	}

	return &d.step, nil
}

// scanStep scans a single row into a ResearchStep.
func scanStep(row pgx.Row) (*domain.ResearchStep, error) {
	var dest stepScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanStepFromRows scans the current row from pgx.Rows into a ResearchStep.
func scanStepFromRows(rows pgx.Rows) (*domain.ResearchStep, error) {
	var dest stepScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
