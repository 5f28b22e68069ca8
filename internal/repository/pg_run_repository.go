package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// runColumns is the canonical column list for research_runs queries.
const runColumns = `id, session_id, provider, mode, depth, question,
		plan, progress, current_step_index, state,
		error_message, synthesized_report, synthesized_sources,
		created_at, updated_at, started_at, completed_at`

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

// Create inserts a new research run.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.ResearchRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if run.SessionID == uuid.Nil {
		return domain.NewValidationError("session_id", "session ID is required")
	}
	if !run.Provider.Valid() {
		return domain.NewValidationError("provider", "unknown provider")
	}
	if run.Question == "" {
		return domain.NewValidationError("question", "question is required")
	}

	planJSON, err := marshalNullable(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	sourcesJSON, err := marshalNullableSlice(run.SynthesizedSources)
	if err != nil {
		return fmt.Errorf("failed to marshal synthesized sources: %w", err)
	}

	query := `
		INSERT INTO research_runs (
			id, session_id, provider, mode, depth, question,
			plan, progress, current_step_index, state,
			error_message, synthesized_report, synthesized_sources,
			created_at, updated_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17
		)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.SessionID, run.Provider, run.Mode, run.Depth, run.Question,
		planJSON, progressJSON, run.CurrentStepIndex, run.State,
		nullString(run.ErrorMessage), nullString(run.SynthesizedReport), sourcesJSON,
		run.CreatedAt, run.UpdatedAt, run.StartedAt, run.CompletedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Get retrieves a research run by its ID.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM research_runs WHERE id = $1`, runColumns)

	row := r.db.QueryRow(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// Update persists the run's mutable fields. The progress document is merged
// shallowly into the stored document with the jsonb || operator, so writers
// touching disjoint keys do not clobber each other.
func (r *PgRunRepository) Update(ctx context.Context, run *domain.ResearchRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}

	planJSON, err := marshalNullable(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	sourcesJSON, err := marshalNullableSlice(run.SynthesizedSources)
	if err != nil {
		return fmt.Errorf("failed to marshal synthesized sources: %w", err)
	}

	run.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE research_runs SET
			state = $1,
			current_step_index = $2,
			plan = $3,
			progress = progress || $4,
			error_message = $5,
			synthesized_report = $6,
			synthesized_sources = $7,
			updated_at = $8,
			started_at = $9,
			completed_at = $10
		WHERE id = $11`

	result, err := r.db.Exec(ctx, query,
		run.State,
		run.CurrentStepIndex,
		planJSON,
		progressJSON,
		nullString(run.ErrorMessage),
		nullString(run.SynthesizedReport),
		sourcesJSON,
		run.UpdatedAt,
		run.StartedAt,
		run.CompletedAt,
		run.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", run.ID.String())
	}

	return nil
}

// List retrieves research runs matching the filter criteria, newest first.
func (r *PgRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.ResearchRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if filter.SessionID != nil {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argIndex))
		args = append(args, *filter.SessionID)
		argIndex++
	}

	if filter.Provider != "" {
		conditions = append(conditions, fmt.Sprintf("provider = $%d", argIndex))
		args = append(args, filter.Provider)
		argIndex++
	}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, s := range filter.States {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM research_runs WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM research_runs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		runColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.ResearchRun, 0, filter.Limit)
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, totalCount, nil
}

// ListActiveBySession returns the non-terminal runs for a session, ordered by
// provider for deterministic dispatch.
func (r *PgRunRepository) ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.ResearchRun, error) {
	if sessionID == uuid.Nil {
		return nil, domain.NewValidationError("session_id", "session ID is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM research_runs
		WHERE session_id = $1
		  AND state NOT IN ('done', 'failed')
		ORDER BY provider ASC`, runColumns)

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ResearchRun
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active runs: %w", err)
	}

	return runs, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isPgForeignKeyViolation checks if the error is a PostgreSQL foreign key violation.
func isPgForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return false
}

// runScanDest holds the destination pointers for scanning a ResearchRun row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type runScanDest struct {
	run               domain.ResearchRun
	planJSON          []byte
	progressJSON      []byte
	sourcesJSON       []byte
	errorMessage      *string
	synthesizedReport *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *runScanDest) destinations() []interface{} {
	return []interface{}{
		&d.run.ID, &d.run.SessionID, &d.run.Provider, &d.run.Mode, &d.run.Depth, &d.run.Question,
		&d.planJSON, &d.progressJSON, &d.run.CurrentStepIndex, &d.run.State,
		&d.errorMessage, &d.synthesizedReport, &d.sourcesJSON,
		&d.run.CreatedAt, &d.run.UpdatedAt, &d.run.StartedAt, &d.run.CompletedAt,
	}
}

// finalize performs post-scan processing: sets nullable string fields and unmarshals JSON.
func (d *runScanDest) finalize() (*domain.ResearchRun, error) {
	if d.errorMessage != nil {
		d.run.ErrorMessage = *d.errorMessage
	}
	if d.synthesizedReport != nil {
		d.run.SynthesizedReport = *d.synthesizedReport
	}

	if len(d.planJSON) > 0 {
		var plan domain.ResearchPlan
		if err := json.Unmarshal(d.planJSON, &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
		d.run.Plan = &plan
	}

	if len(d.progressJSON) > 0 {
		if err := json.Unmarshal(d.progressJSON, &d.run.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
		}
	}

	if len(d.sourcesJSON) > 0 {
		if err := json.Unmarshal(d.sourcesJSON, &d.run.SynthesizedSources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal synthesized sources: %w", err)
		}
	}

	return &d.run, nil
}

// scanRun scans a single row into a ResearchRun.
func scanRun(row pgx.Row) (*domain.ResearchRun, error) {
	var dest runScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanRunFromRows scans the current row from pgx.Rows into a ResearchRun.
func scanRunFromRows(rows pgx.Rows) (*domain.ResearchRun, error) {
	var dest runScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// marshalNullable marshals v to JSON, returning nil (SQL NULL) for nil pointers.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// marshalNullableSlice marshals s to JSON, returning nil (SQL NULL) for empty slices.
func marshalNullableSlice[T any](s []T) ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
