package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// StepRepository handles research step persistence. Steps are keyed by
// (run_id, step_index) so that redelivered or retried orchestration passes
// overwrite the same row instead of inserting duplicates.
type StepRepository interface {
	// Upsert inserts the step or, when a row with the same (run_id,
	// step_index) already exists, overwrites its mutable fields. The step's
	// ID is preserved on conflict so references stay stable.
	Upsert(ctx context.Context, step *domain.ResearchStep) error

	// Get retrieves the step at the given index of a run.
	// Returns domain.ErrNotFound if no matching step exists.
	Get(ctx context.Context, runID uuid.UUID, stepIndex int) (*domain.ResearchStep, error)

	// ListByRun retrieves all steps of a run ordered by step index.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.ResearchStep, error)

	// ResetRange requeues the steps of a run whose index lies in
	// [fromIndex, toIndex): status back to queued, outputs, errors, and
	// retry counters cleared. Used by the gap loop to re-execute
	// post-planning stages. Returns the number of steps reset.
	ResetRange(ctx context.Context, runID uuid.UUID, fromIndex, toIndex int) (int, error)
}

// CitationRepository handles normalized citation and evidence persistence.
// Citations and evidence carry content-derived IDs, so re-processing the
// same material upserts the same rows and stays safe under at-least-once
// delivery.
type CitationRepository interface {
	// UpsertCitations stores the citations for a run, keyed by
	// (run_id, citation_id). Existing rows have title, publisher, and
	// reliability tags refreshed.
	UpsertCitations(ctx context.Context, runID uuid.UUID, citations []domain.Citation) error

	// UpsertEvidence stores the evidence items extracted by a step, keyed
	// by (run_id, evidence_id).
	UpsertEvidence(ctx context.Context, runID, stepID uuid.UUID, evidence []domain.Evidence) error

	// ListCitations retrieves all citations of a run ordered by citation ID.
	ListCitations(ctx context.Context, runID uuid.UUID) ([]domain.Citation, error)

	// ListEvidence retrieves all evidence items of a run ordered by
	// evidence ID.
	ListEvidence(ctx context.Context, runID uuid.UUID) ([]domain.Evidence, error)
}
