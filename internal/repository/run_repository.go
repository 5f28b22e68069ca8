package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// RunRepository handles research run persistence and lifecycle management.
type RunRepository interface {
	// Create inserts a new research run. The run must have a valid ID,
	// SessionID, Provider, and Question.
	// Returns domain.ErrAlreadyExists if a run with the same ID exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, run *domain.ResearchRun) error

	// Get retrieves a research run by its ID.
	// Returns domain.ErrNotFound if no matching run exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error)

	// Update persists the run's mutable fields: state, current step index,
	// plan, progress, synthesized report and sources, and error message.
	// Progress is merged shallowly into the stored progress document, so
	// concurrent writers updating disjoint keys do not clobber each other.
	// Returns domain.ErrNotFound if no matching run exists.
	Update(ctx context.Context, run *domain.ResearchRun) error

	// List retrieves research runs matching the filter criteria, newest
	// first. Returns the matching runs and the total count for pagination.
	List(ctx context.Context, filter RunFilter) ([]*domain.ResearchRun, int64, error)

	// ListActiveBySession returns the non-terminal runs for a session.
	// Used by the dispatcher to find runs that still need orchestration
	// passes.
	ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.ResearchRun, error)
}

// RunFilter specifies criteria for listing research runs.
type RunFilter struct {
	// SessionID filters by session (optional).
	SessionID *uuid.UUID

	// Provider filters by provider lane (optional).
	Provider domain.Provider

	// States filters by one or more run states (optional).
	States []domain.RunState

	// CreatedAfter filters to runs created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to runs created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks the filter values and applies defaults.
func (f *RunFilter) Validate() error {
	if f.Provider != "" && !f.Provider.Valid() {
		return domain.NewValidationError("provider", "unknown provider")
	}
	for _, s := range f.States {
		if !s.Valid() {
			return domain.NewValidationError("states", "unknown run state")
		}
	}

	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
