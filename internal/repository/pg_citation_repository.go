package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Compile-time interface verification.
var _ CitationRepository = (*PgCitationRepository)(nil)

// PgCitationRepository is a PostgreSQL implementation of CitationRepository.
type PgCitationRepository struct {
	db DBTX
}

// NewPgCitationRepository creates a new PostgreSQL citation repository.
func NewPgCitationRepository(db DBTX) *PgCitationRepository {
	return &PgCitationRepository{db: db}
}

// UpsertCitations stores the citations for a run, keyed by (run_id,
// citation_id). Citation IDs are content-derived, so re-processing the same
// source refreshes the existing row instead of inserting a duplicate.
// Citations are batched into a single round trip.
func (r *PgCitationRepository) UpsertCitations(ctx context.Context, runID uuid.UUID, citations []domain.Citation) error {
	if runID == uuid.Nil {
		return domain.NewValidationError("run_id", "run ID is required")
	}
	if len(citations) == 0 {
		return nil
	}

	query := `
		INSERT INTO citations (
			run_id, citation_id, url, title, publisher, reliability_tags, accessed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, citation_id) DO UPDATE SET
			title = EXCLUDED.title,
			publisher = EXCLUDED.publisher,
			reliability_tags = EXCLUDED.reliability_tags,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, c := range citations {
		if c.ID == "" || c.URL == "" {
			return domain.NewValidationError("citation", "citation ID and URL are required")
		}

		tagsJSON, err := marshalNullableSlice(c.ReliabilityTags)
		if err != nil {
			return fmt.Errorf("failed to marshal reliability tags: %w", err)
		}

		accessedAt := c.AccessedAt
		if accessedAt.IsZero() {
			accessedAt = now
		}

		batch.Queue(query,
			runID, c.ID, c.URL, nullString(c.Title), nullString(c.Publisher), tagsJSON, accessedAt, now,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range citations {
		if _, err := results.Exec(); err != nil {
			if isPgForeignKeyViolation(err) {
				return domain.NewNotFoundError("run", runID.String())
			}
			return fmt.Errorf("failed to upsert citation: %w", err)
		}
	}

	return nil
}

// UpsertEvidence stores the evidence items extracted by a step, keyed by
// (run_id, evidence_id). Evidence IDs are claim-derived, so retried
// extractions overwrite rather than duplicate.
func (r *PgCitationRepository) UpsertEvidence(ctx context.Context, runID, stepID uuid.UUID, evidence []domain.Evidence) error {
	if runID == uuid.Nil {
		return domain.NewValidationError("run_id", "run ID is required")
	}
	if stepID == uuid.Nil {
		return domain.NewValidationError("step_id", "step ID is required")
	}
	if len(evidence) == 0 {
		return nil
	}

	query := `
		INSERT INTO evidence (
			run_id, evidence_id, step_id, claim, snippet, citation_ids, confidence, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, evidence_id) DO UPDATE SET
			step_id = EXCLUDED.step_id,
			snippet = EXCLUDED.snippet,
			citation_ids = EXCLUDED.citation_ids,
			confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, ev := range evidence {
		if ev.ID == "" || ev.Claim == "" {
			return domain.NewValidationError("evidence", "evidence ID and claim are required")
		}

		citationIDsJSON, err := marshalNullableSlice(ev.CitationIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal citation IDs: %w", err)
		}

		batch.Queue(query,
			runID, ev.ID, stepID, ev.Claim, nullString(ev.Snippet), citationIDsJSON, ev.Confidence, now,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range evidence {
		if _, err := results.Exec(); err != nil {
			if isPgForeignKeyViolation(err) {
				return domain.NewNotFoundError("run", runID.String())
			}
			return fmt.Errorf("failed to upsert evidence: %w", err)
		}
	}

	return nil
}

// ListCitations retrieves all citations of a run ordered by citation ID.
func (r *PgCitationRepository) ListCitations(ctx context.Context, runID uuid.UUID) ([]domain.Citation, error) {
	query := `
		SELECT citation_id, url, title, publisher, reliability_tags, accessed_at
		FROM citations
		WHERE run_id = $1
		ORDER BY citation_id ASC`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list citations: %w", err)
	}
	defer rows.Close()

	var citations []domain.Citation
	for rows.Next() {
		var (
			c         domain.Citation
			title     *string
			publisher *string
			tagsJSON  []byte
		)
		if err := rows.Scan(&c.ID, &c.URL, &title, &publisher, &tagsJSON, &c.AccessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		if title != nil {
			c.Title = *title
		}
		if publisher != nil {
			c.Publisher = *publisher
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &c.ReliabilityTags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reliability tags: %w", err)
			}
		}
		citations = append(citations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating citations: %w", err)
	}

	return citations, nil
}

// ListEvidence retrieves all evidence items of a run ordered by evidence ID.
func (r *PgCitationRepository) ListEvidence(ctx context.Context, runID uuid.UUID) ([]domain.Evidence, error) {
	query := `
		SELECT evidence_id, claim, snippet, citation_ids, confidence
		FROM evidence
		WHERE run_id = $1
		ORDER BY evidence_id ASC`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var evidence []domain.Evidence
	for rows.Next() {
		var (
			ev              domain.Evidence
			snippet         *string
			citationIDsJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Claim, &snippet, &citationIDsJSON, &ev.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		if snippet != nil {
			ev.Snippet = *snippet
		}
		if len(citationIDsJSON) > 0 {
			if err := json.Unmarshal(citationIDsJSON, &ev.CitationIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citation IDs: %w", err)
			}
		}
		evidence = append(evidence, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence: %w", err)
	}

	return evidence, nil
}
