package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scholarpipe/deep-research-service/internal/dispatch"
	"github.com/scholarpipe/deep-research-service/internal/domain"
	"github.com/scholarpipe/deep-research-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createRunRequest is the JSON request body for starting a research run.
type createRunRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Provider  string `json:"provider" validate:"required,oneof=openai gemini"`
	Mode      string `json:"mode" validate:"omitempty,oneof=standard deep"`
	Depth     string `json:"depth" validate:"omitempty,oneof=quick standard thorough"`
	Question  string `json:"question" validate:"required,min=3,max=10000"`
}

// createResearchRun handles POST /research-runs.
// It creates a new research run in its provider lane and enqueues the first
// orchestration pass.
func (s *Server) createResearchRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req createRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := strings.ToLower(verrs[0].Field())
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: field %q failed on %q", field, verrs[0].Tag()))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "session_id must be a valid UUID")
		return
	}

	provider := domain.Provider(req.Provider)
	mode := domain.Mode(req.Mode)
	if mode == "" {
		mode = domain.ModeDeep
	}
	depth := domain.Depth(req.Depth)
	if depth == "" {
		depth = domain.DepthStandard
	}

	// One run per provider lane per session: reject a second active run on
	// the same lane rather than silently racing two pipelines.
	active, err := s.runs.ListActiveBySession(ctx, sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, existing := range active {
		if existing.Provider == provider {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("session already has an active %s run: %s", provider, existing.ID))
			return
		}
	}

	now := time.Now().UTC()
	run := &domain.ResearchRun{
		ID:        uuid.New(),
		SessionID: sessionID,
		Provider:  provider,
		Mode:      mode,
		Depth:     depth,
		Question:  req.Question,
		State:     domain.RunStateNew,
		Progress: domain.RunProgress{
			StepIndex:  0,
			TotalSteps: len(domain.CanonicalStepSequence()),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.runs.Create(ctx, run); err != nil {
		writeDomainError(w, err)
		return
	}

	// Best-effort immediate first tick; the background scanner picks the run
	// up regardless.
	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, dispatch.TickJob{RunID: run.ID, Reason: "create"}); err != nil {
			s.logger.Warn().Err(err).
				Str("run_id", run.ID.String()).
				Msg("failed to enqueue initial tick")
		}
	}

	writeJSON(w, http.StatusCreated, createRunResponse{
		RunID:     run.ID.String(),
		SessionID: run.SessionID.String(),
		Provider:  string(run.Provider),
		State:     string(run.State),
		CreatedAt: run.CreatedAt,
	})
}

// getResearchRun handles GET /research-runs/{runID}.
func (s *Server) getResearchRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}

// tickResearchRun handles POST /research-runs/{runID}/tick.
// It performs one orchestration pass synchronously and reports the resulting
// run state. Contention with a background pass is not an error: the pass is
// simply a no-op and the current state is returned.
func (s *Server) tickResearchRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	result, err := s.ticker.Tick(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tickResponse{
		RunID: runID.String(),
		State: string(result.State),
		Done:  result.Done,
	})
}

// listResearchRuns handles GET /research-runs.
// It returns a paginated list of run summaries with optional filters.
func (s *Server) listResearchRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := parsePaginationParams(r)

	filter := repository.RunFilter{
		Limit:  limit,
		Offset: offset,
	}

	if sessionParam := r.URL.Query().Get("session_id"); sessionParam != "" {
		sessionID, err := uuid.Parse(sessionParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "session_id must be a valid UUID")
			return
		}
		filter.SessionID = &sessionID
	}

	if providerParam := r.URL.Query().Get("provider"); providerParam != "" {
		filter.Provider = domain.Provider(providerParam)
	}

	if stateParam := r.URL.Query().Get("state"); stateParam != "" {
		for _, st := range strings.Split(stateParam, ",") {
			filter.States = append(filter.States, domain.RunState(strings.TrimSpace(st)))
		}
	}

	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	runs, totalCount, err := s.runs.List(ctx, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]runSummaryResponse, len(runs))
	for i, run := range runs {
		summaries[i] = domainRunToSummary(run)
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:          summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getResearchRunSteps handles GET /research-runs/{runID}/steps.
func (s *Server) getResearchRunSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	// Distinguish "no steps yet" from "no such run".
	if _, err := s.runs.Get(ctx, runID); err != nil {
		writeDomainError(w, err)
		return
	}

	steps, err := s.steps.ListByRun(ctx, runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]stepResponse, len(steps))
	for i, step := range steps {
		responses[i] = domainStepToResponse(step)
	}

	writeJSON(w, http.StatusOK, listStepsResponse{
		RunID: runID.String(),
		Steps: responses,
	})
}

// getResearchRunReferences handles GET /research-runs/{runID}/references.
// For completed runs this is the report's ordered reference list; for runs
// still in flight it falls back to the citations collected so far.
func (s *Server) getResearchRunReferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if len(run.SynthesizedSources) > 0 {
		refs := make([]referenceResponse, len(run.SynthesizedSources))
		for i, ref := range run.SynthesizedSources {
			refs[i] = domainReferenceToResponse(ref)
		}
		writeJSON(w, http.StatusOK, listReferencesResponse{
			RunID:      runID.String(),
			References: refs,
		})
		return
	}

	citations, err := s.citations.ListCitations(ctx, runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	refs := make([]referenceResponse, len(citations))
	for i, c := range citations {
		refs[i] = referenceResponse{
			Number:     i + 1,
			CitationID: c.ID,
			URL:        c.URL,
			Title:      c.Title,
		}
	}

	writeJSON(w, http.StatusOK, listReferencesResponse{
		RunID:      runID.String(),
		References: refs,
	})
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRunTerminal):
		writeError(w, http.StatusConflict, "run is already in terminal state")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid state transition")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// Returns the parsed UUID and true on success, or uuid.Nil and false on failure.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
