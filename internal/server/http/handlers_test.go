package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarpipe/deep-research-service/internal/dispatch"
	"github.com/scholarpipe/deep-research-service/internal/domain"
	"github.com/scholarpipe/deep-research-service/internal/engine"
	"github.com/scholarpipe/deep-research-service/internal/repository"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockRunRepo implements repository.RunRepository for HTTP handler tests.
type mockRunRepo struct {
	createFn     func(ctx context.Context, run *domain.ResearchRun) error
	getFn        func(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error)
	updateFn     func(ctx context.Context, run *domain.ResearchRun) error
	listFn       func(ctx context.Context, filter repository.RunFilter) ([]*domain.ResearchRun, int64, error)
	listActiveFn func(ctx context.Context, sessionID uuid.UUID) ([]*domain.ResearchRun, error)
}

func (m *mockRunRepo) Create(ctx context.Context, run *domain.ResearchRun) error {
	if m.createFn != nil {
		return m.createFn(ctx, run)
	}
	return nil
}

func (m *mockRunRepo) Get(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockRunRepo) Update(ctx context.Context, run *domain.ResearchRun) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, run)
	}
	return nil
}

func (m *mockRunRepo) List(ctx context.Context, filter repository.RunFilter) ([]*domain.ResearchRun, int64, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockRunRepo) ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.ResearchRun, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, sessionID)
	}
	return nil, nil
}

// mockStepRepo implements repository.StepRepository for HTTP handler tests.
type mockStepRepo struct {
	listByRunFn func(ctx context.Context, runID uuid.UUID) ([]*domain.ResearchStep, error)
}

func (m *mockStepRepo) Upsert(_ context.Context, _ *domain.ResearchStep) error { return nil }
func (m *mockStepRepo) Get(_ context.Context, _ uuid.UUID, _ int) (*domain.ResearchStep, error) {
	return nil, domain.ErrNotFound
}
func (m *mockStepRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.ResearchStep, error) {
	if m.listByRunFn != nil {
		return m.listByRunFn(ctx, runID)
	}
	return nil, nil
}
func (m *mockStepRepo) ResetRange(_ context.Context, _ uuid.UUID, _, _ int) (int, error) {
	return 0, nil
}

// mockCitationRepo implements repository.CitationRepository for HTTP handler tests.
type mockCitationRepo struct {
	listCitationsFn func(ctx context.Context, runID uuid.UUID) ([]domain.Citation, error)
}

func (m *mockCitationRepo) UpsertCitations(_ context.Context, _ uuid.UUID, _ []domain.Citation) error {
	return nil
}
func (m *mockCitationRepo) UpsertEvidence(_ context.Context, _, _ uuid.UUID, _ []domain.Evidence) error {
	return nil
}
func (m *mockCitationRepo) ListCitations(ctx context.Context, runID uuid.UUID) ([]domain.Citation, error) {
	if m.listCitationsFn != nil {
		return m.listCitationsFn(ctx, runID)
	}
	return nil, nil
}
func (m *mockCitationRepo) ListEvidence(_ context.Context, _ uuid.UUID) ([]domain.Evidence, error) {
	return nil, nil
}

// mockTicker implements dispatch.Ticker for HTTP handler tests.
type mockTicker struct {
	tickFn func(ctx context.Context, runID uuid.UUID) (engine.TickResult, error)
}

func (m *mockTicker) Tick(ctx context.Context, runID uuid.UUID) (engine.TickResult, error) {
	if m.tickFn != nil {
		return m.tickFn(ctx, runID)
	}
	return engine.TickResult{State: domain.RunStateInProgress}, nil
}

// mockEnqueuer implements dispatch.Enqueuer for HTTP handler tests.
type mockEnqueuer struct {
	jobs []dispatch.TickJob
	err  error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, job dispatch.TickJob) error {
	m.jobs = append(m.jobs, job)
	return m.err
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type serverMocks struct {
	runs      *mockRunRepo
	steps     *mockStepRepo
	citations *mockCitationRepo
	ticker    *mockTicker
	enqueuer  *mockEnqueuer
}

func newTestServer(t *testing.T) (*Server, *serverMocks) {
	t.Helper()
	mocks := &serverMocks{
		runs:      &mockRunRepo{},
		steps:     &mockStepRepo{},
		citations: &mockCitationRepo{},
		ticker:    &mockTicker{},
		enqueuer:  &mockEnqueuer{},
	}
	srv := NewServer(
		Config{Address: "127.0.0.1:0"},
		mocks.runs,
		mocks.steps,
		mocks.citations,
		mocks.ticker,
		mocks.enqueuer,
		nil, // db only needed by health endpoints
		zerolog.Nop(),
	)
	return srv, mocks
}

func doRequest(srv *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
}

func testRun() *domain.ResearchRun {
	now := time.Now().UTC()
	started := now.Add(-time.Minute)
	return &domain.ResearchRun{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		Provider:  domain.ProviderOpenAI,
		Mode:      domain.ModeDeep,
		Depth:     domain.DepthStandard,
		Question:  "What are the economic effects of remote work?",
		State:     domain.RunStateInProgress,
		Progress:  domain.RunProgress{StepIndex: 3, TotalSteps: 8},
		CreatedAt: now.Add(-2 * time.Minute),
		UpdatedAt: now,
		StartedAt: &started,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateResearchRun(t *testing.T) {
	validBody := map[string]interface{}{
		"session_id": uuid.New().String(),
		"provider":   "openai",
		"question":   "What are the economic effects of remote work?",
	}

	t.Run("creates run and enqueues first tick", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		var created *domain.ResearchRun
		mocks.runs.createFn = func(_ context.Context, run *domain.ResearchRun) error {
			created = run
			return nil
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", validBody)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if created == nil {
			t.Fatal("expected run to be created")
		}
		if created.State != domain.RunStateNew {
			t.Errorf("expected new state, got %s", created.State)
		}
		if created.Mode != domain.ModeDeep {
			t.Errorf("expected default deep mode, got %s", created.Mode)
		}
		if created.Depth != domain.DepthStandard {
			t.Errorf("expected default standard depth, got %s", created.Depth)
		}
		if created.Progress.TotalSteps != 8 {
			t.Errorf("expected 8 total steps, got %d", created.Progress.TotalSteps)
		}
		if len(mocks.enqueuer.jobs) != 1 {
			t.Fatalf("expected 1 enqueued tick, got %d", len(mocks.enqueuer.jobs))
		}
		if mocks.enqueuer.jobs[0].RunID != created.ID {
			t.Error("enqueued tick should target the created run")
		}
		if mocks.enqueuer.jobs[0].Reason != "create" {
			t.Errorf("expected create reason, got %q", mocks.enqueuer.jobs[0].Reason)
		}
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/research-runs", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("missing question", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", map[string]interface{}{
			"session_id": uuid.New().String(),
			"provider":   "openai",
		})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", map[string]interface{}{
			"session_id": uuid.New().String(),
			"provider":   "perplexity",
			"question":   "What are the economic effects of remote work?",
		})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("malformed session_id", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", map[string]interface{}{
			"session_id": "not-a-uuid",
			"provider":   "openai",
			"question":   "What are the economic effects of remote work?",
		})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("rejects second active run on the same lane", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		existing := testRun()
		mocks.runs.listActiveFn = func(_ context.Context, _ uuid.UUID) ([]*domain.ResearchRun, error) {
			return []*domain.ResearchRun{existing}, nil
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", validBody)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("allows second lane on a different provider", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		existing := testRun()
		existing.Provider = domain.ProviderGemini
		mocks.runs.listActiveFn = func(_ context.Context, _ uuid.UUID) ([]*domain.ResearchRun, error) {
			return []*domain.ResearchRun{existing}, nil
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", validBody)

		if rec.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("repository duplicate maps to conflict", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		mocks.runs.createFn = func(_ context.Context, run *domain.ResearchRun) error {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", validBody)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("enqueue failure does not fail the request", func(t *testing.T) {
		srv, mocks := newTestServer(t)
		mocks.enqueuer.err = fmt.Errorf("broker down")

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs", validBody)

		if rec.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d", rec.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGetResearchRun(t *testing.T) {
	t.Run("returns run details", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		run := testRun()
		run.Plan = &domain.ResearchPlan{
			Version:      1,
			RefinedTopic: "Economic effects of remote work",
			Steps:        []domain.PlanStep{{StepIndex: 1, StepType: domain.StepTypeDiscover, Title: "Discover sources"}},
		}
		mocks.runs.getFn = func(_ context.Context, id uuid.UUID) (*domain.ResearchRun, error) {
			if id != run.ID {
				return nil, domain.ErrNotFound
			}
			return run, nil
		}

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+run.ID.String(), nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp runResponse
		decodeBody(t, rec, &resp)
		if resp.RunID != run.ID.String() {
			t.Errorf("expected run id %s, got %s", run.ID, resp.RunID)
		}
		if resp.State != "in_progress" {
			t.Errorf("expected in_progress, got %s", resp.State)
		}
		if resp.Plan == nil || resp.Plan.RefinedTopic != "Economic effects of remote work" {
			t.Errorf("expected plan in response, got %+v", resp.Plan)
		}
		if resp.Progress.StepIndex != 3 {
			t.Errorf("expected step index 3, got %d", resp.Progress.StepIndex)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+uuid.New().String(), nil)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("malformed run id", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/nope", nil)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

func TestTickResearchRun(t *testing.T) {
	t.Run("performs a pass and reports resulting state", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		runID := uuid.New()
		var ticked uuid.UUID
		mocks.ticker.tickFn = func(_ context.Context, id uuid.UUID) (engine.TickResult, error) {
			ticked = id
			return engine.TickResult{State: domain.RunStateDone, Done: true}, nil
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs/"+runID.String()+"/tick", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if ticked != runID {
			t.Error("tick should target the requested run")
		}

		var resp tickResponse
		decodeBody(t, rec, &resp)
		if resp.State != "done" || !resp.Done {
			t.Errorf("unexpected tick response: %+v", resp)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		mocks.ticker.tickFn = func(_ context.Context, id uuid.UUID) (engine.TickResult, error) {
			return engine.TickResult{}, domain.NewNotFoundError("run", id.String())
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs/"+uuid.New().String()+"/tick", nil)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("malformed run id", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodPost, "/api/v1/research-runs/xyz/tick", nil)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListResearchRuns(t *testing.T) {
	t.Run("passes filters through", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		sessionID := uuid.New()
		var gotFilter repository.RunFilter
		mocks.runs.listFn = func(_ context.Context, filter repository.RunFilter) ([]*domain.ResearchRun, int64, error) {
			gotFilter = filter
			return []*domain.ResearchRun{testRun()}, 1, nil
		}

		target := fmt.Sprintf("/api/v1/research-runs?session_id=%s&provider=openai&state=in_progress,done&page_size=10", sessionID)
		rec := doRequest(srv, http.MethodGet, target, nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if gotFilter.SessionID == nil || *gotFilter.SessionID != sessionID {
			t.Error("session filter not applied")
		}
		if gotFilter.Provider != domain.ProviderOpenAI {
			t.Errorf("provider filter not applied: %q", gotFilter.Provider)
		}
		if len(gotFilter.States) != 2 {
			t.Errorf("expected 2 state filters, got %v", gotFilter.States)
		}
		if gotFilter.Limit != 10 {
			t.Errorf("expected limit 10, got %d", gotFilter.Limit)
		}

		var resp listRunsResponse
		decodeBody(t, rec, &resp)
		if len(resp.Runs) != 1 || resp.TotalCount != 1 {
			t.Errorf("unexpected list response: %+v", resp)
		}
	})

	t.Run("emits next page token when more results remain", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		mocks.runs.listFn = func(_ context.Context, _ repository.RunFilter) ([]*domain.ResearchRun, int64, error) {
			return []*domain.ResearchRun{testRun()}, 120, nil
		}

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs", nil)

		var resp listRunsResponse
		decodeBody(t, rec, &resp)
		if resp.NextPageToken == "" {
			t.Error("expected a next page token")
		}
	})

	t.Run("malformed session_id", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs?session_id=zzz", nil)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("malformed created_after", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs?created_after=yesterday", nil)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown state filter rejected by repository", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		mocks.runs.listFn = func(_ context.Context, _ repository.RunFilter) ([]*domain.ResearchRun, int64, error) {
			return nil, 0, domain.NewValidationError("states", "unknown run state")
		}

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs?state=paused", nil)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

func TestGetResearchRunSteps(t *testing.T) {
	t.Run("returns step summaries in order", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		run := testRun()
		mocks.runs.getFn = func(_ context.Context, _ uuid.UUID) (*domain.ResearchRun, error) {
			return run, nil
		}
		mocks.steps.listByRunFn = func(_ context.Context, _ uuid.UUID) ([]*domain.ResearchStep, error) {
			return []*domain.ResearchStep{
				{RunID: run.ID, StepIndex: 0, StepType: domain.StepTypePlan, Status: domain.StepStatusDone},
				{RunID: run.ID, StepIndex: 1, StepType: domain.StepTypeDiscover, Status: domain.StepStatusRunning,
					Citations: []domain.Citation{{ID: "cit_1", URL: "https://example.org"}}},
			}, nil
		}

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+run.ID.String()+"/steps", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp listStepsResponse
		decodeBody(t, rec, &resp)
		if len(resp.Steps) != 2 {
			t.Fatalf("expected 2 steps, got %d", len(resp.Steps))
		}
		if resp.Steps[0].StepType != "plan" || resp.Steps[1].StepType != "discover" {
			t.Errorf("unexpected step order: %+v", resp.Steps)
		}
		if resp.Steps[1].CitationCount != 1 {
			t.Errorf("expected citation count 1, got %d", resp.Steps[1].CitationCount)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+uuid.New().String()+"/steps", nil)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

func TestGetResearchRunReferences(t *testing.T) {
	t.Run("returns synthesized sources for completed runs", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		run := testRun()
		run.State = domain.RunStateDone
		run.SynthesizedSources = []domain.Reference{
			{Number: 1, CitationID: "cit_a", URL: "https://example.org/a", Title: "A"},
			{Number: 2, CitationID: "cit_b", URL: "https://example.org/b"},
		}
		mocks.runs.getFn = func(_ context.Context, _ uuid.UUID) (*domain.ResearchRun, error) {
			return run, nil
		}

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+run.ID.String()+"/references", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp listReferencesResponse
		decodeBody(t, rec, &resp)
		if len(resp.References) != 2 {
			t.Fatalf("expected 2 references, got %d", len(resp.References))
		}
		if resp.References[0].Number != 1 || resp.References[0].CitationID != "cit_a" {
			t.Errorf("unexpected first reference: %+v", resp.References[0])
		}
	})

	t.Run("falls back to collected citations for runs in flight", func(t *testing.T) {
		srv, mocks := newTestServer(t)

		run := testRun()
		mocks.runs.getFn = func(_ context.Context, _ uuid.UUID) (*domain.ResearchRun, error) {
			return run, nil
		}
		mocks.citations.listCitationsFn = func(_ context.Context, _ uuid.UUID) ([]domain.Citation, error) {
			return []domain.Citation{
				{ID: "cit_x", URL: "https://example.org/x", Title: "X"},
			}, nil
		}

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+run.ID.String()+"/references", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp listReferencesResponse
		decodeBody(t, rec, &resp)
		if len(resp.References) != 1 {
			t.Fatalf("expected 1 reference, got %d", len(resp.References))
		}
		if resp.References[0].Number != 1 || resp.References[0].CitationID != "cit_x" {
			t.Errorf("unexpected reference: %+v", resp.References[0])
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodGet, "/api/v1/research-runs/"+uuid.New().String()+"/references", nil)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
