package httpserver

import (
	"time"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Run response types for JSON serialization.

type createRunResponse struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

type tickResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
	Done  bool   `json:"done"`
}

type runResponse struct {
	RunID             string              `json:"run_id"`
	SessionID         string              `json:"session_id"`
	Provider          string              `json:"provider"`
	Mode              string              `json:"mode"`
	Depth             string              `json:"depth"`
	Question          string              `json:"question"`
	State             string              `json:"state"`
	Plan              *planResponse       `json:"plan,omitempty"`
	Progress          progressResponse    `json:"progress"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	SynthesizedReport string              `json:"synthesized_report,omitempty"`
	References        []referenceResponse `json:"references,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	Duration          string              `json:"duration,omitempty"`
}

type planResponse struct {
	Version      int                `json:"version"`
	RefinedTopic string             `json:"refined_topic,omitempty"`
	Assumptions  []string           `json:"assumptions,omitempty"`
	Steps        []planStepResponse `json:"steps,omitempty"`
}

type planStepResponse struct {
	StepIndex int    `json:"step_index"`
	StepType  string `json:"step_type"`
	Title     string `json:"title,omitempty"`
	Objective string `json:"objective,omitempty"`
}

type progressResponse struct {
	StepID     string `json:"step_id,omitempty"`
	StepIndex  int    `json:"step_index"`
	TotalSteps int    `json:"total_steps"`
	StepLabel  string `json:"step_label,omitempty"`
	GapLoops   int    `json:"gap_loops"`
}

type runSummaryResponse struct {
	RunID       string     `json:"run_id"`
	SessionID   string     `json:"session_id"`
	Provider    string     `json:"provider"`
	State       string     `json:"state"`
	StepIndex   int        `json:"step_index"`
	TotalSteps  int        `json:"total_steps"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

type listRunsResponse struct {
	Runs          []runSummaryResponse `json:"runs"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

type stepResponse struct {
	StepIndex     int        `json:"step_index"`
	StepType      string     `json:"step_type"`
	Status        string     `json:"status"`
	OutputExcerpt string     `json:"output_excerpt,omitempty"`
	CitationCount int        `json:"citation_count"`
	EvidenceCount int        `json:"evidence_count"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type listStepsResponse struct {
	RunID string         `json:"run_id"`
	Steps []stepResponse `json:"steps"`
}

type referenceResponse struct {
	Number     int    `json:"n"`
	CitationID string `json:"citation_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
}

type listReferencesResponse struct {
	RunID      string              `json:"run_id"`
	References []referenceResponse `json:"references"`
}

// Converter functions

func domainRunToResponse(run *domain.ResearchRun) runResponse {
	resp := runResponse{
		RunID:             run.ID.String(),
		SessionID:         run.SessionID.String(),
		Provider:          string(run.Provider),
		Mode:              string(run.Mode),
		Depth:             string(run.Depth),
		Question:          run.Question,
		State:             string(run.State),
		Progress:          domainProgressToResponse(run.Progress),
		ErrorMessage:      run.ErrorMessage,
		SynthesizedReport: run.SynthesizedReport,
		CreatedAt:         run.CreatedAt,
		StartedAt:         run.StartedAt,
		CompletedAt:       run.CompletedAt,
	}
	if run.Plan != nil {
		resp.Plan = domainPlanToResponse(run.Plan)
	}
	if len(run.SynthesizedSources) > 0 {
		resp.References = make([]referenceResponse, len(run.SynthesizedSources))
		for i, ref := range run.SynthesizedSources {
			resp.References[i] = domainReferenceToResponse(ref)
		}
	}
	if d := run.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainPlanToResponse(plan *domain.ResearchPlan) *planResponse {
	resp := &planResponse{
		Version:      plan.Version,
		RefinedTopic: plan.RefinedTopic,
		Assumptions:  plan.Assumptions,
	}
	for _, step := range plan.Steps {
		resp.Steps = append(resp.Steps, planStepResponse{
			StepIndex: step.StepIndex,
			StepType:  string(step.StepType),
			Title:     step.Title,
			Objective: step.Objective,
		})
	}
	return resp
}

func domainProgressToResponse(p domain.RunProgress) progressResponse {
	return progressResponse{
		StepID:     p.StepID,
		StepIndex:  p.StepIndex,
		TotalSteps: p.TotalSteps,
		StepLabel:  p.StepLabel,
		GapLoops:   p.GapLoops,
	}
}

func domainRunToSummary(run *domain.ResearchRun) runSummaryResponse {
	resp := runSummaryResponse{
		RunID:       run.ID.String(),
		SessionID:   run.SessionID.String(),
		Provider:    string(run.Provider),
		State:       string(run.State),
		StepIndex:   run.Progress.StepIndex,
		TotalSteps:  run.Progress.TotalSteps,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
	if d := run.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainStepToResponse(step *domain.ResearchStep) stepResponse {
	return stepResponse{
		StepIndex:     step.StepIndex,
		StepType:      string(step.StepType),
		Status:        string(step.Status),
		OutputExcerpt: step.OutputExcerpt,
		CitationCount: len(step.Citations),
		EvidenceCount: len(step.Evidence),
		RetryCount:    step.RetryableErrorCount,
		ErrorMessage:  step.ErrorMessage,
		StartedAt:     step.StartedAt,
		CompletedAt:   step.CompletedAt,
	}
}

func domainReferenceToResponse(ref domain.Reference) referenceResponse {
	return referenceResponse{
		Number:     ref.Number,
		CitationID: ref.CitationID,
		URL:        ref.URL,
		Title:      ref.Title,
	}
}
