// Package executor defines the step executor boundary: the narrow interface
// the orchestration engine calls to run one pipeline stage against an
// external research provider, plus thin HTTP adapters for the two supported
// providers.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Request carries everything an adapter needs to execute one step.
type Request struct {
	// Provider selects the provider lane.
	Provider domain.Provider

	// StepType is the canonical stage being executed.
	StepType domain.StepType

	// Question is the session's research question.
	Question string

	// Plan is the run's accepted plan; its entry for StepType shapes the
	// stage prompt. May be nil before the planning stage completes.
	Plan *domain.ResearchPlan

	// PriorSummary is an excerpt of the previous step's output.
	PriorSummary string

	// SourceTarget is the number of sources the stage should aim for.
	SourceTarget int

	// MaxOutputTokens caps the response size.
	MaxOutputTokens int

	// Timeout bounds the provider call. The engine enforces no additional
	// wall-clock timeout of its own.
	Timeout time.Duration
}

// Result is the outcome of one step execution.
type Result struct {
	// RawText is the provider's output text.
	RawText string

	// Payload is the provider-native citation metadata, tagged by provider.
	Payload *domain.ProviderPayload

	// Sources is the raw source list reported alongside the output.
	Sources []domain.Citation

	// Evidence holds structured claims if the provider returned them.
	Evidence []domain.Evidence

	// ToolsUsed lists provider tools invoked during the step.
	ToolsUsed []string

	// TokenUsage records token consumption.
	TokenUsage domain.TokenUsage

	// ModelUsed is the concrete model that served the request.
	ModelUsed string

	// StructuredOutput is the raw structured result for stages that expect
	// one (plan, shortlist, evidence, gap-check), when the provider
	// returned parseable JSON.
	StructuredOutput json.RawMessage

	// UpdatedPlan is set when the planning stage returns a revised plan.
	UpdatedPlan *domain.ResearchPlan
}

// StepExecutor executes a single pipeline stage. Implementations must be
// safely re-callable after a transient failure: retries are whole-step
// re-executions with no idempotency key at this layer.
type StepExecutor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
