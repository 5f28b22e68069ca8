package plan

import (
	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// FallbackPlanVersion marks plans produced by the fallback builder.
const FallbackPlanVersion = 1

// Per-stage output budgets for the fallback plan. The synthesis stage gets
// the largest share since it produces the final report.
const (
	fallbackStageBudget     = 2048
	fallbackSynthesisBudget = 8192
	fallbackSourceTarget    = 8
)

// Fallback builds the canonical default plan used when the planning stage
// produces unparseable output. The result is deterministic for a given
// question so retried planning steps converge on identical state.
func Fallback(question string, depth domain.Depth) *domain.ResearchPlan {
	sourceTarget := fallbackSourceTarget
	switch depth {
	case domain.DepthQuick:
		sourceTarget = 4
	case domain.DepthThorough:
		sourceTarget = 14
	}

	steps := make([]domain.PlanStep, 0, 8)
	for i, t := range domain.CanonicalStepSequence() {
		step := domain.PlanStep{
			StepIndex:       i,
			StepType:        t,
			Title:           t.Label(),
			Objective:       fallbackObjective(t),
			MaxOutputTokens: fallbackStageBudget,
			SourceTarget:    sourceTarget,
			DoneDefinition:  "stage produced its deliverable",
		}
		if t == domain.StepTypeSynthesize {
			step.MaxOutputTokens = fallbackSynthesisBudget
		}
		if t == domain.StepTypeDiscover {
			step.SearchQueries = []string{question}
		}
		steps = append(steps, step)
	}

	return &domain.ResearchPlan{
		Version:          FallbackPlanVersion,
		RefinedTopic:     question,
		TotalTokenBudget: fallbackStageBudget*7 + fallbackSynthesisBudget,
		Steps:            steps,
	}
}

func fallbackObjective(t domain.StepType) string {
	switch t {
	case domain.StepTypePlan:
		return "Refine the question into a research plan"
	case domain.StepTypeDiscover:
		return "Find candidate sources covering the question"
	case domain.StepTypeShortlist:
		return "Rank discovered sources and keep the most relevant"
	case domain.StepTypeDeepRead:
		return "Read shortlisted sources in full"
	case domain.StepTypeExtractEvidence:
		return "Extract claims with supporting snippets and citations"
	case domain.StepTypeCounterpoints:
		return "Find credible sources that dispute the main claims"
	case domain.StepTypeGapCheck:
		return "Assess coverage and flag severe gaps"
	case domain.StepTypeSynthesize:
		return "Write the final report with inline citations"
	default:
		return ""
	}
}
