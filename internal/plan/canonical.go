// Package plan provides plan canonicalization, fallback plan construction,
// and tolerant parsing of structured step output.
package plan

import (
	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// ExecutableSteps canonicalizes the step list for a run from its accepted
// plan. The plan-declared step types are intersected with the fixed canonical
// sequence; the result always preserves canonical order regardless of the
// order the plan declares. If the plan is nil, declares no recognizable
// steps, or omits either the planning or synthesis stage, the full canonical
// sequence is used instead.
//
// This derivation is a pure function of the plan, so re-running it on every
// tick yields an identical list for the same run.
func ExecutableSteps(p *domain.ResearchPlan) []domain.StepType {
	full := domain.CanonicalStepSequence()

	declared := p.DeclaredTypes()
	if len(declared) == 0 {
		return full
	}

	// The pipeline cannot function without its first and last stages. A plan
	// that drops either is malformed input, and the whole canonical sequence
	// takes over.
	if !declared[domain.StepTypePlan] || !declared[domain.StepTypeSynthesize] {
		return full
	}

	steps := make([]domain.StepType, 0, len(full))
	for _, t := range full {
		if declared[t] {
			steps = append(steps, t)
		}
	}
	return steps
}
