package domain

// ResearchPlan is the structured, versioned plan accepted for a run.
// Stored as JSONB. The plan is descriptive input to stage prompts; the
// engine always executes the fixed canonical step order regardless of the
// order steps are declared here.
type ResearchPlan struct {
	// Version is the plan schema version.
	Version int `json:"version"`

	// RefinedTopic is the planner's restatement of the research question.
	RefinedTopic string `json:"refined_topic"`

	// Assumptions lists assumptions the planner made about scope.
	Assumptions []string `json:"assumptions,omitempty"`

	// TotalTokenBudget is the overall output token budget across stages.
	TotalTokenBudget int `json:"total_token_budget,omitempty"`

	// Steps is the ordered list of planned steps. Steps may appear in any
	// order or be missing; canonicalization reconciles them against the
	// fixed sequence at run start.
	Steps []PlanStep `json:"steps"`
}

// PlanStep describes one planned stage.
type PlanStep struct {
	// StepIndex is the planner-declared position. Informational only.
	StepIndex int `json:"step_index"`

	// StepType names the canonical stage this plan entry describes.
	StepType StepType `json:"step_type"`

	// Title is a short human-readable name for the stage.
	Title string `json:"title,omitempty"`

	// Objective states what the stage should accomplish.
	Objective string `json:"objective,omitempty"`

	// TargetSourceTypes lists the kinds of sources the stage should prefer
	// (e.g. "peer_reviewed", "news", "primary_docs").
	TargetSourceTypes []string `json:"target_source_types,omitempty"`

	// SearchQueries is the query pack the stage should issue.
	SearchQueries []string `json:"search_queries,omitempty"`

	// MaxOutputTokens caps the stage's output budget.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// SourceTarget is the number of sources the stage should aim to cover.
	SourceTarget int `json:"source_target,omitempty"`

	// Deliverables lists the artifacts the stage must produce.
	Deliverables []string `json:"deliverables,omitempty"`

	// DoneDefinition states when the stage counts as complete.
	DoneDefinition string `json:"done_definition,omitempty"`
}

// StepFor returns the plan entry for the given step type, or nil if the plan
// does not declare one.
func (p *ResearchPlan) StepFor(t StepType) *PlanStep {
	if p == nil {
		return nil
	}
	for i := range p.Steps {
		if p.Steps[i].StepType == t {
			return &p.Steps[i]
		}
	}
	return nil
}

// DeclaredTypes returns the set of canonical step types the plan declares,
// ignoring entries with unknown types.
func (p *ResearchPlan) DeclaredTypes() map[StepType]bool {
	types := make(map[StepType]bool)
	if p == nil {
		return types
	}
	for _, s := range p.Steps {
		if s.StepType.Valid() {
			types[s.StepType] = true
		}
	}
	return types
}
