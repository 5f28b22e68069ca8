// Package domain provides domain models and business logic for the Deep Research Service.
package domain

// RunState represents the lifecycle states of a research run.
// These values must match the database enum run_state.
type RunState string

const (
	RunStateNew        RunState = "new"
	RunStatePlanned    RunState = "planned"
	RunStateInProgress RunState = "in_progress"
	RunStateDone       RunState = "done"
	RunStateFailed     RunState = "failed"
)

// Valid reports whether s is a known run state.
func (s RunState) Valid() bool {
	switch s {
	case RunStateNew, RunStatePlanned, RunStateInProgress, RunStateDone, RunStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state represents a final state that will not change.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateDone, RunStateFailed:
		return true
	default:
		return false
	}
}

// validRunTransitions defines the allowed run state transitions.
// Run state only moves forward, except for the in_progress self-loop used
// by repeated ticks and the gap loop-back.
var validRunTransitions = map[RunState][]RunState{
	RunStateNew: {
		RunStatePlanned,
		RunStateInProgress,
		RunStateFailed,
	},
	RunStatePlanned: {
		RunStateInProgress,
		RunStateDone,
		RunStateFailed,
	},
	RunStateInProgress: {
		RunStateInProgress,
		RunStateDone,
		RunStateFailed,
	},
}

// CanTransitionTo reports whether a run may move from its current state to
// the target state. Terminal states never transition.
func (s RunState) CanTransitionTo(to RunState) bool {
	if s.IsTerminal() {
		return false
	}
	for _, allowed := range validRunTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StepStatus represents the execution state of a single research step.
// These values must match the database enum step_status.
type StepStatus string

const (
	StepStatusQueued  StepStatus = "queued"
	StepStatusRunning StepStatus = "running"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
)

// validStepTransitions defines the allowed step status transitions.
// running -> queued is the transient-retry requeue path. done -> queued
// happens only through the bulk gap-loop reset, which is modelled as a
// repository operation rather than a per-step transition.
var validStepTransitions = map[StepStatus][]StepStatus{
	StepStatusQueued:  {StepStatusRunning},
	StepStatusRunning: {StepStatusDone, StepStatusFailed, StepStatusQueued},
	StepStatusFailed:  {StepStatusQueued},
}

// CanTransitionTo reports whether a step may move to the target status.
func (s StepStatus) CanTransitionTo(to StepStatus) bool {
	for _, allowed := range validStepTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StepType identifies one of the eight canonical pipeline stages.
// These values must match the database enum step_type.
type StepType string

const (
	StepTypePlan            StepType = "plan"
	StepTypeDiscover        StepType = "discover"
	StepTypeShortlist       StepType = "shortlist"
	StepTypeDeepRead        StepType = "deep_read"
	StepTypeExtractEvidence StepType = "extract_evidence"
	StepTypeCounterpoints   StepType = "counterpoints"
	StepTypeGapCheck        StepType = "gap_check"
	StepTypeSynthesize      StepType = "synthesize"
)

// canonicalStepSequence is the fixed total order steps always execute in.
// Plans may declare steps in any order or omit some; execution never deviates
// from this sequence. The divergence is deliberate: the plan is descriptive
// input to prompts, never a scheduling instruction.
var canonicalStepSequence = []StepType{
	StepTypePlan,
	StepTypeDiscover,
	StepTypeShortlist,
	StepTypeDeepRead,
	StepTypeExtractEvidence,
	StepTypeCounterpoints,
	StepTypeGapCheck,
	StepTypeSynthesize,
}

// CanonicalStepSequence returns a copy of the fixed eight-stage execution order.
func CanonicalStepSequence() []StepType {
	seq := make([]StepType, len(canonicalStepSequence))
	copy(seq, canonicalStepSequence)
	return seq
}

// Valid reports whether t is one of the eight canonical step types.
func (t StepType) Valid() bool {
	for _, s := range canonicalStepSequence {
		if s == t {
			return true
		}
	}
	return false
}

// Label returns a human-readable label for progress reporting.
func (t StepType) Label() string {
	switch t {
	case StepTypePlan:
		return "Planning research approach"
	case StepTypeDiscover:
		return "Discovering sources"
	case StepTypeShortlist:
		return "Shortlisting sources"
	case StepTypeDeepRead:
		return "Reading shortlisted sources"
	case StepTypeExtractEvidence:
		return "Extracting evidence"
	case StepTypeCounterpoints:
		return "Gathering counterpoints"
	case StepTypeGapCheck:
		return "Checking coverage gaps"
	case StepTypeSynthesize:
		return "Synthesizing report"
	default:
		return string(t)
	}
}

// Provider identifies an external research provider lane.
// These values must match the database enum provider.
type Provider string

const (
	// ProviderOpenAI tags runs executed against the provider that returns
	// position-tagged URL annotations on its output text.
	ProviderOpenAI Provider = "openai"

	// ProviderGemini tags runs executed against the provider that returns
	// grounding chunks and grounding supports alongside its output text.
	ProviderGemini Provider = "gemini"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderOpenAI || p == ProviderGemini
}

// String returns the wire value of the provider.
func (p Provider) String() string {
	return string(p)
}

// Providers returns all known provider lanes.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderGemini}
}

// Mode selects the research style for a run.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
)

// Depth selects how exhaustively each stage searches and reads.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthThorough Depth = "thorough"
)

// Confidence grades how strongly a piece of evidence supports its claim.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "med"
	ConfidenceHigh   Confidence = "high"
)

// RunProgress is the progress snapshot stored as JSONB on a run.
// Repository updates shallow-merge this object rather than replacing it, so
// concurrent writers touching different fields do not clobber each other.
type RunProgress struct {
	// StepID identifies the step currently executing or about to execute.
	StepID string `json:"step_id,omitempty"`

	// StepIndex is the zero-based index of the current step.
	StepIndex int `json:"step_index"`

	// TotalSteps is the length of the executable step list for this run.
	TotalSteps int `json:"total_steps"`

	// StepLabel is the human-readable label of the current step.
	StepLabel string `json:"step_label,omitempty"`

	// GapLoops counts how many gap loop-backs this run has performed.
	GapLoops int `json:"gap_loops"`
}

// TokenUsage records provider token consumption for a single step execution.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
