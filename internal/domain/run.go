package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResearchRun is one end-to-end pipeline execution for one provider lane
// against one session's question. Runs are owned exclusively by the
// orchestration engine and mutated only through the repository's merge-update
// operation.
type ResearchRun struct {
	ID uuid.UUID `json:"id"`

	// SessionID references the user session this run belongs to. A session
	// owns one run per provider lane; lanes execute fully independently.
	SessionID uuid.UUID `json:"session_id"`

	// Provider is the external provider lane executing this run.
	Provider Provider `json:"provider"`

	// Mode is the research style requested by the user.
	Mode Mode `json:"mode"`

	// Depth controls how exhaustively each stage searches and reads.
	Depth Depth `json:"depth"`

	// Question is the user's research question.
	Question string `json:"question"`

	// Plan is the accepted research plan (stored as JSONB). Nil until the
	// planning stage completes or the fallback plan is substituted.
	Plan *ResearchPlan `json:"plan,omitempty"`

	// Progress is the progress snapshot (stored as JSONB, shallow-merged).
	Progress RunProgress `json:"progress"`

	// CurrentStepIndex is the index of the next step to execute. It is
	// monotonically non-decreasing except for the single controlled
	// gap-loop reset to index 1.
	CurrentStepIndex int `json:"current_step_index"`

	// State is the run lifecycle state.
	State RunState `json:"state"`

	// ErrorMessage holds the user-visible failure description for failed runs.
	ErrorMessage string `json:"error_message,omitempty"`

	// SynthesizedReport is the final report text, set when the run reaches done.
	SynthesizedReport string `json:"synthesized_report,omitempty"`

	// SynthesizedSources is the ordered reference list produced by citation
	// normalization of the synthesis step, set when the run reaches done.
	SynthesizedSources []Reference `json:"synthesized_sources,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsActive returns true if the run is still in progress.
func (r *ResearchRun) IsActive() bool {
	return !r.State.IsTerminal()
}

// Duration returns the elapsed time of the run. Zero if not started, elapsed
// from start if still running, total duration if completed.
func (r *ResearchRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt)
	}
	return time.Since(*r.StartedAt)
}

// LockKey returns the named mutual-exclusion key for this run's provider
// lane. All runs on the same provider share one key, bounding system-wide
// concurrent provider calls to exactly one per lane.
func (r *ResearchRun) LockKey() string {
	return "provider:" + string(r.Provider)
}

// SessionLockKey returns the try-lock key that prevents two concurrent
// orchestration passes for the same session.
func (r *ResearchRun) SessionLockKey() string {
	return "session:" + r.SessionID.String()
}

// ResearchStep is one row per (run_id, step_index). The pair is the step's
// identity: repository writes are upserts keyed on it, never appends, so
// redelivered work cannot duplicate persisted state.
type ResearchStep struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	StepIndex int       `json:"step_index"`

	// StepType is one of the eight canonical stage types.
	StepType StepType `json:"step_type"`

	// Status is the step execution status.
	Status StepStatus `json:"status"`

	// RawOutput is the full provider output text for the step.
	RawOutput string `json:"raw_output,omitempty"`

	// OutputExcerpt is a short prefix of RawOutput used as prior-step
	// context for the next stage's prompt.
	OutputExcerpt string `json:"output_excerpt,omitempty"`

	// Citations are the normalized citations extracted from this step.
	Citations []Citation `json:"citations,omitempty"`

	// Evidence holds structured claims extracted from this step.
	Evidence []Evidence `json:"evidence,omitempty"`

	// ProviderPayload is the provider-native citation metadata, tagged by
	// provider so the citation normalizer can dispatch without duck-typing.
	ProviderPayload *ProviderPayload `json:"provider_payload,omitempty"`

	// RetryableErrorCount counts consecutive transient failures for this
	// step. Reset to zero is unnecessary: a successful execution marks the
	// step done and the counter is never consulted again.
	RetryableErrorCount int `json:"retryable_error_count"`

	// ErrorMessage holds the most recent execution error, if any.
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Excerpt returns the first n runes of s, used to build step output excerpts.
func Excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ProviderPayload is a tagged union of provider-native citation metadata.
// Exactly one of the provider-specific fields is set, matching Provider.
type ProviderPayload struct {
	Provider Provider       `json:"provider"`
	OpenAI   *OpenAIPayload `json:"openai,omitempty"`
	Gemini   *GeminiPayload `json:"gemini,omitempty"`
}

// OpenAIPayload carries position-tagged URL annotations on the output text.
type OpenAIPayload struct {
	Annotations []OpenAIAnnotation `json:"annotations,omitempty"`
}

// OpenAIAnnotation is a single URL citation span. StartIndex/EndIndex are
// character offsets into the step's raw output text.
type OpenAIAnnotation struct {
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
}

// GeminiPayload carries grounding chunks and the supports that map output
// text segments onto them.
type GeminiPayload struct {
	GroundingChunks   []GroundingChunk   `json:"grounding_chunks,omitempty"`
	GroundingSupports []GroundingSupport `json:"grounding_supports,omitempty"`
}

// GroundingChunk is one retrieved web source.
type GroundingChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// GroundingSupport maps a text segment to one or more grounding chunks by index.
type GroundingSupport struct {
	Segment               GroundingSegment `json:"segment"`
	GroundingChunkIndices []int            `json:"grounding_chunk_indices,omitempty"`
}

// GroundingSegment is the text span a grounding support applies to.
type GroundingSegment struct {
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Text       string `json:"text,omitempty"`
}
