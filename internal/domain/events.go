package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published on the research run lifecycle topic. The downstream
// report finalizer consumes run.completed; the UI backend consumes the rest
// for session history.
const (
	EventTypeRunStarted   = "research.run.started"
	EventTypeRunProgress  = "research.run.progress"
	EventTypeRunCompleted = "research.run.completed"
	EventTypeRunFailed    = "research.run.failed"
)

// RunEvent is the envelope for run lifecycle events.
type RunEvent struct {
	// EventID uniquely identifies this event instance.
	EventID uuid.UUID `json:"event_id"`

	// EventType is one of the EventType* constants.
	EventType string `json:"event_type"`

	// RunID references the research run.
	RunID uuid.UUID `json:"run_id"`

	// SessionID references the owning session.
	SessionID uuid.UUID `json:"session_id"`

	// Provider is the run's provider lane.
	Provider Provider `json:"provider"`

	// OccurredAt records when the event was generated.
	OccurredAt time.Time `json:"occurred_at"`

	// Progress is set on progress events.
	Progress *RunProgress `json:"progress,omitempty"`

	// Report carries the synthesized output on completed events. The
	// engine guarantees both fields are non-empty before emitting done.
	Report *RunReport `json:"report,omitempty"`

	// ErrorMessage is set on failed events.
	ErrorMessage string `json:"error_message,omitempty"`
}

// RunReport is the synthesized output handed to the report finalizer.
type RunReport struct {
	SynthesizedReport  string      `json:"synthesized_report"`
	SynthesizedSources []Reference `json:"synthesized_sources"`
}

// NewRunEvent builds a RunEvent envelope for the given run.
func NewRunEvent(eventType string, run *ResearchRun) RunEvent {
	return RunEvent{
		EventID:    uuid.New(),
		EventType:  eventType,
		RunID:      run.ID,
		SessionID:  run.SessionID,
		Provider:   run.Provider,
		OccurredAt: time.Now().UTC(),
	}
}
