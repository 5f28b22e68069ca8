// Package dispatch moves tick jobs between the run scanner, Kafka, and the
// orchestration engine. A tick job names one run that should receive one
// orchestration pass; delivery is at-least-once, which is safe because every
// pass is idempotent.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scholarpipe/deep-research-service/internal/engine"
)

// TickJob is the message carried on the tick topic. One job requests one
// orchestration pass for one run.
type TickJob struct {
	// RunID identifies the run to tick.
	RunID uuid.UUID `json:"run_id"`

	// EnqueuedAt records when the job was produced.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Reason tags why the job was produced ("scan", "create", "requeue").
	Reason string `json:"reason,omitempty"`
}

// Ticker performs one orchestration pass for a run. Satisfied by
// *engine.Engine.
type Ticker interface {
	Tick(ctx context.Context, runID uuid.UUID) (engine.TickResult, error)
}

// Enqueuer accepts tick jobs for later execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, job TickJob) error
}
