// Package engine implements the run orchestration state machine. An external
// poller calls Tick repeatedly; each call executes at most one pipeline step,
// persists the result, and returns. Progress is durable, so abandoned runs
// resume wherever they stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarpipe/deep-research-service/internal/citation"
	"github.com/scholarpipe/deep-research-service/internal/domain"
	"github.com/scholarpipe/deep-research-service/internal/executor"
	"github.com/scholarpipe/deep-research-service/internal/lock"
	"github.com/scholarpipe/deep-research-service/internal/observability"
	"github.com/scholarpipe/deep-research-service/internal/plan"
	"github.com/scholarpipe/deep-research-service/internal/repository"
)

// Default engine tuning values.
const (
	defaultMaxGapLoops        = 2
	defaultRetryCeiling       = 3
	defaultStepTimeout        = 5 * time.Minute
	defaultPriorSummaryLength = 2000

	defaultStageTokens     = 2048
	defaultSynthesisTokens = 8192
)

// Config holds the engine's tuning knobs. Zero values mean defaults.
type Config struct {
	// MaxGapLoops bounds how many times a run may loop back from the
	// gap-check stage (default 2).
	MaxGapLoops int

	// RetryCeiling caps consecutive transient failures per step (default 3).
	// The next failure past the ceiling fails the run.
	RetryCeiling int

	// StepTimeout bounds each executor call (default 5m). The engine
	// enforces no additional wall-clock timeout of its own.
	StepTimeout time.Duration

	// PriorSummaryLength is the rune length of the prior-step excerpt fed
	// to the next stage's prompt (default 2000).
	PriorSummaryLength int
}

func (c Config) withDefaults() Config {
	if c.MaxGapLoops <= 0 {
		c.MaxGapLoops = defaultMaxGapLoops
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = defaultRetryCeiling
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = defaultStepTimeout
	}
	if c.PriorSummaryLength <= 0 {
		c.PriorSummaryLength = defaultPriorSummaryLength
	}
	return c
}

// TickResult is the outcome of one orchestration pass.
type TickResult struct {
	// State is the run state after the pass.
	State domain.RunState

	// Done is true once the run is terminal and polling can stop.
	Done bool
}

// ExecutorRegistry resolves the step executor for a provider lane.
// Satisfied by executor.Registry.
type ExecutorRegistry interface {
	For(provider domain.Provider) (executor.StepExecutor, error)
}

// EventPublisher receives run lifecycle events. Publishing is best-effort:
// failures are logged, never fail a tick.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RunEvent) error
}

// Deps collects the engine's collaborators.
type Deps struct {
	Runs      repository.RunRepository
	Steps     repository.StepRepository
	Citations repository.CitationRepository
	Executors ExecutorRegistry
	Locker    lock.Locker

	// Publisher is optional; nil disables event publishing.
	Publisher EventPublisher

	// Metrics is optional; nil disables metric recording.
	Metrics *observability.Metrics
}

// Engine drives research runs through the canonical step sequence.
type Engine struct {
	runs      repository.RunRepository
	steps     repository.StepRepository
	citations repository.CitationRepository
	executors ExecutorRegistry
	locker    lock.Locker
	publisher EventPublisher
	metrics   *observability.Metrics
	cfg       Config
	logger    zerolog.Logger
}

// New creates an engine with defaults applied to the zero fields of cfg.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		runs:      deps.Runs,
		steps:     deps.Steps,
		citations: deps.Citations,
		executors: deps.Executors,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// Tick advances the run by at most one step. Terminal runs return
// immediately unchanged. A pass that cannot make progress (session already
// being advanced, provider lane busy, gating repair) returns
// {IN_PROGRESS, false} so the poller retries later.
func (e *Engine) Tick(ctx context.Context, runID uuid.UUID) (TickResult, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return TickResult{}, err
	}

	if run.State.IsTerminal() {
		return TickResult{State: run.State, Done: true}, nil
	}

	// One orchestration pass per session at a time; a manual retry racing
	// a background poll is "already being advanced", not an error.
	sessionKey := run.SessionLockKey()
	acquired, err := e.locker.TryAcquire(ctx, sessionKey)
	if err != nil {
		return TickResult{}, err
	}
	if !acquired {
		if e.metrics != nil {
			e.metrics.RecordTickContended("session")
		}
		return TickResult{State: domain.RunStateInProgress}, nil
	}
	defer func() {
		_ = e.locker.Release(context.WithoutCancel(ctx), sessionKey)
	}()

	// The pre-lock snapshot may be stale: another pass can commit between
	// the read and the lock grant. Re-read under the lock so this pass
	// never writes back an older index or gap-loop count.
	run, err = e.runs.Get(ctx, runID)
	if err != nil {
		return TickResult{}, err
	}
	if run.State.IsTerminal() {
		return TickResult{State: run.State, Done: true}, nil
	}

	return e.advance(ctx, run)
}

func (e *Engine) advance(ctx context.Context, run *domain.ResearchRun) (TickResult, error) {
	// Re-derived identically on every tick: the plan is descriptive input,
	// execution order is always the canonical sequence.
	stepTypes := plan.ExecutableSteps(run.Plan)
	i := run.CurrentStepIndex

	if i >= len(stepTypes) {
		return e.completeFromStoredSynthesis(ctx, run, len(stepTypes))
	}

	// Gating rule: step i-1 must be done before step i may run. Resetting
	// the index instead of failing makes the pass self-healing after a
	// partial or interrupted advancement.
	var prev *domain.ResearchStep
	if i > 0 {
		var err error
		prev, err = e.getStep(ctx, run.ID, i-1)
		if err != nil {
			return TickResult{}, err
		}
		if prev == nil || prev.Status != domain.StepStatusDone {
			e.logger.Warn().
				Str("run_id", run.ID.String()).
				Int("step_index", i).
				Msg("previous step not done, resetting index")
			run.CurrentStepIndex = i - 1
			e.syncProgress(run, stepTypes, nil)
			if run.State.CanTransitionTo(domain.RunStateInProgress) {
				run.State = domain.RunStateInProgress
			}
			if err := e.runs.Update(ctx, run); err != nil {
				return TickResult{}, err
			}
			return TickResult{State: domain.RunStateInProgress}, nil
		}
	}

	current, err := e.getStep(ctx, run.ID, i)
	if err != nil {
		return TickResult{}, err
	}

	// Redelivery guard: a step that is already done advances the index
	// without re-invoking the executor.
	if current != nil && current.Status == domain.StepStatusDone {
		run.CurrentStepIndex = i + 1
		if run.CurrentStepIndex >= len(stepTypes) {
			return e.completeRun(ctx, run, current)
		}
		e.syncProgress(run, stepTypes, nil)
		if run.State.CanTransitionTo(domain.RunStateInProgress) {
			run.State = domain.RunStateInProgress
		}
		if err := e.runs.Update(ctx, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{State: run.State}, nil
	}

	// Provider lane lock: at most one long-running external call per
	// provider anywhere in the system. Contention mutates nothing.
	acquired, err := e.locker.TryAcquire(ctx, run.LockKey())
	if err != nil {
		return TickResult{}, err
	}
	if !acquired {
		e.logger.Debug().
			Str("run_id", run.ID.String()).
			Str("provider", run.Provider.String()).
			Msg("provider lane busy, skipping tick")
		if e.metrics != nil {
			e.metrics.RecordTickContended("provider")
		}
		return TickResult{State: domain.RunStateInProgress}, nil
	}
	defer func() {
		_ = e.locker.Release(context.WithoutCancel(ctx), run.LockKey())
	}()

	return e.executeStep(ctx, run, stepTypes, i, prev, current)
}

func (e *Engine) executeStep(
	ctx context.Context,
	run *domain.ResearchRun,
	stepTypes []domain.StepType,
	i int,
	prev, current *domain.ResearchStep,
) (TickResult, error) {
	now := time.Now().UTC()
	stepType := stepTypes[i]

	if current == nil {
		current = &domain.ResearchStep{
			ID:        uuid.New(),
			RunID:     run.ID,
			StepIndex: i,
			StepType:  stepType,
			Status:    domain.StepStatusQueued,
			CreatedAt: now,
		}
	}

	// A step still marked running was interrupted between its running
	// upsert and its outcome write. The holder of both locks owns the step
	// now, so reclaim it through the requeue transition and re-execute.
	if current.Status == domain.StepStatusRunning {
		e.logger.Warn().
			Str("run_id", run.ID.String()).
			Str("step_type", string(stepType)).
			Msg("reclaiming interrupted running step")
		current.Status = domain.StepStatusQueued
		current.StartedAt = nil
	}

	// Step ordering is a correctness invariant: an impossible stored
	// status hard-fails the run rather than being papered over.
	if !current.Status.CanTransitionTo(domain.StepStatusRunning) {
		msg := fmt.Sprintf("invalid transition for %s step: %s -> running", stepType, current.Status)
		return e.failRun(ctx, run, stepTypes, current, msg)
	}

	wasStarted := run.StartedAt != nil

	current.Status = domain.StepStatusRunning
	current.StartedAt = &now
	current.ErrorMessage = ""
	if err := e.steps.Upsert(ctx, current); err != nil {
		return TickResult{}, err
	}

	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	// The planning stage runs while the run is still new; PLANNED is
	// reached exactly once, when the plan is accepted.
	if stepType != domain.StepTypePlan && run.State.CanTransitionTo(domain.RunStateInProgress) {
		run.State = domain.RunStateInProgress
	}
	e.syncProgress(run, stepTypes, current)
	if err := e.runs.Update(ctx, run); err != nil {
		return TickResult{}, err
	}
	if !wasStarted {
		if e.metrics != nil {
			e.metrics.RecordRunStarted(run.Provider.String())
		}
		e.publish(ctx, domain.NewRunEvent(domain.EventTypeRunStarted, run))
	}

	req := e.buildRequest(run, stepType, prev)
	exec, err := e.executors.For(run.Provider)
	if err != nil {
		return e.failRun(ctx, run, stepTypes, current, err.Error())
	}

	callStart := time.Now()
	res, execErr := exec.Execute(ctx, req)
	if execErr != nil {
		return e.handleExecutionError(ctx, run, stepTypes, current, execErr)
	}
	if e.metrics != nil {
		e.metrics.RecordProviderRequest(run.Provider.String(), res.ModelUsed,
			time.Since(callStart).Seconds(), res.TokenUsage.InputTokens, res.TokenUsage.OutputTokens)
	}

	return e.completeStep(ctx, run, stepTypes, i, current, res)
}

// handleExecutionError applies the retry policy: transient errors requeue
// the step until the ceiling is exhausted, fatal errors fail the run
// immediately.
func (e *Engine) handleExecutionError(
	ctx context.Context,
	run *domain.ResearchRun,
	stepTypes []domain.StepType,
	current *domain.ResearchStep,
	execErr error,
) (TickResult, error) {
	if e.metrics != nil {
		class := "transient"
		if Classify(execErr) == ClassFatal {
			class = "fatal"
		}
		e.metrics.RecordProviderRequestFailed(run.Provider.String(), "", class)
		msg := strings.ToLower(execErr.Error())
		if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
			e.metrics.RecordProviderRateLimited(run.Provider.String())
		}
	}
	if Classify(execErr) == ClassFatal {
		e.logger.Error().
			Err(execErr).
			Str("run_id", run.ID.String()).
			Str("step_type", string(current.StepType)).
			Msg("fatal provider error")
		msg := fmt.Sprintf("%s step failed: %s", current.StepType, execErr.Error())
		return e.failRun(ctx, run, stepTypes, current, msg)
	}

	count := current.RetryableErrorCount + 1
	if count > e.cfg.RetryCeiling {
		msg := fmt.Sprintf("%s step failed after %d consecutive transient errors", current.StepType, e.cfg.RetryCeiling)
		return e.failRun(ctx, run, stepTypes, current, msg)
	}

	e.logger.Warn().
		Err(execErr).
		Str("run_id", run.ID.String()).
		Str("step_type", string(current.StepType)).
		Int("retryable_error_count", count).
		Bool("known_transient", IsKnownTransient(execErr)).
		Msg("transient step failure, requeued")

	current.Status = domain.StepStatusQueued
	current.RetryableErrorCount = count
	current.ErrorMessage = execErr.Error()
	current.StartedAt = nil
	if err := e.steps.Upsert(ctx, current); err != nil {
		return TickResult{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordStepRetry(string(current.StepType))
	}
	return TickResult{State: run.State}, nil
}

// completeStep persists the step's artifacts and routes stage-specific
// post-processing: plan acceptance, evidence extraction, the gap loop, and
// the synthesis handoff.
func (e *Engine) completeStep(
	ctx context.Context,
	run *domain.ResearchRun,
	stepTypes []domain.StepType,
	i int,
	current *domain.ResearchStep,
	res *executor.Result,
) (TickResult, error) {
	now := time.Now().UTC()
	stepType := current.StepType

	if stepType == domain.StepTypeSynthesize && strings.TrimSpace(res.RawText) == "" {
		// Business-rule failure, distinct from transport errors: the
		// terminal stage produced nothing usable, so retrying is pointless.
		current.Status = domain.StepStatusFailed
		current.ErrorMessage = "Empty synthesis output"
		current.CompletedAt = &now
		if err := e.steps.Upsert(ctx, current); err != nil {
			return TickResult{}, err
		}
		return e.failRunDirect(ctx, run, "Empty synthesis output")
	}

	norm := citation.Normalize(citation.Input{
		Text:       res.RawText,
		Payload:    res.Payload,
		Sources:    res.Sources,
		AccessedAt: now,
	})

	current.RawOutput = res.RawText
	current.OutputExcerpt = domain.Excerpt(res.RawText, e.cfg.PriorSummaryLength)
	current.Citations = norm.Citations
	current.ProviderPayload = res.Payload
	current.ErrorMessage = ""
	current.CompletedAt = &now
	current.Status = domain.StepStatusDone

	switch stepType {
	case domain.StepTypePlan:
		accepted := res.UpdatedPlan
		if accepted == nil {
			parsed, err := plan.ParsePlan(res.RawText)
			if err != nil {
				// Malformed planning output is recovered locally with the
				// canonical fallback plan, never surfaced as a failure.
				e.logger.Warn().
					Err(err).
					Str("run_id", run.ID.String()).
					Msg("plan output unparseable, substituting fallback plan")
				parsed = plan.Fallback(run.Question, run.Depth)
			}
			accepted = parsed
		}
		run.Plan = accepted
		stepTypes = plan.ExecutableSteps(run.Plan)
		if run.State.CanTransitionTo(domain.RunStatePlanned) {
			run.State = domain.RunStatePlanned
		}

	case domain.StepTypeExtractEvidence:
		evidence := res.Evidence
		if len(evidence) == 0 {
			evidence = plan.ParseEvidence(res.RawText)
		}
		evidence = withEvidenceDefaults(evidence)
		current.Evidence = evidence
		if len(evidence) > 0 {
			if err := e.citations.UpsertEvidence(ctx, run.ID, current.ID, evidence); err != nil {
				return TickResult{}, err
			}
		}

	case domain.StepTypeSynthesize:
		run.SynthesizedReport = norm.Text
		run.SynthesizedSources = norm.References
	}

	if len(norm.Citations) > 0 {
		if err := e.citations.UpsertCitations(ctx, run.ID, norm.Citations); err != nil {
			return TickResult{}, err
		}
	}
	if err := e.steps.Upsert(ctx, current); err != nil {
		return TickResult{}, err
	}

	e.logger.Info().
		Str("run_id", run.ID.String()).
		Str("step_type", string(stepType)).
		Int("step_index", i).
		Int("references", len(norm.References)).
		Int("output_tokens", res.TokenUsage.OutputTokens).
		Msg("step completed")

	if e.metrics != nil {
		stepDuration := 0.0
		if current.StartedAt != nil {
			stepDuration = now.Sub(*current.StartedAt).Seconds()
		}
		e.metrics.RecordStepCompleted(string(stepType), stepDuration)
		if len(norm.Citations) > 0 {
			e.metrics.RecordCitationsNormalized(run.Provider.String(), len(norm.Citations))
		}
	}

	// Gap loop: severe coverage gaps re-queue every post-planning stage up
	// to and including the gap check, bounded by MaxGapLoops. The plan
	// stage never re-runs.
	if stepType == domain.StepTypeGapCheck {
		if gaps, ok := plan.ParseGapCheck(res.RawText); ok && gaps.SevereGaps && run.Progress.GapLoops < e.cfg.MaxGapLoops {
			if _, err := e.steps.ResetRange(ctx, run.ID, 1, i+1); err != nil {
				return TickResult{}, err
			}
			run.CurrentStepIndex = 1
			run.Progress.GapLoops++
			e.syncProgress(run, stepTypes, nil)
			if err := e.runs.Update(ctx, run); err != nil {
				return TickResult{}, err
			}
			e.logger.Info().
				Str("run_id", run.ID.String()).
				Int("gap_loops", run.Progress.GapLoops).
				Msg("severe gaps reported, looping back")
			if e.metrics != nil {
				e.metrics.RecordGapLoop()
			}
			e.publishProgress(ctx, run)
			return TickResult{State: domain.RunStateInProgress}, nil
		}
	}

	run.CurrentStepIndex = i + 1
	if run.CurrentStepIndex >= len(stepTypes) {
		return e.completeRun(ctx, run, current)
	}

	e.syncProgress(run, stepTypes, nil)
	if err := e.runs.Update(ctx, run); err != nil {
		return TickResult{}, err
	}
	e.publishProgress(ctx, run)
	return TickResult{State: run.State}, nil
}

// completeRun transitions the run to done, guaranteeing the synthesized
// report and sources are populated before the downstream report finalizer
// can observe the state.
func (e *Engine) completeRun(ctx context.Context, run *domain.ResearchRun, synthesis *domain.ResearchStep) (TickResult, error) {
	if run.SynthesizedReport == "" && synthesis != nil {
		norm := citation.Normalize(citation.Input{
			Text:    synthesis.RawOutput,
			Payload: synthesis.ProviderPayload,
			Sources: synthesis.Citations,
		})
		run.SynthesizedReport = norm.Text
		run.SynthesizedSources = norm.References
	}
	if len(run.SynthesizedSources) == 0 {
		refs, err := e.referencesFromStoredCitations(ctx, run.ID)
		if err != nil {
			return TickResult{}, err
		}
		run.SynthesizedSources = refs
	}

	now := time.Now().UTC()
	if !run.State.CanTransitionTo(domain.RunStateDone) {
		return e.failRunDirect(ctx, run, fmt.Sprintf("invalid run transition: %s -> done", run.State))
	}
	run.State = domain.RunStateDone
	run.CompletedAt = &now
	if err := e.runs.Update(ctx, run); err != nil {
		return TickResult{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordRunCompleted(run.Provider.String(), run.Duration().Seconds())
	}

	e.logger.Info().
		Str("run_id", run.ID.String()).
		Str("provider", run.Provider.String()).
		Int("references", len(run.SynthesizedSources)).
		Dur("duration", run.Duration()).
		Msg("run completed")

	event := domain.NewRunEvent(domain.EventTypeRunCompleted, run)
	event.Report = &domain.RunReport{
		SynthesizedReport:  run.SynthesizedReport,
		SynthesizedSources: run.SynthesizedSources,
	}
	e.publish(ctx, event)

	return TickResult{State: domain.RunStateDone, Done: true}, nil
}

// completeFromStoredSynthesis handles a run whose index already points past
// the last step but which is not yet terminal, e.g. after a crash between
// the final step upsert and the run update.
func (e *Engine) completeFromStoredSynthesis(ctx context.Context, run *domain.ResearchRun, total int) (TickResult, error) {
	synthesis, err := e.getStep(ctx, run.ID, total-1)
	if err != nil {
		return TickResult{}, err
	}
	if synthesis == nil || synthesis.Status != domain.StepStatusDone {
		// Index ran ahead of reality; let the gating rule repair it.
		run.CurrentStepIndex = total - 1
		e.syncProgress(run, plan.ExecutableSteps(run.Plan), nil)
		if err := e.runs.Update(ctx, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{State: domain.RunStateInProgress}, nil
	}
	return e.completeRun(ctx, run, synthesis)
}

// failRun marks the current step failed, then fails the run.
func (e *Engine) failRun(
	ctx context.Context,
	run *domain.ResearchRun,
	stepTypes []domain.StepType,
	current *domain.ResearchStep,
	message string,
) (TickResult, error) {
	now := time.Now().UTC()
	if current.Status.CanTransitionTo(domain.StepStatusFailed) {
		current.Status = domain.StepStatusFailed
	}
	current.ErrorMessage = message
	current.CompletedAt = &now
	if err := e.steps.Upsert(ctx, current); err != nil {
		return TickResult{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordStepFailed(string(current.StepType))
	}
	e.syncProgress(run, stepTypes, current)
	return e.failRunDirect(ctx, run, message)
}

// failRunDirect transitions the run to failed with the given user-visible
// message.
func (e *Engine) failRunDirect(ctx context.Context, run *domain.ResearchRun, message string) (TickResult, error) {
	now := time.Now().UTC()
	run.State = domain.RunStateFailed
	run.ErrorMessage = message
	run.CompletedAt = &now
	if err := e.runs.Update(ctx, run); err != nil {
		return TickResult{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordRunFailed(run.Provider.String(), run.Duration().Seconds())
	}

	e.logger.Error().
		Str("run_id", run.ID.String()).
		Str("provider", run.Provider.String()).
		Str("error_message", message).
		Msg("run failed")

	event := domain.NewRunEvent(domain.EventTypeRunFailed, run)
	event.ErrorMessage = message
	e.publish(ctx, event)

	return TickResult{State: domain.RunStateFailed, Done: true}, nil
}

// buildRequest assembles the executor request for the step about to run.
func (e *Engine) buildRequest(run *domain.ResearchRun, stepType domain.StepType, prev *domain.ResearchStep) executor.Request {
	sourceTarget := depthSourceTarget(run.Depth)
	maxTokens := defaultStageTokens
	if stepType == domain.StepTypeSynthesize {
		maxTokens = defaultSynthesisTokens
	}
	if step := run.Plan.StepFor(stepType); step != nil {
		if step.SourceTarget > 0 {
			sourceTarget = step.SourceTarget
		}
		if step.MaxOutputTokens > 0 {
			maxTokens = step.MaxOutputTokens
		}
	}

	priorSummary := ""
	if prev != nil {
		priorSummary = prev.OutputExcerpt
	}

	return executor.Request{
		Provider:        run.Provider,
		StepType:        stepType,
		Question:        run.Question,
		Plan:            run.Plan,
		PriorSummary:    priorSummary,
		SourceTarget:    sourceTarget,
		MaxOutputTokens: maxTokens,
		Timeout:         e.cfg.StepTimeout,
	}
}

// syncProgress refreshes the run's progress snapshot from its index and the
// executable step list. GapLoops is owned by the gap-loop path and left
// untouched here.
func (e *Engine) syncProgress(run *domain.ResearchRun, stepTypes []domain.StepType, current *domain.ResearchStep) {
	run.Progress.StepIndex = run.CurrentStepIndex
	run.Progress.TotalSteps = len(stepTypes)
	run.Progress.StepID = ""
	run.Progress.StepLabel = ""
	if run.CurrentStepIndex >= 0 && run.CurrentStepIndex < len(stepTypes) {
		run.Progress.StepLabel = stepTypes[run.CurrentStepIndex].Label()
	}
	if current != nil && current.StepIndex == run.CurrentStepIndex {
		run.Progress.StepID = current.ID.String()
	}
}

// referencesFromStoredCitations rebuilds a reference list from the run's
// accumulated citations when the synthesis text carried no inline citation
// metadata.
func (e *Engine) referencesFromStoredCitations(ctx context.Context, runID uuid.UUID) ([]domain.Reference, error) {
	citations, err := e.citations.ListCitations(ctx, runID)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.Reference, 0, len(citations))
	for n, c := range citations {
		refs = append(refs, domain.Reference{
			Number:     n + 1,
			CitationID: c.ID,
			URL:        c.URL,
			Title:      c.Title,
		})
	}
	return refs, nil
}

func (e *Engine) getStep(ctx context.Context, runID uuid.UUID, index int) (*domain.ResearchStep, error) {
	step, err := e.steps.Get(ctx, runID, index)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (e *Engine) publish(ctx context.Context, event domain.RunEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn().
			Err(err).
			Str("event_type", event.EventType).
			Str("run_id", event.RunID.String()).
			Msg("failed to publish run event")
	}
}

func (e *Engine) publishProgress(ctx context.Context, run *domain.ResearchRun) {
	event := domain.NewRunEvent(domain.EventTypeRunProgress, run)
	progress := run.Progress
	event.Progress = &progress
	e.publish(ctx, event)
}

// depthSourceTarget maps depth to the default per-stage source target used
// when the plan does not set one.
func depthSourceTarget(depth domain.Depth) int {
	switch depth {
	case domain.DepthQuick:
		return 4
	case domain.DepthThorough:
		return 14
	default:
		return 8
	}
}

// withEvidenceDefaults fills missing evidence ids and confidence grades so
// executor-provided evidence stays idempotent under re-derivation.
func withEvidenceDefaults(evidence []domain.Evidence) []domain.Evidence {
	out := make([]domain.Evidence, len(evidence))
	for i, ev := range evidence {
		if ev.ID == "" {
			ev.ID = domain.EvidenceID(ev.Claim)
		}
		if ev.Confidence == "" {
			ev.Confidence = domain.ConfidenceLow
		}
		out[i] = ev
	}
	return out
}
