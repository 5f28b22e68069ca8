package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the deep research service.
// Metrics are organized by subsystem: runs, ticks, steps, providers, and
// events. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
type Metrics struct {
	// RunsStarted counts research runs that began executing, labeled by provider.
	RunsStarted *prometheus.CounterVec

	// RunsCompleted counts runs that reached the done state, labeled by provider.
	RunsCompleted *prometheus.CounterVec

	// RunsFailed counts runs that reached the failed state, labeled by provider.
	RunsFailed *prometheus.CounterVec

	// RunDuration observes end-to-end run duration in seconds, labeled by provider.
	RunDuration *prometheus.HistogramVec

	// TicksTotal counts orchestration passes, labeled by resulting run state.
	TicksTotal *prometheus.CounterVec

	// TickDuration observes orchestration pass duration in seconds, labeled by resulting run state.
	TickDuration *prometheus.HistogramVec

	// TicksContended counts orchestration passes that yielded on a held lock,
	// labeled by lock kind ("session", "provider").
	TicksContended *prometheus.CounterVec

	// StepsCompleted counts steps that finished, labeled by step type.
	StepsCompleted *prometheus.CounterVec

	// StepsFailed counts steps that failed, labeled by step type.
	StepsFailed *prometheus.CounterVec

	// StepRetries counts transient-error requeues, labeled by step type.
	StepRetries *prometheus.CounterVec

	// StepDuration observes single step execution duration in seconds, labeled by step type.
	StepDuration *prometheus.HistogramVec

	// GapLoops counts gap-check loop-backs.
	GapLoops prometheus.Counter

	// ProviderRequestsTotal counts provider API requests, labeled by provider and model.
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderRequestsFailed counts failed provider API requests, labeled by provider, model, and error class.
	ProviderRequestsFailed *prometheus.CounterVec

	// ProviderRequestDuration observes provider API request duration in seconds.
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRateLimited counts rate-limited responses from providers, labeled by provider.
	ProviderRateLimited *prometheus.CounterVec

	// ProviderTokensUsed counts tokens consumed, labeled by provider, model, and token type.
	ProviderTokensUsed *prometheus.CounterVec

	// CitationsNormalized counts citations produced by normalization, labeled by provider.
	CitationsNormalized *prometheus.CounterVec

	// EventsPublished counts run lifecycle events published, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsFailed counts run lifecycle events that failed to publish, labeled by event type.
	EventsFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of research runs started",
		}, []string{"provider"}),
		RunsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of research runs completed successfully",
		}, []string{"provider"}),
		RunsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of research runs that failed",
		}, []string{"provider"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of research runs in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"provider"}),

		// Ticks
		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of orchestration passes",
		}, []string{"state"}),
		TickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of orchestration passes in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"state"}),
		TicksContended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_contended_total",
			Help:      "Total number of orchestration passes that yielded on a held lock",
		}, []string{"lock"}),

		// Steps
		StepsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Total number of pipeline steps completed",
		}, []string{"step_type"}),
		StepsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_failed_total",
			Help:      "Total number of pipeline steps that failed",
		}, []string{"step_type"}),
		StepRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of transient-error step requeues",
		}, []string{"step_type"}),
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of single step executions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step_type"}),
		GapLoops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_loops_total",
			Help:      "Total number of gap-check loop-backs",
		}),

		// Providers
		ProviderRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider API requests",
		}, []string{"provider", "model"}),
		ProviderRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_failed_total",
			Help:      "Total number of failed provider API requests",
		}, []string{"provider", "model", "error_class"}),
		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider API requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "model"}),
		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Total number of rate limit responses from providers",
		}, []string{"provider"}),
		ProviderTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_used_total",
			Help:      "Total number of tokens consumed by provider requests",
		}, []string{"provider", "model", "token_type"}),

		// Citations
		CitationsNormalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_normalized_total",
			Help:      "Total number of citations produced by normalization",
		}, []string{"provider"}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of run lifecycle events published",
		}, []string{"event_type"}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of run lifecycle events that failed to publish",
		}, []string{"event_type"}),
	}
}

// RecordRunStarted records that a run has started.
func (m *Metrics) RecordRunStarted(provider string) {
	m.RunsStarted.WithLabelValues(provider).Inc()
}

// RecordRunCompleted records that a run has completed.
func (m *Metrics) RecordRunCompleted(provider string, durationSeconds float64) {
	m.RunsCompleted.WithLabelValues(provider).Inc()
	m.RunDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordRunFailed records that a run has failed.
func (m *Metrics) RecordRunFailed(provider string, durationSeconds float64) {
	m.RunsFailed.WithLabelValues(provider).Inc()
	m.RunDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordTick records an orchestration pass and the run state it left behind.
func (m *Metrics) RecordTick(state string, durationSeconds float64) {
	m.TicksTotal.WithLabelValues(state).Inc()
	m.TickDuration.WithLabelValues(state).Observe(durationSeconds)
}

// RecordTickContended records an orchestration pass that yielded on a held lock.
func (m *Metrics) RecordTickContended(lock string) {
	m.TicksContended.WithLabelValues(lock).Inc()
}

// RecordStepCompleted records a completed step execution.
func (m *Metrics) RecordStepCompleted(stepType string, durationSeconds float64) {
	m.StepsCompleted.WithLabelValues(stepType).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(durationSeconds)
}

// RecordStepFailed records a failed step execution.
func (m *Metrics) RecordStepFailed(stepType string) {
	m.StepsFailed.WithLabelValues(stepType).Inc()
}

// RecordStepRetry records a transient-error requeue.
func (m *Metrics) RecordStepRetry(stepType string) {
	m.StepRetries.WithLabelValues(stepType).Inc()
}

// RecordGapLoop records a gap-check loop-back.
func (m *Metrics) RecordGapLoop() {
	m.GapLoops.Inc()
}

// RecordProviderRequest records a provider API request with token usage.
func (m *Metrics) RecordProviderRequest(provider, model string, durationSeconds float64, inputTokens, outputTokens int) {
	m.ProviderRequestsTotal.WithLabelValues(provider, model).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.ProviderTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.ProviderTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordProviderRequestFailed records a failed provider API request.
func (m *Metrics) RecordProviderRequestFailed(provider, model, errorClass string) {
	m.ProviderRequestsFailed.WithLabelValues(provider, model, errorClass).Inc()
}

// RecordProviderRateLimited records a rate limit response from a provider.
func (m *Metrics) RecordProviderRateLimited(provider string) {
	m.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordCitationsNormalized records citations produced by normalization.
func (m *Metrics) RecordCitationsNormalized(provider string, count int) {
	m.CitationsNormalized.WithLabelValues(provider).Add(float64(count))
}

// RecordEventPublished records a published run lifecycle event.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventFailed records a run lifecycle event that failed to publish.
func (m *Metrics) RecordEventFailed(eventType string) {
	m.EventsFailed.WithLabelValues(eventType).Inc()
}
