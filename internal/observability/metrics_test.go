package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	// Use unique namespace to avoid conflicts with other tests
	m := NewMetrics("test_deep_research_new")

	assert.NotNil(t, m.RunsStarted)
	assert.NotNil(t, m.RunsCompleted)
	assert.NotNil(t, m.RunsFailed)
	assert.NotNil(t, m.RunDuration)
	assert.NotNil(t, m.TicksTotal)
	assert.NotNil(t, m.TicksContended)
	assert.NotNil(t, m.StepsCompleted)
	assert.NotNil(t, m.StepsFailed)
	assert.NotNil(t, m.StepRetries)
	assert.NotNil(t, m.GapLoops)
	assert.NotNil(t, m.ProviderRequestsTotal)
	assert.NotNil(t, m.ProviderRequestsFailed)
	assert.NotNil(t, m.ProviderRateLimited)
	assert.NotNil(t, m.ProviderTokensUsed)
	assert.NotNil(t, m.CitationsNormalized)
	assert.NotNil(t, m.EventsPublished)
	assert.NotNil(t, m.EventsFailed)
}

func TestRecordRunStarted(t *testing.T) {
	m := NewMetrics("test_run_started")

	m.RecordRunStarted("openai")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsStarted.WithLabelValues("openai")))
}

func TestRecordRunCompleted(t *testing.T) {
	m := NewMetrics("test_run_completed")

	m.RecordRunCompleted("gemini", 125.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsCompleted.WithLabelValues("gemini")))

	// Check histogram
	histCount, err := getHistogramSampleCount(m.RunDuration.WithLabelValues("gemini").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordRunFailed(t *testing.T) {
	m := NewMetrics("test_run_failed")

	m.RecordRunFailed("openai", 63.0)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsFailed.WithLabelValues("openai")))
}

func TestRecordTick(t *testing.T) {
	m := NewMetrics("test_tick")

	m.RecordTick("in_progress", 0.25)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TicksTotal.WithLabelValues("in_progress")))
}

func TestRecordTickContended(t *testing.T) {
	m := NewMetrics("test_tick_contended")

	m.RecordTickContended("provider")
	m.RecordTickContended("session")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TicksContended.WithLabelValues("provider")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TicksContended.WithLabelValues("session")))
}

func TestRecordStepCompleted(t *testing.T) {
	m := NewMetrics("test_step_completed")

	m.RecordStepCompleted("discover", 14.2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StepsCompleted.WithLabelValues("discover")))
}

func TestRecordStepFailed(t *testing.T) {
	m := NewMetrics("test_step_failed")

	m.RecordStepFailed("synthesize")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StepsFailed.WithLabelValues("synthesize")))
}

func TestRecordStepRetry(t *testing.T) {
	m := NewMetrics("test_step_retry")

	m.RecordStepRetry("deep_read")
	m.RecordStepRetry("deep_read")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StepRetries.WithLabelValues("deep_read")))
}

func TestRecordGapLoop(t *testing.T) {
	m := NewMetrics("test_gap_loop")

	initial := testutil.ToFloat64(m.GapLoops)
	m.RecordGapLoop()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.GapLoops))
}

func TestRecordProviderRequest(t *testing.T) {
	m := NewMetrics("test_provider_request")

	m.RecordProviderRequest("openai", "gpt-4o-search-preview", 2.5, 100, 50)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequestsTotal.WithLabelValues("openai", "gpt-4o-search-preview")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.ProviderTokensUsed.WithLabelValues("openai", "gpt-4o-search-preview", "input")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.ProviderTokensUsed.WithLabelValues("openai", "gpt-4o-search-preview", "output")))
}

func TestRecordProviderRequestFailed(t *testing.T) {
	m := NewMetrics("test_provider_request_failed")

	m.RecordProviderRequestFailed("gemini", "gemini-2.0-flash", "transient")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequestsFailed.WithLabelValues("gemini", "gemini-2.0-flash", "transient")))
}

func TestRecordProviderRateLimited(t *testing.T) {
	m := NewMetrics("test_provider_rate_limited")

	m.RecordProviderRateLimited("openai")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRateLimited.WithLabelValues("openai")))
}

func TestRecordCitationsNormalized(t *testing.T) {
	m := NewMetrics("test_citations_normalized")

	m.RecordCitationsNormalized("gemini", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.CitationsNormalized.WithLabelValues("gemini")))
}

func TestRecordEventPublished(t *testing.T) {
	m := NewMetrics("test_event_published")

	m.RecordEventPublished("run.completed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("run.completed")))
}

func TestRecordEventFailed(t *testing.T) {
	m := NewMetrics("test_event_failed")

	m.RecordEventFailed("run.failed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsFailed.WithLabelValues("run.failed")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
