package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

func TestExtractJSONStrict(t *testing.T) {
	raw, ok := ExtractJSON(`  {"a": 1}  `)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1}`, string(raw))
}

func TestExtractJSONWithSurroundingProse(t *testing.T) {
	text := "Here is the plan you asked for:\n\n{\"version\": 1, \"steps\": []}\n\nLet me know if it works."
	raw, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"version": 1, "steps": []}`, string(raw))
}

func TestExtractJSONArray(t *testing.T) {
	text := `The claims are: [{"claim": "x"}] as requested`
	raw, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `[{"claim": "x"}]`, string(raw))
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	text := `prefix {"note": "a } inside a string", "n": 2} suffix`
	raw, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"note": "a } inside a string", "n": 2}`, string(raw))
}

func TestExtractJSONEscapedQuotes(t *testing.T) {
	text := `x {"quote": "she said \"hi}\" loudly"} y`
	raw, ok := ExtractJSON(text)
	require.True(t, ok)
	assert.JSONEq(t, `{"quote": "she said \"hi}\" loudly"}`, string(raw))
}

func TestExtractJSONFailure(t *testing.T) {
	for _, text := range []string{"", "   ", "no json here", "{unbalanced", "{\"bad\": }"} {
		_, ok := ExtractJSON(text)
		assert.False(t, ok, "input: %q", text)
	}
}

func TestParsePlanValid(t *testing.T) {
	text := `Plan follows.
{"version": 2, "refined_topic": "solar costs", "steps": [
  {"step_index": 0, "step_type": "plan"},
  {"step_index": 1, "step_type": "discover", "search_queries": ["solar lcoe 2025"]}
]}`

	p, err := ParsePlan(text)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, "solar costs", p.RefinedTopic)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, domain.StepTypeDiscover, p.Steps[1].StepType)
}

func TestParsePlanDefaultsVersion(t *testing.T) {
	p, err := ParsePlan(`{"steps": [{"step_type": "plan"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
}

func TestParsePlanFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose only", "I could not produce a plan."},
		{"empty steps", `{"version": 1, "steps": []}`},
		{"wrong shape", `{"version": "one", "steps": "discover"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan(tt.text)
			assert.ErrorIs(t, err, ErrPlanParse)
		})
	}
}

func TestParseGapCheck(t *testing.T) {
	result, ok := ParseGapCheck(`Assessment: {"severe_gaps": true, "gaps": ["no primary sources"], "reasoning": "thin"}`)
	require.True(t, ok)
	assert.True(t, result.SevereGaps)
	assert.Equal(t, []string{"no primary sources"}, result.Gaps)

	_, ok = ParseGapCheck("coverage looks fine to me")
	assert.False(t, ok)
}

func TestParseEvidenceStructured(t *testing.T) {
	text := `[{"claim": "solar lcoe fell 90% since 2010", "snippet": "...", "confidence": "high"},
	         {"claim": "wind capacity doubled"}]`

	evidence := ParseEvidence(text)
	require.Len(t, evidence, 2)

	assert.Equal(t, domain.ConfidenceHigh, evidence[0].Confidence)
	assert.Equal(t, domain.EvidenceID("solar lcoe fell 90% since 2010"), evidence[0].ID)
	// Missing fields get defaults.
	assert.Equal(t, domain.ConfidenceMedium, evidence[1].Confidence)
	assert.NotEmpty(t, evidence[1].ID)
}

func TestParseEvidenceHeuristic(t *testing.T) {
	long := strings.Repeat("solar deployment keeps accelerating across all tracked markets ", 3)
	text := "short line\n" + long + "\nanother short one"

	evidence := ParseEvidence(text)
	require.Len(t, evidence, 1)
	assert.Equal(t, domain.ConfidenceLow, evidence[0].Confidence)
	assert.Equal(t, strings.TrimSpace(long), evidence[0].Claim)

	// Identical text yields identical ids across retries.
	again := ParseEvidence(text)
	require.Len(t, again, 1)
	assert.Equal(t, evidence[0].ID, again[0].ID)
}

func TestExecutableStepsFullSequenceByDefault(t *testing.T) {
	assert.Equal(t, domain.CanonicalStepSequence(), ExecutableSteps(nil))
	assert.Equal(t, domain.CanonicalStepSequence(), ExecutableSteps(&domain.ResearchPlan{}))
}

func TestExecutableStepsIntersection(t *testing.T) {
	// Declared out of order and missing some middle stages; canonical order
	// must win and omissions are honored.
	p := &domain.ResearchPlan{
		Steps: []domain.PlanStep{
			{StepType: domain.StepTypeSynthesize},
			{StepType: domain.StepTypeDiscover},
			{StepType: domain.StepTypePlan},
			{StepType: domain.StepTypeGapCheck},
		},
	}

	assert.Equal(t, []domain.StepType{
		domain.StepTypePlan,
		domain.StepTypeDiscover,
		domain.StepTypeGapCheck,
		domain.StepTypeSynthesize,
	}, ExecutableSteps(p))
}

func TestExecutableStepsFallsBackOnMismatch(t *testing.T) {
	tests := []struct {
		name string
		plan *domain.ResearchPlan
	}{
		{"unknown types only", &domain.ResearchPlan{Steps: []domain.PlanStep{{StepType: "warmup"}}}},
		{"missing synthesis", &domain.ResearchPlan{Steps: []domain.PlanStep{{StepType: domain.StepTypePlan}, {StepType: domain.StepTypeDiscover}}}},
		{"missing plan stage", &domain.ResearchPlan{Steps: []domain.PlanStep{{StepType: domain.StepTypeDiscover}, {StepType: domain.StepTypeSynthesize}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, domain.CanonicalStepSequence(), ExecutableSteps(tt.plan))
		})
	}
}

func TestFallbackDeterministic(t *testing.T) {
	a := Fallback("why did rates rise", domain.DepthStandard)
	b := Fallback("why did rates rise", domain.DepthStandard)
	assert.Equal(t, a, b)

	require.Len(t, a.Steps, 8)
	assert.Equal(t, domain.StepTypePlan, a.Steps[0].StepType)
	assert.Equal(t, domain.StepTypeSynthesize, a.Steps[7].StepType)
	assert.Equal(t, "why did rates rise", a.RefinedTopic)
	assert.Equal(t, []string{"why did rates rise"}, a.Steps[1].SearchQueries)
}

func TestFallbackDepthAdjustsSourceTarget(t *testing.T) {
	quick := Fallback("q", domain.DepthQuick)
	thorough := Fallback("q", domain.DepthThorough)
	assert.Less(t, quick.Steps[1].SourceTarget, thorough.Steps[1].SourceTarget)
}
