package plan

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// ErrPlanParse indicates that planning-stage output held no parseable plan.
// Callers recover by substituting the fallback plan; this error never fails
// a run.
var ErrPlanParse = errors.New("plan output is not parseable")

// heuristicClaimMinLength is the minimum line length for a line of prose to
// be treated as an evidence claim when structured output is unavailable.
const heuristicClaimMinLength = 80

// GapCheckResult is the structured output of the gap-check stage.
type GapCheckResult struct {
	// SevereGaps reports whether coverage gaps warrant a gap loop.
	SevereGaps bool `json:"severe_gaps"`

	// Gaps lists the detected coverage gaps.
	Gaps []string `json:"gaps,omitempty"`

	// Reasoning is the provider's assessment of coverage.
	Reasoning string `json:"reasoning,omitempty"`
}

// ExtractJSON extracts a JSON document from text that may contain leading or
// trailing prose. It first attempts a strict parse of the trimmed text, then
// falls back to locating the first balanced {...} or [...] span. Returns the
// raw JSON bytes and true on success.
func ExtractJSON(text string) ([]byte, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if json.Valid([]byte(trimmed)) && (trimmed[0] == '{' || trimmed[0] == '[') {
		return []byte(trimmed), true
	}

	if span, ok := balancedSpan(trimmed); ok && json.Valid(span) {
		return span, true
	}

	return nil, false
}

// balancedSpan finds the first balanced top-level {...} or [...] span,
// tracking string literals and escapes so braces inside strings don't count.
func balancedSpan(s string) ([]byte, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// String contents are opaque.
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), true
			}
		}
	}
	return nil, false
}

// ParsePlan parses planning-stage output into a ResearchPlan. Output may wrap
// the JSON document in prose. Returns ErrPlanParse when no usable plan can be
// extracted; callers substitute the fallback plan.
func ParsePlan(text string) (*domain.ResearchPlan, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, ErrPlanParse
	}

	var p domain.ResearchPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrPlanParse
	}

	if len(p.Steps) == 0 {
		return nil, ErrPlanParse
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return &p, nil
}

// ParseGapCheck parses gap-check stage output. Returns ok=false when no
// structured result can be extracted, in which case the engine treats the
// check as reporting no severe gaps.
func ParseGapCheck(text string) (GapCheckResult, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return GapCheckResult{}, false
	}

	var result GapCheckResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return GapCheckResult{}, false
	}
	return result, true
}

// ParseEvidence parses evidence-stage output into structured evidence. When
// structured output is unavailable it derives claims heuristically from text
// lines longer than heuristicClaimMinLength characters. Evidence ids are
// derived by hashing the claim text, so re-derivation across retries is
// idempotent.
func ParseEvidence(text string) []domain.Evidence {
	if raw, ok := ExtractJSON(text); ok {
		var parsed []domain.Evidence
		if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed) > 0 {
			for i := range parsed {
				if parsed[i].ID == "" {
					parsed[i].ID = domain.EvidenceID(parsed[i].Claim)
				}
				if parsed[i].Confidence == "" {
					parsed[i].Confidence = domain.ConfidenceMedium
				}
			}
			return parsed
		}
	}

	return heuristicEvidence(text)
}

// heuristicEvidence derives low-confidence claims from long prose lines.
func heuristicEvidence(text string) []domain.Evidence {
	var evidence []domain.Evidence
	for _, line := range strings.Split(text, "\n") {
		claim := strings.TrimSpace(line)
		if len(claim) <= heuristicClaimMinLength {
			continue
		}
		evidence = append(evidence, domain.Evidence{
			ID:         domain.EvidenceID(claim),
			Claim:      claim,
			Confidence: domain.ConfidenceLow,
		})
	}
	return evidence
}
