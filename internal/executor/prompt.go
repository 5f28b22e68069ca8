package executor

import (
	"fmt"
	"strings"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// stageInstructions maps each canonical stage to the instruction block sent
// to the provider. Stages with structured outputs describe the expected JSON
// shape; downstream parsing is tolerant of surrounding prose.
var stageInstructions = map[domain.StepType]string{
	domain.StepTypePlan: `Produce a research plan as a JSON object with fields:
"refined_topic", "assumptions" (array of strings), "total_token_budget",
and "steps" (array of {"step_index", "step_type", "title", "objective",
"target_source_types", "search_queries", "max_output_tokens",
"source_target", "deliverables", "done_definition"}).
Valid step_type values: plan, discover, shortlist, deep_read,
extract_evidence, counterpoints, gap_check, synthesize.`,

	domain.StepTypeDiscover: `Search broadly for sources relevant to the
question. List each source found with its URL and a one-line description of
why it is relevant.`,

	domain.StepTypeShortlist: `From the sources discovered so far, select the
most reliable and relevant subset. Return a JSON array of
{"url", "title", "publisher", "reliability_tags"} objects, then briefly
justify the selection.`,

	domain.StepTypeDeepRead: `Read the shortlisted sources in depth. Summarize
the substantive findings of each, quoting key passages and noting
methodology, sample sizes, and dates where present.`,

	domain.StepTypeExtractEvidence: `Extract discrete evidence items from the
material read so far. Return a JSON array of
{"claim", "snippet", "citation_ids", "confidence"} objects where confidence
is "low", "med", or "high".`,

	domain.StepTypeCounterpoints: `Search specifically for credible sources
that contradict, complicate, or qualify the findings so far. Summarize each
counterpoint and its source.`,

	domain.StepTypeGapCheck: `Assess whether the research so far adequately
covers the question. Return a JSON object with fields "severe_gaps"
(boolean), "gaps" (array of strings), and "reasoning".`,

	domain.StepTypeSynthesize: `Write the final research report. Integrate the
evidence and counterpoints, cite sources inline, and state confidence levels
for the main conclusions.`,
}

// buildPrompt assembles the prompt for one stage from the question, the
// accepted plan's entry for the stage, and an excerpt of the prior step's
// output.
func buildPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Research question: %s\n\n", req.Question)

	if step := req.Plan.StepFor(req.StepType); step != nil {
		if step.Objective != "" {
			fmt.Fprintf(&b, "Stage objective: %s\n", step.Objective)
		}
		if len(step.SearchQueries) > 0 {
			fmt.Fprintf(&b, "Suggested queries: %s\n", strings.Join(step.SearchQueries, "; "))
		}
		if len(step.TargetSourceTypes) > 0 {
			fmt.Fprintf(&b, "Preferred source types: %s\n", strings.Join(step.TargetSourceTypes, ", "))
		}
		if step.DoneDefinition != "" {
			fmt.Fprintf(&b, "Done when: %s\n", step.DoneDefinition)
		}
		b.WriteString("\n")
	}

	if req.SourceTarget > 0 {
		fmt.Fprintf(&b, "Aim for roughly %d distinct sources.\n\n", req.SourceTarget)
	}

	if req.PriorSummary != "" {
		fmt.Fprintf(&b, "Output of the previous stage:\n%s\n\n", req.PriorSummary)
	}

	b.WriteString(stageInstructions[req.StepType])
	return b.String()
}
