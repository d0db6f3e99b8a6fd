package engine

import (
	"fmt"
	"strings"

	"github.com/klocfix/klocfix/pkg/config"
)

const confirmSystemPrompt = `You are an expert in MISRA C:2012 and Klocwork static analysis rules.
You confirm or reject candidate rule violations and may report additional violations
visible in the provided code. Respond ONLY with a JSON array, no text outside it.
Each element: {"rule": "<RULE.ID>", "start_line": N, "end_line": N,
"confidence": 0.0-1.0, "verdict": "confirm"|"reject"}.
Report violations not already listed as new elements with verdict "confirm".`

const remediateSystemPrompt = `You are an expert C engineer fixing MISRA/Klocwork violations.
You reply with EITHER a unified diff fixing the listed violations OR the single word
ABSTAIN followed by a short reason when no safe fix exists.
Diff requirements: standard unified format with @@ -start,count +start,count @@ hunk
headers in whole-file line coordinates, at least two context lines per hunk, wrapped
in a fenced code block.`

func buildConfirmPrompt(req ConfirmRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\nCandidate violations:\n", req.File)
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- %s at lines %d-%d (source: %s)\n", c.RuleID, c.Span.StartLine, c.Span.EndLine, c.Source)
	}
	b.WriteString("\nCode context (line numbers prefixed):\n")
	b.WriteString(req.Context)
	b.WriteString("\nRespond only with the JSON array of verdicts and any additional findings.")
	return b.String()
}

func buildRemediatePrompt(req RemediateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\nViolations to fix (line numbers refer to the excerpt below):\n", req.File)
	for _, s := range req.Spans {
		fmt.Fprintf(&b, "- lines %d-%d\n", s.StartLine, s.EndLine)
	}
	b.WriteString("\nRule guidance:\n")
	for _, r := range req.Rules {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", r.ID, r.Guidance)
	}
	b.WriteString(modePolicy(req.Mode))
	fmt.Fprintf(&b, "\n\nCode excerpt (starts at file line %d, line numbers prefixed):\n%s\n", req.ContextStart, req.Context)
	b.WriteString("\nProduce the unified diff against the whole file, or ABSTAIN.")
	return b.String()
}

// modePolicy spells out the fixing-mode policy the patch applier will later
// enforce, so the engine has no excuse for out-of-scope edits.
func modePolicy(mode config.Mode) string {
	switch mode {
	case config.ModeImprove:
		return `Policy IMPROVE: fix the listed violations; you may also clean up code
immediately adjacent to them when it clearly helps, but keep the change small.`
	case config.ModeAdvise:
		return `Policy ADVISE: propose the diff for human review only. It will not be
applied automatically. Still keep it minimal and correct.`
	default:
		return `Policy STRICT: change ONLY the lines inside the listed violation spans.
Any edit outside those spans will cause the entire diff to be rejected.
Do not rename identifiers, do not reformat untouched lines.`
	}
}
