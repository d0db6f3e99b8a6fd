// Package classify runs the confirmation stage: the pattern detector's
// candidates are sent to the AI engine, which confirms, rejects or
// supplements them. The stage is best-effort by design: when the engine is
// unreachable or replies with garbage, candidates pass through unchanged and
// keep their pattern-only provenance.
package classify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/engine"
	"github.com/klocfix/klocfix/pkg/utils"
)

// Confirm sends the candidates with bounded code context to the engine and
// merges the verdicts back into the candidate list. The returned list always
// contains every input candidate: rejection only withholds classifier
// agreement, it never drops a deterministic pattern hit.
func Confirm(ctx context.Context, eng engine.Engine, file, text string, cands []detect.Candidate, window int, logger *utils.Logger) []detect.Candidate {
	if len(cands) == 0 {
		return cands
	}

	lines := strings.Split(text, "\n")
	req := engine.ConfirmRequest{
		File:       file,
		Candidates: cands,
		Context:    contextWindows(lines, cands, window),
	}

	resp, err := eng.Confirm(ctx, req)
	if err != nil {
		logger.Logf("classifier degraded to pass-through for %s: %v", file, err)
		return cands
	}

	out := append([]detect.Candidate{}, cands...)
	for _, f := range resp.Findings {
		if f.Verdict == engine.VerdictReject {
			continue
		}
		if f.StartLine > len(lines) {
			continue
		}
		if f.EndLine > len(lines) {
			f.EndLine = len(lines)
		}
		out = append(out, detect.Candidate{
			RuleID:     f.RuleID,
			File:       file,
			Span:       detect.Span{StartLine: f.StartLine, EndLine: f.EndLine},
			Source:     detect.SourceClassifier,
			Confidence: f.Confidence,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.StartLine != out[j].Span.StartLine {
			return out[i].Span.StartLine < out[j].Span.StartLine
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// contextWindows renders one numbered excerpt per candidate, merging
// overlapping windows so the same lines are never sent twice.
func contextWindows(lines []string, cands []detect.Candidate, window int) string {
	type rng struct{ start, end int }
	var rngs []rng
	for _, c := range cands {
		start := c.Span.StartLine - window
		if start < 1 {
			start = 1
		}
		end := c.Span.EndLine + window
		if end > len(lines) {
			end = len(lines)
		}
		rngs = append(rngs, rng{start, end})
	}
	sort.Slice(rngs, func(i, j int) bool { return rngs[i].start < rngs[j].start })

	var merged []rng
	for _, r := range rngs {
		if len(merged) > 0 && r.start <= merged[len(merged)-1].end+1 {
			if r.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}

	var b strings.Builder
	for i, r := range merged {
		if i > 0 {
			b.WriteString("...\n")
		}
		for n := r.start; n <= r.end; n++ {
			fmt.Fprintf(&b, "%5d| %s\n", n, lines[n-1])
		}
	}
	return b.String()
}
