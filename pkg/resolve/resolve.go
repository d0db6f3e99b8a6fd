// Package resolve merges the pattern and classifier detection signals into a
// final, deduplicated violation set. It owns violation lifetime: candidates
// below the confidence floor are discarded here, overlapping claims are
// merged or suppressed here, and nothing downstream reshapes the set again.
package resolve

import (
	"fmt"
	"sort"

	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

// Agreement records which detection signals produced a violation.
type Agreement string

const (
	AgreementBoth           Agreement = "BOTH"
	AgreementPatternOnly    Agreement = "PATTERN_ONLY"
	AgreementClassifierOnly Agreement = "CLASSIFIER_ONLY"
)

// Violation is a confirmed, spatially-resolved rule infraction.
type Violation struct {
	RuleID     string         `json:"rule_id"`
	File       string         `json:"file"`
	Span       detect.Span    `json:"span"`
	Severity   rules.Severity `json:"severity"`
	Confidence float64        `json:"confidence"`
	Agreement  Agreement      `json:"agreement"`
}

// Suppression records a violation displaced by a higher-severity overlap.
// Suppressions are reported, never silently dropped.
type Suppression struct {
	RuleID       string      `json:"rule_id"`
	Span         detect.Span `json:"span"`
	SuppressedBy string      `json:"suppressed_by"`
	Reason       string      `json:"reason"`
}

// Result is the resolver's output for one file.
type Result struct {
	Violations []Violation   `json:"violations"`
	Suppressed []Suppression `json:"suppressed,omitempty"`
}

// Resolve collapses candidates into the final violation set.
//
// Classifier-only candidates below minConfidence are dropped; pattern
// candidates are always kept because the pattern stage is deterministic.
// Candidates for the same rule with overlapping spans merge into one
// violation whose agreement reflects both sources. Overlaps between
// different rules are trimmed apart when separable; inseparable overlaps
// keep the higher-severity rule and record the loser as suppressed.
// Postcondition: returned violations are sorted by start line and pairwise
// non-overlapping.
func Resolve(file string, cands []detect.Candidate, cat *rules.Catalog, minConfidence float64, logger *utils.Logger) Result {
	var kept []detect.Candidate
	for _, c := range cands {
		if c.Source == detect.SourceClassifier {
			if _, known := cat.Get(c.RuleID); !known {
				logger.Logf("%s: classifier proposed unknown rule %s, ignoring", file, c.RuleID)
				continue
			}
			if c.Confidence < minConfidence && !hasPatternOverlap(cands, c) {
				logger.Logf("%s: dropping low-confidence classifier candidate %s (%.2f < %.2f)",
					file, c.RuleID, c.Confidence, minConfidence)
				continue
			}
		}
		kept = append(kept, c)
	}

	violations := mergeSameRule(file, kept, cat)
	violations, suppressed := separateCrossRule(violations, cat, logger)

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Span.StartLine < violations[j].Span.StartLine
	})
	return Result{Violations: violations, Suppressed: suppressed}
}

func hasPatternOverlap(cands []detect.Candidate, c detect.Candidate) bool {
	for _, o := range cands {
		if o.Source == detect.SourcePattern && o.RuleID == c.RuleID && o.Span.Overlaps(c.Span) {
			return true
		}
	}
	return false
}

// mergeSameRule collapses overlapping candidates per rule id into violations.
func mergeSameRule(file string, cands []detect.Candidate, cat *rules.Catalog) []Violation {
	byRule := map[string][]detect.Candidate{}
	var order []string
	for _, c := range cands {
		if _, seen := byRule[c.RuleID]; !seen {
			order = append(order, c.RuleID)
		}
		byRule[c.RuleID] = append(byRule[c.RuleID], c)
	}

	var out []Violation
	for _, ruleID := range order {
		group := byRule[ruleID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Span.StartLine < group[j].Span.StartLine
		})
		cur := newViolation(file, group[0], cat)
		sources := map[detect.Source]bool{group[0].Source: true}
		for _, c := range group[1:] {
			if c.Span.Overlaps(cur.Span) {
				cur.Span = cur.Span.Union(c.Span)
				if c.Confidence > cur.Confidence {
					cur.Confidence = c.Confidence
				}
				sources[c.Source] = true
				continue
			}
			cur.Agreement = agreementOf(sources)
			out = append(out, cur)
			cur = newViolation(file, c, cat)
			sources = map[detect.Source]bool{c.Source: true}
		}
		cur.Agreement = agreementOf(sources)
		out = append(out, cur)
	}
	return out
}

func newViolation(file string, c detect.Candidate, cat *rules.Catalog) Violation {
	return Violation{
		RuleID:     c.RuleID,
		File:       file,
		Span:       c.Span,
		Severity:   cat.Severity(c.RuleID),
		Confidence: c.Confidence,
	}
}

func agreementOf(sources map[detect.Source]bool) Agreement {
	switch {
	case sources[detect.SourcePattern] && sources[detect.SourceClassifier]:
		return AgreementBoth
	case sources[detect.SourceClassifier]:
		return AgreementClassifierOnly
	default:
		return AgreementPatternOnly
	}
}

// separateCrossRule resolves overlaps between violations of different rules.
// Partial overlaps are trimmed so both survive on disjoint sub-ranges; a span
// fully contained in another cannot be separated, so the weaker rule is
// suppressed.
func separateCrossRule(vs []Violation, cat *rules.Catalog, logger *utils.Logger) ([]Violation, []Suppression) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Span.StartLine != vs[j].Span.StartLine {
			return vs[i].Span.StartLine < vs[j].Span.StartLine
		}
		return priority(vs[i], vs[j], cat)
	})

	var out []Violation
	var suppressed []Suppression

	suppress := func(loser, winner Violation) {
		logger.Logf("%s: suppressing %s at lines %d-%d (inseparable from %s)",
			loser.File, loser.RuleID, loser.Span.StartLine, loser.Span.EndLine, winner.RuleID)
		suppressed = append(suppressed, Suppression{
			RuleID:       loser.RuleID,
			Span:         loser.Span,
			SuppressedBy: winner.RuleID,
			Reason: fmt.Sprintf("span inseparable from higher-priority %s (%s)",
				winner.RuleID, winner.Severity),
		})
	}

	// insert places v into out, resolving overlaps pairwise. The conflicting
	// entry is removed before anything is re-inserted, so a winner that
	// displaced it gets checked against everything left, not just the slot it
	// took. Terminates because every conflict either suppresses a violation
	// or strictly shrinks a span.
	var insert func(v Violation)
	insert = func(v Violation) {
		for i := range out {
			if !out[i].Span.Overlaps(v.Span) {
				continue
			}
			other := out[i]
			out = append(out[:i], out[i+1:]...)
			winner, loser := other, v
			if priority(v, other, cat) {
				winner, loser = v, other
			}
			if trimmed, ok := trimAround(loser.Span, winner.Span); ok {
				loser.Span = trimmed
				insert(winner)
				insert(loser)
			} else {
				suppress(loser, winner)
				insert(winner)
			}
			return
		}
		out = append(out, v)
	}

	for _, v := range vs {
		insert(v)
	}
	return out, suppressed
}

// priority reports whether a should win over b: higher severity first,
// catalog order as the tie-break.
func priority(a, b Violation, cat *rules.Catalog) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return cat.Order(a.RuleID) < cat.Order(b.RuleID)
}

// trimAround shrinks span to the part of it not covered by winner. Returns
// false when nothing survives (winner covers the whole span) or the overlap
// splits the span in two, which counts as inseparable.
func trimAround(span, winner detect.Span) (detect.Span, bool) {
	startsBefore := span.StartLine < winner.StartLine
	endsAfter := span.EndLine > winner.EndLine
	switch {
	case startsBefore && !endsAfter:
		return detect.Span{StartLine: span.StartLine, EndLine: winner.StartLine - 1}, true
	case endsAfter && !startsBefore:
		return detect.Span{StartLine: winner.EndLine + 1, EndLine: span.EndLine}, true
	default:
		return detect.Span{}, false
	}
}
