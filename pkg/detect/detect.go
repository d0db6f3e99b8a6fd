package detect

import (
	"regexp"
	"sort"

	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

// Source records which detection signal produced a candidate.
type Source string

const (
	SourcePattern    Source = "PATTERN"
	SourceClassifier Source = "CLASSIFIER"
)

// Span is an inclusive 1-based line range within a file.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Overlaps reports whether two spans share at least one line.
func (s Span) Overlaps(o Span) bool {
	return s.StartLine <= o.EndLine && o.StartLine <= s.EndLine
}

// Union returns the smallest span covering both.
func (s Span) Union(o Span) Span {
	out := s
	if o.StartLine < out.StartLine {
		out.StartLine = o.StartLine
	}
	if o.EndLine > out.EndLine {
		out.EndLine = o.EndLine
	}
	return out
}

// Contains reports whether the span covers the given line.
func (s Span) Contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// Lines returns the number of lines covered.
func (s Span) Lines() int { return s.EndLine - s.StartLine + 1 }

// Candidate is an unconfirmed detection signal prior to resolution.
type Candidate struct {
	RuleID     string  `json:"rule_id"`
	File       string  `json:"file"`
	Span       Span    `json:"span"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// checker is a structural scan for one built-in rule. It receives the raw
// lines and a masked copy with comments and string literals blanked out.
type checker struct {
	ruleID string
	scan   func(lines, masked []string) []Span
}

// builtinCheckers holds the structural detectors in a fixed order so repeated
// scans of the same text always yield the same candidate list.
var builtinCheckers = []checker{
	{"DBZ.ITERATOR", scanDivisionByIterator},
	{"ABV.ANY_SIZE_ARRAY", scanFlexibleArrayMember},
	{"MISRA.CAST.VOID_PTR_TO_OBJ_PTR.2012", scanVoidPointerCast},
	{"NNTS.MIGHT", scanStrncpyNoTerminator},
	{"MISRA.DEFINE.WRONGNAME.UNDERSCORE", scanUnderscoreDefine},
	{"MISRA.PPARAM.NEEDS.CONST", scanMissingConstParam},
	{"MISRA.FILE_PTR.DEREF.RETURN.2012", scanFilePointerDeref},
	{"FNH.MIGHT", scanUncheckedAllocation},
}

// Scan runs every applicable detector over the file text and returns the
// candidate list. It is a pure function of its inputs: no I/O, no shared
// state, identical output for identical input. Structural detectors only run
// for rules present in the catalog; catalog detection hints run additionally
// as line-wise regex matches.
func Scan(file, text string, cat *rules.Catalog, logger *utils.Logger) []Candidate {
	lines := splitLines(text)
	masked := maskLines(lines)

	var out []Candidate
	for _, c := range builtinCheckers {
		if _, ok := cat.Get(c.ruleID); !ok {
			continue
		}
		for _, span := range c.scan(lines, masked) {
			out = append(out, Candidate{
				RuleID:     c.ruleID,
				File:       file,
				Span:       span,
				Source:     SourcePattern,
				Confidence: 1.0,
			})
		}
	}

	out = append(out, scanHints(file, masked, cat, logger)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.StartLine != out[j].Span.StartLine {
			return out[i].Span.StartLine < out[j].Span.StartLine
		}
		return out[i].RuleID < out[j].RuleID
	})
	return dedupe(out)
}

// scanHints matches every catalog rule's detection hint regexes against the
// masked lines. A hint that fails to compile is a detection defect: it is
// logged and skipped, never fatal.
func scanHints(file string, masked []string, cat *rules.Catalog, logger *utils.Logger) []Candidate {
	var out []Candidate
	for _, def := range cat.Rules() {
		for _, hint := range def.DetectionHints {
			re, err := regexp.Compile(hint)
			if err != nil {
				logger.Logf("rule %s: malformed detection hint %q: %v", def.ID, hint, err)
				continue
			}
			for i, line := range masked {
				if re.MatchString(line) {
					out = append(out, Candidate{
						RuleID:     def.ID,
						File:       file,
						Span:       Span{StartLine: i + 1, EndLine: i + 1},
						Source:     SourcePattern,
						Confidence: 1.0,
					})
				}
			}
		}
	}
	return out
}

func dedupe(cands []Candidate) []Candidate {
	seen := make(map[Candidate]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
