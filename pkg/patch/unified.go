package patch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hunk is one @@ block of a unified diff. Lines keep their single-character
// prefix (' ', '+' or '-').
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

// Diff is a parsed unified diff for a single file.
type Diff struct {
	OldFile string
	NewFile string
	Hunks   []Hunk
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnified parses unified diff text. File headers are optional; at least
// one well-formed hunk is required. Lines past a hunk's declared counts are
// ignored, which tolerates trailing prose from the engine.
func ParseUnified(text string) (*Diff, error) {
	d := &Diff{}
	var cur *Hunk
	var oldLeft, newLeft int

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			d.OldFile = strings.TrimSpace(strings.TrimPrefix(line, "--- "))
		case strings.HasPrefix(line, "+++ "):
			d.NewFile = strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		case strings.HasPrefix(line, "@@"):
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("malformed hunk header: %q", line)
			}
			d.Hunks = append(d.Hunks, Hunk{
				OldStart: atoiDefault(m[1], 1),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewLines: atoiDefault(m[4], 1),
			})
			cur = &d.Hunks[len(d.Hunks)-1]
			oldLeft, newLeft = cur.OldLines, cur.NewLines
		case cur != nil && (oldLeft > 0 || newLeft > 0):
			if line == "" {
				line = " "
			}
			switch line[0] {
			case ' ':
				oldLeft--
				newLeft--
			case '-':
				oldLeft--
			case '+':
				newLeft--
			case '\\':
				// "\ No newline at end of file" marker
				continue
			default:
				return nil, fmt.Errorf("malformed diff line: %q", line)
			}
			cur.Lines = append(cur.Lines, line)
		}
	}

	if len(d.Hunks) == 0 {
		return nil, fmt.Errorf("diff contains no hunks")
	}
	for i := 1; i < len(d.Hunks); i++ {
		if d.Hunks[i].OldStart <= d.Hunks[i-1].OldStart {
			return nil, fmt.Errorf("hunks are not in increasing order")
		}
	}
	return d, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, ch := range s {
		n = n*10 + int(ch-'0')
	}
	return n
}

// oldBody returns the lines the hunk expects in the current buffer.
func (h Hunk) oldBody() []string {
	var out []string
	for _, l := range h.Lines {
		if l[0] == ' ' || l[0] == '-' {
			out = append(out, l[1:])
		}
	}
	return out
}

// newBody returns the lines the hunk produces.
func (h Hunk) newBody() []string {
	var out []string
	for _, l := range h.Lines {
		if l[0] == ' ' || l[0] == '+' {
			out = append(out, l[1:])
		}
	}
	return out
}

const contextLines = 3

// GenerateUnified renders a unified diff between two whole-file texts. The
// artifact diff for a patched file is produced this way from the original and
// the final buffer, so it reflects exactly what was applied.
func GenerateUnified(oldText, newText, path string) string {
	if oldText == newText {
		return ""
	}
	ops := lineDiff(oldText, newText)

	var changed []int
	for i, op := range ops {
		if op.kind != diffmatchpatch.DiffEqual {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)

	// Cluster changes whose context windows touch, then render each cluster
	// as one hunk.
	start := changed[0]
	prev := changed[0]
	flush := func(first, last int) {
		lo := first - contextLines
		if lo < 0 {
			lo = 0
		}
		hi := last + contextLines + 1
		if hi > len(ops) {
			hi = len(ops)
		}
		writeHunk(&b, ops, lo, hi)
	}
	for _, c := range changed[1:] {
		if c-prev > 2*contextLines {
			flush(start, prev)
			start = c
		}
		prev = c
	}
	flush(start, prev)
	return b.String()
}

type lineOp struct {
	kind diffmatchpatch.Operation
	text string
}

// lineDiff produces a per-line edit script using go-diff's line mode.
func lineDiff(oldText, newText string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, arr := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), arr)

	var ops []lineOp
	for _, d := range diffs {
		for _, ln := range strings.SplitAfter(d.Text, "\n") {
			if ln == "" {
				continue
			}
			ops = append(ops, lineOp{d.Type, strings.TrimSuffix(ln, "\n")})
		}
	}
	return ops
}

func writeHunk(b *strings.Builder, ops []lineOp, lo, hi int) {
	oldStart, newStart := 1, 1
	for _, op := range ops[:lo] {
		if op.kind != diffmatchpatch.DiffInsert {
			oldStart++
		}
		if op.kind != diffmatchpatch.DiffDelete {
			newStart++
		}
	}
	oldCount, newCount := 0, 0
	for _, op := range ops[lo:hi] {
		if op.kind != diffmatchpatch.DiffInsert {
			oldCount++
		}
		if op.kind != diffmatchpatch.DiffDelete {
			newCount++
		}
	}
	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, op := range ops[lo:hi] {
		switch op.kind {
		case diffmatchpatch.DiffDelete:
			b.WriteString("-")
		case diffmatchpatch.DiffInsert:
			b.WriteString("+")
		default:
			b.WriteString(" ")
		}
		b.WriteString(op.text)
		b.WriteString("\n")
	}
}
