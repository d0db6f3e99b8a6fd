package patch

import (
	"fmt"
	"os"
	"strings"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
)

// Status is a group's position in the per-file application state machine:
// PENDING -> VALIDATING -> APPLIED | REJECTED | CONFLICT, with ABSTAINED and
// SUGGESTED as terminal outcomes that never touch the buffer.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApplied   Status = "APPLIED"
	StatusAbstained Status = "ABSTAINED"
	StatusRejected  Status = "REJECTED"
	StatusConflict  Status = "CONFLICT"
	// StatusSuggested is ADVISE mode's terminal state: the diff was recorded
	// for human review, never applied.
	StatusSuggested Status = "SUGGESTED"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool { return s != StatusPending }

// GroupState is the terminal record for one remediation group.
type GroupState struct {
	Status Status
	Reason string
	// Diff holds the applied diff text, or the suggested diff in ADVISE mode.
	Diff string
	// Spans are the requested violation spans, in the buffer coordinates
	// that were current when the group was applied.
	Spans []detect.Span
}

// Applier owns a file's in-memory buffer during patch application. It is the
// sole mutator of on-disk content and only writes after every group has left
// PENDING. All edits happen against the buffer; a group's diff either applies
// completely or not at all.
type Applier struct {
	file     string
	original string
	buffer   []string
	// origin maps each buffer line to its 1-based original line, 0 for lines
	// inserted by an applied group.
	origin   []int
	touched  map[int]bool
	mode     config.Mode
	groups   []GroupState
	trailing bool
}

// strictSlack is the line tolerance for insertions at a span's edge in
// STRICT mode.
const strictSlack = 1

// fuzzWindow bounds how far a hunk may drift from its claimed position.
const fuzzWindow = 50

// NewApplier starts the state machine for one file with groupCount groups in
// PENDING state.
func NewApplier(file, text string, mode config.Mode, groupCount int) *Applier {
	trailing := strings.HasSuffix(text, "\n")
	body := text
	if trailing {
		body = strings.TrimSuffix(text, "\n")
	}
	lines := strings.Split(body, "\n")
	origin := make([]int, len(lines))
	for i := range origin {
		origin[i] = i + 1
	}
	groups := make([]GroupState, groupCount)
	for i := range groups {
		groups[i].Status = StatusPending
	}
	return &Applier{
		file:     file,
		original: text,
		buffer:   lines,
		origin:   origin,
		touched:  map[int]bool{},
		mode:     mode,
		groups:   groups,
		trailing: trailing,
	}
}

// Buffer returns the current working text.
func (a *Applier) Buffer() string {
	out := strings.Join(a.buffer, "\n")
	if a.trailing {
		out += "\n"
	}
	return out
}

// Dirty reports whether the buffer diverged from the original file.
func (a *Applier) Dirty() bool { return a.Buffer() != a.original }

// Groups returns the group state records.
func (a *Applier) Groups() []GroupState {
	return append([]GroupState{}, a.groups...)
}

// MapSpan translates an original-file span into current buffer coordinates.
// Later groups depend on this: earlier applied hunks shift everything below
// them.
func (a *Applier) MapSpan(s detect.Span) detect.Span {
	start, end := 0, 0
	for i, org := range a.origin {
		if org == 0 {
			continue
		}
		if start == 0 && org >= s.StartLine {
			start = i + 1
		}
		if org <= s.EndLine {
			end = i + 1
		}
	}
	if start == 0 || end < start {
		return s
	}
	return detect.Span{StartLine: start, EndLine: end}
}

// Abstain marks a group terminally abstained.
func (a *Applier) Abstain(i int, reason string) {
	a.groups[i] = GroupState{Status: StatusAbstained, Reason: reason}
}

// Suggest records a diff for human review without applying it (ADVISE mode).
func (a *Applier) Suggest(i int, diffText string) {
	a.groups[i] = GroupState{Status: StatusSuggested, Diff: diffText}
}

// Apply validates diffText against the current buffer and applies it
// atomically. spans must be in current buffer coordinates. On REJECTED or
// CONFLICT the buffer is left exactly as it was.
func (a *Applier) Apply(i int, diffText string, spans []detect.Span) Status {
	d, err := ParseUnified(diffText)
	if err != nil {
		a.groups[i] = GroupState{Status: StatusRejected, Reason: fmt.Sprintf("malformed diff: %v", err), Spans: spans}
		return StatusRejected
	}

	// Validation and application run against a scratch copy. Nothing commits
	// until every hunk has applied.
	scratch := append([]string{}, a.buffer...)
	scratchOrigin := append([]int{}, a.origin...)
	newTouched := map[int]bool{}
	delta := 0

	for _, h := range d.Hunks {
		pos, ok := locateHunk(scratch, h, h.OldStart-1+delta)
		if !ok {
			a.groups[i] = GroupState{Status: StatusConflict, Reason: fmt.Sprintf("hunk @@ -%d could not be matched against the buffer", h.OldStart), Spans: spans}
			return StatusConflict
		}

		if st, reason := a.checkHunk(h, pos, scratchOrigin, spans, newTouched, delta); st != StatusApplied {
			a.groups[i] = GroupState{Status: st, Reason: reason, Spans: spans}
			return st
		}

		scratch, scratchOrigin = spliceHunk(scratch, scratchOrigin, h, pos)
		delta += len(h.newBody()) - len(h.oldBody())
	}

	a.buffer = scratch
	a.origin = scratchOrigin
	for ln := range newTouched {
		a.touched[ln] = true
	}
	a.groups[i] = GroupState{Status: StatusApplied, Diff: diffText, Spans: spans}
	return StatusApplied
}

// checkHunk enforces conflict and strict-scope policy for one hunk at its
// located position. spans are fixed in the coordinates the buffer had when
// the group started; delta is the net line shift from this diff's earlier
// hunks, which all sit strictly above pos.
func (a *Applier) checkHunk(h Hunk, pos int, origin []int, spans []detect.Span, newTouched map[int]bool, delta int) (Status, string) {
	bufLine := pos // 0-based index into scratch
	for _, l := range h.Lines {
		line := bufLine + 1 - delta
		switch l[0] {
		case ' ':
			bufLine++
		case '-':
			org := origin[bufLine]
			if org == 0 || a.touched[org] {
				return StatusConflict, fmt.Sprintf("line %d was already modified by an earlier group", line)
			}
			if a.mode == config.ModeStrict && !inSpans(spans, line, 0) {
				return StatusRejected, fmt.Sprintf("edit at line %d is outside every requested violation span", line)
			}
			newTouched[org] = true
			bufLine++
		case '+':
			if a.mode == config.ModeStrict && !inSpans(spans, line, strictSlack) {
				return StatusRejected, fmt.Sprintf("insertion at line %d is outside every requested violation span", line)
			}
		}
	}
	return StatusApplied, ""
}

func inSpans(spans []detect.Span, line, slack int) bool {
	for _, s := range spans {
		if line >= s.StartLine-slack && line <= s.EndLine+slack {
			return true
		}
	}
	return false
}

// locateHunk finds where the hunk's old body matches the buffer, starting at
// the claimed position and fanning out within fuzzWindow.
func locateHunk(buffer []string, h Hunk, want int) (int, bool) {
	old := h.oldBody()
	if len(old) == 0 {
		if want < 0 {
			want = 0
		}
		if want > len(buffer) {
			want = len(buffer)
		}
		return want, true
	}
	matches := func(pos int) bool {
		if pos < 0 || pos+len(old) > len(buffer) {
			return false
		}
		for i, l := range old {
			if strings.TrimRight(buffer[pos+i], " \t") != strings.TrimRight(l, " \t") {
				return false
			}
		}
		return true
	}
	if matches(want) {
		return want, true
	}
	for off := 1; off <= fuzzWindow; off++ {
		if matches(want - off) {
			return want - off, true
		}
		if matches(want + off) {
			return want + off, true
		}
	}
	return 0, false
}

// spliceHunk replaces the hunk's old body with its new body at pos, keeping
// the origin map in sync. Inserted lines get origin 0.
func spliceHunk(buffer []string, origin []int, h Hunk, pos int) ([]string, []int) {
	oldLen := len(h.oldBody())
	newBody := h.newBody()

	newOrigin := make([]int, 0, len(origin)-oldLen+len(newBody))
	newOrigin = append(newOrigin, origin[:pos]...)
	// Context lines keep their origin; changed lines become origin 0.
	bodyOrigin := make([]int, len(newBody))
	oi, ni := pos, 0
	for _, l := range h.Lines {
		switch l[0] {
		case ' ':
			bodyOrigin[ni] = origin[oi]
			oi++
			ni++
		case '-':
			oi++
		case '+':
			bodyOrigin[ni] = 0
			ni++
		}
	}
	newOrigin = append(newOrigin, bodyOrigin...)
	newOrigin = append(newOrigin, origin[pos+oldLen:]...)

	newBuffer := make([]string, 0, len(newOrigin))
	newBuffer = append(newBuffer, buffer[:pos]...)
	newBuffer = append(newBuffer, newBody...)
	newBuffer = append(newBuffer, buffer[pos+oldLen:]...)
	return newBuffer, newOrigin
}

// Finalize writes the buffer to disk once every group is terminal and at
// least one group applied. It returns the artifact diff between the original
// file and the final buffer. Calling it with a PENDING group is a defect.
func (a *Applier) Finalize() (artifact string, wrote bool, err error) {
	for gi, g := range a.groups {
		if !g.Status.Terminal() {
			return "", false, fmt.Errorf("group %d is still %s; refusing to write %s", gi, g.Status, a.file)
		}
	}
	if !a.Dirty() {
		return "", false, nil
	}
	if err := os.WriteFile(a.file, []byte(a.Buffer()), 0644); err != nil {
		return "", false, fmt.Errorf("writing patched file %s: %w", a.file, err)
	}
	return GenerateUnified(a.original, a.Buffer(), a.file), true, nil
}
