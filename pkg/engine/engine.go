package engine

import (
	"context"
	"errors"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
)

// ErrEngineUnavailable marks classifier or remediation calls that failed
// after retry. Callers degrade (pattern-only confirmation, ABSTAINED groups)
// instead of aborting the run.
var ErrEngineUnavailable = errors.New("remediation engine unavailable")

// ConfirmRequest asks the engine to confirm, reject or supplement the pattern
// stage's candidates for one file.
type ConfirmRequest struct {
	File       string
	Candidates []detect.Candidate
	// Context holds the numbered code excerpts surrounding each candidate.
	Context string
}

// Verdict is the engine's judgement on a single candidate.
type Verdict string

const (
	VerdictConfirm Verdict = "confirm"
	VerdictReject  Verdict = "reject"
)

// ConfirmFinding is one entry of the classifier's reply.
type ConfirmFinding struct {
	RuleID     string  `json:"rule"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Confidence float64 `json:"confidence"`
	Verdict    Verdict `json:"verdict"`
}

// ConfirmResponse is the parsed classifier reply.
type ConfirmResponse struct {
	Findings []ConfirmFinding
}

// RuleGuidance carries one rule's fix text into a remediation prompt.
type RuleGuidance struct {
	ID       string
	Guidance string
}

// RemediateRequest asks the engine for a unified diff fixing one locality
// group of violations against the current working buffer.
type RemediateRequest struct {
	File string
	// Context is the numbered excerpt covering the group's spans.
	Context string
	// ContextStart is the buffer line number of the first excerpt line.
	ContextStart int
	// Spans are the violation spans, in current buffer coordinates.
	Spans []detect.Span
	Rules []RuleGuidance
	Mode  config.Mode
}

// RemediateResponse is either a unified diff or an explicit abstention.
type RemediateResponse struct {
	Diff      string
	Abstained bool
	Reason    string
}

// Engine is the narrow capability interface isolating the non-deterministic
// external fixer. Both calls are slow, may fail, and must never be assumed to
// return identical output for identical input.
type Engine interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error)
	Remediate(ctx context.Context, req RemediateRequest) (*RemediateResponse, error)
}
