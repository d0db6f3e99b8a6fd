// Package remediate builds scoped remediation requests and drives the engine
// for one file at a time. Groups within a file are always requested
// sequentially: applied diffs shift line offsets, and a later group's context
// must reflect the edits already materialized in the working buffer.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/engine"
	"github.com/klocfix/klocfix/pkg/resolve"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

// Group is a batch of violations close enough together to fix in one
// engine round-trip.
type Group struct {
	Violations []resolve.Violation
	Span       detect.Span
}

// GroupByLocality batches violations whose spans sit within distance lines of
// each other. Input must be sorted by start line (the resolver guarantees
// this); output groups preserve that order.
func GroupByLocality(vs []resolve.Violation, distance int) []Group {
	if len(vs) == 0 {
		return nil
	}
	groups := []Group{{Violations: []resolve.Violation{vs[0]}, Span: vs[0].Span}}
	for _, v := range vs[1:] {
		last := &groups[len(groups)-1]
		if v.Span.StartLine-last.Span.EndLine <= distance {
			last.Violations = append(last.Violations, v)
			last.Span = last.Span.Union(v.Span)
			continue
		}
		groups = append(groups, Group{Violations: []resolve.Violation{v}, Span: v.Span})
	}
	return groups
}

// Requester builds and issues remediation requests.
type Requester struct {
	eng    engine.Engine
	cat    *rules.Catalog
	cfg    *config.Config
	logger *utils.Logger
}

// NewRequester wires a requester to the engine and rule catalog.
func NewRequester(eng engine.Engine, cat *rules.Catalog, cfg *config.Config, logger *utils.Logger) *Requester {
	return &Requester{eng: eng, cat: cat, cfg: cfg, logger: logger}
}

// BuildRequest assembles the engine request for one group against the
// current working buffer. spans must already be mapped into buffer
// coordinates.
func (r *Requester) BuildRequest(file, buffer string, g Group, spans []detect.Span) engine.RemediateRequest {
	lines := strings.Split(buffer, "\n")

	covering := spans[0]
	for _, s := range spans[1:] {
		covering = covering.Union(s)
	}
	start := covering.StartLine - r.cfg.ContextMargin
	if start < 1 {
		start = 1
	}
	end := covering.EndLine + r.cfg.ContextMargin
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for n := start; n <= end; n++ {
		fmt.Fprintf(&b, "%5d| %s\n", n, lines[n-1])
	}

	var guidance []engine.RuleGuidance
	seen := map[string]bool{}
	for _, v := range g.Violations {
		if seen[v.RuleID] {
			continue
		}
		seen[v.RuleID] = true
		text := "(no guidance available)"
		if def, ok := r.cat.Get(v.RuleID); ok {
			text = def.FixGuidance
		}
		guidance = append(guidance, engine.RuleGuidance{ID: v.RuleID, Guidance: text})
	}

	return engine.RemediateRequest{
		File:         file,
		Context:      b.String(),
		ContextStart: start,
		Spans:        spans,
		Rules:        guidance,
		Mode:         r.cfg.Mode,
	}
}

// Invoke issues the group's remediation request. The transport already
// retries a transient failure once; a failure that survives it is reported
// as ErrEngineUnavailable so the caller can mark the group ABSTAINED instead
// of failing the pipeline.
func (r *Requester) Invoke(ctx context.Context, req engine.RemediateRequest) (*engine.RemediateResponse, error) {
	resp, err := r.eng.Remediate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.logger.Logf("remediation call for %s failed: %v", req.File, err)
	if errors.Is(err, engine.ErrEngineUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
}
