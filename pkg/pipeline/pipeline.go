// Package pipeline runs the detection-and-remediation chain per file and
// schedules files across a bounded worker pool. Files are independent units
// of work; within one file the stages are strictly sequential because every
// stage depends on merged, offset-consistent state from the previous one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/klocfix/klocfix/pkg/classify"
	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/engine"
	"github.com/klocfix/klocfix/pkg/patch"
	"github.com/klocfix/klocfix/pkg/remediate"
	"github.com/klocfix/klocfix/pkg/report"
	"github.com/klocfix/klocfix/pkg/resolve"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

// Pipeline wires the stages together for one run.
type Pipeline struct {
	cfg       *config.Config
	cat       *rules.Catalog
	eng       engine.Engine
	requester *remediate.Requester
	logger    *utils.Logger
}

// New builds a pipeline over an immutable catalog snapshot and an engine.
func New(cfg *config.Config, cat *rules.Catalog, eng engine.Engine, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		cat:       cat,
		eng:       eng,
		requester: remediate.NewRequester(eng, cat, cfg, logger),
		logger:    logger,
	}
}

// Run processes every file through the full chain and returns the finalized
// report. File-local failures land in the report; only a total inability to
// schedule work is an error.
func (p *Pipeline) Run(ctx context.Context, files []string) (*report.RunReport, error) {
	if len(files) == 0 {
		return nil, errors.New("no source files to process")
	}

	builder := report.NewBuilder(p.cfg.Mode)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)

	for _, file := range files {
		file := file
		g.Go(func() error {
			builder.AddFile(p.processFile(gctx, file))
			return nil
		})
	}
	_ = g.Wait()
	return builder.Finalize(), nil
}

// processFile runs detector -> classifier -> resolver -> requester -> applier
// for one file. It always returns a report entry, whatever happened.
func (p *Pipeline) processFile(ctx context.Context, file string) report.FileReport {
	p.logger.LogProcessStep(fmt.Sprintf("Analyzing %s", file))

	data, err := os.ReadFile(file)
	if err != nil {
		p.logger.LogError(err)
		return report.FileReport{File: file, Status: report.FileStatusError, Reason: err.Error()}
	}
	text := string(data)

	cands := detect.Scan(file, text, p.cat, p.logger)
	cands = classify.Confirm(ctx, p.eng, file, text, cands, p.cfg.ClassifierWindow, p.logger)
	res := resolve.Resolve(file, cands, p.cat, p.cfg.MinConfidence, p.logger)

	fr := report.FileReport{
		File:       file,
		Violations: res.Violations,
		Suppressed: res.Suppressed,
	}
	if len(res.Violations) == 0 {
		fr.Status = report.FileStatusClean
		return fr
	}

	groups := remediate.GroupByLocality(res.Violations, p.cfg.GroupDistance)
	applier := patch.NewApplier(file, text, p.cfg.Mode, len(groups))

	for gi, grp := range groups {
		p.runGroup(ctx, applier, file, gi, grp)
	}

	for gi, st := range applier.Groups() {
		fr.Groups = append(fr.Groups, report.GroupOutcome{
			Rules:         groupRules(groups[gi]),
			Span:          groups[gi].Span,
			Status:        st.Status,
			Reason:        st.Reason,
			SuggestedDiff: suggestedDiff(st),
		})
	}
	fr.Status = string(overallStatus(applier.Groups()))

	artifact, wrote, err := applier.Finalize()
	if err != nil {
		p.logger.LogError(err)
		fr.Status = report.FileStatusError
		fr.Reason = err.Error()
		return fr
	}
	if wrote {
		path, werr := report.WritePatchArtifact(p.cfg.OutputDir, file, artifact)
		if werr != nil {
			p.logger.LogError(werr)
		} else {
			fr.PatchFile = path
		}
	}
	if suggestions := collectSuggestions(applier.Groups()); suggestions != "" {
		path, werr := report.WriteSuggestedArtifact(p.cfg.OutputDir, file, suggestions)
		if werr != nil {
			p.logger.LogError(werr)
		} else {
			fr.PatchFile = path
		}
	}
	return fr
}

// collectSuggestions concatenates the diffs of SUGGESTED groups.
func collectSuggestions(states []patch.GroupState) string {
	var parts []string
	for _, st := range states {
		if st.Status == patch.StatusSuggested && st.Diff != "" {
			parts = append(parts, st.Diff)
		}
	}
	return strings.Join(parts, "\n")
}

// runGroup drives one remediation group through the applier state machine.
func (p *Pipeline) runGroup(ctx context.Context, applier *patch.Applier, file string, gi int, grp remediate.Group) {
	if ctx.Err() != nil {
		applier.Abstain(gi, "run cancelled before group was requested")
		return
	}

	spans := make([]detect.Span, len(grp.Violations))
	for i, v := range grp.Violations {
		spans[i] = applier.MapSpan(v.Span)
	}

	req := p.requester.BuildRequest(file, applier.Buffer(), grp, spans)
	resp, err := p.requester.Invoke(ctx, req)
	if err != nil {
		applier.Abstain(gi, err.Error())
		return
	}
	if resp.Abstained {
		applier.Abstain(gi, resp.Reason)
		return
	}

	if p.cfg.Mode == config.ModeAdvise {
		applier.Suggest(gi, resp.Diff)
		return
	}
	applier.Apply(gi, resp.Diff, spans)
}

func groupRules(g remediate.Group) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range g.Violations {
		if !seen[v.RuleID] {
			seen[v.RuleID] = true
			out = append(out, v.RuleID)
		}
	}
	return out
}

func suggestedDiff(st patch.GroupState) string {
	if st.Status == patch.StatusSuggested {
		return st.Diff
	}
	return ""
}

// overallStatus collapses group states into one file status: APPLIED when
// anything landed, otherwise the most severe non-applied outcome.
func overallStatus(states []patch.GroupState) patch.Status {
	order := []patch.Status{patch.StatusApplied, patch.StatusSuggested, patch.StatusConflict, patch.StatusRejected, patch.StatusAbstained}
	for _, want := range order {
		for _, st := range states {
			if st.Status == want {
				return want
			}
		}
	}
	return patch.StatusAbstained
}
