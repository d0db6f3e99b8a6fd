// Package report aggregates per-file outcomes into the run's verifiable
// artifacts: one JSON report and unified-diff patch files. Given the same
// outcomes it always produces the same report; there is no hidden state.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/patch"
	"github.com/klocfix/klocfix/pkg/resolve"
)

// GroupOutcome is one remediation group's terminal record.
type GroupOutcome struct {
	Rules         []string     `json:"rules"`
	Span          detect.Span  `json:"span"`
	Status        patch.Status `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	SuggestedDiff string       `json:"suggested_diff,omitempty"`
}

// FileReport is the complete outcome for one processed file. Every file that
// entered the pipeline gets one, violations or not; omitting a file from the
// report is a defect.
type FileReport struct {
	File       string                `json:"file"`
	Violations []resolve.Violation   `json:"violations"`
	Suppressed []resolve.Suppression `json:"suppressed,omitempty"`
	Groups     []GroupOutcome        `json:"groups,omitempty"`
	Status     string                `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	PatchFile  string                `json:"patch_file,omitempty"`
	Severity   map[string]int        `json:"severity_counts,omitempty"`
}

// Overall file statuses beyond the patch state machine.
const (
	FileStatusClean = "CLEAN"
	FileStatusError = "ERROR"
)

// RunReport is the finalized, immutable aggregation for one run.
type RunReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Mode        config.Mode    `json:"mode"`
	TotalFiles  int            `json:"total_files"`
	Files       []FileReport   `json:"files"`
	Totals      map[string]int `json:"severity_totals"`
}

// Builder collects file reports from concurrent workers and finalizes them
// into a RunReport.
type Builder struct {
	mu    sync.Mutex
	mode  config.Mode
	files []FileReport
	done  bool
}

// NewBuilder creates a builder for one run.
func NewBuilder(mode config.Mode) *Builder {
	return &Builder{mode: mode}
}

// AddFile records one file's outcome. Safe for concurrent use.
func (b *Builder) AddFile(fr FileReport) {
	fr.Severity = severityCounts(fr.Violations)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		panic("report: AddFile after Finalize")
	}
	b.files = append(b.files, fr)
}

// Finalize freezes the report. Files are sorted by path so the artifact is
// reproducible regardless of worker scheduling.
func (b *Builder) Finalize() *RunReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true

	files := append([]FileReport{}, b.files...)
	sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })

	totals := map[string]int{}
	for _, f := range files {
		for sev, n := range f.Severity {
			totals[sev] += n
		}
	}
	return &RunReport{
		GeneratedAt: time.Now().UTC(),
		Mode:        b.mode,
		TotalFiles:  len(files),
		Files:       files,
		Totals:      totals,
	}
}

func severityCounts(vs []resolve.Violation) map[string]int {
	if len(vs) == 0 {
		return nil
	}
	out := map[string]int{}
	for _, v := range vs {
		out[string(v.Severity)]++
	}
	return out
}

// WriteJSON writes the JSON artifact. Independent of WritePatches: a failure
// here must not prevent patch artifacts and vice versa.
func (r *RunReport) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WritePatchArtifact writes one file's unified diff under dir/patches,
// mirroring the source filename. Returns the artifact path.
func WritePatchArtifact(dir, file, diffText string) (string, error) {
	return writeArtifact(dir, file, ".patch", diffText)
}

// WriteSuggestedArtifact writes an ADVISE-mode suggestion that was never
// applied. The distinct extension keeps it from being mistaken for an applied
// diff.
func WriteSuggestedArtifact(dir, file, diffText string) (string, error) {
	return writeArtifact(dir, file, ".suggested.patch", diffText)
}

func writeArtifact(dir, file, ext, diffText string) (string, error) {
	name := strings.ReplaceAll(filepath.ToSlash(file), "/", "_") + ext
	path := filepath.Join(dir, "patches", name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(diffText), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteCombinedPatch concatenates every per-file diff into one artifact.
func (r *RunReport) WriteCombinedPatch(dir string) error {
	var parts []string
	var firstErr error
	for _, f := range r.Files {
		if f.PatchFile == "" {
			continue
		}
		data, err := os.ReadFile(f.PatchFile)
		if err != nil {
			firstErr = errors.Join(firstErr, fmt.Errorf("reading %s: %w", f.PatchFile, err))
			continue
		}
		parts = append(parts, string(data))
	}
	if len(parts) == 0 {
		return firstErr
	}
	path := filepath.Join(dir, "full_run.patch")
	if err := os.WriteFile(path, []byte(strings.Join(parts, "\n")), 0644); err != nil {
		return errors.Join(firstErr, err)
	}
	return firstErr
}
