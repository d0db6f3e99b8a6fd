package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/patch"
	"github.com/klocfix/klocfix/pkg/resolve"
	"github.com/klocfix/klocfix/pkg/rules"
)

func fileReport(file string, sevs ...rules.Severity) FileReport {
	fr := FileReport{File: file, Status: string(patch.StatusApplied)}
	for i, s := range sevs {
		fr.Violations = append(fr.Violations, resolve.Violation{
			RuleID:   "A.RULE",
			File:     file,
			Span:     detect.Span{StartLine: i + 1, EndLine: i + 1},
			Severity: s,
		})
	}
	return fr
}

func TestBuilderSortsFilesByPath(t *testing.T) {
	b := NewBuilder(config.ModeStrict)
	b.AddFile(fileReport("src/zeta.c"))
	b.AddFile(fileReport("src/alpha.c"))
	b.AddFile(fileReport("main.c"))

	r := b.Finalize()
	require.Len(t, r.Files, 3)
	assert.Equal(t, "main.c", r.Files[0].File)
	assert.Equal(t, "src/alpha.c", r.Files[1].File)
	assert.Equal(t, "src/zeta.c", r.Files[2].File)
	assert.Equal(t, 3, r.TotalFiles)
	assert.Equal(t, config.ModeStrict, r.Mode)
}

func TestBuilderSeverityTotals(t *testing.T) {
	b := NewBuilder(config.ModeStrict)
	b.AddFile(fileReport("a.c", rules.SeverityHighCritical, rules.SeverityHigh))
	b.AddFile(fileReport("b.c", rules.SeverityHigh))
	b.AddFile(fileReport("clean.c"))

	r := b.Finalize()
	assert.Equal(t, map[string]int{"HIGH_CRITICAL": 1, "HIGH": 2}, r.Totals)
	assert.Nil(t, r.Files[2].Severity, "clean file carries no severity counts")
}

func TestBuilderPanicsAfterFinalize(t *testing.T) {
	b := NewBuilder(config.ModeStrict)
	b.Finalize()
	assert.Panics(t, func() { b.AddFile(fileReport("late.c")) })
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(config.ModeAdvise)
	fr := fileReport("a.c", rules.SeverityMedium)
	fr.Groups = []GroupOutcome{{
		Rules:         []string{"A.RULE"},
		Span:          detect.Span{StartLine: 1, EndLine: 1},
		Status:        patch.StatusSuggested,
		SuggestedDiff: "@@ -1,1 +1,1 @@\n-a\n+b\n",
	}}
	b.AddFile(fr)

	path := filepath.Join(dir, "outputs", "full_report.json")
	require.NoError(t, b.Finalize().WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got RunReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, config.ModeAdvise, got.Mode)
	require.Len(t, got.Files, 1)
	require.Len(t, got.Files[0].Groups, 1)
	assert.Equal(t, patch.StatusSuggested, got.Files[0].Groups[0].Status)
	assert.NotEmpty(t, got.Files[0].Groups[0].SuggestedDiff)
}

func TestWritePatchArtifact(t *testing.T) {
	dir := t.TempDir()
	path, err := WritePatchArtifact(dir, "src/input.c", "--- a/src/input.c\n+++ b/src/input.c\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "patches", "src_input.c.patch"), path)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "--- a/src/input.c")
}

func TestWriteSuggestedArtifact(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSuggestedArtifact(dir, "src/input.c", "@@ -1,1 +1,1 @@\n-a\n+b\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "patches", "src_input.c.suggested.patch"), path)
}

func TestWriteCombinedPatch(t *testing.T) {
	dir := t.TempDir()
	p1, err := WritePatchArtifact(dir, "a.c", "diff for a\n")
	require.NoError(t, err)
	p2, err := WritePatchArtifact(dir, "b.c", "diff for b\n")
	require.NoError(t, err)

	r := &RunReport{Files: []FileReport{
		{File: "a.c", PatchFile: p1},
		{File: "b.c", PatchFile: p2},
		{File: "clean.c"},
	}}
	require.NoError(t, r.WriteCombinedPatch(dir))

	data, readErr := os.ReadFile(filepath.Join(dir, "full_run.patch"))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "diff for a")
	assert.Contains(t, string(data), "diff for b")
}

func TestWriteCombinedPatchNoPatches(t *testing.T) {
	dir := t.TempDir()
	r := &RunReport{Files: []FileReport{{File: "clean.c"}}}
	require.NoError(t, r.WriteCombinedPatch(dir))
	_, err := os.Stat(filepath.Join(dir, "full_run.patch"))
	assert.True(t, os.IsNotExist(err))
}
