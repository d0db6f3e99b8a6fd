package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/engine"
	"github.com/klocfix/klocfix/pkg/patch"
	"github.com/klocfix/klocfix/pkg/report"
	"github.com/klocfix/klocfix/pkg/resolve"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

type stubEngine struct {
	confirm   func(engine.ConfirmRequest) (*engine.ConfirmResponse, error)
	remediate func(engine.RemediateRequest) (*engine.RemediateResponse, error)
}

func (s *stubEngine) Confirm(_ context.Context, req engine.ConfirmRequest) (*engine.ConfirmResponse, error) {
	if s.confirm == nil {
		return &engine.ConfirmResponse{}, nil
	}
	return s.confirm(req)
}

func (s *stubEngine) Remediate(_ context.Context, req engine.RemediateRequest) (*engine.RemediateResponse, error) {
	if s.remediate == nil {
		return nil, errors.New("unexpected remediation call")
	}
	return s.remediate(req)
}

const divisionSource = `#include <stdio.h>

void f(void)
{
    for (int i = 0; i < 5; ++i) {
        int q = 10 / i;
        (void)q;
    }
}
`

const divisionFix = `@@ -5,4 +5,4 @@
     for (int i = 0; i < 5; ++i) {
-        int q = 10 / i;
+        int q = 10 / (i + 1);
         (void)q;
     }
`

func testConfig(t *testing.T, mode config.Mode) *config.Config {
	t.Helper()
	return &config.Config{
		OutputDir:        filepath.Join(t.TempDir(), "outputs"),
		MaxWorkers:       1,
		MinConfidence:    0.5,
		GroupDistance:    10,
		ContextMargin:    5,
		ClassifierWindow: 8,
		Mode:             mode,
	}
}

func dbzCatalog() *rules.Catalog {
	return rules.NewCatalog(&rules.RuleDefinition{
		ID:          "DBZ.ITERATOR",
		Severity:    rules.SeverityHighCritical,
		FixGuidance: "Guard the divisor so it can never be zero.",
	})
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.c")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunFixesConfirmedViolation(t *testing.T) {
	path := writeSource(t, divisionSource)
	eng := &stubEngine{
		confirm: func(req engine.ConfirmRequest) (*engine.ConfirmResponse, error) {
			require.Len(t, req.Candidates, 1)
			return &engine.ConfirmResponse{Findings: []engine.ConfirmFinding{{
				RuleID: "DBZ.ITERATOR", StartLine: 6, EndLine: 6,
				Confidence: 0.9, Verdict: engine.VerdictConfirm,
			}}}, nil
		},
		remediate: func(req engine.RemediateRequest) (*engine.RemediateResponse, error) {
			require.Len(t, req.Rules, 1)
			assert.Contains(t, req.Context, "10 / i")
			return &engine.RemediateResponse{Diff: divisionFix}, nil
		},
	}
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), eng, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, r.Files, 1)

	fr := r.Files[0]
	assert.Equal(t, string(patch.StatusApplied), fr.Status)
	require.Len(t, fr.Violations, 1)
	assert.Equal(t, resolve.AgreementBoth, fr.Violations[0].Agreement)
	assert.Equal(t, rules.SeverityHighCritical, fr.Violations[0].Severity)
	require.Len(t, fr.Groups, 1)
	assert.Equal(t, patch.StatusApplied, fr.Groups[0].Status)
	assert.Equal(t, map[string]int{"HIGH_CRITICAL": 1}, r.Totals)

	onDisk, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(onDisk), "10 / (i + 1)")

	require.NotEmpty(t, fr.PatchFile)
	artifact, readErr := os.ReadFile(fr.PatchFile)
	require.NoError(t, readErr)
	assert.Contains(t, string(artifact), "+        int q = 10 / (i + 1);")
}

func TestRunIsIdempotentOnFixedFile(t *testing.T) {
	fixed := `#include <stdio.h>

void f(void)
{
    for (int i = 0; i < 5; ++i) {
        int q = 10 / (i + 1);
        (void)q;
    }
}
`
	path := writeSource(t, fixed)
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), &stubEngine{}, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	fr := r.Files[0]
	assert.Equal(t, report.FileStatusClean, fr.Status)
	assert.Empty(t, fr.Violations)
	assert.Empty(t, fr.PatchFile)

	onDisk, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, fixed, string(onDisk))
}

func TestRunStrictRejectsOutOfScopeDiff(t *testing.T) {
	path := writeSource(t, divisionSource)
	eng := &stubEngine{
		remediate: func(engine.RemediateRequest) (*engine.RemediateResponse, error) {
			return &engine.RemediateResponse{Diff: "@@ -1,1 +1,2 @@\n #include <stdio.h>\n+#include <assert.h>\n"}, nil
		},
	}
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), eng, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	fr := r.Files[0]
	assert.Equal(t, string(patch.StatusRejected), fr.Status)
	require.Len(t, fr.Groups, 1)
	assert.NotEmpty(t, fr.Groups[0].Reason)
	assert.Empty(t, fr.PatchFile)

	onDisk, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, divisionSource, string(onDisk), "rejected runs never modify the source")
}

func TestRunAbstainsWhenEngineDown(t *testing.T) {
	path := writeSource(t, divisionSource)
	eng := &stubEngine{
		confirm: func(engine.ConfirmRequest) (*engine.ConfirmResponse, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
		remediate: func(engine.RemediateRequest) (*engine.RemediateResponse, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), eng, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err, "engine unavailability degrades, never aborts the run")
	fr := r.Files[0]

	// Classifier degraded to pass-through, so the violation is pattern-only.
	require.Len(t, fr.Violations, 1)
	assert.Equal(t, resolve.AgreementPatternOnly, fr.Violations[0].Agreement)
	assert.Equal(t, string(patch.StatusAbstained), fr.Status)

	onDisk, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, divisionSource, string(onDisk))
}

func TestRunExplicitAbstention(t *testing.T) {
	path := writeSource(t, divisionSource)
	eng := &stubEngine{
		remediate: func(engine.RemediateRequest) (*engine.RemediateResponse, error) {
			return &engine.RemediateResponse{Abstained: true, Reason: "divisor range unknown"}, nil
		},
	}
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), eng, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	fr := r.Files[0]
	require.Len(t, fr.Groups, 1)
	assert.Equal(t, patch.StatusAbstained, fr.Groups[0].Status)
	assert.Equal(t, "divisor range unknown", fr.Groups[0].Reason)
}

func TestRunAdviseSuggestsWithoutApplying(t *testing.T) {
	path := writeSource(t, divisionSource)
	eng := &stubEngine{
		remediate: func(engine.RemediateRequest) (*engine.RemediateResponse, error) {
			return &engine.RemediateResponse{Diff: divisionFix}, nil
		},
	}
	cfg := testConfig(t, config.ModeAdvise)
	p := New(cfg, dbzCatalog(), eng, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	fr := r.Files[0]
	assert.Equal(t, string(patch.StatusSuggested), fr.Status)
	require.Len(t, fr.Groups, 1)
	assert.Equal(t, divisionFix, fr.Groups[0].SuggestedDiff)

	// The suggestion lands as an artifact, never on the source file.
	require.NotEmpty(t, fr.PatchFile)
	assert.Contains(t, fr.PatchFile, ".suggested.patch")
	artifact, readErr := os.ReadFile(fr.PatchFile)
	require.NoError(t, readErr)
	assert.Contains(t, string(artifact), "+        int q = 10 / (i + 1);")

	onDisk, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, divisionSource, string(onDisk), "advise mode never touches the source")
}

const twoLoopSource = `#include <stdio.h>

void f(void)
{
    for (int i = 0; i < 5; ++i) {
        int q = 10 / i;
        (void)q;
    }
}

void g(void)
{
    for (int j = 0; j < 5; ++j) {
        int r = 20 / j;
        (void)r;
    }
}
`

func TestRunRemapsSpansAcrossGroups(t *testing.T) {
	path := writeSource(t, twoLoopSource)

	firstFix := `@@ -6,1 +6,2 @@
-        int q = 10 / i;
+        if (i == 0) { continue; }
+        int q = 10 / i;
`
	secondFix := `@@ -15,1 +15,1 @@
-        int r = 20 / j;
+        int r = 20 / (j + 1);
`
	call := 0
	eng := &stubEngine{
		remediate: func(req engine.RemediateRequest) (*engine.RemediateResponse, error) {
			call++
			if call == 1 {
				assert.Equal(t, detect.Span{StartLine: 6, EndLine: 6}, req.Spans[0])
				return &engine.RemediateResponse{Diff: firstFix}, nil
			}
			// The first group's fix inserted a line above this one.
			assert.Equal(t, detect.Span{StartLine: 15, EndLine: 15}, req.Spans[0])
			assert.Contains(t, req.Context, "   15|         int r = 20 / j;")
			return &engine.RemediateResponse{Diff: secondFix}, nil
		},
	}
	cfg := testConfig(t, config.ModeStrict)
	cfg.GroupDistance = 3
	p := New(cfg, dbzCatalog(), eng, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	fr := r.Files[0]
	require.Len(t, fr.Groups, 2)
	assert.Equal(t, patch.StatusApplied, fr.Groups[0].Status)
	assert.Equal(t, patch.StatusApplied, fr.Groups[1].Status)
	assert.Equal(t, 2, call)

	onDisk, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(onDisk), "if (i == 0) { continue; }")
	assert.Contains(t, string(onDisk), "20 / (j + 1)")
}

func TestRunUnreadableFileReportsError(t *testing.T) {
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), &stubEngine{}, utils.GetLogger(true))

	r, err := p.Run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.c")})
	require.NoError(t, err)
	require.Len(t, r.Files, 1)
	assert.Equal(t, report.FileStatusError, r.Files[0].Status)
	assert.NotEmpty(t, r.Files[0].Reason)
}

func TestRunNoFilesIsError(t *testing.T) {
	cfg := testConfig(t, config.ModeStrict)
	p := New(cfg, dbzCatalog(), &stubEngine{}, utils.GetLogger(true))
	_, err := p.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestGatherSourceFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0755))
	for name, content := range map[string]string{
		"main.c":      "int main(void) { return 0; }\n",
		"src/util.h":  "#pragma once\n",
		"src/util.c":  "int x;\n",
		"notes.txt":   "not code\n",
		"build/gen.c": "int y;\n",
		".gitignore":  "build/\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	files, err := GatherSourceFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "main.c"),
		filepath.Join(dir, "src", "util.c"),
		filepath.Join(dir, "src", "util.h"),
	}, files)
}

func TestGatherSourceFilesSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.c")
	require.NoError(t, os.WriteFile(path, []byte("int x;\n"), 0644))

	files, err := GatherSourceFiles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)

	txt := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hi\n"), 0644))
	_, err = GatherSourceFiles(txt)
	assert.Error(t, err)
}
