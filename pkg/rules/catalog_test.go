package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klocfix/klocfix/pkg/utils"
)

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "DBZ.ITERATOR.md", `---
severity: HIGH_CRITICAL
hints:
  - 'divide.*iterator'
---
# DBZ.ITERATOR

Division by a loop iterator that can be zero.

Guard the divisor before dividing.`)
	writeRule(t, dir, "NNTS.MIGHT.md", "Buffer may not be null terminated.\n")

	cat, err := LoadCatalog(dir, utils.GetLogger(true))
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())

	dbz, ok := cat.Get("DBZ.ITERATOR")
	require.True(t, ok)
	assert.Equal(t, SeverityHighCritical, dbz.Severity)
	assert.Equal(t, []string{"divide.*iterator"}, dbz.DetectionHints)
	assert.Equal(t, "Division by a loop iterator that can be zero.", dbz.Description)
	assert.Contains(t, dbz.FixGuidance, "Guard the divisor")

	nnts, ok := cat.Get("NNTS.MIGHT")
	require.True(t, ok)
	assert.Equal(t, SeverityMedium, nnts.Severity, "missing front matter defaults to MEDIUM")
	assert.Empty(t, nnts.DetectionHints)
}

func TestLoadCatalogMalformedFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "FNH.MIGHT.md", "---\nseverity: [broken\n---\nUnchecked handle.\n")

	cat, err := LoadCatalog(dir, utils.GetLogger(true))
	require.NoError(t, err, "a malformed rule header must not fail the load")
	def, ok := cat.Get("FNH.MIGHT")
	require.True(t, ok)
	assert.Equal(t, SeverityMedium, def.Severity)
}

func TestLoadCatalogUnknownSeverity(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "A.B.md", "---\nseverity: ENORMOUS\n---\nBody.\n")

	cat, err := LoadCatalog(dir, utils.GetLogger(true))
	require.NoError(t, err)
	def, _ := cat.Get("A.B")
	assert.Equal(t, SeverityMedium, def.Severity)
}

func TestLoadCatalogLatin1Fallback(t *testing.T) {
	dir := t.TempDir()
	// 0xE8 is 'è' in Latin-1 and invalid UTF-8 on its own.
	raw := []byte("R\xe8gle: avoid division by zero.\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DBZ.GEN.md"), raw, 0644))

	cat, err := LoadCatalog(dir, utils.GetLogger(true))
	require.NoError(t, err)
	def, ok := cat.Get("DBZ.GEN")
	require.True(t, ok)
	assert.Contains(t, def.Description, "Règle")
}

func TestCatalogOrderIsLoadOrder(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "A.FIRST.md", "first\n")
	writeRule(t, dir, "B.SECOND.md", "second\n")

	cat, err := LoadCatalog(dir, utils.GetLogger(true))
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Order("A.FIRST"))
	assert.Equal(t, 1, cat.Order("B.SECOND"))
	assert.Equal(t, 2, cat.Order("UNKNOWN.RULE"), "unknown ids sort last")
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHighCritical.Rank(), SeverityCritical.Rank())
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("BOGUS").Rank())
}
