package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `--- a/src/input.c
+++ b/src/input.c
@@ -5,4 +5,4 @@
     for (int i = 0; i < 5; ++i) {
-        int q = 10 / i;
+        int q = 10 / (i + 1);
         (void)q;
     }
`

func TestParseUnified(t *testing.T) {
	d, err := ParseUnified(sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, "a/src/input.c", d.OldFile)
	assert.Equal(t, "b/src/input.c", d.NewFile)
	require.Len(t, d.Hunks, 1)

	h := d.Hunks[0]
	assert.Equal(t, 5, h.OldStart)
	assert.Equal(t, 4, h.OldLines)
	assert.Equal(t, 5, h.NewStart)
	assert.Equal(t, 4, h.NewLines)
	assert.Len(t, h.Lines, 5)
	assert.Equal(t, []string{
		"    for (int i = 0; i < 5; ++i) {",
		"        int q = 10 / i;",
		"        (void)q;",
		"    }",
	}, h.oldBody())
	assert.Equal(t, []string{
		"    for (int i = 0; i < 5; ++i) {",
		"        int q = 10 / (i + 1);",
		"        (void)q;",
		"    }",
	}, h.newBody())
}

func TestParseUnifiedWithoutFileHeaders(t *testing.T) {
	d, err := ParseUnified("@@ -3,1 +3,1 @@\n-old line\n+new line\n")
	require.NoError(t, err)
	assert.Empty(t, d.OldFile)
	require.Len(t, d.Hunks, 1)
}

func TestParseUnifiedToleratesTrailingProse(t *testing.T) {
	d, err := ParseUnified(sampleDiff + "\nThis change avoids the zero divisor.\n")
	require.NoError(t, err)
	require.Len(t, d.Hunks, 1)
	assert.Len(t, d.Hunks[0].Lines, 5)
}

func TestParseUnifiedRejectsEmpty(t *testing.T) {
	_, err := ParseUnified("no diff here, sorry")
	assert.Error(t, err)
}

func TestParseUnifiedRejectsMalformedHeader(t *testing.T) {
	_, err := ParseUnified("@@ not a header @@\n-x\n+y\n")
	assert.Error(t, err)
}

func TestParseUnifiedRejectsOutOfOrderHunks(t *testing.T) {
	text := "@@ -10,1 +10,1 @@\n-a\n+b\n@@ -4,1 +4,1 @@\n-c\n+d\n"
	_, err := ParseUnified(text)
	assert.Error(t, err)
}

func TestGenerateUnifiedIdenticalInputs(t *testing.T) {
	assert.Empty(t, GenerateUnified("same\ntext\n", "same\ntext\n", "f.c"))
}

func TestGenerateUnifiedRoundTrip(t *testing.T) {
	oldText := "one\ntwo\nthree\nfour\nfive\nsix\nseven\neight\n"
	newText := "one\ntwo\nTHREE\nfour\nfive\nsix\nseven\neight\n"

	out := GenerateUnified(oldText, newText, "f.c")
	require.NotEmpty(t, out)
	assert.True(t, strings.HasPrefix(out, "--- a/f.c\n+++ b/f.c\n"))

	d, err := ParseUnified(out)
	require.NoError(t, err)
	require.Len(t, d.Hunks, 1)
	assert.Contains(t, d.Hunks[0].Lines, "-three")
	assert.Contains(t, d.Hunks[0].Lines, "+THREE")
}

func TestGenerateUnifiedSplitsDistantChanges(t *testing.T) {
	var oldLines, newLines []string
	for i := 1; i <= 40; i++ {
		oldLines = append(oldLines, "line")
		newLines = append(newLines, "line")
	}
	newLines[4] = "changed early"
	newLines[34] = "changed late"

	out := GenerateUnified(strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n", "f.c")
	d, err := ParseUnified(out)
	require.NoError(t, err)
	assert.Len(t, d.Hunks, 2)
}
