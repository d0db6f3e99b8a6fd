package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfirmReplyPlainArray(t *testing.T) {
	reply := `[{"rule":"DBZ.ITERATOR","start_line":6,"end_line":6,"confidence":0.92,"verdict":"confirm"}]`
	resp, err := parseConfirmReply(reply)
	require.NoError(t, err)
	require.Len(t, resp.Findings, 1)
	f := resp.Findings[0]
	assert.Equal(t, "DBZ.ITERATOR", f.RuleID)
	assert.Equal(t, 6, f.StartLine)
	assert.Equal(t, 0.92, f.Confidence)
	assert.Equal(t, VerdictConfirm, f.Verdict)
}

func TestParseConfirmReplyFencedWithProse(t *testing.T) {
	reply := "Here is my assessment:\n" +
		`[{"rule":"NNTS.MIGHT","start_line":12,"end_line":13,"confidence":0.7}]` +
		"\nLet me know if you need more detail."
	resp, err := parseConfirmReply(reply)
	require.NoError(t, err)
	require.Len(t, resp.Findings, 1)
	assert.Equal(t, "NNTS.MIGHT", resp.Findings[0].RuleID)
	// Missing verdict defaults to confirm.
	assert.Equal(t, VerdictConfirm, resp.Findings[0].Verdict)
}

func TestParseConfirmReplyCodeFence(t *testing.T) {
	reply := "```json\n[{\"rule\":\"A.RULE\",\"start_line\":3,\"end_line\":3,\"verdict\":\"reject\"}]\n```"
	resp, err := parseConfirmReply(reply)
	require.NoError(t, err)
	require.Len(t, resp.Findings, 1)
	assert.Equal(t, VerdictReject, resp.Findings[0].Verdict)
}

func TestParseConfirmReplySanitizes(t *testing.T) {
	reply := `[
		{"rule":"A.RULE","start_line":4,"end_line":2,"confidence":3.5},
		{"rule":"","start_line":5,"end_line":5},
		{"rule":"B.RULE","start_line":0,"end_line":0},
		{"rule":"C.RULE","start_line":7,"end_line":7,"confidence":-1}
	]`
	resp, err := parseConfirmReply(reply)
	require.NoError(t, err)
	require.Len(t, resp.Findings, 2)

	assert.Equal(t, "A.RULE", resp.Findings[0].RuleID)
	assert.Equal(t, 4, resp.Findings[0].EndLine, "inverted range collapses to its start line")
	assert.Equal(t, 1.0, resp.Findings[0].Confidence)
	assert.Equal(t, 0.0, resp.Findings[1].Confidence)
}

func TestParseConfirmReplyGarbage(t *testing.T) {
	_, err := parseConfirmReply("I cannot help with that.")
	assert.Error(t, err)
}

func TestParseConfirmReplyEmptyArray(t *testing.T) {
	resp, err := parseConfirmReply("[]")
	require.NoError(t, err)
	assert.Empty(t, resp.Findings)
}

func TestParseRemediateReplyAbstain(t *testing.T) {
	resp, err := parseRemediateReply("ABSTAIN: the cast is required by the platform ABI\nMore detail here.")
	require.NoError(t, err)
	assert.True(t, resp.Abstained)
	assert.Equal(t, "the cast is required by the platform ABI", resp.Reason)
	assert.Empty(t, resp.Diff)
}

func TestParseRemediateReplyAbstainWithoutReason(t *testing.T) {
	resp, err := parseRemediateReply("ABSTAIN")
	require.NoError(t, err)
	assert.True(t, resp.Abstained)
	assert.NotEmpty(t, resp.Reason)
}

func TestParseRemediateReplyFencedDiff(t *testing.T) {
	reply := "Here is the fix:\n```diff\n@@ -6,1 +6,1 @@\n-        int q = 10 / i;\n+        int q = 10 / (i + 1);\n```\nThis avoids the zero divisor."
	resp, err := parseRemediateReply(reply)
	require.NoError(t, err)
	assert.False(t, resp.Abstained)
	assert.Contains(t, resp.Diff, "@@ -6,1 +6,1 @@")
	assert.NotContains(t, resp.Diff, "```")
	assert.NotContains(t, resp.Diff, "Here is the fix")
}

func TestParseRemediateReplyBareDiff(t *testing.T) {
	reply := "--- a/f.c\n+++ b/f.c\n@@ -1,1 +1,1 @@\n-old\n+new"
	resp, err := parseRemediateReply(reply)
	require.NoError(t, err)
	assert.Contains(t, resp.Diff, "@@ -1,1 +1,1 @@")
}

func TestParseRemediateReplyGarbage(t *testing.T) {
	_, err := parseRemediateReply("The code looks fine to me.")
	assert.Error(t, err)
}

func TestFirstJSONArraySkipsBracketsInStrings(t *testing.T) {
	s := `prefix [{"rule":"A[1]","start_line":1,"end_line":1}] suffix`
	assert.Equal(t, `[{"rule":"A[1]","start_line":1,"end_line":1}]`, firstJSONArray(s))
}
