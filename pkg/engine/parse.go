package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseConfirmReply extracts the classifier's JSON findings from a model
// reply. Models wrap JSON in prose often enough that we fall back to slicing
// out the first top-level array before giving up.
func parseConfirmReply(reply string) (*ConfirmResponse, error) {
	var findings []ConfirmFinding
	trimmed := strings.TrimSpace(stripFences(reply))
	if err := json.Unmarshal([]byte(trimmed), &findings); err != nil {
		arr := firstJSONArray(trimmed)
		if arr == "" {
			return nil, fmt.Errorf("classifier reply is not a JSON array: %w", err)
		}
		if err := json.Unmarshal([]byte(arr), &findings); err != nil {
			return nil, fmt.Errorf("classifier reply is not a JSON array: %w", err)
		}
	}
	out := findings[:0]
	for _, f := range findings {
		if f.RuleID == "" || f.StartLine < 1 {
			continue
		}
		if f.EndLine < f.StartLine {
			f.EndLine = f.StartLine
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		if f.Verdict == "" {
			f.Verdict = VerdictConfirm
		}
		out = append(out, f)
	}
	return &ConfirmResponse{Findings: out}, nil
}

// firstJSONArray returns the first balanced top-level [...] substring.
func firstJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		switch {
		case inString:
			if s[i] == '\\' {
				i++
			} else if s[i] == '"' {
				inString = false
			}
		case s[i] == '"':
			inString = true
		case s[i] == '[':
			depth++
		case s[i] == ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// parseRemediateReply turns a model reply into a diff or an abstention. An
// explicit "ABSTAIN" first token means the engine found no safe fix; any
// trailing text on that line is kept as the reason.
func parseRemediateReply(reply string) (*RemediateResponse, error) {
	trimmed := strings.TrimSpace(reply)
	if rest, ok := strings.CutPrefix(trimmed, "ABSTAIN"); ok {
		reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		if idx := strings.IndexByte(reason, '\n'); idx >= 0 {
			reason = reason[:idx]
		}
		if reason == "" {
			reason = "engine declined to propose a fix"
		}
		return &RemediateResponse{Abstained: true, Reason: reason}, nil
	}

	diff := extractDiffBlock(trimmed)
	if diff == "" {
		return nil, fmt.Errorf("remediation reply contains neither a diff nor an abstention")
	}
	return &RemediateResponse{Diff: diff}, nil
}

// extractDiffBlock prefers a fenced ```diff block; otherwise it accepts the
// whole reply when it already looks like a unified diff.
func extractDiffBlock(reply string) string {
	lines := strings.Split(reply, "\n")
	var block []string
	inFence := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") {
			if inFence {
				return strings.Join(block, "\n")
			}
			inFence = true
			continue
		}
		if inFence {
			block = append(block, line)
		}
	}
	if strings.Contains(reply, "@@") {
		return reply
	}
	return ""
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
