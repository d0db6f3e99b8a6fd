package rules

import (
	"fmt"
	"strings"
)

// Severity ranks how dangerous a rule violation is.
type Severity string

const (
	SeverityHighCritical Severity = "HIGH_CRITICAL"
	SeverityCritical     Severity = "CRITICAL"
	SeverityHigh         Severity = "HIGH"
	SeverityMedium       Severity = "MEDIUM"
	SeverityLow          Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityHighCritical: 5,
	SeverityCritical:     4,
	SeverityHigh:         3,
	SeverityMedium:       2,
	SeverityLow:          1,
}

// Rank returns a numeric ordering for severity comparisons; higher is worse.
// Unknown severities rank below LOW.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// RuleDefinition is one entry of the rule knowledge base. Immutable after load.
type RuleDefinition struct {
	ID             string
	Severity       Severity
	Description    string
	DetectionHints []string
	FixGuidance    string
}
