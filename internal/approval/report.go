package approval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skillbox/skillbox/internal/scanner"
)

var severityIcon = map[scanner.Severity]string{
	scanner.SeverityCritical: "[CRITICAL]",
	scanner.SeverityHigh:     "[HIGH]",
	scanner.SeverityMedium:   "[MEDIUM]",
	scanner.SeverityLow:      "[LOW]",
}

// FormatReport renders a scan result into a human-readable report:
// issues ordered Critical→High→Medium→Low then by line number, each
// with severity icon, rule id, line, a ≤60-char snippet, and a closing
// disposition sentence.
//
// Grounded verbatim in original_source's SecurityScanResult.format_report
// — same ordering rule, same per-issue field layout, same "safe to
// execute" vs "confirmation required" closing line.
func FormatReport(result scanner.Result) string {
	if len(result.Issues) == 0 {
		return "Security scan passed. No issues found."
	}

	issues := make([]scanner.Issue, len(result.Issues))
	copy(issues, result.Issues)
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity > issues[j].Severity
		}
		return issues[i].LineNumber < issues[j].LineNumber
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Security Scan Report (ID: %s)\n", shortID(result.ScanID))
	fmt.Fprintf(&b, "Found %d item(s) for review:\n\n", len(issues))

	for i, issue := range issues {
		icon := severityIcon[issue.Severity]
		fmt.Fprintf(&b, "  %s #%d [%s] %s\n", icon, i+1, issue.Severity, issue.IssueType)
		fmt.Fprintf(&b, "     rule: %s\n", issue.RuleID)
		fmt.Fprintf(&b, "     line %d: %s\n", issue.LineNumber, issue.Description)
		fmt.Fprintf(&b, "     code: %s\n\n", issue.CodeSnippet)
	}

	if result.RequiresConfirmation() {
		b.WriteString("High severity issues found. Confirmation required to execute.\n")
	} else {
		b.WriteString("Only low/medium severity issues found. Safe to execute.\n")
	}

	return b.String()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
