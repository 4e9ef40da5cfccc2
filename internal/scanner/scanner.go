// Package scanner implements the static security scan over skill
// source: a per-language ordered rule table of regular expressions,
// each tagged with a rule id, issue type, and severity. The scanner is
// pure — it never touches the filesystem or network, only the byte
// slices it is given — and deterministic: identical (ruleset, source)
// always yields an identical code hash, issue set, and severity counts.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillbox/skillbox/internal/manifest"
)

// Severity ranks a Scan Issue. Higher is more severe.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// IssueType enumerates the categories a rule may classify a finding as.
type IssueType string

const (
	IssueFileAccess        IssueType = "FileAccess"
	IssueNetworkAccess     IssueType = "NetworkAccess"
	IssueProcessSpawn      IssueType = "ProcessSpawn"
	IssueDynamicEval       IssueType = "DynamicEval"
	IssueCredentialExposure IssueType = "CredentialExposure"
	IssueAdvisory          IssueType = "Advisory" // ScannerTruncated, NonTextEntrypoint
)

// Rule is one entry of a per-language ordered rule table.
type Rule struct {
	ID        string
	IssueType IssueType
	Severity  Severity
	Pattern   *regexp.Regexp
	// Exclude suppresses a match on a line that also matches this
	// pattern (used to keep obvious false positives inside comments
	// or string literals from firing).
	Exclude     *regexp.Regexp
	Description string
}

// Issue is a single finding produced by the scanner.
type Issue struct {
	RuleID      string    `json:"rule_id"`
	IssueType   IssueType `json:"issue_type"`
	Severity    Severity  `json:"severity"`
	LineNumber  int       `json:"line_number"`
	CodeSnippet string    `json:"code_snippet"`
	Description string    `json:"description"`
}

// Result is the Scan Result value returned by Scan.
type Result struct {
	ScanID               string    `json:"scan_id"`
	CodeHash             string    `json:"code_hash"`
	Issues               []Issue   `json:"issues"`
	CriticalCount        int       `json:"critical_count"`
	HighCount            int       `json:"high_count"`
	MediumCount          int       `json:"medium_count"`
	LowCount              int       `json:"low_count"`
	IsSafe               bool      `json:"is_safe"`
	Truncated            bool      `json:"truncated"`
	Rules                []string  `json:"rules"`
	Timestamp            time.Time `json:"timestamp"`
}

// RequiresConfirmation holds iff requires_confirmation: (Critical + High > 0).
func (r Result) RequiresConfirmation() bool {
	return r.CriticalCount+r.HighCount > 0
}

const maxScanBytes = 2 * 1024 * 1024 // 2 MiB per entry script

// Scan evaluates sources (one per entry script, in manifest order)
// against the ruleset for lang. It never panics on a bad pattern in
// the ruleset — Rule construction already guarantees compiled regexes,
// so the only remaining failure mode (a nil Pattern) is skipped.
func Scan(lang manifest.Language, sources []string) Result {
	rules := RulesFor(lang)

	h := sha256.New()
	var allIssues []Issue
	truncated := false

	for srcIdx, src := range sources {
		if srcIdx > 0 {
			h.Write([]byte{0})
		}

		data := []byte(src)
		if isBinary(data) {
			allIssues = append(allIssues, Issue{
				RuleID:      "non-text-entrypoint",
				IssueType:   IssueAdvisory,
				Severity:    SeverityMedium,
				LineNumber:  0,
				Description: "entry script appears to be binary, not scanned",
			})
			h.Write(data)
			continue
		}

		scanned := data
		if len(scanned) > maxScanBytes {
			scanned = scanned[:maxScanBytes]
			truncated = true
		}
		h.Write(data)

		allIssues = append(allIssues, scanLines(string(scanned), rules)...)
	}

	if truncated {
		allIssues = append(allIssues, Issue{
			RuleID:      "scanner-truncated",
			IssueType:   IssueAdvisory,
			Severity:    SeverityLow,
			LineNumber:  0,
			Description: "source exceeded 2 MiB; only the first 2 MiB were scanned",
		})
	}

	counts := map[Severity]int{}
	ruleHits := map[string]bool{}
	for _, is := range allIssues {
		counts[is.Severity]++
		ruleHits[is.RuleID] = true
	}
	var firedRules []string
	for r := range ruleHits {
		firedRules = append(firedRules, r)
	}
	sort.Strings(firedRules)

	return Result{
		ScanID:        uuid.NewString(),
		CodeHash:      hex.EncodeToString(h.Sum(nil)),
		Issues:        allIssues,
		CriticalCount: counts[SeverityCritical],
		HighCount:     counts[SeverityHigh],
		MediumCount:   counts[SeverityMedium],
		LowCount:      counts[SeverityLow],
		IsSafe:        counts[SeverityCritical]+counts[SeverityHigh] == 0,
		Truncated:     truncated,
		Rules:         firedRules,
		Timestamp:     time.Now().UTC(),
	}
}

// scanLines tokenizes by line and evaluates every rule against every
// line, keeping at most one issue per (rule_id, line), then applies the
// same-line tie-break: highest severity wins; ties broken by lowest
// rule_id lexicographically.
func scanLines(source string, rules []Rule) []Issue {
	lines := strings.Split(source, "\n")

	type candidate struct {
		rule Rule
		line int
		text string
	}
	perLine := map[int][]candidate{}

	for i, line := range lines {
		lineNo := i + 1
		for _, rule := range rules {
			if rule.Pattern == nil {
				continue
			}
			if !rule.Pattern.MatchString(line) {
				continue
			}
			if rule.Exclude != nil && rule.Exclude.MatchString(line) {
				continue
			}
			perLine[lineNo] = append(perLine[lineNo], candidate{rule: rule, line: lineNo, text: line})
		}
	}

	var lineNumbers []int
	for ln := range perLine {
		lineNumbers = append(lineNumbers, ln)
	}
	sort.Ints(lineNumbers)

	var issues []Issue
	for _, ln := range lineNumbers {
		cands := perLine[ln]
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].rule.Severity != cands[j].rule.Severity {
				return cands[i].rule.Severity > cands[j].rule.Severity
			}
			return cands[i].rule.ID < cands[j].rule.ID
		})
		best := cands[0]
		issues = append(issues, Issue{
			RuleID:      best.rule.ID,
			IssueType:   best.rule.IssueType,
			Severity:    best.rule.Severity,
			LineNumber:  best.line,
			CodeSnippet: snippet(best.text),
			Description: best.rule.Description,
		})
	}
	return issues
}

func snippet(line string) string {
	line = strings.TrimSpace(line)
	const max = 60
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}

func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	for _, b := range probe {
		if b == 0 {
			return true
		}
	}
	return false
}
