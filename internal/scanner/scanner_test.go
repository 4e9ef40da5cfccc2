package scanner

import (
	"strings"
	"testing"

	"github.com/skillbox/skillbox/internal/manifest"
)

func TestScan_EmptySourceIsSafe(t *testing.T) {
	result := Scan(manifest.LangPython, []string{""})
	if !result.IsSafe {
		t.Fatalf("expected safe result for empty source")
	}
	if len(result.Issues) != 0 {
		t.Fatalf("expected zero issues, got %d", len(result.Issues))
	}
}

func TestScan_UnknownLanguageEmptyRuleset(t *testing.T) {
	result := Scan(manifest.LangUnknown, []string{"eval(danger)"})
	if !result.IsSafe {
		t.Fatalf("expected safe result with empty ruleset")
	}
}

func TestScan_HighSeverityOsSystem(t *testing.T) {
	result := Scan(manifest.LangPython, []string{"import os\nos.system('rm -rf /')\n"})
	if result.IsSafe {
		t.Fatalf("expected unsafe result")
	}
	if !result.RequiresConfirmation() {
		t.Fatalf("expected confirmation required")
	}
	found := false
	for _, issue := range result.Issues {
		if issue.RuleID == "py-os-system" {
			found = true
			if issue.LineNumber != 2 {
				t.Errorf("line = %d, want 2", issue.LineNumber)
			}
		}
	}
	if !found {
		t.Fatalf("expected py-os-system rule to fire, issues=%v", result.Issues)
	}
}

func TestScan_DeterministicHashAndIssues(t *testing.T) {
	src := "eval(x)\nprint('hi')\n"
	r1 := Scan(manifest.LangPython, []string{src})
	r2 := Scan(manifest.LangPython, []string{src})
	if r1.CodeHash != r2.CodeHash {
		t.Fatalf("hash mismatch across identical scans: %s vs %s", r1.CodeHash, r2.CodeHash)
	}
	if len(r1.Issues) != len(r2.Issues) {
		t.Fatalf("issue count mismatch: %d vs %d", len(r1.Issues), len(r2.Issues))
	}
	if r1.CriticalCount != r2.CriticalCount || r1.HighCount != r2.HighCount {
		t.Fatalf("severity counts mismatch")
	}
	if r1.ScanID == r2.ScanID {
		t.Fatalf("expected distinct scan ids across separate scans")
	}
}

func TestScan_TieBreakHighestSeverityWins(t *testing.T) {
	// Both py-subprocess-call (Medium) and py-subprocess-shell (High) can
	// match the same line; High must win.
	src := "subprocess.run(cmd, shell=True)\n"
	result := Scan(manifest.LangPython, []string{src})
	if len(result.Issues) != 1 {
		t.Fatalf("expected exactly one issue for the line, got %d: %v", len(result.Issues), result.Issues)
	}
	if result.Issues[0].Severity != SeverityHigh {
		t.Fatalf("expected High severity to win tie-break, got %s", result.Issues[0].Severity)
	}
}

func TestScan_TruncatesOversizedSource(t *testing.T) {
	big := strings.Repeat("a", maxScanBytes+1)
	result := Scan(manifest.LangPython, []string{big})
	if !result.Truncated {
		t.Fatalf("expected Truncated=true")
	}
	foundAdvisory := false
	for _, issue := range result.Issues {
		if issue.RuleID == "scanner-truncated" {
			foundAdvisory = true
			if issue.Severity != SeverityLow {
				t.Errorf("expected Low severity advisory, got %s", issue.Severity)
			}
		}
	}
	if !foundAdvisory {
		t.Fatalf("expected ScannerTruncated advisory issue")
	}
}

func TestScan_BinaryEntrypointFlagged(t *testing.T) {
	result := Scan(manifest.LangPython, []string{"\x00\x01binary-looking-content"})
	foundAdvisory := false
	for _, issue := range result.Issues {
		if issue.RuleID == "non-text-entrypoint" {
			foundAdvisory = true
			if issue.Severity != SeverityMedium {
				t.Errorf("expected Medium severity, got %s", issue.Severity)
			}
		}
	}
	if !foundAdvisory {
		t.Fatalf("expected NonTextEntrypoint advisory issue")
	}
}
