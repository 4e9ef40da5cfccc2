package scanner

import (
	"regexp"

	"github.com/skillbox/skillbox/internal/manifest"
)

// RulesFor returns the ordered rule table for a language. An unknown
// language yields an empty ruleset, which scans clean rather than
// erroring.
//
// Rule shape (rule_id, issue_type, severity, regex pattern) is
// grounded in agent-warden's prompt-injection scanner
// (internal/sanitize/scanner.go: named+severity-ranked compiled
// patterns) generalized from single-language content scanning to a
// per-language source-code rule table, with issue types drawn from
// the category/pattern vocabulary of the sandbox policy scanner found
// in the wider example pack (process spawn, dynamic eval, file/network
// access, credential exposure).
func RulesFor(lang manifest.Language) []Rule {
	switch lang {
	case manifest.LangPython:
		return pythonRules
	case manifest.LangJavaScript:
		return javascriptRules
	case manifest.LangBash:
		return bashRules
	default:
		return nil
	}
}

func mustCompile(pattern string) *regexp.Regexp {
	return regexp.MustCompile(pattern)
}

var pythonRules = []Rule{
	{
		ID: "py-eval-exec", IssueType: IssueDynamicEval, Severity: SeverityCritical,
		Pattern:     mustCompile(`\b(eval|exec)\s*\(`),
		Description: "dynamic evaluation of a string as code",
	},
	{
		ID: "py-os-system", IssueType: IssueProcessSpawn, Severity: SeverityHigh,
		Pattern:     mustCompile(`\bos\.system\s*\(`),
		Description: "shell command execution via os.system",
	},
	{
		ID: "py-subprocess-shell", IssueType: IssueProcessSpawn, Severity: SeverityHigh,
		Pattern:     mustCompile(`\bsubprocess\.\w+\([^)]*shell\s*=\s*True`),
		Description: "subprocess invocation with shell=True",
	},
	{
		ID: "py-subprocess-call", IssueType: IssueProcessSpawn, Severity: SeverityMedium,
		Pattern:     mustCompile(`\bsubprocess\.(Popen|call|run|check_output)\s*\(`),
		Description: "subprocess invocation",
	},
	{
		ID: "py-pty-spawn", IssueType: IssueProcessSpawn, Severity: SeverityCritical,
		Pattern:     mustCompile(`\bpty\.spawn\s*\(`),
		Description: "interactive shell spawned via pty",
	},
	{
		ID: "py-sensitive-read", IssueType: IssueFileAccess, Severity: SeverityHigh,
		Pattern:     mustCompile(`(\.ssh/|id_rsa|/etc/passwd|/etc/shadow|\.aws/credentials)`),
		Description: "read of a credential- or key-bearing path",
	},
	{
		ID: "py-file-write", IssueType: IssueFileAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`\bopen\s*\([^)]*['"]([wa]b?|a\+)['"]`),
		Description: "file opened for writing",
	},
	{
		ID: "py-socket", IssueType: IssueNetworkAccess, Severity: SeverityHigh,
		Pattern:     mustCompile(`\bsocket\.socket\s*\(`),
		Description: "raw socket creation",
	},
	{
		ID: "py-urllib-request", IssueType: IssueNetworkAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`\b(requests\.(get|post|put|delete)|urllib\.request\.urlopen)\s*\(`),
		Description: "outbound HTTP request",
	},
	{
		ID: "py-env-credential", IssueType: IssueCredentialExposure, Severity: SeverityMedium,
		Pattern:     mustCompile(`os\.environ(\.get)?\s*(\[|\()\s*['"](AWS_SECRET|API_KEY|TOKEN|PASSWORD)`),
		Description: "read of a credential-shaped environment variable",
	},
	{
		ID: "py-base64-exec", IssueType: IssueDynamicEval, Severity: SeverityCritical,
		Pattern:     mustCompile(`base64\.b64decode\([^)]*\)\s*\)?\s*\)?.*\b(eval|exec)\b`),
		Description: "base64-decoded payload passed to eval/exec",
	},
}

var javascriptRules = []Rule{
	{
		ID: "js-eval", IssueType: IssueDynamicEval, Severity: SeverityCritical,
		Pattern:     mustCompile(`\beval\s*\(`),
		Description: "dynamic evaluation via eval()",
	},
	{
		ID: "js-function-ctor", IssueType: IssueDynamicEval, Severity: SeverityHigh,
		Pattern:     mustCompile(`new\s+Function\s*\(`),
		Description: "dynamic function construction from a string",
	},
	{
		ID: "js-child-process", IssueType: IssueProcessSpawn, Severity: SeverityHigh,
		Pattern:     mustCompile(`require\(['"]child_process['"]\)|\bchild_process\.(exec|spawn|execSync)\s*\(`),
		Description: "child process spawned via child_process",
	},
	{
		ID: "js-fs-sensitive-read", IssueType: IssueFileAccess, Severity: SeverityHigh,
		Pattern:     mustCompile(`fs\.(readFile|readFileSync)\([^)]*(\.ssh|id_rsa|\.aws|\.env)`),
		Description: "read of a credential- or key-bearing path",
	},
	{
		ID: "js-fs-write", IssueType: IssueFileAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`fs\.(writeFile|writeFileSync|appendFile)\s*\(`),
		Description: "file write via fs module",
	},
	{
		ID: "js-fetch-request", IssueType: IssueNetworkAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`\b(fetch|axios\.(get|post))\s*\(`),
		Description: "outbound HTTP request",
	},
	{
		ID: "js-process-env", IssueType: IssueCredentialExposure, Severity: SeverityMedium,
		Pattern:     mustCompile(`process\.env\.(AWS_SECRET|API_KEY|TOKEN|PASSWORD)`),
		Description: "read of a credential-shaped environment variable",
	},
	{
		ID: "js-websocket-raw", IssueType: IssueNetworkAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`new\s+WebSocket\s*\(\s*['"]ws://`),
		Description: "unencrypted outbound websocket connection",
	},
}

var bashRules = []Rule{
	{
		ID: "sh-reverse-shell", IssueType: IssueProcessSpawn, Severity: SeverityCritical,
		Pattern:     mustCompile(`/dev/tcp/|nc\s+-e\s|bash\s+-i\s+>&`),
		Description: "reverse-shell idiom",
	},
	{
		ID: "sh-base64-exec-pipe", IssueType: IssueDynamicEval, Severity: SeverityCritical,
		Pattern:     mustCompile(`base64\s+-d.*\|\s*(ba)?sh`),
		Description: "base64-decoded payload piped directly into a shell",
	},
	{
		ID: "sh-sensitive-read", IssueType: IssueFileAccess, Severity: SeverityHigh,
		Pattern:     mustCompile(`\bcat\s+.*(\.ssh/|/etc/shadow|/etc/passwd|id_rsa)`),
		Description: "read of a credential- or key-bearing path",
	},
	{
		ID: "sh-file-write-flag", IssueType: IssueFileAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`\b(curl|wget)\s+[^\n]*\s-(o|O)\s`),
		Description: "downloaded content written to disk",
	},
	{
		ID: "sh-network-fetch", IssueType: IssueNetworkAccess, Severity: SeverityMedium,
		Pattern:     mustCompile(`\b(curl|wget)\s+https?://`),
		Description: "outbound HTTP request",
	},
	{
		ID: "sh-env-injection", IssueType: IssueCredentialExposure, Severity: SeverityLow,
		Pattern:     mustCompile(`\$(AWS_SECRET|API_KEY|TOKEN|PASSWORD)\b`),
		Description: "credential-shaped shell variable referenced",
	},
}
