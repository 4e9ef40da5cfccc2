// Package iobroker implements the I/O Broker (C5): marshals a single
// JSON request object onto the sandboxed process's stdin, and decodes
// its stdout/stderr — capped and truncated — into a structured
// ExecutionResult.
//
// Grounded in goclaw's tool_executor/system_tools truncation-marker
// convention (`output[:cap] + "... [truncated]"`), generalized to
// two distinct byte caps and a `{"raw": "<text>"}` JSON-fallback
// wrapping for stdout that doesn't parse as JSON.
package iobroker

import (
	"encoding/json"
	"fmt"

	"github.com/skillbox/skillbox/internal/sandbox"
)

const (
	MaxStdoutBytes = 4 * 1024 * 1024
	MaxStderrBytes = 1 * 1024 * 1024
)

// ErrorKind is the coarse failure taxonomy the Execution Service
// reports back to callers.
type ErrorKind string

const (
	ErrorNone           ErrorKind = ""
	ErrorInvalidInput   ErrorKind = "InvalidInput"
	ErrorScanBlocked    ErrorKind = "ScanBlocked"
	ErrorUserDenied     ErrorKind = "UserDenied"
	ErrorResourceLimit  ErrorKind = "ResourceLimit"
	ErrorNonZeroExit    ErrorKind = "NonZeroExit"
	ErrorTimeout        ErrorKind = "Timeout"
	ErrorSandboxViolation ErrorKind = "SandboxViolation"
	ErrorLaunchFailed   ErrorKind = "LaunchFailed"
	ErrorInternal       ErrorKind = "Internal"
)

// ExecutionResult is C5's output: the sandbox's raw resource
// accounting plus the decoded output payload.
type ExecutionResult struct {
	Output            any
	StdoutTruncated   bool
	StderrTruncated   bool
	Stderr            string
	ExitCode          int
	Signal            int
	WallTimeMs        int64
	UserTimeMs        int64
	PeakRSSKB         int64
	Backend           sandbox.Backend
	SandboxState      sandbox.State
	ErrorKind         ErrorKind
}

// BuildStdin marshals the single JSON request object the skill's
// entry process reads from stdin.
func BuildStdin(request map[string]any) ([]byte, error) {
	if request == nil {
		request = map[string]any{}
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("iobroker: marshal stdin request: %w", err)
	}
	return payload, nil
}

// Decode turns a completed sandbox.Result into an ExecutionResult,
// applying the cap/truncate/JSON-fallback rules.
func Decode(result sandbox.Result) ExecutionResult {
	out := ExecutionResult{
		ExitCode:     result.ExitCode,
		Signal:       result.Signal,
		WallTimeMs:   result.WallTimeMs,
		UserTimeMs:   result.UserTimeMs,
		PeakRSSKB:    result.PeakRSSKB,
		Backend:      result.Backend,
		SandboxState: result.State,
	}

	stdout, stdoutTrunc := capBytes(result.Stdout, MaxStdoutBytes)
	stderr, stderrTrunc := capBytes(result.Stderr, MaxStderrBytes)
	out.StdoutTruncated = stdoutTrunc
	out.StderrTruncated = stderrTrunc
	out.Stderr = string(stderr)

	out.Output = parseOutput(stdout)

	const sigSYS = 31 // SIGSYS: seccomp denial, distinct from an OOM/CPU rlimit kill

	switch {
	case result.State == sandbox.StateTimedOut:
		out.ErrorKind = ErrorTimeout
	case result.Signal == sigSYS:
		out.ErrorKind = ErrorSandboxViolation
	case result.State == sandbox.StateKilledByLimit:
		out.ErrorKind = ErrorResourceLimit
	case result.State == sandbox.StateLaunchFailed:
		out.ErrorKind = ErrorLaunchFailed
	default:
		if stdoutTrunc || stderrTrunc {
			out.ErrorKind = ErrorResourceLimit
		} else if result.ExitCode != 0 {
			out.ErrorKind = ErrorNonZeroExit
		}
	}

	return out
}

// capBytes truncates b to max bytes, appending a trailing marker when
// truncation occurs, mirroring goclaw's "... [truncated]" convention.
func capBytes(b []byte, max int) ([]byte, bool) {
	if len(b) <= max {
		return b, false
	}
	marker := []byte("\n... [truncated]")
	cut := max - len(marker)
	if cut < 0 {
		cut = 0
	}
	return append(append([]byte{}, b[:cut]...), marker...), true
}

// parseOutput decodes stdout as a single JSON value and returns it
// verbatim — a skill printing {"greeting":"hi"} yields
// output={"greeting":"hi"}, not a nested "output" field. Only on a
// parse failure (the skill printed plain text, not JSON) does it wrap
// the raw bytes instead.
func parseOutput(stdout []byte) any {
	var decoded any
	if err := json.Unmarshal(stdout, &decoded); err != nil {
		return map[string]any{"raw": string(stdout)}
	}
	return decoded
}
