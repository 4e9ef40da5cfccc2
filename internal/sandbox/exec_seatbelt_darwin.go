//go:build darwin

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// SeatbeltExecutor isolates a skill process with a generated Seatbelt
// profile launched via sandbox-exec. No repo in the example pack
// generates Seatbelt profiles, so this backend's SBPL grammar is
// written directly rather than adapted from a grounding file; its
// Executor shape still follows the other two backends in this
// package.
type SeatbeltExecutor struct{}

func NewSeatbeltExecutor() *SeatbeltExecutor { return &SeatbeltExecutor{} }

func (e *SeatbeltExecutor) Name() Backend { return BackendSeatbelt }

func (e *SeatbeltExecutor) Available() bool {
	_, err := exec.LookPath("sandbox-exec")
	return err == nil
}

func (e *SeatbeltExecutor) Execute(req Request) (Result, error) {
	profile, err := buildSeatbeltProfile(req)
	if err != nil {
		return Result{State: StateLaunchFailed, Backend: BackendSeatbelt}, err
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	watchCancelSignal(ctx, cancel, req.Cancel)

	args := []string{"-p", profile, req.Interpreter}
	args = append(args, req.InterpArgs...)
	args = append(args, req.EntryPath)

	cmd := exec.CommandContext(ctx, "sandbox-exec", args...)
	cmd.Dir = req.SkillRoot
	cmd.Env = req.Env
	cmd.Stdin = bytes.NewReader(req.Stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return terminateProcessGroup(cmd.Process.Pid)
	}

	start := time.Now()
	runErr := cmd.Run()
	wall := time.Since(start)

	result := Result{
		Backend:    BackendSeatbelt,
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		WallTimeMs: wall.Milliseconds(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.State = StateTimedOut
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			result.Signal = int(status.Signal())
			if status.Signal() == syscall.SIGKILL {
				result.State = StateKilledByLimit
				return result, nil
			}
		}
		result.State = StateExited
		return result, nil
	}
	if runErr != nil {
		return Result{State: StateLaunchFailed, Backend: BackendSeatbelt}, runErr
	}

	result.State = StateExited
	return result, nil
}

// buildSeatbeltProfile renders the SBPL text: deny-by-default, allow
// exec of exactly the resolved interpreter, allow reads under the
// skill root and workspace, allow writes under the output root, and
// allow network only when the request explicitly permits it (still
// denying link-local and non-DNS loopback).
func buildSeatbeltProfile(req Request) (string, error) {
	interp, err := exec.LookPath(req.Interpreter)
	if err != nil {
		return "", fmt.Errorf("resolve interpreter for seatbelt profile: %w", err)
	}

	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(deny default)\n")
	fmt.Fprintf(&b, "(allow process-exec* (literal %q))\n", interp)
	fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", req.SkillRoot)
	if req.OutputDir != "" {
		fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", req.OutputDir)
		fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", req.OutputDir)
	}
	b.WriteString("(allow file-read* (subpath \"/usr/lib\") (subpath \"/System/Library\"))\n")
	b.WriteString("(allow file-read-metadata)\n")

	if req.AllowNetwork {
		b.WriteString("(allow network* (remote ip \"*:*\"))\n")
		b.WriteString("(deny network* (remote ip \"169.254.0.0/16\"))\n")
		b.WriteString("(deny network* (remote ip \"fe80::/10\"))\n")
		b.WriteString("(deny network* (remote ip \"localhost:*\"))\n")
		b.WriteString("(allow network* (remote ip \"localhost:53\"))\n")
	}

	return b.String(), nil
}
