//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// trustedBinDirs is the PATH-hijack defense: an interpreter resolved
// via exec.LookPath must live under one of these directories.
// Symlinks are intentionally NOT resolved away (python3 -> python3.11
// is a legitimate interpreter symlink); the directory LookPath found the
// binary in must equal one of these entries exactly. Grounded in devclaw's exec_restricted.go
// verifyTrustedBin.
var trustedBinDirs = []string{
	"/usr/local/bin", "/usr/bin", "/bin", "/usr/local/sbin", "/usr/sbin", "/sbin",
}

// RlimitExecutor is the fallback backend: a bare subprocess with
// POSIX rlimits, used when level <= 1 or no stronger backend is
// available on the host. It performs no namespace or Seatbelt
// isolation — that gap is recorded on the Result's Backend field
// rather than hidden.
type RlimitExecutor struct{}

func NewRlimitExecutor() *RlimitExecutor { return &RlimitExecutor{} }

func (e *RlimitExecutor) Name() Backend   { return BackendRlimit }
func (e *RlimitExecutor) Available() bool { return true }

func (e *RlimitExecutor) Execute(req Request) (Result, error) {
	interp, err := verifyTrustedBin(req.Interpreter)
	if err != nil {
		return Result{State: StateLaunchFailed}, err
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	watchCancelSignal(ctx, cancel, req.Cancel)

	args := append(append([]string{}, req.InterpArgs...), req.EntryPath)
	cmd := exec.CommandContext(ctx, interp, args...)
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
	runErr := cmd.Start()
	if runErr != nil {
		return Result{State: StateLaunchFailed, Backend: BackendRlimit}, runErr
	}

	if cmd.Process != nil {
		applyRlimitExecutorPostStartLimits(cmd.Process.Pid, timeout, req.MaxMemoryMB)
	}

	runErr = cmd.Wait()
	wall := time.Since(start)

	result := Result{
		Backend:    BackendRlimit,
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
			if status.Signal() == syscall.SIGKILL || status.Signal() == syscall.SIGXCPU {
				result.State = StateKilledByLimit
				return result, nil
			}
		}
		result.State = StateExited
		return result, nil
	}
	if runErr != nil {
		return Result{State: StateLaunchFailed, Backend: BackendRlimit}, runErr
	}

	result.State = StateExited
	return result, nil
}

// applyRlimitExecutorPostStartLimits sets rlimits via prlimit(2) against the
// child's own pid after Start() returns, rather than via Setrlimit
// before exec — Setrlimit takes no pid argument and would mutate the
// calling process's own limits (this server's), never reaching the
// forked child.
func applyRlimitExecutorPostStartLimits(pid, timeoutSeconds, maxMemoryMB int) {
	cpuLimit := uint64(timeoutSeconds + 5)
	_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuLimit, Max: cpuLimit}, nil)

	if maxMemoryMB > 0 {
		asLimit := uint64(maxMemoryMB) * 1024 * 1024
		_ = unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: asLimit, Max: asLimit}, nil)
	}

	_ = unix.Prlimit(pid, unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: 256, Max: 256}, nil)
	_ = unix.Prlimit(pid, unix.RLIMIT_NPROC, &unix.Rlimit{Cur: 64, Max: 64}, nil)
}

func verifyTrustedBin(interp string) (string, error) {
	resolved, err := exec.LookPath(interp)
	if err != nil {
		return "", fmt.Errorf("interpreter %q not found: %w", interp, err)
	}
	resolved = filepath.Clean(resolved)
	dir := filepath.Dir(resolved)
	for _, trusted := range trustedBinDirs {
		if dir == trusted {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("interpreter %q resolved to untrusted directory %q", interp, dir)
}
