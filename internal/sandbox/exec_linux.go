//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// wrapperSubcommand is the hidden cmd/skillbox subcommand this backend
// re-execs itself as, to run privileged namespace setup (mounts,
// seccomp install) from inside the new namespaces before handing off
// to the skill's interpreter via syscall.Exec. Registered by
// cmd/skillbox's main() as RunSandboxInit's entry point.
const wrapperSubcommand = "__skillbox_sandbox_init__"

// LinuxNSExecutor isolates a skill process with Linux user, mount,
// pid, ipc, uts, and network namespaces plus a seccomp-bpf syscall
// filter. The network namespace is always created, even when the
// request allows network access: an allowed run gets a veth pair back
// to the host rather than the shared host namespace, so link-local and
// cloud-metadata ranges can still be dropped inside it. Grounded in the
// Linux sandbox backend found in the wider example pack — capability
// detection and the wrapper re-exec pattern are adapted near-verbatim;
// the denied syscall set and namespace list are widened beyond that
// backend's own defaults.
type LinuxNSExecutor struct{}

func NewLinuxNSExecutor() *LinuxNSExecutor { return &LinuxNSExecutor{} }

func (e *LinuxNSExecutor) Name() Backend { return BackendLinuxNS }

func (e *LinuxNSExecutor) Available() bool {
	return hasNamespaceCapability()
}

func hasNamespaceCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}
	// CAP_SYS_ADMIN via capget. VERSION_1 needs only one CapUserData
	// struct; VERSION_3 requires a 2-element array and corrupts the
	// stack if given a single struct, so VERSION_1 is used even though
	// it only covers capabilities 0-31 (CAP_SYS_ADMIN is 21, well within
	// range).
	var hdr unix.CapUserHeader
	var data unix.CapUserData
	hdr.Version = unix.LINUX_CAPABILITY_VERSION_1
	hdr.Pid = 0
	if err := unix.Capget(&hdr, &data); err == nil {
		if data.Effective&(1<<unix.CAP_SYS_ADMIN) != 0 {
			return true
		}
	}
	if val, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		return strings.TrimSpace(string(val)) == "1"
	}
	return probeUserNamespace()
}

// probeUserNamespace spawns a trivial child in a new user namespace;
// the sysctl above is absent on some kernels (WSL2, non-Debian), so an
// empirical probe is the only reliable fallback check.
func probeUserNamespace() bool {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER,
		UidMappings: []syscall.SysProcIDMap{{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1}},
	}
	return cmd.Run() == nil
}

func (e *LinuxNSExecutor) Execute(req Request) (Result, error) {
	exe, err := os.Executable()
	if err != nil {
		return Result{State: StateLaunchFailed, Backend: BackendLinuxNS}, fmt.Errorf("resolve self executable: %w", err)
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	watchCancelSignal(ctx, cancel, req.Cancel)

	wrapArgs := buildWrapperArgs(req)
	cmd := exec.CommandContext(ctx, exe, append([]string{wrapperSubcommand}, wrapArgs...)...)
	cmd.Env = req.Env
	cmd.Stdin = bytes.NewReader(req.Stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	uid, gid := os.Getuid(), os.Getgid()
	flags := uintptr(syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
		syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS | syscall.CLONE_NEWNET)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:   flags,
		Setpgid:      true,
		UidMappings:  []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}},
		GidMappings:  []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}},
		GidMappingsEnableSetgroups: false,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return terminateProcessGroup(cmd.Process.Pid)
	}

	// When network access is permitted, the wrapper blocks on reading a
	// single byte from this pipe (passed as its first extra fd) before it
	// brings up loopback and installs seccomp, so the veth pair below can be wired up
	// against a pid that's guaranteed to exist and still be in its own
	// fresh netns.
	var netReadyR, netReadyW *os.File
	if req.AllowNetwork {
		var err error
		netReadyR, netReadyW, err = os.Pipe()
		if err != nil {
			return Result{State: StateLaunchFailed, Backend: BackendLinuxNS}, fmt.Errorf("create network barrier pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{netReadyR}
	}

	start := time.Now()
	runErr := cmd.Start()
	if runErr != nil {
		return Result{State: StateLaunchFailed, Backend: BackendLinuxNS}, runErr
	}

	if cmd.Process != nil {
		applyPostStartRlimits(cmd.Process.Pid, timeout, req.MaxMemoryMB)
	}

	var netTeardown func()
	if req.AllowNetwork {
		_ = netReadyR.Close() // child holds its own dup; this copy is done
		teardown, netErr := setupSandboxNetwork(cmd.Process.Pid)
		if netErr != nil {
			_ = terminateProcessGroup(cmd.Process.Pid)
			_, _ = cmd.Process.Wait()
			_ = netReadyW.Close()
			return Result{State: StateLaunchFailed, Backend: BackendLinuxNS}, fmt.Errorf("sandbox network setup: %w", netErr)
		}
		netTeardown = teardown
		_, _ = netReadyW.Write([]byte{1})
		_ = netReadyW.Close()
	}

	waitErr := cmd.Wait()
	wall := time.Since(start)
	if netTeardown != nil {
		netTeardown()
	}

	result := Result{
		Backend:    BackendLinuxNS,
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		WallTimeMs: wall.Milliseconds(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.State = StateTimedOut
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
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
	if waitErr != nil {
		return Result{State: StateLaunchFailed, Backend: BackendLinuxNS}, waitErr
	}

	result.State = StateExited
	return result, nil
}

// applyPostStartRlimits sets rlimits via prlimit(2) after spawn rather
// than before exec — prlimit on the child pid reliably applies inside
// the new pid namespace, where pre-exec Setrlimit on the parent thread
// would not reach the grandchild once it re-execs past the wrapper.
func applyPostStartRlimits(pid, timeoutSeconds, maxMemoryMB int) {
	cpu := uint64(timeoutSeconds + 5)
	_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu}, nil)

	if maxMemoryMB > 0 {
		as := uint64(maxMemoryMB) * 1024 * 1024
		_ = unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: as, Max: as}, nil)
	}

	nofile := uint64(256)
	_ = unix.Prlimit(pid, unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: nofile, Max: nofile}, nil)
	nproc := uint64(64)
	_ = unix.Prlimit(pid, unix.RLIMIT_NPROC, &unix.Rlimit{Cur: nproc, Max: nproc}, nil)
}
