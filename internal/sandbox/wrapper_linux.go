//go:build linux

package sandbox

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// buildWrapperArgs serializes the fields the privileged wrapper needs
// into its own flag set, followed by "--" and the real interpreter
// invocation. cmd/skillbox's main() recognizes wrapperSubcommand as
// argv[1] and dispatches straight to RunSandboxInit(os.Args[2:]).
func buildWrapperArgs(req Request) []string {
	args := []string{
		"--skill-root", req.SkillRoot,
		"--output-dir", req.OutputDir,
		"--tmpfs-mb", fmt.Sprintf("%d", DefaultTmpfsCapMB),
	}
	if req.AllowNetwork {
		args = append(args, "--allow-network")
	}
	args = append(args, "--")
	args = append(args, req.Interpreter)
	args = append(args, req.InterpArgs...)
	args = append(args, req.EntryPath)
	return args
}

// RunSandboxInit is the wrapper entry point: it runs as the first
// process inside the freshly cloned namespaces, still with
// CAP_SYS_ADMIN in its own user namespace, and is responsible for
// everything that must happen before the untrusted interpreter is
// exec'd — minimal mounts, hostname isolation, and seccomp
// installation. It never returns on success; syscall.Exec replaces
// this process image with the interpreter.
func RunSandboxInit(args []string) error {
	fs := flag.NewFlagSet(wrapperSubcommand, flag.ExitOnError)
	skillRoot := fs.String("skill-root", "", "")
	outputDir := fs.String("output-dir", "", "")
	tmpfsMB := fs.Int("tmpfs-mb", DefaultTmpfsCapMB, "")
	allowNetwork := fs.Bool("allow-network", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("sandbox init: no interpreter command given")
	}

	if err := unix.Sethostname([]byte("skillbox-sandbox")); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox init: sethostname: %v\n", err)
	}

	if err := setupMounts(*skillRoot, *outputDir, *tmpfsMB); err != nil {
		return fmt.Errorf("sandbox init: mounts: %w", err)
	}

	if *allowNetwork {
		// The launcher always clones a fresh network namespace; when
		// network is allowed it wires a veth pair and nft egress rules
		// into this one from the outside, signaling readiness on fd 3
		// once that's done. Block here so the interpreter never execs
		// into a namespace that still has no route out.
		barrier := os.NewFile(3, "network-ready")
		var buf [1]byte
		_, _ = barrier.Read(buf[:])
		barrier.Close()
	}

	if err := exec.Command("ip", "link", "set", "lo", "up").Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox init: bring up loopback: %v\n", err)
	}

	filter := buildSeccompFilter()
	if err := installSeccompFilter(filter); err != nil {
		return fmt.Errorf("sandbox init: seccomp: %w", err)
	}

	interp, err := exec.LookPath(rest[0])
	if err != nil {
		return fmt.Errorf("sandbox init: resolve interpreter: %w", err)
	}
	interpArgs := rest
	env := os.Environ()
	return syscall.Exec(interp, interpArgs, env)
}

// setupMounts remounts the skill root read-only, leaves the output
// directory writable, and mounts a size-capped tmpfs at /tmp plus a
// fresh /proc for the new pid namespace. Uses bind mounts rather than
// a full chroot/pivot_root since pivot_root is itself in the denied
// syscall set for the sandboxed process — only the wrapper, before it
// drops into the interpreter, needs mount(2) at all.
func setupMounts(skillRoot, outputDir string, tmpfsMB int) error {
	if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox init: mount /proc: %v\n", err)
	}

	if skillRoot != "" {
		if err := unix.Mount(skillRoot, skillRoot, "", unix.MS_BIND, ""); err == nil {
			_ = unix.Mount("", skillRoot, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_NOSUID|unix.MS_NODEV, "")
		}
	}

	if outputDir != "" {
		if err := unix.Mount(outputDir, outputDir, "", unix.MS_BIND, ""); err == nil {
			_ = unix.Mount("", outputDir, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_NOSUID|unix.MS_NODEV, "")
		}
	}

	tmpfsOpts := fmt.Sprintf("size=%dm,mode=1777", tmpfsMB)
	if err := unix.Mount("tmpfs", "/tmp", "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, tmpfsOpts); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox init: mount tmpfs /tmp: %v\n", err)
	}

	return nil
}
