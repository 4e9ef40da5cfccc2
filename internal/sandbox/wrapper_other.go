//go:build !linux

package sandbox

import "fmt"

// RunSandboxInit only exists for real on Linux, where CLONE_NEWUSER
// plus seccomp-bpf require a privileged wrapper re-exec. On other
// platforms the hidden subcommand should never actually be invoked
// (LinuxNSExecutor is never selected outside platform_linux.go), but
// cmd/skillbox dispatches on SandboxInitSubcommand unconditionally, so
// this stub keeps the build green everywhere.
func RunSandboxInit(args []string) error {
	return fmt.Errorf("sandbox init: not supported on this platform")
}
