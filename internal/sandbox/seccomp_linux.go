//go:build linux

package sandbox

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// deniedSyscalls are denied unconditionally inside the Linux namespace
// backend's seccomp-bpf filter: ptrace, mount, reboot, unshare
// (post-setup), kexec_load, init_module, bpf, perf_event_open, plus a
// handful of equally dangerous syscalls from the same family
// (umount2, swapon/swapoff, pivot_root, delete_module).
var deniedSyscalls = []uint32{
	unix.SYS_PTRACE,
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_REBOOT,
	unix.SYS_UNSHARE,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_BPF,
	unix.SYS_PERF_EVENT_OPEN,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
	unix.SYS_PIVOT_ROOT,
}

const (
	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000
)

// buildSeccompFilter constructs a raw BPF program denying every
// syscall in deniedSyscalls with EPERM and allowing everything else.
// Adapted from other_examples' hand-rolled seccomp-bpf builder: load
// the syscall number, one BPF_JEQ comparison per denied syscall
// jumping forward to the deny instruction, then an allow/deny pair.
func buildSeccompFilter() []unix.SockFilter {
	n := len(deniedSyscalls)
	prog := make([]unix.SockFilter, 0, n+2)

	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS,
		K:    0, // offsetof(struct seccomp_data, nr)
	})

	for i, nr := range deniedSyscalls {
		jumpToDeny := uint8(n - i)
		prog = append(prog, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			Jt:   jumpToDeny,
			Jf:   0,
			K:    nr,
		})
	}

	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_RET | unix.BPF_K,
		K:    seccompRetAllow,
	})
	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_RET | unix.BPF_K,
		K:    seccompRetErrno | uint32(unix.EPERM),
	})

	return prog
}

// installSeccompFilter applies the filter to the calling thread. It
// must run in the child after namespace setup and before exec'ing the
// skill's interpreter — PR_SET_NO_NEW_PRIVS is required first since
// the filter is installed without CAP_SYS_ADMIN in the common
// unprivileged-userns case.
func installSeccompFilter(filter []unix.SockFilter) error {
	if len(filter) == 0 {
		return nil
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return err
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	_, _, errno := unix.Syscall(unix.SYS_PRCTL, unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return errno
	}
	return nil
}
