package ptrace

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Options int

const (
	vmPageSize = 0x1000

	O_EXITKILL   = Options(unix.PTRACE_O_EXITKILL)
	O_TRACEFORK  = Options(unix.PTRACE_O_TRACEFORK)
	O_TRACEVFORK = Options(unix.PTRACE_O_TRACEVFORK)
	O_TRACECLONE = Options(unix.PTRACE_O_TRACECLONE)
	O_TRACEEXEC  = Options(unix.PTRACE_O_TRACEEXEC)
	O_TRACEEXIT  = Options(unix.PTRACE_O_TRACEEXIT)

	// Enables the control loop to hear about every thread lifecycle event.
	O_TRACELIFECYCLE = O_TRACEFORK | O_TRACEVFORK | O_TRACECLONE |
		O_TRACEEXEC | O_TRACEEXIT

	EVENT_FORK  = unix.PTRACE_EVENT_FORK
	EVENT_VFORK = unix.PTRACE_EVENT_VFORK
	EVENT_CLONE = unix.PTRACE_EVENT_CLONE
	EVENT_EXEC  = unix.PTRACE_EVENT_EXEC
	EVENT_EXIT  = unix.PTRACE_EVENT_EXIT
)

// This matches user_regs_struct (64bit variant) defined in <sys/user.h>
type UserRegs = syscall.PtraceRegs

func ptrace(request int, pid int, addr uintptr, data uintptr) error {
	_, _, err := syscall.Syscall6(
		syscall.SYS_PTRACE,
		uintptr(request),
		uintptr(pid),
		addr,
		data,
		0,
		0)
	if err == 0 {
		return nil
	}
	return err
}

func ptracePtr(request int, pid int, addr uintptr, data unsafe.Pointer) error {
	return ptrace(request, pid, addr, uintptr(data))
}

// NOTE: a successful PTRACE_PEEK* may legitimately return an all-ones word.
// Since we're issuing Syscall6 directly with an output pointer (see "C
// library/kernel differences" in the ptrace man(2) page), success/failure is
// determined by the returned error alone, never by the word value.
func peekDataWord(pid int, addr uintptr) (uint64, error) {
	word := uint64(0)
	err := ptracePtr(syscall.PTRACE_PEEKDATA, pid, addr, unsafe.Pointer(&word))
	return word, err
}

func pokeDataWord(pid int, addr uintptr, word uint64) error {
	return ptrace(syscall.PTRACE_POKEDATA, pid, addr, uintptr(word))
}

func peekUserArea(pid int, offset uintptr) (uintptr, error) {
	data := uintptr(0)
	err := ptracePtr(syscall.PTRACE_PEEKUSR, pid, offset, unsafe.Pointer(&data))
	return data, err
}

func pokeUserArea(pid int, offset uintptr, data uintptr) error {
	return ptrace(syscall.PTRACE_POKEUSR, pid, offset, data)
}

func getEventMessage(pid int) (uint64, error) {
	msg := uint64(0)
	err := ptracePtr(
		syscall.PTRACE_GETEVENTMSG,
		pid,
		0,
		unsafe.Pointer(&msg))
	return msg, err
}

func readVirtualMemory(pid int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	localIovs := make([]unix.Iovec, 1)
	localIovs[0].Base = &data[0]
	localIovs[0].SetLen(len(data))

	var remoteIovs []unix.RemoteIovec

	remaining := len(data)

	// NOTE: We need to ensure RemoteIovec entries are page aligned.
	if addr%vmPageSize != 0 {
		pageEndAddr := ((addr + vmPageSize - 1) / vmPageSize) * vmPageSize

		size := int(pageEndAddr - addr)
		if remaining < size {
			size = remaining
		}

		remoteIovs = append(
			remoteIovs,
			unix.RemoteIovec{
				Base: addr,
				Len:  size,
			})
		remaining -= size
		addr += uintptr(size)
	}

	for remaining > 0 {
		size := remaining
		if size > vmPageSize {
			size = vmPageSize
		}

		remoteIovs = append(
			remoteIovs,
			unix.RemoteIovec{
				Base: addr,
				Len:  size,
			})

		remaining -= size
		addr += uintptr(size)
	}

	return unix.ProcessVMReadv(pid, localIovs, remoteIovs, 0)
}
