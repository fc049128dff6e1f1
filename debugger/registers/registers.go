// Package registers caches the general register bank of one tracee thread.
//
// The Bank returned for a thread is a stable handle: the front-end may read
// and modify the cached values in place between control loop invocations.
// The control loop flushes the cache to the kernel at the start of every
// step/continue and refreshes it at the end of every wait.
package registers

import (
	"fmt"

	"github.com/io-no/libdebug/debugger/arch"
	. "github.com/io-no/libdebug/debugger/common"
	"github.com/io-no/libdebug/ptrace"
)

type Bank struct {
	tracer *ptrace.Tracer

	// Last-observed register values.  Never relocated for the lifetime of
	// the bank, so pointers handed out by Raw stay valid.
	regs ptrace.UserRegs
}

func New(tracer *ptrace.Tracer) *Bank {
	return &Bank{
		tracer: tracer,
	}
}

// Refresh overwrites the cached bank with the thread's current kernel state.
// Refresh fails while the thread is running; the control loop relies on this
// to distinguish stopped threads from running ones.
func (bank *Bank) Refresh() error {
	regs, err := bank.tracer.GetGeneralRegisters()
	if err != nil {
		return fmt.Errorf(
			"failed to refresh register bank for thread %d: %w",
			bank.tracer.Pid,
			err)
	}

	bank.regs = *regs
	return nil
}

// Flush commits the cached bank, including any front-end edits, to the
// kernel.
func (bank *Bank) Flush() error {
	err := bank.tracer.SetGeneralRegisters(&bank.regs)
	if err != nil {
		return fmt.Errorf(
			"failed to flush register bank for thread %d: %w",
			bank.tracer.Pid,
			err)
	}

	return nil
}

// Raw exposes the cached bank for in-place reads and writes.  The pointer
// remains valid until the owning thread is unregistered.
func (bank *Bank) Raw() *ptrace.UserRegs {
	return &bank.regs
}

func (bank *Bank) ProgramCounter() VirtualAddress {
	return arch.InstructionPointer(&bank.regs)
}

// SetProgramCounter modifies only the cached bank; the new value reaches the
// kernel at the next Flush.
func (bank *Bank) SetProgramCounter(addr VirtualAddress) {
	arch.SetInstructionPointer(&bank.regs, addr)
}
