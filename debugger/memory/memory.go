package memory

import (
	"fmt"

	. "github.com/io-no/libdebug/debugger/common"
	"github.com/io-no/libdebug/ptrace"
)

type VirtualMemory struct {
	tracer *ptrace.Tracer
}

func New(tracer *ptrace.Tracer) *VirtualMemory {
	return &VirtualMemory{
		tracer: tracer,
	}
}

// PeekWord reads one machine word.  An all-ones word is a legitimate value;
// only the returned error indicates failure.
func (vm *VirtualMemory) PeekWord(addr VirtualAddress) (Word, error) {
	word, err := vm.tracer.PeekDataWord(uintptr(addr))
	if err != nil {
		return 0, fmt.Errorf(
			"failed to peek word at %s for process %d: %w",
			addr,
			vm.tracer.Pid,
			err)
	}

	return Word(word), nil
}

func (vm *VirtualMemory) PokeWord(addr VirtualAddress, word Word) error {
	err := vm.tracer.PokeDataWord(uintptr(addr), uint64(word))
	if err != nil {
		return fmt.Errorf(
			"failed to poke word at %s for process %d: %w",
			addr,
			vm.tracer.Pid,
			err)
	}

	return nil
}

func (vm *VirtualMemory) Read(addr VirtualAddress, out []byte) (int, error) {
	count, err := vm.tracer.ReadFromVirtualMemory(uintptr(addr), out)
	if err != nil {
		return 0, fmt.Errorf(
			"failed to read from virtual memory at %s (%d) for process %d: %w",
			addr,
			len(out),
			vm.tracer.Pid,
			err)
	}

	return count, nil
}

func (vm *VirtualMemory) Write(addr VirtualAddress, data []byte) (int, error) {
	count, err := vm.tracer.PokeData(uintptr(addr), data)
	if err != nil {
		return 0, fmt.Errorf(
			"failed to write to virtual memory at %s (%d) for process %d: %w",
			addr,
			len(data),
			vm.tracer.Pid,
			err)
	}

	return count, nil
}
