package common

import (
	"fmt"
)

var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrProcessExited   = fmt.Errorf("process exited")
	ErrNoSuchThread    = fmt.Errorf("no such thread")
)

// VirtualAddress is an address in the tracee's address space.
type VirtualAddress uint64

func (addr VirtualAddress) String() string {
	return fmt.Sprintf("0x%016x", uint64(addr))
}

// Word is an instruction-sized unit of tracee memory, as read and written
// by the peek/poke trace primitives.
type Word uint64

func (word Word) String() string {
	return fmt.Sprintf("0x%016x", uint64(word))
}
