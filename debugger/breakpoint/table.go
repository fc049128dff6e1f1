// Package breakpoint maintains the software breakpoints patched into the
// tracee's code.
//
// A record's original word is captured exactly once, when the record is
// first created; enable/disable cycles never re-read it from memory, which
// may be carrying the trap byte at the time.  The enabled flag, not the
// current memory content, is what the control loop consults when deciding
// which addresses to step over and re-arm.
package breakpoint

import (
	"fmt"

	"github.com/io-no/libdebug/debugger/arch"
	. "github.com/io-no/libdebug/debugger/common"
)

var (
	ErrNoSuchBreakpoint = fmt.Errorf("no such breakpoint")
)

// Memory is the word-level tracee access the table patches through.
// *memory.VirtualMemory implements it.
type Memory interface {
	PeekWord(addr VirtualAddress) (Word, error)
	PokeWord(addr VirtualAddress, word Word) error
}

type Breakpoint struct {
	Address VirtualAddress

	// The word at Address before the trap was installed.
	OriginalWord Word

	// OriginalWord with the trap byte in the leading position.
	PatchedWord Word

	Enabled bool
}

type Table struct {
	memory Memory

	breakpoints map[VirtualAddress]*Breakpoint
}

func NewTable(memory Memory) *Table {
	return &Table{
		memory:      memory,
		breakpoints: map[VirtualAddress]*Breakpoint{},
	}
}

// Install patches the word at addr and records the breakpoint.  Installing
// over an existing record re-enables it without recapturing the original
// word.
func (table *Table) Install(addr VirtualAddress) (*Breakpoint, error) {
	word, err := table.memory.PeekWord(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to install breakpoint at %s: %w", addr, err)
	}

	patched := arch.InstallPatch(word)

	err = table.memory.PokeWord(addr, patched)
	if err != nil {
		return nil, fmt.Errorf("failed to install breakpoint at %s: %w", addr, err)
	}

	existing, ok := table.breakpoints[addr]
	if ok {
		existing.Enabled = true
		return existing, nil
	}

	breakpoint := &Breakpoint{
		Address:      addr,
		OriginalWord: word,
		PatchedWord:  patched,
		Enabled:      true,
	}
	table.breakpoints[addr] = breakpoint

	return breakpoint, nil
}

// Disable clears the enabled flag, excluding the record from step-over and
// re-arm.  The patched word is written back to memory; since
// RestoreOriginals and RearmEnabled only touch enabled records, the trap
// stays in tracee memory until the record is re-installed or the word is
// overwritten by other means.
func (table *Table) Disable(addr VirtualAddress) error {
	breakpoint, ok := table.breakpoints[addr]
	if !ok {
		return fmt.Errorf("%w at %s", ErrNoSuchBreakpoint, addr)
	}

	breakpoint.Enabled = false

	err := table.memory.PokeWord(addr, breakpoint.PatchedWord)
	if err != nil {
		return fmt.Errorf("failed to disable breakpoint at %s: %w", addr, err)
	}

	return nil
}

// Remove unlinks the record without touching tracee memory.
func (table *Table) Remove(addr VirtualAddress) bool {
	_, ok := table.breakpoints[addr]
	delete(table.breakpoints, addr)
	return ok
}

func (table *Table) Clear() {
	table.breakpoints = map[VirtualAddress]*Breakpoint{}
}

func (table *Table) Get(addr VirtualAddress) (*Breakpoint, bool) {
	breakpoint, ok := table.breakpoints[addr]
	return breakpoint, ok
}

func (table *Table) EnabledAt(addr VirtualAddress) bool {
	breakpoint, ok := table.breakpoints[addr]
	return ok && breakpoint.Enabled
}

func (table *Table) Len() int {
	return len(table.breakpoints)
}

// All yields each record exactly once, in unspecified order.
func (table *Table) All() []*Breakpoint {
	result := make([]*Breakpoint, 0, len(table.breakpoints))
	for _, breakpoint := range table.breakpoints {
		result = append(result, breakpoint)
	}
	return result
}

// RestoreOriginals writes every enabled record's original word back to the
// tracee, leaving memory clean while the process is stopped.  Poke failures
// are collected rather than short-circuiting so every record gets its
// chance.
func (table *Table) RestoreOriginals() error {
	var errs []error
	for _, breakpoint := range table.breakpoints {
		if !breakpoint.Enabled {
			continue
		}

		err := table.memory.PokeWord(breakpoint.Address, breakpoint.OriginalWord)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return joinErrors(errs)
}

// RearmEnabled writes every enabled record's patched word back to the
// tracee, re-instrumenting it before threads resume.
func (table *Table) RearmEnabled() error {
	var errs []error
	for _, breakpoint := range table.breakpoints {
		if !breakpoint.Enabled {
			continue
		}

		err := table.memory.PokeWord(breakpoint.Address, breakpoint.PatchedWord)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%w (and %d more)", errs[0], len(errs)-1)
	}
}

// ReplacePatchedBytes substitutes original instruction bytes over enabled
// breakpoints inside the memory slice, for front-end views of tracee code.
func (table *Table) ReplacePatchedBytes(
	startAddr VirtualAddress,
	memorySlice []byte,
) {
	endAddr := startAddr + VirtualAddress(len(memorySlice))
	for _, breakpoint := range table.breakpoints {
		if !breakpoint.Enabled {
			continue
		}

		if startAddr <= breakpoint.Address && breakpoint.Address < endAddr {
			idx := int(breakpoint.Address - startAddr)
			memorySlice[idx] = arch.OriginalLeadingByte(breakpoint.OriginalWord)
		}
	}
}
