package arch

import (
	. "github.com/io-no/libdebug/debugger/common"
	"github.com/io-no/libdebug/ptrace"
)

const (
	// int3
	trapInstruction = byte(0xcc)
)

func InstructionPointer(regs *ptrace.UserRegs) VirtualAddress {
	return VirtualAddress(regs.Rip)
}

func SetInstructionPointer(regs *ptrace.UserRegs, addr VirtualAddress) {
	regs.Rip = uint64(addr)
}

// InstallPatch substitutes the breakpoint trap for the leading byte of an
// instruction word.  The result depends only on the input word, so patching
// an already patched word is a no-op.
func InstallPatch(word Word) Word {
	return (word &^ 0xff) | Word(trapInstruction)
}

// OriginalLeadingByte recovers the instruction byte that InstallPatch
// replaced, given the word captured before patching.
func OriginalLeadingByte(original Word) byte {
	return byte(original & 0xff)
}
