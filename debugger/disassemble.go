package debugger

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	. "github.com/io-no/libdebug/debugger/common"
)

// x64 instructions never exceed 15 bytes.
const maxInstructionLength = 15

type Instruction struct {
	Address VirtualAddress
	Length  int
	Text    string
}

func (inst Instruction) String() string {
	return fmt.Sprintf("%s: %s", inst.Address, inst.Text)
}

// Disassemble decodes count instructions starting at addr, rendering the
// code as the front-end should see it: trap bytes installed by the
// breakpoint table are replaced with the original instruction bytes before
// decoding.
func (session *Session) Disassemble(
	addr VirtualAddress,
	count int,
) (
	[]Instruction,
	error,
) {
	if count <= 0 {
		return nil, fmt.Errorf(
			"%w. instruction count must be positive: %d",
			ErrInvalidArgument,
			count)
	}

	code := make([]byte, count*maxInstructionLength)
	n, err := session.Memory.Read(addr, code)
	if err != nil {
		return nil, err
	}
	code = code[:n]

	session.BreakPoints.ReplacePatchedBytes(addr, code)

	result := make([]Instruction, 0, count)
	for len(code) > 0 && len(result) < count {
		decoded, err := x86asm.Decode(code, 64)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to decode instruction at %s: %w",
				addr,
				err)
		}

		result = append(
			result,
			Instruction{
				Address: addr,
				Length:  decoded.Len,
				Text:    x86asm.GNUSyntax(decoded, uint64(addr), nil),
			})

		code = code[decoded.Len:]
		addr += VirtualAddress(decoded.Len)
	}

	return result, nil
}
