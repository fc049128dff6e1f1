package ptrace

import (
	"os/exec"
)

type opType string

const (
	startOp       = opType("start")
	attachOp      = opType("attach")
	detachOp      = opType("detach")
	resumeOp      = opType("resume")
	singleStepOp  = opType("singleStep")
	setOptionsOp  = opType("setOptions")
	getRegsOp     = opType("getRegs")
	setRegsOp     = opType("setRegs")
	peekUserOp    = opType("peekUser")
	pokeUserOp    = opType("pokeUser")
	peekWordOp    = opType("peekWord")
	pokeWordOp    = opType("pokeWord")
	pokeDataOp    = opType("pokeData")
	readMemoryOp  = opType("readMemory")
	getEventMsgOp = opType("getEventMsg")
)

type request struct {
	opType

	cmd *exec.Cmd // only used by start

	pid int // used by all except start

	signal int // resume

	options Options // set options

	regs *UserRegs // get/set regs

	offset       uintptr // peek/poke user area
	registerData uintptr // poke user area

	addr uintptr // peek/poke word, poke data, read memory
	word uint64  // poke word
	data []byte  // poke data, read memory

	responseChan chan response
}

type response struct {
	registerData uintptr // peek user area

	word uint64 // peek word

	count int // poke data, read memory

	eventMsg uint64 // get event msg

	err error
}
