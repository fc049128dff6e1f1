package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/io-no/libdebug/debugger"
	"github.com/io-no/libdebug/debugger/common"
)

type command struct {
	name string
	run  func(*debugger.Session, []string) error
}

var (
	commands = []command{
		{
			name: "continue",
			run:  continueAll,
		},
		{
			name: "wait",
			run:  waitAll,
		},
		{
			name: "step",
			run:  step,
		},
		{
			name: "until",
			run:  stepUntil,
		},
		{
			name: "break",
			run:  installBreakPoint,
		},
		{
			name: "disable",
			run:  disableBreakPoint,
		},
		{
			name: "delete",
			run:  removeBreakPoint,
		},
		{
			name: "points",
			run:  listBreakPoints,
		},
		{
			name: "threads",
			run:  listThreads,
		},
		{
			name: "registers",
			run:  printRegisters,
		},
		{
			name: "disassemble",
			run:  disassemble,
		},
	}
)

func parseAddress(arg string) (common.VirtualAddress, error) {
	value, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", arg, err)
	}
	return common.VirtualAddress(value), nil
}

func continueAll(session *debugger.Session, args []string) error {
	err := session.ContinueAll()
	if err != nil {
		return err
	}

	return waitAll(session, nil)
}

func waitAll(session *debugger.Session, args []string) error {
	report, err := session.WaitAll()
	if err != nil {
		return err
	}

	for _, status := range report {
		fmt.Println(status)
	}
	return nil
}

func step(session *debugger.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: step <tid>")
	}

	tid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid tid %q: %w", args[0], err)
	}

	err = session.Step(tid)
	if err != nil {
		return err
	}

	return waitAll(session, nil)
}

func stepUntil(session *debugger.Session, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("expected: until <tid> <addr> [max steps]")
	}

	tid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid tid %q: %w", args[0], err)
	}

	addr, err := parseAddress(args[1])
	if err != nil {
		return err
	}

	maxSteps := session.DefaultStepBudget()
	if len(args) == 3 {
		maxSteps, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid step budget %q: %w", args[2], err)
		}
	}

	return session.StepUntil(tid, addr, maxSteps)
}

func installBreakPoint(session *debugger.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: break <addr>")
	}

	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	_, err = session.BreakPoints.Install(addr)
	return err
}

func disableBreakPoint(session *debugger.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: disable <addr>")
	}

	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	return session.BreakPoints.Disable(addr)
}

func removeBreakPoint(session *debugger.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: delete <addr>")
	}

	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	if !session.BreakPoints.Remove(addr) {
		fmt.Println("no breakpoint at", addr)
	}
	return nil
}

func listBreakPoints(session *debugger.Session, args []string) error {
	for _, bp := range session.BreakPoints.All() {
		state := "disabled"
		if bp.Enabled {
			state = "enabled"
		}
		fmt.Printf("%s %s original=%s\n", bp.Address, state, bp.OriginalWord)
	}
	return nil
}

func listThreads(session *debugger.Session, args []string) error {
	for _, thread := range session.Threads() {
		fmt.Printf("thread %d at %s\n", thread.Tid, thread.Regs.ProgramCounter())
	}
	return nil
}

func printRegisters(session *debugger.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: registers <tid>")
	}

	tid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid tid %q: %w", args[0], err)
	}

	bank, err := session.RegisterThread(tid)
	if err != nil {
		return err
	}

	regs := bank.Raw()
	fmt.Printf("rip=0x%016x rsp=0x%016x rbp=0x%016x\n", regs.Rip, regs.Rsp, regs.Rbp)
	fmt.Printf("rax=0x%016x rbx=0x%016x rcx=0x%016x rdx=0x%016x\n",
		regs.Rax, regs.Rbx, regs.Rcx, regs.Rdx)
	fmt.Printf("rdi=0x%016x rsi=0x%016x\n", regs.Rdi, regs.Rsi)
	return nil
}

func disassemble(session *debugger.Session, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected: disassemble <addr> <num instructions>")
	}

	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	numInstructions, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid instruction count %q: %w", args[1], err)
	}

	instructions, err := session.Disassemble(addr, numInstructions)
	if err != nil {
		return err
	}

	for _, inst := range instructions {
		fmt.Println(inst)
	}
	return nil
}

func main() {
	log := logrus.New().WithFields(logrus.Fields{"layer": "driver"})

	pid := 0
	configPath := ""
	flag.IntVar(&pid, "p", 0, "attach to existing process pid")
	flag.StringVar(&configPath, "config", "", "session config file")

	flag.Parse()
	args := flag.Args()

	config := debugger.Config{}
	if configPath != "" {
		var err error
		config, err = debugger.LoadConfig(configPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	var session *debugger.Session
	var err error
	if pid != 0 {
		if len(args) != 0 {
			log.Fatal("unexpected arguments")
		}

		session, err = debugger.Attach(pid, config)
	} else if len(args) == 0 {
		log.Fatal("no arguments given")
	} else {
		session, err = debugger.LaunchCmd(config, args[0], args[1:]...)
	}

	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		err := session.Close()
		if err != nil {
			log.WithError(err).Error("failed to close session")
		}
	}()

	fmt.Println("attached to process", session.Pid)

	rl, err := readline.New("ldb > ")
	if err != nil {
		log.Fatal(err)
	}
	defer rl.Close()

	lastLine := ""
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				break
			}
			log.Fatal(err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			line = lastLine
		}
		lastLine = line

		if line == "" {
			continue
		}

		args := strings.Split(line, " ")
		if args[0] == "quit" || args[0] == "exit" {
			break
		}

		found := false
		for _, cmd := range commands {
			if strings.HasPrefix(cmd.name, args[0]) {
				found = true
				err := cmd.run(session, args[1:])
				if err != nil {
					fmt.Println("error:", err)
				}
				break
			}
		}

		if !found {
			fmt.Println("invalid command:", args[0])
		}
	}
}
