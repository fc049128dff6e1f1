package debugger

import (
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/io-no/libdebug/debugger/breakpoint"
	. "github.com/io-no/libdebug/debugger/common"
	"github.com/io-no/libdebug/debugger/memory"
	"github.com/io-no/libdebug/debugger/registers"
	"github.com/io-no/libdebug/procfs"
	"github.com/io-no/libdebug/ptrace"
)

// ThreadState is one live tracee thread: its tid and the stable handle to
// its last-observed register bank.
type ThreadState struct {
	Tid int

	tracer *ptrace.Tracer

	Regs *registers.Bank

	session *Session
}

// Session binds one debugged process: the tracer, the thread table, the
// breakpoint table, and the signaler.  Sessions are independent; any number
// may coexist within one front-end.
type Session struct {
	Pid         int
	ownsProcess bool

	processTracer *ptrace.Tracer

	signal *Signaler

	log *logrus.Entry

	stepBudget int

	Memory *memory.VirtualMemory

	BreakPoints *breakpoint.Table

	// Mutated only by the control loop.
	threads map[int]*ThreadState

	exited bool
}

func Attach(pid int, config Config) (*Session, error) {
	tracer, err := ptrace.AttachToProcess(pid)
	if err != nil {
		return nil, err
	}

	return newSession(tracer, false, config)
}

func Launch(cmd *exec.Cmd, config Config) (*Session, error) {
	tracer, err := ptrace.StartAndAttachToProcess(cmd)
	if err != nil {
		return nil, err
	}

	return newSession(tracer, true, config)
}

func LaunchCmd(config Config, name string, args ...string) (*Session, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return Launch(cmd, config)
}

func newSession(
	processTracer *ptrace.Tracer,
	ownsProcess bool,
	config Config,
) (
	*Session,
	error,
) {
	level, err := config.logLevel()
	if err != nil {
		_ = processTracer.Close()
		return nil, err
	}

	mem := memory.New(processTracer)

	session := &Session{
		Pid:           processTracer.Pid,
		ownsProcess:   ownsProcess,
		processTracer: processTracer,
		signal:        newSignaler(processTracer.Pid),
		log:           newLogger(level),
		stepBudget:    config.stepBudget(),
		Memory:        mem,
		threads:       map[int]*ThreadState{},
	}
	session.BreakPoints = breakpoint.NewTable(mem)

	if !ownsProcess {
		// Sig stop the process to prevent thread creation / termination while
		// setting up the thread table.
		err := session.signal.StopToProcess()
		if err != nil {
			_ = processTracer.Close()
			return nil, fmt.Errorf(
				"failed to stop process %d: %w",
				session.Pid,
				err)
		}
	}

	_, err = session.signal.FromThread(session.Pid)
	if err != nil {
		_ = processTracer.Close()
		return nil, fmt.Errorf(
			"failed to wait for main thread %d: %w",
			session.Pid,
			err)
	}

	err = session.adoptExistingThreads()
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	session.signal.ForwardInterruptToProcess()

	for _, addr := range config.Breakpoints {
		_, err := session.BreakPoints.Install(VirtualAddress(addr))
		if err != nil {
			_ = session.Close()
			return nil, err
		}
	}

	return session, nil
}

// Any thread created before attaching is listed in procfs and must be
// explicitly ptrace attached; threads created afterwards are delivered by
// the clone trace option.
func (session *Session) adoptExistingThreads() error {
	tids, err := procfs.ListTasks(session.Pid)
	if err != nil {
		return err
	}

	options := ptrace.O_TRACELIFECYCLE
	if session.ownsProcess {
		options |= ptrace.O_EXITKILL
	}

	for _, tid := range tids {
		var threadTracer *ptrace.Tracer
		if tid == session.Pid {
			threadTracer = session.processTracer.TraceThread(session.Pid)
		} else {
			threadTracer, err = ptrace.AttachToProcess(tid)
			if err != nil {
				return fmt.Errorf(
					"failed to ptrace attach to thread %d: %w",
					tid,
					err)
			}

			_, err = session.signal.FromThread(tid)
			if err != nil {
				_ = threadTracer.Close()
				return err
			}
		}

		_, err = session.registerThreadTracer(tid, threadTracer)
		if err != nil {
			return err
		}

		err = threadTracer.SetOptions(options)
		if err != nil {
			return fmt.Errorf(
				"failed to set ptrace options for thread %d: %w",
				tid,
				err)
		}
	}

	return nil
}

func (session *Session) Close() error {
	defer func() {
		_ = session.signal.Close()
		_ = session.processTracer.Close()
	}()

	if session.exited {
		return nil
	}

	// Detach requires a stopped tracee.  Probing the main thread's registers
	// tells us whether it is already stopped.
	main, ok := session.threads[session.Pid]
	if ok && main.Regs.Refresh() != nil {
		err := session.signal.StopToProcess()
		if err != nil {
			return err
		}

		_, err = session.signal.FromThread(session.Pid)
		if err != nil {
			return err
		}
	}

	err := session.processTracer.Detach()
	if err != nil {
		return err
	}

	err = session.signal.ContinueToProcess()
	if err != nil {
		return err
	}

	if session.ownsProcess {
		err = session.signal.KillToProcess()
		if err != nil {
			return err
		}
	}

	return nil
}

func (session *Session) Exited() bool {
	return session.exited
}

// RegisterThread returns the register bank handle for tid, creating and
// populating a fresh thread record if none exists.  The handle stays valid
// until UnregisterThread or ClearThreads.
func (session *Session) RegisterThread(tid int) (*registers.Bank, error) {
	thread, ok := session.threads[tid]
	if ok {
		return thread.Regs, nil
	}

	return session.registerThreadTracer(
		tid,
		session.processTracer.TraceThread(tid))
}

func (session *Session) registerThreadTracer(
	tid int,
	threadTracer *ptrace.Tracer,
) (
	*registers.Bank,
	error,
) {
	bank := registers.New(threadTracer)

	err := bank.Refresh()
	if err != nil {
		return nil, fmt.Errorf("failed to register thread %d: %w", tid, err)
	}

	session.threads[tid] = &ThreadState{
		Tid:     tid,
		tracer:  threadTracer,
		Regs:    bank,
		session: session,
	}

	return bank, nil
}

// UnregisterThread removes tid's record.  No-op when absent.
func (session *Session) UnregisterThread(tid int) {
	delete(session.threads, tid)
}

func (session *Session) ClearThreads() {
	session.threads = map[int]*ThreadState{}
}

func (session *Session) Thread(tid int) (*ThreadState, bool) {
	thread, ok := session.threads[tid]
	return thread, ok
}

// Threads snapshots the thread table.  Iteration order is unspecified but
// stable within the returned slice.
func (session *Session) Threads() []*ThreadState {
	threads := make([]*ThreadState, 0, len(session.threads))
	for _, thread := range session.threads {
		threads = append(threads, thread)
	}

	sort.Slice(
		threads,
		func(i int, j int) bool {
			return threads[i].Tid < threads[j].Tid
		})

	return threads
}
