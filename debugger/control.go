package debugger

import (
	"fmt"
	"syscall"

	. "github.com/io-no/libdebug/debugger/common"
	"github.com/io-no/libdebug/ptrace"
)

// UnboundedSteps disables the StepUntil iteration budget.
const UnboundedSteps = -1

// flushRegisters commits every cached register bank, including front-end
// edits made through the handles, to the kernel.  Per-thread failures are
// logged and do not abort the bulk flush.
func (session *Session) flushRegisters() {
	for tid, thread := range session.threads {
		err := thread.Regs.Flush()
		if err != nil {
			session.log.WithError(err).Warnf(
				"register flush failed for thread %d",
				tid)
		}
	}
}

// ContinueAll resumes every thread of the tracee, in four strictly ordered
// phases: flush register banks, single-step every thread stopped on an
// enabled breakpoint, re-arm all enabled breakpoints, resume all threads.
// No thread is resumed before every enabled breakpoint is re-armed, and no
// breakpoint is re-armed before every thread sitting on a trap has stepped
// off it.
func (session *Session) ContinueAll() error {
	if session.exited {
		return fmt.Errorf("failed to continue all threads: %w", ErrProcessExited)
	}

	session.flushRegisters()

	for _, thread := range session.threads {
		if !session.BreakPoints.EnabledAt(thread.Regs.ProgramCounter()) {
			continue
		}

		// WaitAll restored the original instruction while the process was
		// stopped, so the kernel executes the real instruction during this
		// step.
		err := thread.stepOffBreakpoint()
		if err != nil {
			return fmt.Errorf(
				"failed to continue all threads. "+
					"cannot step thread %d over breakpoint at %s: %w",
				thread.Tid,
				thread.Regs.ProgramCounter(),
				err)
		}
	}

	err := session.BreakPoints.RearmEnabled()
	if err != nil {
		session.log.WithError(err).Warn("breakpoint re-arm failed")
	}

	for tid, thread := range session.threads {
		err := thread.tracer.Resume(0)
		if err != nil {
			session.log.WithError(err).Warnf(
				"resume failed for thread %d",
				tid)
		}
	}

	return nil
}

// stepOffBreakpoint single-steps the thread past the instruction its pc
// points at and waits for the resulting stop.
func (thread *ThreadState) stepOffBreakpoint() error {
	status, err := thread.singleStepAndWait()
	if err != nil {
		return err
	}

	// A sibling thread's stop signal can land during the step and consume
	// it: the wait then reports a SIGSTOP stop instead of the step trap.
	// Re-issue the step.
	if status.Stopped() && status.StopSignal() == syscall.SIGSTOP {
		_, err = thread.singleStepAndWait()
		if err != nil {
			return err
		}
	}

	return nil
}

func (thread *ThreadState) singleStepAndWait() (syscall.WaitStatus, error) {
	err := thread.tracer.SingleStep()
	if err != nil {
		return 0, err
	}

	return thread.session.signal.FromThread(thread.Tid)
}

// WaitAll blocks until at least one thread of the tracee stops, then brings
// the whole process to a coherent stop: freeze every other thread, drain
// pending stops, refresh every register bank, and restore the original
// instruction under every enabled breakpoint.  The returned report lists
// every thread the kernel reported stopped during this call, seed first,
// rest unordered.
func (session *Session) WaitAll() ([]*ThreadStatus, error) {
	seedTid, seedStatus, err := session.signal.FromProcessThreads()
	if err != nil {
		return nil, fmt.Errorf("failed to wait for any thread: %w", err)
	}

	report := []*ThreadStatus{
		{Tid: seedTid, WaitStatus: seedStatus},
	}

	// Freeze siblings.  A successful register read proves the thread is
	// already stopped (and makes its state fresh in the table); a failed
	// read means it is running and must be stopped explicitly.
	for tid, thread := range session.threads {
		if tid == seedTid {
			continue
		}

		if thread.Regs.Refresh() == nil {
			continue
		}

		err := session.signal.StopToThread(tid)
		if err != nil {
			session.log.WithError(err).Debugf(
				"stop signal undeliverable for thread %d",
				tid)
		}

		waitStatus, err := session.signal.FromThread(tid)
		if err != nil {
			session.log.WithError(err).Warnf(
				"wait failed for thread %d",
				tid)
			continue
		}

		report = append(report, &ThreadStatus{Tid: tid, WaitStatus: waitStatus})
	}

	// Drain whatever else has stopped in the meantime.
	for {
		tid, waitStatus, err := session.signal.TryFromProcessThreads()
		if err != nil || tid <= 0 {
			break
		}

		report = append(report, &ThreadStatus{Tid: tid, WaitStatus: waitStatus})
	}

	report = session.updateThreadLifeCycle(report)

	for tid, thread := range session.threads {
		err := thread.Regs.Refresh()
		if err != nil {
			session.log.WithError(err).Warnf(
				"register refresh failed for thread %d",
				tid)
		}
	}

	err = session.BreakPoints.RestoreOriginals()
	if err != nil {
		session.log.WithError(err).Warn("breakpoint restore failed")
	}

	return report, nil
}

// updateThreadLifeCycle keeps the thread table coherent with the lifecycle
// events in the report: clone events register the new thread, exits and
// terminations unregister the old one.  The (possibly extended) report is
// returned.
func (session *Session) updateThreadLifeCycle(
	report []*ThreadStatus,
) []*ThreadStatus {
	for _, status := range report {
		ws := status.WaitStatus

		if ws.Exited() || ws.Signaled() {
			session.UnregisterThread(status.Tid)
			if status.Tid == session.Pid {
				session.exited = true
			}
			continue
		}

		if !ws.Stopped() ||
			ws.StopSignal() != syscall.SIGTRAP ||
			ws.TrapCause() != syscall.PTRACE_EVENT_CLONE {

			continue
		}

		eventTracer := session.processTracer.TraceThread(status.Tid)
		cloned, err := eventTracer.GetEventMessage()
		if err != nil {
			session.log.WithError(err).Warnf(
				"cannot read clone event message from thread %d",
				status.Tid)
			continue
		}

		clonedStatus, err := session.adoptClonedThread(int(cloned))
		if err != nil {
			session.log.WithError(err).Warnf(
				"cannot adopt cloned thread %d",
				cloned)
			continue
		}

		if clonedStatus != nil {
			report = append(report, clonedStatus)
		}
	}

	return report
}

// adoptClonedThread registers a thread delivered by a clone trace event.
// The new thread starts with a pending stop signal; if it has not been
// reaped by the drain phase yet, wait for it here so its register bank can
// be populated.
func (session *Session) adoptClonedThread(tid int) (*ThreadStatus, error) {
	_, ok := session.threads[tid]
	if ok {
		return nil, nil
	}

	var clonedStatus *ThreadStatus

	_, err := session.RegisterThread(tid)
	if err != nil {
		waitStatus, waitErr := session.signal.FromThread(tid)
		if waitErr != nil {
			return nil, waitErr
		}
		clonedStatus = &ThreadStatus{Tid: tid, WaitStatus: waitStatus}

		_, err = session.RegisterThread(tid)
		if err != nil {
			return nil, err
		}
	}

	thread := session.threads[tid]
	err = thread.tracer.SetOptions(ptrace.O_TRACELIFECYCLE)
	if err != nil {
		return nil, err
	}

	return clonedStatus, nil
}

// Step flushes register banks and issues one single-step to tid.  It does
// not restore or re-patch breakpoints; callers are expected to have cleaned
// the instrumentation via a preceding WaitAll.
func (session *Session) Step(tid int) error {
	thread, ok := session.threads[tid]
	if !ok {
		return fmt.Errorf("failed to step: %w (%d)", ErrNoSuchThread, tid)
	}

	session.flushRegisters()

	err := thread.tracer.SingleStep()
	if err != nil {
		return fmt.Errorf("failed to step thread %d: %w", tid, err)
	}

	return nil
}

// StepUntil single-steps tid until its instruction pointer reaches target,
// up to maxSteps iterations (UnboundedSteps for no limit).  Steps that do
// not advance the instruction pointer, typically because a hardware
// breakpoint keeps re-trapping at the same pc, do not consume the budget.
// Exhausting the budget is not an error.
func (session *Session) StepUntil(
	tid int,
	target VirtualAddress,
	maxSteps int,
) error {
	thread, ok := session.threads[tid]
	if !ok {
		return fmt.Errorf("failed to step until: %w (%d)", ErrNoSuchThread, tid)
	}

	session.flushRegisters()

	count := 0
	for maxSteps < 0 || count < maxSteps {
		_, err := thread.singleStepAndWait()
		if err != nil {
			return fmt.Errorf(
				"failed to step thread %d until %s: %w",
				tid,
				target,
				err)
		}

		previousIP := thread.Regs.ProgramCounter()

		err = thread.Regs.Refresh()
		if err != nil {
			return fmt.Errorf(
				"failed to step thread %d until %s: %w",
				tid,
				target,
				err)
		}

		ip := thread.Regs.ProgramCounter()
		if ip == target {
			return nil
		}

		// An unchanged pc means the step was absorbed without executing the
		// instruction; step again without charging the budget.
		if ip == previousIP {
			continue
		}

		count++
	}

	return nil
}

// DefaultStepBudget reports the session's configured StepUntil budget.
func (session *Session) DefaultStepBudget() int {
	return session.stepBudget
}
