package debugger

import (
	"context"
	"fmt"
	"os"
	osSignal "os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

type Signaler struct {
	pid int

	ctx    context.Context
	cancel func()
}

func newSignaler(pid int) *Signaler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Signaler{
		pid:    pid,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (signaler *Signaler) Close() error {
	signaler.cancel()
	return nil
}

func (signaler *Signaler) ForwardToProcess(signal syscall.Signal) {
	signalChan := make(chan os.Signal)
	osSignal.Notify(signalChan, signal)

	go func() {
		for {
			select {
			case <-signaler.ctx.Done():
				return
			case <-signalChan:
				err := signaler.ToProcess(signal)
				if err != nil {
					panic(err)
				}
			}
		}
	}()
}

func (signaler *Signaler) ForwardInterruptToProcess() {
	signaler.ForwardToProcess(syscall.SIGINT)
}

func (signaler *Signaler) ToProcess(signal syscall.Signal) error {
	err := syscall.Kill(signaler.pid, signal)
	if err != nil {
		return fmt.Errorf("failed to signal to process %d (%v): %w",
			signaler.pid,
			signal,
			err)
	}

	return nil
}

func (signaler *Signaler) ContinueToProcess() error {
	return signaler.ToProcess(syscall.SIGCONT)
}

func (signaler *Signaler) StopToProcess() error {
	return signaler.ToProcess(syscall.SIGSTOP)
}

func (signaler *Signaler) KillToProcess() error {
	return signaler.ToProcess(syscall.SIGKILL)
}

// StopToThread delivers the thread-directed stop signal to one thread of
// the process.
func (signaler *Signaler) StopToThread(tid int) error {
	err := unix.Tgkill(signaler.pid, tid, syscall.SIGSTOP)
	if err != nil {
		return fmt.Errorf(
			"failed to signal stop to thread %d of process %d: %w",
			tid,
			signaler.pid,
			err)
	}

	return nil
}

// FromThread blocks until the given thread changes state.
//
// NOTE: golang does not expose waitpid; wait4 with __WALL covers clone
// children regardless of their termination signal.
func (signaler *Signaler) FromThread(tid int) (syscall.WaitStatus, error) {
	var waitStatus syscall.WaitStatus
	_, err := syscall.Wait4(tid, &waitStatus, unix.WALL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to wait for thread %d: %w", tid, err)
	}

	return waitStatus, nil
}

// FromProcessThreads blocks until any thread of the tracee changes state,
// returning the thread's tid along with its wait status.
func (signaler *Signaler) FromProcessThreads() (int, syscall.WaitStatus, error) {
	var waitStatus syscall.WaitStatus
	tid, err := syscall.Wait4(-1, &waitStatus, unix.WALL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf(
			"failed to wait for threads of process %d: %w",
			signaler.pid,
			err)
	}

	return tid, waitStatus, nil
}

// TryFromProcessThreads is the non-blocking variant of FromProcessThreads.
// It returns tid 0 when no thread has a pending state change.
func (signaler *Signaler) TryFromProcessThreads() (
	int,
	syscall.WaitStatus,
	error,
) {
	var waitStatus syscall.WaitStatus
	tid, err := syscall.Wait4(-1, &waitStatus, unix.WALL|unix.WNOHANG, nil)
	if err != nil {
		return 0, 0, fmt.Errorf(
			"failed to poll threads of process %d: %w",
			signaler.pid,
			err)
	}

	return tid, waitStatus, nil
}
