package debugger

import (
	"fmt"
	"strconv"
	"syscall"
)

// ThreadStatus is one entry of the report produced by WaitAll: a thread id
// paired with the raw kernel wait status observed for it.  Reports are owned
// by the caller and consumed once.
type ThreadStatus struct {
	Tid        int
	WaitStatus syscall.WaitStatus
}

func (status ThreadStatus) Stopped() bool {
	return status.WaitStatus.Stopped()
}

func (status ThreadStatus) Exited() bool {
	return status.WaitStatus.Exited()
}

func (status ThreadStatus) Signaled() bool {
	return status.WaitStatus.Signaled()
}

func (status ThreadStatus) String() string {
	ws := status.WaitStatus
	switch {
	case ws.Stopped():
		return fmt.Sprintf(
			"thread %d stopped with signal: %v",
			status.Tid,
			ws.StopSignal())
	case ws.Signaled():
		return fmt.Sprintf(
			"thread %d terminated with signal: %v",
			status.Tid,
			ws.Signal())
	case ws.Exited():
		return fmt.Sprintf(
			"thread %d exited with status: %d",
			status.Tid,
			ws.ExitStatus())
	case ws.Continued():
		return fmt.Sprintf("thread %d continued", status.Tid)
	default:
		return fmt.Sprintf(
			"thread %d in unknown state: %s",
			status.Tid,
			strconv.Itoa(int(ws)))
	}
}
