package procfs

import (
	"os"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
)

type ProcfsSuite struct{}

func TestProcfs(t *testing.T) {
	suite.RunTests(t, &ProcfsSuite{})
}

func (ProcfsSuite) TestGetProcessStatus(t *testing.T) {
	pid := os.Getpid()

	status, err := GetProcessStatus(pid)
	expect.Nil(t, err)
	expect.Equal(t, pid, status.Pid)
	expect.True(t, status.Comm != "")
	expect.Equal(t, Running, status.State)
}

func (ProcfsSuite) TestGetProcessStatusNoSuchProcess(t *testing.T) {
	_, err := GetProcessStatus(0)
	expect.Error(t, err, "failed to read")
}

func (ProcfsSuite) TestGetThreadStatus(t *testing.T) {
	pid := os.Getpid()

	status, err := GetThreadStatus(pid, pid)
	expect.Nil(t, err)
	expect.Equal(t, pid, status.Pid)
}

func (ProcfsSuite) TestListTasks(t *testing.T) {
	pid := os.Getpid()

	tids, err := ListTasks(pid)
	expect.Nil(t, err)
	expect.True(t, len(tids) >= 1)

	found := false
	for _, tid := range tids {
		if tid == pid {
			found = true
		}
	}
	expect.True(t, found)
}

func (ProcfsSuite) TestGetMappedMemoryRegions(t *testing.T) {
	regions, err := GetMappedMemoryRegions(os.Getpid())
	expect.Nil(t, err)
	expect.True(t, len(regions) > 0)

	hasExecutable := false
	for _, region := range regions {
		expect.True(t, region.LowAddress < region.HighAddress)
		if region.Execute {
			hasExecutable = true
		}
	}
	expect.True(t, hasExecutable)
}

func (ProcfsSuite) TestGetExecutableSymlinkPath(t *testing.T) {
	expect.Equal(t, "/proc/42/exe", GetExecutableSymlinkPath(42))
}
