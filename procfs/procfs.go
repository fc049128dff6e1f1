package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProcessState string

const (
	Running        = ProcessState("running")
	Sleeping       = ProcessState("sleeping")
	WaitingForDisk = ProcessState("waiting for disk")
	Zombie         = ProcessState("zombie")
	TracingStop    = ProcessState("tracing stop")
	Dead           = ProcessState("dead")
	Idle           = ProcessState("idle")
)

type ProcessStatus struct {
	Pid   int
	Comm  string
	State ProcessState

	// NOTE: See man page for the full list of (52) fields.
}

func parseStat(path string) (ProcessStatus, error) {
	contentBytes, err := os.ReadFile(path)
	if err != nil {
		return ProcessStatus{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	content := string(contentBytes)

	// The comm field is parenthesized and may itself contain parentheses and
	// spaces; everything after the last ')' is space separated.
	commStart := strings.Index(content, "(")
	commEnd := strings.LastIndex(content, ")")
	if commStart < 0 || commEnd < commStart || commEnd+2 >= len(content) {
		return ProcessStatus{}, fmt.Errorf("malformed stat content in %s", path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(content[:commStart]))
	if err != nil {
		return ProcessStatus{}, fmt.Errorf("malformed pid in %s: %w", path, err)
	}

	var state ProcessState
	switch strings.SplitN(content[commEnd+2:], " ", 2)[0] {
	case "R":
		state = Running
	case "S":
		state = Sleeping
	case "D":
		state = WaitingForDisk
	case "Z":
		state = Zombie
	case "t":
		state = TracingStop
	case "X":
		state = Dead
	case "I":
		state = Idle
	}

	return ProcessStatus{
		Pid:   pid,
		Comm:  content[commStart+1 : commEnd],
		State: state,
	}, nil
}

func GetProcessStatus(pid int) (ProcessStatus, error) {
	return parseStat(fmt.Sprintf("/proc/%d/stat", pid))
}

func GetThreadStatus(pid int, tid int) (ProcessStatus, error) {
	return parseStat(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
}

// ListTasks returns the tids of every thread of the process, including the
// thread group leader.
func ListTasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, fmt.Errorf(
			"failed to list threads for process %d: %w",
			pid,
			err)
	}

	tids := make([]int, 0, len(entries))
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			return nil, fmt.Errorf(
				"unexpected task entry %s for process %d: %w",
				entry.Name(),
				pid,
				err)
		}
		tids = append(tids, tid)
	}

	return tids, nil
}

type MappedMemoryRegion struct {
	LowAddress  uint64
	HighAddress uint64

	Read    bool
	Write   bool
	Execute bool
	Private bool // (copy on write)

	Pathname string
}

func (region MappedMemoryRegion) Contains(addr uint64) bool {
	return region.LowAddress <= addr && addr < region.HighAddress
}

func GetMappedMemoryRegions(pid int) ([]MappedMemoryRegion, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	result := []MappedMemoryRegion{}
	for _, line := range strings.Split(string(content), "\n") {
		if line == "" {
			break
		}

		entry := MappedMemoryRegion{}
		chunks := strings.SplitN(line, " ", 6)
		if len(chunks) < 5 {
			return nil, fmt.Errorf("malformed maps line in %s: %s", path, line)
		}

		addresses := strings.SplitN(chunks[0], "-", 2)

		entry.LowAddress, err = strconv.ParseUint(addresses[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse low address: %w", err)
		}

		entry.HighAddress, err = strconv.ParseUint(addresses[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse high address: %w", err)
		}

		perms := chunks[1]
		entry.Read = strings.Contains(perms, "r")
		entry.Write = strings.Contains(perms, "w")
		entry.Execute = strings.Contains(perms, "x")
		entry.Private = strings.Contains(perms, "p")

		if len(chunks) == 6 {
			entry.Pathname = strings.TrimSpace(chunks[5])
		}

		result = append(result, entry)
	}

	return result, nil
}

func GetExecutableSymlinkPath(pid int) string {
	return filepath.Join("/proc", strconv.Itoa(pid), "exe")
}
