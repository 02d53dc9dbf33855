package procfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CPUInfo is the subset of /proc/cpuinfo the validator cross-checks a
// baseline against: the set of logical processor IDs the live system
// reports, the set of distinct physical CPU IDs, and the total count.
type CPUInfo struct {
	LogicalIDs    map[int]bool
	PhysicalIDs   map[int]bool
	ProcessorCount int
}

// ReadCPUInfo reads and parses /proc/cpuinfo.
func ReadCPUInfo() (*CPUInfo, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return nil, fmt.Errorf("open /proc/cpuinfo: %w", err)
	}
	defer f.Close()
	return ParseCPUInfo(f)
}

// ParseCPUInfo parses the /proc/cpuinfo format from an arbitrary reader,
// so the validator's live-system cross-check is testable without root.
func ParseCPUInfo(r io.Reader) (*CPUInfo, error) {
	info := &CPUInfo{
		LogicalIDs:  make(map[int]bool),
		PhysicalIDs: make(map[int]bool),
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "processor":
			id, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			info.LogicalIDs[id] = true
			info.ProcessorCount++
		case "physical id":
			id, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			info.PhysicalIDs[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Some single-socket hosts never emit "physical id"; fall back to a
	// single implied socket so callers don't have to special-case it.
	if len(info.PhysicalIDs) == 0 && info.ProcessorCount > 0 {
		info.PhysicalIDs[0] = true
	}

	return info, nil
}
