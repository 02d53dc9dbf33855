package procfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// IsMultikernelMounted reports whether a filesystem of type "multikernel"
// appears in /proc/mounts.
func IsMultikernelMounted() (bool, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false, fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer f.Close()
	return HasMountType(f, "multikernel")
}

// HasMountType parses the /proc/mounts format from an arbitrary reader
// and reports whether any entry has the given filesystem type.
func HasMountType(r io.Reader, fsType string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// device mountpoint fstype options dump pass
		if len(fields) < 3 {
			continue
		}
		if fields[2] == fsType {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, nil
}
