// Package cliutil parses the small command-line grammars kerf accepts
// for CPU and memory sizing: a CPU list/range spec and a suffixed
// memory size, following the teacher's custom flag.Value idiom instead
// of reaching for a general-purpose flag-parsing library.
package cliutil

import (
	"strconv"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

// ParseCPUSpec parses a CPU specification: a comma-separated list of
// integers and/or inclusive ranges, e.g. "0,2,4-7". Ranges must be
// non-decreasing (end >= start). Duplicate CPUs across items are
// collapsed; the result is sorted ascending.
func ParseCPUSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, kerferrors.New(kerferrors.KindParse, "empty CPU spec")
	}

	seen := make(map[int]bool)
	var cpus []int
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, kerferrors.New(kerferrors.KindParse, "CPU spec %q has an empty item", spec)
		}

		if dash := strings.IndexByte(item, '-'); dash > 0 {
			startStr, endStr := item[:dash], item[dash+1:]
			start, err := strconv.Atoi(startStr)
			if err != nil {
				return nil, kerferrors.Wrap(kerferrors.KindParse, err, "CPU spec %q: invalid range start %q", spec, startStr)
			}
			end, err := strconv.Atoi(endStr)
			if err != nil {
				return nil, kerferrors.Wrap(kerferrors.KindParse, err, "CPU spec %q: invalid range end %q", spec, endStr)
			}
			if end < start {
				return nil, kerferrors.New(kerferrors.KindParse, "CPU spec %q: range %d-%d has end before start", spec, start, end)
			}
			for c := start; c <= end; c++ {
				if !seen[c] {
					seen[c] = true
					cpus = append(cpus, c)
				}
			}
			continue
		}

		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, kerferrors.Wrap(kerferrors.KindParse, err, "CPU spec %q: invalid item %q", spec, item)
		}
		if !seen[n] {
			seen[n] = true
			cpus = append(cpus, n)
		}
	}

	sortInts(cpus)
	return cpus, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// CPUSpecValue adapts ParseCPUSpec to flag.Value, mirroring the
// teacher's custom flag.Value implementations in cmd/exec.
type CPUSpecValue struct {
	CPUs []int
	raw  string
}

func (v *CPUSpecValue) String() string {
	return v.raw
}

func (v *CPUSpecValue) Set(s string) error {
	cpus, err := ParseCPUSpec(s)
	if err != nil {
		return err
	}
	v.CPUs = cpus
	v.raw = s
	return nil
}
