package resources

import (
	"fmt"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
)

// CPUConflictError checks requested against tree's free CPU pool and,
// if any requested CPU is already spoken for, returns a
// KindResourceConflict error naming entity, citing the instance that
// holds the colliding CPUs (if it's an instance rather than the
// host-reserved set), and suggesting a same-sized set of free CPUs.
// It returns nil if requested has no conflicts.
func CPUConflictError(entity string, tree *model.GlobalDeviceTree, requested []int) *kerferrors.Error {
	free := make(map[int]bool, len(tree.Hardware.CPUs.Available))
	for _, c := range AvailableCPUs(tree) {
		free[c] = true
	}

	var conflictCPUs []int
	conflictEntity := ""
	for _, c := range requested {
		if free[c] {
			continue
		}
		conflictCPUs = append(conflictCPUs, c)
		if conflictEntity == "" {
			conflictEntity = ownerOf(tree, c)
		}
	}
	if len(conflictCPUs) == 0 {
		return nil
	}

	err := kerferrors.New(kerferrors.KindResourceConflict, "CPUs %v are not available", conflictCPUs)
	err.Entity = entity
	err.Conflict = conflictEntity

	if available := AvailableCPUs(tree); len(available) >= len(requested) {
		err.Suggestion = fmt.Sprintf("%v", available[:len(requested)])
	}
	return err
}

// ownerOf returns the name of the instance holding cpu, or "" if cpu
// isn't assigned to any instance (e.g. it's host-reserved).
func ownerOf(tree *model.GlobalDeviceTree, cpu int) string {
	for name, inst := range tree.Instances {
		for _, owned := range inst.Resources.CPUs {
			if owned == cpu {
				return name
			}
		}
	}
	return ""
}
