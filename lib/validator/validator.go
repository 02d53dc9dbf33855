// Package validator checks a GlobalDeviceTree for internal consistency
// and, where a live system is available, cross-checks it against
// /proc/cpuinfo and /proc/iomem. /proc/meminfo is not consulted.
package validator

import (
	"fmt"
	"sort"

	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/procfs"
)

// Finding is one validation result: a message about a specific part of
// the tree, optionally carrying a suggested fix. Its severity is given
// by which list of a Result holds it.
type Finding struct {
	Subject    string // e.g. "hardware", or an instance name
	Message    string
	Suggestion string
}

func (f Finding) String() string {
	if f.Suggestion == "" {
		return fmt.Sprintf("%s: %s", f.Subject, f.Message)
	}
	return fmt.Sprintf("%s: %s (suggestion: %s)", f.Subject, f.Message, f.Suggestion)
}

// Result is the outcome of validating a tree.
type Result struct {
	OK          bool
	Errors      []Finding
	Warnings    []Finding
	Suggestions []Finding
}

// Validator accumulates findings across one validation pass. A
// Validator is not safe for concurrent use; callers create a new one
// per Validate call.
type Validator struct {
	errors      []Finding
	warnings    []Finding
	suggestions []Finding

	// liveSystem enables the soft /proc cross-checks; it is false in tests
	// and other contexts where there is no real multikernel host underneath.
	liveSystem bool
}

// New returns a Validator that also performs soft cross-checks against
// the running system's /proc/cpuinfo and /proc/iomem.
func New() *Validator {
	return &Validator{liveSystem: true}
}

// NewOffline returns a Validator that only checks internal consistency,
// skipping every check that depends on a live multikernel host.
func NewOffline() *Validator {
	return &Validator{liveSystem: false}
}

func (v *Validator) addError(subject, format string, args ...any) {
	v.errors = append(v.errors, Finding{Subject: subject, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) addWarning(subject, format string, args ...any) {
	v.warnings = append(v.warnings, Finding{Subject: subject, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) addSuggestion(subject, format string, args ...any) {
	v.suggestions = append(v.suggestions, Finding{Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// Validate runs every check against tree and returns the accumulated
// result.
func (v *Validator) Validate(tree *model.GlobalDeviceTree) Result {
	v.errors = nil
	v.warnings = nil
	v.suggestions = nil

	v.validateHardwareInventory(tree)
	v.validateInstances(tree)
	v.validateResourceAllocations(tree)
	v.validateDeviceReferences(tree)
	v.validateUtilization(tree)

	return Result{
		OK:          len(v.errors) == 0,
		Errors:      v.errors,
		Warnings:    v.warnings,
		Suggestions: v.suggestions,
	}
}

func (v *Validator) validateHardwareInventory(tree *model.GlobalDeviceTree) {
	cpus := tree.Hardware.CPUs
	if cpus.Total <= 0 {
		v.addError("hardware", "total CPU count must be positive")
	}
	if len(cpus.Available) == 0 {
		v.addError("hardware", "no CPUs available for instances")
	}

	overlap := intersect(cpus.HostReserved, cpus.Available)
	if len(overlap) > 0 {
		v.addError("hardware", "CPU overlap between host-reserved and available: %v", overlap)
	}

	mem := tree.Hardware.Memory
	if mem.TotalBytes == 0 {
		v.addError("hardware", "total memory must be positive")
	}
	if mem.MemoryPoolBytes == 0 {
		v.addError("hardware", "memory pool size must be positive")
	}
	if mem.MemoryPoolBase+mem.MemoryPoolBytes > mem.TotalBytes {
		v.addError("hardware", "memory pool extends beyond total memory")
	}

	if v.liveSystem {
		v.crossCheckCPUs(cpus)
		v.crossCheckMemory(mem)
	}
}

func (v *Validator) crossCheckCPUs(cpus model.CPUAllocation) {
	info, err := procfs.ReadCPUInfo()
	if err != nil {
		v.addWarning("hardware", "could not read /proc/cpuinfo, skipping live CPU cross-check: %v", err)
		return
	}
	if cpus.Total > info.ProcessorCount {
		v.addWarning("hardware", "configured CPU total (%d) exceeds system processor count (%d); CPUs may have been hot-unplugged since baseline was created", cpus.Total, info.ProcessorCount)
	}
	for _, id := range append(append([]int{}, cpus.HostReserved...), cpus.Available...) {
		if !info.LogicalIDs[id] {
			v.addWarning("hardware", "CPU %d does not exist on the running system", id)
		}
	}
}

func (v *Validator) crossCheckMemory(mem model.MemoryAllocation) {
	ranges, err := procfs.ReadIomem()
	if err != nil {
		v.addWarning("hardware", "could not read /proc/iomem, skipping live memory pool cross-check: %v", err)
		return
	}
	pool, ok := procfs.FindMultikernelRange(ranges)
	if !ok {
		v.addWarning("hardware", "no multikernel memory pool found in /proc/iomem")
		return
	}
	if mem.MemoryPoolBase != pool.Base {
		v.addError("hardware", "configured memory pool base (0x%x) does not match live pool base in /proc/iomem (0x%x)", mem.MemoryPoolBase, pool.Base)
	}
	poolEnd := mem.MemoryPoolEnd()
	liveEnd := pool.Base + pool.Size()
	if poolEnd > liveEnd {
		v.addError("hardware", "configured memory pool extends %d bytes beyond the live reserved pool in /proc/iomem", poolEnd-liveEnd)
	}
}

func (v *Validator) validateInstances(tree *model.GlobalDeviceTree) {
	seenNames := make(map[string]bool)
	seenIDs := make(map[int]bool)

	for name, inst := range tree.Instances {
		if seenNames[inst.Name] {
			v.addError(name, "duplicate instance name %q", inst.Name)
		}
		seenNames[inst.Name] = true

		if seenIDs[inst.ID] {
			v.addError(name, "duplicate instance ID %d", inst.ID)
		}
		seenIDs[inst.ID] = true
		if inst.ID < 1 || inst.ID > 511 {
			v.addError(name, "instance ID %d out of range [1, 511]", inst.ID)
		}

		v.validateCPUAllocation(inst, tree)
		v.validateMemoryAllocation(inst, tree)
		v.validateDeviceAllocation(inst, tree)
		v.validateTopologyConstraints(inst, tree)
	}
}

func (v *Validator) validateCPUAllocation(inst model.Instance, tree *model.GlobalDeviceTree) {
	cpus := tree.Hardware.CPUs
	for _, cpu := range inst.Resources.CPUs {
		if cpu < 0 || cpu >= cpus.Total {
			v.addError(inst.Name, "CPU %d does not exist in hardware inventory (0-%d)", cpu, cpus.Total-1)
		}
	}

	reserved := intersect(inst.Resources.CPUs, cpus.HostReserved)
	if len(reserved) > 0 {
		v.addError(inst.Name, "CPUs %v are reserved for the host kernel", reserved)
		v.addSuggestion(inst.Name, "use available CPUs: %v", cpus.Available)
	}

	for otherName, other := range tree.Instances {
		if otherName == inst.Name {
			continue
		}
		overlap := intersect(inst.Resources.CPUs, other.Resources.CPUs)
		if len(overlap) > 0 {
			v.addError(inst.Name, "CPU overlap with instance %q: %v", otherName, overlap)
		}
	}
}

func (v *Validator) validateMemoryAllocation(inst model.Instance, tree *model.GlobalDeviceTree) {
	mem := tree.Hardware.Memory
	start := inst.Resources.MemoryBase
	end := start + inst.Resources.MemoryBytes

	if start < mem.MemoryPoolBase {
		v.addError(inst.Name, "memory base 0x%x is before pool start 0x%x", start, mem.MemoryPoolBase)
	}
	if end > mem.MemoryPoolEnd() {
		v.addError(inst.Name, "memory region 0x%x-0x%x extends beyond pool 0x%x-0x%x", start, end, mem.MemoryPoolBase, mem.MemoryPoolEnd())
	}
	if start%4096 != 0 {
		v.addWarning(inst.Name, "memory base 0x%x is not 4 KiB page-aligned", start)
	}

	for otherName, other := range tree.Instances {
		if otherName == inst.Name {
			continue
		}
		otherStart := other.Resources.MemoryBase
		otherEnd := otherStart + other.Resources.MemoryBytes
		if start < otherEnd && otherStart < end {
			v.addError(inst.Name, "memory region 0x%x-0x%x overlaps instance %q (0x%x-0x%x)", start, end, otherName, otherStart, otherEnd)
		}
	}
}

func (v *Validator) validateDeviceAllocation(inst model.Instance, tree *model.GlobalDeviceTree) {
	for _, ref := range inst.Resources.Devices {
		deviceRef, ok := tree.DeviceReferences[ref]
		if !ok {
			if _, direct := tree.Hardware.Devices[ref]; !direct {
				v.addError(inst.Name, "reference to non-existent device %q", ref)
			}
			continue
		}
		dev, ok := tree.Hardware.Devices[deviceRef.Parent]
		if !ok {
			v.addError(inst.Name, "device reference %q has no backing parent device %q", ref, deviceRef.Parent)
			continue
		}
		if deviceRef.VFID != nil && len(dev.AvailableVFs) > 0 && !dev.AvailableVFs[*deviceRef.VFID] {
			v.addError(inst.Name, "VF %d not available for device %q", *deviceRef.VFID, deviceRef.Parent)
		}
		if deviceRef.NamespaceID != nil && len(dev.AvailableNS) > 0 && !dev.AvailableNS[*deviceRef.NamespaceID] {
			v.addError(inst.Name, "namespace %d not available for device %q", *deviceRef.NamespaceID, deviceRef.Parent)
		}
	}
}

func (v *Validator) validateTopologyConstraints(inst model.Instance, tree *model.GlobalDeviceTree) {
	topo := tree.Hardware.Topology
	if topo == nil || len(topo.NUMANodes) == 0 {
		return
	}

	if len(inst.Resources.NUMANodes) > 0 {
		for _, id := range inst.Resources.NUMANodes {
			if _, ok := topo.NUMANodes[id]; !ok {
				v.addError(inst.Name, "NUMA node %d does not exist in hardware topology", id)
			}
		}
	}

	cpuToNode := topo.CPUToNode()
	cpuNodes := make(map[int]bool)
	for _, cpu := range inst.Resources.CPUs {
		if node, ok := cpuToNode[cpu]; ok {
			cpuNodes[node] = true
		}
	}

	switch inst.Resources.CPUAffinity {
	case model.AffinityCompact:
		if len(cpuNodes) > 1 {
			v.addWarning(inst.Name, "compact CPU affinity requested but CPUs span multiple NUMA nodes: %v", sortedKeys(cpuNodes))
		}
	case model.AffinitySpread:
		if len(cpuNodes) < 2 && len(topo.NUMANodes) > 1 {
			v.addWarning(inst.Name, "spread CPU affinity requested but CPUs are confined to a single NUMA node")
		}
	case model.AffinityLocal:
		v.validateLocalPlacement(inst, topo, cpuNodes)
	}

	if inst.Resources.MemoryPolicy == model.MemoryPolicyBind && len(inst.Resources.NUMANodes) == 0 {
		v.addWarning(inst.Name, "bind memory policy requested but no NUMA nodes specified")
	}
}

func (v *Validator) validateLocalPlacement(inst model.Instance, topo *model.Topology, cpuNodes map[int]bool) {
	memNode := -1
	for id, node := range topo.NUMANodes {
		if inst.Resources.MemoryBase >= node.MemoryBase && inst.Resources.MemoryBase < node.MemoryBase+node.MemorySize {
			memNode = id
			break
		}
	}
	if memNode == -1 {
		v.addWarning(inst.Name, "could not determine NUMA node for memory base 0x%x", inst.Resources.MemoryBase)
		return
	}
	if !cpuNodes[memNode] {
		v.addWarning(inst.Name, "local CPU affinity requested but CPUs are on NUMA node(s) %v while memory is on node %d", sortedKeys(cpuNodes), memNode)
	}
}

func (v *Validator) validateResourceAllocations(tree *model.GlobalDeviceTree) {
	var cpusAllocated int
	var memoryAllocated uint64
	for _, inst := range tree.Instances {
		cpusAllocated += len(inst.Resources.CPUs)
		memoryAllocated += inst.Resources.MemoryBytes
	}

	if cpusAllocated > len(tree.Hardware.CPUs.Available) {
		v.addError("resources", "total CPU allocation (%d) exceeds available CPUs (%d)", cpusAllocated, len(tree.Hardware.CPUs.Available))
	}
	if memoryAllocated > tree.Hardware.Memory.MemoryPoolBytes {
		v.addError("resources", "total memory allocation (%d bytes) exceeds memory pool (%d bytes)", memoryAllocated, tree.Hardware.Memory.MemoryPoolBytes)
	}
}

func (v *Validator) validateDeviceReferences(tree *model.GlobalDeviceTree) {
	for name, ref := range tree.DeviceReferences {
		if ref.Parent == "" {
			continue
		}
		if _, ok := tree.Hardware.Devices[ref.Parent]; !ok {
			v.addError("devices", "device reference %q: parent device %q not found in hardware inventory", name, ref.Parent)
		}
	}
}

func (v *Validator) validateUtilization(tree *model.GlobalDeviceTree) {
	var cpusAllocated int
	var memoryAllocated uint64
	for _, inst := range tree.Instances {
		cpusAllocated += len(inst.Resources.CPUs)
		memoryAllocated += inst.Resources.MemoryBytes
	}

	cpusTotal := len(tree.Hardware.CPUs.Available)
	if unallocated := cpusTotal - cpusAllocated; cpusTotal > 0 && unallocated > 0 {
		pct := float64(unallocated) / float64(cpusTotal) * 100
		v.addWarning("resources", "%d CPUs (%.1f%%) remain unallocated", unallocated, pct)
	}

	memTotal := tree.Hardware.Memory.MemoryPoolBytes
	if unallocated := memTotal - memoryAllocated; memTotal > 0 && unallocated > 0 {
		pct := float64(unallocated) / float64(memTotal) * 100
		v.addWarning("resources", "%d bytes (%.1f%%) of memory pool remain unallocated", unallocated, pct)
	}
}

func intersect(a, b []int) []int {
	bSet := make(map[int]bool, len(b))
	for _, v := range b {
		bSet[v] = true
	}
	var out []int
	seen := make(map[int]bool)
	for _, v := range a {
		if bSet[v] && !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	sort.Ints(out)
	return out
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
