// Package resources implements the pure-function allocation policies
// used when creating or growing an instance: CPU set selection, memory
// base-address placement, and instance ID assignment. Nothing here
// touches the filesystem or the kernel; callers in lib/runtime supply a
// GlobalDeviceTree snapshot and apply the returned allocation themselves.
package resources

import (
	"sort"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
)

const memoryAlignment = 4096

// AvailableCPUs returns the host's available CPU set minus any CPU
// already assigned to a live instance.
func AvailableCPUs(tree *model.GlobalDeviceTree) []int {
	used := make(map[int]bool)
	for _, inst := range tree.Instances {
		for _, cpu := range inst.Resources.CPUs {
			used[cpu] = true
		}
	}
	out := make([]int, 0, len(tree.Hardware.CPUs.Available))
	for _, cpu := range tree.Hardware.CPUs.Available {
		if !used[cpu] {
			out = append(out, cpu)
		}
	}
	sort.Ints(out)
	return out
}

// memRegion is a half-open [Base, Base+Bytes) memory range.
type memRegion struct {
	Base, Bytes uint64
}

// AllocatedMemoryRegions returns the memory regions currently assigned
// to instances, sorted by base address.
func AllocatedMemoryRegions(tree *model.GlobalDeviceTree) []memRegion {
	regions := make([]memRegion, 0, len(tree.Instances))
	for _, inst := range tree.Instances {
		if inst.Resources.MemoryBytes == 0 {
			continue
		}
		regions = append(regions, memRegion{Base: inst.Resources.MemoryBase, Bytes: inst.Resources.MemoryBytes})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })
	return regions
}

// FindAvailableMemoryBase performs a first-fit scan of the memory pool
// for a free region of the requested size, 4 KiB aligned. It returns a
// ResourceExhaustion error if no gap is large enough.
func FindAvailableMemoryBase(tree *model.GlobalDeviceTree, sizeBytes uint64) (uint64, error) {
	if sizeBytes == 0 {
		return 0, kerferrors.New(kerferrors.KindValidation, "requested memory size must be greater than zero")
	}
	alignedSize := alignUp(sizeBytes, memoryAlignment)

	poolBase := alignUp(tree.Hardware.Memory.MemoryPoolBase, memoryAlignment)
	poolEnd := tree.Hardware.Memory.MemoryPoolEnd()

	cursor := poolBase
	for _, r := range AllocatedMemoryRegions(tree) {
		if r.Base > cursor && r.Base-cursor >= alignedSize {
			return cursor, nil
		}
		end := r.Base + r.Bytes
		if end > cursor {
			cursor = alignUp(end, memoryAlignment)
		}
	}
	if poolEnd-cursor >= alignedSize {
		return cursor, nil
	}
	return 0, kerferrors.New(kerferrors.KindResourceExhaustion, "no free memory region of %d bytes in pool [0x%x, 0x%x)", alignedSize, poolBase, poolEnd)
}

func alignUp(v, align uint64) uint64 {
	if v%align == 0 {
		return v
	}
	return (v/align + 1) * align
}

// FindNextInstanceID returns the lowest unused instance ID in [1, 511].
func FindNextInstanceID(tree *model.GlobalDeviceTree) (int, error) {
	used := make(map[int]bool, len(tree.Instances))
	for _, inst := range tree.Instances {
		used[inst.ID] = true
	}
	for id := 1; id <= 511; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, kerferrors.New(kerferrors.KindResourceExhaustion, "no instance ID available in [1, 511]")
}

// AllocateCPUs selects `count` CPUs from the host's free pool according
// to the given affinity policy. If numaNodes is non-empty and the host
// has NUMA topology, the candidate pool is first restricted to those
// nodes for every affinity, not just "local". A nil or empty topology
// makes "compact" fall back to a plain consecutive-run search and
// "spread" to an evenly-stepped selection over the whole free pool,
// since there is no NUMA structure to be compact or spread with
// respect to; "local" always requires topology.
func AllocateCPUs(tree *model.GlobalDeviceTree, count int, affinity model.Affinity, numaNodes []int) ([]int, error) {
	if count <= 0 {
		return nil, kerferrors.New(kerferrors.KindValidation, "requested CPU count must be greater than zero")
	}
	free := AvailableCPUs(tree)

	topo := tree.Hardware.Topology
	hasTopology := topo != nil && len(topo.NUMANodes) > 0
	if hasTopology && len(numaNodes) > 0 {
		free = restrictToNodes(free, topo, numaNodes)
	}

	if len(free) < count {
		if len(numaNodes) > 0 {
			return nil, kerferrors.New(kerferrors.KindResourceExhaustion, "requested %d CPUs in NUMA node(s) %v, only %d available there", count, numaNodes, len(free))
		}
		return nil, kerferrors.New(kerferrors.KindResourceExhaustion, "requested %d CPUs, only %d available", count, len(free))
	}

	switch affinity {
	case model.AffinityLocal:
		if !hasTopology {
			return nil, kerferrors.New(kerferrors.KindValidation, "local CPU affinity requires NUMA topology information")
		}
		return allocateLocal(free, topo, numaNodes, count)
	case model.AffinitySpread:
		return allocateSpread(free, topo, numaNodes, count)
	case model.AffinityCompact, "":
		return allocateCompact(free, topo, numaNodes, count)
	default:
		return nil, kerferrors.New(kerferrors.KindValidation, "unknown CPU affinity %q", affinity)
	}
}

// restrictToNodes filters free down to the CPUs belonging to any of
// numaNodes.
func restrictToNodes(free []int, topo *model.Topology, numaNodes []int) []int {
	allowed := make(map[int]bool, len(numaNodes))
	for _, id := range numaNodes {
		allowed[id] = true
	}
	cpuToNode := topo.CPUToNode()

	out := make([]int, 0, len(free))
	for _, cpu := range free {
		if allowed[cpuToNode[cpu]] {
			out = append(out, cpu)
		}
	}
	return out
}

// allocateCompact tries, in order, each requested NUMA node for a
// consecutive run of count CPU IDs, falling back to that node's first
// count CPUs if no run exists. If no single requested node has count
// CPUs free, it falls through to the same search over the combined
// (node-restricted) pool. With no NUMA nodes requested, or no topology
// at all, it runs that combined search directly.
func allocateCompact(free []int, topo *model.Topology, numaNodes []int, count int) ([]int, error) {
	if topo != nil && len(numaNodes) > 0 {
		cpuToNode := topo.CPUToNode()
		for _, id := range numaNodes {
			var nodeCPUs []int
			for _, cpu := range free {
				if cpuToNode[cpu] == id {
					nodeCPUs = append(nodeCPUs, cpu)
				}
			}
			sort.Ints(nodeCPUs)
			if len(nodeCPUs) >= count {
				if run := consecutiveRun(nodeCPUs, count); run != nil {
					return run, nil
				}
				return append([]int(nil), nodeCPUs[:count]...), nil
			}
		}
		// No single requested node had enough CPUs on its own; fall
		// through to a combined search across the node-restricted pool.
	}

	sorted := append([]int(nil), free...)
	sort.Ints(sorted)
	if len(sorted) < count {
		return nil, kerferrors.New(kerferrors.KindResourceExhaustion, "could not allocate %d CPUs with compact affinity", count)
	}
	if run := consecutiveRun(sorted, count); run != nil {
		return run, nil
	}
	return append([]int(nil), sorted[:count]...), nil
}

// consecutiveRun returns the first window of count consecutive integer
// CPU IDs within sortedCPUs, or nil if none exists.
func consecutiveRun(sortedCPUs []int, count int) []int {
	for i := 0; i+count <= len(sortedCPUs); i++ {
		consecutive := true
		for j := 0; j < count-1; j++ {
			if sortedCPUs[i+j+1] != sortedCPUs[i+j]+1 {
				consecutive = false
				break
			}
		}
		if consecutive {
			return append([]int(nil), sortedCPUs[i:i+count]...)
		}
	}
	return nil
}

// allocateSpread round-robins across NUMA nodes so the allocation is
// distributed as evenly as possible. When numaNodes is set, only those
// nodes (in the given order) participate in the round-robin; otherwise
// every node with free CPUs does. With no topology at all it steps
// evenly across the whole sorted free pool instead.
func allocateSpread(free []int, topo *model.Topology, numaNodes []int, count int) ([]int, error) {
	if topo == nil || len(topo.NUMANodes) == 0 {
		sorted := append([]int(nil), free...)
		sort.Ints(sorted)
		return spreadEvenly(sorted, count), nil
	}

	var byNode map[int][]int
	var nodeIDs []int
	if len(numaNodes) > 0 {
		cpuToNode := topo.CPUToNode()
		byNode = make(map[int][]int)
		for _, id := range numaNodes {
			byNode[id] = nil
		}
		for _, cpu := range free {
			if id, ok := cpuToNode[cpu]; ok {
				if _, wanted := byNode[id]; wanted {
					byNode[id] = append(byNode[id], cpu)
				}
			}
		}
		for id := range byNode {
			sort.Ints(byNode[id])
		}
		nodeIDs = append([]int(nil), numaNodes...)
	} else {
		byNode = groupByNode(free, topo)
		nodeIDs = sortedNodeIDs(byNode)
	}

	out := make([]int, 0, count)
	for len(out) < count {
		progressed := false
		for _, id := range nodeIDs {
			if len(byNode[id]) == 0 {
				continue
			}
			out = append(out, byNode[id][0])
			byNode[id] = byNode[id][1:]
			progressed = true
			if len(out) == count {
				sort.Ints(out)
				return out, nil
			}
		}
		if !progressed {
			break
		}
	}
	return nil, kerferrors.New(kerferrors.KindResourceExhaustion, "could not allocate %d CPUs with spread affinity", count)
}

// spreadEvenly picks count indices stepped evenly across sorted, used
// when there is no NUMA topology to spread across.
func spreadEvenly(sorted []int, count int) []int {
	if count == 1 {
		return []int{sorted[0]}
	}
	step := float64(len(sorted)-1) / float64(count-1)
	out := make([]int, count)
	for i := 0; i < count; i++ {
		out[i] = sorted[int(float64(i)*step)]
	}
	return out
}

// allocateLocal restricts the candidate set to the requested NUMA
// node(s) before applying compact packing within them.
func allocateLocal(free []int, topo *model.Topology, numaNodes []int, count int) ([]int, error) {
	if len(numaNodes) == 0 {
		return nil, kerferrors.New(kerferrors.KindValidation, "local CPU affinity requires at least one NUMA node")
	}
	restricted := restrictToNodes(free, topo, numaNodes)
	if len(restricted) < count {
		return nil, kerferrors.New(kerferrors.KindResourceExhaustion, "requested %d CPUs local to NUMA node(s) %v, only %d available there", count, numaNodes, len(restricted))
	}
	return allocateCompact(restricted, topo, numaNodes, count)
}

func groupByNode(free []int, topo *model.Topology) map[int][]int {
	cpuToNode := topo.CPUToNode()
	byNode := make(map[int][]int)
	for _, cpu := range free {
		id := cpuToNode[cpu]
		byNode[id] = append(byNode[id], cpu)
	}
	for id := range byNode {
		sort.Ints(byNode[id])
	}
	return byNode
}

func sortedNodeIDs(byNode map[int][]int) []int {
	ids := make([]int, 0, len(byNode))
	for id := range byNode {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
