package resources

import (
	"testing"

	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatHardware() model.HardwareInventory {
	return model.HardwareInventory{
		CPUs: model.CPUAllocation{
			Total:        8,
			HostReserved: []int{0, 1},
			Available:    []int{2, 3, 4, 5, 6, 7},
		},
		Memory: model.MemoryAllocation{
			TotalBytes:      64 << 30,
			MemoryPoolBase:  1 << 30,
			MemoryPoolBytes: 32 << 30,
		},
	}
}

func numaHardware() model.HardwareInventory {
	hw := flatHardware()
	hw.Topology = &model.Topology{
		NUMANodes: map[int]model.NUMANode{
			0: {ID: 0, CPUs: []int{2, 3, 4}},
			1: {ID: 1, CPUs: []int{5, 6, 7}},
		},
	}
	return hw
}

// fragmentedNumaHardware has non-consecutive available CPUs within
// each NUMA node, so compact allocation can't always find a run.
func fragmentedNumaHardware() model.HardwareInventory {
	return model.HardwareInventory{
		CPUs: model.CPUAllocation{
			Total:     13,
			Available: []int{2, 4, 6, 8, 10, 11, 12},
		},
		Memory: model.MemoryAllocation{
			TotalBytes:      64 << 30,
			MemoryPoolBase:  1 << 30,
			MemoryPoolBytes: 32 << 30,
		},
		Topology: &model.Topology{
			NUMANodes: map[int]model.NUMANode{
				0: {ID: 0, CPUs: []int{2, 4, 6, 8}},
				1: {ID: 1, CPUs: []int{10, 11, 12}},
			},
		},
	}
}

func emptyTree(hw model.HardwareInventory) *model.GlobalDeviceTree {
	return &model.GlobalDeviceTree{
		Hardware:         hw,
		Instances:        make(map[string]model.Instance),
		DeviceReferences: make(map[string]model.DeviceReference),
	}
}

func TestAvailableCPUsExcludesAssigned(t *testing.T) {
	tree := emptyTree(flatHardware())
	tree.Instances["a"] = model.Instance{Name: "a", ID: 1, Resources: model.InstanceResources{CPUs: []int{2, 3}}}

	got := AvailableCPUs(tree)
	assert.Equal(t, []int{4, 5, 6, 7}, got)
}

func TestFindAvailableMemoryBaseFirstFit(t *testing.T) {
	tree := emptyTree(flatHardware())
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{MemoryBase: 1 << 30, MemoryBytes: 4 << 30},
	}

	base, err := FindAvailableMemoryBase(tree, 2<<30)
	require.NoError(t, err)
	assert.Equal(t, uint64(5<<30), base)
}

func TestFindAvailableMemoryBaseGapBetweenRegions(t *testing.T) {
	tree := emptyTree(flatHardware())
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{MemoryBase: 1 << 30, MemoryBytes: 1 << 30},
	}
	tree.Instances["b"] = model.Instance{
		Name: "b", ID: 2,
		Resources: model.InstanceResources{MemoryBase: 8 << 30, MemoryBytes: 1 << 30},
	}

	base, err := FindAvailableMemoryBase(tree, 4<<30)
	require.NoError(t, err)
	assert.Equal(t, uint64(2<<30), base)
}

func TestFindAvailableMemoryBaseExhausted(t *testing.T) {
	tree := emptyTree(flatHardware())
	_, err := FindAvailableMemoryBase(tree, 64<<30)
	require.Error(t, err)
}

func TestFindNextInstanceIDSkipsUsed(t *testing.T) {
	tree := emptyTree(flatHardware())
	tree.Instances["a"] = model.Instance{Name: "a", ID: 1}
	tree.Instances["b"] = model.Instance{Name: "b", ID: 2}

	id, err := FindNextInstanceID(tree)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestFindNextInstanceIDExhausted(t *testing.T) {
	tree := emptyTree(flatHardware())
	for i := 1; i <= 511; i++ {
		tree.Instances[string(rune(i))] = model.Instance{ID: i}
	}
	_, err := FindNextInstanceID(tree)
	require.Error(t, err)
}

func TestAllocateCPUsWithoutTopologyIsFirstFit(t *testing.T) {
	tree := emptyTree(flatHardware())
	got, err := AllocateCPUs(tree, 3, model.AffinityCompact, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestAllocateCPUsCompactFillsOneNodeFirst(t *testing.T) {
	tree := emptyTree(numaHardware())
	got, err := AllocateCPUs(tree, 3, model.AffinityCompact, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 3, 4}, got)
}

func TestAllocateCPUsSpreadAcrossNodes(t *testing.T) {
	tree := emptyTree(numaHardware())
	got, err := AllocateCPUs(tree, 2, model.AffinitySpread, nil)
	require.NoError(t, err)

	topo := tree.Hardware.Topology
	cpuToNode := topo.CPUToNode()
	assert.NotEqual(t, cpuToNode[got[0]], cpuToNode[got[1]])
}

func TestAllocateCPUsLocalRestrictsToRequestedNode(t *testing.T) {
	tree := emptyTree(numaHardware())
	got, err := AllocateCPUs(tree, 2, model.AffinityLocal, []int{1})
	require.NoError(t, err)
	assert.Subset(t, []int{5, 6, 7}, got)
}

func TestAllocateCPUsLocalRequiresNodes(t *testing.T) {
	tree := emptyTree(numaHardware())
	_, err := AllocateCPUs(tree, 2, model.AffinityLocal, nil)
	require.Error(t, err)
}

func TestAllocateCPUsExhausted(t *testing.T) {
	tree := emptyTree(flatHardware())
	_, err := AllocateCPUs(tree, 100, model.AffinityCompact, nil)
	require.Error(t, err)
}

func TestAllocateCPUsCompactWithNumaNodesRestrictsToThoseNodes(t *testing.T) {
	tree := emptyTree(numaHardware())
	got, err := AllocateCPUs(tree, 2, model.AffinityCompact, []int{1})
	require.NoError(t, err)
	assert.Subset(t, []int{5, 6, 7}, got)
}

func TestAllocateCPUsCompactPrefersConsecutiveRunWithinRequestedNode(t *testing.T) {
	tree := emptyTree(fragmentedNumaHardware())
	got, err := AllocateCPUs(tree, 2, model.AffinityCompact, []int{1})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, got)
}

func TestAllocateCPUsCompactFallsBackToFirstNWithoutConsecutiveRun(t *testing.T) {
	tree := emptyTree(fragmentedNumaHardware())
	got, err := AllocateCPUs(tree, 2, model.AffinityCompact, []int{0})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, got)
}

func TestAllocateCPUsCompactPrefersFirstSufficientRequestedNode(t *testing.T) {
	tree := emptyTree(fragmentedNumaHardware())
	got, err := AllocateCPUs(tree, 3, model.AffinityCompact, []int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12}, got)
}

func TestAllocateCPUsCompactFallsThroughToCombinedPoolWhenNoSingleNodeSuffices(t *testing.T) {
	tree := emptyTree(fragmentedNumaHardware())
	got, err := AllocateCPUs(tree, 5, model.AffinityCompact, []int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6, 8, 10}, got)
}

func TestAllocateCPUsSpreadWithNumaNodesRoundRobinsRequestedNodes(t *testing.T) {
	tree := emptyTree(fragmentedNumaHardware())
	got, err := AllocateCPUs(tree, 4, model.AffinitySpread, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 10, 11}, got)
}

func TestAllocateCPUsCompactWithNumaNodesExhausted(t *testing.T) {
	tree := emptyTree(fragmentedNumaHardware())
	_, err := AllocateCPUs(tree, 10, model.AffinityCompact, []int{1})
	require.Error(t, err)
}
