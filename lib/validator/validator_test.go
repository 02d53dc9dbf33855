package validator

import (
	"testing"

	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTree() *model.GlobalDeviceTree {
	return &model.GlobalDeviceTree{
		Hardware: model.HardwareInventory{
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
		},
		Instances:        make(map[string]model.Instance),
		DeviceReferences: make(map[string]model.DeviceReference),
	}
}

func TestValidateCleanTreeHasNoErrors(t *testing.T) {
	tree := validTree()
	tree.Instances["web"] = model.Instance{
		Name: "web", ID: 1,
		Resources: model.InstanceResources{CPUs: []int{2, 3}, MemoryBase: 1 << 30, MemoryBytes: 2 << 30},
	}

	result := NewOffline().Validate(tree)
	require.True(t, result.OK)
	assert.Empty(t, result.Errors)
}

func TestValidateCatchesHostReservedCPUUse(t *testing.T) {
	tree := validTree()
	tree.Instances["web"] = model.Instance{
		Name: "web", ID: 1,
		Resources: model.InstanceResources{CPUs: []int{0}, MemoryBase: 1 << 30, MemoryBytes: 1 << 30},
	}

	result := NewOffline().Validate(tree)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateCatchesCPUOverlapBetweenInstances(t *testing.T) {
	tree := validTree()
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{CPUs: []int{2, 3}, MemoryBase: 1 << 30, MemoryBytes: 1 << 30},
	}
	tree.Instances["b"] = model.Instance{
		Name: "b", ID: 2,
		Resources: model.InstanceResources{CPUs: []int{3, 4}, MemoryBase: 2 << 30, MemoryBytes: 1 << 30},
	}

	result := NewOffline().Validate(tree)
	assert.False(t, result.OK)
}

func TestValidateCatchesMemoryOverlap(t *testing.T) {
	tree := validTree()
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{CPUs: []int{2}, MemoryBase: 1 << 30, MemoryBytes: 4 << 30},
	}
	tree.Instances["b"] = model.Instance{
		Name: "b", ID: 2,
		Resources: model.InstanceResources{CPUs: []int{3}, MemoryBase: 2 << 30, MemoryBytes: 1 << 30},
	}

	result := NewOffline().Validate(tree)
	assert.False(t, result.OK)
}

func TestValidateCatchesMemoryOutsidePool(t *testing.T) {
	tree := validTree()
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{CPUs: []int{2}, MemoryBase: 0, MemoryBytes: 1 << 20},
	}

	result := NewOffline().Validate(tree)
	assert.False(t, result.OK)
}

func TestValidateCatchesDuplicateInstanceID(t *testing.T) {
	tree := validTree()
	tree.Instances["a"] = model.Instance{Name: "a", ID: 1, Resources: model.InstanceResources{CPUs: []int{2}, MemoryBase: 1 << 30, MemoryBytes: 1 << 20}}
	tree.Instances["b"] = model.Instance{Name: "b", ID: 1, Resources: model.InstanceResources{CPUs: []int{3}, MemoryBase: 2 << 30, MemoryBytes: 1 << 20}}

	result := NewOffline().Validate(tree)
	assert.False(t, result.OK)
}

func TestValidateCatchesBadDeviceReference(t *testing.T) {
	tree := validTree()
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{CPUs: []int{2}, MemoryBase: 1 << 30, MemoryBytes: 1 << 20, Devices: []string{"nic0_vf3"}},
	}

	result := NewOffline().Validate(tree)
	assert.False(t, result.OK)
}

func TestValidateWarnsOnUnallocatedResources(t *testing.T) {
	tree := validTree()
	result := NewOffline().Validate(tree)
	require.True(t, result.OK)
	assert.NotEmpty(t, result.Warnings)
}

func TestValidateLocalAffinityWarnsOnRemoteMemory(t *testing.T) {
	tree := validTree()
	tree.Hardware.Topology = &model.Topology{
		NUMANodes: map[int]model.NUMANode{
			0: {ID: 0, CPUs: []int{2, 3}, MemoryBase: 1 << 30, MemorySize: 2 << 30},
			1: {ID: 1, CPUs: []int{4, 5}, MemoryBase: 4 << 30, MemorySize: 2 << 30},
		},
	}
	tree.Instances["a"] = model.Instance{
		Name: "a", ID: 1,
		Resources: model.InstanceResources{
			CPUs: []int{2, 3}, MemoryBase: 4 << 30, MemoryBytes: 1 << 20,
			CPUAffinity: model.AffinityLocal,
		},
	}

	result := NewOffline().Validate(tree)
	assert.NotEmpty(t, result.Warnings)
}
