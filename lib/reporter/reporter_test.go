package reporter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/validator"
)

func TestWriteTextValid(t *testing.T) {
	tree := &model.GlobalDeviceTree{
		Hardware: model.HardwareInventory{
			CPUs: model.CPUAllocation{
				Total:        8,
				HostReserved: []int{0, 1},
				Available:    []int{2, 3, 4, 5, 6, 7},
			},
			Memory: model.MemoryAllocation{
				TotalBytes:       16 << 30,
				HostReservedByte: 2 << 30,
				MemoryPoolBase:   2 << 30,
				MemoryPoolBytes:  14 << 30,
			},
			Devices: map[string]model.DeviceInfo{
				"eth0": {Name: "eth0", Compatible: "ethernet"},
			},
		},
		Instances: map[string]model.Instance{
			"web": {
				Name: "web",
				ID:   1,
				Resources: model.InstanceResources{
					CPUs:        []int{2, 3},
					MemoryBase:  2 << 30,
					MemoryBytes: 4 << 30,
					Devices:     []string{"eth0_vf0"},
				},
			},
		},
	}

	var buf bytes.Buffer
	err := WriteText(&buf, tree, validator.Result{OK: true})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Status:")
	assert.Contains(t, out, "VALID")
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "All validations passed")
}

func TestWriteTextWithErrors(t *testing.T) {
	tree := &model.GlobalDeviceTree{
		Hardware:  model.HardwareInventory{CPUs: model.CPUAllocation{Total: 1}},
		Instances: map[string]model.Instance{},
	}
	result := validator.Result{
		OK:     false,
		Errors: []validator.Finding{{Subject: "cpu1", Message: "overlaps host reserved"}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, tree, result))

	out := buf.String()
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "overlaps host reserved")
	assert.Contains(t, out, "Validation failed with 1 errors")
}
