package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multikernel/kerf-sub000/lib/fdt"
	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/resources"
)

// scenarioHardware is the literal baseline the end-to-end scenarios are
// specified against: 32 CPUs, host-reserved [0,1,2,3], available
// [4..31], 14 GiB pool at 0x80000000.
func scenarioHardware() model.HardwareInventory {
	var available []int
	for c := 4; c <= 31; c++ {
		available = append(available, c)
	}
	return model.HardwareInventory{
		CPUs: model.CPUAllocation{
			Total:        32,
			HostReserved: []int{0, 1, 2, 3},
			Available:    available,
		},
		Memory: model.MemoryAllocation{
			TotalBytes:      32 << 30,
			MemoryPoolBase:  0x80000000,
			MemoryPoolBytes: 14 << 30,
		},
	}
}

// applyAndSeed drives one ApplyOperation call against a fake kernel. It
// first runs op against the current state, so an op failure returns
// before any transaction directory exists. It then creates the next
// tx_<N> with an "applied" status but no dtbo, so ApplyOperation's own
// state read does not count it, calls the real ApplyOperation, and
// finally stores the blob ApplyOperation wrote to overlays/new as that
// transaction's dtbo, as the kernel module would.
func applyAndSeed(t *testing.T, mgr *Manager, root string, txID string, op Operation) (string, error) {
	t.Helper()
	newPath := filepath.Join(root, "overlays", "new")
	if _, err := os.Stat(newPath); os.IsNotExist(err) {
		require.NoError(t, os.WriteFile(newPath, nil, 0644))
	}

	current, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	if _, opErr := op(current); opErr != nil {
		return "", opErr
	}
	txDir := filepath.Join(root, "overlays", "tx_"+txID)
	require.NoError(t, os.MkdirAll(txDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(txDir, "status"), []byte("applied"), 0644))

	gotID, err := mgr.ApplyOperation(context.Background(), op)
	if err != nil {
		return "", err
	}
	blob, err := os.ReadFile(newPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(txDir, "dtbo"), blob, 0644))
	return gotID, nil
}

func createOp(name string, cpus []int, memBytes uint64) Operation {
	return func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		if _, exists := current.Instances[name]; exists {
			return nil, kerferrors.New(kerferrors.KindResourceConflict, "instance %q already exists", name)
		}
		if conflict := resources.CPUConflictError(name, current, cpus); conflict != nil {
			return nil, conflict.WithOp("create")
		}
		base, err := resources.FindAvailableMemoryBase(current, memBytes)
		if err != nil {
			return nil, err
		}
		id, err := resources.FindNextInstanceID(current)
		if err != nil {
			return nil, err
		}
		modified := current.Clone()
		modified.Instances[name] = model.Instance{
			Name: name,
			ID:   id,
			Resources: model.InstanceResources{
				CPUs:        cpus,
				MemoryBase:  base,
				MemoryBytes: memBytes,
			},
		}
		return modified, nil
	}
}

func updateOp(name string, newCPUs []int, newMemBytes uint64) Operation {
	return func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		inst, ok := current.Instances[name]
		if !ok {
			return nil, kerferrors.New(kerferrors.KindInvalidReference, "instance %q does not exist", name)
		}
		withoutSelf := current.Clone()
		delete(withoutSelf.Instances, name)

		if conflict := resources.CPUConflictError(name, withoutSelf, newCPUs); conflict != nil {
			return nil, conflict.WithOp("update")
		}

		base, err := resources.FindAvailableMemoryBase(withoutSelf, newMemBytes)
		if err != nil {
			return nil, err
		}

		modified := current.Clone()
		inst = modified.Instances[name]
		inst.Resources.CPUs = newCPUs
		inst.Resources.MemoryBase = base
		inst.Resources.MemoryBytes = newMemBytes
		modified.Instances[name] = inst
		return modified, nil
	}
}

func deleteOp(name string) Operation {
	return func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		if _, ok := current.Instances[name]; !ok {
			return nil, kerferrors.New(kerferrors.KindInvalidReference, "instance %q does not exist", name)
		}
		modified := current.Clone()
		delete(modified.Instances, name)
		return modified, nil
	}
}

// Scenario 1: create web (cpus 4-7, 2 GiB), then db (cpus 8-15, 8 GiB).
func TestScenario1CreateTwoInstances(t *testing.T) {
	hw := scenarioHardware()
	mgr, root := newTestManager(t, hw)

	txID, err := applyAndSeed(t, mgr, root, "0", createOp("web", []int{4, 5, 6, 7}, 2<<30))
	require.NoError(t, err)
	require.Equal(t, "0", txID)

	txID, err = applyAndSeed(t, mgr, root, "1", createOp("db", []int{8, 9, 10, 11, 12, 13, 14, 15}, 8<<30))
	require.NoError(t, err)
	require.Equal(t, "1", txID)

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, tree.Instances["web"].ID)
	require.Equal(t, uint64(0x80000000), tree.Instances["web"].Resources.MemoryBase)
	require.Equal(t, 2, tree.Instances["db"].ID)
	require.Equal(t, uint64(0x100000000), tree.Instances["db"].Resources.MemoryBase)
}

// Scenario 2: with scenario 1 in place, a create overlapping web's CPUs
// must fail with ResourceConflict, leaving no transaction behind.
func TestScenario2CreateConflictingCPUsRejected(t *testing.T) {
	hw := scenarioHardware()
	mgr, root := newTestManager(t, hw)
	_, err := applyAndSeed(t, mgr, root, "0", createOp("web", []int{4, 5, 6, 7}, 2<<30))
	require.NoError(t, err)

	_, err = applyAndSeed(t, mgr, root, "1", createOp("bad", []int{6, 7, 8, 9}, 1<<30))
	require.Error(t, err)
	kind, ok := kerferrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, kerferrors.KindResourceConflict, kind)

	_, statErr := os.Stat(filepath.Join(root, "overlays", "tx_1"))
	require.True(t, os.IsNotExist(statErr))
}

// Scenario 3: update web's CPUs and memory; the resulting overlay must
// round-trip through the same diff the runtime itself would compute.
func TestScenario3UpdateInstanceResources(t *testing.T) {
	hw := scenarioHardware()
	mgr, root := newTestManager(t, hw)
	_, err := applyAndSeed(t, mgr, root, "0", createOp("web", []int{4, 5, 6, 7}, 2<<30))
	require.NoError(t, err)

	txID, err := applyAndSeed(t, mgr, root, "1", updateOp("web", []int{20, 21, 22, 23}, 4<<30))
	require.NoError(t, err)
	require.Equal(t, "1", txID)

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{20, 21, 22, 23}, tree.Instances["web"].Resources.CPUs)
	require.Equal(t, uint64(4<<30), tree.Instances["web"].Resources.MemoryBytes)
	require.Equal(t, hw.Memory.MemoryPoolBase, tree.Instances["web"].Resources.MemoryBase)
}

// Scenario 4 is exercised at the cmd/kerf layer (it depends on the
// instance's live status file, which lib/runtime has no opinion on);
// see cmd/kerf's delete command for the "loaded" pre-check.

// Scenario 5: create with local affinity restricted to one NUMA node.
func TestScenario5LocalAffinityRestrictsToNode(t *testing.T) {
	hw := scenarioHardware()
	hw.Topology = &model.Topology{
		NUMANodes: map[int]model.NUMANode{
			0: {ID: 0, MemoryBase: 0x80000000, MemorySize: 7 << 30, CPUs: cpuRangeList(4, 15)},
			1: {ID: 1, MemoryBase: 0x80000000 + 7<<30, MemorySize: 7 << 30, CPUs: cpuRangeList(16, 23)},
		},
	}
	mgr, root := newTestManager(t, hw)

	op := func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		cpus, err := resources.AllocateCPUs(current, 4, model.AffinityLocal, []int{1})
		if err != nil {
			return nil, err
		}
		base, err := resources.FindAvailableMemoryBase(current, 2<<30)
		if err != nil {
			return nil, err
		}
		modified := current.Clone()
		modified.Instances["c"] = model.Instance{
			Name: "c",
			ID:   1,
			Resources: model.InstanceResources{
				CPUs:        cpus,
				MemoryBase:  base,
				MemoryBytes: 2 << 30,
				NUMANodes:   []int{1},
				CPUAffinity: model.AffinityLocal,
			},
		}
		return modified, nil
	}

	_, err := applyAndSeed(t, mgr, root, "0", op)
	require.NoError(t, err)

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	for _, c := range tree.Instances["c"].Resources.CPUs {
		require.Contains(t, cpuRangeList(16, 23), c)
	}
}

func cpuRangeList(start, end int) []int {
	var out []int
	for c := start; c <= end; c++ {
		out = append(out, c)
	}
	return out
}

// Scenario 6: encoding then decoding scenario 1's db create leaves the
// OverlayDelta's instance byte-for-byte equal to the input.
func TestScenario6OverlayRoundTripMatchesCreate(t *testing.T) {
	inst := model.Instance{
		Name: "db",
		ID:   2,
		Resources: model.InstanceResources{
			CPUs:        []int{8, 9, 10, 11, 12, 13, 14, 15},
			MemoryBase:  0x100000000,
			MemoryBytes: 8 << 30,
		},
	}
	delta := &fdt.OverlayDelta{
		Creates:  map[string]model.Instance{"db": inst},
		Updates:  map[string]fdt.InstanceUpdate{},
		Removals: map[string]bool{},
	}

	blob := fdt.EncodeOverlay(delta)
	decoded, err := fdt.DecodeOverlay(blob)
	require.NoError(t, err)

	require.Empty(t, decoded.Updates)
	require.Empty(t, decoded.Removals)
	require.Contains(t, decoded.Creates, "db")
	require.Equal(t, inst.Resources.CPUs, decoded.Creates["db"].Resources.CPUs)
	require.Equal(t, inst.Resources.MemoryBase, decoded.Creates["db"].Resources.MemoryBase)
	require.Equal(t, inst.Resources.MemoryBytes, decoded.Creates["db"].Resources.MemoryBytes)
	require.Equal(t, inst.ID, decoded.Creates["db"].ID)
}

func TestScenario4DeletePreCheckIsCLILayerConcern(t *testing.T) {
	// Deleting an instance while it is "loaded" is rejected before a
	// transaction is ever created, but that check depends on the
	// instance's live status file under instances/<name>/status, which
	// belongs to cmd/kerf rather than the runtime's tree-diffing layer.
	// deleteOp itself has no opinion on instance status: it only removes
	// the instance from the tree, and this confirms it does so cleanly
	// once the caller has already decided deletion is safe.
	hw := scenarioHardware()
	mgr, root := newTestManager(t, hw)
	_, err := applyAndSeed(t, mgr, root, "0", createOp("web", []int{4, 5, 6, 7}, 2<<30))
	require.NoError(t, err)

	txID, err := applyAndSeed(t, mgr, root, "1", deleteOp("web"))
	require.NoError(t, err)
	require.Equal(t, "1", txID)

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	require.NotContains(t, tree.Instances, "web")
}
