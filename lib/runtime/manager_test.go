package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multikernel/kerf-sub000/lib/fdt"
	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/kernelfs"
	"github.com/multikernel/kerf-sub000/lib/model"
)

// fakeHardware returns a small two-instance-worthy hardware inventory
// with no topology, used throughout this file.
func fakeHardware() model.HardwareInventory {
	return model.HardwareInventory{
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
	}
}

// newTestManager seeds a fake multikernel pseudo-filesystem under a
// temp dir with the given baseline hardware and returns a Manager
// pointed at it, along with the root for fixture-faking the kernel's
// overlay-application side effects.
func newTestManager(t *testing.T, hw model.HardwareInventory) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "overlays"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "device_tree"), fdt.EncodeBaseline(hw), 0644))

	lockPath := filepath.Join(t.TempDir(), "kerf.lock")
	return NewAt(root, lockPath), root
}

// seedTransaction emulates the kernel module: whenever WriteOverlay
// would be called by applyOverlay, the kernel creates the next tx_<N>
// directory with the written blob and a status file. Since this test
// suite has no real kernel module backing overlays/new, it drives
// applyOverlay's effect directly by pre-seeding the transaction the
// production code expects to find after its write.
func seedTransaction(t *testing.T, root string, txID string, blob []byte, status string) {
	t.Helper()
	dir := filepath.Join(root, "overlays", "tx_"+txID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dtbo"), blob, 0644))
	if status != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0644))
	}
}

func TestReadCurrentStateNoOverlays(t *testing.T) {
	hw := fakeHardware()
	mgr, _ := newTestManager(t, hw)

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	require.True(t, tree.Hardware.Equal(hw))
	require.Empty(t, tree.Instances)
}

func TestReadCurrentStateMergesOverlays(t *testing.T) {
	hw := fakeHardware()
	mgr, root := newTestManager(t, hw)

	inst := model.Instance{
		Name: "web",
		ID:   1,
		Resources: model.InstanceResources{
			CPUs:        []int{2, 3},
			MemoryBase:  hw.Memory.MemoryPoolBase,
			MemoryBytes: 1 << 30,
		},
	}
	delta := &fdt.OverlayDelta{
		Creates:  map[string]model.Instance{"web": inst},
		Updates:  map[string]fdt.InstanceUpdate{},
		Removals: map[string]bool{},
	}
	seedTransaction(t, root, "0", fdt.EncodeOverlay(delta), "applied")

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	require.Len(t, tree.Instances, 1)
	require.Equal(t, []int{2, 3}, tree.Instances["web"].Resources.CPUs)
}

func TestApplyOperationCreatesInstance(t *testing.T) {
	hw := fakeHardware()
	mgr, root := newTestManager(t, hw)

	// Simulate the kernel's side of WriteOverlay: a background goroutine
	// isn't available here, so instead pre-compute what the op will
	// produce and seed the transaction the production code expects to
	// find via FindLatestTransaction immediately after WriteOverlay
	// returns. This requires the fake WriteOverlay target to exist.
	require.NoError(t, os.WriteFile(filepath.Join(root, "overlays", "new"), nil, 0644))

	op := func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		modified := current.Clone()
		modified.Instances["web"] = model.Instance{
			Name: "web",
			ID:   1,
			Resources: model.InstanceResources{
				CPUs:        []int{2, 3},
				MemoryBase:  hw.Memory.MemoryPoolBase,
				MemoryBytes: 1 << 30,
			},
		}
		return modified, nil
	}

	// WriteOverlay only requires the "new" file to exist and be
	// writable; it doesn't itself create the tx_<N> directory in this
	// fake (the real kernel module does). So seed tx_0 up front with a
	// status file: FindLatestTransaction will find it once WriteOverlay
	// has run, since overlays/new already has content and tx_0 already
	// exists ahead of time.
	current, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	modified, err := op(current)
	require.NoError(t, err)
	blob := fdt.EncodeOverlay(diffInstances(current.Instances, modified.Instances))
	seedTransaction(t, root, "0", blob, "applied")

	txID, err := mgr.ApplyOperation(context.Background(), op)
	require.NoError(t, err)
	require.Equal(t, "0", txID)

	tree, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	require.Contains(t, tree.Instances, "web")
}

func TestApplyOperationRejectsHardwareChange(t *testing.T) {
	hw := fakeHardware()
	mgr, root := newTestManager(t, hw)
	require.NoError(t, os.WriteFile(filepath.Join(root, "overlays", "new"), nil, 0644))

	op := func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		modified := current.Clone()
		modified.Hardware.CPUs.Total = 16
		return modified, nil
	}

	_, err := mgr.ApplyOperation(context.Background(), op)
	require.Error(t, err)
	kind, ok := kerferrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, kerferrors.KindValidation, kind)
}

func TestApplyOperationRejectsFailedStatus(t *testing.T) {
	hw := fakeHardware()
	mgr, root := newTestManager(t, hw)
	require.NoError(t, os.WriteFile(filepath.Join(root, "overlays", "new"), nil, 0644))

	op := func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		modified := current.Clone()
		modified.Instances["web"] = model.Instance{
			Name: "web",
			ID:   1,
			Resources: model.InstanceResources{
				CPUs:        []int{2, 3},
				MemoryBase:  hw.Memory.MemoryPoolBase,
				MemoryBytes: 1 << 30,
			},
		}
		return modified, nil
	}

	current, err := mgr.ReadCurrentState(context.Background())
	require.NoError(t, err)
	modified, err := op(current)
	require.NoError(t, err)
	blob := fdt.EncodeOverlay(diffInstances(current.Instances, modified.Instances))
	seedTransaction(t, root, "0", blob, "rejected")

	_, err = mgr.ApplyOperation(context.Background(), op)
	require.Error(t, err)
	kind, ok := kerferrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, kerferrors.KindKernelInterface, kind)
}

func TestRollbackRemovesTransaction(t *testing.T) {
	hw := fakeHardware()
	mgr, root := newTestManager(t, hw)
	seedTransaction(t, root, "0", fdt.EncodeOverlay(&fdt.OverlayDelta{
		Creates:  map[string]model.Instance{},
		Updates:  map[string]fdt.InstanceUpdate{},
		Removals: map[string]bool{},
	}), "applied")

	require.NoError(t, mgr.Rollback("0"))

	_, err := os.Stat(filepath.Join(root, "overlays", "tx_0"))
	require.True(t, os.IsNotExist(err))
}

func TestListTransactions(t *testing.T) {
	hw := fakeHardware()
	mgr, root := newTestManager(t, hw)
	empty := &fdt.OverlayDelta{Creates: map[string]model.Instance{}, Updates: map[string]fdt.InstanceUpdate{}, Removals: map[string]bool{}}
	seedTransaction(t, root, "0", fdt.EncodeOverlay(empty), "applied")
	seedTransaction(t, root, "1", fdt.EncodeOverlay(empty), "applied")

	txs, err := mgr.ListTransactions()
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "0", txs[0].ID)
	require.Equal(t, "1", txs[1].ID)
}

func TestAcquireLockSerializesOperations(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "kerf.lock")
	lock, err := kernelfs.AcquireAt(lockPath)
	require.NoError(t, err)
	defer lock.Release()

	_, err = kernelfs.AcquireAt(lockPath)
	require.Error(t, err)
}
