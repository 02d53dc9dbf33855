// Package runtime implements the transactional overlay protocol: read
// the kernel's current effective state, apply an imperative operation
// to produce a modified state, validate it, diff it against the
// current state as an overlay, and write that overlay back to the
// kernel under the host-wide lock.
package runtime

import (
	"context"
	"fmt"

	"github.com/nrednav/cuid2"

	"github.com/multikernel/kerf-sub000/lib/fdt"
	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/kernelfs"
	"github.com/multikernel/kerf-sub000/lib/logger"
	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/validator"
)

// Operation transforms a current effective state into a modified one.
// It must not mutate current in place; GlobalDeviceTree.Clone exists
// for this purpose. Implementations should return a kerferrors.Error
// for any domain-level failure (instance already exists, resource
// exhaustion, and so on).
type Operation func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error)

// Manager drives the read/modify/validate/apply overlay cycle against
// one multikernel pseudo-filesystem.
type Manager struct {
	fs       *kernelfs.FS
	lockPath string
}

// New returns a Manager against the real multikernel mount.
func New() *Manager {
	return &Manager{fs: kernelfs.Default(), lockPath: kernelfs.LockPath()}
}

// NewAt returns a Manager rooted at an arbitrary directory and lock
// file, for tests driving a fake kernel filesystem.
func NewAt(root, lockPath string) *Manager {
	return &Manager{fs: kernelfs.New(root), lockPath: lockPath}
}

// ReadBaseline reads and decodes the baseline hardware inventory.
func (m *Manager) ReadBaseline() (model.HardwareInventory, error) {
	data, err := m.fs.ReadBaseline()
	if err != nil {
		return model.HardwareInventory{}, err
	}
	return fdt.DecodeBaseline(data)
}

// ReadCurrentState reconstructs the effective state: baseline hardware
// plus every instance from every applied overlay, merged in
// ascending transaction order. Overlays are expected never to touch
// hardware; this is enforced when overlays are written, not when
// they're read back.
func (m *Manager) ReadCurrentState(ctx context.Context) (*model.GlobalDeviceTree, error) {
	hw, err := m.ReadBaseline()
	if err != nil {
		return nil, err
	}

	tree := &model.GlobalDeviceTree{
		Hardware:         hw,
		Instances:        make(map[string]model.Instance),
		DeviceReferences: make(map[string]model.DeviceReference),
	}

	txs, err := m.fs.ReadAppliedOverlays(ctx)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		delta, err := fdt.DecodeOverlay(tx.DTBO)
		if err != nil {
			// A transaction whose DTBO fails to parse is skipped rather
			// than failing state reconstruction outright, mirroring the
			// tolerant merge behavior transactions are read with.
			continue
		}
		applyDelta(tree, delta)
	}

	fdt.PopulateDeviceReferences(tree)
	return tree, nil
}

func applyDelta(tree *model.GlobalDeviceTree, delta *fdt.OverlayDelta) {
	for name, inst := range delta.Creates {
		tree.Instances[name] = inst
	}
	for name, upd := range delta.Updates {
		inst, ok := tree.Instances[name]
		if !ok {
			continue
		}
		applyInstanceUpdate(&inst, upd)
		tree.Instances[name] = inst
	}
	for name := range delta.Removals {
		delete(tree.Instances, name)
	}
}

func applyInstanceUpdate(inst *model.Instance, upd fdt.InstanceUpdate) {
	if upd.MemoryRemove != nil && inst.Resources.MemoryBase == upd.MemoryRemove.Base {
		inst.Resources.MemoryBytes -= upd.MemoryRemove.Bytes
	}
	if upd.MemoryAdd != nil {
		inst.Resources.MemoryBase = upd.MemoryAdd.Base
		inst.Resources.MemoryBytes += upd.MemoryAdd.Bytes
	}
	if len(upd.CPURemove) > 0 {
		remove := make(map[int]bool, len(upd.CPURemove))
		for _, c := range upd.CPURemove {
			remove[c] = true
		}
		var kept []int
		for _, c := range inst.Resources.CPUs {
			if !remove[c] {
				kept = append(kept, c)
			}
		}
		inst.Resources.CPUs = kept
	}
	if len(upd.CPUAdd) > 0 {
		inst.Resources.CPUs = append(inst.Resources.CPUs, upd.CPUAdd...)
	}
}

// ApplyOperation runs the full transactional cycle: acquire the
// host-wide lock, read current state, run op, validate the result,
// diff it into an overlay, write the overlay, and verify the kernel
// accepted it. It returns the transaction ID the kernel assigned. Every
// call gets its own correlation ID attached to the log lines spanning
// acquire through verify, so a single apply's lifecycle can be grepped
// out of the log even when operations run back to back.
func (m *Manager) ApplyOperation(ctx context.Context, op Operation) (string, error) {
	corrID := cuid2.Generate()
	log := logger.FromContext(ctx).With("correlation_id", corrID)
	log.Info("apply operation: acquiring lock")

	lock, err := kernelfs.AcquireAt(m.lockPath)
	if err != nil {
		log.Error("apply operation: lock acquisition failed", "error", err)
		return "", err
	}
	defer lock.Release()

	current, err := m.ReadCurrentState(ctx)
	if err != nil {
		log.Error("apply operation: read current state failed", "error", err)
		return "", err
	}

	modified, err := op(current)
	if err != nil {
		log.Error("apply operation: operation failed", "error", err)
		return "", err
	}

	txID, err := m.applyOverlay(current, modified)
	if err != nil {
		log.Error("apply operation: overlay application failed", "error", err)
		return "", err
	}
	log.Info("apply operation: committed", "transaction_id", txID)
	return txID, nil
}

func (m *Manager) applyOverlay(current, modified *model.GlobalDeviceTree) (string, error) {
	if !current.Hardware.Equal(modified.Hardware) {
		return "", kerferrors.New(kerferrors.KindValidation, "overlays cannot modify hardware resources; use baseline update to change resources")
	}

	result := validator.New().Validate(modified)
	if !result.OK {
		msg := fmt.Sprintf("cannot apply overlay with invalid state: %v", result.Errors)
		if len(result.Suggestions) > 0 {
			msg = fmt.Sprintf("%s (suggestions: %v)", msg, result.Suggestions)
		}
		return "", kerferrors.New(kerferrors.KindValidation, "%s", msg)
	}

	delta := diffInstances(current.Instances, modified.Instances)
	blob := fdt.EncodeOverlay(delta)

	if err := m.fs.WriteOverlay(blob); err != nil {
		return "", err
	}

	txID, err := m.fs.FindLatestTransaction()
	if err != nil {
		return "", err
	}

	status, instance, err := m.fs.ReadTransactionStatus(txID)
	if err != nil {
		return "", err
	}
	if status != "" && status != "applied" && status != "success" && status != "ok" {
		if instance != "" {
			return "", kerferrors.New(kerferrors.KindKernelInterface, "overlay transaction %s failed with status %q (instance: %s)", txID, status, instance)
		}
		return "", kerferrors.New(kerferrors.KindKernelInterface, "overlay transaction %s failed with status %q", txID, status)
	}

	return txID, nil
}

// diffInstances computes the overlay delta between two instance sets:
// names present only in modified are creates, names present only in
// current are removals, and names present in both with different
// resources are updates.
func diffInstances(current, modified map[string]model.Instance) *fdt.OverlayDelta {
	delta := &fdt.OverlayDelta{
		Creates:  make(map[string]model.Instance),
		Updates:  make(map[string]fdt.InstanceUpdate),
		Removals: make(map[string]bool),
	}

	for name, inst := range modified {
		old, existed := current[name]
		if !existed {
			delta.Creates[name] = inst
			continue
		}
		if upd, changed := diffInstance(old, inst); changed {
			delta.Updates[name] = upd
		}
	}
	for name := range current {
		if _, stillExists := modified[name]; !stillExists {
			delta.Removals[name] = true
		}
	}

	return delta
}

// diffInstance computes the four-subsection resource delta between an
// instance's old and new resource allotment.
func diffInstance(old, newInst model.Instance) (fdt.InstanceUpdate, bool) {
	upd := fdt.InstanceUpdate{Old: old, New: newInst}
	changed := false

	if old.Resources.MemoryBase != newInst.Resources.MemoryBase || old.Resources.MemoryBytes != newInst.Resources.MemoryBytes {
		if old.Resources.MemoryBytes > 0 {
			upd.MemoryRemove = &fdt.MemoryDelta{Base: old.Resources.MemoryBase, Bytes: old.Resources.MemoryBytes}
		}
		if newInst.Resources.MemoryBytes > 0 {
			upd.MemoryAdd = &fdt.MemoryDelta{Base: newInst.Resources.MemoryBase, Bytes: newInst.Resources.MemoryBytes}
		}
		changed = true
	}

	oldSet := make(map[int]bool, len(old.Resources.CPUs))
	for _, c := range old.Resources.CPUs {
		oldSet[c] = true
	}
	newSet := make(map[int]bool, len(newInst.Resources.CPUs))
	for _, c := range newInst.Resources.CPUs {
		newSet[c] = true
	}
	for _, c := range old.Resources.CPUs {
		if !newSet[c] {
			upd.CPURemove = append(upd.CPURemove, c)
			changed = true
		}
	}
	for _, c := range newInst.Resources.CPUs {
		if !oldSet[c] {
			upd.CPUAdd = append(upd.CPUAdd, c)
			changed = true
		}
	}

	return upd, changed
}

// Rollback removes a transaction's overlay directory, reverting its
// effect.
func (m *Manager) Rollback(txID string) error {
	return m.fs.RemoveTransaction(txID)
}

// ListTransactions returns every applied transaction's status metadata,
// in ascending transaction-ID order.
func (m *Manager) ListTransactions() ([]kernelfs.Transaction, error) {
	ids, err := m.fs.ListTransactionIDs()
	if err != nil {
		return nil, err
	}
	out := make([]kernelfs.Transaction, 0, len(ids))
	for _, id := range ids {
		status, instance, err := m.fs.ReadTransactionStatus(id)
		if err != nil {
			return nil, err
		}
		out = append(out, kernelfs.Transaction{ID: id, Status: status, Instance: instance})
	}
	return out, nil
}
