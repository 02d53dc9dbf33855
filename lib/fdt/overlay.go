package fdt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
)

// OverlayDelta is the decoded form of an overlay-dialect blob: a set of
// instance-create, instance-update, and instance-remove fragments. Each
// instance name appears in at most one of the three maps.
type OverlayDelta struct {
	Creates  map[string]model.Instance
	Updates  map[string]InstanceUpdate
	Removals map[string]bool
}

// InstanceUpdate captures an instance-update fragment's before/after
// resource state plus the four ordered resource-delta subsections that
// produced it (memory-remove, memory-add, cpu-remove, cpu-add), kept so
// EncodeOverlay can re-emit the exact ordering mandated by the dialect.
type InstanceUpdate struct {
	Old, New model.Instance

	MemoryRemove *MemoryDelta
	MemoryAdd    *MemoryDelta
	CPURemove    []int
	CPUAdd       []int
}

// MemoryDelta describes a contiguous memory region added to or removed
// from an instance during an update.
type MemoryDelta struct {
	Base  uint64
	Bytes uint64
}

func newOverlayDelta() *OverlayDelta {
	return &OverlayDelta{
		Creates:  make(map[string]model.Instance),
		Updates:  make(map[string]InstanceUpdate),
		Removals: make(map[string]bool),
	}
}

// isOverlayRoot reports whether a decoded raw tree is the overlay dialect:
// either its root declares the overlay compatible string, or (robustness
// fallback per the dialect's informal detection rule) it has at least
// one fragment@N child and no resources node of its own.
func isOverlayRoot(root *rawNode) bool {
	if b, ok := root.prop("compatible"); ok {
		if decodeString(b) == CompatibleOverlay {
			return true
		}
	}
	if _, hasResources := root.child("resources"); hasResources {
		return false
	}
	for _, c := range root.Children {
		if strings.HasPrefix(c.Name, "fragment@") {
			return true
		}
	}
	return false
}

// DecodeOverlay decodes an overlay-dialect FDT blob into an OverlayDelta.
func DecodeOverlay(data []byte) (*OverlayDelta, error) {
	_, root, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	if !isOverlayRoot(root) {
		return nil, kerferrors.New(kerferrors.KindParse, "blob is not an overlay: missing fragment@N nodes")
	}

	type indexedFragment struct {
		index int
		node  *rawNode
	}
	var fragments []indexedFragment
	for _, c := range root.Children {
		if !strings.HasPrefix(c.Name, "fragment@") {
			continue
		}
		idx, err := nodeID(c.Name)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, indexedFragment{idx, c})
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].index < fragments[j].index })

	delta := newOverlayDelta()
	for _, f := range fragments {
		overlayNode, ok := f.node.child("__overlay__")
		if !ok {
			return nil, kerferrors.New(kerferrors.KindParse, "fragment@%d missing __overlay__ node", f.index)
		}
		if err := decodeFragment(overlayNode, delta); err != nil {
			return nil, err
		}
	}
	return delta, nil
}

func decodeFragment(overlayNode *rawNode, delta *OverlayDelta) error {
	if createNode, ok := overlayNode.child("instance-create"); ok {
		name := createNode.Name
		if b, ok := createNode.prop("instance-name"); ok {
			name = decodeString(b)
		}
		inst, err := decodeInstanceNode(createNode, name)
		if err != nil {
			return err
		}
		delta.Creates[inst.Name] = inst
		return nil
	}
	if removeNode, ok := overlayNode.child("instance-remove"); ok {
		name := removeNode.Name
		if b, ok := removeNode.prop("name"); ok {
			name = decodeString(b)
		}
		delta.Removals[name] = true
		return nil
	}
	if updateNode, ok := overlayNode.child("instance-update"); ok {
		upd, err := decodeInstanceUpdateNode(updateNode)
		if err != nil {
			return err
		}
		name := updateNode.Name
		if b, ok := updateNode.prop("instance-name"); ok {
			name = decodeString(b)
		}
		delta.Updates[name] = upd
		return nil
	}
	return kerferrors.New(kerferrors.KindParse, "overlay fragment has no instance-create, instance-update, or instance-remove node")
}

// decodeInstanceNode decodes the full resource description for an
// instance, used both for top-level state-dialect instances and
// instance-create fragments.
func decodeInstanceNode(n *rawNode, name string) (model.Instance, error) {
	inst := model.Instance{Name: name, Options: make(map[string]bool)}

	if b, ok := n.prop("id"); ok {
		v, err := decodeU32(b)
		if err != nil {
			return inst, err
		}
		inst.ID = int(v)
	}
	if b, ok := n.prop("cpus"); ok {
		list, err := decodeU32List(b)
		if err != nil {
			return inst, err
		}
		inst.Resources.CPUs = list
	}
	if b, ok := n.prop("memory-base"); ok {
		v, err := decodeU64(b)
		if err != nil {
			return inst, err
		}
		inst.Resources.MemoryBase = v
	}
	if b, ok := n.prop("memory-bytes"); ok {
		v, err := decodeU64(b)
		if err != nil {
			return inst, err
		}
		inst.Resources.MemoryBytes = v
	}
	if b, ok := n.prop("device-names"); ok {
		names, err := decodeDeviceNames(b)
		if err != nil {
			return inst, err
		}
		inst.Resources.Devices = names
	}
	if b, ok := n.prop("numa-nodes"); ok {
		list, err := decodeU32List(b)
		if err != nil {
			return inst, err
		}
		inst.Resources.NUMANodes = list
	}
	if b, ok := n.prop("cpu-affinity"); ok {
		inst.Resources.CPUAffinity = model.Affinity(decodeString(b))
	}
	if b, ok := n.prop("memory-policy"); ok {
		inst.Resources.MemoryPolicy = model.MemoryPolicy(decodeString(b))
	}
	if optNode, ok := n.child("options"); ok {
		for _, p := range optNode.Props {
			v, err := decodeU32(p.Value)
			if err != nil {
				return inst, err
			}
			inst.Options[p.Name] = v != 0
		}
	}
	if cfgNode, ok := n.child("config"); ok {
		cfg, err := decodeInstanceConfig(cfgNode)
		if err != nil {
			return inst, err
		}
		inst.Config = cfg
	}
	return inst, nil
}

func decodeInstanceConfig(n *rawNode) (*model.InstanceConfig, error) {
	cfg := &model.InstanceConfig{}
	if b, ok := n.prop("workload-type"); ok {
		cfg.WorkloadType = model.WorkloadType(decodeString(b))
	}
	if b, ok := n.prop("priority"); ok {
		v, err := decodeU32(b)
		if err != nil {
			return nil, err
		}
		iv := int(v)
		cfg.Priority = &iv
	}
	if b, ok := n.prop("timeout"); ok {
		v, err := decodeU32(b)
		if err != nil {
			return nil, err
		}
		iv := int(v)
		cfg.Timeout = &iv
	}
	if b, ok := n.prop("enable-pgo"); ok {
		v, err := decodeU32(b)
		if err != nil {
			return nil, err
		}
		bv := v != 0
		cfg.EnablePGO = &bv
	}
	if b, ok := n.prop("pgo-profile"); ok {
		s := decodeString(b)
		cfg.PGOProfile = &s
	}
	if b, ok := n.prop("enable-numa"); ok {
		v, err := decodeU32(b)
		if err != nil {
			return nil, err
		}
		bv := v != 0
		cfg.EnableNUMA = &bv
	}
	return cfg, nil
}

// decodeInstanceUpdateNode decodes the four ordered, optional resource
// delta subsections of an instance-update node: memory-remove,
// memory-add, cpu-remove, cpu-add, in that fixed child order. Wire order
// alone encodes the required remove-before-add, memory-before-cpu
// sequencing; this function does not re-validate the order since the
// dialect's node names are unambiguous regardless of where they appear,
// but EncodeOverlay always emits them in this order.
func decodeInstanceUpdateNode(n *rawNode) (InstanceUpdate, error) {
	var upd InstanceUpdate

	if memRemove, ok := n.child("memory-remove"); ok {
		d, err := decodeMemoryDelta(memRemove)
		if err != nil {
			return upd, err
		}
		upd.MemoryRemove = d
	}
	if memAdd, ok := n.child("memory-add"); ok {
		d, err := decodeMemoryDelta(memAdd)
		if err != nil {
			return upd, err
		}
		upd.MemoryAdd = d
	}
	if cpuRemove, ok := n.child("cpu-remove"); ok {
		if b, ok := cpuRemove.prop("cpus"); ok {
			list, err := decodeU32List(b)
			if err != nil {
				return upd, err
			}
			upd.CPURemove = list
		}
	}
	if cpuAdd, ok := n.child("cpu-add"); ok {
		if b, ok := cpuAdd.prop("cpus"); ok {
			list, err := decodeU32List(b)
			if err != nil {
				return upd, err
			}
			upd.CPUAdd = list
		}
	}
	return upd, nil
}

func decodeMemoryDelta(n *rawNode) (*MemoryDelta, error) {
	d := &MemoryDelta{}
	if b, ok := n.prop("memory-base"); ok {
		v, err := decodeU64(b)
		if err != nil {
			return nil, err
		}
		d.Base = v
	}
	if b, ok := n.prop("memory-bytes"); ok {
		v, err := decodeU64(b)
		if err != nil {
			return nil, err
		}
		d.Bytes = v
	}
	return d, nil
}

// EncodeOverlay emits an overlay-dialect FDT blob from a delta. Fragments
// are emitted creates-and-updates-first then removals, with sequential
// indices starting at zero, per the encoder contract: an overlay is
// always applied against a known-current state, so creates/updates are
// safe to apply before the removals that might free resources they
// reuse only when the consumer processes fragments in order.
func EncodeOverlay(delta *OverlayDelta) []byte {
	root := &rawNode{Name: ""}
	root.addProp("compatible", encodeString(CompatibleOverlay))

	idx := 0
	addFragment := func(build func() *rawNode) {
		frag := &rawNode{Name: fmt.Sprintf("fragment@%d", idx)}
		overlay := build()
		overlay.Name = "__overlay__"
		frag.addChild(overlay)
		root.addChild(frag)
		idx++
	}

	names := make([]string, 0, len(delta.Creates))
	for name := range delta.Creates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		inst := delta.Creates[name]
		addFragment(func() *rawNode {
			overlay := &rawNode{}
			create := encodeInstanceNode(inst)
			create.Name = "instance-create"
			create.addProp("instance-name", encodeString(name))
			overlay.addChild(create)
			return overlay
		})
	}

	updNames := make([]string, 0, len(delta.Updates))
	for name := range delta.Updates {
		updNames = append(updNames, name)
	}
	sort.Strings(updNames)
	for _, name := range updNames {
		upd := delta.Updates[name]
		addFragment(func() *rawNode {
			overlay := &rawNode{}
			update := &rawNode{Name: "instance-update"}
			update.addProp("instance-name", encodeString(name))
			if upd.MemoryRemove != nil {
				update.addChild(encodeMemoryDelta("memory-remove", *upd.MemoryRemove))
			}
			if upd.MemoryAdd != nil {
				update.addChild(encodeMemoryDelta("memory-add", *upd.MemoryAdd))
			}
			if len(upd.CPURemove) > 0 {
				n := &rawNode{Name: "cpu-remove"}
				n.addProp("cpus", encodeU32List(upd.CPURemove))
				update.addChild(n)
			}
			if len(upd.CPUAdd) > 0 {
				n := &rawNode{Name: "cpu-add"}
				n.addProp("cpus", encodeU32List(upd.CPUAdd))
				update.addChild(n)
			}
			overlay.addChild(update)
			return overlay
		})
	}

	removeNames := make([]string, 0, len(delta.Removals))
	for name := range delta.Removals {
		removeNames = append(removeNames, name)
	}
	sort.Strings(removeNames)
	for _, name := range removeNames {
		n := name
		addFragment(func() *rawNode {
			overlay := &rawNode{}
			remove := &rawNode{Name: "instance-remove"}
			remove.addProp("name", encodeString(n))
			overlay.addChild(remove)
			return overlay
		})
	}

	return assembleBlob(root)
}

func encodeMemoryDelta(name string, d MemoryDelta) *rawNode {
	n := &rawNode{Name: name}
	n.addProp("memory-base", encodeU64(d.Base))
	n.addProp("memory-bytes", encodeU64(d.Bytes))
	return n
}

// encodeInstanceNode is the mirror of decodeInstanceNode, used by both
// instance-create fragments and state-dialect instance emission.
func encodeInstanceNode(inst model.Instance) *rawNode {
	n := &rawNode{Name: inst.Name}
	n.addProp("id", encodeU32(uint32(inst.ID)))
	n.addProp("cpus", encodeU32List(inst.Resources.CPUs))
	n.addProp("memory-base", encodeU64(inst.Resources.MemoryBase))
	n.addProp("memory-bytes", encodeU64(inst.Resources.MemoryBytes))
	if len(inst.Resources.Devices) > 0 {
		n.addProp("device-names", encodeDeviceNames(inst.Resources.Devices))
	}
	if len(inst.Resources.NUMANodes) > 0 {
		n.addProp("numa-nodes", encodeU32List(inst.Resources.NUMANodes))
	}
	if inst.Resources.CPUAffinity != "" {
		n.addProp("cpu-affinity", encodeString(string(inst.Resources.CPUAffinity)))
	}
	if inst.Resources.MemoryPolicy != "" {
		n.addProp("memory-policy", encodeString(string(inst.Resources.MemoryPolicy)))
	}
	if len(inst.Options) > 0 {
		optNode := &rawNode{Name: "options"}
		keys := make([]string, 0, len(inst.Options))
		for k := range inst.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := uint32(0)
			if inst.Options[k] {
				v = 1
			}
			optNode.addProp(k, encodeU32(v))
		}
		n.addChild(optNode)
	}
	if inst.Config != nil {
		n.addChild(encodeInstanceConfig(inst.Config))
	}
	return n
}

func encodeInstanceConfig(cfg *model.InstanceConfig) *rawNode {
	n := &rawNode{Name: "config"}
	if cfg.WorkloadType != "" {
		n.addProp("workload-type", encodeString(string(cfg.WorkloadType)))
	}
	if cfg.Priority != nil {
		n.addProp("priority", encodeU32(uint32(*cfg.Priority)))
	}
	if cfg.Timeout != nil {
		n.addProp("timeout", encodeU32(uint32(*cfg.Timeout)))
	}
	if cfg.EnablePGO != nil {
		n.addProp("enable-pgo", encodeU32(boolU32(*cfg.EnablePGO)))
	}
	if cfg.PGOProfile != nil {
		n.addProp("pgo-profile", encodeString(*cfg.PGOProfile))
	}
	if cfg.EnableNUMA != nil {
		n.addProp("enable-numa", encodeU32(boolU32(*cfg.EnableNUMA)))
	}
	return n
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
