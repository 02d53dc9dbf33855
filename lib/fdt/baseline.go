package fdt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
)

// DecodeBaseline decodes a baseline-dialect FDT blob into a
// HardwareInventory. Missing optional properties are tolerated; missing
// mandatory properties (memory-base, memory-bytes, cpus-available) fail
// with a ParseError.
func DecodeBaseline(data []byte) (model.HardwareInventory, error) {
	_, root, err := decodeRaw(data)
	if err != nil {
		return model.HardwareInventory{}, err
	}
	return decodeHardwareFromRoot(root)
}

// DecodeState decodes a state-dialect FDT blob (baseline merged with all
// overlays, emitted only for inspection/tests) into a GlobalDeviceTree.
func DecodeState(data []byte) (*model.GlobalDeviceTree, error) {
	_, root, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	hw, err := decodeHardwareFromRoot(root)
	if err != nil {
		return nil, err
	}
	tree := &model.GlobalDeviceTree{
		Hardware:         hw,
		Instances:        make(map[string]model.Instance),
		DeviceReferences: make(map[string]model.DeviceReference),
	}

	if instancesNode, ok := root.child("instances"); ok {
		for _, instNode := range instancesNode.Children {
			inst, err := decodeInstanceNode(instNode, instNode.Name)
			if err != nil {
				return nil, err
			}
			tree.Instances[inst.Name] = inst
		}
	}
	PopulateDeviceReferences(tree)
	return tree, nil
}

func decodeHardwareFromRoot(root *rawNode) (model.HardwareInventory, error) {
	resNode, ok := root.child("resources")
	if !ok {
		return model.HardwareInventory{}, kerferrors.New(kerferrors.KindParse, "baseline missing /resources node")
	}

	hw := model.HardwareInventory{}

	if b, ok := resNode.prop("cpus-total"); ok {
		v, err := decodeU32(b)
		if err != nil {
			return hw, err
		}
		hw.CPUs.Total = int(v)
	}
	if b, ok := resNode.prop("cpus-host-reserved"); ok {
		list, err := decodeU32List(b)
		if err != nil {
			return hw, err
		}
		hw.CPUs.HostReserved = list
	}
	availB, ok := resNode.prop("cpus-available")
	if !ok {
		return hw, kerferrors.New(kerferrors.KindParse, "baseline missing mandatory property cpus-available")
	}
	avail, err := decodeU32List(availB)
	if err != nil {
		return hw, err
	}
	hw.CPUs.Available = avail

	memBaseB, ok := resNode.prop("memory-base")
	if !ok {
		return hw, kerferrors.New(kerferrors.KindParse, "baseline missing mandatory property memory-base")
	}
	memBase, err := decodeU64(memBaseB)
	if err != nil {
		return hw, err
	}
	memBytesB, ok := resNode.prop("memory-bytes")
	if !ok {
		return hw, kerferrors.New(kerferrors.KindParse, "baseline missing mandatory property memory-bytes")
	}
	memBytes, err := decodeU64(memBytesB)
	if err != nil {
		return hw, err
	}
	hw.Memory.MemoryPoolBase = memBase
	hw.Memory.MemoryPoolBytes = memBytes

	if b, ok := resNode.prop("memory-total-bytes"); ok {
		v, err := decodeU64(b)
		if err != nil {
			return hw, err
		}
		hw.Memory.TotalBytes = v
	}
	if b, ok := resNode.prop("memory-host-reserved-bytes"); ok {
		v, err := decodeU64(b)
		if err != nil {
			return hw, err
		}
		hw.Memory.HostReservedByte = v
	}

	if topoNode, ok := resNode.child("topology"); ok {
		topo, err := decodeTopology(topoNode)
		if err != nil {
			return hw, err
		}
		hw.Topology = topo
	}

	if devicesNode, ok := resNode.child("devices"); ok {
		devices, err := decodeDevices(devicesNode)
		if err != nil {
			return hw, err
		}
		hw.Devices = devices
	}

	return hw, nil
}

func decodeTopology(topoNode *rawNode) (*model.Topology, error) {
	numaParent, ok := topoNode.child("numa-nodes")
	if !ok {
		return nil, nil
	}
	topo := &model.Topology{NUMANodes: make(map[int]model.NUMANode)}
	for _, nodeChild := range numaParent.Children {
		id, err := nodeID(nodeChild.Name)
		if err != nil {
			return nil, err
		}
		node := model.NUMANode{ID: id}
		if b, ok := nodeChild.prop("memory-base"); ok {
			v, err := decodeU64(b)
			if err != nil {
				return nil, err
			}
			node.MemoryBase = v
		}
		if b, ok := nodeChild.prop("memory-size"); ok {
			v, err := decodeU64(b)
			if err != nil {
				return nil, err
			}
			node.MemorySize = v
		}
		if b, ok := nodeChild.prop("cpus"); ok {
			list, err := decodeU32List(b)
			if err != nil {
				return nil, err
			}
			node.CPUs = list
		}
		if b, ok := nodeChild.prop("memory-type"); ok {
			node.MemoryType = model.MemoryType(decodeString(b))
		}
		if b, ok := nodeChild.prop("distance-matrix"); ok {
			list, err := decodeU32List(b)
			if err != nil {
				return nil, err
			}
			// Encoded as flattened (nodeID, distance) pairs.
			if len(list)%2 == 0 {
				node.DistanceMatrix = make(map[int]int, len(list)/2)
				for i := 0; i < len(list); i += 2 {
					node.DistanceMatrix[list[i]] = list[i+1]
				}
			}
		}
		topo.NUMANodes[id] = node
	}
	return topo, nil
}

// nodeID parses the "@N" suffix off a unit-address node name like
// "node@3".
func nodeID(name string) (int, error) {
	parts := strings.SplitN(name, "@", 2)
	if len(parts) != 2 {
		return 0, kerferrors.New(kerferrors.KindParse, "malformed unit-address node name %q", name)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, kerferrors.Wrap(kerferrors.KindParse, err, "malformed unit-address node name %q", name)
	}
	return id, nil
}

func decodeDevices(devicesNode *rawNode) (map[string]model.DeviceInfo, error) {
	devices := make(map[string]model.DeviceInfo, len(devicesNode.Children))
	for _, devNode := range devicesNode.Children {
		dev := model.DeviceInfo{Name: devNode.Name}
		if b, ok := devNode.prop("compatible"); ok {
			dev.Compatible = decodeString(b)
		}
		if b, ok := devNode.prop("pci-id"); ok {
			dev.PCIID = decodeString(b)
		}
		if b, ok := devNode.prop("vendor-id"); ok {
			dev.VendorID = decodeString(b)
		}
		if b, ok := devNode.prop("device-id"); ok {
			dev.DeviceID = decodeString(b)
		}
		if b, ok := devNode.prop("sriov-vfs"); ok {
			v, err := decodeU32(b)
			if err != nil {
				return nil, err
			}
			dev.SRIOVVFs = int(v)
		}
		if b, ok := devNode.prop("host-reserved-vf"); ok {
			v, err := decodeU32(b)
			if err != nil {
				return nil, err
			}
			dev.HostReservedVF = int(v)
		}
		if b, ok := devNode.prop("available-vfs"); ok {
			list, err := decodeU32List(b)
			if err != nil {
				return nil, err
			}
			dev.AvailableVFs = intSetFromList(list)
		}
		if b, ok := devNode.prop("namespaces"); ok {
			v, err := decodeU32(b)
			if err != nil {
				return nil, err
			}
			dev.Namespaces = int(v)
		}
		if b, ok := devNode.prop("host-reserved-ns"); ok {
			v, err := decodeU32(b)
			if err != nil {
				return nil, err
			}
			dev.HostReservedNS = int(v)
		}
		if b, ok := devNode.prop("available-ns"); ok {
			list, err := decodeU32List(b)
			if err != nil {
				return nil, err
			}
			dev.AvailableNS = intSetFromList(list)
		}
		devices[devNode.Name] = dev
	}
	return devices, nil
}

func intSetFromList(list []int) map[int]bool {
	set := make(map[int]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

func intSetToSortedList(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// EncodeBaseline emits a baseline-dialect FDT blob from a
// HardwareInventory.
func EncodeBaseline(hw model.HardwareInventory) []byte {
	root := &rawNode{Name: ""}
	root.addProp("compatible", encodeString(CompatibleBaseline))

	resNode := &rawNode{Name: "resources"}
	resNode.addProp("cpus-total", encodeU32(uint32(hw.CPUs.Total)))
	resNode.addProp("cpus-host-reserved", encodeU32List(hw.CPUs.HostReserved))
	resNode.addProp("cpus-available", encodeU32List(hw.CPUs.Available))
	resNode.addProp("memory-base", encodeU64(hw.Memory.MemoryPoolBase))
	resNode.addProp("memory-bytes", encodeU64(hw.Memory.MemoryPoolBytes))
	resNode.addProp("memory-total-bytes", encodeU64(hw.Memory.TotalBytes))
	resNode.addProp("memory-host-reserved-bytes", encodeU64(hw.Memory.HostReservedByte))

	if hw.Topology != nil {
		resNode.addChild(encodeTopology(hw.Topology))
	}
	if len(hw.Devices) > 0 {
		resNode.addChild(encodeDevices(hw.Devices))
	}

	root.addChild(resNode)
	return assembleBlob(root)
}

func encodeTopology(topo *model.Topology) *rawNode {
	topoNode := &rawNode{Name: "topology"}
	numaParent := &rawNode{Name: "numa-nodes"}
	ids := make([]int, 0, len(topo.NUMANodes))
	for id := range topo.NUMANodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		node := topo.NUMANodes[id]
		n := &rawNode{Name: fmt.Sprintf("node@%d", id)}
		n.addProp("memory-base", encodeU64(node.MemoryBase))
		n.addProp("memory-size", encodeU64(node.MemorySize))
		n.addProp("cpus", encodeU32List(node.CPUs))
		if node.MemoryType != "" {
			n.addProp("memory-type", encodeString(string(node.MemoryType)))
		}
		if len(node.DistanceMatrix) > 0 {
			keys := make([]int, 0, len(node.DistanceMatrix))
			for k := range node.DistanceMatrix {
				keys = append(keys, k)
			}
			sort.Ints(keys)
			flat := make([]int, 0, len(keys)*2)
			for _, k := range keys {
				flat = append(flat, k, node.DistanceMatrix[k])
			}
			n.addProp("distance-matrix", encodeU32List(flat))
		}
		numaParent.addChild(n)
	}
	topoNode.addChild(numaParent)
	return topoNode
}

func encodeDevices(devices map[string]model.DeviceInfo) *rawNode {
	devicesNode := &rawNode{Name: "devices"}
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dev := devices[name]
		n := &rawNode{Name: name}
		n.addProp("compatible", encodeString(dev.Compatible))
		if dev.PCIID != "" {
			n.addProp("pci-id", encodeString(dev.PCIID))
		}
		if dev.VendorID != "" {
			n.addProp("vendor-id", encodeString(dev.VendorID))
		}
		if dev.DeviceID != "" {
			n.addProp("device-id", encodeString(dev.DeviceID))
		}
		if dev.SRIOVVFs > 0 {
			n.addProp("sriov-vfs", encodeU32(uint32(dev.SRIOVVFs)))
			n.addProp("host-reserved-vf", encodeU32(uint32(dev.HostReservedVF)))
			n.addProp("available-vfs", encodeU32List(intSetToSortedList(dev.AvailableVFs)))
		}
		if dev.Namespaces > 0 {
			n.addProp("namespaces", encodeU32(uint32(dev.Namespaces)))
			n.addProp("host-reserved-ns", encodeU32(uint32(dev.HostReservedNS)))
			n.addProp("available-ns", encodeU32List(intSetToSortedList(dev.AvailableNS)))
		}
		devicesNode.addChild(n)
	}
	return devicesNode
}

// PopulateDeviceReferences mints a stable reference token for every
// available VF and namespace slot across all devices in the hardware
// inventory, in the form "<device>_vf<N>" / "<device>_ns<N>".
func PopulateDeviceReferences(tree *model.GlobalDeviceTree) {
	for name, dev := range tree.Hardware.Devices {
		for vf := range dev.AvailableVFs {
			ref := fmt.Sprintf("%s_vf%d", name, vf)
			v := vf
			tree.DeviceReferences[ref] = model.DeviceReference{Parent: name, VFID: &v}
		}
		for ns := range dev.AvailableNS {
			ref := fmt.Sprintf("%s_ns%d", name, ns)
			v := ns
			tree.DeviceReferences[ref] = model.DeviceReference{Parent: name, NamespaceID: &v}
		}
	}
}
