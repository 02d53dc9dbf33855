package fdt

import (
	"sort"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
)

// Dialect identifies which of the three FDT dialects a blob is.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectBaseline
	DialectState
	DialectOverlay
)

// DetectDialect inspects a blob's root node to classify it without
// committing to a full decode. Overlay is detected first since its
// fragment@N shape is unambiguous; baseline and state are both rooted at
// a resources node and are distinguished only by the presence of an
// instances node, which only the state dialect carries.
func DetectDialect(data []byte) (Dialect, error) {
	_, root, err := decodeRaw(data)
	if err != nil {
		return DialectUnknown, err
	}
	if isOverlayRoot(root) {
		return DialectOverlay, nil
	}
	if _, ok := root.child("resources"); !ok {
		return DialectUnknown, kerferrors.New(kerferrors.KindParse, "FDT root has neither a resources node nor fragment@N children")
	}
	if _, ok := root.child("instances"); ok {
		return DialectState, nil
	}
	return DialectBaseline, nil
}

// EncodeState emits a state-dialect FDT blob: the hardware inventory
// plus every currently-applied instance, for inspection and testing.
// This dialect is never written back to the kernel, so it carries no
// compatible string distinguishing it from a plain baseline at the root
// beyond the presence of the instances node consulted by DetectDialect.
func EncodeState(tree *model.GlobalDeviceTree) []byte {
	root := &rawNode{Name: ""}
	root.addProp("compatible", encodeString(CompatibleBaseline))

	resNode := &rawNode{Name: "resources"}
	resNode.addProp("cpus-total", encodeU32(uint32(tree.Hardware.CPUs.Total)))
	resNode.addProp("cpus-host-reserved", encodeU32List(tree.Hardware.CPUs.HostReserved))
	resNode.addProp("cpus-available", encodeU32List(tree.Hardware.CPUs.Available))
	resNode.addProp("memory-base", encodeU64(tree.Hardware.Memory.MemoryPoolBase))
	resNode.addProp("memory-bytes", encodeU64(tree.Hardware.Memory.MemoryPoolBytes))
	resNode.addProp("memory-total-bytes", encodeU64(tree.Hardware.Memory.TotalBytes))
	resNode.addProp("memory-host-reserved-bytes", encodeU64(tree.Hardware.Memory.HostReservedByte))
	if tree.Hardware.Topology != nil {
		resNode.addChild(encodeTopology(tree.Hardware.Topology))
	}
	if len(tree.Hardware.Devices) > 0 {
		resNode.addChild(encodeDevices(tree.Hardware.Devices))
	}
	root.addChild(resNode)

	if len(tree.Instances) > 0 {
		instancesNode := &rawNode{Name: "instances"}
		names := make([]string, 0, len(tree.Instances))
		for name := range tree.Instances {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			instancesNode.addChild(encodeInstanceNode(tree.Instances[name]))
		}
		root.addChild(instancesNode)
	}

	return assembleBlob(root)
}
