// Package model defines the in-memory representation of a multikernel
// host's hardware inventory, instance allocations, and the combined
// device tree built from them.
package model

// CPUAllocation describes the host's CPU inventory: total logical CPU
// count, the CPUs reserved for the host kernel, and the CPUs available
// for assignment to spawned instances.
type CPUAllocation struct {
	Total        int
	HostReserved []int
	Available    []int
}

// MemoryAllocation describes the host's memory inventory and the pool
// reserved for instance assignment.
type MemoryAllocation struct {
	TotalBytes       uint64
	HostReservedByte uint64
	MemoryPoolBase   uint64
	MemoryPoolBytes  uint64
}

// MemoryPoolEnd returns the exclusive end address of the memory pool.
func (m MemoryAllocation) MemoryPoolEnd() uint64 {
	return m.MemoryPoolBase + m.MemoryPoolBytes
}

// MemoryType identifies the kind of backing memory for a NUMA node.
type MemoryType string

const (
	MemoryDRAM MemoryType = "dram"
	MemoryHBM  MemoryType = "hbm"
	MemoryCXL  MemoryType = "cxl"
)

// NUMANode describes one node of the host's NUMA topology.
type NUMANode struct {
	ID         int
	MemoryBase uint64
	MemorySize uint64
	CPUs       []int
	MemoryType MemoryType
	// DistanceMatrix maps another node ID to the NUMA distance to it.
	// Informational; no invariant in this package depends on it.
	DistanceMatrix map[int]int
}

// Topology is the optional NUMA topology section of the hardware
// inventory.
type Topology struct {
	NUMANodes map[int]NUMANode
}

// CPUToNode returns an inverse CPU ID -> NUMA node ID lookup.
func (t *Topology) CPUToNode() map[int]int {
	out := make(map[int]int)
	if t == nil {
		return out
	}
	for id, node := range t.NUMANodes {
		for _, cpu := range node.CPUs {
			out[cpu] = id
		}
	}
	return out
}

// DeviceInfo describes one hardware device in the inventory: a NIC with
// SR-IOV virtual functions, an NVMe drive with namespaces, or a plain
// passthrough device.
type DeviceInfo struct {
	Name            string
	Compatible      string
	PCIID           string
	SRIOVVFs        int
	HostReservedVF  int
	AvailableVFs    map[int]bool
	Namespaces      int
	HostReservedNS  int
	AvailableNS     map[int]bool
	VendorID        string
	DeviceID        string
}

// HardwareInventory is the baseline-only description of host hardware:
// CPUs, the memory pool, optional NUMA topology, and devices.
type HardwareInventory struct {
	CPUs     CPUAllocation
	Memory   MemoryAllocation
	Topology *Topology
	Devices  map[string]DeviceInfo
}

// Equal reports whether two hardware inventories describe the same
// resources. Overlays must never change hardware, and this is the
// equality check the runtime uses to enforce that.
func (h HardwareInventory) Equal(o HardwareInventory) bool {
	if h.CPUs.Total != o.CPUs.Total {
		return false
	}
	if !intSliceEqual(h.CPUs.HostReserved, o.CPUs.HostReserved) {
		return false
	}
	if !intSliceEqual(h.CPUs.Available, o.CPUs.Available) {
		return false
	}
	if h.Memory != o.Memory {
		return false
	}
	if !topologyEqual(h.Topology, o.Topology) {
		return false
	}
	if len(h.Devices) != len(o.Devices) {
		return false
	}
	for name, dev := range h.Devices {
		other, ok := o.Devices[name]
		if !ok || !deviceEqual(dev, other) {
			return false
		}
	}
	return true
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func topologyEqual(a, b *Topology) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.NUMANodes) != len(b.NUMANodes) {
		return false
	}
	for id, na := range a.NUMANodes {
		nb, ok := b.NUMANodes[id]
		if !ok {
			return false
		}
		if na.MemoryBase != nb.MemoryBase || na.MemorySize != nb.MemorySize || na.MemoryType != nb.MemoryType {
			return false
		}
		if !intSliceEqual(na.CPUs, nb.CPUs) {
			return false
		}
	}
	return true
}

func deviceEqual(a, b DeviceInfo) bool {
	if a.Name != b.Name || a.Compatible != b.Compatible || a.PCIID != b.PCIID {
		return false
	}
	if a.SRIOVVFs != b.SRIOVVFs || a.HostReservedVF != b.HostReservedVF {
		return false
	}
	if a.Namespaces != b.Namespaces || a.HostReservedNS != b.HostReservedNS {
		return false
	}
	if a.VendorID != b.VendorID || a.DeviceID != b.DeviceID {
		return false
	}
	if !intBoolMapEqual(a.AvailableVFs, b.AvailableVFs) {
		return false
	}
	if !intBoolMapEqual(a.AvailableNS, b.AvailableNS) {
		return false
	}
	return true
}

func intBoolMapEqual(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Affinity is the policy describing how a CPU set relates to NUMA
// topology.
type Affinity string

const (
	AffinityCompact Affinity = "compact"
	AffinitySpread  Affinity = "spread"
	AffinityLocal   Affinity = "local"
)

// MemoryPolicy is the policy describing how a memory region relates to
// NUMA topology.
type MemoryPolicy string

const (
	MemoryPolicyLocal       MemoryPolicy = "local"
	MemoryPolicyInterleave  MemoryPolicy = "interleave"
	MemoryPolicyBind        MemoryPolicy = "bind"
)

// InstanceResources is the resource allotment of a single instance.
type InstanceResources struct {
	CPUs         []int
	MemoryBase   uint64
	MemoryBytes  uint64
	Devices      []string
	NUMANodes    []int
	CPUAffinity  Affinity
	MemoryPolicy MemoryPolicy
}

// WorkloadType is informational metadata about the kind of workload an
// instance runs. It carries no allocator or validator semantics.
type WorkloadType string

const (
	WorkloadWebServer    WorkloadType = "web-server"
	WorkloadDatabaseOLTP WorkloadType = "database-oltp"
	WorkloadCompute      WorkloadType = "compute"
	WorkloadStorage      WorkloadType = "storage"
	WorkloadNetwork      WorkloadType = "network"
)

// InstanceConfig is optional informational metadata attached to an
// instance at create time. No invariant in this module depends on it.
type InstanceConfig struct {
	WorkloadType WorkloadType
	Priority     *int
	Timeout      *int
	EnablePGO    *bool
	PGOProfile   *string
	EnableNUMA   *bool
}

// Instance is one kernel instance's metadata and resource allotment.
type Instance struct {
	Name      string
	ID        int
	Resources InstanceResources
	Options   map[string]bool
	Config    *InstanceConfig
}

// Clone returns a deep copy of the instance.
func (i Instance) Clone() Instance {
	cp := i
	cp.Resources.CPUs = append([]int(nil), i.Resources.CPUs...)
	cp.Resources.Devices = append([]string(nil), i.Resources.Devices...)
	cp.Resources.NUMANodes = append([]int(nil), i.Resources.NUMANodes...)
	if i.Options != nil {
		cp.Options = make(map[string]bool, len(i.Options))
		for k, v := range i.Options {
			cp.Options[k] = v
		}
	}
	if i.Config != nil {
		cfg := *i.Config
		cp.Config = &cfg
	}
	return cp
}

// DeviceReference describes one allocatable sub-unit token, e.g.
// "eth0_vf1" or "nvme0_ns2", resolved against a parent device.
type DeviceReference struct {
	Parent      string
	VFID        *int
	NamespaceID *int
}

// GlobalDeviceTree is the complete state: hardware inventory, the set of
// instances currently allocated, and the device reference tokens minted
// for VF/namespace access.
type GlobalDeviceTree struct {
	Hardware         HardwareInventory
	Instances        map[string]Instance
	DeviceReferences map[string]DeviceReference
}

// Clone returns a deep copy of the tree. Operations deep-copy and mutate
// the copy; GlobalDeviceTree is a value type.
func (t *GlobalDeviceTree) Clone() *GlobalDeviceTree {
	cp := &GlobalDeviceTree{
		Hardware:         t.Hardware,
		Instances:        make(map[string]Instance, len(t.Instances)),
		DeviceReferences: make(map[string]DeviceReference, len(t.DeviceReferences)),
	}
	if t.Hardware.Devices != nil {
		cp.Hardware.Devices = make(map[string]DeviceInfo, len(t.Hardware.Devices))
		for k, v := range t.Hardware.Devices {
			dv := v
			if v.AvailableVFs != nil {
				dv.AvailableVFs = make(map[int]bool, len(v.AvailableVFs))
				for id, ok := range v.AvailableVFs {
					dv.AvailableVFs[id] = ok
				}
			}
			if v.AvailableNS != nil {
				dv.AvailableNS = make(map[int]bool, len(v.AvailableNS))
				for id, ok := range v.AvailableNS {
					dv.AvailableNS[id] = ok
				}
			}
			cp.Hardware.Devices[k] = dv
		}
	}
	if t.Hardware.Topology != nil {
		topo := &Topology{NUMANodes: make(map[int]NUMANode, len(t.Hardware.Topology.NUMANodes))}
		for id, node := range t.Hardware.Topology.NUMANodes {
			nc := node
			nc.CPUs = append([]int(nil), node.CPUs...)
			if node.DistanceMatrix != nil {
				nc.DistanceMatrix = make(map[int]int, len(node.DistanceMatrix))
				for k, v := range node.DistanceMatrix {
					nc.DistanceMatrix[k] = v
				}
			}
			topo.NUMANodes[id] = nc
		}
		cp.Hardware.Topology = topo
	}
	cp.Hardware.CPUs.HostReserved = append([]int(nil), t.Hardware.CPUs.HostReserved...)
	cp.Hardware.CPUs.Available = append([]int(nil), t.Hardware.CPUs.Available...)
	for name, inst := range t.Instances {
		cp.Instances[name] = inst.Clone()
	}
	for name, ref := range t.DeviceReferences {
		cp.DeviceReferences[name] = ref
	}
	return cp
}

// InstanceByID returns the instance with the given ID, if any.
func (t *GlobalDeviceTree) InstanceByID(id int) (Instance, bool) {
	for _, inst := range t.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}
