// Package reporter renders a GlobalDeviceTree and a validation result
// as a human-readable text report for "kerf show", the way the
// original distillation's reporter.py did, but table-formatted via
// text/tabwriter instead of hand-padded strings.
package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/validator"
)

const bytesPerGB = 1024 * 1024 * 1024

// WriteText renders tree and result as a text report to w.
func WriteText(w io.Writer, tree *model.GlobalDeviceTree, result validator.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "Multikernel Device Tree Validation Report")
	fmt.Fprintln(tw, strings.Repeat("=", 42))
	if result.OK {
		fmt.Fprintln(tw, "Status:\tVALID")
	} else {
		fmt.Fprintln(tw, "Status:\tINVALID")
	}
	fmt.Fprintln(tw)

	writeHardwareInventory(tw, tree.Hardware)
	fmt.Fprintln(tw)
	writeInstanceAllocations(tw, tree)
	fmt.Fprintln(tw)
	writeResourceUtilization(tw, tree)
	fmt.Fprintln(tw)

	if len(result.Errors) > 0 {
		fmt.Fprintln(tw, "Validation Errors:")
		for _, f := range result.Errors {
			fmt.Fprintf(tw, "  - %s\n", f.String())
		}
		fmt.Fprintln(tw)
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(tw, "Validation Warnings:")
		for _, f := range result.Warnings {
			fmt.Fprintf(tw, "  ! %s\n", f.String())
		}
		fmt.Fprintln(tw)
	}
	if len(result.Suggestions) > 0 {
		fmt.Fprintln(tw, "Suggestions:")
		for _, f := range result.Suggestions {
			fmt.Fprintf(tw, "  * %s\n", f.String())
		}
		fmt.Fprintln(tw)
	}

	if result.OK {
		fmt.Fprintln(tw, "All validations passed")
	} else {
		fmt.Fprintf(tw, "Validation failed with %d errors", len(result.Errors))
		if len(result.Warnings) > 0 {
			fmt.Fprintf(tw, " and %d warnings", len(result.Warnings))
		}
		fmt.Fprintln(tw)
	}

	return tw.Flush()
}

func writeHardwareInventory(tw *tabwriter.Writer, hw model.HardwareInventory) {
	fmt.Fprintln(tw, "Hardware Inventory:")

	cpus := hw.CPUs
	fmt.Fprintf(tw, "  CPUs:\t%d total\n", cpus.Total)
	if len(cpus.HostReserved) > 0 {
		pct := float64(len(cpus.HostReserved)) / float64(cpus.Total) * 100
		fmt.Fprintf(tw, "    Host reserved:\t%s\t(%d CPUs, %.0f%%)\n", rangeString(cpus.HostReserved), len(cpus.HostReserved), pct)
	}
	if len(cpus.Available) > 0 {
		pct := float64(len(cpus.Available)) / float64(cpus.Total) * 100
		fmt.Fprintf(tw, "    Pool:\t%s\t(%d CPUs, %.0f%%)\n", rangeString(cpus.Available), len(cpus.Available), pct)
	}

	mem := hw.Memory
	fmt.Fprintf(tw, "  Memory:\t%.0fGB total\n", float64(mem.TotalBytes)/bytesPerGB)
	if mem.TotalBytes > 0 {
		hostPct := float64(mem.HostReservedByte) / float64(mem.TotalBytes) * 100
		poolPct := float64(mem.MemoryPoolBytes) / float64(mem.TotalBytes) * 100
		fmt.Fprintf(tw, "    Host reserved:\t%.0fGB\t(%.0f%%)\n", float64(mem.HostReservedByte)/bytesPerGB, hostPct)
		fmt.Fprintf(tw, "    Pool:\t%.0fGB at 0x%x\t(%.0f%%)\n", float64(mem.MemoryPoolBytes)/bytesPerGB, mem.MemoryPoolBase, poolPct)
	}

	var network, storage int
	for _, d := range hw.Devices {
		lower := strings.ToLower(d.Compatible)
		if strings.Contains(lower, "ethernet") {
			network++
		}
		if strings.Contains(lower, "nvme") {
			storage++
		}
	}
	fmt.Fprintf(tw, "  Devices:\t%d total\n", len(hw.Devices))
	if network > 0 {
		fmt.Fprintf(tw, "    Network:\t%d\n", network)
	}
	if storage > 0 {
		fmt.Fprintf(tw, "    Storage:\t%d\n", storage)
	}
}

func writeInstanceAllocations(tw *tabwriter.Writer, tree *model.GlobalDeviceTree) {
	fmt.Fprintln(tw, "Instance Allocations:")
	for _, name := range sortedInstanceNames(tree.Instances) {
		inst := tree.Instances[name]
		fmt.Fprintf(tw, "  %s\t(ID: %d)\n", name, inst.ID)

		cpuRange := "none"
		cpuPct := 0.0
		if len(inst.Resources.CPUs) > 0 {
			cpuRange = rangeString(inst.Resources.CPUs)
			if len(tree.Hardware.CPUs.Available) > 0 {
				cpuPct = float64(len(inst.Resources.CPUs)) / float64(len(tree.Hardware.CPUs.Available)) * 100
			}
		}
		fmt.Fprintf(tw, "    CPUs:\t%s\t(%d CPUs, %.0f%% of pool)\n", cpuRange, len(inst.Resources.CPUs), cpuPct)

		memPct := 0.0
		if tree.Hardware.Memory.MemoryPoolBytes > 0 {
			memPct = float64(inst.Resources.MemoryBytes) / float64(tree.Hardware.Memory.MemoryPoolBytes) * 100
		}
		fmt.Fprintf(tw, "    Memory:\t%.0fGB at 0x%x\t(%.0f%% of pool)\n", float64(inst.Resources.MemoryBytes)/bytesPerGB, inst.Resources.MemoryBase, memPct)

		if len(inst.Resources.Devices) > 0 {
			fmt.Fprintf(tw, "    Devices:\t%s\n", strings.Join(inst.Resources.Devices, ", "))
		} else {
			fmt.Fprintln(tw, "    Devices:\tnone")
		}
	}
}

func writeResourceUtilization(tw *tabwriter.Writer, tree *model.GlobalDeviceTree) {
	fmt.Fprintln(tw, "Resource Utilization:")

	var cpusAllocated int
	var memAllocated uint64
	var devicesAllocated, vfsAllocated, nsAllocated int
	for _, inst := range tree.Instances {
		cpusAllocated += len(inst.Resources.CPUs)
		memAllocated += inst.Resources.MemoryBytes
		devicesAllocated += len(inst.Resources.Devices)
		for _, ref := range inst.Resources.Devices {
			if strings.Contains(ref, "_vf") {
				vfsAllocated++
			}
			if strings.Contains(ref, "_ns") {
				nsAllocated++
			}
		}
	}

	availableCPUs := len(tree.Hardware.CPUs.Available)
	if availableCPUs > 0 {
		pct := float64(cpusAllocated) / float64(availableCPUs) * 100
		fmt.Fprintf(tw, "  CPUs:\t%d/%d allocated\t(%.0f%%, %d free)\n", cpusAllocated, availableCPUs, pct, availableCPUs-cpusAllocated)
	}

	poolBytes := tree.Hardware.Memory.MemoryPoolBytes
	if poolBytes > 0 {
		pct := float64(memAllocated) / float64(poolBytes) * 100
		fmt.Fprintf(tw, "  Memory:\t%.0f/%.0f GB allocated\t(%.0f%%, %.0f GB free)\n",
			float64(memAllocated)/bytesPerGB, float64(poolBytes)/bytesPerGB, pct, float64(poolBytes-memAllocated)/bytesPerGB)
	}

	var network, storage int
	for _, d := range tree.Hardware.Devices {
		lower := strings.ToLower(d.Compatible)
		if strings.Contains(lower, "ethernet") {
			network++
		}
		if strings.Contains(lower, "nvme") {
			storage++
		}
	}
	if network > 0 {
		fmt.Fprintf(tw, "  Network:\t%d/%d VFs allocated\n", vfsAllocated, network)
	}
	if storage > 0 {
		fmt.Fprintf(tw, "  Storage:\t%d/%d namespaces allocated\n", nsAllocated, storage)
	}
	fmt.Fprintf(tw, "  Devices:\t%d/%d allocated\n", devicesAllocated, len(tree.Hardware.Devices))
}

func sortedInstanceNames(instances map[string]model.Instance) []string {
	names := make([]string, 0, len(instances))
	for name := range instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func rangeString(cpus []int) string {
	if len(cpus) == 0 {
		return "none"
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)
	return fmt.Sprintf("%d-%d", sorted[0], sorted[len(sorted)-1])
}
