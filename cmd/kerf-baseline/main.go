// kerf-baseline is a standalone helper for preparing and inspecting
// baseline hardware inventory blobs offline, without a live
// multikernel mount: "compile" turns flags into a baseline FDT file
// in the format of the device_tree file, and "inspect"
// decodes an existing blob and prints a summary.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/cliutil"
	"github.com/multikernel/kerf-sub000/lib/fdt"
	"github.com/multikernel/kerf-sub000/lib/model"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kerf-baseline: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s compile -out <file> [flags...] | inspect <file>\n", os.Args[0])
}

type deviceSpecs []string

func (d *deviceSpecs) String() string { return strings.Join(*d, ",") }
func (d *deviceSpecs) Set(s string) error {
	*d = append(*d, s)
	return nil
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	out := fs.String("out", "", "output file path")
	var cpuTotal, cpuReserved cliutil.CPUSpecValue
	var memTotal, memReserved, poolBytes cliutil.MemorySpecValue
	poolBase := fs.String("memory-pool-base", "", "base address of the instance memory pool, hex")
	var devices deviceSpecs
	fs.Var(&cpuTotal, "cpus", "total CPU spec")
	fs.Var(&cpuReserved, "cpu-host-reserved", "CPU spec reserved for the host kernel")
	fs.Var(&memTotal, "memory", "total memory")
	fs.Var(&memReserved, "memory-host-reserved", "memory reserved for the host kernel")
	fs.Var(&poolBytes, "memory-pool-bytes", "size of the instance memory pool")
	fs.Var(&devices, "device", "device spec (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" || len(cpuTotal.CPUs) == 0 || memTotal.Bytes == 0 || poolBytes.Bytes == 0 || *poolBase == "" {
		return fmt.Errorf("compile: -out, -cpus, -memory, -memory-pool-bytes, and -memory-pool-base are required")
	}

	base, err := strconv.ParseUint(strings.TrimPrefix(*poolBase, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid -memory-pool-base %q: %w", *poolBase, err)
	}

	reservedSet := make(map[int]bool, len(cpuReserved.CPUs))
	for _, c := range cpuReserved.CPUs {
		reservedSet[c] = true
	}
	var available []int
	for _, c := range cpuTotal.CPUs {
		if !reservedSet[c] {
			available = append(available, c)
		}
	}

	devs := make(map[string]model.DeviceInfo, len(devices))
	for _, spec := range devices {
		parts := strings.Split(spec, ":")
		if len(parts) < 3 {
			return fmt.Errorf("invalid -device spec %q: need at least name:compatible:pciid", spec)
		}
		devs[parts[0]] = model.DeviceInfo{Name: parts[0], Compatible: parts[1], PCIID: parts[2]}
	}

	hw := model.HardwareInventory{
		CPUs: model.CPUAllocation{
			Total:        len(cpuTotal.CPUs),
			HostReserved: cpuReserved.CPUs,
			Available:    available,
		},
		Memory: model.MemoryAllocation{
			TotalBytes:       memTotal.Bytes,
			HostReservedByte: memReserved.Bytes,
			MemoryPoolBase:   base,
			MemoryPoolBytes:  poolBytes.Bytes,
		},
		Devices: devs,
	}

	blob := fdt.EncodeBaseline(hw)
	if err := os.WriteFile(*out, blob, 0644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("wrote baseline to %s (%d bytes)\n", *out, len(blob))
	return nil
}

func runInspect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("inspect: file path required")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	dialect, err := fdt.DetectDialect(data)
	if err != nil {
		return err
	}
	if dialect != fdt.DialectBaseline {
		return fmt.Errorf("%s: not a baseline blob (dialect %v)", args[0], dialect)
	}

	hw, err := fdt.DecodeBaseline(data)
	if err != nil {
		return err
	}

	fmt.Printf("CPUs: %d total, %d host-reserved, %d available\n",
		hw.CPUs.Total, len(hw.CPUs.HostReserved), len(hw.CPUs.Available))
	fmt.Printf("Memory: %s total, %s host-reserved, %s pool at 0x%x\n",
		cliutil.FormatBytes(hw.Memory.TotalBytes), cliutil.FormatBytes(hw.Memory.HostReservedByte),
		cliutil.FormatBytes(hw.Memory.MemoryPoolBytes), hw.Memory.MemoryPoolBase)
	fmt.Printf("Devices: %d\n", len(hw.Devices))
	for name, dev := range hw.Devices {
		fmt.Printf("  %s: %s (%s)\n", name, dev.Compatible, dev.PCIID)
	}
	return nil
}
