package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/cliutil"
	"github.com/multikernel/kerf-sub000/lib/fdt"
	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/kernelfs"
	"github.com/multikernel/kerf-sub000/lib/model"
)

// deviceSpecs allows multiple -device flags, one per hardware device.
type deviceSpecs []string

func (d *deviceSpecs) String() string { return strings.Join(*d, ",") }
func (d *deviceSpecs) Set(s string) error {
	*d = append(*d, s)
	return nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var cpuTotal cliutil.CPUSpecValue
	var cpuReserved cliutil.CPUSpecValue
	var memTotal, memReserved, poolBytes cliutil.MemorySpecValue
	var poolBase string
	var devices deviceSpecs
	fs.Var(&cpuTotal, "cpus", "total CPU spec, e.g. 0-31")
	fs.Var(&cpuReserved, "cpu-host-reserved", "CPU spec reserved for the host kernel")
	fs.Var(&memTotal, "memory", "total memory, e.g. 16GB")
	fs.Var(&memReserved, "memory-host-reserved", "memory reserved for the host kernel")
	fs.Var(&poolBytes, "memory-pool-bytes", "size of the instance memory pool")
	fs.StringVar(&poolBase, "memory-pool-base", "", "base address of the instance memory pool, hex (e.g. 0x80000000)")
	fs.Var(&devices, "device", "device spec name:compatible:pciid:vendor:deviceid:vfs:vf-reserved:ns:ns-reserved (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(cpuTotal.CPUs) == 0 {
		return kerferrors.New(kerferrors.KindValidation, "init: -cpus is required")
	}
	if memTotal.Bytes == 0 || poolBytes.Bytes == 0 || poolBase == "" {
		return kerferrors.New(kerferrors.KindValidation, "init: -memory, -memory-pool-bytes, and -memory-pool-base are required")
	}
	base, err := strconv.ParseUint(strings.TrimPrefix(poolBase, "0x"), 16, 64)
	if err != nil {
		return kerferrors.Wrap(kerferrors.KindParse, err, "init: invalid -memory-pool-base %q", poolBase)
	}

	total := cpuTotal.CPUs
	reservedSet := make(map[int]bool, len(cpuReserved.CPUs))
	for _, c := range cpuReserved.CPUs {
		reservedSet[c] = true
	}
	var available []int
	for _, c := range total {
		if !reservedSet[c] {
			available = append(available, c)
		}
	}

	devs := make(map[string]model.DeviceInfo, len(devices))
	for _, spec := range devices {
		dev, err := parseDeviceSpec(spec)
		if err != nil {
			return err
		}
		devs[dev.Name] = dev
	}

	hw := model.HardwareInventory{
		CPUs: model.CPUAllocation{
			Total:        len(total),
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

	fsys := kernelfs.Default()
	if _, statErr := os.Stat(fsys.DeviceTreePath()); statErr == nil {
		return kerferrors.New(kerferrors.KindValidation, "init: baseline already exists at %s; this command only creates the initial baseline", fsys.DeviceTreePath())
	}

	blob := fdt.EncodeBaseline(hw)
	if err := os.MkdirAll(kernelfs.DefaultRoot, 0755); err != nil {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, err, "init: create multikernel mount point")
	}
	if err := os.WriteFile(fsys.DeviceTreePath(), blob, 0644); err != nil {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, err, "init: write baseline")
	}

	fmt.Printf("baseline written: %d CPUs (%d available), %s pool at 0x%x\n",
		hw.CPUs.Total, len(hw.CPUs.Available), cliutil.FormatBytes(hw.Memory.MemoryPoolBytes), hw.Memory.MemoryPoolBase)
	return nil
}

// parseDeviceSpec parses "name:compatible:pciid:vendor:deviceid:vfs:vf-reserved:ns:ns-reserved".
// Trailing fields may be omitted; the zero value applies.
func parseDeviceSpec(spec string) (model.DeviceInfo, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 {
		return model.DeviceInfo{}, kerferrors.New(kerferrors.KindParse, "invalid -device spec %q: need at least name:compatible:pciid", spec)
	}
	field := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	atoi := func(i int) (int, error) {
		s := field(i)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}

	vfs, err := atoi(5)
	if err != nil {
		return model.DeviceInfo{}, kerferrors.Wrap(kerferrors.KindParse, err, "-device %q: invalid vfs count", spec)
	}
	vfReserved, err := atoi(6)
	if err != nil {
		return model.DeviceInfo{}, kerferrors.Wrap(kerferrors.KindParse, err, "-device %q: invalid vf-reserved count", spec)
	}
	ns, err := atoi(7)
	if err != nil {
		return model.DeviceInfo{}, kerferrors.Wrap(kerferrors.KindParse, err, "-device %q: invalid ns count", spec)
	}
	nsReserved, err := atoi(8)
	if err != nil {
		return model.DeviceInfo{}, kerferrors.Wrap(kerferrors.KindParse, err, "-device %q: invalid ns-reserved count", spec)
	}

	dev := model.DeviceInfo{
		Name:           field(0),
		Compatible:     field(1),
		PCIID:          field(2),
		VendorID:       field(3),
		DeviceID:       field(4),
		SRIOVVFs:       vfs,
		HostReservedVF: vfReserved,
		Namespaces:     ns,
		HostReservedNS: nsReserved,
	}
	if dev.SRIOVVFs > 0 {
		dev.AvailableVFs = make(map[int]bool, dev.SRIOVVFs-dev.HostReservedVF)
		for i := dev.HostReservedVF; i < dev.SRIOVVFs; i++ {
			dev.AvailableVFs[i] = true
		}
	}
	if dev.Namespaces > 0 {
		dev.AvailableNS = make(map[int]bool, dev.Namespaces-dev.HostReservedNS)
		for i := dev.HostReservedNS; i < dev.Namespaces; i++ {
			dev.AvailableNS[i] = true
		}
	}
	return dev, nil
}
