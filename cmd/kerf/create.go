package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/cliutil"
	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/resources"
	"github.com/multikernel/kerf-sub000/lib/runtime"
)

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var cpus cliutil.CPUSpecValue
	cpuCount := fs.Int("cpu-count", 0, "number of CPUs to allocate (alternative to -cpus)")
	affinity := fs.String("cpu-affinity", "compact", "CPU affinity policy: compact, spread, local")
	numaNodes := fs.String("numa-nodes", "", "comma-separated NUMA node IDs, required for local affinity")
	var mem cliutil.MemorySpecValue
	devicesFlag := fs.String("devices", "", "comma-separated device reference tokens, e.g. eth0_vf1,nvme0_ns0")
	workload := fs.String("workload", "", "informational workload type")
	enableNUMA := fs.Bool("enable-numa", false, "set the enable-numa option")
	fs.Var(&cpus, "cpus", "CPU spec, e.g. 4-7 (alternative to -cpu-count)")
	fs.Var(&mem, "memory", "memory size, e.g. 2GB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return kerferrors.New(kerferrors.KindValidation, "create: instance name required")
	}
	name := rest[0]

	if mem.Bytes == 0 {
		return kerferrors.New(kerferrors.KindValidation, "create: -memory is required")
	}
	var nodes []int
	if *numaNodes != "" {
		parsed, err := cliutil.ParseCPUSpec(*numaNodes)
		if err != nil {
			return kerferrors.Wrap(kerferrors.KindParse, err, "create: invalid -numa-nodes")
		}
		nodes = parsed
	}
	var deviceRefs []string
	if *devicesFlag != "" {
		deviceRefs = strings.Split(*devicesFlag, ",")
	}

	m := runtime.New()
	txID, err := m.ApplyOperation(ctx, func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		if _, exists := current.Instances[name]; exists {
			return nil, kerferrors.New(kerferrors.KindResourceConflict, "create: instance %q already exists", name)
		}

		modified := current.Clone()

		var cpuSet []int
		switch {
		case len(cpus.CPUs) > 0:
			cpuSet = cpus.CPUs
			if conflict := resources.CPUConflictError(name, current, cpuSet); conflict != nil {
				return nil, conflict.WithOp("create")
			}
		case *cpuCount > 0:
			allocated, err := resources.AllocateCPUs(current, *cpuCount, model.Affinity(*affinity), nodes)
			if err != nil {
				return nil, err
			}
			cpuSet = allocated
		default:
			return nil, kerferrors.New(kerferrors.KindValidation, "create: one of -cpus or -cpu-count is required")
		}

		base, err := resources.FindAvailableMemoryBase(current, mem.Bytes)
		if err != nil {
			return nil, err
		}

		id, err := resources.FindNextInstanceID(current)
		if err != nil {
			return nil, err
		}

		inst := model.Instance{
			Name: name,
			ID:   id,
			Resources: model.InstanceResources{
				CPUs:        cpuSet,
				MemoryBase:  base,
				MemoryBytes: mem.Bytes,
				Devices:     deviceRefs,
				NUMANodes:   nodes,
				CPUAffinity: model.Affinity(*affinity),
			},
		}
		if *enableNUMA {
			inst.Options = map[string]bool{"enable-numa": true}
		}
		if *workload != "" {
			inst.Config = &model.InstanceConfig{WorkloadType: model.WorkloadType(*workload)}
		}

		modified.Instances[name] = inst
		return modified, nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("instance %q created (transaction %s)\n", name, txID)
	return nil
}
