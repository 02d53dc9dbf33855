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

func runUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	var cpus cliutil.CPUSpecValue
	var mem cliutil.MemorySpecValue
	devicesFlag := fs.String("devices", "", "comma-separated device reference tokens to replace the instance's allotment")
	fs.Var(&cpus, "cpus", "new CPU spec, e.g. 20-23")
	fs.Var(&mem, "memory", "new memory size, e.g. 4GB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return kerferrors.New(kerferrors.KindValidation, "update: instance name required")
	}
	name := rest[0]

	m := runtime.New()
	txID, err := m.ApplyOperation(ctx, func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		if _, ok := current.Instances[name]; !ok {
			return nil, kerferrors.New(kerferrors.KindInvalidReference, "update: instance %q does not exist", name)
		}

		modified := current.Clone()
		inst := modified.Instances[name]

		if len(cpus.CPUs) > 0 {
			withoutSelf := current.Clone()
			delete(withoutSelf.Instances, name)
			if conflict := resources.CPUConflictError(name, withoutSelf, cpus.CPUs); conflict != nil {
				return nil, conflict.WithOp("update")
			}
			inst.Resources.CPUs = cpus.CPUs
		}

		if mem.Bytes > 0 {
			withoutSelf := current.Clone()
			delete(withoutSelf.Instances, name)
			base, err := resources.FindAvailableMemoryBase(withoutSelf, mem.Bytes)
			if err != nil {
				return nil, err
			}
			inst.Resources.MemoryBase = base
			inst.Resources.MemoryBytes = mem.Bytes
		}

		if *devicesFlag != "" {
			inst.Resources.Devices = strings.Split(*devicesFlag, ",")
		}

		modified.Instances[name] = inst
		return modified, nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("instance %q updated (transaction %s)\n", name, txID)
	return nil
}
