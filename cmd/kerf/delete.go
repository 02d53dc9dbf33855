package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/kernelfs"
	"github.com/multikernel/kerf-sub000/lib/model"
	"github.com/multikernel/kerf-sub000/lib/runtime"
)

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return kerferrors.New(kerferrors.KindValidation, "delete: instance name required")
	}
	name := rest[0]

	kfs := kernelfs.Default()
	statusBytes, err := os.ReadFile(kfs.InstanceStatusPath(name))
	if err == nil {
		status := strings.TrimSpace(string(statusBytes))
		if status == "loaded" || status == "active" {
			return kerferrors.New(kerferrors.KindValidation, "delete: instance %q is %s; run \"kerf unload %s\" first", name, status, name)
		}
	}

	m := runtime.New()
	txID, err := m.ApplyOperation(ctx, func(current *model.GlobalDeviceTree) (*model.GlobalDeviceTree, error) {
		if _, ok := current.Instances[name]; !ok {
			return nil, kerferrors.New(kerferrors.KindInvalidReference, "delete: instance %q does not exist", name)
		}
		modified := current.Clone()
		delete(modified.Instances, name)
		return modified, nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("instance %q deleted (transaction %s)\n", name, txID)
	return nil
}
