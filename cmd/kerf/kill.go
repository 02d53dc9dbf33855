package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/kernelfs"
)

func runKill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	force := fs.Bool("force", false, "skip the clean shutdown request")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return kerferrors.New(kerferrors.KindValidation, "kill: instance name required")
	}
	name := rest[0]

	id, err := readInstanceID(name)
	if err != nil {
		return err
	}

	if *force {
		err = kernelfs.HaltForce(ctx, id)
	} else {
		err = kernelfs.Halt(ctx, id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("instance %q (id %d) halted\n", name, id)
	return nil
}

func runUnload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unload", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return kerferrors.New(kerferrors.KindValidation, "unload: instance name required")
	}
	name := rest[0]

	id, err := readInstanceID(name)
	if err != nil {
		return err
	}

	if err := kernelfs.KexecFileLoad(ctx, kernelfs.KexecLoadArgs{InstanceID: id, Unload: true}); err != nil {
		return err
	}

	fmt.Printf("instance %q (id %d) unloaded\n", name, id)
	return nil
}
