package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/kernelfs"
)

func runLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	kernelPath := fs.String("kernel", "", "path to the instance kernel image")
	initrdPath := fs.String("initrd", "", "path to the instance initramfs (optional)")
	cmdline := fs.String("cmdline", "", "kernel command line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 || *kernelPath == "" {
		return kerferrors.New(kerferrors.KindValidation, "load: usage: load <name> -kernel <path> [-initrd <path>] [-cmdline <args>]")
	}
	name := rest[0]

	id, err := readInstanceID(name)
	if err != nil {
		return err
	}

	kernel, err := os.Open(*kernelPath)
	if err != nil {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, err, "load: open kernel image")
	}
	defer kernel.Close()

	var initrd *os.File
	if *initrdPath != "" {
		initrd, err = os.Open(*initrdPath)
		if err != nil {
			return kerferrors.Wrap(kerferrors.KindKernelInterface, err, "load: open initrd")
		}
		defer initrd.Close()
	}

	loadArgs := kernelfs.KexecLoadArgs{
		InstanceID:  id,
		Kernel:      kernel,
		Initrd:      initrd,
		Cmdline:     *cmdline,
		NoInitramfs: initrd == nil,
	}
	if err := kernelfs.KexecFileLoad(ctx, loadArgs); err != nil {
		return err
	}
	if err := kernelfs.Boot(ctx, id); err != nil {
		return err
	}

	fmt.Printf("instance %q (id %d) staged and booted\n", name, id)
	return nil
}

func readInstanceID(name string) (int, error) {
	kfs := kernelfs.Default()
	data, err := os.ReadFile(kfs.InstanceIDPath(name))
	if err != nil {
		return 0, kerferrors.Wrap(kerferrors.KindInvalidReference, err, "instance %q has no assigned ID; create it first", name)
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, kerferrors.Wrap(kerferrors.KindParse, err, "instance %q: malformed id file", name)
	}
	return id, nil
}
