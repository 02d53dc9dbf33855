package main

import (
	"context"
	"flag"
	"os"

	"github.com/multikernel/kerf-sub000/lib/reporter"
	"github.com/multikernel/kerf-sub000/lib/runtime"
	"github.com/multikernel/kerf-sub000/lib/validator"
)

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	offline := fs.Bool("offline", false, "skip live /proc cross-checks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := runtime.New()
	tree, err := m.ReadCurrentState(ctx)
	if err != nil {
		return err
	}

	v := validator.New()
	if *offline {
		v = validator.NewOffline()
	}
	result := v.Validate(tree)

	if err := reporter.WriteText(os.Stdout, tree, result); err != nil {
		return err
	}
	if !result.OK {
		os.Exit(exitError)
	}
	return nil
}
