// kerf is the operator CLI for a multikernel host: it inspects and
// mutates the partition layout through lib/runtime, and boots or tears
// down instance kernels through lib/kernelfs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
	"github.com/multikernel/kerf-sub000/lib/logger"
)

// Exit codes per the operator-facing command table: 0 success, 1
// validation/runtime error, 2 missing or unknown command, 3 file-I/O
// error, 4 FDT parse error, 130 interrupted. A missing or malformed
// argument detected inside a command (e.g. no instance name) is
// reported as a validation error and exits 1, not 2.
const (
	exitOK          = 0
	exitError       = 1
	exitArgError    = 2
	exitIOError     = 3
	exitParseError  = 4
	exitInterrupted = 130
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitArgError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := logger.NewConfig()
	log := logger.NewSubsystemLogger(logger.SubsystemRuntime, cfg)
	ctx = logger.AddToContext(ctx, log)

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "init":
		err = runInit(ctx, args)
	case "create":
		err = runCreate(ctx, args)
	case "update":
		err = runUpdate(ctx, args)
	case "delete":
		err = runDelete(ctx, args)
	case "load":
		err = runLoad(ctx, args)
	case "kill":
		err = runKill(ctx, args)
	case "unload":
		err = runUnload(ctx, args)
	case "show":
		err = runShow(ctx, args)
	case "exec", "console":
		fmt.Fprintf(os.Stderr, "%s: attach via the kerf-console helper binary\n", cmd)
		os.Exit(exitArgError)
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "kerf: unknown command %q\n", cmd)
		usage()
		os.Exit(exitArgError)
	}

	if ctx.Err() != nil {
		os.Exit(exitInterrupted)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kerf %s: %v\n", cmd, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if kind, ok := kerferrors.KindOf(err); ok {
		return kind.ExitCode()
	}
	if os.IsNotExist(err) || os.IsPermission(err) {
		return exitIOError
	}
	return exitError
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  init      write a new baseline hardware inventory
  create    allocate a new instance
  update    change an existing instance's resources
  delete    remove an instance
  load      stage and boot an instance's kernel image
  kill      halt a running instance
  unload    tear down a staged or halted instance's kernel image
  show      print the current state and a validation report
  exec      attach to a running instance (see kerf-console)
  console   attach to a running instance's console (see kerf-console)

Run "%s <command> -h" for command-specific options.
`, os.Args[0], os.Args[0])
}
