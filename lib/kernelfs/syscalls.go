package kernelfs

import (
	"context"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

// reboot(2) magic numbers and multikernel command values. These are
// not exposed by golang.org/x/sys/unix since they're specific to the
// multikernel kernel fork, so they're declared directly here.
const (
	rebootMagic1 = 0xfee1dead
	rebootMagic2 = 0x28121969

	RebootCmdBoot       = 0x4D4B4C49
	RebootCmdHalt       = 0x4D4B4C48
	RebootCmdHaltForce  = 0x4D4B4C46
)

// rebootArgs mirrors the kernel's struct mk_reboot_args: a single
// instance ID field passed by pointer through reboot(2)'s fourth
// argument.
type rebootArgs struct {
	MkID uint32
}

// Boot boots instance id via reboot(2). On success this call may never
// return to the caller, since control passes to the instance kernel.
func Boot(ctx context.Context, id int) error {
	return doReboot(ctx, RebootCmdBoot, id)
}

// Halt halts instance id via reboot(2), requesting a clean shutdown.
func Halt(ctx context.Context, id int) error {
	return doReboot(ctx, RebootCmdHalt, id)
}

// HaltForce halts instance id via reboot(2), without waiting for a
// clean shutdown.
func HaltForce(ctx context.Context, id int) error {
	return doReboot(ctx, RebootCmdHaltForce, id)
}

func doReboot(ctx context.Context, cmd uint32, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := rebootArgs{MkID: uint32(id)}
	_, _, errno := unix.Syscall6(unix.SYS_REBOOT, rebootMagic1, rebootMagic2, uintptr(cmd), uintptr(unsafe.Pointer(&args)), 0, 0)
	if errno != 0 {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, errno, "reboot(cmd=0x%x, instance=%d)", cmd, id)
	}
	return nil
}

// kexec_file_load(2) flag bits, per the multikernel fork's ABI.
const (
	KexecMultikernel    = 0x10
	KexecFileUnload     = 0x1
	KexecFileNoInitramfs = 0x4
)

// kexecIDShift is where the instance ID is packed into the flags word.
const kexecIDShift = 5

// KexecLoadArgs describes a kexec_file_load invocation for staging or
// tearing down an instance kernel image.
type KexecLoadArgs struct {
	InstanceID     int
	Kernel         *os.File
	Initrd         *os.File // nil if NoInitramfs is set
	Cmdline        string
	Unload         bool
	NoInitramfs    bool
	ExtraFlags     uintptr
}

// KexecFileLoad stages (or, with Unload set, tears down) an instance
// kernel image via kexec_file_load(2).
func KexecFileLoad(ctx context.Context, args KexecLoadArgs) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	flags := uintptr(KexecMultikernel) | (uintptr(args.InstanceID)<<kexecIDShift)&0xFFE0 | args.ExtraFlags
	if args.Unload {
		flags |= KexecFileUnload
	}
	if args.NoInitramfs {
		flags |= KexecFileNoInitramfs
	}

	var kernelFd, initrdFd uintptr
	if args.Kernel != nil {
		kernelFd = args.Kernel.Fd()
	}
	if args.Initrd != nil {
		initrdFd = args.Initrd.Fd()
	} else {
		initrdFd = ^uintptr(0) // -1: no initrd fd, matches KEXEC_FILE_NO_INITRAMFS
	}

	cmdline := args.Cmdline
	var cmdlinePtr uintptr
	var cmdlineBytes []byte
	if cmdline != "" {
		cmdlineBytes = append([]byte(cmdline), 0)
		cmdlinePtr = uintptr(unsafe.Pointer(&cmdlineBytes[0]))
	}

	_, _, errno := unix.Syscall6(unix.SYS_KEXEC_FILE_LOAD, kernelFd, initrdFd, uintptr(len(cmdline)+1), cmdlinePtr, flags, 0)
	if errno != 0 {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, errno, "kexec_file_load(instance=%d, unload=%v)", args.InstanceID, args.Unload)
	}
	return nil
}
