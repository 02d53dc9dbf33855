// Package kernelfs is the single point of contact between kerf and the
// multikernel host: the /sys/fs/multikernel pseudo-filesystem, and the
// reboot/kexec_file_load system calls that actually boot and tear down
// instances.
package kernelfs

import "path/filepath"

// DefaultRoot is the standard mount point of the multikernel
// pseudo-filesystem.
const DefaultRoot = "/sys/fs/multikernel"

// FS provides typed path construction and I/O against the multikernel
// pseudo-filesystem, rooted at an arbitrary directory so tests can
// exercise the runtime against a fake filesystem instead of the real
// mount.
type FS struct {
	root string
}

// New returns an FS rooted at root.
func New(root string) *FS {
	return &FS{root: root}
}

// Default returns an FS rooted at the real multikernel mount point.
func Default() *FS {
	return New(DefaultRoot)
}

// DeviceTreePath is the baseline device tree file: resources only, no
// instances.
func (fs *FS) DeviceTreePath() string {
	return filepath.Join(fs.root, "device_tree")
}

// OverlaysDir is the directory the kernel populates with tx_<N>
// subdirectories after each applied overlay.
func (fs *FS) OverlaysDir() string {
	return filepath.Join(fs.root, "overlays")
}

// OverlaysNewPath is the write-only endpoint: writing a DTBO blob here
// applies it as a new overlay transaction.
func (fs *FS) OverlaysNewPath() string {
	return filepath.Join(fs.OverlaysDir(), "new")
}

// TransactionDir returns the path of a specific transaction's directory.
func (fs *FS) TransactionDir(txID string) string {
	return filepath.Join(fs.OverlaysDir(), "tx_"+txID)
}

// TransactionDTBOPath returns the path of the DTBO blob the kernel
// stored for a transaction.
func (fs *FS) TransactionDTBOPath(txID string) string {
	return filepath.Join(fs.TransactionDir(txID), "dtbo")
}

// TransactionStatusPath returns the path of a transaction's status
// file: the kernel writes one of "applied", "success", or "ok" on
// success.
func (fs *FS) TransactionStatusPath(txID string) string {
	return filepath.Join(fs.TransactionDir(txID), "status")
}

// TransactionInstancePath returns the path of the file naming which
// instance a transaction's fragment(s) targeted, present on failure to
// aid diagnostics.
func (fs *FS) TransactionInstancePath(txID string) string {
	return filepath.Join(fs.TransactionDir(txID), "instance")
}

// InstanceDir returns the path of a live instance's status directory.
func (fs *FS) InstanceDir(name string) string {
	return filepath.Join(fs.root, "instances", name)
}

// InstanceIDPath returns the path of an instance's assigned ID file.
func (fs *FS) InstanceIDPath(name string) string {
	return filepath.Join(fs.InstanceDir(name), "id")
}

// InstanceStatusPath returns the path of an instance's runtime status
// file (e.g. "loaded", "active").
func (fs *FS) InstanceStatusPath(name string) string {
	return filepath.Join(fs.InstanceDir(name), "status")
}

// InstanceDeviceTreePath returns the path of an instance's own
// effective device tree, as seen from inside its partition.
func (fs *FS) InstanceDeviceTreePath(name string) string {
	return filepath.Join(fs.InstanceDir(name), "device_tree")
}

// LockPath returns the lock file path this process should use: under
// /var/run if writable, otherwise /tmp. This is independent of root,
// since the lock is host-wide regardless of which pseudo-filesystem
// mount a given FS targets.
func LockPath() string {
	if isWritableDir("/var/run") {
		return "/var/run/kerf.lock"
	}
	return "/tmp/kerf.lock"
}
