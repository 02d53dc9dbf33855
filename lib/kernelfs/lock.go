package kernelfs

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

const (
	lockRetries    = 10
	lockRetryDelay = 100 * time.Millisecond
)

// Lock is a host-wide advisory lock serializing overlay operations
// against the kernel. /var/run/kerf.lock is used when writable,
// falling back to /tmp/kerf.lock otherwise (e.g. in tests run as a
// non-root user).
type Lock struct {
	path string
	f    *os.File
}

func isWritableDir(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(dir, unix.W_OK) == nil
}

// Acquire opens (creating if necessary) and flocks the lock file at
// the process's default lock path, retrying lockRetries times with
// lockRetryDelay between attempts.
func Acquire() (*Lock, error) {
	return AcquireAt(LockPath())
}

// AcquireAt is Acquire against an explicit lock file path, used by
// tests to avoid contending on the real host-wide lock.
func AcquireAt(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, kerferrors.Wrap(kerferrors.KindKernelInterface, err, "open lock file %s", path)
	}

	var flockErr error
	for attempt := 0; attempt < lockRetries; attempt++ {
		flockErr = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			return &Lock{path: path, f: f}, nil
		}
		if flockErr != unix.EWOULDBLOCK {
			f.Close()
			return nil, kerferrors.Wrap(kerferrors.KindKernelInterface, flockErr, "flock %s", path)
		}
		time.Sleep(lockRetryDelay)
	}

	f.Close()
	return nil, kerferrors.New(kerferrors.KindKernelInterface, "could not acquire %s after %d attempts: another kerf operation may be in progress", path, lockRetries)
}

// Release unlocks and closes the lock file. It is safe to call
// multiple times.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("close lock file %s: %w", l.path, err)
	}
	return nil
}
