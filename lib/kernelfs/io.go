package kernelfs

import (
	"context"
	"os"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

var txDirPattern = regexp.MustCompile(`^tx_(\d+)$`)

// Transaction is one applied overlay's metadata, as read back from its
// tx_<N> directory.
type Transaction struct {
	ID       string
	DTBO     []byte
	Status   string
	Instance string
}

// ReadBaseline reads the baseline device tree blob from the kernel.
func (fs *FS) ReadBaseline() ([]byte, error) {
	data, err := os.ReadFile(fs.DeviceTreePath())
	if err != nil {
		return nil, kerferrors.Wrap(kerferrors.KindKernelInterface, err, "read baseline device tree")
	}
	return data, nil
}

// ListTransactionIDs returns every tx_<N> directory's numeric suffix
// under the overlays directory, sorted ascending. A missing overlays
// directory (no overlay ever applied) is not an error.
func (fs *FS) ListTransactionIDs() ([]string, error) {
	entries, err := os.ReadDir(fs.OverlaysDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, kerferrors.Wrap(kerferrors.KindKernelInterface, err, "list overlays directory")
	}

	var ids []int
	byID := make(map[int]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := txDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, n)
		byID[n] = m[1]
	}
	sort.Ints(ids)

	out := make([]string, len(ids))
	for i, n := range ids {
		out[i] = byID[n]
	}
	return out, nil
}

// ReadAppliedOverlays reads every applied overlay's DTBO bytes, in
// ascending transaction-ID order, using a bounded worker pool since
// transaction counts can grow large on long-lived hosts.
func (fs *FS) ReadAppliedOverlays(ctx context.Context) ([]Transaction, error) {
	ids, err := fs.ListTransactionIDs()
	if err != nil {
		return nil, err
	}

	results := make([]Transaction, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(fs.TransactionDTBOPath(id))
			if err != nil {
				// A transaction directory without a readable dtbo is
				// skipped rather than failing the whole read, matching
				// the tolerant behavior of state reconstruction.
				return nil
			}
			results[i] = Transaction{ID: id, DTBO: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, kerferrors.Wrap(kerferrors.KindKernelInterface, err, "read applied overlays")
	}

	out := make([]Transaction, 0, len(results))
	for _, tx := range results {
		if tx.ID != "" {
			out = append(out, tx)
		}
	}
	return out, nil
}

// ReadTransactionStatus reads a transaction's status and instance
// files, if present. A missing status file is not an error; the
// transaction may still be processing.
func (fs *FS) ReadTransactionStatus(txID string) (status, instance string, err error) {
	statusBytes, statusErr := os.ReadFile(fs.TransactionStatusPath(txID))
	if statusErr == nil {
		status = trimTrailingNewline(statusBytes)
	} else if !os.IsNotExist(statusErr) {
		return "", "", kerferrors.Wrap(kerferrors.KindKernelInterface, statusErr, "read transaction %s status", txID)
	}

	instanceBytes, instanceErr := os.ReadFile(fs.TransactionInstancePath(txID))
	if instanceErr == nil {
		instance = trimTrailingNewline(instanceBytes)
	}

	return status, instance, nil
}

func trimTrailingNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// WriteOverlay writes a DTBO blob to the kernel's overlay application
// endpoint.
func (fs *FS) WriteOverlay(data []byte) error {
	if _, err := os.Stat(fs.OverlaysNewPath()); err != nil {
		return kerferrors.New(kerferrors.KindKernelInterface, "overlay interface not found at %s: is the multikernel kernel module loaded?", fs.OverlaysNewPath())
	}
	if err := os.WriteFile(fs.OverlaysNewPath(), data, 0644); err != nil {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, err, "write overlay to %s", fs.OverlaysNewPath())
	}
	return nil
}

// FindLatestTransaction returns the highest-numbered tx_<N> directory,
// i.e. the one the kernel just created in response to WriteOverlay.
func (fs *FS) FindLatestTransaction() (string, error) {
	ids, err := fs.ListTransactionIDs()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", kerferrors.New(kerferrors.KindKernelInterface, "overlay written but kernel did not create a transaction directory")
	}
	return ids[len(ids)-1], nil
}

// RemoveTransaction rolls back a transaction by removing its directory;
// the kernel handles reverting the corresponding instance change.
func (fs *FS) RemoveTransaction(txID string) error {
	dir := fs.TransactionDir(txID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return kerferrors.New(kerferrors.KindKernelInterface, "transaction %s not found at %s", txID, dir)
	}
	if err := os.Remove(dir); err != nil {
		return kerferrors.Wrap(kerferrors.KindKernelInterface, err, "rollback transaction %s", txID)
	}
	return nil
}
