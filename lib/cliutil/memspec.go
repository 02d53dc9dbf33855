package cliutil

import (
	"strings"

	"github.com/c2h5oh/datasize"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

// ParseMemorySpec parses a memory size specification: a number
// optionally suffixed with KB/MB/GB/TB (binary, 1024-based); with no
// suffix the number is taken as a raw byte count.
func ParseMemorySpec(spec string) (uint64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, kerferrors.New(kerferrors.KindParse, "empty memory spec")
	}

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(spec)); err != nil {
		return 0, kerferrors.Wrap(kerferrors.KindParse, err, "invalid memory spec %q", spec)
	}
	return size.Bytes(), nil
}

// FormatBytes renders a byte count in human-readable form with one
// decimal place (e.g. "2.0 GB"), for reports and error messages.
// ParseMemorySpec does not accept this form back.
func FormatBytes(n uint64) string {
	return datasize.ByteSize(n).HR()
}

// MemorySpecValue adapts ParseMemorySpec to flag.Value.
type MemorySpecValue struct {
	Bytes uint64
	raw   string
}

func (v *MemorySpecValue) String() string {
	return v.raw
}

func (v *MemorySpecValue) Set(s string) error {
	bytes, err := ParseMemorySpec(s)
	if err != nil {
		return err
	}
	v.Bytes = bytes
	v.raw = s
	return nil
}
