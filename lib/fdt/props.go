package fdt

import (
	"encoding/binary"
	"strings"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

// Every integer property is big-endian, per the spec's explicit byte
// order requirement at each property read/write.

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func encodeU32List(vs []int) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint32(b[i*4:], uint32(v))
	}
	return b
}

func encodeString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func decodeU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, kerferrors.New(kerferrors.KindParse, "property: expected 4-byte u32, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, kerferrors.New(kerferrors.KindParse, "property: expected 8-byte u64, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func decodeU32List(b []byte) ([]int, error) {
	if len(b)%4 != 0 {
		return nil, kerferrors.New(kerferrors.KindParse, "property: u32 list length %d not a multiple of 4", len(b))
	}
	out := make([]int, len(b)/4)
	for i := range out {
		out[i] = int(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func decodeString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// decodeDeviceNames splits the overlay's "device-names" property.
// Open question settled: the emitter and parser both use a single
// space as the separator; a comma in the input is rejected rather than
// silently tolerated.
func decodeDeviceNames(b []byte) ([]string, error) {
	s := decodeString(b)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ",") {
		return nil, kerferrors.New(kerferrors.KindInvalidReference, "device-names %q uses comma separators; only space-separated is accepted", s)
	}
	return strings.Fields(s), nil
}

func encodeDeviceNames(names []string) []byte {
	return encodeString(strings.Join(names, " "))
}
