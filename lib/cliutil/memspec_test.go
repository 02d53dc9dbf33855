package cliutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemorySpec(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{"4096", 4096, false},
		{"4GB", 4 * 1024 * 1024 * 1024, false},
		{"125MB", 125 * 1024 * 1024, false},
		{"2TB", 2 * 1024 * 1024 * 1024 * 1024, false},
		{"1KB", 1024, false},
		{"", 0, true},
		{"notasize", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseMemorySpec(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMemorySpecValue(t *testing.T) {
	var v MemorySpecValue
	require.NoError(t, v.Set("4GB"))
	assert.Equal(t, uint64(4*1024*1024*1024), v.Bytes)

	require.Error(t, v.Set("garbage"))
}
