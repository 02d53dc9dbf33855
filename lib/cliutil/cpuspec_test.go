package cliutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUSpec(t *testing.T) {
	tests := []struct {
		input    string
		expected []int
		wantErr  bool
	}{
		{"0", []int{0}, false},
		{"0,2,4", []int{0, 2, 4}, false},
		{"4-7", []int{4, 5, 6, 7}, false},
		{"0,2,4-7", []int{0, 2, 4, 5, 6, 7}, false},
		{"20-23", []int{20, 21, 22, 23}, false},
		{"5,3,1", []int{1, 3, 5}, false},
		{"2,2-4", []int{2, 3, 4}, false},
		{"", nil, true},
		{"4-2", nil, true},
		{"a-3", nil, true},
		{"1,,3", nil, true},
		{"x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseCPUSpec(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCPUSpecValue(t *testing.T) {
	var v CPUSpecValue
	require.NoError(t, v.Set("2,4-6"))
	assert.Equal(t, []int{2, 4, 5, 6}, v.CPUs)
	assert.Equal(t, "2,4-6", v.String())

	require.Error(t, v.Set("bad"))
}
