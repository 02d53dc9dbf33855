package procfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCPUInfo = `processor	: 0
physical id	: 0
model name	: Test CPU

processor	: 1
physical id	: 0
model name	: Test CPU

processor	: 2
physical id	: 1
model name	: Test CPU
`

func TestParseCPUInfo(t *testing.T) {
	info, err := ParseCPUInfo(strings.NewReader(sampleCPUInfo))
	require.NoError(t, err)
	assert.Equal(t, 3, info.ProcessorCount)
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, info.LogicalIDs)
	assert.Equal(t, map[int]bool{0: true, 1: true}, info.PhysicalIDs)
}

func TestParseCPUInfoSingleSocketFallback(t *testing.T) {
	info, err := ParseCPUInfo(strings.NewReader("processor\t: 0\nprocessor\t: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, info.ProcessorCount)
	assert.Equal(t, map[int]bool{0: true}, info.PhysicalIDs)
}

const sampleIomem = `00000000-00000fff : Reserved
00001000-0009ffff : System RAM
80000000-ffffffff : multikernel
  80000000-bfffffff : mk-instance-web
100000000-13fffffff : mk-instance-db
`

func TestParseIomem(t *testing.T) {
	ranges, err := ParseIomem(strings.NewReader(sampleIomem))
	require.NoError(t, err)
	require.Len(t, ranges, 4)

	mk, ok := FindMultikernelRange(ranges)
	require.True(t, ok)
	assert.Equal(t, uint64(0x80000000), mk.Base)
	assert.Equal(t, uint64(0xffffffff), mk.End)

	instances := InstanceRegions(ranges)
	require.Len(t, instances, 1)
	assert.Equal(t, uint64(0x100000000), instances[0].Base)
}

func TestIomemRangeSize(t *testing.T) {
	r := IomemRange{Base: 0x1000, End: 0x1fff}
	assert.Equal(t, uint64(0x1000), r.Size())
}

func TestParseMemInfoTotal(t *testing.T) {
	total, err := ParseMemInfoTotal(strings.NewReader("MemTotal:       16777216 kB\nMemFree: 1000 kB\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(16777216*1024), total)
}

func TestParseMemInfoTotalMissing(t *testing.T) {
	_, err := ParseMemInfoTotal(strings.NewReader("MemFree: 1000 kB\n"))
	assert.Error(t, err)
}

func TestHasMountType(t *testing.T) {
	mounts := "multikernel0 /sys/fs/multikernel multikernel rw 0 0\nproc /proc proc rw 0 0\n"
	ok, err := HasMountType(strings.NewReader(mounts), "multikernel")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasMountType(strings.NewReader(mounts), "tmpfs")
	require.NoError(t, err)
	assert.False(t, ok)
}
