package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gladserv/shallfs/device"
)

func TestSuperBlockLocation(t *testing.T) {
	assert.Equal(t, int64(0), device.SuperBlockLocation(0))
	assert.Equal(t, int64(20), device.SuperBlockLocation(1))
	assert.Equal(t, int64(72), device.SuperBlockLocation(2))
	assert.Equal(t, int64(156), device.SuperBlockLocation(3))
	assert.Equal(t, int64(1056), device.SuperBlockLocation(8))
}

func TestSuperBlockByteOffset(t *testing.T) {
	assert.Equal(t, int64(3072), device.SuperBlockByteOffset(0))
	assert.Equal(t, int64(20*4096+3072), device.SuperBlockByteOffset(1))
}

func TestDefaultSuperBlocks(t *testing.T) {
	// 8 MiB holds superblocks 0..11, superblock 12 would start past
	// the end.
	assert.Equal(t, 12, device.DefaultSuperBlocks(8<<20))
	assert.True(t, device.SuperBlockByteOffset(11) < 8<<20)
	assert.True(t, device.SuperBlockByteOffset(12) >= 8<<20)
	assert.True(t, device.DefaultSuperBlocks(64<<20) > device.DefaultSuperBlocks(8<<20))
}

func TestChecksum(t *testing.T) {
	// The empty checksum is the raw seed, "SHAL" little-endian.
	assert.Equal(t, uint32(0x4c414853), device.Checksum(nil))
	assert.NotEqual(t, device.Checksum([]byte("a")), device.Checksum([]byte("b")))

	buf := []byte("some journal bytes")
	sum := device.Checksum(buf)
	assert.Equal(t, sum, device.Checksum(buf))
	buf[0] ^= 0x40
	assert.NotEqual(t, sum, device.Checksum(buf))
}
