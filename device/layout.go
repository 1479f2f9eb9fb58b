// Package device implements the on-disk layout of a shallfs journal
// device: fixed-size blocks, interleaved superblocks at quadratic
// locations, and the ring-buffer addressing that skips over them.
package device

import "hash/crc32"

const (
	// BlockSize is the fixed device block size.
	BlockSize = 4096

	// SuperBlockSize is the encoded size of a superblock.
	SuperBlockSize = 1024

	// SuperBlockOffset is the offset of the superblock within its
	// device block, leaving the head of block 0 free for partition
	// metadata.
	SuperBlockOffset = BlockSize - SuperBlockSize

	// MinDeviceSize is the smallest device the format accepts.
	MinDeviceSize = 65536

	// MinSuperBlocks is the smallest usable superblock count.
	MinSuperBlocks = 9
)

// Magic brackets the superblock payload at both ends.
const Magic = "SHALL 01"

// Superblock flag bits.
const (
	FlagValid  uint32 = 0x0001
	FlagDirty  uint32 = 0x0002
	FlagUpdate uint32 = 0x0004

	flagsKnown = FlagValid | FlagDirty | FlagUpdate
)

// SuperBlockLocation returns the device block holding superblock n.
// The spacing is quadratic so that superblocks thin out deeper into
// the device, leaving long contiguous data runs.
func SuperBlockLocation(n int) int64 {
	bn := int64(n)
	return 16*bn*bn + 4*bn
}

// SuperBlockByteOffset returns the byte offset of superblock n.
func SuperBlockByteOffset(n int) int64 {
	return SuperBlockLocation(n)*BlockSize + SuperBlockOffset
}

// DefaultSuperBlocks returns the superblock count the format tool uses
// for a device of the given size: the smallest n whose location falls
// past the end of the device.
func DefaultSuperBlocks(deviceSize int64) int {
	n := 0
	for SuperBlockByteOffset(n) < deviceSize {
		n++
	}
	return n
}

// checksumSeed is "SHAL" read little-endian.
const checksumSeed = 0x4c414853

// Checksum computes the on-disk CRC-32 over buf: reflected polynomial
// 0xEDB88320 seeded with checksumSeed and without the usual final
// inversion.
func Checksum(buf []byte) uint32 {
	return ^crc32.Update(^uint32(checksumSeed), crc32.IEEETable, buf)
}
