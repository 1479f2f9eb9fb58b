package fsck_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/fsck"
	"github.com/gladserv/shallfs/journal"
	"github.com/gladserv/shallfs/utils/test"
)

const testImageSize = 8 << 20

// makeImage builds a formatted image holding count committed records.
func makeImage(t *testing.T, count int) string {
	t.Helper()
	path := test.MakeDummyDevice(t.TempDir(), testImageSize)
	test.FillDevice(path, test.DummyRecords(count, 8))
	return path
}

// patchSuper rewrites every superblock after fn mutated the decoded
// copy.
func patchSuper(t *testing.T, path string, fn func(*device.SuperBlock)) {
	t.Helper()
	d, err := device.Open(path, false)
	require.Nil(t, err)
	defer d.Close()
	sb, err := device.Read(d, 0)
	require.Nil(t, err)
	fn(sb)
	require.Nil(t, device.WriteAll(d, sb))
}

func readSuper(t *testing.T, path string) *device.SuperBlock {
	t.Helper()
	d, err := device.Open(path, true)
	require.Nil(t, err)
	defer d.Close()
	sb, err := device.Read(d, 0)
	require.Nil(t, err)
	return sb
}

func run(t *testing.T, path string, opts fsck.Options, answers string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := fsck.Run(path, opts, &out, strings.NewReader(answers))
	return code, out.String()
}

func TestUsageConflicts(t *testing.T) {
	path := makeImage(t, 4)
	code, _ := run(t, path, fsck.Options{Auto: true, Force: true}, "")
	assert.Equal(t, fsck.ExitUsage, code)
	code, _ = run(t, path, fsck.Options{Auto: true, Yes: true}, "")
	assert.Equal(t, fsck.ExitUsage, code)
	code, _ = run(t, path, fsck.Options{ReadOnly: true, Yes: true}, "")
	assert.Equal(t, fsck.ExitUsage, code)
}

func TestCleanShortCircuit(t *testing.T) {
	path := makeImage(t, 8)
	code, out := run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitOK, code)
	assert.Contains(t, out, "clean")
	assert.NotContains(t, out, "Pass 1")
}

func TestForceFullCheckOnGoodDevice(t *testing.T) {
	path := makeImage(t, 8)
	code, out := run(t, path, fsck.Options{Force: true}, "")
	assert.Equal(t, fsck.ExitOK, code)
	assert.Contains(t, out, "Pass 1: scan superblocks")
	assert.Contains(t, out, "Pass 2: scan data for validity")
	assert.Contains(t, out, "clean")
}

func TestDirtyDeviceCleaned(t *testing.T) {
	path := makeImage(t, 8)
	patchSuper(t, path, func(sb *device.SuperBlock) {
		sb.Flags |= device.FlagDirty
	})
	code, out := run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitCorrected, code)
	assert.Contains(t, out, "Pass 1 corrected")
	assert.Contains(t, out, "cleaned")

	assert.Equal(t, uint32(0), readSuper(t, path).Flags&device.FlagDirty)
	code, _ = run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitOK, code)
}

func TestAutoSkipsDataScan(t *testing.T) {
	path := makeImage(t, 8)
	patchSuper(t, path, func(sb *device.SuperBlock) {
		sb.Flags |= device.FlagDirty
	})
	code, out := run(t, path, fsck.Options{Auto: true}, "")
	assert.Equal(t, fsck.ExitCorrected, code)
	assert.Contains(t, out, "Skipping pass 2 in auto mode")
}

// corruptSecondRecord flips a byte in the second record's header and
// returns the offset of the corruption in journal bytes.
func corruptSecondRecord(t *testing.T, path string) int64 {
	t.Helper()
	stream := test.DummyRecords(4, 8)
	first, err := journal.Parse(stream)
	require.Nil(t, err)

	d, derr := device.Open(path, false)
	require.Nil(t, derr)
	defer d.Close()
	off := int64(device.BlockSize) + int64(first.Length) + 8
	b := make([]byte, 1)
	require.Nil(t, d.ReadAt(b, off))
	b[0] ^= 0xff
	require.Nil(t, d.WriteAt(b, off))
	return int64(first.Length)
}

func TestTruncateCorruptJournal(t *testing.T) {
	path := makeImage(t, 4)
	goodBytes := corruptSecondRecord(t, path)

	code, out := run(t, path, fsck.Options{Force: true, Yes: true}, "")
	assert.Equal(t, fsck.ExitCorrected, code)
	assert.Contains(t, out, "bad record at offset")

	assert.Equal(t, goodBytes, readSuper(t, path).DataLength)
	code, _ = run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitOK, code)
}

func TestTruncateAnsweredFromStdin(t *testing.T) {
	path := makeImage(t, 4)
	corruptSecondRecord(t, path)

	code, out := run(t, path, fsck.Options{Force: true}, "y\n")
	assert.Equal(t, fsck.ExitCorrected, code)
	assert.Contains(t, out, "Truncate journal to")
}

func TestReadOnlyLeavesCorruption(t *testing.T) {
	path := makeImage(t, 4)
	corruptSecondRecord(t, path)
	before := readSuper(t, path).DataLength

	code, out := run(t, path, fsck.Options{Force: true, ReadOnly: true}, "")
	assert.NotEqual(t, 0, code&fsck.ExitUncorrected)
	assert.Contains(t, out, "has errors")
	assert.Equal(t, before, readSuper(t, path).DataLength)
}

func TestRescueSuperBlock(t *testing.T) {
	path := makeImage(t, 8)
	d, err := device.Open(path, false)
	require.Nil(t, err)
	require.Nil(t, d.WriteAt(make([]byte, device.SuperBlockSize),
		device.SuperBlockByteOffset(0)))
	require.Nil(t, d.Close())

	code, out := run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitCorrected, code)
	assert.Contains(t, out, "rescued superblock 1")

	// The rewrite restored superblock 0.
	code, _ = run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitOK, code)
}

func TestInterruptedUpdate(t *testing.T) {
	path := makeImage(t, 4)
	patchSuper(t, path, func(sb *device.SuperBlock) {
		sb.Flags |= device.FlagUpdate
	})
	code, out := run(t, path, fsck.Options{}, "")
	assert.Equal(t, fsck.ExitOperational, code)
	assert.Contains(t, out, "an update was interrupted")
}
