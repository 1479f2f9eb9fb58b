package device_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/device"
)

const testImageSize = 8 << 20

// newSuperBlock returns a superblock that passes every check for a
// test image.
func newSuperBlock() *device.SuperBlock {
	nsuper := device.DefaultSuperBlocks(testImageSize)
	return &device.SuperBlock{
		DeviceSize: testImageSize,
		DataSpace:  testImageSize - int64(nsuper)*device.BlockSize,
		Alignment:  8,
		NumSuper:   int32(nsuper),
		Flags:      device.FlagValid,
		Version:    1,
	}
}

// newImage creates a locked, formatted image and returns the open
// device.
func newImage(t *testing.T) *device.Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.img")
	d, err := device.Create(path, testImageSize)
	require.Nil(t, err)
	t.Cleanup(func() { d.Close() })
	require.Nil(t, device.WriteAll(d, newSuperBlock()))
	return d
}

func TestEncodeDecode(t *testing.T) {
	sb := newSuperBlock()
	sb.DataStart = 12345
	sb.DataLength = 6789
	sb.MaxLength = 9999
	buf := sb.Encode(3)
	assert.Equal(t, device.SuperBlockSize, len(buf))

	got, err := device.DecodeSuperBlock(buf, 3)
	require.Nil(t, err)
	assert.Equal(t, sb.DeviceSize, got.DeviceSize)
	assert.Equal(t, sb.DataSpace, got.DataSpace)
	assert.Equal(t, int64(12345), got.DataStart)
	assert.Equal(t, int64(6789), got.DataLength)
	assert.Equal(t, int64(9999), got.MaxLength)
	assert.Equal(t, sb.Version, got.Version)
	assert.Equal(t, sb.Flags, got.Flags)
	assert.Equal(t, sb.Alignment, got.Alignment)
	assert.Equal(t, sb.NumSuper, got.NumSuper)
	assert.Equal(t, int32(3), got.ThisSuper)
}

func TestDecodeRejectsTamper(t *testing.T) {
	buf := newSuperBlock().Encode(0)
	buf[16] ^= 0xff
	_, err := device.DecodeSuperBlock(buf, 0)
	assert.IsType(t, device.InvalidSuperBlockError{}, err)

	_, err = device.DecodeSuperBlock(buf[:100], 0)
	assert.IsType(t, device.InvalidSuperBlockError{}, err)
}

func TestCheck(t *testing.T) {
	sb := newSuperBlock()
	assert.Equal(t, device.CheckOK, sb.Check(testImageSize, 0))

	// Index mismatch counts as a flag defect.
	assert.NotEqual(t, device.CheckOK,
		sb.Check(testImageSize, 1)&device.CheckFlagBits)

	sb = newSuperBlock()
	sb.Flags = 0
	assert.NotEqual(t, device.CheckFlags(0),
		sb.Check(testImageSize, 0)&device.CheckNoValid)

	sb = newSuperBlock()
	sb.DataSpace++
	assert.NotEqual(t, device.CheckFlags(0),
		sb.Check(testImageSize, 0)&device.CheckDataSpace)

	sb = newSuperBlock()
	sb.DataLength = 100
	sb.MaxLength = 50
	assert.NotEqual(t, device.CheckFlags(0),
		sb.Check(testImageSize, 0)&device.CheckMaxLength)

	sb = newSuperBlock()
	sb.Alignment = 7
	assert.NotEqual(t, device.CheckFlags(0),
		sb.Check(testImageSize, 0)&device.CheckAlignment)

	sb = newSuperBlock()
	sb.DeviceSize = testImageSize * 2
	chk := sb.Check(testImageSize, 0)
	assert.NotEqual(t, device.CheckFlags(0), chk&device.CheckTooBig)
}

func TestFix(t *testing.T) {
	sb := newSuperBlock()
	sb.Flags = 0x8000
	sb.DataSpace = 0
	sb.Alignment = 13
	chk := sb.Check(testImageSize, 0)
	assert.Equal(t, device.CheckFlags(0), chk&^device.CheckFixable)

	fixed := sb.Fix(chk)
	assert.NotEmpty(t, fixed)
	assert.Equal(t, device.CheckOK, sb.Check(testImageSize, 0))
}

func TestReadWrite(t *testing.T) {
	d := newImage(t)
	sb, err := device.Read(d, 0)
	require.Nil(t, err)
	assert.Equal(t, int64(testImageSize), sb.DeviceSize)

	sb.Version = 7
	require.Nil(t, device.Write(d, sb, 5, true))
	got, err := device.Read(d, 5)
	require.Nil(t, err)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, int32(5), got.ThisSuper)
}

func TestSearch(t *testing.T) {
	d := newImage(t)

	// Destroy superblock 0, Search must land on 1.
	require.Nil(t, d.WriteAt(make([]byte, device.SuperBlockSize),
		device.SuperBlockByteOffset(0)))
	sb, n, err := device.Search(d)
	require.Nil(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(testImageSize), sb.DeviceSize)
}

func TestScanBest(t *testing.T) {
	d := newImage(t)
	sb, err := device.Read(d, 0)
	require.Nil(t, err)

	newer := *sb
	newer.Version = 42
	require.Nil(t, device.Write(d, &newer, 4, true))

	best := device.ScanBest(d, sb)
	assert.Equal(t, int64(42), best.Version)
}

func TestOpenBest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.img")
	d, err := device.Create(path, testImageSize)
	require.Nil(t, err)
	require.Nil(t, device.WriteAll(d, newSuperBlock()))
	require.Nil(t, d.Close())

	d, sb, err := device.OpenBest(path, false)
	require.Nil(t, err)
	assert.Equal(t, int64(1), sb.Version)
	require.Nil(t, d.Close())
}

func TestOpenBestDirtyPicksNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.img")
	d, err := device.Create(path, testImageSize)
	require.Nil(t, err)
	dirty := newSuperBlock()
	dirty.Flags |= device.FlagDirty
	require.Nil(t, device.WriteAll(d, dirty))
	newer := *dirty
	newer.Version = 9
	newer.DataLength = 320
	newer.MaxLength = 320
	require.Nil(t, device.Write(d, &newer, 7, true))
	require.Nil(t, d.Close())

	d, sb, err := device.OpenBest(path, false)
	require.Nil(t, err)
	assert.Equal(t, int64(9), sb.Version)
	assert.Equal(t, int64(320), sb.DataLength)
	require.Nil(t, d.Close())
}

func TestOpenBestRefusesUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.img")
	d, err := device.Create(path, testImageSize)
	require.Nil(t, err)
	sb := newSuperBlock()
	sb.Flags |= device.FlagUpdate
	require.Nil(t, device.WriteAll(d, sb))
	require.Nil(t, d.Close())

	_, _, err = device.OpenBest(path, false)
	assert.IsType(t, device.UpdateInProgressError(""), err)
}

func TestOpenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.img")
	d, err := device.Create(path, testImageSize)
	require.Nil(t, err)
	defer d.Close()

	_, err = device.Open(path, false)
	assert.IsType(t, device.LockedError(""), err)
}
