package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/journal"
	"github.com/gladserv/shallfs/utils/test"
)

// filledImage creates an image holding count committed records and
// returns the open device and its superblock.
func filledImage(t *testing.T, count int) (*device.Device, *device.SuperBlock) {
	t.Helper()
	path := test.MakeDummyDevice(t.TempDir(), testImageSize)
	test.FillDevice(path, test.DummyRecords(count, 8))
	d, err := device.Open(path, true)
	require.Nil(t, err)
	t.Cleanup(func() { d.Close() })
	sb, err := device.Read(d, 0)
	require.Nil(t, err)
	return d, sb
}

func TestDataReader(t *testing.T) {
	// 1200 records are enough to stream past the superblock in
	// block 20.
	const count = 1200
	d, sb := filledImage(t, count)
	require.True(t, sb.DataLength > 19*device.BlockSize)

	r := device.NewDataReader(d, sb)
	assert.Equal(t, sb.DataLength, r.Remaining())

	buf := make([]byte, sb.DataLength)
	require.Nil(t, r.Read(buf))
	assert.Equal(t, int64(0), r.Remaining())

	want := []journal.Op{
		journal.OpCreate, journal.OpWrite, journal.OpClose, journal.OpDelete,
	}
	parsed := 0
	for off := 0; off < len(buf); {
		rec, err := journal.Parse(buf[off:])
		require.Nil(t, err, "record %d at offset %d", parsed, off)
		assert.Equal(t, want[parsed%4], rec.Op)
		require.NotNil(t, rec.Creds)
		assert.Equal(t, uint64(1000), rec.Creds.UID)
		off += rec.Length
		parsed++
	}
	assert.Equal(t, count, parsed)
}

func TestDataReaderSkip(t *testing.T) {
	d, sb := filledImage(t, 8)
	r := device.NewDataReader(d, sb)

	head := make([]byte, journal.HeaderSize)
	require.Nil(t, r.Read(head))
	first, err := journal.ParseHeader(head)
	require.Nil(t, err)
	assert.Equal(t, journal.OpCreate, first.Op)

	// Skip the rest of the first record, the next header parses as
	// the write that follows it.
	r.Skip(int64(first.Length - journal.HeaderSize))
	require.Nil(t, r.Read(head))
	second, err := journal.ParseHeader(head)
	require.Nil(t, err)
	assert.Equal(t, journal.OpWrite, second.Op)
	assert.Equal(t, sb.DataLength-int64(first.Length)-journal.HeaderSize,
		r.Remaining())
}
