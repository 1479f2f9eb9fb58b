package journal_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/journal"
)

func encode(t *testing.T, r *journal.Record, alignment int) []byte {
	t.Helper()
	buf := make([]byte, r.EncodedLen(alignment))
	n := r.Encode(buf, alignment)
	require.Equal(t, len(buf), n)
	return buf
}

func TestAlign(t *testing.T) {
	assert.Equal(t, 32, journal.Align(32, 8))
	assert.Equal(t, 40, journal.Align(33, 8))
	assert.Equal(t, 96, journal.Align(95, 8))
	assert.Equal(t, 128, journal.Align(100, 64))
}

func TestRoundTripName(t *testing.T) {
	now := time.Now()
	r := &journal.Record{
		Op:    journal.OpCreate,
		Time:  now,
		Flags: journal.FlagCreds | journal.FlagFile1,
		Creds: &journal.Creds{UID: 1000, EUID: 1000, GID: 100},
		File1: []byte("/srv/data/report.txt"),
	}
	buf := encode(t, r, 8)
	assert.Equal(t, 0, len(buf)%8)

	got, err := journal.Parse(buf)
	require.Nil(t, err)
	assert.Equal(t, journal.OpCreate, got.Op)
	assert.Equal(t, now.Unix(), got.Time.Unix())
	assert.Equal(t, now.Nanosecond(), got.Time.Nanosecond())
	assert.Equal(t, r.Flags, got.Flags)
	assert.Equal(t, []byte("/srv/data/report.txt"), got.File1)
	require.NotNil(t, got.Creds)
	assert.Equal(t, uint64(1000), got.Creds.UID)
	assert.Equal(t, uint64(100), got.Creds.GID)
	assert.Equal(t, len(buf), got.Length)
}

func TestRoundTripTwoNames(t *testing.T) {
	r := &journal.Record{
		Op:    journal.OpMove,
		Time:  time.Now(),
		Flags: journal.FlagFile1 | journal.FlagFile2,
		File1: []byte("/a/old"),
		File2: []byte("/a/new"),
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	assert.Equal(t, []byte("/a/old"), got.File1)
	assert.Equal(t, []byte("/a/new"), got.File2)
}

func TestRoundTripRegion(t *testing.T) {
	r := &journal.Record{
		Op:     journal.OpWrite,
		Time:   time.Now(),
		Flags:  journal.FlagRegion,
		Region: &journal.Region{Start: 4096, Length: 512, FileID: 7},
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	require.NotNil(t, got.Region)
	assert.Equal(t, uint64(4096), got.Region.Start)
	assert.Equal(t, uint64(512), got.Region.Length)
	assert.Equal(t, uint32(7), got.Region.FileID)
}

func TestRoundTripFileIDAndSize(t *testing.T) {
	r := &journal.Record{
		Op: journal.OpClose, Time: time.Now(),
		Flags: journal.FlagFileID, FileID: 42,
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	assert.Equal(t, uint32(42), got.FileID)

	r = &journal.Record{
		Op: journal.OpTooBig, Time: time.Now(),
		Flags: journal.FlagSize, Size: 1 << 40,
	}
	got, err = journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	assert.Equal(t, uint64(1<<40), got.Size)
}

func TestRoundTripHash(t *testing.T) {
	h := &journal.Hash{Region: journal.Region{Start: 100, Length: 32, FileID: 3}}
	for i := range h.Digest {
		h.Digest[i] = byte(i)
	}
	r := &journal.Record{
		Op: journal.OpWrite, Time: time.Now(),
		Flags: journal.FlagHash, Hash: h,
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	require.NotNil(t, got.Hash)
	assert.Equal(t, h.Digest, got.Hash.Digest)
	assert.Equal(t, uint64(100), got.Hash.Start)
}

func TestRoundTripData(t *testing.T) {
	payload := []byte("hello journal")
	r := &journal.Record{
		Op: journal.OpWrite, Time: time.Now(),
		Flags: journal.FlagData,
		Data: &journal.Data{
			Region: journal.Region{Start: 0, Length: uint64(len(payload)), FileID: 1},
			Bytes:  payload,
		},
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	require.NotNil(t, got.Data)
	assert.Equal(t, payload, got.Data.Bytes)
	assert.Equal(t, uint64(len(payload)), got.Data.Length)
}

func TestRoundTripAttr(t *testing.T) {
	r := &journal.Record{
		Op: journal.OpMeta, Time: time.Now(),
		Flags: journal.FlagFile1 | journal.FlagAttr,
		File1: []byte("/etc/motd"),
		Attr: &journal.Attr{
			Flags: journal.AttrMode | journal.AttrUser,
			Mode:  0644, User: 33, Size: 9,
			MtimeSec: 1700000000, MtimeNsec: 500,
		},
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	require.NotNil(t, got.Attr)
	assert.Equal(t, uint32(0644), got.Attr.Mode)
	assert.Equal(t, uint32(33), got.Attr.User)
	assert.Equal(t, uint64(1700000000), got.Attr.MtimeSec)
}

func TestRoundTripACL(t *testing.T) {
	r := &journal.Record{
		Op: journal.OpSetACL, Time: time.Now(),
		Flags: journal.FlagACL,
		ACL: &journal.ACL{
			Perm: journal.ACLAccess | journal.ACLRead,
			Entries: []journal.ACLEntry{
				{Type: journal.ACLRead | journal.ACLWrite, Name: 1000},
				{Type: journal.ACLRead, Name: 100},
			},
		},
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	require.NotNil(t, got.ACL)
	assert.Equal(t, r.ACL.Perm, got.ACL.Perm)
	assert.Equal(t, r.ACL.Entries, got.ACL.Entries)
}

func TestRoundTripXattr(t *testing.T) {
	r := &journal.Record{
		Op: journal.OpSetXattr, Time: time.Now(),
		Flags: journal.FlagXattr,
		Xattr: &journal.Xattr{
			Flags: 1,
			Name:  []byte("user.origin"),
			Value: []byte("imported"),
		},
	}
	got, err := journal.Parse(encode(t, r, 8))
	require.Nil(t, err)
	require.NotNil(t, got.Xattr)
	assert.Equal(t, []byte("user.origin"), got.Xattr.Name)
	assert.Equal(t, []byte("imported"), got.Xattr.Value)
}

func TestParseHeaderErrors(t *testing.T) {
	r := &journal.Record{Op: journal.OpDebug, Time: time.Now()}
	buf := encode(t, r, 8)

	_, err := journal.ParseHeader(buf[:16])
	assert.IsType(t, journal.ShortRecordError(0), err)

	buf[9] ^= 0x01
	_, err = journal.ParseHeader(buf)
	assert.IsType(t, journal.BadChecksumError{}, err)
}

func TestParseHeaderBadLength(t *testing.T) {
	// A header claiming 8 bytes with a valid checksum.
	buf := make([]byte, journal.HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], 8)
	binary.LittleEndian.PutUint32(buf[28:], device.Checksum(buf[:28]))
	_, err := journal.ParseHeader(buf)
	assert.IsType(t, journal.BadLengthError(0), err)
}

func TestParseBadFlags(t *testing.T) {
	// Two payload bits at once is a combination no operation emits.
	buf := make([]byte, journal.HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], journal.HeaderSize)
	binary.LittleEndian.PutUint32(buf[24:], journal.FlagFileID|journal.FlagSize)
	binary.LittleEndian.PutUint32(buf[28:], device.Checksum(buf[:28]))
	_, err := journal.Parse(buf)
	assert.IsType(t, journal.BadFlagsError(0), err)
}

func TestParseTruncatedBody(t *testing.T) {
	r := &journal.Record{
		Op: journal.OpCreate, Time: time.Now(),
		Flags: journal.FlagFile1, File1: []byte("/some/path"),
	}
	buf := encode(t, r, 8)
	_, err := journal.Parse(buf[:journal.HeaderSize])
	assert.IsType(t, journal.ShortRecordError(0), err)
}
