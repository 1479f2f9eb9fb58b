package journal

import (
	"encoding/binary"
	"time"

	"github.com/gladserv/shallfs/device"
)

// HeaderSize is the fixed record header length; the CRC covers the
// first 28 bytes.
const (
	HeaderSize    = 32
	headerCRCSize = 28
	CredsSize     = 48
	HashLength    = 32
)

// Record flag bits. Exactly one payload bit from DataMask may be set.
const (
	FlagFile1  uint32 = 0x0001
	FlagFile2  uint32 = 0x0002
	FlagCreds  uint32 = 0x0004
	FlagFileID uint32 = 0x0100
	FlagAttr   uint32 = 0x0200
	FlagXattr  uint32 = 0x0400
	FlagRegion uint32 = 0x0800
	FlagSize   uint32 = 0x1000
	FlagACL    uint32 = 0x2000
	FlagHash   uint32 = 0x4000
	FlagData   uint32 = 0x8000

	DataMask uint32 = 0xff00
)

// Creds carries the identity of the process making a request.
type Creds struct {
	UID, EUID, FSUID uint64
	GID, EGID, FSGID uint64
}

// Region identifies a byte range of an open file.
type Region struct {
	Start  uint64
	Length uint64
	FileID uint32
}

// Hash is a region plus the sha256 digest of its new contents.
type Hash struct {
	Region
	Digest [HashLength]byte
}

// Data is a region plus a verbatim copy of its new contents.
type Data struct {
	Region
	Bytes []byte
}

// Attr flag bits select which fields of an attribute change are
// meaningful.
const (
	AttrMode  uint32 = 0x0001
	AttrUser  uint32 = 0x0002
	AttrGroup uint32 = 0x0004
	AttrBlock uint32 = 0x0008
	AttrChar  uint32 = 0x0010
	AttrSize  uint32 = 0x0020
	AttrAtime uint32 = 0x0040
	AttrMtime uint32 = 0x0080
	AttrExcl  uint32 = 0x0100
)

// Attr describes a metadata change. Size doubles as the device number
// for mknod: major in the upper 32 bits, minor in the lower.
type Attr struct {
	Flags     uint32
	Mode      uint32
	User      uint32
	Group     uint32
	Size      uint64
	AtimeSec  uint64
	MtimeSec  uint64
	AtimeNsec uint32
	MtimeNsec uint32
}

// ACL permission bits, packed four entries to a word at shifts 0, 7,
// 14 and 21 for the user, group, other and mask entries; bit 28
// distinguishes an access ACL from a default one.
const (
	ACLRead    uint32 = 0x0001
	ACLWrite   uint32 = 0x0002
	ACLExecute uint32 = 0x0004
	ACLAdd     uint32 = 0x0008
	ACLDelete  uint32 = 0x0010

	ACLAccess uint32 = 1 << 28
)

// ACLEntry is one named user or group entry; bit 28 of Type marks a
// group entry.
type ACLEntry struct {
	Type uint32
	Name uint32
}

// ACL is the combined object permissions plus named entries.
type ACL struct {
	Perm    uint32
	Entries []ACLEntry
}

// Xattr describes a set/remove of one extended attribute.
type Xattr struct {
	Flags uint32
	Name  []byte
	Value []byte
}

// Record is the decoded form of one journal record.
type Record struct {
	Op     Op
	Time   time.Time
	Result int32
	Flags  uint32

	Creds        *Creds
	File1, File2 []byte

	FileID uint32
	Size   uint64
	Region *Region
	Hash   *Hash
	Data   *Data
	Attr   *Attr
	ACL    *ACL
	Xattr  *Xattr

	// Length is next_header: the padded on-disk size.
	Length int
}

// payloadSize returns the size of the typed payload selected by the
// record's flags.
func (r *Record) payloadSize() int {
	switch r.Flags & DataMask {
	case FlagFileID:
		return 4
	case FlagSize:
		return 8
	case FlagRegion:
		return 20
	case FlagHash:
		return 20 + HashLength
	case FlagData:
		return 20 + len(r.Data.Bytes)
	case FlagAttr:
		return 48
	case FlagACL:
		return 8 + 8*len(r.ACL.Entries)
	case FlagXattr:
		return 12 + len(r.Xattr.Name) + len(r.Xattr.Value)
	}
	return 0
}

// UnpaddedLen returns the record length before alignment padding.
func (r *Record) UnpaddedLen() int {
	n := HeaderSize
	if r.Flags&FlagCreds != 0 {
		n += CredsSize
	}
	if r.Flags&FlagFile1 != 0 {
		n += 4 + len(r.File1)
	}
	if r.Flags&FlagFile2 != 0 {
		n += 4 + len(r.File2)
	}
	return n + r.payloadSize()
}

// Align rounds n up to the next multiple of alignment.
func Align(n int, alignment int) int {
	if rem := n % alignment; rem != 0 {
		n += alignment - rem
	}
	return n
}

// EncodedLen returns next_header for the record at the given
// alignment.
func (r *Record) EncodedLen(alignment int) int {
	return Align(r.UnpaddedLen(), alignment)
}

// Encode serialises the record into buf, which must hold EncodedLen
// bytes, and returns the encoded length. Padding is zeroed.
func (r *Record) Encode(buf []byte, alignment int) int {
	le := binary.LittleEndian
	length := r.EncodedLen(alignment)
	for i := 0; i < length; i++ {
		buf[i] = 0
	}
	le.PutUint32(buf[0:], uint32(length))
	le.PutUint32(buf[4:], uint32(r.Op))
	le.PutUint64(buf[8:], uint64(r.Time.Unix()))
	le.PutUint32(buf[16:], uint32(r.Time.Nanosecond()))
	le.PutUint32(buf[20:], uint32(r.Result))
	le.PutUint32(buf[24:], r.Flags)
	le.PutUint32(buf[28:], device.Checksum(buf[:headerCRCSize]))
	off := HeaderSize
	if r.Flags&FlagCreds != 0 {
		c := r.Creds
		if c == nil {
			c = &Creds{}
		}
		le.PutUint64(buf[off:], c.UID)
		le.PutUint64(buf[off+8:], c.EUID)
		le.PutUint64(buf[off+16:], c.FSUID)
		le.PutUint64(buf[off+24:], c.GID)
		le.PutUint64(buf[off+32:], c.EGID)
		le.PutUint64(buf[off+40:], c.FSGID)
		off += CredsSize
	}
	if r.Flags&FlagFile1 != 0 {
		le.PutUint32(buf[off:], uint32(len(r.File1)))
		off += 4 + copy(buf[off+4:], r.File1)
	}
	if r.Flags&FlagFile2 != 0 {
		le.PutUint32(buf[off:], uint32(len(r.File2)))
		off += 4 + copy(buf[off+4:], r.File2)
	}
	switch r.Flags & DataMask {
	case FlagFileID:
		le.PutUint32(buf[off:], r.FileID)
	case FlagSize:
		le.PutUint64(buf[off:], r.Size)
	case FlagRegion:
		putRegion(buf[off:], r.Region)
	case FlagHash:
		putRegion(buf[off:], &r.Hash.Region)
		copy(buf[off+20:], r.Hash.Digest[:])
	case FlagData:
		putRegion(buf[off:], &r.Data.Region)
		copy(buf[off+20:], r.Data.Bytes)
	case FlagAttr:
		a := r.Attr
		le.PutUint32(buf[off:], a.Flags)
		le.PutUint32(buf[off+4:], a.Mode)
		le.PutUint32(buf[off+8:], a.User)
		le.PutUint32(buf[off+12:], a.Group)
		le.PutUint64(buf[off+16:], a.Size)
		le.PutUint64(buf[off+24:], a.AtimeSec)
		le.PutUint64(buf[off+32:], a.MtimeSec)
		le.PutUint32(buf[off+40:], a.AtimeNsec)
		le.PutUint32(buf[off+44:], a.MtimeNsec)
	case FlagACL:
		le.PutUint32(buf[off:], uint32(len(r.ACL.Entries)))
		le.PutUint32(buf[off+4:], r.ACL.Perm)
		p := off + 8
		for _, e := range r.ACL.Entries {
			le.PutUint32(buf[p:], e.Type)
			le.PutUint32(buf[p+4:], e.Name)
			p += 8
		}
	case FlagXattr:
		x := r.Xattr
		le.PutUint32(buf[off:], x.Flags)
		le.PutUint32(buf[off+4:], uint32(len(x.Name)))
		le.PutUint32(buf[off+8:], uint32(len(x.Value)))
		p := off + 12
		p += copy(buf[p:], x.Name)
		copy(buf[p:], x.Value)
	}
	return length
}

func putRegion(buf []byte, rg *Region) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], rg.Start)
	le.PutUint64(buf[8:], rg.Length)
	le.PutUint32(buf[16:], rg.FileID)
}

func getRegion(buf []byte) Region {
	le := binary.LittleEndian
	return Region{
		Start:  le.Uint64(buf[0:]),
		Length: le.Uint64(buf[8:]),
		FileID: le.Uint32(buf[16:]),
	}
}

// ParseHeader decodes and verifies a record header, returning the
// partially filled record (no trailing fields).
func ParseHeader(buf []byte) (*Record, error) {
	le := binary.LittleEndian
	if len(buf) < HeaderSize {
		return nil, ShortRecordError(len(buf))
	}
	if le.Uint32(buf[28:]) != device.Checksum(buf[:headerCRCSize]) {
		return nil, BadChecksumError{}
	}
	length := int(le.Uint32(buf[0:]))
	if length < HeaderSize {
		return nil, BadLengthError(length)
	}
	sec := int64(le.Uint64(buf[8:]))
	nsec := int64(le.Uint32(buf[16:]))
	return &Record{
		Op:     Op(int32(le.Uint32(buf[4:]))),
		Time:   time.Unix(sec, nsec),
		Result: int32(le.Uint32(buf[20:])),
		Flags:  le.Uint32(buf[24:]),
		Length: length,
	}, nil
}

// Parse decodes a whole record, header plus trailing fields, from
// buf. buf must contain at least next_header bytes.
func Parse(buf []byte) (*Record, error) {
	le := binary.LittleEndian
	r, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < r.Length {
		return nil, ShortRecordError(len(buf))
	}
	body := buf[:r.Length]
	off := HeaderSize
	need := func(n int) bool { return off+n <= len(body) }
	if r.Flags&FlagCreds != 0 {
		if !need(CredsSize) {
			return nil, ShortRecordError(len(body))
		}
		r.Creds = &Creds{
			UID:   le.Uint64(body[off:]),
			EUID:  le.Uint64(body[off+8:]),
			FSUID: le.Uint64(body[off+16:]),
			GID:   le.Uint64(body[off+24:]),
			EGID:  le.Uint64(body[off+32:]),
			FSGID: le.Uint64(body[off+40:]),
		}
		off += CredsSize
	}
	for _, which := range []uint32{FlagFile1, FlagFile2} {
		if r.Flags&which == 0 {
			continue
		}
		if !need(4) {
			return nil, ShortRecordError(len(body))
		}
		n := int(le.Uint32(body[off:]))
		off += 4
		if !need(n) {
			return nil, ShortRecordError(len(body))
		}
		name := make([]byte, n)
		copy(name, body[off:])
		if which == FlagFile1 {
			r.File1 = name
		} else {
			r.File2 = name
		}
		off += n
	}
	switch r.Flags & DataMask {
	case 0:
	case FlagFileID:
		if !need(4) {
			return nil, ShortRecordError(len(body))
		}
		r.FileID = le.Uint32(body[off:])
	case FlagSize:
		if !need(8) {
			return nil, ShortRecordError(len(body))
		}
		r.Size = le.Uint64(body[off:])
	case FlagRegion:
		if !need(20) {
			return nil, ShortRecordError(len(body))
		}
		rg := getRegion(body[off:])
		r.Region = &rg
	case FlagHash:
		if !need(20 + HashLength) {
			return nil, ShortRecordError(len(body))
		}
		h := &Hash{Region: getRegion(body[off:])}
		copy(h.Digest[:], body[off+20:])
		r.Hash = h
	case FlagData:
		if !need(20) {
			return nil, ShortRecordError(len(body))
		}
		d := &Data{Region: getRegion(body[off:])}
		n := int(d.Length)
		if !need(20 + n) {
			return nil, ShortRecordError(len(body))
		}
		d.Bytes = make([]byte, n)
		copy(d.Bytes, body[off+20:])
		r.Data = d
	case FlagAttr:
		if !need(48) {
			return nil, ShortRecordError(len(body))
		}
		r.Attr = &Attr{
			Flags:     le.Uint32(body[off:]),
			Mode:      le.Uint32(body[off+4:]),
			User:      le.Uint32(body[off+8:]),
			Group:     le.Uint32(body[off+12:]),
			Size:      le.Uint64(body[off+16:]),
			AtimeSec:  le.Uint64(body[off+24:]),
			MtimeSec:  le.Uint64(body[off+32:]),
			AtimeNsec: le.Uint32(body[off+40:]),
			MtimeNsec: le.Uint32(body[off+44:]),
		}
	case FlagACL:
		if !need(8) {
			return nil, ShortRecordError(len(body))
		}
		count := int(le.Uint32(body[off:]))
		acl := &ACL{Perm: le.Uint32(body[off+4:])}
		p := off + 8
		for i := 0; i < count; i++ {
			if p+8 > len(body) {
				return nil, ShortRecordError(len(body))
			}
			acl.Entries = append(acl.Entries, ACLEntry{
				Type: le.Uint32(body[p:]),
				Name: le.Uint32(body[p+4:]),
			})
			p += 8
		}
		r.ACL = acl
	case FlagXattr:
		if !need(12) {
			return nil, ShortRecordError(len(body))
		}
		x := &Xattr{Flags: le.Uint32(body[off:])}
		nl := int(le.Uint32(body[off+4:]))
		vl := int(le.Uint32(body[off+8:]))
		p := off + 12
		if p+nl+vl > len(body) {
			return nil, ShortRecordError(len(body))
		}
		x.Name = append([]byte(nil), body[p:p+nl]...)
		x.Value = append([]byte(nil), body[p+nl:p+nl+vl]...)
		r.Xattr = x
	default:
		return nil, BadFlagsError(r.Flags)
	}
	return r, nil
}
