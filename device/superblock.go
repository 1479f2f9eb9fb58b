package device

import (
	"bytes"
	"encoding/binary"
)

// SuperBlock is the decoded form of the 1024-byte on-disk superblock.
// New* fields stage an offline resize and stay zero in normal use.
type SuperBlock struct {
	DeviceSize int64
	DataSpace  int64
	DataStart  int64
	DataLength int64
	MaxLength  int64
	Version    int64
	Flags      uint32
	Alignment  int32
	NumSuper   int32
	ThisSuper  int32

	NewSize      int64
	NewAlignment int32
	NewSuper     int32
}

// Byte offsets within the encoded superblock.
const (
	sbOffMagic1     = 0
	sbOffDeviceSize = 8
	sbOffDataSpace  = 16
	sbOffDataStart  = 24
	sbOffDataLength = 32
	sbOffMaxLength  = 40
	sbOffVersion    = 48
	sbOffFlags      = 56
	sbOffAlignment  = 60
	sbOffNumSuper   = 64
	sbOffThisSuper  = 68
	sbOffNewSize    = 768
	sbOffNewAlign   = 776
	sbOffNewSuper   = 780
	sbOffMagic2     = 1012
	sbOffChecksum   = 1020
)

// Encode serialises the superblock for index n, stamping the self
// index and the trailing checksum.
func (sb *SuperBlock) Encode(n int) []byte {
	buf := make([]byte, SuperBlockSize)
	le := binary.LittleEndian
	copy(buf[sbOffMagic1:], Magic)
	le.PutUint64(buf[sbOffDeviceSize:], uint64(sb.DeviceSize))
	le.PutUint64(buf[sbOffDataSpace:], uint64(sb.DataSpace))
	le.PutUint64(buf[sbOffDataStart:], uint64(sb.DataStart))
	le.PutUint64(buf[sbOffDataLength:], uint64(sb.DataLength))
	le.PutUint64(buf[sbOffMaxLength:], uint64(sb.MaxLength))
	le.PutUint64(buf[sbOffVersion:], uint64(sb.Version))
	le.PutUint32(buf[sbOffFlags:], sb.Flags)
	le.PutUint32(buf[sbOffAlignment:], uint32(sb.Alignment))
	le.PutUint32(buf[sbOffNumSuper:], uint32(sb.NumSuper))
	le.PutUint32(buf[sbOffThisSuper:], uint32(n))
	le.PutUint64(buf[sbOffNewSize:], uint64(sb.NewSize))
	le.PutUint32(buf[sbOffNewAlign:], uint32(sb.NewAlignment))
	le.PutUint32(buf[sbOffNewSuper:], uint32(sb.NewSuper))
	copy(buf[sbOffMagic2:], Magic)
	le.PutUint32(buf[sbOffChecksum:], Checksum(buf[:sbOffChecksum]))
	return buf
}

// DecodeSuperBlock parses an encoded superblock, verifying the
// checksum and both magic strings only.
func DecodeSuperBlock(buf []byte, n int) (*SuperBlock, error) {
	le := binary.LittleEndian
	if len(buf) < SuperBlockSize {
		return nil, InvalidSuperBlockError{Index: n}
	}
	if le.Uint32(buf[sbOffChecksum:]) != Checksum(buf[:sbOffChecksum]) {
		return nil, InvalidSuperBlockError{Index: n}
	}
	if !bytes.Equal(buf[sbOffMagic1:sbOffMagic1+8], []byte(Magic)) ||
		!bytes.Equal(buf[sbOffMagic2:sbOffMagic2+8], []byte(Magic)) {
		return nil, InvalidSuperBlockError{Index: n}
	}
	sb := &SuperBlock{
		DeviceSize:   int64(le.Uint64(buf[sbOffDeviceSize:])),
		DataSpace:    int64(le.Uint64(buf[sbOffDataSpace:])),
		DataStart:    int64(le.Uint64(buf[sbOffDataStart:])),
		DataLength:   int64(le.Uint64(buf[sbOffDataLength:])),
		MaxLength:    int64(le.Uint64(buf[sbOffMaxLength:])),
		Version:      int64(le.Uint64(buf[sbOffVersion:])),
		Flags:        le.Uint32(buf[sbOffFlags:]),
		Alignment:    int32(le.Uint32(buf[sbOffAlignment:])),
		NumSuper:     int32(le.Uint32(buf[sbOffNumSuper:])),
		ThisSuper:    int32(le.Uint32(buf[sbOffThisSuper:])),
		NewSize:      int64(le.Uint64(buf[sbOffNewSize:])),
		NewAlignment: int32(le.Uint32(buf[sbOffNewAlign:])),
		NewSuper:     int32(le.Uint32(buf[sbOffNewSuper:])),
	}
	return sb, nil
}

// ReadRaw reads and decodes superblock n without consistency checks.
func ReadRaw(d *Device, n int) (*SuperBlock, error) {
	buf := make([]byte, SuperBlockSize)
	if err := d.ReadAt(buf, SuperBlockByteOffset(n)); err != nil {
		return nil, err
	}
	return DecodeSuperBlock(buf, n)
}

// Read reads superblock n and runs the full consistency check.
func Read(d *Device, n int) (*SuperBlock, error) {
	sb, err := ReadRaw(d, n)
	if err != nil {
		return nil, err
	}
	if chk := sb.Check(d.Size(), n); chk != CheckOK {
		return nil, InvalidSuperBlockError{Index: n, Check: chk}
	}
	return sb, nil
}

// Write encodes the superblock and writes it at the canonical location
// for index n, optionally syncing the device.
func Write(d *Device, sb *SuperBlock, n int, sync bool) error {
	if err := d.WriteAt(sb.Encode(n), SuperBlockByteOffset(n)); err != nil {
		return err
	}
	if sync {
		return d.Sync()
	}
	return nil
}

// WriteAll writes the superblock to every location in [0, NumSuper).
func WriteAll(d *Device, sb *SuperBlock) error {
	for n := 0; n < int(sb.NumSuper); n++ {
		if err := Write(d, sb, n, false); err != nil {
			return err
		}
	}
	return d.Sync()
}

// Search scans superblock locations starting at 1 until one decodes
// and checks clean, or the next location falls past end of device.
func Search(d *Device) (*SuperBlock, int, error) {
	for n := 1; ; n++ {
		if SuperBlockByteOffset(n) >= d.Size() {
			return nil, 0, NoSuperBlockError(d.Path())
		}
		sb, err := Read(d, n)
		if err != nil {
			continue
		}
		return sb, n, nil
	}
}

// ScanBest reads every superblock and returns the valid one with the
// greatest version, starting from the given candidate.
func ScanBest(d *Device, sb *SuperBlock) *SuperBlock {
	best := sb
	for n := 0; n < int(sb.NumSuper); n++ {
		cand, err := Read(d, n)
		if err != nil {
			continue
		}
		if cand.Version > best.Version {
			best = cand
		}
	}
	return best
}

// OpenBest opens the device and performs automatic superblock
// recovery: superblock 0 first, then a location scan, then a
// whole-device version scan when the winner is dirty. A superblock
// carrying the update flag refuses with UpdateInProgressError.
func OpenBest(path string, readonly bool) (*Device, *SuperBlock, error) {
	d, err := Open(path, readonly)
	if err != nil {
		return nil, nil, err
	}
	sb, err := Read(d, 0)
	if err != nil {
		if sb, _, err = Search(d); err != nil {
			d.Close()
			return nil, nil, err
		}
	}
	if sb.Flags&FlagUpdate != 0 {
		d.Close()
		return nil, nil, UpdateInProgressError(path)
	}
	if sb.Flags&FlagDirty != 0 {
		sb = ScanBest(d, sb)
	}
	return d, sb, nil
}
