package test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/journal"
	"github.com/gladserv/shallfs/utils/log"
)

func checkfail(err error, msg string) {
	if err != nil {
		log.Error("Message: %v - Error: %v", msg, err)
		os.Exit(1)
	}
}

// MakeDummyDevice creates a formatted journal image of the given size
// in dir and returns its path. The image starts empty and clean.
func MakeDummyDevice(dir string, size int64) string {
	path := filepath.Join(dir, "journal.img")
	dev, err := device.Create(path, size)
	checkfail(err, "MakeDummyDevice: unable to create image "+path)
	defer dev.Close()
	nsuper := device.DefaultSuperBlocks(size)
	sb := &device.SuperBlock{
		DeviceSize: size,
		DataSpace:  size - int64(nsuper)*device.BlockSize,
		Alignment:  8,
		NumSuper:   int32(nsuper),
		Flags:      device.FlagValid,
	}
	checkfail(device.WriteAll(dev, sb), "MakeDummyDevice: unable to format "+path)
	return path
}

// DummyRecords builds count encoded event records, cycling through a
// small set of simulated file operations. The returned buffer is what
// a drained journal would stream.
func DummyRecords(count int, alignment int32) []byte {
	var buf []byte
	for i := 0; i < count; i++ {
		r := dummyRecord(i)
		out := make([]byte, r.EncodedLen(int(alignment)))
		r.Encode(out, int(alignment))
		buf = append(buf, out...)
	}
	return buf
}

func dummyRecord(i int) *journal.Record {
	name := fmt.Sprintf("/test/file%d", i)
	now := time.Now()
	creds := &journal.Creds{UID: 1000, GID: 1000}
	switch i % 4 {
	case 0:
		return &journal.Record{
			Op: journal.OpCreate, Time: now, Creds: creds,
			Flags: journal.FlagCreds | journal.FlagFile1,
			File1: []byte(name),
		}
	case 1:
		return &journal.Record{
			Op: journal.OpWrite, Time: now, Creds: creds,
			Flags:  journal.FlagCreds | journal.FlagRegion,
			Region: &journal.Region{Start: uint64(i) * 64, Length: 64, FileID: uint32(i)},
		}
	case 2:
		return &journal.Record{
			Op: journal.OpClose, Time: now, Creds: creds,
			Flags:  journal.FlagCreds | journal.FlagFileID,
			FileID: uint32(i),
		}
	default:
		return &journal.Record{
			Op: journal.OpDelete, Time: now, Creds: creds,
			Flags: journal.FlagCreds | journal.FlagFile1,
			File1: []byte(name),
		}
	}
}

// FillDevice writes an encoded record stream into the data area of a
// formatted image and updates the superblocks to account for it, as
// if a mounted journal had committed the events and unmounted.
func FillDevice(path string, stream []byte) {
	dev, err := device.Open(path, false)
	checkfail(err, "FillDevice: unable to open image "+path)
	defer dev.Close()
	sb, err := device.Read(dev, 0)
	checkfail(err, "FillDevice: unable to read superblock")
	ptr := device.Calculate(sb.DataStart+sb.DataLength, sb.NumSuper)
	max := device.MaxPtr(sb.DeviceSize, sb.NumSuper)
	rest := stream
	for len(rest) > 0 {
		todo := int(device.BlockSize - ptr.Offset)
		if todo > len(rest) {
			todo = len(rest)
		}
		checkfail(dev.WriteAt(rest[:todo], ptr.ByteOffset()),
			"FillDevice: unable to write record stream")
		rest = rest[todo:]
		ptr.Offset += int64(todo)
		for ptr.Offset >= device.BlockSize {
			ptr.Offset -= device.BlockSize
			ptr.Inc(&max)
		}
	}
	sb.DataLength += int64(len(stream))
	if sb.MaxLength < sb.DataLength {
		sb.MaxLength = sb.DataLength
	}
	sb.Version++
	checkfail(device.WriteAll(dev, sb), "FillDevice: unable to update superblocks")
}

// CleanupDummyDataDir removes a test directory tree.
func CleanupDummyDataDir(root string) {
	if err := os.RemoveAll(root); err != nil {
		log.Error("Failed to clean up dummy data directory - Error: %v", err)
	}
}
