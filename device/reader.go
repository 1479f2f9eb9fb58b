package device

// DataReader streams journal bytes in ring order from an unmounted
// device, starting at the superblock's data start.
type DataReader struct {
	dev       *Device
	ptr       DevPtr
	max       DevPtr
	remaining int64
}

func NewDataReader(d *Device, sb *SuperBlock) *DataReader {
	return &DataReader{
		dev:       d,
		ptr:       Calculate(sb.DataStart, sb.NumSuper),
		max:       MaxPtr(sb.DeviceSize, sb.NumSuper),
		remaining: sb.DataLength,
	}
}

// Remaining returns how many journal bytes are left to read.
func (r *DataReader) Remaining() int64 { return r.remaining }

// Read fills p from the journal stream. It is an error to ask for more
// than Remaining bytes.
func (r *DataReader) Read(p []byte) error {
	got := int64(0)
	n := int64(len(p))
	for n > 0 {
		todo := BlockSize - r.ptr.Offset
		if todo > n {
			todo = n
		}
		if err := r.dev.ReadAt(p[got:got+todo], r.ptr.ByteOffset()); err != nil {
			return err
		}
		r.advance(todo)
		got += todo
		n -= todo
	}
	r.remaining -= got
	return nil
}

// Skip moves past n journal bytes without reading them.
func (r *DataReader) Skip(n int64) {
	r.advance(n)
	r.remaining -= n
}

func (r *DataReader) advance(n int64) {
	r.ptr.Offset += n
	for r.ptr.Offset >= BlockSize {
		r.ptr.Offset -= BlockSize
		r.ptr.Inc(&r.max)
	}
}
