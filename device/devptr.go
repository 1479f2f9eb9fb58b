package device

// DevPtr addresses a byte on the device as a physical block plus an
// offset within it, together with enough ring topology to advance
// without recomputing: the block holding the next superblock and the
// number of superblocks preceding the current position.
type DevPtr struct {
	Block     int64
	NextSuper int64
	Offset    int64
	NSuper    int32
}

// Calculate maps a logical data offset p in [0, data_space) to the
// physical block containing it, skipping superblock-holding blocks.
// It walks the quadratic superblock spacing, subtracting the data
// blocks of each inter-superblock interval until the remainder fits.
// It runs twice per mount, so it favours clarity over speed.
func Calculate(p int64, nsuper int32) DevPtr {
	remain := p / BlockSize
	ptr := DevPtr{Offset: p % BlockSize}
	var prev, result int64 = 0, 1
	nsb := int32(1)
	for nsb < nsuper && remain > 0 {
		this := SuperBlockLocation(int(nsb))
		diff := this - prev - 1
		if remain < diff {
			break
		}
		remain -= diff
		prev = this
		result += diff + 1
		nsb++
	}
	ptr.Block = result + remain
	ptr.NSuper = nsb
	if nsb < nsuper {
		ptr.NextSuper = SuperBlockLocation(int(nsb))
	}
	return ptr
}

// MaxPtr returns the wrap limit for Inc: one past the last physical
// block, with the full superblock count.
func MaxPtr(deviceSize int64, nsuper int32) DevPtr {
	return DevPtr{
		Block:  deviceSize / BlockSize,
		NSuper: nsuper,
		Offset: BlockSize,
	}
}

// Inc advances the pointer by one device block, skipping the next
// superblock block and wrapping past device end to block 1. This is
// the only place that knows the ring topology.
func (b *DevPtr) Inc(max *DevPtr) {
	b.Block++
	if b.Block >= max.Block {
		b.Block = 1
		b.NSuper = 1
	}
	if b.NSuper < max.NSuper && b.Block == b.NextSuper {
		b.Block++
		b.NSuper++
		if b.Block >= max.Block {
			b.Block = 1
			b.NSuper = 1
		}
	}
	if b.NSuper < max.NSuper {
		b.NextSuper = SuperBlockLocation(int(b.NSuper))
	} else {
		b.NextSuper = 0
	}
}

// ByteOffset returns the device byte offset the pointer addresses.
func (b *DevPtr) ByteOffset() int64 {
	return b.Block*BlockSize + b.Offset
}
