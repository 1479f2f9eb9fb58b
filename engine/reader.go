package engine

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/journal"
)

// AcquireReader claims the single binary reader slot. Only one binary
// stream may drain the journal at a time; a second caller gets
// BusyError until ReleaseReader.
func (e *Engine) AcquireReader() error {
	if !atomic.CompareAndSwapInt32(&e.readerActive, 0, 1) {
		return BusyError(e.dev.Path())
	}
	return nil
}

// ReleaseReader frees the slot taken by AcquireReader.
func (e *Engine) ReleaseReader() {
	atomic.StoreInt32(&e.readerActive, 0)
}

// advancePtr moves a ring pointer forward by n bytes, stepping over
// superblock blocks and the device end as it goes.
func (e *Engine) advancePtr(p *device.DevPtr, n int64) {
	p.Offset += n
	for p.Offset >= device.BlockSize {
		p.Offset -= device.BlockSize
		p.Inc(&e.maxPtr)
	}
}

// consumeBuffer drops n bytes from the front of the commit buffer tail
// and moves both ring pointers past them, resetting the buffer once it
// runs empty. Only valid when the device front is fully consumed; the
// caller must hold mu.
func (e *Engine) consumeBuffer(n int64) {
	e.cur.bufRead += int(n)
	e.cur.dataStart = (e.cur.dataStart + n) % e.dataSpace
	e.cur.dataLength -= n
	e.advancePtr(&e.cur.startPtr, n)
	e.advancePtr(&e.cur.commitPtr, n)
	if e.cur.bufRead == e.cur.bufWritten {
		e.cur.bufRead = 0
		e.cur.bufWritten = 0
	}
}

// readData copies the next len(dst) journal bytes into dst and consumes
// them, device-resident bytes first, then the commit buffer tail. The
// caller must hold mu, must not ask for more than dataLength bytes, and
// should snapshot the cursor beforehand to undo a failed read.
func (e *Engine) readData(dst []byte) error {
	n := int64(len(dst))
	got := int64(0)
	for n > 0 && e.cur.committed > 0 {
		todo := device.BlockSize - e.cur.startPtr.Offset
		if todo > e.cur.committed {
			todo = e.cur.committed
		}
		if todo > n {
			todo = n
		}
		off := e.cur.startPtr.ByteOffset()
		if err := e.dev.ReadAt(dst[got:got+todo], off); err != nil {
			e.log.Error("cannot read block %d: %v",
				e.cur.startPtr.Block, err)
			return err
		}
		e.advancePtr(&e.cur.startPtr, todo)
		e.cur.dataStart = (e.cur.dataStart + todo) % e.dataSpace
		e.cur.dataLength -= todo
		e.cur.committed -= todo
		got += todo
		n -= todo
	}
	if n > 0 {
		copy(dst[got:], e.buf[e.cur.bufRead:])
		e.consumeBuffer(n)
	}
	return nil
}

// consumeRaw drops n journal bytes without copying them out, device
// front first, then the commit buffer tail, and returns n. The caller
// must hold mu and must not pass more than dataLength.
func (e *Engine) consumeRaw(n int64) int64 {
	done := n
	if front := e.cur.committed; front > 0 {
		if front > n {
			front = n
		}
		e.advancePtr(&e.cur.startPtr, front)
		e.cur.dataStart = (e.cur.dataStart + front) % e.dataSpace
		e.cur.dataLength -= front
		e.cur.committed -= front
		n -= front
	}
	if n > 0 {
		e.consumeBuffer(n)
	}
	return done
}

// markRead consumes up to n journal bytes record by record and returns
// how many went. A record that would only partly fit in n stays in the
// journal untouched. Front bytes that do not decode as a record header
// cannot be walked and are dropped raw up to n. The caller must hold
// mu.
func (e *Engine) markRead(n int64) int64 {
	if n > e.cur.dataLength {
		n = e.cur.dataLength
	}
	var done int64
	for n >= journal.HeaderSize && e.cur.dataLength >= journal.HeaderSize {
		save := e.cur
		var hdr [journal.HeaderSize]byte
		if err := e.readData(hdr[:]); err != nil {
			e.cur = save
			break
		}
		head, err := journal.ParseHeader(hdr[:])
		if err != nil {
			e.cur = save
			if done == 0 {
				return e.consumeRaw(n)
			}
			break
		}
		length := int64(head.Length)
		if length > n || length-journal.HeaderSize > e.cur.dataLength {
			e.cur = save
			break
		}
		e.consumeRaw(length - journal.HeaderSize)
		done += length
		n -= length
	}
	return done
}

// noteProgress refreshes the data flag after a consumer took bytes
// out, logs a recovery marker if one is owed and wakes producers
// waiting for space. The caller must hold mu.
func (e *Engine) noteProgress() {
	if e.cur.dataLength >= journal.HeaderSize {
		atomic.StoreInt32(&e.someData, 1)
	} else {
		atomic.StoreInt32(&e.someData, 0)
	}
	e.logRecovery()
	e.logQueue.Broadcast()
}

// Discard drops up to n bytes from the front of the journal, whole
// records at a time, and returns how many were dropped. A record the
// budget only covers partially is kept.
func (e *Engine) Discard(n int64) (int64, error) {
	if n < 0 {
		return 0, InvalidRequestError("cannot clear a negative amount")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	done := e.markRead(n)
	if done > 0 {
		e.noteProgress()
	}
	return done, nil
}

// ReadBinary fills p with as many whole encoded records as fit and
// consumes them from the journal. With block set it waits until at
// least one record is available; otherwise it returns 0 when none is
// complete. Once the journal shuts down and drains it returns io.EOF.
func (e *Engine) ReadBinary(ctx context.Context, p []byte, block bool) (int, error) {
	if len(p) < journal.HeaderSize {
		return 0, InvalidRequestError("read buffer below one record header")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if block {
			err := e.waitCond(ctx, e.dataQueue, func() bool {
				return e.cur.dataLength >= journal.HeaderSize ||
					atomic.LoadInt32(&e.logsValid) == 0
			})
			if err != nil {
				return 0, err
			}
		}
		got := 0
		for e.cur.dataLength >= journal.HeaderSize &&
			got+journal.HeaderSize <= len(p) {
			save := e.cur
			if err := e.readData(p[got : got+journal.HeaderSize]); err != nil {
				e.cur = save
				return got, err
			}
			head, err := journal.ParseHeader(p[got : got+journal.HeaderSize])
			if err != nil {
				e.cur = save
				if got == 0 {
					return 0, err
				}
				break
			}
			rest := head.Length - journal.HeaderSize
			if int64(rest) > e.cur.dataLength {
				e.cur = save
				if got == 0 {
					return 0, journal.ShortRecordError(int(save.dataLength))
				}
				break
			}
			if got+head.Length > len(p) {
				e.cur = save
				if got == 0 {
					return 0, InvalidRequestError("read buffer below record size")
				}
				break
			}
			if rest > 0 {
				err := e.readData(p[got+journal.HeaderSize : got+head.Length])
				if err != nil {
					e.cur = save
					return got, err
				}
			}
			got += head.Length
		}
		if got > 0 {
			e.noteProgress()
			return got, nil
		}
		if atomic.LoadInt32(&e.logsValid) == 0 {
			return 0, io.EOF
		}
		if !block {
			return 0, nil
		}
	}
}

// NextRecord consumes and decodes the next record. With block set it
// waits for one; otherwise it returns nil when none is complete. Once
// the journal shuts down and drains it returns io.EOF.
func (e *Engine) NextRecord(ctx context.Context, block bool) (*journal.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if block {
			err := e.waitCond(ctx, e.dataQueue, func() bool {
				return e.cur.dataLength >= journal.HeaderSize ||
					atomic.LoadInt32(&e.logsValid) == 0
			})
			if err != nil {
				return nil, err
			}
		}
		if e.cur.dataLength >= journal.HeaderSize {
			save := e.cur
			var hdr [journal.HeaderSize]byte
			if err := e.readData(hdr[:]); err != nil {
				e.cur = save
				return nil, err
			}
			head, err := journal.ParseHeader(hdr[:])
			if err != nil {
				e.cur = save
				return nil, err
			}
			if int64(head.Length-journal.HeaderSize) > e.cur.dataLength {
				e.cur = save
				return nil, journal.ShortRecordError(int(save.dataLength))
			}
			body := make([]byte, head.Length)
			copy(body, hdr[:])
			if err := e.readData(body[journal.HeaderSize:]); err != nil {
				e.cur = save
				return nil, err
			}
			rec, err := journal.Parse(body)
			if err != nil {
				e.cur = save
				return nil, err
			}
			e.noteProgress()
			return rec, nil
		}
		if atomic.LoadInt32(&e.logsValid) == 0 {
			return nil, io.EOF
		}
		if !block {
			return nil, nil
		}
	}
}
