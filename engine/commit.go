package engine

import (
	"sync/atomic"
	"time"

	"github.com/gladserv/shallfs/device"
)

// needCommit flushes the commit buffer if it cannot take another
// length bytes; the caller must hold mu.
func (e *Engine) needCommit(length int) {
	if length+e.cur.bufWritten > len(e.buf) {
		e.writeData(true, flushSize, false)
	}
}

// writeData drains the commit buffer to the device one block fragment
// at a time, then rotates to the next superblock if anything was
// written. With locked set the caller holds mu throughout; otherwise
// the lock is taken per fragment and dropped for the device write, so
// producers can keep appending behind the drain.
func (e *Engine) writeData(locked bool, why int, sync bool) error {
	var frag [device.BlockSize]byte
	wrote := false
	for {
		if !locked {
			e.mu.Lock()
		}
		if e.cur.committed >= e.cur.dataLength {
			e.lastCommit = time.Now()
			e.cur.bufRead = 0
			e.cur.bufWritten = 0
			var err error
			if wrote {
				e.commitCount[why]++
				e.lastSB++
				if e.lastSB >= e.numSuper {
					e.lastSB = 1
				}
				e.version++
				err = e.writeSuperBlock(int(e.lastSB), sync)
			}
			if !locked {
				e.mu.Unlock()
			}
			return err
		}
		offset := e.cur.commitPtr.Offset
		block := e.cur.commitPtr.Block
		todo := device.BlockSize - offset
		if csize := e.cur.dataLength - e.cur.committed; todo > csize {
			todo = csize
		}
		copy(frag[:todo], e.buf[e.cur.bufRead:])
		e.cur.bufRead += int(todo)
		e.cur.committed += todo
		e.cur.commitPtr.Offset += todo
		if e.cur.commitPtr.Offset >= device.BlockSize {
			e.cur.commitPtr.Offset -= device.BlockSize
			e.cur.commitPtr.Inc(&e.maxPtr)
		}
		if !locked {
			e.mu.Unlock()
		}
		off := block*device.BlockSize + offset
		if err := e.dev.WriteAt(frag[:todo], off); err != nil {
			e.log.Error("cannot update block %d: %v", block, err)
			return err
		}
		wrote = true
	}
}

// commitTask is the background task started at mount: it sleeps until
// a commit is due, then drains the buffer unless a barrier asked it to
// hold off.
func (e *Engine) commitTask() {
	defer close(e.taskDone)
	for {
		e.mu.Lock()
		interval := time.Duration(e.opts.CommitSeconds) * time.Second
		wait := time.Until(e.lastCommit.Add(interval))
		if wait <= 0 {
			wait = interval
			if atomic.LoadInt32(&e.allowCommit) != 0 &&
				atomic.CompareAndSwapInt32(&e.insideCommit, 0, 1) {
				e.mu.Unlock()
				e.writeData(false, flushTime, true)
				atomic.StoreInt32(&e.insideCommit, 0)
				e.logQueue.Broadcast()
				continue
			}
		}
		e.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-e.taskStop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// commitBarrier stops the commit task, waits out any run in progress,
// forces a full drain and runs fn with mu held before letting
// producers back in.
func (e *Engine) commitBarrier(fn func() error, sync bool) error {
	allow := atomic.SwapInt32(&e.allowCommit, 0)
	e.mu.Lock()
	for atomic.LoadInt32(&e.insideCommit) != 0 {
		e.logQueue.Wait()
	}
	err := e.writeData(true, flushForced, sync)
	if fn != nil {
		if ferr := fn(); err == nil {
			err = ferr
		}
	}
	e.mu.Unlock()
	if allow != 0 {
		atomic.StoreInt32(&e.allowCommit, allow)
	}
	e.logQueue.Broadcast()
	return err
}

// Commit forces all buffered records to the device before returning.
func (e *Engine) Commit() error {
	return e.commitBarrier(nil, true)
}
