package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gladserv/shallfs/journal"
)

// overflowState counts records refused since the last recovery marker
// and the space they would have needed. It has its own lock so the
// counters can be read without the engine mutex; when both are taken
// the engine mutex comes first.
type overflowState struct {
	mu         sync.Mutex
	numDropped int64
	extraSpace int64
}

// Dropped returns the number of records lost since the last recovery
// marker, and the space they would have needed.
func (e *Engine) Dropped() (int64, int64) {
	e.overflow.mu.Lock()
	defer e.overflow.mu.Unlock()
	return e.overflow.numDropped, e.overflow.extraSpace
}

// logOverflow counts a record that found the journal full. The first
// record lost after a recovery adds an OVERFLOW marker, which fits in
// the space every append holds back. The caller must hold mu.
func (e *Engine) logOverflow(space int) {
	e.overflow.mu.Lock()
	first := e.overflow.numDropped == 0
	e.overflow.numDropped++
	e.overflow.extraSpace += int64(space)
	e.overflow.mu.Unlock()
	if !first {
		return
	}
	rec := journal.Record{Op: journal.OpOverflow, Time: time.Now()}
	length := rec.EncodedLen(e.alignment)
	if int64(length)+e.cur.dataLength > e.dataSpace {
		e.log.Error("no space held back for overflow record")
		return
	}
	e.needCommit(length)
	e.addRecord(&rec, length)
	if e.maxLength < e.cur.dataLength {
		e.maxLength = e.cur.dataLength
	}
	atomic.StoreInt32(&e.someData, 1)
	e.dataQueue.Broadcast()
}

// logRecovery adds a RECOVER marker once space is available again:
// the result carries the number of records lost, the payload the space
// they would have needed. Called after a consumer frees space; the
// caller must hold mu.
func (e *Engine) logRecovery() {
	rec := journal.Record{Op: journal.OpRecover, Flags: journal.FlagSize}
	length := rec.EncodedLen(e.alignment)
	required := int64(length + journal.Align(journal.HeaderSize, e.alignment))
	if required+e.cur.dataLength > e.dataSpace {
		return
	}
	e.overflow.mu.Lock()
	if e.overflow.numDropped == 0 {
		e.overflow.mu.Unlock()
		return
	}
	dropped := e.overflow.numDropped
	space := e.overflow.extraSpace
	e.overflow.numDropped = 0
	e.overflow.extraSpace = 0
	e.overflow.mu.Unlock()
	rec.Time = time.Now()
	rec.Result = int32(dropped)
	rec.Size = uint64(space)
	e.needCommit(length)
	e.addRecord(&rec, length)
	if e.maxLength < e.cur.dataLength {
		e.maxLength = e.cur.dataLength
	}
	atomic.StoreInt32(&e.someData, 1)
	e.dataQueue.Broadcast()
}
