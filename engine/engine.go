package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/journal"
	"github.com/gladserv/shallfs/utils/log"
)

// Flush reasons, indexing the per-cause commit counters.
const (
	flushSize = iota
	flushTime
	flushForced
)

// cursor is the mutable journal position: the logical window
// [dataStart, dataStart+dataLength) within the ring, how much of it has
// reached the device, and the physical pointers for both ends. It is a
// plain value so readers can snapshot it and restore on a parse error.
type cursor struct {
	dataStart  int64
	dataLength int64
	committed  int64
	startPtr   device.DevPtr
	commitPtr  device.DevPtr
	bufRead    int
	bufWritten int
}

// Engine runs the journal on one open device. All cursor state is
// guarded by mu; logQueue wakes producers waiting for space or for a
// commit barrier to clear, dataQueue wakes consumers waiting for
// records.
type Engine struct {
	dev *device.Device

	deviceSize int64
	dataSpace  int64
	alignment  int
	numSuper   int32
	maxPtr     device.DevPtr

	mu        sync.Mutex
	logQueue  *sync.Cond
	dataQueue *sync.Cond

	cur cursor
	buf []byte

	opts   Options
	filter []glob.Glob
	log    *log.Logger

	logged      int64
	maxLength   int64
	version     int64
	sbFlags     uint32
	lastSB      int32
	lastCommit  time.Time
	mountedAt   time.Time
	commitCount [3]int64

	allowCommit  int32
	insideCommit int32
	someData     int32
	logsValid    int32
	readerActive int32

	overflow overflowState

	taskStop chan struct{}
	taskDone chan struct{}
}

// Mount opens the device, recovers the best superblock, marks the
// journal dirty and starts the background commit task. The returned
// engine owns the device until Unmount.
func Mount(path string, opts Options) (*Engine, error) {
	if opts.FSPath == "" {
		return nil, InvalidRequestError("fs option is required")
	}
	if opts.CommitSize < device.BlockSize {
		return nil, InvalidRequestError("commit buffer below one block")
	}
	filter, err := compileFilter(opts.PathFilter)
	if err != nil {
		return nil, err
	}
	dev, sb, err := device.OpenBest(path, false)
	if err != nil {
		if _, ok := err.(device.UpdateInProgressError); ok {
			return nil, BusyError(path)
		}
		return nil, err
	}
	e := &Engine{
		dev:        dev,
		deviceSize: sb.DeviceSize,
		dataSpace:  sb.DataSpace,
		alignment:  int(sb.Alignment),
		numSuper:   sb.NumSuper,
		maxPtr:     device.MaxPtr(sb.DeviceSize, sb.NumSuper),
		buf:        make([]byte, opts.CommitSize),
		opts:       opts,
		filter:     filter,
		log:        log.Device(filepath.Base(path)),
		maxLength:  sb.MaxLength,
		version:    sb.Version,
		sbFlags:    sb.Flags | device.FlagDirty,
		cur: cursor{
			dataStart:  sb.DataStart,
			dataLength: sb.DataLength,
			committed:  sb.DataLength,
			startPtr:   device.Calculate(sb.DataStart, sb.NumSuper),
			commitPtr: device.Calculate(
				(sb.DataStart+sb.DataLength)%sb.DataSpace, sb.NumSuper),
		},
		taskStop: make(chan struct{}),
		taskDone: make(chan struct{}),
	}
	e.logQueue = sync.NewCond(&e.mu)
	e.dataQueue = sync.NewCond(&e.mu)
	e.mountedAt = time.Now()
	e.lastCommit = e.mountedAt
	if sb.DataLength >= journal.HeaderSize {
		e.someData = 1
	}
	e.allowCommit = 1
	e.logsValid = 1
	e.mu.Lock()
	err = e.updateSuperBlocks()
	e.mu.Unlock()
	if err != nil {
		dev.Close()
		return nil, err
	}
	go e.commitTask()
	e.Append(nil, &journal.Record{
		Op:    journal.OpMount,
		Flags: journal.FlagFile1,
		File1: []byte(opts.String()),
	})
	e.log.Info("mounted for %s", opts.FSPath)
	return e, nil
}

// Unmount logs the unmount, drains the journal, stops the commit task
// and writes clean superblocks before releasing the device.
func (e *Engine) Unmount() error {
	atomic.StoreInt32(&e.allowCommit, 1)
	e.Append(nil, &journal.Record{Op: -journal.OpUmount})
	e.mu.Lock()
	atomic.StoreInt32(&e.logsValid, 0)
	e.dataQueue.Broadcast()
	e.mu.Unlock()
	atomic.StoreInt32(&e.allowCommit, 0)
	err := e.commitBarrier(nil, true)
	close(e.taskStop)
	<-e.taskDone
	e.mu.Lock()
	e.sbFlags &^= device.FlagDirty
	if uerr := e.updateSuperBlocks(); err == nil {
		err = uerr
	}
	e.mu.Unlock()
	if cerr := e.dev.Close(); err == nil {
		err = cerr
	}
	e.log.Info("unmounted")
	return err
}

// Remount applies a new option string on top of the current options.
// The underlying filesystem path cannot change; everything else takes
// effect after a forced commit so the old commit buffer is empty when
// it is replaced.
func (e *Engine) Remount(s string) error {
	e.mu.Lock()
	cur := e.opts
	e.mu.Unlock()
	opts, err := ParseOptions(s, cur)
	if err != nil {
		return err
	}
	if opts.FSPath != cur.FSPath {
		return InvalidRequestError("fs cannot change on remount")
	}
	if opts.CommitSize < device.BlockSize {
		return InvalidRequestError("commit buffer below one block")
	}
	filter, err := compileFilter(opts.PathFilter)
	if err != nil {
		return err
	}
	if cur.Log&LogBefore != 0 {
		e.Append(nil, &journal.Record{
			Op:    -journal.OpRemount,
			Flags: journal.FlagFile1,
			File1: []byte(s),
		})
	}
	err = e.commitBarrier(func() error {
		if opts.CommitSize != len(e.buf) {
			e.buf = make([]byte, opts.CommitSize)
		}
		wake := e.opts.Overflow == OverflowWait &&
			opts.Overflow == OverflowDrop
		e.opts = opts
		e.filter = filter
		if wake {
			e.logQueue.Broadcast()
		}
		return nil
	}, true)
	if opts.Log&LogAfter != 0 {
		result := int32(0)
		if err != nil {
			result = -1
		}
		aerr := e.Append(nil, &journal.Record{
			Op:     journal.OpRemount,
			Result: result,
			Flags:  journal.FlagFile1,
			File1:  []byte(s),
		})
		if err == nil {
			err = aerr
		}
	}
	return err
}

// Sync flushes the commit buffer and writes out one more superblock.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.writeData(true, flushForced, true)
	e.lastCommit = time.Now()
	e.lastSB++
	if e.lastSB >= e.numSuper {
		e.lastSB = 1
	}
	e.version++
	if serr := e.writeSuperBlock(int(e.lastSB), true); err == nil {
		err = serr
	}
	return err
}

// Freeze drains the journal and marks superblock 0 clean, for use
// before a device snapshot. The caller must hold off producers until
// Thaw.
func (e *Engine) Freeze() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.writeData(true, flushForced, true)
	n := e.lastSB
	e.lastSB = 0
	e.lastCommit = time.Now()
	e.version++
	e.sbFlags &^= device.FlagDirty
	if serr := e.writeSuperBlock(int(n), false); err == nil {
		err = serr
	}
	if serr := e.writeSuperBlock(0, false); err == nil {
		err = serr
	}
	if serr := e.dev.Sync(); err == nil {
		err = serr
	}
	return err
}

// Thaw marks the journal dirty again after Freeze.
func (e *Engine) Thaw() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSB = 1
	e.lastCommit = time.Now()
	e.version++
	e.sbFlags |= device.FlagDirty
	err := e.writeSuperBlock(0, false)
	if serr := e.writeSuperBlock(1, false); err == nil {
		err = serr
	}
	if serr := e.dev.Sync(); err == nil {
		err = serr
	}
	return err
}

// Path returns the journal device path.
func (e *Engine) Path() string { return e.dev.Path() }

// Options returns a copy of the current mount options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// Accepts reports whether the path filter admits the given path. An
// empty filter admits everything.
func (e *Engine) Accepts(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.filter) == 0 {
		return true
	}
	for _, g := range e.filter {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Info is a point-in-time snapshot of the engine counters.
type Info struct {
	Mounted      time.Time
	Logged       int64
	MaxSize      int64
	Size         int64
	Space        int64
	DevSize      int64
	Start        int64
	CommitSize   int64
	CommitTime   int64
	CommitForced int64
	Version      int64
	Flags        uint32
	NumSuper     int32
	Alignment    int32
	FSPath       string
}

// Stats returns the counters the info stream reports.
func (e *Engine) Stats() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{
		Mounted:      e.mountedAt,
		Logged:       e.logged,
		MaxSize:      e.maxLength,
		Size:         e.cur.dataLength,
		Space:        e.dataSpace,
		DevSize:      e.deviceSize,
		Start:        e.cur.dataStart,
		CommitSize:   e.commitCount[flushSize],
		CommitTime:   e.commitCount[flushTime],
		CommitForced: e.commitCount[flushForced],
		Version:      e.version,
		Flags:        e.sbFlags,
		NumSuper:     e.numSuper,
		Alignment:    int32(e.alignment),
		FSPath:       e.opts.FSPath,
	}
}

func (e *Engine) superBlock() *device.SuperBlock {
	return &device.SuperBlock{
		DeviceSize: e.deviceSize,
		DataSpace:  e.dataSpace,
		DataStart:  e.cur.dataStart,
		DataLength: e.cur.dataLength,
		MaxLength:  e.maxLength,
		Version:    e.version,
		Flags:      e.sbFlags,
		Alignment:  int32(e.alignment),
		NumSuper:   e.numSuper,
	}
}

// writeSuperBlock writes one superblock from the current state; the
// caller must hold mu.
func (e *Engine) writeSuperBlock(n int, sync bool) error {
	err := device.Write(e.dev, e.superBlock(), n, sync)
	if err != nil {
		e.log.Error("writing superblock %d: %v", n, err)
	}
	return err
}

// updateSuperBlocks bumps the version and rewrites up to seven
// superblocks spread over the device. Used at mount and unmount; the
// caller must hold mu.
func (e *Engine) updateSuperBlocks() error {
	e.version++
	count := int32(7)
	if count > e.numSuper {
		count = e.numSuper
	}
	for i := int32(0); i < count; i++ {
		which := i * e.numSuper / count
		if err := e.writeSuperBlock(int(which), true); err != nil {
			return err
		}
		e.lastSB = which
	}
	return nil
}

// waitCond blocks on c until ok reports true, returning
// InterruptedError if ctx is cancelled first. The caller must hold mu;
// ctx may be nil for an uninterruptible wait.
func (e *Engine) waitCond(ctx context.Context, c *sync.Cond, ok func() bool) error {
	if ok() {
		return nil
	}
	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	if done == nil {
		for !ok() {
			c.Wait()
		}
		return nil
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-done:
			c.L.Lock()
			c.Broadcast()
			c.L.Unlock()
		case <-stop:
		}
	}()
	defer close(stop)
	for !ok() {
		select {
		case <-done:
			return InterruptedError{}
		default:
		}
		c.Wait()
	}
	return nil
}
