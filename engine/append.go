package engine

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gladserv/shallfs/journal"
)

// MaxUserLog bounds the text accepted for a user log record.
const MaxUserLog = 128

// dataChunk is the largest slice of file data carried by one record
// when data=data is in effect; larger writes become several records.
const dataChunk = 1024

func currentCreds() *journal.Creds {
	uid := uint64(os.Getuid())
	gid := uint64(os.Getgid())
	euid := uint64(os.Geteuid())
	egid := uint64(os.Getegid())
	return &journal.Creds{
		UID: uid, EUID: euid, FSUID: euid,
		GID: gid, EGID: egid, FSGID: egid,
	}
}

// Append adds one record to the journal. Credentials are always
// attached. A record too large for the commit buffer is replaced by a
// TOO_BIG marker carrying the required size, or refused when too_big
// is set to error. When the journal is full the producer drops or
// waits according to the overflow mode; a cancelled wait returns
// InterruptedError. ctx may be nil for an uninterruptible append.
func (e *Engine) Append(ctx context.Context, r *journal.Record) error {
	rec := *r
	rec.Flags |= journal.FlagCreds
	if rec.Creds == nil {
		rec.Creds = currentCreds()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		// a remount or unmount barrier may be in progress
		err := e.waitCond(ctx, e.logQueue, func() bool {
			return atomic.LoadInt32(&e.allowCommit) != 0
		})
		if err != nil {
			return err
		}
		length := rec.EncodedLen(e.alignment)
		if length > len(e.buf) {
			if rec.Op == journal.OpTooBig {
				return TooBigError(length)
			}
			e.log.Error("record does not fit in commit buffer, "+
				"available %d, required %d", len(e.buf), length)
			if e.opts.TooBig == TooBigFail {
				return TooBigError(length)
			}
			rec = journal.Record{
				Op:     journal.OpTooBig,
				Time:   rec.Time,
				Result: int32(length),
				Flags:  journal.FlagCreds,
				Creds:  rec.Creds,
			}
			continue
		}
		// keep room for an overflow marker on top of the record
		required := int64(journal.Align(journal.HeaderSize, e.alignment) + length)
		if required+e.cur.dataLength > e.dataSpace {
			e.logOverflow(length)
			if e.opts.Overflow == OverflowDrop {
				break
			}
			err := e.waitCond(ctx, e.logQueue, func() bool {
				return required+e.cur.dataLength <= e.dataSpace ||
					e.opts.Overflow == OverflowDrop
			})
			if err != nil {
				return err
			}
			if e.opts.Overflow == OverflowDrop {
				break
			}
			// the options may have changed while waiting
			continue
		}
		e.needCommit(length)
		e.addRecord(&rec, length)
		break
	}
	if e.maxLength < e.cur.dataLength {
		e.maxLength = e.cur.dataLength
	}
	atomic.StoreInt32(&e.someData, 1)
	e.dataQueue.Broadcast()
	return nil
}

// addRecord encodes the record into the commit buffer; the caller must
// hold mu and have made room via needCommit.
func (e *Engine) addRecord(r *journal.Record, length int) {
	r.Encode(e.buf[e.cur.bufWritten:e.cur.bufWritten+length], e.alignment)
	e.cur.bufWritten += length
	e.cur.dataLength += int64(length)
	e.logged++
}

// Log records an operation with no names and no payload.
func (e *Engine) Log(ctx context.Context, op journal.Op, result int32) error {
	return e.Append(ctx, &journal.Record{Op: op, Result: result})
}

// LogFileID records an operation against an open file handle.
func (e *Engine) LogFileID(ctx context.Context, op journal.Op,
	fileID uint32, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFileID, FileID: fileID,
	})
}

// LogRegion records an operation on a byte range of an open file.
func (e *Engine) LogRegion(ctx context.Context, op journal.Op,
	start, length uint64, fileID uint32, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags:  journal.FlagRegion,
		Region: &journal.Region{Start: start, Length: length, FileID: fileID},
	})
}

// LogName records an operation with one path name.
func (e *Engine) LogName(ctx context.Context, op journal.Op,
	name string, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFile1, File1: []byte(name),
	})
}

// LogNameID records an operation with one path name and a file handle.
func (e *Engine) LogNameID(ctx context.Context, op journal.Op,
	name string, fileID uint32, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags:  journal.FlagFile1 | journal.FlagFileID,
		File1:  []byte(name),
		FileID: fileID,
	})
}

// LogAttr records an operation with one path name and an attribute
// change.
func (e *Engine) LogAttr(ctx context.Context, op journal.Op,
	name string, attr *journal.Attr, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFile1 | journal.FlagAttr,
		File1: []byte(name),
		Attr:  attr,
	})
}

// LogACL records an ACL change on one path name.
func (e *Engine) LogACL(ctx context.Context, op journal.Op,
	name string, acl *journal.ACL, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFile1 | journal.FlagACL,
		File1: []byte(name),
		ACL:   acl,
	})
}

// LogXattr records an extended attribute change on one path name.
func (e *Engine) LogXattr(ctx context.Context, op journal.Op,
	name string, xattr *journal.Xattr, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFile1 | journal.FlagXattr,
		File1: []byte(name),
		Xattr: xattr,
	})
}

// LogNames records an operation with two path names.
func (e *Engine) LogNames(ctx context.Context, op journal.Op,
	name1, name2 string, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFile1 | journal.FlagFile2,
		File1: []byte(name1),
		File2: []byte(name2),
	})
}

// LogNamesAttr records an operation with two path names and an
// attribute change.
func (e *Engine) LogNamesAttr(ctx context.Context, op journal.Op,
	name1, name2 string, attr *journal.Attr, result int32) error {
	return e.Append(ctx, &journal.Record{
		Op: op, Result: result,
		Flags: journal.FlagFile1 | journal.FlagFile2 | journal.FlagAttr,
		File1: []byte(name1),
		File2: []byte(name2),
		Attr:  attr,
	})
}

// LogWrite records a file write according to the data mode: the bare
// region, the region plus a sha256 of the new contents, or the region
// plus the contents themselves split into chunks.
func (e *Engine) LogWrite(ctx context.Context, start, length uint64,
	data []byte, fileID uint32, result int32) error {
	e.mu.Lock()
	mode := e.opts.Data
	e.mu.Unlock()
	if data == nil {
		mode = DataNone
	}
	switch mode {
	case DataHash:
		h := &journal.Hash{
			Region: journal.Region{
				Start: start, Length: length, FileID: fileID,
			},
			Digest: sha256.Sum256(data),
		}
		return e.Append(ctx, &journal.Record{
			Op: journal.OpWrite, Result: result,
			Flags: journal.FlagHash, Hash: h,
		})
	case DataFull:
		off := 0
		for {
			todo := len(data) - off
			if todo > dataChunk {
				todo = dataChunk
			}
			d := &journal.Data{
				Region: journal.Region{
					Start:  start + uint64(off),
					Length: uint64(todo),
					FileID: fileID,
				},
				Bytes: data[off : off+todo],
			}
			err := e.Append(ctx, &journal.Record{
				Op: journal.OpWrite, Result: result,
				Flags: journal.FlagData, Data: d,
			})
			if err != nil {
				return err
			}
			off += todo
			if off >= len(data) {
				return nil
			}
		}
	}
	return e.LogRegion(ctx, journal.OpWrite, start, length, fileID, result)
}

// UserLog records a free-form text line supplied over the control
// socket.
func (e *Engine) UserLog(ctx context.Context, text string) error {
	if len(text) > MaxUserLog {
		return InvalidRequestError("userlog text too long")
	}
	return e.Append(ctx, &journal.Record{
		Op:    journal.OpUserLog,
		Flags: journal.FlagFile1,
		File1: []byte(text),
	})
}

// LogDebug records a debug message tagged with the caller's source
// location.
func (e *Engine) LogDebug(msg string) error {
	_, file, line, _ := runtime.Caller(1)
	return e.Append(nil, &journal.Record{
		Op:     journal.OpDebug,
		Result: int32(line),
		Flags:  journal.FlagFile1 | journal.FlagFile2,
		File1:  []byte(msg),
		File2:  []byte(filepath.Base(file)),
	})
}
