package device

import (
	"os"

	"github.com/gofrs/flock"
)

// Device is an open journal device: a block device or a file-backed
// image, protected by an advisory lock for the lifetime of the handle.
type Device struct {
	path string
	file *os.File
	lock *flock.Flock
	size int64
}

// Open opens a journal device. The size is rounded down to a block
// boundary. Writable opens take an exclusive lock, read-only opens a
// shared one; a held lock surfaces as LockedError.
func Open(path string, readonly bool) (*Device, error) {
	mode := os.O_RDWR
	if readonly {
		mode = os.O_RDONLY
	}
	f, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, err
	}
	lk := flock.New(path)
	var locked bool
	if readonly {
		locked, err = lk.TryRLock()
	} else {
		locked, err = lk.TryLock()
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	if !locked {
		f.Close()
		return nil, LockedError(path)
	}
	size, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		lk.Unlock()
		f.Close()
		return nil, err
	}
	size -= size % BlockSize
	return &Device{path: path, file: f, lock: lk, size: size}, nil
}

// Create creates a file-backed journal image of the given size. The
// size must be a positive multiple of the block size.
func Create(path string, size int64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	lk := flock.New(path)
	if locked, err := lk.TryLock(); err != nil || !locked {
		f.Close()
		os.Remove(path)
		if err == nil {
			err = LockedError(path)
		}
		return nil, err
	}
	return &Device{path: path, file: f, lock: lk, size: size}, nil
}

// Path returns the path the device was opened from.
func (d *Device) Path() string { return d.path }

// Size returns the usable device size in bytes.
func (d *Device) Size() int64 { return d.size }

// ReadAt reads len(buf) bytes at the given byte offset.
func (d *Device) ReadAt(buf []byte, off int64) error {
	_, err := d.file.ReadAt(buf, off)
	return err
}

// WriteAt writes buf at the given byte offset.
func (d *Device) WriteAt(buf []byte, off int64) error {
	_, err := d.file.WriteAt(buf, off)
	return err
}

// Sync flushes outstanding writes to stable storage.
func (d *Device) Sync() error { return d.file.Sync() }

// Close releases the lock and closes the handle.
func (d *Device) Close() error {
	d.lock.Unlock()
	return d.file.Close()
}
