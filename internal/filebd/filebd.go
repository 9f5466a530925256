// Package filebd backs a bd.Device with a regular OS file or a real block
// device node, the production counterpart to internal/devbd's in-memory
// fake. It speaks the same Read/Prog/Erase/Sync contract; "erase" on a file
// that has no actual erase primitive is simulated by writing 0xff, which is
// sufficient for littlefs's own bookkeeping (it never relies on erase being
// free, only on erased-implies-0xff).
package filebd

import (
	"os"

	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
)

// Device is a file-backed block device. Nil f.eraseBuf is lazily filled on
// first Erase to avoid allocating it for read-only mounts that never erase.
type Device struct {
	f          *os.File
	blockSize  uint32
	blockCount uint32
	eraseBuf   []byte
}

// Open opens path as a device of blockCount blocks of blockSize bytes each.
// Unless readOnly, path is created if it doesn't exist and extended to
// blockCount*blockSize bytes if shorter. readOnly opens O_RDONLY: Prog and
// Erase then fail with the OS write error wrapped as IO (bd.BD rejects them
// with ROFS before they reach the device).
func Open(path string, blockCount int, blockSize uint32, readOnly bool) (*Device, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	} else {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, lfserr.Wrap("filebd.Open", lfserr.IO, err)
	}

	want := int64(blockCount) * int64(blockSize)
	if !readOnly {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, lfserr.Wrap("filebd.Open", lfserr.IO, err)
		}
		if info.Size() < want {
			if err := f.Truncate(want); err != nil {
				f.Close()
				return nil, lfserr.Wrap("filebd.Open", lfserr.IO, err)
			}
		}
	}

	return &Device{f: f, blockSize: blockSize, blockCount: uint32(blockCount)}, nil
}

func (d *Device) blockOffset(block uint32) (int64, error) {
	if block >= d.blockCount {
		return 0, lfserr.New("filebd.blockOffset", lfserr.IO)
	}
	return int64(block) * int64(d.blockSize), nil
}

func (d *Device) Read(block, off uint32, buf []byte) error {
	base, err := d.blockOffset(block)
	if err != nil {
		return err
	}
	if off+uint32(len(buf)) > d.blockSize {
		return lfserr.New("filebd.Read", lfserr.IO)
	}
	n, err := d.f.ReadAt(buf, base+int64(off))
	if err != nil || n != len(buf) {
		return lfserr.Wrap("filebd.Read", lfserr.IO, err)
	}
	return nil
}

func (d *Device) Prog(block, off uint32, buf []byte) error {
	base, err := d.blockOffset(block)
	if err != nil {
		return err
	}
	if off+uint32(len(buf)) > d.blockSize {
		return lfserr.New("filebd.Prog", lfserr.IO)
	}
	n, err := d.f.WriteAt(buf, base+int64(off))
	if err != nil || n != len(buf) {
		return lfserr.Wrap("filebd.Prog", lfserr.IO, err)
	}
	return nil
}

func (d *Device) Erase(block uint32) error {
	base, err := d.blockOffset(block)
	if err != nil {
		return err
	}
	if d.eraseBuf == nil {
		d.eraseBuf = make([]byte, d.blockSize)
		for i := range d.eraseBuf {
			d.eraseBuf[i] = 0xff
		}
	}
	if _, err := d.f.WriteAt(d.eraseBuf, base); err != nil {
		return lfserr.Wrap("filebd.Erase", lfserr.IO, err)
	}
	return nil
}

func (d *Device) Sync() error {
	if err := d.f.Sync(); err != nil {
		return lfserr.Wrap("filebd.Sync", lfserr.IO, err)
	}
	return nil
}

// Close releases the underlying file descriptor. Not part of bd.Device;
// callers (cmd/mount.go) hold the concrete *Device to call it on unmount.
func (d *Device) Close() error {
	return d.f.Close()
}

var _ bd.Device = (*Device)(nil)
