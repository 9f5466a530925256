// Package bd implements the block-device contract and the two-cache layer
// the rest of the engine programs against: aligned
// read/prog/erase/sync over fixed-size erase blocks, plus a read cache and a
// program cache sitting above the raw device.
//
// An erase-block device with program/erase asymmetry has no close reference
// implementation in a filesystem backed by an object store rather than a
// flash chip, so this package is built on the standard library: hash/crc32
// for the streaming CRC.
package bd

import (
	"errors"
	"hash/crc32"

	"github.com/phoenix-rtos/lfsd/internal/lfserr"
)

// Device is the block-device contract the core consumes. Implementations
// must guarantee erase leaves a block readable as all-ones, and that size
// arguments to Read/Prog are multiples of ReadSize/ProgSize respectively.
type Device interface {
	Read(block, off uint32, buf []byte) error
	Prog(block, off uint32, buf []byte) error
	Erase(block uint32) error
	Sync() error
}

// Geometry is the device's fixed block geometry, read from mount
// configuration and validated at mount time.
type Geometry struct {
	ReadSize      uint32
	ProgSize      uint32
	BlockSize     uint32
	CacheSize     uint32
	LookaheadSize uint32
	BlockCount    uint32
}

func (g Geometry) Validate() error {
	switch {
	case g.ReadSize == 0 || g.ProgSize == 0 || g.BlockSize == 0 || g.CacheSize == 0:
		return lfserr.New("bd.Validate", lfserr.INVAL)
	case g.BlockSize%g.CacheSize != 0:
		return lfserr.New("bd.Validate", lfserr.INVAL)
	case g.CacheSize%g.ReadSize != 0, g.CacheSize%g.ProgSize != 0:
		return lfserr.New("bd.Validate", lfserr.INVAL)
	default:
		return nil
	}
}

// cache is one single-block buffer: either the most recently read region
// (rcache) or a pending, not-yet-flushed program region (pcache).
type cache struct {
	block uint32
	off   uint32
	buf   []byte
	size  uint32 // valid byte count starting at off
}

func newCache(cacheSize uint32) *cache {
	return &cache{block: blockNone, buf: make([]byte, cacheSize)}
}

const blockNone = ^uint32(0)

func (c *cache) drop() {
	c.block = blockNone
	c.size = 0
}

// BD is the cached block-device layer the mdir, allocator, and file-content
// engines read and write through. It owns exactly one rcache and one pcache,
// matching the convention of one struct per resource rather than a
// pool (see internal/logger for the analogous single-writer convention).
type BD struct {
	dev Device
	geo Geometry

	rcache     *cache
	pcache     *cache
	readOnly   bool
	verifyProg bool
}

// New builds a BD over dev with the supplied geometry. readOnly mounts
// reject Prog/Erase with ROFS before touching the device.
func New(dev Device, geo Geometry, readOnly, verifyProg bool) (*BD, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &BD{
		dev:        dev,
		geo:        geo,
		rcache:     newCache(geo.CacheSize),
		pcache:     newCache(geo.CacheSize),
		readOnly:   readOnly,
		verifyProg: verifyProg,
	}, nil
}

func alignDown(x, align uint32) uint32 { return x - x%align }
func alignUp(x, align uint32) uint32   { return alignDown(x+align-1, align) }

// Read satisfies a read of size bytes at (block, off) from pcache first (in
// case the bytes were just written and not yet flushed), then rcache, then
// the device, refilling rcache on a miss.
func (bd *BD) Read(block, off uint32, buf []byte) error {
	size := uint32(len(buf))
	for size > 0 {
		n, err := bd.readOne(block, off, buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
		off += n
		size -= n
	}
	return nil
}

func (bd *BD) readOne(block, off uint32, buf []byte) (uint32, error) {
	want := uint32(len(buf))

	if bd.pcache.block == block && off >= bd.pcache.off && off < bd.pcache.off+bd.pcache.size {
		d := off - bd.pcache.off
		n := min32(want, bd.pcache.size-d)
		copy(buf[:n], bd.pcache.buf[d:d+n])
		return n, nil
	}

	if bd.rcache.block != block || off < bd.rcache.off || off >= bd.rcache.off+bd.rcache.size {
		rOff := alignDown(off, bd.geo.ReadSize)
		rEnd := alignUp(min32(off+want, bd.geo.BlockSize), bd.geo.ReadSize)
		rEnd = min32(rEnd, bd.geo.CacheSize+rOff)
		if rEnd <= rOff {
			rEnd = rOff + bd.geo.ReadSize
		}
		n := rEnd - rOff
		if n > uint32(len(bd.rcache.buf)) {
			n = uint32(len(bd.rcache.buf))
		}
		if err := bd.dev.Read(block, rOff, bd.rcache.buf[:n]); err != nil {
			bd.rcache.drop()
			if errors.Is(err, ErrShortRead) {
				return 0, lfserr.Wrap("bd.Read", lfserr.CORRUPT, err)
			}
			return 0, lfserr.Wrap("bd.Read", lfserr.IO, err)
		}
		bd.rcache.block = block
		bd.rcache.off = rOff
		bd.rcache.size = n
	}

	d := off - bd.rcache.off
	n := min32(want, bd.rcache.size-d)
	copy(buf[:n], bd.rcache.buf[d:d+n])
	return n, nil
}

// Prog appends size bytes at (block, off) to pcache, flushing when the
// buffer fills or a write crosses into a different block.
func (bd *BD) Prog(block, off uint32, buf []byte) error {
	if bd.readOnly {
		return lfserr.New("bd.Prog", lfserr.ROFS)
	}
	size := uint32(len(buf))
	for size > 0 {
		if bd.pcache.block != blockNone && (bd.pcache.block != block || off != bd.pcache.off+bd.pcache.size) {
			if err := bd.flushProg(); err != nil {
				return err
			}
		}
		if bd.pcache.block == blockNone {
			bd.pcache.block = block
			bd.pcache.off = off
			bd.pcache.size = 0
		}

		room := uint32(len(bd.pcache.buf)) - bd.pcache.size
		n := min32(size, room)
		copy(bd.pcache.buf[bd.pcache.size:bd.pcache.size+n], buf[:n])
		bd.pcache.size += n
		buf = buf[n:]
		off += n
		size -= n

		if bd.pcache.size == uint32(len(bd.pcache.buf)) {
			if err := bd.flushProg(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (bd *BD) flushProg() error {
	if bd.pcache.block == blockNone || bd.pcache.size == 0 {
		bd.pcache.drop()
		return nil
	}
	if err := bd.dev.Prog(bd.pcache.block, bd.pcache.off, bd.pcache.buf[:bd.pcache.size]); err != nil {
		bd.pcache.drop()
		bd.rcache.drop()
		return lfserr.Wrap("bd.Prog", lfserr.IO, err)
	}
	if bd.verifyProg {
		check := make([]byte, bd.pcache.size)
		if err := bd.dev.Read(bd.pcache.block, bd.pcache.off, check); err != nil {
			bd.pcache.drop()
			return lfserr.Wrap("bd.Prog", lfserr.IO, err)
		}
		if !bytesEqual(check, bd.pcache.buf[:bd.pcache.size]) {
			bd.pcache.drop()
			return lfserr.New("bd.Prog", lfserr.CORRUPT)
		}
	}
	bd.pcache.drop()
	bd.rcache.drop()
	return nil
}

// Flush forces any pending program bytes to the device without requiring a
// boundary crossing; mdir commit calls this before its trailing CRC tag.
func (bd *BD) Flush() error { return bd.flushProg() }

// Erase erases one block, leaving it readable as all-ones.
func (bd *BD) Erase(block uint32) error {
	if bd.readOnly {
		return lfserr.New("bd.Erase", lfserr.ROFS)
	}
	if err := bd.dev.Erase(block); err != nil {
		return lfserr.Wrap("bd.Erase", lfserr.IO, err)
	}
	bd.DropCaches()
	return nil
}

// Sync flushes pcache and then the underlying device.
func (bd *BD) Sync() error {
	if err := bd.flushProg(); err != nil {
		return err
	}
	if err := bd.dev.Sync(); err != nil {
		return lfserr.Wrap("bd.Sync", lfserr.IO, err)
	}
	return nil
}

// DropCaches invalidates both caches, called whenever a short read or a
// verify mismatch signals the cached bytes can no longer be trusted.
func (bd *BD) DropCaches() {
	bd.rcache.drop()
	bd.pcache.drop()
}

// CRC streams size bytes at (block, off) through a CRC-32 without buffering
// the whole range, by reading through ReadSize-sized windows via Read.
func (bd *BD) CRC(block, off, size uint32, seed uint32) (uint32, error) {
	crc := seed
	window := make([]byte, bd.geo.ReadSize)
	for size > 0 {
		n := min32(size, bd.geo.ReadSize)
		if err := bd.Read(block, off, window[:n]); err != nil {
			return 0, err
		}
		crc = crc32.Update(crc, crc32.IEEETable, window[:n])
		off += n
		size -= n
	}
	return crc, nil
}

// CmpResult is the ternary outcome of Cmp.
type CmpResult int

const (
	CmpLT CmpResult = -1
	CmpEQ CmpResult = 0
	CmpGT CmpResult = 1
)

// Cmp compares the on-disk bytes at (block, off) against expected, reading
// through window-sized chunks rather than materializing the whole range.
func (bd *BD) Cmp(block, off uint32, expected []byte) (CmpResult, error) {
	window := make([]byte, bd.geo.ReadSize)
	remaining := expected
	for len(remaining) > 0 {
		n := min32(uint32(len(remaining)), bd.geo.ReadSize)
		if err := bd.Read(block, off, window[:n]); err != nil {
			return 0, err
		}
		switch c := compareBytes(window[:n], remaining[:n]); {
		case c < 0:
			return CmpLT, nil
		case c > 0:
			return CmpGT, nil
		}
		off += n
		remaining = remaining[n:]
	}
	return CmpEQ, nil
}

func (bd *BD) Geometry() Geometry { return bd.geo }

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func bytesEqual(a, b []byte) bool {
	return compareBytes(a, b) == 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// ErrShortRead is returned by Device implementations when fewer bytes are
// available than requested; the BD treats this as corruption.
var ErrShortRead = errors.New("bd: short read")
