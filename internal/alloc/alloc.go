// Package alloc implements the lookahead-bitmap block allocator: a
// forward-scanning bitset over a window of the block range, a gc-driven
// refill when the window is exhausted, and an ack window that protects
// blocks allocated but not yet committed from premature reuse.
//
// Built on math/bits for the bitset itself, since an erase-block allocator
// has no close analogue in an object-store-backed filesystem — object
// stores don't allocate blocks.
package alloc

import (
	"context"
	"math/bits"

	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/metrics"
)

// Scanner is implemented by the mdir/filedata engines to mark every block
// currently in use within the lookahead window, during a gc pass.
type Scanner interface {
	// ScanUsed calls mark for every block currently referenced by metadata
	// pairs, CTZ skip-lists, or dirty open-file blocks.
	ScanUsed(mark func(block uint32)) error
}

// Allocator is the lookahead-bitmap allocator over [0, blockCount).
type Allocator struct {
	blockCount uint32
	windowBits uint32 // lookahead_size*8

	off    uint32 // start of the current window within the block range
	bitset []uint64
	ackLo  uint32 // blocks at or above ackLo are reserved; lowered by Reserve, reset by Ack

	scanner Scanner
	metrics *metrics.Handle
}

func New(blockCount, lookaheadSize uint32, scanner Scanner, m *metrics.Handle) *Allocator {
	windowBits := lookaheadSize * 8
	if windowBits == 0 || windowBits > blockCount {
		windowBits = blockCount
	}
	return &Allocator{
		blockCount: blockCount,
		windowBits: windowBits,
		bitset:     make([]uint64, (windowBits+63)/64),
		off:        blockCount, // start exhausted so the first Alloc scans
		ackLo:      blockCount,
		scanner:    scanner,
		metrics:    m,
	}
}

func (a *Allocator) test(i uint32) bool  { return a.bitset[i/64]&(1<<(i%64)) != 0 }
func (a *Allocator) set(i uint32)        { a.bitset[i/64] |= 1 << (i % 64) }
func (a *Allocator) clearAll() {
	for i := range a.bitset {
		a.bitset[i] = 0
	}
}

// findFirstZero returns the lowest index < n not set in the bitset, or n if
// none found.
func (a *Allocator) findFirstZero(n uint32) uint32 {
	for w := uint32(0); w*64 < n; w++ {
		word := a.bitset[w]
		if word == ^uint64(0) {
			continue
		}
		z := uint32(bits.TrailingZeros64(^word))
		idx := w*64 + z
		if idx < n {
			return idx
		}
	}
	return n
}

// Alloc returns the next free block, running a full gc scan to refill the
// lookahead window if the current window is exhausted.
func (a *Allocator) Alloc() (uint32, error) {
	if a.metrics != nil {
		a.metrics.AllocScan(context.Background())
	}
	for attempt := 0; attempt < 2; attempt++ {
		for a.off < a.blockCount {
			n := a.windowBits
			if a.off+n > a.blockCount {
				n = a.blockCount - a.off
			}
			idx := a.findFirstZero(n)
			if idx < n {
				block := a.off + idx
				if block >= a.ackLo {
					// allocated-but-unverified; skip without consuming the
					// window so a later real free is still found.
					a.set(idx)
					continue
				}
				a.set(idx)
				return block, nil
			}
			a.off += n
			a.clearAll()
		}
		// window exhausted; rescan the whole FS to mark every in-use block
		// and try again from the top.
		a.off = 0
		a.clearAll()
		if a.scanner != nil {
			if err := a.scanner.ScanUsed(a.markUsed); err != nil {
				a.off = a.blockCount
				return 0, err
			}
		}
	}
	if a.metrics != nil {
		a.metrics.AllocFailed(context.Background())
	}
	return 0, lfserr.New("alloc.Alloc", lfserr.NOSPC)
}

func (a *Allocator) markUsed(block uint32) {
	if block < a.off || block >= a.off+a.windowBits {
		return
	}
	a.set(block - a.off)
}

// Ack is called once a commit referencing freshly allocated blocks has been
// verified on disk; it widens ackLo back to the full block count so those
// blocks are eligible for reuse by future scans.
func (a *Allocator) Ack() { a.ackLo = a.blockCount }

// Reserve narrows the ack window to protect blocks in [lo, blockCount) from
// being handed out again until the pending commit either Acks or the
// allocator is told to forget the reservation via Ack.
func (a *Allocator) Reserve(lo uint32) {
	if lo < a.ackLo {
		a.ackLo = lo
	}
}
