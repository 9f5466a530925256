// Package filedata implements the file content engine: inline
// storage for small files, a CTZ skip-list for the rest, and the
// outline/relocate/truncate transitions between them.
//
// Follows littlefs's CTZ arithmetic (lfs_ctz_index, lfs_ctz_find); the
// dirty-threshold/flush pattern follows a mutable-content-with-generations
// model (a dirty flag plus an explicit Flush that commits the backing
// representation), generalized from one object generation to
// inline-vs-CTZ storage.
package filedata

import (
	"encoding/binary"
	"math/bits"

	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// Flags on an open file's state.
type Flags uint16

const (
	FlagReading Flags = 1 << iota
	FlagWriting
	FlagDirty
	FlagInline
	FlagErred
	FlagAppend
	FlagRDOnly
	FlagWROnly
)

// CTZ is the on-disk (head, size) descriptor for a non-inline file.
type CTZ struct {
	Head uint32
	Size uint32
}

func DecodeCTZ(buf []byte) CTZ {
	return CTZ{Head: binary.LittleEndian.Uint32(buf[0:4]), Size: binary.LittleEndian.Uint32(buf[4:8])}
}

func (c CTZ) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], c.Head)
	binary.LittleEndian.PutUint32(buf[4:8], c.Size)
	return buf
}

// File is one open file's content-engine state.
type File struct {
	bd          *bd.BD
	blockSize   uint32
	inlineLimit uint32

	Flags   Flags
	Inline  []byte // valid if Flags&FlagInline
	CTZDesc CTZ    // valid otherwise
	Pos     uint64

	blockCacheIdx  uint32
	blockCacheBuf  []byte
	blockCacheVal  bool
}

// InlineLimit is min(0x3fe, cache_size, metadata_max/8).
func InlineLimit(cacheSize, metadataMax uint32) uint32 {
	limit := uint32(0x3fe)
	if cacheSize < limit {
		limit = cacheSize
	}
	if metadataMax/8 < limit {
		limit = metadataMax / 8
	}
	return limit
}

func Open(device *bd.BD, blockSize, inlineLimit uint32, structTag tagcodec.Tag, payload []byte) *File {
	f := &File{bd: device, blockSize: blockSize, inlineLimit: inlineLimit, blockCacheBuf: make([]byte, blockSize)}
	if structTag.Type == tagcodec.StructInline {
		f.Flags |= FlagInline
		f.Inline = append([]byte(nil), payload...)
	} else {
		f.CTZDesc = DecodeCTZ(payload)
	}
	return f
}

func (f *File) Size() uint64 {
	if f.Flags&FlagInline != 0 {
		return uint64(len(f.Inline))
	}
	return uint64(f.CTZDesc.Size)
}

// ctzIndex is the block index holding byte offset pos: pos / (block_size - 8)
// approximately, adjusted per lfs_ctz_index's exact recurrence. The
// closed-form used here is pos / (block_size - 8).
func ctzIndex(pos uint64, blockSize uint32) uint32 {
	return uint32(pos / uint64(blockSize-8))
}

// ctzBackpointers returns the number of back-pointers stored in the block
// at index i: count_trailing_zeros(i)+1, with block 0 holding none.
func ctzBackpointers(i uint32) int {
	if i == 0 {
		return 0
	}
	return bits.TrailingZeros32(i) + 1
}

// Read reads up to len(buf) bytes starting at Pos, flushing pending writes
// first if the file is in writing mode.
func (f *File) Read(buf []byte) (int, error) {
	if f.Flags&FlagErred != 0 {
		return 0, lfserr.New("filedata.Read", lfserr.IO)
	}
	if f.Flags&FlagWriting != 0 {
		if _, _, err := f.Flush(nil); err != nil {
			return 0, err
		}
	}

	size := f.Size()
	if f.Pos >= size {
		return 0, nil
	}
	n := uint64(len(buf))
	if f.Pos+n > size {
		n = size - f.Pos
	}

	if f.Flags&FlagInline != 0 {
		copy(buf[:n], f.Inline[f.Pos:f.Pos+n])
		f.Pos += n
		return int(n), nil
	}

	read := uint64(0)
	for read < n {
		block, blockOff, err := f.findBlock(f.Pos)
		if err != nil {
			return int(read), err
		}
		avail := uint64(f.blockSize-8) - blockOff
		chunk := n - read
		if chunk > avail {
			chunk = avail
		}
		if err := f.fillBlockCache(block); err != nil {
			return int(read), err
		}
		copy(buf[read:read+chunk], f.blockCacheBuf[blockOff:blockOff+chunk])
		f.Pos += chunk
		read += chunk
	}
	return int(read), nil
}

func (f *File) fillBlockCache(block uint32) error {
	if f.blockCacheVal && f.blockCacheIdx == block {
		return nil
	}
	if err := f.bd.Read(block, 0, f.blockCacheBuf); err != nil {
		return lfserr.Wrap("filedata.fillBlockCache", lfserr.IO, err)
	}
	f.blockCacheIdx = block
	f.blockCacheVal = true
	return nil
}

// findBlock walks the CTZ skip-list to the block containing byte pos,
// returning the physical block number and the byte offset within it. The
// traversal starts at Head (the block at the highest index) and follows
// back-pointers, skipping by the largest power-of-two stride that doesn't
// overshoot, mirroring lfs_ctz_find.
func (f *File) findBlock(pos uint64) (uint32, uint64, error) {
	targetIdx := ctzIndex(pos, f.blockSize)
	curIdx := ctzIndex(uint64(f.CTZDesc.Size), f.blockSize)
	block := f.CTZDesc.Head

	for curIdx > targetIdx {
		skip := curIdx - targetIdx
		bp := ctzBackpointers(curIdx)
		stride := 1 << (bits.Len32(uint32(skip)) - 1)
		if stride >= bp {
			stride = bp - 1
		}
		if stride < 1 {
			stride = 1
		}
		ptrBuf := make([]byte, 4)
		ptrOff := uint32(f.blockSize) - 4*uint32(stride+1)
		if err := f.bd.Read(block, ptrOff, ptrBuf); err != nil {
			return 0, 0, lfserr.Wrap("filedata.findBlock", lfserr.IO, err)
		}
		block = tagcodec.TagBE(ptrBuf)
		curIdx -= uint32(stride)
	}
	blockOff := pos % uint64(f.blockSize-8)
	return block, blockOff, nil
}

// Write requires the file already be open for writing; it write-throughs
// the per-file cache, outlining an inline file that crosses inlineLimit and
// zero-filling any gap when writing past EOF.
func (f *File) Write(alloc func() (uint32, error), off uint64, buf []byte) (int, error) {
	if f.Flags&FlagErred != 0 {
		return 0, lfserr.New("filedata.Write", lfserr.IO)
	}
	if off > f.Size() {
		if err := f.zeroFill(alloc, f.Size(), off); err != nil {
			return 0, err
		}
	}

	if f.Flags&FlagInline != 0 {
		end := off + uint64(len(buf))
		if end > uint64(f.inlineLimit) {
			if err := f.outline(alloc); err != nil {
				return 0, err
			}
		} else {
			if end > uint64(len(f.Inline)) {
				grown := make([]byte, end)
				copy(grown, f.Inline)
				f.Inline = grown
			}
			copy(f.Inline[off:end], buf)
			f.Flags |= FlagDirty
			return len(buf), nil
		}
	}

	return f.writeCTZ(alloc, off, buf)
}

func (f *File) zeroFill(alloc func() (uint32, error), from, to uint64) error {
	if f.Flags&FlagInline != 0 && to <= uint64(f.inlineLimit) {
		grown := make([]byte, to)
		copy(grown, f.Inline)
		f.Inline = grown
		f.Flags |= FlagDirty
		return nil
	}
	zeros := make([]byte, 4096)
	for from < to {
		n := to - from
		if n > uint64(len(zeros)) {
			n = uint64(len(zeros))
		}
		if _, err := f.Write(alloc, from, zeros[:n]); err != nil {
			return err
		}
		from += n
	}
	return nil
}

// outline transitions an inline file to a single-block CTZ file, copying
// the inline bytes into a freshly allocated block.
func (f *File) outline(alloc func() (uint32, error)) error {
	block, err := alloc()
	if err != nil {
		return lfserr.Wrap("filedata.outline", lfserr.NOSPC, err)
	}
	payload := make([]byte, f.blockSize)
	copy(payload, f.Inline)
	if err := f.bd.Prog(block, 0, payload); err != nil {
		return lfserr.Wrap("filedata.outline", lfserr.IO, err)
	}
	f.CTZDesc = CTZ{Head: block, Size: uint32(len(f.Inline))}
	f.Flags &^= FlagInline
	f.Flags |= FlagDirty
	f.blockCacheIdx = block
	copy(f.blockCacheBuf, payload)
	f.blockCacheVal = true
	f.Inline = nil
	return nil
}

func (f *File) writeCTZ(alloc func() (uint32, error), off uint64, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		block, blockOff, err := f.ctzWriteTarget(alloc, off)
		if err != nil {
			return written, err
		}
		if err := f.fillBlockCache(block); err != nil {
			return written, err
		}
		avail := uint64(f.blockSize-8) - blockOff
		chunk := uint64(len(buf) - written)
		if chunk > avail {
			chunk = avail
		}
		copy(f.blockCacheBuf[blockOff:blockOff+chunk], buf[written:written+int(chunk)])
		if err := f.bd.Prog(block, uint32(blockOff), f.blockCacheBuf[blockOff:blockOff+chunk]); err != nil {
			if err2 := f.relocate(alloc, block); err2 != nil {
				return written, err2
			}
			continue
		}
		off += chunk
		written += int(chunk)
		if off > uint64(f.CTZDesc.Size) {
			f.CTZDesc.Size = uint32(off)
		}
		f.Flags |= FlagDirty
	}
	return written, nil
}

// ctzWriteTarget returns the block to write offset off into, extending the
// skip-list with a fresh block (and its back-pointers) when off lands past
// the file's current last block.
func (f *File) ctzWriteTarget(alloc func() (uint32, error), off uint64) (uint32, uint64, error) {
	idx := ctzIndex(off, f.blockSize)
	curIdx := ctzIndex(uint64(f.CTZDesc.Size), f.blockSize)
	if f.CTZDesc.Size == 0 || idx > curIdx {
		block, err := alloc()
		if err != nil {
			return 0, 0, lfserr.Wrap("filedata.ctzWriteTarget", lfserr.NOSPC, err)
		}
		if f.CTZDesc.Size > 0 {
			bp := ctzBackpointers(idx)
			ptrs := make([]byte, 0, 4*bp)
			back := f.CTZDesc.Head
			for i := 0; i < bp; i++ {
				b := make([]byte, 4)
				tagcodec.PutTagBE(b, back)
				ptrs = append(ptrs, b...)
			}
			if err := f.bd.Prog(block, uint32(f.blockSize)-uint32(len(ptrs)), ptrs); err != nil {
				return 0, 0, lfserr.Wrap("filedata.ctzWriteTarget", lfserr.IO, err)
			}
		}
		f.CTZDesc.Head = block
		return block, off % uint64(f.blockSize-8), nil
	}
	return f.findBlock(off)
}

// relocate allocates a fresh block and copies the cached content across
// when a program fails mid-write.
func (f *File) relocate(alloc func() (uint32, error), failed uint32) error {
	newBlock, err := alloc()
	if err != nil {
		return lfserr.Wrap("filedata.relocate", lfserr.NOSPC, err)
	}
	if err := f.bd.Prog(newBlock, 0, f.blockCacheBuf); err != nil {
		f.Flags |= FlagErred
		return lfserr.Wrap("filedata.relocate", lfserr.IO, err)
	}
	if f.CTZDesc.Head == failed {
		f.CTZDesc.Head = newBlock
	}
	f.blockCacheIdx = newBlock
	return nil
}

// Truncate implements both growth (zero-fill to size) and shrink, including
// re-inlining when the new size drops below inlineLimit.
func (f *File) Truncate(alloc func() (uint32, error), size uint64) error {
	cur := f.Size()
	if size > cur {
		return f.zeroFill(alloc, cur, size)
	}
	if size == cur {
		return nil
	}

	if size <= uint64(f.inlineLimit) {
		buf := make([]byte, size)
		if f.Flags&FlagInline != 0 {
			copy(buf, f.Inline[:size])
		} else {
			savedPos := f.Pos
			f.Pos = 0
			n, err := f.Read(buf)
			f.Pos = savedPos
			if err != nil || uint64(n) != size {
				return lfserr.New("filedata.Truncate", lfserr.IO)
			}
		}
		f.Inline = buf
		f.Flags |= FlagInline | FlagDirty
		return nil
	}

	block, _, err := f.findBlock(size - 1)
	if err != nil {
		return err
	}
	f.CTZDesc.Head = block
	f.CTZDesc.Size = uint32(size)
	f.Flags |= FlagDirty
	return nil
}

// WalkChain calls mark for every block in the CTZ chain of the given size
// starting at head. Every back-pointer slot a block stores holds the same
// predecessor value (see ctzWriteTarget), so reading just the first slot at
// each hop is enough to walk the whole chain.
func WalkChain(device *bd.BD, blockSize, head uint32, size uint64, mark func(uint32)) error {
	if size == 0 {
		return nil
	}
	idx := ctzIndex(size-1, blockSize)
	block := head
	for {
		mark(block)
		if idx == 0 {
			return nil
		}
		bp := ctzBackpointers(idx)
		ptrOff := blockSize - 4*uint32(bp)
		buf := make([]byte, 4)
		if err := device.Read(block, ptrOff, buf); err != nil {
			return lfserr.Wrap("filedata.WalkChain", lfserr.IO, err)
		}
		block = tagcodec.TagBE(buf)
		idx--
	}
}

// Flush commits the file's struct tag (CTZSTRUCT or INLINESTRUCT),
// returning the tag and payload for the caller (the mdir engine) to batch
// into a commit, and clears Dirty. A no-op if already Erred.
func (f *File) Flush(mtime []byte) (tagcodec.Tag, []byte, error) {
	if f.Flags&FlagErred != 0 {
		return tagcodec.Tag{}, nil, nil
	}
	f.Flags &^= FlagDirty | FlagWriting
	if f.Flags&FlagInline != 0 {
		return tagcodec.Tag{Valid: true, Type: tagcodec.StructInline, Size: uint16(len(f.Inline))}, f.Inline, nil
	}
	return tagcodec.Tag{Valid: true, Type: tagcodec.StructCTZ, Size: 8}, f.CTZDesc.Encode(), nil
}
