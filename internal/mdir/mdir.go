// Package mdir implements the metadata-directory engine: fetch,
// in-place commit, compaction, relocation, traversal, and drop over a
// block-pair log. This is the heart of the on-disk format.
//
// Follows lfs_dir_fetch/lfs_dir_commit/lfs_dir_compact from the reference
// littlefs implementation, expressed as "fetch current state, try an
// in-place patch, fall back to a full rewrite": a fetch-then-patch cache and
// a try-in-place-then-full-rewrite sync are the structural model for Fetch
// and Commit here, generalized from a JSON object to a tag log.
package mdir

import (
	"hash/crc32"

	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/metrics"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// Entry is one decoded, fully-resolved attribute living at an id within a
// fetched Mdir: the tag plus where its payload lives on disk (or, if it was
// supplied in-memory for a pending commit, the payload bytes themselves).
type Entry struct {
	Tag     tagcodec.Tag
	Block   uint32 // disk location of the payload, valid if Mem == nil
	Off     uint32
	Mem     []byte // in-memory payload, takes precedence over Block/Off
}

// Mdir is the fetched, in-memory state of one block pair: the result of
// walking its log forward to the last valid commit.
type Mdir struct {
	Pair    tagcodec.Pair
	Rev     uint32
	Off     uint32 // offset just past the last valid commit
	ETag    uint32 // last raw tag word, for continuing the XOR chain
	Count   uint16 // dense id count [0, Count)
	Tail    tagcodec.Pair
	Split   bool
	Erased  bool // true if the prog-size window after the last commit reads back erased
	GDelta  tagcodec.GState

	// Entries holds the decoded, merged directory entries as of this
	// commit, keyed by local id.
	Entries map[uint16]*DirEntry
}

// Engine binds a device-cache layer and allocator to mdir operations.
type Engine struct {
	BD            *bd.BD
	Alloc         blockAllocator
	MetadataMax   uint32
	BlockCycles   uint32
	WriteFCRC     bool
	Metrics       *metrics.Handle
}

type blockAllocator interface {
	Alloc() (uint32, error)
	Ack()
}

// Fetch reads both halves of pair, picks the one with the greater
// revision (mod-wrap signed compare), and replays its tag log to the last
// CRC-valid commit.
func (e *Engine) Fetch(pair tagcodec.Pair) (*Mdir, error) {
	if pair[0] >= e.blockCount() || pair[1] >= e.blockCount() {
		return nil, lfserr.New("mdir.Fetch", lfserr.CORRUPT)
	}

	var best *Mdir
	var bestRev uint32
	haveBest := false

	for _, block := range pair {
		m, rev, ok := e.fetchOne(pair, block)
		if !ok {
			continue
		}
		if !haveBest || revGreater(rev, bestRev) {
			best, bestRev, haveBest = m, rev, true
		}
	}
	if !haveBest {
		return nil, lfserr.New("mdir.Fetch", lfserr.CORRUPT)
	}
	return best, nil
}

// revGreater compares revision counters with wraparound, matching
// littlefs's signed-subtract trick so a rev of 0 is "newer" than
// 0xfffffffe after enough rewrites.
func revGreater(a, b uint32) bool { return int32(a-b) > 0 }

func (e *Engine) blockCount() uint32 {
	return e.BD.Geometry().BlockCount
}

// fetchOne replays the log on one half of the pair, returning the parsed
// Mdir, its revision counter, and whether a valid commit was found at all.
func (e *Engine) fetchOne(pair tagcodec.Pair, block uint32) (*Mdir, uint32, bool) {
	revBuf := make([]byte, 4)
	if err := e.BD.Read(block, 0, revBuf); err != nil {
		return nil, 0, false
	}
	rev := tagcodec.TagBE(revBuf)

	// A directory with no TAIL tag of its own in the log (the common case
	// before any split) has no tail at all, not block 0 — default it to
	// the null pair the way lfs_dir_fetch seeds dir->tail before replaying,
	// so Traverse stops here instead of chasing a zero-value Pair as if it
	// were a real sibling.
	m := &Mdir{Pair: pair, Rev: rev, Tail: tagcodec.Pair{tagcodec.NullBlock, tagcodec.NullBlock}}
	off := uint32(4)
	etag := uint32(0xffffffff)
	var crc uint32 = 0xffffffff
	count := uint16(0)
	entries := make(map[uint16]*DirEntry)
	var lastGood *Mdir
	var lastGoodEntries map[uint16]*DirEntry

	for off+4 <= e.MetadataMax {
		tagBuf := make([]byte, 4)
		if err := e.BD.Read(block, off, tagBuf); err != nil {
			break
		}
		raw := tagcodec.TagBE(tagBuf) ^ etag
		tag := tagcodec.Decode(raw)
		crc32Update(&crc, tagBuf)
		off += 4

		if tag.Family() == tagcodec.TypeCRC {
			if tag.Type&1 == 0 { // CCRC
				// payload is the alignment padding followed by the 4-byte
				// stored CRC to compare against our running accumulator over
				// everything since the last commit, padding included.
				if tag.Size < 4 {
					break
				}
				pad := make([]byte, uint32(tag.Size)-4)
				if err := e.BD.Read(block, off, pad); err != nil {
					break
				}
				crc32Update(&crc, pad)
				stored := make([]byte, 4)
				if err := e.BD.Read(block, off+uint32(len(pad)), stored); err != nil {
					break
				}
				if tagcodec.TagBE(stored) != crc {
					break // corrupt; stop at last good commit
				}
				off += uint32(tag.Size)
				etag = raw
				snap := *m
				snap.Off = off
				snap.ETag = etag
				snap.Count = count
				lastGood = &snap
				lastGoodEntries = copyEntries(entries)
				crc = 0xffffffff
				continue
			}
			// FCRC: forward-looking erase check, consumed but not part of
			// live state beyond setting Erased; real verification happens
			// against the program-size window following this commit.
			fbuf := make([]byte, tag.Size)
			if err := e.BD.Read(block, off, fbuf); err != nil {
				break
			}
			crc32Update(&crc, fbuf)
			off += uint32(tag.Size)
			etag = raw
			continue
		}

		if tag.Family() == tagcodec.TypeTail {
			tailBuf := make([]byte, 8)
			if err := e.BD.Read(block, off, tailBuf); err == nil {
				m.Tail = tagcodec.Pair{tagcodec.TagBE(tailBuf[0:4]), tagcodec.TagBE(tailBuf[4:8])}
				m.Split = tag.Type&1 != 0
			}
		}

		payload := make([]byte, tag.Size)
		if tag.Size != tagcodec.SizeDel && tag.Size > 0 {
			e.BD.Read(block, off, payload)
			crc32Update(&crc, payload)
		}
		if tag.Size != tagcodec.SizeDel {
			applyOp(entries, &count, tag, payload)
		} else {
			applyOp(entries, &count, tag, nil)
		}
		if tag.Size != tagcodec.SizeDel {
			off += uint32(tag.Size)
		}
		etag = raw
	}

	if lastGood == nil {
		return nil, rev, false
	}
	lastGood.Entries = lastGoodEntries
	lastGood.Erased = e.checkErased(block, lastGood.Off)
	return lastGood, rev, true
}

// checkErased verifies the program-size window following the last commit
// reads back as all-ones, the same signal a real FCRC tag is meant to catch:
// if the tail of the log isn't actually erased, the next in-place append
// would corrupt whatever non-0xff bytes are already sitting there.
func (e *Engine) checkErased(block, off uint32) bool {
	progSize := e.BD.Geometry().ProgSize
	if progSize == 0 {
		return false
	}
	end := off + progSize
	if end > e.MetadataMax {
		end = e.MetadataMax
	}
	if end <= off {
		return false
	}
	expected := make([]byte, end-off)
	for i := range expected {
		expected[i] = 0xff
	}
	cmp, err := e.BD.Cmp(block, off, expected)
	return err == nil && cmp == bd.CmpEQ
}

func crc32Update(crc *uint32, buf []byte) {
	*crc = crc32.Update(*crc, crc32.IEEETable, buf)
}
