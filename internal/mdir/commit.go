package mdir

import (
	"context"
	"hash/crc32"

	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// AttrOp is one attribute operation batched into a Commit call: a splice
// (create/delete), a NAME/STRUCT/USERATTR/TAIL write, or a FROM tag
// referencing another mdir's entries during compaction.
type AttrOp struct {
	Tag     tagcodec.Tag
	Payload []byte
}

const crcTagSize = 4

// reservedTailBytes is the space compaction reserves for the tail,
// gstate, delete, and trailing CRC tags.
const reservedTailBytes = 40

// Commit applies ops to m, attempting an in-place append first and falling
// back to compaction (and, if that corrupts too, relocation) on failure.
// Returns the new Mdir reflecting the committed state.
func (e *Engine) Commit(m *Mdir, ops []AttrOp, gdelta tagcodec.GState) (*Mdir, error) {
	if m.Erased {
		nm, err := e.appendInPlace(m, ops, gdelta)
		if err == nil {
			if e.Metrics != nil {
				e.Metrics.Commit(context.Background())
			}
			return nm, nil
		}
		e.BD.DropCaches()
	}

	nm, err := e.Compact(m, ops, gdelta)
	if err != nil {
		return nil, err
	}
	if e.Metrics != nil {
		e.Metrics.Commit(context.Background())
	}
	return nm, nil
}

// appendInPlace writes each op as a delta-encoded tag plus payload directly
// after the log's current tail, then a CCRC (and, if configured, a
// preceding FCRC describing the next program-size window), verifying by
// reading the commit back.
func (e *Engine) appendInPlace(m *Mdir, ops []AttrOp, gdelta tagcodec.GState) (*Mdir, error) {
	block := m.Pair[0]
	off := m.Off
	etag := m.ETag
	crc := uint32(0xffffffff)

	writeTag := func(tag tagcodec.Tag, payload []byte) error {
		raw := tagcodec.XORNext(etag, tagcodec.Encode(tag))
		buf := make([]byte, 4)
		tagcodec.PutTagBE(buf, raw)
		if err := e.BD.Prog(block, off, buf); err != nil {
			return err
		}
		crc = crc32.Update(crc, crc32.IEEETable, buf)
		off += 4
		if len(payload) > 0 {
			if err := e.BD.Prog(block, off, payload); err != nil {
				return err
			}
			crc = crc32.Update(crc, crc32.IEEETable, payload)
			off += uint32(len(payload))
		}
		etag = tagcodec.Encode(tag)
		return nil
	}

	for _, op := range ops {
		if err := writeTag(op.Tag, op.Payload); err != nil {
			return nil, lfserr.Wrap("mdir.appendInPlace", lfserr.IO, err)
		}
	}

	if gdelta != (tagcodec.GState{}) {
		gbuf := make([]byte, 12)
		tagcodec.PutTagBE(gbuf[0:4], gdelta[0])
		tagcodec.PutTagBE(gbuf[4:8], gdelta[1])
		tagcodec.PutTagBE(gbuf[8:12], gdelta[2])
		if err := writeTag(tagcodec.Tag{Valid: true, Type: tagcodec.GlobalsMoveState, ID: tagcodec.IDNone, Size: 12}, gbuf); err != nil {
			return nil, err
		}
	}

	if e.WriteFCRC {
		fbuf := make([]byte, 4)
		if err := writeTag(tagcodec.Tag{Valid: true, Type: tagcodec.FCRCTag, ID: tagcodec.IDNone, Size: 4}, fbuf); err != nil {
			return nil, err
		}
	}

	// Pad so the commit (CCRC tag, padding, stored CRC) ends on a ProgSize
	// boundary; the CCRC tag's size covers the padding plus the CRC word.
	progSize := e.BD.Geometry().ProgSize
	ccrcType := tagcodec.CRCTag
	padTo := alignUp(off+crcTagSize+crcTagSize, progSize)
	padSize := padTo - (off + crcTagSize + crcTagSize)

	ccrcTag := tagcodec.Tag{Valid: true, Type: ccrcType, ID: tagcodec.IDNone, Size: uint16(padSize + crcTagSize)}
	raw := tagcodec.XORNext(etag, tagcodec.Encode(ccrcTag))
	tagBuf := make([]byte, 4)
	tagcodec.PutTagBE(tagBuf, raw)
	if err := e.BD.Prog(block, off, tagBuf); err != nil {
		return nil, lfserr.Wrap("mdir.appendInPlace", lfserr.IO, err)
	}
	crc = crc32.Update(crc, crc32.IEEETable, tagBuf)
	off += 4

	if padSize > 0 {
		pad := make([]byte, padSize)
		if err := e.BD.Prog(block, off, pad); err != nil {
			return nil, lfserr.Wrap("mdir.appendInPlace", lfserr.IO, err)
		}
		crc = crc32.Update(crc, crc32.IEEETable, pad)
		off += padSize
	}

	crcBuf := make([]byte, 4)
	tagcodec.PutTagBE(crcBuf, crc)
	if err := e.BD.Prog(block, off, crcBuf); err != nil {
		return nil, lfserr.Wrap("mdir.appendInPlace", lfserr.IO, err)
	}
	off += 4

	if err := e.BD.Flush(); err != nil {
		return nil, err
	}

	nm, err := e.Fetch(m.Pair)
	if err != nil {
		return nil, lfserr.New("mdir.appendInPlace", lfserr.CORRUPT)
	}
	if e.Alloc != nil {
		e.Alloc.Ack()
	}
	return nm, nil
}

func alignUp(x, align uint32) uint32 {
	if align == 0 {
		return x
	}
	return (x + align - 1) / align * align
}

// Compact rewrites m's live entries into a fresh log, splitting into a new
// pair if the live set doesn't fit in half a block, or relocating to a fresh
// pair if the original block itself won't erase cleanly or is due for
// wear-leveling.
// A split threads the directory list by updating m's tail.
func (e *Engine) Compact(m *Mdir, ops []AttrOp, gdelta tagcodec.GState) (*Mdir, error) {
	if e.Metrics != nil {
		e.Metrics.Compaction(context.Background())
	}

	merged, _ := e.mergeEntries(m, ops)
	half := e.splitBudget()

	if opsSize(entriesToOps(merged)) > half {
		return e.splitCompact(m, merged, gdelta)
	}

	liveOps := entriesToOps(merged)
	if opsWriteTail(ops) {
		liveOps = append(liveOps, tailOnlyOps(ops)...)
	} else {
		liveOps = append(liveOps, tailOps(m)...)
	}

	newRev := m.Rev + 1
	forcedRewrite := e.BlockCycles > 0 && newRev%((e.BlockCycles+1)|1) == 0
	if forcedRewrite {
		return e.relocateCompact(m, liveOps, gdelta)
	}

	target := m.Pair[0]
	if err := e.BD.Erase(target); err != nil {
		return e.relocateCompact(m, liveOps, gdelta)
	}

	revBuf := make([]byte, 4)
	tagcodec.PutTagBE(revBuf, newRev)
	if err := e.BD.Prog(target, 0, revBuf); err != nil {
		return e.relocateCompact(m, liveOps, gdelta)
	}

	stub := &Mdir{Pair: m.Pair, Off: 4, ETag: 0xffffffff, Rev: newRev}
	committed, err := e.appendInPlace(stub, liveOps, gdelta)
	if err != nil {
		return e.relocateCompact(m, liveOps, gdelta)
	}
	return committed, nil
}

// splitBudget returns the byte ceiling a single half of a split must fit
// under: the metadata area minus the space reserved for the tail, gstate,
// and CRC tags every commit still needs room for, halved.
func (e *Engine) splitBudget() uint32 {
	budget := e.MetadataMax
	if budget > reservedTailBytes {
		budget -= reservedTailBytes
	} else {
		budget = 0
	}
	return budget / 2
}

// tailOps returns an AttrOp recreating m's existing tail, so a full rewrite
// (which starts from an erased block) doesn't silently lose it. A zero-value
// Pair is treated the same as null: it means m was never actually fetched
// (a fresh bootstrap stub), since a fetched-but-tailless Mdir defaults its
// Tail to the null pair, never the zero value.
func tailOps(m *Mdir) []AttrOp {
	if m.Tail.IsNull() || m.Tail == (tagcodec.Pair{}) {
		return nil
	}
	return []AttrOp{tailTagOp(m.Tail, m.Split)}
}

// tailOnlyOps pulls just the TAIL op out of a caller-supplied op batch, since
// the rest of the batch (NAME/STRUCT/USERATTR writes for the ids touched by
// this commit) is already folded into liveOps via mergeEntries.
func tailOnlyOps(ops []AttrOp) []AttrOp {
	var out []AttrOp
	for _, op := range ops {
		if op.Tag.Family() == tagcodec.TypeTail {
			out = append(out, op)
		}
	}
	return out
}

func tailTagOp(pair tagcodec.Pair, split bool) AttrOp {
	typ := tagcodec.TailSoft
	if split {
		typ = tagcodec.TailHard
	}
	buf := make([]byte, 8)
	tagcodec.PutTagBE(buf[0:4], pair[0])
	tagcodec.PutTagBE(buf[4:8], pair[1])
	return AttrOp{Tag: tagcodec.Tag{Valid: true, Type: typ, ID: tagcodec.IDNone, Size: 8}, Payload: buf}
}

// splitCompact moves the tail of merged's entries (sorted by id) into a
// freshly allocated pair when the live set doesn't fit in half a block,
// renumbering both halves to dense ids and threading m's own tail onto the
// new pair's tail so the directory list stays intact.
func (e *Engine) splitCompact(m *Mdir, merged map[uint16]*DirEntry, gdelta tagcodec.GState) (*Mdir, error) {
	if e.Alloc == nil {
		return nil, lfserr.New("mdir.splitCompact", lfserr.NOSPC)
	}

	half := e.splitBudget()

	ids := sortedIDs(merged)
	splitAt := len(ids)
	for splitAt > 0 {
		head := subset(merged, ids[:splitAt])
		if opsSize(entriesToOps(head)) <= half {
			break
		}
		splitAt--
	}
	if splitAt == len(ids) {
		// Nothing to trim off the front: the whole set already fits, so
		// there's nothing productive a split can do; fall back to an
		// in-place relocate rather than looping forever.
		fallbackOps := append(entriesToOps(merged), tailOps(m)...)
		return e.relocateCompact(m, fallbackOps, gdelta)
	}

	headEntries := renumber(subset(merged, ids[:splitAt]))
	tailEntries := renumber(subset(merged, ids[splitAt:]))

	a, err := e.Alloc.Alloc()
	if err != nil {
		return nil, err
	}
	b, err := e.Alloc.Alloc()
	if err != nil {
		return nil, err
	}
	newPair := tagcodec.Pair{a, b}

	if err := e.BD.Erase(newPair[0]); err != nil {
		return nil, err
	}
	tailRevBuf := make([]byte, 4)
	tagcodec.PutTagBE(tailRevBuf, 1)
	if err := e.BD.Prog(newPair[0], 0, tailRevBuf); err != nil {
		return nil, err
	}
	tailStub := &Mdir{Pair: newPair, Off: 4, ETag: 0xffffffff, Rev: 1}
	newTailOps := entriesToOps(tailEntries)
	newTailOps = append(newTailOps, tailOps(m)...)
	if _, err := e.appendInPlace(tailStub, newTailOps, tagcodec.GState{}); err != nil {
		return nil, lfserr.New("mdir.splitCompact", lfserr.CORRUPT)
	}

	newRev := m.Rev + 1
	target := m.Pair[0]
	if err := e.BD.Erase(target); err != nil {
		return nil, err
	}
	headRevBuf := make([]byte, 4)
	tagcodec.PutTagBE(headRevBuf, newRev)
	if err := e.BD.Prog(target, 0, headRevBuf); err != nil {
		return nil, err
	}
	headStub := &Mdir{Pair: m.Pair, Off: 4, ETag: 0xffffffff, Rev: newRev}
	headOps := append(entriesToOps(headEntries), tailTagOp(newPair, true))
	committed, err := e.appendInPlace(headStub, headOps, gdelta)
	if err != nil {
		return nil, lfserr.New("mdir.splitCompact", lfserr.CORRUPT)
	}
	return committed, nil
}

func opsWriteTail(ops []AttrOp) bool {
	for _, op := range ops {
		if op.Tag.Family() == tagcodec.TypeTail {
			return true
		}
	}
	return false
}

// relocateCompact allocates a fresh replacement pair when the original
// pair's block itself is unwritable, copying live entries across. The caller
// (directory Drop/parent commit machinery) is responsible for threading
// the new pair into the parent; this returns the freshly committed child.
func (e *Engine) relocateCompact(m *Mdir, ops []AttrOp, gdelta tagcodec.GState) (*Mdir, error) {
	if e.Alloc == nil {
		return nil, lfserr.New("mdir.relocateCompact", lfserr.NOSPC)
	}
	a, err := e.Alloc.Alloc()
	if err != nil {
		return nil, err
	}
	b, err := e.Alloc.Alloc()
	if err != nil {
		return nil, err
	}
	if e.Metrics != nil {
		e.Metrics.Relocation(context.Background())
	}

	newPair := tagcodec.Pair{a, b}
	if err := e.BD.Erase(newPair[0]); err != nil {
		return nil, err
	}
	revBuf := make([]byte, 4)
	tagcodec.PutTagBE(revBuf, m.Rev+1)
	if err := e.BD.Prog(newPair[0], 0, revBuf); err != nil {
		return nil, err
	}

	stub := &Mdir{Pair: newPair, Off: 4, ETag: 0xffffffff, Rev: m.Rev + 1}
	nm, err := e.appendInPlace(stub, ops, gdelta)
	if err != nil {
		return nil, lfserr.New("mdir.relocateCompact", lfserr.CORRUPT)
	}
	return nm, nil
}

// Drop steals a now-empty directory's tail and gstate into its predecessor
// and removes it from the directory list.
func (e *Engine) Drop(predecessor *Mdir, dropped *Mdir) (*Mdir, error) {
	ops := []AttrOp{{
		Tag: tagcodec.Tag{Valid: true, Type: tagcodec.TailHard, ID: tagcodec.IDNone, Size: 8},
		Payload: func() []byte {
			buf := make([]byte, 8)
			tagcodec.PutTagBE(buf[0:4], dropped.Tail[0])
			tagcodec.PutTagBE(buf[4:8], dropped.Tail[1])
			return buf
		}(),
	}}
	return e.Commit(predecessor, ops, tagcodec.GState{})
}
