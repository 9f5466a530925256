// Package tagcodec encodes and decodes littlefs metadata tags, the
// big-endian XOR delta chain tags ride on disk, block-pair comparisons, and
// the gstate XOR algebra.
//
// Follows littlefs's tag helpers (lfs_tag_type1/type3, lfs_tag_id,
// lfs_tag_size, lfs_gstate_*) directly; a bit-packed wire tag has no close
// reference implementation elsewhere, so encode/decode is built on the
// standard library (encoding/binary byte order helpers only).
package tagcodec

import "encoding/binary"

// Tag is a decoded (valid, type, id, size) triple. The wire encoding packs
// these into 32 bits: valid:1 type:11 id:10 size:10, big-endian, XORed
// against the previous tag on disk for delta compression.
type Tag struct {
	Valid bool
	Type  uint16 // 11 bits
	ID    uint16 // 10 bits
	Size  uint16 // 10 bits
}

const (
	IDNone   uint16 = 0x3ff
	SizeDel  uint16 = 0x3ff
	maskType        = 0x7ff
	maskID          = 0x3ff
	maskSize        = 0x3ff
)

// Tag type families: the top 3 bits of Type select the family.
const (
	TypeName     uint16 = 0x000
	TypeStruct   uint16 = 0x200
	TypeUserAttr uint16 = 0x300
	TypeFrom     uint16 = 0x100
	TypeTail     uint16 = 0x600
	TypeGlobals  uint16 = 0x700
	TypeCRC      uint16 = 0x500
	TypeSplice   uint16 = 0x400
)

// Name subtypes.
const (
	NameReg  uint16 = TypeName | 0x01
	NameDir  uint16 = TypeName | 0x02
	NameSup  uint16 = TypeName | 0xff // superblock
)

// Struct subtypes.
const (
	StructDirPair uint16 = TypeStruct | 0x00
	StructCTZ     uint16 = TypeStruct | 0x02
	StructInline  uint16 = TypeStruct | 0x01
)

// UserAttr subtypes. 0xfc/0xfd are the PhID overlay; 0xf6..0xfb are the
// Phoenix timestamp/ownership attributes carried alongside them. Values
// taken verbatim from ph_lfs_api.c so the wire format stays byte-compatible
// with Phoenix's own filesystem server.
const (
	UserAttrATime  uint16 = TypeUserAttr | 0xf6
	UserAttrCTime  uint16 = TypeUserAttr | 0xf7
	UserAttrMTime  uint16 = TypeUserAttr | 0xf8
	UserAttrUID    uint16 = TypeUserAttr | 0xf9
	UserAttrGID    uint16 = TypeUserAttr | 0xfa
	UserAttrMode   uint16 = TypeUserAttr | 0xfb
	UserAttrPhIDReg uint16 = TypeUserAttr | 0xfc
	UserAttrPhIDDir uint16 = TypeUserAttr | 0xfd
)

// Splice/Tail/Globals/CRC subtypes.
const (
	SpliceCreate uint16 = TypeSplice | 0x00
	SpliceDelete uint16 = TypeSplice | 0xff

	TailSoft uint16 = TypeTail | 0x00
	TailHard uint16 = TypeTail | 0x01 // low bit doubles as the split flag

	GlobalsMoveState uint16 = TypeGlobals | 0x00

	CRCTag  uint16 = TypeCRC | 0x00 // CCRC
	FCRCTag uint16 = TypeCRC | 0x01
)

// MkTag packs (type, id, size) into the wire word, pre-XOR.
func MkTag(typ, id, size uint16) uint32 {
	word := uint32(typ&maskType) << 20
	word |= uint32(id&maskID) << 10
	word |= uint32(size & maskSize)
	return word
}

// Encode returns the wire word for a Tag (the valid bit is the caller's
// concern: it is the XOR of this tag's "valid" bit against the previous
// on-disk tag's value, so callers track parity across the delta chain).
func Encode(t Tag) uint32 {
	word := MkTag(t.Type, t.ID, t.Size)
	if t.Valid {
		word |= 1 << 31
	}
	return word
}

// Decode unpacks a raw wire word (post-XOR) into a Tag.
func Decode(word uint32) Tag {
	return Tag{
		Valid: word&(1<<31) != 0,
		Type:  uint16((word >> 20) & maskType),
		ID:    uint16((word >> 10) & maskID),
		Size:  uint16(word & maskSize),
	}
}

// XORNext advances the delta chain: given the previous raw wire word and
// the next tag's logical (non-delta) word, returns the word actually
// written to disk.
func XORNext(prevRaw, nextLogical uint32) uint32 { return prevRaw ^ nextLogical }

// IsDelete reports whether size marks this tag as a tombstone.
func (t Tag) IsDelete() bool { return t.Size == SizeDel }

// Family returns the top-3-bit family selector.
func (t Tag) Family() uint16 { return t.Type & 0x700 }

// PutTagBE writes a tag word big-endian, the wire byte order for tags
// (payload bytes that follow a tag keep their own little/big-endian rules
// per field, documented at each call site).
func PutTagBE(buf []byte, word uint32) { binary.BigEndian.PutUint32(buf, word) }

func TagBE(buf []byte) uint32 { return binary.BigEndian.Uint32(buf) }

// EncodePair returns the 8-byte little-endian wire payload written by a
// STRUCT_DIR_PAIR tag.
func EncodePair(p Pair) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p[0])
	binary.LittleEndian.PutUint32(buf[4:8], p[1])
	return buf
}

// DecodePair parses an 8-byte STRUCT_DIR_PAIR payload.
func DecodePair(buf []byte) (Pair, bool) {
	if len(buf) != 8 {
		return Pair{}, false
	}
	return Pair{binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8])}, true
}

// Pair is a block pair (a, b) addressing one mdir.
type Pair [2]uint32

const NullBlock = ^uint32(0)

func (p Pair) IsNull() bool { return p[0] == NullBlock || p[1] == NullBlock }

// Cmp reports whether p and other share at least one block, in either
// position — used to recognize "the same mdir" across relocations that may
// have reordered which half is newest. Returns true on any shared half.
func (p Pair) Cmp(other Pair) bool {
	return p[0] == other[0] || p[0] == other[1] || p[1] == other[0] || p[1] == other[1]
}

// IsSync requires an exact, ordered match: both halves equal in the same
// position. Stricter than Cmp, used where block order itself is meaningful.
func (p Pair) IsSync(other Pair) bool { return p[0] == other[0] && p[1] == other[1] }

// Swap exchanges the two halves, used after an append picks a new "newest"
// block.
func (p Pair) Swap() Pair { return Pair{p[1], p[0]} }

// GState is the three-word global-state accumulator: pending cross-mdir
// move, orphan count, and the superblock-needs-rewrite bit, XORed into (and
// out of) every commit's GLOBALS tag.
type GState [3]uint32

// orphan count occupies the low 8 bits of word 0; "needs superblock
// rewrite" is bit 31 of word 0; a pending move's id/pair occupy word
// 1 (tag-shaped: bit 31 marks a move as pending, the low 10 bits hold its
// id) and word 2 (pair low 32 bits) respectively, matching the
// reference implementation's packing of lfs_gstate.tag/pair. A zero GState
// has no pending move.
const (
	orphanMask    = 0xff
	needsSBBit    = uint32(1) << 31
	moveBit       = uint32(1) << 31
)

func (g GState) Xor(other GState) GState {
	return GState{g[0] ^ other[0], g[1] ^ other[1], g[2] ^ other[2]}
}

func (g GState) HasOrphans() bool { return g[0]&orphanMask != 0 }

func (g GState) OrphanCount() uint32 { return g[0] & orphanMask }

func (g GState) NeedsSuperblock() bool { return g[0]&needsSBBit != 0 }

func (g GState) HasMove() bool { return g[1]&moveBit != 0 }

// MoveID returns the id of the pending moved entry, valid only if HasMove.
func (g GState) MoveID() uint16 { return uint16(g[1] & maskID) }

// HasMoveHere reports whether the pending move's source pair is pair.
func (g GState) HasMoveHere(pair Pair) bool {
	return g.HasMove() && g[2] == pair[0]
}

// SetOrphanDelta returns a GState whose word 0 orphan-count field is
// adjusted by delta (may be negative), used by the mdir engine when half-
// and full-orphans are created or retired.
func SetOrphanDelta(g GState, delta int) GState {
	count := int(g.OrphanCount()) + delta
	if count < 0 {
		count = 0
	}
	g[0] = (g[0] &^ orphanMask) | uint32(count)&orphanMask
	return g
}

func SetNeedsSuperblock(g GState, needs bool) GState {
	if needs {
		g[0] |= needsSBBit
	} else {
		g[0] &^= needsSBBit
	}
	return g
}

func SetMove(g GState, id uint16, pairLow uint32) GState {
	g[1] = (g[1] &^ maskID) | uint32(id)&maskID | moveBit
	g[2] = pairLow
	return g
}

func ClearMove(g GState) GState {
	g[1] &^= maskID | moveBit
	g[2] = 0
	return g
}
