// Package phid implements the Phoenix-ID overlay: a 64-bit
// persistent identifier stored as a USERATTR tag alongside each entry's
// NAME/STRUCT, independent of the entry's (pair, local-id) address.
//
// Follows ph_lfs_api.c's allocation/lookup sequence (PhID 0 invalid, 1
// reserved for root, last_id+1 handed out on create with rollback on
// failure).
package phid

import (
	"encoding/binary"

	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// ID is a persistent 64-bit file identifier. 0 is invalid; 1 is the root
// directory.
type ID uint64

const (
	Invalid ID = 0
	Root    ID = 1
)

// Kind selects which USERATTR subtype carries a PhID payload.
type Kind uint16

const (
	KindReg Kind = Kind(tagcodec.UserAttrPhIDReg)
	KindDir Kind = Kind(tagcodec.UserAttrPhIDDir)
)

// Encode returns the 8-byte little-endian wire payload for id.
func Encode(id ID) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

// Decode parses an 8-byte little-endian PhID payload.
func Decode(buf []byte) (ID, error) {
	if len(buf) != 8 {
		return Invalid, lfserr.New("phid.Decode", lfserr.CORRUPT)
	}
	return ID(binary.LittleEndian.Uint64(buf)), nil
}

// Allocator hands out monotonically increasing PhIDs, tracking the highest
// ID observed anywhere on disk (including during the initial mount scan)
// the way the engine tracks last_id.
type Allocator struct {
	lastID ID
}

// NewAllocator seeds the allocator with the highest PhID already known
// (typically discovered by the mdir mount scan).
func NewAllocator(seed ID) *Allocator {
	if seed < Root {
		seed = Root
	}
	return &Allocator{lastID: seed}
}

// Observe records an ID encountered on disk, raising lastID if needed. Used
// during the mount-time scan: the scan observes PhID user-attr tags to set
// last_id, once, before any Next() calls.
func (a *Allocator) Observe(id ID) {
	if id > a.lastID {
		a.lastID = id
	}
}

// Next reserves the next PhID. The caller must call Rollback if the commit
// that was meant to persist it fails, so the id can be reissued.
func (a *Allocator) Next() ID {
	a.lastID++
	return a.lastID
}

// Rollback undoes a Next() whose commit failed, provided no other Next()
// call has happened since (true under the single FS mutex: API calls never
// run concurrently).
func (a *Allocator) Rollback(id ID) {
	if id == a.lastID {
		a.lastID--
	}
}

func (a *Allocator) Last() ID { return a.lastID }

// KindForKind reports the USERATTR subtype used for a file of the given
// directory-ness.
func KindFor(isDir bool) Kind {
	if isDir {
		return KindDir
	}
	return KindReg
}
