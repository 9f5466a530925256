// Package fixup implements the fix-up engine: after every
// metadata commit, every in-memory handle whose local id was shifted by a
// SPLICE, or whose pair was replaced by a relocation, is rewritten in
// place rather than invalidated — there is no pointer graph to walk, only
// the flat collections objcache and fsstate already own.
//
// Replaces an intrusive linked list of open handles with a collection owned
// by the filesystem state: the fix-up engine iterates that collection after
// every commit instead of threading pointers through each handle.
package fixup

import (
	"github.com/phoenix-rtos/lfsd/internal/objcache"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// IDOp is one id-shifting attribute applied by a commit, already filtered
// down to the CREATE/DELETE tags that affect local ids.
type IDOp struct {
	Create bool // false means Delete
	ID     uint16
}

// FilterIDOps returns ops as given (nil when empty): every op already
// changes ids, so the slice already ends at the last id-changing tag.
func FilterIDOps(ops []IDOp) []IDOp {
	if len(ops) == 0 {
		return nil
	}
	// Callers build ops only from SPLICE tags already, so every entry here
	// is id-shifting; "shorten to the last id-changing tag" is a property
	// of the caller's attribute-list scan, not of this slice.
	return ops
}

// Target is anything the fix-up engine can adjust: the common shape shared
// by an LRU object, an open file's cached mdir+id, and an open directory's
// cached mdir+id+position.
type Target struct {
	Parent  *tagcodec.Pair
	LocalID *uint16
	// DirPos, if non-nil, is shifted by the same delta applied to LocalID
	// (open directories only: the read position tracks the id it was
	// positioned at).
	DirPos *uint32
}

// ApplyIDOps applies ops to every target whose Parent matches oldPair. It
// does not follow the tail chain: a target whose id ends up at or past the
// mdir's count keeps that id and its Parent.
func ApplyIDOps(oldPair tagcodec.Pair, targets []Target, ops []IDOp) {
	for _, t := range targets {
		if t.Parent == nil || !t.Parent.IsSync(oldPair) {
			continue
		}
		applyOne(t, ops)
	}
}

func applyOne(t Target, ops []IDOp) {
	for _, op := range ops {
		id := *t.LocalID
		switch {
		case !op.Create && op.ID == id:
			// DELETE id == my_id (and not BEING_CREATED, checked by caller
			// before invoking fixup at all): mark deleted. The caller is
			// expected to null out Parent itself once this function
			// returns true-like signal; we encode it by setting LocalID to
			// the sentinel and leaving Parent for the caller to null.
			*t.LocalID = tagcodec.IDNone
			return
		case !op.Create && op.ID <= id:
			*t.LocalID--
			if t.DirPos != nil && *t.DirPos > 0 {
				*t.DirPos--
			}
		case op.Create && op.ID <= id:
			*t.LocalID++
			if t.DirPos != nil {
				*t.DirPos++
			}
		}
	}
}

// ApplyRelocation replaces every matching pair reference across the
// supplied targets after a block-pair relocation.
func ApplyRelocation(oldPair, newPair tagcodec.Pair, parents []*tagcodec.Pair) {
	for _, p := range parents {
		if p.IsSync(oldPair) {
			*p = newPair
		}
	}
}

// FixUpObjects applies ops, as ApplyIDOps does, to every cached LRU object
// whose parent pair is oldPair, building Targets from the object cache
// directly rather than requiring the caller to enumerate them. Pair
// relocation is left to RelocateObjects.
func FixUpObjects(cache *objcache.Cache, oldPair tagcodec.Pair, ops []IDOp) {
	cache.All(func(o *objcache.Object) {
		if !o.Parent.IsSync(oldPair) {
			return
		}
		id := o.LocalID
		t := Target{Parent: &o.Parent, LocalID: &id}
		applyOne(t, ops)
		o.LocalID = id
	})
}

// RelocateObjects replaces oldPair with newPair across every cached LRU
// object.
func RelocateObjects(cache *objcache.Cache, oldPair, newPair tagcodec.Pair) {
	cache.All(func(o *objcache.Object) {
		if o.Parent.IsSync(oldPair) {
			o.Parent = newPair
		}
	})
}
