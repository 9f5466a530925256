package fixup_test

import (
	"testing"

	"github.com/phoenix-rtos/lfsd/internal/fixup"
	"github.com/phoenix-rtos/lfsd/internal/objcache"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
	"github.com/stretchr/testify/assert"
)

func TestApplyIDOpsDeleteMarksSentinel(t *testing.T) {
	id := uint16(3)
	pair := tagcodec.Pair{1, 2}
	target := fixup.Target{Parent: &pair, LocalID: &id}

	fixup.ApplyIDOps(pair, []fixup.Target{target}, []fixup.IDOp{{Create: false, ID: 3}})
	assert.Equal(t, tagcodec.IDNone, id)
}

func TestApplyIDOpsDeleteBelowShiftsDown(t *testing.T) {
	id := uint16(5)
	pair := tagcodec.Pair{1, 2}
	target := fixup.Target{Parent: &pair, LocalID: &id}

	fixup.ApplyIDOps(pair, []fixup.Target{target}, []fixup.IDOp{{Create: false, ID: 2}})
	assert.Equal(t, uint16(4), id)
}

func TestApplyIDOpsCreateBelowShiftsUp(t *testing.T) {
	id := uint16(5)
	pair := tagcodec.Pair{1, 2}
	target := fixup.Target{Parent: &pair, LocalID: &id}

	fixup.ApplyIDOps(pair, []fixup.Target{target}, []fixup.IDOp{{Create: true, ID: 2}})
	assert.Equal(t, uint16(6), id)
}

func TestApplyIDOpsIgnoresOtherPairs(t *testing.T) {
	id := uint16(5)
	pair := tagcodec.Pair{1, 2}
	other := tagcodec.Pair{9, 9}
	target := fixup.Target{Parent: &pair, LocalID: &id}

	fixup.ApplyIDOps(other, []fixup.Target{target}, []fixup.IDOp{{Create: false, ID: 0}})
	assert.Equal(t, uint16(5), id, "target belongs to a different pair and must be untouched")
}

func TestApplyIDOpsShiftsDirPos(t *testing.T) {
	id := uint16(5)
	pos := uint32(3)
	pair := tagcodec.Pair{1, 2}
	target := fixup.Target{Parent: &pair, LocalID: &id, DirPos: &pos}

	fixup.ApplyIDOps(pair, []fixup.Target{target}, []fixup.IDOp{{Create: false, ID: 2}})
	assert.Equal(t, uint16(4), id)
	assert.Equal(t, uint32(2), pos)
}

func TestApplyRelocationReplacesMatchingPairs(t *testing.T) {
	old := tagcodec.Pair{1, 2}
	next := tagcodec.Pair{5, 6}
	p1 := tagcodec.Pair{1, 2} // exact match: IsSync requires positional equality
	p2 := tagcodec.Pair{9, 9}

	fixup.ApplyRelocation(old, next, []*tagcodec.Pair{&p1, &p2})
	assert.Equal(t, next, p1)
	assert.Equal(t, tagcodec.Pair{9, 9}, p2)
}

func TestFixUpObjectsAdjustsCachedObjects(t *testing.T) {
	c := objcache.New(0, nil)
	pair := tagcodec.Pair{1, 2}
	o := &objcache.Object{PhID: 1, Parent: pair, LocalID: 5}
	c.Insert(o)

	fixup.FixUpObjects(c, pair, []fixup.IDOp{{Create: false, ID: 2}})
	assert.Equal(t, uint16(4), c.Peek(1).LocalID)
}

func TestRelocateObjectsUpdatesParentPairs(t *testing.T) {
	c := objcache.New(0, nil)
	old := tagcodec.Pair{1, 2}
	next := tagcodec.Pair{7, 8}
	o := &objcache.Object{PhID: 1, Parent: old}
	c.Insert(o)

	fixup.RelocateObjects(c, old, next)
	assert.Equal(t, next, c.Peek(1).Parent)
}
