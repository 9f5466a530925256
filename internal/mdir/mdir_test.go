package mdir_test

import (
	"testing"

	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/devbd"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/mdir"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, blockCount int) (*mdir.Engine, *bd.BD) {
	t.Helper()
	dev := devbd.New(blockCount, 128, 16, 16)
	b, err := bd.New(dev, bd.Geometry{
		ReadSize: 16, ProgSize: 16, BlockSize: 128, CacheSize: 16,
		LookaheadSize: 16, BlockCount: uint32(blockCount),
	}, false, false)
	require.NoError(t, err)
	return &mdir.Engine{BD: b, MetadataMax: 128}, b
}

func TestCompactBootstrapsEmptyDirectory(t *testing.T) {
	e, _ := newEngine(t, 4)
	m := &mdir.Mdir{Pair: tagcodec.Pair{0, 1}}

	committed, err := e.Compact(m, nil, tagcodec.GState{})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), committed.Rev)
	assert.Equal(t, uint16(0), committed.Count)
}

func TestFetchReturnsNewestRevisionAfterCompact(t *testing.T) {
	e, _ := newEngine(t, 4)
	m := &mdir.Mdir{Pair: tagcodec.Pair{0, 1}}

	_, err := e.Compact(m, nil, tagcodec.GState{})
	require.NoError(t, err)

	fetched, err := e.Fetch(tagcodec.Pair{0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), fetched.Rev)
}

func TestFetchRejectsOutOfRangePair(t *testing.T) {
	e, _ := newEngine(t, 2)
	_, err := e.Fetch(tagcodec.Pair{5, 6})
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.CORRUPT))
}

func TestCommitAppendsInPlaceAfterFetchMarksErased(t *testing.T) {
	e, _ := newEngine(t, 4)
	m := &mdir.Mdir{Pair: tagcodec.Pair{0, 1}}
	_, err := e.Compact(m, nil, tagcodec.GState{})
	require.NoError(t, err)

	fetched, err := e.Fetch(tagcodec.Pair{0, 1})
	require.NoError(t, err)
	require.True(t, fetched.Erased)

	ops := []mdir.AttrOp{{
		Tag: tagcodec.Tag{Valid: true, Type: tagcodec.SpliceCreate, ID: 0, Size: 0},
	}}
	committed, err := e.Commit(fetched, ops, tagcodec.GState{})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), committed.Count)

	refetched, err := e.Fetch(tagcodec.Pair{0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), refetched.Count)
}

func TestTraverseVisitsChainedTails(t *testing.T) {
	e, _ := newEngine(t, 6)

	root := tagcodec.Pair{0, 1}
	next := tagcodec.Pair{2, 3}

	_, err := e.Compact(&mdir.Mdir{Pair: root}, nil, tagcodec.GState{})
	require.NoError(t, err)
	_, err = e.Compact(&mdir.Mdir{Pair: next}, nil, tagcodec.GState{})
	require.NoError(t, err)

	fetchedRoot, err := e.Fetch(root)
	require.NoError(t, err)

	tailBuf := make([]byte, 8)
	tagcodec.PutTagBE(tailBuf[0:4], next[0])
	tagcodec.PutTagBE(tailBuf[4:8], next[1])
	ops := []mdir.AttrOp{{
		Tag:     tagcodec.Tag{Valid: true, Type: tagcodec.TailHard, ID: tagcodec.IDNone, Size: 8},
		Payload: tailBuf,
	}}
	_, err = e.Commit(fetchedRoot, ops, tagcodec.GState{})
	require.NoError(t, err)

	var visited []tagcodec.Pair
	err = e.Traverse(root, func(m *mdir.Mdir) error {
		visited = append(visited, m.Pair)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []tagcodec.Pair{root, next}, visited)
}

func TestTraverseDetectsCycle(t *testing.T) {
	e, _ := newEngine(t, 4)
	root := tagcodec.Pair{0, 1}

	_, err := e.Compact(&mdir.Mdir{Pair: root}, nil, tagcodec.GState{})
	require.NoError(t, err)

	fetchedRoot, err := e.Fetch(root)
	require.NoError(t, err)

	// Point the directory's own tail back at itself.
	tailBuf := make([]byte, 8)
	tagcodec.PutTagBE(tailBuf[0:4], root[0])
	tagcodec.PutTagBE(tailBuf[4:8], root[1])
	ops := []mdir.AttrOp{{
		Tag:     tagcodec.Tag{Valid: true, Type: tagcodec.TailHard, ID: tagcodec.IDNone, Size: 8},
		Payload: tailBuf,
	}}
	_, err = e.Commit(fetchedRoot, ops, tagcodec.GState{})
	require.NoError(t, err)

	err = e.Traverse(root, func(m *mdir.Mdir) error { return nil })
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.CORRUPT))
}
