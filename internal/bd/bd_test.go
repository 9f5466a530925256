package bd_test

import (
	"testing"

	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/devbd"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geo() bd.Geometry {
	return bd.Geometry{
		ReadSize: 16, ProgSize: 16, BlockSize: 64,
		CacheSize: 16, LookaheadSize: 32, BlockCount: 8,
	}
}

func TestGeometryValidateRejectsZero(t *testing.T) {
	g := geo()
	g.ReadSize = 0
	assert.Error(t, g.Validate())
}

func TestGeometryValidateRejectsMisalignedBlockSize(t *testing.T) {
	g := geo()
	g.BlockSize = 17
	assert.Error(t, g.Validate())
}

func TestGeometryValidateRejectsMisalignedCacheSize(t *testing.T) {
	g := geo()
	g.CacheSize = 5
	assert.Error(t, g.Validate())
}

func TestGeometryValidateAcceptsValid(t *testing.T) {
	assert.NoError(t, geo().Validate())
}

func TestNewRejectsInvalidGeometry(t *testing.T) {
	g := geo()
	g.ReadSize = 0
	dev := devbd.New(8, 64, 16, 16)
	_, err := bd.New(dev, g, false, false)
	require.Error(t, err)
}

func TestProgThenReadThroughPcache(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)

	require.NoError(t, b.Prog(0, 0, []byte("0123456789abcdef")))

	buf := make([]byte, 16)
	require.NoError(t, b.Read(0, 0, buf))
	assert.Equal(t, "0123456789abcdef", string(buf))
}

func TestReadAfterFlushComesFromDevice(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)

	require.NoError(t, b.Prog(0, 0, make([]byte, 16)))
	require.NoError(t, b.Flush())

	buf := make([]byte, 16)
	require.NoError(t, b.Read(0, 0, buf))
	for _, x := range buf {
		assert.Equal(t, byte(0), x)
	}
}

func TestEraseClearsPreviousProg(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)

	require.NoError(t, b.Prog(1, 0, make([]byte, 16)))
	require.NoError(t, b.Erase(1))

	buf := make([]byte, 16)
	require.NoError(t, b.Read(1, 0, buf))
	for _, x := range buf {
		assert.Equal(t, byte(0xff), x)
	}
}

func TestReadOnlyRejectsProgAndErase(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), true, false)
	require.NoError(t, err)

	err = b.Prog(0, 0, make([]byte, 16))
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.ROFS))

	err = b.Erase(0)
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.ROFS))
}

// flakyVerifyDevice programs normally but always reads back zeroes, so a
// verifying BD sees a mismatch against whatever non-zero payload it wrote.
type flakyVerifyDevice struct{ *devbd.Device }

func (f flakyVerifyDevice) Read(block, off uint32, buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func TestVerifyProgDetectsMismatch(t *testing.T) {
	dev := flakyVerifyDevice{devbd.New(8, 64, 16, 16)}
	b, err := bd.New(dev, geo(), false, true)
	require.NoError(t, err)

	err = b.Prog(0, 0, []byte("0123456789abcdef"))
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.CORRUPT))
}

func TestSyncFlushesPendingProg(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)

	require.NoError(t, b.Prog(2, 0, []byte("sync-me-sync-me!")))
	require.NoError(t, b.Sync())

	buf := make([]byte, 16)
	require.NoError(t, dev.Read(2, 0, buf))
	assert.Equal(t, "sync-me-sync-me", string(buf[:15]))
}

func TestCRCIsDeterministic(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)

	require.NoError(t, b.Prog(0, 0, []byte("0123456789abcdef")))
	require.NoError(t, b.Flush())

	c1, err := b.CRC(0, 0, 16, 0)
	require.NoError(t, err)
	c2, err := b.CRC(0, 0, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.NotZero(t, c1)
}

func TestCmpDetectsEqualAndDifferent(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)

	payload := []byte("0123456789abcdef")
	require.NoError(t, b.Prog(0, 0, payload))
	require.NoError(t, b.Flush())

	res, err := b.Cmp(0, 0, payload)
	require.NoError(t, err)
	assert.Equal(t, bd.CmpEQ, res)

	other := make([]byte, 16)
	res, err = b.Cmp(0, 0, other)
	require.NoError(t, err)
	assert.NotEqual(t, bd.CmpEQ, res)
}

func TestGeometryAccessor(t *testing.T) {
	dev := devbd.New(8, 64, 16, 16)
	b, err := bd.New(dev, geo(), false, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), b.Geometry().BlockSize)
}
