package fsstate_test

import (
	"testing"

	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/clock"
	"github.com/phoenix-rtos/lfsd/internal/devbd"
	"github.com/phoenix-rtos/lfsd/internal/fsstate"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/logger"
	"github.com/phoenix-rtos/lfsd/internal/mdir"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() fsstate.Config {
	return fsstate.Config{
		Geometry: bd.Geometry{
			ReadSize: 16, ProgSize: 16, BlockSize: 512,
			CacheSize: 16, LookaheadSize: 32, BlockCount: 32,
		},
		MaxCachedObjects: 32,
		NameMax:          255,
	}
}

// formatRootPair bootstraps the hardcoded root pair {0,1} with an empty
// commit, the way a real format() would, using a throwaway Engine bound to
// the same BD the FS under test uses.
func formatRootPair(t *testing.T, b *bd.BD) {
	t.Helper()
	e := &mdir.Engine{BD: b, MetadataMax: 512}
	_, err := e.Compact(&mdir.Mdir{Pair: tagcodec.Pair{0, 1}}, nil, tagcodec.GState{})
	require.NoError(t, err)
}

func TestNewBuildsUnmountedFS(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)
	assert.NotNil(t, fs.Mdir)
	assert.NotNil(t, fs.Alloc)
	assert.NotNil(t, fs.Objects)
	assert.Nil(t, fs.Metrics())
}

func TestNewSkipsAllocatorWhenReadOnly(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	cfg := testConfig()
	cfg.ReadOnly = true
	fs, err := fsstate.New(cfg, dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)
	assert.Nil(t, fs.Alloc)
}

func TestMountFetchesFormattedRoot(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	b, err := bd.New(dev, testConfig().Geometry, false, false)
	require.NoError(t, err)
	formatRootPair(t, b)

	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Mount())
	assert.NotNil(t, fs.PhIDs)
}

func TestMountFailsOnUnformattedImage(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	err = fs.Mount()
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.CORRUPT))
}

func TestGrowRefusesShrink(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	err = fs.Grow(16)
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.INVAL))
}

func TestGrowAcceptsLarger(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	assert.NoError(t, fs.Grow(64))
}

func TestGCRefusesOnReadOnlyMount(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	cfg := testConfig()
	cfg.ReadOnly = true
	fs, err := fsstate.New(cfg, dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	err = fs.GC()
	require.Error(t, err)
	assert.True(t, lfserr.As(err, lfserr.ROFS))
}

func TestGCSucceedsWithFreeBlocks(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	b, err := bd.New(dev, testConfig().Geometry, false, false)
	require.NoError(t, err)
	formatRootPair(t, b)

	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	assert.NoError(t, fs.GC())
}

func TestScanUsedVisitsRootPair(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	b, err := bd.New(dev, testConfig().Geometry, false, false)
	require.NoError(t, err)
	formatRootPair(t, b)

	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	var marked []uint32
	err = fs.ScanUsed(func(block uint32) { marked = append(marked, block) })
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{0, 1}, marked)
}

func TestSyncAndUnmountDelegateToDevice(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	assert.NoError(t, fs.Sync())
	assert.NoError(t, fs.Unmount())
}

func TestDeorphanIsNoopWithoutOrphans(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	fs, err := fsstate.New(testConfig(), dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	assert.NoError(t, fs.Deorphan())
}

func TestDeorphanIsNoopWhenReadOnly(t *testing.T) {
	dev := devbd.New(32, 512, 16, 16)
	log := logger.New(logger.Options{Severity: logger.SeverityOff})
	cfg := testConfig()
	cfg.ReadOnly = true
	fs, err := fsstate.New(cfg, dev, clock.RealClock{}, log, nil)
	require.NoError(t, err)

	assert.NoError(t, fs.Deorphan())
}
