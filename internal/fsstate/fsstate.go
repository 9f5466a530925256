// Package fsstate owns the filesystem-wide mount state: the single
// process-wide mutex serializing every API call, the root pair,
// gstate accumulators, the allocator, caches, and the object LRU.
//
// Follows the "one struct holds every mutable piece of mount state, guarded
// by one invariant mutex" shape, generalized from fuseops.InodeID/GCS
// generations to PhIDs and on-disk mdir pairs, and simplified from a
// per-inode-plus-FS lock ordering down to a single mutex.
package fsstate

import (
	"github.com/jacobsa/gcloud/syncutil"

	"github.com/phoenix-rtos/lfsd/internal/alloc"
	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/clock"
	"github.com/phoenix-rtos/lfsd/internal/filedata"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/logger"
	"github.com/phoenix-rtos/lfsd/internal/mdir"
	"github.com/phoenix-rtos/lfsd/internal/metrics"
	"github.com/phoenix-rtos/lfsd/internal/objcache"
	"github.com/phoenix-rtos/lfsd/internal/phid"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// Config is the subset of mount configuration fsstate needs directly; the
// rest (logging destinations, cobra/viper plumbing) lives in cfg.Config.
type Config struct {
	Geometry        bd.Geometry
	ReadOnly        bool
	UseAtime        bool
	UseMtime        bool
	UseCtime        bool
	MaxCachedObjects int
	NameMax         uint32
	FileMax         uint64
	AttrMax         uint32
	BlockCycles     uint32
	WriteFCRC       bool
}

// FS is the mounted filesystem. Exactly one exists per mount. Its exported
// methods are called from internal/api, which holds Mu for the duration of
// every operation, and from cmd's mount lifecycle (Mount and Unmount around
// serving, and the background GC loop, which takes Mu itself).
type FS struct {
	Mu syncutil.InvariantMutex // GUARDED_BY: everything below

	cfg    Config
	clock  clock.Clock
	log    *logger.Logger
	metrics *metrics.Handle

	BD     *bd.BD
	Mdir   *mdir.Engine
	Alloc  *alloc.Allocator
	PhIDs  *phid.Allocator
	Objects *objcache.Cache

	root tagcodec.Pair
	// gstate tracks the in-memory accumulator, the value known to be on
	// disk, and the delta not yet flushed by a commit.
	gstateCur      tagcodec.GState
	gstateOnDisk   tagcodec.GState
	gstateDelta    tagcodec.GState

	initialScan bool // true while last_id is still being observed during mount
}

// Metrics returns the handle internal/api records op counters against
// (nil if the mount wasn't given one).
func (fs *FS) Metrics() *metrics.Handle { return fs.metrics }

// New constructs an unmounted FS; call Mount to bring it up.
func New(cfg Config, device bd.Device, c clock.Clock, log *logger.Logger, m *metrics.Handle) (*FS, error) {
	bdLayer, err := bd.New(device, cfg.Geometry, cfg.ReadOnly, false)
	if err != nil {
		return nil, err
	}

	fs := &FS{
		cfg:     cfg,
		clock:   c,
		log:     log,
		metrics: m,
		BD:      bdLayer,
		root:    tagcodec.Pair{0, 1},
	}
	fs.Mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	fs.Mdir = &mdir.Engine{
		BD:          bdLayer,
		MetadataMax: minU32(cfg.Geometry.BlockSize, 0x400),
		BlockCycles: cfg.BlockCycles,
		WriteFCRC:   cfg.WriteFCRC,
		Metrics:     m,
	}

	if !cfg.ReadOnly {
		fs.Alloc = alloc.New(cfg.Geometry.BlockCount, cfg.Geometry.LookaheadSize, fs, m)
		fs.Mdir.Alloc = fs.Alloc
	}

	fs.Objects = objcache.New(cfg.MaxCachedObjects, fs)
	return fs, nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// checkInvariants panics on internal consistency violations; called by the
// InvariantMutex on every Lock/Unlock pair in debug builds.
func (fs *FS) checkInvariants() {
	if fs.root.IsNull() {
		panic("fsstate: root pair is null")
	}
}

// Format bootstraps an unformatted device: it compacts an empty, unfetched
// root pair into a fresh valid mdir, mirroring lfs_format's "compact an
// all-zero directory into existence" bootstrap.
func (fs *FS) Format() error {
	stub := &mdir.Mdir{Pair: fs.root, Rev: 0}
	if _, err := fs.Mdir.Commit(stub, nil, tagcodec.GState{}); err != nil {
		return lfserr.Wrap("fsstate.Format", lfserr.IO, err)
	}
	return nil
}

// Mount fetches the root pair, scans for the highest PhID, and calls
// Deorphan, which returns at once on a read-only mount.
func (fs *FS) Mount() error {
	fs.initialScan = true
	defer func() { fs.initialScan = false }()

	m, err := fs.Mdir.Fetch(fs.root)
	if err != nil {
		return lfserr.Wrap("fsstate.Mount", lfserr.CORRUPT, err)
	}

	root := &objcache.Object{
		PhID:    phid.Root,
		Flags:   objcache.FlagIsDir,
		Variant: objcache.Stub{},
		DirPair: fs.root,
	}
	fs.Objects.Insert(root)

	maxID := phid.Root
	seen := make(map[tagcodec.Pair]bool)
	if err := fs.walkTree(fs.root, seen, func(dm *mdir.Mdir) error {
		for _, ent := range dm.Entries {
			if ent.PhID > maxID {
				maxID = ent.PhID
			}
		}
		return nil
	}); err != nil {
		return lfserr.Wrap("fsstate.Mount", lfserr.CORRUPT, err)
	}
	fs.PhIDs = phid.NewAllocator(maxID)

	fs.gstateOnDisk = m.GDelta
	fs.gstateCur = m.GDelta

	if err := fs.Deorphan(); err != nil {
		return err
	}
	return nil
}

// walkTree visits every mdir reachable from root: root's own tail chain,
// plus, recursively, every subdirectory named by a live STRUCT_DIR_PAIR
// entry found along the way. seen guards against a corrupt or cyclic dir
// pair being walked twice.
func (fs *FS) walkTree(root tagcodec.Pair, seen map[tagcodec.Pair]bool, visit func(*mdir.Mdir) error) error {
	if seen[root] {
		return nil
	}
	seen[root] = true
	return fs.Mdir.Traverse(root, func(m *mdir.Mdir) error {
		if err := visit(m); err != nil {
			return err
		}
		for _, ent := range m.Entries {
			if !ent.IsDir || ent.Struct.Type != tagcodec.StructDirPair {
				continue
			}
			childPair, ok := tagcodec.DecodePair(ent.Payload)
			if !ok {
				continue
			}
			if err := fs.walkTree(childPair, seen, visit); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unmount syncs the block device. No state is kept outside committed mdirs
// and the device caches; open files are not flushed here.
func (fs *FS) Unmount() error {
	return fs.BD.Sync()
}

// Sync flushes the block device, used by the sync(phid) API entry point
// after a file's content has already been committed.
func (fs *FS) Sync() error { return fs.BD.Sync() }

// Grow raises the in-memory geometry's block count; it refuses to shrink.
// The on-disk superblock is not rewritten and the allocator keeps the block
// range it was built with.
func (fs *FS) Grow(newBlockCount uint32) error {
	if newBlockCount < fs.cfg.Geometry.BlockCount {
		return lfserr.New("fsstate.Grow", lfserr.INVAL)
	}
	fs.cfg.Geometry.BlockCount = newBlockCount
	return nil
}

// GC makes one Alloc call: the allocator runs its full-FS scan (ScanUsed)
// only when its lookahead window is exhausted. NOSPC from that call is not
// reported as an error.
func (fs *FS) GC() error {
	if fs.Alloc == nil {
		return lfserr.New("fsstate.GC", lfserr.ROFS)
	}
	start := fs.clock.Now()
	_, err := fs.Alloc.Alloc()
	if err != nil && !lfserr.As(err, lfserr.NOSPC) {
		return err
	}
	if fs.metrics != nil {
		fs.metrics.GCPass(nil, fs.clock.Now().Sub(start))
	}
	return nil
}

// ScanUsed implements alloc.Scanner: marks every block referenced by
// metadata pairs reachable from root, every CTZ chain hanging off a live
// directory entry, and every CTZ chain belonging to a currently open (and
// possibly not yet committed) file, so a live file's content blocks are
// never reclaimed out from under it.
func (fs *FS) ScanUsed(mark func(block uint32)) error {
	seen := make(map[tagcodec.Pair]bool)
	err := fs.walkTree(fs.root, seen, func(m *mdir.Mdir) error {
		mark(m.Pair[0])
		mark(m.Pair[1])
		for _, ent := range m.Entries {
			if ent.Struct.Type != tagcodec.StructCTZ {
				continue
			}
			ctz := filedata.DecodeCTZ(ent.Payload)
			if err := filedata.WalkChain(fs.BD, fs.cfg.Geometry.BlockSize, ctz.Head, uint64(ctz.Size), mark); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fs.Objects.All(func(o *objcache.Object) {
		of, ok := o.Variant.(objcache.OpenFile)
		if !ok {
			return
		}
		f, ok := of.State.(*filedata.File)
		if !ok || f.Flags&filedata.FlagInline != 0 {
			return
		}
		filedata.WalkChain(fs.BD, fs.cfg.Geometry.BlockSize, f.CTZDesc.Head, uint64(f.CTZDesc.Size), mark)
	})
	return nil
}

// Resolve implements objcache.Resolver: a full directory-tree walk for a
// PhID that isn't cached, matching each entry's decoded PHID userattr
// against id.
func (fs *FS) Resolve(id phid.ID) (*objcache.Object, error) {
	var found *objcache.Object
	seen := make(map[tagcodec.Pair]bool)
	err := fs.walkTree(fs.root, seen, func(m *mdir.Mdir) error {
		if found != nil {
			return nil
		}
		for localID, ent := range m.Entries {
			if ent.PhID != id {
				continue
			}
			obj := &objcache.Object{
				PhID:    id,
				Parent:  m.Pair,
				LocalID: localID,
				Variant: objcache.Stub{},
			}
			if ent.IsDir {
				obj.Flags |= objcache.FlagIsDir
				if pair, ok := tagcodec.DecodePair(ent.Payload); ok {
					obj.DirPair = pair
				}
			}
			found = obj
			break
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, objcache.ErrNotFound
	}
	return found, nil
}

// Deorphan runs the full-orphan sweep (sweepOrphansOnce) at most twice,
// while the gstate reports orphans; half-orphans are not detected. It does
// nothing on a read-only mount.
func (fs *FS) Deorphan() error {
	if fs.cfg.ReadOnly {
		return nil
	}
	for pass := 0; pass < 2 && fs.gstateCur.HasOrphans(); pass++ {
		fixed := fs.sweepOrphansOnce()
		if fs.metrics != nil {
			for i := uint32(0); i < fixed; i++ {
				fs.metrics.OrphanFixed(nil)
			}
		}
		if fixed == 0 {
			break
		}
	}
	return nil
}

// sweepOrphansOnce performs one pass over the directory tree looking for
// full orphans: a split-chain segment with no live entries left in it,
// reachable only because its predecessor's TAIL tag still points at it.
// Dropping it folds its own tail into the predecessor, per Drop.
//
// This does not implement littlefs's half-orphan detection (a pending move
// whose source was committed but whose destination commit never landed);
// that needs the move-gstate cross-check against every directory's entries,
// which this engine doesn't track across a crash boundary yet.
func (fs *FS) sweepOrphansOnce() uint32 {
	var fixed uint32
	seen := make(map[tagcodec.Pair]bool)
	var walk func(root tagcodec.Pair) error
	walk = func(root tagcodec.Pair) error {
		if seen[root] {
			return nil
		}
		seen[root] = true

		var prev *mdir.Mdir
		var children []tagcodec.Pair
		err := fs.Mdir.Traverse(root, func(m *mdir.Mdir) error {
			orphan := prev != nil && !prev.Tail.IsNull() && m.Count == 0 && len(m.Entries) == 0
			if orphan {
				if _, err := fs.Mdir.Drop(prev, m); err != nil {
					return err
				}
				fixed++
			} else {
				for _, ent := range m.Entries {
					if ent.IsDir && ent.Struct.Type == tagcodec.StructDirPair {
						if pair, ok := tagcodec.DecodePair(ent.Payload); ok {
							children = append(children, pair)
						}
					}
				}
				prev = m
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	_ = walk(fs.root)
	return fixed
}
