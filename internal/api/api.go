// Package api implements the POSIX operation surface consumed by the IPC
// dispatcher: create, open, close, read, write, truncate,
// lookup, readdir, link (rename-with-overwrite), unlink, destroy,
// getattr/setattr, statfs, sync, grow, gc. Every method acquires the FS
// mutex, runs its body, and releases; all errors are negative
// lfserr.Code values.
//
// Adapted from a FUSE-style per-operation method set (LookUpInode,
// CreateFile, OpenDir, ReadDir, Rename-equivalent handling in RmDir/Unlink,
// GetInodeAttributes/SetInodeAttributes) to PhID-keyed POSIX calls, following
// ph_lfs_api.h for exact per-operation semantics.
package api

import (
	"encoding/binary"
	"sort"
	"strings"
	"time"

	"github.com/phoenix-rtos/lfsd/internal/clock"
	"github.com/phoenix-rtos/lfsd/internal/filedata"
	"github.com/phoenix-rtos/lfsd/internal/fixup"
	"github.com/phoenix-rtos/lfsd/internal/fsstate"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/logger"
	"github.com/phoenix-rtos/lfsd/internal/mdir"
	"github.com/phoenix-rtos/lfsd/internal/objcache"
	"github.com/phoenix-rtos/lfsd/internal/phid"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// API is the server's handle onto a mounted filesystem, the thing the
// out-of-scope IPC dispatcher calls into.
type API struct {
	fs    *fsstate.FS
	clock clock.Clock
	log   *logger.Logger
}

func New(fs *fsstate.FS, c clock.Clock, log *logger.Logger) *API {
	return &API{fs: fs, clock: c, log: log}
}

// Attr mirrors the small set of attributes stored as USERATTR tags.
type Attr struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	ATime time.Time
	MTime time.Time
	CTime time.Time
	Size  uint64
	IsDir bool
}

// Dirent is one entry returned by Readdir.
type Dirent struct {
	PhID  phid.ID
	Name  string
	IsDir bool
}

func (a *API) lock() func() {
	a.fs.Mu.Lock()
	return a.fs.Mu.Unlock
}

func encodeU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func decodeU32(buf []byte) uint32 {
	if len(buf) != 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(buf)
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTime(buf []byte) time.Time {
	if len(buf) != 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.LittleEndian.Uint64(buf)))
}

// Create resolves the parent, rejects an existing name with EEXIST, assigns
// the next free local id within the parent's head mdir segment, and commits
// CREATE + NAME + PHID + MODE + timestamps + an empty/dir STRUCT in one
// batch.
//
// New entries always land in the head segment of the parent's tail chain
// (the pair named by DirPair); Commit's own Compact/split machinery takes
// over once that segment overflows, rather than this layer picking among
// the chain's segments itself.
func (a *API) Create(parent phid.ID, name string, mode uint32, isDir bool) (id phid.ID, err error) {
	defer a.lock()()
	defer a.record(OpCreate, &err)()

	if len(name) > 255 {
		return phid.Invalid, lfserr.New("api.Create", lfserr.NAMETOOLONG)
	}

	parentObj, err := a.fs.Objects.Get(parent)
	if err != nil {
		return phid.Invalid, err
	}
	if parentObj.Flags&objcache.FlagIsDir == 0 {
		return phid.Invalid, lfserr.New("api.Create", lfserr.NOTDIR)
	}

	if _, found, err := a.dirFind(parentObj, name); err != nil {
		return phid.Invalid, err
	} else if found {
		return phid.Invalid, lfserr.New("api.Create", lfserr.EXIST)
	}

	m, err := a.fs.Mdir.Fetch(parentObj.DirPair)
	if err != nil {
		return phid.Invalid, err
	}
	localID := m.Count

	id = a.fs.PhIDs.Next()
	now := a.clock.Now()

	nameType := tagcodec.NameReg
	structTag := tagcodec.Tag{Valid: true, Type: tagcodec.StructInline, ID: localID, Size: 0}
	var structPayload []byte
	var dirPair tagcodec.Pair

	if isDir {
		if a.fs.Alloc == nil {
			a.fs.PhIDs.Rollback(id)
			return phid.Invalid, lfserr.New("api.Create", lfserr.ROFS)
		}
		nameType = tagcodec.NameDir
		dirPair, err = a.allocEmptyMdir()
		if err != nil {
			a.fs.PhIDs.Rollback(id)
			return phid.Invalid, err
		}
		structTag = tagcodec.Tag{Valid: true, Type: tagcodec.StructDirPair, ID: localID, Size: 8}
		structPayload = tagcodec.EncodePair(dirPair)
	}

	phidType := uint16(phid.KindFor(isDir))
	ops := []mdir.AttrOp{
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.SpliceCreate, ID: localID, Size: 0}},
		{Tag: tagcodec.Tag{Valid: true, Type: nameType, ID: localID, Size: uint16(len(name))}, Payload: []byte(name)},
		{Tag: structTag, Payload: structPayload},
		{Tag: tagcodec.Tag{Valid: true, Type: phidType, ID: localID, Size: 8}, Payload: phid.Encode(id)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrMode, ID: localID, Size: 4}, Payload: encodeU32(mode)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrATime, ID: localID, Size: 8}, Payload: encodeTime(now)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrMTime, ID: localID, Size: 8}, Payload: encodeTime(now)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrCTime, ID: localID, Size: 8}, Payload: encodeTime(now)},
	}

	if _, err := a.fs.Mdir.Commit(m, ops, tagcodec.GState{}); err != nil {
		a.fs.PhIDs.Rollback(id)
		return phid.Invalid, err
	}

	obj := &objcache.Object{
		PhID:    id,
		Parent:  parentObj.DirPair,
		LocalID: localID,
		Variant: objcache.Stub{},
	}
	if isDir {
		obj.Flags |= objcache.FlagIsDir
		obj.DirPair = dirPair
	}
	a.fs.Objects.Insert(obj)

	return id, nil
}

// allocEmptyMdir allocates a fresh block pair and compacts an empty,
// unfetched stub into it, mirroring fsstate.Format's bootstrap but for a
// freshly created subdirectory rather than the root.
func (a *API) allocEmptyMdir() (tagcodec.Pair, error) {
	blockA, err := a.fs.Alloc.Alloc()
	if err != nil {
		return tagcodec.Pair{}, err
	}
	blockB, err := a.fs.Alloc.Alloc()
	if err != nil {
		return tagcodec.Pair{}, err
	}
	pair := tagcodec.Pair{blockA, blockB}
	stub := &mdir.Mdir{Pair: pair, Rev: 0}
	if _, err := a.fs.Mdir.Commit(stub, nil, tagcodec.GState{}); err != nil {
		return tagcodec.Pair{}, err
	}
	return pair, nil
}

// dirFind resolves name within parentObj's own mdir chain against the
// on-disk NAME tags (not just the cached object set, which only knows about
// already-opened entries), returning the matching cached object, inserting
// a fresh one from the decoded entry on a cache miss.
func (a *API) dirFind(parentObj *objcache.Object, name string) (*objcache.Object, bool, error) {
	m, ent, found, err := a.fs.Mdir.FindByName(parentObj.DirPair, name)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if obj := a.fs.Objects.Peek(ent.PhID); obj != nil {
		return obj, true, nil
	}

	obj := &objcache.Object{
		PhID:    ent.PhID,
		Parent:  m.Pair,
		LocalID: ent.ID,
		Variant: objcache.Stub{},
	}
	if ent.IsDir {
		obj.Flags |= objcache.FlagIsDir
		if pair, ok := tagcodec.DecodePair(ent.Payload); ok {
			obj.DirPair = pair
		}
	}
	a.fs.Objects.Insert(obj)
	return obj, true, nil
}

// dirEmpty reports whether every segment of dirPair's tail chain holds no
// live entries.
func (a *API) dirEmpty(dirPair tagcodec.Pair) (bool, error) {
	empty := true
	err := a.fs.Mdir.Traverse(dirPair, func(m *mdir.Mdir) error {
		if len(m.Entries) != 0 {
			empty = false
		}
		return nil
	})
	return empty, err
}

// Open expands a stub LRU entry into an open file, reading its real
// on-disk STRUCT tag and payload (inline bytes or CTZ descriptor) so the
// content engine starts from what's actually there instead of an empty
// file. Directories are left as stubs; bumps the refcount either way.
func (a *API) Open(id phid.ID, write bool) (err error) {
	defer a.lock()()
	defer a.record(OpOpen, &err)()

	obj, err := a.fs.Objects.Get(id)
	if err != nil {
		return err
	}
	if _, isStub := obj.Variant.(objcache.Stub); isStub && obj.Flags&objcache.FlagIsDir == 0 {
		structTag := tagcodec.Tag{Type: tagcodec.StructInline, Size: 0}
		var payload []byte
		if m, ferr := a.fs.Mdir.Fetch(obj.Parent); ferr == nil {
			if ent, ok := m.Entries[obj.LocalID]; ok && ent.Struct.Type != 0 {
				structTag = ent.Struct
				payload = ent.Payload
			}
		}
		inlineLimit := filedata.InlineLimit(a.fs.BD.Geometry().CacheSize, a.fs.Mdir.MetadataMax)
		obj.Variant = objcache.OpenFile{State: filedata.Open(a.fs.BD, a.fs.BD.Geometry().BlockSize, inlineLimit, structTag, payload)}
	}
	obj.IncRef()
	return nil
}

// commitStruct persists a content engine's returned STRUCT tag (from
// Flush) against the file's own entry.
func (a *API) commitStruct(obj *objcache.Object, tag tagcodec.Tag, payload []byte) error {
	if tag.Type == 0 {
		return nil
	}
	m, err := a.fs.Mdir.Fetch(obj.Parent)
	if err != nil {
		return err
	}
	tag.ID = obj.LocalID
	_, err = a.fs.Mdir.Commit(m, []mdir.AttrOp{{Tag: tag, Payload: payload}}, tagcodec.GState{})
	return err
}

// Close decrements the reference count, flushing and committing pending
// writes on last close, and fully deletes if DELETE_MARKED.
func (a *API) Close(id phid.ID) (err error) {
	defer a.lock()()
	defer a.record(OpClose, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return lfserr.New("api.Close", lfserr.BADF)
	}
	shouldFree := obj.DecRef()
	if f, ok := obj.Variant.(objcache.OpenFile); ok && obj.RefCount == 0 {
		if ff, ok := f.State.(*filedata.File); ok {
			tag, payload, ferr := ff.Flush(nil)
			if ferr != nil {
				return ferr
			}
			if err := a.commitStruct(obj, tag, payload); err != nil {
				return err
			}
		}
		obj.Variant = objcache.Stub{}
	}
	if shouldFree {
		a.fs.Objects.Remove(id)
	}
	return nil
}

// Read fills buf from the file's content at the given offset.
func (a *API) Read(id phid.ID, off uint64, buf []byte) (n int, err error) {
	defer a.lock()()
	defer a.record(OpRead, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return 0, lfserr.New("api.Read", lfserr.BADF)
	}
	f, ok := obj.Variant.(objcache.OpenFile)
	if !ok {
		return 0, lfserr.New("api.Read", lfserr.BADF)
	}
	ff, ok := f.State.(*filedata.File)
	if !ok {
		return 0, lfserr.New("api.Read", lfserr.BADF)
	}
	ff.Pos = off
	return ff.Read(buf)
}

// Write stores buf into the file's content at the given offset.
func (a *API) Write(id phid.ID, off uint64, buf []byte) (n int, err error) {
	defer a.lock()()
	defer a.record(OpWrite, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return 0, lfserr.New("api.Write", lfserr.BADF)
	}
	f, ok := obj.Variant.(objcache.OpenFile)
	if !ok {
		return 0, lfserr.New("api.Write", lfserr.BADF)
	}
	ff, ok := f.State.(*filedata.File)
	if !ok {
		return 0, lfserr.New("api.Write", lfserr.BADF)
	}
	return ff.Write(func() (uint32, error) { return a.fs.Alloc.Alloc() }, off, buf)
}

// Truncate resizes a file's content; refuses on directory or device.
func (a *API) Truncate(id phid.ID, size uint64) (err error) {
	defer a.lock()()
	defer a.record(OpTruncate, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return lfserr.New("api.Truncate", lfserr.BADF)
	}
	if obj.Flags&objcache.FlagIsDir != 0 {
		return lfserr.New("api.Truncate", lfserr.ISDIR)
	}
	f, ok := obj.Variant.(objcache.OpenFile)
	if !ok {
		return lfserr.New("api.Truncate", lfserr.BADF)
	}
	ff := f.State.(*filedata.File)
	return ff.Truncate(func() (uint32, error) { return a.fs.Alloc.Alloc() }, size)
}

// Lookup walks a slash-separated path from parent, skipping empty and "."
// components, returning the foreign oid and bytes consumed if a device
// entry is crossed. ".." components are skipped as well: the walk never
// steps to a parent and never rejects ".." at the root.
func (a *API) Lookup(parent phid.ID, path string) (result phid.ID, consumedTotal int, err error) {
	defer a.lock()()
	defer a.record(OpLookup, &err)()

	cur := parent
	consumed := 0
	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			// No parent is tracked during the walk, so ".." is a no-op.
			continue
		}
		obj, err := a.fs.Objects.Get(cur)
		if err != nil {
			return phid.Invalid, consumed, err
		}
		if dev, ok := obj.Variant.(objcache.DeviceRef); ok {
			return phid.ID(dev.Oid), consumed, nil
		}
		child, found, err := a.dirFind(obj, comp)
		if err != nil {
			return phid.Invalid, consumed, err
		}
		if !found {
			return phid.Invalid, consumed, lfserr.New("api.Lookup", lfserr.NOENT)
		}
		cur = child.PhID
		consumed += len(comp) + 1
	}
	return cur, consumed, nil
}

// Readdir returns entries starting at pos; 0 and 1 are synthetic "." and
// "..", the rest are the directory's live entries in on-disk id order
// across its whole tail chain.
func (a *API) Readdir(id phid.ID, pos uint32, limit int) (result []Dirent, err error) {
	defer a.lock()()
	defer a.record(OpReaddir, &err)()

	obj, err := a.fs.Objects.Get(id)
	if err != nil {
		return nil, err
	}

	entries := make([]Dirent, 0, limit)
	cur := pos
	if cur == 0 && len(entries) < limit {
		entries = append(entries, Dirent{PhID: id, Name: ".", IsDir: true})
		cur++
	}
	if cur == 1 && len(entries) < limit {
		// A full implementation resolves the real parent PhID via a
		// parent index; without one, ".." always reports root.
		entries = append(entries, Dirent{PhID: phid.Root, Name: "..", IsDir: true})
		cur++
	}

	if obj.Flags&objcache.FlagIsDir == 0 || len(entries) >= limit {
		return entries, nil
	}

	var all []*mdir.DirEntry
	err = a.fs.Mdir.Traverse(obj.DirPair, func(m *mdir.Mdir) error {
		seg := make([]*mdir.DirEntry, 0, len(m.Entries))
		for _, ent := range m.Entries {
			seg = append(seg, ent)
		}
		sort.Slice(seg, func(i, j int) bool { return seg[i].ID < seg[j].ID })
		all = append(all, seg...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	skip := int(cur) - 2
	if skip < 0 {
		skip = 0
	}
	for i := skip; i < len(all) && len(entries) < limit; i++ {
		ent := all[i]
		entries = append(entries, Dirent{PhID: ent.PhID, Name: ent.Name, IsDir: ent.IsDir})
	}
	return entries, nil
}

// commitDeleteAt commits a SPLICE_DELETE for localID within pair's mdir and
// fixes up every cached object whose parent is pair, shifting ids above the
// deleted one down by one the same way the on-disk replay does.
func (a *API) commitDeleteAt(pair tagcodec.Pair, localID uint16) error {
	m, err := a.fs.Mdir.Fetch(pair)
	if err != nil {
		return err
	}
	ops := []mdir.AttrOp{{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.SpliceDelete, ID: localID, Size: tagcodec.SizeDel}}}
	if _, err := a.fs.Mdir.Commit(m, ops, tagcodec.GState{}); err != nil {
		return err
	}
	fixup.FixUpObjects(a.fs.Objects, pair, []fixup.IDOp{{Create: false, ID: localID}})
	return nil
}

// Link implements rename-with-overwrite semantics: a missing target is a
// plain create-by-move; an existing non-dir target is deleted in a commit of
// its own before the move, so the overwrite is not atomic; a non-empty dir
// target is refused with NOTEMPTY; an empty dir target is replaced the same
// way. The move itself is a delete-then-recreate commit
// pair (the object's PhID/attrs are replayed into the destination
// directory) rather than littlefs's FROM-tag move, since there is no
// intra-commit relationship to preserve across two independent directory
// chains here.
func (a *API) Link(dir phid.ID, name string, src phid.ID) (err error) {
	defer a.lock()()
	defer a.record(OpLink, &err)()

	dirObj, err := a.fs.Objects.Get(dir)
	if err != nil {
		return err
	}
	if dirObj.Flags&objcache.FlagIsDir == 0 {
		return lfserr.New("api.Link", lfserr.NOTDIR)
	}

	victim, found, err := a.dirFind(dirObj, name)
	if err != nil {
		return err
	}
	if found {
		if victim.Flags&objcache.FlagIsDir != 0 {
			empty, err := a.dirEmpty(victim.DirPair)
			if err != nil {
				return err
			}
			if !empty {
				return lfserr.New("api.Link", lfserr.NOTEMPTY)
			}
		}
		if err := a.commitDeleteAt(victim.Parent, victim.LocalID); err != nil {
			return err
		}
		victim.Flags |= objcache.FlagDeleteMarked
		if victim.RefCount == 0 {
			a.fs.Objects.Remove(victim.PhID)
		}
	}

	srcObj, err := a.fs.Objects.Get(src)
	if err != nil {
		return err
	}

	m, err := a.fs.Mdir.Fetch(dirObj.DirPair)
	if err != nil {
		return err
	}
	newLocalID := m.Count

	isDir := srcObj.Flags&objcache.FlagIsDir != 0
	nameType := tagcodec.NameReg
	structTag := tagcodec.Tag{Valid: true, Type: tagcodec.StructInline, ID: newLocalID, Size: 0}
	var structPayload []byte
	if isDir {
		nameType = tagcodec.NameDir
		structTag = tagcodec.Tag{Valid: true, Type: tagcodec.StructDirPair, ID: newLocalID, Size: 8}
		structPayload = tagcodec.EncodePair(srcObj.DirPair)
	} else if srcm, serr := a.fs.Mdir.Fetch(srcObj.Parent); serr == nil {
		if ent, ok := srcm.Entries[srcObj.LocalID]; ok && ent.Struct.Type != 0 {
			structTag = ent.Struct
			structTag.ID = newLocalID
			structPayload = ent.Payload
		}
	}

	ops := []mdir.AttrOp{
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.SpliceCreate, ID: newLocalID, Size: 0}},
		{Tag: tagcodec.Tag{Valid: true, Type: nameType, ID: newLocalID, Size: uint16(len(name))}, Payload: []byte(name)},
		{Tag: structTag, Payload: structPayload},
		{Tag: tagcodec.Tag{Valid: true, Type: uint16(phid.KindFor(isDir)), ID: newLocalID, Size: 8}, Payload: phid.Encode(srcObj.PhID)},
	}
	if _, err := a.fs.Mdir.Commit(m, ops, tagcodec.GState{}); err != nil {
		return err
	}

	oldParent, oldLocalID := srcObj.Parent, srcObj.LocalID
	srcObj.Parent = dirObj.DirPair
	srcObj.LocalID = newLocalID
	if err := a.commitDeleteAt(oldParent, oldLocalID); err != nil {
		return err
	}
	return nil
}

// Unlink finds the local id for name, refuses a non-empty directory, and
// commits a DELETE.
func (a *API) Unlink(dir phid.ID, name string) (err error) {
	defer a.lock()()
	defer a.record(OpUnlink, &err)()

	dirObj, err := a.fs.Objects.Get(dir)
	if err != nil {
		return err
	}
	target, found, err := a.dirFind(dirObj, name)
	if err != nil {
		return err
	}
	if !found {
		return lfserr.New("api.Unlink", lfserr.NOENT)
	}
	if target.Flags&objcache.FlagIsDir != 0 {
		empty, err := a.dirEmpty(target.DirPair)
		if err != nil {
			return err
		}
		if !empty {
			return lfserr.New("api.Unlink", lfserr.NOTEMPTY)
		}
	}

	if err := a.commitDeleteAt(target.Parent, target.LocalID); err != nil {
		return err
	}
	target.Flags |= objcache.FlagDeleteMarked
	if target.RefCount == 0 {
		a.fs.Objects.Remove(target.PhID)
	}
	return nil
}

// Destroy is Unlink addressed directly by PhID.
func (a *API) Destroy(id phid.ID) (err error) {
	defer a.lock()()
	defer a.record(OpDestroy, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return lfserr.New("api.Destroy", lfserr.NOENT)
	}
	if obj.Flags&objcache.FlagIsDir != 0 {
		empty, err := a.dirEmpty(obj.DirPair)
		if err != nil {
			return err
		}
		if !empty {
			return lfserr.New("api.Destroy", lfserr.NOTEMPTY)
		}
	}
	if err := a.commitDeleteAt(obj.Parent, obj.LocalID); err != nil {
		return err
	}
	obj.Flags |= objcache.FlagDeleteMarked
	if obj.RefCount == 0 {
		a.fs.Objects.Remove(id)
	}
	return nil
}

// GetAttr reads mode/uid/gid/atime/mtime/ctime plus size derived from the
// struct tag or, if open, the live file state.
func (a *API) GetAttr(id phid.ID) (result Attr, err error) {
	defer a.lock()()
	defer a.record(OpGetAttr, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return Attr{}, lfserr.New("api.GetAttr", lfserr.NOENT)
	}
	attr := Attr{IsDir: obj.Flags&objcache.FlagIsDir != 0}
	if f, ok := obj.Variant.(objcache.OpenFile); ok {
		if ff, ok := f.State.(*filedata.File); ok {
			attr.Size = ff.Size()
		}
	}

	if m, ferr := a.fs.Mdir.Fetch(obj.Parent); ferr == nil {
		if ent, ok := m.Entries[obj.LocalID]; ok {
			if v, ok := ent.Attrs[tagcodec.UserAttrMode]; ok {
				attr.Mode = decodeU32(v)
			}
			if v, ok := ent.Attrs[tagcodec.UserAttrUID]; ok {
				attr.UID = decodeU32(v)
			}
			if v, ok := ent.Attrs[tagcodec.UserAttrGID]; ok {
				attr.GID = decodeU32(v)
			}
			if v, ok := ent.Attrs[tagcodec.UserAttrATime]; ok {
				attr.ATime = decodeTime(v)
			}
			if v, ok := ent.Attrs[tagcodec.UserAttrMTime]; ok {
				attr.MTime = decodeTime(v)
			}
			if v, ok := ent.Attrs[tagcodec.UserAttrCTime]; ok {
				attr.CTime = decodeTime(v)
			}
			if attr.Size == 0 {
				switch ent.Struct.Type {
				case tagcodec.StructInline:
					attr.Size = uint64(len(ent.Payload))
				case tagcodec.StructCTZ:
					attr.Size = uint64(filedata.DecodeCTZ(ent.Payload).Size)
				}
			}
		}
	}
	return attr, nil
}

// SetAttr writes mode/uid/gid/mtime as small user-attr tags against the
// entry's own directory commit. SetAttr on the root (which has no parent
// entry to attach attrs to) is a no-op.
func (a *API) SetAttr(id phid.ID, attr Attr) (err error) {
	defer a.lock()()
	defer a.record(OpSetAttr, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return lfserr.New("api.SetAttr", lfserr.NOENT)
	}
	if obj.Parent == (tagcodec.Pair{}) {
		return nil
	}
	m, err := a.fs.Mdir.Fetch(obj.Parent)
	if err != nil {
		return err
	}
	ops := []mdir.AttrOp{
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrMode, ID: obj.LocalID, Size: 4}, Payload: encodeU32(attr.Mode)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrUID, ID: obj.LocalID, Size: 4}, Payload: encodeU32(attr.UID)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrGID, ID: obj.LocalID, Size: 4}, Payload: encodeU32(attr.GID)},
		{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.UserAttrMTime, ID: obj.LocalID, Size: 8}, Payload: encodeTime(attr.MTime)},
	}
	_, err = a.fs.Mdir.Commit(m, ops, tagcodec.GState{})
	return err
}

// SetDevice swaps id's LRU entry into a device reference; purely in-memory,
// commits nothing.
func (a *API) SetDevice(id phid.ID, port uint32, oid uint64) (err error) {
	defer a.lock()()
	defer a.record(OpSetDevice, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return lfserr.New("api.SetDevice", lfserr.NOENT)
	}
	obj.Variant = objcache.DeviceRef{Port: port, Oid: oid}
	return nil
}

// Statfs returns block size/count and derived free space.
type StatfsResult struct {
	BlockSize  uint32
	BlockCount uint32
	BlocksFree uint32
	NameMax    uint32
}

func (a *API) Statfs() (result StatfsResult, err error) {
	defer a.lock()()
	defer a.record(OpStatfs, &err)()

	geo := a.fs.BD.Geometry()
	used := uint32(0)
	if a.fs.Alloc != nil {
		a.fs.ScanUsed(func(block uint32) { used++ })
	}
	free := geo.BlockCount
	if used < free {
		free -= used
	} else {
		free = 0
	}
	return StatfsResult{BlockSize: geo.BlockSize, BlockCount: geo.BlockCount, BlocksFree: free}, nil
}

// Sync flushes and commits one open file; a no-op on directories.
func (a *API) Sync(id phid.ID) (err error) {
	defer a.lock()()
	defer a.record(OpSync, &err)()

	obj := a.fs.Objects.Peek(id)
	if obj == nil {
		return lfserr.New("api.Sync", lfserr.BADF)
	}
	if f, ok := obj.Variant.(objcache.OpenFile); ok {
		if ff, ok := f.State.(*filedata.File); ok {
			tag, payload, ferr := ff.Flush(nil)
			if ferr != nil {
				return ferr
			}
			return a.commitStruct(obj, tag, payload)
		}
	}
	return nil
}

// Grow raises the mounted block count in memory (see fsstate.FS.Grow);
// refuses to shrink. The on-disk superblock is not rewritten.
func (a *API) Grow(newBlockCount uint32) (err error) {
	defer a.lock()()
	defer a.record(OpGrow, &err)()
	return a.fs.Grow(newBlockCount)
}

// GC makes one allocator pass (see fsstate.FS.GC); the full-FS scan runs
// only when the lookahead window is exhausted.
func (a *API) GC() (err error) {
	defer a.lock()()
	defer a.record(OpGC, &err)()
	return a.fs.GC()
}
