// Package objcache implements the object LRU and open-handle table: a
// PhID-indexed map of live objects, linked in LRU order, whose entries are
// stubs until expanded into an open file, open directory, or device
// reference.
//
// Modeled on an inode map (fileSystem.inodes, nextInodeID, the stale-record
// retry loop in lookUpOrCreateInodeIfNotStale) and a refcount-to-destroy
// helper; the LRU ordering itself is built on container/list as a
// hand-rolled cache rather than a third-party LRU package, since a
// PhID-indexed evictable cache with non-evictable open handles has no
// close off-the-shelf analogue.
package objcache

import (
	"container/list"

	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/phid"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// Flags on an Object.
type Flags uint8

const (
	FlagIsDir        Flags = 1 << iota
	FlagNoPhID             // synthesized PhID, not yet durable; never evict
	FlagDeleteMarked       // unlinked while open; freed on last close
	FlagBeingCreated       // mid-create; fix-up must not drop its id
)

// Variant is the sum type of what an Object currently holds: a mere
// location stub, an open file, an open directory, or a foreign device
// reference.
type Variant interface{ isVariant() }

type Stub struct{}

func (Stub) isVariant() {}

type OpenFile struct {
	State any // *filedata.File, kept as any to avoid an import cycle
}

func (OpenFile) isVariant() {}

type OpenDir struct {
	State any // *dirstate.Dir equivalent
}

func (OpenDir) isVariant() {}

type DeviceRef struct {
	Port uint32
	Oid  uint64
}

func (DeviceRef) isVariant() {}

// Object is one PhID's cached record.
type Object struct {
	PhID      phid.ID
	Parent    tagcodec.Pair
	LocalID   uint16
	Flags     Flags
	Variant   Variant
	RefCount  uint64

	// DirPair is the pair holding this object's own children, valid only
	// when FlagIsDir is set (the root directory's is the mount's fixed
	// root pair; every other directory's comes from its STRUCT_DIR_PAIR
	// entry).
	DirPair tagcodec.Pair

	elem *list.Element // position in the LRU list
}

func (o *Object) evictable() bool {
	if o.Flags&FlagNoPhID != 0 || o.Flags&FlagBeingCreated != 0 {
		return false
	}
	_, isStub := o.Variant.(Stub)
	return isStub
}

// Resolver looks an object up on disk when it isn't cached, used by Get on
// a cache miss, and by a fallback full-FS walk if a directed scan fails
// after a pair relocation leaves an LRU entry's parent stale.
type Resolver interface {
	Resolve(id phid.ID) (*Object, error)
}

// Cache is the PhID-indexed, LRU-ordered object table.
type Cache struct {
	maxObjects int
	byPhID     map[phid.ID]*Object
	lru        *list.List // MRU at Back
	resolver   Resolver
}

func New(maxObjects int, resolver Resolver) *Cache {
	return &Cache{
		maxObjects: maxObjects,
		byPhID:     make(map[phid.ID]*Object),
		lru:        list.New(),
		resolver:   resolver,
	}
}

// Get returns the cached object for id, fetching it from disk via the
// resolver on a miss, inserting a Stub, and evicting the LRU-oldest
// evictable stub if the cache is now over capacity.
func (c *Cache) Get(id phid.ID) (*Object, error) {
	if o, ok := c.byPhID[id]; ok {
		c.lru.MoveToBack(o.elem)
		return o, nil
	}

	o, err := c.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}
	c.insert(o)
	return o, nil
}

// Insert adds a freshly created object (e.g. from create()) to the cache.
func (c *Cache) Insert(o *Object) { c.insert(o) }

func (c *Cache) insert(o *Object) {
	o.elem = c.lru.PushBack(o)
	c.byPhID[o.PhID] = o
	c.evictIfOverCapacity()
}

func (c *Cache) evictIfOverCapacity() {
	if c.maxObjects <= 0 {
		return
	}
	for len(c.byPhID) > c.maxObjects {
		e := c.lru.Front()
		evicted := false
		for e != nil {
			o := e.Value.(*Object)
			if o.evictable() {
				c.lru.Remove(e)
				delete(c.byPhID, o.PhID)
				evicted = true
				break
			}
			e = e.Next()
		}
		if !evicted {
			return // nothing left that can be evicted
		}
	}
}

// Peek returns the cached object without affecting LRU order or touching
// disk, or nil if not cached.
func (c *Cache) Peek(id phid.ID) *Object { return c.byPhID[id] }

// Remove drops id from the cache entirely (used once a DELETE_MARKED
// object's last reference closes).
func (c *Cache) Remove(id phid.ID) {
	o, ok := c.byPhID[id]
	if !ok {
		return
	}
	c.lru.Remove(o.elem)
	delete(c.byPhID, id)
}

// IncRef bumps an object's open reference count, promoting the variant the
// caller assigns (a Stub becomes an OpenFile/OpenDir by the caller setting
// Variant directly, mirroring inode.IncrementLookupCount's external-
// synchronization contract).
func (o *Object) IncRef() { o.RefCount++ }

// DecRef decrements the reference count and reports whether the object
// should now be fully freed: zero refs and DELETE_MARKED set.
func (o *Object) DecRef() (shouldFree bool) {
	if o.RefCount == 0 {
		panic("objcache: DecRef on object with zero refcount")
	}
	o.RefCount--
	return o.RefCount == 0 && o.Flags&FlagDeleteMarked != 0
}

// All iterates every cached object, for use by the fix-up engine.
func (c *Cache) All(visit func(*Object)) {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		visit(e.Value.(*Object))
	}
}

// ErrNotFound is returned by a Resolver when no object exists for a PhID
// anywhere on disk.
var ErrNotFound = lfserr.New("objcache.Resolve", lfserr.NOENT)
