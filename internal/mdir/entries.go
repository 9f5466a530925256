package mdir

import (
	"sort"

	"github.com/phoenix-rtos/lfsd/internal/phid"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// DirEntry is the decoded, merged state of one live local id: the latest
// NAME, STRUCT, and USERATTR tags seen for it, replayed in log order.
type DirEntry struct {
	ID      uint16
	Name    string
	IsDir   bool
	PhID    phid.ID
	Struct  tagcodec.Tag
	Payload []byte            // STRUCT payload: CTZ desc, dir pair, or inline bytes
	Attrs   map[uint16][]byte // USERATTR subtype -> payload
}

func copyEntries(src map[uint16]*DirEntry) map[uint16]*DirEntry {
	dst := make(map[uint16]*DirEntry, len(src))
	for id, e := range src {
		ce := *e
		ce.Payload = append([]byte(nil), e.Payload...)
		ce.Attrs = make(map[uint16][]byte, len(e.Attrs))
		for k, v := range e.Attrs {
			ce.Attrs[k] = append([]byte(nil), v...)
		}
		dst[id] = &ce
	}
	return dst
}

// applyOp folds one attribute tag into entries/count, the same replay step
// used both live during Fetch and in-memory when Compact merges pending ops
// against the entries already on disk. A SPLICE_DELETE shifts every id above
// the deleted one down by one, keeping ids dense in [0, count).
func applyOp(entries map[uint16]*DirEntry, count *uint16, tag tagcodec.Tag, payload []byte) {
	switch tag.Family() {
	case tagcodec.TypeSplice:
		if tag.Type == tagcodec.SpliceCreate {
			entries[tag.ID] = &DirEntry{ID: tag.ID, Attrs: map[uint16][]byte{}}
			*count++
			return
		}
		if tag.Size != tagcodec.SizeDel {
			return
		}
		delID := tag.ID
		delete(entries, delID)
		shifted := make(map[uint16]*DirEntry, len(entries))
		for eid, ent := range entries {
			nid := eid
			if eid > delID {
				nid = eid - 1
			}
			ent.ID = nid
			shifted[nid] = ent
		}
		for k := range entries {
			delete(entries, k)
		}
		for k, v := range shifted {
			entries[k] = v
		}
		if *count > 0 {
			*count--
		}

	case tagcodec.TypeName:
		if ent, ok := entries[tag.ID]; ok {
			ent.Name = string(payload)
			ent.IsDir = tag.Type == tagcodec.NameDir
		}

	case tagcodec.TypeStruct:
		if ent, ok := entries[tag.ID]; ok {
			ent.Struct = tag
			ent.Payload = append([]byte(nil), payload...)
		}

	case tagcodec.TypeUserAttr:
		if ent, ok := entries[tag.ID]; ok {
			if ent.Attrs == nil {
				ent.Attrs = make(map[uint16][]byte)
			}
			ent.Attrs[tag.Type] = append([]byte(nil), payload...)
			if tag.Type == tagcodec.UserAttrPhIDReg || tag.Type == tagcodec.UserAttrPhIDDir {
				if id, err := phid.Decode(payload); err == nil {
					ent.PhID = id
				}
			}
		}
	}
}

// mergeEntries applies ops against a copy of m's already-decoded entries,
// returning the resulting live set and its count without mutating m.
func (e *Engine) mergeEntries(m *Mdir, ops []AttrOp) (map[uint16]*DirEntry, uint16) {
	entries := copyEntries(m.Entries)
	count := m.Count
	for _, op := range ops {
		applyOp(entries, &count, op.Tag, op.Payload)
	}
	return entries, count
}

func sortedIDs(entries map[uint16]*DirEntry) []uint16 {
	ids := make([]uint16, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func subset(entries map[uint16]*DirEntry, ids []uint16) map[uint16]*DirEntry {
	out := make(map[uint16]*DirEntry, len(ids))
	for _, id := range ids {
		out[id] = entries[id]
	}
	return copyEntries(out)
}

// renumber reassigns dense ids [0, n) to entries, preserving relative order.
func renumber(entries map[uint16]*DirEntry) map[uint16]*DirEntry {
	ids := sortedIDs(entries)
	out := make(map[uint16]*DirEntry, len(ids))
	for i, id := range ids {
		ent := entries[id]
		ent.ID = uint16(i)
		out[uint16(i)] = ent
	}
	return out
}

// entriesToOps produces the canonical CREATE+NAME+STRUCT+USERATTR* op
// sequence that recreates entries from an erased block, in id order.
func entriesToOps(entries map[uint16]*DirEntry) []AttrOp {
	var ops []AttrOp
	for _, id := range sortedIDs(entries) {
		ent := entries[id]
		ops = append(ops, AttrOp{Tag: tagcodec.Tag{Valid: true, Type: tagcodec.SpliceCreate, ID: id, Size: 0}})

		nameType := tagcodec.NameReg
		if ent.IsDir {
			nameType = tagcodec.NameDir
		}
		ops = append(ops, AttrOp{
			Tag:     tagcodec.Tag{Valid: true, Type: nameType, ID: id, Size: uint16(len(ent.Name))},
			Payload: []byte(ent.Name),
		})

		if ent.Struct.Type != 0 {
			ops = append(ops, AttrOp{
				Tag:     tagcodec.Tag{Valid: true, Type: ent.Struct.Type, ID: id, Size: uint16(len(ent.Payload))},
				Payload: ent.Payload,
			})
		}

		attrTypes := make([]uint16, 0, len(ent.Attrs))
		for t := range ent.Attrs {
			attrTypes = append(attrTypes, t)
		}
		sort.Slice(attrTypes, func(i, j int) bool { return attrTypes[i] < attrTypes[j] })
		for _, t := range attrTypes {
			payload := ent.Attrs[t]
			ops = append(ops, AttrOp{
				Tag:     tagcodec.Tag{Valid: true, Type: t, ID: id, Size: uint16(len(payload))},
				Payload: payload,
			})
		}
	}
	return ops
}

func opsSize(ops []AttrOp) uint32 {
	var total uint32
	for _, op := range ops {
		total += 4 + uint32(len(op.Payload))
	}
	return total
}

// FindByName walks root's tail chain looking for a live entry named name,
// returning the mdir that holds it.
func (e *Engine) FindByName(root tagcodec.Pair, name string) (*Mdir, *DirEntry, bool, error) {
	var foundM *Mdir
	var found *DirEntry
	err := e.Traverse(root, func(m *Mdir) error {
		if found != nil {
			return nil
		}
		for _, ent := range m.Entries {
			if ent.Name == name {
				found, foundM = ent, m
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return foundM, found, found != nil, nil
}
