package session

import (
	"sort"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
)

// ReadEntry is a record a short transaction read, with the header it observed.
type ReadEntry struct {
	Rec      *mvcc.Record
	Storage  *storage.Storage
	Observed tid.Word
}

// WriteEntry is a buffered write.
type WriteEntry struct {
	Rec     *mvcc.Record
	Storage *storage.Storage
	Op      mvcc.OpType
	Value   []byte
	// Linked is set when this transaction created the record and linked it into the index.
	Linked bool
}

// Key returns the user key of the entry.
func (we *WriteEntry) Key() []byte {
	return we.Rec.Key()
}

// WriteSet holds the buffered writes of a transaction, one entry per record.
type WriteSet struct {
	byRec map[*mvcc.Record]*WriteEntry
	order []*WriteEntry
}

func NewWriteSet() *WriteSet {
	return &WriteSet{byRec: make(map[*mvcc.Record]*WriteEntry)}
}

func (ws *WriteSet) Get(rec *mvcc.Record) *WriteEntry {
	return ws.byRec[rec]
}

// Put adds or replaces the entry of e.Rec.
func (ws *WriteSet) Put(e *WriteEntry) {
	if old, ok := ws.byRec[e.Rec]; ok {
		*old = *e
		return
	}
	ws.byRec[e.Rec] = e
	ws.order = append(ws.order, e)
}

func (ws *WriteSet) Remove(rec *mvcc.Record) {
	if _, ok := ws.byRec[rec]; !ok {
		return
	}
	delete(ws.byRec, rec)
	for i, e := range ws.order {
		if e.Rec == rec {
			ws.order = append(ws.order[:i], ws.order[i+1:]...)
			break
		}
	}
}

func (ws *WriteSet) Len() int {
	return len(ws.order)
}

// Entries returns the entries in the order they were first written.
func (ws *WriteSet) Entries() []*WriteEntry {
	return ws.order
}

// Sorted returns the entries in lock acquisition order.
func (ws *WriteSet) Sorted() []*WriteEntry {
	out := append([]*WriteEntry(nil), ws.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rec.Seq() < out[j].Rec.Seq() })
	return out
}

// Storages returns the distinct storages written, ordered by id.
func (ws *WriteSet) Storages() []*storage.Storage {
	seen := make(map[storage.ID]*storage.Storage)
	for _, e := range ws.order {
		seen[e.Storage.ID] = e.Storage
	}
	out := make([]*storage.Storage, 0, len(seen))
	for _, st := range seen {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ws *WriteSet) Clear() {
	for k := range ws.byRec {
		delete(ws.byRec, k)
	}
	ws.order = ws.order[:0]
}

// NodeSet holds the index node versions a short transaction depends on.
type NodeSet struct {
	tags []storage.NodeTag
}

func (ns *NodeSet) Add(tags ...storage.NodeTag) {
	ns.tags = append(ns.tags, tags...)
}

// Advance moves the snapshots of a node from before to after. It is called after this transaction's own insert so
// that it is not mistaken for a phantom.
func (ns *NodeSet) Advance(before, after storage.NodeTag) {
	for i := range ns.tags {
		if ns.tags[i].SameNode(before) && ns.tags[i].Version == before.Version {
			ns.tags[i] = after
		}
	}
}

// Changed reports whether any snapshot node was modified.
func (ns *NodeSet) Changed() bool {
	for _, t := range ns.tags {
		if t.Changed() {
			return true
		}
	}
	return false
}

func (ns *NodeSet) Len() int {
	return len(ns.tags)
}

func (ns *NodeSet) Clear() {
	ns.tags = ns.tags[:0]
}
