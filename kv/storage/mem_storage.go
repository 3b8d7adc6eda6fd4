package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"go.uber.org/atomic"
)

const btreeDegree = 32

// nodeCount is the number of structural versions kept per index. A key belongs to the node of its first byte.
const nodeCount = 256

// NodeTag is a snapshot of one node version of an index. Any insert under the node bumps its version, so a tag that
// changed between a scan and a commit means the scanned range may have grown.
type NodeTag struct {
	node    *atomic.Uint64
	Version uint64
}

// Changed reports whether the node was modified after the tag was taken.
func (t NodeTag) Changed() bool {
	return t.node.Load() != t.Version
}

// SameNode reports whether both tags watch the same node.
func (t NodeTag) SameNode(o NodeTag) bool {
	return t.node == o.node
}

// MemIndex is an ordered in-memory index from user keys to records, backed by a btree.
type MemIndex struct {
	mu    sync.RWMutex
	tree  *btree.BTree
	nodes [nodeCount]atomic.Uint64
}

func NewMemIndex() *MemIndex {
	return &MemIndex{tree: btree.New(btreeDegree)}
}

type memItem struct {
	key []byte
	rec *mvcc.Record
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}

func nodeOf(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	return int(key[0])
}

func (mi *MemIndex) tag(n int) NodeTag {
	return NodeTag{node: &mi.nodes[n], Version: mi.nodes[n].Load()}
}

// Get returns the record for key, nil if absent, and the tag of the node that would hold it.
func (mi *MemIndex) Get(key []byte) (*mvcc.Record, NodeTag) {
	mi.mu.RLock()
	defer mi.mu.RUnlock()
	tag := mi.tag(nodeOf(key))
	item := mi.tree.Get(memItem{key: key})
	if item == nil {
		return nil, tag
	}
	return item.(memItem).rec, tag
}

// Put links rec under key unless the key is taken. If the key is taken the existing record is returned and nothing
// changes. Otherwise the node tag before and after the insert are returned so that the caller can keep its own
// snapshots of the node current.
func (mi *MemIndex) Put(key []byte, rec *mvcc.Record) (existing *mvcc.Record, before, after NodeTag) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if item := mi.tree.Get(memItem{key: key}); item != nil {
		return item.(memItem).rec, NodeTag{}, NodeTag{}
	}
	n := nodeOf(key)
	before = mi.tag(n)
	mi.tree.ReplaceOrInsert(memItem{key: rec.Key(), rec: rec})
	mi.nodes[n].Inc()
	after = mi.tag(n)
	return nil, before, after
}

// Remove unlinks key if it still maps to rec.
func (mi *MemIndex) Remove(key []byte, rec *mvcc.Record) bool {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	item := mi.tree.Get(memItem{key: key})
	if item == nil || item.(memItem).rec != rec {
		return false
	}
	mi.tree.Delete(item)
	return true
}

func (mi *MemIndex) Len() int {
	mi.mu.RLock()
	defer mi.mu.RUnlock()
	return mi.tree.Len()
}

// rangeTags returns the tags of every node a key of r can belong to.
func (mi *MemIndex) rangeTags(r Range) []NodeTag {
	lo, hi := 0, nodeCount-1
	if r.LeftEnd != Inf {
		lo = nodeOf(r.Left)
	}
	if r.RightEnd != Inf {
		hi = nodeOf(r.Right)
	}
	var tags []NodeTag
	for n := lo; n <= hi; n++ {
		tags = append(tags, mi.tag(n))
	}
	return tags
}

// Scan calls fn on every record of r in key order until fn returns false. Reverse walks from the right end.
// The returned tags are taken before the walk.
func (mi *MemIndex) Scan(r Range, reverse bool, fn func(rec *mvcc.Record) bool) []NodeTag {
	if r.Empty() {
		return nil
	}
	mi.mu.RLock()
	defer mi.mu.RUnlock()
	tags := mi.rangeTags(r)
	if reverse {
		iter := func(i btree.Item) bool {
			it := i.(memItem)
			if !r.aboveLeft(it.key) {
				return false
			}
			if !r.belowRight(it.key) {
				return true
			}
			return fn(it.rec)
		}
		if r.RightEnd == Inf {
			mi.tree.Descend(iter)
		} else {
			mi.tree.DescendLessOrEqual(memItem{key: r.Right}, iter)
		}
		return tags
	}
	iter := func(i btree.Item) bool {
		it := i.(memItem)
		if !r.belowRight(it.key) {
			return false
		}
		if !r.aboveLeft(it.key) {
			return true
		}
		return fn(it.rec)
	}
	if r.LeftEnd == Inf {
		mi.tree.Ascend(iter)
	} else {
		mi.tree.AscendGreaterOrEqual(memItem{key: r.Left}, iter)
	}
	return tags
}

// ScanBatched walks r like Scan but takes at most batch records per index walk. fn runs outside the index lock and
// the walk resumes after the last record only while fn returns true. The returned tags cover the whole of r.
func (mi *MemIndex) ScanBatched(r Range, reverse bool, batch int, fn func(rec *mvcc.Record) bool) []NodeTag {
	if batch < 1 {
		batch = 1
	}
	var tags []NodeTag
	for first := true; ; first = false {
		var recs []*mvcc.Record
		t := mi.Scan(r, reverse, func(rec *mvcc.Record) bool {
			recs = append(recs, rec)
			return len(recs) < batch
		})
		if first {
			tags = t
		}
		for _, rec := range recs {
			if !fn(rec) {
				return tags
			}
		}
		if len(recs) < batch {
			return tags
		}
		last := append([]byte(nil), recs[len(recs)-1].Key()...)
		if reverse {
			r.Right, r.RightEnd = last, Exclusive
		} else {
			r.Left, r.LeftEnd = last, Exclusive
		}
	}
}

// ScanAll collects the records of r in key order.
func (mi *MemIndex) ScanAll(r Range) ([]*mvcc.Record, []NodeTag) {
	var recs []*mvcc.Record
	tags := mi.Scan(r, false, func(rec *mvcc.Record) bool {
		recs = append(recs, rec)
		return true
	})
	return recs, tags
}
