package wp

import (
	"sync"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
)

type rangeRead struct {
	r     storage.Range
	epoch epoch.Epoch
}

// ReadByOCC remembers the largest epoch at which a short transaction committed after reading a key of a storage that
// had an active write preserve. A long transaction must not write under a read made at or after its valid epoch.
type ReadByOCC struct {
	mu     sync.RWMutex
	points map[string]epoch.Epoch
	ranges []rangeRead
}

func NewReadByOCC() *ReadByOCC {
	return &ReadByOCC{points: make(map[string]epoch.Epoch)}
}

func (rb *ReadByOCC) Register(key []byte, e epoch.Epoch) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if old, ok := rb.points[string(key)]; !ok || old < e {
		rb.points[string(key)] = e
	}
}

func (rb *ReadByOCC) RegisterRange(r storage.Range, e epoch.Epoch) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.ranges = append(rb.ranges, rangeRead{r: r, epoch: e})
}

// MaxEpoch returns the largest epoch of a read covering key, 0 if none.
func (rb *ReadByOCC) MaxEpoch(key []byte) epoch.Epoch {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	max := rb.points[string(key)]
	for _, rr := range rb.ranges {
		if rr.epoch > max && rr.r.Contains(key) {
			max = rr.epoch
		}
	}
	return max
}

// Prune forgets reads made before min.
func (rb *ReadByOCC) Prune(min epoch.Epoch) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := 0
	for k, e := range rb.points {
		if e < min {
			delete(rb.points, k)
			n++
		}
	}
	kept := rb.ranges[:0]
	for _, rr := range rb.ranges {
		if rr.epoch >= min {
			kept = append(kept, rr)
		}
	}
	n += len(rb.ranges) - len(kept)
	rb.ranges = kept
	return n
}

func (rb *ReadByOCC) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.points) + len(rb.ranges)
}

type ltxReads struct {
	points map[string]struct{}
	ranges []storage.Range
}

// ReadByLTX remembers what each long transaction read from a storage, for the lower priority transactions that
// overtook it to check at their commit.
type ReadByLTX struct {
	mu   sync.RWMutex
	byID map[uint64]*ltxReads
}

func NewReadByLTX() *ReadByLTX {
	return &ReadByLTX{byID: make(map[uint64]*ltxReads)}
}

func (rb *ReadByLTX) reads(id uint64) *ltxReads {
	rs, ok := rb.byID[id]
	if !ok {
		rs = &ltxReads{points: make(map[string]struct{})}
		rb.byID[id] = rs
	}
	return rs
}

func (rb *ReadByLTX) Register(id uint64, key []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.reads(id).points[string(key)] = struct{}{}
}

func (rb *ReadByLTX) RegisterRange(id uint64, r storage.Range) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rs := rb.reads(id)
	rs.ranges = append(rs.ranges, r)
}

// Covers reports whether the transaction id read key.
func (rb *ReadByLTX) Covers(id uint64, key []byte) bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	rs, ok := rb.byID[id]
	if !ok {
		return false
	}
	if _, ok := rs.points[string(key)]; ok {
		return true
	}
	for _, r := range rs.ranges {
		if r.Contains(key) {
			return true
		}
	}
	return false
}

func (rb *ReadByLTX) Drop(id uint64) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	delete(rb.byID, id)
}

func (rb *ReadByLTX) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.byID)
}

// StorageMeta groups the write preserve state of one storage.
type StorageMeta struct {
	WP        *Meta
	ReadByOCC *ReadByOCC
	ReadByLTX *ReadByLTX
}

// Directory maps storages to their metadata, created on first use.
type Directory struct {
	mu    sync.RWMutex
	metas map[storage.ID]*StorageMeta
}

func NewDirectory() *Directory {
	return &Directory{metas: make(map[storage.ID]*StorageMeta)}
}

// Get returns the metadata of id, creating it if needed.
func (d *Directory) Get(id storage.ID) *StorageMeta {
	d.mu.RLock()
	sm, ok := d.metas[id]
	d.mu.RUnlock()
	if ok {
		return sm
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sm, ok = d.metas[id]; ok {
		return sm
	}
	sm = &StorageMeta{WP: NewMeta(), ReadByOCC: NewReadByOCC(), ReadByLTX: NewReadByLTX()}
	d.metas[id] = sm
	return sm
}

// Lookup returns the metadata of id without creating it.
func (d *Directory) Lookup(id storage.ID) (*StorageMeta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sm, ok := d.metas[id]
	return sm, ok
}

func (d *Directory) Remove(id storage.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.metas, id)
}

// Each calls fn on every storage metadata.
func (d *Directory) Each(fn func(id storage.ID, sm *StorageMeta)) {
	d.mu.RLock()
	ids := make([]storage.ID, 0, len(d.metas))
	metas := make([]*StorageMeta, 0, len(d.metas))
	for id, sm := range d.metas {
		ids = append(ids, id)
		metas = append(metas, sm)
	}
	d.mu.RUnlock()
	for i := range ids {
		fn(ids[i], metas[i])
	}
}
