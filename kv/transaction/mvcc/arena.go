package mvcc

import (
	"sync"
	"sync/atomic"

	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
)

type retired struct {
	rec   *Record
	epoch epoch.Epoch
}

// Arena allocates records and reclaims them with epoch based reclamation.
//
// A record removed from its index is retired with the epoch of the removal. Any session that could still hold a pointer
// to it entered at or before that epoch, so the object is recycled only once every active session entered after it.
type Arena struct {
	seq atomic.Uint64

	mu        sync.Mutex
	retired   []retired
	free      []*Record
	reclaimed uint64
}

func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) alloc(storage uint64, key []byte, w tid.Word, v *Version) *Record {
	seq := a.seq.Add(1)
	var r *Record
	a.mu.Lock()
	if n := len(a.free); n > 0 {
		r = a.free[n-1]
		a.free = a.free[:n-1]
	}
	a.mu.Unlock()
	if r == nil {
		r = &Record{}
	}
	r.reset(seq, storage, key, w, v)
	return r
}

// NewAbsentRecord creates a placeholder reserving key, in the inserting state and unlocked.
func (a *Arena) NewAbsentRecord(storage uint64, key []byte) *Record {
	w := tid.Word(0).WithLatest(true).WithAbsent(true)
	return a.alloc(storage, key, w, nil)
}

// NewRecord creates a record with an initial version stamped with w. The record starts locked and absent; the caller
// publishes it with SetTidw only after it is linked into the index.
func (a *Arena) NewRecord(storage uint64, key, value []byte, w tid.Word) *Record {
	v := NewVersion(value, w, 0)
	hdr := tid.Word(0).WithLock(true).WithLatest(true).WithAbsent(true)
	return a.alloc(storage, key, hdr, v)
}

// Retire hands a record that is no longer reachable from any index to the arena.
func (a *Arena) Retire(r *Record, e epoch.Epoch) {
	a.mu.Lock()
	a.retired = append(a.retired, retired{rec: r, epoch: e})
	a.mu.Unlock()
}

// Reclaim recycles every record retired strictly before minActive and returns how many were recycled.
func (a *Arena) Reclaim(minActive epoch.Epoch) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.retired[:0]
	n := 0
	for _, rt := range a.retired {
		if rt.epoch >= minActive {
			kept = append(kept, rt)
			continue
		}
		r := rt.rec
		r.gen++
		r.latest.Store(nil)
		a.free = append(a.free, r)
		n++
	}
	for i := len(kept); i < len(a.retired); i++ {
		a.retired[i] = retired{}
	}
	a.retired = kept
	a.reclaimed += uint64(n)
	return n
}

// Stats reports the number of retired records waiting for reclamation, the free list length and the total number of
// records recycled so far.
func (a *Arena) Stats() (retired, free int, reclaimed uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.retired), len(a.free), a.reclaimed
}
