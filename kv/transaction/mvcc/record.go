package mvcc

import (
	"runtime"
	"sync/atomic"

	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
)

// Record holds every materialized state of one key of one storage.
//
// The header word is the only synchronization of a record: all header mutations, version pushes and splices happen
// while the lock bit is held. Readers never lock; they take stable snapshots of the header and walk the version chain,
// which is only ever extended at its front or spliced between two published versions.
type Record struct {
	seq     uint64
	gen     uint32
	storage uint64
	key     []byte

	tidw   tid.Atomic
	latest atomic.Pointer[Version]
}

// NewVersion creates an unpublished version. The lock bits of w are dropped.
func NewVersion(value []byte, w tid.Word, ltxID uint64) *Version {
	return &Version{value: value, tidw: w.Unlocked(), ltxID: ltxID}
}

func (r *Record) reset(seq uint64, storage uint64, key []byte, w tid.Word, v *Version) {
	r.seq = seq
	r.storage = storage
	r.key = append(r.key[:0], key...)
	r.tidw.Store(w)
	r.latest.Store(v)
}

// Seq is a process unique number fixing the lock acquisition order among records.
func (r *Record) Seq() uint64 { return r.seq }

// Generation counts how many times the record object was recycled.
func (r *Record) Generation() uint32 { return r.gen }

func (r *Record) Storage() uint64 { return r.storage }

func (r *Record) Key() []byte { return r.key }

// Tidw loads the header word.
func (r *Record) Tidw() tid.Word {
	return r.tidw.Load()
}

// SetTidw stores the header word. The caller must hold the lock; the lock bits of w decide whether it still does.
func (r *Record) SetTidw(w tid.Word) {
	r.tidw.Store(w)
}

// StableTidw spins until the header is unlocked and returns it. After spinLimit rounds, or at once if the record was
// taken by garbage collection, it gives up and returns the locked word with ok false. A spinLimit of 0 never gives up.
func (r *Record) StableTidw(spinLimit int) (w tid.Word, ok bool) {
	for i := 0; ; i++ {
		w = r.tidw.Load()
		if !w.Lock() {
			return w, true
		}
		if w.LockByGC() || (spinLimit > 0 && i >= spinLimit) {
			return w, false
		}
		backoff(i)
	}
}

// ReadOptimistic returns a consistent pair of header word and current version without locking.
func (r *Record) ReadOptimistic(spinLimit int) (tid.Word, *Version, bool) {
	for i := 0; ; i++ {
		w, ok := r.StableTidw(spinLimit)
		if !ok {
			return w, nil, false
		}
		v := r.latest.Load()
		if r.tidw.Load() == w {
			return w, v, true
		}
		if spinLimit > 0 && i >= spinLimit {
			return w, nil, false
		}
		backoff(i)
	}
}

// Lock spins until the lock bit is acquired. It fails only if the record was taken by garbage collection, which never
// gives it back.
func (r *Record) Lock() bool {
	for i := 0; ; i++ {
		w := r.tidw.Load()
		if w.LockByGC() {
			return false
		}
		if !w.Lock() && r.tidw.CompareAndSwap(w, w.WithLock(true)) {
			return true
		}
		backoff(i)
	}
}

// TryLock takes the lock if it is free.
func (r *Record) TryLock() bool {
	w := r.tidw.Load()
	if w.Lock() {
		return false
	}
	return r.tidw.CompareAndSwap(w, w.WithLock(true))
}

// LockByGC takes the lock on behalf of garbage collection. A record locked this way is about to leave the index.
func (r *Record) LockByGC() bool {
	w := r.tidw.Load()
	if w.Lock() {
		return false
	}
	return r.tidw.CompareAndSwap(w, w.WithLock(true).WithLockByGC(true))
}

// Unlock clears both lock bits.
func (r *Record) Unlock() {
	r.tidw.Store(r.tidw.Load().Unlocked())
}

// Latest returns the current version, nil if the record never had a committed one.
func (r *Record) Latest() *Version {
	return r.latest.Load()
}

// PushVersion installs v as the current version. The caller must hold the lock.
func (r *Record) PushVersion(v *Version) {
	v.next.Store(r.latest.Load())
	r.latest.Store(v)
}

// VisibleVersion returns the newest committed version whose epoch is strictly below valid, or nil.
func (r *Record) VisibleVersion(valid epoch.Epoch) *Version {
	for v := r.latest.Load(); v != nil; v = v.next.Load() {
		e := v.tidw.Epoch()
		if e != 0 && e < valid {
			return v
		}
	}
	return nil
}

// FindVersion returns the version stamped with exactly e, or nil.
func (r *Record) FindVersion(e epoch.Epoch) *Version {
	for v := r.latest.Load(); v != nil; v = v.next.Load() {
		ve := v.tidw.Epoch()
		if ve == e {
			return v
		}
		if ve < e {
			return nil
		}
	}
	return nil
}

// SpliceVersion links v into the chain keeping epochs non-increasing from the front, and reports whether v became the
// current version. The caller must hold the lock and must have checked that no version of the same epoch exists.
func (r *Record) SpliceVersion(v *Version) bool {
	e := v.tidw.Epoch()
	cur := r.latest.Load()
	if cur == nil || cur.tidw.Epoch() < e {
		r.PushVersion(v)
		return true
	}
	prev := cur
	for next := prev.next.Load(); next != nil && next.tidw.Epoch() >= e; next = prev.next.Load() {
		prev = next
	}
	v.next.Store(prev.next.Load())
	prev.next.Store(v)
	return false
}

// PruneBefore drops every version that is older than the newest version visible at min. It returns the number of
// versions unlinked. The caller must hold the lock.
func (r *Record) PruneBefore(min epoch.Epoch) int {
	keep := r.VisibleVersion(min)
	if keep == nil {
		return 0
	}
	n := 0
	for v := keep.next.Load(); v != nil; v = v.next.Load() {
		n++
	}
	if n > 0 {
		keep.next.Store(nil)
	}
	return n
}

// Versions lists the chain from newest to oldest.
func (r *Record) Versions() []*Version {
	var vs []*Version
	for v := r.latest.Load(); v != nil; v = v.next.Load() {
		vs = append(vs, v)
	}
	return vs
}

func backoff(round int) {
	if round%16 == 15 {
		runtime.Gosched()
	}
}
