// Package tid defines the transaction id word carried by every record header and every version.
//
// Layout, least significant bit first:
//
//	bit 0       lock      exclusive lock on the record header
//	bit 1       lockByGC  the lock is held by garbage collection
//	bit 2       latest    the version is the newest materialized one
//	bit 3       absent    the record is logically absent at this version
//	bits 4-31   tid       per epoch counter, 28 bits
//	bit 32      byShort   stamped by a short transaction
//	bits 33-63  epoch     31 bits
//
// Bit twiddling stays inside this package; other packages use the accessors.
package tid

import (
	"fmt"

	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"go.uber.org/atomic"
)

// Word is a packed transaction id word.
type Word uint64

const (
	lockBit     = 0
	lockByGCBit = 1
	latestBit   = 2
	absentBit   = 3
	tidShift    = 4
	tidBits     = 28
	byShortBit  = 32
	epochShift  = 33
	epochBits   = 31

	// MaxTID is the largest per epoch counter value.
	MaxTID uint32 = 1<<tidBits - 1

	tidMask   = Word(MaxTID) << tidShift
	epochMask = Word(1<<epochBits-1) << epochShift
	lockMask  = Word(1)<<lockBit | Word(1)<<lockByGCBit
)

func (w Word) bit(n uint) bool {
	return w&(Word(1)<<n) != 0
}

func (w Word) withBit(n uint, v bool) Word {
	if v {
		return w | Word(1)<<n
	}
	return w &^ (Word(1) << n)
}

func (w Word) Lock() bool { return w.bit(lockBit) }
func (w Word) WithLock(v bool) Word { return w.withBit(lockBit, v) }
func (w Word) LockByGC() bool { return w.bit(lockByGCBit) }
func (w Word) WithLockByGC(v bool) Word { return w.withBit(lockByGCBit, v) }
func (w Word) Latest() bool { return w.bit(latestBit) }
func (w Word) WithLatest(v bool) Word { return w.withBit(latestBit, v) }
func (w Word) Absent() bool { return w.bit(absentBit) }
func (w Word) WithAbsent(v bool) Word { return w.withBit(absentBit, v) }
func (w Word) ByShort() bool { return w.bit(byShortBit) }
func (w Word) WithByShort(v bool) Word { return w.withBit(byShortBit, v) }
func (w Word) Unlocked() Word { return w &^ lockMask }
func (w Word) TID() uint32 { return uint32((w & tidMask) >> tidShift) }
func (w Word) Epoch() epoch.Epoch { return epoch.Epoch((w & epochMask) >> epochShift) }

// WithTID replaces the counter. The value is truncated to 28 bits.
func (w Word) WithTID(t uint32) Word {
	return w&^tidMask | (Word(t)<<tidShift)&tidMask
}

// WithEpoch replaces the epoch. The value is truncated to 31 bits.
func (w Word) WithEpoch(e epoch.Epoch) Word {
	return w&^epochMask | (Word(e)<<epochShift)&epochMask
}

// Inserting reports the transient state of a record whose insert has not been committed yet.
func (w Word) Inserting() bool {
	return w.Absent() && w.Latest()
}

// Deleted reports a record that was deleted, or whose insert was cancelled.
func (w Word) Deleted() bool {
	return w.Absent() && !w.Latest()
}

// Less orders words by (epoch, tid).
func (w Word) Less(o Word) bool {
	if w.Epoch() != o.Epoch() {
		return w.Epoch() < o.Epoch()
	}
	return w.TID() < o.TID()
}

// SameVersion reports whether two words describe the same committed state, ignoring the lock bits.
func (w Word) SameVersion(o Word) bool {
	return w.Unlocked() == o.Unlocked()
}

func (w Word) String() string {
	return fmt.Sprintf("tid{epoch:%d tid:%d lock:%t gc:%t latest:%t absent:%t short:%t}",
		w.Epoch(), w.TID(), w.Lock(), w.LockByGC(), w.Latest(), w.Absent(), w.ByShort())
}

// Atomic is a Word that is only read with an acquire load, written with a release store or swapped with CAS.
type Atomic struct {
	v atomic.Uint64
}

func (a *Atomic) Load() Word {
	return Word(a.v.Load())
}

func (a *Atomic) Store(w Word) {
	a.v.Store(uint64(w))
}

func (a *Atomic) CompareAndSwap(old, new Word) bool {
	return a.v.CAS(uint64(old), uint64(new))
}
