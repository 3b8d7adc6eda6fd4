package tid

import (
	"testing"

	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/stretchr/testify/assert"
)

func TestFieldsAreIndependent(t *testing.T) {
	var w Word
	w = w.WithLock(true).WithLatest(true).WithAbsent(true).WithByShort(true)
	w = w.WithTID(MaxTID).WithEpoch(epoch.MaxEpoch)
	assert.True(t, w.Lock())
	assert.False(t, w.LockByGC())
	assert.True(t, w.Latest())
	assert.True(t, w.Absent())
	assert.True(t, w.ByShort())
	assert.Equal(t, MaxTID, w.TID())
	assert.Equal(t, epoch.MaxEpoch, w.Epoch())

	w = w.WithTID(5)
	assert.Equal(t, uint32(5), w.TID())
	assert.Equal(t, epoch.MaxEpoch, w.Epoch())
	assert.True(t, w.ByShort())

	w = w.WithEpoch(9)
	assert.Equal(t, epoch.Epoch(9), w.Epoch())
	assert.Equal(t, uint32(5), w.TID())
	assert.True(t, w.Lock())
}

func TestUnlockedClearsBothLockBits(t *testing.T) {
	w := Word(0).WithLock(true).WithLockByGC(true).WithLatest(true)
	u := w.Unlocked()
	assert.False(t, u.Lock())
	assert.False(t, u.LockByGC())
	assert.True(t, u.Latest())
	assert.True(t, w.SameVersion(u))
}

func TestStates(t *testing.T) {
	inserting := Word(0).WithLatest(true).WithAbsent(true)
	assert.True(t, inserting.Inserting())
	assert.False(t, inserting.Deleted())

	deleted := Word(0).WithAbsent(true)
	assert.True(t, deleted.Deleted())
	assert.False(t, deleted.Inserting())

	present := Word(0).WithLatest(true)
	assert.False(t, present.Deleted())
	assert.False(t, present.Inserting())
}

func TestLess(t *testing.T) {
	a := Word(0).WithEpoch(3).WithTID(100)
	b := Word(0).WithEpoch(4).WithTID(1)
	c := Word(0).WithEpoch(4).WithTID(2).WithLock(true)
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(b))
	assert.False(t, b.Less(b))
}

func TestAtomic(t *testing.T) {
	var a Atomic
	w := Word(0).WithEpoch(2).WithTID(1)
	a.Store(w)
	assert.Equal(t, w, a.Load())
	assert.False(t, a.CompareAndSwap(w.WithTID(7), w.WithLock(true)))
	assert.True(t, a.CompareAndSwap(w, w.WithLock(true)))
	assert.True(t, a.Load().Lock())
}
