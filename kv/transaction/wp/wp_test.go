package wp

import (
	"testing"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/stretchr/testify/assert"
)

func TestMetaPriorityOrder(t *testing.T) {
	m := NewMeta()
	m.Register(Entry{Epoch: 5, ID: 7})
	m.Register(Entry{Epoch: 4, ID: 9})
	m.Register(Entry{Epoch: 5, ID: 3})

	assert.Equal(t, []Entry{{4, 9}, {5, 3}, {5, 7}}, m.Active())
	e, ok := m.FindMinEpoch()
	assert.True(t, ok)
	assert.Equal(t, epoch.Epoch(4), e)

	assert.Equal(t, []Entry{{4, 9}, {5, 3}}, m.HigherPriority(Entry{Epoch: 5, ID: 7}))
	assert.Nil(t, m.HigherPriority(Entry{Epoch: 4, ID: 9}))

	assert.True(t, m.Remove(9))
	assert.False(t, m.Remove(9))
	e, _ = m.FindMinEpoch()
	assert.Equal(t, epoch.Epoch(5), e)
	m.Remove(3)
	m.Remove(7)
	_, ok = m.FindMinEpoch()
	assert.False(t, ok)
}

func TestMetaResults(t *testing.T) {
	m := NewMeta()
	m.PushResult(Entry{Epoch: 3, ID: 1})
	m.PushResult(Entry{Epoch: 6, ID: 2})
	assert.Equal(t, []Entry{{6, 2}}, m.ResultsFrom(4))
	assert.Len(t, m.ResultsFrom(3), 2)
	assert.Equal(t, 1, m.PruneResults(func(e Entry) bool { return e.ID == 1 }))
	assert.Equal(t, []Entry{{6, 2}}, m.Results())
}

func TestReadByOCC(t *testing.T) {
	rb := NewReadByOCC()
	rb.Register([]byte("a"), 3)
	rb.Register([]byte("a"), 2)
	rb.RegisterRange(storage.Range{Left: []byte("b"), LeftEnd: storage.Inclusive, RightEnd: storage.Inf}, 7)

	assert.Equal(t, epoch.Epoch(3), rb.MaxEpoch([]byte("a")))
	assert.Equal(t, epoch.Epoch(7), rb.MaxEpoch([]byte("c")))
	assert.Equal(t, epoch.Epoch(0), rb.MaxEpoch([]byte("0")))

	assert.Equal(t, 1, rb.Prune(4))
	assert.Equal(t, epoch.Epoch(0), rb.MaxEpoch([]byte("a")))
	assert.Equal(t, 1, rb.Len())
}

func TestReadByLTX(t *testing.T) {
	rb := NewReadByLTX()
	rb.Register(1, []byte("x"))
	rb.RegisterRange(2, storage.Range{Left: []byte("m"), LeftEnd: storage.Inclusive, Right: []byte("p"), RightEnd: storage.Exclusive})

	assert.True(t, rb.Covers(1, []byte("x")))
	assert.False(t, rb.Covers(1, []byte("y")))
	assert.True(t, rb.Covers(2, []byte("n")))
	assert.False(t, rb.Covers(2, []byte("p")))
	assert.False(t, rb.Covers(3, []byte("x")))

	rb.Drop(1)
	assert.False(t, rb.Covers(1, []byte("x")))
	assert.Equal(t, 1, rb.Len())
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	_, ok := d.Lookup(1)
	assert.False(t, ok)
	sm := d.Get(1)
	assert.True(t, sm == d.Get(1))
	n := 0
	d.Each(func(id storage.ID, sm *StorageMeta) { n++ })
	assert.Equal(t, 1, n)
	d.Remove(1)
	_, ok = d.Lookup(1)
	assert.False(t, ok)
}

func TestOngoing(t *testing.T) {
	o := NewOngoing()
	o.Register(Entry{Epoch: 4, ID: 1})
	o.Register(Entry{Epoch: 5, ID: 2})

	e, ok := o.MinEpoch()
	assert.True(t, ok)
	assert.Equal(t, epoch.Epoch(4), e)
	assert.Equal(t, Undecided, o.Decision(1))
	assert.Equal(t, Unknown, o.Decision(42))

	o.Finish(1, Committed, 3)
	assert.False(t, o.Exists(1))
	assert.Equal(t, Committed, o.Decision(1))
	e, _ = o.MinEpoch()
	assert.Equal(t, epoch.Epoch(5), e)

	// Transaction 2 began before 1 finished, so the outcome of 1 is kept.
	assert.Empty(t, o.Prune())
	o.Register(Entry{Epoch: 6, ID: 4})
	o.Finish(2, Aborted, 5)
	assert.Equal(t, []uint64{1}, o.Prune())
	assert.Equal(t, Aborted, o.Decision(2))

	o.Finish(4, Committed, 6)
	assert.Len(t, o.Prune(), 2)
	active, fin := o.Len()
	assert.Equal(t, 0, active)
	assert.Equal(t, 0, fin)
}
