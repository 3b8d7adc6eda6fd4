package session

import (
	"testing"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim(t *testing.T) {
	s := New(3)
	assert.Equal(t, uint32(3), s.Token())
	require.True(t, s.Claim())
	assert.False(t, s.Claim())
	assert.True(t, s.Visible())
	s.Release()
	assert.True(t, s.Claim())
}

func TestWriteSet(t *testing.T) {
	a := mvcc.NewArena()
	st := &storage.Storage{ID: 2}
	st1 := &storage.Storage{ID: 1}
	r1 := a.NewAbsentRecord(2, []byte("b"))
	r2 := a.NewAbsentRecord(1, []byte("a"))

	ws := NewWriteSet()
	ws.Put(&WriteEntry{Rec: r2, Storage: st1, Op: mvcc.OpUpdate})
	ws.Put(&WriteEntry{Rec: r1, Storage: st, Op: mvcc.OpInsert, Value: []byte("1")})
	ws.Put(&WriteEntry{Rec: r1, Storage: st, Op: mvcc.OpInsert, Value: []byte("2")})

	assert.Equal(t, 2, ws.Len())
	assert.Equal(t, []byte("2"), ws.Get(r1).Value)
	assert.Equal(t, []byte("b"), ws.Get(r1).Key())

	sorted := ws.Sorted()
	assert.True(t, sorted[0].Rec == r1)
	assert.True(t, ws.Entries()[0].Rec == r2)

	sts := ws.Storages()
	require.Len(t, sts, 2)
	assert.Equal(t, storage.ID(1), sts[0].ID)

	ws.Remove(r2)
	assert.Nil(t, ws.Get(r2))
	assert.Equal(t, 1, ws.Len())
	ws.Clear()
	assert.Equal(t, 0, ws.Len())
}

func TestNodeSetAdvance(t *testing.T) {
	mi := storage.NewMemIndex()
	var ns NodeSet
	_, tag := mi.Get([]byte("k"))
	ns.Add(tag)

	r := mvcc.NewArena().NewAbsentRecord(1, []byte("k"))
	_, before, after := mi.Put([]byte("k"), r)
	assert.True(t, ns.Changed())
	ns.Advance(before, after)
	assert.False(t, ns.Changed())

	mi.Put([]byte("k2"), mvcc.NewArena().NewAbsentRecord(1, []byte("k2")))
	assert.True(t, ns.Changed())
}

func TestScanTable(t *testing.T) {
	var tbl ScanTable
	h1 := tbl.Open(&ScanCursor{Items: []ScanItem{{Value: []byte("a")}, {Value: []byte("b")}}})
	h2 := tbl.Open(&ScanCursor{})
	assert.NotEqual(t, h1, h2)

	c, ok := tbl.Get(h1)
	require.True(t, ok)
	it, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), it.Value)
	assert.True(t, c.Next())
	assert.False(t, c.Next())
	_, ok = c.Current()
	assert.False(t, ok)

	assert.True(t, tbl.Close(h1))
	assert.False(t, tbl.Close(h1))
	tbl.Clear()
	assert.Equal(t, 0, tbl.Len())
	assert.True(t, tbl.Open(&ScanCursor{}) > h2)
}

func TestReadAreaAndWP(t *testing.T) {
	ra := ReadArea{Positive: []storage.ID{1, 2}, Negative: []storage.ID{2}}
	assert.True(t, ra.Allows(1))
	assert.False(t, ra.Allows(2))
	assert.False(t, ra.Allows(3))
	assert.True(t, ReadArea{}.Allows(9))

	s := New(0)
	s.SetWP([]storage.ID{5, 1, 5, 3})
	assert.Equal(t, []storage.ID{1, 3, 5}, s.WP)
	assert.True(t, s.InWP(3))
	assert.False(t, s.InWP(4))

	s.Began = true
	s.Overtaken.Add(7)
	s.SetActiveEpoch(4)
	s.Reset()
	assert.False(t, s.Began)
	assert.True(t, s.Overtaken.IsEmpty())
	assert.Equal(t, 0, int(s.ActiveEpoch()))
}
