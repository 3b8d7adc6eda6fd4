package transaction

import (
	"fmt"
	"testing"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnlySnapshot(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("k", "v1", "d", "x")

	ro := b.enter()
	b.beginReadOnly(ro)

	// Commits of the valid epoch and later stay invisible.
	tok := b.enter()
	assert.Equal(t, status.OK, b.e.Update(tok, b.st, []byte("k"), []byte("v2")))
	assert.Equal(t, status.OK, b.e.DeleteRecord(tok, b.st, []byte("d")))
	assert.Equal(t, status.OK, b.e.Insert(tok, b.st, []byte("n"), []byte("new")))
	assert.Equal(t, status.OK, b.e.Commit(tok, nil))
	b.advance()

	b.assertValue(ro, "k", "v1")
	b.assertValue(ro, "d", "x")
	b.assertMissing(ro, "n")
	kvs, st := b.e.ScanKey(ro, b.st, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []KV{{Key: []byte("d"), Value: []byte("x")}, {Key: []byte("k"), Value: []byte("v1")}}, kvs)
	assert.Equal(t, status.OK, b.e.Commit(ro, nil))
	state, _ := b.e.TxState(ro)
	assert.Equal(t, session.Durable, state)

	b.beginReadOnly(ro)
	b.assertValue(ro, "k", "v2")
	b.assertMissing(ro, "d")
	b.assertValue(ro, "n", "new")
	assert.Equal(t, status.OK, b.e.Commit(ro, nil))
}

func TestReadOnlyPremature(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("k", "v")

	ro := b.enter()
	require.Equal(t, status.OK, b.e.TxBegin(ro, TxOptions{Type: session.ReadOnly}))
	_, st := b.e.SearchKey(ro, b.st, []byte("k"))
	assert.Equal(t, status.WarnPremature, st)
	b.advance()
	b.assertValue(ro, "k", "v")
}

// A read only transaction that begins while a long transaction is running reads below it.
func TestReadOnlyBelowOngoingLong(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("k", "v1")

	ltx := b.enter()
	b.beginLong(ltx, b.st)
	b.advance()
	b.advance()

	ro := b.enter()
	b.beginReadOnly(ro)
	assert.Equal(t, status.OK, b.e.Update(ltx, b.st, []byte("k"), []byte("v2")))
	assert.Equal(t, status.OK, b.e.Commit(ltx, nil))
	b.assertValue(ro, "k", "v1")
}

func TestReadOnlyWrite(t *testing.T) {
	b := newBuilder(t)
	defer b.close()

	ro := b.enter()
	b.beginReadOnly(ro)
	assert.Equal(t, status.ErrWriteOnReadOnly, b.e.Upsert(ro, b.st, []byte("k"), []byte("v")))
	info, _ := b.e.ResultInfo(ro)
	assert.Equal(t, status.ReasonWriteOnReadOnly, info.Reason)
	state, _ := b.e.TxState(ro)
	assert.Equal(t, session.Aborted, state)
}

func TestReverseScan(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("a", "1", "b", "2", "c", "3")

	ro := b.enter()
	b.beginReadOnly(ro)
	kvs, st := b.e.ScanKey(ro, b.st, ScanRange{Left: []byte("a"), RightEnd: storage.Inf, MaxSize: 1, Reverse: true})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []KV{{Key: []byte("c"), Value: []byte("3")}}, kvs)

	_, st = b.e.ScanKey(ro, b.st, ScanRange{Left: []byte("a"), RightEnd: storage.Inf, MaxSize: 2, Reverse: true})
	assert.Equal(t, status.ErrFatal, st)
	_, st = b.e.ScanKey(ro, b.st, ScanRange{Right: []byte("b"), LeftEnd: storage.Inf, MaxSize: 1, Reverse: true})
	assert.Equal(t, status.ErrFatal, st)
	assert.Equal(t, status.OK, b.e.Commit(ro, nil))
}

func keysOf(kvs []KV) []string {
	var ks []string
	for _, kv := range kvs {
		ks = append(ks, string(kv.Key))
	}
	return ks
}

// A capped scan keeps reading the index past entries it cannot see until the cap is reached.
func TestCappedScanSkipsInvisible(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	var kvs []string
	for i := 0; i < 30; i++ {
		kvs = append(kvs, fmt.Sprintf("k%02d", i), "v")
	}
	b.init(kvs...)
	tok := b.enter()
	for i := 0; i < 20; i++ {
		require.Equal(t, status.OK, b.e.DeleteRecord(tok, b.st, []byte(fmt.Sprintf("k%02d", i))))
	}
	require.Equal(t, status.OK, b.e.Commit(tok, nil))
	b.advance()

	ro := b.enter()
	b.beginReadOnly(ro)
	got, st := b.e.ScanKey(ro, b.st, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf, MaxSize: 3})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []string{"k20", "k21", "k22"}, keysOf(got))
	assert.Equal(t, status.OK, b.e.Commit(ro, nil))

	// Own deletes are skipped the same way.
	for i := 20; i < 28; i++ {
		require.Equal(t, status.OK, b.e.DeleteRecord(tok, b.st, []byte(fmt.Sprintf("k%02d", i))))
	}
	got, st = b.e.ScanKey(tok, b.st, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf, MaxSize: 2})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []string{"k28", "k29"}, keysOf(got))
	got, st = b.e.ScanKey(tok, b.st, ScanRange{Left: []byte("k29"), RightEnd: storage.Inf, MaxSize: 5})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []string{"k29"}, keysOf(got))

	b.beginReadOnly(ro)
	got, st = b.e.ScanKey(ro, b.st, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf, MaxSize: 1, Reverse: true})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []string{"k29"}, keysOf(got))
}
