package transaction

import (
	"testing"
	"time"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongPremature(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("k", "v")

	tok := b.enter()
	b.beginLong(tok, b.st)
	assert.Equal(t, status.WarnAlreadyBegin, b.e.TxBegin(tok, TxOptions{Type: session.Long}))
	state, _ := b.e.TxState(tok)
	assert.Equal(t, session.WaitingStart, state)
	_, st := b.e.SearchKey(tok, b.st, []byte("k"))
	assert.Equal(t, status.WarnPremature, st)
	assert.Equal(t, status.WarnPremature, b.e.Upsert(tok, b.st, []byte("k"), []byte("v2")))
	assert.Equal(t, status.WarnPremature, b.e.Commit(tok, nil))

	b.advance()
	b.assertValue(tok, "k", "v")
	state, _ = b.e.TxState(tok)
	assert.Equal(t, session.Started, state)
	assert.Equal(t, status.OK, b.e.Upsert(tok, b.st, []byte("k"), []byte("v2")))
	var param CommitParam
	assert.Equal(t, status.OK, b.e.Commit(tok, &param))
	assert.Equal(t, b.e.GlobalEpoch(), param.CommitEpoch)

	v, _ := b.latest("k")
	assert.Equal(t, []byte("v2"), v)
}

func TestLongBeginArgs(t *testing.T) {
	b := newBuilder(t)
	defer b.close()

	tok := b.enter()
	assert.Equal(t, status.WarnStorageNotFound, b.e.TxBegin(tok, TxOptions{Type: session.Long, WritePreserve: []storage.ID{42}}))
	assert.Equal(t, status.WarnInvalidArgs, b.e.TxBegin(tok, TxOptions{Type: session.TxType(9)}))
	b.beginLong(tok, b.st, b.st)
	assert.Equal(t, status.OK, b.e.Abort(tok))
	assert.Empty(t, b.e.ongoing.Active())
	meta, ok := b.e.wps.Lookup(b.st)
	require.True(t, ok)
	_, active := meta.WP.FindMinEpoch()
	assert.False(t, active)
}

func TestLongWriteWithoutWP(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	u, _ := b.e.CreateStorage("u", storage.Options{})

	tok := b.enter()
	b.beginLong(tok, b.st)
	b.advance()
	assert.Equal(t, status.ErrWriteWithoutWP, b.e.Upsert(tok, u, []byte("k"), []byte("v")))
	info, _ := b.e.ResultInfo(tok)
	assert.Equal(t, status.ReasonWriteWithoutWP, info.Reason)
	assert.Equal(t, "u", info.StorageName)
	state, _ := b.e.TxState(tok)
	assert.Equal(t, session.Aborted, state)
}

func TestReadAreaViolation(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	u, _ := b.e.CreateStorage("u", storage.Options{})

	tok := b.enter()
	require.Equal(t, status.OK, b.e.TxBegin(tok, TxOptions{
		Type:          session.Long,
		WritePreserve: []storage.ID{b.st},
		ReadArea:      session.ReadArea{Negative: []storage.ID{u}},
	}))
	b.advance()
	b.assertMissing(tok, "k")
	_, st := b.e.SearchKey(tok, u, []byte("k"))
	assert.Equal(t, status.ErrReadAreaViolation, st)
	info, _ := b.e.ResultInfo(tok)
	assert.Equal(t, status.ReasonReadAreaViolation, info.Reason)

	require.Equal(t, status.OK, b.e.TxBegin(tok, TxOptions{
		Type:     session.Long,
		ReadArea: session.ReadArea{Positive: []storage.ID{u}},
	}))
	b.advance()
	_, st = b.e.ScanKey(tok, b.st, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf})
	assert.Equal(t, status.ErrReadAreaViolation, st)
}

// Two long transactions of one epoch writing the same key: the one that began first is serialized first.
func TestLongPriority(t *testing.T) {
	for _, lowFirst := range []bool{false, true} {
		b := newBuilder(t)
		b.init("x", "0")

		high, low := b.enter(), b.enter()
		b.beginLong(high, b.st)
		b.beginLong(low, b.st)
		b.advance()

		assert.Equal(t, status.OK, b.e.Insert(low, b.st, []byte("k"), []byte("low")))
		assert.Equal(t, status.OK, b.e.Insert(high, b.st, []byte("k"), []byte("high")))
		if lowFirst {
			assert.Equal(t, status.WarnWaitingForOtherTx, b.e.Commit(low, nil))
			state, _ := b.e.TxState(low)
			assert.Equal(t, session.WaitingCCCommit, state)
			_, st := b.e.SearchKey(low, b.st, []byte("x"))
			assert.Equal(t, status.WarnWaitingForOtherTx, st)
			assert.Equal(t, status.WarnWaitingForOtherTx, b.e.CheckCommit(low))
			assert.Equal(t, status.OK, b.e.Commit(high, nil))
			assert.Equal(t, status.ErrCC, b.e.CheckCommit(low))
		} else {
			assert.Equal(t, status.OK, b.e.Commit(high, nil))
			assert.Equal(t, status.ErrCC, b.e.Commit(low, nil))
		}
		info, _ := b.e.ResultInfo(low)
		assert.Equal(t, status.ReasonLtxWriteConflict, info.Reason)

		b.advance()
		v, st := b.latest("k")
		assert.Equal(t, status.OK, st)
		assert.Equal(t, []byte("high"), v)
		b.close()
	}
}

// Each transaction reads the key the other one writes. Whatever the commit order, the lower priority one fails.
func TestLongWriteSkew(t *testing.T) {
	for _, lowFirst := range []bool{false, true} {
		b := newBuilder(t)
		b.init("x", "0", "y", "0")

		high, low := b.enter(), b.enter()
		b.beginLong(high, b.st)
		b.beginLong(low, b.st)
		b.advance()

		b.assertValue(high, "x", "0")
		b.assertValue(low, "y", "0")
		assert.Equal(t, status.OK, b.e.Update(high, b.st, []byte("y"), []byte("1")))
		assert.Equal(t, status.OK, b.e.Update(low, b.st, []byte("x"), []byte("1")))

		if lowFirst {
			assert.Equal(t, status.WarnWaitingForOtherTx, b.e.Commit(low, nil))
			assert.Equal(t, status.OK, b.e.Commit(high, nil))
			assert.Equal(t, status.ErrValidation, b.e.CheckCommit(low))
		} else {
			assert.Equal(t, status.OK, b.e.Commit(high, nil))
			assert.Equal(t, status.ErrValidation, b.e.Commit(low, nil))
		}
		info, _ := b.e.ResultInfo(low)
		assert.Equal(t, status.ReasonLtxReadUpperBound, info.Reason)
		assert.Equal(t, []byte("x"), info.Key)

		b.advance()
		v, _ := b.latest("x")
		assert.Equal(t, []byte("0"), v)
		v, _ = b.latest("y")
		assert.Equal(t, []byte("1"), v)
		b.close()
	}
}

// A lower priority reader does not see the writes of a higher priority transaction of its epoch even after it
// committed, because it is serialized before it.
func TestLongReadsBeforeOvertaken(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("x", "0")

	high, low := b.enter(), b.enter()
	b.beginLong(high, b.st)
	b.beginLong(low, b.st)
	b.advance()

	assert.Equal(t, status.OK, b.e.Update(high, b.st, []byte("x"), []byte("1")))
	assert.Equal(t, status.OK, b.e.Commit(high, nil))
	b.assertValue(low, "x", "0")
	assert.Equal(t, status.OK, b.e.Commit(low, nil))
}

func TestLongReadByShort(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("k", "0")

	ltx := b.enter()
	b.beginLong(ltx, b.st)
	b.advance()

	// A short transaction of the valid epoch reads k, so it is serialized after the long one and must not miss
	// its write.
	occ := b.enter()
	b.assertValue(occ, "k", "0")
	assert.Equal(t, status.OK, b.e.Commit(occ, nil))

	assert.Equal(t, status.OK, b.e.Update(ltx, b.st, []byte("k"), []byte("1")))
	assert.Equal(t, status.ErrCC, b.e.Commit(ltx, nil))
	info, _ := b.e.ResultInfo(ltx)
	assert.Equal(t, status.ReasonLtxReadByOcc, info.Reason)
}

func TestLongInsertDelete(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("a", "1")

	tok := b.enter()
	b.beginLong(tok, b.st)
	b.advance()
	assert.Equal(t, status.WarnAlreadyExists, b.e.Insert(tok, b.st, []byte("a"), []byte("2")))
	assert.Equal(t, status.WarnNotFound, b.e.Update(tok, b.st, []byte("b"), []byte("2")))
	assert.Equal(t, status.OK, b.e.Insert(tok, b.st, []byte("b"), []byte("2")))
	assert.Equal(t, status.OK, b.e.DeleteRecord(tok, b.st, []byte("a")))
	kvs, st := b.e.ScanKey(tok, b.st, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []KV{{Key: []byte("b"), Value: []byte("2")}}, kvs)
	assert.Equal(t, status.OK, b.e.Commit(tok, nil))

	b.advance()
	_, st = b.latest("a")
	assert.Equal(t, status.WarnNotFound, st)
	v, _ := b.latest("b")
	assert.Equal(t, []byte("2"), v)
}

func TestLongDeletedBeforeCommit(t *testing.T) {
	b := newBuilder(t)
	defer b.close()
	b.init("k", "0")

	// The delete commits in the epoch before the valid epoch of the long transaction.
	ltx := b.enter()
	b.beginLong(ltx, b.st)
	occ := b.enter()
	assert.Equal(t, status.OK, b.e.DeleteRecord(occ, b.st, []byte("k")))
	assert.Equal(t, status.OK, b.e.Commit(occ, nil))
	b.advance()

	assert.Equal(t, status.WarnNotFound, b.e.Update(ltx, b.st, []byte("k"), []byte("1")))
	assert.Equal(t, status.OK, b.e.Insert(ltx, b.st, []byte("k"), []byte("1")))
	assert.Equal(t, status.OK, b.e.Commit(ltx, nil))

	b.advance()
	v, _ := b.latest("k")
	assert.Equal(t, []byte("1"), v)
}

func TestCommitAsync(t *testing.T) {
	b := newBuilder(t)
	defer b.close()

	high, low := b.enter(), b.enter()
	b.beginLong(high, b.st)
	b.beginLong(low, b.st)
	b.advance()

	assert.Equal(t, status.OK, b.e.Insert(low, b.st, []byte("b"), []byte("low")))
	assert.Equal(t, status.OK, b.e.Insert(high, b.st, []byte("a"), []byte("high")))

	var (
		calls  int
		got    status.Status
		gotEpo epoch.Epoch
	)
	cb := func(st status.Status, _ status.Reason, ce epoch.Epoch) {
		calls++
		got, gotEpo = st, ce
	}
	assert.False(t, b.e.CommitAsync(low, cb))
	assert.Equal(t, 0, calls)
	b.e.resolveWaiting()
	assert.Equal(t, 0, calls)

	assert.True(t, b.e.CommitAsync(high, nil))
	b.e.resolveWaiting()
	assert.Equal(t, 1, calls)
	assert.Equal(t, status.OK, got)
	assert.Equal(t, b.e.GlobalEpoch(), gotEpo)
	assert.Equal(t, status.OK, b.e.CheckCommit(low))

	b.e.resolveWaiting()
	assert.Equal(t, 1, calls)
}

func TestCommitAsyncInvalidToken(t *testing.T) {
	b := newBuilder(t)
	defer b.close()

	var got status.Status
	assert.True(t, b.e.CommitAsync(0, func(st status.Status, _ status.Reason, _ epoch.Epoch) { got = st }))
	assert.Equal(t, status.ErrInvalidToken, got)
}

type asyncOutcome struct {
	st     status.Status
	reason status.Reason
}

func waitOutcome(t *testing.T, done <-chan asyncOutcome) asyncOutcome {
	select {
	case o := <-done:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("commit callback was not called")
	}
	return asyncOutcome{}
}

// A commit waiting for other transactions still gets its callback when the session is torn down.
func TestCommitAsyncWaitingTornDown(t *testing.T) {
	for _, teardown := range []string{"abort", "leave", "fin"} {
		b := newBuilder(t)
		high, low := b.enter(), b.enter()
		b.beginLong(high, b.st)
		b.beginLong(low, b.st)
		b.advance()
		assert.Equal(t, status.OK, b.e.Insert(low, b.st, []byte("b"), []byte("low")))
		assert.Equal(t, status.OK, b.e.Insert(high, b.st, []byte("a"), []byte("high")))

		done := make(chan asyncOutcome, 2)
		assert.False(t, b.e.CommitAsync(low, func(st status.Status, reason status.Reason, _ epoch.Epoch) {
			done <- asyncOutcome{st: st, reason: reason}
		}))
		switch teardown {
		case "abort":
			assert.Equal(t, status.OK, b.e.Abort(low))
		case "leave":
			assert.Equal(t, status.OK, b.e.Leave(low))
		case "fin":
			require.Nil(t, b.e.Fin())
		}
		o := waitOutcome(t, done)
		assert.Equal(t, status.WarnNotBegin, o.st, teardown)
		assert.Equal(t, status.ReasonUserAbort, o.reason, teardown)
		b.close()
	}
}

func TestCommitAsyncFailureReportedOnce(t *testing.T) {
	b := newBuilder(t)
	defer b.close()

	high, low := b.enter(), b.enter()
	b.beginLong(high, b.st)
	b.beginLong(low, b.st)
	b.advance()
	assert.Equal(t, status.OK, b.e.Insert(low, b.st, []byte("k"), []byte("low")))
	assert.Equal(t, status.OK, b.e.Insert(high, b.st, []byte("k"), []byte("high")))

	done := make(chan asyncOutcome, 2)
	assert.False(t, b.e.CommitAsync(low, func(st status.Status, reason status.Reason, _ epoch.Epoch) {
		done <- asyncOutcome{st: st, reason: reason}
	}))
	assert.Equal(t, status.OK, b.e.Commit(high, nil))
	b.e.resolveWaiting()
	o := waitOutcome(t, done)
	assert.Equal(t, status.ErrCC, o.st)
	assert.Equal(t, status.ReasonLtxWriteConflict, o.reason)

	assert.Equal(t, status.OK, b.e.Abort(low))
	select {
	case o = <-done:
		t.Fatalf("callback called again with %v", o.st)
	case <-time.After(50 * time.Millisecond):
	}
}
