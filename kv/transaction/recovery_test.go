package transaction

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinycc/kv/config"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForDurable(e *Engine, ce epoch.Epoch) bool {
	for i := 0; i < 500; i++ {
		if e.DurableEpoch() >= ce {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestDurableEpochFollowsSafeSnapshot(t *testing.T) {
	b := newBuilder(t)
	defer b.close()

	tok := b.enter()
	assert.Equal(t, status.OK, b.e.Upsert(tok, b.st, []byte("k"), []byte("v")))
	var param CommitParam
	require.Equal(t, status.OK, b.e.Commit(tok, &param))
	state, _ := b.e.TxState(tok)
	assert.Equal(t, session.CommittedNotDurable, state)

	// A long transaction holds the durable epoch below its valid epoch until it finishes.
	ltx := b.enter()
	b.beginLong(ltx, b.st)
	b.advance()
	b.advance()
	require.True(t, waitForDurable(b.e, param.CommitEpoch))
	assert.True(t, b.e.DurableEpoch() < b.e.GlobalEpoch()-1)
	state, _ = b.e.TxState(tok)
	assert.Equal(t, session.Durable, state)

	assert.Equal(t, status.OK, b.e.Upsert(ltx, b.st, []byte("n"), []byte("v")))
	var lparam CommitParam
	require.Equal(t, status.OK, b.e.Commit(ltx, &lparam))
	b.advance()
	assert.True(t, waitForDurable(b.e, lparam.CommitEpoch))
}

func TestCommitWaitForDurable(t *testing.T) {
	e, err := Init(config.NewTestConfig())
	require.Nil(t, err)
	defer e.Fin()
	id, _ := e.CreateStorage("t", storage.Options{})

	tok, _ := e.Enter()
	assert.Equal(t, status.OK, e.Upsert(tok, id, []byte("k"), []byte("v")))
	param := CommitParam{WaitForDurable: true}
	assert.Equal(t, status.OK, e.Commit(tok, &param))
	assert.True(t, e.DurableEpoch() >= param.CommitEpoch)
	state, _ := e.TxState(tok)
	assert.Equal(t, session.Durable, state)
}

func TestRecoverFromLog(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinycc-recover")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	conf := manualConfig()
	conf.LogDir = filepath.Join(dir, "log")
	conf.LogCompression = config.CompressionLZ4
	e, err := Init(conf)
	require.Nil(t, err)

	id, st := e.CreateStorage("t", storage.Options{Payload: []byte("opts")})
	require.Equal(t, status.OK, st)
	gone, _ := e.CreateStorage("gone", storage.Options{})
	tok, _ := e.Enter()
	for _, k := range []string{"a", "b", "c"} {
		require.Equal(t, status.OK, e.Insert(tok, id, []byte(k), []byte(k)))
	}
	require.Equal(t, status.OK, e.Upsert(tok, gone, []byte("a"), []byte("x")))
	require.Equal(t, status.OK, e.Commit(tok, nil))
	e.clock.Advance()
	require.Equal(t, status.OK, e.Update(tok, id, []byte("a"), []byte("a2")))
	require.Equal(t, status.OK, e.DeleteRecord(tok, id, []byte("b")))
	require.Equal(t, status.OK, e.Commit(tok, nil))
	require.Equal(t, status.OK, e.DeleteStorage("gone"))

	// Not committed, so not recovered.
	require.Equal(t, status.OK, e.Insert(tok, id, []byte("d"), []byte("d")))
	last := e.GlobalEpoch()
	require.Nil(t, e.Fin())
	assert.True(t, e.DurableEpoch() >= last)

	conf.Recover = true
	e, err = Init(conf)
	require.Nil(t, err)
	defer e.Fin()
	assert.True(t, e.GlobalEpoch() > last)
	assert.Equal(t, []string{"t"}, e.ListStorage())
	rid, st := e.GetStorage("t")
	require.Equal(t, status.OK, st)
	assert.Equal(t, id, rid)
	opts, _ := e.StorageOptions(rid)
	assert.Equal(t, []byte("opts"), opts.Payload)

	tok, _ = e.Enter()
	kvs, st := e.ScanKey(tok, rid, ScanRange{LeftEnd: storage.Inf, RightEnd: storage.Inf})
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []KV{{Key: []byte("a"), Value: []byte("a2")}, {Key: []byte("c"), Value: []byte("c")}}, kvs)

	// Recovered records take part in concurrency control like any other.
	assert.Equal(t, status.OK, e.Update(tok, rid, []byte("c"), []byte("c2")))
	assert.Equal(t, status.WarnAlreadyExists, e.Insert(tok, rid, []byte("a"), []byte("x")))
	assert.Equal(t, status.OK, e.Insert(tok, rid, []byte("b"), []byte("b2")))
	assert.Equal(t, status.OK, e.Commit(tok, nil))
	v, st := e.SearchKey(tok, rid, []byte("c"))
	assert.Equal(t, status.OK, st)
	assert.Equal(t, []byte("c2"), v)
	assert.Equal(t, status.OK, e.Commit(tok, nil))

	var buf bytes.Buffer
	e.PrintDiagnostics(&buf)
	assert.Contains(t, buf.String(), "log dir: "+conf.LogDir)
}
