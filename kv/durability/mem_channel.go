package durability

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

type memKey struct {
	storage storage.ID
	key     string
}

type memStorage struct {
	name string
	opts storage.Options
}

// MemChannel is a log channel that keeps flushed records in memory. It serves engines without a log directory and
// tests.
type MemChannel struct {
	buf     *buffer
	durable atomic.Uint64

	mu       sync.Mutex
	storages map[storage.ID]memStorage
	latest   map[memKey]LogRecord
	flushed  int
}

func NewMemChannel() *MemChannel {
	return &MemChannel{
		buf:      newBuffer(),
		storages: make(map[storage.ID]memStorage),
		latest:   make(map[memKey]LogRecord),
	}
}

func (mc *MemChannel) Push(e epoch.Epoch, recs []LogRecord) {
	mc.buf.push(e, recs)
}

func (mc *MemChannel) Flush(upTo epoch.Epoch) error {
	taken := mc.buf.take(upTo)
	mc.mu.Lock()
	for _, p := range taken {
		for _, r := range p.recs {
			k := memKey{storage: r.StorageID, key: string(r.Key)}
			if old, ok := mc.latest[k]; ok && r.WV.Less(old.WV) {
				continue
			}
			mc.latest[k] = r
		}
		mc.flushed += len(p.recs)
	}
	mc.mu.Unlock()
	for {
		old := mc.durable.Load()
		if uint64(upTo) <= old || mc.durable.CAS(old, uint64(upTo)) {
			return nil
		}
	}
}

func (mc *MemChannel) DurableEpoch() epoch.Epoch {
	return epoch.Epoch(mc.durable.Load())
}

// Flushed returns the number of records flushed so far.
func (mc *MemChannel) Flushed() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.flushed
}

// Pending returns the number of records waiting for a flush.
func (mc *MemChannel) Pending() int {
	return mc.buf.len()
}

func (mc *MemChannel) PutStorage(id storage.ID, name string, opts storage.Options) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.storages[id] = memStorage{name: name, opts: opts}
	return nil
}

func (mc *MemChannel) DropStorage(id storage.ID) error {
	mc.buf.dropStorage(id)
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.storages, id)
	for k := range mc.latest {
		if k.storage == id {
			delete(mc.latest, k)
		}
	}
	return nil
}

func (mc *MemChannel) Recover(fn func(LogRecord) error) (epoch.Epoch, error) {
	mc.mu.Lock()
	ids := make([]storage.ID, 0, len(mc.storages))
	for id := range mc.storages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []LogRecord
	for _, id := range ids {
		st := mc.storages[id]
		out = append(out, LogRecord{Op: OpCreateStorage, StorageID: id, Key: []byte(st.name), Value: st.opts.Payload})
	}
	var recs []LogRecord
	for k, r := range mc.latest {
		if _, ok := mc.storages[k.storage]; ok {
			recs = append(recs, r)
		}
	}
	mc.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].StorageID != recs[j].StorageID {
			return recs[i].StorageID < recs[j].StorageID
		}
		return bytes.Compare(recs[i].Key, recs[j].Key) < 0
	})
	out = append(out, recs...)
	for _, r := range out {
		if err := fn(r); err != nil {
			return 0, errors.Trace(err)
		}
	}
	return mc.DurableEpoch(), nil
}

func (mc *MemChannel) Close() error {
	return nil
}
