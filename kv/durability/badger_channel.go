package durability

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/util/codec"
	"github.com/pingcap-incubator/tinycc/log"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	dataPrefix    = []byte{'d'}
	storagePrefix = []byte{'s'}
	durableKey    = []byte("m_durable")
)

// A flush is split into badger transactions of at most maxEntriesPerTxn entries and maxBytesPerTxn bytes. The byte
// cap stays below badger's batch limit of 15% of the default 64MiB table size.
const (
	maxEntriesPerTxn = 1024
	maxBytesPerTxn   = 8 << 20
)

func entrySize(e *badger.Entry) int {
	// Meta bytes and the version suffix badger appends to the key.
	return len(e.Key) + len(e.Value) + 12
}

func dataKey(r *LogRecord) []byte {
	return append(append([]byte(nil), dataPrefix...),
		codec.EncodeLogKey(uint64(r.StorageID), r.Key, r.WV.Major, r.WV.Minor)...)
}

func storageKey(id storage.ID) []byte {
	return append(append([]byte(nil), storagePrefix...), codec.StoragePrefix(uint64(id))...)
}

func encodeStorage(name string, opts storage.Options) []byte {
	buf := make([]byte, binary.MaxVarintLen64, binary.MaxVarintLen64+len(name)+len(opts.Payload))
	n := binary.PutUvarint(buf, uint64(len(name)))
	buf = append(buf[:n], name...)
	return append(buf, opts.Payload...)
}

func decodeStorage(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < l {
		return "", nil, errors.New("invalid storage definition")
	}
	return string(b[n : n+int(l)]), append([]byte(nil), b[n+int(l):]...), nil
}

// BadgerConfig configures a BadgerChannel.
type BadgerConfig struct {
	Dir         string
	SyncWrites  bool
	BytesPerSec int
	Compress    bool
}

// BadgerChannel persists log records into a badger database. Every version of a key is kept under its own key so
// that recovery can pick the newest durable one.
type BadgerChannel struct {
	buf      *buffer
	// flushMu orders flushes against each other and against DropStorage.
	flushMu  sync.Mutex
	db       *badger.DB
	durable  atomic.Uint64
	limiter  *rate.Limiter
	compress bool
}

func OpenBadgerChannel(conf BadgerConfig) (*BadgerChannel, error) {
	opts := badger.DefaultOptions
	opts.Dir = conf.Dir
	opts.ValueDir = conf.Dir
	opts.SyncWrites = conf.SyncWrites
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open log channel in %s", conf.Dir)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if conf.BytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(conf.BytesPerSec), conf.BytesPerSec)
	}
	bc := &BadgerChannel{
		buf:      newBuffer(),
		db:       db,
		limiter:  limiter,
		compress: conf.Compress,
	}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(durableKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		v, err := item.Value()
		if err != nil {
			return errors.Trace(err)
		}
		if len(v) != 8 {
			return errors.Errorf("invalid durable epoch value %x", v)
		}
		bc.durable.Store(binary.BigEndian.Uint64(v))
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	return bc, nil
}

func (bc *BadgerChannel) Push(e epoch.Epoch, recs []LogRecord) {
	bc.buf.push(e, recs)
}

// throttle blocks until the limiter grants n bytes. Requests above the burst are split.
func (bc *BadgerChannel) throttle(n int) {
	if bc.limiter.Limit() == rate.Inf {
		return
	}
	burst := bc.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := bc.limiter.WaitN(context.Background(), chunk); err != nil {
			log.Warn("log flush throttle failed", zap.Error(err))
			return
		}
		n -= chunk
	}
}

// Flush writes the buffered records up to upTo and then the durable marker. The marker goes into the last badger
// transaction, so records of a partly written flush sit above the durable epoch and Recover ignores them. On failure
// the records go back into the buffer and the durable epoch stays where it was.
func (bc *BadgerChannel) Flush(upTo epoch.Epoch) error {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()
	if upTo <= bc.DurableEpoch() && bc.buf.len() == 0 {
		return nil
	}
	taken := bc.buf.take(upTo)
	var entries []*badger.Entry
	size := 0
	for _, p := range taken {
		for i := range p.recs {
			r := &p.recs[i]
			e := &badger.Entry{Key: dataKey(r), Value: encodeValue(r.Op, r.Value, bc.compress)}
			size += len(e.Key) + len(e.Value)
			entries = append(entries, e)
		}
	}
	durable := upTo
	if cur := bc.DurableEpoch(); cur > durable {
		durable = cur
	}
	var dv [8]byte
	binary.BigEndian.PutUint64(dv[:], uint64(durable))
	entries = append(entries, &badger.Entry{Key: durableKey, Value: dv[:]})
	bc.throttle(size)

	if err := bc.writeEntries(entries); err != nil {
		bc.buf.restore(taken)
		return errors.Annotatef(err, "flush log up to epoch %d", upTo)
	}
	bc.durable.Store(uint64(durable))
	return nil
}

// writeEntries writes entries in order, one badger transaction per batch. A batch badger rejects as too big is
// halved and retried; a single entry it rejects fails the write.
func (bc *BadgerChannel) writeEntries(entries []*badger.Entry) error {
	for len(entries) > 0 {
		n, size := 0, 0
		for n < len(entries) && n < maxEntriesPerTxn {
			s := entrySize(entries[n])
			if n > 0 && size+s > maxBytesPerTxn {
				break
			}
			size += s
			n++
		}
		for {
			batch := entries[:n]
			err := bc.db.Update(func(txn *badger.Txn) error {
				for _, e := range batch {
					if err := txn.SetEntry(e); err != nil {
						return errors.Trace(err)
					}
				}
				return nil
			})
			if err == nil {
				break
			}
			if errors.Cause(err) == badger.ErrTxnTooBig && n > 1 {
				n /= 2
				continue
			}
			return err
		}
		entries = entries[n:]
	}
	return nil
}

func (bc *BadgerChannel) DurableEpoch() epoch.Epoch {
	return epoch.Epoch(bc.durable.Load())
}

func (bc *BadgerChannel) PutStorage(id storage.ID, name string, opts storage.Options) error {
	err := bc.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(&badger.Entry{Key: storageKey(id), Value: encodeStorage(name, opts)})
	})
	return errors.Annotatef(err, "put storage %s", name)
}

// DropStorage removes the storage definition and every record of the storage.
func (bc *BadgerChannel) DropStorage(id storage.ID) error {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()
	bc.buf.dropStorage(id)
	prefix := append(append([]byte(nil), dataPrefix...), codec.StoragePrefix(uint64(id))...)
	var keys [][]byte
	err := bc.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	keys = append(keys, storageKey(id))
	for len(keys) > 0 {
		n := len(keys)
		if n > maxEntriesPerTxn {
			n = maxEntriesPerTxn
		}
		batch := keys[:n]
		err = bc.db.Update(func(txn *badger.Txn) error {
			for _, k := range batch {
				if err := txn.Delete(k); err != nil {
					return errors.Trace(err)
				}
			}
			return nil
		})
		if err != nil {
			return errors.Annotatef(err, "drop storage %d", id)
		}
		keys = keys[n:]
	}
	return nil
}

// Recover replays the newest record of every key among those at or below the durable epoch.
func (bc *BadgerChannel) Recover(fn func(LogRecord) error) (epoch.Epoch, error) {
	durable := uint64(bc.DurableEpoch())
	live := make(map[storage.ID]struct{})
	var defs []LogRecord
	var recs []LogRecord
	err := bc.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(storagePrefix); it.ValidForPrefix(storagePrefix); it.Next() {
			item := it.Item()
			k := item.Key()
			if len(k) != len(storagePrefix)+8 {
				return errors.Errorf("invalid storage key %x", k)
			}
			id := storage.ID(binary.BigEndian.Uint64(k[len(storagePrefix):]))
			v, err := item.Value()
			if err != nil {
				return errors.Trace(err)
			}
			name, opts, err := decodeStorage(v)
			if err != nil {
				return errors.Trace(err)
			}
			live[id] = struct{}{}
			defs = append(defs, LogRecord{Op: OpCreateStorage, StorageID: id, Key: []byte(name), Value: opts})
		}

		var last *LogRecord
		for it.Seek(dataPrefix); it.ValidForPrefix(dataPrefix); it.Next() {
			item := it.Item()
			sid, key, major, minor, err := codec.DecodeLogKey(item.Key()[len(dataPrefix):])
			if err != nil {
				return errors.Annotatef(err, "decode log key %x", item.Key())
			}
			if _, ok := live[storage.ID(sid)]; !ok || major > durable {
				continue
			}
			v, err := item.Value()
			if err != nil {
				return errors.Trace(err)
			}
			op, value, err := decodeValue(v)
			if err != nil {
				return errors.Trace(err)
			}
			r := LogRecord{Op: op, StorageID: storage.ID(sid), Key: key, Value: value,
				WV: WriteVersion{Major: major, Minor: minor}}
			if last != nil && (last.StorageID != r.StorageID || !bytes.Equal(last.Key, r.Key)) {
				recs = append(recs, *last)
			}
			last = &r
		}
		if last != nil {
			recs = append(recs, *last)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Annotate(err, "recover log channel")
	}
	for _, r := range append(defs, recs...) {
		if err := fn(r); err != nil {
			return 0, errors.Trace(err)
		}
	}
	return epoch.Epoch(durable), nil
}

func (bc *BadgerChannel) Close() error {
	return errors.Trace(bc.db.Close())
}
