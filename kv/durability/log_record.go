// Package durability implements the log channel that makes committed writes survive a restart.
//
// Commits push log records tagged with the epoch they were committed in. A record is buffered until a flush covers
// its epoch; after that the channel reports the flushed epoch as durable. The engine only flushes epochs that no
// in-flight commit can still stamp, so every epoch up to the durable epoch is complete on disk.
package durability

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap/errors"
)

// Op is the operation of a log record.
type Op byte

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpUpsert
	OpDelete
	// OpCreateStorage and OpDeleteStorage are emitted by Recover only. Key holds the storage name and Value its
	// options.
	OpCreateStorage
	OpDeleteStorage
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	case OpCreateStorage:
		return "create_storage"
	case OpDeleteStorage:
		return "delete_storage"
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// WriteVersion orders the writes of one key. Major is the commit epoch. Minor is the per epoch tid of a short
// transaction, or 0 for a long transaction, which owns its whole epoch for the keys it writes.
type WriteVersion struct {
	Major uint64
	Minor uint64
}

func (wv WriteVersion) Less(o WriteVersion) bool {
	if wv.Major != o.Major {
		return wv.Major < o.Major
	}
	return wv.Minor < o.Minor
}

type LogRecord struct {
	Op        Op
	StorageID storage.ID
	Key       []byte
	Value     []byte
	WV        WriteVersion
}

// Channel is the log channel consumed by the engine.
type Channel interface {
	// Push buffers the records of one commit stamped with e.
	Push(e epoch.Epoch, recs []LogRecord)
	// Flush persists every buffered record with an epoch up to upTo and marks upTo durable.
	Flush(upTo epoch.Epoch) error
	DurableEpoch() epoch.Epoch
	// PutStorage and DropStorage persist storage definitions right away.
	PutStorage(id storage.ID, name string, opts storage.Options) error
	DropStorage(id storage.ID) error
	// Recover calls fn with every storage definition, then with the newest durable record of every key, ordered
	// by storage and key. It returns the durable epoch.
	Recover(fn func(LogRecord) error) (epoch.Epoch, error)
	Close() error
}

// buffer holds pushed records until they are flushed.
type buffer struct {
	mu      sync.Mutex
	pending map[epoch.Epoch][]LogRecord
}

func newBuffer() *buffer {
	return &buffer{pending: make(map[epoch.Epoch][]LogRecord)}
}

func (b *buffer) push(e epoch.Epoch, recs []LogRecord) {
	if len(recs) == 0 {
		return
	}
	b.mu.Lock()
	b.pending[e] = append(b.pending[e], recs...)
	b.mu.Unlock()
}

type pendingEpoch struct {
	e    epoch.Epoch
	recs []LogRecord
}

// take removes and returns the records up to upTo, ordered by epoch.
func (b *buffer) take(upTo epoch.Epoch) []pendingEpoch {
	b.mu.Lock()
	var out []pendingEpoch
	for e, recs := range b.pending {
		if e <= upTo {
			out = append(out, pendingEpoch{e: e, recs: recs})
			delete(b.pending, e)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].e < out[j].e })
	return out
}

// restore puts back the result of a failed take. Records pushed since then stay behind the restored ones.
func (b *buffer) restore(taken []pendingEpoch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range taken {
		if pushed := b.pending[p.e]; len(pushed) > 0 {
			p.recs = append(p.recs, pushed...)
		}
		b.pending[p.e] = p.recs
	}
}

// dropStorage forgets the pending records of a dropped storage.
func (b *buffer) dropStorage(id storage.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e, recs := range b.pending {
		kept := recs[:0]
		for _, r := range recs {
			if r.StorageID != id {
				kept = append(kept, r)
			}
		}
		b.pending[e] = kept
	}
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, recs := range b.pending {
		n += len(recs)
	}
	return n
}

const (
	codecNone byte = 0
	codecLZ4  byte = 1
)

// encodeValue lays out a persisted record value as [op][codec][payload]. The lz4 payload is prefixed with the
// uvarint raw length and is only used when it saves space.
func encodeValue(op Op, value []byte, compress bool) []byte {
	if compress && len(value) > 0 {
		bound := lz4.CompressBlockBound(len(value))
		buf := make([]byte, 2+binary.MaxVarintLen64+bound)
		buf[0], buf[1] = byte(op), codecLZ4
		n := binary.PutUvarint(buf[2:], uint64(len(value)))
		c, err := lz4.CompressBlock(value, buf[2+n:], nil)
		if err == nil && c > 0 && 2+n+c < 2+len(value) {
			return buf[:2+n+c]
		}
	}
	buf := make([]byte, 2+len(value))
	buf[0], buf[1] = byte(op), codecNone
	copy(buf[2:], value)
	return buf
}

func decodeValue(b []byte) (Op, []byte, error) {
	if len(b) < 2 {
		return 0, nil, errors.Errorf("log value too short: %d bytes", len(b))
	}
	op := Op(b[0])
	switch b[1] {
	case codecNone:
		return op, append([]byte(nil), b[2:]...), nil
	case codecLZ4:
		raw, n := binary.Uvarint(b[2:])
		if n <= 0 {
			return 0, nil, errors.New("invalid lz4 length prefix")
		}
		out := make([]byte, raw)
		m, err := lz4.UncompressBlock(b[2+n:], out)
		if err != nil {
			return 0, nil, errors.Annotate(err, "lz4 uncompress")
		}
		if uint64(m) != raw {
			return 0, nil, errors.Errorf("lz4 size mismatch: want %d got %d", raw, m)
		}
		return op, out, nil
	}
	return 0, nil, errors.Errorf("unknown log value codec %d", b[1])
}
