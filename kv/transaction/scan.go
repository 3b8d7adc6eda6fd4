package transaction

import (
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// scanSlack is how many records a capped scan takes from the index beyond its cap, for entries that turn out
// invisible.
const scanSlack = 8

// ScanRange bounds a scan.
type ScanRange struct {
	Left     []byte
	LeftEnd  storage.Endpoint
	Right    []byte
	RightEnd storage.Endpoint
	// MaxSize caps the number of entries, 0 means no cap.
	MaxSize int
	// Reverse walks from the right end. Only read only transactions may use it, with MaxSize 1 and an unbounded
	// right end.
	Reverse bool
}

func (sr ScanRange) storageRange() storage.Range {
	return storage.Range{Left: sr.Left, LeftEnd: sr.LeftEnd, Right: sr.Right, RightEnd: sr.RightEnd}
}

// KV is one entry returned by ScanKey.
type KV struct {
	Key   []byte
	Value []byte
}

// OpenScan materializes the entries of sr visible to the transaction and returns a handle positioned on the first.
func (e *Engine) OpenScan(t Token, id storage.ID, sr ScanRange) (session.ScanHandle, status.Status) {
	s, st := e.acquire(t)
	if st != status.OK {
		return 0, st
	}
	defer s.Mu.Unlock()
	if st := e.prepare(s); st != status.OK {
		return 0, st
	}
	stg, ok := e.storages.ByID(id)
	if !ok {
		return 0, status.WarnStorageNotFound
	}
	items, st := e.collect(s, stg, sr)
	if st != status.OK {
		return 0, st
	}
	if len(items) == 0 {
		return 0, status.WarnNotFound
	}
	return s.Scans.Open(&session.ScanCursor{Storage: stg, Range: sr.storageRange(), Items: items}), status.OK
}

// ReadFromScan returns the entry under the cursor.
func (e *Engine) ReadFromScan(t Token, h session.ScanHandle) (key, value []byte, st status.Status) {
	s, st := e.acquire(t)
	if st != status.OK {
		return nil, nil, st
	}
	defer s.Mu.Unlock()
	c, ok := s.Scans.Get(h)
	if !ok {
		return nil, nil, status.WarnInvalidHandle
	}
	item, ok := c.Current()
	if !ok {
		return nil, nil, status.WarnScanLimit
	}
	key = append([]byte(nil), item.Rec.Key()...)
	if item.Own {
		return key, item.Value, status.WarnReadFromOwnOperation
	}
	return key, item.Value, status.OK
}

// NextScan advances the cursor. It returns WarnScanLimit once the cursor moved past the last entry.
func (e *Engine) NextScan(t Token, h session.ScanHandle) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	defer s.Mu.Unlock()
	c, ok := s.Scans.Get(h)
	if !ok {
		return status.WarnInvalidHandle
	}
	if !c.Next() {
		return status.WarnScanLimit
	}
	return status.OK
}

func (e *Engine) CloseScan(t Token, h session.ScanHandle) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	defer s.Mu.Unlock()
	if !s.Scans.Close(h) {
		return status.WarnInvalidHandle
	}
	return status.OK
}

// ScanKey returns every entry of sr visible to the transaction.
func (e *Engine) ScanKey(t Token, id storage.ID, sr ScanRange) ([]KV, status.Status) {
	s, st := e.acquire(t)
	if st != status.OK {
		return nil, st
	}
	defer s.Mu.Unlock()
	if st := e.prepare(s); st != status.OK {
		return nil, st
	}
	stg, ok := e.storages.ByID(id)
	if !ok {
		return nil, status.WarnStorageNotFound
	}
	items, st := e.collect(s, stg, sr)
	if st != status.OK {
		return nil, st
	}
	if len(items) == 0 {
		return nil, status.WarnNotFound
	}
	kvs := make([]KV, 0, len(items))
	for _, it := range items {
		kvs = append(kvs, KV{Key: append([]byte(nil), it.Rec.Key()...), Value: it.Value})
	}
	return kvs, status.OK
}

// collect reads the entries of sr with the visibility rule of the transaction type.
func (e *Engine) collect(s *session.Session, stg *storage.Storage, sr ScanRange) ([]session.ScanItem, status.Status) {
	if sr.Reverse && (s.TxType != session.ReadOnly || sr.MaxSize != 1 || sr.RightEnd != storage.Inf) {
		log.Error("reverse scan needs a read only transaction, max size 1 and an unbounded right end",
			zap.Uint32("token", s.Token()),
			zap.String("type", s.TxType.String()),
			zap.Int("max-size", sr.MaxSize))
		return nil, status.ErrFatal
	}
	r := sr.storageRange()
	var items []session.ScanItem
	more := func() bool {
		return sr.MaxSize <= 0 || len(items) < sr.MaxSize
	}
	own := func(rec *mvcc.Record) bool {
		we := s.WriteSet.Get(rec)
		if we != nil && we.Op != mvcc.OpDelete {
			items = append(items, session.ScanItem{Rec: rec, Value: we.Value, Own: true})
		}
		return we != nil
	}

	st := status.OK
	var visit func(rec *mvcc.Record) bool
	switch s.TxType {
	case session.Short:
		s.RangeReads = append(s.RangeReads, session.RangeRead{Storage: stg, Range: r})
		visit = func(rec *mvcc.Record) bool {
			if own(rec) {
				return more()
			}
			v, rst := e.readShort(s, stg, rec)
			switch rst {
			case status.OK:
				items = append(items, session.ScanItem{Rec: rec, Value: v})
			case status.WarnConcurrentUpdate:
				st = rst
				return false
			}
			return more()
		}

	case session.Long:
		if !s.Area.Allows(stg.ID) {
			return nil, e.fail(s, status.ErrReadAreaViolation, status.ReasonReadAreaViolation, stg, sr.Left)
		}
		bound := e.ltxReadBound(s, stg)
		e.wps.Get(stg.ID).ReadByLTX.RegisterRange(s.LtxID, r)
		s.ReadStorages[stg.ID] = struct{}{}
		visit = func(rec *mvcc.Record) bool {
			if own(rec) {
				return more()
			}
			if v, rst := e.readVersion(s, rec, bound); rst == status.OK {
				items = append(items, session.ScanItem{Rec: rec, Value: v})
			}
			return more()
		}

	default:
		visit = func(rec *mvcc.Record) bool {
			if v, rst := e.readVersion(s, rec, s.ValidEpoch); rst == status.OK {
				items = append(items, session.ScanItem{Rec: rec, Value: v})
			}
			return more()
		}
	}

	// A capped scan stops taking records from the index once it has enough entries. The node tags still cover the
	// whole range.
	var tags []storage.NodeTag
	if sr.MaxSize > 0 {
		tags = stg.Index.ScanBatched(r, sr.Reverse, sr.MaxSize+scanSlack, visit)
	} else {
		recs, t := stg.Index.ScanAll(r)
		tags = t
		for _, rec := range recs {
			if !visit(rec) {
				break
			}
		}
	}
	if s.TxType == session.Short {
		s.NodeSet.Add(tags...)
	}
	if st != status.OK {
		return nil, st
	}
	return items, status.OK
}
