package transaction

import (
	"runtime"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
)

// Insert writes key if it does not exist.
func (e *Engine) Insert(t Token, id storage.ID, key, value []byte) status.Status {
	return e.write(t, id, key, value, mvcc.OpInsert)
}

// Update overwrites an existing key.
func (e *Engine) Update(t Token, id storage.ID, key, value []byte) status.Status {
	return e.write(t, id, key, value, mvcc.OpUpdate)
}

// Upsert writes key whether it exists or not.
func (e *Engine) Upsert(t Token, id storage.ID, key, value []byte) status.Status {
	return e.write(t, id, key, value, mvcc.OpUpsert)
}

// DeleteRecord deletes an existing key.
func (e *Engine) DeleteRecord(t Token, id storage.ID, key []byte) status.Status {
	return e.write(t, id, key, nil, mvcc.OpDelete)
}

func (e *Engine) write(t Token, id storage.ID, key, value []byte, op mvcc.OpType) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	defer s.Mu.Unlock()
	if st := e.prepare(s); st != status.OK {
		return st
	}
	stg, ok := e.storages.ByID(id)
	if !ok {
		return status.WarnStorageNotFound
	}
	if op.WritesValue() {
		value = append([]byte{}, value...)
	} else {
		value = nil
	}

	switch s.TxType {
	case session.ReadOnly:
		return e.fail(s, status.ErrWriteOnReadOnly, status.ReasonWriteOnReadOnly, stg, key)
	case session.Long:
		if !s.InWP(stg.ID) {
			return e.fail(s, status.ErrWriteWithoutWP, status.ReasonWriteWithoutWP, stg, key)
		}
	}
	return e.writeKey(s, stg, key, value, op)
}

// writeKey buffers a write. A key without a record gets an inserting placeholder linked into the index, which
// reserves the key until the transaction finishes.
func (e *Engine) writeKey(s *session.Session, stg *storage.Storage, key, value []byte, op mvcc.OpType) status.Status {
	for i := 0; ; i++ {
		if i > e.conf.SpinRetryLimit {
			return status.WarnConcurrentUpdate
		}
		rec, tag := stg.Index.Get(key)
		if rec == nil {
			if op == mvcc.OpUpdate || op == mvcc.OpDelete {
				if s.TxType == session.Short {
					s.NodeSet.Add(tag)
				}
				return status.WarnNotFound
			}
			ph := e.arena.NewAbsentRecord(uint64(stg.ID), key)
			existing, before, after := stg.Index.Put(key, ph)
			if existing != nil {
				e.arena.Retire(ph, e.clock.Global())
				continue
			}
			if s.TxType == session.Short {
				s.NodeSet.Advance(before, after)
			}
			s.WriteSet.Put(&session.WriteEntry{Rec: ph, Storage: stg, Op: op, Value: value, Linked: true})
			return status.OK
		}
		if rec.Tidw().LockByGC() {
			// The record is leaving the index.
			runtime.Gosched()
			continue
		}
		if we := s.WriteSet.Get(rec); we != nil {
			return e.coalesce(s, we, value, op)
		}
		if s.TxType == session.Short {
			return e.writeShort(s, stg, rec, value, op)
		}
		return e.writeLong(s, stg, rec, value, op)
	}
}

func (e *Engine) writeShort(s *session.Session, stg *storage.Storage, rec *mvcc.Record, value []byte, op mvcc.OpType) status.Status {
	w, ok := rec.StableTidw(e.conf.SpinRetryLimit)
	if !ok {
		return status.WarnConcurrentUpdate
	}
	switch {
	case w.Inserting():
		// The existence check is a read: the other insert committing invalidates it.
		s.ReadSet = append(s.ReadSet, session.ReadEntry{Rec: rec, Storage: stg, Observed: w})
		if op == mvcc.OpUpdate || op == mvcc.OpDelete {
			return status.WarnNotFound
		}
		return status.WarnConcurrentInsert
	case w.Absent():
		if op == mvcc.OpUpdate || op == mvcc.OpDelete {
			s.ReadSet = append(s.ReadSet, session.ReadEntry{Rec: rec, Storage: stg, Observed: w})
			return status.WarnNotFound
		}
	default:
		if op == mvcc.OpInsert {
			s.ReadSet = append(s.ReadSet, session.ReadEntry{Rec: rec, Storage: stg, Observed: w})
			return status.WarnAlreadyExists
		}
	}
	s.WriteSet.Put(&session.WriteEntry{Rec: rec, Storage: stg, Op: op, Value: value})
	return status.OK
}

// writeLong checks existence against the snapshot of the long transaction. The final check happens at commit.
func (e *Engine) writeLong(s *session.Session, stg *storage.Storage, rec *mvcc.Record, value []byte, op mvcc.OpType) status.Status {
	v := rec.VisibleVersion(e.ltxReadBound(s, stg))
	present := v != nil && !v.Tidw().Absent()
	switch op {
	case mvcc.OpInsert:
		if present {
			return status.WarnAlreadyExists
		}
	case mvcc.OpUpdate, mvcc.OpDelete:
		if !present {
			return status.WarnNotFound
		}
	}
	s.WriteSet.Put(&session.WriteEntry{Rec: rec, Storage: stg, Op: op, Value: value})
	return status.OK
}

// coalesce folds a write into the entry the transaction already has for the record.
func (e *Engine) coalesce(s *session.Session, we *session.WriteEntry, value []byte, op mvcc.OpType) status.Status {
	switch op {
	case mvcc.OpInsert:
		if we.Op != mvcc.OpDelete {
			return status.WarnAlreadyExists
		}
		we.Op, we.Value = mvcc.OpUpdate, value
	case mvcc.OpUpdate:
		if we.Op == mvcc.OpDelete {
			return status.WarnAlreadyDelete
		}
		we.Value = value
	case mvcc.OpUpsert:
		if we.Op == mvcc.OpDelete {
			we.Op = mvcc.OpUpdate
		}
		we.Value = value
	case mvcc.OpDelete:
		switch we.Op {
		case mvcc.OpDelete:
			return status.WarnAlreadyDelete
		case mvcc.OpInsert:
			e.dropEntry(s, we)
			return status.OK
		case mvcc.OpUpsert:
			if we.Linked || we.Rec.Tidw().Absent() {
				e.dropEntry(s, we)
				return status.OK
			}
		}
		we.Op, we.Value = mvcc.OpDelete, nil
		return status.OK
	}
	return status.WarnWriteToLocalWrite
}

// dropEntry forgets a write that created the key, cancelling the placeholder it linked.
func (e *Engine) dropEntry(s *session.Session, we *session.WriteEntry) {
	s.WriteSet.Remove(we.Rec)
	if we.Linked {
		e.cancelPlaceholder(we, s.TxType == session.Short)
	}
}

// cancelPlaceholder marks a placeholder this transaction linked as deleted. A short transaction also unlinks it at
// once; a long one leaves it to garbage collection. A placeholder somebody else has committed a version to is left
// alone.
func (e *Engine) cancelPlaceholder(we *session.WriteEntry, unhook bool) {
	rec := we.Rec
	if !rec.Lock() {
		return
	}
	w := rec.Tidw()
	if !w.Inserting() || rec.Latest() != nil {
		rec.Unlock()
		return
	}
	w = w.WithLatest(false)
	if !unhook {
		rec.SetTidw(w.WithLock(false))
		return
	}
	rec.SetTidw(w.WithLock(true).WithLockByGC(true))
	we.Storage.Index.Remove(rec.Key(), rec)
	e.arena.Retire(rec, e.clock.Global())
}
