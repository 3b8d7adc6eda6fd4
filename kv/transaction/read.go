package transaction

import (
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
)

// SearchKey reads the value of key. A value read back from the transaction's own write set comes with
// WarnReadFromOwnOperation. The returned slice must not be modified.
func (e *Engine) SearchKey(t Token, id storage.ID, key []byte) ([]byte, status.Status) {
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

	switch s.TxType {
	case session.Short:
		return e.searchShort(s, stg, key)
	case session.Long:
		if !s.Area.Allows(stg.ID) {
			return nil, e.fail(s, status.ErrReadAreaViolation, status.ReasonReadAreaViolation, stg, key)
		}
		return e.searchLong(s, stg, key)
	default:
		rec, _ := stg.Index.Get(key)
		if rec == nil {
			return nil, status.WarnNotFound
		}
		return e.readVersion(s, rec, s.ValidEpoch)
	}
}

func ownRead(we *session.WriteEntry) ([]byte, status.Status) {
	if we.Op == mvcc.OpDelete {
		return nil, status.WarnNotFound
	}
	return we.Value, status.WarnReadFromOwnOperation
}

func (e *Engine) searchShort(s *session.Session, stg *storage.Storage, key []byte) ([]byte, status.Status) {
	rec, tag := stg.Index.Get(key)
	if rec == nil {
		s.NodeSet.Add(tag)
		return nil, status.WarnNotFound
	}
	if we := s.WriteSet.Get(rec); we != nil {
		return ownRead(we)
	}
	v, st := e.readShort(s, stg, rec)
	if st == status.WarnNotFound {
		// The record may be unhooked by garbage collection; a later insert of the key moves the node.
		s.NodeSet.Add(tag)
	}
	return v, st
}

// readShort reads the current version of rec optimistically and remembers the header it saw.
func (e *Engine) readShort(s *session.Session, stg *storage.Storage, rec *mvcc.Record) ([]byte, status.Status) {
	w, ver, ok := rec.ReadOptimistic(e.conf.SpinRetryLimit)
	if !ok {
		if w.LockByGC() {
			return nil, status.WarnNotFound
		}
		return nil, status.WarnConcurrentUpdate
	}
	s.ReadSet = append(s.ReadSet, session.ReadEntry{Rec: rec, Storage: stg, Observed: w})
	if w.Inserting() {
		return nil, status.WarnConcurrentInsert
	}
	if w.Absent() || ver == nil {
		return nil, status.WarnNotFound
	}
	return ver.Value(), status.OK
}

func (e *Engine) searchLong(s *session.Session, stg *storage.Storage, key []byte) ([]byte, status.Status) {
	bound := e.ltxReadBound(s, stg)
	e.wps.Get(stg.ID).ReadByLTX.Register(s.LtxID, key)
	s.ReadStorages[stg.ID] = struct{}{}

	rec, _ := stg.Index.Get(key)
	if rec == nil {
		return nil, status.WarnNotFound
	}
	if we := s.WriteSet.Get(rec); we != nil {
		return ownRead(we)
	}
	return e.readVersion(s, rec, bound)
}

// readVersion reads the newest version of rec below bound.
func (e *Engine) readVersion(s *session.Session, rec *mvcc.Record, bound epoch.Epoch) ([]byte, status.Status) {
	v := rec.VisibleVersion(bound)
	if v == nil {
		return nil, status.WarnNotFound
	}
	if ve := v.Tidw().Epoch(); ve > s.ReadVersionMaxEpoch {
		s.ReadVersionMaxEpoch = ve
	}
	if v.Tidw().Absent() {
		return nil, status.WarnNotFound
	}
	return v.Value(), status.OK
}
