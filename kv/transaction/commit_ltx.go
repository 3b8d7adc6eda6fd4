package transaction

import (
	"github.com/pingcap-incubator/tinycc/kv/durability"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
	"github.com/pingcap-incubator/tinycc/kv/transaction/wp"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// waitSet returns the long transactions that must be decided before s may commit: the ones it overtook and the
// higher priority ones preserving a storage it writes.
func (e *Engine) waitSet(s *session.Session, written []*storage.Storage) []uint64 {
	self := wp.Entry{Epoch: s.ValidEpoch, ID: s.LtxID}
	ids := s.Overtaken.ToArray()
	for _, stg := range written {
		if meta, ok := e.wps.Lookup(stg.ID); ok {
			for _, h := range meta.WP.HigherPriority(self) {
				ids = append(ids, h.ID)
			}
		}
	}
	return ids
}

// commitLong runs the long transaction commit protocol. Versions are stamped with the valid epoch, so the checks
// are about what happened below it: overtaken transactions that read our keys, short transactions that read our keys
// at or after the valid epoch, and other long transactions' writes to the same keys.
func (e *Engine) commitLong(s *session.Session) status.Status {
	s.CommitAttempts++
	written := s.WriteSet.Storages()
	if s.WriteSet.Len() > 0 {
		for _, id := range e.waitSet(s, written) {
			if e.ongoing.Decision(id) == wp.Undecided {
				s.State = session.WaitingCCCommit
				return status.WarnWaitingForOtherTx
			}
		}
	}
	s.State = session.Started

	// Committed overtaken transactions are serialized after us; they must not have read what we write.
	for _, id := range s.Overtaken.ToArray() {
		if e.ongoing.Decision(id) != wp.Committed {
			continue
		}
		for _, we := range s.WriteSet.Entries() {
			if meta, ok := e.wps.Lookup(we.Storage.ID); ok && meta.ReadByLTX.Covers(id, we.Key()) {
				return e.fail(s, status.ErrValidation, status.ReasonLtxReadUpperBound, we.Storage, we.Key())
			}
		}
	}

	entries := s.WriteSet.Sorted()
	for i, we := range entries {
		if !we.Rec.Lock() {
			unlockEntries(entries[:i])
			return e.fail(s, status.ErrCC, status.ReasonRecordReclaimed, we.Storage, we.Key())
		}
	}
	for _, we := range entries {
		if st, reason := e.checkLtxWrite(s, we); st != status.OK {
			unlockEntries(entries)
			return e.fail(s, st, reason, we.Storage, we.Key())
		}
	}

	recs := make([]durability.LogRecord, 0, len(entries))
	for _, we := range entries {
		vw := tid.Word(0).WithEpoch(s.ValidEpoch)
		if we.Op == mvcc.OpDelete {
			vw = vw.WithAbsent(true)
		}
		if we.Rec.SpliceVersion(mvcc.NewVersion(we.Value, vw, s.LtxID)) {
			we.Rec.SetTidw(vw.WithLatest(we.Op != mvcc.OpDelete))
		} else {
			we.Rec.Unlock()
		}
		recs = append(recs, logRecord(we, s.ValidEpoch, 0))
	}
	if len(recs) > 0 {
		e.logCh.Push(s.ValidEpoch, recs)
	}

	self := wp.Entry{Epoch: s.ValidEpoch, ID: s.LtxID}
	for _, stg := range written {
		e.wps.Get(stg.ID).WP.PushResult(self)
	}
	for _, id := range s.WP {
		if meta, ok := e.wps.Lookup(id); ok {
			meta.WP.Remove(s.LtxID)
		}
	}
	e.ongoing.Finish(s.LtxID, wp.Committed, e.ltxIDs.Inc())
	log.Debug("long transaction committed",
		zap.Uint64("ltx-id", s.LtxID),
		zap.Uint64("epoch", uint64(s.ValidEpoch)),
		zap.Int("writes", len(entries)),
		zap.Int("attempts", s.CommitAttempts))
	e.finish(s, s.ValidEpoch)
	return status.OK
}

// checkLtxWrite validates one locked write target.
func (e *Engine) checkLtxWrite(s *session.Session, we *session.WriteEntry) (status.Status, status.Reason) {
	meta := e.wps.Get(we.Storage.ID)
	if meta.ReadByOCC.MaxEpoch(we.Key()) >= s.ValidEpoch {
		return status.ErrCC, status.ReasonLtxReadByOcc
	}
	if v := we.Rec.FindVersion(s.ValidEpoch); v != nil && v.LtxID() != s.LtxID {
		// Same epoch: the transaction that committed first has the lower id, otherwise it would have been waited for.
		return status.ErrCC, status.ReasonLtxWriteConflict
	}
	for _, v := range we.Rec.Versions() {
		if id := v.LtxID(); id != 0 && s.Overtaken.Contains(id) {
			return status.ErrCC, status.ReasonLtxWriteConflict
		}
	}
	prev := we.Rec.VisibleVersion(s.ValidEpoch)
	present := prev != nil && !prev.Tidw().Absent()
	switch we.Op {
	case mvcc.OpInsert:
		if present {
			return status.ErrCC, status.ReasonLtxInsertConflict
		}
	case mvcc.OpUpdate, mvcc.OpDelete:
		if !present {
			return status.ErrWriteToDeletedRecord, status.ReasonLtxDeletedRecord
		}
	}
	return status.OK, status.ReasonUnknown
}

// rollbackLong cancels the placeholders of the transaction and withdraws it from the shared bookkeeping.
func (e *Engine) rollbackLong(s *session.Session) {
	for _, we := range s.WriteSet.Entries() {
		if we.Linked {
			e.cancelPlaceholder(we, false)
		}
	}
	for _, id := range s.WP {
		if meta, ok := e.wps.Lookup(id); ok {
			meta.WP.Remove(s.LtxID)
		}
	}
	for id := range s.ReadStorages {
		if meta, ok := e.wps.Lookup(id); ok {
			meta.ReadByLTX.Drop(s.LtxID)
		}
	}
	e.ongoing.Finish(s.LtxID, wp.Aborted, e.ltxIDs.Inc())
}
