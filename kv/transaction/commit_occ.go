package transaction

import (
	"github.com/pingcap-incubator/tinycc/kv/durability"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// commitShort runs the optimistic commit protocol:
//
//  1. publish the step epoch, then lock every written record in sequence order
//  2. load the commit epoch
//  3. fail if a long transaction preserves a written storage from an epoch not after the commit epoch
//  4. leave read-by marks for reads of preserved storages
//  5. validate the read set, then the node set
//  6. install the versions, unlock and push the log records
func (e *Engine) commitShort(s *session.Session) status.Status {
	entries := s.WriteSet.Sorted()
	// The step epoch must be visible before the commit epoch is loaded; the clock relies on it to hold the safe
	// snapshot back.
	s.SetStepEpoch(e.clock.Global())
	defer s.SetStepEpoch(0)

	for i, we := range entries {
		if !we.Rec.Lock() {
			unlockEntries(entries[:i])
			return e.fail(s, status.ErrCC, status.ReasonRecordReclaimed, we.Storage, we.Key())
		}
		w := we.Rec.Tidw()
		switch we.Op {
		case mvcc.OpUpdate, mvcc.OpDelete:
			if w.Absent() {
				unlockEntries(entries[:i+1])
				return e.fail(s, status.ErrWriteToDeletedRecord, status.ReasonOccDeletedRecord, we.Storage, we.Key())
			}
		case mvcc.OpInsert:
			if !w.Absent() {
				unlockEntries(entries[:i+1])
				return e.fail(s, status.ErrCC, status.ReasonOccInsertConflict, we.Storage, we.Key())
			}
		}
	}

	ce := e.clock.Global()

	for _, stg := range s.WriteSet.Storages() {
		meta, ok := e.wps.Lookup(stg.ID)
		if !ok {
			continue
		}
		if min, ok := meta.WP.FindMinEpoch(); ok && min <= ce {
			unlockEntries(entries)
			return e.fail(s, status.ErrCC, status.ReasonOccWPVerify, stg, nil)
		}
	}

	for _, re := range s.ReadSet {
		if meta, ok := e.wps.Lookup(re.Storage.ID); ok {
			if _, active := meta.WP.FindMinEpoch(); active {
				meta.ReadByOCC.Register(re.Rec.Key(), ce)
			}
		}
	}
	for _, rr := range s.RangeReads {
		if meta, ok := e.wps.Lookup(rr.Storage.ID); ok {
			if _, active := meta.WP.FindMinEpoch(); active {
				meta.ReadByOCC.RegisterRange(rr.Range, ce)
			}
		}
	}

	var maxTID uint32
	observe := func(w tid.Word) {
		if w.Epoch() == ce && w.TID() > maxTID {
			maxTID = w.TID()
		}
	}
	for _, re := range s.ReadSet {
		cur := re.Rec.Tidw()
		if cur.Lock() && s.WriteSet.Get(re.Rec) == nil {
			// A deleted record that was unlinked afterwards is still absent; the node set covers a new insert.
			if !(cur.LockByGC() && re.Observed.Deleted()) {
				unlockEntries(entries)
				return e.fail(s, status.ErrCC, status.ReasonOccReadVerify, re.Storage, re.Rec.Key())
			}
			continue
		}
		if !cur.SameVersion(re.Observed) {
			unlockEntries(entries)
			return e.fail(s, status.ErrCC, status.ReasonOccReadVerify, re.Storage, re.Rec.Key())
		}
		observe(re.Observed)
	}
	if s.NodeSet.Changed() {
		unlockEntries(entries)
		return e.fail(s, status.ErrPhantom, status.ReasonOccPhantom, nil, nil)
	}

	if len(entries) == 0 {
		e.finish(s, ce)
		return status.OK
	}
	for _, we := range entries {
		observe(we.Rec.Tidw())
	}
	if maxTID >= tid.MaxTID {
		log.Fatal("tid overflow in one epoch", zap.Uint64("epoch", uint64(ce)))
	}
	cw := tid.Word(0).WithEpoch(ce).WithTID(maxTID + 1).WithByShort(true)

	recs := make([]durability.LogRecord, 0, len(entries))
	for _, we := range entries {
		if we.Op == mvcc.OpDelete {
			tomb := cw.WithAbsent(true)
			we.Rec.PushVersion(mvcc.NewVersion(nil, tomb, 0))
			we.Rec.SetTidw(tomb)
		} else {
			we.Rec.PushVersion(mvcc.NewVersion(we.Value, cw, 0))
			we.Rec.SetTidw(cw.WithLatest(true))
		}
		recs = append(recs, logRecord(we, ce, cw.TID()))
	}
	e.logCh.Push(ce, recs)
	e.finish(s, ce)
	return status.OK
}

// rollbackShort unlinks the placeholders the transaction created. Record locks are never held outside a commit.
func (e *Engine) rollbackShort(s *session.Session) {
	for _, we := range s.WriteSet.Entries() {
		if we.Linked {
			e.cancelPlaceholder(we, true)
		}
	}
}
