package transaction

import (
	"time"

	"github.com/pingcap-incubator/tinycc/kv/durability"
	"github.com/pingcap-incubator/tinycc/kv/metrics"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// CommitParam tunes a synchronous commit and receives its epoch.
type CommitParam struct {
	// WaitForDurable makes Commit return only after the commit epoch is durable.
	WaitForDurable bool
	// CommitEpoch is set to the epoch the transaction was serialized in.
	CommitEpoch epoch.Epoch
}

// Commit tries to commit the running transaction. A long transaction that has to wait for higher priority ones
// returns WarnWaitingForOtherTx; its outcome is then available from CheckCommit. param may be nil.
func (e *Engine) Commit(t Token, param *CommitParam) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	st = e.commit(s)
	ce := s.CommitEpoch
	s.Mu.Unlock()

	if st == status.OK && param != nil {
		param.CommitEpoch = ce
		if param.WaitForDurable {
			e.waitDurable(ce)
		}
	}
	return st
}

// CommitAsync commits the running transaction and reports the outcome to cb. It returns true if cb was already
// called, false if the commit waits for other transactions and cb will be called by the background resolver.
func (e *Engine) CommitAsync(t Token, cb session.CommitCallback) bool {
	s, st := e.acquire(t)
	if st != status.OK {
		if cb != nil {
			cb(st, status.ReasonUnknown, 0)
		}
		return true
	}
	st = e.commit(s)
	if st == status.WarnWaitingForOtherTx {
		s.Pending = cb
		s.Mu.Unlock()
		return false
	}
	reason, ce := s.Result.Reason, s.CommitEpoch
	s.Mu.Unlock()
	if cb != nil {
		cb(st, reason, ce)
	}
	return true
}

// CheckCommit reports the outcome of the last commit of the session, retrying it if it is still waiting.
func (e *Engine) CheckCommit(t Token) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	switch s.State {
	case session.WaitingCCCommit:
		cb := s.Pending
		st = e.commitLong(s)
		if st == status.WarnWaitingForOtherTx || cb == nil {
			s.Mu.Unlock()
			return st
		}
		reason, ce := s.Result.Reason, s.CommitEpoch
		s.Mu.Unlock()
		cb(st, reason, ce)
		return st
	case session.CommittedNotDurable, session.Durable:
		s.Mu.Unlock()
		return status.OK
	case session.Aborted:
		st = s.Outcome
		s.Mu.Unlock()
		if st.IsError() {
			return st
		}
		return status.WarnNotBegin
	}
	s.Mu.Unlock()
	return status.WarnNotBegin
}

// Abort rolls back the running transaction. Aborting a session without a running transaction does nothing.
func (e *Engine) Abort(t Token) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	defer s.Mu.Unlock()
	if s.Began {
		e.abort(s, status.ReasonUserAbort)
	}
	return status.OK
}

// TxState reports the life cycle state of the last transaction of the session.
func (e *Engine) TxState(t Token) (session.TxState, status.Status) {
	s, st := e.acquire(t)
	if st != status.OK {
		return session.NotBegun, st
	}
	defer s.Mu.Unlock()
	if s.State == session.CommittedNotDurable && s.CommitEpoch <= e.logCh.DurableEpoch() {
		s.State = session.Durable
	}
	return s.State, status.OK
}

// ResultInfo explains why the last transaction of the session was aborted.
func (e *Engine) ResultInfo(t Token) (status.ResultInfo, status.Status) {
	s, st := e.acquire(t)
	if st != status.OK {
		return status.ResultInfo{}, st
	}
	defer s.Mu.Unlock()
	return s.Result, status.OK
}

func (e *Engine) commit(s *session.Session) status.Status {
	if s.State == session.WaitingCCCommit {
		return e.commitLong(s)
	}
	if !s.Began {
		return status.WarnNotBegin
	}
	switch s.TxType {
	case session.Short:
		return e.commitShort(s)
	case session.Long:
		if !e.ready(s) {
			return status.WarnPremature
		}
		return e.commitLong(s)
	}
	e.finish(s, 0)
	return status.OK
}

func (e *Engine) waitDurable(ce epoch.Epoch) {
	for e.logCh.DurableEpoch() < ce {
		if e.closed.Load() == 1 {
			return
		}
		time.Sleep(e.conf.EpochInterval.Duration)
	}
}

// finish ends a committed transaction.
func (e *Engine) finish(s *session.Session, ce epoch.Epoch) {
	if e.conf.MetricsEnabled {
		metrics.CommitCounter.WithLabelValues(s.TxType.String()).Inc()
		if s.TxType == session.Long {
			metrics.LtxWaitPolls.Observe(float64(s.CommitAttempts))
		}
	}
	s.CommitEpoch = ce
	s.State = session.CommittedNotDurable
	s.Outcome = status.OK
	s.Reset()
}

// fail aborts the transaction because of st and records the reason.
func (e *Engine) fail(s *session.Session, st status.Status, reason status.Reason, stg *storage.Storage, key []byte) status.Status {
	s.Result = status.ResultInfo{Reason: reason, Key: append([]byte(nil), key...)}
	if stg != nil {
		s.Result.StorageName = stg.Name
	}
	s.Outcome = st
	log.Debug("transaction aborted",
		zap.Uint32("token", s.Token()),
		zap.String("type", s.TxType.String()),
		zap.Stringer("status", st),
		zap.Stringer("reason", reason),
		log.Key("key", key))
	e.abort(s, reason)
	return st
}

// abort rolls back whatever the transaction left in shared state and clears the session.
func (e *Engine) abort(s *session.Session, reason status.Reason) {
	if !s.Began {
		return
	}
	// A commit still waiting for other transactions owes its callback an outcome. Commit failures are reported by
	// the commit path itself, which leaves the waiting state first.
	var pending session.CommitCallback
	if s.State == session.WaitingCCCommit {
		pending = s.Pending
	}
	switch s.TxType {
	case session.Short:
		e.rollbackShort(s)
	case session.Long:
		e.rollbackLong(s)
	}
	if s.Result.Reason == status.ReasonUnknown {
		s.Result.Reason = reason
	}
	if e.conf.MetricsEnabled {
		metrics.AbortCounter.WithLabelValues(s.TxType.String(), s.Result.Reason.String()).Inc()
	}
	s.State = session.Aborted
	s.Reset()
	if pending != nil {
		// The session lock is held here.
		go pending(status.WarnNotBegin, s.Result.Reason, 0)
	}
}

func unlockEntries(entries []*session.WriteEntry) {
	for _, we := range entries {
		we.Rec.Unlock()
	}
}

func logOp(op mvcc.OpType) durability.Op {
	switch op {
	case mvcc.OpInsert:
		return durability.OpInsert
	case mvcc.OpUpdate:
		return durability.OpUpdate
	case mvcc.OpUpsert:
		return durability.OpUpsert
	}
	return durability.OpDelete
}

func logRecord(we *session.WriteEntry, major epoch.Epoch, minor uint32) durability.LogRecord {
	return durability.LogRecord{
		Op:        logOp(we.Op),
		StorageID: we.Storage.ID,
		Key:       append([]byte(nil), we.Key()...),
		Value:     we.Value,
		WV:        durability.WriteVersion{Major: uint64(major), Minor: uint64(minor)},
	}
}
