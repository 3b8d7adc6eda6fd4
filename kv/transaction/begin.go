package transaction

import (
	"github.com/pingcap-incubator/tinycc/kv/metrics"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/kv/transaction/wp"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// TxOptions selects the class of a transaction. WritePreserve and ReadArea only apply to long transactions.
type TxOptions struct {
	Type          session.TxType
	WritePreserve []storage.ID
	ReadArea      session.ReadArea
}

// TxBegin starts a transaction on the session. Operations on a session without a running transaction start a short
// one implicitly.
func (e *Engine) TxBegin(t Token, opts TxOptions) status.Status {
	s, st := e.acquire(t)
	if st != status.OK {
		return st
	}
	defer s.Mu.Unlock()
	if s.Began {
		return status.WarnAlreadyBegin
	}
	switch opts.Type {
	case session.Short:
		e.beginShort(s)
		return status.OK
	case session.Long:
		return e.beginLong(s, opts)
	case session.ReadOnly:
		e.beginReadOnly(s)
		return status.OK
	}
	return status.WarnInvalidArgs
}

// acquire resolves t and locks its session. The caller unlocks s.Mu.
func (e *Engine) acquire(t Token) (*session.Session, status.Status) {
	s := e.session(t)
	if s == nil {
		return nil, status.ErrInvalidToken
	}
	s.Mu.Lock()
	return s, status.OK
}

// prepare starts a short transaction if none is running and checks that the running one may operate now.
func (e *Engine) prepare(s *session.Session) status.Status {
	if !s.Began {
		e.beginShort(s)
		return status.OK
	}
	if s.State == session.WaitingCCCommit {
		return status.WarnWaitingForOtherTx
	}
	if s.TxType != session.Short && !e.ready(s) {
		return status.WarnPremature
	}
	return status.OK
}

// ready reports whether a long or read only transaction reached its valid epoch, i.e. every commit that could stamp
// a version below it has finished.
func (e *Engine) ready(s *session.Session) bool {
	if s.State == session.Started {
		return true
	}
	if e.clock.SafeSnapshot() < s.ValidEpoch {
		if e.conf.MetricsEnabled {
			metrics.PrematureCounter.Inc()
		}
		return false
	}
	s.State = session.Started
	return true
}

func (e *Engine) startTx(s *session.Session, typ session.TxType) {
	s.Reset()
	s.TxType = typ
	s.Began = true
	s.State = session.Started
	s.Outcome = status.OK
	s.Result = status.ResultInfo{}
	s.CommitEpoch = 0
}

func (e *Engine) beginShort(s *session.Session) {
	e.startTx(s, session.Short)
	s.SetActiveEpoch(e.clock.Global())
}

func (e *Engine) beginLong(s *session.Session, opts TxOptions) status.Status {
	for _, id := range opts.WritePreserve {
		if _, ok := e.storages.ByID(id); !ok {
			return status.WarnStorageNotFound
		}
	}
	e.startTx(s, session.Long)
	s.SetWP(opts.WritePreserve)
	s.Area = opts.ReadArea

	// The epoch is frozen so that the valid epoch, the registrations and the published read epoch are consistent
	// for concurrent begins and for garbage collection.
	e.clock.Lock()
	g := e.clock.Global()
	s.ValidEpoch = g + 1
	s.LtxID = e.ltxIDs.Inc()
	read := s.ValidEpoch
	if m, ok := e.ongoing.MinEpoch(); ok && m < read {
		read = m
	}
	entry := wp.Entry{Epoch: s.ValidEpoch, ID: s.LtxID}
	e.ongoing.Register(entry)
	for _, id := range s.WP {
		e.wps.Get(id).WP.Register(entry)
	}
	s.SetActiveEpoch(g)
	s.SetReadEpoch(read)
	e.clock.Unlock()

	s.State = session.WaitingStart
	log.Debug("begin long transaction",
		zap.Uint32("token", s.Token()),
		zap.Uint64("ltx-id", s.LtxID),
		zap.Uint64("valid-epoch", uint64(s.ValidEpoch)),
		zap.Int("write-preserve", len(s.WP)))
	return status.OK
}

func (e *Engine) beginReadOnly(s *session.Session) {
	e.startTx(s, session.ReadOnly)
	e.clock.Lock()
	g := e.clock.Global()
	valid := g + 1
	if m, ok := e.ongoing.MinEpoch(); ok && m < valid {
		valid = m
	}
	s.ValidEpoch = valid
	s.SetActiveEpoch(g)
	s.SetReadEpoch(valid)
	e.clock.Unlock()
	s.State = session.WaitingStart
}

// ltxReadBound returns the exclusive epoch bound of a long transaction's reads of stg. A reader overtakes the higher
// priority transactions that preserve stg and the ones that committed to stg in a window it cannot see, and must not
// see the writes of anybody it overtook.
func (e *Engine) ltxReadBound(s *session.Session, stg *storage.Storage) epoch.Epoch {
	bound := s.ValidEpoch
	meta, ok := e.wps.Lookup(stg.ID)
	if !ok {
		return bound
	}
	self := wp.Entry{Epoch: s.ValidEpoch, ID: s.LtxID}
	for _, h := range meta.WP.HigherPriority(self) {
		s.Overtaken.Add(h.ID)
		if h.Epoch < bound {
			bound = h.Epoch
		}
	}
	for _, r := range meta.WP.Results() {
		if r.ID == s.LtxID {
			continue
		}
		if r.Epoch >= s.ValidEpoch {
			s.Overtaken.Add(r.ID)
			continue
		}
		if s.Overtaken.Contains(r.ID) && r.Epoch < bound {
			bound = r.Epoch
		}
	}
	return bound
}
