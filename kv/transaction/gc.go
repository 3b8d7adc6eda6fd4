package transaction

import (
	"context"
	"time"

	"github.com/pingcap-incubator/tinycc/kv/metrics"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/kv/transaction/wp"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// gcStats is the outcome of one garbage collection round.
type gcStats struct {
	versions  int
	unhooked  int
	reclaimed int
	ltxInfo   int
}

func (e *Engine) runGC(ctx context.Context) error {
	ticker := time.NewTicker(e.conf.GCInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.collectGarbage()
		}
	}
}

// gcEpochs returns the smallest epoch any reader may still read below and the smallest epoch a running transaction
// began in. The clock is frozen so that no begin is halfway through publishing its epochs.
func (e *Engine) gcEpochs() (minRead, minActive epoch.Epoch) {
	e.clock.Lock()
	defer e.clock.Unlock()
	g := e.clock.Global()
	minRead, minActive = g, g
	for _, s := range e.sessions {
		if r := s.ReadEpoch(); r != 0 && r < minRead {
			minRead = r
		}
		if a := s.ActiveEpoch(); a != 0 && a < minActive {
			minActive = a
		}
	}
	if m, ok := e.ongoing.MinEpoch(); ok && m < minRead {
		minRead = m
	}
	return minRead, minActive
}

func (e *Engine) collectGarbage() gcStats {
	var stats gcStats
	minRead, minActive := e.gcEpochs()

	for _, stg := range e.storages.Storages() {
		var doomed []*mvcc.Record
		stg.Index.Scan(storage.FullRange, false, func(rec *mvcc.Record) bool {
			if rec.TryLock() {
				stats.versions += rec.PruneBefore(minRead)
				rec.Unlock()
			}
			if unhookable(rec, minRead) {
				doomed = append(doomed, rec)
			}
			return true
		})
		for _, rec := range doomed {
			if !rec.LockByGC() {
				continue
			}
			if !unhookable(rec, minRead) {
				rec.Unlock()
				continue
			}
			stg.Index.Remove(rec.Key(), rec)
			e.arena.Retire(rec, e.clock.Global())
			stats.unhooked++
		}
	}
	stats.reclaimed = e.arena.Reclaim(minActive)

	if pruned := e.ongoing.Prune(); len(pruned) > 0 {
		gone := make(map[uint64]struct{}, len(pruned))
		for _, id := range pruned {
			gone[id] = struct{}{}
		}
		e.wps.Each(func(_ storage.ID, sm *wp.StorageMeta) {
			sm.WP.PruneResults(func(en wp.Entry) bool {
				_, ok := gone[en.ID]
				return ok
			})
			for _, id := range pruned {
				sm.ReadByLTX.Drop(id)
			}
		})
		stats.ltxInfo = len(pruned)
	}
	below := e.clock.Global() + 1
	if m, ok := e.ongoing.MinEpoch(); ok {
		below = m
	}
	e.wps.Each(func(_ storage.ID, sm *wp.StorageMeta) {
		sm.ReadByOCC.Prune(below)
	})

	if e.conf.MetricsEnabled {
		metrics.GCReclaimedCounter.WithLabelValues("version").Add(float64(stats.versions))
		metrics.GCReclaimedCounter.WithLabelValues("record").Add(float64(stats.reclaimed))
	}
	if stats.versions+stats.unhooked+stats.reclaimed > 0 {
		log.Debug("gc round",
			zap.Uint64("min-read-epoch", uint64(minRead)),
			zap.Uint64("min-active-epoch", uint64(minActive)),
			zap.Int("versions", stats.versions),
			zap.Int("unhooked", stats.unhooked),
			zap.Int("reclaimed", stats.reclaimed))
	}
	return stats
}

// unhookable reports a deleted record that no reader can tell apart from a missing one.
func unhookable(rec *mvcc.Record, minRead epoch.Epoch) bool {
	if !rec.Tidw().Deleted() {
		return false
	}
	latest := rec.Latest()
	return latest == nil || latest.Tidw().Epoch() < minRead
}

func (e *Engine) runResolver(ctx context.Context) error {
	ticker := time.NewTicker(e.conf.LtxResolveInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.resolveWaiting()
		}
	}
}

// resolveWaiting retries the long transaction commits that wait for other transactions, so that nobody depends on
// the owner polling.
func (e *Engine) resolveWaiting() {
	for _, s := range e.sessions {
		s.Mu.Lock()
		if s.State != session.WaitingCCCommit {
			s.Mu.Unlock()
			continue
		}
		cb := s.Pending
		st := e.commitLong(s)
		if st == status.WarnWaitingForOtherTx || cb == nil {
			s.Mu.Unlock()
			continue
		}
		reason, ce := s.Result.Reason, s.CommitEpoch
		s.Mu.Unlock()
		cb(st, reason, ce)
	}
}
