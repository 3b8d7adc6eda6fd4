package transaction

import (
	"fmt"
	"io"

	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/wp"
	"github.com/pingcap-incubator/tinycc/kv/util"
)

// PrintDiagnostics writes a human readable dump of the engine state to w.
func (e *Engine) PrintDiagnostics(w io.Writer) {
	fmt.Fprintf(w, "epoch: global=%d safe_snapshot=%d durable=%d\n",
		e.clock.Global(), e.clock.SafeSnapshot(), e.logCh.DurableEpoch())
	if e.conf.LogDir != "" {
		if size, err := util.DirSize(e.conf.LogDir); err == nil {
			fmt.Fprintf(w, "log dir: %s size=%d\n", e.conf.LogDir, size)
		}
	}

	for _, s := range e.sessions {
		if !s.Visible() {
			continue
		}
		s.Mu.Lock()
		fmt.Fprintf(w, "session %d: type=%s began=%v state=%s reads=%d writes=%d scans=%d nodes=%d",
			s.Token(), s.TxType, s.Began, s.State, len(s.ReadSet), s.WriteSet.Len(), s.Scans.Len(), s.NodeSet.Len())
		if s.LtxID != 0 {
			fmt.Fprintf(w, " ltx=%d valid_epoch=%d wp=%v overtaken=%v", s.LtxID, s.ValidEpoch, s.WP, s.Overtaken.ToArray())
		}
		fmt.Fprintf(w, " last_result={%s}\n", s.Result)
		s.Mu.Unlock()
	}

	active, finished := e.ongoing.Len()
	fmt.Fprintf(w, "long transactions: active=%d finished=%d %v\n", active, finished, e.ongoing.Active())

	for _, st := range e.storages.Storages() {
		fmt.Fprintf(w, "storage %d %q: records=%d", st.ID, st.Name, st.Index.Len())
		if sm, ok := e.wps.Lookup(st.ID); ok {
			fmt.Fprintf(w, " %s read_by_occ=%d read_by_ltx=%d", sm.WP, sm.ReadByOCC.Len(), sm.ReadByLTX.Len())
		}
		fmt.Fprintln(w)
	}
	e.wps.Each(func(id storage.ID, sm *wp.StorageMeta) {
		if _, ok := e.storages.ByID(id); !ok {
			fmt.Fprintf(w, "orphan write preserve metadata for storage %d: %s\n", id, sm.WP)
		}
	})

	retired, free, reclaimed := e.arena.Stats()
	fmt.Fprintf(w, "arena: retired=%d free=%d reclaimed=%d\n", retired, free, reclaimed)
}
