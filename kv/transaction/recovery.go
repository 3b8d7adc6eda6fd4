package transaction

import (
	"github.com/pingcap-incubator/tinycc/kv/durability"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
	"github.com/pingcap-incubator/tinycc/log"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// recover rebuilds the storages and their indexes from the log channel. Every recovered key gets one present
// version stamped with the write version it was logged with.
func (e *Engine) recover() (epoch.Epoch, error) {
	storages, records := 0, 0
	durable, err := e.logCh.Recover(func(r durability.LogRecord) error {
		switch r.Op {
		case durability.OpCreateStorage:
			_, err := e.storages.CreateWithID(r.StorageID, string(r.Key), storage.Options{Payload: r.Value})
			if err != nil {
				return errors.Trace(err)
			}
			storages++
			return nil
		case durability.OpDelete, durability.OpDeleteStorage:
			return nil
		}
		st, ok := e.storages.ByID(r.StorageID)
		if !ok {
			return errors.Errorf("log record for unknown storage %d", r.StorageID)
		}
		w := tid.Word(0).WithEpoch(epoch.Epoch(r.WV.Major)).WithTID(uint32(r.WV.Minor)).WithLatest(true)
		rec := e.arena.NewRecord(uint64(st.ID), r.Key, r.Value, w)
		if existing, _, _ := st.Index.Put(r.Key, rec); existing != nil {
			return errors.Errorf("duplicate log record for key %q of storage %d", r.Key, r.StorageID)
		}
		rec.SetTidw(w)
		records++
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	log.Info("recovered log channel",
		zap.Int("storages", storages),
		zap.Int("records", records),
		zap.Uint64("durable-epoch", uint64(durable)))
	return durable, nil
}
