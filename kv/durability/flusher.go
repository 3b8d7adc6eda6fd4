package durability

import (
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/util/worker"
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

// flushQueueCapacity bounds the queued flush requests. Requests queued together are served by one flush.
const flushQueueCapacity = 16

type flushTask struct {
	upTo epoch.Epoch
	done chan error
}

type flushHandler struct {
	ch Channel
	// onDurable is called after every successful flush.
	onDurable func(epoch.Epoch)
}

// Handle flushes once up to the largest requested epoch and answers every waiter of the batch.
func (h *flushHandler) Handle(batch []worker.Task) {
	var upTo epoch.Epoch
	for _, t := range batch {
		if task := t.(flushTask); task.upTo > upTo {
			upTo = task.upTo
		}
	}
	err := h.ch.Flush(upTo)
	if err != nil {
		log.Error("flush log channel failed", zap.Uint64("epoch", uint64(upTo)),
			zap.Int("requests", len(batch)), zap.Error(err))
	} else if h.onDurable != nil {
		h.onDurable(h.ch.DurableEpoch())
	}
	for _, t := range batch {
		if task := t.(flushTask); task.done != nil {
			task.done <- err
		}
	}
}

// Flusher runs the flushes of a channel on a dedicated worker so that the epoch driver never waits for the disk.
type Flusher struct {
	w *worker.Worker
}

func NewFlusher(ch Channel, onDurable func(epoch.Epoch)) *Flusher {
	f := &Flusher{w: worker.NewWorker("log-flusher", flushQueueCapacity)}
	f.w.Start(&flushHandler{ch: ch, onDurable: onDurable})
	return f
}

// Schedule requests a flush up to upTo. It drops the request if the queue is full; a queued one covers it.
func (f *Flusher) Schedule(upTo epoch.Epoch) bool {
	return f.w.TrySend(flushTask{upTo: upTo})
}

// FlushSync flushes up to upTo and waits for the result.
func (f *Flusher) FlushSync(upTo epoch.Epoch) error {
	done := make(chan error, 1)
	f.w.Send(flushTask{upTo: upTo, done: done})
	return <-done
}

// Stop runs the queued flushes and stops the worker.
func (f *Flusher) Stop() {
	f.w.Stop()
}
