package wp

import (
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
)

// Decision is the outcome of a long transaction as seen by the others.
type Decision int

const (
	Unknown Decision = iota
	Undecided
	Committed
	Aborted
)

func (d Decision) String() string {
	switch d {
	case Undecided:
		return "undecided"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

type finished struct {
	entry    Entry
	decision Decision
	seq      uint64
}

// Ongoing tracks the long transactions that have begun and not finished, and keeps the outcome of finished ones
// while a transaction that could have overtaken them is still running.
type Ongoing struct {
	mu       sync.RWMutex
	active   map[uint64]Entry
	finished map[uint64]finished
}

func NewOngoing() *Ongoing {
	return &Ongoing{
		active:   make(map[uint64]Entry),
		finished: make(map[uint64]finished),
	}
}

func (o *Ongoing) Register(e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[e.ID] = e
}

// Finish moves id out of the active set. seq is taken from the same counter as transaction ids, so every transaction
// that began before id finished has an id below seq.
func (o *Ongoing) Finish(id uint64, d Decision, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.active[id]
	if !ok {
		return
	}
	delete(o.active, id)
	o.finished[id] = finished{entry: e, decision: d, seq: seq}
}

func (o *Ongoing) Exists(id uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.active[id]
	return ok
}

// Decision returns the outcome of id.
func (o *Ongoing) Decision(id uint64) Decision {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, ok := o.active[id]; ok {
		return Undecided
	}
	if f, ok := o.finished[id]; ok {
		return f.decision
	}
	return Unknown
}

// MinEpoch returns the lowest valid epoch among active transactions.
func (o *Ongoing) MinEpoch() (epoch.Epoch, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var min epoch.Epoch
	found := false
	for _, e := range o.active {
		if !found || e.Epoch < min {
			min, found = e.Epoch, true
		}
	}
	return min, found
}

// Active returns the active transactions in priority order.
func (o *Ongoing) Active() []Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Entry, 0, len(o.active))
	for _, e := range o.active {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (o *Ongoing) Len() (active, finished int) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active), len(o.finished)
}

// Prune forgets finished transactions that no active transaction can still depend on and returns their ids.
func (o *Ongoing) Prune() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var minID uint64
	hasActive := false
	for id := range o.active {
		if !hasActive || id < minID {
			minID, hasActive = id, true
		}
	}
	var pruned []uint64
	for id, f := range o.finished {
		if !hasActive || f.seq <= minID {
			delete(o.finished, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}
