// Package wp keeps the write preserve bookkeeping shared by all sessions: the per storage list of long transactions
// that declared they will write the storage, the log of their committed windows, the read-by registries used to detect
// retroactive conflicts, and the registry of ongoing long transactions.
package wp

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
)

// Entry identifies a long transaction by its priority. A smaller entry has a higher priority.
type Entry struct {
	Epoch epoch.Epoch
	ID    uint64
}

func (e Entry) Less(o Entry) bool {
	if e.Epoch != o.Epoch {
		return e.Epoch < o.Epoch
	}
	return e.ID < o.ID
}

func (e Entry) String() string {
	return fmt.Sprintf("ltx{epoch:%d id:%d}", e.Epoch, e.ID)
}

// Meta is the write preserve state of one storage.
type Meta struct {
	mu      sync.RWMutex
	wped    []Entry
	results []Entry
}

func NewMeta() *Meta {
	return &Meta{}
}

// Register adds a write preserve in priority order.
func (m *Meta) Register(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.wped), func(i int) bool { return e.Less(m.wped[i]) })
	m.wped = append(m.wped, Entry{})
	copy(m.wped[i+1:], m.wped[i:])
	m.wped[i] = e
}

// Remove drops the write preserve of id.
func (m *Meta) Remove(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.wped {
		if e.ID == id {
			m.wped = append(m.wped[:i], m.wped[i+1:]...)
			return true
		}
	}
	return false
}

// FindMinEpoch returns the epoch of the highest priority write preserve.
func (m *Meta) FindMinEpoch() (epoch.Epoch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.wped) == 0 {
		return 0, false
	}
	return m.wped[0].Epoch, true
}

// Active returns the registered write preserves in priority order.
func (m *Meta) Active() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.wped...)
}

// HigherPriority returns the registered entries with a higher priority than e.
func (m *Meta) HigherPriority(e Entry) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, w := range m.wped {
		if !w.Less(e) {
			break
		}
		out = append(out, w)
	}
	return out
}

// PushResult records that the long transaction e committed its writes to the storage.
func (m *Meta) PushResult(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, e)
}

// ResultsFrom returns the committed windows stamped at or after from. Those writes are invisible to a reader whose
// valid epoch is from.
func (m *Meta) ResultsFrom(from epoch.Epoch) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, r := range m.results {
		if r.Epoch >= from {
			out = append(out, r)
		}
	}
	return out
}

// Results returns every remembered committed window.
func (m *Meta) Results() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.results...)
}

// PruneResults forgets the committed windows for which drop returns true.
func (m *Meta) PruneResults(drop func(Entry) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.results[:0]
	for _, r := range m.results {
		if !drop(r) {
			kept = append(kept, r)
		}
	}
	n := len(m.results) - len(kept)
	m.results = kept
	return n
}

func (m *Meta) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("wp:%v results:%v", m.wped, m.results)
}
