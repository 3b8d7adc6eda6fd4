package latches

import (
	"sync"
)

// Latches serialize catalog changes. Creating or dropping a storage touches the in-memory registry and the log
// channel in two steps; latching the storage name keeps a concurrent create and drop of the same name from
// interleaving those steps, which would leave a durable definition of a storage that no longer exists.
//
// A latch is a per-name lock. All names an operation touches must be latched at once. Latching is implemented with a
// single map from latched names to a WaitGroup guarded by a mutex. Catalog changes are rare, so the global mutex is
// not a point of contention.
type Latches struct {
	// latchMap maps each latched name to a WaitGroup. Threads who find a name latched wait on that WaitGroup.
	latchMap   map[string]*sync.WaitGroup
	latchGuard sync.Mutex
}

// NewLatches creates a new Latches object. There should only be one such object per engine.
func NewLatches() *Latches {
	l := new(Latches)
	l.latchMap = make(map[string]*sync.WaitGroup)
	return l
}

// AcquireLatches tries to latch every name in names. If this succeeds, nil is returned. If any of the names is
// latched, the WaitGroup of that latch is returned and nothing is latched.
func (l *Latches) AcquireLatches(names []string) *sync.WaitGroup {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	for _, name := range names {
		if latchWg, ok := l.latchMap[name]; ok {
			return latchWg
		}
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	for _, name := range names {
		l.latchMap[name] = wg
	}
	return nil
}

// ReleaseLatches releases the latches of names and wakes up the threads waiting on them. All names must have been
// latched together in one call to AcquireLatches.
func (l *Latches) ReleaseLatches(names []string) {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	first := true
	for _, name := range names {
		if first {
			wg := l.latchMap[name]
			wg.Done()
			first = false
		}
		delete(l.latchMap, name)
	}
}

// WaitForLatches latches names, waiting for conflicting latches to be released. It may block for an unbounded
// length of time.
func (l *Latches) WaitForLatches(names []string) {
	for {
		wg := l.AcquireLatches(names)
		if wg == nil {
			return
		}
		wg.Wait()
	}
}
