// Package epoch provides the process wide logical clock of the engine.
//
// The global epoch is advanced by a single driver goroutine at a fixed interval. Every transaction id, version stamp
// and write version carries the epoch that was current when it was created, so the epoch bounds visibility, garbage
// collection and durability. Readers only ever load the counter; the only writer is Clock.Run.
package epoch

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Epoch is a value of the global logical clock. Only the low 31 bits are used so that an epoch fits in a tid word.
type Epoch uint64

const (
	// MaxEpoch is the largest epoch a tid word can hold.
	MaxEpoch Epoch = 1<<31 - 1
	// InitialEpoch is the first epoch of a fresh engine. Epoch 0 marks versions that were never committed.
	InitialEpoch Epoch = 1
)

// Hook is called by the driver after every advance, with the new global epoch.
type Hook func(global Epoch)

// Clock holds the global epoch and the derived safe snapshot epoch.
type Clock struct {
	global       atomic.Uint64
	safeSnapshot atomic.Uint64

	// mu is held by the driver while it advances. Holding it freezes the epoch.
	mu       sync.Mutex
	interval time.Duration

	// minInFlight reports the smallest epoch a commit in progress may still stamp, ok is false if none is in progress.
	minInFlight func() (e Epoch, ok bool)

	hookMu sync.Mutex
	hooks  []Hook
}

// NewClock creates a clock starting at start. minInFlight may be nil.
func NewClock(start Epoch, interval time.Duration, minInFlight func() (Epoch, bool)) *Clock {
	if start < InitialEpoch {
		start = InitialEpoch
	}
	c := &Clock{
		interval:    interval,
		minInFlight: minInFlight,
	}
	c.global.Store(uint64(start))
	return c
}

// Global returns the current global epoch.
func (c *Clock) Global() Epoch {
	return Epoch(c.global.Load())
}

// SafeSnapshot returns the largest epoch E such that every commit stamped with an epoch below E has finished
// installing its versions. Snapshot readers may only start reading at E once SafeSnapshot() >= E.
func (c *Clock) SafeSnapshot() Epoch {
	return Epoch(c.safeSnapshot.Load())
}

// Lock freezes the global epoch until Unlock.
func (c *Clock) Lock() {
	c.mu.Lock()
}

// Unlock releases a freeze taken by Lock.
func (c *Clock) Unlock() {
	c.mu.Unlock()
}

// AddHook registers a function that runs after every advance.
func (c *Clock) AddHook(h Hook) {
	c.hookMu.Lock()
	c.hooks = append(c.hooks, h)
	c.hookMu.Unlock()
}

// Run drives the clock until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Advance()
		}
	}
}

// Advance moves the global epoch forward by one and refreshes derived epochs. Only the driver and tests call it.
func (c *Clock) Advance() Epoch {
	c.mu.Lock()
	next := c.Global() + 1
	if next > MaxEpoch {
		c.mu.Unlock()
		log.Fatal("global epoch overflow", zap.Uint64("epoch", uint64(next)))
	}
	c.global.Store(uint64(next))
	c.mu.Unlock()

	c.RefreshSafeSnapshot()

	c.hookMu.Lock()
	hooks := c.hooks
	c.hookMu.Unlock()
	for _, h := range hooks {
		h(next)
	}
	return next
}

// RefreshSafeSnapshot recomputes the safe snapshot epoch. The value never decreases.
//
// The global epoch must be loaded before the in-flight commits are inspected: a commit publishes its step epoch
// before it loads the global epoch for its serialization point, so a commit missed here stamps an epoch no smaller
// than the global value read here.
func (c *Clock) RefreshSafeSnapshot() Epoch {
	safe := c.Global()
	if c.minInFlight != nil {
		if e, ok := c.minInFlight(); ok && e < safe {
			safe = e
		}
	}
	for {
		prev := c.safeSnapshot.Load()
		if uint64(safe) <= prev {
			return Epoch(prev)
		}
		if c.safeSnapshot.CAS(prev, uint64(safe)) {
			return safe
		}
	}
}
