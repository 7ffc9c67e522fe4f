// Package clock provides the simulation time source and the per-tick
// scheduler used for deferred actions (corpse despawn, respawns).
//
// All per-tick code observes a single monotonic timestamp (simNow) that
// advances by the configured delta rather than wall clock, which keeps
// simulations deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current simulation time.
type Clock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// WallClock is a Clock backed by time.Now.
type WallClock struct{}

// Now returns the wall-clock time.
func (WallClock) Now() time.Time { return time.Now() }

// SimClock is a monotonic clock advanced explicitly by the tick driver.
// It is safe for concurrent reads; Advance must only be called by the
// tick goroutine.
type SimClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewSimClock creates a SimClock starting at the given instant.
//
// Precondition: start must not be the zero time.
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

// Now returns the current simulation instant.
//
// Invariant: all passes within one tick observe the same value.
func (c *SimClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the simulation clock forward by delta and returns the new now.
//
// Precondition: delta must be > 0.
func (c *SimClock) Advance(delta time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
	return c.now
}
