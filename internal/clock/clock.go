// Package clock provides time abstraction for deterministic testing.
//
// The quota subsystem derives both its UTC-day reset and its per-minute burst
// buckets from wall-clock time. Routing every read through the Clock interface
// lets tests drive window rollovers without sleeps.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Production code uses System; tests use
// Manual to step across minute and day boundaries deterministically.
type Clock interface {
	Now() time.Time
}

// System implements Clock using the real wall clock.
type System struct{}

// NewSystem returns a stateless Clock backed by time.Now. Safe to share
// across goroutines.
func NewSystem() *System {
	return &System{}
}

// Now returns the current wall-clock time.
func (*System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a Clock whose time only moves when told to. Safe for concurrent
// use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock frozen at the given instant.
func NewManual(at time.Time) *Manual {
	return &Manual{now: at}
}

// Now returns the clock's current instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set jumps the clock to the given instant.
func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at
}
