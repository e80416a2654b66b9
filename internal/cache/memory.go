package cache

import (
	"context"
	"sync"
	"time"

	"presto/internal/clock"
)

// defaultSweepThreshold is the table size above which IncrementAndGet
// triggers an inline sweep. Minute-bucket keys accumulate at a bounded rate
// per identity, so the table stays small in practice; the threshold bounds
// the pathological case of many distinct anonymous IPs.
const defaultSweepThreshold = 10000

// defaultMaxAge is the age past which an entry is certainly dead: burst keys
// are minute-scoped and degraded-mode keys are day-scoped, so anything
// untouched for over a day is garbage.
const defaultMaxAge = 25 * time.Hour

type entry struct {
	count   int
	touched time.Time
}

// Memory is the in-process CounterCache. It is the default backend and the
// one the degraded path relies on. Counts are per-instance only; concurrent
// serverless instances each see their own table, which is an accepted
// weakness of the burst deterrent, not a bug.
type Memory struct {
	mu             sync.Mutex
	entries        map[string]entry
	clk            clock.Clock
	sweepThreshold int
}

// NewMemory creates an empty in-process counter cache. A nil clk defaults to
// the system clock.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Memory{
		entries:        make(map[string]entry),
		clk:            clk,
		sweepThreshold: defaultSweepThreshold,
	}
}

// IncrementAndGet adds delta to the counter at key and returns the new value.
// When the table has grown past the sweep threshold, stale entries are
// discarded inline before the increment.
func (m *Memory) IncrementAndGet(_ context.Context, key string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	if len(m.entries) > m.sweepThreshold {
		m.sweepLocked(now, defaultMaxAge)
	}

	e := m.entries[key]
	e.count += delta
	e.touched = now
	m.entries[key] = e
	return e.count, nil
}

// Get returns the current counter value, or 0 if the key is absent.
func (m *Memory) Get(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key].count, nil
}

// Sweep discards entries untouched for longer than maxAge and returns the
// number removed.
func (m *Memory) Sweep(_ context.Context, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.clk.Now(), maxAge)
}

func (m *Memory) sweepLocked(now time.Time, maxAge time.Duration) int {
	removed := 0
	for k, e := range m.entries {
		if now.Sub(e.touched) > maxAge {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the current table size. Used by tests and the sweeper log line.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
