// Package cache provides the counter cache used by the quota ledger for
// per-minute burst buckets and the degraded-mode fallback map.
//
// The cache is explicitly best-effort: it is scoped to a single process
// instance (memory backend) or shared opportunistically (redis backend) and
// is never treated as a source of truth for correctness-critical decisions.
// The durable daily counter lives in Postgres; see internal/db.
package cache

import (
	"context"
	"time"
)

// CounterCache is the narrow contract the quota ledger needs: bump a counter
// and read it back. Keys embed their window (minute bucket or UTC day), so
// old keys are never read again and can be swept by age.
type CounterCache interface {
	// IncrementAndGet adds delta to the counter at key and returns the new
	// value. Burst buckets use delta 1 (requests); the degraded-mode daily
	// map uses the reservation's unit cost.
	IncrementAndGet(ctx context.Context, key string, delta int) (int, error)

	// Get returns the current counter value, or 0 if the key is absent.
	Get(ctx context.Context, key string) (int, error)

	// Sweep discards entries not touched within maxAge and returns how many
	// were removed. Backends with native expiry may implement this as a no-op.
	Sweep(ctx context.Context, maxAge time.Duration) int
}
