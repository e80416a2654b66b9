// Package quota implements the usage-metering layer that gates every
// AI-proxying endpoint: a tier-derived daily unit allowance backed by an
// atomic database counter, plus a short-window burst allowance kept in a
// best-effort in-process cache.
//
// Ordering within a request is strict: burst check, then daily
// check-and-reserve, then the gated provider call. The daily reservation is
// committed before the provider call completes (reserve-then-proceed), which
// is what keeps a burst of concurrent requests from all reading the same
// stale "remaining" and being admitted past the limit.
package quota

import (
	"context"
	"log/slog"
	"time"

	"presto/internal/billing"
	"presto/internal/cache"
	"presto/internal/clock"
	"presto/internal/types"
)

// ProfileStore is the narrow durable-store contract the ledger needs.
// Implemented by db.ProfileRepo in production and by an in-memory fake in
// tests. Counter columns must only ever be mutated through ReserveUnits and
// RefundUnits; the store's WHERE-guarded update is the only real mutual
// exclusion across concurrent instances.
type ProfileStore interface {
	// GetUsageProfile loads (creating on first sight) the identity's profile.
	GetUsageProfile(ctx context.Context, identityKey string) (*types.UsageProfile, error)

	// ReserveUnits atomically adds costUnits for the given UTC day, applying
	// the day reset and the limit guard in a single statement. Returns the
	// new consumed count and ok=false (no mutation) when the guard fails.
	ReserveUnits(ctx context.Context, identityKey string, costUnits, limit int, day time.Time) (int, bool, error)

	// RefundUnits best-effort decrements the counter within the same day.
	RefundUnits(ctx context.Context, identityKey string, costUnits int, day time.Time) error
}

// MetricsCollector records usage telemetry. Implementations are fire and
// forget: the ledger never awaits or inspects the outcome, and a failing
// collector must not slow down or fail a reservation.
type MetricsCollector interface {
	RecordReservation(identity types.Identity, outcome string, costUnits int)
}

// degradedDailyCap is the fixed per-IP daily unit cap applied when no
// durable store is configured at all. It exists to bound damage from a
// broken deployment, not to be correct: counts are per-instance and keyed by
// hashed IP even for authenticated traffic.
const degradedDailyCap = 25

// Ledger gates and accounts for unit-costed operations.
type Ledger struct {
	store    ProfileStore // nil means the store is unconfigured (degraded mode)
	counters cache.CounterCache
	tiers    billing.TierRegistry
	clk      clock.Clock
	metrics  MetricsCollector // optional
	logger   *slog.Logger
}

// NewLedger constructs a quota ledger. store may be nil, which puts the
// ledger into the degraded per-IP fallback mode; metrics may be nil.
func NewLedger(
	store ProfileStore,
	counters cache.CounterCache,
	tiers billing.TierRegistry,
	clk clock.Clock,
	metrics MetricsCollector,
	logger *slog.Logger,
) *Ledger {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:    store,
		counters: counters,
		tiers:    tiers,
		clk:      clk,
		metrics:  metrics,
		logger:   logger,
	}
}

// Degraded reports whether the ledger is running without a durable store.
func (l *Ledger) Degraded() bool {
	return l.store == nil
}

// CheckStatus answers "how much do I have left" for an identity. Read-only:
// if the stored reset date is stale the returned Used is zeroed without
// persisting the reset, and burst state is never mutated.
func (l *Ledger) CheckStatus(ctx context.Context, id types.Identity) (*types.UsageStatus, error) {
	if l.store == nil {
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "usage store is not configured", nil)
	}

	profile, err := l.store.GetUsageProfile(ctx, id.Key)
	if err != nil {
		l.logger.Error("usage profile load failed", "identity", id.String(), "error", err)
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "usage store is unreachable", err)
	}

	now := l.clk.Now()
	tier := types.NormalizeTier(profile.Membership)
	limits := l.tiers.GetLimits(tier)

	used := profile.ConsumedUnits
	if !sameUTCDay(profile.LastResetDate, now) {
		used = 0
	}

	burstUsed, err := l.counters.Get(ctx, burstKey(id, now))
	if err != nil {
		// Burst state is advisory; report a full window rather than failing
		// a pure read.
		l.logger.Warn("burst counter read failed", "identity", id.String(), "error", err)
		burstUsed = 0
	}

	return &types.UsageStatus{
		Tier:           tier,
		Used:           used,
		Limit:          limits.DailyUnits,
		Remaining:      maxInt(0, limits.DailyUnits-used),
		BurstLimit:     limits.BurstPerMinute,
		BurstRemaining: maxInt(0, limits.BurstPerMinute-burstUsed),
	}, nil
}

// Reserve executes the check-and-reserve sequence for a single request.
// ipHash is the salted hash of the client IP, used only by the degraded
// fallback path. On any store error the reservation fails closed: cost
// protection takes priority over availability.
func (l *Ledger) Reserve(ctx context.Context, id types.Identity, ipHash string, costUnits int) (*types.ReservationResult, error) {
	if costUnits < 1 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidCost, "cost units must be a positive integer", nil)
	}

	if l.store == nil {
		return l.reserveDegraded(ctx, ipHash, costUnits), nil
	}

	profile, err := l.store.GetUsageProfile(ctx, id.Key)
	if err != nil {
		l.logger.Error("usage profile load failed", "identity", id.String(), "error", err)
		l.record(id, "store_error", costUnits)
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "usage store is unreachable", err)
	}

	now := l.clk.Now()
	tier := types.NormalizeTier(profile.Membership)
	limits := l.tiers.GetLimits(tier)

	// A zero daily limit (expired tier) can never pass the daily check, so
	// reject up front without spending burst bookkeeping on it.
	if limits.DailyUnits == 0 {
		l.record(id, "quota_exceeded", costUnits)
		return quotaExceededResult(limits, 0, now), nil
	}

	// Burst check comes strictly before the daily counter so that
	// burst-limited callers never consume daily quota.
	bKey := burstKey(id, now)
	hits, err := l.counters.Get(ctx, bKey)
	if err != nil {
		// Best-effort deterrent: on cache failure the burst check is skipped
		// rather than blocking the request.
		l.logger.Warn("burst counter read failed", "identity", id.String(), "error", err)
		hits = 0
	}
	if hits >= limits.BurstPerMinute {
		l.record(id, "rate_limited", costUnits)
		retry := nextMinute(now)
		return &types.ReservationResult{
			OK:             false,
			Reason:         types.ErrCodeRateLimited,
			Limit:          limits.DailyUnits,
			Remaining:      remainingToday(profile, limits, now),
			BurstLimit:     limits.BurstPerMinute,
			BurstRemaining: 0,
			RetryAt:        &retry,
		}, nil
	}

	// Optimistic: the burst bucket counts request rate, not unit cost, so it
	// is bumped even though the daily check below may still reject.
	if hits, err = l.counters.IncrementAndGet(ctx, bKey, 1); err != nil {
		l.logger.Warn("burst counter increment failed", "identity", id.String(), "error", err)
		hits++
	}

	newCount, ok, err := l.store.ReserveUnits(ctx, id.Key, costUnits, limits.DailyUnits, dayOf(now))
	if err != nil {
		// Fail closed: a store we cannot write to is a store we cannot trust
		// to bound spend.
		l.logger.Error("unit reservation write failed", "identity", id.String(), "error", err)
		l.record(id, "store_error", costUnits)
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "usage store is unreachable", err)
	}
	if !ok {
		l.record(id, "quota_exceeded", costUnits)
		res := quotaExceededResult(limits, remainingToday(profile, limits, now), now)
		res.BurstRemaining = maxInt(0, limits.BurstPerMinute-hits)
		return res, nil
	}

	l.record(id, "reserved", costUnits)
	return &types.ReservationResult{
		OK:             true,
		Limit:          limits.DailyUnits,
		Remaining:      maxInt(0, limits.DailyUnits-newCount),
		BurstLimit:     limits.BurstPerMinute,
		BurstRemaining: maxInt(0, limits.BurstPerMinute-hits),
	}, nil
}

// Refund returns previously reserved units after the gated call failed.
// Best effort by contract: failures are logged and swallowed, and nothing is
// refunded on client-side cancellation or in degraded mode.
func (l *Ledger) Refund(ctx context.Context, id types.Identity, costUnits int) {
	if l.store == nil || costUnits < 1 {
		return
	}
	if err := l.store.RefundUnits(ctx, id.Key, costUnits, dayOf(l.clk.Now())); err != nil {
		l.logger.Warn("unit refund failed", "identity", id.String(), "error", err)
	}
}

// reserveDegraded applies the fixed per-IP daily cap when no durable store
// is configured. Keyed by hashed IP only, even for authenticated requests --
// a deliberate, documented safety-net behavior, not a policy to rely on.
func (l *Ledger) reserveDegraded(ctx context.Context, ipHash string, costUnits int) *types.ReservationResult {
	now := l.clk.Now()
	key := "fallback:" + ipHash + ":" + dayOf(now).Format("20060102")

	total, err := l.counters.IncrementAndGet(ctx, key, costUnits)
	if err != nil {
		// With neither store nor cache there is nothing left to count
		// against; deny rather than hand out unmetered calls.
		l.logger.Error("degraded fallback counter failed", "error", err)
		return &types.ReservationResult{
			OK:     false,
			Reason: types.ErrCodeServiceUnavailable,
		}
	}
	if total > degradedDailyCap {
		retry := nextUTCDay(now)
		return &types.ReservationResult{
			OK:        false,
			Reason:    types.ErrCodeQuotaExceeded,
			Limit:     degradedDailyCap,
			Remaining: 0,
			RetryAt:   &retry,
		}
	}

	l.logger.Warn("reservation served from degraded fallback; durable store is unconfigured")
	return &types.ReservationResult{
		OK:        true,
		Limit:     degradedDailyCap,
		Remaining: maxInt(0, degradedDailyCap-total),
	}
}

// record forwards telemetry when a collector is wired. Fire and forget.
func (l *Ledger) record(id types.Identity, outcome string, costUnits int) {
	if l.metrics != nil {
		l.metrics.RecordReservation(id, outcome, costUnits)
	}
}

func quotaExceededResult(limits types.TierLimits, remaining int, now time.Time) *types.ReservationResult {
	retry := nextUTCDay(now)
	return &types.ReservationResult{
		OK:         false,
		Reason:     types.ErrCodeQuotaExceeded,
		Limit:      limits.DailyUnits,
		Remaining:  remaining,
		BurstLimit: limits.BurstPerMinute,
		RetryAt:    &retry,
	}
}

// remainingToday computes the allowance left for the current UTC day,
// honoring the virtual reset when the stored date is stale.
func remainingToday(profile *types.UsageProfile, limits types.TierLimits, now time.Time) int {
	used := profile.ConsumedUnits
	if !sameUTCDay(profile.LastResetDate, now) {
		used = 0
	}
	return maxInt(0, limits.DailyUnits-used)
}

// burstKey buckets an identity's requests into the current UTC minute.
func burstKey(id types.Identity, now time.Time) string {
	return "burst:" + id.String() + ":" + now.UTC().Format("200601021504")
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func nextMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute).Add(time.Minute)
}

func nextUTCDay(t time.Time) time.Time {
	return dayOf(t).Add(24 * time.Hour)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
