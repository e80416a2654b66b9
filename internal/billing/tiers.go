// Package billing provides tier management and billing domain logic.
package billing

import "presto/internal/types"

// TierRegistry defines the authoritative limits for each membership tier.
// This is the single source of truth for what each tier allows.
type TierRegistry interface {
	// GetLimits returns the quota limits for the given tier. The tier is
	// expected to already be canonical (see types.NormalizeTier); unknown
	// values fall back to the free limits to fail safely.
	GetLimits(tier types.Tier) types.TierLimits
}

// staticTierRegistry is a compile-time tier registry backed by an in-memory map.
// It implements TierRegistry and is the standard implementation for production use.
type staticTierRegistry struct {
	limits map[types.Tier]types.TierLimits
}

// tierDefaults defines the hardcoded tier limits.
//
//	| Tier         | Units/Day | Burst/Min |
//	|--------------|-----------|-----------|
//	| free         | 10        | 5         |
//	| trial        | 25        | 8         |
//	| performer    | 150       | 15        |
//	| professional | 2000      | 60        |
//	| expired      | 0         | 0         |
//
// Professional carries a large explicit ceiling rather than a 0-means-
// unlimited sentinel: expired's zero limits must reject every reservation,
// so zero cannot double as "no limit" anywhere in enforcement code.
var tierDefaults = map[types.Tier]types.TierLimits{
	types.TierFree: {
		DailyUnits:     10,
		BurstPerMinute: 5,
	},
	types.TierTrial: {
		DailyUnits:     25,
		BurstPerMinute: 8,
	},
	types.TierPerformer: {
		DailyUnits:     150,
		BurstPerMinute: 15,
	},
	types.TierProfessional: {
		DailyUnits:     2000,
		BurstPerMinute: 60,
	},
	types.TierExpired: {
		DailyUnits:     0,
		BurstPerMinute: 0,
	},
}

// freeLimits is cached to avoid map lookups on the fallback path.
var freeLimits = tierDefaults[types.TierFree]

// NewStaticTierRegistry returns a TierRegistry backed by the hardcoded tier
// limits. This is the standard production implementation; no database or
// external service is required.
func NewStaticTierRegistry() TierRegistry {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[types.Tier]types.TierLimits, len(tierDefaults))
	for k, v := range tierDefaults {
		m[k] = v
	}
	return &staticTierRegistry{limits: m}
}

// GetLimits returns the quota limits for the given tier.
// If the tier is unknown, it returns the free limits as a safe default.
func (r *staticTierRegistry) GetLimits(tier types.Tier) types.TierLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return freeLimits
}
