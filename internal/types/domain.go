package types

import "time"

// Identity is the key against which all quota counters are kept: an
// authenticated user ID or a salted hash of the client IP. The two are never
// mixed -- an authenticated request does not fall back to IP counting except
// along the degraded path when the durable store is entirely unconfigured.
type Identity struct {
	Kind IdentityKind
	// Key is the user ID for IdentityUser, or the hashed IP for IdentityAnonIP.
	Key string
}

// String returns a stable cache/log key for the identity.
func (i Identity) String() string {
	return string(i.Kind) + ":" + i.Key
}

// TierLimits holds the two constants a tier carries.
type TierLimits struct {
	// DailyUnits is the number of abstract units the tier may consume per
	// UTC calendar day. Zero rejects every reservation.
	DailyUnits int
	// BurstPerMinute is the number of requests the tier may make within a
	// single UTC minute, independent of unit cost.
	BurstPerMinute int
}

// UsageProfile is the per-user durable row the quota and allocation
// subsystems read. The counter columns are mutated only through the atomic
// store primitives, never by read-modify-write from application code.
type UsageProfile struct {
	UserID        string
	Membership    string // raw stored label; normalize with NormalizeTier
	ConsumedUnits int
	LastResetDate time.Time // date precision, UTC

	FoundingMember bool
	FoundingBucket *Bucket
	PricingLock    *string // write-once; enforced by a store trigger
}

// UsageStatus is the read-only answer to "how much do I have left".
type UsageStatus struct {
	Tier           Tier `json:"tier"`
	Used           int  `json:"used"`
	Limit          int  `json:"limit"`
	Remaining      int  `json:"remaining"`
	BurstLimit     int  `json:"burst_limit"`
	BurstRemaining int  `json:"burst_remaining"`
}

// ReservationResult reports the outcome of a reserve call. On success the
// daily counter has already been incremented (reserve-then-proceed); on
// failure nothing durable was mutated and Reason carries the rejection.
type ReservationResult struct {
	OK             bool       `json:"ok"`
	Reason         ErrorCode  `json:"reason,omitempty"`
	Remaining      int        `json:"remaining"`
	Limit          int        `json:"limit"`
	BurstRemaining int        `json:"burst_remaining"`
	BurstLimit     int        `json:"burst_limit"`
	RetryAt        *time.Time `json:"retry_at,omitempty"`
}

// ClaimResult reports the outcome of a founder-seat claim. Repeat claims for
// an already-admitted user return OK without changing the counts.
type ClaimResult struct {
	OK          bool        `json:"ok"`
	Reason      ClaimReason `json:"reason,omitempty"`
	Bucket      Bucket      `json:"bucket,omitempty"`
	BucketCount int         `json:"bucket_count"`
	TotalCount  int         `json:"total_count"`
}
