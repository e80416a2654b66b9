package types

// Tier identifies a user's membership level. Tiers are set by the billing
// surface and are read-only from the quota subsystem's point of view.
type Tier string

const (
	TierFree         Tier = "free"
	TierTrial        Tier = "trial"
	TierPerformer    Tier = "performer"
	TierProfessional Tier = "professional"
	// TierExpired carries zero limits for both daily and burst allowances.
	// Every reservation against it is rejected.
	TierExpired Tier = "expired"
)

// legacyTiers maps deprecated membership labels, still present on old profile
// rows, onto the canonical tiers. The mapping is total: every label ever
// written by the billing surface appears here.
var legacyTiers = map[string]Tier{
	"amateur":   TierPerformer,
	"hobbyist":  TierFree,
	"basic":     TierFree,
	"starter":   TierTrial,
	"pro":       TierProfessional,
	"premium":   TierProfessional,
	"cancelled": TierExpired,
	"canceled":  TierExpired,
	"lapsed":    TierExpired,
}

// NormalizeTier maps a stored membership label to a canonical Tier.
// Canonical values pass through unchanged; deprecated aliases are translated;
// anything else (including the empty string on a freshly created profile)
// defaults to the trial tier, the lowest paid-equivalent level.
func NormalizeTier(label string) Tier {
	switch Tier(label) {
	case TierFree, TierTrial, TierPerformer, TierProfessional, TierExpired:
		return Tier(label)
	}
	if t, ok := legacyTiers[label]; ok {
		return t
	}
	return TierTrial
}

// IdentityKind distinguishes how a request's identity was established.
type IdentityKind string

const (
	IdentityUser   IdentityKind = "user"
	IdentityAnonIP IdentityKind = "anon_ip"
)

// Bucket names a capacity-bounded founder admission cohort.
type Bucket string

const (
	BucketPrimary Bucket = "primary_2026"
	BucketReserve Bucket = "reserve_2026"
)

// ValidBucket reports whether b names a known cohort.
func ValidBucket(b Bucket) bool {
	return b == BucketPrimary || b == BucketReserve
}

// ClaimReason describes why a founder claim was rejected.
type ClaimReason string

const (
	ClaimReasonBucketFull ClaimReason = "bucket_limit_reached"
	ClaimReasonTotalFull  ClaimReason = "total_limit_reached"
)
