package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"presto/internal/types"
)

// ProfileRepo provides data access for the profiles table. It implements the
// quota.ProfileStore and alloc.ClaimStore interfaces.
//
// The counter columns (generation_count, last_reset_date) are mutated only
// through the atomic primitives below -- never read-modify-write from
// application code, which would reintroduce the concurrent-admission race
// the primitives exist to prevent.
type ProfileRepo struct {
	db DBTX
}

// NewProfileRepo creates a new ProfileRepo backed by the given database
// connection (pool or transaction).
func NewProfileRepo(db DBTX) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetUsageProfile returns the usage profile for an identity, creating the row
// with default membership on first sight. The no-op DO UPDATE makes the
// upsert return the existing row on conflict, so first-request creation and
// steady-state reads are a single round trip.
func (r *ProfileRepo) GetUsageProfile(ctx context.Context, identityKey string) (*types.UsageProfile, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO profiles (identity_key, membership, generation_count, last_reset_date)
		 VALUES ($1, 'trial', 0, CURRENT_DATE)
		 ON CONFLICT (identity_key) DO UPDATE SET identity_key = EXCLUDED.identity_key
		 RETURNING identity_key, membership, generation_count, last_reset_date,
		           founding_circle_member, founding_bucket, pricing_lock`,
		identityKey,
	)

	var p types.UsageProfile
	var bucket *string
	err := row.Scan(
		&p.UserID,
		&p.Membership,
		&p.ConsumedUnits,
		&p.LastResetDate,
		&p.FoundingMember,
		&bucket,
		&p.PricingLock,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load usage profile", err)
	}
	if bucket != nil {
		b := types.Bucket(*bucket)
		p.FoundingBucket = &b
	}
	return &p, nil
}

// ReserveUnits atomically adds costUnits to the identity's daily counter for
// the given UTC day, resetting the counter first if the stored reset date is
// older. The guard in the WHERE clause rejects the write when the post-reset
// count would exceed limit, so concurrent reservations can never admit past
// the allowance even when they all read the same stale "remaining".
//
// Returns the new consumed count and ok=true on success, or ok=false with no
// mutation when the allowance is exhausted.
func (r *ProfileRepo) ReserveUnits(ctx context.Context, identityKey string, costUnits, limit int, day time.Time) (int, bool, error) {
	var newCount int
	err := r.db.QueryRow(ctx,
		`UPDATE profiles
		 SET generation_count = CASE WHEN last_reset_date = $4::date
		                             THEN generation_count + $2
		                             ELSE $2 END,
		     last_reset_date = $4::date
		 WHERE identity_key = $1
		   AND (CASE WHEN last_reset_date = $4::date
		             THEN generation_count
		             ELSE 0 END) + $2 <= $3
		 RETURNING generation_count`,
		identityKey,
		costUnits,
		limit,
		day,
	).Scan(&newCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Guard failed: allowance exhausted (or the row is gone, which
			// reads the same from the caller's side -- nothing was reserved).
			return 0, false, nil
		}
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve units", err)
	}
	return newCount, true, nil
}

// RefundUnits decrements the daily counter after a gated call failed
// downstream of a committed reservation. Best effort: the decrement only
// applies while the counter is still on the same UTC day, and never drives
// the count below zero.
func (r *ProfileRepo) RefundUnits(ctx context.Context, identityKey string, costUnits int, day time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE profiles
		 SET generation_count = GREATEST(generation_count - $2, 0)
		 WHERE identity_key = $1 AND last_reset_date = $3::date`,
		identityKey,
		costUnits,
		day,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to refund units", err)
	}
	return nil
}

// UpdateMembership sets the stored membership label for a user. Called from
// the Stripe webhook path; the label is normalized by readers, so writing a
// canonical tier here is a courtesy, not a requirement.
func (r *ProfileRepo) UpdateMembership(ctx context.Context, userID string, membership string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles SET membership = $2 WHERE identity_key = $1`,
		userID,
		membership,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update membership", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "no profile for user", nil)
	}
	return nil
}

// ClaimBucket invokes the claim_founding_seat stored procedure, the single
// atomic check-and-admit primitive for founder seats. The check ("is there
// room?") and the act ("admit this user") are indivisible inside the
// function; see schema.sql for its definition and the pricing-lock trigger.
func (r *ProfileRepo) ClaimBucket(ctx context.Context, userID string, bucket types.Bucket) (types.ClaimResult, error) {
	var (
		ok          bool
		reason      *string
		bucketCount int
		totalCount  int
	)
	err := r.db.QueryRow(ctx,
		`SELECT ok, reason, bucket_count, total_count
		 FROM claim_founding_seat($1, $2)`,
		userID,
		string(bucket),
	).Scan(&ok, &reason, &bucketCount, &totalCount)
	if err != nil {
		return types.ClaimResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to claim founding seat", err)
	}

	res := types.ClaimResult{
		OK:          ok,
		Bucket:      bucket,
		BucketCount: bucketCount,
		TotalCount:  totalCount,
	}
	if reason != nil {
		res.Reason = types.ClaimReason(*reason)
	}
	return res, nil
}
