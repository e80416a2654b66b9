// Package alloc implements the founder allocation register: admission into
// two capacity-bounded discount cohorts, exactly once per user, safe under
// concurrent claims from many stateless instances.
package alloc

import (
	"context"
	"log/slog"

	"presto/internal/types"
)

// Capacities for the 2026 founding circle. The store procedure carries the
// same numbers; they are mirrored here for status reporting and tests.
const (
	PrimaryLimit = 75
	ReserveLimit = 25
	TotalLimit   = PrimaryLimit + ReserveLimit
)

// ClaimStore is the atomic claim primitive the register needs. The check
// ("is there room?") and the act ("admit this user") must be indivisible at
// the store -- a read-then-write from here would over-admit under concurrent
// serverless invocations. Implemented by db.ProfileRepo via the
// claim_founding_seat stored procedure.
type ClaimStore interface {
	ClaimBucket(ctx context.Context, userID string, bucket types.Bucket) (types.ClaimResult, error)
}

// Register admits users into founder cohorts.
type Register struct {
	store  ClaimStore
	logger *slog.Logger
}

// NewRegister constructs an allocation register.
func NewRegister(store ClaimStore, logger *slog.Logger) *Register {
	if logger == nil {
		logger = slog.Default()
	}
	return &Register{store: store, logger: logger}
}

// Claim admits userID into the desired bucket, or explains why not.
//
// The store-side ordering makes this safe to call twice for the same user:
// the already-admitted check runs first, so checkout (primary enforcement)
// and the payment webhook (safety-net re-verification) can both call Claim
// without double-counting a seat or rejecting a user who is already in.
//
// A failed claim only reports the reason; reversing an already-authorized
// payment is the caller's responsibility.
func (r *Register) Claim(ctx context.Context, userID string, bucket types.Bucket) (*types.ClaimResult, error) {
	if userID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	}
	if !types.ValidBucket(bucket) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBucket,
			"unknown founding bucket", nil).WithDetails(map[string]any{"bucket": string(bucket)})
	}

	if r.store == nil {
		// Degraded deployment without a durable store. Seats cannot be
		// handed out from memory.
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "allocation store is not configured", nil)
	}

	res, err := r.store.ClaimBucket(ctx, userID, bucket)
	if err != nil {
		r.logger.Error("founding seat claim failed", "user_id", userID, "bucket", string(bucket), "error", err)
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "allocation store is unreachable", err)
	}

	if !res.OK {
		r.logger.Info("founding seat claim rejected",
			"user_id", userID,
			"bucket", string(bucket),
			"reason", string(res.Reason),
			"bucket_count", res.BucketCount,
			"total_count", res.TotalCount,
		)
	}
	return &res, nil
}

// ReasonError maps a rejection reason onto the AppError the HTTP layer
// forwards as a 409.
func ReasonError(reason types.ClaimReason) *types.AppError {
	switch reason {
	case types.ClaimReasonTotalFull:
		return types.NewAppError(types.ErrCodeAllocationTotalFull, "the founding circle is full", nil)
	default:
		return types.NewAppError(types.ErrCodeAllocationBucketFull, "this founding cohort is full", nil)
	}
}
