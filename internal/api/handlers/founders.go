package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"presto/internal/alloc"
	"presto/internal/core"
	"presto/internal/external"
	"presto/internal/types"
)

// SeatClaimer is the slice of the allocation register the founder flow needs.
type SeatClaimer interface {
	Claim(ctx context.Context, userID string, bucket types.Bucket) (*types.ClaimResult, error)
}

// FoundersHandler serves POST /v1/founders/claim: claim a seat in the
// requested cohort, then open a Stripe checkout session for the locked
// founder price. The seat is claimed before payment; the webhook handler
// re-runs the claim on checkout completion as a safety net against races.
type FoundersHandler struct {
	register  SeatClaimer
	billing   external.BillingGateway
	validator *core.Validator
	logger    *slog.Logger
}

// NewFoundersHandler creates a FoundersHandler.
func NewFoundersHandler(
	register SeatClaimer,
	billing external.BillingGateway,
	validator *core.Validator,
	logger *slog.Logger,
) *FoundersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FoundersHandler{
		register:  register,
		billing:   billing,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the founder claim endpoint.
func (h *FoundersHandler) RegisterRoutes(r chi.Router) {
	r.Post("/founders/claim", h.HandleClaim)
}

// claimRequest is the request body for POST /v1/founders/claim.
type claimRequest struct {
	Bucket string `json:"bucket" validate:"required"`
}

// claimResponse is the success payload.
type claimResponse struct {
	Bucket      types.Bucket `json:"bucket"`
	BucketCount int          `json:"bucket_count"`
	TotalCount  int          `json:"total_count"`
	CheckoutURL string       `json:"checkout_url,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
}

// HandleClaim requires an authenticated user: anonymous visitors cannot hold
// a founder seat.
func (h *FoundersHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := types.GetIdentity(r.Context())
	if !ok || id.Kind != types.IdentityUser {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthorized,
			"founder claims require an authenticated account", nil))
		return
	}

	var req claimRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	bucket := types.Bucket(req.Bucket)
	if !types.ValidBucket(bucket) {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBucket,
			"unknown founder bucket", nil, map[string]any{"bucket": req.Bucket}))
		return
	}

	result, err := h.register.Claim(r.Context(), id.Key, bucket)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !result.OK {
		core.Error(w, r, alloc.ReasonError(result.Reason).WithDetails(map[string]any{
			"bucket":       bucket,
			"bucket_count": result.BucketCount,
			"total_count":  result.TotalCount,
		}))
		return
	}

	resp := claimResponse{
		Bucket:      result.Bucket,
		BucketCount: result.BucketCount,
		TotalCount:  result.TotalCount,
	}

	// The seat is held; checkout failure is surfaced but does not release
	// it. The user retries payment against an already-admitted claim.
	session, err := h.billing.CreateFounderCheckout(r.Context(), id.Key, bucket)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "founder checkout session creation failed",
			"user_id", id.Key,
			"bucket", bucket,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}
	resp.CheckoutURL = session.URL
	resp.SessionID = session.ID

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}
