package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"presto/internal/core"
	"presto/internal/external"
	"presto/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads at 64 KB.
const maxWebhookBodySize = 64 * 1024

// MembershipUpdater is the profile-store slice the webhook needs for
// subscription lifecycle events.
type MembershipUpdater interface {
	UpdateMembership(ctx context.Context, userID string, membership string) error
}

// StripeWebhookHandler processes asynchronous Stripe events. It is mounted
// outside the identity middleware -- Stripe calls it directly -- and
// authenticates by verifying the Stripe-Signature header instead.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	register SeatClaimer
	billing  external.BillingGateway
	profiles MembershipUpdater
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	register SeatClaimer,
	billing external.BillingGateway,
	profiles MembershipUpdater,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		register: register,
		billing:  billing,
		profiles: profiles,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the
// authenticated registrars because this route is public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies the signature, parses the event, and routes it. Processing
// failures are logged but still acknowledged with 200 so Stripe does not
// retry forever against a bug.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON,
			"failed to read webhook body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)
	case external.EventStripeSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type)
		return nil
	}
}

// handleCheckoutCompleted re-runs the founder seat claim after payment. The
// claim is idempotent, so for the common case (seat already held from the
// synchronous flow) this is a no-op confirmation. When the claim comes back
// full -- the user paid but lost the seat race -- the subscription is
// cancelled best-effort so the charge reverses.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	session, err := event.checkoutSession()
	if err != nil {
		return fmt.Errorf("checkout.session.completed: %w", err)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		return fmt.Errorf("checkout.session.completed: missing user_id in event %s", event.ID)
	}

	bucket := types.Bucket(session.Metadata["bucket"])
	if !types.ValidBucket(bucket) {
		return fmt.Errorf("checkout.session.completed: bad bucket %q in event %s",
			session.Metadata["bucket"], event.ID)
	}

	result, err := h.register.Claim(ctx, userID, bucket)
	if err != nil {
		return fmt.Errorf("safety-net claim: %w", err)
	}
	if result.OK {
		h.logger.InfoContext(ctx, "founder seat confirmed after payment",
			"user_id", userID,
			"bucket", bucket,
			"bucket_count", result.BucketCount,
		)
		return nil
	}

	// Paid but no seat. Reverse the payment.
	h.logger.WarnContext(ctx, "paid founder claim lost the seat race",
		"user_id", userID,
		"bucket", bucket,
		"reason", result.Reason,
	)
	if session.Subscription != "" {
		if cancelErr := h.billing.CancelSubscription(ctx, session.Subscription); cancelErr != nil {
			h.logger.ErrorContext(ctx, "failed to cancel subscription after lost seat race",
				"user_id", userID,
				"subscription_id", session.Subscription,
				"error", cancelErr,
			)
		}
	}
	return nil
}

// handleSubscriptionDeleted expires the user's membership when their
// subscription ends.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscription()
	if err != nil {
		return fmt.Errorf("customer.subscription.deleted: %w", err)
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		return fmt.Errorf("customer.subscription.deleted: missing user_id in event %s", event.ID)
	}

	if err := h.profiles.UpdateMembership(ctx, userID, string(types.TierExpired)); err != nil {
		return fmt.Errorf("expire membership: %w", err)
	}

	h.logger.InfoContext(ctx, "membership expired after subscription deletion", "user_id", userID)
	return nil
}

// ---------------------------------------------------------------------------
// Stripe event parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal event shape carrying only what routing
// needs. Avoiding the full stripe.Event type keeps the handler decoupled
// from the vendor library and trivial to construct in tests.
type stripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Subscription      string            `json:"subscription"`
}

type stripeSubscriptionObj struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func (e *stripeWebhookEvent) checkoutSession() (*stripeCheckoutSessionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding event data: %w", err)
	}
	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(data.Object, &session); err != nil {
		return nil, fmt.Errorf("decoding checkout session: %w", err)
	}
	return &session, nil
}

func (e *stripeWebhookEvent) subscription() (*stripeSubscriptionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding event data: %w", err)
	}
	var sub stripeSubscriptionObj
	if err := json.Unmarshal(data.Object, &sub); err != nil {
		return nil, fmt.Errorf("decoding subscription: %w", err)
	}
	return &sub, nil
}
