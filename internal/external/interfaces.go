package external

import (
	"context"

	"presto/internal/types"
)

// AssistantProvider is the gated AI provider behind the quota ledger. Every
// call through this interface has already paid its units; a failure after
// the reservation is what triggers the ledger's best-effort refund.
type AssistantProvider interface {
	// GeneratePatter writes spoken-delivery script for a single trick.
	GeneratePatter(ctx context.Context, req PatterRequest) (*AssistantReply, error)

	// GenerateRoutine structures a full multi-trick set. Costs more units
	// than patter because the completion is substantially longer.
	GenerateRoutine(ctx context.Context, req RoutineRequest) (*AssistantReply, error)
}

// PatterRequest describes the trick the performer wants lines for.
type PatterRequest struct {
	TrickName string
	Audience  string // e.g. "close-up table", "kids party", "corporate stage"
	Tone      string // e.g. "comedic", "mysterious", "deadpan"
	Notes     string
}

// RoutineRequest describes the set the performer wants structured.
type RoutineRequest struct {
	Theme          string
	DurationMin    int
	SkillLevel     string
	Props          []string
	OpeningEffect  string
	ClosingEffect  string
}

// AssistantReply is the normalized provider output returned to handlers.
type AssistantReply struct {
	Content         string `json:"content"`
	Model           string `json:"model"`
	CompletionUnits int    `json:"-"` // provider token count, telemetry only
}

// CheckoutSession is the subset of a Stripe Checkout Session the founder
// flow needs.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// BillingGateway abstracts the Stripe surface used by the founder flow.
type BillingGateway interface {
	// CreateFounderCheckout opens a checkout session for the locked founder
	// price, tagged with the user and cohort bucket for webhook correlation.
	CreateFounderCheckout(ctx context.Context, userID string, bucket types.Bucket) (*CheckoutSession, error)

	// CancelSubscription cancels a Stripe subscription immediately. Used as
	// the payment-reversal path when a paid founder claim loses the seat
	// race. Callers treat failures as log-only.
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the signature header and
	// signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in the webhook handler.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)
