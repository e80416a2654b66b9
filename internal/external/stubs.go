package external

import (
	"context"
	"fmt"
	"log/slog"

	"presto/internal/types"
)

// Stub implementations let the application boot in local mode without vendor
// credentials. They log every call and return predictable, safe defaults.

// StubAssistant implements AssistantProvider with canned completions.
type StubAssistant struct {
	logger *slog.Logger
}

// NewStubAssistant creates a new StubAssistant.
func NewStubAssistant(logger *slog.Logger) *StubAssistant {
	return &StubAssistant{logger: logger}
}

func (s *StubAssistant) GeneratePatter(ctx context.Context, req PatterRequest) (*AssistantReply, error) {
	s.logger.InfoContext(ctx, "stub: GeneratePatter called", "trick", req.TrickName)
	return &AssistantReply{
		Content: fmt.Sprintf("[stub patter for %q] Ladies and gentlemen, watch closely...", req.TrickName),
		Model:   "stub",
	}, nil
}

func (s *StubAssistant) GenerateRoutine(ctx context.Context, req RoutineRequest) (*AssistantReply, error) {
	s.logger.InfoContext(ctx, "stub: GenerateRoutine called", "theme", req.Theme)
	return &AssistantReply{
		Content: fmt.Sprintf("[stub routine for theme %q] 1. Opener. 2. Middle. 3. Closer.", req.Theme),
		Model:   "stub",
	}, nil
}

// StubBillingGateway implements BillingGateway with test-safe defaults.
type StubBillingGateway struct {
	logger *slog.Logger
}

// NewStubBillingGateway creates a new StubBillingGateway.
func NewStubBillingGateway(logger *slog.Logger) *StubBillingGateway {
	return &StubBillingGateway{logger: logger}
}

func (s *StubBillingGateway) CreateFounderCheckout(ctx context.Context, userID string, bucket types.Bucket) (*CheckoutSession, error) {
	s.logger.InfoContext(ctx, "stub: CreateFounderCheckout called",
		"user_id", userID,
		"bucket", bucket,
	)
	return &CheckoutSession{
		ID:  fmt.Sprintf("cs_stub_%s", userID),
		URL: "https://checkout.stub.local/session",
	}, nil
}

func (s *StubBillingGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	s.logger.InfoContext(ctx, "stub: CancelSubscription called", "subscription_id", subscriptionID)
	return nil
}

// StubWebhookVerifier accepts every payload. Local mode only.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: webhook signature check skipped", "payload_bytes", len(payload))
	return nil
}

// Compile-time assertions.
var (
	_ AssistantProvider = (*StubAssistant)(nil)
	_ BillingGateway    = (*StubBillingGateway)(nil)
	_ WebhookVerifier   = (*StubWebhookVerifier)(nil)
)
