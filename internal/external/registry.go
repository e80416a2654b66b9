package external

import (
	"log/slog"
	"net/http"
	"time"

	"presto/internal/config"
)

// ClientRegistry is the single access point for third-party services. In
// local mode it is populated with stubs so the process boots without any
// vendor credentials; everywhere else it holds real clients with strict
// per-vendor timeouts.
type ClientRegistry struct {
	Assistant AssistantProvider
	Billing   BillingGateway

	StripeVerifier WebhookVerifier
}

// NewClientRegistry initializes the vendor clients from config. APP_ENV=local
// selects stub implementations.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Environment == "local" {
		logger.Info("initializing external clients in stub mode", "environment", cfg.Environment)
		return newStubRegistry(logger)
	}

	logger.Info("initializing external clients", "environment", cfg.Environment)

	assistant := NewOpenAIAssistant(OpenAIAssistantConfig{
		APIKey:  cfg.Assistant.OpenAIKey.Unmask(),
		Model:   cfg.Assistant.Model,
		Timeout: cfg.Assistant.CallTimeout,
		Logger:  logger.With("client", "openai"),
	})

	// Stripe gets a generous transport timeout; checkout session creation
	// is slow at the tail.
	billing := NewStripeGateway(&http.Client{Timeout: 20 * time.Second}, StripeGatewayConfig{
		SecretKey:      cfg.Billing.StripeSecretKey.Unmask(),
		FounderPriceID: cfg.Billing.FounderPriceID,
		AppURL:         cfg.Server.AppURL,
		Logger:         logger.With("client", "stripe"),
	})

	return &ClientRegistry{
		Assistant:      assistant,
		Billing:        billing,
		StripeVerifier: &StripeVerifier{},
	}
}

func newStubRegistry(logger *slog.Logger) *ClientRegistry {
	stubLogger := logger.With("mode", "stub")
	return &ClientRegistry{
		Assistant:      NewStubAssistant(stubLogger),
		Billing:        NewStubBillingGateway(stubLogger),
		StripeVerifier: NewStubWebhookVerifier(stubLogger),
	}
}
