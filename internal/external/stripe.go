package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"presto/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// StripeGatewayConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeGatewayConfig holds the configuration for creating a StripeGateway.
type StripeGatewayConfig struct {
	SecretKey      string
	FounderPriceID string
	// AppURL is the public frontend origin for checkout redirects.
	AppURL  string
	BaseURL string // override for testing; defaults to stripeAPIBase
	Logger  *slog.Logger
}

// StripeGateway implements BillingGateway with direct form-encoded calls to
// the Stripe REST API through BaseClient, so Stripe traffic shares the
// platform's circuit breaker and retry behavior and tests can point it at
// an httptest server.
type StripeGateway struct {
	base      *BaseClient
	secretKey string
	priceID   string
	appURL    string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeGateway creates the production billing gateway. The httpClient
// should carry a timeout of its own (20s in cmd/api).
func NewStripeGateway(httpClient *http.Client, cfg StripeGatewayConfig) *StripeGateway {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		types.ErrCodeUpstreamStripe,
	)
	return newStripeGateway(base, cfg)
}

// NewStripeGatewayWithBase creates a StripeGateway with a pre-configured
// BaseClient, which lets tests control the retry and breaker behavior.
func NewStripeGatewayWithBase(base *BaseClient, cfg StripeGatewayConfig) *StripeGateway {
	return newStripeGateway(base, cfg)
}

func newStripeGateway(base *BaseClient, cfg StripeGatewayConfig) *StripeGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeGateway{
		base:      base,
		secretKey: cfg.SecretKey,
		priceID:   cfg.FounderPriceID,
		appURL:    strings.TrimSuffix(cfg.AppURL, "/"),
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateFounderCheckout opens a subscription-mode checkout session for the
// locked founder price. client_reference_id and metadata carry the user and
// bucket so the webhook handler can re-run the seat claim on completion.
func (s *StripeGateway) CreateFounderCheckout(
	ctx context.Context,
	userID string,
	bucket types.Bucket,
) (*CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("client_reference_id", userID)
	params.Set("success_url", s.appURL+"/founders/welcome?session_id={CHECKOUT_SESSION_ID}")
	params.Set("cancel_url", s.appURL+"/founders")
	params.Set("metadata[user_id]", userID)
	params.Set("metadata[bucket]", string(bucket))
	params.Set("line_items[0][price]", s.priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return nil, s.wrapStripeError("CreateFounderCheckout", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateFounderCheckout")
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response", err)
	}
	return &session, nil
}

// CancelSubscription cancels the subscription immediately. The founder
// webhook path calls this when a completed payment loses the seat race;
// the caller logs failures and moves on.
func (s *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"CancelSubscription: subscription ID is empty", nil)
	}

	resp, err := s.doDelete(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID))
	if err != nil {
		return s.wrapStripeError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "CancelSubscription")
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (s *StripeGateway) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeGateway) doDelete(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeGateway) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleErrorResponse reads a Stripe error response into a types.AppError.
func (s *StripeGateway) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation), nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message), nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
			map[string]any{"stripe_code": stripeErr.Error.Code, "stripe_type": stripeErr.Error.Type})
	}
}

// wrapStripeError wraps a BaseClient transport error with operation context.
// AppErrors from BaseClient already carry the right upstream code.
func (s *StripeGateway) wrapStripeError(operation string, err error) error {
	if appErr, ok := err.(*types.AppError); ok {
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed", operation), err)
}

// ---------------------------------------------------------------------------
// Webhook verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// Compile-time assertions.
var (
	_ BillingGateway  = (*StripeGateway)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
