package external

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presto/internal/types"
)

func newTestStripeGateway(t *testing.T, handler http.HandlerFunc) (*StripeGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := NewBaseClient(srv.Client(), "stripe",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
		types.ErrCodeUpstreamStripe,
		WithSleepFunc(func(time.Duration) {}),
	)
	gw := NewStripeGatewayWithBase(base, StripeGatewayConfig{
		SecretKey:      "sk_test_xyz",
		FounderPriceID: "price_founder_123",
		AppURL:         "https://presto.app/",
		BaseURL:        srv.URL,
	})
	return gw, srv
}

func TestCreateFounderCheckout(t *testing.T) {
	var gotPath, gotAuth string
	var gotForm url.Values
	gw, _ := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	})

	session, err := gw.CreateFounderCheckout(context.Background(), "user_1", types.BucketPrimary)
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)

	assert.Equal(t, "/v1/checkout/sessions", gotPath)
	assert.Equal(t, "Bearer sk_test_xyz", gotAuth)
	assert.Equal(t, "subscription", gotForm.Get("mode"))
	assert.Equal(t, "user_1", gotForm.Get("client_reference_id"))
	assert.Equal(t, "user_1", gotForm.Get("metadata[user_id]"))
	assert.Equal(t, "primary_2026", gotForm.Get("metadata[bucket]"))
	assert.Equal(t, "price_founder_123", gotForm.Get("line_items[0][price]"))
	assert.Equal(t, "1", gotForm.Get("line_items[0][quantity]"))
	// Trailing slash on AppURL must not produce a double slash.
	assert.Equal(t, "https://presto.app/founders/welcome?session_id={CHECKOUT_SESSION_ID}", gotForm.Get("success_url"))
	assert.Equal(t, "https://presto.app/founders", gotForm.Get("cancel_url"))
}

func TestCreateFounderCheckout_StripeErrorBody(t *testing.T) {
	gw, _ := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price"}}`))
	})

	_, err := gw.CreateFounderCheckout(context.Background(), "user_1", types.BucketPrimary)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamStripe, appErr.Code)
	assert.Equal(t, "resource_missing", appErr.Details["stripe_code"])
	assert.Equal(t, "invalid_request_error", appErr.Details["stripe_type"])
}

func TestCreateFounderCheckout_ServerErrorAfterRetries(t *testing.T) {
	calls := 0
	gw, _ := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := gw.CreateFounderCheckout(context.Background(), "user_1", types.BucketPrimary)
	require.Error(t, err)
	assert.Equal(t, 2, calls, "one attempt plus one retry")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamStripe, appErr.Code)
}

func TestCancelSubscription(t *testing.T) {
	var gotMethod, gotPath string
	gw, _ := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"sub_1","status":"canceled"}`))
	})

	err := gw.CancelSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/subscriptions/sub_1", gotPath)
}

func TestCancelSubscription_EmptyID(t *testing.T) {
	gw, _ := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent for an empty subscription ID")
	})

	err := gw.CancelSubscription(context.Background(), "")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestStubBillingGateway(t *testing.T) {
	stub := NewStubBillingGateway(slog.Default())

	session, err := stub.CreateFounderCheckout(context.Background(), "user_1", types.BucketPrimary)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.NotEmpty(t, session.URL)

	assert.NoError(t, stub.CancelSubscription(context.Background(), "sub_1"))
}

func TestStubAssistant(t *testing.T) {
	stub := NewStubAssistant(slog.Default())

	patter, err := stub.GeneratePatter(context.Background(), PatterRequest{TrickName: "ambitious card"})
	require.NoError(t, err)
	assert.NotEmpty(t, patter.Content)

	routine, err := stub.GenerateRoutine(context.Background(), RoutineRequest{Theme: "seance"})
	require.NoError(t, err)
	assert.NotEmpty(t, routine.Content)
}
