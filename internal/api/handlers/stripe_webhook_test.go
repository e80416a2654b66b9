package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"presto/internal/types"
)

// =============================================================================
// Mock WebhookVerifier / MembershipUpdater
// =============================================================================

type mockVerifier struct {
	err error

	payloads [][]byte
	headers  []string
}

func (m *mockVerifier) Verify(payload []byte, header string, secret string) error {
	m.payloads = append(m.payloads, payload)
	m.headers = append(m.headers, header)
	return m.err
}

type mockMembershipUpdater struct {
	updateFn func(ctx context.Context, userID string, membership string) error

	updates map[string]string
}

func (m *mockMembershipUpdater) UpdateMembership(ctx context.Context, userID string, membership string) error {
	if m.updates == nil {
		m.updates = make(map[string]string)
	}
	m.updates[userID] = membership
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, membership)
	}
	return nil
}

var _ MembershipUpdater = (*mockMembershipUpdater)(nil)

// =============================================================================
// Test helpers
// =============================================================================

type webhookFixture struct {
	verifier *mockVerifier
	register *mockSeatClaimer
	billing  *mockBillingGateway
	profiles *mockMembershipUpdater
	handler  *StripeWebhookHandler
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{
		verifier: &mockVerifier{},
		register: &mockSeatClaimer{},
		billing:  &mockBillingGateway{},
		profiles: &mockMembershipUpdater{},
	}
	f.handler = NewStripeWebhookHandler(f.verifier, f.register, f.billing, f.profiles, "whsec_test", nil)
	return f
}

func (f *webhookFixture) post(t *testing.T, payload string, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/webhooks/stripe", strings.NewReader(payload))
	req = req.WithContext(types.WithRequestID(req.Context(), "req_test_123"))
	if signed {
		req.Header.Set("Stripe-Signature", "t=1755165000,v1=deadbeef")
	}
	rr := httptest.NewRecorder()
	f.handler.Handle(rr, req)
	return rr
}

func checkoutCompletedPayload(clientRef, metaUserID, bucket, subscription string) string {
	return fmt.Sprintf(`{
		"id": "evt_test_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"client_reference_id": %q,
				"subscription": %q,
				"metadata": {"user_id": %q, "bucket": %q}
			}
		}
	}`, clientRef, subscription, metaUserID, bucket)
}

func subscriptionDeletedPayload(userID string) string {
	return fmt.Sprintf(`{
		"id": "evt_test_2",
		"type": "customer.subscription.deleted",
		"data": {
			"object": {
				"id": "sub_test_9",
				"metadata": {"user_id": %q}
			}
		}
	}`, userID)
}

// =============================================================================
// Signature handling
// =============================================================================

func TestWebhook_MissingSignature(t *testing.T) {
	f := newWebhookFixture()
	rr := f.post(t, checkoutCompletedPayload("user_1", "", "primary_2026", "sub_1"), false)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	assertErrorCode(t, rr, types.ErrCodeAuthTokenMissing)
	if len(f.register.claims) != 0 {
		t.Error("unverified event was processed")
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	f := newWebhookFixture()
	f.verifier.err = errors.New("signature mismatch")
	rr := f.post(t, checkoutCompletedPayload("user_1", "", "primary_2026", "sub_1"), true)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	assertErrorCode(t, rr, types.ErrCodeAuthTokenInvalid)
	if len(f.register.claims) != 0 {
		t.Error("unverified event was processed")
	}
}

func TestWebhook_VerifierSeesRawPayload(t *testing.T) {
	f := newWebhookFixture()
	payload := checkoutCompletedPayload("user_1", "", "primary_2026", "sub_1")
	f.post(t, payload, true)

	if len(f.verifier.payloads) != 1 || string(f.verifier.payloads[0]) != payload {
		t.Error("verifier did not receive the exact raw body")
	}
}

// =============================================================================
// checkout.session.completed
// =============================================================================

func TestWebhook_CheckoutCompleted_ConfirmsSeat(t *testing.T) {
	f := newWebhookFixture()
	rr := f.post(t, checkoutCompletedPayload("user_1", "", "primary_2026", "sub_1"), true)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(f.register.claims) != 1 || f.register.claims[0] != "user_1" {
		t.Errorf("claims = %v", f.register.claims)
	}
	if len(f.billing.cancelled) != 0 {
		t.Error("successful confirmation must not cancel anything")
	}
}

func TestWebhook_CheckoutCompleted_UserIDFromMetadataFallback(t *testing.T) {
	f := newWebhookFixture()
	f.post(t, checkoutCompletedPayload("", "user_meta", "reserve_2026", "sub_1"), true)

	if len(f.register.claims) != 1 || f.register.claims[0] != "user_meta" {
		t.Errorf("claims = %v, want metadata user_id fallback", f.register.claims)
	}
}

func TestWebhook_CheckoutCompleted_LostRaceCancelsSubscription(t *testing.T) {
	f := newWebhookFixture()
	f.register.claimFn = func(ctx context.Context, userID string, bucket types.Bucket) (*types.ClaimResult, error) {
		return &types.ClaimResult{OK: false, Reason: types.ClaimReasonBucketFull, BucketCount: 75}, nil
	}
	rr := f.post(t, checkoutCompletedPayload("user_1", "", "primary_2026", "sub_race"), true)

	// Stripe still gets a 200; the reversal happens out of band.
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if len(f.billing.cancelled) != 1 || f.billing.cancelled[0] != "sub_race" {
		t.Errorf("cancelled = %v, want [sub_race]", f.billing.cancelled)
	}
}

func TestWebhook_CheckoutCompleted_CancelFailureStillAcks(t *testing.T) {
	f := newWebhookFixture()
	f.register.claimFn = func(ctx context.Context, userID string, bucket types.Bucket) (*types.ClaimResult, error) {
		return &types.ClaimResult{OK: false, Reason: types.ClaimReasonTotalFull}, nil
	}
	f.billing.cancelErr = errors.New("stripe 500")
	rr := f.post(t, checkoutCompletedPayload("user_1", "", "primary_2026", "sub_race"), true)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even when the cancel fails", rr.Code)
	}
}

func TestWebhook_CheckoutCompleted_MalformedEventStillAcks(t *testing.T) {
	f := newWebhookFixture()

	cases := []struct {
		name    string
		payload string
	}{
		{"missing user", checkoutCompletedPayload("", "", "primary_2026", "sub_1")},
		{"bad bucket", checkoutCompletedPayload("user_1", "", "gold_2026", "sub_1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.post(t, tc.payload, true)
			// Processing failed, but retrying will not help; ack anyway.
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rr.Code)
			}
		})
	}
	if len(f.register.claims) != 0 {
		t.Errorf("malformed events reached the register: %v", f.register.claims)
	}
}

func TestWebhook_ClaimErrorStillAcks(t *testing.T) {
	f := newWebhookFixture()
	f.register.claimFn = func(ctx context.Context, userID string, bucket types.Bucket) (*types.ClaimResult, error) {
		return nil, types.NewAppError(types.ErrCodeServiceUnavailable, "allocation store is unreachable", nil)
	}
	rr := f.post(t, checkoutCompletedPayload("user_1", "", "primary_2026", "sub_1"), true)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; Stripe retries are bounded by its own schedule", rr.Code)
	}
}

// =============================================================================
// customer.subscription.deleted
// =============================================================================

func TestWebhook_SubscriptionDeleted_ExpiresMembership(t *testing.T) {
	f := newWebhookFixture()
	rr := f.post(t, subscriptionDeletedPayload("user_1"), true)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if f.profiles.updates["user_1"] != string(types.TierExpired) {
		t.Errorf("updates = %v, want user_1 expired", f.profiles.updates)
	}
}

func TestWebhook_SubscriptionDeleted_MissingUserStillAcks(t *testing.T) {
	f := newWebhookFixture()
	rr := f.post(t, subscriptionDeletedPayload(""), true)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if len(f.profiles.updates) != 0 {
		t.Errorf("updates = %v, want none", f.profiles.updates)
	}
}

// =============================================================================
// Routing
// =============================================================================

func TestWebhook_UnhandledEventTypeIgnored(t *testing.T) {
	f := newWebhookFixture()
	rr := f.post(t, `{"id":"evt_x","type":"invoice.paid","data":{"object":{}}}`, true)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if len(f.register.claims) != 0 || len(f.profiles.updates) != 0 {
		t.Error("unhandled event type triggered processing")
	}
}

func TestWebhook_InvalidJSON(t *testing.T) {
	f := newWebhookFixture()
	rr := f.post(t, `{"id":`, true)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	assertErrorCode(t, rr, types.ErrCodeValidationInvalidJSON)
}
