package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"presto/internal/types"
)

func requestWithID(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	return req.WithContext(types.WithRequestID(req.Context(), "req_test_1"))
}

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body: %v\nbody: %s", err, rr.Body.String())
	}
	return resp
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, requestWithID("GET", "/v1/usage", ""), http.StatusOK, APIResponse{Data: map[string]int{"used": 3}})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rr.Body.String(), `"used":3`) {
		t.Errorf("body missing payload: %s", rr.Body.String())
	}
}

func TestError_AppErrorMapsCodeAndStatus(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{
			name:       "quota exceeded",
			err:        types.NewAppError(types.ErrCodeQuotaExceeded, "daily unit allowance exhausted", nil),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "quota_exceeded",
			retryable:  true,
		},
		{
			name:       "bucket full",
			err:        types.NewAppError(types.ErrCodeAllocationBucketFull, "this founding cohort is full", nil),
			wantStatus: http.StatusConflict,
			wantCode:   "allocation_bucket_limit_reached",
			retryable:  false,
		},
		{
			name:       "wrapped app error",
			err:        &wrapError{types.NewAppError(types.ErrCodeServiceUnavailable, "usage store is unreachable", nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "service_unavailable",
			retryable:  true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Error(rr, requestWithID("GET", "/v1/usage", ""), tc.err)

			if rr.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			resp := decodeErrorBody(t, rr)
			if resp.Error.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Error.Code, tc.wantCode)
			}
			if resp.Error.Retryable != tc.retryable {
				t.Errorf("retryable = %v, want %v", resp.Error.Retryable, tc.retryable)
			}
			if resp.Error.RequestID != "req_test_1" {
				t.Errorf("request_id = %q, want req_test_1", resp.Error.RequestID)
			}
		})
	}
}

func TestError_UnknownErrorIsOpaque500(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, requestWithID("GET", "/v1/usage", ""), errors.New("pq: relation profiles does not exist"))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	resp := decodeErrorBody(t, rr)
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q, want internal_unexpected_error", resp.Error.Code)
	}
	if strings.Contains(rr.Body.String(), "pq:") {
		t.Error("internal error detail leaked to client")
	}
}

type wrapError struct{ inner error }

func (w *wrapError) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapError) Unwrap() error { return w.inner }

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		TrickName string `json:"trick_name"`
	}

	cases := []struct {
		name    string
		body    string
		wantErr string // substring of the AppError message, empty for success
	}{
		{"valid", `{"trick_name":"ambitious card"}`, ""},
		{"empty body", ``, "must not be empty"},
		{"malformed", `{"trick_name"`, "malformed JSON"},
		{"bad syntax", `{]`, "malformed JSON"},
		{"wrong type", `{"trick_name":42}`, "invalid value for field"},
		{"unknown field", `{"trick":"x"}`, "unknown field"},
		{"trailing value", `{"trick_name":"x"}{"again":true}`, "single JSON object"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := requestWithID("POST", "/v1/assist/patter", tc.body)

			var dst payload
			err := DecodeJSON(rr, req, &dst)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("error is not an AppError: %v", err)
			}
			if appErr.Code != types.ErrCodeValidationInvalidJSON {
				t.Errorf("code = %q, want validation_invalid_json", appErr.Code)
			}
			if !strings.Contains(appErr.Message, tc.wantErr) {
				t.Errorf("message = %q, want substring %q", appErr.Message, tc.wantErr)
			}
		})
	}
}

func TestDecodeJSON_BodySizeCap(t *testing.T) {
	rr := httptest.NewRecorder()
	huge := `{"trick_name":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	req := requestWithID("POST", "/v1/assist/patter", huge)

	var dst struct {
		TrickName string `json:"trick_name"`
	}
	err := DecodeJSON(rr, req, &dst)
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if !strings.Contains(appErr.Message, "64KB") {
		t.Errorf("message = %q, want size-cap message", appErr.Message)
	}
}
