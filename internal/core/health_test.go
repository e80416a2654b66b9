package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubProbe struct {
	name string
	err  error
	// block, when set, holds the probe until the handler's deadline expires.
	block bool
}

func (p *stubProbe) Name() string { return p.name }

func (p *stubProbe) Check(ctx context.Context) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func runHealth(t *testing.T, probes ...HealthProbe) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rr := httptest.NewRecorder()
	srv.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid health body: %v\nbody: %s", err, rr.Body.String())
	}
	return rr, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	rr, resp := runHealth(t)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	rr, resp := runHealth(t,
		&stubProbe{name: "database"},
		&stubProbe{name: "cache"},
	)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if resp.Components["database"].Status != "healthy" {
		t.Errorf("database = %+v", resp.Components["database"])
	}
	if resp.Components["cache"].Status != "healthy" {
		t.Errorf("cache = %+v", resp.Components["cache"])
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	rr, resp := runHealth(t,
		&stubProbe{name: "database", err: errors.New("connection refused")},
		&stubProbe{name: "cache"},
	)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
	if resp.Components["database"].Message != "connection refused" {
		t.Errorf("database message = %q", resp.Components["database"].Message)
	}
	if resp.Components["cache"].Status != "healthy" {
		t.Errorf("healthy probe dragged down: %+v", resp.Components["cache"])
	}
}

func TestHandleHealth_HangingProbeTimesOut(t *testing.T) {
	rr, resp := runHealth(t, &stubProbe{name: "database", block: true})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
}
