// Package handlers contains the HTTP handler implementations for the Presto
// API. Each handler declares the narrow interfaces it needs so tests can
// fake collaborators without touching the real subsystems.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"presto/internal/core"
	"presto/internal/types"
)

// UsageReader is the read-only slice of the quota ledger the usage endpoint
// needs.
type UsageReader interface {
	CheckStatus(ctx context.Context, id types.Identity) (*types.UsageStatus, error)
}

// UsageHandler serves GET /v1/usage.
type UsageHandler struct {
	ledger UsageReader
	logger *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(ledger UsageReader, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{ledger: ledger, logger: logger}
}

// RegisterRoutes mounts the usage endpoint.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.HandleGet)
}

// HandleGet answers "how much do I have left" for the request's identity.
// The response never mutates counters: checking your balance is free.
func (h *UsageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthorized,
			"request identity could not be resolved", nil))
		return
	}

	status, err := h.ledger.CheckStatus(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: status})
}
