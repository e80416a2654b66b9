package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"presto/internal/auth"
	"presto/internal/core"
	"presto/internal/external"
	"presto/internal/types"
)

// Unit costs per assist operation. Routine generation produces a completion
// several times longer than patter, so it draws more units.
const (
	patterCost  = 1
	routineCost = 2
)

// QuotaGate is the reserving slice of the quota ledger.
type QuotaGate interface {
	Reserve(ctx context.Context, id types.Identity, ipHash string, costUnits int) (*types.ReservationResult, error)
	Refund(ctx context.Context, id types.Identity, costUnits int)
}

// AssistHandler serves the AI-gated endpoints. Every request follows
// reserve-then-proceed: units are committed before the provider call, and a
// provider failure triggers a best-effort refund. A client that hangs up
// mid-call gets no refund.
type AssistHandler struct {
	quota     QuotaGate
	assistant external.AssistantProvider
	resolver  *auth.Resolver
	validator *core.Validator
	logger    *slog.Logger
}

// NewAssistHandler creates an AssistHandler.
func NewAssistHandler(
	quota QuotaGate,
	assistant external.AssistantProvider,
	resolver *auth.Resolver,
	validator *core.Validator,
	logger *slog.Logger,
) *AssistHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistHandler{
		quota:     quota,
		assistant: assistant,
		resolver:  resolver,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the assist endpoints.
func (h *AssistHandler) RegisterRoutes(r chi.Router) {
	r.Post("/assist/patter", h.HandlePatter)
	r.Post("/assist/routine", h.HandleRoutine)
}

// patterRequest is the request body for POST /v1/assist/patter.
type patterRequest struct {
	TrickName string `json:"trick_name" validate:"required,max=200"`
	Audience  string `json:"audience" validate:"max=200"`
	Tone      string `json:"tone" validate:"max=100"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// routineRequest is the request body for POST /v1/assist/routine.
type routineRequest struct {
	Theme         string   `json:"theme" validate:"required,max=200"`
	DurationMin   int      `json:"duration_min" validate:"min=0,max=180"`
	SkillLevel    string   `json:"skill_level" validate:"max=100"`
	Props         []string `json:"props" validate:"max=20,dive,max=100"`
	OpeningEffect string   `json:"opening_effect" validate:"max=200"`
	ClosingEffect string   `json:"closing_effect" validate:"max=200"`
}

// assistResponse is the success payload for both assist endpoints.
type assistResponse struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	UnitsUsed int    `json:"units_used"`
	Remaining int    `json:"remaining"`
}

// HandlePatter runs the patter generation flow at a cost of one unit.
func (h *AssistHandler) HandlePatter(w http.ResponseWriter, r *http.Request) {
	var req patterRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	h.gated(w, r, patterCost, func(ctx context.Context) (*external.AssistantReply, error) {
		return h.assistant.GeneratePatter(ctx, external.PatterRequest{
			TrickName: req.TrickName,
			Audience:  req.Audience,
			Tone:      req.Tone,
			Notes:     req.Notes,
		})
	})
}

// HandleRoutine runs the routine structuring flow at a cost of two units.
func (h *AssistHandler) HandleRoutine(w http.ResponseWriter, r *http.Request) {
	var req routineRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	h.gated(w, r, routineCost, func(ctx context.Context) (*external.AssistantReply, error) {
		return h.assistant.GenerateRoutine(ctx, external.RoutineRequest{
			Theme:         req.Theme,
			DurationMin:   req.DurationMin,
			SkillLevel:    req.SkillLevel,
			Props:         req.Props,
			OpeningEffect: req.OpeningEffect,
			ClosingEffect: req.ClosingEffect,
		})
	})
}

// gated runs the reserve / call / refund-on-failure sequence shared by both
// endpoints.
func (h *AssistHandler) gated(
	w http.ResponseWriter,
	r *http.Request,
	cost int,
	call func(context.Context) (*external.AssistantReply, error),
) {
	id, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthorized,
			"request identity could not be resolved", nil))
		return
	}

	ipHash := h.resolver.HashIP(auth.ClientIP(r))

	res, err := h.quota.Reserve(r.Context(), id, ipHash, cost)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !res.OK {
		h.writeRejection(w, r, res)
		return
	}

	reply, err := call(r.Context())
	if err != nil {
		// The reservation was committed but the provider never delivered;
		// give the units back. Refund logs its own failures.
		h.quota.Refund(r.Context(), id, cost)
		core.Error(w, r, err)
		return
	}

	w.Header().Set("X-Quota-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(res.Remaining))
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: assistResponse{
		Content:   reply.Content,
		Model:     reply.Model,
		UnitsUsed: cost,
		Remaining: res.Remaining,
	}})
}

// writeRejection translates a failed reservation into the right 429.
func (h *AssistHandler) writeRejection(w http.ResponseWriter, r *http.Request, res *types.ReservationResult) {
	details := map[string]any{
		"remaining": res.Remaining,
		"limit":     res.Limit,
	}
	if res.RetryAt != nil {
		details["retry_at"] = res.RetryAt.Format(time.RFC3339)
		secs := int(time.Until(*res.RetryAt).Seconds()) + 1
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	var msg string
	switch res.Reason {
	case types.ErrCodeRateLimited:
		msg = fmt.Sprintf("burst limit of %d requests per minute exceeded", res.BurstLimit)
	case types.ErrCodeQuotaExceeded:
		msg = "daily unit allowance exhausted"
	default:
		msg = "reservation rejected"
	}

	core.Error(w, r, types.NewAppErrorWithDetails(res.Reason, msg, nil, details))
}
