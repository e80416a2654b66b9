package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"presto/internal/types"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// patterSystemPrompt frames the model as a scriptwriter for working
// magicians. Kept short; the per-request details live in the user message.
const patterSystemPrompt = "You are a script doctor for working magicians. " +
	"Write spoken patter that sounds natural out loud, cues the key beats of " +
	"the trick, and never exposes the method. Output only the script."

const routineSystemPrompt = "You are a show director for working magicians. " +
	"Structure a complete routine: running order, transitions, timing per " +
	"effect, and audience-management notes. Never expose methods."

// OpenAIAssistant implements AssistantProvider over the OpenAI chat
// completion API. The go-openai client does its own HTTP; resilience is
// layered on with a circuit breaker around each completion call and a
// per-call timeout, since a hung provider call is a paid reservation
// burning wall-clock time.
type OpenAIAssistant struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[openai.ChatCompletionResponse]
	logger  *slog.Logger
}

// OpenAIAssistantConfig holds the provider credentials and tuning.
type OpenAIAssistantConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewOpenAIAssistant builds the production assistant provider.
func NewOpenAIAssistant(cfg OpenAIAssistantConfig) *OpenAIAssistant {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[openai.ChatCompletionResponse](gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &OpenAIAssistant{
		client:  openai.NewClient(cfg.APIKey),
		model:   model,
		timeout: timeout,
		breaker: cb,
		logger:  logger,
	}
}

// GeneratePatter implements AssistantProvider.
func (a *OpenAIAssistant) GeneratePatter(ctx context.Context, req PatterRequest) (*AssistantReply, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Trick: %s\n", req.TrickName)
	if req.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", req.Audience)
	}
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	if req.Notes != "" {
		fmt.Fprintf(&b, "Performer notes: %s\n", req.Notes)
	}
	b.WriteString("Write the patter.")

	return a.complete(ctx, "GeneratePatter", patterSystemPrompt, b.String(), 400, 0.8)
}

// GenerateRoutine implements AssistantProvider.
func (a *OpenAIAssistant) GenerateRoutine(ctx context.Context, req RoutineRequest) (*AssistantReply, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s\n", req.Theme)
	if req.DurationMin > 0 {
		fmt.Fprintf(&b, "Target length: %d minutes\n", req.DurationMin)
	}
	if req.SkillLevel != "" {
		fmt.Fprintf(&b, "Performer skill level: %s\n", req.SkillLevel)
	}
	if len(req.Props) > 0 {
		fmt.Fprintf(&b, "Available props: %s\n", strings.Join(req.Props, ", "))
	}
	if req.OpeningEffect != "" {
		fmt.Fprintf(&b, "Requested opener: %s\n", req.OpeningEffect)
	}
	if req.ClosingEffect != "" {
		fmt.Fprintf(&b, "Requested closer: %s\n", req.ClosingEffect)
	}
	b.WriteString("Structure the routine.")

	return a.complete(ctx, "GenerateRoutine", routineSystemPrompt, b.String(), 900, 0.6)
}

// complete runs one chat completion through the breaker.
func (a *OpenAIAssistant) complete(
	ctx context.Context,
	operation string,
	systemPrompt string,
	userPrompt string,
	maxTokens int,
	temperature float32,
) (*AssistantReply, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.breaker.Execute(func() (openai.ChatCompletionResponse, error) {
		return a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	})
	if err != nil {
		return nil, a.mapError(operation, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamAssistant,
			operation+": provider returned an empty completion", nil)
	}

	return &AssistantReply{
		Content:         resp.Choices[0].Message.Content,
		Model:           resp.Model,
		CompletionUnits: resp.Usage.CompletionTokens,
	}, nil
}

// mapError translates provider failures into AppErrors. Provider 429s map
// to the retryable upstream rate-limit code so clients back off instead of
// burning their own quota on doomed retries.
func (a *OpenAIAssistant) mapError(operation string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamAssistant,
			operation+": assistant circuit breaker open", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited,
				operation+": provider rate limit exceeded", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamAssistant,
			fmt.Sprintf("%s: provider error (%d)", operation, apiErr.HTTPStatusCode), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamAssistant,
			operation+": provider call timed out", err)
	}

	return types.NewAppError(types.ErrCodeUpstreamAssistant,
		operation+": provider request failed", err)
}

// Compile-time assertion that OpenAIAssistant satisfies AssistantProvider.
var _ AssistantProvider = (*OpenAIAssistant)(nil)
