package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nugget/refine/internal/config"
	"github.com/nugget/refine/internal/httpkit"
)

// OpenAIClient implements Client using the official openai-go SDK (chat
// completions). It also serves OpenAI-compatible gateways through a
// custom base URL.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI client. The SDK's built-in retries
// are disabled: every Chat call is exactly one request.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpkit.NewClient()),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: logger.With("provider", "openai"),
	}
}

// Chat sends a chat completion request.
func (o *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, maxTokens int) (*ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	o.logger.Debug("preparing request", "model", model, "messages", len(msgs), "max_tokens", maxTokens)

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return nil, o.convertError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	result := &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:    RoleAssistant,
			Content: choice.Message.Content,
		},
		StopReason:   choice.FinishReason,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Duration:     time.Since(start),
	}

	o.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"stop_reason", result.StopReason,
		"duration", result.Duration,
	)
	o.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping lists models, which requires a valid key and costs nothing.
func (o *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return o.convertError(err)
	}
	return nil
}

// convertError maps SDK errors onto APIError so that authentication and
// throttling classify the same way as the Anthropic client.
func (o *OpenAIClient) convertError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		o.logger.Error("API error", "status", apierr.StatusCode, "type", apierr.Type, "message", apierr.Message)
		return &APIError{
			Provider:   "openai",
			StatusCode: apierr.StatusCode,
			Type:       apierr.Type,
			Message:    apierr.Message,
		}
	}
	return fmt.Errorf("request failed: %w", err)
}
