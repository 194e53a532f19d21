// Package openai implements majordomo.Provider over the OpenAI Chat
// Completions API using the official SDK.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/giquina/majordomo"
)

// ChatClient is the subset of the SDK client the adapter uses.
// Satisfied by the SDK's chat completion service; tests pass a mock.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// OpenAI implements majordomo.Provider.
type OpenAI struct {
	chat    ChatClient
	model   string
	classes map[majordomo.TaskClass]bool
}

var _ majordomo.Provider = (*OpenAI)(nil)

// Option configures an OpenAI provider.
type Option func(*OpenAI)

// WithClasses restricts the task classes the provider reports supporting.
// Default: all classes.
func WithClasses(classes ...majordomo.TaskClass) Option {
	return func(o *OpenAI) {
		o.classes = make(map[majordomo.TaskClass]bool, len(classes))
		for _, c := range classes {
			o.classes[c] = true
		}
	}
}

// New creates a provider for the given API key and model.
func New(apiKey, model string, opts ...Option) *OpenAI {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewWithClient(&client.Chat.Completions, model, opts...)
}

// NewWithClient creates a provider over an existing chat client.
func NewWithClient(chat ChatClient, model string, opts ...Option) *OpenAI {
	o := &OpenAI{chat: chat, model: model}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns "openai".
func (o *OpenAI) Name() string { return "openai" }

// Supports reports whether the provider handles the task class.
func (o *OpenAI) Supports(class majordomo.TaskClass) bool {
	if o.classes == nil {
		return true
	}
	return o.classes[class]
}

// Chat sends the request and returns the first choice.
func (o *OpenAI) Chat(ctx context.Context, req majordomo.ChatRequest) (majordomo.ChatResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(o.model),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, sdk.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, sdk.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, sdk.UserMessage(m.Content))
		}
	}

	completion, err := o.chat.New(ctx, params)
	if err != nil {
		return majordomo.ChatResponse{}, o.mapError(err)
	}
	if len(completion.Choices) == 0 {
		return majordomo.ChatResponse{}, &majordomo.ErrProvider{Provider: o.Name(), Message: "empty response"}
	}
	return majordomo.ChatResponse{
		Content:   completion.Choices[0].Message.Content,
		ModelInfo: completion.Model,
		Usage: majordomo.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// mapError translates SDK failures into the shared error taxonomy.
func (o *OpenAI) mapError(err error) error {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return &majordomo.ErrProvider{Provider: o.Name(), Message: err.Error()}
	}
	switch {
	case apierr.StatusCode == http.StatusTooManyRequests, apierr.StatusCode >= 500:
		return &majordomo.ErrHTTP{
			Status:     apierr.StatusCode,
			Body:       apierr.Error(),
			RetryAfter: retryAfter(apierr.Response),
		}
	case apierr.StatusCode == http.StatusUnauthorized, apierr.StatusCode == http.StatusForbidden:
		return &majordomo.ErrProvider{Provider: o.Name(), Message: apierr.Error(), Fatal: true}
	default:
		return &majordomo.ErrProvider{Provider: o.Name(), Message: apierr.Error()}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
