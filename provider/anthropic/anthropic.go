// Package anthropic implements majordomo.Provider over the Anthropic
// Messages API using the official SDK. System-role messages map onto the
// request's system blocks; everything else travels as conversation turns.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/giquina/majordomo"
)

const defaultMaxTokens = 4096

// MessagesClient is the subset of the SDK client the adapter uses.
// Satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements majordomo.Provider.
type Anthropic struct {
	msg       MessagesClient
	model     string
	maxTokens int
	classes   map[majordomo.TaskClass]bool
}

var _ majordomo.Provider = (*Anthropic)(nil)

// Option configures an Anthropic provider.
type Option func(*Anthropic)

// WithMaxTokens sets the default completion cap (default 4096).
func WithMaxTokens(n int) Option {
	return func(a *Anthropic) { a.maxTokens = n }
}

// WithClasses restricts the task classes the provider reports supporting.
// Default: all classes.
func WithClasses(classes ...majordomo.TaskClass) Option {
	return func(a *Anthropic) {
		a.classes = make(map[majordomo.TaskClass]bool, len(classes))
		for _, c := range classes {
			a.classes[c] = true
		}
	}
}

// New creates a provider for the given API key and model.
func New(apiKey, model string, opts ...Option) *Anthropic {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewWithClient(&client.Messages, model, opts...)
}

// NewWithClient creates a provider over an existing messages client.
func NewWithClient(msg MessagesClient, model string, opts ...Option) *Anthropic {
	a := &Anthropic{
		msg:       msg,
		model:     model,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Supports reports whether the provider handles the task class.
func (a *Anthropic) Supports(class majordomo.TaskClass) bool {
	if a.classes == nil {
		return true
	}
	return a.classes[class]
}

// Chat sends the request and returns the first text block of the response.
func (a *Anthropic) Chat(ctx context.Context, req majordomo.ChatRequest) (majordomo.ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: int64(maxTokens),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return majordomo.ChatResponse{}, a.mapError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return majordomo.ChatResponse{
		Content:   text.String(),
		ModelInfo: string(msg.Model),
		Usage: majordomo.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// mapError translates SDK failures into the shared error taxonomy so the
// retry and router layers can classify them.
func (a *Anthropic) mapError(err error) error {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return &majordomo.ErrProvider{Provider: a.Name(), Message: err.Error()}
	}
	switch {
	case apierr.StatusCode == http.StatusTooManyRequests, apierr.StatusCode >= 500:
		return &majordomo.ErrHTTP{
			Status:     apierr.StatusCode,
			Body:       apierr.Error(),
			RetryAfter: retryAfter(apierr.Response),
		}
	case apierr.StatusCode == http.StatusUnauthorized, apierr.StatusCode == http.StatusForbidden:
		return &majordomo.ErrProvider{Provider: a.Name(), Message: apierr.Error(), Fatal: true}
	default:
		return &majordomo.ErrProvider{Provider: a.Name(), Message: apierr.Error()}
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
