package majordomo

import (
	"context"
	"encoding/json"
)

// TaskClass is the query category the router classifies each request into.
type TaskClass string

const (
	ClassGreeting TaskClass = "greeting"
	ClassSimple   TaskClass = "simple"
	ClassPlanning TaskClass = "planning"
	ClassCoding   TaskClass = "coding"
	ClassSocial   TaskClass = "social"
	ClassResearch TaskClass = "research"
	ClassComplex  TaskClass = "complex"
)

// ChatMessage is one turn of a provider conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic request form.
type ChatRequest struct {
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// Usage is token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the provider-agnostic response form.
type ChatResponse struct {
	Content   string `json:"content"`
	ModelInfo string `json:"model_info,omitempty"`
	Usage     Usage  `json:"usage"`
}

// Provider abstracts an AI model backend.
type Provider interface {
	// Name returns the provider name (e.g. "anthropic", "openai").
	Name() string
	// Supports reports whether the provider is suited to the task class.
	Supports(class TaskClass) bool
	// Chat sends a request and returns a complete response. May fail with
	// ErrRateLimited, a transient *ErrHTTP, or a terminal *ErrProvider.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// UserMessage builds a user-role chat message.
func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

// SystemMessage builds a system-role chat message.
func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

// AssistantMessage builds an assistant-role chat message.
func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// VoiceCaller places outbound voice calls. Status callbacks arrive on the
// ingress /voice/status endpoint.
type VoiceCaller interface {
	// PlaceCall dials `to` and plays the script identified by scriptRef.
	// Returns an opaque call ID.
	PlaceCall(ctx context.Context, to, scriptRef string) (string, error)
}

// RepoClient is the repo-provider surface the plan executor needs.
type RepoClient interface {
	DefaultBranch(ctx context.Context, project string) (string, error)
	GetFile(ctx context.Context, project, branch, path string) (string, error)
	ListFiles(ctx context.Context, project, branch, dir string) ([]string, error)
	CreateBranch(ctx context.Context, project, name, fromBranch string) error
	DeleteBranch(ctx context.Context, project, name string) error
	// CommitFiles pushes all file changes onto branch in one commit.
	CommitFiles(ctx context.Context, project, branch, message string, files []FileOp) error
	CreatePullRequest(ctx context.Context, project, head, base, title, body string) (string, error)
}

// RawParams marshals a params map for PendingAction/ScheduledJob storage.
func RawParams(m map[string]any) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
