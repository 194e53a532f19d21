package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Registry maps (platform, chatID) to a ChatBinding. Lookups hit an
// in-memory map rebuilt from the memory store at startup; writes go through
// to the store first.
type Registry struct {
	mu       sync.Mutex
	store    MemoryStore
	bindings map[string]ChatBinding
	logger   *slog.Logger
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store MemoryStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = nopLogger
	}
	return &Registry{
		store:    store,
		bindings: make(map[string]ChatBinding),
		logger:   logger,
	}
}

func bindingKey(platform, chatID string) string {
	return platform + "\x00" + chatID
}

// Load rebuilds the in-memory map from the store. Called once at startup.
func (r *Registry) Load(ctx context.Context) error {
	bindings, err := r.store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("registry: load bindings: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = make(map[string]ChatBinding, len(bindings))
	for _, b := range bindings {
		r.bindings[bindingKey(b.Platform, b.ChatID)] = b
	}
	r.logger.Debug("registry: loaded bindings", "count", len(bindings))
	return nil
}

// Bind registers or rewrites the binding for (platform, chatID).
func (r *Registry) Bind(ctx context.Context, platform, chatID, chatType, value, notifyLevel string) error {
	b := ChatBinding{
		Platform:     platform,
		ChatID:       chatID,
		Type:         chatType,
		Value:        value,
		NotifyLevel:  notifyLevel,
		RegisteredAt: NowMillis(),
	}
	if err := r.store.SaveBinding(ctx, b); err != nil {
		return fmt.Errorf("registry: save binding: %w", err)
	}
	r.mu.Lock()
	r.bindings[bindingKey(platform, chatID)] = b
	r.mu.Unlock()
	return nil
}

// Lookup returns the binding for (platform, chatID). O(1).
func (r *Registry) Lookup(platform, chatID string) (ChatBinding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[bindingKey(platform, chatID)]
	return b, ok
}

// List returns all bindings.
func (r *Registry) List() []ChatBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatBinding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	return out
}

// Projects returns the distinct repo-binding values, used by auto-bind
// title matching and the context engine.
func (r *Registry) Projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, b := range r.bindings {
		if b.Type == ChatTypeRepo && !seen[b.Value] {
			seen[b.Value] = true
			out = append(out, b.Value)
		}
	}
	return out
}

// AutoBind handles the first message from an unknown group chat: when the
// chat title matches a known project name, the chat is bound to it as a
// repo chat. Reports whether a binding was created.
func (r *Registry) AutoBind(ctx context.Context, msg InboundMessage) bool {
	if msg.ChatTitle == "" {
		return false
	}
	if _, ok := r.Lookup(msg.Platform, msg.ChatID); ok {
		return false
	}
	title := strings.ToLower(msg.ChatTitle)
	for _, project := range r.Projects() {
		if strings.Contains(title, strings.ToLower(project)) {
			if err := r.Bind(ctx, msg.Platform, msg.ChatID, ChatTypeRepo, project, NotifyAll); err != nil {
				r.logger.Warn("registry: auto-bind failed", "chat", msg.ChatID, "error", err)
				return false
			}
			r.logger.Info("registry: auto-bound group chat", "chat", msg.ChatID, "project", project)
			return true
		}
	}
	return false
}
