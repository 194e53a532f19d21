// Package resolve creates chat providers from provider-agnostic
// configuration, so the config layer never imports SDK packages.
package resolve

import (
	"fmt"

	"github.com/giquina/majordomo"
	"github.com/giquina/majordomo/provider/anthropic"
	"github.com/giquina/majordomo/provider/openai"
)

// Config holds provider-agnostic configuration for creating a Provider.
type Config struct {
	Provider string // "anthropic", "openai"
	APIKey   string
	Model    string

	// MaxTokens caps completions when > 0 (anthropic only; openai callers
	// pass per-request limits).
	MaxTokens int

	// Classes restricts the task classes the provider reports supporting.
	// Empty = all.
	Classes []majordomo.TaskClass
}

// Provider creates a majordomo.Provider from a Config.
func Provider(cfg Config) (majordomo.Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resolve: %s: api key is required", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("resolve: %s: model is required", cfg.Provider)
	}
	switch cfg.Provider {
	case "anthropic":
		var opts []anthropic.Option
		if cfg.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
		}
		if len(cfg.Classes) > 0 {
			opts = append(opts, anthropic.WithClasses(cfg.Classes...))
		}
		return anthropic.New(cfg.APIKey, cfg.Model, opts...), nil
	case "openai":
		var opts []openai.Option
		if len(cfg.Classes) > 0 {
			opts = append(opts, openai.WithClasses(cfg.Classes...))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}
