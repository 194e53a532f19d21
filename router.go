package majordomo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// defaultBypassKeywords disable cache lookup for freshness-sensitive
// queries. The list is fixed at configure time.
var defaultBypassKeywords = []string{
	"now", "current", "today", "latest", "trending", "live", "status",
	"right now", "this week", "tonight",
}

// RouteResult is the outcome of one routed query.
type RouteResult struct {
	Text     string
	Provider string
	Class    TaskClass
	Cached   bool
	Tokens   int
}

// RouteOptions tune a single Run call.
type RouteOptions struct {
	// TaskType overrides classification when non-empty.
	TaskType TaskClass
	// RichContext is prepended as the system prompt when non-empty.
	RichContext string
}

// Router classifies queries, picks a provider from a class-ordered
// preference table, and caches successful responses.
type Router struct {
	table     map[TaskClass][]Provider
	fallback  Provider // "default coder" used when no provider covers a class
	cache     *Cache
	cacheOn   bool
	bypass    []string
	callTO    time.Duration
	logger    *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProvider registers p as a preferred provider for the given classes,
// in registration order. The first provider registered for ClassCoding also
// becomes the default-coder fallback unless WithFallback overrides it.
func WithProvider(p Provider, classes ...TaskClass) RouterOption {
	return func(r *Router) {
		for _, c := range classes {
			r.table[c] = append(r.table[c], p)
		}
		if r.fallback == nil {
			for _, c := range classes {
				if c == ClassCoding {
					r.fallback = p
				}
			}
		}
	}
}

// WithFallback sets the default-coder provider used when no provider is
// configured for a class.
func WithFallback(p Provider) RouterOption {
	return func(r *Router) { r.fallback = p }
}

// WithCache enables the response cache. cfg must pass Validate; NewRouter
// surfaces the error.
func WithCache(cfg CacheConfig) RouterOption {
	return func(r *Router) {
		r.cacheOn = cfg.Enabled && cfg.TTLSeconds > 0
		if cfg.Enabled {
			r.cache = NewCache(cfg)
		}
	}
}

// WithBypassKeywords replaces the default cache-bypass keyword list.
func WithBypassKeywords(words []string) RouterOption {
	return func(r *Router) { r.bypass = words }
}

// WithRouterLogger sets the structured logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithCallTimeout bounds each provider call (default 30s).
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.callTO = d }
}

// NewRouter creates a Router. Returns an error for invalid cache config.
func NewRouter(cfg CacheConfig, opts ...RouterOption) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Router{
		table:  make(map[TaskClass][]Provider),
		bypass: defaultBypassKeywords,
		callTO: 30 * time.Second,
		logger: nopLogger,
	}
	WithCache(cfg)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run routes a query: classify, select a provider, consult the cache, call
// with a single transient retry, store on success.
func (r *Router) Run(ctx context.Context, query string, opts RouteOptions) (RouteResult, error) {
	class := opts.TaskType
	if class == "" {
		class = Classify(query)
	}

	providers := r.candidates(class)
	if len(providers) == 0 {
		return RouteResult{}, &ErrProvider{Provider: "router", Message: fmt.Sprintf("no provider configured for class %q and no fallback", class)}
	}

	useCache := r.cacheOn && !r.bypassed(query)

	var lastErr error
	for _, p := range providers {
		key := CacheKey(p.Name(), query, class)
		if useCache {
			if text, ok := r.cache.Get(key); ok {
				r.logger.Debug("router: cache hit", "provider", p.Name(), "class", class)
				return RouteResult{Text: text, Provider: p.Name(), Class: class, Cached: true}, nil
			}
		}

		resp, err := r.call(ctx, p, query, opts.RichContext)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				r.logger.Warn("router: provider rate limited, falling through", "provider", p.Name())
				lastErr = err
				continue
			}
			var pe *ErrProvider
			if errors.As(err, &pe) && !pe.Fatal {
				// Retry already happened inside call; try the next provider.
				r.logger.Warn("router: provider failed, falling through", "provider", p.Name(), "error", err)
				lastErr = err
				continue
			}
			return RouteResult{}, err
		}

		if useCache {
			r.cache.Set(key, resp.Content)
		}
		return RouteResult{
			Text:     resp.Content,
			Provider: p.Name(),
			Class:    class,
			Tokens:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no provider available")
	}
	return RouteResult{}, &ErrProvider{Provider: "router", Message: lastErr.Error()}
}

// Stats returns the cache counters, or a zero snapshot when caching is off.
func (r *Router) Stats() CacheStats {
	if r.cache == nil {
		return CacheStats{HitRate: "0.00%"}
	}
	return r.cache.Stats()
}

// StartSweeper runs the cache's expired-entry sweeper until ctx is
// cancelled. A no-op when caching is disabled.
func (r *Router) StartSweeper(ctx context.Context, interval time.Duration) {
	if r.cache == nil {
		return
	}
	r.cache.StartSweeper(ctx, interval)
}

// candidates returns the preference-ordered provider list for class,
// skipping providers that do not support it, with the fallback appended.
func (r *Router) candidates(class TaskClass) []Provider {
	var out []Provider
	for _, p := range r.table[class] {
		if p.Supports(class) {
			out = append(out, p)
		}
	}
	if r.fallback != nil && !containsProvider(out, r.fallback) {
		out = append(out, r.fallback)
	}
	return out
}

func containsProvider(ps []Provider, p Provider) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

// bypassed reports whether the query contains any bypass keyword.
func (r *Router) bypassed(query string) bool {
	q := strings.ToLower(query)
	for _, w := range r.bypass {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// call invokes p with a deadline and a single transient retry.
func (r *Router) call(ctx context.Context, p Provider, query, system string) (ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTO)
	defer cancel()

	var msgs []ChatMessage
	if system != "" {
		msgs = append(msgs, SystemMessage(system))
	}
	msgs = append(msgs, UserMessage(query))

	retried := WithRetry(p, RetryLogger(r.logger))
	return retried.Chat(ctx, ChatRequest{Messages: msgs})
}
