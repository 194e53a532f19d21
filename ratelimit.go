package majordomo

import (
	"context"
	"sync"
	"time"
)

// rateLimitProvider wraps a Provider with a sliding-window request budget.
// When the window is full the call fails fast with ErrRateLimited so the
// router can fall through to the next provider in its preference table.
type rateLimitProvider struct {
	inner Provider
	mu    sync.Mutex

	rpm    int
	window []time.Time
	now    func() time.Time
}

// RateLimitOption configures a rateLimitProvider.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// WithRateLimit wraps p with a proactive requests-per-minute budget.
// Compose with other wrappers:
//
//	llm = majordomo.WithRateLimit(majordomo.WithRetry(provider), majordomo.RPM(60))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitProvider) Name() string                  { return r.inner.Name() }
func (r *rateLimitProvider) Supports(class TaskClass) bool { return r.inner.Supports(class) }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if !r.tryAcquire() {
		return ChatResponse{}, ErrRateLimited
	}
	return r.inner.Chat(ctx, req)
}

// tryAcquire records the request if the minute window has room.
func (r *rateLimitProvider) tryAcquire() bool {
	if r.rpm <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Minute)
	kept := r.window[:0]
	for _, t := range r.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.window = kept
	if len(r.window) >= r.rpm {
		return false
	}
	r.window = append(r.window, now)
	return true
}

var _ Provider = (*rateLimitProvider)(nil)
