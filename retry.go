package majordomo

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryProvider wraps a Provider and retries transient failures (timeouts,
// 429, 5xx) with a fixed back-off delay.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	delay       time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 2 — the
// original call plus one retry).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryDelay sets the pause before each retry (default: 500ms).
func RetryDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.delay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN; exhausted attempts log at ERROR. Default is a no-op logger.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with a single automatic retry on transient errors.
// Rate-limit and fatal provider errors pass through immediately. Compose
// with any Provider:
//
//	llm = majordomo.WithRetry(anthropic.New(apiKey, model))
//	llm = majordomo.WithRetry(p, majordomo.RetryMaxAttempts(3))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 2,
		delay:       500 * time.Millisecond,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryProvider) Name() string                  { return r.inner.Name() }
func (r *retryProvider) Supports(class TaskClass) bool { return r.inner.Supports(class) }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrRateLimited) || !IsTransient(err) {
			return ChatResponse{}, err
		}
		last = err
		if i < r.maxAttempts-1 {
			r.logger.Warn("retrying transient provider error",
				"provider", r.inner.Name(),
				"attempt", i+1,
				"max_attempts", r.maxAttempts,
				"error", err)
			delay := r.delay
			if ra := retryAfterOf(err); ra > delay {
				delay = ra
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ChatResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("retry attempts exhausted",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", last)
	return ChatResponse{}, &ErrProvider{Provider: r.inner.Name(), Message: last.Error()}
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

var _ Provider = (*retryProvider)(nil)
