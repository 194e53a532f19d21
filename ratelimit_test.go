package majordomo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimitBudget(t *testing.T) {
	inner := &scriptedProvider{name: "inner", reply: "ok"}
	p := WithRateLimit(inner, RPM(2))
	rl := p.(*rateLimitProvider)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Chat(ctx, ChatRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := p.Chat(ctx, ChatRequest{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}

	// The window slides: a minute later the budget is back.
	now = now.Add(61 * time.Second)
	if _, err := p.Chat(ctx, ChatRequest{}); err != nil {
		t.Errorf("post-window call: %v", err)
	}
}

func TestRateLimitZeroMeansUnlimited(t *testing.T) {
	inner := &scriptedProvider{name: "inner", reply: "ok"}
	p := WithRateLimit(inner)
	for i := 0; i < 100; i++ {
		if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

func TestRateLimitPassesThroughIdentity(t *testing.T) {
	inner := &scriptedProvider{name: "inner", classes: map[TaskClass]bool{ClassCoding: true}}
	p := WithRateLimit(inner, RPM(1))
	if p.Name() != "inner" {
		t.Errorf("name = %q", p.Name())
	}
	if !p.Supports(ClassCoding) || p.Supports(ClassSocial) {
		t.Error("Supports not delegated")
	}
}
