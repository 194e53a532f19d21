package projects

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/giquina/majordomo"
	"github.com/giquina/majordomo/store/sqlite"
)

type fakeSummarizer struct {
	summaries map[string]string
}

func (f *fakeSummarizer) Summarize(_ context.Context, project string) (string, error) {
	s, ok := f.summaries[project]
	if !ok {
		return "", errors.New("not found")
	}
	return s, nil
}

func newCtx(t *testing.T) majordomo.SkillContext {
	t.Helper()
	mem := sqlite.NewMemory(filepath.Join(t.TempDir(), "memory.db"))
	if err := mem.Init(context.Background()); err != nil {
		t.Fatalf("init memory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return majordomo.SkillContext{
		UserID:   "u1",
		ChatID:   "c1",
		Platform: majordomo.PlatformPrimary,
		Memory:   mem,
		Registry: majordomo.NewRegistry(mem, nil),
	}
}

func TestBindThenStatusWithoutName(t *testing.T) {
	s := New(&fakeSummarizer{summaries: map[string]string{
		"owner/api": "Project owner/api (branch main)\nOpen TODOs:\n- ship alerts",
	}})
	sctx := newCtx(t)
	ctx := context.Background()

	resp := s.Execute(ctx, "project bind owner/api", sctx)
	if !resp.OK {
		t.Fatalf("bind: %s", resp.Message)
	}

	resp = s.Execute(ctx, "project status", sctx)
	if !resp.OK || !strings.Contains(resp.Message, "ship alerts") {
		t.Errorf("status: %+v", resp)
	}
}

func TestStatusResolvesBareName(t *testing.T) {
	s := New(&fakeSummarizer{summaries: map[string]string{
		"owner/api": "Project owner/api (branch main)",
	}})
	sctx := newCtx(t)
	ctx := context.Background()

	if resp := s.Execute(ctx, "project bind owner/api", sctx); !resp.OK {
		t.Fatalf("bind: %s", resp.Message)
	}
	resp := s.Execute(ctx, "project status api", sctx)
	if !resp.OK || !strings.Contains(resp.Message, "owner/api") {
		t.Errorf("status: %+v", resp)
	}
}

func TestStatusUnboundChat(t *testing.T) {
	s := New(nil)
	resp := s.Execute(context.Background(), "project status", newCtx(t))
	if resp.OK || !strings.Contains(resp.Message, "Usage:") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStatusWithoutSummarizer(t *testing.T) {
	s := New(nil)
	resp := s.Execute(context.Background(), "project status owner/api", newCtx(t))
	if !resp.OK || !strings.Contains(resp.Message, "No repo provider") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestList(t *testing.T) {
	s := New(nil)
	sctx := newCtx(t)
	ctx := context.Background()

	resp := s.Execute(ctx, "project list", sctx)
	if !resp.OK || !strings.Contains(resp.Message, "No projects bound") {
		t.Fatalf("empty list: %+v", resp)
	}

	s.Execute(ctx, "project bind owner/api", sctx)
	resp = s.Execute(ctx, "project list", sctx)
	if !resp.OK || !strings.Contains(resp.Message, "owner/api") {
		t.Errorf("list: %+v", resp)
	}
}
