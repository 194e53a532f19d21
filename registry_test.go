package majordomo

import (
	"context"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *memMemory) {
	t.Helper()
	memory := newMemMemory()
	r := NewRegistry(memory, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r, memory
}

func TestRegistryBindLookup(t *testing.T) {
	r, memory := newTestRegistry(t)
	ctx := context.Background()

	if _, ok := r.Lookup(PlatformPrimary, "c1"); ok {
		t.Fatal("lookup hit on empty registry")
	}

	if err := r.Bind(ctx, PlatformPrimary, "c1", ChatTypeRepo, "giquina/projectX", NotifyAll); err != nil {
		t.Fatalf("bind: %v", err)
	}
	b, ok := r.Lookup(PlatformPrimary, "c1")
	if !ok || b.Type != ChatTypeRepo || b.Value != "giquina/projectX" {
		t.Errorf("binding = %+v, ok = %t", b, ok)
	}

	// Same chatID on another platform is a distinct key.
	if _, ok := r.Lookup(PlatformSecondary, "c1"); ok {
		t.Error("platform leaked into the key")
	}

	// Rebinding rewrites the row.
	r.Bind(ctx, PlatformPrimary, "c1", ChatTypeHQ, "", NotifyCritical)
	b, _ = r.Lookup(PlatformPrimary, "c1")
	if b.Type != ChatTypeHQ || b.NotifyLevel != NotifyCritical {
		t.Errorf("rebind = %+v", b)
	}

	// Writes go through to the store.
	stored, _ := memory.ListBindings(ctx)
	if len(stored) != 1 {
		t.Errorf("stored bindings = %d", len(stored))
	}
}

func TestRegistryLoadRebuildsFromStore(t *testing.T) {
	memory := newMemMemory()
	ctx := context.Background()
	memory.SaveBinding(ctx, ChatBinding{Platform: PlatformPrimary, ChatID: "c1", Type: ChatTypeRepo, Value: "giquina/projectX"})
	memory.SaveBinding(ctx, ChatBinding{Platform: PlatformPrimary, ChatID: "c2", Type: ChatTypeHQ})

	r := NewRegistry(memory, nil)
	if err := r.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(r.List()) != 2 {
		t.Errorf("list = %d", len(r.List()))
	}
	if _, ok := r.Lookup(PlatformPrimary, "c1"); !ok {
		t.Error("persisted binding missing after load")
	}
}

func TestRegistryProjects(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Bind(ctx, PlatformPrimary, "c1", ChatTypeRepo, "giquina/projectX", NotifyAll)
	r.Bind(ctx, PlatformPrimary, "c2", ChatTypeRepo, "giquina/projectX", NotifyAll) // duplicate value
	r.Bind(ctx, PlatformPrimary, "c3", ChatTypeRepo, "giquina/site", NotifyAll)
	r.Bind(ctx, PlatformPrimary, "c4", ChatTypeHQ, "hq", NotifyAll)

	projects := r.Projects()
	if len(projects) != 2 {
		t.Errorf("projects = %v", projects)
	}
	for _, p := range projects {
		if p != "giquina/projectX" && p != "giquina/site" {
			t.Errorf("unexpected project %q", p)
		}
	}
}

func TestRegistryAutoBind(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Bind(ctx, PlatformPrimary, "c1", ChatTypeRepo, "projectX", NotifyAll)

	msg := InboundMessage{Platform: PlatformPrimary, ChatID: "group-9", ChatTitle: "ProjectX Dev Chat"}
	if !r.AutoBind(ctx, msg) {
		t.Fatal("auto-bind declined a matching title")
	}
	b, ok := r.Lookup(PlatformPrimary, "group-9")
	if !ok || b.Type != ChatTypeRepo || b.Value != "projectX" {
		t.Errorf("binding = %+v", b)
	}

	// Already-bound chats are left alone.
	if r.AutoBind(ctx, msg) {
		t.Error("auto-bind rebound a known chat")
	}

	// No title, no match.
	if r.AutoBind(ctx, InboundMessage{Platform: PlatformPrimary, ChatID: "group-10"}) {
		t.Error("auto-bind without a title")
	}
	if r.AutoBind(ctx, InboundMessage{Platform: PlatformPrimary, ChatID: "group-11", ChatTitle: "Family plans"}) {
		t.Error("auto-bind on an unrelated title")
	}
}
