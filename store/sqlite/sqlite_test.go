package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/giquina/majordomo"
)

func newMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(filepath.Join(t.TempDir(), "memory.db"))
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func newState(t *testing.T) *State {
	t.Helper()
	s := NewState(filepath.Join(t.TempDir(), "state.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	if err := m.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	s := newState(t)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	for i, text := range []string{"first", "second", "third"} {
		err := m.AppendConversation(ctx, majordomo.ConversationEntry{
			ChatID: "c1", Role: "user", Text: text, CreatedAt: int64(1000 + i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	_ = m.AppendConversation(ctx, majordomo.ConversationEntry{ChatID: "other", Role: "user", Text: "noise", CreatedAt: 999})

	got, err := m.RecentConversation(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Text != "second" || got[1].Text != "third" {
		t.Errorf("wrong order: %q, %q", got[0].Text, got[1].Text)
	}
}

func TestFactUpsert(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	f := majordomo.UserFact{UserID: "u1", Key: "timezone", Value: "UTC", CreatedAt: 1}
	if err := m.SetFact(ctx, f); err != nil {
		t.Fatalf("set: %v", err)
	}
	f.Value = "Europe/London"
	f.CreatedAt = 2
	if err := m.SetFact(ctx, f); err != nil {
		t.Fatalf("replace: %v", err)
	}

	facts, err := m.ListFacts(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Value != "Europe/London" {
		t.Errorf("value = %q, want Europe/London", facts[0].Value)
	}
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	task := majordomo.Task{
		ID: "t1", UserID: "u1", Description: "read 12 books",
		Status: majordomo.TaskActive, TargetValue: 12, CurrentValue: 3,
		Unit: "books", CreatedAt: 100,
	}
	if err := m.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	task.CurrentValue = 5
	if err := m.UpdateTask(ctx, task); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := m.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentValue != 5 {
		t.Errorf("current = %v, want 5", got.CurrentValue)
	}

	// Terminal status sticks: once completed, further updates are no-ops.
	task.Status = majordomo.TaskCompleted
	task.CompletedAt = 200
	if err := m.UpdateTask(ctx, task); err != nil {
		t.Fatalf("complete: %v", err)
	}
	task.Status = majordomo.TaskActive
	task.CurrentValue = 9
	if err := m.UpdateTask(ctx, task); err != nil {
		t.Fatalf("late update: %v", err)
	}
	got, _ = m.GetTask(ctx, "t1")
	if got.Status != majordomo.TaskCompleted || got.CurrentValue != 5 {
		t.Errorf("terminal task mutated: status=%q current=%v", got.Status, got.CurrentValue)
	}

	active, err := m.ListTasks(ctx, "u1", majordomo.TaskActive)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("got %d active tasks, want 0", len(active))
	}
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	j := majordomo.ScheduledJob{
		Name: "morning_brief", CronExpr: "0 7 * * *", HandlerRef: "brief",
		Enabled: true, NextRun: 1000,
	}
	if err := m.UpsertJob(ctx, j); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	j.CronExpr = "30 7 * * *"
	if err := m.UpsertJob(ctx, j); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	jobs, err := m.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].CronExpr != "30 7 * * *" {
		t.Errorf("cron = %q", jobs[0].CronExpr)
	}

	if err := m.MarkJobRun(ctx, "morning_brief", 1000, 87400); err != nil {
		t.Fatalf("mark run: %v", err)
	}
	if err := m.SetJobEnabled(ctx, "morning_brief", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	jobs, _ = m.ListJobs(ctx)
	if jobs[0].LastRun != 1000 || jobs[0].NextRun != 87400 || jobs[0].Enabled {
		t.Errorf("job after mark+disable: %+v", jobs[0])
	}
}

func TestBindingRewrite(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	b := majordomo.ChatBinding{
		Platform: majordomo.PlatformPrimary, ChatID: "-100", Type: majordomo.ChatTypeRepo,
		Value: "owner/api", NotifyLevel: majordomo.NotifyAll, RegisteredAt: 1,
	}
	if err := m.SaveBinding(ctx, b); err != nil {
		t.Fatalf("save: %v", err)
	}
	b.Value = "owner/web"
	if err := m.SaveBinding(ctx, b); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	bindings, err := m.ListBindings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("got %d bindings, want 1", len(bindings))
	}
	if bindings[0].Value != "owner/web" {
		t.Errorf("value = %q", bindings[0].Value)
	}
}

func TestConfigKV(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	got, err := m.GetConfig(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != "" {
		t.Errorf("missing key = %q, want empty", got)
	}

	if err := m.SetConfig(ctx, "owner_id", "42"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.SetConfig(ctx, "owner_id", "43"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ = m.GetConfig(ctx, "owner_id")
	if got != "43" {
		t.Errorf("got %q, want 43", got)
	}
}

func TestActionCAS(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	a := majordomo.PendingAction{
		ID: "a1", UserID: "u1", Kind: "deploy", Summary: "Deploy api?",
		State: majordomo.ActionPending, ProposedAt: 100, ExpiresAt: 400,
	}
	if err := s.InsertPendingAction(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, found, err := s.PendingByUser(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("pending lookup: found=%v err=%v", found, err)
	}
	if got.ID != "a1" {
		t.Errorf("id = %q", got.ID)
	}

	ok, err := s.TransitionAction(ctx, "a1", majordomo.ActionPending, majordomo.ActionConfirmed)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	// Same swap again must fail: the row is no longer pending.
	ok, err = s.TransitionAction(ctx, "a1", majordomo.ActionPending, majordomo.ActionConfirmed)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Error("CAS succeeded twice")
	}

	if _, found, _ := s.PendingByUser(ctx, "u1"); found {
		t.Error("confirmed action still reported pending")
	}
}

func TestExpirePending(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	for _, a := range []majordomo.PendingAction{
		{ID: "old", UserID: "u1", Kind: "k", Summary: "s", State: majordomo.ActionPending, ProposedAt: 10, ExpiresAt: 100},
		{ID: "edge", UserID: "u2", Kind: "k", Summary: "s", State: majordomo.ActionPending, ProposedAt: 20, ExpiresAt: 200},
		{ID: "fresh", UserID: "u3", Kind: "k", Summary: "s", State: majordomo.ActionPending, ProposedAt: 30, ExpiresAt: 300},
	} {
		if err := s.InsertPendingAction(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", a.ID, err)
		}
	}

	// expires_at == cutoff counts as expired.
	n, err := s.ExpirePending(ctx, 200)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Errorf("expired %d rows, want 2", n)
	}
	got, err := s.GetAction(ctx, "fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != majordomo.ActionPending {
		t.Errorf("fresh action state = %q", got.State)
	}
}

func TestLastCompleted(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	for _, a := range []majordomo.PendingAction{
		{ID: "a1", UserID: "u1", Kind: "k", Summary: "s", State: majordomo.ActionComplete, ProposedAt: 100, ExpiresAt: 1},
		{ID: "a2", UserID: "u1", Kind: "k", Summary: "s", State: majordomo.ActionComplete, ProposedAt: 300, ExpiresAt: 1},
		{ID: "a3", UserID: "u1", Kind: "k", Summary: "s", State: majordomo.ActionFailed, ProposedAt: 400, ExpiresAt: 1},
	} {
		if err := s.InsertPendingAction(ctx, a); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, found, err := s.LastCompleted(ctx, "u1", 50)
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if got.ID != "a2" {
		t.Errorf("id = %q, want a2", got.ID)
	}

	if _, found, _ := s.LastCompleted(ctx, "u1", 350); found {
		t.Error("found a completed action newer than 350")
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	o := majordomo.Outcome{ActionID: "a1", UserID: "u1", Kind: "deploy", Description: "deploy api", StartedAt: 100}
	if err := s.CreateOutcome(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	o.CompletedAt = 200
	o.Result = majordomo.OutcomeSuccess
	o.Details = "ok"
	if err := s.UpdateOutcome(ctx, o); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetOutcome(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != majordomo.OutcomeSuccess || got.CompletedAt != 200 {
		t.Errorf("outcome = %+v", got)
	}

	recent, err := s.RecentOutcomes(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("got %d outcomes, want 1", len(recent))
	}
}

func TestPlanFileOpsJSON(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	p := majordomo.Plan{
		ID: "p1", UserID: "u1", Instruction: "add healthcheck", TargetProject: "owner/api",
		Status: majordomo.PlanPlanning, CreatedAt: 100,
	}
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	p.FileOps = []majordomo.FileOp{{Op: "create", Path: "health.go"}, {Op: "write", Path: "main.go"}}
	p.Status = majordomo.PlanComplete
	p.PRURL = "https://example.com/pr/1"
	if err := s.UpdatePlan(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	plans, err := s.RecentPlans(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(plans))
	}
	got := plans[0]
	if len(got.FileOps) != 2 || got.FileOps[0].Path != "health.go" {
		t.Errorf("file ops = %+v", got.FileOps)
	}
	if got.PRURL != "https://example.com/pr/1" {
		t.Errorf("pr url = %q", got.PRURL)
	}
}

func TestAlertDedupAndDue(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	a := majordomo.Alert{
		ID: "al1", Key: "disk-full", Level: majordomo.AlertCritical, Body: "disk 95%",
		Tier: majordomo.TierPrimary, CreatedAt: 1000, NextEscalateAt: 2000,
	}
	if err := s.CreateAlert(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, found, err := s.AlertByKey(ctx, "disk-full", 500)
	if err != nil || !found {
		t.Fatalf("by key: found=%v err=%v", found, err)
	}
	if got.ID != "al1" {
		t.Errorf("id = %q", got.ID)
	}
	if _, found, _ := s.AlertByKey(ctx, "disk-full", 1500); found {
		t.Error("found alert older than since")
	}

	due, err := s.DueAlerts(ctx, 2000)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due alerts, want 1", len(due))
	}

	// Acknowledged alerts are never due.
	got.AcknowledgedAt = 2100
	got.NextEscalateAt = 0
	if err := s.UpdateAlert(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	due, _ = s.DueAlerts(ctx, 99999)
	if len(due) != 0 {
		t.Errorf("got %d due alerts after ack, want 0", len(due))
	}
}
