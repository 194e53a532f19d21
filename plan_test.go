package majordomo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
)

// planProvider answers the analyze prompt with a file-op list and every
// generate prompt with file content.
type planProvider struct {
	analysis string
	content  string
}

func (p *planProvider) Name() string            { return "plan-ai" }
func (p *planProvider) Supports(TaskClass) bool { return true }

func (p *planProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(last, "List the file operations") {
		return ChatResponse{Content: p.analysis}, nil
	}
	return ChatResponse{Content: p.content}, nil
}

// fakeRepo records repo mutations and can fail on command.
type fakeRepo struct {
	files     map[string]string
	branches  []string
	deleted   []string
	commits   []string
	prs       []string
	commitErr error
	prErr     error
}

func (r *fakeRepo) DefaultBranch(context.Context, string) (string, error) { return "main", nil }

func (r *fakeRepo) GetFile(_ context.Context, _, _, path string) (string, error) {
	content, ok := r.files[path]
	if !ok {
		return "", &ErrHTTP{Status: 404, Body: "not found"}
	}
	return content, nil
}

func (r *fakeRepo) ListFiles(context.Context, string, string, string) ([]string, error) {
	return nil, nil
}

func (r *fakeRepo) CreateBranch(_ context.Context, _, name, _ string) error {
	r.branches = append(r.branches, name)
	return nil
}

func (r *fakeRepo) DeleteBranch(_ context.Context, _, name string) error {
	r.deleted = append(r.deleted, name)
	return nil
}

func (r *fakeRepo) CommitFiles(_ context.Context, _, branch, message string, _ []FileOp) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.commits = append(r.commits, branch+": "+message)
	return nil
}

func (r *fakeRepo) CreatePullRequest(_ context.Context, _, head, _, _, _ string) (string, error) {
	if r.prErr != nil {
		return "", r.prErr
	}
	url := "https://example.com/pr/" + head
	r.prs = append(r.prs, url)
	return url, nil
}

func newTestPlanExecutor(t *testing.T, repo RepoClient, provider Provider) (*PlanExecutor, *memState) {
	t.Helper()
	state := newMemState()
	router, err := NewRouter(CacheConfig{Enabled: false, TTLSeconds: 0, MaxSize: 1},
		WithProvider(provider, ClassPlanning, ClassCoding))
	if err != nil {
		t.Fatal(err)
	}
	return NewPlanExecutor(state, NewTracker(state, nil), router, repo), state
}

func TestPlanHappyPath(t *testing.T) {
	repo := &fakeRepo{files: map[string]string{"login.go": "package app"}}
	provider := &planProvider{
		analysis: "write login.go\ncreate login_test.go",
		content:  "package app\n\nfunc Login() {}",
	}
	p, state := newTestPlanExecutor(t, repo, provider)

	var phases []string
	prURL, err := p.Execute(context.Background(), "1", "Add a login page", "giquina/projectX",
		func(phase, _ string) { phases = append(phases, phase) })
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(prURL, "https://example.com/pr/add-a-login-page-") {
		t.Errorf("pr url = %q", prURL)
	}

	want := []string{PhaseAnalyze, PhaseRead, PhaseGenerate, PhaseBranch, PhaseCommit, PhasePR, PhasePR}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase[%d] = %s, want %s", i, phases[i], want[i])
		}
	}

	if len(repo.branches) != 1 || len(repo.commits) != 1 || len(repo.prs) != 1 {
		t.Errorf("repo = %+v", repo)
	}
	if len(repo.deleted) != 0 {
		t.Error("happy path deleted a branch")
	}

	plans, _ := state.RecentPlans(context.Background(), "1", 5)
	if len(plans) != 1 || plans[0].Status != PlanComplete || plans[0].PRURL != prURL {
		t.Errorf("plan row = %+v", plans)
	}
	outcomes, _ := state.RecentOutcomes(context.Background(), "1", 5)
	if len(outcomes) != 1 || outcomes[0].Result != OutcomeSuccess {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestPlanBranchNameShape(t *testing.T) {
	name := planBranchName("Add a LOGIN page, please!")
	if !regexp.MustCompile(`^add-a-login-page-please-[0-9a-f]+$`).MatchString(name) {
		t.Errorf("branch = %q", name)
	}

	long := planBranchName(strings.Repeat("very long instruction ", 10))
	dash := strings.LastIndexByte(long, '-')
	if len(long[:dash]) > 40 {
		t.Errorf("slug too long: %q", long)
	}

	if !strings.HasPrefix(planBranchName("!!!"), "plan-") {
		t.Errorf("empty slug fallback: %q", planBranchName("!!!"))
	}
}

func TestPlanAnalyzeFailureLeavesNoRemoteState(t *testing.T) {
	repo := &fakeRepo{}
	provider := &planProvider{analysis: "I would rather chat about something else."}
	p, state := newTestPlanExecutor(t, repo, provider)

	_, err := p.Execute(context.Background(), "1", "do something", "giquina/projectX", nil)
	if err == nil || !strings.Contains(err.Error(), PhaseAnalyze) {
		t.Fatalf("err = %v", err)
	}
	if len(repo.branches) != 0 || len(repo.commits) != 0 || len(repo.prs) != 0 {
		t.Errorf("remote state created: %+v", repo)
	}

	plans, _ := state.RecentPlans(context.Background(), "1", 5)
	if len(plans) != 1 || plans[0].Status != PlanFailed {
		t.Errorf("plan row = %+v", plans)
	}
	outcomes, _ := state.RecentOutcomes(context.Background(), "1", 5)
	if len(outcomes) != 1 || outcomes[0].Result != OutcomeFailed {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestPlanCommitFailureRollsBackBranch(t *testing.T) {
	repo := &fakeRepo{
		files:     map[string]string{"a.go": "package a"},
		commitErr: errors.New("push rejected"),
	}
	provider := &planProvider{analysis: "write a.go", content: "package a\n\n// changed"}
	p, _ := newTestPlanExecutor(t, repo, provider)

	_, err := p.Execute(context.Background(), "1", "change a", "giquina/projectX", nil)
	if err == nil {
		t.Fatal("commit failure swallowed")
	}
	if !strings.Contains(err.Error(), "phase=commit") || !strings.Contains(err.Error(), "rollback-attempted") {
		t.Errorf("err = %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != repo.branches[0] {
		t.Errorf("branch not rolled back: created %v, deleted %v", repo.branches, repo.deleted)
	}
}

func TestPlanPRFailureRollsBackBranch(t *testing.T) {
	repo := &fakeRepo{
		files: map[string]string{"a.go": "package a"},
		prErr: errors.New("pr: 422"),
	}
	provider := &planProvider{analysis: "write a.go", content: "new content"}
	p, _ := newTestPlanExecutor(t, repo, provider)

	_, err := p.Execute(context.Background(), "1", "change a", "giquina/projectX", nil)
	if err == nil || !strings.Contains(err.Error(), "phase=pr") {
		t.Fatalf("err = %v", err)
	}
	if len(repo.commits) != 1 {
		t.Errorf("commits = %v", repo.commits)
	}
	if len(repo.deleted) != 1 {
		t.Errorf("branch not rolled back: %v", repo.deleted)
	}
}

func TestPlanMissingFileIsFineForCreate(t *testing.T) {
	repo := &fakeRepo{files: map[string]string{}}
	provider := &planProvider{analysis: "create brand_new.go", content: "package app"}
	p, _ := newTestPlanExecutor(t, repo, provider)

	if _, err := p.Execute(context.Background(), "1", "add a file", "giquina/projectX", nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestParseFileOps(t *testing.T) {
	text := "Here is the plan:\n- write src/login.go\n* create src/login_test.go\nread `README.md`\ndelete old.go\nnonsense line\n"
	ops := parseFileOps(text)
	want := []FileOp{
		{Op: "write", Path: "src/login.go"},
		{Op: "create", Path: "src/login_test.go"},
		{Op: "read", Path: "README.md"},
		{Op: "delete", Path: "old.go"},
	}
	if len(ops) != len(want) {
		t.Fatalf("ops = %+v", ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op[%d] = %+v, want %+v", i, ops[i], want[i])
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	fenced := "```go\npackage app\n\nfunc main() {}\n```"
	if got := stripCodeFence(fenced); got != "package app\n\nfunc main() {}" {
		t.Errorf("got %q", got)
	}
	plain := "package app"
	if got := stripCodeFence(plain); got != plain {
		t.Errorf("got %q", got)
	}
}

func TestCommitMessage(t *testing.T) {
	if got := commitMessage("  add login\nwith details  "); got != "add login" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("m", 100)
	if got := commitMessage(long); len(got) != 72 {
		t.Errorf("len = %d", len(got))
	}
}
