package majordomo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// progressThrottle bounds within-phase progress emission (phase 3 emits
// file-by-file updates).
const progressThrottle = 30 * time.Second

// Plan phases, in execution order.
const (
	PhaseAnalyze  = "analyze plan"
	PhaseRead     = "read project files"
	PhaseGenerate = "generate code"
	PhaseBranch   = "create branch"
	PhaseCommit   = "commit changes"
	PhasePR       = "create pull request"
)

// ProgressFunc receives plan progress events, already rendered by the
// status messenger.
type ProgressFunc func(phase, detail string)

// PlanExecutor turns a free-form instruction into a branch, a commit, and
// a pull request on the repo provider.
type PlanExecutor struct {
	state    StateStore
	tracker  *Tracker
	router   *Router
	repo     RepoClient
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// PlanExecutorOption configures a PlanExecutor.
type PlanExecutorOption func(*PlanExecutor)

// WithRepoTimeout bounds each repo-provider call (default 60s).
func WithRepoTimeout(d time.Duration) PlanExecutorOption {
	return func(p *PlanExecutor) { p.timeout = d }
}

// WithPlanLogger sets the structured logger.
func WithPlanLogger(l *slog.Logger) PlanExecutorOption {
	return func(p *PlanExecutor) { p.logger = l }
}

// NewPlanExecutor creates a PlanExecutor.
func NewPlanExecutor(state StateStore, tracker *Tracker, router *Router, repo RepoClient, opts ...PlanExecutorOption) *PlanExecutor {
	p := &PlanExecutor{
		state:   state,
		tracker: tracker,
		router:  router,
		repo:    repo,
		timeout: 60 * time.Second,
		logger:  nopLogger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs the six phases and returns the PR URL. Failures in phases
// 1–3 leave no remote state; failures in 4–6 roll back created remote
// objects best-effort and report the partial state in the outcome detail.
func (p *PlanExecutor) Execute(ctx context.Context, userID, instruction, project string, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(string, string) {}
	}

	plan := Plan{
		ID:            NewID(),
		UserID:        userID,
		Instruction:   instruction,
		TargetProject: project,
		Status:        PlanPlanning,
		CreatedAt:     NowMillis(),
	}
	if err := p.state.CreatePlan(ctx, plan); err != nil {
		return "", fmt.Errorf("plan: create: %w", err)
	}

	actionID, terr := p.tracker.StartAction(ctx, userID, "plan", instruction)
	if terr != nil {
		p.logger.Warn("plan: outcome start failed", "error", terr)
	}

	prURL, err := p.run(ctx, &plan, progress)
	if err != nil {
		plan.Status = PlanFailed
		_ = p.state.UpdatePlan(ctx, plan)
		if actionID != "" {
			_ = p.tracker.CompleteAction(ctx, actionID, OutcomeFailed, err.Error())
		}
		return "", err
	}

	plan.Status = PlanComplete
	plan.PRURL = prURL
	if err := p.state.UpdatePlan(ctx, plan); err != nil {
		p.logger.Warn("plan: final update failed", "id", plan.ID, "error", err)
	}
	if actionID != "" {
		_ = p.tracker.CompleteAction(ctx, actionID, OutcomeSuccess, prURL)
	}
	return prURL, nil
}

func (p *PlanExecutor) run(ctx context.Context, plan *Plan, progress ProgressFunc) (string, error) {
	// Phase 1: analyze.
	progress(PhaseAnalyze, "")
	ops, err := p.analyze(ctx, plan.Instruction, plan.TargetProject)
	if err != nil {
		return "", fmt.Errorf("plan: %s: %w", PhaseAnalyze, err)
	}
	plan.FileOps = ops
	plan.Status = PlanExecuting
	_ = p.state.UpdatePlan(ctx, *plan)

	base, err := p.repoCall(ctx, func(rctx context.Context) (string, error) {
		return p.repo.DefaultBranch(rctx, plan.TargetProject)
	})
	if err != nil {
		return "", fmt.Errorf("plan: default branch: %w", err)
	}

	// Phase 2: read the files that will be modified, with a per-plan cache.
	progress(PhaseRead, fmt.Sprintf("%d file(s)", len(ops)))
	files := newFileCache(p.repo, plan.TargetProject, base, p.timeout)
	for _, op := range ops {
		if op.Op == "write" || op.Op == "read" {
			if _, err := files.get(ctx, op.Path); err != nil {
				return "", fmt.Errorf("plan: %s %q: %w", PhaseRead, op.Path, err)
			}
		}
	}

	// Phase 3: generate code for each write/create op, throttling progress.
	progress(PhaseGenerate, "")
	lastProgress := p.now()
	var changes []FileOp
	for i, op := range ops {
		if op.Op == "read" {
			continue
		}
		if op.Op == "delete" {
			changes = append(changes, op)
			continue
		}
		current, _ := files.get(ctx, op.Path)
		content, err := p.generate(ctx, plan.Instruction, op.Path, current)
		if err != nil {
			return "", fmt.Errorf("plan: %s %q: %w", PhaseGenerate, op.Path, err)
		}
		changes = append(changes, FileOp{Op: op.Op, Path: op.Path, Content: content})
		if p.now().Sub(lastProgress) >= progressThrottle {
			progress(PhaseGenerate, fmt.Sprintf("%d/%d files", i+1, len(ops)))
			lastProgress = p.now()
		}
	}
	if len(changes) == 0 {
		return "", fmt.Errorf("plan: %s: no file changes produced", PhaseGenerate)
	}

	// Phase 4: branch. From here on, failures roll back best-effort.
	branch := planBranchName(plan.Instruction)
	progress(PhaseBranch, branch)
	_, err = p.repoCall(ctx, func(rctx context.Context) (string, error) {
		return "", p.repo.CreateBranch(rctx, plan.TargetProject, branch, base)
	})
	if err != nil {
		return "", fmt.Errorf("plan: %s: %w", PhaseBranch, err)
	}

	// Phase 5: one commit with all changes.
	progress(PhaseCommit, fmt.Sprintf("%d change(s)", len(changes)))
	message := commitMessage(plan.Instruction)
	_, err = p.repoCall(ctx, func(rctx context.Context) (string, error) {
		return "", p.repo.CommitFiles(rctx, plan.TargetProject, branch, message, changes)
	})
	if err != nil {
		p.rollback(plan.TargetProject, branch)
		return "", fmt.Errorf("plan: phase=commit, action=rollback-attempted: %w", err)
	}

	// Phase 6: pull request.
	progress(PhasePR, "")
	title := message
	body := fmt.Sprintf("Automated change for:\n\n> %s\n\nFiles touched:\n", plan.Instruction)
	for _, ch := range changes {
		body += fmt.Sprintf("- `%s` (%s)\n", ch.Path, ch.Op)
	}
	prURL, err := p.repoCall(ctx, func(rctx context.Context) (string, error) {
		return p.repo.CreatePullRequest(rctx, plan.TargetProject, branch, base, title, body)
	})
	if err != nil {
		p.rollback(plan.TargetProject, branch)
		return "", fmt.Errorf("plan: phase=pr, action=rollback-attempted: %w", err)
	}

	progress(PhasePR, prURL)
	return prURL, nil
}

// analyze asks the router to enumerate intended file operations.
func (p *PlanExecutor) analyze(ctx context.Context, instruction, project string) ([]FileOp, error) {
	prompt := fmt.Sprintf(
		"Project: %s\nInstruction: %s\n\nList the file operations needed, one per line, as `<op> <path>` where op is read, write, create, or delete. No other output.",
		project, instruction)
	res, err := p.router.Run(ctx, prompt, RouteOptions{TaskType: ClassPlanning})
	if err != nil {
		return nil, err
	}
	ops := parseFileOps(res.Text)
	if len(ops) == 0 {
		return nil, fmt.Errorf("no file operations in plan analysis")
	}
	return ops, nil
}

// generate asks the router for the new content of one file.
func (p *PlanExecutor) generate(ctx context.Context, instruction, filePath, current string) (string, error) {
	prompt := fmt.Sprintf("Instruction: %s\n\nFile: %s\n\nCurrent content:\n%s\n\nReturn the complete new file content only.",
		instruction, filePath, current)
	res, err := p.router.Run(ctx, prompt, RouteOptions{TaskType: ClassCoding})
	if err != nil {
		return "", err
	}
	return stripCodeFence(res.Text), nil
}

// rollback deletes the created branch, best-effort, on a fresh context so
// a cancelled plan can still clean up.
func (p *PlanExecutor) rollback(project, branch string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.repo.DeleteBranch(ctx, project, branch); err != nil {
		p.logger.Warn("plan: branch rollback failed", "project", project, "branch", branch, "error", err)
	}
}

func (p *PlanExecutor) repoCall(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return fn(rctx)
}

// fileCache caches repo file reads for the duration of one plan.
type fileCache struct {
	repo    RepoClient
	project string
	branch  string
	timeout time.Duration

	mu    sync.Mutex
	files map[string]string
}

func newFileCache(repo RepoClient, project, branch string, timeout time.Duration) *fileCache {
	return &fileCache{
		repo:    repo,
		project: project,
		branch:  branch,
		timeout: timeout,
		files:   make(map[string]string),
	}
}

func (f *fileCache) get(ctx context.Context, filePath string) (string, error) {
	f.mu.Lock()
	if content, ok := f.files[filePath]; ok {
		f.mu.Unlock()
		return content, nil
	}
	f.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	content, err := f.repo.GetFile(rctx, f.project, f.branch, filePath)
	if err != nil {
		// A missing file is fine for create ops; cache the empty read.
		var he *ErrHTTP
		if errors.As(err, &he) && he.Status == 404 {
			content = ""
		} else {
			return "", err
		}
	}
	f.mu.Lock()
	f.files[filePath] = content
	f.mu.Unlock()
	return content, nil
}

var opLine = regexp.MustCompile(`(?m)^[\s\-*]*(read|write|create|delete)\s+(\S+)\s*$`)

// parseFileOps extracts `<op> <path>` lines from a plan analysis response.
func parseFileOps(text string) []FileOp {
	var ops []FileOp
	for _, m := range opLine.FindAllStringSubmatch(text, -1) {
		ops = append(ops, FileOp{Op: m[1], Path: strings.Trim(m[2], "`")})
	}
	return ops
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// planBranchName builds `<slug>-<shortid>` from the instruction.
func planBranchName(instruction string) string {
	slug := strings.ToLower(instruction)
	slug = nonSlug.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
		slug = strings.Trim(slug, "-")
	}
	if slug == "" {
		slug = "plan"
	}
	return slug + "-" + ShortID()
}

// commitMessage derives a one-line commit message from the instruction.
func commitMessage(instruction string) string {
	msg := strings.TrimSpace(instruction)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > 72 {
		msg = msg[:72]
	}
	return msg
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\n(.*)\n```\\s*$")

// stripCodeFence unwraps a response that is one fenced code block.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return text
}
