package remoteexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/giquina/majordomo"
)

// Runner performs the actual remote operations behind the executors. The
// default implementation posts to per-target webhook URLs; anything that can
// deploy, roll back, and restart a target satisfies it.
type Runner interface {
	Deploy(ctx context.Context, target string) (string, error)
	Rollback(ctx context.Context, target string) (string, error)
	Restart(ctx context.Context, target string) (string, error)
}

// Hook holds the webhook endpoints for one target.
type Hook struct {
	DeployURL   string
	RollbackURL string
	RestartURL  string
	// LiveURL is included in success messages so the user can check the result.
	LiveURL string
}

// HookRunner triggers deployments via HTTP deploy hooks.
type HookRunner struct {
	hooks  map[string]Hook
	client *http.Client
	logger *slog.Logger
}

var _ Runner = (*HookRunner)(nil)

// HookRunnerOption configures a HookRunner.
type HookRunnerOption func(*HookRunner)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HookRunnerOption {
	return func(r *HookRunner) { r.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) HookRunnerOption {
	return func(r *HookRunner) { r.logger = l }
}

// NewHookRunner creates a HookRunner over the target -> hook table.
func NewHookRunner(hooks map[string]Hook, opts ...HookRunnerOption) *HookRunner {
	r := &HookRunner{
		hooks:  hooks,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.New(discardHandler{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deploy fires the target's deploy hook.
func (r *HookRunner) Deploy(ctx context.Context, target string) (string, error) {
	h, ok := r.hooks[target]
	if !ok || h.DeployURL == "" {
		return "", fmt.Errorf("remoteexec: no deploy hook for %q", target)
	}
	if err := r.post(ctx, h.DeployURL); err != nil {
		return "", fmt.Errorf("remoteexec: deploy %s: %w", target, err)
	}
	r.logger.Info("deploy hook fired", "target", target)
	msg := target + " deployed successfully"
	if h.LiveURL != "" {
		msg += " — " + h.LiveURL
	}
	return msg, nil
}

// Rollback fires the target's rollback hook, restoring the previous release.
func (r *HookRunner) Rollback(ctx context.Context, target string) (string, error) {
	h, ok := r.hooks[target]
	if !ok || h.RollbackURL == "" {
		return "", fmt.Errorf("remoteexec: no rollback hook for %q", target)
	}
	if err := r.post(ctx, h.RollbackURL); err != nil {
		return "", fmt.Errorf("remoteexec: rollback %s: %w", target, err)
	}
	r.logger.Info("rollback hook fired", "target", target)
	return target + " rolled back to the previous release", nil
}

// Restart fires the target's restart hook.
func (r *HookRunner) Restart(ctx context.Context, target string) (string, error) {
	h, ok := r.hooks[target]
	if !ok || h.RestartURL == "" {
		return "", fmt.Errorf("remoteexec: no restart hook for %q", target)
	}
	if err := r.post(ctx, h.RestartURL); err != nil {
		return "", fmt.Errorf("remoteexec: restart %s: %w", target, err)
	}
	return target + " restarted", nil
}

func (r *HookRunner) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(""))
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &majordomo.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// targetOf extracts the target parameter from an action's params.
func targetOf(a majordomo.PendingAction) (string, error) {
	var p struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(a.Params, &p); err != nil || p.Target == "" {
		return "", fmt.Errorf("remoteexec: action %s has no target", a.ID)
	}
	return p.Target, nil
}

// DeployExecutor executes confirmed deploy actions. Undo rolls the target
// back to the previous release.
type DeployExecutor struct {
	runner Runner
}

var _ majordomo.ActionExecutor = (*DeployExecutor)(nil)

// NewDeployExecutor creates the deploy executor.
func NewDeployExecutor(runner Runner) *DeployExecutor {
	return &DeployExecutor{runner: runner}
}

func (e *DeployExecutor) Kind() string      { return "deploy" }
func (e *DeployExecutor) AutoApprove() bool { return false }
func (e *DeployExecutor) Undoable() bool    { return true }

func (e *DeployExecutor) Execute(ctx context.Context, a majordomo.PendingAction) (string, error) {
	target, err := targetOf(a)
	if err != nil {
		return "", err
	}
	return e.runner.Deploy(ctx, target)
}

func (e *DeployExecutor) Undo(ctx context.Context, a majordomo.PendingAction) (string, error) {
	target, err := targetOf(a)
	if err != nil {
		return "", err
	}
	return e.runner.Rollback(ctx, target)
}

// RestartExecutor executes confirmed restart actions. Restarts are not
// undoable.
type RestartExecutor struct {
	runner Runner
}

var _ majordomo.ActionExecutor = (*RestartExecutor)(nil)

// NewRestartExecutor creates the restart executor.
func NewRestartExecutor(runner Runner) *RestartExecutor {
	return &RestartExecutor{runner: runner}
}

func (e *RestartExecutor) Kind() string      { return "restart" }
func (e *RestartExecutor) AutoApprove() bool { return false }
func (e *RestartExecutor) Undoable() bool    { return false }

func (e *RestartExecutor) Execute(ctx context.Context, a majordomo.PendingAction) (string, error) {
	target, err := targetOf(a)
	if err != nil {
		return "", err
	}
	return e.runner.Restart(ctx, target)
}

func (e *RestartExecutor) Undo(context.Context, majordomo.PendingAction) (string, error) {
	return "", majordomo.ErrNotUndoable
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
