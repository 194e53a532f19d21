package builder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/giquina/majordomo"
)

// Planner is the slice of the plan executor this skill needs.
type Planner interface {
	Execute(ctx context.Context, userID, instruction, project string, progress majordomo.ProgressFunc) (string, error)
}

var _ Planner = (*majordomo.PlanExecutor)(nil)

// NotifyFunc delivers one progress message to a chat mid-execution.
type NotifyFunc func(chatID, platform, text string)

// PlanExecutor runs confirmed "plan" actions through the plan pipeline.
// Plans are confirmation-gated and not undoable: the compensating action
// for a merged-PR-in-waiting is closing the PR by hand.
type PlanExecutor struct {
	planner Planner
	notify  NotifyFunc
}

var _ majordomo.ActionExecutor = (*PlanExecutor)(nil)

// NewPlanExecutor creates the action executor. notify may be nil; progress
// events are then dropped.
func NewPlanExecutor(planner Planner, notify NotifyFunc) *PlanExecutor {
	return &PlanExecutor{planner: planner, notify: notify}
}

func (e *PlanExecutor) Kind() string      { return "plan" }
func (e *PlanExecutor) AutoApprove() bool { return false }
func (e *PlanExecutor) Undoable() bool    { return false }

type planParams struct {
	Instruction string `json:"instruction"`
	Project     string `json:"project"`
	ChatID      string `json:"chat_id"`
	Platform    string `json:"platform"`
}

func (e *PlanExecutor) Execute(ctx context.Context, a majordomo.PendingAction) (string, error) {
	var p planParams
	if err := json.Unmarshal(a.Params, &p); err != nil {
		return "", fmt.Errorf("builder: bad params: %w", err)
	}

	msgr := majordomo.NewMessenger(p.Platform == majordomo.PlatformPrimary)
	progress := func(phase, detail string) {
		if e.notify == nil || p.ChatID == "" {
			return
		}
		e.notify(p.ChatID, p.Platform, msgr.Progress(phase, detail))
	}

	prURL, err := e.planner.Execute(ctx, a.UserID, p.Instruction, p.Project, progress)
	if err != nil {
		return "", err
	}
	return "PR opened: " + prURL, nil
}

func (e *PlanExecutor) Undo(context.Context, majordomo.PendingAction) (string, error) {
	return "", majordomo.ErrNotUndoable
}
