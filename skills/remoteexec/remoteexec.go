// Package remoteexec provides the remote-exec skill: confirmation-gated
// deploy and restart commands plus undo of the last completed action.
package remoteexec

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/giquina/majordomo"
)

var (
	deployPattern  = regexp.MustCompile(`(?i)^deploy\s+(\S+)$`)
	restartPattern = regexp.MustCompile(`(?i)^restart\s+(\S+)$`)
	undoPattern    = regexp.MustCompile(`(?i)^undo$`)
)

// Skill matches deploy/restart/undo commands. Deploy and restart go through
// the action controller's propose-confirm cycle; undo compensates the last
// completed action.
type Skill struct{}

var _ majordomo.Skill = (*Skill)(nil)

// New creates the remote-exec skill.
func New() *Skill { return &Skill{} }

func (s *Skill) Name() string        { return "remote-exec" }
func (s *Skill) Description() string { return "Deploy and restart projects, undo the last action" }
func (s *Skill) Priority() int       { return 50 }

func (s *Skill) Commands() []majordomo.Command {
	return []majordomo.Command{
		{Pattern: deployPattern, Description: "Deploy a project", Usage: "deploy <project>"},
		{Pattern: restartPattern, Description: "Restart a service", Usage: "restart <service>"},
		{Pattern: undoPattern, Description: "Undo the last completed action", Usage: "undo"},
	}
}

func (s *Skill) CanHandle(cmd string, _ majordomo.SkillContext) bool {
	return majordomo.MatchesAny(s, cmd)
}

func (s *Skill) Execute(ctx context.Context, cmd string, sctx majordomo.SkillContext) majordomo.Response {
	msgr := majordomo.NewMessenger(sctx.Platform == majordomo.PlatformPrimary)

	if m := deployPattern.FindStringSubmatch(cmd); m != nil {
		return s.propose(ctx, sctx, msgr, "deploy", m[1], fmt.Sprintf("Deploy %s?", m[1]))
	}
	if m := restartPattern.FindStringSubmatch(cmd); m != nil {
		return s.propose(ctx, sctx, msgr, "restart", m[1], fmt.Sprintf("Restart %s?", m[1]))
	}
	if undoPattern.MatchString(cmd) {
		result, err := sctx.Actions.Undo(ctx, sctx.UserID)
		if err != nil {
			if errors.Is(err, majordomo.ErrNotUndoable) {
				return majordomo.ErrResponse(msgr.Info("Nothing to undo: no undoable action in the last 24 hours."))
			}
			return majordomo.ErrResponse(msgr.Failed(err.Error()))
		}
		return majordomo.OKResponse(msgr.Complete(result, nil))
	}
	return majordomo.ErrResponse(msgr.Failed("unrecognized remote-exec command"))
}

// propose runs one target through the confirmation state machine.
func (s *Skill) propose(ctx context.Context, sctx majordomo.SkillContext, msgr *majordomo.Messenger, kind, target, summary string) majordomo.Response {
	params := majordomo.RawParams(map[string]any{"target": target})
	res, err := sctx.Actions.Propose(ctx, sctx.UserID, kind, summary, params, false)
	if err != nil {
		if errors.Is(err, majordomo.ErrBusy) {
			return majordomo.ErrResponse(msgr.Reminder(res.Action.Summary))
		}
		return majordomo.ErrResponse(msgr.Failed(err.Error()))
	}
	if res.AutoApproved {
		return majordomo.OKResponse(msgr.Complete(res.Result, nil))
	}
	return majordomo.Response{
		OK:      true,
		Message: msgr.ApprovalNeeded(summary),
		Meta:    map[string]any{"action_id": res.Action.ID},
	}
}
