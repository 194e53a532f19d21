// Package builder provides the builder skill: a free-form build instruction
// becomes a confirmation-gated plan that ends in a pull request on the
// bound project.
package builder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/giquina/majordomo"
)

var (
	buildOnPattern = regexp.MustCompile(`(?i)^build\s+(.+?)\s+on\s+(\S+)$`)
	buildPattern   = regexp.MustCompile(`(?i)^build\s+(.+)$`)
)

// Skill turns "build X on project" into a plan proposal. Without an
// explicit project the chat's repo binding decides the target.
type Skill struct{}

var _ majordomo.Skill = (*Skill)(nil)

// New creates the builder skill.
func New() *Skill { return &Skill{} }

func (s *Skill) Name() string        { return "builder" }
func (s *Skill) Description() string { return "Build features end-to-end: branch, commit, PR" }
func (s *Skill) Priority() int       { return 45 }

func (s *Skill) Commands() []majordomo.Command {
	return []majordomo.Command{
		{Pattern: buildOnPattern, Description: "Build a feature on a project", Usage: "build <instruction> on <project>"},
		{Pattern: buildPattern, Description: "Build a feature on the bound project", Usage: "build <instruction>"},
	}
}

func (s *Skill) CanHandle(cmd string, _ majordomo.SkillContext) bool {
	return majordomo.MatchesAny(s, cmd)
}

func (s *Skill) Execute(ctx context.Context, cmd string, sctx majordomo.SkillContext) majordomo.Response {
	msgr := majordomo.NewMessenger(sctx.Platform == majordomo.PlatformPrimary)

	var instruction, project string
	if m := buildOnPattern.FindStringSubmatch(cmd); m != nil {
		instruction, project = strings.TrimSpace(m[1]), m[2]
	} else if m := buildPattern.FindStringSubmatch(cmd); m != nil {
		instruction = strings.TrimSpace(m[1])
	}
	if instruction == "" {
		e := &majordomo.ErrInvalidInput{Reason: "empty instruction", Usage: "build <instruction> on <project>"}
		return majordomo.ErrResponse(e.Error())
	}

	project = resolveProject(project, sctx)
	if project == "" {
		e := &majordomo.ErrInvalidInput{
			Reason: "no target project: name one or bind this chat first",
			Usage:  "build <instruction> on <project>",
		}
		return majordomo.ErrResponse(e.Error())
	}

	params := majordomo.RawParams(map[string]any{
		"instruction": instruction,
		"project":     project,
		"chat_id":     sctx.ChatID,
		"platform":    sctx.Platform,
	})
	summary := fmt.Sprintf("Build %q on %s?", instruction, project)
	res, err := sctx.Actions.Propose(ctx, sctx.UserID, "plan", summary, params, false)
	if err != nil {
		if errors.Is(err, majordomo.ErrBusy) {
			return majordomo.ErrResponse(msgr.Reminder(res.Action.Summary))
		}
		return majordomo.ErrResponse(msgr.Failed(err.Error()))
	}
	return majordomo.Response{
		OK:      true,
		Message: msgr.ApprovalNeeded(summary),
		Meta:    map[string]any{"action_id": res.Action.ID},
	}
}

// resolveProject maps an explicit or bound project name to the full
// "owner/repo" form the repo provider expects.
func resolveProject(project string, sctx majordomo.SkillContext) string {
	if project == "" {
		if sctx.Registry != nil {
			if b, ok := sctx.Registry.Lookup(sctx.Platform, sctx.ChatID); ok && b.Type == majordomo.ChatTypeRepo {
				return b.Value
			}
		}
		return ""
	}
	if !strings.Contains(project, "/") && sctx.Registry != nil {
		for _, known := range sctx.Registry.Projects() {
			if strings.EqualFold(known, project) || strings.HasSuffix(strings.ToLower(known), "/"+strings.ToLower(project)) {
				return known
			}
		}
	}
	return project
}
