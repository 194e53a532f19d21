// Package projects provides the projects skill: repo-chat binding and
// project status summaries.
package projects

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/giquina/majordomo"
)

var (
	statusPattern = regexp.MustCompile(`(?i)^project status(?:\s+(\S+))?$`)
	bindPattern   = regexp.MustCompile(`(?i)^project bind\s+(\S+)$`)
	listPattern   = regexp.MustCompile(`(?i)^project list$`)
)

// Skill reports project status and manages chat-to-project bindings.
type Skill struct {
	summarizer majordomo.ProjectSummarizer
}

var _ majordomo.Skill = (*Skill)(nil)

// New creates the projects skill. summarizer may be nil when no repo
// provider is configured; status then reports bindings only.
func New(summarizer majordomo.ProjectSummarizer) *Skill {
	return &Skill{summarizer: summarizer}
}

func (s *Skill) Name() string        { return "projects" }
func (s *Skill) Description() string { return "Project status and chat bindings" }
func (s *Skill) Priority() int       { return 30 }

func (s *Skill) Commands() []majordomo.Command {
	return []majordomo.Command{
		{Pattern: statusPattern, Description: "Show a project's open TODOs and PRs", Usage: "project status [name]"},
		{Pattern: bindPattern, Description: "Bind this chat to a project", Usage: "project bind <name>"},
		{Pattern: listPattern, Description: "List known projects", Usage: "project list"},
	}
}

func (s *Skill) CanHandle(cmd string, _ majordomo.SkillContext) bool {
	return majordomo.MatchesAny(s, cmd)
}

func (s *Skill) Execute(ctx context.Context, cmd string, sctx majordomo.SkillContext) majordomo.Response {
	switch {
	case bindPattern.MatchString(cmd):
		return s.bind(ctx, bindPattern.FindStringSubmatch(cmd)[1], sctx)
	case listPattern.MatchString(cmd):
		return s.list(sctx)
	case statusPattern.MatchString(cmd):
		return s.status(ctx, statusPattern.FindStringSubmatch(cmd)[1], sctx)
	}
	return majordomo.ErrResponse("unrecognized project command")
}

func (s *Skill) bind(ctx context.Context, project string, sctx majordomo.SkillContext) majordomo.Response {
	if sctx.Registry == nil {
		return majordomo.ErrResponse("chat registry is not available")
	}
	if err := sctx.Registry.Bind(ctx, sctx.Platform, sctx.ChatID, majordomo.ChatTypeRepo, project, majordomo.NotifyAll); err != nil {
		return majordomo.ErrResponse("could not bind the chat: " + err.Error())
	}
	return majordomo.OKResponse("This chat now tracks " + project + ".")
}

func (s *Skill) list(sctx majordomo.SkillContext) majordomo.Response {
	if sctx.Registry == nil {
		return majordomo.ErrResponse("chat registry is not available")
	}
	projects := sctx.Registry.Projects()
	if len(projects) == 0 {
		return majordomo.OKResponse("No projects bound yet. Use `project bind <name>` in a project chat.")
	}
	return majordomo.OKResponse("Known projects:\n- " + strings.Join(projects, "\n- "))
}

func (s *Skill) status(ctx context.Context, project string, sctx majordomo.SkillContext) majordomo.Response {
	if project == "" {
		if sctx.Registry != nil {
			if b, ok := sctx.Registry.Lookup(sctx.Platform, sctx.ChatID); ok && b.Type == majordomo.ChatTypeRepo {
				project = b.Value
			}
		}
		if project == "" {
			e := &majordomo.ErrInvalidInput{Reason: "this chat is not bound to a project", Usage: "project status <name>"}
			return majordomo.ErrResponse(e.Error())
		}
	}

	// A bare name resolves through known bindings; "owner/repo" passes as-is.
	if !strings.Contains(project, "/") && sctx.Registry != nil {
		for _, known := range sctx.Registry.Projects() {
			if strings.EqualFold(known, project) || strings.HasSuffix(strings.ToLower(known), "/"+strings.ToLower(project)) {
				project = known
				break
			}
		}
	}

	if s.summarizer == nil {
		return majordomo.OKResponse(fmt.Sprintf("Tracking %s. No repo provider configured for detailed status.", project))
	}

	summary, err := s.summarizer.Summarize(ctx, project)
	if err != nil {
		return majordomo.ErrResponse("could not reach the project: " + err.Error())
	}
	return majordomo.Response{OK: true, Message: summary, Data: project}
}
