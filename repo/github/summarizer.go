package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/giquina/majordomo"
)

const maxSummaryTodos = 5

// Summarize builds the active-project summary used in AI prompts for a
// repo-bound chat: the top open TODO items plus open pull requests.
// A repo without a TODO file still summarizes; a repo that cannot be
// reached at all returns the error.
func (g *Client) Summarize(ctx context.Context, project string) (string, error) {
	branch, err := g.DefaultBranch(ctx, project)
	if err != nil {
		return "", fmt.Errorf("github: summarize %s: %w", project, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project %s (branch %s)\n", project, branch)

	todos, err := g.openTodos(ctx, project, branch)
	if err != nil {
		g.logger.Warn("github: todo read failed", "project", project, "error", err)
	}
	if len(todos) > 0 {
		b.WriteString("Open TODOs:\n")
		for _, t := range todos {
			b.WriteString("- " + t + "\n")
		}
	}

	prs, err := g.openPulls(ctx, project)
	if err != nil {
		g.logger.Warn("github: pull list failed", "project", project, "error", err)
	}
	if len(prs) > 0 {
		b.WriteString("Open PRs:\n")
		for _, pr := range prs {
			b.WriteString("- " + pr + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

var _ majordomo.ProjectSummarizer = (*Client)(nil)

// openTodos returns the first unchecked items from TODO.md, if present.
func (g *Client) openTodos(ctx context.Context, project, branch string) ([]string, error) {
	content, err := g.GetFile(ctx, project, branch, "TODO.md")
	if err != nil {
		var he *majordomo.ErrHTTP
		if errors.As(err, &he) && he.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var todos []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- [ ]") {
			todos = append(todos, strings.TrimSpace(strings.TrimPrefix(trimmed, "- [ ]")))
			if len(todos) == maxSummaryTodos {
				break
			}
		}
	}
	return todos, nil
}

// openPulls returns "title (#number)" lines for open pull requests.
func (g *Client) openPulls(ctx context.Context, project string) ([]string, error) {
	var pulls []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	}
	if err := g.call(ctx, http.MethodGet, "/repos/"+project+"/pulls?state=open", nil, &pulls); err != nil {
		return nil, err
	}
	var out []string
	for _, pr := range pulls {
		out = append(out, fmt.Sprintf("%s (#%d)", pr.Title, pr.Number))
	}
	return out, nil
}
