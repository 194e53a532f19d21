// Package tasks provides the tasks skill: tasks, goals with measurable
// targets, and reminders, persisted in the memory store.
package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/giquina/majordomo"
)

var (
	addPattern      = regexp.MustCompile(`(?i)^task add\s+(.+)$`)
	listPattern     = regexp.MustCompile(`(?i)^task list$`)
	donePattern     = regexp.MustCompile(`(?i)^task done\s+(.+)$`)
	progressPattern = regexp.MustCompile(`(?i)^task progress\s+(.+?)\s+([0-9]+(?:\.[0-9]+)?)$`)
	cancelPattern   = regexp.MustCompile(`(?i)^task cancel\s+(.+)$`)

	// Optional trailing clauses on `task add`: "target 50 km", "by 2026-09-01".
	targetClause   = regexp.MustCompile(`(?i)\s+target\s+([0-9]+(?:\.[0-9]+)?)\s*(\S*)\s*$`)
	deadlineClause = regexp.MustCompile(`(?i)\s+by\s+(\d{4}-\d{2}-\d{2})\s*$`)
)

// Skill manages tasks, goals, and reminders.
type Skill struct {
	now func() time.Time
}

var _ majordomo.Skill = (*Skill)(nil)

// New creates the tasks skill.
func New() *Skill { return &Skill{now: time.Now} }

func (s *Skill) Name() string        { return "tasks" }
func (s *Skill) Description() string { return "Track tasks, goals, and reminders" }
func (s *Skill) Priority() int       { return 40 }

func (s *Skill) Commands() []majordomo.Command {
	return []majordomo.Command{
		{Pattern: addPattern, Description: "Add a task or goal", Usage: "task add <description> [target <value> <unit>] [by YYYY-MM-DD]"},
		{Pattern: listPattern, Description: "List active tasks", Usage: "task list"},
		{Pattern: donePattern, Description: "Complete a task", Usage: "task done <description match>"},
		{Pattern: progressPattern, Description: "Record progress toward a goal", Usage: "task progress <description match> <value>"},
		{Pattern: cancelPattern, Description: "Cancel a task", Usage: "task cancel <description match>"},
	}
}

func (s *Skill) CanHandle(cmd string, _ majordomo.SkillContext) bool {
	return majordomo.MatchesAny(s, cmd)
}

func (s *Skill) Execute(ctx context.Context, cmd string, sctx majordomo.SkillContext) majordomo.Response {
	switch {
	case addPattern.MatchString(cmd):
		return s.add(ctx, addPattern.FindStringSubmatch(cmd)[1], sctx)
	case listPattern.MatchString(cmd):
		return s.list(ctx, sctx)
	case donePattern.MatchString(cmd):
		return s.complete(ctx, donePattern.FindStringSubmatch(cmd)[1], sctx)
	case progressPattern.MatchString(cmd):
		m := progressPattern.FindStringSubmatch(cmd)
		return s.progress(ctx, m[1], m[2], sctx)
	case cancelPattern.MatchString(cmd):
		return s.cancel(ctx, cancelPattern.FindStringSubmatch(cmd)[1], sctx)
	}
	return majordomo.ErrResponse("unrecognized task command")
}

func (s *Skill) add(ctx context.Context, spec string, sctx majordomo.SkillContext) majordomo.Response {
	t := majordomo.Task{
		ID:        majordomo.NewID(),
		UserID:    sctx.UserID,
		Status:    majordomo.TaskActive,
		CreatedAt: majordomo.NowMillis(),
	}

	if m := deadlineClause.FindStringSubmatch(spec); m != nil {
		day, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			e := &majordomo.ErrInvalidInput{Reason: fmt.Sprintf("bad deadline %q", m[1]), Usage: "task add <description> by YYYY-MM-DD"}
			return majordomo.ErrResponse(e.Error())
		}
		t.Deadline = day.Unix()
		spec = spec[:len(spec)-len(m[0])]
	}
	if m := targetClause.FindStringSubmatch(spec); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			e := &majordomo.ErrInvalidInput{Reason: fmt.Sprintf("bad target %q", m[1]), Usage: "task add <description> target <value> <unit>"}
			return majordomo.ErrResponse(e.Error())
		}
		t.TargetValue = v
		t.Unit = m[2]
		spec = spec[:len(spec)-len(m[0])]
	}

	t.Description = strings.TrimSpace(spec)
	if t.Description == "" {
		e := &majordomo.ErrInvalidInput{Reason: "empty task description", Usage: "task add <description>"}
		return majordomo.ErrResponse(e.Error())
	}

	if err := sctx.Memory.CreateTask(ctx, t); err != nil {
		return majordomo.ErrResponse("could not save the task: " + err.Error())
	}

	msg := "Added: " + t.Description
	if t.TargetValue > 0 {
		msg += fmt.Sprintf(" (target %s)", formatValue(t.TargetValue, t.Unit))
	}
	if t.Deadline > 0 {
		msg += " — due " + time.Unix(t.Deadline, 0).UTC().Format("Jan 2")
	}
	return majordomo.OKResponse(msg)
}

func (s *Skill) list(ctx context.Context, sctx majordomo.SkillContext) majordomo.Response {
	tasks, err := sctx.Memory.ListTasks(ctx, sctx.UserID, majordomo.TaskActive)
	if err != nil {
		return majordomo.ErrResponse("could not read tasks: " + err.Error())
	}
	if len(tasks) == 0 {
		return majordomo.OKResponse("No active tasks.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d active task(s):\n", len(tasks))
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s", i+1, t.Description)
		if t.TargetValue > 0 {
			fmt.Fprintf(&b, " — %s/%s (%.0f%%)",
				formatValue(t.CurrentValue, ""), formatValue(t.TargetValue, t.Unit), t.ProgressPercent())
		}
		if t.Deadline > 0 {
			fmt.Fprintf(&b, " — due %s", time.Unix(t.Deadline, 0).UTC().Format("Jan 2"))
			if time.Unix(t.Deadline, 0).Before(s.now()) {
				b.WriteString(" (overdue)")
			}
		}
		b.WriteString("\n")
	}
	return majordomo.Response{OK: true, Message: strings.TrimRight(b.String(), "\n"), Data: tasks}
}

func (s *Skill) complete(ctx context.Context, query string, sctx majordomo.SkillContext) majordomo.Response {
	t, resp := s.findOne(ctx, query, sctx)
	if resp != nil {
		return *resp
	}
	t.Status = majordomo.TaskCompleted
	t.CompletedAt = majordomo.NowMillis()
	if err := sctx.Memory.UpdateTask(ctx, t); err != nil {
		return majordomo.ErrResponse("could not update the task: " + err.Error())
	}
	return majordomo.OKResponse("Done: " + t.Description)
}

func (s *Skill) progress(ctx context.Context, query, value string, sctx majordomo.SkillContext) majordomo.Response {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e := &majordomo.ErrInvalidInput{Reason: fmt.Sprintf("bad value %q", value), Usage: "task progress <description match> <value>"}
		return majordomo.ErrResponse(e.Error())
	}

	t, resp := s.findOne(ctx, query, sctx)
	if resp != nil {
		return *resp
	}
	if t.TargetValue <= 0 {
		return majordomo.ErrResponse(fmt.Sprintf("%q has no measurable target.", t.Description))
	}
	t.CurrentValue = v
	if err := sctx.Memory.UpdateTask(ctx, t); err != nil {
		return majordomo.ErrResponse("could not update the task: " + err.Error())
	}

	if t.CurrentValue >= t.TargetValue {
		t.Status = majordomo.TaskCompleted
		t.CompletedAt = majordomo.NowMillis()
		if err := sctx.Memory.UpdateTask(ctx, t); err == nil {
			return majordomo.OKResponse(fmt.Sprintf("Target reached — %s complete!", t.Description))
		}
	}
	return majordomo.OKResponse(fmt.Sprintf("%s: %s/%s (%.0f%%)",
		t.Description, formatValue(t.CurrentValue, ""), formatValue(t.TargetValue, t.Unit), t.ProgressPercent()))
}

func (s *Skill) cancel(ctx context.Context, query string, sctx majordomo.SkillContext) majordomo.Response {
	t, resp := s.findOne(ctx, query, sctx)
	if resp != nil {
		return *resp
	}
	t.Status = majordomo.TaskCancelled
	if err := sctx.Memory.UpdateTask(ctx, t); err != nil {
		return majordomo.ErrResponse("could not update the task: " + err.Error())
	}
	return majordomo.OKResponse("Cancelled: " + t.Description)
}

// findOne resolves a description substring to exactly one active task.
func (s *Skill) findOne(ctx context.Context, query string, sctx majordomo.SkillContext) (majordomo.Task, *majordomo.Response) {
	tasks, err := sctx.Memory.ListTasks(ctx, sctx.UserID, majordomo.TaskActive)
	if err != nil {
		r := majordomo.ErrResponse("could not read tasks: " + err.Error())
		return majordomo.Task{}, &r
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var matches []majordomo.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Description), q) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		r := majordomo.ErrResponse(fmt.Sprintf("No active task matching %q.", query))
		return majordomo.Task{}, &r
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, t := range matches {
			names[i] = t.Description
		}
		r := majordomo.ErrResponse("Multiple matches: " + strings.Join(names, ", ") + ". Be more specific.")
		return majordomo.Task{}, &r
	}
}

func formatValue(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit != "" {
		s += " " + unit
	}
	return s
}
