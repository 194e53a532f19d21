package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/giquina/majordomo"
)

// Handler refs for the default scheduled jobs.
const (
	HandlerMorningBrief  = "morning_brief"
	HandlerEveningDigest = "evening_digest"
	HandlerHeartbeat     = "heartbeat"
	HandlerNightly       = "nightly_autonomous"
	HandlerDeadlineCheck = "deadline_check"
)

// deadlineHorizon is how far ahead the deadline check warns.
const deadlineHorizon = 24 * time.Hour

// Jobs owns the default scheduled job handlers: briefings, heartbeat, the
// nightly autonomous review, and deadline warnings.
type Jobs struct {
	memory     majordomo.MemoryStore
	tracker    *majordomo.Tracker
	registry   *majordomo.Registry
	router     *majordomo.Router
	escalator  *majordomo.Escalator
	summarizer majordomo.ProjectSummarizer
	primary    majordomo.Frontend
	hqChatID   string
	now        func() time.Time
}

// NewJobs creates the default job handlers. summarizer may be nil.
func NewJobs(memory majordomo.MemoryStore, tracker *majordomo.Tracker, registry *majordomo.Registry, router *majordomo.Router, escalator *majordomo.Escalator, summarizer majordomo.ProjectSummarizer, primary majordomo.Frontend, hqChatID string) *Jobs {
	return &Jobs{
		memory:     memory,
		tracker:    tracker,
		registry:   registry,
		router:     router,
		escalator:  escalator,
		summarizer: summarizer,
		primary:    primary,
		hqChatID:   hqChatID,
		now:        time.Now,
	}
}

// Register binds all handlers and upserts the default job rows.
func (j *Jobs) Register(ctx context.Context, s *majordomo.Scheduler, nightlyCron string) error {
	s.RegisterHandler(HandlerMorningBrief, j.MorningBrief)
	s.RegisterHandler(HandlerEveningDigest, j.EveningDigest)
	s.RegisterHandler(HandlerHeartbeat, j.Heartbeat)
	s.RegisterHandler(HandlerNightly, j.NightlyAutonomous)
	s.RegisterHandler(HandlerDeadlineCheck, j.DeadlineCheck)

	defaults := []struct {
		name, cron, ref string
	}{
		{"morning-brief", "0 7 * * *", HandlerMorningBrief},
		{"evening-digest", "0 18 * * *", HandlerEveningDigest},
		{"heartbeat", "0 */4 * * *", HandlerHeartbeat},
		{"nightly-autonomous", nightlyCron, HandlerNightly},
		{"deadline-check", "0 * * * *", HandlerDeadlineCheck},
	}
	for _, d := range defaults {
		if err := s.Register(ctx, d.name, d.cron, d.ref, nil, true); err != nil {
			return fmt.Errorf("jobs: register %s: %w", d.name, err)
		}
	}
	return nil
}

// owner resolves the owner user ID recorded at first contact.
func (j *Jobs) owner(ctx context.Context) string {
	owner, err := j.memory.GetConfig(ctx, "owner_user_id")
	if err != nil {
		return ""
	}
	return owner
}

// sendHQ delivers a briefing to the HQ chat.
func (j *Jobs) sendHQ(ctx context.Context, text string) error {
	if j.primary == nil || j.hqChatID == "" {
		return fmt.Errorf("jobs: no HQ chat configured")
	}
	_, err := j.primary.Send(ctx, majordomo.OutboundMessage{ChatID: j.hqChatID, Text: text})
	return err
}

// MorningBrief summarizes the day ahead: active tasks with deadlines first.
func (j *Jobs) MorningBrief(ctx context.Context, _ json.RawMessage) error {
	owner := j.owner(ctx)
	if owner == "" {
		return nil
	}
	tasks, err := j.memory.ListTasks(ctx, owner, majordomo.TaskActive)
	if err != nil {
		return fmt.Errorf("jobs: morning brief: %w", err)
	}

	var b strings.Builder
	b.WriteString("Good morning. ")
	if len(tasks) == 0 {
		b.WriteString("No active tasks today.")
		return j.sendHQ(ctx, b.String())
	}

	fmt.Fprintf(&b, "%d active task(s):\n", len(tasks))
	now := j.now()
	for _, t := range tasks {
		b.WriteString("- " + t.Description)
		if t.Deadline > 0 {
			due := time.Unix(t.Deadline, 0)
			if due.Before(now) {
				b.WriteString(" (OVERDUE)")
			} else {
				fmt.Fprintf(&b, " (due %s)", due.UTC().Format("Jan 2"))
			}
		}
		if t.TargetValue > 0 {
			fmt.Fprintf(&b, " — %.0f%%", t.ProgressPercent())
		}
		b.WriteString("\n")
	}
	return j.sendHQ(ctx, strings.TrimRight(b.String(), "\n"))
}

// EveningDigest reports what happened today: recent outcomes plus what is
// still open.
func (j *Jobs) EveningDigest(ctx context.Context, _ json.RawMessage) error {
	owner := j.owner(ctx)
	if owner == "" {
		return nil
	}

	outcomes, err := j.tracker.FormatForContext(ctx, owner, 8)
	if err != nil {
		return fmt.Errorf("jobs: evening digest: %w", err)
	}

	var b strings.Builder
	b.WriteString("Evening digest.\n")
	if outcomes != "" {
		b.WriteString(outcomes)
		b.WriteString("\n")
	} else {
		b.WriteString("No actions ran today.\n")
	}

	if tasks, err := j.memory.ListTasks(ctx, owner, majordomo.TaskActive); err == nil && len(tasks) > 0 {
		fmt.Fprintf(&b, "%d task(s) still open.", len(tasks))
	}
	return j.sendHQ(ctx, strings.TrimRight(b.String(), "\n"))
}

// Heartbeat verifies the stores are reachable; failure raises a critical
// alert. Success is silent.
func (j *Jobs) Heartbeat(ctx context.Context, _ json.RawMessage) error {
	if _, err := j.memory.GetConfig(ctx, "owner_user_id"); err != nil {
		if j.escalator != nil {
			_, _ = j.escalator.Raise(ctx, "heartbeat-memory", majordomo.AlertCritical,
				"heartbeat: memory store unreachable: "+err.Error())
		}
		return fmt.Errorf("jobs: heartbeat: %w", err)
	}
	log.Println(" [jobs] heartbeat ok")
	return nil
}

// NightlyAutonomous reviews every bound project's open TODOs with an AI
// call and routes the result through the alert path as an informational
// briefing.
func (j *Jobs) NightlyAutonomous(ctx context.Context, _ json.RawMessage) error {
	if j.summarizer == nil || j.escalator == nil {
		return nil
	}
	for _, project := range j.registry.Projects() {
		summary, err := j.summarizer.Summarize(ctx, project)
		if err != nil {
			log.Printf(" [jobs] nightly: summarize %s failed: %v", project, err)
			continue
		}
		prompt := fmt.Sprintf(
			"%s\n\nReview the open items above and propose the three highest-impact things to do tomorrow, one line each.",
			summary)
		res, err := j.router.Run(ctx, prompt, majordomo.RouteOptions{TaskType: majordomo.ClassPlanning})
		if err != nil {
			log.Printf(" [jobs] nightly: AI review of %s failed: %v", project, err)
			continue
		}
		if _, err := j.escalator.Raise(ctx, "nightly-"+project, majordomo.AlertInfo,
			fmt.Sprintf("Nightly review of %s:\n%s", project, res.Text)); err != nil {
			log.Printf(" [jobs] nightly: alert for %s failed: %v", project, err)
		}
	}
	return nil
}

// DeadlineCheck warns once per task whose deadline falls within the next
// 24 hours or has passed.
func (j *Jobs) DeadlineCheck(ctx context.Context, _ json.RawMessage) error {
	owner := j.owner(ctx)
	if owner == "" || j.escalator == nil {
		return nil
	}
	tasks, err := j.memory.ListTasks(ctx, owner, majordomo.TaskActive)
	if err != nil {
		return fmt.Errorf("jobs: deadline check: %w", err)
	}

	horizon := j.now().Add(deadlineHorizon).Unix()
	for _, t := range tasks {
		if t.Deadline == 0 || t.Deadline > horizon {
			continue
		}
		// One warning per task, tracked in the config table.
		flag := "deadline_alerted_" + t.ID
		if v, err := j.memory.GetConfig(ctx, flag); err == nil && v != "" {
			continue
		}
		body := fmt.Sprintf("%q is due %s.", t.Description, time.Unix(t.Deadline, 0).UTC().Format("Jan 2 15:04"))
		if t.Deadline < j.now().Unix() {
			body = fmt.Sprintf("%q is overdue (was due %s).", t.Description, time.Unix(t.Deadline, 0).UTC().Format("Jan 2"))
		}
		if _, err := j.escalator.Raise(ctx, "deadline-"+t.ID, majordomo.AlertWarning, body); err != nil {
			log.Printf(" [jobs] deadline alert for %s failed: %v", t.ID, err)
			continue
		}
		if err := j.memory.SetConfig(ctx, flag, "1"); err != nil {
			log.Printf(" [jobs] deadline flag write failed: %v", err)
		}
	}
	return nil
}
