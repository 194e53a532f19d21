package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	contextHistoryLimit  = 15
	contextFactsLimit    = 20
	contextOutcomesLimit = 8
	contextPlansLimit    = 5
	contextRenderCap     = 8000 // rendered prompt cap, characters
	projectCacheTTL      = 60 * time.Minute
)

// ProjectSummarizer produces the active-project summary (TODO extract plus
// open PRs) for a repo-bound chat. Implemented by the repo client wiring.
type ProjectSummarizer interface {
	Summarize(ctx context.Context, project string) (string, error)
}

// Context is the aggregated prompt-ready object assembled before every AI
// call. Constructed per call, never cached across calls.
type Context struct {
	UserID    string
	ChatID    string
	Binding   *ChatBinding
	Facts     []UserFact
	Project   string
	Outcomes  string
	Plans     []Plan
	History   []ConversationEntry
	Now       time.Time
	DayOfWeek string
}

// Engine builds Context objects from the stores and the outcome tracker.
// The underlying data is cached by its owners; only the project summary is
// cached here (60 minutes).
type Engine struct {
	memory   MemoryStore
	state    StateStore
	tracker  *Tracker
	registry *Registry
	projects ProjectSummarizer
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	projectCache map[string]projectEntry
}

type projectEntry struct {
	summary   string
	fetchedAt time.Time
}

// NewEngine creates a context Engine. projects may be nil when no repo
// provider is configured.
func NewEngine(memory MemoryStore, state StateStore, tracker *Tracker, registry *Registry, projects ProjectSummarizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = nopLogger
	}
	return &Engine{
		memory:       memory,
		state:        state,
		tracker:      tracker,
		registry:     registry,
		projects:     projects,
		logger:       logger,
		now:          time.Now,
		projectCache: make(map[string]projectEntry),
	}
}

// Build assembles the context for one AI call. Memory-store read failures
// degrade to empty sections; state-store failures propagate.
func (e *Engine) Build(ctx context.Context, userID, chatID, platform string) (Context, error) {
	now := e.now().UTC()
	c := Context{
		UserID:    userID,
		ChatID:    chatID,
		Now:       now,
		DayOfWeek: now.Weekday().String(),
	}

	if b, ok := e.registry.Lookup(platform, chatID); ok {
		c.Binding = &b
		if b.Type == ChatTypeRepo {
			c.Project = e.projectSummary(ctx, b.Value)
		}
	}

	history, err := e.memory.RecentConversation(ctx, chatID, contextHistoryLimit)
	if err != nil {
		e.logger.Warn("context: history read failed", "error", err)
	}
	c.History = history

	facts, err := e.memory.ListFacts(ctx, userID, contextFactsLimit)
	if err != nil {
		e.logger.Warn("context: facts read failed", "error", err)
	}
	c.Facts = facts

	outcomes, err := e.tracker.FormatForContext(ctx, userID, contextOutcomesLimit)
	if err != nil {
		return Context{}, err
	}
	c.Outcomes = outcomes

	plans, err := e.state.RecentPlans(ctx, userID, contextPlansLimit)
	if err != nil {
		return Context{}, fmt.Errorf("context: recent plans: %w", err)
	}
	c.Plans = plans

	return c, nil
}

// projectSummary returns the cached summary for project, refreshing it
// when older than an hour. Summarizer failures fall back to the stale
// value, or empty.
func (e *Engine) projectSummary(ctx context.Context, project string) string {
	if e.projects == nil {
		return ""
	}
	e.mu.Lock()
	entry, ok := e.projectCache[project]
	e.mu.Unlock()
	if ok && e.now().Sub(entry.fetchedAt) < projectCacheTTL {
		return entry.summary
	}

	summary, err := e.projects.Summarize(ctx, project)
	if err != nil {
		e.logger.Warn("context: project summary failed", "project", project, "error", err)
		return entry.summary
	}
	e.mu.Lock()
	e.projectCache[project] = projectEntry{summary: summary, fetchedAt: e.now()}
	e.mu.Unlock()
	return summary
}

// FormatSystemPrompt renders the context into the single ordered system
// prompt block: time, chat binding, user facts, project, outcomes, history.
// When the result exceeds the cap, history is trimmed first, then outcomes.
func FormatSystemPrompt(c Context) string {
	render := func(historyN int, withOutcomes bool) string {
		var b strings.Builder

		fmt.Fprintf(&b, "Current time: %s UTC (%s)\n", c.Now.Format("2006-01-02 15:04"), c.DayOfWeek)

		if c.Binding != nil {
			fmt.Fprintf(&b, "\nChat context: %s", c.Binding.Type)
			if c.Binding.Value != "" {
				fmt.Fprintf(&b, " — %s", c.Binding.Value)
			}
			b.WriteString("\n")
		}

		if len(c.Facts) > 0 {
			b.WriteString("\nKnown about the user:\n")
			for _, f := range c.Facts {
				fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
			}
		}

		if c.Project != "" {
			b.WriteString("\nActive project:\n")
			b.WriteString(c.Project)
			b.WriteString("\n")
		}

		if withOutcomes && c.Outcomes != "" {
			b.WriteString("\n")
			b.WriteString(c.Outcomes)
			b.WriteString("\n")
		}

		if len(c.Plans) > 0 {
			b.WriteString("\nRecent plans:\n")
			for _, p := range c.Plans {
				fmt.Fprintf(&b, "- %s (%s)", p.Instruction, p.Status)
				if p.PRURL != "" {
					fmt.Fprintf(&b, " %s", p.PRURL)
				}
				b.WriteString("\n")
			}
		}

		if historyN > 0 && len(c.History) > 0 {
			history := c.History
			if len(history) > historyN {
				history = history[len(history)-historyN:]
			}
			b.WriteString("\nRecent conversation:\n")
			for _, h := range history {
				fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Text)
			}
		}

		return strings.TrimRight(b.String(), "\n")
	}

	// Trim from the bottom of the section order until under the cap:
	// conversation history first, then outcomes.
	out := render(len(c.History), true)
	for n := len(c.History) - 1; len(out) > contextRenderCap && n >= 0; n-- {
		out = render(n, true)
	}
	if len(out) > contextRenderCap {
		out = render(0, false)
	}
	return out
}
