package majordomo

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Command declares one pattern a skill responds to.
type Command struct {
	Pattern     *regexp.Regexp
	Description string
	Usage       string
}

// Response is the tagged result a skill returns. Message is the
// user-visible text.
type Response struct {
	OK      bool
	Message string
	Data    any
	Meta    map[string]any
}

// OKResponse builds a success response.
func OKResponse(message string) Response {
	return Response{OK: true, Message: message}
}

// ErrResponse builds a failure response.
func ErrResponse(message string) Response {
	return Response{OK: false, Message: message}
}

// SkillContext carries per-message context and subsystem handles into a
// skill's Execute. Immutable from the skill's point of view.
type SkillContext struct {
	UserID   string
	ChatID   string
	Platform string

	Memory   MemoryStore
	AI       *Router
	Registry *Registry
	Actions  *Controller

	MediaURL string
	Config   map[string]any
}

// Skill is a pluggable capability. Side effects of Execute are the skill's
// responsibility and happen before return.
type Skill interface {
	Name() string
	Description() string
	// Priority orders dispatch; higher wins, ties break by name.
	Priority() int
	Commands() []Command
	// CanHandle reports whether the skill wants the command. Implementations
	// without special logic should return MatchesAny(s, cmd).
	CanHandle(cmd string, ctx SkillContext) bool
	Execute(ctx context.Context, cmd string, sctx SkillContext) Response
}

// Initializer is an optional skill hook run once at startup.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Shutdowner is an optional skill hook run at service stop.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// MatchesAny is the default CanHandle implementation: any declared pattern
// matches the command.
func MatchesAny(s Skill, cmd string) bool {
	for _, c := range s.Commands() {
		if c.Pattern.MatchString(cmd) {
			return true
		}
	}
	return false
}

// SkillSet holds registered skills and dispatches commands by priority.
// Registration happens at startup from two sources: universal skills first,
// then local ones. A name present in both resolves to the universal entry;
// the local duplicate is skipped and logged.
type SkillSet struct {
	mu      sync.RWMutex
	skills  []Skill
	byName  map[string]string // name -> source, for duplicate detection
	enabled map[string]bool   // nil = all enabled
	sorted  bool
	logger  *slog.Logger
}

// SkillSetOption configures a SkillSet.
type SkillSetOption func(*SkillSet)

// WithEnabledSkills restricts the set to the named skills. Registration of
// anything else is dropped.
func WithEnabledSkills(names []string) SkillSetOption {
	return func(s *SkillSet) {
		s.enabled = make(map[string]bool, len(names))
		for _, n := range names {
			s.enabled[strings.TrimSpace(n)] = true
		}
	}
}

// WithSkillLogger sets the structured logger.
func WithSkillLogger(l *slog.Logger) SkillSetOption {
	return func(s *SkillSet) { s.logger = l }
}

// NewSkillSet creates an empty SkillSet.
func NewSkillSet(opts ...SkillSetOption) *SkillSet {
	s := &SkillSet{
		byName: make(map[string]string),
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterUniversal registers a skill from the universal source.
func (s *SkillSet) RegisterUniversal(sk Skill) { s.register(sk, "universal") }

// RegisterLocal registers a skill from the local source. Local skills lose
// name conflicts against universal ones.
func (s *SkillSet) RegisterLocal(sk Skill) { s.register(sk, "local") }

func (s *SkillSet) register(sk Skill, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled != nil && !s.enabled[sk.Name()] {
		s.logger.Debug("skill disabled, skipping", "skill", sk.Name())
		return
	}
	if prev, ok := s.byName[sk.Name()]; ok {
		s.logger.Warn("duplicate skill name, keeping higher-priority source",
			"skill", sk.Name(), "kept", prev, "skipped", source)
		return
	}
	s.byName[sk.Name()] = source
	s.skills = append(s.skills, sk)
	s.sorted = false
}

// List returns skills in dispatch order: descending priority, names
// ascending on ties.
func (s *SkillSet) List() []Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortLocked()
	out := make([]Skill, len(s.skills))
	copy(out, s.skills)
	return out
}

func (s *SkillSet) sortLocked() {
	if s.sorted {
		return
	}
	sort.SliceStable(s.skills, func(i, j int) bool {
		if s.skills[i].Priority() != s.skills[j].Priority() {
			return s.skills[i].Priority() > s.skills[j].Priority()
		}
		return s.skills[i].Name() < s.skills[j].Name()
	})
	s.sorted = true
}

// Dispatch finds the first skill (in priority order) whose CanHandle
// accepts cmd and executes it. Returns ErrNoMatch when nothing handles the
// command so the caller can fall back to the AI path. No shared lock is
// held during Execute.
func (s *SkillSet) Dispatch(ctx context.Context, cmd string, sctx SkillContext) (Response, error) {
	for _, sk := range s.List() {
		if sk.CanHandle(cmd, sctx) {
			s.logger.Debug("dispatching", "skill", sk.Name(), "cmd", firstLine(cmd))
			return sk.Execute(ctx, cmd, sctx), nil
		}
	}
	return Response{}, ErrNoMatch
}

// Initialize runs every skill's optional Initialize hook.
func (s *SkillSet) Initialize(ctx context.Context) error {
	for _, sk := range s.List() {
		if init, ok := sk.(Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shutdown runs every skill's optional Shutdown hook, best-effort.
func (s *SkillSet) Shutdown(ctx context.Context) {
	for _, sk := range s.List() {
		if sh, ok := sk.(Shutdowner); ok {
			if err := sh.Shutdown(ctx); err != nil {
				s.logger.Warn("skill shutdown failed", "skill", sk.Name(), "error", err)
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if len(s) > 80 {
		return s[:80]
	}
	return s
}
