package majordomo

import (
	"regexp"
	"strings"
	"sync"
)

// RewriteRule maps one natural-language phrasing onto a canonical skill
// command. Replace uses the pattern's capture groups ($1, $2, ...).
type RewriteRule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Rewriter translates natural-language utterances into skill commands.
// Passthrough guards run first and short-circuit: conversational input is
// returned unchanged so the AI handler gets it. Keyword lists are tunable
// at runtime.
type Rewriter struct {
	mu          sync.RWMutex
	rules       []RewriteRule
	greetings   []string
	codingVerbs []string
	components  []string
}

// defaultRules translate common phrasings. Ordered; first match wins.
var defaultRules = []RewriteRule{
	{regexp.MustCompile(`(?i)^what'?s left (?:on|for) (.+)$`), "project status $1"},
	{regexp.MustCompile(`(?i)^how(?:'s| is) (.+) (?:going|doing)\??$`), "project status $1"},
	{regexp.MustCompile(`(?i)^(?:please )?deploy (.+?)(?: now)?$`), "deploy $1"},
	{regexp.MustCompile(`(?i)^remind me to (.+)$`), "task add $1"},
	{regexp.MustCompile(`(?i)^what (?:do i|should i) (?:do|work on) (?:today|next)\??$`), "task list"},
	{regexp.MustCompile(`(?i)^show (?:me )?(?:my )?tasks$`), "task list"},
	{regexp.MustCompile(`(?i)^undo(?: that| last)?$`), "undo"},
}

var defaultGreetings = []string{
	"hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "good morning",
	"good evening", "gm",
}

var defaultCodingVerbs = []string{"add", "make", "fix", "create", "implement", "refactor", "update", "change", "remove"}

var defaultComponents = []string{
	"button", "page", "endpoint", "function", "component", "test", "api",
	"form", "modal", "route", "handler", "migration", "field", "column",
}

// NewRewriter creates a Rewriter with the default rules and guard lists.
func NewRewriter() *Rewriter {
	return &Rewriter{
		rules:       defaultRules,
		greetings:   defaultGreetings,
		codingVerbs: defaultCodingVerbs,
		components:  defaultComponents,
	}
}

// SetGuards replaces the passthrough guard keyword lists. Nil slices keep
// the current values.
func (r *Rewriter) SetGuards(greetings, codingVerbs, components []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if greetings != nil {
		r.greetings = greetings
	}
	if codingVerbs != nil {
		r.codingVerbs = codingVerbs
	}
	if components != nil {
		r.components = components
	}
}

// SetRules replaces the rewrite rule list.
func (r *Rewriter) SetRules(rules []RewriteRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

// Rewrite returns the canonical skill command for text, or text unchanged
// when a passthrough guard fires or no rule matches.
func (r *Rewriter) Rewrite(text string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || r.passthrough(trimmed) {
		return text
	}
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(trimmed) {
			return strings.TrimSpace(rule.Pattern.ReplaceAllString(trimmed, rule.Replace))
		}
	}
	return text
}

// passthrough reports whether the input is conversational: a greeting, a
// question, or a coding instruction ("fix the login button") that should go
// to the AI handler rather than a skill.
func (r *Rewriter) passthrough(text string) bool {
	lower := strings.ToLower(text)

	for _, g := range r.greetings {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") {
			return true
		}
	}

	// Coding verb attached to a component noun.
	fields := strings.Fields(lower)
	if len(fields) >= 2 {
		for _, v := range r.codingVerbs {
			if fields[0] != v {
				continue
			}
			for _, c := range r.components {
				if strings.Contains(lower, c) {
					return true
				}
			}
		}
	}

	// Questions pass through unless a rewrite rule explicitly claims them.
	if strings.HasSuffix(lower, "?") {
		for _, rule := range r.rules {
			if rule.Pattern.MatchString(text) {
				return false
			}
		}
		return true
	}
	return false
}
