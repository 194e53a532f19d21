package majordomo

import "strings"

// greetingWords match whole messages (after trimming punctuation).
var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "sup": true,
	"morning": true, "evening": true, "afternoon": true, "gm": true,
	"thanks": true, "thank": true, "ok": true, "okay": true, "cool": true,
}

var classKeywords = []struct {
	class TaskClass
	words []string
}{
	{ClassCoding, []string{"code", "bug", "fix", "refactor", "function", "compile", "deploy", "implement", "error", "stack trace", "test", "api", "endpoint"}},
	{ClassPlanning, []string{"plan", "roadmap", "milestone", "organize", "schedule", "steps", "strategy", "break down"}},
	{ClassResearch, []string{"research", "compare", "find out", "investigate", "look up", "sources", "summarize", "explain in depth"}},
	{ClassSocial, []string{"tweet", "post", "caption", "linkedin", "instagram", "social", "followers", "trending"}},
}

// Classify inspects a query and returns its task class using keyword
// heuristics. Greetings and short inputs (three tokens or fewer) classify
// as simple; long multi-clause queries with no keyword hit as complex.
func Classify(query string) TaskClass {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ClassSimple
	}

	tokens := strings.Fields(q)
	if len(tokens) == 1 && greetingWords[strings.Trim(tokens[0], "!.,?")] {
		return ClassGreeting
	}
	if len(tokens) <= 3 {
		return ClassSimple
	}

	for _, ck := range classKeywords {
		for _, w := range ck.words {
			if strings.Contains(q, w) {
				return ck.class
			}
		}
	}

	// Long free-form queries with several clauses lean complex.
	if len(tokens) >= 25 || strings.Count(q, "?") > 1 {
		return ClassComplex
	}
	return ClassSimple
}
