package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Tracker records the lifecycle of actions: start, terminal result,
// feedback. It is the only writer of Outcome rows; the context engine reads
// them back to inform future AI calls.
type Tracker struct {
	store  StateStore
	logger *slog.Logger
}

// NewTracker creates a Tracker over the state store.
func NewTracker(store StateStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = nopLogger
	}
	return &Tracker{store: store, logger: logger}
}

// StartAction writes a started outcome row and returns its action ID.
func (t *Tracker) StartAction(ctx context.Context, userID, kind, description string) (string, error) {
	o := Outcome{
		ActionID:    NewID(),
		UserID:      userID,
		Kind:        kind,
		Description: description,
		StartedAt:   NowMillis(),
	}
	if err := t.store.CreateOutcome(ctx, o); err != nil {
		return "", fmt.Errorf("tracker: start action: %w", err)
	}
	return o.ActionID, nil
}

// CompleteAction records the terminal result. Idempotent on the terminal
// state: a second call with the same result is a no-op, a second call with
// a conflicting result is a hard error.
func (t *Tracker) CompleteAction(ctx context.Context, actionID, result, details string) error {
	switch result {
	case OutcomeSuccess, OutcomeFailed, OutcomeCancelled:
	default:
		return fmt.Errorf("tracker: invalid result %q", result)
	}

	o, err := t.store.GetOutcome(ctx, actionID)
	if err != nil {
		return fmt.Errorf("tracker: complete action: %w", err)
	}
	if o.Result != "" {
		if o.Result == result {
			return nil
		}
		return fmt.Errorf("tracker: action %s already completed as %q, refusing %q", actionID, o.Result, result)
	}

	o.Result = result
	o.Details = details
	o.CompletedAt = NowMillis()
	if err := t.store.UpdateOutcome(ctx, o); err != nil {
		return fmt.Errorf("tracker: complete action: %w", err)
	}
	return nil
}

// RecordFeedback appends user feedback to a completed action.
func (t *Tracker) RecordFeedback(ctx context.Context, actionID, sentiment, note string) error {
	o, err := t.store.GetOutcome(ctx, actionID)
	if err != nil {
		return fmt.Errorf("tracker: record feedback: %w", err)
	}
	o.Feedback = strings.TrimSpace(sentiment + " " + note)
	if err := t.store.UpdateOutcome(ctx, o); err != nil {
		return fmt.Errorf("tracker: record feedback: %w", err)
	}
	return nil
}

// FormatForContext renders the user's most recent n outcomes as a short
// block for the system prompt.
func (t *Tracker) FormatForContext(ctx context.Context, userID string, n int) (string, error) {
	if n <= 0 {
		n = 8
	}
	outcomes, err := t.store.RecentOutcomes(ctx, userID, n)
	if err != nil {
		return "", fmt.Errorf("tracker: recent outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Recent action outcomes:\n")
	for _, o := range outcomes {
		result := o.Result
		if result == "" {
			result = "in progress"
		}
		ts := time.UnixMilli(o.StartedAt).UTC().Format("Jan 2 15:04")
		fmt.Fprintf(&b, "- [%s] %s: %s (%s)", ts, o.Kind, o.Description, result)
		if o.Feedback != "" {
			fmt.Fprintf(&b, " — feedback: %s", o.Feedback)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
