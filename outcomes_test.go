package majordomo

import (
	"context"
	"strings"
	"testing"
)

func TestTrackerCompleteIdempotent(t *testing.T) {
	state := newMemState()
	tr := NewTracker(state, nil)
	ctx := context.Background()

	id, err := tr.StartAction(ctx, "1", "deploy", "deploy projectX")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := tr.CompleteAction(ctx, id, OutcomeSuccess, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Same terminal result again is a no-op.
	if err := tr.CompleteAction(ctx, id, OutcomeSuccess, "done again"); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	// A conflicting result is a hard error.
	if err := tr.CompleteAction(ctx, id, OutcomeFailed, "oops"); err == nil {
		t.Fatal("conflicting terminal result accepted")
	}

	o, _ := state.GetOutcome(ctx, id)
	if o.Result != OutcomeSuccess || o.Details != "done" {
		t.Errorf("outcome = %+v", o)
	}
}

func TestTrackerInvalidResult(t *testing.T) {
	tr := NewTracker(newMemState(), nil)
	if err := tr.CompleteAction(context.Background(), "x", "sideways", ""); err == nil {
		t.Fatal("invalid result accepted")
	}
}

func TestTrackerCompleteUnknownAction(t *testing.T) {
	tr := NewTracker(newMemState(), nil)
	if err := tr.CompleteAction(context.Background(), "missing", OutcomeSuccess, ""); err == nil {
		t.Fatal("unknown action accepted")
	}
}

func TestTrackerRecordFeedback(t *testing.T) {
	state := newMemState()
	tr := NewTracker(state, nil)
	ctx := context.Background()

	id, _ := tr.StartAction(ctx, "1", "deploy", "deploy projectX")
	tr.CompleteAction(ctx, id, OutcomeSuccess, "done")
	if err := tr.RecordFeedback(ctx, id, "positive", "worked first try"); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	o, _ := state.GetOutcome(ctx, id)
	if o.Feedback != "positive worked first try" {
		t.Errorf("feedback = %q", o.Feedback)
	}
}

func TestTrackerFormatForContext(t *testing.T) {
	state := newMemState()
	tr := NewTracker(state, nil)
	ctx := context.Background()

	id1, _ := tr.StartAction(ctx, "1", "deploy", "deploy projectX")
	tr.CompleteAction(ctx, id1, OutcomeSuccess, "done")
	tr.RecordFeedback(ctx, id1, "positive", "fast")
	tr.StartAction(ctx, "1", "plan", "build login page")

	got, err := tr.FormatForContext(ctx, "1", 8)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.HasPrefix(got, "Recent action outcomes:") {
		t.Errorf("header missing: %q", got)
	}
	if !strings.Contains(got, "deploy: deploy projectX (success)") {
		t.Errorf("completed line missing: %q", got)
	}
	if !strings.Contains(got, "feedback: positive fast") {
		t.Errorf("feedback missing: %q", got)
	}
	if !strings.Contains(got, "plan: build login page (in progress)") {
		t.Errorf("in-progress line missing: %q", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("trailing newline not trimmed")
	}
}

func TestTrackerFormatForContextEmpty(t *testing.T) {
	tr := NewTracker(newMemState(), nil)
	got, err := tr.FormatForContext(context.Background(), "nobody", 8)
	if err != nil || got != "" {
		t.Errorf("got %q, %v", got, err)
	}
}
