package majordomo

import (
	"strings"
	"testing"
)

func TestMessengerRenderMarkdown(t *testing.T) {
	m := NewMessenger(true)
	got := m.Render(StatusComplete, "deployed projectX\ntook 40s", nil)
	want := "*COMPLETE*\n  deployed projectX\n  took 40s"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMessengerRenderPlain(t *testing.T) {
	m := NewMessenger(false)
	got := m.Render(StatusFailed, "ssh timed out", nil)
	if got != "FAILED\n  ssh timed out" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "*") {
		t.Error("plain renderer emitted markdown")
	}
}

func TestMessengerMetaLine(t *testing.T) {
	m := NewMessenger(false)
	got := m.Complete("done", &StatusMeta{Cost: "$0.02", ETA: "", NextSteps: "review the PR"})
	if !strings.HasSuffix(got, "cost: $0.02 | next: review the PR") {
		t.Errorf("got %q", got)
	}

	// An empty meta struct adds no line.
	got = m.Complete("done", &StatusMeta{})
	if got != "COMPLETE\n  done" {
		t.Errorf("got %q", got)
	}
}

func TestMessengerApprovalNeeded(t *testing.T) {
	m := NewMessenger(true)
	got := m.ApprovalNeeded("Deploy projectX?")
	if !strings.HasPrefix(got, "*APPROVAL NEEDED*") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "Deploy projectX?") ||
		!strings.Contains(got, `Reply "yes" to confirm or "no" to cancel.`) {
		t.Errorf("got %q", got)
	}
}

func TestMessengerWorkingAndProgress(t *testing.T) {
	m := NewMessenger(false)
	if got := m.Working("deploy projectX"); got != "WORKING\n  Starting: deploy projectX" {
		t.Errorf("got %q", got)
	}
	if got := m.Progress("generate code", "3/7 files"); got != "PROGRESS\n  generate code\n  3/7 files" {
		t.Errorf("got %q", got)
	}
	if got := m.Progress("analyze plan", ""); got != "PROGRESS\n  analyze plan" {
		t.Errorf("got %q", got)
	}
}

func TestMessengerReminder(t *testing.T) {
	m := NewMessenger(false)
	got := m.Reminder("Deploy projectX?")
	if !strings.Contains(got, "Still waiting on: Deploy projectX?") {
		t.Errorf("got %q", got)
	}
}

func TestMessengerUnknownKindFallsBack(t *testing.T) {
	m := NewMessenger(false)
	if got := m.Render(StatusKind("CUSTOM"), "body", nil); !strings.HasPrefix(got, "CUSTOM") {
		t.Errorf("got %q", got)
	}
}
