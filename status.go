package majordomo

import (
	"fmt"
	"strings"
)

// StatusKind names one of the six progress-message templates.
type StatusKind string

const (
	StatusApprovalNeeded StatusKind = "APPROVAL_NEEDED"
	StatusWorking        StatusKind = "WORKING"
	StatusProgress       StatusKind = "PROGRESS"
	StatusComplete       StatusKind = "COMPLETE"
	StatusFailed         StatusKind = "FAILED"
	StatusInfo           StatusKind = "INFO"
)

// StatusMeta is the optional trailing metadata line of a status message.
type StatusMeta struct {
	Cost      string
	ETA       string
	NextSteps string
}

// Messenger renders the six status-message kinds. Stateless; one instance
// per platform capability profile.
type Messenger struct {
	markdown bool
}

// NewMessenger creates a Messenger. markdown controls whether headers are
// wrapped in bold markers or rendered plain.
func NewMessenger(markdown bool) *Messenger {
	return &Messenger{markdown: markdown}
}

var statusHeaders = map[StatusKind]string{
	StatusApprovalNeeded: "APPROVAL NEEDED",
	StatusWorking:        "WORKING",
	StatusProgress:       "PROGRESS",
	StatusComplete:       "COMPLETE",
	StatusFailed:         "FAILED",
	StatusInfo:           "INFO",
}

// Render produces a status message: a bold header line, an indented body,
// and an optional trailing metadata line.
func (m *Messenger) Render(kind StatusKind, body string, meta *StatusMeta) string {
	header := statusHeaders[kind]
	if header == "" {
		header = string(kind)
	}
	if m.markdown {
		header = "*" + header + "*"
	}

	var b strings.Builder
	b.WriteString(header)
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		b.WriteString("\n  ")
		b.WriteString(line)
	}
	if meta != nil {
		var parts []string
		if meta.Cost != "" {
			parts = append(parts, "cost: "+meta.Cost)
		}
		if meta.ETA != "" {
			parts = append(parts, "eta: "+meta.ETA)
		}
		if meta.NextSteps != "" {
			parts = append(parts, "next: "+meta.NextSteps)
		}
		if len(parts) > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Join(parts, " | "))
		}
	}
	return b.String()
}

// ApprovalNeeded renders the confirmation prompt for a proposed action.
func (m *Messenger) ApprovalNeeded(summary string) string {
	return m.Render(StatusApprovalNeeded, summary+"\nReply \"yes\" to confirm or \"no\" to cancel.", nil)
}

// Working renders the start-of-execution notice.
func (m *Messenger) Working(what string) string {
	return m.Render(StatusWorking, "Starting: "+what, nil)
}

// Progress renders an in-flight progress update.
func (m *Messenger) Progress(phase, detail string) string {
	body := phase
	if detail != "" {
		body += "\n" + detail
	}
	return m.Render(StatusProgress, body, nil)
}

// Complete renders the terminal success message.
func (m *Messenger) Complete(result string, meta *StatusMeta) string {
	return m.Render(StatusComplete, result, meta)
}

// Failed renders the terminal failure message.
func (m *Messenger) Failed(reason string) string {
	return m.Render(StatusFailed, reason, nil)
}

// Info renders an informational notice.
func (m *Messenger) Info(body string) string {
	return m.Render(StatusInfo, body, nil)
}

// Reminder renders the nudge sent when an unrelated message arrives while
// an action is pending confirmation.
func (m *Messenger) Reminder(summary string) string {
	return m.Render(StatusApprovalNeeded, fmt.Sprintf("Still waiting on: %s\nReply \"yes\" to confirm or \"no\" to cancel.", summary), nil)
}
