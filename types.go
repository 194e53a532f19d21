package majordomo

import "encoding/json"

// --- Platforms ---

const (
	PlatformPrimary   = "primary"   // Telegram
	PlatformSecondary = "secondary" // Twilio SMS
	PlatformVoice     = "voice"     // Twilio voice
)

// --- Messages (in-process wire contract) ---

// Attachment is a non-text payload carried by an inbound message.
type Attachment struct {
	Kind string `json:"kind"` // "photo", "document", "audio"
	URL  string `json:"url"`
	Mime string `json:"mime"`
}

// InboundMessage is the normalized form every adapter maps its native
// event into. Immutable once constructed.
type InboundMessage struct {
	ID          string       `json:"id"` // platform-assigned, used for dedup
	Platform    string       `json:"platform"`
	ChatID      string       `json:"chat_id"`
	UserID      string       `json:"user_id"`
	Text        string       `json:"text,omitempty"`
	VoiceURL    string       `json:"voice_url,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ChatTitle   string       `json:"chat_title,omitempty"` // group title, for auto-binding
	ReceivedAt  int64        `json:"received_at"`          // unix millis
}

// OutboundMessage is the normalized outbound form. Text is pre-formatted by
// the status messenger or a skill; the core adds no markup.
type OutboundMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	MediaURL  string `json:"media_url,omitempty"`
	Caption   string `json:"caption,omitempty"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// --- Chat registry ---

const (
	ChatTypeRepo    = "repo"
	ChatTypeHQ      = "hq"
	ChatTypeCompany = "company"
	ChatTypeDirect  = "direct"
)

const (
	NotifyAll      = "all"
	NotifyCritical = "critical"
	NotifyDigest   = "digest"
)

// ChatBinding associates a (platform, chatID) pair with a project, HQ or
// company context. Exactly one binding per pair; rebinding rewrites the row.
type ChatBinding struct {
	Platform     string `json:"platform"`
	ChatID       string `json:"chat_id"`
	Type         string `json:"type"`  // repo, hq, company, direct
	Value        string `json:"value"` // free-form, scoped by Type
	NotifyLevel  string `json:"notify_level"`
	RegisteredAt int64  `json:"registered_at"`
}

// --- Conversation history ---

// ConversationEntry is one row of the append-only per-chat log.
type ConversationEntry struct {
	ChatID    string `json:"chat_id"`
	Role      string `json:"role"` // user, assistant, system
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// UserFact is a deduplicated (userID, key) -> value record. Writing an
// existing key replaces the value.
type UserFact struct {
	UserID    string `json:"user_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"`
}

// --- Tasks / goals / reminders ---

const (
	TaskActive    = "active"
	TaskCompleted = "completed"
	TaskCancelled = "cancelled"
)

// Task is a task, goal, or reminder. Status transitions out of "active"
// are terminal.
type Task struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	TargetValue  float64 `json:"target_value,omitempty"`
	CurrentValue float64 `json:"current_value,omitempty"`
	Unit         string  `json:"unit,omitempty"`
	Deadline     int64   `json:"deadline,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	CompletedAt  int64   `json:"completed_at,omitempty"`
}

// ProgressPercent returns the display percentage, clamped to [0, 100].
func (t Task) ProgressPercent() float64 {
	if t.TargetValue <= 0 {
		return 0
	}
	p := t.CurrentValue / t.TargetValue * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// --- Pending actions (confirmation state machine) ---

const (
	ActionPending   = "pending"
	ActionConfirmed = "confirmed"
	ActionRejected  = "rejected"
	ActionExpired   = "expired"
	ActionExecuting = "executing"
	ActionComplete  = "complete"
	ActionFailed    = "failed"
	ActionUndone    = "undone"
)

// PendingAction is a proposed side-effecting operation awaiting user
// confirmation. At most one pending row per user at any instant.
type PendingAction struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       string          `json:"kind"`
	Params     json.RawMessage `json:"params"`
	Summary    string          `json:"summary"` // human-readable "Deploy projectX?"
	State      string          `json:"state"`
	ProposedAt int64           `json:"proposed_at"` // unix millis
	ExpiresAt  int64           `json:"expires_at"`
}

// --- Outcomes ---

const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Outcome records the lifecycle of one action: start, terminal result, and
// optional user feedback. Written only by the Tracker.
type Outcome struct {
	ActionID    string `json:"action_id"`
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt int64  `json:"completed_at,omitempty"`
	Result      string `json:"result,omitempty"` // success, failed, cancelled
	Details     string `json:"details,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
}

// --- Scheduled jobs ---

// ScheduledJob is a persistent cron-like job. NextRun is recomputed after
// every fire.
type ScheduledJob struct {
	Name       string          `json:"name"`
	CronExpr   string          `json:"cron_expr"`
	HandlerRef string          `json:"handler_ref"`
	Params     json.RawMessage `json:"params,omitempty"`
	Enabled    bool            `json:"enabled"`
	LastRun    int64           `json:"last_run,omitempty"` // unix seconds
	NextRun    int64           `json:"next_run"`
}

// --- Plans ---

const (
	PlanPlanning  = "planning"
	PlanExecuting = "executing"
	PlanComplete  = "complete"
	PlanFailed    = "failed"
)

// FileOp is one step of a plan's file manipulation sequence.
type FileOp struct {
	Op      string `json:"op"` // read, write, create, delete
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// Plan is a multi-step repository transformation culminating in a pull
// request.
type Plan struct {
	ID            string   `json:"id"`
	UserID        string   `json:"user_id"`
	Instruction   string   `json:"instruction"`
	TargetProject string   `json:"target_project"`
	FileOps       []FileOp `json:"file_ops,omitempty"`
	Status        string   `json:"status"`
	CreatedAt     int64    `json:"created_at"`
	PRURL         string   `json:"pr_url,omitempty"`
}

// --- Alerts ---

const (
	AlertInfo      = "info"
	AlertWarning   = "warning"
	AlertCritical  = "critical"
	AlertEmergency = "emergency"
)

const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
	TierVoice     = "voice"
)

// Alert is an open escalating notification. NextEscalateAt is zero once the
// final tier has been reached or the alert was acknowledged.
type Alert struct {
	ID             string `json:"id"`
	Key            string `json:"key"` // caller-supplied idempotency key
	Level          string `json:"level"`
	Body           string `json:"body"`
	Tier           string `json:"tier"`
	CreatedAt      int64  `json:"created_at"` // unix millis
	NextEscalateAt int64  `json:"next_escalate_at,omitempty"`
	AcknowledgedAt int64  `json:"acknowledged_at,omitempty"`
}
