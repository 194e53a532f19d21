package majordomo

import "context"

// MemoryStore is the "memory" database: conversations, user facts, tasks,
// scheduled jobs, chat bindings. Writes here are best-effort — callers log
// and swallow errors rather than failing the pipeline.
type MemoryStore interface {
	Init(ctx context.Context) error

	AppendConversation(ctx context.Context, e ConversationEntry) error
	RecentConversation(ctx context.Context, chatID string, n int) ([]ConversationEntry, error)

	// SetFact inserts or replaces the (userID, key) fact.
	SetFact(ctx context.Context, f UserFact) error
	ListFacts(ctx context.Context, userID string, n int) ([]UserFact, error)

	CreateTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, userID, status string) ([]Task, error)

	// UpsertJob inserts or updates a scheduled job keyed by name.
	UpsertJob(ctx context.Context, j ScheduledJob) error
	ListJobs(ctx context.Context) ([]ScheduledJob, error)
	// MarkJobRun records a fire and the recomputed next run, both unix seconds.
	MarkJobRun(ctx context.Context, name string, lastRun, nextRun int64) error
	SetJobEnabled(ctx context.Context, name string, enabled bool) error

	// SaveBinding inserts or rewrites the (platform, chatID) binding.
	SaveBinding(ctx context.Context, b ChatBinding) error
	ListBindings(ctx context.Context) ([]ChatBinding, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// StateStore is the "state" database: pending actions, outcomes, plans,
// alerts. Write errors here propagate to the caller.
type StateStore interface {
	Init(ctx context.Context) error

	InsertPendingAction(ctx context.Context, a PendingAction) error
	// PendingByUser returns the user's pending action row, if any,
	// regardless of expiry; the controller reaps expired rows on read.
	PendingByUser(ctx context.Context, userID string) (PendingAction, bool, error)
	GetAction(ctx context.Context, id string) (PendingAction, error)
	// TransitionAction moves the action from state `from` to `to`; reports
	// whether the row was in `from` (the compare-and-swap succeeded).
	TransitionAction(ctx context.Context, id, from, to string) (bool, error)
	// ExpirePending flips every pending row proposed before cutoff (unix
	// millis) to expired, returning the number of rows changed.
	ExpirePending(ctx context.Context, cutoff int64) (int, error)
	// LastCompleted returns the user's most recent complete action since
	// the given unix-millis timestamp.
	LastCompleted(ctx context.Context, userID string, since int64) (PendingAction, bool, error)

	CreateOutcome(ctx context.Context, o Outcome) error
	GetOutcome(ctx context.Context, actionID string) (Outcome, error)
	UpdateOutcome(ctx context.Context, o Outcome) error
	RecentOutcomes(ctx context.Context, userID string, n int) ([]Outcome, error)

	CreatePlan(ctx context.Context, p Plan) error
	UpdatePlan(ctx context.Context, p Plan) error
	RecentPlans(ctx context.Context, userID string, n int) ([]Plan, error)

	CreateAlert(ctx context.Context, a Alert) error
	GetAlert(ctx context.Context, id string) (Alert, error)
	// AlertByKey returns the most recent alert with the idempotency key
	// created at or after `since` (unix millis).
	AlertByKey(ctx context.Context, key string, since int64) (Alert, bool, error)
	UpdateAlert(ctx context.Context, a Alert) error
	// DueAlerts returns unacknowledged alerts whose NextEscalateAt is at or
	// before now (unix millis).
	DueAlerts(ctx context.Context, now int64) ([]Alert, error)
}
