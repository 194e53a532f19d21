package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/giquina/majordomo"
)

// Memory implements majordomo.MemoryStore backed by a local SQLite file.
type Memory struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ majordomo.MemoryStore = (*Memory)(nil)

// NewMemory creates a Memory store using a local SQLite file at dbPath.
func NewMemory(dbPath string, opts ...Option) *Memory {
	o := options{logger: nopLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{db: open(dbPath), logger: o.logger}
}

// Init creates all required tables. Idempotent.
func (m *Memory) Init(ctx context.Context) error {
	err := execAll(ctx, m.db, []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS facts (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			target_value REAL,
			current_value REAL,
			unit TEXT,
			deadline INTEGER,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			name TEXT PRIMARY KEY,
			cron_expr TEXT NOT NULL,
			handler_ref TEXT NOT NULL,
			params TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run INTEGER,
			next_run INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_bindings (
			platform TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			type TEXT NOT NULL,
			value TEXT,
			notify_level TEXT NOT NULL,
			registered_at INTEGER NOT NULL,
			PRIMARY KEY (platform, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	})
	if err != nil {
		return err
	}

	_, _ = m.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_conversations_chat ON conversations(chat_id, id)`)
	_, _ = m.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, status)`)

	m.logger.Debug("sqlite: memory store ready")
	return nil
}

// AppendConversation writes one history row.
func (m *Memory) AppendConversation(ctx context.Context, e majordomo.ConversationEntry) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO conversations (chat_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		e.ChatID, e.Role, e.Text, e.CreatedAt)
	return err
}

// RecentConversation returns the last n entries for chatID in
// chronological order.
func (m *Memory) RecentConversation(ctx context.Context, chatID string, n int) ([]majordomo.ConversationEntry, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT chat_id, role, text, created_at FROM conversations
		 WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.ConversationEntry
	for rows.Next() {
		var e majordomo.ConversationEntry
		if err := rows.Scan(&e.ChatID, &e.Role, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse: query returns newest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SetFact inserts or replaces the (userID, key) fact.
func (m *Memory) SetFact(ctx context.Context, f majordomo.UserFact) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO facts (user_id, key, value, source, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, source = excluded.source, created_at = excluded.created_at`,
		f.UserID, f.Key, f.Value, f.Source, f.CreatedAt)
	return err
}

// ListFacts returns up to n facts for userID, most recent first.
func (m *Memory) ListFacts(ctx context.Context, userID string, n int) ([]majordomo.UserFact, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id, key, value, source, created_at FROM facts
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.UserFact
	for rows.Next() {
		var f majordomo.UserFact
		var source sql.NullString
		if err := rows.Scan(&f.UserID, &f.Key, &f.Value, &source, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Source = source.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateTask inserts a task. Progress is clamped to [0, inf) at write time.
func (m *Memory) CreateTask(ctx context.Context, t majordomo.Task) error {
	if t.CurrentValue < 0 {
		t.CurrentValue = 0
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, description, status, target_value, current_value, unit, deadline, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Description, t.Status, t.TargetValue, t.CurrentValue, t.Unit, t.Deadline, t.CreatedAt, t.CompletedAt)
	return err
}

// UpdateTask rewrites a task row. Terminal statuses stick: updating a
// completed or cancelled task is a no-op.
func (m *Memory) UpdateTask(ctx context.Context, t majordomo.Task) error {
	if t.CurrentValue < 0 {
		t.CurrentValue = 0
	}
	_, err := m.db.ExecContext(ctx,
		`UPDATE tasks SET description = ?, status = ?, target_value = ?, current_value = ?, unit = ?, deadline = ?, completed_at = ?
		 WHERE id = ? AND status = 'active'`,
		t.Description, t.Status, t.TargetValue, t.CurrentValue, t.Unit, t.Deadline, t.CompletedAt, t.ID)
	return err
}

// GetTask returns one task by ID.
func (m *Memory) GetTask(ctx context.Context, id string) (majordomo.Task, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, user_id, description, status, target_value, current_value, unit, deadline, created_at, completed_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks for userID, optionally filtered by status.
func (m *Memory) ListTasks(ctx context.Context, userID, status string) ([]majordomo.Task, error) {
	query := `SELECT id, user_id, description, status, target_value, current_value, unit, deadline, created_at, completed_at
		 FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (majordomo.Task, error) {
	var t majordomo.Task
	var target, current sql.NullFloat64
	var unit sql.NullString
	var deadline, completed sql.NullInt64
	err := s.Scan(&t.ID, &t.UserID, &t.Description, &t.Status, &target, &current, &unit, &deadline, &t.CreatedAt, &completed)
	if err != nil {
		return majordomo.Task{}, err
	}
	t.TargetValue = target.Float64
	t.CurrentValue = current.Float64
	t.Unit = unit.String
	t.Deadline = deadline.Int64
	t.CompletedAt = completed.Int64
	return t, nil
}

// UpsertJob inserts or updates a job keyed by name.
func (m *Memory) UpsertJob(ctx context.Context, j majordomo.ScheduledJob) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (name, cron_expr, handler_ref, params, enabled, last_run, next_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET cron_expr = excluded.cron_expr, handler_ref = excluded.handler_ref,
		   params = excluded.params, enabled = excluded.enabled, next_run = excluded.next_run`,
		j.Name, j.CronExpr, j.HandlerRef, string(j.Params), boolInt(j.Enabled), j.LastRun, j.NextRun)
	return err
}

// ListJobs returns all jobs.
func (m *Memory) ListJobs(ctx context.Context) ([]majordomo.ScheduledJob, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT name, cron_expr, handler_ref, params, enabled, last_run, next_run FROM scheduled_jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.ScheduledJob
	for rows.Next() {
		var j majordomo.ScheduledJob
		var params sql.NullString
		var enabled int
		var lastRun sql.NullInt64
		if err := rows.Scan(&j.Name, &j.CronExpr, &j.HandlerRef, &params, &enabled, &lastRun, &j.NextRun); err != nil {
			return nil, err
		}
		j.Params = []byte(params.String)
		j.Enabled = enabled != 0
		j.LastRun = lastRun.Int64
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkJobRun records a fire and the recomputed next run.
func (m *Memory) MarkJobRun(ctx context.Context, name string, lastRun, nextRun int64) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run = ?, next_run = ? WHERE name = ?`, lastRun, nextRun, name)
	return err
}

// SetJobEnabled toggles a job.
func (m *Memory) SetJobEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET enabled = ? WHERE name = ?`, boolInt(enabled), name)
	return err
}

// SaveBinding inserts or rewrites the (platform, chatID) binding.
func (m *Memory) SaveBinding(ctx context.Context, b majordomo.ChatBinding) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO chat_bindings (platform, chat_id, type, value, notify_level, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform, chat_id) DO UPDATE SET type = excluded.type, value = excluded.value,
		   notify_level = excluded.notify_level, registered_at = excluded.registered_at`,
		b.Platform, b.ChatID, b.Type, b.Value, b.NotifyLevel, b.RegisteredAt)
	return err
}

// ListBindings returns all bindings.
func (m *Memory) ListBindings(ctx context.Context) ([]majordomo.ChatBinding, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT platform, chat_id, type, value, notify_level, registered_at FROM chat_bindings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.ChatBinding
	for rows.Next() {
		var b majordomo.ChatBinding
		var value sql.NullString
		if err := rows.Scan(&b.Platform, &b.ChatID, &b.Type, &value, &b.NotifyLevel, &b.RegisteredAt); err != nil {
			return nil, err
		}
		b.Value = value.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetConfig returns a config value, or "" when absent.
func (m *Memory) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig inserts or replaces a config value.
func (m *Memory) SetConfig(ctx context.Context, key, value string) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Close releases the underlying database handle.
func (m *Memory) Close() error { return m.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
