package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/giquina/majordomo"
)

// State implements majordomo.StateStore backed by a local SQLite file.
type State struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ majordomo.StateStore = (*State)(nil)

// NewState creates a State store using a local SQLite file at dbPath.
func NewState(dbPath string, opts ...Option) *State {
	o := options{logger: nopLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return &State{db: open(dbPath), logger: o.logger}
}

// Init creates all required tables. Idempotent.
func (s *State) Init(ctx context.Context) error {
	err := execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS pending_actions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			params TEXT,
			summary TEXT NOT NULL,
			state TEXT NOT NULL,
			proposed_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			action_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			result TEXT,
			details TEXT,
			feedback TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			instruction TEXT NOT NULL,
			target_project TEXT NOT NULL,
			file_ops TEXT,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			pr_url TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			key TEXT,
			level TEXT NOT NULL,
			body TEXT NOT NULL,
			tier TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			next_escalate_at INTEGER NOT NULL DEFAULT 0,
			acknowledged_at INTEGER NOT NULL DEFAULT 0
		)`,
	})
	if err != nil {
		return err
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_actions_user_state ON pending_actions(user_id, state)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(key, created_at)`)

	s.logger.Debug("sqlite: state store ready")
	return nil
}

// InsertPendingAction writes a new action row.
func (s *State) InsertPendingAction(ctx context.Context, a majordomo.PendingAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_actions (id, user_id, kind, params, summary, state, proposed_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Kind, string(a.Params), a.Summary, a.State, a.ProposedAt, a.ExpiresAt)
	return err
}

// PendingByUser returns the user's pending action row, if any.
func (s *State) PendingByUser(ctx context.Context, userID string) (majordomo.PendingAction, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, params, summary, state, proposed_at, expires_at
		 FROM pending_actions WHERE user_id = ? AND state = 'pending'
		 ORDER BY proposed_at DESC LIMIT 1`, userID)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return majordomo.PendingAction{}, false, nil
	}
	if err != nil {
		return majordomo.PendingAction{}, false, err
	}
	return a, true, nil
}

// GetAction returns one action by ID.
func (s *State) GetAction(ctx context.Context, id string) (majordomo.PendingAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, params, summary, state, proposed_at, expires_at
		 FROM pending_actions WHERE id = ?`, id)
	return scanAction(row)
}

// TransitionAction is the compare-and-swap on the action state machine.
func (s *State) TransitionAction(ctx context.Context, id, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET state = ? WHERE id = ? AND state = ?`, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpirePending flips every pending row whose deadline is at or before
// cutoff to expired.
func (s *State) ExpirePending(ctx context.Context, cutoff int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET state = 'expired' WHERE state = 'pending' AND expires_at <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// LastCompleted returns the user's most recent complete action since the
// given unix-millis timestamp.
func (s *State) LastCompleted(ctx context.Context, userID string, since int64) (majordomo.PendingAction, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, params, summary, state, proposed_at, expires_at
		 FROM pending_actions WHERE user_id = ? AND state = 'complete' AND proposed_at >= ?
		 ORDER BY proposed_at DESC LIMIT 1`, userID, since)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return majordomo.PendingAction{}, false, nil
	}
	if err != nil {
		return majordomo.PendingAction{}, false, err
	}
	return a, true, nil
}

func scanAction(row *sql.Row) (majordomo.PendingAction, error) {
	var a majordomo.PendingAction
	var params sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Kind, &params, &a.Summary, &a.State, &a.ProposedAt, &a.ExpiresAt)
	if err != nil {
		return majordomo.PendingAction{}, err
	}
	a.Params = json.RawMessage(params.String)
	return a, nil
}

// CreateOutcome writes the start row for an action.
func (s *State) CreateOutcome(ctx context.Context, o majordomo.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (action_id, user_id, kind, description, started_at, completed_at, result, details, feedback)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ActionID, o.UserID, o.Kind, o.Description, o.StartedAt, o.CompletedAt, o.Result, o.Details, o.Feedback)
	return err
}

// GetOutcome returns the outcome for an action.
func (s *State) GetOutcome(ctx context.Context, actionID string) (majordomo.Outcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, user_id, kind, description, started_at, completed_at, result, details, feedback
		 FROM outcomes WHERE action_id = ?`, actionID)
	return scanOutcome(row)
}

// UpdateOutcome rewrites an outcome row.
func (s *State) UpdateOutcome(ctx context.Context, o majordomo.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outcomes SET completed_at = ?, result = ?, details = ?, feedback = ? WHERE action_id = ?`,
		o.CompletedAt, o.Result, o.Details, o.Feedback, o.ActionID)
	return err
}

// RecentOutcomes returns the user's n most recent outcomes, newest first.
func (s *State) RecentOutcomes(ctx context.Context, userID string, n int) ([]majordomo.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, user_id, kind, description, started_at, completed_at, result, details, feedback
		 FROM outcomes WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.Outcome
	for rows.Next() {
		o, err := scanOutcomeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOutcome(row *sql.Row) (majordomo.Outcome, error) {
	var o majordomo.Outcome
	var completed sql.NullInt64
	var result, details, feedback sql.NullString
	err := row.Scan(&o.ActionID, &o.UserID, &o.Kind, &o.Description, &o.StartedAt, &completed, &result, &details, &feedback)
	if err != nil {
		return majordomo.Outcome{}, err
	}
	o.CompletedAt = completed.Int64
	o.Result = result.String
	o.Details = details.String
	o.Feedback = feedback.String
	return o, nil
}

func scanOutcomeRows(rows *sql.Rows) (majordomo.Outcome, error) {
	var o majordomo.Outcome
	var completed sql.NullInt64
	var result, details, feedback sql.NullString
	err := rows.Scan(&o.ActionID, &o.UserID, &o.Kind, &o.Description, &o.StartedAt, &completed, &result, &details, &feedback)
	if err != nil {
		return majordomo.Outcome{}, err
	}
	o.CompletedAt = completed.Int64
	o.Result = result.String
	o.Details = details.String
	o.Feedback = feedback.String
	return o, nil
}

// CreatePlan writes a new plan row. File ops are stored as JSON.
func (s *State) CreatePlan(ctx context.Context, p majordomo.Plan) error {
	ops, err := json.Marshal(p.FileOps)
	if err != nil {
		return fmt.Errorf("marshal file ops: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, user_id, instruction, target_project, file_ops, status, created_at, pr_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Instruction, p.TargetProject, string(ops), p.Status, p.CreatedAt, p.PRURL)
	return err
}

// UpdatePlan rewrites a plan row.
func (s *State) UpdatePlan(ctx context.Context, p majordomo.Plan) error {
	ops, err := json.Marshal(p.FileOps)
	if err != nil {
		return fmt.Errorf("marshal file ops: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE plans SET file_ops = ?, status = ?, pr_url = ? WHERE id = ?`,
		string(ops), p.Status, p.PRURL, p.ID)
	return err
}

// RecentPlans returns the user's n most recent plans, newest first.
func (s *State) RecentPlans(ctx context.Context, userID string, n int) ([]majordomo.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction, target_project, file_ops, status, created_at, pr_url
		 FROM plans WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.Plan
	for rows.Next() {
		var p majordomo.Plan
		var ops, prURL sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Instruction, &p.TargetProject, &ops, &p.Status, &p.CreatedAt, &prURL); err != nil {
			return nil, err
		}
		if ops.String != "" {
			if err := json.Unmarshal([]byte(ops.String), &p.FileOps); err != nil {
				s.logger.Warn("sqlite: bad file_ops json, skipping", "plan", p.ID, "error", err)
			}
		}
		p.PRURL = prURL.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateAlert writes a new alert row.
func (s *State) CreateAlert(ctx context.Context, a majordomo.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Key, a.Level, a.Body, a.Tier, a.CreatedAt, a.NextEscalateAt, a.AcknowledgedAt)
	return err
}

// GetAlert returns one alert by ID.
func (s *State) GetAlert(ctx context.Context, id string) (majordomo.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at
		 FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// AlertByKey returns the most recent alert with key created at or after
// since.
func (s *State) AlertByKey(ctx context.Context, key string, since int64) (majordomo.Alert, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at
		 FROM alerts WHERE key = ? AND created_at >= ? ORDER BY created_at DESC LIMIT 1`, key, since)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return majordomo.Alert{}, false, nil
	}
	if err != nil {
		return majordomo.Alert{}, false, err
	}
	return a, true, nil
}

// UpdateAlert rewrites an alert row.
func (s *State) UpdateAlert(ctx context.Context, a majordomo.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET tier = ?, next_escalate_at = ?, acknowledged_at = ? WHERE id = ?`,
		a.Tier, a.NextEscalateAt, a.AcknowledgedAt, a.ID)
	return err
}

// DueAlerts returns unacknowledged alerts whose escalation time has come.
func (s *State) DueAlerts(ctx context.Context, now int64) ([]majordomo.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at
		 FROM alerts WHERE acknowledged_at = 0 AND next_escalate_at > 0 AND next_escalate_at <= ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []majordomo.Alert
	for rows.Next() {
		var a majordomo.Alert
		var key sql.NullString
		if err := rows.Scan(&a.ID, &key, &a.Level, &a.Body, &a.Tier, &a.CreatedAt, &a.NextEscalateAt, &a.AcknowledgedAt); err != nil {
			return nil, err
		}
		a.Key = key.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row *sql.Row) (majordomo.Alert, error) {
	var a majordomo.Alert
	var key sql.NullString
	err := row.Scan(&a.ID, &key, &a.Level, &a.Body, &a.Tier, &a.CreatedAt, &a.NextEscalateAt, &a.AcknowledgedAt)
	if err != nil {
		return majordomo.Alert{}, err
	}
	a.Key = key.String
	return a, nil
}

// Close releases the underlying database handle.
func (s *State) Close() error { return s.db.Close() }
