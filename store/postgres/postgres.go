// Package postgres implements majordomo.StateStore using PostgreSQL.
// Intended for deployments where several assistant processes share one
// state database; the single-file sqlite store remains the default.
//
// The store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giquina/majordomo"
)

// State implements majordomo.StateStore backed by PostgreSQL.
type State struct {
	pool *pgxpool.Pool
}

var _ majordomo.StateStore = (*State)(nil)

// New creates a State store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *State {
	return &State{pool: pool}
}

// Init creates all required tables and indexes. Safe to call multiple
// times (all statements are idempotent).
func (s *State) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_actions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			params TEXT,
			summary TEXT NOT NULL,
			state TEXT NOT NULL,
			proposed_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS pending_actions_user_state_idx ON pending_actions(user_id, state)`,

		`CREATE TABLE IF NOT EXISTS outcomes (
			action_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			feedback TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS outcomes_user_idx ON outcomes(user_id, started_at)`,

		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			instruction TEXT NOT NULL,
			target_project TEXT NOT NULL,
			file_ops JSONB,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			pr_url TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL,
			body TEXT NOT NULL,
			tier TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			next_escalate_at BIGINT NOT NULL DEFAULT 0,
			acknowledged_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS alerts_key_idx ON alerts(key, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- Pending actions ---

func (s *State) InsertPendingAction(ctx context.Context, a majordomo.PendingAction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_actions (id, user_id, kind, params, summary, state, proposed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.Kind, string(a.Params), a.Summary, a.State, a.ProposedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: insert action: %w", err)
	}
	return nil
}

func (s *State) PendingByUser(ctx context.Context, userID string) (majordomo.PendingAction, bool, error) {
	a, err := s.scanActionRow(s.pool.QueryRow(ctx,
		`SELECT id, user_id, kind, params, summary, state, proposed_at, expires_at
		 FROM pending_actions WHERE user_id = $1 AND state = 'pending'
		 ORDER BY proposed_at DESC LIMIT 1`, userID))
	if err == pgx.ErrNoRows {
		return majordomo.PendingAction{}, false, nil
	}
	if err != nil {
		return majordomo.PendingAction{}, false, fmt.Errorf("postgres: pending by user: %w", err)
	}
	return a, true, nil
}

func (s *State) GetAction(ctx context.Context, id string) (majordomo.PendingAction, error) {
	a, err := s.scanActionRow(s.pool.QueryRow(ctx,
		`SELECT id, user_id, kind, params, summary, state, proposed_at, expires_at
		 FROM pending_actions WHERE id = $1`, id))
	if err != nil {
		return majordomo.PendingAction{}, fmt.Errorf("postgres: get action: %w", err)
	}
	return a, nil
}

// TransitionAction is the compare-and-swap on the action state machine.
func (s *State) TransitionAction(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_actions SET state = $1 WHERE id = $2 AND state = $3`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("postgres: transition action: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *State) ExpirePending(ctx context.Context, cutoff int64) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_actions SET state = 'expired' WHERE state = 'pending' AND expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *State) LastCompleted(ctx context.Context, userID string, since int64) (majordomo.PendingAction, bool, error) {
	a, err := s.scanActionRow(s.pool.QueryRow(ctx,
		`SELECT id, user_id, kind, params, summary, state, proposed_at, expires_at
		 FROM pending_actions WHERE user_id = $1 AND state = 'complete' AND proposed_at >= $2
		 ORDER BY proposed_at DESC LIMIT 1`, userID, since))
	if err == pgx.ErrNoRows {
		return majordomo.PendingAction{}, false, nil
	}
	if err != nil {
		return majordomo.PendingAction{}, false, fmt.Errorf("postgres: last completed: %w", err)
	}
	return a, true, nil
}

func (s *State) scanActionRow(row pgx.Row) (majordomo.PendingAction, error) {
	var a majordomo.PendingAction
	var params *string
	err := row.Scan(&a.ID, &a.UserID, &a.Kind, &params, &a.Summary, &a.State, &a.ProposedAt, &a.ExpiresAt)
	if err != nil {
		return majordomo.PendingAction{}, err
	}
	if params != nil {
		a.Params = json.RawMessage(*params)
	}
	return a, nil
}

// --- Outcomes ---

func (s *State) CreateOutcome(ctx context.Context, o majordomo.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes (action_id, user_id, kind, description, started_at, completed_at, result, details, feedback)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ActionID, o.UserID, o.Kind, o.Description, o.StartedAt, o.CompletedAt, o.Result, o.Details, o.Feedback)
	if err != nil {
		return fmt.Errorf("postgres: create outcome: %w", err)
	}
	return nil
}

func (s *State) GetOutcome(ctx context.Context, actionID string) (majordomo.Outcome, error) {
	var o majordomo.Outcome
	err := s.pool.QueryRow(ctx,
		`SELECT action_id, user_id, kind, description, started_at, completed_at, result, details, feedback
		 FROM outcomes WHERE action_id = $1`, actionID,
	).Scan(&o.ActionID, &o.UserID, &o.Kind, &o.Description, &o.StartedAt, &o.CompletedAt, &o.Result, &o.Details, &o.Feedback)
	if err != nil {
		return majordomo.Outcome{}, fmt.Errorf("postgres: get outcome: %w", err)
	}
	return o, nil
}

func (s *State) UpdateOutcome(ctx context.Context, o majordomo.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outcomes SET completed_at = $1, result = $2, details = $3, feedback = $4 WHERE action_id = $5`,
		o.CompletedAt, o.Result, o.Details, o.Feedback, o.ActionID)
	if err != nil {
		return fmt.Errorf("postgres: update outcome: %w", err)
	}
	return nil
}

func (s *State) RecentOutcomes(ctx context.Context, userID string, n int) ([]majordomo.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action_id, user_id, kind, description, started_at, completed_at, result, details, feedback
		 FROM outcomes WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []majordomo.Outcome
	for rows.Next() {
		var o majordomo.Outcome
		if err := rows.Scan(&o.ActionID, &o.UserID, &o.Kind, &o.Description, &o.StartedAt, &o.CompletedAt, &o.Result, &o.Details, &o.Feedback); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Plans ---

func (s *State) CreatePlan(ctx context.Context, p majordomo.Plan) error {
	ops, err := json.Marshal(p.FileOps)
	if err != nil {
		return fmt.Errorf("postgres: marshal file ops: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, user_id, instruction, target_project, file_ops, status, created_at, pr_url)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		p.ID, p.UserID, p.Instruction, p.TargetProject, string(ops), p.Status, p.CreatedAt, p.PRURL)
	if err != nil {
		return fmt.Errorf("postgres: create plan: %w", err)
	}
	return nil
}

func (s *State) UpdatePlan(ctx context.Context, p majordomo.Plan) error {
	ops, err := json.Marshal(p.FileOps)
	if err != nil {
		return fmt.Errorf("postgres: marshal file ops: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE plans SET file_ops = $1::jsonb, status = $2, pr_url = $3 WHERE id = $4`,
		string(ops), p.Status, p.PRURL, p.ID)
	if err != nil {
		return fmt.Errorf("postgres: update plan: %w", err)
	}
	return nil
}

func (s *State) RecentPlans(ctx context.Context, userID string, n int) ([]majordomo.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, instruction, target_project, file_ops, status, created_at, pr_url
		 FROM plans WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent plans: %w", err)
	}
	defer rows.Close()

	var out []majordomo.Plan
	for rows.Next() {
		var p majordomo.Plan
		var ops []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.Instruction, &p.TargetProject, &ops, &p.Status, &p.CreatedAt, &p.PRURL); err != nil {
			return nil, fmt.Errorf("postgres: scan plan: %w", err)
		}
		if ops != nil {
			_ = json.Unmarshal(ops, &p.FileOps)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Alerts ---

func (s *State) CreateAlert(ctx context.Context, a majordomo.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Key, a.Level, a.Body, a.Tier, a.CreatedAt, a.NextEscalateAt, a.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("postgres: create alert: %w", err)
	}
	return nil
}

func (s *State) GetAlert(ctx context.Context, id string) (majordomo.Alert, error) {
	var a majordomo.Alert
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at
		 FROM alerts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Key, &a.Level, &a.Body, &a.Tier, &a.CreatedAt, &a.NextEscalateAt, &a.AcknowledgedAt)
	if err != nil {
		return majordomo.Alert{}, fmt.Errorf("postgres: get alert: %w", err)
	}
	return a, nil
}

func (s *State) AlertByKey(ctx context.Context, key string, since int64) (majordomo.Alert, bool, error) {
	var a majordomo.Alert
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at
		 FROM alerts WHERE key = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`, key, since,
	).Scan(&a.ID, &a.Key, &a.Level, &a.Body, &a.Tier, &a.CreatedAt, &a.NextEscalateAt, &a.AcknowledgedAt)
	if err == pgx.ErrNoRows {
		return majordomo.Alert{}, false, nil
	}
	if err != nil {
		return majordomo.Alert{}, false, fmt.Errorf("postgres: alert by key: %w", err)
	}
	return a, true, nil
}

func (s *State) UpdateAlert(ctx context.Context, a majordomo.Alert) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alerts SET tier = $1, next_escalate_at = $2, acknowledged_at = $3 WHERE id = $4`,
		a.Tier, a.NextEscalateAt, a.AcknowledgedAt, a.ID)
	if err != nil {
		return fmt.Errorf("postgres: update alert: %w", err)
	}
	return nil
}

func (s *State) DueAlerts(ctx context.Context, now int64) ([]majordomo.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key, level, body, tier, created_at, next_escalate_at, acknowledged_at
		 FROM alerts WHERE acknowledged_at = 0 AND next_escalate_at > 0 AND next_escalate_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: due alerts: %w", err)
	}
	defer rows.Close()

	var out []majordomo.Alert
	for rows.Next() {
		var a majordomo.Alert
		if err := rows.Scan(&a.ID, &a.Key, &a.Level, &a.Body, &a.Tier, &a.CreatedAt, &a.NextEscalateAt, &a.AcknowledgedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *State) Close() error {
	return nil
}
