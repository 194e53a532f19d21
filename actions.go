package majordomo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultActionExpiry is how long a proposed action waits for confirmation.
const DefaultActionExpiry = 5 * time.Minute

// undoWindow bounds how far back Undo will look for a completed action.
const undoWindow = 24 * time.Hour

// ActionExecutor runs a confirmed action of one kind. Execute runs after
// the confirm transition; Undo compensates a completed action.
type ActionExecutor interface {
	Kind() string
	// AutoApprove reports whether this kind skips confirmation entirely
	// (read-only queries, docs-only edits, test runs).
	AutoApprove() bool
	// Undoable reports whether completed actions of this kind advertise a
	// compensating action.
	Undoable() bool
	Execute(ctx context.Context, a PendingAction) (string, error)
	Undo(ctx context.Context, a PendingAction) (string, error)
}

// Controller is the per-user propose/confirm/execute state machine.
// Transitions for the same user serialize through a per-user mutex;
// different users proceed in parallel.
type Controller struct {
	store     StateStore
	tracker   *Tracker
	executors map[string]ActionExecutor
	expiry    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithActionExpiry overrides the confirmation window.
func WithActionExpiry(d time.Duration) ControllerOption {
	return func(c *Controller) { c.expiry = d }
}

// WithControllerLogger sets the structured logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller over the state store.
func NewController(store StateStore, tracker *Tracker, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:     store,
		tracker:   tracker,
		executors: make(map[string]ActionExecutor),
		expiry:    DefaultActionExpiry,
		logger:    nopLogger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterExecutor makes an action kind executable.
func (c *Controller) RegisterExecutor(e ActionExecutor) {
	c.executors[e.Kind()] = e
}

// userLock returns the advisory mutex for userID.
func (c *Controller) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[userID] = l
	}
	return l
}

// ProposeResult tells the caller what happened to a proposal.
type ProposeResult struct {
	Action PendingAction
	// AutoApproved means the kind bypassed confirmation and Result/Err carry
	// the execution outcome.
	AutoApproved bool
	Result       string
}

// Propose records a new pending action for the user. Fails with ErrBusy
// when a live pending action exists, unless supersede is true, in which
// case the old row is rejected atomically with the new insert. Auto-approve
// kinds skip the pending state and execute immediately.
func (c *Controller) Propose(ctx context.Context, userID, kind, summary string, params json.RawMessage, supersede bool) (ProposeResult, error) {
	exec, ok := c.executors[kind]
	if !ok {
		return ProposeResult{}, fmt.Errorf("controller: unknown action kind %q", kind)
	}

	lock := c.userLock(userID)
	lock.Lock()

	existing, found, err := c.pendingLocked(ctx, userID)
	if err != nil {
		lock.Unlock()
		return ProposeResult{}, err
	}

	now := c.now()
	a := PendingAction{
		ID:         NewID(),
		UserID:     userID,
		Kind:       kind,
		Params:     params,
		Summary:    summary,
		State:      ActionPending,
		ProposedAt: now.UnixMilli(),
		ExpiresAt:  now.Add(c.expiry).UnixMilli(),
	}

	if exec.AutoApprove() {
		a.State = ActionExecuting
		if err := c.store.InsertPendingAction(ctx, a); err != nil {
			lock.Unlock()
			return ProposeResult{}, fmt.Errorf("controller: insert action: %w", err)
		}
		// Execution may block on I/O; release the user lock first.
		lock.Unlock()
		result, err := c.execute(ctx, a, exec)
		return ProposeResult{Action: a, AutoApproved: true, Result: result}, err
	}

	if found {
		if !supersede {
			lock.Unlock()
			return ProposeResult{Action: existing}, ErrBusy
		}
		if _, err := c.store.TransitionAction(ctx, existing.ID, ActionPending, ActionRejected); err != nil {
			lock.Unlock()
			return ProposeResult{}, fmt.Errorf("controller: supersede: %w", err)
		}
	}

	if err := c.store.InsertPendingAction(ctx, a); err != nil {
		lock.Unlock()
		return ProposeResult{}, fmt.Errorf("controller: insert action: %w", err)
	}
	lock.Unlock()
	c.logger.Debug("action proposed", "user", userID, "kind", kind, "id", a.ID)
	return ProposeResult{Action: a}, nil
}

// Pending returns the user's live pending action, reaping it first when
// past expiry.
func (c *Controller) Pending(ctx context.Context, userID string) (PendingAction, bool, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return c.pendingLocked(ctx, userID)
}

// pendingLocked reads the pending row and lazily flips expired ones.
// Callers hold the user lock.
func (c *Controller) pendingLocked(ctx context.Context, userID string) (PendingAction, bool, error) {
	a, found, err := c.store.PendingByUser(ctx, userID)
	if err != nil {
		return PendingAction{}, false, fmt.Errorf("controller: read pending: %w", err)
	}
	if !found {
		return PendingAction{}, false, nil
	}
	if a.ExpiresAt <= c.now().UnixMilli() {
		if _, err := c.store.TransitionAction(ctx, a.ID, ActionPending, ActionExpired); err != nil {
			return PendingAction{}, false, fmt.Errorf("controller: expire pending: %w", err)
		}
		c.logger.Debug("action expired on read", "user", userID, "id", a.ID)
		return PendingAction{}, false, nil
	}
	return a, true, nil
}

// Confirm moves the user's pending action to confirmed and executes it.
// Returns the execution result text.
func (c *Controller) Confirm(ctx context.Context, userID string) (PendingAction, string, error) {
	lock := c.userLock(userID)
	lock.Lock()

	a, found, err := c.pendingLocked(ctx, userID)
	if err != nil {
		lock.Unlock()
		return PendingAction{}, "", err
	}
	if !found {
		lock.Unlock()
		return PendingAction{}, "", ErrNoPending
	}

	if _, err := c.store.TransitionAction(ctx, a.ID, ActionPending, ActionConfirmed); err != nil {
		lock.Unlock()
		return PendingAction{}, "", fmt.Errorf("controller: confirm: %w", err)
	}
	if _, err := c.store.TransitionAction(ctx, a.ID, ActionConfirmed, ActionExecuting); err != nil {
		lock.Unlock()
		return PendingAction{}, "", fmt.Errorf("controller: begin execute: %w", err)
	}
	// Execution may block on I/O; release the user lock first.
	lock.Unlock()

	exec := c.executors[a.Kind]
	if exec == nil {
		_, _ = c.store.TransitionAction(ctx, a.ID, ActionExecuting, ActionFailed)
		return a, "", fmt.Errorf("controller: no executor for kind %q", a.Kind)
	}
	result, err := c.execute(ctx, a, exec)
	return a, result, err
}

// execute runs the action and records exactly one terminal outcome.
func (c *Controller) execute(ctx context.Context, a PendingAction, exec ActionExecutor) (string, error) {
	actionID, terr := c.tracker.StartAction(ctx, a.UserID, a.Kind, a.Summary)
	if terr != nil {
		c.logger.Warn("outcome start failed", "error", terr)
	}

	result, err := exec.Execute(ctx, a)
	if err != nil {
		_, _ = c.store.TransitionAction(ctx, a.ID, ActionExecuting, ActionFailed)
		if actionID != "" {
			_ = c.tracker.CompleteAction(ctx, actionID, OutcomeFailed, err.Error())
		}
		return "", err
	}

	if _, err := c.store.TransitionAction(ctx, a.ID, ActionExecuting, ActionComplete); err != nil {
		c.logger.Warn("complete transition failed", "id", a.ID, "error", err)
	}
	if actionID != "" {
		_ = c.tracker.CompleteAction(ctx, actionID, OutcomeSuccess, result)
	}
	return result, nil
}

// Reject moves the user's pending action to rejected.
func (c *Controller) Reject(ctx context.Context, userID string) (PendingAction, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	a, found, err := c.pendingLocked(ctx, userID)
	if err != nil {
		return PendingAction{}, err
	}
	if !found {
		return PendingAction{}, ErrNoPending
	}
	if _, err := c.store.TransitionAction(ctx, a.ID, ActionPending, ActionRejected); err != nil {
		return PendingAction{}, fmt.Errorf("controller: reject: %w", err)
	}
	return a, nil
}

// Undo compensates the user's most recent completed action within the last
// 24 hours, when its kind is undoable.
func (c *Controller) Undo(ctx context.Context, userID string) (string, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	since := c.now().Add(-undoWindow).UnixMilli()
	a, found, err := c.store.LastCompleted(ctx, userID, since)
	if err != nil {
		return "", fmt.Errorf("controller: find last completed: %w", err)
	}
	if !found {
		return "", ErrNotUndoable
	}
	exec := c.executors[a.Kind]
	if exec == nil || !exec.Undoable() {
		return "", ErrNotUndoable
	}

	result, err := exec.Undo(ctx, a)
	if err != nil {
		return "", fmt.Errorf("controller: undo %s: %w", a.Kind, err)
	}
	if _, err := c.store.TransitionAction(ctx, a.ID, ActionComplete, ActionUndone); err != nil {
		c.logger.Warn("undone transition failed", "id", a.ID, "error", err)
	}
	return result, nil
}

// StartSweeper flips expired pending rows every interval until ctx is
// cancelled. Lazy reaping on read covers the common path; the sweeper
// catches users who never message again.
func (c *Controller) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.store.ExpirePending(ctx, c.now().UnixMilli())
			if err != nil {
				c.logger.Warn("pending sweep failed", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Debug("expired pending actions", "count", n)
			}
		}
	}
}
