package majordomo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced across subsystem boundaries. The pipeline maps
// each onto a user-visible status message (or silence, for auth failures).
var (
	// ErrBusy means a pending action already exists for the user.
	ErrBusy = errors.New("a pending action is already awaiting confirmation")
	// ErrNoPending means confirm/reject found no live pending action.
	ErrNoPending = errors.New("no pending action")
	// ErrNotUndoable means the most recent completed action cannot be undone.
	ErrNotUndoable = errors.New("last action is not undoable")
	// ErrNoMatch is the dispatcher sentinel: no skill handled the command,
	// fall back to the AI path.
	ErrNoMatch = errors.New("no skill matched")
	// ErrRateLimited means a provider's rate budget is exhausted.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrUnauthorized means the sender is not on the operator whitelist.
	// Handled silently: the message is dropped without a reply.
	ErrUnauthorized = errors.New("unauthorized user")
)

// ErrProvider is a terminal AI provider failure (after retry, or fatal).
type ErrProvider struct {
	Provider string
	Message  string
	Fatal    bool // auth error, bad model — do not retry or fall through
}

func (e *ErrProvider) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a transport-level failure from an upstream HTTP API.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrInvalidInput is a malformed skill command. The dispatcher renders the
// reason plus usage; conversational messages pass through to the AI path
// instead.
type ErrInvalidInput struct {
	Reason string
	Usage  string
}

func (e *ErrInvalidInput) Error() string {
	if e.Usage == "" {
		return e.Reason
	}
	return e.Reason + "\nUsage: " + e.Usage
}

// IsTransient reports whether err is worth a single retry: a timeout or an
// upstream 5xx/429.
func IsTransient(err error) bool {
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.Status == 429 || he.Status >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}
