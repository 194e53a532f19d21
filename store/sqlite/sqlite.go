// Package sqlite implements the majordomo stores on pure-Go SQLite.
// Two database files back the two logical stores: a "memory" DB
// (conversations, facts, tasks, jobs, bindings) and a "state" DB (pending
// actions, outcomes, plans, alerts). Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a structured logger. When set, stores emit debug logs
// for schema setup and warnings for swallowed errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// open opens a SQLite file with WAL and a single shared connection, so all
// goroutines serialize through one writer and SQLITE_BUSY cannot occur.
func open(dbPath string) *sql.DB {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	return db
}

func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, ddl := range stmts {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
