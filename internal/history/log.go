// Package history records a local, non-authoritative audit trail of sync
// and restore operations in a SQLite database. It is never consulted to
// decide sync behavior — VersionedSync and VersionManager own that state
// in the manifests — it only answers "what happened and when" for a user
// looking at their own machine's history.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"decksaves/internal/history/migrations"
)

// Operation is one recorded sync or restore run.
type Operation struct {
	ID         int64
	Game       string
	Kind       string // "sync" | "restore"
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string // "running" | "completed" | "failed"
}

// Log is a SQLite-backed operation log.
type Log struct {
	db *sql.DB
}

// Open creates or opens the operation log database at path (or
// ":memory:" for an in-memory instance used by tests) and brings its
// schema up to date.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening operation log database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating operation log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Start records the beginning of an operation and returns its id.
func (l *Log) Start(ctx context.Context, game, kind, parameters string, startedAt time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO operations (game, kind, parameters, started_at, status) VALUES (?, ?, ?, ?, 'running')`,
		game, kind, parameters, startedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("recording operation start: %w", err)
	}
	return res.LastInsertId()
}

// Finish records the completion of an operation with a terminal status
// ("completed" or "failed").
func (l *Log) Finish(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		finishedAt, status, id,
	)
	if err != nil {
		return fmt.Errorf("recording operation finish: %w", err)
	}
	return nil
}

// List returns the most recent operations for game (all games if game is
// empty), newest first, bounded by limit.
func (l *Log) List(ctx context.Context, game string, limit int) ([]Operation, error) {
	var rows *sql.Rows
	var err error
	if game == "" {
		rows, err = l.db.QueryContext(ctx,
			`SELECT id, game, kind, parameters, started_at, finished_at, status FROM operations ORDER BY started_at DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = l.db.QueryContext(ctx,
			`SELECT id, game, kind, parameters, started_at, finished_at, status FROM operations WHERE game = ? ORDER BY started_at DESC LIMIT ?`,
			game, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Game, &op.Kind, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation row: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation rows: %w", err)
	}
	return out, nil
}

// NewRunID returns an opaque id suitable for correlating an operation's
// log entry with progress events emitted during the same run.
func NewRunID() string {
	return uuid.New().String()
}
