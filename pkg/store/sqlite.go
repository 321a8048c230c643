// Package store provides durable backends for the task cache. The
// wearable deployment uses the embedded SQLite backend; phone-bridged
// deployments that share a cache with the companion app can use the
// Redis backend instead. Both satisfy taskstore.Backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taishanglaojun/wearsync/pkg/model"
)

// SQLiteBackend persists tasks in an embedded SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the task database at path and runs
// migrations. Use ":memory:" for an ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	// The modernc driver is not safe for concurrent writes over
	// multiple connections on one file.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteBackend(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteBackend wraps an existing database handle and migrates it.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	s := &SQLiteBackend{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'MEDIUM',
		progress REAL NOT NULL DEFAULT 0,
		due_at TEXT,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Upsert writes a task durably. The write has completed (fsync per
// SQLite semantics) before Upsert returns.
func (s *SQLiteBackend) Upsert(ctx context.Context, t model.Task) error {
	query := `
	INSERT INTO tasks (id, title, description, status, priority, progress, due_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		progress = excluded.progress,
		due_at = excluded.due_at,
		updated_at = excluded.updated_at`

	var dueAt any
	if t.DueAt != nil {
		dueAt = t.DueAt.UTC().Format(time.RFC3339Nano)
	}
	updatedAt := t.UpdatedAt.UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Progress, dueAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// Load returns every durable task.
func (s *SQLiteBackend) Load(ctx context.Context) ([]model.Task, error) {
	query := `
	SELECT id, title, description, status, priority, progress, due_at, updated_at
	FROM tasks
	ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Close releases the database handle.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func scanTaskRow(rows *sql.Rows) (model.Task, error) {
	var (
		t         model.Task
		status    string
		priority  string
		dueAt     sql.NullString
		updatedAt string
	)
	if err := rows.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.Progress, &dueAt, &updatedAt); err != nil {
		return model.Task{}, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.TaskPriority(priority)
	t.UpdatedAt = parseTime(updatedAt)
	if dueAt.Valid && dueAt.String != "" {
		due := parseTime(dueAt.String)
		t.DueAt = &due
	}
	return t, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
