// Package storage persists local tasks in SQLite.
//
// This is the local side of the sync engine: the orchestrator reads tasks
// through List/Get and writes pulled remote changes through Add/Update/
// Delete. The store never talks to providers and knows nothing about
// mappings; it only owns task rows.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskfuse/taskfuse/internal/todo"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite database holding local tasks.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a task store at the specified path, creating the database
// and schema if they do not exist.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path. The auto-sync daemon watches it.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS todos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		project TEXT NOT NULL DEFAULT 'inbox',
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		priority INTEGER NOT NULL DEFAULT 2,
		due_date TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_todos_project ON todos(project);
	CREATE INDEX IF NOT EXISTS idx_todos_completed ON todos(completed);
	CREATE INDEX IF NOT EXISTS idx_todos_updated ON todos(updated_at);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Add inserts a task and assigns its ID.
func (s *Store) Add(ctx context.Context, t *todo.Todo) error {
	t.SetDefaults()
	t.Normalize()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO todos (
			title, description, project, tags, priority, due_date,
			completed, completed_at, archived, url, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.Title,
		t.Description,
		t.Project,
		string(tagsJSON),
		t.Priority,
		timeToNullString(t.DueDate),
		boolToInt(t.Completed),
		timeToNullString(t.CompletedAt),
		boolToInt(t.Archived),
		t.URL,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}
	t.ID = id
	return nil
}

// Update replaces the stored row for the task's ID.
// Returns sql.ErrNoRows if the task does not exist.
func (s *Store) Update(ctx context.Context, t *todo.Todo) error {
	t.SetDefaults()
	t.Normalize()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE todos SET
			title = ?, description = ?, project = ?, tags = ?,
			priority = ?, due_date = ?, completed = ?, completed_at = ?,
			archived = ?, url = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Title,
		t.Description,
		t.Project,
		string(tagsJSON),
		t.Priority,
		timeToNullString(t.DueDate),
		boolToInt(t.Completed),
		timeToNullString(t.CompletedAt),
		boolToInt(t.Archived),
		t.URL,
		t.UpdatedAt.Format(time.RFC3339),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", t.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a task. Returns nil if the task does not exist (idempotent).
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// Get retrieves a task by ID, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*todo.Todo, error) {
	rows, err := s.conn.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanTodo(rows)
}

// ListFilter configures the List query.
type ListFilter struct {
	// Project filters by project name (empty = all projects)
	Project string
	// IncludeCompleted includes completed tasks
	IncludeCompleted bool
	// IncludeArchived includes archived tasks
	IncludeArchived bool
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// List retrieves tasks matching the filter, newest update first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*todo.Todo, error) {
	var conditions []string
	var args []any

	if filter.Project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, filter.Project)
	}
	if !filter.IncludeCompleted {
		conditions = append(conditions, "completed = 0")
	}
	if !filter.IncludeArchived {
		conditions = append(conditions, "archived = 0")
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var todos []*todo.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return todos, nil
}

// All returns every task, including completed and archived ones.
// The sync orchestrator starts each pass from this snapshot and applies
// the provider's inclusion filters itself.
func (s *Store) All(ctx context.Context) ([]*todo.Todo, error) {
	return s.List(ctx, ListFilter{IncludeCompleted: true, IncludeArchived: true})
}

const selectColumns = `
	SELECT id, title, description, project, tags, priority, due_date,
	       completed, completed_at, archived, url, created_at, updated_at
	FROM todos`

func scanTodo(rows *sql.Rows) (*todo.Todo, error) {
	var t todo.Todo
	var tagsJSON, createdAt, updatedAt string
	var dueDate, completedAt sql.NullString
	var completed, archived int

	err := rows.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Project,
		&tagsJSON,
		&t.Priority,
		&dueDate,
		&completed,
		&completedAt,
		&archived,
		&t.URL,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Completed = completed != 0
	t.Archived = archived != 0

	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	} else {
		t.Tags = []string{}
	}

	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	t.DueDate = nullStringToTime(dueDate)
	t.CompletedAt = nullStringToTime(completedAt)

	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
