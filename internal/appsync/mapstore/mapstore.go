// Package mapstore persists sync mappings and conflicts in SQLite.
//
// The store is the durable memory of the sync engine: it remembers which
// local task corresponds to which remote item per provider, the content
// hashes recorded at the last successful sync, and any unresolved conflicts.
//
// The database is opened in embedded mode with WAL for concurrent access.
// Two UNIQUE constraints enforce the one-to-one mapping invariant at the
// storage level: (todo_id, provider) and (external_id, provider).
package mapstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/todo"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite database holding mappings and conflicts.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the specified path, creating the database and
// schema if they do not exist.
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

	// WAL for concurrent reads during sync passes
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

// initSchema creates the tables and indexes. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		todo_id INTEGER NOT NULL,
		external_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		last_synced TEXT NOT NULL,
		sync_hash TEXT NOT NULL DEFAULT '',
		local_hash TEXT NOT NULL DEFAULT '',
		remote_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		sync_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		UNIQUE(todo_id, provider),
		UNIQUE(external_id, provider)
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		todo_id INTEGER NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		conflict_type TEXT NOT NULL,
		local_data TEXT,   -- JSON snapshot of the local task
		remote_data TEXT,  -- JSON snapshot of the remote item
		detected_at TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_mappings_provider ON sync_mappings(provider);
	CREATE INDEX IF NOT EXISTS idx_mappings_todo ON sync_mappings(todo_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_provider ON sync_conflicts(provider);
	CREATE INDEX IF NOT EXISTS idx_conflicts_unresolved
	    ON sync_conflicts(provider, resolved) WHERE resolved = 0;
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ===== Mappings =====

// SaveMapping inserts or updates a mapping.
// The (todo_id, provider) pair identifies the row; the stored external_id
// is replaced on update, which is how stale-mapping recovery rebinds a
// task to its re-created remote item.
func (s *Store) SaveMapping(ctx context.Context, m *appsync.Mapping) error {
	query := `
	INSERT INTO sync_mappings (
		todo_id, external_id, provider, last_synced,
		sync_hash, local_hash, remote_hash,
		created_at, sync_count, last_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(todo_id, provider) DO UPDATE SET
		external_id = excluded.external_id,
		last_synced = excluded.last_synced,
		sync_hash = excluded.sync_hash,
		local_hash = excluded.local_hash,
		remote_hash = excluded.remote_hash,
		sync_count = excluded.sync_count,
		last_error = excluded.last_error
	`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		m.CreatedAt = createdAt
	}

	_, err := s.conn.ExecContext(ctx, query,
		m.TodoID,
		m.ExternalID,
		string(m.Provider),
		m.LastSynced.UTC().Format(time.RFC3339),
		m.SyncHash,
		m.LocalHash,
		m.RemoteHash,
		createdAt.Format(time.RFC3339),
		m.SyncCount,
		m.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to save mapping (todo %d, %s): %w", m.TodoID, m.Provider, err)
	}
	return nil
}

// GetMapping returns the mapping for a (todo, provider) pair, or nil when
// none exists.
func (s *Store) GetMapping(ctx context.Context, todoID int64, provider appsync.Provider) (*appsync.Mapping, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT todo_id, external_id, provider, last_synced,
		       sync_hash, local_hash, remote_hash,
		       created_at, sync_count, last_error
		FROM sync_mappings
		WHERE todo_id = ? AND provider = ?
	`, todoID, string(provider))
	return scanMapping(row)
}

// GetMappingByExternalID returns the mapping for an (external_id, provider)
// pair, or nil when none exists.
func (s *Store) GetMappingByExternalID(ctx context.Context, externalID string, provider appsync.Provider) (*appsync.Mapping, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT todo_id, external_id, provider, last_synced,
		       sync_hash, local_hash, remote_hash,
		       created_at, sync_count, last_error
		FROM sync_mappings
		WHERE external_id = ? AND provider = ?
	`, externalID, string(provider))
	return scanMapping(row)
}

// ListMappings returns all mappings for a provider, oldest first.
func (s *Store) ListMappings(ctx context.Context, provider appsync.Provider) ([]*appsync.Mapping, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT todo_id, external_id, provider, last_synced,
		       sync_hash, local_hash, remote_hash,
		       created_at, sync_count, last_error
		FROM sync_mappings
		WHERE provider = ?
		ORDER BY created_at ASC
	`, string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*appsync.Mapping
	for rows.Next() {
		m, err := scanMappingRow(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}
	return mappings, nil
}

// DeleteMapping removes the mapping for a (todo, provider) pair.
// Returns nil if no mapping exists (idempotent).
func (s *Store) DeleteMapping(ctx context.Context, todoID int64, provider appsync.Provider) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM sync_mappings WHERE todo_id = ? AND provider = ?`,
		todoID, string(provider))
	if err != nil {
		return fmt.Errorf("failed to delete mapping (todo %d, %s): %w", todoID, provider, err)
	}
	return nil
}

// SetMappingError records the last error on a mapping without touching the
// sync bookkeeping.
func (s *Store) SetMappingError(ctx context.Context, todoID int64, provider appsync.Provider, msg string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_mappings SET last_error = ? WHERE todo_id = ? AND provider = ?`,
		msg, todoID, string(provider))
	if err != nil {
		return fmt.Errorf("failed to record mapping error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row *sql.Row) (*appsync.Mapping, error) {
	m, err := scanMappingFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func scanMappingRow(rows *sql.Rows) (*appsync.Mapping, error) {
	return scanMappingFrom(rows)
}

func scanMappingFrom(r rowScanner) (*appsync.Mapping, error) {
	var m appsync.Mapping
	var provider, lastSynced, createdAt string

	err := r.Scan(
		&m.TodoID,
		&m.ExternalID,
		&provider,
		&lastSynced,
		&m.SyncHash,
		&m.LocalHash,
		&m.RemoteHash,
		&createdAt,
		&m.SyncCount,
		&m.LastError,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}

	m.Provider = appsync.Provider(provider)
	if t, err := time.Parse(time.RFC3339, lastSynced); err == nil {
		m.LastSynced = t
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		m.CreatedAt = t
	}
	return &m, nil
}

// ===== Conflicts =====

// SaveConflict inserts a new conflict record and fills in its ID.
// Task and item snapshots are stored as JSON so the conflict can be shown
// and resolved after the pass that detected it has finished.
func (s *Store) SaveConflict(ctx context.Context, c *appsync.Conflict) error {
	var localJSON, remoteJSON sql.NullString
	if c.LocalTodo != nil {
		data, err := json.Marshal(c.LocalTodo)
		if err != nil {
			return fmt.Errorf("failed to marshal local snapshot: %w", err)
		}
		localJSON = sql.NullString{String: string(data), Valid: true}
	}
	if c.RemoteItem != nil {
		data, err := json.Marshal(c.RemoteItem)
		if err != nil {
			return fmt.Errorf("failed to marshal remote snapshot: %w", err)
		}
		remoteJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_conflicts (
			todo_id, external_id, provider, conflict_type,
			local_data, remote_data, detected_at,
			resolved, resolution, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.TodoID,
		c.ExternalID,
		string(c.Provider),
		string(c.ConflictType),
		localJSON,
		remoteJSON,
		c.DetectedAt.UTC().Format(time.RFC3339),
		boolToInt(c.Resolved),
		c.Resolution,
		timeToNullString(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict (todo %d, %s): %w", c.TodoID, c.Provider, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read conflict id: %w", err)
	}
	c.ID = id
	return nil
}

// GetConflict returns a conflict by ID, or nil when it does not exist.
func (s *Store) GetConflict(ctx context.Context, id int64) (*appsync.Conflict, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, todo_id, external_id, provider, conflict_type,
		       local_data, remote_data, detected_at,
		       resolved, resolution, resolved_at
		FROM sync_conflicts
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanConflict(rows)
}

// ListConflicts returns conflicts for a provider, unresolved first, newest
// first within each group. An empty provider lists all providers.
func (s *Store) ListConflicts(ctx context.Context, provider appsync.Provider, includeResolved bool) ([]*appsync.Conflict, error) {
	query := `
		SELECT id, todo_id, external_id, provider, conflict_type,
		       local_data, remote_data, detected_at,
		       resolved, resolution, resolved_at
		FROM sync_conflicts
	`
	var conditions []string
	var args []any

	if provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, string(provider))
	}
	if !includeResolved {
		conditions = append(conditions, "resolved = 0")
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY resolved ASC, detected_at DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*appsync.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveConflict marks a conflict resolved with the given label.
// Returns appsync.ErrConflictNotFound when the conflict does not exist or
// was already resolved.
func (s *Store) ResolveConflict(ctx context.Context, id int64, resolution string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET resolved = 1, resolution = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0
	`, resolution, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conflict %d: %w", id, appsync.ErrConflictNotFound)
	}
	return nil
}

func scanConflict(rows *sql.Rows) (*appsync.Conflict, error) {
	var c appsync.Conflict
	var provider, conflictType, detectedAt string
	var localJSON, remoteJSON, resolvedAt sql.NullString
	var resolved int

	err := rows.Scan(
		&c.ID,
		&c.TodoID,
		&c.ExternalID,
		&provider,
		&conflictType,
		&localJSON,
		&remoteJSON,
		&detectedAt,
		&resolved,
		&c.Resolution,
		&resolvedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}

	c.Provider = appsync.Provider(provider)
	c.ConflictType = appsync.ConflictType(conflictType)
	c.Resolved = resolved != 0

	if t, err := time.Parse(time.RFC3339, detectedAt); err == nil {
		c.DetectedAt = t
	}
	if resolvedAt.Valid {
		if t, err := time.Parse(time.RFC3339, resolvedAt.String); err == nil {
			c.ResolvedAt = &t
		}
	}

	if localJSON.Valid && localJSON.String != "" {
		var t todo.Todo
		if err := json.Unmarshal([]byte(localJSON.String), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal local snapshot: %w", err)
		}
		c.LocalTodo = &t
	}
	if remoteJSON.Valid && remoteJSON.String != "" {
		var item appsync.ExternalItem
		if err := json.Unmarshal([]byte(remoteJSON.String), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remote snapshot: %w", err)
		}
		c.RemoteItem = &item
	}

	return &c, nil
}

// ===== Helpers =====

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
