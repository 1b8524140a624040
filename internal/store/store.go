// Package store implements the Store port (spec.md §4.4, §6.1) over a
// pure-Go SQLite database, grounded on tonimelisma-onedrive-go's
// internal/sync.SQLiteStore: WAL mode, an embedded numbered-migration
// runner, and a single serializing mutex around the *sql.DB handle.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/oneclicksftp/sftpsyncd/internal/syncengine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const schemaVersion = 1

// DefaultLogLimit is the cap spec.md §3 places on unqualified log queries.
const DefaultLogLimit = 500

// SQLiteStore implements syncengine.Store. All mutating operations
// serialize through mu, guarding the underlying *sql.DB handle per
// spec.md §5 ("Shared resources").
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

var _ syncengine.Store = (*SQLiteStore)(nil)

// Open creates a SQLiteStore backed by the database at dbPath (use
// ":memory:" for tests), applying migrations as needed.
func Open(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite at %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // one writer; mu above serializes call sites too

	ctx := context.Background()
	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sync state database ready", slog.String("path", dbPath))
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}
	return nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		if err := applyMigration(ctx, db, logger, v); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, logger *slog.Logger, version int) error {
	name := fmt.Sprintf("migrations/%06d_initial_schema.up.sql", version)
	sqlBytes, err := fs.ReadFile(migrationsFS, name)
	if err != nil {
		return fmt.Errorf("store: read migration %d: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: apply migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: bump schema version to %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit migration %d: %w", version, err)
	}
	logger.Debug("applied migration", slog.Int("version", version))
	return nil
}

// ----- connections -----

func (s *SQLiteStore) ListConnections(ctx context.Context) ([]*syncengine.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, host, port, username, auth_type, password, private_key_path,
		       passphrase, remote_path, local_path, interval, enabled, allow_delete,
		       local_priority, status, last_error
		FROM connections ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list connections: %w", err)
	}
	defer rows.Close()

	var out []*syncengine.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetConnection(ctx context.Context, id int64) (*syncengine.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, host, port, username, auth_type, password, private_key_path,
		       passphrase, remote_path, local_path, interval, enabled, allow_delete,
		       local_priority, status, last_error
		FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*syncengine.Connection, error) {
	var c syncengine.Connection
	var authType, status string
	var lastError sql.NullString
	if err := row.Scan(
		&c.ID, &c.Name, &c.Host, &c.Port, &c.Username, &authType,
		&c.Password, &c.PrivateKeyPath, &c.Passphrase, &c.RemotePath, &c.LocalPath,
		&c.IntervalSeconds, &c.Enabled, &c.AllowDelete, &c.LocalPriority, &status, &lastError,
	); err != nil {
		return nil, fmt.Errorf("store: scan connection: %w", err)
	}
	c.AuthType = syncengine.AuthType(authType)
	c.Status = syncengine.Status(status)
	c.LastError = lastError.String
	return &c, nil
}

func (s *SQLiteStore) CreateConnection(ctx context.Context, c *syncengine.Connection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (
			name, host, port, username, auth_type, password, private_key_path,
			passphrase, remote_path, local_path, interval, enabled, allow_delete,
			local_priority, status, last_error
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Name, c.Host, c.Port, c.Username, string(c.AuthType), c.Password, c.PrivateKeyPath,
		c.Passphrase, c.RemotePath, c.LocalPath, c.IntervalSeconds, c.Enabled, c.AllowDelete,
		c.LocalPriority, string(syncengine.StatusStopped), "")
	if err != nil {
		return 0, fmt.Errorf("store: create connection: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateConnection(ctx context.Context, c *syncengine.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			name=?, host=?, port=?, username=?, auth_type=?, password=?, private_key_path=?,
			passphrase=?, remote_path=?, local_path=?, interval=?, enabled=?, allow_delete=?,
			local_priority=?
		WHERE id=?`,
		c.Name, c.Host, c.Port, c.Username, string(c.AuthType), c.Password, c.PrivateKeyPath,
		c.Passphrase, c.RemotePath, c.LocalPath, c.IntervalSeconds, c.Enabled, c.AllowDelete,
		c.LocalPriority, c.ID)
	if err != nil {
		return fmt.Errorf("store: update connection %d: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id=?`, id); err != nil {
		return fmt.Errorf("store: delete connection %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status syncengine.Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE connections SET status=?, last_error=? WHERE id=?`,
		string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("store: update status for connection %d: %w", id, err)
	}
	return nil
}

// ----- logs -----

func (s *SQLiteStore) AddLog(ctx context.Context, connectionID *int64, logType syncengine.LogType, path, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (connection_id, timestamp, type, path, message) VALUES (?,?,?,?,?)`,
		connectionID, time.Now().UTC().Format(time.RFC3339Nano), string(logType), path, message)
	if err != nil {
		return fmt.Errorf("store: add log entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLogs(ctx context.Context, connectionID int64, limit int) ([]*syncengine.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, timestamp, type, path, message FROM logs
		WHERE connection_id = ? ORDER BY id DESC LIMIT ?`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get logs for connection %d: %w", connectionID, err)
	}
	defer rows.Close()

	var out []*syncengine.LogEntry
	for rows.Next() {
		var e syncengine.LogEntry
		var connID sql.NullInt64
		var path, message sql.NullString
		var logType string
		if err := rows.Scan(&e.ID, &connID, &e.Timestamp, &logType, &path, &message); err != nil {
			return nil, fmt.Errorf("store: scan log entry: %w", err)
		}
		if connID.Valid {
			v := connID.Int64
			e.ConnectionID = &v
		}
		e.Type = syncengine.LogType(logType)
		e.Path = path.String
		e.Message = message.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ----- settings -----

func (s *SQLiteStore) GetSettings(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("store: get settings: %w", err)
	}
	defer rows.Close()

	result := map[string]any{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan setting: %w", err)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			return nil, fmt.Errorf("store: decode setting %q: %w", key, err)
		}
		result[key] = decoded
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateSettings(ctx context.Context, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin settings update: %w", err)
	}
	for key, value := range values {
		encoded, err := json.Marshal(value)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("store: encode setting %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, string(encoded)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: upsert setting %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// ----- sync state -----

func (s *SQLiteStore) LoadSyncState(ctx context.Context, connectionID int64) (syncengine.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, local_exists, local_mtime, remote_exists, remote_mtime
		FROM sync_state WHERE connection_id = ?`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("store: load sync state for connection %d: %w", connectionID, err)
	}
	defer rows.Close()

	state := syncengine.SyncState{}
	for rows.Next() {
		var path string
		var entry syncengine.SyncStateEntry
		var localMTime, remoteMTime sql.NullFloat64
		if err := rows.Scan(&path, &entry.LocalExists, &localMTime, &entry.RemoteExists, &remoteMTime); err != nil {
			return nil, fmt.Errorf("store: scan sync state row: %w", err)
		}
		if localMTime.Valid {
			v := localMTime.Float64
			entry.LocalMTime = &v
		}
		if remoteMTime.Valid {
			v := remoteMTime.Float64
			entry.RemoteMTime = &v
		}
		state[path] = entry
	}
	return state, rows.Err()
}

func (s *SQLiteStore) SaveSyncState(ctx context.Context, connectionID int64, state syncengine.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin sync state save: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE connection_id = ?`, connectionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: clear old sync state for connection %d: %w", connectionID, err)
	}
	for path, entry := range state {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_state(connection_id, path, local_exists, local_mtime, remote_exists, remote_mtime)
			VALUES(?,?,?,?,?,?)`,
			connectionID, path, entry.LocalExists, nullableFloat(entry.LocalMTime),
			entry.RemoteExists, nullableFloat(entry.RemoteMTime)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert sync state row %q: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit sync state for connection %d: %w", connectionID, err)
	}
	return nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
