// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package persistence implements the schema-versioned store from
// spec.md §4.10: servers, workflow_history, power_state_history, and
// schema_migrations. Grounded on shoal's internal/provisioner/store
// (SQLite via modernc.org/sqlite, WAL pragmas, a settings-table schema
// version, WithTx for atomic writes), generalized from that package's
// job-leasing schema to the workflow-engine's append-mostly history
// tables and given a real schema_migrations table (name + checksum) in
// place of the single settings-row version counter.
package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// ErrNotFound indicates no rows matched the query.
var ErrNotFound = errors.New("persistence: not found")

// Store wraps a SQLite connection and provides the typed accessors the
// workflow engine and its factory-built handlers need.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path, applies durability
// pragmas, and runs any pending migrations if autoMigrate is set,
// mirroring spec.md §6.3's database.auto_migrate runtime option.
func Open(ctx context.Context, path string, autoMigrate bool) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if autoMigrate {
		if err := s.ApplyMigrations(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("persistence: migrate: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx executes fn inside a transaction, rolling back on error or panic
// and committing otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit tx: %w", err)
	}
	return nil
}

// migration is one forward-only, numbered schema change.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations is the full ordered set this build knows about. Appending a
// new entry (never editing an old one) is the only supported schema
// change, per spec.md §4.10's "migrations are forward-only".
var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_migrations (
  version     INTEGER PRIMARY KEY,
  name        TEXT NOT NULL,
  applied_at  TIMESTAMP NOT NULL,
  checksum    TEXT NOT NULL
);`,
			`CREATE TABLE IF NOT EXISTS servers (
  server_id      TEXT PRIMARY KEY,
  status_name    TEXT NOT NULL DEFAULT '',
  is_ready       INTEGER NOT NULL DEFAULT 0,
  ip_address     TEXT NULL,
  ipmi_address   TEXT NULL,
  device_type    TEXT NULL,
  updated_at     TIMESTAMP NOT NULL
);`,
			`CREATE TABLE IF NOT EXISTS workflow_history (
  workflow_id      TEXT PRIMARY KEY,
  server_id        TEXT NOT NULL,
  device_type      TEXT NULL,
  status           TEXT NOT NULL,
  started_at       TIMESTAMP NULL,
  completed_at     TIMESTAMP NULL,
  steps_completed  INTEGER NOT NULL DEFAULT 0,
  total_steps      INTEGER NOT NULL DEFAULT 0,
  error_message    TEXT NULL,
  metadata_json    TEXT NULL
);`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_history_server ON workflow_history(server_id);`,
			`CREATE TABLE IF NOT EXISTS power_state_history (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  server_id   TEXT NOT NULL,
  state       TEXT NOT NULL,
  changed_at  TIMESTAMP NOT NULL
);`,
			`CREATE INDEX IF NOT EXISTS idx_power_state_history_server ON power_state_history(server_id, changed_at);`,
		},
	},
}

// ApplyMigrations runs every migration newer than the database's current
// version, each inside its own transaction. A database with no
// schema_migrations table is treated as version 0, per spec.md §4.10.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyOne(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("persistence: check schema_migrations: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("persistence: read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func (s *Store) applyOne(ctx context.Context, m migration) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute ddl: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations(version, name, applied_at, checksum) VALUES(?, ?, ?, ?)`,
			m.version, m.name, time.Now().UTC(), checksumOf(m),
		)
		return err
	})
}

func checksumOf(m migration) string {
	h := sha256.New()
	for _, stmt := range m.stmts {
		h.Write([]byte(stmt))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Server mirrors one row of the servers table (spec.md §4.10).
type Server struct {
	ServerID    string
	StatusName  string
	IsReady     bool
	IPAddress   string
	IPMIAddress string
	DeviceType  string
	UpdatedAt   time.Time
}

// UpsertServer inserts or updates a server record by server_id.
func (s *Store) UpsertServer(ctx context.Context, sv Server) error {
	const upsert = `
INSERT INTO servers(server_id, status_name, is_ready, ip_address, ipmi_address, device_type, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(server_id) DO UPDATE SET
  status_name=excluded.status_name,
  is_ready=excluded.is_ready,
  ip_address=excluded.ip_address,
  ipmi_address=excluded.ipmi_address,
  device_type=excluded.device_type,
  updated_at=excluded.updated_at;`
	_, err := s.db.ExecContext(ctx, upsert,
		sv.ServerID, sv.StatusName, boolToInt(sv.IsReady), nullIfEmpty(sv.IPAddress),
		nullIfEmpty(sv.IPMIAddress), nullIfEmpty(sv.DeviceType), sv.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("persistence: upsert server: %w", err)
	}
	return nil
}

// GetServer retrieves a server by server_id.
func (s *Store) GetServer(ctx context.Context, serverID string) (Server, error) {
	const q = `SELECT server_id, status_name, is_ready, ip_address, ipmi_address, device_type, updated_at FROM servers WHERE server_id=?`
	var (
		sv       Server
		isReady  int
		ip, ipmi sql.NullString
		devType  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, serverID).Scan(
		&sv.ServerID, &sv.StatusName, &isReady, &ip, &ipmi, &devType, &sv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, ErrNotFound
	}
	if err != nil {
		return Server{}, fmt.Errorf("persistence: get server: %w", err)
	}
	sv.IsReady = isReady != 0
	sv.IPAddress = ip.String
	sv.IPMIAddress = ipmi.String
	sv.DeviceType = devType.String
	sv.UpdatedAt = sv.UpdatedAt.UTC()
	return sv, nil
}

// WorkflowHistoryRow mirrors one row of the workflow_history table.
type WorkflowHistoryRow struct {
	WorkflowID     string
	ServerID       string
	DeviceType     string
	Status         string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	StepsCompleted int
	TotalSteps     int
	ErrorMessage   string
	MetadataJSON   string
}

// InsertWorkflowHistory inserts the initial row for a workflow on its
// pending -> running transition, per spec.md §4.8's persistence rule.
func (s *Store) InsertWorkflowHistory(ctx context.Context, row WorkflowHistoryRow) error {
	const ins = `
INSERT INTO workflow_history(workflow_id, server_id, device_type, status, started_at, completed_at, steps_completed, total_steps, error_message, metadata_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, ins,
		row.WorkflowID, row.ServerID, nullIfEmpty(row.DeviceType), row.Status,
		nullTime(row.StartedAt), nullTime(row.CompletedAt), row.StepsCompleted, row.TotalSteps,
		nullIfEmpty(row.ErrorMessage), nullIfEmpty(row.MetadataJSON))
	if err != nil {
		return fmt.Errorf("persistence: insert workflow_history: %w", err)
	}
	return nil
}

// UpdateWorkflowHistory updates the current instance's row in place for
// every subsequent status/progress transition, per spec.md §4.8 and
// §3.3 ("the current instance row, which is updated in place").
func (s *Store) UpdateWorkflowHistory(ctx context.Context, row WorkflowHistoryRow) error {
	const upd = `
UPDATE workflow_history SET
  status=?, completed_at=?, steps_completed=?, total_steps=?, error_message=?, metadata_json=?
WHERE workflow_id=?;`
	res, err := s.db.ExecContext(ctx, upd,
		row.Status, nullTime(row.CompletedAt), row.StepsCompleted, row.TotalSteps,
		nullIfEmpty(row.ErrorMessage), nullIfEmpty(row.MetadataJSON), row.WorkflowID)
	if err != nil {
		return fmt.Errorf("persistence: update workflow_history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWorkflowHistory retrieves a workflow_history row by workflow_id.
func (s *Store) GetWorkflowHistory(ctx context.Context, workflowID string) (WorkflowHistoryRow, error) {
	const q = `SELECT workflow_id, server_id, device_type, status, started_at, completed_at, steps_completed, total_steps, error_message, metadata_json FROM workflow_history WHERE workflow_id=?`
	var (
		row                   WorkflowHistoryRow
		devType, errMsg, meta sql.NullString
		started, completed    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, q, workflowID).Scan(
		&row.WorkflowID, &row.ServerID, &devType, &row.Status, &started, &completed,
		&row.StepsCompleted, &row.TotalSteps, &errMsg, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowHistoryRow{}, ErrNotFound
	}
	if err != nil {
		return WorkflowHistoryRow{}, fmt.Errorf("persistence: get workflow_history: %w", err)
	}
	row.DeviceType = devType.String
	row.ErrorMessage = errMsg.String
	row.MetadataJSON = meta.String
	if started.Valid {
		t := started.Time.UTC()
		row.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		row.CompletedAt = &t
	}
	return row, nil
}

// RecordPowerState appends one power_state_history row. This table is
// append-only, matching spec.md §3.3's "persistence records are
// append-only per workflow except for the current instance row".
func (s *Store) RecordPowerState(ctx context.Context, serverID, state string) error {
	const ins = `INSERT INTO power_state_history(server_id, state, changed_at) VALUES(?, ?, ?)`
	_, err := s.db.ExecContext(ctx, ins, serverID, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persistence: insert power_state_history: %w", err)
	}
	return nil
}

// ListPowerStateHistory returns a server's recorded power transitions,
// oldest first.
func (s *Store) ListPowerStateHistory(ctx context.Context, serverID string) ([]PowerStateEvent, error) {
	const q = `SELECT id, server_id, state, changed_at FROM power_state_history WHERE server_id=? ORDER BY changed_at ASC`
	rows, err := s.db.QueryContext(ctx, q, serverID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list power_state_history: %w", err)
	}
	defer rows.Close()

	var out []PowerStateEvent
	for rows.Next() {
		var e PowerStateEvent
		if err := rows.Scan(&e.ID, &e.ServerID, &e.State, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan power_state_history: %w", err)
		}
		e.ChangedAt = e.ChangedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// PowerStateEvent mirrors one row of the power_state_history table.
type PowerStateEvent struct {
	ID        int64
	ServerID  string
	State     string
	ChangedAt time.Time
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
