package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"warden/core"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore bundles the durable implementations of EventStore,
// QuarantineStore, and ProvenanceStore backed by a single SQLite
// file. WAL mode gives a single writer with concurrent readers, which
// fits the append-mostly capture workload.
type SQLiteStore struct {
	db          *sql.DB
	logger      *zap.SugaredLogger
	Events      *SQLiteEventStore
	Quarantines *SQLiteQuarantineStore
	Provenance  *SQLiteProvenanceStore
}

// NewSQLiteStore opens (creating if needed) the database at path and
// runs schema migrations.
func NewSQLiteStore(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL mode must be set via PRAGMA; connection string params are
	// not reliable across drivers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.Events = &SQLiteEventStore{db: db}
	s.Quarantines = &SQLiteQuarantineStore{db: db}
	s.Provenance = &SQLiteProvenanceStore{db: db}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS security_events (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			event_type  TEXT NOT NULL,
			severity    TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			sandbox_id  TEXT NOT NULL,
			provider    TEXT,
			message     TEXT,
			payload     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_sandbox ON security_events(sandbox_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_window ON security_events(sandbox_id, event_type, timestamp)`,
		`CREATE TABLE IF NOT EXISTS quarantine_records (
			id          TEXT PRIMARY KEY,
			sandbox_id  TEXT NOT NULL,
			start_time  INTEGER NOT NULL,
			end_time    INTEGER,
			payload     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_sandbox ON quarantine_records(sandbox_id)`,
		`CREATE TABLE IF NOT EXISTS provenance_records (
			sandbox_id  TEXT PRIMARY KEY,
			payload     TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SQLiteEventStore implements EventStore on the shared database.
type SQLiteEventStore struct {
	db *sql.DB
}

// Append stores the event. The payload column keeps the full JSON
// form; the scalar columns exist for filtering and the window index.
func (s *SQLiteEventStore) Append(ctx context.Context, event *core.SecurityEvent) error {
	if err := core.ValidateEvent(event); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_events (id, event_type, severity, timestamp, sandbox_id, provider, message, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), string(event.Severity), event.Timestamp.UnixMilli(),
		event.SandboxID, event.Provider, event.Message, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) GetEvents(ctx context.Context, filters EventFilters) ([]core.SecurityEvent, error) {
	query := `SELECT payload FROM security_events WHERE 1=1`
	var args []interface{}

	if filters.SandboxID != "" {
		query += " AND sandbox_id = ?"
		args = append(args, filters.SandboxID)
	}
	if filters.Type != "" {
		query += " AND event_type = ?"
		args = append(args, string(filters.Type))
	}
	if filters.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filters.Severity))
	}
	if filters.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filters.StartTime.UnixMilli())
	}
	if filters.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filters.EndTime.UnixMilli())
	}
	query += " ORDER BY seq"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []core.SecurityEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event core.SecurityEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to decode stored event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteEventStore) HasEvent(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM security_events WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteEventStore) CountInWindow(ctx context.Context, sandboxID string, eventType core.EventType, since, until time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events
		 WHERE sandbox_id = ? AND event_type = ? AND timestamp >= ? AND timestamp <= ?`,
		sandboxID, string(eventType), since.UnixMilli(), until.UnixMilli()).Scan(&count)
	return count, err
}

func (s *SQLiteEventStore) EventCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&count)
	return count, err
}

// Close is a no-op; the shared database is closed by SQLiteStore.
func (s *SQLiteEventStore) Close() error { return nil }

// SQLiteQuarantineStore implements QuarantineStore on the shared
// database.
type SQLiteQuarantineStore struct {
	db *sql.DB
}

func (s *SQLiteQuarantineStore) Insert(ctx context.Context, record *core.QuarantineRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode quarantine record: %w", err)
	}
	var endTime interface{}
	if record.EndTime != nil {
		endTime = record.EndTime.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quarantine_records (id, sandbox_id, start_time, end_time, payload) VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.SandboxID, record.StartTime.UnixMilli(), endTime, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert quarantine record: %w", err)
	}
	return nil
}

func (s *SQLiteQuarantineStore) Get(ctx context.Context, id string) (*core.QuarantineRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM quarantine_records WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, core.ErrQuarantineNotFound
	}
	if err != nil {
		return nil, err
	}
	var record core.QuarantineRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to decode quarantine record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteQuarantineStore) Release(ctx context.Context, id string, endTime time.Time) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.EndTime != nil {
		return core.ErrAlreadyReleased
	}
	record.EndTime = &endTime
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode quarantine record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE quarantine_records SET end_time = ?, payload = ? WHERE id = ?`,
		endTime.UnixMilli(), string(payload), id)
	return err
}

func (s *SQLiteQuarantineStore) ActiveForSandbox(ctx context.Context, sandboxID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM quarantine_records WHERE sandbox_id = ? AND end_time IS NULL LIMIT 1`,
		sandboxID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteQuarantineStore) ListActive(ctx context.Context) ([]core.QuarantineRecord, error) {
	return s.list(ctx,
		`SELECT payload FROM quarantine_records WHERE end_time IS NULL ORDER BY start_time`)
}

func (s *SQLiteQuarantineStore) ListBySandbox(ctx context.Context, sandboxID string) ([]core.QuarantineRecord, error) {
	return s.list(ctx,
		`SELECT payload FROM quarantine_records WHERE sandbox_id = ? ORDER BY start_time`, sandboxID)
}

func (s *SQLiteQuarantineStore) list(ctx context.Context, query string, args ...interface{}) ([]core.QuarantineRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core.QuarantineRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record core.QuarantineRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("failed to decode quarantine record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SQLiteProvenanceStore implements ProvenanceStore on the shared
// database.
type SQLiteProvenanceStore struct {
	db *sql.DB
}

func (s *SQLiteProvenanceStore) Put(ctx context.Context, record *core.SignedProvenance) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode provenance record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provenance_records (sandbox_id, payload) VALUES (?, ?)
		 ON CONFLICT(sandbox_id) DO UPDATE SET payload = excluded.payload`,
		record.SandboxID, string(payload))
	return err
}

func (s *SQLiteProvenanceStore) Get(ctx context.Context, sandboxID string) (*core.SignedProvenance, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM provenance_records WHERE sandbox_id = ?`, sandboxID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, core.ErrProvenanceNotFound
	}
	if err != nil {
		return nil, err
	}
	var record core.SignedProvenance
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to decode provenance record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteProvenanceStore) SetAnchor(ctx context.Context, sandboxID string, anchor core.ChainAnchor) error {
	record, err := s.Get(ctx, sandboxID)
	if err != nil {
		return err
	}
	if record.ChainAnchor != nil {
		return core.ErrAlreadyAnchored
	}
	record.ChainAnchor = &anchor
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode provenance record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE provenance_records SET payload = ? WHERE sandbox_id = ?`, string(payload), sandboxID)
	return err
}
