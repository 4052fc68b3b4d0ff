// Package database persists counting runs to SQLite. Each pipeline run
// is a session row; every counted crossing becomes a count_events row
// so totals survive restarts and feed the reporting endpoints.
package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Session lifecycle states stored in the sessions.status column.
const (
	SessionRunning = "running"
	SessionStopped = "stopped"
	SessionFailed  = "failed"
)

// Store wraps the SQLite handle behind the persistence operations the
// rest of the service needs.
type Store struct {
	db *sql.DB
}

// SessionRecord is one pipeline run: when it started, what it watched
// and the totals it accumulated.
type SessionRecord struct {
	ID        string
	Source    string
	Status    string
	InTotal   int
	OutTotal  int
	StartedAt time.Time
	EndedAt   *time.Time
}

// CountEventRecord is one counted crossing. CountedAt is the
// synthesized video timestamp, not the wall clock of the insert.
type CountEventRecord struct {
	ID        string
	SessionID string
	TrackID   int
	Class     string
	Direction string
	CountedAt time.Time
}

// ClassTotal aggregates crossings per vehicle class.
type ClassTotal struct {
	Class string
	In    int
	Out   int
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps the recorder's writes from blocking report reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			in_total INTEGER NOT NULL DEFAULT 0,
			out_total INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS count_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			track_id INTEGER NOT NULL,
			class TEXT NOT NULL,
			direction TEXT NOT NULL,
			counted_at DATETIME NOT NULL,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_time ON count_events(session_id, counted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON count_events(counted_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Store] migrations complete")
	return nil
}

// CreateSession inserts a new running session and returns it.
func (s *Store) CreateSession(source string) (*SessionRecord, error) {
	rec := &SessionRecord{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    SessionRunning,
		StartedAt: time.Now().UTC(),
	}

	query := `INSERT INTO sessions (id, source, status, started_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.Exec(query, rec.ID, rec.Source, rec.Status, rec.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return rec, nil
}

// GetSession retrieves a session by ID. Returns nil when no row exists.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	query := `SELECT id, source, status, in_total, out_total, started_at, ended_at
		FROM sessions WHERE id = ?`

	var rec SessionRecord
	var ended sql.NullTime
	err := s.db.QueryRow(query, id).Scan(&rec.ID, &rec.Source, &rec.Status,
		&rec.InTotal, &rec.OutTotal, &rec.StartedAt, &ended)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if ended.Valid {
		rec.EndedAt = &ended.Time
	}
	return &rec, nil
}

// RecentSessions returns sessions newest first.
func (s *Store) RecentSessions(limit int) ([]*SessionRecord, error) {
	query := `SELECT id, source, status, in_total, out_total, started_at, ended_at
		FROM sessions ORDER BY started_at DESC`
	args := []interface{}{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var ended sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Status,
			&rec.InTotal, &rec.OutTotal, &rec.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			rec.EndedAt = &ended.Time
		}
		sessions = append(sessions, &rec)
	}
	return sessions, nil
}

// UpdateSessionTotals overwrites the running totals of a session.
func (s *Store) UpdateSessionTotals(id string, in, out int) error {
	_, err := s.db.Exec("UPDATE sessions SET in_total = ?, out_total = ? WHERE id = ?", in, out, id)
	if err != nil {
		return fmt.Errorf("failed to update session totals: %w", err)
	}
	return nil
}

// EndSession marks a session terminal with the given status.
func (s *Store) EndSession(id, status string) error {
	_, err := s.db.Exec("UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// SaveCountEvent inserts one counted crossing. A zero ID gets a fresh
// UUID; re-inserting an existing ID is a no-op.
func (s *Store) SaveCountEvent(event *CountEventRecord) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	query := `INSERT INTO count_events (id, session_id, track_id, class, direction, counted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := s.db.Exec(query, event.ID, event.SessionID, event.TrackID,
		event.Class, event.Direction, event.CountedAt)
	if err != nil {
		return fmt.Errorf("failed to save count event: %w", err)
	}
	return nil
}

// ListCountEvents returns count events with optional filtering, newest
// first. Empty sessionID matches all sessions; nil since means no lower
// bound; limit <= 0 means no limit.
func (s *Store) ListCountEvents(sessionID string, since *time.Time, limit int) ([]*CountEventRecord, error) {
	query := `SELECT id, session_id, track_id, class, direction, counted_at
		FROM count_events WHERE 1=1`
	args := []interface{}{}

	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}

	if since != nil {
		query += " AND counted_at >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY counted_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list count events: %w", err)
	}
	defer rows.Close()

	var events []*CountEventRecord
	for rows.Next() {
		var event CountEventRecord
		if err := rows.Scan(&event.ID, &event.SessionID, &event.TrackID,
			&event.Class, &event.Direction, &event.CountedAt); err != nil {
			return nil, fmt.Errorf("failed to scan count event: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// CountsByClass aggregates crossings per class, optionally scoped to one
// session. Classes sort alphabetically.
func (s *Store) CountsByClass(sessionID string) ([]ClassTotal, error) {
	query := `SELECT class,
		SUM(CASE WHEN direction = 'In' THEN 1 ELSE 0 END),
		SUM(CASE WHEN direction = 'Out' THEN 1 ELSE 0 END)
		FROM count_events`
	args := []interface{}{}

	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}

	query += " GROUP BY class ORDER BY class"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate counts: %w", err)
	}
	defer rows.Close()

	var totals []ClassTotal
	for rows.Next() {
		var tot ClassTotal
		if err := rows.Scan(&tot.Class, &tot.In, &tot.Out); err != nil {
			return nil, fmt.Errorf("failed to scan class total: %w", err)
		}
		totals = append(totals, tot)
	}
	return totals, nil
}

// DeleteOldEvents deletes count events counted before the given time.
func (s *Store) DeleteOldEvents(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM count_events WHERE counted_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old count events: %w", err)
	}
	return result.RowsAffected()
}
