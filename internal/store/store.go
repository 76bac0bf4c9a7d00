package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anfarias/clinicase/internal/model"

	_ "modernc.org/sqlite"
)

// Store owns the persisted session documents. Each session id is a disjoint
// partition stored as a single row, so a row update is an atomic document
// write: no reader observes a history mid-append.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		student_name TEXT NOT NULL DEFAULT 'Anonymous Student',
		topic TEXT NOT NULL,
		clinical_case TEXT NOT NULL,
		history TEXT NOT NULL DEFAULT '[]',
		final_assessment TEXT,
		tokens_consumed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		revision INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS identities (
		token TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		issued_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession persists a freshly initiated session. The clinical case is
// written exactly once: an id that was ever used, active or archived, is
// rejected.
func (s *Store) CreateSession(sess model.Session) error {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sess.SessionID).Scan(&count)
	if err != nil {
		return fmt.Errorf("check session %s: %w", sess.SessionID, err)
	}
	if count > 0 {
		return fmt.Errorf("create session %s: %w", sess.SessionID, model.ErrSessionExists)
	}

	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, student_name, topic, clinical_case, history,
		 final_assessment, tokens_consumed, status, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		sess.SessionID, sess.StudentName, sess.Topic, sess.ClinicalCase, string(historyJSON),
		sess.FinalAssessment, sess.TokensConsumed, model.StatusActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.SessionID, err)
	}
	return nil
}

const sessionColumns = `session_id, student_name, topic, clinical_case, history,
	final_assessment, tokens_consumed, status, revision, created_at, updated_at`

func (s *Store) scanSession(row *sql.Row) (*model.Session, error) {
	var sess model.Session
	var historyJSON string
	err := row.Scan(&sess.SessionID, &sess.StudentName, &sess.Topic, &sess.ClinicalCase,
		&historyJSON, &sess.FinalAssessment, &sess.TokensConsumed, &sess.Status,
		&sess.Revision, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
		return nil, fmt.Errorf("unmarshal history for %s: %w", sess.SessionID, err)
	}
	return &sess, nil
}

// GetSession returns an active session document, or nil if the id is
// unknown or the session was archived.
func (s *Store) GetSession(sessionID string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ? AND status = ?`,
		sessionID, model.StatusActive,
	)
	return s.scanSession(row)
}

// GetSessionAny returns a session regardless of status, for the admin
// surface and export.
func (s *Store) GetSessionAny(sessionID string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID,
	)
	return s.scanSession(row)
}

// applyUpdate merges the given columns into an active session row with a
// compare-and-swap on the revision counter. A final-assessment update that
// also carries a history column indicates a logic defect and is rejected
// before touching the database.
func (s *Store) applyUpdate(sessionID string, cols map[string]any, tokensDelta int, expectedRev int64) error {
	if _, setsAssessment := cols["final_assessment"]; setsAssessment {
		if _, alsoHistory := cols["history"]; alsoHistory {
			return fmt.Errorf("final assessment update carries a history mutation: %w", model.ErrInvariant)
		}
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	var set strings.Builder
	var args []any
	for _, name := range names {
		set.WriteString(name + " = ?, ")
		args = append(args, cols[name])
	}
	set.WriteString("tokens_consumed = tokens_consumed + ?, revision = revision + 1, updated_at = ?")
	args = append(args, tokensDelta, time.Now().UTC(), sessionID, model.StatusActive, expectedRev)

	res, err := s.db.Exec(
		`UPDATE sessions SET `+set.String()+` WHERE session_id = ? AND status = ? AND revision = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the session vanished or a concurrent writer advanced the
		// revision; tell the caller which.
		var count int
		if err := s.db.QueryRow(
			`SELECT COUNT(*) FROM sessions WHERE session_id = ? AND status = ?`,
			sessionID, model.StatusActive,
		).Scan(&count); err != nil {
			return fmt.Errorf("recheck session %s: %w", sessionID, err)
		}
		if count == 0 {
			return fmt.Errorf("update session %s: %w", sessionID, model.ErrSessionNotFound)
		}
		return fmt.Errorf("update session %s: %w", sessionID, model.ErrConflict)
	}
	return nil
}

// UpdateHistory replaces the session's turn history and adds the tokens
// spent producing it. Stale writers are rejected with ErrConflict.
func (s *Store) UpdateHistory(sessionID string, history model.History, tokensDelta int, expectedRev int64) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return s.applyUpdate(sessionID, map[string]any{"history": string(historyJSON)}, tokensDelta, expectedRev)
}

// SetFinalAssessment writes the final assessment text. The update path can
// not express a history change, keeping the turn history provably untouched
// by conclusion.
func (s *Store) SetFinalAssessment(sessionID, assessment string, tokensDelta int, expectedRev int64) error {
	return s.applyUpdate(sessionID, map[string]any{"final_assessment": assessment}, tokensDelta, expectedRev)
}

// ListSessions returns active sessions, most recently updated first.
func (s *Store) ListSessions(limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.listSessions(
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
		model.StatusActive, limit,
	)
}

// ListAllSessions returns every session including archived ones, oldest
// first, for export.
func (s *Store) ListAllSessions() ([]model.Session, error) {
	return s.listSessions(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at`)
}

func (s *Store) listSessions(query string, args ...any) ([]model.Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		var historyJSON string
		if err := rows.Scan(&sess.SessionID, &sess.StudentName, &sess.Topic, &sess.ClinicalCase,
			&historyJSON, &sess.FinalAssessment, &sess.TokensConsumed, &sess.Status,
			&sess.Revision, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
			return nil, fmt.Errorf("unmarshal history for %s: %w", sess.SessionID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ArchiveSession soft-deletes a session. The document is never physically
// removed.
func (s *Store) ArchiveSession(sessionID string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ? AND status = ?`,
		model.StatusArchived, time.Now().UTC(), sessionID, model.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("archive session %s: %w", sessionID, model.ErrSessionNotFound)
	}
	return nil
}

// SessionCount returns active and total session counts for admin stats.
func (s *Store) SessionCount() (active int, total int, err error) {
	err = s.db.QueryRow(
		`SELECT COUNT(*) FILTER (WHERE status = ?), COUNT(*) FROM sessions`,
		model.StatusActive,
	).Scan(&active, &total)
	return active, total, err
}
