package history

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/redact"
	_ "modernc.org/sqlite"
)

// ErrStatusRegression is returned when a status update would move a session
// backwards or out of a terminal state.
var ErrStatusRegression = fmt.Errorf("session status may only move forward")

// Repository provides database operations for migration sessions. Every log
// message passes through the redactor before it touches disk.
type Repository struct {
	db       *sql.DB
	redactor *redact.Redactor
}

// NewRepository opens (and if needed initializes) the history database.
func NewRepository(dbPath string, redactor *redact.Redactor) (*Repository, error) {
	slog.Info("history_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("history_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open history database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("history_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	if redactor == nil {
		redactor = redact.New()
	}

	slog.Info("history_ready", "db_path", dbPath)
	return &Repository{db: db, redactor: redactor}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Redactor exposes the repository's redactor so callers can register secrets
// discovered after construction.
func (r *Repository) Redactor() *redact.Redactor {
	return r.redactor
}

// CreateSession inserts a new session record in the created status.
func (r *Repository) CreateSession(s *Session) error {
	slog.Info("history_create_session", "session_id", s.ID,
		"source_host", s.SourceHost, "target_host", s.TargetHost)

	if s.Status == "" {
		s.Status = StatusCreated
	}
	query := `
		INSERT INTO sessions (id, source_host, target_host, status)
		VALUES (?, ?, ?, ?)
	`
	if _, err := r.db.Exec(query, s.ID, s.SourceHost, s.TargetHost, s.Status); err != nil {
		slog.Error("history_insert_failed", "session_id", s.ID, "error", err)
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

// Get retrieves a session by ID. Returns nil without error when not found.
func (r *Repository) Get(id string) (*Session, error) {
	query := `
		SELECT id, source_host, target_host, status, failed_step,
		       db_bytes, db_checksum, db_row_count,
		       fs_bytes, fs_checksum, fs_file_count,
		       backup_path, warning_count, created_at, updated_at
		FROM sessions WHERE id = ?
	`
	var s Session
	var failedStep, dbChecksum, fsChecksum, backupPath sql.NullString

	err := r.db.QueryRow(query, id).Scan(
		&s.ID, &s.SourceHost, &s.TargetHost, &s.Status, &failedStep,
		&s.DBBytes, &dbChecksum, &s.DBRowCount,
		&s.FSBytes, &fsChecksum, &s.FSFileCount,
		&backupPath, &s.Warnings, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("history_query_failed", "session_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query session")
	}

	s.FailedStep = failedStep.String
	s.DBChecksum = dbChecksum.String
	s.FSChecksum = fsChecksum.String
	s.BackupPath = backupPath.String
	return &s, nil
}

// SetStatus advances a session's status. Transitions that would move
// backwards, or out of a terminal status, fail with ErrStatusRegression.
func (r *Repository) SetStatus(id, status string) error {
	return r.setStatus(id, status, "")
}

// SetFailed marks the session failed, recording which step broke it. Allowed
// from any non-terminal status.
func (r *Repository) SetFailed(id, failedStep string) error {
	return r.setStatus(id, StatusFailed, failedStep)
}

func (r *Repository) setStatus(id, status, failedStep string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT status FROM sessions WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to query current status")
	}

	if !transitionAllowed(current, status) {
		slog.Error("history_status_regression",
			"session_id", id, "from", current, "to", status)
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, status)
	}

	query := `
		UPDATE sessions
		SET status = ?, failed_step = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := tx.Exec(query, status, nullable(failedStep), id); err != nil {
		return errors.Wrap(err, "failed to update status")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit status update")
	}

	slog.Info("history_status_updated",
		"session_id", id, "from", current, "to", status, "failed_step", failedStep)
	return nil
}

// UpdateStats records the transfer and verification results as the steps
// produce them. Status is not touched here; SetStatus owns transitions.
func (r *Repository) UpdateStats(s *Session) error {
	query := `
		UPDATE sessions
		SET db_bytes = ?, db_checksum = ?, db_row_count = ?,
		    fs_bytes = ?, fs_checksum = ?, fs_file_count = ?,
		    backup_path = ?, warning_count = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		s.DBBytes, nullable(s.DBChecksum), s.DBRowCount,
		s.FSBytes, nullable(s.FSChecksum), s.FSFileCount,
		nullable(s.BackupPath), s.Warnings, s.ID)
	if err != nil {
		slog.Error("history_stats_update_failed", "session_id", s.ID, "error", err)
		return errors.Wrap(err, "failed to update session stats")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", s.ID)
	}
	return nil
}

// Append writes one audit log entry. The message is redacted first; secrets
// never reach the database no matter what the caller interpolated.
func (r *Repository) Append(sessionID, level, step, message string) error {
	message = r.redactor.Apply(message)

	query := `
		INSERT INTO log_entries (session_id, level, step, message)
		VALUES (?, ?, ?, ?)
	`
	if _, err := r.db.Exec(query, sessionID, level, step, message); err != nil {
		slog.Error("history_append_failed", "session_id", sessionID, "error", err)
		return errors.Wrap(err, "failed to append log entry")
	}
	return nil
}

// Entries retrieves a session's audit log in insertion order.
func (r *Repository) Entries(sessionID string) ([]*LogEntry, error) {
	query := `
		SELECT id, session_id, level, step, message, created_at
		FROM log_entries WHERE session_id = ? ORDER BY id
	`
	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		slog.Error("history_entries_query_failed", "session_id", sessionID, "error", err)
		return nil, errors.Wrap(err, "failed to query log entries")
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Level, &e.Step, &e.Message, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan log entry")
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return entries, nil
}

// List retrieves all sessions, most recent first.
func (r *Repository) List() ([]*Session, error) {
	query := `
		SELECT id, source_host, target_host, status, failed_step,
		       db_bytes, db_checksum, db_row_count,
		       fs_bytes, fs_checksum, fs_file_count,
		       backup_path, warning_count, created_at, updated_at
		FROM sessions ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("history_list_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		var failedStep, dbChecksum, fsChecksum, backupPath sql.NullString
		err := rows.Scan(
			&s.ID, &s.SourceHost, &s.TargetHost, &s.Status, &failedStep,
			&s.DBBytes, &dbChecksum, &s.DBRowCount,
			&s.FSBytes, &fsChecksum, &s.FSFileCount,
			&backupPath, &s.Warnings, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		s.FailedStep = failedStep.String
		s.DBChecksum = dbChecksum.String
		s.FSChecksum = fsChecksum.String
		s.BackupPath = backupPath.String
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return sessions, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
