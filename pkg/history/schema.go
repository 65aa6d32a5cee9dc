// Package history persists migration sessions and their audit log in a local
// SQLite database. Every run leaves a queryable record of what moved, what
// was checked, and how the run ended, surviving the process that ran it.
package history

// Schema defines the SQLite schema: one row per migration session plus an
// append-only log. Status values are constrained in the database too, so a
// bad write cannot smuggle in an unknown state.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    source_host TEXT NOT NULL,
    target_host TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN (
        'created', 'validating', 'migrating_database',
        'migrating_filesystem', 'post_migrating', 'completed', 'failed')),
    failed_step TEXT,
    db_bytes INTEGER NOT NULL DEFAULT 0,
    db_checksum TEXT,
    db_row_count INTEGER NOT NULL DEFAULT 0,
    fs_bytes INTEGER NOT NULL DEFAULT 0,
    fs_checksum TEXT,
    fs_file_count INTEGER NOT NULL DEFAULT 0,
    backup_path TEXT,
    warning_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);

CREATE TABLE IF NOT EXISTS log_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    level TEXT NOT NULL,
    step TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_log_entries_session ON log_entries(session_id);
`

// Session status constants. A session only ever moves forward through these;
// completed and failed are terminal.
const (
	StatusCreated             = "created"
	StatusValidating          = "validating"
	StatusMigratingDatabase   = "migrating_database"
	StatusMigratingFilesystem = "migrating_filesystem"
	StatusPostMigrating       = "post_migrating"
	StatusCompleted           = "completed"
	StatusFailed              = "failed"
)

// statusRank orders the forward progression. failed is reachable from any
// non-terminal status and is handled separately.
var statusRank = map[string]int{
	StatusCreated:             0,
	StatusValidating:          1,
	StatusMigratingDatabase:   2,
	StatusMigratingFilesystem: 3,
	StatusPostMigrating:       4,
	StatusCompleted:           5,
}

// transitionAllowed enforces the forward-only status machine.
func transitionAllowed(from, to string) bool {
	if from == StatusCompleted || from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Session is one migration run's persistent record.
type Session struct {
	ID          string
	SourceHost  string
	TargetHost  string
	Status      string
	FailedStep  string
	DBBytes     int64
	DBChecksum  string
	DBRowCount  int64
	FSBytes     int64
	FSChecksum  string
	FSFileCount int64
	BackupPath  string
	Warnings    int
	CreatedAt   string
	UpdatedAt   string
}

// LogEntry is one audit log line. Messages are redacted before they are
// written; a stored entry never contains a credential.
type LogEntry struct {
	ID        int64
	SessionID string
	Level     string
	Step      string
	Message   string
	CreatedAt string
}
