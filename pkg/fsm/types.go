package fsm

// MigrationRequest is the workflow input. The workflow store persists it to
// disk, so it carries host identifiers only; credentials live in the
// in-process plan and never reach the store.
type MigrationRequest struct {
	RunID      string
	SourceHost string
	TargetHost string
}

// MigrationResponse is the workflow output, accumulated across transitions.
type MigrationResponse struct {
	// From Validate
	ChecksPassed int
	ChecksWarned int

	// From MigrateDatabase
	DBBytes    int64
	DBChecksum string
	DBTables   int
	DBRowCount int64

	// From MigrateFilesystem
	FSBytes     int64
	FSChecksum  string
	FSFileCount int64
	BackupPath  string

	// From PostMigrate
	ProbeOK  bool
	Warnings int

	// From Complete/Failed
	Status     string
	FailedStep string
}

// State names
const (
	StateValidate          = "validate"
	StateMigrateDatabase   = "migrate_database"
	StateMigrateFilesystem = "migrate_filesystem"
	StatePostMigrate       = "post_migrate"
	StateComplete          = "complete"
	StateFailed            = "failed"
)
