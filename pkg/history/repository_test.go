package history

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wpshift/wpshift/pkg/redact"
)

func newTestRepo(t *testing.T, secrets ...string) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "history.db"), redact.New(secrets...))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustCreate(t *testing.T, repo *Repository, id string) *Session {
	t.Helper()
	s := &Session{ID: id, SourceHost: "src.example.com", TargetHost: "tgt.example.com"}
	if err := repo.CreateSession(s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	mustCreate(t, repo, "run-1")

	got, err := repo.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Status != StatusCreated {
		t.Fatalf("got %+v, want created session", got)
	}

	for _, status := range []string{
		StatusValidating, StatusMigratingDatabase,
		StatusMigratingFilesystem, StatusPostMigrating, StatusCompleted,
	} {
		if err := repo.SetStatus("run-1", status); err != nil {
			t.Fatalf("SetStatus(%s): %v", status, err)
		}
	}

	got, err = repo.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("final status = %q, want completed", got.Status)
	}
}

func TestStatusMovesForwardOnly(t *testing.T) {
	tests := []struct {
		name string
		path []string
		next string
	}{
		{"backwards from filesystem", []string{StatusValidating, StatusMigratingDatabase, StatusMigratingFilesystem}, StatusValidating},
		{"repeat current status", []string{StatusValidating}, StatusValidating},
		{"out of completed", []string{StatusValidating, StatusMigratingDatabase, StatusMigratingFilesystem, StatusPostMigrating, StatusCompleted}, StatusValidating},
		{"completed after failed", []string{StatusFailed}, StatusCompleted},
		{"resurrect failed", []string{StatusValidating, StatusFailed}, StatusMigratingDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(t)
			mustCreate(t, repo, "run-1")
			for _, status := range tt.path {
				if err := repo.SetStatus("run-1", status); err != nil {
					t.Fatalf("SetStatus(%s): %v", status, err)
				}
			}

			err := repo.SetStatus("run-1", tt.next)
			if !errors.Is(err, ErrStatusRegression) {
				t.Fatalf("SetStatus(%s) = %v, want ErrStatusRegression", tt.next, err)
			}

			got, _ := repo.Get("run-1")
			if got.Status != tt.path[len(tt.path)-1] {
				t.Fatalf("status changed to %q despite rejected transition", got.Status)
			}
		})
	}
}

func TestSetFailedFromAnyNonTerminalStatus(t *testing.T) {
	for _, status := range []string{
		StatusCreated, StatusValidating, StatusMigratingDatabase,
		StatusMigratingFilesystem, StatusPostMigrating,
	} {
		t.Run(status, func(t *testing.T) {
			repo := newTestRepo(t)
			mustCreate(t, repo, "run-1")
			if status != StatusCreated {
				// Walk forward to the status under test.
				for _, s := range []string{
					StatusValidating, StatusMigratingDatabase,
					StatusMigratingFilesystem, StatusPostMigrating,
				} {
					if err := repo.SetStatus("run-1", s); err != nil {
						t.Fatalf("SetStatus(%s): %v", s, err)
					}
					if s == status {
						break
					}
				}
			}

			if err := repo.SetFailed("run-1", "database"); err != nil {
				t.Fatalf("SetFailed from %s: %v", status, err)
			}
			got, _ := repo.Get("run-1")
			if got.Status != StatusFailed || got.FailedStep != "database" {
				t.Fatalf("got status=%q failed_step=%q", got.Status, got.FailedStep)
			}
		})
	}
}

func TestAppendRedactsSecrets(t *testing.T) {
	const password = "hunter2-db-password"
	repo := newTestRepo(t, password)
	mustCreate(t, repo, "run-1")

	msg := "mysqldump -u wp -p'" + password + "' failed"
	if err := repo.Append("run-1", "error", "database", msg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := repo.Entries("run-1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if strings.Contains(entries[0].Message, password) {
		t.Fatalf("stored entry leaked the password: %q", entries[0].Message)
	}
	if !strings.Contains(entries[0].Message, redact.Placeholder) {
		t.Fatalf("stored entry missing placeholder: %q", entries[0].Message)
	}
}

func TestAppendRedactsLateRegisteredSecrets(t *testing.T) {
	repo := newTestRepo(t)
	mustCreate(t, repo, "run-1")

	// Secrets parsed out of wp-config.php show up after the repository is
	// built; they must still be scrubbed.
	repo.Redactor().Add("extracted-pw")
	if err := repo.Append("run-1", "info", "database", "connecting with extracted-pw"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, _ := repo.Entries("run-1")
	if strings.Contains(entries[0].Message, "extracted-pw") {
		t.Fatalf("stored entry leaked the extracted password: %q", entries[0].Message)
	}
}

func TestEntriesKeepInsertionOrder(t *testing.T) {
	repo := newTestRepo(t)
	mustCreate(t, repo, "run-1")

	for _, msg := range []string{"first", "second", "third"} {
		if err := repo.Append("run-1", "info", "validate", msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := repo.Entries("run-1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Message != want {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Message, want)
		}
	}
}

func TestUpdateStats(t *testing.T) {
	repo := newTestRepo(t)
	s := mustCreate(t, repo, "run-1")

	s.DBBytes = 4096
	s.DBChecksum = "abc123"
	s.DBRowCount = 42
	s.FSBytes = 1 << 20
	s.FSChecksum = "def456"
	s.FSFileCount = 1200
	s.BackupPath = "/tmp/wpshift_backup_20260825_120000"
	s.Warnings = 2
	if err := repo.UpdateStats(s); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}

	got, err := repo.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DBBytes != 4096 || got.DBChecksum != "abc123" || got.DBRowCount != 42 {
		t.Fatalf("database stats not persisted: %+v", got)
	}
	if got.FSBytes != 1<<20 || got.FSFileCount != 1200 || got.BackupPath == "" {
		t.Fatalf("filesystem stats not persisted: %+v", got)
	}
	if got.Warnings != 2 {
		t.Fatalf("warnings = %d, want 2", got.Warnings)
	}

	if err := repo.UpdateStats(&Session{ID: "missing"}); err == nil {
		t.Fatal("UpdateStats for unknown session did not error")
	}
}

func TestGetMissingSessionReturnsNil(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestListSessions(t *testing.T) {
	repo := newTestRepo(t)
	mustCreate(t, repo, "run-1")
	mustCreate(t, repo, "run-2")
	if err := repo.SetFailed("run-2", "validate"); err != nil {
		t.Fatalf("SetFailed: %v", err)
	}

	sessions, err := repo.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
}
