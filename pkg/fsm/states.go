package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/superfly/fsm"
	"github.com/wpshift/wpshift/pkg/history"
	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/validate"
)

// handleValidate runs the pre-migration validation gate.
func (m *Machine) handleValidate(ctx context.Context, req *fsm.Request[MigrationRequest, MigrationResponse]) (*fsm.Response[MigrationResponse], error) {
	slog.Info("fsm_state_validate", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		resp = &MigrationResponse{}
	}
	if err := m.runValidate(ctx, req.Msg.RunID, resp); err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

// handleMigrateDatabase relays the database dump into the target.
func (m *Machine) handleMigrateDatabase(ctx context.Context, req *fsm.Request[MigrationRequest, MigrationResponse]) (*fsm.Response[MigrationResponse], error) {
	slog.Info("fsm_state_migrate_database", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.runDatabase(ctx, req.Msg.RunID, resp); err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

// handleMigrateFilesystem relays the document root into the target.
func (m *Machine) handleMigrateFilesystem(ctx context.Context, req *fsm.Request[MigrationRequest, MigrationResponse]) (*fsm.Response[MigrationResponse], error) {
	slog.Info("fsm_state_migrate_filesystem", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.runFilesystem(ctx, req.Msg.RunID, resp); err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

// handlePostMigrate runs the target-side fix-up sequence.
func (m *Machine) handlePostMigrate(ctx context.Context, req *fsm.Request[MigrationRequest, MigrationResponse]) (*fsm.Response[MigrationResponse], error) {
	slog.Info("fsm_state_post_migrate", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.runPost(ctx, req.Msg.RunID, resp); err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

// handleComplete finalizes the session record and archives it.
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[MigrationRequest, MigrationResponse]) (*fsm.Response[MigrationResponse], error) {
	slog.Info("fsm_state_complete", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.runComplete(ctx, req.Msg.RunID, resp); err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) runValidate(ctx context.Context, runID string, resp *MigrationResponse) error {
	if err := m.repo.SetStatus(runID, history.StatusValidating); err != nil {
		return err
	}
	m.log(runID, "info", "validate", "validation gate started")

	gate := &validate.Gate{Source: m.source, Target: m.target, Params: m.params}
	report := gate.Run(ctx)

	for _, c := range report.Checks {
		level := "info"
		switch c.Outcome {
		case validate.Fail:
			level = "error"
		case validate.Warning:
			level = "warn"
			resp.ChecksWarned++
			resp.Warnings++
		case validate.Pass:
			resp.ChecksPassed++
		}
		m.log(runID, level, "validate", fmt.Sprintf("%s: %s (%s)", c.Name, c.Outcome, c.Detail))
	}

	if fatal := report.FirstFatal(); fatal != nil {
		return m.fail(runID, resp, "validate",
			fmt.Errorf("validation failed on %s: %s", fatal.Name, fatal.Detail))
	}

	m.log(runID, "info", "validate",
		fmt.Sprintf("gate passed: %d checks, %d warnings", len(report.Checks), resp.ChecksWarned))
	return nil
}

func (m *Machine) runDatabase(ctx context.Context, runID string, resp *MigrationResponse) error {
	if err := m.repo.SetStatus(runID, history.StatusMigratingDatabase); err != nil {
		return err
	}
	m.log(runID, "info", "database", "database migration started")

	step := &migrate.DatabaseStep{Source: m.source, Target: m.target, Plan: m.plan}
	result, err := step.Run(ctx)
	if result != nil {
		resp.DBTables = len(result.Tables)
		if result.Transfer != nil {
			resp.DBBytes = result.Transfer.BytesTransferred
			resp.DBChecksum = result.Transfer.Checksum
		}
		m.recordStats(runID, resp)
	}
	if err != nil {
		return m.fail(runID, resp, "database", err)
	}

	resp.DBRowCount = result.RowCount
	m.recordStats(runID, resp)

	if result.RowCount == 0 {
		resp.Warnings++
		m.log(runID, "warn", "database", "restored posts table is empty")
	}
	m.log(runID, "info", "database", fmt.Sprintf(
		"migrated %d tables, %d bytes, sha256 %s, %d post rows",
		len(result.Tables), resp.DBBytes, resp.DBChecksum, result.RowCount))
	return nil
}

func (m *Machine) runFilesystem(ctx context.Context, runID string, resp *MigrationResponse) error {
	if err := m.repo.SetStatus(runID, history.StatusMigratingFilesystem); err != nil {
		return err
	}
	m.log(runID, "info", "filesystem", "filesystem migration started")

	step := &migrate.FilesystemStep{Source: m.source, Target: m.target, Plan: m.plan}
	result, err := step.Run(ctx)
	if result != nil {
		resp.BackupPath = result.BackupPath
		if result.Transfer != nil {
			resp.FSBytes = result.Transfer.BytesTransferred
			resp.FSChecksum = result.Transfer.Checksum
		}
		m.recordStats(runID, resp)
	}
	if err != nil {
		return m.fail(runID, resp, "filesystem", err)
	}

	resp.FSFileCount = result.FileCount
	m.recordStats(runID, resp)

	if result.BackupPath != "" {
		m.log(runID, "info", "filesystem", "existing target tree backed up to "+result.BackupPath)
	}
	m.log(runID, "info", "filesystem", fmt.Sprintf(
		"migrated %d bytes, sha256 %s, %d files on target",
		resp.FSBytes, resp.FSChecksum, result.FileCount))
	return nil
}

func (m *Machine) runPost(ctx context.Context, runID string, resp *MigrationResponse) error {
	if err := m.repo.SetStatus(runID, history.StatusPostMigrating); err != nil {
		return err
	}
	m.log(runID, "info", "post_migration", "post-migration fix-ups started")

	step := &migrate.PostStep{Target: m.target, Plan: m.plan}
	result, err := step.Run(ctx)
	if result != nil {
		for _, w := range result.Warnings {
			resp.Warnings++
			m.log(runID, "warn", "post_migration", w)
		}
		resp.ProbeOK = result.ProbeOK
	}
	if err != nil {
		return m.fail(runID, resp, "post_migration", err)
	}

	m.recordStats(runID, resp)
	m.log(runID, "info", "post_migration",
		fmt.Sprintf("fix-ups complete, site probe ok=%v (%s)", result.ProbeOK, result.ProbeDetail))
	return nil
}

func (m *Machine) runComplete(ctx context.Context, runID string, resp *MigrationResponse) error {
	m.recordStats(runID, resp)
	if err := m.repo.SetStatus(runID, history.StatusCompleted); err != nil {
		return err
	}
	resp.Status = history.StatusCompleted
	m.log(runID, "info", "complete", "migration completed")

	if m.archiver != nil {
		m.archive(ctx, runID)
	}

	slog.Info("fsm_complete", "run_id", runID, "status", resp.Status)
	return nil
}

// archive uploads the finished session. Archive failure is a warning: the
// migration already succeeded and the local record remains authoritative.
func (m *Machine) archive(ctx context.Context, runID string) {
	session, err := m.repo.Get(runID)
	if err != nil || session == nil {
		slog.Warn("archive_skipped", "run_id", runID, "error", err)
		return
	}
	entries, err := m.repo.Entries(runID)
	if err != nil {
		slog.Warn("archive_skipped", "run_id", runID, "error", err)
		return
	}
	if _, err := m.archiver.ArchiveSession(ctx, session, entries); err != nil {
		m.log(runID, "warn", "complete", "session archive failed: "+err.Error())
	}
}

// fail records the failure in the history store and returns the error for
// the handler to abort with. The session lands in the terminal failed status
// with the breaking step attached.
func (m *Machine) fail(runID string, resp *MigrationResponse, step string, err error) error {
	resp.Status = history.StatusFailed
	resp.FailedStep = step

	m.log(runID, "error", step, err.Error())
	if ferr := m.repo.SetFailed(runID, step); ferr != nil {
		slog.Error("history_mark_failed_error", "run_id", runID, "step", step, "error", ferr)
	}
	return err
}

// log appends one audit entry; the repository redacts the message. Append
// failures are logged and swallowed so bookkeeping cannot mask the run's own
// outcome.
func (m *Machine) log(runID, level, step, message string) {
	if err := m.repo.Append(runID, level, step, message); err != nil {
		slog.Warn("history_append_error", "run_id", runID, "step", step, "error", err)
	}
}

func (m *Machine) recordStats(runID string, resp *MigrationResponse) {
	err := m.repo.UpdateStats(&history.Session{
		ID:          runID,
		DBBytes:     resp.DBBytes,
		DBChecksum:  resp.DBChecksum,
		DBRowCount:  resp.DBRowCount,
		FSBytes:     resp.FSBytes,
		FSChecksum:  resp.FSChecksum,
		FSFileCount: resp.FSFileCount,
		BackupPath:  resp.BackupPath,
		Warnings:    resp.Warnings,
	})
	if err != nil {
		slog.Warn("history_stats_error", "run_id", runID, "error", err)
	}
}
