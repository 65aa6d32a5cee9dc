package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"github.com/wpshift/wpshift/internal/config"
	"github.com/wpshift/wpshift/pkg/errors"
	appfsm "github.com/wpshift/wpshift/pkg/fsm"
	"github.com/wpshift/wpshift/pkg/history"
	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/redact"
	"github.com/wpshift/wpshift/pkg/remote"
	"github.com/wpshift/wpshift/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a full site migration from source to target",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.HistoryPath, cfg.FSMDBPath); err != nil {
		return err
	}

	redactor := redact.New(cfg.Secrets()...)
	repo, err := history.NewRepository(cfg.HistoryPath, redactor)
	if err != nil {
		return errors.Wrap(err, "history init failed")
	}
	defer repo.Close()

	source, err := remote.Dial(ctx, cfg.SourceEndpoint(), cfg.SourceAuth(), cfg.Timeout())
	if err != nil {
		return errors.Wrap(err, "source connection failed")
	}
	defer source.Close()

	target, err := remote.Dial(ctx, cfg.TargetEndpoint(), cfg.TargetAuth(), cfg.Timeout())
	if err != nil {
		return errors.Wrap(err, "target connection failed")
	}
	defer target.Close()

	plan := cfg.Plan()
	params := cfg.Params()
	if plan.SourceDB.Empty() {
		db, err := migrate.ExtractDBConfig(source, cfg.SourceRoot)
		if err != nil {
			return errors.Wrap(err, "source database credentials unavailable")
		}
		if db.TablePrefix == "" {
			db.TablePrefix = cfg.SourceDBPrefix
		}
		redactor.Add(db.Password)
		plan.SourceDB = db
		params.SourceDB = db
		slog.Info("source_db_extracted", "db_name", db.Name, "db_user", db.User)
	}

	var archiver *storage.Archiver
	if cfg.ArchiveBucket != "" {
		archiver, err = storage.NewArchiver(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion)
		if err != nil {
			return errors.Wrap(err, "archiver init failed")
		}
	}

	runID := uuid.New().String()
	if err := repo.CreateSession(&history.Session{
		ID:         runID,
		SourceHost: cfg.SourceHost,
		TargetHost: cfg.TargetHost,
	}); err != nil {
		return errors.Wrap(err, "session create failed")
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "workflow manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(repo, source, target, plan, params, archiver)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "workflow register failed")
	}

	req := &appfsm.MigrationRequest{
		RunID:      runID,
		SourceHost: cfg.SourceHost,
		TargetHost: cfg.TargetHost,
	}
	resp := &appfsm.MigrationResponse{}

	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "workflow start failed")
	}

	slog.Info("migration_started", "run_id", runID, "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		if session, gerr := repo.Get(runID); gerr == nil && session != nil && session.FailedStep != "" {
			return fmt.Errorf("migration %s failed at step %s: %w", runID, session.FailedStep, err)
		}
		return errors.Wrap(err, "migration failed")
	}

	slog.Info("migration_completed",
		"run_id", runID,
		"db_bytes", resp.DBBytes,
		"db_tables", resp.DBTables,
		"fs_bytes", resp.FSBytes,
		"fs_files", resp.FSFileCount,
		"warnings", resp.Warnings,
		"probe_ok", resp.ProbeOK)

	fmt.Printf("Migration %s completed: %d tables (%d bytes), %d files (%d bytes), %d warnings\n",
		runID, resp.DBTables, resp.DBBytes, resp.FSFileCount, resp.FSBytes, resp.Warnings)
	if resp.BackupPath != "" {
		fmt.Printf("Previous target tree backed up at %s\n", resp.BackupPath)
	}
	if !resp.ProbeOK {
		fmt.Println("Note: the post-migration site probe did not get a clean response; check the session log.")
	}

	return nil
}
