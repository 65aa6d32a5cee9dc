package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wpshift/wpshift/pkg/relay"
	"github.com/wpshift/wpshift/pkg/remote"
)

// DatabaseStep relays a prefix-scoped logical dump of the source database
// straight into a restore on the target, without staging the dump anywhere.
// When the source and target table prefixes differ, table identifiers are
// rewritten at dump time on the source side of the pipe; nothing downstream
// ever sees the old prefix.
type DatabaseStep struct {
	Source remote.Session
	Target remote.Session
	Plan   Plan
}

// DatabaseResult reports one database migration.
type DatabaseResult struct {
	Transfer *relay.Transfer
	Tables   []string
	// RowCount is the post-restore count of the target posts table. Zero is
	// a valid but notable outcome, flagged as a warning by the caller.
	RowCount int64
}

// Run migrates the database and verifies the restore by counting rows in the
// posts table, the canonical reference table of a WordPress schema.
func (s *DatabaseStep) Run(ctx context.Context) (*DatabaseResult, error) {
	tables, err := s.listSourceTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables with prefix %q in source database %s",
			s.Plan.SourceDB.PrefixOrDefault(), s.Plan.SourceDB.Name)
	}

	slog.Info("database_step_start",
		"source_db", s.Plan.SourceDB.Name,
		"target_db", s.Plan.TargetDB.Name,
		"tables", len(tables))

	if err := s.ensureTargetDatabase(ctx); err != nil {
		return nil, err
	}

	transfer, err := relay.Run(ctx, s.Source, s.Target, relay.Spec{
		Name:          "database",
		SourceCommand: s.dumpCommand(tables),
		TargetCommand: s.restoreCommand(),
	})
	if err != nil {
		return &DatabaseResult{Transfer: transfer, Tables: tables}, err
	}

	rows, err := s.countPostRows(ctx)
	if err != nil {
		return &DatabaseResult{Transfer: transfer, Tables: tables}, err
	}

	slog.Info("database_step_done",
		"bytes", transfer.BytesTransferred,
		"checksum", transfer.Checksum,
		"post_rows", rows)

	return &DatabaseResult{Transfer: transfer, Tables: tables, RowCount: rows}, nil
}

// listSourceTables enumerates the prefix-scoped tables to dump. Restricting
// the dump to the prefix keeps unrelated databases' tables out of the
// migration.
func (s *DatabaseStep) listSourceTables(ctx context.Context) ([]string, error) {
	db := s.Plan.SourceDB
	cmd := Query(db, fmt.Sprintf("SHOW TABLES LIKE '%s'", likePattern(db.PrefixOrDefault())))

	res, err := s.Source.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("listing source tables failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	var tables []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tables = append(tables, line)
		}
	}
	return tables, nil
}

// ensureTargetDatabase creates the target database and grants when a root
// password was supplied; otherwise the target database must already exist
// (the validation gate has verified the credentials against it).
func (s *DatabaseStep) ensureTargetDatabase(ctx context.Context) error {
	if s.Plan.TargetRootPassword == "" {
		slog.Info("database_create_skipped", "reason", "no_root_password")
		return nil
	}

	db := s.Plan.TargetDB
	script := strings.Join([]string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s;", db.Name),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'localhost' IDENTIFIED BY '%s';", db.User, db.Password),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO '%s'@'localhost';", db.Name, db.User),
		"FLUSH PRIVILEGES;",
	}, "\n")

	res, err := s.Target.Run(ctx, mysqlRootScript(s.Plan.TargetRootPassword, script))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("creating target database failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	slog.Info("database_created", "target_db", db.Name)
	return nil
}

// dumpCommand renders the source side of the pipe. pipefail makes the dump's
// own exit status surface through gzip.
func (s *DatabaseStep) dumpCommand(tables []string) string {
	db := s.Plan.SourceDB

	cmd := fmt.Sprintf("set -o pipefail; mysqldump %s --single-transaction --quick --no-tablespaces %s %s",
		mysqlAuth(db), db.Name, strings.Join(tables, " "))

	if rewrite := s.prefixRewrite(); rewrite != "" {
		cmd += " | " + rewrite
	}
	return cmd + " | gzip -c"
}

func (s *DatabaseStep) restoreCommand() string {
	db := s.Plan.TargetDB
	return fmt.Sprintf("set -o pipefail; gunzip -c | mysql %s %s", mysqlAuth(db), db.Name)
}

// prefixRewrite returns the sed stage that renames table identifiers when
// the prefixes differ. Matching on the backtick-quoted identifier keeps the
// substitution away from row data that merely mentions the prefix.
func (s *DatabaseStep) prefixRewrite() string {
	oldPrefix := s.Plan.SourceDB.PrefixOrDefault()
	newPrefix := s.Plan.TargetDB.PrefixOrDefault()
	if oldPrefix == newPrefix {
		return ""
	}
	return fmt.Sprintf("sed 's/`%s/`%s/g'", oldPrefix, newPrefix)
}

func (s *DatabaseStep) countPostRows(ctx context.Context) (int64, error) {
	db := s.Plan.TargetDB
	table := db.PrefixOrDefault() + "posts"

	res, err := s.Target.Run(ctx, Query(db, "SELECT COUNT(*) FROM "+table))
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("row count verification failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	rows, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected row count output %q", res.Stdout)
	}
	return rows, nil
}
