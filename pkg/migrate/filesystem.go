package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wpshift/wpshift/pkg/relay"
	"github.com/wpshift/wpshift/pkg/remote"
)

// archiveExcludes are generated or host-local artifacts that have no place
// on the target: page/object caches and version-control metadata.
var archiveExcludes = []string{
	"./wp-content/cache",
	"./.git",
	"./.svn",
}

// FilesystemStep relays a tar stream of the source document root straight
// into an unpack on the target. Colliding paths are overwritten, not merged;
// an optional timestamped copy of the existing target tree is taken first.
type FilesystemStep struct {
	Source remote.Session
	Target remote.Session
	Plan   Plan
}

// FilesystemResult reports one filesystem migration.
type FilesystemResult struct {
	Transfer   *relay.Transfer
	FileCount  int64
	BackupPath string
}

// Run migrates the document root and re-applies the ownership and 755/644
// permission policy on the target tree.
func (s *FilesystemStep) Run(ctx context.Context) (*FilesystemResult, error) {
	result := &FilesystemResult{}

	if s.Plan.BackupTarget {
		backupPath, err := s.backupExistingTree(ctx)
		if err != nil {
			return result, err
		}
		result.BackupPath = backupPath
	}

	res, err := s.Target.Run(ctx, fmt.Sprintf("mkdir -p %s", s.Plan.TargetRoot))
	if err != nil {
		return result, err
	}
	if res.ExitCode != 0 {
		return result, fmt.Errorf("preparing target root failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	slog.Info("filesystem_step_start",
		"source_root", s.Plan.SourceRoot,
		"target_root", s.Plan.TargetRoot)

	transfer, err := relay.Run(ctx, s.Source, s.Target, relay.Spec{
		Name:          "filesystem",
		SourceCommand: s.archiveCommand(),
		TargetCommand: s.unpackCommand(),
	})
	result.Transfer = transfer
	if err != nil {
		return result, err
	}

	if err := FixPermissions(ctx, s.Target, s.Plan.TargetRoot, s.Plan.WebUser); err != nil {
		return result, err
	}

	count, err := s.countTargetFiles(ctx)
	if err != nil {
		slog.Warn("filesystem_verify_failed", "error", err)
	} else {
		result.FileCount = count
	}

	slog.Info("filesystem_step_done",
		"bytes", transfer.BytesTransferred,
		"checksum", transfer.Checksum,
		"files", result.FileCount)

	return result, nil
}

// backupExistingTree copies any existing target document root aside before
// it is overwritten. Skipped silently when the target tree does not exist.
func (s *FilesystemStep) backupExistingTree(ctx context.Context) (string, error) {
	res, err := s.Target.Run(ctx, fmt.Sprintf("test -d %s", s.Plan.TargetRoot))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		slog.Info("target_backup_skipped", "reason", "target_root_missing")
		return "", nil
	}

	backupPath := fmt.Sprintf("/tmp/wpshift_backup_%s", time.Now().Format("20060102_150405"))
	res, err = s.Target.Run(ctx, fmt.Sprintf("cp -r %s %s", s.Plan.TargetRoot, backupPath))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("backing up target tree failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	slog.Info("target_backup_created", "path", backupPath)
	return backupPath, nil
}

func (s *FilesystemStep) archiveCommand() string {
	excludes := make([]string, 0, len(archiveExcludes))
	for _, e := range archiveExcludes {
		excludes = append(excludes, "--exclude="+e)
	}
	return fmt.Sprintf("cd %s && tar -czf - %s .", s.Plan.SourceRoot, strings.Join(excludes, " "))
}

func (s *FilesystemStep) unpackCommand() string {
	return fmt.Sprintf("cd %s && tar -xzf -", s.Plan.TargetRoot)
}

func (s *FilesystemStep) countTargetFiles(ctx context.Context) (int64, error) {
	res, err := s.Target.Run(ctx, fmt.Sprintf("find %s -type f | wc -l", s.Plan.TargetRoot))
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("file count failed (exit %d): %s", res.ExitCode, res.Stderr)
	}
	return strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
}

// FixPermissions applies the WordPress ownership and permission policy to a
// tree: web-user ownership, 755 directories, 644 files, 640 wp-config.php.
// Idempotent and safe to repeat; the post-migration step re-asserts it.
func FixPermissions(ctx context.Context, sess remote.Session, root, webUser string) error {
	if webUser == "" {
		webUser = "www-data"
	}

	res, err := sess.Run(ctx, fmt.Sprintf("chown -R %s:%s %s", webUser, webUser, root))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		// Ownership needs privileges the operator may not have granted;
		// leave it to them rather than failing the whole run.
		slog.Warn("chown_failed", "root", root, "web_user", webUser, "stderr", res.Stderr)
	}

	cmds := []string{
		fmt.Sprintf("find %s -type d -exec chmod 755 {} +", root),
		fmt.Sprintf("find %s -type f -exec chmod 644 {} +", root),
		fmt.Sprintf("test -f %s/wp-config.php && chmod 640 %s/wp-config.php || true", root, root),
	}
	for _, cmd := range cmds {
		res, err := sess.Run(ctx, cmd)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("permission fix-up failed (exit %d): %s", res.ExitCode, res.Stderr)
		}
	}

	slog.Info("permissions_applied", "root", root, "web_user", webUser)
	return nil
}
