package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wpshift/wpshift/pkg/remote"
)

// TaskError names the post-migration task that failed. A fatal task error
// aborts the session even though the data already migrated; the log and
// completion signal surface that explicitly so the operator can decide
// whether to re-run or restore.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("post-migration task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// PostStep runs the fix-up sequence on the target after both data steps
// succeeded. Every task is individually idempotent: re-running the step
// leaves the target in the same observable state.
type PostStep struct {
	Target remote.Session
	Plan   Plan
}

// PostResult reports the post-migration tasks.
type PostResult struct {
	ProbeOK     bool
	ProbeDetail string
	// Warnings collects the non-fatal findings (salt update failures, probe
	// failure detail) for the audit log.
	Warnings []string
}

// Run executes the post-migration sequence: rewrite wp-config.php for the
// target database, regenerate security salts, set the debug flag, verify
// config syntax, rewrite the site URL throughout the stored content, flush
// caches and permalink rules, re-assert permissions, then probe the site.
// URL rewrite, cache flush, and config rewrite failures are fatal; a failed
// reachability probe is only a warning because the migration is otherwise
// structurally complete.
func (s *PostStep) Run(ctx context.Context) (*PostResult, error) {
	result := &PostResult{}

	if err := s.updateConfigCredentials(ctx); err != nil {
		return result, &TaskError{Task: "wp-config-credentials", Err: err}
	}
	s.regenerateSalts(ctx, result)
	if err := s.setDebugMode(ctx); err != nil {
		return result, &TaskError{Task: "wp-config-debug", Err: err}
	}
	if err := s.verifyConfig(ctx); err != nil {
		return result, &TaskError{Task: "wp-config-verify", Err: err}
	}
	if err := s.rewriteURLs(ctx); err != nil {
		return result, &TaskError{Task: "url-rewrite", Err: err}
	}
	if err := s.flushCaches(ctx); err != nil {
		return result, &TaskError{Task: "cache-flush", Err: err}
	}
	if err := FixPermissions(ctx, s.Target, s.Plan.TargetRoot, s.Plan.WebUser); err != nil {
		return result, &TaskError{Task: "permissions", Err: err}
	}

	s.probeSite(ctx, result)

	slog.Info("post_migration_done",
		"probe_ok", result.ProbeOK,
		"warnings", len(result.Warnings))

	return result, nil
}

// updateConfigCredentials points the migrated wp-config.php at the target
// database.
func (s *PostStep) updateConfigCredentials(ctx context.Context) error {
	path := s.Plan.TargetRoot + "/wp-config.php"
	db := s.Plan.TargetDB

	replacements := map[string]string{
		"DB_NAME":     db.Name,
		"DB_USER":     db.User,
		"DB_PASSWORD": escapeSingle(db.Password),
		"DB_HOST":     db.HostOrDefault(),
	}

	// Fixed order so re-runs and logs are deterministic.
	for _, key := range []string{"DB_NAME", "DB_USER", "DB_PASSWORD", "DB_HOST"} {
		cmd := fmt.Sprintf("sed -i \"s/define( *'%s'.*/define( '%s', '%s' );/\" %s",
			key, key, replacements[key], path)
		res, err := s.Target.Run(ctx, cmd)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("updating %s failed (exit %d): %s", key, res.ExitCode, res.Stderr)
		}
	}

	slog.Info("wp_config_credentials_updated", "path", path)
	return nil
}

// regenerateSalts replaces every authentication key and salt so session
// cookies minted by the source site are invalid on the target. Individual
// failures are warnings, matching how little a stale salt can break.
func (s *PostStep) regenerateSalts(ctx context.Context, result *PostResult) {
	path := s.Plan.TargetRoot + "/wp-config.php"

	for _, key := range saltKeys {
		salt, err := generateSalt()
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("salt generation for %s failed: %v", key, err))
			continue
		}

		cmd := fmt.Sprintf("sed -i \"/define([[:space:]]*'%s'/c\\\\define( '%s', '%s' );\" %s",
			key, key, salt, path)
		res, err := s.Target.Run(ctx, cmd)
		if err != nil || res.ExitCode != 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("updating %s failed", key))
			slog.Warn("salt_update_failed", "key", key)
		}
	}
}

func (s *PostStep) setDebugMode(ctx context.Context) error {
	path := s.Plan.TargetRoot + "/wp-config.php"
	value := "false"
	if s.Plan.EnableDebug {
		value = "true"
	}

	res, err := s.Target.Run(ctx, fmt.Sprintf("grep -c \"WP_DEBUG\" %s || true", path))
	if err != nil {
		return err
	}

	var cmd string
	if strings.TrimSpace(res.Stdout) != "" && strings.TrimSpace(res.Stdout) != "0" {
		cmd = fmt.Sprintf("sed -i \"s/define( *'WP_DEBUG'.*/define( 'WP_DEBUG', %s );/\" %s", value, path)
	} else {
		cmd = fmt.Sprintf("sed -i \"/That's all, stop editing/i define( 'WP_DEBUG', %s );\" %s", value, path)
	}

	res, err = s.Target.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("setting WP_DEBUG failed (exit %d): %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// verifyConfig checks the rewritten wp-config.php parses as PHP before the
// site is probed, catching a botched sed edit early.
func (s *PostStep) verifyConfig(ctx context.Context) error {
	path := s.Plan.TargetRoot + "/wp-config.php"

	res, err := s.Target.Run(ctx, fmt.Sprintf("test -f %s", path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("wp-config.php missing at %s", path)
	}

	res, err = s.Target.Run(ctx, fmt.Sprintf("php -l %s", path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("wp-config.php has a PHP syntax error: %s", res.Stderr)
	}
	return nil
}

// rewriteURLs replaces the source base URL with the target's across the
// migrated content: site options, post content and GUIDs, and post meta.
// REPLACE over every row is idempotent; a second pass finds nothing left to
// substitute.
func (s *PostStep) rewriteURLs(ctx context.Context) error {
	db := s.Plan.TargetDB
	p := db.PrefixOrDefault()
	oldURL, newURL := s.Plan.OldURL, s.Plan.NewURL

	script := strings.Join([]string{
		fmt.Sprintf("UPDATE %soptions SET option_value = REPLACE(option_value, '%s', '%s') WHERE option_name IN ('siteurl', 'home');", p, oldURL, newURL),
		fmt.Sprintf("UPDATE %sposts SET post_content = REPLACE(post_content, '%s', '%s');", p, oldURL, newURL),
		fmt.Sprintf("UPDATE %sposts SET post_excerpt = REPLACE(post_excerpt, '%s', '%s');", p, oldURL, newURL),
		fmt.Sprintf("UPDATE %sposts SET guid = REPLACE(guid, '%s', '%s');", p, oldURL, newURL),
		fmt.Sprintf("UPDATE %spostmeta SET meta_value = REPLACE(meta_value, '%s', '%s');", p, oldURL, newURL),
	}, "\n")

	res, err := s.Target.Run(ctx, mysqlScript(db, script))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("URL rewrite failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	slog.Info("site_urls_rewritten", "old_url", oldURL, "new_url", newURL)
	return nil
}

// flushCaches drops the persisted permalink rules and transient caches and
// clears any file-based page cache, so the target routes requests without a
// manual admin visit. WordPress rebuilds the rewrite rules on first request.
func (s *PostStep) flushCaches(ctx context.Context) error {
	db := s.Plan.TargetDB
	p := db.PrefixOrDefault()

	script := strings.Join([]string{
		fmt.Sprintf("DELETE FROM %soptions WHERE option_name = 'rewrite_rules';", p),
		fmt.Sprintf("DELETE FROM %soptions WHERE option_name LIKE '\\_transient\\_%%';", p),
		fmt.Sprintf("DELETE FROM %soptions WHERE option_name LIKE '\\_site\\_transient\\_%%';", p),
	}, "\n")

	res, err := s.Target.Run(ctx, mysqlScript(db, script))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cache flush failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	res, err = s.Target.Run(ctx, fmt.Sprintf("rm -rf %s/wp-content/cache/*", s.Plan.TargetRoot))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("clearing cache directory failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	slog.Info("caches_flushed", "target_db", db.Name)
	return nil
}

// probeSite requests the migrated site's root URL from the target host and
// records whether it answers without a server error.
func (s *PostStep) probeSite(ctx context.Context, result *PostResult) {
	cmd := fmt.Sprintf("curl -fsS -o /dev/null -m 30 -w '%%{http_code}' %s", s.Plan.NewURL)

	res, err := s.Target.Run(ctx, cmd)
	if err != nil {
		result.ProbeDetail = err.Error()
		result.Warnings = append(result.Warnings, "reachability probe errored: "+err.Error())
		return
	}

	result.ProbeDetail = strings.TrimSpace(res.Stdout)
	if res.ExitCode == 0 {
		result.ProbeOK = true
		slog.Info("site_probe_ok", "url", s.Plan.NewURL, "http_status", result.ProbeDetail)
		return
	}

	result.Warnings = append(result.Warnings,
		fmt.Sprintf("site probe failed (curl exit %d, status %q)", res.ExitCode, result.ProbeDetail))
	slog.Warn("site_probe_failed",
		"url", s.Plan.NewURL,
		"curl_exit", res.ExitCode,
		"http_status", result.ProbeDetail)
}
