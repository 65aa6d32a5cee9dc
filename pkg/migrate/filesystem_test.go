package migrate

import (
	"context"
	"strings"
	"testing"

	"github.com/wpshift/wpshift/pkg/remote"
)

func fsPlan() Plan {
	return Plan{
		SourceRoot:   "/var/www/html",
		TargetRoot:   "/var/www/site",
		WebUser:      "www-data",
		BackupTarget: true,
	}
}

func fsHosts(payload []byte) (*remote.Fake, *remote.Fake) {
	source := &remote.Fake{
		Name:    "source",
		Inbound: remote.FakeStream{Payload: payload},
	}
	target := &remote.Fake{
		Name: "target",
		Results: map[string]remote.CommandResult{
			"wc -l": {Stdout: "321\n"},
		},
	}
	return source, target
}

func TestFilesystemStep_Run(t *testing.T) {
	payload := []byte("tar-stream")
	source, target := fsHosts(payload)
	step := &FilesystemStep{Source: source, Target: target, Plan: fsPlan()}

	result, err := step.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.BackupPath == "" || !strings.HasPrefix(result.BackupPath, "/tmp/wpshift_backup_") {
		t.Fatalf("backup path = %q", result.BackupPath)
	}
	if result.FileCount != 321 {
		t.Fatalf("file count = %d, want 321", result.FileCount)
	}
	if result.Transfer.BytesTransferred != int64(len(payload)) {
		t.Fatalf("bytes = %d", result.Transfer.BytesTransferred)
	}
	if string(target.Received()) != string(payload) {
		t.Fatalf("target received %q", target.Received())
	}

	// The archive excludes caches and VCS metadata and unpacks in place.
	if !source.CommandRun("cd /var/www/html && tar -czf -") {
		t.Fatalf("archive command not issued: %v", source.Commands())
	}
	for _, excl := range []string{
		"--exclude=./wp-content/cache", "--exclude=./.git", "--exclude=./.svn",
	} {
		if !source.CommandRun(excl) {
			t.Errorf("archive command missing %q", excl)
		}
	}
	if !target.CommandRun("cd /var/www/site && tar -xzf -") {
		t.Fatal("unpack command not issued")
	}
	if !target.CommandRun("cp -r /var/www/site /tmp/wpshift_backup_") {
		t.Fatal("backup copy not issued")
	}
}

func TestFilesystemStep_BackupSkippedWhenTargetMissing(t *testing.T) {
	source, target := fsHosts([]byte("x"))
	target.Results["test -d"] = remote.CommandResult{ExitCode: 1}
	step := &FilesystemStep{Source: source, Target: target, Plan: fsPlan()}

	result, err := step.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BackupPath != "" {
		t.Fatalf("backup path = %q, want empty", result.BackupPath)
	}
	if target.CommandRun("cp -r") {
		t.Fatal("backup copied a missing tree")
	}
}

func TestFilesystemStep_BackupDisabled(t *testing.T) {
	source, target := fsHosts([]byte("x"))
	plan := fsPlan()
	plan.BackupTarget = false
	step := &FilesystemStep{Source: source, Target: target, Plan: plan}

	if _, err := step.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if target.CommandRun("cp -r") {
		t.Fatal("backup ran while disabled")
	}
}

func TestFilesystemStep_VerificationFailureOnlyWarns(t *testing.T) {
	source, target := fsHosts([]byte("x"))
	target.Results["wc -l"] = remote.CommandResult{ExitCode: 1, Stderr: "find: permission denied"}
	step := &FilesystemStep{Source: source, Target: target, Plan: fsPlan()}

	result, err := step.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should tolerate a failed file count: %v", err)
	}
	if result.FileCount != 0 {
		t.Fatalf("file count = %d, want 0", result.FileCount)
	}
}

func TestFixPermissions(t *testing.T) {
	target := &remote.Fake{}

	if err := FixPermissions(context.Background(), target, "/var/www/site", "nginx"); err != nil {
		t.Fatalf("FixPermissions: %v", err)
	}

	for _, cmd := range []string{
		"chown -R nginx:nginx /var/www/site",
		"find /var/www/site -type d -exec chmod 755 {} +",
		"find /var/www/site -type f -exec chmod 644 {} +",
		"chmod 640 /var/www/site/wp-config.php",
	} {
		if !target.CommandRun(cmd) {
			t.Errorf("missing command %q, got %v", cmd, target.Commands())
		}
	}
}

func TestFixPermissions_ChownFailureTolerated(t *testing.T) {
	target := &remote.Fake{
		Results: map[string]remote.CommandResult{
			"chown": {ExitCode: 1, Stderr: "Operation not permitted"},
		},
	}
	if err := FixPermissions(context.Background(), target, "/var/www/site", ""); err != nil {
		t.Fatalf("chown failure must not be fatal: %v", err)
	}
	if !target.CommandRun("chown -R www-data:www-data") {
		t.Fatal("default web user not applied")
	}
}
