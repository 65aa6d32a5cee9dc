package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wpshift/wpshift/pkg/remote"
)

func postPlan() Plan {
	return Plan{
		TargetRoot: "/var/www/site",
		TargetDB:   DBConfig{Name: "wp_tgt", User: "wp", Password: "tpw", TablePrefix: "wp_"},
		OldURL:     "https://old.example.com",
		NewURL:     "https://new.example.com",
		WebUser:    "www-data",
	}
}

func postHost() *remote.Fake {
	return &remote.Fake{
		Name: "target",
		Results: map[string]remote.CommandResult{
			"grep -c": {Stdout: "1\n"},
			"curl":    {Stdout: "200"},
		},
	}
}

func TestPostStep_Run(t *testing.T) {
	target := postHost()
	step := &PostStep{Target: target, Plan: postPlan()}

	result, err := step.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.ProbeOK || result.ProbeDetail != "200" {
		t.Fatalf("probe: ok=%v detail=%q", result.ProbeOK, result.ProbeDetail)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}

	// Credentials are rewritten in wp-config.php before anything queries the
	// database through it.
	for _, key := range []string{"DB_NAME", "DB_USER", "DB_PASSWORD", "DB_HOST"} {
		if !target.CommandRun("define( '" + key + "'") {
			t.Errorf("wp-config.php %s not rewritten", key)
		}
	}
	if !target.CommandRun("php -l /var/www/site/wp-config.php") {
		t.Error("config syntax check not issued")
	}

	// URL rewrite covers options, posts, and postmeta via REPLACE, which is
	// what makes a re-run a no-op.
	for _, part := range []string{
		"UPDATE wp_options SET option_value = REPLACE(option_value, 'https://old.example.com', 'https://new.example.com') WHERE option_name IN ('siteurl', 'home')",
		"UPDATE wp_posts SET post_content = REPLACE(post_content",
		"UPDATE wp_posts SET guid = REPLACE(guid",
		"UPDATE wp_postmeta SET meta_value = REPLACE(meta_value",
	} {
		if !target.CommandRun(part) {
			t.Errorf("url rewrite missing %q", part)
		}
	}

	// Permalink rules and transients are dropped so the target rebuilds them.
	for _, part := range []string{
		"DELETE FROM wp_options WHERE option_name = 'rewrite_rules'",
		`DELETE FROM wp_options WHERE option_name LIKE '\_transient\_%'`,
		"rm -rf /var/www/site/wp-content/cache/*",
	} {
		if !target.CommandRun(part) {
			t.Errorf("cache flush missing %q", part)
		}
	}

	// Every salt constant gets a fresh value.
	for _, key := range saltKeys {
		if !target.CommandRun("'" + key + "'") {
			t.Errorf("salt %s not regenerated", key)
		}
	}
}

func TestPostStep_RunTwiceIsIdempotent(t *testing.T) {
	target := postHost()
	step := &PostStep{Target: target, Plan: postPlan()}

	for i := 0; i < 2; i++ {
		result, err := step.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		if !result.ProbeOK {
			t.Fatalf("run %d: probe failed", i+1)
		}
	}
}

func TestPostStep_ConfigSyntaxErrorFails(t *testing.T) {
	target := postHost()
	target.Results["php -l"] = remote.CommandResult{
		ExitCode: 255,
		Stderr:   "PHP Parse error: syntax error, unexpected token",
	}
	step := &PostStep{Target: target, Plan: postPlan()}

	_, err := step.Run(context.Background())
	if err == nil {
		t.Fatal("expected config verification to fail")
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "wp-config-verify" {
		t.Fatalf("err = %v, want wp-config-verify TaskError", err)
	}
	if target.CommandRun("UPDATE wp_options") {
		t.Fatal("url rewrite ran against a broken config")
	}
}

func TestPostStep_URLRewriteFailureFails(t *testing.T) {
	target := postHost()
	target.Results["UPDATE wp_options"] = remote.CommandResult{
		ExitCode: 1,
		Stderr:   "ERROR 1146 (42S02): Table 'wp_tgt.wp_options' doesn't exist",
	}
	step := &PostStep{Target: target, Plan: postPlan()}

	_, err := step.Run(context.Background())
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "url-rewrite" {
		t.Fatalf("err = %v, want url-rewrite TaskError", err)
	}
}

func TestPostStep_ProbeFailureOnlyWarns(t *testing.T) {
	target := postHost()
	target.Results["curl"] = remote.CommandResult{ExitCode: 22, Stdout: "500"}
	step := &PostStep{Target: target, Plan: postPlan()}

	result, err := step.Run(context.Background())
	if err != nil {
		t.Fatalf("probe failure must not fail the step: %v", err)
	}
	if result.ProbeOK {
		t.Fatal("probe reported ok on curl failure")
	}
	var found bool
	for _, w := range result.Warnings {
		if strings.Contains(w, "probe failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings missing the probe failure: %v", result.Warnings)
	}
}

func TestPostStep_SaltFailureOnlyWarns(t *testing.T) {
	target := postHost()
	target.Results["/c\\"] = remote.CommandResult{ExitCode: 1, Stderr: "sed: can't read"}
	step := &PostStep{Target: target, Plan: postPlan()}

	result, err := step.Run(context.Background())
	if err != nil {
		t.Fatalf("salt failures must not fail the step: %v", err)
	}
	if len(result.Warnings) != len(saltKeys) {
		t.Fatalf("got %d warnings, want one per salt key: %v", len(result.Warnings), result.Warnings)
	}
}
