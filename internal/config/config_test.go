package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		SourceHost:     "src.example.com",
		SourcePort:     22,
		SourceUser:     "deploy",
		SourceKeyPath:  "/home/deploy/.ssh/id_ed25519",
		TargetHost:     "tgt.example.com",
		TargetPort:     22,
		TargetUser:     "deploy",
		TargetPassword: "pw",
		TargetDBName:   "wp",
		TargetDBUser:   "wp",
		OldURL:         "https://old.example.com",
		NewURL:         "https://new.example.com",
		HistoryPath:    ".artifacts/history.db",
		FSMDBPath:      ".artifacts/fsm.db",
		ConnectTimeout: 30,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing source host", func(c *Config) { c.SourceHost = "" }, "source-host"},
		{"missing target host", func(c *Config) { c.TargetHost = "" }, "target-host"},
		{"missing source credentials", func(c *Config) { c.SourceKeyPath = "" }, "source-password or source-key-path"},
		{"missing target db", func(c *Config) { c.TargetDBName = "" }, "target-db-name"},
		{"missing urls", func(c *Config) { c.NewURL = "" }, "old-url and new-url"},
		{"bad timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect-timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WPSHIFT_SOURCE_HOST", "src.example.com")
	t.Setenv("WPSHIFT_TARGET_HOST", "tgt.example.com")
	t.Setenv("WPSHIFT_SOURCE_DB_PASSWORD", "envpw")
	t.Setenv("WPSHIFT_CONNECT_TIMEOUT", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourceHost != "src.example.com" || cfg.TargetHost != "tgt.example.com" {
		t.Fatalf("hosts not read from environment: %+v", cfg)
	}
	if cfg.SourceDBPassword != "envpw" {
		t.Fatalf("db password not read from environment")
	}
	if cfg.ConnectTimeout != 10 {
		t.Fatalf("connect timeout = %d", cfg.ConnectTimeout)
	}

	// Defaults fill in everything not set.
	if cfg.SourcePort != 22 || cfg.WebUser != "www-data" || cfg.SourceDBPrefix != "wp_" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.BackupTarget {
		t.Fatal("backup-target should default on")
	}
}

func TestHelpers(t *testing.T) {
	cfg := validConfig()
	cfg.SourcePort = 2222
	cfg.SourceDBPassword = "sdb"
	cfg.TargetDBPassword = "tdb"

	if got := cfg.SourceEndpoint().Addr(); got != "src.example.com:2222" {
		t.Fatalf("source endpoint = %q", got)
	}
	if got := cfg.TargetEndpoint().String(); got != "deploy@tgt.example.com:22" {
		t.Fatalf("target endpoint = %q", got)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Timeout())
	}

	plan := cfg.Plan()
	if plan.TargetDB.Name != "wp" || plan.OldURL != "https://old.example.com" {
		t.Fatalf("plan = %+v", plan)
	}

	secrets := cfg.Secrets()
	for _, want := range []string{"pw", "sdb", "tdb"} {
		var found bool
		for _, s := range secrets {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("secrets %v missing %q", secrets, want)
		}
	}
}
