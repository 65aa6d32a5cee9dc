package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/remote"
	"github.com/wpshift/wpshift/pkg/validate"
)

// Config holds all application configuration
type Config struct {
	// Source host and site
	SourceHost       string `mapstructure:"source-host"`
	SourcePort       int    `mapstructure:"source-port"`
	SourceUser       string `mapstructure:"source-user"`
	SourcePassword   string `mapstructure:"source-password"`
	SourceKeyPath    string `mapstructure:"source-key-path"`
	SourceRoot       string `mapstructure:"source-root"`
	SourceDBName     string `mapstructure:"source-db-name"`
	SourceDBUser     string `mapstructure:"source-db-user"`
	SourceDBPassword string `mapstructure:"source-db-password"`
	SourceDBHost     string `mapstructure:"source-db-host"`
	SourceDBPrefix   string `mapstructure:"source-db-prefix"`

	// Target host and site
	TargetHost         string `mapstructure:"target-host"`
	TargetPort         int    `mapstructure:"target-port"`
	TargetUser         string `mapstructure:"target-user"`
	TargetPassword     string `mapstructure:"target-password"`
	TargetKeyPath      string `mapstructure:"target-key-path"`
	TargetRoot         string `mapstructure:"target-root"`
	TargetDBName       string `mapstructure:"target-db-name"`
	TargetDBUser       string `mapstructure:"target-db-user"`
	TargetDBPassword   string `mapstructure:"target-db-password"`
	TargetDBHost       string `mapstructure:"target-db-host"`
	TargetDBPrefix     string `mapstructure:"target-db-prefix"`
	TargetRootPassword string `mapstructure:"target-root-password"`

	// Site URLs
	OldURL string `mapstructure:"old-url"`
	NewURL string `mapstructure:"new-url"`

	// Migration behavior
	WebUser      string `mapstructure:"web-user"`
	BackupTarget bool   `mapstructure:"backup-target"`
	EnableDebug  bool   `mapstructure:"enable-debug"`

	// Local state paths
	HistoryPath string `mapstructure:"history-path"`
	FSMDBPath   string `mapstructure:"fsm-db-path"`

	// Session archive (optional)
	ArchiveBucket string `mapstructure:"archive-bucket"`
	ArchiveRegion string `mapstructure:"archive-region"`

	// SSH connect timeout in seconds
	ConnectTimeout int `mapstructure:"connect-timeout"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("source-port", 22)
	viper.SetDefault("target-port", 22)
	viper.SetDefault("source-root", "/var/www/html")
	viper.SetDefault("target-root", "/var/www/html")
	viper.SetDefault("source-db-prefix", "wp_")
	viper.SetDefault("target-db-prefix", "wp_")
	viper.SetDefault("web-user", "www-data")
	viper.SetDefault("backup-target", true)
	viper.SetDefault("enable-debug", false)
	viper.SetDefault("history-path", ".artifacts/history.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("archive-region", "us-east-1")
	viper.SetDefault("connect-timeout", 30)

	// Environment variables (will be WPSHIFT_SOURCE_HOST, etc.)
	viper.SetEnvPrefix("WPSHIFT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.wpshift")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors. Source database credentials may
// stay empty; they are extracted from the source wp-config.php when absent.
func (c *Config) Validate() error {
	if c.SourceHost == "" {
		return fmt.Errorf("source-host cannot be empty")
	}
	if c.TargetHost == "" {
		return fmt.Errorf("target-host cannot be empty")
	}
	if c.SourceUser == "" {
		return fmt.Errorf("source-user cannot be empty")
	}
	if c.TargetUser == "" {
		return fmt.Errorf("target-user cannot be empty")
	}
	if c.SourcePassword == "" && c.SourceKeyPath == "" {
		return fmt.Errorf("one of source-password or source-key-path is required")
	}
	if c.TargetPassword == "" && c.TargetKeyPath == "" {
		return fmt.Errorf("one of target-password or target-key-path is required")
	}
	if c.TargetDBName == "" || c.TargetDBUser == "" {
		return fmt.Errorf("target-db-name and target-db-user are required")
	}
	if c.OldURL == "" || c.NewURL == "" {
		return fmt.Errorf("old-url and new-url are required")
	}
	if c.HistoryPath == "" {
		return fmt.Errorf("history-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive")
	}
	return nil
}

// SourceEndpoint returns the source SSH endpoint.
func (c *Config) SourceEndpoint() remote.Endpoint {
	return remote.Endpoint{Host: c.SourceHost, Port: c.SourcePort, User: c.SourceUser}
}

// TargetEndpoint returns the target SSH endpoint.
func (c *Config) TargetEndpoint() remote.Endpoint {
	return remote.Endpoint{Host: c.TargetHost, Port: c.TargetPort, User: c.TargetUser}
}

// SourceAuth returns the source SSH credentials.
func (c *Config) SourceAuth() remote.Auth {
	return remote.Auth{Password: c.SourcePassword, KeyPath: c.SourceKeyPath}
}

// TargetAuth returns the target SSH credentials.
func (c *Config) TargetAuth() remote.Auth {
	return remote.Auth{Password: c.TargetPassword, KeyPath: c.TargetKeyPath}
}

// SourceDB returns the source database config, possibly empty pending
// extraction from wp-config.php.
func (c *Config) SourceDB() migrate.DBConfig {
	return migrate.DBConfig{
		Name:        c.SourceDBName,
		User:        c.SourceDBUser,
		Password:    c.SourceDBPassword,
		Host:        c.SourceDBHost,
		TablePrefix: c.SourceDBPrefix,
	}
}

// TargetDB returns the target database config.
func (c *Config) TargetDB() migrate.DBConfig {
	return migrate.DBConfig{
		Name:        c.TargetDBName,
		User:        c.TargetDBUser,
		Password:    c.TargetDBPassword,
		Host:        c.TargetDBHost,
		TablePrefix: c.TargetDBPrefix,
	}
}

// Plan builds the migration plan from the configuration.
func (c *Config) Plan() migrate.Plan {
	return migrate.Plan{
		SourceRoot:         c.SourceRoot,
		TargetRoot:         c.TargetRoot,
		SourceDB:           c.SourceDB(),
		TargetDB:           c.TargetDB(),
		OldURL:             c.OldURL,
		NewURL:             c.NewURL,
		WebUser:            c.WebUser,
		BackupTarget:       c.BackupTarget,
		TargetRootPassword: c.TargetRootPassword,
		EnableDebug:        c.EnableDebug,
	}
}

// Params builds the validation gate parameters.
func (c *Config) Params() validate.Params {
	return validate.Params{
		SourceRoot: c.SourceRoot,
		TargetRoot: c.TargetRoot,
		SourceDB:   c.SourceDB(),
		TargetDB:   c.TargetDB(),
	}
}

// Secrets lists every configured credential, for seeding the redactor.
// Empty strings are dropped by the redactor itself.
func (c *Config) Secrets() []string {
	return []string{
		c.SourcePassword, c.TargetPassword,
		c.SourceDBPassword, c.TargetDBPassword,
		c.TargetRootPassword,
	}
}

// Timeout returns the SSH connect timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}
