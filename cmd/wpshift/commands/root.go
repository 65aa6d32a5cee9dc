package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "wpshift",
	Short: "WordPress site migration between hosts",
	Long:  `Migrates a WordPress site between hosts over SSH: validation gate, streamed database and filesystem relay, and post-migration fix-ups, with a local audit trail per run.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.String("source-host", "", "Source host address")
	pf.Int("source-port", 22, "Source SSH port")
	pf.String("source-user", "", "Source SSH user")
	pf.String("source-password", "", "Source SSH password")
	pf.String("source-key-path", "", "Source SSH private key path")
	pf.String("source-root", "/var/www/html", "Source WordPress document root")
	pf.String("source-db-name", "", "Source database name (extracted from wp-config.php when empty)")
	pf.String("source-db-user", "", "Source database user")
	pf.String("source-db-password", "", "Source database password")
	pf.String("source-db-host", "", "Source database host")
	pf.String("source-db-prefix", "wp_", "Source table prefix")

	pf.String("target-host", "", "Target host address")
	pf.Int("target-port", 22, "Target SSH port")
	pf.String("target-user", "", "Target SSH user")
	pf.String("target-password", "", "Target SSH password")
	pf.String("target-key-path", "", "Target SSH private key path")
	pf.String("target-root", "/var/www/html", "Target WordPress document root")
	pf.String("target-db-name", "", "Target database name")
	pf.String("target-db-user", "", "Target database user")
	pf.String("target-db-password", "", "Target database password")
	pf.String("target-db-host", "", "Target database host")
	pf.String("target-db-prefix", "wp_", "Target table prefix")
	pf.String("target-root-password", "", "Target MySQL root password, enables database creation")

	pf.String("old-url", "", "Site URL on the source")
	pf.String("new-url", "", "Site URL on the target")
	pf.String("web-user", "www-data", "Web server user owning the target tree")
	pf.Bool("backup-target", true, "Back up an existing target tree before overwrite")
	pf.Bool("enable-debug", false, "Enable WP_DEBUG on the migrated site")

	pf.String("history-path", ".artifacts/history.db", "Session history SQLite path")
	pf.String("fsm-db-path", ".artifacts/fsm.db", "Workflow BoltDB path")
	pf.String("archive-bucket", "", "S3 bucket for session archives (disabled when empty)")
	pf.String("archive-region", "us-east-1", "S3 region for session archives")
	pf.Int("connect-timeout", 30, "SSH connect timeout in seconds")

	for _, name := range []string{
		"source-host", "source-port", "source-user", "source-password",
		"source-key-path", "source-root", "source-db-name", "source-db-user",
		"source-db-password", "source-db-host", "source-db-prefix",
		"target-host", "target-port", "target-user", "target-password",
		"target-key-path", "target-root", "target-db-name", "target-db-user",
		"target-db-password", "target-db-host", "target-db-prefix",
		"target-root-password",
		"old-url", "new-url", "web-user", "backup-target", "enable-debug",
		"history-path", "fsm-db-path", "archive-bucket", "archive-region",
		"connect-timeout",
	} {
		viper.BindPFlag(name, pf.Lookup(name))
	}
}
