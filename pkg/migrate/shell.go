package migrate

import (
	"fmt"
	"strings"
)

// escapeSingle makes a value safe inside a single-quoted shell argument.
func escapeSingle(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// mysqlAuth renders the -h/-u/-p client arguments for a database config.
func mysqlAuth(db DBConfig) string {
	return fmt.Sprintf("-h %s -u %s -p'%s'",
		db.HostOrDefault(), db.User, escapeSingle(db.Password))
}

// Query renders a single-statement batch query returning bare rows
// (-N -B). The statement must not contain double quotes or backticks; table
// names derived from a prefix stay plain for that reason.
func Query(db DBConfig, stmt string) string {
	return fmt.Sprintf("mysql %s -N -B %s -e \"%s\"", mysqlAuth(db), db.Name, stmt)
}

// mysqlScript renders a multi-statement script fed through a quoted heredoc,
// so statement bodies (URLs, quotes) reach the server untouched by the shell.
func mysqlScript(db DBConfig, script string) string {
	return fmt.Sprintf("mysql %s %s <<'WPSQL'\n%s\nWPSQL", mysqlAuth(db), db.Name, script)
}

// mysqlRootScript is mysqlScript under the server's root account, used only
// to create the target database when a root password was supplied.
func mysqlRootScript(rootPassword, script string) string {
	auth := ""
	if rootPassword != "" {
		auth = fmt.Sprintf(" -p'%s'", escapeSingle(rootPassword))
	}
	return fmt.Sprintf("mysql -u root%s <<'WPSQL'\n%s\nWPSQL", auth, script)
}

// likePattern escapes a table prefix for a LIKE match so the underscore in
// e.g. "wp_" is literal rather than a single-character wildcard.
func likePattern(prefix string) string {
	return strings.ReplaceAll(prefix, "_", `\_`) + "%"
}
